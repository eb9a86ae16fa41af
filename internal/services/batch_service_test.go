package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/selimacar/facetrack-backend/internal/types"
)

func TestAdmitSubjectCountsBelowBatchSize(t *testing.T) {
	env := newTestEnv(t, 5)
	svc := NewBatchService(env.db, env.log, env.counterRepo, env.trackingRepo, env.subjectRepo, nil)

	for i := 1; i < 5; i++ {
		subject := env.createSubject(t, fmt.Sprintf("subject %d", i))
		result, err := svc.AdmitSubject(context.Background(), subject.ID, 3)
		if err != nil {
			t.Fatalf("admission %d: %v", i, err)
		}
		if result.BatchComplete {
			t.Fatalf("admission %d: batch reported complete below batch size", i)
		}
		if result.UsersInBatch != i {
			t.Fatalf("admission %d: users_in_batch=%d, want %d", i, result.UsersInBatch, i)
		}
		if result.BatchSize != 5 {
			t.Fatalf("admission %d: batch_size=%d, want 5", i, result.BatchSize)
		}
	}

	tracking, err := env.trackingRepo.GetByBatchNumber(context.Background(), nil, 1)
	if err != nil {
		t.Fatalf("load tracking: %v", err)
	}
	if tracking == nil {
		t.Fatal("tracking record was not created on first admission")
	}
	if tracking.BatchStatus != types.BatchStatusCollecting {
		t.Fatalf("tracking status=%q, want collecting", tracking.BatchStatus)
	}
	if tracking.UsersInBatch != 4 {
		t.Fatalf("tracking users_in_batch=%d, want 4", tracking.UsersInBatch)
	}
}

func TestAdmitSubjectThresholdFiresExactlyOnce(t *testing.T) {
	env := newTestEnv(t, 3)
	svc := NewBatchService(env.db, env.log, env.counterRepo, env.trackingRepo, env.subjectRepo, nil)

	completions := 0
	for i := 1; i <= 3; i++ {
		subject := env.createSubject(t, fmt.Sprintf("subject %d", i))
		result, err := svc.AdmitSubject(context.Background(), subject.ID, 2)
		if err != nil {
			t.Fatalf("admission %d: %v", i, err)
		}
		if result.BatchComplete {
			completions++
			if i != 3 {
				t.Fatalf("batch reported complete on admission %d", i)
			}
		}
	}
	if completions != 1 {
		t.Fatalf("batch_complete fired %d times, want exactly once", completions)
	}

	subject := env.createSubject(t, "checking subject stamp")
	if _, err := svc.AdmitSubject(context.Background(), subject.ID, 1); err != nil {
		t.Fatalf("admission after full batch: %v", err)
	}
	got, err := env.subjectRepo.GetByID(context.Background(), nil, subject.ID)
	if err != nil {
		t.Fatalf("reload subject: %v", err)
	}
	if got.BatchNumber != 1 {
		t.Fatalf("subject batch_number=%d, want 1 (counter not yet advanced)", got.BatchNumber)
	}
	if !got.Enrolled {
		t.Fatal("subject not marked enrolled after admission")
	}
}

func TestAdmitSubjectRejectsZeroSamples(t *testing.T) {
	env := newTestEnv(t, 5)
	svc := NewBatchService(env.db, env.log, env.counterRepo, env.trackingRepo, env.subjectRepo, nil)
	subject := env.createSubject(t, "no samples")

	if _, err := svc.AdmitSubject(context.Background(), subject.ID, 0); err == nil {
		t.Fatal("expected error for zero sample count")
	}

	users, err := env.counterRepo.Get(context.Background(), nil, types.CounterUsersInCurrentBatch)
	if err != nil {
		t.Fatalf("read counter: %v", err)
	}
	if users != 0 {
		t.Fatalf("users counter=%d after rejected admission, want 0", users)
	}
}

func TestAdmitSubjectUnknownSubject(t *testing.T) {
	env := newTestEnv(t, 5)
	svc := NewBatchService(env.db, env.log, env.counterRepo, env.trackingRepo, env.subjectRepo, nil)

	if _, err := svc.AdmitSubject(context.Background(), uuid.New(), 2); err == nil {
		t.Fatal("expected error for unknown subject")
	}
}
