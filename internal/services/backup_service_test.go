package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

func TestBackupBatchCopiesAllImages(t *testing.T) {
	env := newTestEnv(t, 3)
	fillBatch(t, env, 3, 2)
	bucket := newFakeBucket()
	backup := NewBackupService(env.db, env.log, env.subjectRepo, env.imageRepo, env.backupRepo, bucket)

	record, err := backup.BackupBatch(context.Background(), 1, "v4")
	if err != nil {
		t.Fatalf("BackupBatch: %v", err)
	}
	if record.UsersCount != 3 || record.ImagesCount != 6 {
		t.Fatalf("manifest counts %d/%d, want 3 users and 6 images", record.UsersCount, record.ImagesCount)
	}
	if record.ModelVersion != "v4" {
		t.Fatalf("model_version=%q, want v4", record.ModelVersion)
	}
	if !strings.HasPrefix(record.BackupFolder, "backups/batch_1_") {
		t.Fatalf("backup folder %q missing batch prefix", record.BackupFolder)
	}
	if bucket.copyCount() != 6 {
		t.Fatalf("%d objects copied, want 6", bucket.copyCount())
	}
	for dst := range bucket.copies {
		if !strings.HasPrefix(dst, record.BackupFolder+"/") {
			t.Fatalf("copy landed outside the backup folder: %s", dst)
		}
	}
}

func TestBackupBatchCopyFailuresAreNotFatal(t *testing.T) {
	env := newTestEnv(t, 2)
	fillBatch(t, env, 2, 3)
	bucket := newFakeBucket()
	bucket.copyErr = fmt.Errorf("storage: object doesn't exist")
	backup := NewBackupService(env.db, env.log, env.subjectRepo, env.imageRepo, env.backupRepo, bucket)

	record, err := backup.BackupBatch(context.Background(), 1, "v4")
	if err != nil {
		t.Fatalf("BackupBatch should tolerate copy failures: %v", err)
	}
	if record.ImagesCount != 0 {
		t.Fatalf("manifest claims %d copies, want 0", record.ImagesCount)
	}
	stored, err := env.backupRepo.GetByBatchNumber(context.Background(), nil, 1)
	if err != nil {
		t.Fatalf("reload manifest: %v", err)
	}
	if stored == nil {
		t.Fatal("manifest not persisted")
	}
}

func TestBackupBatchRejectsEmptyBatch(t *testing.T) {
	env := newTestEnv(t, 2)
	backup := NewBackupService(env.db, env.log, env.subjectRepo, env.imageRepo, env.backupRepo, newFakeBucket())

	if _, err := backup.BackupBatch(context.Background(), 1, "v1"); err == nil {
		t.Fatal("expected error for a batch with no subjects")
	}
}
