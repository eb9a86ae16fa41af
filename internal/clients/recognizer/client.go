package recognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/selimacar/facetrack-backend/internal/logger"
	"github.com/selimacar/facetrack-backend/internal/utils"
)

// Stage identifies one of the long-running operations the recognition
// service exposes. Each stage has its own submit and status endpoint.
type Stage string

const (
	StageSync    Stage = "sync"
	StageExtract Stage = "extract"
	StageTrain   Stage = "train"
)

const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// StageStatus mirrors the service's per-stage status endpoint. Result fields
// are pointers so a stage that never reports them stays distinguishable from
// a zero value.
type StageStatus struct {
	Status          string   `json:"status"`
	Progress        int      `json:"progress"`
	Message         string   `json:"message"`
	UsersProcessed  *int     `json:"users_processed,omitempty"`
	EmbeddingsCount *int     `json:"embeddings_count,omitempty"`
	Accuracy        *float64 `json:"accuracy,omitempty"`
	ModelVersion    string   `json:"model_version,omitempty"`
}

func (s *StageStatus) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// DatasetStats is the readiness snapshot used before submitting a stage.
type DatasetStats struct {
	TotalSubjects    int `json:"total_subjects"`
	SubjectsWithData int `json:"subjects_with_images"`
	TotalImages      int `json:"total_images"`
	EmbeddingsCount  int `json:"embeddings_count"`
	DistinctSubjects int `json:"distinct_subjects"`
}

type Client interface {
	Health(ctx context.Context) error
	Stats(ctx context.Context) (*DatasetStats, error)
	StartStage(ctx context.Context, stage Stage) error
	StageStatus(ctx context.Context, stage Stage) (*StageStatus, error)
}

type client struct {
	log          *logger.Logger
	baseURL      string
	httpClient   *http.Client
	healthClient *http.Client
}

// New builds a client for the external recognition service. Submissions get a
// generous timeout because the service answers only after it has accepted the
// run; the health probe gets a short one so a down service fails fast.
func New(log *logger.Logger) (Client, error) {
	baseURL := utils.GetEnv("RECOGNIZER_BASE_URL", "", log)
	if baseURL == "" {
		return nil, fmt.Errorf("missing RECOGNIZER_BASE_URL")
	}
	submitTimeout := utils.GetEnvAsInt("RECOGNIZER_SUBMIT_TIMEOUT_SECONDS", 300, log)
	healthTimeout := utils.GetEnvAsInt("RECOGNIZER_HEALTH_TIMEOUT_SECONDS", 10, log)
	return &client{
		log:          log.With("client", "RecognizerClient"),
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: time.Duration(submitTimeout) * time.Second},
		healthClient: &http.Client{Timeout: time.Duration(healthTimeout) * time.Second},
	}, nil
}

// NewWithBaseURL skips the env lookup. Tests point it at an httptest server.
func NewWithBaseURL(log *logger.Logger, baseURL string, submitTimeout, healthTimeout time.Duration) Client {
	return &client{
		log:          log.With("client", "RecognizerClient"),
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: submitTimeout},
		healthClient: &http.Client{Timeout: healthTimeout},
	}
}

type httpError struct {
	StatusCode int
	Body       string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("recognizer http %d: %s", e.StatusCode, e.Body)
}

func stagePath(stage Stage) (submit string, status string) {
	switch stage {
	case StageSync:
		return "/sync", "/sync/status"
	case StageExtract:
		return "/embeddings/extract", "/embeddings/status"
	case StageTrain:
		return "/train", "/train/status"
	}
	return "", ""
}

func (c *client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.healthClient.Do(req)
	if err != nil {
		return fmt.Errorf("recognizer unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &httpError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}

func (c *client) Stats(ctx context.Context) (*DatasetStats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/stats", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("recognizer unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &httpError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	var stats DatasetStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	return &stats, nil
}

func (c *client) StartStage(ctx context.Context, stage Stage) error {
	submit, _ := stagePath(stage)
	if submit == "" {
		return fmt.Errorf("unknown stage %q", stage)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+submit, bytes.NewReader([]byte(`{}`)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("recognizer unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &httpError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}

func (c *client) StageStatus(ctx context.Context, stage Stage) (*StageStatus, error) {
	_, status := stagePath(stage)
	if status == "" {
		return nil, fmt.Errorf("unknown stage %q", stage)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+status, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("recognizer unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &httpError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	var out StageStatus
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode stage status: %w", err)
	}
	return &out, nil
}
