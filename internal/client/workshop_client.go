package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/SAP-F-2025/workshop-progress/internal/models"
)

// WorkshopAPI is the remote workshop service as seen by the progress services.
type WorkshopAPI interface {
	GetWorkshop(ctx context.Context, token string, workshopID uint) (*models.Workshop, error)
	GetProgress(ctx context.Context, token, userID string, workshopID uint) (*models.WorkshopProgress, error)
	PostProgress(ctx context.Context, token string, update models.ProgressUpdate) error
	SubmitQuiz(ctx context.Context, token string, quizID uint, submission models.QuizSubmission) (*models.QuizScore, error)
	SubmitFeedback(ctx context.Context, token string, feedback models.Feedback) error
	GetWorkshopStats(ctx context.Context, token string, workshopID uint) (*models.WorkshopStats, error)
	GetAnalytics(ctx context.Context, token string, workshopID uint) (*models.AnalyticsDashboard, error)
}

// APIError is returned for any non-2xx response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed when repeated.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
}

type WorkshopClient struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

func NewWorkshopClient(baseURL string, timeout time.Duration, logger *slog.Logger) *WorkshopClient {
	return &WorkshopClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (c *WorkshopClient) GetWorkshop(ctx context.Context, token string, workshopID uint) (*models.Workshop, error) {
	var workshop models.Workshop
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/workshops/%d", workshopID), token, nil, &workshop); err != nil {
		return nil, err
	}
	return &workshop, nil
}

func (c *WorkshopClient) GetProgress(ctx context.Context, token, userID string, workshopID uint) (*models.WorkshopProgress, error) {
	progress := models.WorkshopProgress{UserID: userID, WorkshopID: workshopID}
	path := fmt.Sprintf("/progress/%s/%d", url.PathEscape(userID), workshopID)
	if err := c.do(ctx, http.MethodGet, path, token, nil, &progress); err != nil {
		return nil, err
	}
	return &progress, nil
}

func (c *WorkshopClient) PostProgress(ctx context.Context, token string, update models.ProgressUpdate) error {
	return c.do(ctx, http.MethodPost, "/progress", token, update, nil)
}

func (c *WorkshopClient) SubmitQuiz(ctx context.Context, token string, quizID uint, submission models.QuizSubmission) (*models.QuizScore, error) {
	var score models.QuizScore
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/quiz/%d/submit", quizID), token, submission, &score); err != nil {
		return nil, err
	}
	return &score, nil
}

func (c *WorkshopClient) SubmitFeedback(ctx context.Context, token string, feedback models.Feedback) error {
	return c.do(ctx, http.MethodPost, "/feedback", token, feedback, nil)
}

func (c *WorkshopClient) GetWorkshopStats(ctx context.Context, token string, workshopID uint) (*models.WorkshopStats, error) {
	var stats models.WorkshopStats
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/workshop/%d/stats", workshopID), token, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *WorkshopClient) GetAnalytics(ctx context.Context, token string, workshopID uint) (*models.AnalyticsDashboard, error) {
	var dashboard models.AnalyticsDashboard
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/analytics/%d", workshopID), token, nil, &dashboard); err != nil {
		return nil, err
	}
	if dashboard.WorkshopID == 0 {
		dashboard.WorkshopID = workshopID
	}
	return &dashboard, nil
}

// do sends body as JSON and decodes the response into out. A 204 or a nil out
// skips decoding.
func (c *WorkshopClient) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("Workshop API call",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
		}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}
