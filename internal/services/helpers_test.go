package services

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/SAP-F-2025/workshop-progress/internal/cache"
	"github.com/SAP-F-2025/workshop-progress/internal/events"
	"github.com/SAP-F-2025/workshop-progress/internal/models"
	"github.com/SAP-F-2025/workshop-progress/internal/repositories/memory"
	"github.com/SAP-F-2025/workshop-progress/internal/validator"
	"github.com/stretchr/testify/mock"
)

// MockWorkshopAPI is a mock implementation of client.WorkshopAPI
type MockWorkshopAPI struct {
	mock.Mock
}

func (m *MockWorkshopAPI) GetWorkshop(ctx context.Context, token string, workshopID uint) (*models.Workshop, error) {
	args := m.Called(ctx, token, workshopID)
	if w, ok := args.Get(0).(*models.Workshop); ok {
		return w, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockWorkshopAPI) GetProgress(ctx context.Context, token, userID string, workshopID uint) (*models.WorkshopProgress, error) {
	args := m.Called(ctx, token, userID, workshopID)
	if p, ok := args.Get(0).(*models.WorkshopProgress); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockWorkshopAPI) PostProgress(ctx context.Context, token string, update models.ProgressUpdate) error {
	args := m.Called(ctx, token, update)
	return args.Error(0)
}

func (m *MockWorkshopAPI) SubmitQuiz(ctx context.Context, token string, quizID uint, submission models.QuizSubmission) (*models.QuizScore, error) {
	args := m.Called(ctx, token, quizID, submission)
	if s, ok := args.Get(0).(*models.QuizScore); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockWorkshopAPI) SubmitFeedback(ctx context.Context, token string, feedback models.Feedback) error {
	args := m.Called(ctx, token, feedback)
	return args.Error(0)
}

func (m *MockWorkshopAPI) GetWorkshopStats(ctx context.Context, token string, workshopID uint) (*models.WorkshopStats, error) {
	args := m.Called(ctx, token, workshopID)
	if s, ok := args.Get(0).(*models.WorkshopStats); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockWorkshopAPI) GetAnalytics(ctx context.Context, token string, workshopID uint) (*models.AnalyticsDashboard, error) {
	args := m.Called(ctx, token, workshopID)
	if d, ok := args.Get(0).(*models.AnalyticsDashboard); ok {
		return d, args.Error(1)
	}
	return nil, args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastSync() SyncOptions {
	return SyncOptions{
		MaxAttempts: 4,
		InitialWait: time.Millisecond,
		MaxWait:     2 * time.Millisecond,
		Multiplier:  2,
	}
}

type syncFixture struct {
	api       *MockWorkshopAPI
	outbox    *memory.OutboxMemory
	publisher *events.MockEventPublisher
	client    *ProgressSyncClient
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	return newSyncFixtureWith(t, fastSync())
}

func newSyncFixtureWith(t *testing.T, opts SyncOptions) *syncFixture {
	t.Helper()
	api := &MockWorkshopAPI{}
	outbox := memory.NewOutboxMemory().(*memory.OutboxMemory)
	publisher := events.NewMockEventPublisher(nil)
	c := NewProgressSyncClient(api, outbox, publisher, validator.New(), testLogger(), opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = c.Close(ctx)
	})
	return &syncFixture{api: api, outbox: outbox, publisher: publisher, client: c}
}

func newStore(publisher events.EventPublisher) *ProgressStore {
	return NewProgressStore(cache.NewSectionCache(cache.NewMemoryCache()), publisher, testLogger())
}

func strPtr(s string) *string {
	return &s
}

func question(id uint, answer string) models.QuizQuestion {
	return models.QuizQuestion{
		ID:          id,
		Question:    "Question?",
		Options:     map[string]string{"A": "a", "B": "b", "C": "c", "D": "d"},
		Answer:      answer,
		Explanation: strPtr("because " + answer),
	}
}

// moduleWorkshop has two modules: module 1 with three plain substeps and
// module 2 with one substep gated by a two-question quiz.
func moduleWorkshop() *models.Workshop {
	return &models.Workshop{
		ID:    7,
		Title: "Go Basics",
		Modules: []models.Module{
			{ID: 1, Title: "Intro", Substeps: []models.Substep{
				{ID: 11, Title: "Welcome"},
				{ID: 12, Title: "Setup"},
				{ID: 13, Title: "Hello"},
			}},
			{ID: 2, Title: "Types", Substeps: []models.Substep{
				{ID: 21, Title: "Structs", Questions: []models.QuizQuestion{question(1, "B"), question(2, "A")}},
			}},
		},
		FinalQuiz: &models.Quiz{ID: 99, Questions: []models.QuizQuestion{question(5, "C"), question(6, "D")}},
	}
}

func sectionWorkshop() *models.Workshop {
	return &models.Workshop{
		ID:    30,
		Title: "Cloud",
		Sections: []models.Section{
			{ID: 301, Title: "Slides", PPTURL: "https://example.com/a.pptx"},
			{ID: 302, Title: "Lab", Code: "fmt.Println()", Questions: []models.QuizQuestion{question(8, "A")}},
			{ID: 303, Title: "Wrap up"},
		},
	}
}
