package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/SAP-F-2025/workshop-progress/internal/client"
	"github.com/SAP-F-2025/workshop-progress/internal/events"
	"github.com/SAP-F-2025/workshop-progress/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

var errUnavailable = errors.New("workshop service unavailable")

func atPosition(moduleID uint, position int) interface{} {
	return mock.MatchedBy(func(u models.ProgressUpdate) bool {
		return u.ModuleID == moduleID && u.SubstepPosition == position
	})
}

// deliveryLog records successful deliveries in order.
type deliveryLog struct {
	mu        sync.Mutex
	positions []int
}

func (l *deliveryLog) record(args mock.Arguments) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.positions = append(l.positions, args.Get(2).(models.ProgressUpdate).SubstepPosition)
}

func (l *deliveryLog) get() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.positions...)
}

func statusOf(c *ProgressSyncClient, id string) CommandStatus {
	snap, _ := c.Status(id)
	return snap.Status
}

func TestProgressSync_ScenarioD_RetriesUntilAcked(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	store := newStore(nil)

	f.api.On("PostProgress", mock.Anything, "tok", atPosition(1, 0)).Return(errUnavailable).Times(3)
	f.api.On("PostProgress", mock.Anything, "tok", atPosition(1, 0)).Return(nil).Once()

	// optimistic local update happens before delivery
	assert.Equal(t, 0, store.MarkCompleted(ctx, "u", 1, 0))
	snap := f.client.PersistStepCompletion(ctx, "tok", "u", 1, 0, 30)
	assert.Equal(t, CommandPending, snap.Status)
	assert.Equal(t, 0, store.GetHighestCompleted("u", 1))

	assert.Eventually(t, func() bool { return statusOf(f.client, snap.ID) == CommandAcked }, time.Second, 5*time.Millisecond)

	final, _ := f.client.Status(snap.ID)
	assert.Equal(t, 4, final.Attempts)
	assert.Empty(t, final.LastError)
	assert.Equal(t, store.GetHighestCompleted("u", 1), final.Position)

	n, _ := f.outbox.Count(ctx)
	assert.Zero(t, n)
	f.api.AssertExpectations(t)
}

func TestProgressSync_DeliversInOrderPerModule(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	log := &deliveryLog{}

	f.api.On("PostProgress", mock.Anything, mock.Anything, mock.Anything).Return(nil).Run(log.record)

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, f.client.PersistStepCompletion(ctx, "", "u", 3, i, 1).ID)
	}

	assert.Eventually(t, func() bool { return len(log.get()) == 5 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, log.get())
	for _, id := range ids {
		assert.Equal(t, CommandAcked, statusOf(f.client, id))
	}
}

func TestProgressSync_CoalescesQueuedDuplicates(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	release := make(chan struct{})
	log := &deliveryLog{}

	f.api.On("PostProgress", mock.Anything, mock.Anything, atPosition(1, 0)).
		Run(func(mock.Arguments) { <-release }).Return(nil).Once()
	f.api.On("PostProgress", mock.Anything, mock.Anything, atPosition(1, 1)).
		Run(log.record).Return(nil).Once()

	f.client.PersistStepCompletion(ctx, "", "u", 1, 0, 5)
	first := f.client.PersistStepCompletion(ctx, "", "u", 1, 1, 5)
	second := f.client.PersistStepCompletion(ctx, "", "u", 1, 1, 9)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 9, second.TimeSpent)
	assert.Equal(t, 2, f.client.Pending())

	close(release)
	assert.Eventually(t, func() bool { return statusOf(f.client, first.ID) == CommandAcked }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{1}, log.get())
	f.api.AssertExpectations(t)
}

func TestProgressSync_FailedHeadReplaysBeforeNextCommand(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	log := &deliveryLog{}

	f.api.On("PostProgress", mock.Anything, mock.Anything, atPosition(1, 0)).Return(errUnavailable).Times(4)
	f.api.On("PostProgress", mock.Anything, mock.Anything, atPosition(1, 0)).Run(log.record).Return(nil)
	f.api.On("PostProgress", mock.Anything, mock.Anything, atPosition(1, 1)).Run(log.record).Return(nil)

	failed := f.client.PersistStepCompletion(ctx, "", "u", 1, 0, 1)
	assert.Eventually(t, func() bool {
		n, _ := f.outbox.Count(ctx)
		return statusOf(f.client, failed.ID) == CommandFailed && n == 1
	}, time.Second, 5*time.Millisecond)

	snap, _ := f.client.Status(failed.ID)
	assert.Equal(t, 4, snap.Attempts)
	assert.Contains(t, snap.LastError, "unavailable")

	stored, err := f.outbox.GetByID(ctx, failed.ID)
	require.NoError(t, err)
	var payload models.ProgressUpdate
	require.NoError(t, json.Unmarshal(stored.Payload, &payload))
	assert.Equal(t, 0, payload.SubstepPosition)

	next := f.client.PersistStepCompletion(ctx, "", "u", 1, 1, 1)
	assert.Eventually(t, func() bool { return statusOf(f.client, next.ID) == CommandAcked }, time.Second, 5*time.Millisecond)

	assert.Equal(t, []int{0, 1}, log.get())
	assert.Equal(t, CommandAcked, statusOf(f.client, failed.ID))
	n, _ := f.outbox.Count(ctx)
	assert.Zero(t, n)
}

func TestProgressSync_SuccessElsewhereKicksDeferredQueues(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	f.api.On("PostProgress", mock.Anything, mock.Anything, atPosition(1, 0)).Return(errUnavailable).Times(4)
	f.api.On("PostProgress", mock.Anything, mock.Anything, atPosition(1, 0)).Return(nil)
	f.api.On("PostProgress", mock.Anything, mock.Anything, atPosition(2, 0)).Return(nil)

	failed := f.client.PersistStepCompletion(ctx, "", "u", 1, 0, 1)
	assert.Eventually(t, func() bool { return statusOf(f.client, failed.ID) == CommandFailed }, time.Second, 5*time.Millisecond)

	other := f.client.PersistStepCompletion(ctx, "", "u", 2, 0, 1)
	assert.Eventually(t, func() bool {
		return statusOf(f.client, other.ID) == CommandAcked && statusOf(f.client, failed.ID) == CommandAcked
	}, time.Second, 5*time.Millisecond)
}

func TestProgressSync_FlushAndRestore(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	payload, _ := json.Marshal(models.ProgressUpdate{UserID: "u", ModuleID: 4, SubstepPosition: 2, TimeSpent: 12})
	require.NoError(t, f.outbox.Save(ctx, &models.PendingProgressCommand{
		ID:       "restored-1",
		Sequence: 41,
		UserID:   "u",
		ModuleID: 4,
		Position: 2,
		Attempts: 4,
		Payload:  datatypes.JSON(payload),
	}))

	f.client.opts.ServiceToken = "service"
	f.api.On("PostProgress", mock.Anything, "service", atPosition(4, 2)).Return(nil).Once()

	n, err := f.client.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, CommandFailed, statusOf(f.client, "restored-1"))

	// restoring twice does not duplicate
	n, err = f.client.Restore(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Equal(t, 1, f.client.Flush(ctx))
	assert.Eventually(t, func() bool { return statusOf(f.client, "restored-1") == CommandAcked }, time.Second, 5*time.Millisecond)

	count, _ := f.outbox.Count(ctx)
	assert.Zero(t, count)
	assert.Zero(t, f.client.Flush(ctx))
	f.api.AssertExpectations(t)

	cmds := f.client.Commands("u")
	require.Len(t, cmds, 1)
	assert.Equal(t, 5, cmds[0].Attempts)
}

func TestProgressSync_PermanentRejectionDoesNotBlockQueue(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	rejected := &client.APIError{Method: http.MethodPost, Path: "/progress", StatusCode: http.StatusUnprocessableEntity, Body: "bad position"}
	f.api.On("PostProgress", mock.Anything, mock.Anything, atPosition(1, 0)).Return(rejected).Once()
	f.api.On("PostProgress", mock.Anything, mock.Anything, atPosition(1, 1)).Return(nil).Once()

	bad := f.client.PersistStepCompletion(ctx, "", "u", 1, 0, 1)
	good := f.client.PersistStepCompletion(ctx, "", "u", 1, 1, 1)

	assert.Eventually(t, func() bool { return statusOf(f.client, good.ID) == CommandAcked }, time.Second, 5*time.Millisecond)
	snap, _ := f.client.Status(bad.ID)
	assert.Equal(t, CommandFailed, snap.Status)
	assert.Equal(t, 1, snap.Attempts)

	n, _ := f.outbox.Count(ctx)
	assert.Zero(t, n)
	f.api.AssertExpectations(t)
}

func TestProgressSync_CloseWaitsForInFlight(t *testing.T) {
	f := newSyncFixture(t)
	release := make(chan struct{})

	f.api.On("PostProgress", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-release }).Return(nil).Once()

	// the request context is already cancelled; delivery must not depend on it
	reqCtx, cancel := context.WithCancel(context.Background())
	snap := f.client.PersistStepCompletion(reqCtx, "", "u", 1, 0, 1)
	cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	ctx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()
	require.NoError(t, f.client.Close(ctx))
	assert.Equal(t, CommandAcked, statusOf(f.client, snap.ID))
}

func TestProgressSync_CloseTimeoutMovesToOutbox(t *testing.T) {
	opts := fastSync()
	opts.InitialWait = time.Hour
	opts.MaxWait = time.Hour
	f := newSyncFixtureWith(t, opts)

	f.api.On("PostProgress", mock.Anything, mock.Anything, mock.Anything).Return(errUnavailable)
	snap := f.client.PersistStepCompletion(context.Background(), "", "u", 1, 0, 1)

	assert.Eventually(t, func() bool {
		s, _ := f.client.Status(snap.ID)
		return s.Attempts == 1
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := f.client.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, CommandFailed, statusOf(f.client, snap.ID))
	n, _ := f.outbox.Count(context.Background())
	assert.EqualValues(t, 1, n)
}

func TestProgressSync_PersistQuizSubmission(t *testing.T) {
	t.Run("success publishes event", func(t *testing.T) {
		f := newSyncFixture(t)
		answers := map[uint]string{5: "C"}
		f.api.On("SubmitQuiz", mock.Anything, "tok", uint(99), models.QuizSubmission{UserID: "u", Answers: answers}).
			Return(&models.QuizScore{Score: 1, Total: 2}, nil).Once()

		score, err := f.client.PersistQuizSubmission(context.Background(), "tok", "u", 99, answers)
		require.NoError(t, err)
		assert.Equal(t, 1, score.Score)
		assert.Len(t, f.publisher.EventsOfType(events.EventQuizSubmitted), 1)
	})

	t.Run("failure is not retried", func(t *testing.T) {
		f := newSyncFixture(t)
		f.api.On("SubmitQuiz", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, errUnavailable).Once()

		_, err := f.client.PersistQuizSubmission(context.Background(), "tok", "u", 99, nil)
		require.Error(t, err)
		assert.True(t, IsPersistenceFailure(err))
		assert.ErrorIs(t, err, errUnavailable)
		f.api.AssertNumberOfCalls(t, "SubmitQuiz", 1)
	})
}

func TestProgressSync_SubmitFeedback(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	err := f.client.SubmitFeedback(ctx, "tok", models.Feedback{UserID: "u", WorkshopID: 1, Stars: 0})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	f.api.AssertNotCalled(t, "SubmitFeedback", mock.Anything, mock.Anything, mock.Anything)

	ok := models.Feedback{UserID: "u", WorkshopID: 1, Stars: 5, Comments: "great"}
	f.api.On("SubmitFeedback", mock.Anything, "tok", ok).Return(nil).Once()
	require.NoError(t, f.client.SubmitFeedback(ctx, "tok", ok))

	bad := models.Feedback{UserID: "u", WorkshopID: 1, Stars: 3}
	f.api.On("SubmitFeedback", mock.Anything, "tok", bad).Return(errUnavailable).Once()
	assert.True(t, IsPersistenceFailure(f.client.SubmitFeedback(ctx, "tok", bad)))
}

func TestProgressSync_Reconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("server ahead advances local", func(t *testing.T) {
		f := newSyncFixture(t)
		store := newStore(nil)
		store.MarkCompleted(ctx, "u", 1, 1)
		ws := &models.Workshop{ID: 7, Modules: []models.Module{{ID: 1, Substeps: make([]models.Substep, 5)}}}

		f.api.On("GetProgress", mock.Anything, "tok", "u", uint(7)).Return(&models.WorkshopProgress{
			Modules: []models.ModuleProgress{{ModuleID: 1, HighestCompleted: 3}, {ModuleID: 42, HighestCompleted: 9}},
		}, nil).Once()

		report, err := f.client.Reconcile(ctx, "tok", store, "u", ws)
		require.NoError(t, err)
		assert.Equal(t, 3, store.GetHighestCompleted("u", 1))
		assert.Equal(t, []ModuleAdvance{{ModuleID: 1, From: 1, To: 3}}, report.Advanced)
		assert.Empty(t, report.Conflicts)
		assert.Len(t, f.publisher.EventsOfType(events.EventProgressReconciled), 1)
	})

	t.Run("server behind keeps local and resends", func(t *testing.T) {
		f := newSyncFixture(t)
		store := newStore(nil)
		store.MarkCompleted(ctx, "u", 1, 1)
		ws := &models.Workshop{ID: 7, Modules: []models.Module{{ID: 1, Substeps: make([]models.Substep, 5)}}}

		f.api.On("GetProgress", mock.Anything, "tok", "u", uint(7)).Return(&models.WorkshopProgress{
			Modules: []models.ModuleProgress{{ModuleID: 1, HighestCompleted: 0}},
		}, nil).Once()
		f.api.On("PostProgress", mock.Anything, "tok", atPosition(1, 1)).Return(nil).Once()

		report, err := f.client.Reconcile(ctx, "tok", store, "u", ws)
		require.NoError(t, err)
		assert.Equal(t, 1, store.GetHighestCompleted("u", 1))
		require.Len(t, report.Conflicts, 1)
		assert.ErrorIs(t, report.Conflicts[0], ErrReconciliationConflict)
		assert.Equal(t, 0, report.Conflicts[0].ServerValue)

		assert.Eventually(t, func() bool {
			cmds := f.client.Commands("u")
			return len(cmds) == 1 && cmds[0].Status == CommandAcked
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("server values are clamped and sections marked", func(t *testing.T) {
		f := newSyncFixture(t)
		store := newStore(nil)
		ws := sectionWorkshop()

		f.api.On("GetProgress", mock.Anything, "tok", "u", ws.ID).Return(&models.WorkshopProgress{
			Modules:  []models.ModuleProgress{{ModuleID: ws.ID, HighestCompleted: 10}},
			Sections: []models.SectionProgress{{SectionID: 301, Completed: true}, {SectionID: 302, Completed: false}, {SectionID: 999, Completed: true}},
		}, nil).Once()

		report, err := f.client.Reconcile(ctx, "tok", store, "u", ws)
		require.NoError(t, err)
		assert.Equal(t, 2, store.GetHighestCompleted("u", ws.ID))
		assert.Equal(t, 1, report.SectionsMarked)
		assert.True(t, store.IsSectionCompleted(ctx, "u", ws.ID, 301))
		assert.False(t, store.IsSectionCompleted(ctx, "u", ws.ID, 302))
	})

	t.Run("completed server sections advance the section module", func(t *testing.T) {
		f := newSyncFixture(t)
		store := newStore(nil)
		ws := sectionWorkshop()

		f.api.On("GetProgress", mock.Anything, "tok", "u", ws.ID).Return(&models.WorkshopProgress{
			Sections: []models.SectionProgress{{SectionID: 301, Completed: true}, {SectionID: 302, Completed: true}},
		}, nil).Once()

		report, err := f.client.Reconcile(ctx, "tok", store, "u", ws)
		require.NoError(t, err)
		assert.Equal(t, 2, report.SectionsMarked)
		assert.Equal(t, 1, store.GetHighestCompleted("u", ws.ID))
		assert.Equal(t, []ModuleAdvance{{ModuleID: ws.ID, From: -1, To: 1}}, report.Advanced)
	})

	t.Run("a gap stops the section prefix", func(t *testing.T) {
		f := newSyncFixture(t)
		store := newStore(nil)
		ws := sectionWorkshop()

		f.api.On("GetProgress", mock.Anything, "tok", "u", ws.ID).Return(&models.WorkshopProgress{
			Sections: []models.SectionProgress{{SectionID: 302, Completed: true}, {SectionID: 303, Completed: true}},
		}, nil).Once()

		report, err := f.client.Reconcile(ctx, "tok", store, "u", ws)
		require.NoError(t, err)
		assert.Equal(t, 2, report.SectionsMarked)
		assert.Equal(t, -1, store.GetHighestCompleted("u", ws.ID))
		assert.Empty(t, report.Advanced)
	})

	t.Run("fetch failure", func(t *testing.T) {
		f := newSyncFixture(t)
		f.api.On("GetProgress", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, errUnavailable).Once()

		_, err := f.client.Reconcile(ctx, "tok", newStore(nil), "u", moduleWorkshop())
		assert.True(t, IsPersistenceFailure(err))
	})
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "short", in: "timeout", n: 10, want: "timeout"},
		{name: "ascii", in: "connection refused", n: 10, want: "connection"},
		{name: "inside a rune", in: "délai dépassé", n: 2, want: "d"},
		{name: "rune boundary", in: "délai dépassé", n: 3, want: "dé"},
		{name: "four byte rune", in: "🚫 denied", n: 3, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}
