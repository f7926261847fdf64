package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockFlusher struct {
	mock.Mock
}

func (m *MockFlusher) Restore(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockFlusher) Flush(ctx context.Context) int {
	return m.Called(ctx).Int(0)
}

func (m *MockFlusher) Pending() int {
	return m.Called().Int(0)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOutboxFlushJob_Run(t *testing.T) {
	f := &MockFlusher{}
	f.On("Flush", mock.Anything).Return(2).Once()
	f.On("Pending").Return(3).Once()

	j := NewOutboxFlushJob(f, time.Second, discard())
	j.Run()

	f.AssertExpectations(t)
}

func TestOutboxFlushJob_StartRestoresAndSchedules(t *testing.T) {
	f := &MockFlusher{}
	f.On("Restore", mock.Anything).Return(1, nil).Once()
	var flushed atomic.Bool
	f.On("Flush", mock.Anything).Return(0).Run(func(mock.Arguments) { flushed.Store(true) })

	j := NewOutboxFlushJob(f, 10*time.Millisecond, discard())
	require.NoError(t, j.Start(context.Background()))
	defer j.Stop()

	assert.Eventually(t, flushed.Load, time.Second, 5*time.Millisecond)
}

func TestOutboxFlushJob_RestoreFailure(t *testing.T) {
	f := &MockFlusher{}
	f.On("Restore", mock.Anything).Return(0, errors.New("relation does not exist"))

	j := NewOutboxFlushJob(f, time.Second, discard())
	err := j.Start(context.Background())
	assert.ErrorContains(t, err, "restore outbox")
	f.AssertNotCalled(t, "Flush", mock.Anything)
}
