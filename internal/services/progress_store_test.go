package services

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/SAP-F-2025/workshop-progress/internal/cache"
	"github.com/SAP-F-2025/workshop-progress/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockSectionCache is a mock implementation of cache.SectionCache
type MockSectionCache struct {
	mock.Mock
}

func (m *MockSectionCache) GetSections(ctx context.Context, userID string, workshopID uint) (map[uint]bool, error) {
	args := m.Called(ctx, userID, workshopID)
	if s, ok := args.Get(0).(map[uint]bool); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSectionCache) SetSections(ctx context.Context, userID string, workshopID uint, sections map[uint]bool) error {
	args := m.Called(ctx, userID, workshopID, sections)
	return args.Error(0)
}

func (m *MockSectionCache) Clear(ctx context.Context, userID string, workshopID uint) error {
	args := m.Called(ctx, userID, workshopID)
	return args.Error(0)
}

func TestProgressStore_MarkCompletedIsMonotonic(t *testing.T) {
	ctx := context.Background()
	store := newStore(nil)
	assert.Equal(t, -1, store.GetHighestCompleted("u", 1))

	seq := []int{0, 3, 1, 2, 5, 4, 5}
	maxSeen := -1
	for _, i := range seq {
		before := store.GetHighestCompleted("u", 1)
		got := store.MarkCompleted(ctx, "u", 1, i)
		maxSeen = max(maxSeen, i)

		assert.GreaterOrEqual(t, got, before)
		assert.Equal(t, maxSeen, got)
		assert.Equal(t, maxSeen, store.GetHighestCompleted("u", 1))
	}

	// other keys are independent
	assert.Equal(t, -1, store.GetHighestCompleted("u", 2))
	assert.Equal(t, -1, store.GetHighestCompleted("v", 1))
}

func TestProgressStore_MarkCompletedRandomSequences(t *testing.T) {
	ctx := context.Background()
	for run := 0; run < 20; run++ {
		store := newStore(nil)
		maxSeen := -1
		for i := 0; i < 50; i++ {
			idx := rand.IntN(30)
			maxSeen = max(maxSeen, idx)
			store.MarkCompleted(ctx, "u", 9, idx)
			require.Equal(t, maxSeen, store.GetHighestCompleted("u", 9))
		}
	}
}

func TestProgressStore_EmitsOnlyOnAdvance(t *testing.T) {
	ctx := context.Background()
	pub := events.NewMockEventPublisher(nil)
	store := newStore(pub)

	store.MarkCompleted(ctx, "u", 1, 0)
	store.MarkCompleted(ctx, "u", 1, 0)
	store.MarkCompleted(ctx, "u", 1, 2)
	store.MarkCompleted(ctx, "u", 1, 1)

	published := pub.EventsOfType(events.EventStepCompleted)
	require.Len(t, published, 2)
	data := published[1].Data.(events.StepCompletedEvent)
	assert.Equal(t, 0, data.PreviousHighest)
	assert.Equal(t, 2, data.HighestCompleted)
}

func TestProgressStore_ConcurrentMarkCompleted(t *testing.T) {
	ctx := context.Background()
	store := newStore(nil)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			store.MarkCompleted(ctx, "u", 1, i)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 99, store.GetHighestCompleted("u", 1))
}

func TestProgressStore_MarkSectionCompletedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	pub := events.NewMockEventPublisher(nil)
	sectionCache := &MockSectionCache{}
	sectionCache.On("GetSections", mock.Anything, "u", uint(4)).Return(map[uint]bool{}, nil).Once()
	sectionCache.On("SetSections", mock.Anything, "u", uint(4), map[uint]bool{40: true}).Return(nil).Once()

	store := NewProgressStore(sectionCache, pub, testLogger())

	assert.False(t, store.IsSectionCompleted(ctx, "u", 4, 40))
	assert.True(t, store.MarkSectionCompleted(ctx, "u", 4, 40))
	assert.False(t, store.MarkSectionCompleted(ctx, "u", 4, 40))
	assert.True(t, store.IsSectionCompleted(ctx, "u", 4, 40))

	assert.Len(t, pub.EventsOfType(events.EventSectionCompleted), 1)
	sectionCache.AssertExpectations(t)
}

func TestProgressStore_SectionsSurviveReload(t *testing.T) {
	ctx := context.Background()
	shared := cache.NewSectionCache(cache.NewMemoryCache())

	first := NewProgressStore(shared, nil, testLogger())
	first.MarkSectionCompleted(ctx, "u", 4, 40)
	first.MarkSectionCompleted(ctx, "u", 4, 41)

	second := NewProgressStore(shared, nil, testLogger())
	assert.True(t, second.IsSectionCompleted(ctx, "u", 4, 40))
	assert.True(t, second.IsSectionCompleted(ctx, "u", 4, 41))
	assert.False(t, second.IsSectionCompleted(ctx, "u", 4, 42))
	assert.Equal(t, map[uint]bool{40: true, 41: true}, second.CompletedSections(ctx, "u", 4))
}

func TestProgressStore_CacheFailureDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	sectionCache := &MockSectionCache{}
	sectionCache.On("GetSections", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("redis down"))
	sectionCache.On("SetSections", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("redis down"))

	store := NewProgressStore(sectionCache, nil, testLogger())
	assert.True(t, store.MarkSectionCompleted(ctx, "u", 1, 10))
	assert.True(t, store.IsSectionCompleted(ctx, "u", 1, 10))
}

func TestProgressStore_ApplyServerProgressNeverLowers(t *testing.T) {
	ctx := context.Background()
	store := newStore(nil)
	store.MarkCompleted(ctx, "u", 1, 1)

	advanced, local := store.ApplyServerProgress("u", 1, 3)
	assert.True(t, advanced)
	assert.Equal(t, 1, local)
	assert.Equal(t, 3, store.GetHighestCompleted("u", 1))

	advanced, local = store.ApplyServerProgress("u", 1, 0)
	assert.False(t, advanced)
	assert.Equal(t, 3, local)
	assert.Equal(t, 3, store.GetHighestCompleted("u", 1))
}
