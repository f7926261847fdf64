package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/SAP-F-2025/workshop-progress/internal/cache"
	"github.com/SAP-F-2025/workshop-progress/internal/models"
	"github.com/SAP-F-2025/workshop-progress/internal/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type sessionFixture struct {
	*syncFixture
	sections cache.SectionCache
	manager  *SessionManager
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	sf := newSyncFixture(t)
	sections := cache.NewSectionCache(cache.NewMemoryCache())
	return &sessionFixture{
		syncFixture: sf,
		sections:    sections,
		manager: NewSessionManager(SessionManagerConfig{
			API:          sf.api,
			Sync:         sf.client,
			SectionCache: sections,
			Publisher:    sf.publisher,
			Validator:    validator.New(),
			Logger:       testLogger(),
			PassPercent:  70,
		}),
	}
}

func student() models.Identity {
	return models.Identity{UserID: "u", Name: "Ada", Role: models.RoleStudent, Token: "tok"}
}

func TestSessionManager_Create(t *testing.T) {
	f := newSessionFixture(t)

	s, err := f.manager.Create(student())
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "u", s.UserID)
	assert.NotNil(t, s.Store())
	assert.Equal(t, 1, f.manager.Count())

	got, err := f.manager.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = f.manager.Create(models.Identity{UserID: "x", Role: "guest"})
	assert.ErrorIs(t, err, ErrInvalidRole)
	assert.True(t, IsValidation(err))

	_, err = f.manager.Create(models.Identity{Role: models.RoleTrainer})
	assert.Error(t, err)

	require.NoError(t, f.manager.Close(s.ID))
	_, err = f.manager.Get(s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, f.manager.Close(s.ID), ErrSessionNotFound)
	assert.Equal(t, 0, f.manager.Count())
}

func TestSessionManager_EvictIdle(t *testing.T) {
	f := newSessionFixture(t)
	clock := &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	f.manager.clock = clock.Now

	idle, err := f.manager.Create(student())
	require.NoError(t, err)
	active, err := f.manager.Create(models.Identity{UserID: "t", Name: "Grace", Role: models.RoleTrainer, Token: "tok2"})
	require.NoError(t, err)

	clock.Advance(time.Hour)
	_, err = f.manager.Get(active.ID)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().UTC(), active.LastSeen())

	clock.Advance(30 * time.Minute)
	assert.Equal(t, 0, f.manager.EvictIdle(2*time.Hour))
	assert.Equal(t, 2, f.manager.Count())

	clock.Advance(time.Hour)
	assert.Equal(t, 1, f.manager.EvictIdle(2*time.Hour))
	assert.Equal(t, 1, f.manager.Count())

	_, err = f.manager.Get(idle.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.manager.Get(active.ID)
	assert.NoError(t, err)
}

func TestSessionManager_StartWorkshop(t *testing.T) {
	ctx := context.Background()

	t.Run("reconciles server progress", func(t *testing.T) {
		f := newSessionFixture(t)
		s, err := f.manager.Create(student())
		require.NoError(t, err)

		f.api.On("GetWorkshop", mock.Anything, "tok", uint(7)).Return(moduleWorkshop(), nil)
		f.api.On("GetProgress", mock.Anything, "tok", "u", uint(7)).Return(&models.WorkshopProgress{
			UserID:  "u",
			Modules: []models.ModuleProgress{{ModuleID: 1, HighestCompleted: 1}},
		}, nil)

		nav, report, err := f.manager.StartWorkshop(ctx, s.ID, 7)
		require.NoError(t, err)
		require.NotNil(t, report)
		require.Len(t, report.Advanced, 1)
		assert.Equal(t, ModuleAdvance{ModuleID: 1, From: -1, To: 1}, report.Advanced[0])

		moduleID, index := nav.Position()
		assert.Equal(t, uint(1), moduleID)
		assert.Equal(t, 2, index)

		same, err := f.manager.Navigator(s.ID, 7)
		require.NoError(t, err)
		assert.Same(t, nav, same)
	})

	t.Run("unreachable progress starts locally", func(t *testing.T) {
		f := newSessionFixture(t)
		s, err := f.manager.Create(student())
		require.NoError(t, err)
		s.Store().MarkCompleted(ctx, "u", 1, 0)

		f.api.On("GetWorkshop", mock.Anything, "tok", uint(7)).Return(moduleWorkshop(), nil)
		f.api.On("GetProgress", mock.Anything, "tok", "u", uint(7)).Return(nil, errors.New("connection refused"))

		nav, report, err := f.manager.StartWorkshop(ctx, s.ID, 7)
		require.NoError(t, err)
		assert.Nil(t, report)
		_, index := nav.Position()
		assert.Equal(t, 1, index)
	})

	t.Run("invalid workshop is rejected", func(t *testing.T) {
		f := newSessionFixture(t)
		s, err := f.manager.Create(student())
		require.NoError(t, err)

		ws := moduleWorkshop()
		ws.Modules[1].Substeps[0].Questions[0].Answer = "Z"
		f.api.On("GetWorkshop", mock.Anything, "tok", uint(7)).Return(ws, nil)

		_, _, err = f.manager.StartWorkshop(ctx, s.ID, 7)
		require.Error(t, err)
		assert.True(t, IsValidation(err))
		f.api.AssertNotCalled(t, "GetProgress", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

		_, err = f.manager.Navigator(s.ID, 7)
		assert.ErrorIs(t, err, ErrWorkshopNotStarted)
	})

	t.Run("fetch failure", func(t *testing.T) {
		f := newSessionFixture(t)
		s, err := f.manager.Create(student())
		require.NoError(t, err)
		f.api.On("GetWorkshop", mock.Anything, "tok", uint(8)).Return(nil, errUnavailable)

		_, _, err = f.manager.StartWorkshop(ctx, s.ID, 8)
		assert.ErrorIs(t, err, errUnavailable)
	})

	t.Run("unknown session", func(t *testing.T) {
		f := newSessionFixture(t)
		_, _, err := f.manager.StartWorkshop(ctx, "nope", 7)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("restores cached sections", func(t *testing.T) {
		f := newSessionFixture(t)
		require.NoError(t, f.sections.SetSections(ctx, "u", 30, map[uint]bool{301: true, 302: true}))
		s, err := f.manager.Create(student())
		require.NoError(t, err)

		f.api.On("GetWorkshop", mock.Anything, "tok", uint(30)).Return(sectionWorkshop(), nil)
		f.api.On("GetProgress", mock.Anything, "tok", "u", uint(30)).Return(&models.WorkshopProgress{UserID: "u"}, nil)

		nav, report, err := f.manager.StartWorkshop(ctx, s.ID, 30)
		require.NoError(t, err)
		assert.Empty(t, report.Advanced)
		assert.Equal(t, 1, s.Store().GetHighestCompleted("u", 30))
		_, index := nav.Position()
		assert.Equal(t, 2, index)
	})

	t.Run("resumes after sections completed on the server", func(t *testing.T) {
		f := newSessionFixture(t)
		s, err := f.manager.Create(student())
		require.NoError(t, err)

		f.api.On("GetWorkshop", mock.Anything, "tok", uint(30)).Return(sectionWorkshop(), nil)
		f.api.On("GetProgress", mock.Anything, "tok", "u", uint(30)).Return(&models.WorkshopProgress{
			UserID:   "u",
			Sections: []models.SectionProgress{{SectionID: 301, Completed: true}, {SectionID: 302, Completed: true}},
		}, nil)

		nav, report, err := f.manager.StartWorkshop(ctx, s.ID, 30)
		require.NoError(t, err)
		require.Len(t, report.Advanced, 1)
		assert.Equal(t, 1, s.Store().GetHighestCompleted("u", 30))
		_, index := nav.Position()
		assert.Equal(t, 2, index)
	})
}
