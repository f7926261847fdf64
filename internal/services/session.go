package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SAP-F-2025/workshop-progress/internal/cache"
	"github.com/SAP-F-2025/workshop-progress/internal/client"
	"github.com/SAP-F-2025/workshop-progress/internal/events"
	"github.com/SAP-F-2025/workshop-progress/internal/models"
	"github.com/SAP-F-2025/workshop-progress/internal/validator"
	"github.com/google/uuid"
)

// Session is one signed-in user. It owns the user's progress store and the
// navigators of the workshops opened in it.
type Session struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Name      string          `json:"name"`
	Role      models.UserRole `json:"role"`
	Token     string          `json:"-"`
	CreatedAt time.Time       `json:"created_at"`

	mu         sync.Mutex
	lastSeen   time.Time
	store      *ProgressStore
	navigators map[uint]*Navigator
}

// Identity returns the authenticated user of the session.
func (s *Session) Identity() models.Identity {
	return models.Identity{UserID: s.UserID, Name: s.Name, Role: s.Role, Token: s.Token}
}

// LastSeen returns when the session was last used.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	if now.After(s.lastSeen) {
		s.lastSeen = now
	}
	s.mu.Unlock()
}

// Store returns the session's progress store.
func (s *Session) Store() *ProgressStore {
	return s.store
}

// SessionManager creates sessions and starts workshops in them.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	api          client.WorkshopAPI
	sync         *ProgressSyncClient
	sectionCache cache.SectionCache
	publisher    events.EventPublisher
	validator    *validator.Validator
	logger       *slog.Logger
	opLogger     *ServiceLogger
	passPercent  int
	clock        func() time.Time
}

type SessionManagerConfig struct {
	API          client.WorkshopAPI
	Sync         *ProgressSyncClient
	SectionCache cache.SectionCache
	Publisher    events.EventPublisher
	Validator    *validator.Validator
	Logger       *slog.Logger
	PassPercent  int
	Clock        func() time.Time
}

func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &SessionManager{
		sessions:     make(map[string]*Session),
		api:          cfg.API,
		sync:         cfg.Sync,
		sectionCache: cfg.SectionCache,
		publisher:    cfg.Publisher,
		validator:    cfg.Validator,
		logger:       cfg.Logger,
		opLogger:     NewServiceLogger(cfg.Logger, LogConfig{Service: "workshop-progress", Component: "session"}),
		passPercent:  cfg.PassPercent,
		clock:        cfg.Clock,
	}
}

// Create opens a session for an authenticated identity. Identities with a
// role outside the known set are rejected.
func (m *SessionManager) Create(identity models.Identity) (*Session, error) {
	if !identity.Role.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, identity.Role)
	}
	if err := m.validator.ValidateStruct(&identity); err != nil {
		return nil, err
	}

	now := m.clock().UTC()
	s := &Session{
		ID:         uuid.NewString(),
		UserID:     identity.UserID,
		Name:       identity.Name,
		Role:       identity.Role,
		Token:      identity.Token,
		CreatedAt:  now,
		lastSeen:   now,
		store:      NewProgressStore(m.sectionCache, m.publisher, m.logger),
		navigators: make(map[uint]*Navigator),
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.logger.Info("Session created", "session_id", s.ID, "user_id", s.UserID, "role", s.Role)
	return s, nil
}

// Get returns an open session and marks it as used.
func (m *SessionManager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.touch(m.clock().UTC())
	return s, nil
}

// StartWorkshop fetches and validates the workshop, restores cached section
// progress, reconciles with the server and places a fresh navigator in the
// session. When the server cannot be reached the navigator starts from local
// progress and the report is nil.
func (m *SessionManager) StartWorkshop(ctx context.Context, sessionID string, workshopID uint) (nav *Navigator, report *ReconcileReport, err error) {
	s, err := m.Get(sessionID)
	if err != nil {
		return nil, nil, err
	}
	op := m.opLogger.WithOperation(ctx, "start_workshop", s.UserID)
	defer func() { op.LogResult(workshopID, "workshop", err) }()

	workshop, err := m.api.GetWorkshop(ctx, s.Token, workshopID)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch workshop %d: %w", workshopID, err)
	}
	if err := m.validator.Validate(workshop); err != nil {
		return nil, nil, err
	}

	if len(workshop.Modules) == 0 && len(workshop.Sections) > 0 {
		s.store.RestoreSectionPrefix(ctx, s.UserID, workshop)
	}

	report, rerr := m.sync.Reconcile(ctx, s.Token, s.store, s.UserID, workshop)
	if rerr != nil {
		m.logger.WarnContext(ctx, "Starting workshop from local progress",
			"user_id", s.UserID,
			"workshop_id", workshopID,
			"error", rerr)
		report = nil
	}

	nav = NewNavigator(s.Identity(), workshop, NavigatorDeps{
		Store:       s.store,
		Persister:   m.sync,
		Policy:      NewUnlockPolicy(),
		Engine:      NewQuizEngine(),
		Publisher:   m.publisher,
		Logger:      m.logger,
		PassPercent: m.passPercent,
		Clock:       m.clock,
	})

	s.mu.Lock()
	s.navigators[workshopID] = nav
	s.mu.Unlock()
	return nav, report, nil
}

// Navigator returns the navigator of a workshop started in the session.
func (m *SessionManager) Navigator(sessionID string, workshopID uint) (*Navigator, error) {
	s, err := m.Get(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	nav, ok := s.navigators[workshopID]
	if !ok {
		return nil, ErrWorkshopNotStarted
	}
	return nav, nil
}

// Close ends a session. Queued progress writes keep being delivered.
func (m *SessionManager) Close(sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	s.mu.Lock()
	s.navigators = make(map[uint]*Navigator)
	s.mu.Unlock()

	m.logger.Info("Session closed", "session_id", sessionID, "user_id", s.UserID)
	return nil
}

// EvictIdle closes every session not used within maxIdle and returns how many
// were closed. Queued progress writes of evicted sessions are still delivered.
func (m *SessionManager) EvictIdle(maxIdle time.Duration) int {
	cutoff := m.clock().UTC().Add(-maxIdle)

	var evicted []*Session
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.LastSeen().Before(cutoff) {
			evicted = append(evicted, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range evicted {
		s.mu.Lock()
		s.navigators = make(map[uint]*Navigator)
		s.mu.Unlock()
		m.logger.Info("Session expired", "session_id", s.ID, "user_id", s.UserID)
	}
	return len(evicted)
}

// Count returns the number of open sessions.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
