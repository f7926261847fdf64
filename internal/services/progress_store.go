package services

import (
	"context"
	"log/slog"
	"sync"

	"github.com/SAP-F-2025/workshop-progress/internal/cache"
	"github.com/SAP-F-2025/workshop-progress/internal/events"
	"github.com/SAP-F-2025/workshop-progress/internal/models"
)

type moduleKey struct {
	userID   string
	moduleID uint
}

type workshopKey struct {
	userID     string
	workshopID uint
}

// ProgressStore is the local source of truth for a learner's progress. Values
// only move forward: the highest completed index of a module never decreases
// and a completed section stays completed.
type ProgressStore struct {
	mu       sync.RWMutex
	highest  map[moduleKey]int
	sections map[workshopKey]map[uint]bool
	loaded   map[workshopKey]bool

	// serializes cache write-through so snapshots land in order
	writeMu sync.Mutex

	cache     cache.SectionCache
	publisher events.EventPublisher
	logger    *slog.Logger
}

func NewProgressStore(sectionCache cache.SectionCache, publisher events.EventPublisher, logger *slog.Logger) *ProgressStore {
	return &ProgressStore{
		highest:   make(map[moduleKey]int),
		sections:  make(map[workshopKey]map[uint]bool),
		loaded:    make(map[workshopKey]bool),
		cache:     sectionCache,
		publisher: publisher,
		logger:    logger,
	}
}

// GetHighestCompleted returns the highest completed step index, or -1.
func (s *ProgressStore) GetHighestCompleted(userID string, moduleID uint) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.highestLocked(userID, moduleID)
}

func (s *ProgressStore) highestLocked(userID string, moduleID uint) int {
	if v, ok := s.highest[moduleKey{userID, moduleID}]; ok {
		return v
	}
	return -1
}

// MarkCompleted records index as completed and returns the new highest
// completed index. Marking an index at or below the current value is a no-op.
func (s *ProgressStore) MarkCompleted(ctx context.Context, userID string, moduleID uint, index int) int {
	s.mu.Lock()
	previous := s.highestLocked(userID, moduleID)
	if index <= previous {
		s.mu.Unlock()
		return previous
	}
	s.highest[moduleKey{userID, moduleID}] = index
	s.mu.Unlock()

	s.publish(ctx, events.NewProgressEvent(events.EventStepCompleted, userID, events.StepCompletedEvent{
		ModuleID:         moduleID,
		Index:            index,
		PreviousHighest:  previous,
		HighestCompleted: index,
	}))
	return index
}

// ApplyServerProgress raises the local value to the server's. It reports
// whether the local value advanced and what it was before.
func (s *ProgressStore) ApplyServerProgress(userID string, moduleID uint, serverHighest int) (advanced bool, local int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	local = s.highestLocked(userID, moduleID)
	if serverHighest <= local {
		return false, local
	}
	s.highest[moduleKey{userID, moduleID}] = serverHighest
	return true, local
}

// RestoreSectionPrefix raises the section module's highest completed index
// to the longest run of completed sections from the start of the workshop.
func (s *ProgressStore) RestoreSectionPrefix(ctx context.Context, userID string, workshop *models.Workshop) (advanced bool, from, to int) {
	completed := s.CompletedSections(ctx, userID, workshop.ID)
	to = -1
	for i, section := range workshop.Sections {
		if !completed[section.ID] {
			break
		}
		to = i
	}
	if to < 0 {
		return false, -1, to
	}
	advanced, from = s.ApplyServerProgress(userID, workshop.ID, to)
	return advanced, from, to
}

// IsSectionCompleted reports whether the section is completed, loading the
// cached flags of the workshop on first use.
func (s *ProgressStore) IsSectionCompleted(ctx context.Context, userID string, workshopID, sectionID uint) bool {
	s.ensureSectionsLoaded(ctx, userID, workshopID)

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sections[workshopKey{userID, workshopID}][sectionID]
}

// CompletedSections returns a copy of the completed section ids of a workshop.
func (s *ProgressStore) CompletedSections(ctx context.Context, userID string, workshopID uint) map[uint]bool {
	s.ensureSectionsLoaded(ctx, userID, workshopID)

	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySections(s.sections[workshopKey{userID, workshopID}])
}

// MarkSectionCompleted flags the section and writes through to the cache. It
// returns false when the section was already completed; in that case nothing
// is written or published.
func (s *ProgressStore) MarkSectionCompleted(ctx context.Context, userID string, workshopID, sectionID uint) bool {
	if !s.setSection(ctx, userID, workshopID, sectionID) {
		return false
	}

	s.publish(ctx, events.NewProgressEvent(events.EventSectionCompleted, userID, events.SectionCompletedEvent{
		WorkshopID: workshopID,
		SectionID:  sectionID,
	}))
	return true
}

// ApplyServerSection marks a section the server reports as completed. No
// event is published since the change did not originate here.
func (s *ProgressStore) ApplyServerSection(ctx context.Context, userID string, workshopID, sectionID uint) bool {
	return s.setSection(ctx, userID, workshopID, sectionID)
}

func (s *ProgressStore) setSection(ctx context.Context, userID string, workshopID, sectionID uint) bool {
	s.ensureSectionsLoaded(ctx, userID, workshopID)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	key := workshopKey{userID, workshopID}
	s.mu.Lock()
	set := s.sections[key]
	if set == nil {
		set = make(map[uint]bool)
		s.sections[key] = set
	}
	if set[sectionID] {
		s.mu.Unlock()
		return false
	}
	set[sectionID] = true
	snapshot := copySections(set)
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.SetSections(ctx, userID, workshopID, snapshot); err != nil {
			s.logger.Warn("Failed to write section progress to cache",
				"user_id", userID,
				"workshop_id", workshopID,
				"section_id", sectionID,
				"error", err)
		}
	}
	return true
}

// ensureSectionsLoaded merges the cached flags into memory once per workshop.
// A cache failure leaves the in-memory flags as they are.
func (s *ProgressStore) ensureSectionsLoaded(ctx context.Context, userID string, workshopID uint) {
	key := workshopKey{userID, workshopID}
	s.mu.RLock()
	done := s.loaded[key]
	s.mu.RUnlock()
	if done || s.cache == nil {
		return
	}

	cached, err := s.cache.GetSections(ctx, userID, workshopID)
	if err != nil {
		s.logger.Warn("Failed to read section progress from cache",
			"user_id", userID,
			"workshop_id", workshopID,
			"error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded[key] {
		return
	}
	set := s.sections[key]
	if set == nil {
		set = make(map[uint]bool, len(cached))
		s.sections[key] = set
	}
	for id, completed := range cached {
		if completed {
			set[id] = true
		}
	}
	s.loaded[key] = true
}

func (s *ProgressStore) publish(ctx context.Context, event *events.ProgressEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish progress event",
			"event_type", event.Type,
			"user_id", event.UserID,
			"error", err)
	}
}

func copySections(set map[uint]bool) map[uint]bool {
	out := make(map[uint]bool, len(set))
	for id, completed := range set {
		if completed {
			out[id] = true
		}
	}
	return out
}
