package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// SectionCache stores the completed-section flags of one learner in one
// workshop. The stored layout is a JSON object {"<sectionID>": true} under
// the key progress_{userID}_{workshopID}.
type SectionCache interface {
	GetSections(ctx context.Context, userID string, workshopID uint) (map[uint]bool, error)
	SetSections(ctx context.Context, userID string, workshopID uint, sections map[uint]bool) error
	Clear(ctx context.Context, userID string, workshopID uint) error
}

type sectionCache struct {
	store CacheService
}

// NewSectionCache keeps section flags in store without expiry.
func NewSectionCache(store CacheService) SectionCache {
	return &sectionCache{store: store}
}

// SectionKey returns the cache key for a learner's workshop.
func SectionKey(userID string, workshopID uint) string {
	return fmt.Sprintf("progress_%s_%d", userID, workshopID)
}

func (c *sectionCache) GetSections(ctx context.Context, userID string, workshopID uint) (map[uint]bool, error) {
	var raw map[string]bool
	err := c.store.Get(ctx, SectionKey(userID, workshopID), &raw)
	if errors.Is(err, ErrCacheMiss) {
		return map[uint]bool{}, nil
	}
	if err != nil {
		return nil, err
	}

	sections := make(map[uint]bool, len(raw))
	for k, done := range raw {
		id, err := strconv.ParseUint(k, 10, 64)
		if err != nil {
			// entries written by other clients are skipped
			continue
		}
		if done {
			sections[uint(id)] = true
		}
	}
	return sections, nil
}

func (c *sectionCache) SetSections(ctx context.Context, userID string, workshopID uint, sections map[uint]bool) error {
	raw := make(map[string]bool, len(sections))
	for id, done := range sections {
		if done {
			raw[strconv.FormatUint(uint64(id), 10)] = true
		}
	}
	return c.store.Set(ctx, SectionKey(userID, workshopID), raw, 0)
}

func (c *sectionCache) Clear(ctx context.Context, userID string, workshopID uint) error {
	return c.store.Delete(ctx, SectionKey(userID, workshopID))
}
