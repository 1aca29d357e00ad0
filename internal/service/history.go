package service

import (
	"sort"
	"sync"
	"time"

	"github.com/iago/imagegen-back/internal/domain"
)

// HistoryEntry is one observed job state, kept for the admin view after the
// retention sweep has deleted the row itself.
type HistoryEntry struct {
	JobID        string           `json:"job_id"`
	SubjectRef   string           `json:"subject_ref"`
	Status       domain.JobStatus `json:"status"`
	ErrorMessage string           `json:"error,omitempty"`
	RecordedAt   time.Time        `json:"recorded_at"`

	expiresAt time.Time
}

type HistoryConfig struct {
	TTL        time.Duration
	MaxEntries int
}

// History keeps a bounded, TTL-pruned record of recent job states. One entry
// per job and status, so a job reappears when it transitions.
type History struct {
	mu         sync.RWMutex
	entries    map[string]HistoryEntry
	ttl        time.Duration
	maxEntries int
}

func NewHistory(config HistoryConfig) *History {
	if config.TTL <= 0 {
		config.TTL = 30 * time.Minute
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 200
	}
	return &History{
		entries:    make(map[string]HistoryEntry),
		ttl:        config.TTL,
		maxEntries: config.MaxEntries,
	}
}

func (h *History) Record(job *domain.Job) {
	now := time.Now().UTC()
	entry := HistoryEntry{
		JobID:        job.ID,
		SubjectRef:   job.SubjectRef,
		Status:       job.Status,
		ErrorMessage: job.ErrorMessage,
		RecordedAt:   now,
		expiresAt:    now.Add(h.ttl),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	key := job.ID + "|" + string(job.Status)
	if _, exists := h.entries[key]; !exists && len(h.entries) >= h.maxEntries {
		h.evictOldest()
	}
	h.entries[key] = entry
}

// Recent returns non-expired entries, newest first.
func (h *History) Recent() []HistoryEntry {
	now := time.Now().UTC()

	h.mu.Lock()
	recent := make([]HistoryEntry, 0, len(h.entries))
	for key, entry := range h.entries {
		if now.After(entry.expiresAt) {
			delete(h.entries, key)
			continue
		}
		recent = append(recent, entry)
	}
	h.mu.Unlock()

	sort.Slice(recent, func(i, j int) bool {
		return recent[i].RecordedAt.After(recent[j].RecordedAt)
	})
	return recent
}

func (h *History) evictOldest() {
	var oldestKey string
	var oldestAt time.Time
	for key, entry := range h.entries {
		if oldestKey == "" || entry.RecordedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = entry.RecordedAt
		}
	}
	if oldestKey != "" {
		delete(h.entries, oldestKey)
	}
}
