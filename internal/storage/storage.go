// Package storage defines the scrape cache. Backends keep the raw payload a
// provider returned for a profile URL so repeated runs against the same
// person do not relaunch remote jobs. Pipeline reports are never stored.
package storage

import (
	"context"
	"time"
)

// Entry is one cached scrape payload.
type Entry struct {
	ID             string    `json:"id"`
	ProfileURL     string    `json:"profile_url"`
	Provider       string    `json:"provider"`
	JobID          string    `json:"job_id"`
	ResultLocation string    `json:"result_location"`
	Payload        []byte    `json:"payload"`
	CreatedAt      time.Time `json:"created_at"`
}

// Filter selects cache entries. Zero fields match everything.
type Filter struct {
	ProfileURL string
	Provider   string
	Since      *time.Time
	Limit      int
	Offset     int
}

// Backend stores and retrieves cache entries. Query returns newest first.
type Backend interface {
	Save(ctx context.Context, entry *Entry) error
	Query(ctx context.Context, filter Filter) ([]*Entry, error)
	// Prune deletes entries created before cutoff and reports how many went.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// Match reports whether e satisfies f, ignoring Limit and Offset. Backends
// without a query engine filter with it.
func (f Filter) Match(e *Entry) bool {
	if f.ProfileURL != "" && e.ProfileURL != f.ProfileURL {
		return false
	}
	if f.Provider != "" && e.Provider != f.Provider {
		return false
	}
	if f.Since != nil && e.CreatedAt.Before(*f.Since) {
		return false
	}
	return true
}

// Page applies Offset and Limit to an already ordered slice.
func (f Filter) Page(entries []*Entry) []*Entry {
	if f.Offset > 0 {
		if f.Offset >= len(entries) {
			return []*Entry{}
		}
		entries = entries[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(entries) {
		entries = entries[:f.Limit]
	}
	return entries
}
