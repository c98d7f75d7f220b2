// Package manifestgroup holds the tenant-facing capacity/priority
// bucket used for the per-group limit in the dispatcher (C4).
package manifestgroup

import (
	"errors"
	"time"
)

var ErrGroupNotFound = errors.New("manifest group not found")

// ManifestGroup is a capacity/priority bucket, per spec.md §3: "name
// (unique), priority (signed small int, higher = first),
// max_active_jobs (optional positive int), is_enabled."
type ManifestGroup struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Priority      int       `json:"priority"`
	MaxActiveJobs *int      `json:"maxActiveJobs,omitempty"`
	IsEnabled     bool      `json:"isEnabled"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type CreateRequest struct {
	Name          string
	Priority      int
	MaxActiveJobs *int
	IsEnabled     *bool
}

// New applies the defaults spec.md §3 lists for manifest_group: an
// unset max_active_jobs means unlimited within the group (only the
// dispatcher's global cap applies), and a freshly auto-created group
// is enabled.
func New(req CreateRequest) ManifestGroup {
	now := time.Now().UTC()

	enabled := true
	if req.IsEnabled != nil {
		enabled = *req.IsEnabled
	}

	return ManifestGroup{
		Name:          req.Name,
		Priority:      req.Priority,
		MaxActiveJobs: req.MaxActiveJobs,
		IsEnabled:     enabled,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Unlimited reports whether this group has no group-local cap, leaving
// only the dispatcher's global limit in effect.
func (g ManifestGroup) Unlimited() bool {
	return g.MaxActiveJobs == nil
}
