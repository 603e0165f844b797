package domain

import "time"

// Direction is the copy direction of a job.
type Direction string

const (
	// DirectionLocalize copies network -> local.
	DirectionLocalize Direction = "localize"
	// DirectionUpload copies local -> network.
	DirectionUpload Direction = "upload"
)

// Valid reports whether the direction is one of the two known values.
func (d Direction) Valid() bool {
	return d == DirectionLocalize || d == DirectionUpload
}

// Verb returns the progress-message verb for the direction.
func (d Direction) Verb() string {
	if d == DirectionUpload {
		return "Uploading"
	}
	return "Copying"
}

// UsageKind identifies how a cache item was referenced.
type UsageKind string

const (
	UsageWorkflow UsageKind = "workflow"
	UsageLocalize UsageKind = "localize"
	UsageUpload   UsageKind = "upload"
)

// ItemStatus classifies a cache item's cross-storage state.
type ItemStatus string

const (
	StatusOK             ItemStatus = "ok"
	StatusDifferentSize  ItemStatus = "different_size"
	StatusMissingLocal   ItemStatus = "missing_local"
	StatusMissingNetwork ItemStatus = "missing_network"
	StatusMissingBoth    ItemStatus = "missing_both"
)

// ItemRef identifies a model file as (category, relpath).
// Relpath is POSIX-relative, forward-slash normalized, no ".." or empty
// segments.
type ItemRef struct {
	Category string `json:"category"`
	Relpath  string `json:"relpath"`
}

// Key returns the usage-store key for the item.
func (r ItemRef) Key() string {
	return r.Category + "/" + r.Relpath
}

// CacheItem describes one model file on both storage sides.
type CacheItem struct {
	Category      string     `json:"category"`
	Relpath       string     `json:"relpath"`
	LocalPath     string     `json:"local_path,omitempty"`
	NetworkPath   string     `json:"network_path,omitempty"`
	LocalExists   bool       `json:"local_exists"`
	NetworkExists bool       `json:"network_exists"`
	LocalSize     *int64     `json:"local_size_bytes"`
	NetworkSize   *int64     `json:"network_size_bytes"`
	Status        ItemStatus `json:"status"`
}

// Ref returns the item's (category, relpath) identity.
func (c *CacheItem) Ref() ItemRef {
	return ItemRef{Category: c.Category, Relpath: c.Relpath}
}

// ClassifyStatus derives the cross-storage status from existence and sizes.
func ClassifyStatus(localExists, networkExists bool, localSize, networkSize *int64) ItemStatus {
	switch {
	case localExists && networkExists:
		if localSize == nil || networkSize == nil || *localSize != *networkSize {
			return StatusDifferentSize
		}
		return StatusOK
	case networkExists:
		return StatusMissingLocal
	case localExists:
		return StatusMissingNetwork
	default:
		return StatusMissingBoth
	}
}

// UsageRecord tracks how often and how recently an item was referenced.
// Counters only ever increase; timestamps are Unix seconds.
type UsageRecord struct {
	WorkflowHits uint64 `json:"workflow_hits"`
	LocalizeHits uint64 `json:"localize_hits"`
	LastSeen     int64  `json:"last_seen"`
	LastLocalize int64  `json:"last_localize"`
}

// LastUsed returns the most recent reference time, zero when never recorded.
func (u UsageRecord) LastUsed() int64 {
	if u.LastLocalize > u.LastSeen {
		return u.LastLocalize
	}
	return u.LastSeen
}

// Hits returns the combined hit count used for cache-list ordering.
func (u UsageRecord) Hits() uint64 {
	return u.WorkflowHits + u.LocalizeHits
}

// Settings are the process-wide persisted cache settings.
type Settings struct {
	AutoDeleteEnabled bool  `json:"auto_delete_enabled"`
	MaxCacheBytes     int64 `json:"max_cache_bytes"`
}

// DefaultSettings returns the documented defaults: auto-delete off,
// 200 GiB cache budget.
func DefaultSettings() Settings {
	return Settings{
		AutoDeleteEnabled: false,
		MaxCacheBytes:     200 * 1024 * 1024 * 1024,
	}
}

// JobState is the lifecycle state of a copy job.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobDone      JobState = "done"
	JobError     JobState = "error"
	JobCancelled JobState = "cancelled"
)

// Terminal reports whether the state is final.
func (s JobState) Terminal() bool {
	return s == JobDone || s == JobError || s == JobCancelled
}

// ErrorKind is a stable machine-readable failure classification carried
// alongside a failed job's message.
type ErrorKind string

const (
	ErrKindNone           ErrorKind = ""
	ErrKindConfig         ErrorKind = "config"
	ErrKindMissingSource  ErrorKind = "missing_source"
	ErrKindSizeUnreadable ErrorKind = "size_unreadable"
	ErrKindIO             ErrorKind = "io"
	ErrKindCancelled      ErrorKind = "cancelled"
)

// Job is a batch copy job. Owned by the job manager; mutated only by the
// single worker and read concurrently through snapshot copies.
type Job struct {
	ID              string    `json:"id"`
	CreatedAt       time.Time `json:"created_at"`
	State           JobState  `json:"state"`
	Items           []ItemRef `json:"items"`
	Overwrite       bool      `json:"overwrite"`
	Direction       Direction `json:"direction"`
	BytesDone       int64     `json:"bytes_done"`
	BytesTotal      int64     `json:"bytes_total"`
	CurrentItem     *ItemRef  `json:"current_item"`
	Message         string    `json:"message"`
	ErrorKind       ErrorKind `json:"error_kind,omitempty"`
	CancelRequested bool      `json:"-"`
}

// Clone returns a snapshot copy safe to use outside the manager's lock.
func (j *Job) Clone() *Job {
	c := *j
	c.Items = append([]ItemRef(nil), j.Items...)
	if j.CurrentItem != nil {
		cur := *j.CurrentItem
		c.CurrentItem = &cur
	}
	return &c
}

// Percent returns the completion percentage, capped at 100.
func (j *Job) Percent() float64 {
	if j.BytesTotal <= 0 {
		return 0
	}
	p := float64(j.BytesDone) / float64(j.BytesTotal) * 100
	if p > 100 {
		return 100
	}
	return p
}

// PrunedItem is one file removed by an eviction run.
type PrunedItem struct {
	Category string `json:"category"`
	Relpath  string `json:"relpath"`
	Bytes    int64  `json:"bytes"`
}

// PruneResult summarizes one eviction run.
type PruneResult struct {
	Removed     []PrunedItem `json:"removed"`
	BytesBefore int64        `json:"bytes_before"`
	BytesAfter  int64        `json:"bytes_after"`
	BytesFreed  int64        `json:"bytes_freed"`
}
