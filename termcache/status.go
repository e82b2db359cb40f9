package termcache

import "time"

// Status is the observable state of the cache.
type Status struct {
	Initialized       bool      `json:"initialized"`
	PatternCount      int       `json:"pattern_count"`
	SnapshotAvailable bool      `json:"snapshot_available"`
	Degraded          bool      `json:"degraded"`
	Generation        uint64    `json:"generation"`
	Fingerprint       string    `json:"fingerprint,omitempty"`
	RefreshCount      int64     `json:"refresh_count"`
	FailureCount      int64     `json:"failure_count"`
	LastRefreshAt     time.Time `json:"last_refresh_at,omitempty"`
	LastError         string    `json:"last_error,omitempty"`
	BuildDurationMs   int64     `json:"build_duration_ms"`
}

// State names the lifecycle stage: uninitialized, ready or degraded.
func (s Status) State() string {
	switch {
	case !s.Initialized:
		return "uninitialized"
	case s.Degraded:
		return "degraded"
	default:
		return "ready"
	}
}
