package model

import "time"

// AccessStats are the access controller counters.
type AccessStats struct {
	VideoAllowed int `json:"video_allowed"`
	VideoBlocked int `json:"video_blocked"`
	UserAllowed  int `json:"user_allowed"`
	UserBlocked  int `json:"user_blocked"`
	Errors       int `json:"access_errors"`
	Sweeps       int `json:"sweeps"`
	Expired      int `json:"expired_removed"`
	Evicted      int `json:"evicted"`
}

// FilterStats counts leads dropped by each extraction filter.
type FilterStats struct {
	Short         int `json:"short"`
	Agency        int `json:"agency"`
	LowScore      int `json:"low_score"`
	NotDMReady    int `json:"not_dm_ready"`
	LowConfidence int `json:"low_confidence"`
}

// Add accumulates o into f.
func (f *FilterStats) Add(o FilterStats) {
	f.Short += o.Short
	f.Agency += o.Agency
	f.LowScore += o.LowScore
	f.NotDMReady += o.NotDMReady
	f.LowConfidence += o.LowConfidence
}

// ControlStats aggregates every suppressed or skipped condition of a run.
// All fields are always serialized, including zeros.
type ControlStats struct {
	AccessStats

	SkippedVideoCooldown   int `json:"skipped_video_cooldown"`
	SkippedUserCooldown    int `json:"skipped_user_cooldown"`
	SkippedPlatformTimeout int `json:"skipped_platform_timeout"`
	SkippedGlobalTimeout   int `json:"skipped_global_timeout"`
	SkippedCircuitOpen     int `json:"skipped_circuit_open"`
	BlockedPages           int `json:"blocked_pages"`
	NoisePages             int `json:"noise_pages"`
	SearchFailures         int `json:"search_failures"`
	ReadFailures           int `json:"read_failures"`
	ExtractionErrors       int `json:"extraction_errors"`
	PlatformTimeouts       int `json:"platform_timeouts"`

	GlobalTimeout bool `json:"global_timeout"`

	DriverErrors map[string]int `json:"driver_errors"`
	Filtered     FilterStats    `json:"filtered"`
}

// CountDriverError increments the counter for a driver error kind.
func (c *ControlStats) CountDriverError(kind string) {
	if c.DriverErrors == nil {
		c.DriverErrors = make(map[string]int)
	}
	c.DriverErrors[kind]++
}

// RunSummary is produced once per run and written next to the leads.
type RunSummary struct {
	RunID             string        `json:"run_id"`
	StartedAt         time.Time     `json:"started_at"`
	FinishedAt        time.Time     `json:"finished_at"`
	DurationSecs      float64       `json:"duration_secs"`
	Platforms         []string      `json:"platforms"`
	Keywords          []string      `json:"keywords"`
	States            []string      `json:"states"`
	TimedOutPlatforms []string      `json:"timed_out_platforms"`
	PostsFound        int           `json:"posts_found"`
	PostsRead         int           `json:"posts_read"`
	LeadsRaw          int           `json:"leads_raw"`
	LeadsTotal        int           `json:"leads_total"`
	LeadsInserted     int           `json:"leads_inserted"`
	Grades            map[Grade]int `json:"grades"`
	Stages            map[Stage]int `json:"stages"`
	Control           ControlStats  `json:"control_stats"`
}

// Tally fills the grade and stage histograms from leads.
func (s *RunSummary) Tally(leads []Lead) {
	s.Grades = map[Grade]int{GradeS: 0, GradeA: 0, GradeB: 0, GradeC: 0}
	s.Stages = map[Stage]int{StageHot: 0, StageWarm: 0, StageNurture: 0, StageCold: 0}
	for _, l := range leads {
		s.Grades[l.Grade]++
		s.Stages[l.Stage]++
	}
	s.LeadsTotal = len(leads)
}
