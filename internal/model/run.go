package model

import "time"

// RunStatus represents the current state of a veto job.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one veto job over a set of event files.
type Run struct {
	ID          string    `json:"id"`
	Profile     string    `json:"profile,omitempty"`
	Era         string    `json:"era"`
	Correction  string    `json:"correction"`
	Mode        string    `json:"mode"`
	IsMC        bool      `json:"is_mc"`
	Branch      string    `json:"branch"`
	BranchTitle string    `json:"branch_title,omitempty"`
	Status      RunStatus `json:"status"`
	Error       string    `json:"error,omitempty"`
	Files       int       `json:"files"`
	EventsRead  int64     `json:"events_read"`
	EventsKept  int64     `json:"events_kept"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FileStats summarises one processed event file.
type FileStats struct {
	Input         string        `json:"input"`
	Output        string        `json:"output"`
	EventsRead    int64         `json:"events_read"`
	EventsKept    int64         `json:"events_kept"`
	EventsDropped int64         `json:"events_dropped"`
	JetsVetoed    int64         `json:"jets_vetoed"`
	Lookups       int64         `json:"lookups"`
	Duration      time.Duration `json:"duration"`
}

// Summary aggregates file statistics for a run.
type Summary struct {
	Files []FileStats `json:"files"`
}

// EventsRead returns the total number of events read.
func (s Summary) EventsRead() int64 {
	var n int64
	for _, f := range s.Files {
		n += f.EventsRead
	}
	return n
}

// EventsKept returns the total number of events kept.
func (s Summary) EventsKept() int64 {
	var n int64
	for _, f := range s.Files {
		n += f.EventsKept
	}
	return n
}

// JetsVetoed returns the total number of flagged jets.
func (s Summary) JetsVetoed() int64 {
	var n int64
	for _, f := range s.Files {
		n += f.JetsVetoed
	}
	return n
}

// EventRow is the veto outcome for one event.
type EventRow struct {
	File     string `json:"file"`
	Entry    int64  `json:"entry"`
	Run      uint32 `json:"run"`
	Lumi     uint32 `json:"lumi"`
	Event    uint64 `json:"event"`
	Keep     bool   `json:"keep"`
	Flag     int    `json:"flag"`
	JetFlags []int  `json:"jet_flags,omitempty"`
}
