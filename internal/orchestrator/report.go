package orchestrator

import (
	"fmt"
	"time"

	"github.com/brensch/tenderscan/internal/tender"
)

// Outcome is how a tender run ended.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
	OutcomeLocked    Outcome = "already-locked"
)

// Report summarises one tender run.
type Report struct {
	Key        tender.Ref
	Worker     string
	Outcome    Outcome
	Reason     string // why the tender was skipped or failed
	Matches    int
	Percentage float64
	Documents  int
	FileErrors int
	Bytes      int64
	Duration   time.Duration
	Err        error
}

func (r Report) String() string {
	s := fmt.Sprintf("%s %s", r.Key, r.Outcome)
	if r.Reason != "" {
		s += " (" + r.Reason + ")"
	}
	if r.Outcome == OutcomeSucceeded {
		s += fmt.Sprintf(": %d matches, %.0f%%, %d documents, %d file errors", r.Matches, r.Percentage, r.Documents, r.FileErrors)
	}
	return s
}

// Summary counts the outcomes of a Run.
type Summary struct {
	Total     int
	Succeeded int
	Skipped   int
	Failed    int
	Locked    int
	Reports   []Report
}

func (s *Summary) add(r Report) {
	s.Reports = append(s.Reports, r)
	switch r.Outcome {
	case OutcomeSucceeded:
		s.Succeeded++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeFailed:
		s.Failed++
	case OutcomeLocked:
		s.Locked++
	}
}
