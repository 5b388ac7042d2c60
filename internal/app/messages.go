package app

import (
	"fmt"
	"time"

	"github.com/brensch/tenderscan/internal/orchestrator"
)

// TenderProgressMsg carries one coordinator observation into the UI.
type TenderProgressMsg struct {
	orchestrator.Progress
	At time.Time
}

// RunFinishedMsg signals the end of the pipeline run.
type RunFinishedMsg struct {
	Summary   orchestrator.Summary
	Err       error
	StartTime time.Time
	EndTime   time.Time
}

// GeneralErrorMsg signals an error that is not tied to a tender.
type GeneralErrorMsg struct {
	Err error
}

func NewTenderProgress(p orchestrator.Progress) TenderProgressMsg {
	return TenderProgressMsg{Progress: p, At: time.Now()}
}

func NewRunFinished(s orchestrator.Summary, start time.Time, err error) RunFinishedMsg {
	return RunFinishedMsg{Summary: s, Err: err, StartTime: start, EndTime: time.Now()}
}

func NewError(err error) GeneralErrorMsg {
	return GeneralErrorMsg{Err: err}
}

func (e GeneralErrorMsg) Error() string { return e.Err.Error() }

func (r RunFinishedMsg) Error() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	return ""
}

func (t TenderProgressMsg) String() string {
	return fmt.Sprintf("TenderProgress %s: %s", t.Key, t.Stage)
}
func (r RunFinishedMsg) String() string {
	return fmt.Sprintf("RunFinished %d/%d succeeded", r.Summary.Succeeded, r.Summary.Total)
}
func (e GeneralErrorMsg) String() string { return fmt.Sprintf("GeneralError: %s", e.Err) }
