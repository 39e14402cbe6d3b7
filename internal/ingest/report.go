package ingest

import "time"

// Outcome is what a sweep did with one candidate file.
type Outcome string

const (
	OutcomeImported  Outcome = "imported"
	OutcomeRecovered Outcome = "recovered"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// ReasonAlreadyImported marks a file whose session was terminated by an
// earlier sweep that did not get to write the done marker.
const ReasonAlreadyImported = "already_imported"

// Failure stages, also used as the files_failed_total label.
const (
	StageClassify = "classify"
	StageRecreate = "recreate"
	StageLock     = "lock"
	StageSession  = "session"
	StageRead     = "read"
	StageIngest   = "ingest"
	StageFinish   = "finish"
	StageCanceled = "canceled"
)

// FileResult describes the handling of one file in a sweep.
type FileResult struct {
	Path      string        `json:"path"`
	Outcome   Outcome       `json:"outcome"`
	Reason    string        `json:"reason,omitempty"`
	Stage     string        `json:"stage,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	Read      int64         `json:"read"`
	Kept      int64         `json:"kept"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Report summarizes one sweep. Imported counts every file that reached the
// done state, Recovered the subset that was re-imported after a stale lock.
type Report struct {
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Found      int          `json:"found"`
	Imported   int          `json:"imported"`
	Recovered  int          `json:"recovered"`
	Skipped    int          `json:"skipped"`
	Failed     int          `json:"failed"`
	Files      []FileResult `json:"files"`
	Error      string       `json:"error,omitempty"`
}

func (r *Report) add(fr FileResult) {
	switch fr.Outcome {
	case OutcomeImported:
		r.Imported++
	case OutcomeRecovered:
		r.Imported++
		r.Recovered++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	}
	r.Files = append(r.Files, fr)
}

func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
