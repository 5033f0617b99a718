package speech

import (
	"time"
)

// Request is one utterance waiting for synthesis. It is immutable once queued.
type Request struct {
	ID       string
	Text     string
	Voice    string
	Speed    float64
	QueuedAt time.Time
}

type OutcomeStatus string

const (
	StatusPlayed    OutcomeStatus = "played"
	StatusFailed    OutcomeStatus = "failed"
	StatusAborted   OutcomeStatus = "aborted"
	StatusDiscarded OutcomeStatus = "discarded"
)

// Outcome reports how a request left the pipeline.
type Outcome struct {
	Request      Request
	Status       OutcomeStatus
	Err          error
	Samples      int
	GenerateTime time.Duration
	PlayTime     time.Duration
	FinishedAt   time.Time
}

// PlayMillis is the playback time rounded to whole milliseconds, the unit
// used on the bus and in the journal.
func (o Outcome) PlayMillis() int64 {
	return o.PlayTime.Round(time.Millisecond).Milliseconds()
}

// Listener observes outcomes. Listeners run on the worker goroutine and
// must not block.
type Listener func(Outcome)

// Status is a point-in-time view of a pipeline.
type Status struct {
	ModelID      string    `json:"model_id"`
	ModelState   string    `json:"model_state"`
	Loads        int64     `json:"loads"`
	Unloads      int64     `json:"unloads"`
	QueueDepth   int       `json:"queue_depth"`
	Outstanding  int       `json:"outstanding"`
	Processed    int64     `json:"processed"`
	LastActivity time.Time `json:"last_activity"`
	Running      bool      `json:"running"`
}
