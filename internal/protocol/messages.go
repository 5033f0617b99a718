package protocol

import "time"

// SayRequest asks the speaker to queue text for playback.
type SayRequest struct {
	SessionID string  `json:"session_id,omitempty"`
	Text      string  `json:"text"`
	Voice     string  `json:"voice,omitempty"`
	Speed     float64 `json:"speed,omitempty"`
}

// SayAck is the reply to a SayRequest sent with a reply subject.
type SayAck struct {
	RequestID string `json:"request_id,omitempty"`
	Accepted  bool   `json:"accepted"`
	Reason    string `json:"reason,omitempty"`
}

// SpeechDone reports the outcome of a queued request.
type SpeechDone struct {
	RequestID  string    `json:"request_id"`
	SessionID  string    `json:"session_id,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Samples    int       `json:"samples"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// SpeakerStatus is the periodic presence heartbeat of a speaker node.
type SpeakerStatus struct {
	NodeID       string    `json:"node_id"`
	ModelID      string    `json:"model_id"`
	ModelState   string    `json:"model_state"`
	Loads        int64     `json:"loads"`
	QueueDepth   int       `json:"queue_depth"`
	Processed    int64     `json:"processed"`
	LastActivity time.Time `json:"last_activity"`
	Running      bool      `json:"running"`
	Timestamp    time.Time `json:"timestamp"`
}

const (
	SubjectSay          = "speech.say"
	SubjectDone         = "speech.done"
	SubjectStatusPrefix = "speech.status"
)

// StatusSubject returns the heartbeat subject for a node.
func StatusSubject(nodeID string) string {
	return SubjectStatusPrefix + "." + nodeID
}
