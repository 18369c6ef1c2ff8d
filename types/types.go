package types

// ---- Service state (retained) ----

type ServiceState struct {
	Level  string `json:"level"`  // "up", "degraded", "error", "idle"
	Status string `json:"status"` // short machine string
	TSms   int64  `json:"ts_ms"`
	Error  string `json:"error,omitempty"`
}

// HeartbeatConfig is the retained config/heartbeat payload.
type HeartbeatConfig struct {
	IntervalS float64 `json:"interval"`
}

// Link is the health reported for a peripheral.
type Link string

const (
	LinkUp       Link = "up"
	LinkDown     Link = "down"
	LinkDegraded Link = "degraded"
)

// Generic replies
type Reply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func OKReply() Reply               { return Reply{OK: true} }
func ErrorReply(code string) Reply { return Reply{OK: false, Error: code} }
