package model

import (
	"encoding/json"
	"fmt"
)

// Status is the connection lifecycle state of one session.
type Status int

const (
	StatusDisconnected Status = iota
	StatusQRReady
	StatusAuthenticated
	StatusReady
	StatusAuthFailure
	StatusError
	StatusStopped
)

var statusNames = [...]string{
	StatusDisconnected:  "disconnected",
	StatusQRReady:       "qr_ready",
	StatusAuthenticated: "authenticated",
	StatusReady:         "ready",
	StatusAuthFailure:   "auth_failure",
	StatusError:         "error",
	StatusStopped:       "stopped",
}

// AllStatuses lists every status in declaration order.
var AllStatuses = []Status{
	StatusDisconnected,
	StatusQRReady,
	StatusAuthenticated,
	StatusReady,
	StatusAuthFailure,
	StatusError,
	StatusStopped,
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

// Terminal reports whether no transition leaves this state without a restart.
func (s Status) Terminal() bool {
	return s == StatusError || s == StatusStopped
}

func ParseStatus(v string) (Status, error) {
	for i, name := range statusNames {
		if name == v {
			return Status(i), nil
		}
	}
	return StatusDisconnected, fmt.Errorf("unknown status %q", v)
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	parsed, err := ParseStatus(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Snapshot is a consistent read of a session's state.
// IsReady is not stored: it is always derived from Status.
type Snapshot struct {
	SessionID  string
	Status     Status
	QRArtifact string
}

func (s Snapshot) IsReady() bool {
	return s.Status == StatusReady
}

// StatusResponse is the wire shape of GET /status.
type StatusResponse struct {
	SessionID  string  `json:"sessionId"`
	Status     Status  `json:"status"`
	IsReady    bool    `json:"isReady"`
	QRArtifact *string `json:"qrArtifact"`
}

func (s Snapshot) Response() StatusResponse {
	resp := StatusResponse{
		SessionID: s.SessionID,
		Status:    s.Status,
		IsReady:   s.IsReady(),
	}
	if s.QRArtifact != "" {
		qr := s.QRArtifact
		resp.QRArtifact = &qr
	}
	return resp
}
