package model

import "github.com/pkg/errors"

var (
	ErrSessionExists     = errors.New("session already exists")
	ErrSessionRunning    = errors.New("session is running")
	ErrSessionNotRunning = errors.New("session is not running")
	ErrPortTaken         = errors.New("port is already used by another session")
)

// SessionView is what the admin API reports about one configured session.
type SessionView struct {
	SessionID  string  `json:"sessionId"`
	Name       string  `json:"name"`
	Port       int     `json:"port"`
	WebhookURL string  `json:"webhookUrl,omitempty"`
	Running    bool    `json:"running"`
	Status     Status  `json:"status"`
	IsReady    bool    `json:"isReady"`
	QRArtifact *string `json:"qrArtifact"`
}

// NewSessionView combines a session's configuration with its live snapshot.
func NewSessionView(rec SessionRecord, snap *Snapshot) SessionView {
	v := SessionView{
		SessionID:  rec.SessionID,
		Name:       rec.Name,
		Port:       rec.Port,
		WebhookURL: rec.WebhookURL,
		Status:     StatusStopped,
	}
	// a session that failed to initialize keeps reporting error until restarted
	if rec.Status == StatusError {
		v.Status = StatusError
	}
	if snap != nil {
		resp := snap.Response()
		v.Running = true
		v.Status = resp.Status
		v.IsReady = resp.IsReady
		v.QRArtifact = resp.QRArtifact
	}
	return v
}
