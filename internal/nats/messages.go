package nats

import (
	"encoding/json"
	"fmt"
)

// Subject prefixes.
const (
	SubjectPrefix         = "camlog"
	SubjectSessionStarted = SubjectPrefix + ".sessions.started"
	SubjectSessionStopped = SubjectPrefix + ".sessions.stopped"
	SubjectControlRestart = SubjectPrefix + ".control.restart"
)

// SubjectCameraState is where a camera's worker transitions are published.
func SubjectCameraState(camera int) string {
	return fmt.Sprintf("%s.cameras.%d.state", SubjectPrefix, camera)
}

// SubjectCameraStartupFailed is where a camera's startup failure is published.
func SubjectCameraStartupFailed(camera int) string {
	return fmt.Sprintf("%s.cameras.%d.startup_failed", SubjectPrefix, camera)
}

// ActionRestart asks the recorder to restart its session.
const ActionRestart = "restart"

// ControlMessage is a command sent to a running recorder.
type ControlMessage struct {
	Action    string `json:"action"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// ControlReply answers a ControlMessage sent as a request.
type ControlReply struct {
	OK        bool   `json:"ok"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// UnmarshalControl decodes a ControlMessage.
func UnmarshalControl(data []byte) (ControlMessage, error) {
	var m ControlMessage
	err := json.Unmarshal(data, &m)
	return m, err
}
