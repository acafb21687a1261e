package live

import (
	"sort"
	"strconv"
	"time"

	"github.com/smazurov/camlog/internal/recorder"
)

type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"recording" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

type VersionData struct {
	Version   string `json:"version" example:"1.2.0" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"a1b2c3d" doc:"Git commit hash"`
	BuildDate string `json:"build_date" example:"2025-01-27T10:30:00Z" doc:"Build timestamp"`
	BuildID   string `json:"build_id" doc:"Build identifier"`
	GoVersion string `json:"go_version" example:"go1.24.11" doc:"Go runtime version"`
	Compiler  string `json:"compiler" example:"gc" doc:"Go compiler"`
	Platform  string `json:"platform" example:"linux/arm64" doc:"OS and architecture"`
	Library   string `json:"library" example:"camlog/1.2.0" doc:"Writer name recorded in journal headers"`
}

type VersionResponse struct {
	Body VersionData
}

// WorkerData describes one capture worker.
type WorkerData struct {
	Index          int       `json:"index" example:"0" doc:"Camera index"`
	Topic          string    `json:"topic" example:"/camera/0/image/compressed" doc:"Journal topic"`
	State          string    `json:"state" example:"running" enum:"starting,running,draining,stopped" doc:"Worker state"`
	StartedAt      time.Time `json:"started_at" doc:"When the worker started"`
	Frames         uint64    `json:"frames" example:"1800" doc:"Records written"`
	Bytes          uint64    `json:"bytes" example:"18342000" doc:"Payload bytes written"`
	LastIdentifier string    `json:"last_identifier,omitempty" example:"pts:1000" doc:"Identifier of the last record"`
	LastError      string    `json:"last_error,omitempty" doc:"Error that stopped the worker"`
}

// SessionData describes the current recording session.
type SessionData struct {
	Active        bool              `json:"active" doc:"Whether a session is recording"`
	SessionID     string            `json:"session_id,omitempty" doc:"Capture session identifier"`
	Path          string            `json:"path,omitempty" example:"recordings/camlog_20250127-103000_0-1.mcap" doc:"Journal file"`
	StartedAt     *time.Time        `json:"started_at,omitempty" doc:"Session start time"`
	Workers       []WorkerData      `json:"workers" doc:"Capture workers ordered by camera index"`
	StartupErrors map[string]string `json:"startup_errors,omitempty" doc:"Cameras that failed to start, keyed by index"`
}

type SessionResponse struct {
	Body SessionData
}

type TopicsData struct {
	Topics []string `json:"topics" doc:"Topics with a live worker"`
}

type TopicsResponse struct {
	Body TopicsData
}

func sessionData(status recorder.Status) SessionData {
	data := SessionData{
		Active:    status.Active,
		SessionID: status.SessionID,
		Path:      status.Path,
		Workers:   make([]WorkerData, 0, len(status.Workers)),
	}
	if !status.StartedAt.IsZero() {
		started := status.StartedAt
		data.StartedAt = &started
	}

	for _, w := range status.Workers {
		wd := WorkerData{
			Index:          int(w.Index),
			Topic:          w.Topic,
			State:          string(w.State),
			StartedAt:      w.StartedAt,
			Frames:         w.Frames,
			Bytes:          w.Bytes,
			LastIdentifier: w.LastIdentifier,
		}
		if w.LastError != nil {
			wd.LastError = w.LastError.Error()
		}
		data.Workers = append(data.Workers, wd)
	}
	sort.Slice(data.Workers, func(i, j int) bool {
		return data.Workers[i].Index < data.Workers[j].Index
	})

	if len(status.StartupErrors) > 0 {
		data.StartupErrors = make(map[string]string, len(status.StartupErrors))
		for index, msg := range status.StartupErrors {
			data.StartupErrors[strconv.Itoa(int(index))] = msg
		}
	}
	return data
}

type LogLevelsResponse struct {
	Body struct {
		Levels map[string]string `json:"levels" doc:"Effective level per module"`
	}
}

type SetLogLevelInput struct {
	Module string `path:"module" doc:"Module name, or \"global\" for the default level"`
	Body   struct {
		Level string `json:"level" enum:"debug,info,warn,error" doc:"New level"`
	}
}
