package live

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/camlog/internal/events"
	"github.com/smazurov/camlog/internal/logging"
)

func (s *Server) registerEventRoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Session Events",
		Description: "Worker state changes, session start and stop, camera startup failures",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"worker-state-changed":  events.WorkerStateChangedEvent{},
		"session-started":       events.SessionStartedEvent{},
		"session-stopped":       events.SessionStoppedEvent{},
		"camera-startup-failed": events.CameraStartupFailedEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 32)
		unsubscribe := events.SubscribeSessionEvents(s.options.Bus, eventCh)
		defer unsubscribe()

		forward(ctx, eventCh, send)
	})
}

// LogStreamInput lets a reconnecting client skip lines it already has.
type LogStreamInput struct {
	Since  uint64 `query:"since" doc:"Only replay lines with a larger sequence number"`
	Module string `query:"module" doc:"Only lines from this module"`
}

func (in *LogStreamInput) keep(module string) bool {
	return in.Module == "" || in.Module == module
}

func (s *Server) registerLogRoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "logs-stream",
		Method:      http.MethodGet,
		Path:        "/api/logs/stream",
		Summary:     "Log Stream",
		Description: "Sends buffered log lines first, then streams new ones",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"message": events.LogEntryEvent{},
	}, func(ctx context.Context, input *LogStreamInput, send sse.Sender) {
		// Subscribe before replaying so nothing falls between the two
		eventCh := make(chan any, 100)
		unsubscribe := events.SubscribeFiltered(s.options.Bus, eventCh, func(e events.LogEntryEvent) bool {
			return input.keep(e.Module)
		})
		defer unsubscribe()

		lastSeq := input.Since
		if buffer := logging.GetBuffer(); buffer != nil {
			for _, entry := range buffer.Since(input.Since) {
				lastSeq = entry.Seq
				if !input.keep(entry.Module) {
					continue
				}
				if err := send.Data(LogEntryEvent(entry)); err != nil {
					return
				}
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-eventCh:
				if entry, ok := ev.(events.LogEntryEvent); ok && entry.Seq != 0 && entry.Seq <= lastSeq {
					continue
				}
				if err := send.Data(ev); err != nil {
					return
				}
			}
		}
	})
}

// LogEntryEvent converts a buffered log line to its event form.
func LogEntryEvent(entry logging.LogEntry) events.LogEntryEvent {
	return events.LogEntryEvent{
		Seq:        entry.Seq,
		Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
		Level:      entry.Level,
		Module:     entry.Module,
		Message:    entry.Message,
		Attributes: entry.Attributes,
	}
}

func forward(ctx context.Context, eventCh <-chan any, send sse.Sender) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-eventCh:
			if err := send.Data(ev); err != nil {
				return
			}
		}
	}
}

func (s *Server) registerLevelRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-log-levels",
		Method:      http.MethodGet,
		Path:        "/api/logs/levels",
		Summary:     "Log Levels",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*LogLevelsResponse, error) {
		resp := &LogLevelsResponse{}
		resp.Body.Levels = logging.Levels()
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-log-level",
		Method:      http.MethodPut,
		Path:        "/api/logs/levels/{module}",
		Summary:     "Set Log Level",
		Description: "Changes a module's level until the next restart",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{400, 401},
	}, func(_ context.Context, input *SetLogLevelInput) (*LogLevelsResponse, error) {
		module := input.Module
		if module == "global" {
			module = ""
		}
		if err := logging.SetLevel(module, input.Body.Level); err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}
		s.logger.Info("Log level changed", "target", input.Module, "level", input.Body.Level)
		resp := &LogLevelsResponse{}
		resp.Body.Levels = logging.Levels()
		return resp, nil
	})
}
