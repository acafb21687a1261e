package nats

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/smazurov/camlog/internal/events"
)

// RestartFunc restarts the current session and returns the new session id.
type RestartFunc func(reason string) (sessionID string, err error)

// Relay publishes session and worker events to NATS and serves restart
// requests. Frames and logs stay local.
type Relay struct {
	url       string
	bus       *events.Bus
	onRestart RestartFunc
	logger    *slog.Logger

	mu     sync.Mutex
	conn   *nats.Conn
	sub    *nats.Subscription
	unsubs []func()
}

// NewRelay creates a relay. onRestart may be nil to ignore control requests.
func NewRelay(url string, bus *events.Bus, onRestart RestartFunc, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		url:       url,
		bus:       bus,
		onRestart: onRestart,
		logger:    logger.With("component", "nats-relay"),
	}
}

// Start connects and begins relaying. Reconnects happen in the background.
func (r *Relay) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, err := nats.Connect(r.url,
		nats.Name("camlog"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				r.logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			r.logger.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("connect to NATS at %s: %w", r.url, err)
	}
	r.conn = conn

	if r.onRestart != nil {
		sub, err := conn.Subscribe(SubjectControlRestart, r.handleControl)
		if err != nil {
			conn.Close()
			r.conn = nil
			return fmt.Errorf("subscribe %s: %w", SubjectControlRestart, err)
		}
		r.sub = sub
	}

	r.unsubs = append(r.unsubs,
		r.bus.Subscribe(func(e events.WorkerStateChangedEvent) {
			r.publish(SubjectCameraState(e.Camera), e)
		}),
		r.bus.Subscribe(func(e events.CameraStartupFailedEvent) {
			r.publish(SubjectCameraStartupFailed(e.Camera), e)
		}),
		r.bus.Subscribe(func(e events.SessionStartedEvent) {
			r.publish(SubjectSessionStarted, e)
		}),
		r.bus.Subscribe(func(e events.SessionStoppedEvent) {
			r.publish(SubjectSessionStopped, e)
		}),
	)

	r.logger.Info("NATS relay connected", "url", r.url)
	return nil
}

// publish is fire-and-forget. Failures are logged and dropped.
func (r *Relay) publish(subject string, v any) {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil || !conn.IsConnected() {
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		r.logger.Warn("Failed to marshal event", "subject", subject, "error", err)
		return
	}
	if err := conn.Publish(subject, data); err != nil {
		r.logger.Warn("Failed to publish event", "subject", subject, "error", err)
	}
}

func (r *Relay) handleControl(msg *nats.Msg) {
	ctrl, err := UnmarshalControl(msg.Data)
	reply := ControlReply{}
	switch {
	case err != nil:
		reply.Error = fmt.Sprintf("invalid control message: %v", err)
	case ctrl.Action != ActionRestart:
		reply.Error = fmt.Sprintf("unknown action %q", ctrl.Action)
	default:
		reason := ctrl.Reason
		if reason == "" {
			reason = "remote"
		}
		r.logger.Info("Restart requested over NATS", "reason", reason)
		sessionID, restartErr := r.onRestart(reason)
		if restartErr != nil {
			reply.Error = restartErr.Error()
		} else {
			reply.OK = true
			reply.SessionID = sessionID
		}
	}

	if reply.Error != "" {
		r.logger.Warn("Control request failed", "error", reply.Error)
	}
	if msg.Reply == "" {
		return
	}
	data, _ := json.Marshal(reply)
	if err := msg.Respond(data); err != nil {
		r.logger.Warn("Failed to answer control request", "error", err)
	}
}

// Stop unsubscribes from the bus and closes the connection.
func (r *Relay) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, unsub := range r.unsubs {
		unsub()
	}
	r.unsubs = nil
	if r.sub != nil {
		_ = r.sub.Unsubscribe()
		r.sub = nil
	}
	if r.conn != nil {
		r.conn.Drain() //nolint:errcheck // closing anyway
		r.conn = nil
	}
	r.logger.Debug("NATS relay stopped")
}

// IsConnected reports whether the relay currently has a live connection.
func (r *Relay) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil && r.conn.IsConnected()
}

// RequestRestart asks a running recorder to restart its session and waits
// for its answer.
func RequestRestart(url, reason string, timeout time.Duration) (ControlReply, error) {
	conn, err := nats.Connect(url, nats.Name("camlog-control"), nats.Timeout(timeout))
	if err != nil {
		return ControlReply{}, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	defer conn.Close()

	data, err := json.Marshal(ControlMessage{
		Action:    ActionRestart,
		Reason:    reason,
		Timestamp: time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return ControlReply{}, err
	}

	msg, err := conn.Request(SubjectControlRestart, data, timeout)
	if err != nil {
		return ControlReply{}, fmt.Errorf("restart request: %w", err)
	}

	var reply ControlReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return ControlReply{}, fmt.Errorf("invalid reply: %w", err)
	}
	return reply, nil
}
