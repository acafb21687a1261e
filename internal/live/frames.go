package live

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/smazurov/camlog/internal/events"
	"github.com/smazurov/camlog/internal/metrics"
)

const frameWriteTimeout = 5 * time.Second

// FrameHeader is the text message sent ahead of each binary payload on
// /ws/frames.
type FrameHeader struct {
	Topic     string `json:"topic"`
	Camera    int    `json:"camera"`
	FrameID   string `json:"frame_id"`
	Timestamp string `json:"timestamp"`
	Format    string `json:"format"`
	Keyframe  bool   `json:"keyframe"`
	Size      int    `json:"size"`
}

type frameClient struct {
	topic string
	send  chan events.FrameLoggedEvent
	done  chan struct{}
	once  sync.Once
}

func (c *frameClient) close() {
	c.once.Do(func() { close(c.done) })
}

// frameHub fans logged frames out to WebSocket clients. publish never
// blocks: a client whose queue is full misses the frame.
type frameHub struct {
	mu        sync.RWMutex
	clients   map[*frameClient]struct{}
	queueSize int
	closed    bool
}

func newFrameHub(queueSize int) *frameHub {
	return &frameHub{
		clients:   make(map[*frameClient]struct{}),
		queueSize: queueSize,
	}
}

func (h *frameHub) add(topic string) *frameClient {
	c := &frameClient{
		topic: topic,
		send:  make(chan events.FrameLoggedEvent, h.queueSize),
		done:  make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		c.close()
		return c
	}
	h.clients[c] = struct{}{}
	return c
}

func (h *frameHub) remove(c *frameClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

func (h *frameHub) publish(ev events.FrameLoggedEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if c.topic != ev.Topic {
			continue
		}
		select {
		case c.send <- ev:
		default:
			metrics.RecordLiveFrameDropped(ev.Topic)
		}
	}
}

func (h *frameHub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *frameHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
}

// handleFrames streams the records of one topic to a WebSocket client.
func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeRequest(w, r) {
		return
	}
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		http.Error(w, "topic query parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	client := s.hub.add(topic)
	defer s.hub.remove(client)

	metrics.LiveClientConnected()
	defer metrics.LiveClientDisconnected()
	s.logger.Info("Frame client connected", "topic", topic, "remote_addr", r.RemoteAddr)

	// The client only sends control frames; reading detects when it leaves
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				client.close()
				return
			}
		}
	}()

	for {
		select {
		case <-client.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(time.Second))
			s.logger.Info("Frame client disconnected", "topic", topic, "remote_addr", r.RemoteAddr)
			return
		case ev := <-client.send:
			if err := writeFrame(conn, ev); err != nil {
				s.logger.Debug("Frame write failed", "topic", topic, "error", err)
				return
			}
			metrics.RecordLiveFrameSent(topic)
		}
	}
}

func writeFrame(conn *websocket.Conn, ev events.FrameLoggedEvent) error {
	header := FrameHeader{
		Topic:     ev.Topic,
		Camera:    ev.Camera,
		FrameID:   ev.FrameID,
		Timestamp: ev.Timestamp,
		Format:    ev.Format,
		Keyframe:  ev.Keyframe,
		Size:      len(ev.Payload),
	}

	_ = conn.SetWriteDeadline(time.Now().Add(frameWriteTimeout))
	if err := conn.WriteJSON(header); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.BinaryMessage, ev.Payload)
}
