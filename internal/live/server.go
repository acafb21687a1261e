package live

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/gorilla/websocket"

	"github.com/smazurov/camlog/internal/events"
	"github.com/smazurov/camlog/internal/metrics"
	"github.com/smazurov/camlog/internal/recorder"
)

const authRealm = `Basic realm="camlog"`

var (
	errAuthRequired = errors.New("authentication required")
	errAuthType     = errors.New("invalid authentication type")
	errAuthFormat   = errors.New("invalid credentials format")
	errAuthInvalid  = errors.New("invalid credentials")
)

// StatusProvider reports the state of the recording.
type StatusProvider interface {
	Status() recorder.Status
	Topics() []string
}

// Options configures the live inspection server.
type Options struct {
	Status StatusProvider
	Bus    *events.Bus

	AuthUsername string
	AuthPassword string

	// FrameQueue bounds the frames buffered per WebSocket client. Frames
	// beyond it are dropped for that client only. Default 8.
	FrameQueue int

	Logger     *slog.Logger
	HTTPLogger *slog.Logger
}

// Server is the HTTP surface over a running recorder. It only observes:
// nothing it does feeds back into capture.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	options    Options
	hub        *frameHub
	unsubFrame func()
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

// NewServer creates the live server and subscribes it to frame events.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HTTPLogger == nil {
		opts.HTTPLogger = opts.Logger
	}
	if opts.Bus == nil {
		opts.Bus = events.New()
	}
	if opts.FrameQueue <= 0 {
		opts.FrameQueue = 8
	}

	mux := http.NewServeMux()

	corsConfig := DefaultCORSConfig()
	AddCORSHandler(mux, corsConfig)

	config := huma.DefaultConfig("camlog", "1.0.0")
	config.Info.Description = "Live inspection of a camlog recording session"
	config.Servers = []*huma.Server{}
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {
			Type:   "http",
			Scheme: "basic",
		},
	}

	api := humago.New(mux, config)

	server := &Server{
		api:     api,
		mux:     mux,
		options: opts,
		hub:     newFrameHub(opts.FrameQueue),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(*http.Request) bool { return corsConfig.AllowOrigin == "*" },
		},
		logger: opts.Logger,
	}

	api.UseMiddleware(NewCORSMiddleware(corsConfig))
	api.UseMiddleware(NewHTTPLoggingMiddleware(opts.HTTPLogger))
	if server.authEnabled() {
		api.UseMiddleware(server.basicAuthMiddleware())
	}

	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /ws/frames", server.handleFrames)

	server.registerRoutes()

	server.unsubFrame = opts.Bus.Subscribe(func(ev events.FrameLoggedEvent) {
		server.hub.publish(ev)
	})

	return server
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// API returns the Huma API instance.
func (s *Server) API() huma.API {
	return s.api
}

// Start serves on addr until Stop is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting live server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop disconnects frame clients and closes the listener.
func (s *Server) Stop() error {
	s.logger.Info("Stopping live server")

	if s.unsubFrame != nil {
		s.unsubFrame()
	}
	s.hub.close()

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return s.httpServer.Close()
		}
	}
	return nil
}

func (s *Server) authEnabled() bool {
	return s.options.AuthUsername != "" && s.options.AuthPassword != ""
}

// checkCredentials validates an Authorization header, falling back to a
// base64 "user:password" auth query parameter for EventSource and WebSocket
// clients that cannot set headers.
func (s *Server) checkCredentials(header, query string) error {
	var encoded string
	switch {
	case header != "":
		const prefix = "Basic "
		if !strings.HasPrefix(header, prefix) {
			return errAuthType
		}
		encoded = header[len(prefix):]
	case query != "":
		encoded = query
	default:
		return errAuthRequired
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return errAuthFormat
	}

	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return errAuthFormat
	}
	if username != s.options.AuthUsername || password != s.options.AuthPassword {
		return errAuthInvalid
	}
	return nil
}

func (s *Server) basicAuthMiddleware() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		// Operations without security requirements are public
		op := ctx.Operation()
		if op != nil && len(op.Security) == 0 {
			next(ctx)
			return
		}

		if err := s.checkCredentials(ctx.Header("Authorization"), ctx.Query("auth")); err != nil {
			ctx.SetHeader("WWW-Authenticate", authRealm)
			huma.WriteErr(s.api, ctx, http.StatusUnauthorized, err.Error())
			return
		}

		next(ctx)
	}
}

// authorizeRequest applies basic auth to handlers mounted outside huma.
func (s *Server) authorizeRequest(w http.ResponseWriter, r *http.Request) bool {
	if !s.authEnabled() {
		return true
	}
	if err := s.checkCredentials(r.Header.Get("Authorization"), r.URL.Query().Get("auth")); err != nil {
		w.Header().Set("WWW-Authenticate", authRealm)
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return false
	}
	return true
}

// withAuth returns the security requirement for basic auth.
func withAuth() []map[string][]string {
	return []map[string][]string{
		{"basicAuth": {}},
	}
}
