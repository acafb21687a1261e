package live

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/camlog/internal/recorder"
	"github.com/smazurov/camlog/internal/version"
)

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check whether the recorder has an active session",
		Tags:        []string{"health"},
		Security:    []map[string][]string{},
	}, func(_ context.Context, _ *struct{}) (*HealthResponse, error) {
		message := "idle"
		if s.status().Active {
			message = "recording"
		}
		return &HealthResponse{
			Body: HealthData{Status: "ok", Message: message},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
		Security:    []map[string][]string{},
	}, func(_ context.Context, _ *struct{}) (*VersionResponse, error) {
		info := version.Get()
		return &VersionResponse{
			Body: VersionData{
				Version:   info.Version,
				GitCommit: info.GitCommit,
				BuildDate: info.BuildDate,
				BuildID:   info.BuildID,
				GoVersion: info.GoVersion,
				Compiler:  info.Compiler,
				Platform:  info.Platform,
				Library:   version.Library(),
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/api/session",
		Summary:     "Session",
		Description: "Current session: journal path, workers and startup errors",
		Tags:        []string{"session"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*SessionResponse, error) {
		return &SessionResponse{Body: sessionData(s.status())}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-topics",
		Method:      http.MethodGet,
		Path:        "/api/topics",
		Summary:     "Topics",
		Description: "Topics that currently receive records",
		Tags:        []string{"session"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*TopicsResponse, error) {
		topics := []string{}
		if s.options.Status != nil {
			topics = append(topics, s.options.Status.Topics()...)
		}
		return &TopicsResponse{Body: TopicsData{Topics: topics}}, nil
	})

	s.registerEventRoutes()
	s.registerLogRoutes()
	s.registerLevelRoutes()
}

func (s *Server) status() recorder.Status {
	if s.options.Status == nil {
		return recorder.Status{}
	}
	return s.options.Status.Status()
}
