package frontend

import (
	"context"
	"log/slog"
	"net/http"
	"path"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"

	"github.com/flowbench-org/flowbench/internal/cmn/config"
	"github.com/flowbench-org/flowbench/internal/cmn/logger"
	"github.com/flowbench-org/flowbench/internal/cmn/logger/tag"
	"github.com/flowbench-org/flowbench/internal/service/workflow"
)

// Server is the HTTP frontend: the REST API plus the WebSocket status
// streams the canvas subscribes to.
type Server struct {
	cfg        config.Config
	auth       *Auth
	svc        *workflow.Service
	httpServer *http.Server
}

// NewServer creates a frontend server over the workflow service.
func NewServer(cfg config.Config, auth *Auth, svc *workflow.Service) *Server {
	return &Server{cfg: cfg, auth: auth, svc: svc}
}

// Handler builds the router. Exposed separately so tests can drive the
// API through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	requestLogger := httplog.NewLogger("http", httplog.Options{
		LogLevel:         slog.LevelDebug,
		JSON:             s.cfg.Log.Format == "json",
		Concise:          true,
		MessageFieldName: "msg",
	})

	r := chi.NewMux()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(httplog.RequestLogger(requestLogger))
	r.Use(withRecoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	basePath := path.Join("/", s.cfg.Server.BasePath, "api/v1")
	r.Route(basePath, func(r chi.Router) {
		r.Use(s.auth.Middleware)

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", s.handleListProjects)
			r.Post("/", s.handleCreateProject)
			r.Post("/from-template", s.handleCreateProjectFromTemplate)
			r.Route("/{projectID}", func(r chi.Router) {
				r.Get("/", s.handleGetProject)
				r.Patch("/", s.handleRenameProject)
				r.Delete("/", s.handleDeleteProject)
				r.Put("/members/{memberID}", s.handleAddMember)
				r.Delete("/members/{memberID}", s.handleRemoveMember)
				r.Get("/configurations", s.handleConfigurations)
				r.Post("/start", s.handleStartWorkflow)
				r.Get("/status", s.handleWorkflowStatus)
				r.Get("/blocks/status", s.handleBlockStatuses)
			})
		})

		r.Get("/templates", s.handleListTemplates)
		r.Get("/manifests", s.handleInspectManifest)

		r.Route("/blocks", func(r chi.Router) {
			r.Post("/", s.handleCreateBlock)
			r.Put("/configs", s.handleUpdatePortConfigs)
			r.Route("/{blockID}", func(r chi.Router) {
				r.Patch("/", s.handleUpdateBlock)
				r.Delete("/", s.handleDeleteBlock)
				r.Put("/envs", s.handleUpdateEnvs)
			})
		})

		r.Post("/edges", s.handleCreateEdge)
		r.Delete("/edges", s.handleDeleteEdge)

		r.Get("/ports/{portID}/upload-url", s.handleUploadURL)

		r.Route("/workflow/ws", func(r chi.Router) {
			r.Get("/project_status", s.handleProjectStatusStream)
			r.Get("/workflow_status/{projectID}", s.handleWorkflowStatusStream)
		})
	})

	return r
}

func (s *Server) allowedOrigins() []string {
	if len(s.cfg.Server.AllowedCORS) == 0 {
		return []string{"*"}
	}
	return s.cfg.Server.AllowedCORS
}

// Serve runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		Addr:              s.cfg.Server.Addr(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "Server is starting", tag.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.httpServer.SetKeepAlivesEnabled(false)
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "Failed to shut down server", tag.Error(err))
		return err
	}
	logger.Info(ctx, "Server shutdown complete")
	return nil
}

// withRecoverer is adapted from chi's Recoverer; it keeps WebSocket
// upgrades from getting a second status line written on panic.
func withRecoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				logger.Error(r.Context(), "Panic occurred",
					tag.String("panic", strings.TrimSpace(string(debug.Stack()))))
				if r.Header.Get("Connection") != "Upgrade" {
					w.WriteHeader(http.StatusInternalServerError)
				}
			}
		}()
		next.ServeHTTP(w, r)
	})
}
