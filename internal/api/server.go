package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nerrad567/gray-logic-runtime/internal/block"
	"github.com/nerrad567/gray-logic-runtime/internal/bus"
	"github.com/nerrad567/gray-logic-runtime/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-runtime/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-runtime/internal/runtime"
)

// Server is the HTTP/WebSocket front of the runtime.
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	scheduler   *runtime.Scheduler
	bus         *bus.Bus
	broadcaster *bus.Broadcaster
	registry    *block.Registry
	hub         *Hub
	logger      *logging.Logger

	httpServer *http.Server
}

// NewServer assembles the API server.
func NewServer(
	cfg config.APIConfig,
	wsCfg config.WebSocketConfig,
	scheduler *runtime.Scheduler,
	addressBus *bus.Bus,
	broadcaster *bus.Broadcaster,
	registry *block.Registry,
	logger *logging.Logger,
) *Server {
	s := &Server{
		cfg:         cfg,
		wsCfg:       wsCfg,
		scheduler:   scheduler,
		bus:         addressBus,
		broadcaster: broadcaster,
		registry:    registry,
		logger:      logger,
	}
	s.hub = NewHub(wsCfg, logger)
	scheduler.SetEventSink(&hubSink{hub: s.hub})
	return s
}

// Hub returns the WebSocket hub (for wiring event producers).
func (s *Server) Hub() *Hub { return s.hub }

// Start runs the HTTP server until the context is cancelled.
// It blocks; run it in a goroutine alongside the scheduler.
func (s *Server) Start(ctx context.Context) error {
	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       durationSeconds(s.cfg.Timeouts.Read),
		WriteTimeout:      durationSeconds(s.cfg.Timeouts.Write),
		IdleTimeout:       durationSeconds(s.cfg.Timeouts.Idle),
		ReadHeaderTimeout: durationSeconds(s.cfg.Timeouts.Read),
	}

	go s.pumpTelegrams(ctx)
	go s.hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), durationSeconds(s.cfg.Timeouts.Write))
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api shutdown: %w", err)
		}
		return nil
	}
}

// buildRouter wires the chi routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/system/health", s.handleHealth)

		r.Route("/addresses", func(r chi.Router) {
			r.Get("/", s.handleListAddresses)
			r.Post("/", s.handleCreateAddress)
			r.Route("/{key}", func(r chi.Router) {
				r.Get("/", s.handleGetAddress)
				r.Patch("/", s.handleUpdateAddress)
				r.Delete("/", s.handleDeleteAddress)
				r.Post("/write", s.handleWriteAddress)
			})
		})

		r.Get("/telegrams", s.handleRecentTelegrams)

		r.Route("/logic", func(r chi.Router) {
			r.Get("/types", s.handleListTypes)
			r.Post("/types/reload", s.handleReloadTypes)

			r.Route("/blocks", func(r chi.Router) {
				r.Get("/", s.handleListBlocks)
				r.Post("/", s.handleCreateBlock)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetBlock)
					r.Patch("/", s.handleUpdateBlock)
					r.Delete("/", s.handleDeleteBlock)
					r.Post("/bind", s.handleBind)
					r.Post("/unbind", s.handleUnbind)
					r.Post("/trigger", s.handleTrigger)
					r.Post("/input", s.handleSetInput)
					r.Post("/enable", s.handleEnable)
					r.Get("/debug", s.handleDebugRing)
				})
			})

			r.Route("/pages", func(r chi.Router) {
				r.Get("/", s.handleListPages)
				r.Post("/", s.handleCreatePage)
				r.Patch("/{id}", s.handleUpdatePage)
				r.Delete("/{id}", s.handleDeletePage)
			})

			r.Get("/positions", s.handleGetPositions)
			r.Put("/positions", s.handleSetPositions)
		})

		r.Get("/backup/export", s.handleExportBackup)
		r.Post("/backup/import", s.handleImportBackup)
	})

	r.Get(s.wsCfg.Path, s.handleWebSocket)
	return r
}

// corsMiddleware applies the configured allowed origins.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.cfg.CORS.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.CORS.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// pumpTelegrams forwards bus telegrams to WebSocket subscribers on the
// "telegram" channel. If the pump falls behind, the broadcaster drops
// it and it rejoins the live stream.
func (s *Server) pumpTelegrams(ctx context.Context) {
	sub := s.broadcaster.Subscribe(0)
	for {
		select {
		case <-ctx.Done():
			s.broadcaster.Unsubscribe(sub)
			return
		case tel, ok := <-sub.C:
			if !ok {
				s.logger.Warn("telegram pump fell behind, resubscribing")
				sub = s.broadcaster.Subscribe(0)
				continue
			}
			s.hub.Broadcast("telegram", tel)
		}
	}
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"subscribers": s.broadcaster.SubscriberCount(),
		"ws_clients":  s.hub.ClientCount(),
	})
}

// durationSeconds converts a config timeout to a Duration.
func durationSeconds(s int) time.Duration {
	return time.Duration(s) * time.Second
}

// hubSink adapts scheduler telemetry onto WebSocket channels.
type hubSink struct {
	hub *Hub
}

func (h *hubSink) BlockLifecycle(instanceID string, state runtime.State, reason string) {
	h.hub.Broadcast("block.lifecycle", map[string]any{
		"instance_id": instanceID,
		"state":       string(state),
		"reason":      reason,
	})
}

func (h *hubSink) SchedulerError(instanceID, trigger string, err error) {
	h.hub.Broadcast("scheduler.error", map[string]any{
		"instance_id": instanceID,
		"trigger":     trigger,
		"error":       err.Error(),
	})
}
