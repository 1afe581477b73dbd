package server

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"wevote/internal/config"
	"wevote/internal/db"
	"wevote/internal/metrics"
	"wevote/internal/rooms"
)

// Run serves the room directory until SIGINT or SIGTERM.
func Run(appCfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	roomStore := rooms.NewStore(clockwork.NewRealClock(), appCfg.RoomTTL)
	defer roomStore.Stop()

	srv := NewServer(roomStore, appCfg)

	// Optional database connection
	if appCfg.DatabaseURL != "" {
		database, err := db.Connect(ctx, appCfg.DatabaseURL)
		if err != nil {
			log.Warn().Err(err).Msg("database unavailable, running without round history")
		} else {
			defer database.Close()
			if err := database.Migrate(ctx); err != nil {
				log.Error().Err(err).Msg("migration failed")
			}
			srv.DB = database
			log.Info().Msg("database connected and migrations applied")
		}
	} else {
		log.Info().Msg("DATABASE_URL not set, running without round history")
	}

	httpServer := &http.Server{
		Addr:              "0.0.0.0:" + appCfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", appCfg.Port).Msg("room directory listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

// Handler returns the directory routes wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /create-room", s.handleCreateRoom)
	mux.HandleFunc("POST /join", s.handleJoinRoom)
	mux.HandleFunc("POST /vote", s.handleVote)
	mux.HandleFunc("POST /lock", s.handleLock)
	mux.HandleFunc("POST /restart", s.handleRestart)
	mux.HandleFunc("GET /results", s.handleResults)
	mux.HandleFunc("GET /history", s.handleHistory)
	mux.HandleFunc("GET /ws/{roomId}", s.handlePush)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	c := cors.New(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(mux)
}

// originPatterns converts CORS origins into the host patterns the websocket
// accept check matches against.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimPrefix(o, "https://")
		o = strings.TrimPrefix(o, "http://")
		patterns = append(patterns, o)
	}
	return patterns
}
