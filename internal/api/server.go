// Package api serves the catalog read-side over HTTP for search frontends
// and media servers. Play counts and ratings are the only values it writes.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/franz/music-librarian/internal/store"
	"github.com/franz/music-librarian/internal/util"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	shutdownTimeout  = 5 * time.Second
)

// Catalog is the part of the store the API reads and the two usage counters
// it may update
type Catalog interface {
	Search(ctx context.Context, query string, limit, offset int) ([]store.Track, error)
	Artists(ctx context.Context) ([]store.Artist, error)
	Albums(ctx context.Context, artist string) ([]store.Album, error)
	RecentTracks(ctx context.Context, limit int) ([]store.Track, error)
	PopularTracks(ctx context.Context, limit int) ([]store.Track, error)
	LookupByHash(ctx context.Context, hash string) (*store.Track, error)
	IncrementPlayCount(ctx context.Context, hash string) error
	SetRating(ctx context.Context, hash string, rating int) error
	Stats(ctx context.Context) (*store.Stats, error)
}

// Server wraps the router and the http.Server that runs it
type Server struct {
	db          Catalog
	router      chi.Router
	logRequests bool
}

// Option customises a Server
type Option func(*Server)

// WithRequestLogging toggles chi's request logger
func WithRequestLogging(enabled bool) Option {
	return func(s *Server) { s.logRequests = enabled }
}

// New builds the router for db
func New(db Catalog, opts ...Option) *Server {
	s := &Server{db: db, logRequests: true}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	if s.logRequests {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	s.RegisterRoutes(r)
	s.router = r
	return s
}

// RegisterRoutes mounts the API under /api
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/search", s.handleSearch)
		r.Get("/artists", s.handleArtists)
		r.Get("/albums", s.handleAlbums)
		r.Get("/stats", s.handleStats)

		r.Get("/tracks/recent", s.handleRecent)
		r.Get("/tracks/popular", s.handlePopular)
		r.Get("/tracks/{hash}", s.handleTrack)
		r.Post("/tracks/{hash}/play", s.handlePlay)
		r.Put("/tracks/{hash}/rating", s.handleRating)
	})
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		util.InfoLog("API listening on http://%s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	util.InfoLog("Shutting down API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
