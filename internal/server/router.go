package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/loykin/torquelog/internal/ingest"
	"github.com/loykin/torquelog/internal/store"
	"github.com/loykin/torquelog/internal/telemetry"
)

// Sessions is the read side of the session store used by the API.
type Sessions interface {
	GetSession(ctx context.Context, id string) (store.Session, error)
	ListSessions(ctx context.Context, limit int) ([]store.Session, error)
	Readings(ctx context.Context, id string) ([]telemetry.Reading, error)
}

// ReportSource exposes the most recent sweep report, nil before the first sweep.
type ReportSource interface {
	LastReport() *ingest.Report
}

// Router provides embeddable read-only HTTP handlers.
// Endpoints:
//
//	GET {basePath}/sessions               query: limit (default 50, max 1000)
//	GET {basePath}/sessions/:id
//	GET {basePath}/sessions/:id/readings  query: offset, limit (default 1000, max 10000)
//	GET {basePath}/status                 last sweep report
//	GET /metrics                          when metrics are enabled
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	sessions Sessions
	reports  ReportSource
	metrics  http.Handler
	basePath string
}

// NewRouter constructs a new Router with configurable basePath.
// reports may be nil when no worker runs in this process.
func NewRouter(sessions Sessions, reports ReportSource, basePath string) *Router {
	return &Router{sessions: sessions, reports: reports, basePath: sanitizeBase(basePath)}
}

// WithMetrics mounts h at /metrics.
func (r *Router) WithMetrics(h http.Handler) *Router {
	r.metrics = h
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/sessions", r.handleListSessions)
	group.GET("/sessions/:id", r.handleGetSession)
	group.GET("/sessions/:id/readings", r.handleReadings)
	group.GET("/status", r.handleStatus)
	if r.metrics != nil {
		g.GET("/metrics", gin.WrapH(r.metrics))
	}
	return g
}

// NewServer wraps h in an http.Server with the usual timeouts.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Serve runs srv until ctx is cancelled, then shuts it down gracefully.
func Serve(ctx context.Context, srv *http.Server, l *slog.Logger) error {
	if l == nil {
		l = slog.Default()
	}
	errCh := make(chan error, 1)
	go func() {
		var err error
		if srv.TLSConfig != nil {
			l.Info("https server listening", "addr", srv.Addr)
			err = srv.ListenAndServeTLS("", "")
		} else {
			l.Info("http server listening", "addr", srv.Addr)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	l.Info("http server stopped")
	return <-errCh
}

// --- Handlers ---

type sessionList struct {
	Sessions []store.Session `json:"sessions"`
	Limit    int             `json:"limit"`
}

type readingPage struct {
	SessionID string              `json:"session_id"`
	Total     int                 `json:"total"`
	Offset    int                 `json:"offset"`
	Limit     int                 `json:"limit"`
	Readings  []telemetry.Reading `json:"readings"`
}

type statusResp struct {
	Ready  bool           `json:"ready"`
	Report *ingest.Report `json:"report,omitempty"`
}

func (r *Router) handleListSessions(c *gin.Context) {
	p, err := parsePaginationParams(c, 50, 1000)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_pagination", err.Error())
		return
	}
	list, err := r.sessions.ListSessions(c.Request.Context(), p.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	writeJSON(c, http.StatusOK, sessionList{Sessions: list, Limit: p.Limit})
}

func (r *Router) handleGetSession(c *gin.Context) {
	sess, ok := r.lookup(c)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, sess)
}

func (r *Router) handleReadings(c *gin.Context) {
	sess, ok := r.lookup(c)
	if !ok {
		return
	}
	p, err := parsePaginationParams(c, 1000, 10000)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_pagination", err.Error())
		return
	}
	all, err := r.sessions.Readings(c.Request.Context(), sess.ID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "readings_failed", err.Error())
		return
	}
	page := readingPage{SessionID: sess.ID, Total: len(all), Offset: p.Offset, Limit: p.Limit, Readings: []telemetry.Reading{}}
	if p.Offset < len(all) {
		end := min(p.Offset+p.Limit, len(all))
		page.Readings = all[p.Offset:end]
	}
	writeJSON(c, http.StatusOK, page)
}

func (r *Router) handleStatus(c *gin.Context) {
	var rep *ingest.Report
	if r.reports != nil {
		rep = r.reports.LastReport()
	}
	writeJSON(c, http.StatusOK, statusResp{Ready: rep != nil, Report: rep})
}

// lookup resolves the :id parameter, writing the error response itself.
func (r *Router) lookup(c *gin.Context) (store.Session, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_id", "session id must be a UUID")
		return store.Session{}, false
	}
	sess, err := r.sessions.GetSession(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(c, http.StatusNotFound, "session_not_found", "Session not found")
		} else {
			respondError(c, http.StatusInternalServerError, "get_failed", err.Error())
		}
		return store.Session{}, false
	}
	return sess, true
}
