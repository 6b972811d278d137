package server

import (
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/composr/internal/flock"
	"github.com/loykin/composr/internal/metrics"
	"github.com/loykin/composr/internal/run"
)

// Router exposes embeddable HTTP handlers over a run manager. The server is
// just another manager instance bound to the shared directory; the registry
// file stays the source of truth, so CLI invocations and this server can
// operate side by side.
//
// Endpoints:
//
//	POST {basePath}/start    body: run.Spec JSON
//	GET  {basePath}/runs     query: detailed=1 adds start time and uptime
//	POST {basePath}/kill     query: name=...
//	GET  {basePath}/logs     query: name=...&tail=N
//	GET  {basePath}/metrics
type Router struct {
	mgr      *run.Manager
	basePath string
}

// NewRouter constructs a Router with a configurable basePath, e.g. "/api"
// results in /api/start, /api/runs, /api/kill, /api/logs.
func NewRouter(mgr *run.Manager, basePath string) *Router {
	return &Router{mgr: mgr, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/start", r.handleStart)
	group.GET("/runs", r.handleRuns)
	group.POST("/kill", r.handleKill)
	group.GET("/logs", r.handleLogs)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, mgr *run.Manager) (*http.Server, error) {
	r := NewRouter(mgr, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleStart(c *gin.Context) {
	var spec run.Spec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if !isSafeName(spec.Name) {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-], no '..' or path separators"})
		return
	}
	if !isSafeAbsPath(spec.WorkDir) {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid work_dir: must be absolute path without traversal"})
		return
	}
	rec, err := r.mgr.StartSpec(c.Request.Context(), spec)
	if err != nil {
		c.JSON(statusFor(err), errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (r *Router) handleRuns(c *gin.Context) {
	if v := c.Query("detailed"); v == "1" || v == "true" {
		dets, err := r.mgr.ListDetailed(c.Request.Context())
		if err != nil {
			c.JSON(statusFor(err), errorResp{Error: err.Error()})
			return
		}
		if dets == nil {
			dets = []run.Detail{}
		}
		c.JSON(http.StatusOK, dets)
		return
	}
	recs, err := r.mgr.List(c.Request.Context())
	if err != nil {
		c.JSON(statusFor(err), errorResp{Error: err.Error()})
		return
	}
	if recs == nil {
		recs = []run.Record{}
	}
	c.JSON(http.StatusOK, recs)
}

func (r *Router) handleKill(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "name query param required"})
		return
	}
	if err := r.mgr.Kill(c.Request.Context(), name); err != nil {
		c.JSON(statusFor(err), errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

// handleLogs streams (optionally the tail of) a run's log file. The file is
// looked up via the registry so callers never pass paths.
func (r *Router) handleLogs(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "name query param required"})
		return
	}
	recs, err := r.mgr.List(c.Request.Context())
	if err != nil {
		c.JSON(statusFor(err), errorResp{Error: err.Error()})
		return
	}
	var logFile string
	for _, rec := range recs {
		if rec.RunName == name {
			logFile = rec.LogFile
			break
		}
	}
	if logFile == "" {
		c.JSON(http.StatusNotFound, errorResp{Error: "run not found: " + name})
		return
	}
	f, err := os.Open(logFile) // #nosec G304 -- path comes from the registry, not the request
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: "open log: " + err.Error()})
		return
	}
	defer func() { _ = f.Close() }()
	if tailStr := c.Query("tail"); tailStr != "" {
		if n, err := strconv.ParseInt(tailStr, 10, 64); err == nil && n > 0 {
			if info, err := f.Stat(); err == nil && info.Size() > n {
				_, _ = f.Seek(info.Size()-n, io.SeekStart)
			}
		}
	}
	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.Copy(c.Writer, f)
}

// statusFor maps the manager's error taxonomy onto HTTP codes so remote
// callers can distinguish them the same way local ones do.
func statusFor(err error) int {
	switch {
	case errors.Is(err, run.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, run.ErrRunExists):
		return http.StatusConflict
	case errors.Is(err, flock.ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}
