package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aquaguard/internal/alerts"
	"aquaguard/internal/config"
	"aquaguard/internal/engine"
	"aquaguard/internal/health"
	"aquaguard/internal/logging"
	"aquaguard/internal/metrics"
	"aquaguard/internal/model"
	"aquaguard/internal/storage"
	"aquaguard/internal/sweep"
)

type EngineControl interface {
	UpdateConfig(cfg *config.Config)
	Started() time.Time
}

type Deps struct {
	Config     *config.Manager
	Store      storage.Store
	Lifecycle  *alerts.Lifecycle
	Thresholds *engine.ThresholdSource
	Health     *health.Service
	Sweeper    *sweep.Sweeper
	LastSeen   *metrics.Store
	Engine     EngineControl
	// WebSocket is mounted on /ws when set.
	WebSocket http.HandlerFunc
	Logger    *slog.Logger
	Version   string
}

type Server struct {
	cfg        *config.Manager
	store      storage.Store
	lifecycle  *alerts.Lifecycle
	thresholds *engine.ThresholdSource
	health     *health.Service
	sweeper    *sweep.Sweeper
	lastSeen   *metrics.Store
	engine     EngineControl
	logger     *slog.Logger
	version    string
	router     *gin.Engine
}

type statusResponse struct {
	Status        string       `json:"status"`
	Time          string       `json:"time"`
	Version       string       `json:"version"`
	ConfigPath    string       `json:"config_path"`
	StartedAt     string       `json:"started_at,omitempty"`
	Storage       string       `json:"storage"`
	Ingest        ingestStatus `json:"ingest"`
	API           apiStatus    `json:"api"`
	SilentDevices []string     `json:"silent_devices"`
}

type ingestStatus struct {
	REST      bool `json:"rest"`
	TCPStream bool `json:"tcp_stream"`
	Kafka     bool `json:"kafka"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

func New(deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	s := &Server{
		cfg:        deps.Config,
		store:      deps.Store,
		lifecycle:  deps.Lifecycle,
		thresholds: deps.Thresholds,
		health:     deps.Health,
		sweeper:    deps.Sweeper,
		lastSeen:   deps.LastSeen,
		engine:     deps.Engine,
		logger:     logging.OrNop(deps.Logger),
		version:    deps.Version,
		router:     router,
	}
	s.registerRoutes(deps.WebSocket)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes(ws http.HandlerFunc) {
	r := s.router
	r.GET("/status", s.handleStatus)
	r.GET("/health-score", s.handleHealthScore)
	r.GET("/alerts", s.handleListAlerts)
	r.GET("/alerts/:id", s.handleGetAlert)
	r.POST("/alerts/:id/acknowledge", s.handleTransition(model.StatusAcknowledged))
	r.POST("/alerts/:id/resolve", s.handleTransition(model.StatusResolved))
	r.GET("/devices", s.handleListDevices)
	r.PUT("/devices/:id", s.handlePutDevice)
	r.GET("/recipients", s.handleListRecipients)
	r.PUT("/recipients/:id", s.handlePutRecipient)
	r.DELETE("/recipients/:id", s.handleDeleteRecipient)
	r.GET("/config/thresholds", s.handleGetThresholds)
	r.PUT("/config/thresholds", s.handlePutThresholds)
	r.POST("/sweep", s.handleSweep)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if ws != nil {
		r.GET("/ws", gin.WrapF(ws))
	}
}

// Run serves until ctx is done. It returns nil when the API is disabled.
func (s *Server) Run(ctx context.Context) error {
	current := s.cfg.Get().API
	if !current.Enabled {
		s.logger.Info("api disabled")
		return nil
	}
	s.logger.Info("api enabled", "addr", current.Addr)
	srv := &http.Server{Addr: current.Addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	cfg := s.cfg.Get()
	now := time.Now().UTC()
	resp := statusResponse{
		Status:     "ok",
		Time:       now.Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Storage:    cfg.Storage.Driver,
		Ingest: ingestStatus{
			REST:      cfg.Ingest.REST.Enabled,
			TCPStream: cfg.Ingest.TCPStream.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
		},
		API:           apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
		SilentDevices: []string{},
	}
	if s.engine != nil && !s.engine.Started().IsZero() {
		resp.StartedAt = s.engine.Started().UTC().Format(time.RFC3339)
	}
	if s.lastSeen != nil && cfg.Sweep.OfflineAfter > 0 {
		resp.SilentDevices = s.lastSeen.SilentSince(now.Add(-cfg.Sweep.OfflineAfter))
	}
	if err := s.store.Ping(c.Request.Context()); err != nil {
		resp.Status = "degraded"
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleHealthScore(c *gin.Context) {
	res, err := s.health.Compute(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleListAlerts(c *gin.Context) {
	filter := storage.AlertFilter{DeviceID: c.Query("device")}
	for _, v := range splitQuery(c.Query("status")) {
		st, err := model.ParseStatus(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		filter.Statuses = append(filter.Statuses, st)
	}
	for _, v := range splitQuery(c.Query("severity")) {
		sev, err := model.ParseSeverity(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		filter.Severities = append(filter.Severities, sev)
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		filter.Limit = n
	}
	if v := c.Query("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC 3339"})
			return
		}
		filter.Since = ts
	}
	list, err := s.store.ListAlerts(c.Request.Context(), filter)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": list, "count": len(list)})
}

func (s *Server) handleGetAlert(c *gin.Context) {
	a, err := s.store.GetAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) handleTransition(to model.Status) gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			a   model.Alert
			err error
		)
		switch to {
		case model.StatusAcknowledged:
			a, err = s.lifecycle.Acknowledge(c.Request.Context(), c.Param("id"))
		default:
			a, err = s.lifecycle.Resolve(c.Request.Context(), c.Param("id"))
		}
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, a)
	}
}

type deviceView struct {
	model.DeviceInfo
	Latest *model.ParameterValues `json:"latest,omitempty"`
}

func (s *Server) handleListDevices(c *gin.Context) {
	devices, err := s.store.ListDevices(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		view := deviceView{DeviceInfo: d}
		if s.lastSeen != nil {
			if r, _, ok := s.lastSeen.Get(d.ID); ok {
				values := r.Values
				view.Latest = &values
			}
		}
		out = append(out, view)
	}
	c.JSON(http.StatusOK, gin.H{"devices": out, "count": len(out)})
}

func (s *Server) handlePutDevice(c *gin.Context) {
	var req struct {
		Name     string             `json:"name"`
		Location string             `json:"location"`
		Status   model.DeviceStatus `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Status != "" && !req.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown device status " + string(req.Status)})
		return
	}
	ctx := c.Request.Context()
	d := model.DeviceInfo{ID: c.Param("id"), Name: strings.TrimSpace(req.Name), Location: strings.TrimSpace(req.Location), Status: req.Status}
	if d.Status == "" {
		if existing, err := s.store.GetDevice(ctx, d.ID); err == nil {
			d.Status = existing.Status
		}
	}
	if err := s.store.UpsertDevice(ctx, d); err != nil {
		s.fail(c, err)
		return
	}
	saved, err := s.store.GetDevice(ctx, d.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (s *Server) handleListRecipients(c *gin.Context) {
	list, err := s.store.ListRecipients(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recipients": list, "count": len(list)})
}

func (s *Server) handlePutRecipient(c *gin.Context) {
	var p model.RecipientPreference
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p.RecipientID = c.Param("id")
	if strings.TrimSpace(p.ContactAddress) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "contactAddress is required"})
		return
	}
	for _, sev := range p.Severities {
		if !sev.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown severity " + string(sev)})
			return
		}
	}
	for _, param := range p.Parameters {
		if !param.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown parameter " + string(param)})
			return
		}
	}
	if err := s.store.UpsertRecipient(c.Request.Context(), p); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleDeleteRecipient(c *gin.Context) {
	if err := s.store.DeleteRecipient(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleGetThresholds(c *gin.Context) {
	ctx := c.Request.Context()
	resp := gin.H{"effective": s.thresholds.Current(ctx)}
	doc, err := engine.LoadDocument(ctx, s.store)
	switch {
	case err == nil:
		resp["override"] = doc
	case errors.Is(err, storage.ErrNotFound):
	default:
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePutThresholds(c *gin.Context) {
	var doc model.ThresholdDocument
	if err := c.ShouldBindJSON(&doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	if err := engine.SaveDocument(ctx, s.store, doc); err != nil {
		s.fail(c, err)
		return
	}
	s.thresholds.Invalidate()
	s.logger.Info("threshold override updated", "parameters", len(doc.Thresholds), "trend", doc.Trend != nil)
	c.JSON(http.StatusOK, gin.H{"effective": s.thresholds.Current(ctx), "override": doc})
}

func (s *Server) handleSweep(c *gin.Context) {
	res, err := s.sweeper.Run(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, alerts.ErrInvalidTransition), errors.Is(err, sweep.ErrInProgress):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrInvalidDocument):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("api request failed", "path", c.FullPath(), "err", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func splitQuery(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
