package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"aquaguard/internal/config"
	"aquaguard/internal/logging"
	"aquaguard/internal/model"
	"aquaguard/internal/normalize"
)

const maxBodyBytes = 2 << 20

// RESTServer accepts device payloads on POST /readings and queues them for the engine's
// worker pool.
type RESTServer struct {
	cfg    *config.Manager
	out    chan<- model.Reading
	logger *slog.Logger
	engine *gin.Engine
}

func NewREST(cfg *config.Manager, out chan<- model.Reading, logger *slog.Logger) *RESTServer {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	s := &RESTServer{cfg: cfg, out: out, logger: logging.OrNop(logger), engine: engine}
	engine.POST("/readings", s.handleReadings)
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return s
}

func (s *RESTServer) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is done. It returns nil when REST ingest is disabled.
func (s *RESTServer) Run(ctx context.Context) error {
	current := s.cfg.Get().Ingest.REST
	if !current.Enabled {
		s.logger.Info("rest ingest disabled")
		return nil
	}
	s.logger.Info("rest ingest enabled", "addr", current.Addr)
	srv := &http.Server{Addr: current.Addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}

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

type ingestResult struct {
	Accepted int      `json:"accepted"`
	Failed   int      `json:"failed"`
	Dropped  int      `json:"dropped"`
	Errors   []string `json:"errors,omitempty"`
}

func (s *RESTServer) handleReadings(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read body"})
		return
	}
	list, err := ParseJSONList(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
		return
	}
	loc := s.cfg.Get().Location()
	var res ingestResult
	for _, fields := range list {
		r, err := normalize.Normalize(*fields, loc)
		if err != nil {
			s.logger.Warn("rest normalize error", "err", err)
			res.Failed++
			res.Errors = append(res.Errors, err.Error())
			continue
		}
		if !SendNonBlocking(c.Request.Context(), s.out, r, s.logger) {
			res.Dropped++
			continue
		}
		res.Accepted++
	}
	status := http.StatusAccepted
	if res.Accepted == 0 && res.Failed > 0 {
		status = http.StatusBadRequest
	} else if res.Accepted == 0 && res.Dropped > 0 {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, res)
}
