package observe

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Producer reports producer liveness.
type Producer interface {
	Running() bool
}

// Stats reports dispatch loop counters.
type Stats interface {
	InFlight() int
	Dispatched() uint64
}

// Health is the body of GET /healthz.
type Health struct {
	Producer   string `json:"producer"`
	InFlight   int    `json:"in_flight"`
	Dispatched uint64 `json:"dispatched"`
	Clients    int    `json:"websocket_clients"`
}

// NewRouter builds the status routes. hub may be nil, in which case /ws
// is not served.
func NewRouter(producer Producer, stats Stats, hub *Hub) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		h := Health{
			Producer:   "running",
			InFlight:   stats.InFlight(),
			Dispatched: stats.Dispatched(),
		}
		if hub != nil {
			h.Clients = hub.Clients()
		}
		status := http.StatusOK
		if !producer.Running() {
			h.Producer = "terminated"
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, h)
	})

	if hub != nil {
		r.GET("/ws", func(c *gin.Context) {
			hub.ServeWS(c.Writer, c.Request)
		})
	}
	return r
}

// Server runs the status router until Shutdown.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
	done   chan struct{}
}

// Serve starts listening on addr in the background.
func Serve(addr string, handler http.Handler, logger *slog.Logger) *Server {
	s := &Server{
		srv:    &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second},
		logger: logger,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		logger.Info("status server starting", "addr", addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server", "error", err)
		}
	}()
	return s
}

func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	<-s.done
	return err
}
