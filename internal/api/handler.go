package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"backtest-core/internal/book"
	"backtest-core/internal/events"
	"backtest-core/internal/monitor"
	"backtest-core/internal/signal"
	"backtest-core/internal/strategy"
	"backtest-core/pkg/db"
)

// Server exposes read-only snapshots of the engine: strategy state,
// performance metrics, trend signals, orders, positions, trades and health.
// It never mutates engine state.
type Server struct {
	Router   *gin.Engine
	Bus      *events.Bus
	Book     *book.OrderBook
	Detector *signal.Detector
	Manager  *strategy.Manager
	Stats    *monitor.RunStats
	DB       *db.Database
	Meta     SystemMeta
}

// SystemMeta describes runtime status exposed to the UI.
type SystemMeta struct {
	ContractID string
	Timeframe  string
	Version    string
}

func NewServer(bus *events.Bus, ob *book.OrderBook, det *signal.Detector, mgr *strategy.Manager, stats *monitor.RunStats, database *db.Database, meta SystemMeta) *Server {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(CORSMiddleware())

	s := &Server{
		Router:   r,
		Bus:      bus,
		Book:     ob,
		Detector: det,
		Manager:  mgr,
		Stats:    stats,
		DB:       database,
		Meta:     meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/strategies", s.getStrategies)
		api.GET("/strategies/:id", s.getStrategy)
		api.GET("/strategies/:id/performance", s.getStrategyPerformance)
		api.GET("/strategies/:id/signals", s.getStrategySignals)
		api.GET("/orders", s.getOrders)
		api.GET("/positions", s.getPositions)
		api.GET("/trades", s.getTrades)
		api.GET("/runs", s.getRuns)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getSystemStatus(c *gin.Context) {
	status := gin.H{
		"contract_id": s.Meta.ContractID,
		"timeframe":   s.Meta.Timeframe,
		"version":     s.Meta.Version,
		"server_time": time.Now().UTC(),
	}
	if s.Stats != nil {
		status["health"] = s.Stats.GetSnapshot()
	}
	if s.Detector != nil {
		status["detector"] = s.Detector.Stats()
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) getStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, s.Manager.Snapshots())
}

func (s *Server) getStrategy(c *gin.Context) {
	st, ok := s.Manager.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown strategy id"})
		return
	}
	c.JSON(http.StatusOK, st.StateSnapshot())
}

func (s *Server) getStrategyPerformance(c *gin.Context) {
	st, ok := s.Manager.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown strategy id"})
		return
	}
	c.JSON(http.StatusOK, st.PerformanceMetrics())
}

func (s *Server) getStrategySignals(c *gin.Context) {
	st, ok := s.Manager.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown strategy id"})
		return
	}
	c.JSON(http.StatusOK, st.TrendSignals())
}

func (s *Server) getOrders(c *gin.Context) {
	contract := c.Query("contract")
	c.JSON(http.StatusOK, gin.H{
		"pending":   s.Book.PendingOrders(contract),
		"filled":    s.Book.FilledOrders(contract),
		"cancelled": s.Book.CancelledOrders(contract),
	})
}

func (s *Server) getPositions(c *gin.Context) {
	c.JSON(http.StatusOK, s.Book.OpenPositions())
}

func (s *Server) getTrades(c *gin.Context) {
	c.JSON(http.StatusOK, s.Book.CompletedTrades(c.Query("contract")))
}

func (s *Server) getRuns(c *gin.Context) {
	if s.DB == nil {
		c.JSON(http.StatusOK, []db.RunRecord{})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.DB.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
