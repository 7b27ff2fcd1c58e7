package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mailhoard/mailhoard/config"
	"github.com/mailhoard/mailhoard/interfaces"
	"github.com/mailhoard/mailhoard/internal/app"
	"github.com/mailhoard/mailhoard/internal/logger"
	"github.com/mailhoard/mailhoard/services/status"
)

// Server is the read-only JSON dashboard over one working tree: live
// sync status, run history, recent pulls and search.
type Server struct {
	config     *config.Config
	httpServer *http.Server
	router     *gin.Engine
	app        *app.App
	log        logger.Logger
}

func NewServer(cfg *config.Config, a *app.App, log logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		config: cfg,
		router: router,
		app:    a,
		log:    log,
		httpServer: &http.Server{
			Addr:    ":" + cfg.AppConfig.DashboardPort,
			Handler: router,
		},
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.health)

	api := s.router.Group("/api")
	api.GET("/status", s.syncStatus)
	api.GET("/runs", s.recentRuns)
	api.GET("/pulls/recent", s.recentPulls)
	api.GET("/pulls/hourly", s.pullsByHour)
	api.GET("/search", s.search)
	api.GET("/thread/:messageID", s.thread)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// syncStatus reports the live status file, or idle when no sync is
// running.
func (s *Server) syncStatus(c *gin.Context) {
	st, err := status.Read(s.app.Paths.StatusFile())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if st == nil {
		c.JSON(http.StatusOK, gin.H{"running": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"running": true, "status": st})
}

func (s *Server) recentRuns(c *gin.Context) {
	limit := intQuery(c, "limit", 20)
	runs, err := s.app.Repositories.SyncRunRepository.GetRecentRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) recentPulls(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	pulls, err := s.app.Repositories.PulledMessageRepository.GetRecentPulls(c.Request.Context(), limit, true)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pulls": pulls})
}

func (s *Server) pullsByHour(c *gin.Context) {
	hours := intQuery(c, "hours", 24)
	account := c.Query("account")
	buckets, err := s.app.Repositories.PulledMessageRepository.GetPullsByHour(c.Request.Context(), hours, account)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"hours": hours, "buckets": buckets})
}

type searchResult struct {
	MessageID string  `json:"message_id"`
	Score     float64 `json:"score"`
	Subject   string  `json:"subject,omitempty"`
	Path      string  `json:"path,omitempty"`
	FromAddr  string  `json:"from,omitempty"`
}

// search runs the full-text query and joins each hit with the file
// index for its path and pull metadata. Optional account and folder
// query params keep only hits pulled under that scope.
func (s *Server) search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing query parameter q"})
		return
	}
	limit := intQuery(c, "limit", 20)
	offset := intQuery(c, "offset", 0)
	ctx := c.Request.Context()

	var filter *interfaces.SearchFilter
	if account, folder := c.Query("account"), c.Query("folder"); account != "" || folder != "" {
		filter = &interfaces.SearchFilter{Account: account, Folder: folder}
	}
	hits, err := s.app.FTS.Search(ctx, query, limit, offset, filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	results := make([]searchResult, 0, len(hits))
	for _, hit := range hits {
		result := searchResult{MessageID: hit.MessageID, Score: hit.Score}
		if file, err := s.app.FileIndex.GetByMessageID(ctx, hit.MessageID); err == nil && file != nil {
			result.Subject = file.Subject
			result.Path = file.Path
			result.FromAddr = file.FromAddr
		} else if pulled, err := s.app.Repositories.PulledMessageRepository.GetByMessageID(ctx, hit.MessageID); err == nil && pulled != nil {
			result.Subject = pulled.Subject
			result.Path = pulled.LocalPath
			result.FromAddr = pulled.FromAddr
		}
		results = append(results, result)
	}
	c.JSON(http.StatusOK, gin.H{"query": query, "results": results})
}

func (s *Server) thread(c *gin.Context) {
	messageID := c.Param("messageID")
	members, err := s.app.Threads.Thread(c.Request.Context(), messageID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(members) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message_id": messageID, "messages": members})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// Run starts the HTTP server and blocks until SIGINT/SIGTERM.
func (s *Server) Run() error {
	go func() {
		s.log.Infof("dashboard listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("http server error: %v", err)
		}
	}()

	return s.waitForShutdown()
}

func (s *Server) waitForShutdown() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	s.log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
