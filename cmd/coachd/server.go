package main

import (
	"context"
	"net/http"
	"os"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	coachengine "github.com/airfit/coachengine"
	"github.com/airfit/coachengine/coacherr"
	"github.com/airfit/coachengine/coachtools"
	"github.com/airfit/coachengine/models"
	"github.com/airfit/coachengine/scheduler"
	"github.com/airfit/coachengine/secrets"
	"github.com/airfit/coachengine/sessions"
	"github.com/airfit/coachengine/stores"
	"github.com/airfit/coachengine/transport"
)

func runServer(cfg settings) error {
	logger := newLogger(cfg.LogLevel)

	store, err := stores.NewStore(stores.NewStoreConfig(cfg.DBType, cfg.DB))
	if err != nil {
		return err
	}
	defer store.Close()

	var traces stores.TraceStore
	if db, ok := store.(interface{ DB() *gorm.DB }); ok {
		traces, err = stores.NewGORMTraceStore(db.DB())
		if err != nil {
			return err
		}
	}

	var backend secrets.Backend = secrets.EnvBackend{}
	if cfg.SecretsFile != "" {
		backend, err = secrets.NewFileBackend(cfg.SecretsFile, os.Getenv("COACHD_SECRETS_KEY"))
		if err != nil {
			return err
		}
	}
	secretStore := secrets.NewStore(backend, logger)

	registry := coachengine.NewRegistry(logger)
	if err := coachtools.RegisterAll(registry); err != nil {
		return err
	}

	profiles := &profileState{}
	contextState := &contextSource{}
	refresher := scheduler.New(contextState, logger, scheduler.WithSchedule(cfg.RefreshSchedule))
	if err := refresher.Start(); err != nil {
		return err
	}
	defer refresher.Stop()

	configSource := coachengine.NewConfigSource(
		coachengine.NewConfig().
			WithProvider(cfg.Provider).
			WithModel(cfg.Model).
			WithTemperature(cfg.Temperature),
	)

	orchestrator := coachengine.NewOrchestrator(configSource, coachengine.Collaborators{
		Secrets:    secretStore,
		Client:     transport.NewClient(logger),
		Store:      store,
		Traces:     traces,
		Contexts:   refresher,
		Personas:   profiles,
		Dispatcher: registry,
		Schemas:    registry.Schemas(),
	}, logger)

	srv := &server{
		orchestrator: orchestrator,
		store:        store,
		traces:       traces,
		secrets:      secretStore,
		config:       configSource,
		profiles:     profiles,
		contexts:     contextState,
		logger:       logger,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	srv.routes(router)

	logger.Info().Str("addr", cfg.Addr).Str("provider", cfg.Provider).Str("model", cfg.Model).Msg("coachd listening")
	return router.Run(cfg.Addr)
}

type server struct {
	orchestrator *coachengine.Orchestrator
	store        stores.TurnStore
	traces       stores.TraceStore
	secrets      *secrets.Store
	config       *coachengine.ConfigSource
	profiles     *profileState
	contexts     *contextSource
	logger       zerolog.Logger
}

func (s *server) routes(router *gin.Engine) {
	router.GET("/healthz", s.handleHealth)

	api := router.Group("/api/v1")
	api.POST("/chat/:conversationID/stream", s.handleChatStream)
	api.GET("/ws", s.handleWebSocket)

	api.GET("/conversations", s.handleListConversations)
	api.GET("/conversations/:conversationID/history", s.handleHistory)
	api.GET("/conversations/:conversationID/traces", s.handleTraces)

	api.GET("/secrets", s.handleListSecrets)
	api.PUT("/secrets/:provider", s.handleSaveSecret)
	api.DELETE("/secrets/:provider", s.handleDeleteSecret)

	api.PUT("/config", s.handleUpdateConfig)
	api.PUT("/profile", s.handleUpdateProfile)
	api.PUT("/context", s.handleUpdateContext)
}

func (s *server) handleHealth(c *gin.Context) {
	if err := s.store.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type chatRequest struct {
	Message string `json:"message" binding:"required"`
}

func (s *server) handleChatStream(c *gin.Context) {
	conversationID := c.Param("conversationID")

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	session := sessions.NewSSESession(s.orchestrator, s.logger)
	writer := &ginSSEWriter{c: c}
	if err := session.Stream(c.Request.Context(), conversationID, req.Message, writer); err != nil {
		s.logger.Debug().Str("kind", string(coacherr.KindOf(err))).Msg("sse stream ended with error")
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	session := sessions.NewWebSocketSession(c.Query("conversation_id"), conn, s.orchestrator, s.logger)
	session.Run(context.Background())
}

func (s *server) handleListConversations(c *gin.Context) {
	if userID := c.Query("user_id"); userID != "" {
		infos, err := s.store.ListConversationsForUser(userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"conversations": infos})
		return
	}

	ids, err := s.store.ListConversations()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": ids})
}

func (s *server) handleHistory(c *gin.Context) {
	turns, err := s.store.FetchHistory(c.Param("conversationID"), 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": turns})
}

func (s *server) handleTraces(c *gin.Context) {
	if s.traces == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "tracing is not enabled"})
		return
	}
	traces, err := s.traces.GetTracesByConversation(c.Param("conversationID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"traces": traces})
}

func (s *server) handleListSecrets(c *gin.Context) {
	configured, err := s.secrets.ListConfigured()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"configured": configured})
}

type secretRequest struct {
	Key string `json:"key" binding:"required"`
}

func (s *server) handleSaveSecret(c *gin.Context) {
	var req secretRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.secrets.Save(c.Param("provider"), req.Key); err != nil {
		status := http.StatusInternalServerError
		if coacherr.KindOf(err) == coacherr.KindInvalidSecretFormat {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": coacherr.UserMessage(err)})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) handleDeleteSecret(c *gin.Context) {
	if err := s.secrets.Delete(c.Param("provider")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": coacherr.UserMessage(err)})
		return
	}
	c.Status(http.StatusNoContent)
}

type configRequest struct {
	Provider    string   `json:"provider"`
	Model       string   `json:"model"`
	Temperature *float64 `json:"temperature"`
}

func (s *server) handleUpdateConfig(c *gin.Context) {
	var req configRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg := s.config.Snapshot()
	if req.Provider != "" {
		cfg = cfg.WithProvider(req.Provider)
	}
	if req.Model != "" {
		cfg = cfg.WithModel(req.Model)
	}
	if req.Temperature != nil {
		cfg = cfg.WithTemperature(*req.Temperature)
	}
	s.config.Update(cfg)
	c.JSON(http.StatusOK, gin.H{"provider": cfg.Provider, "model": cfg.Model})
}

func (s *server) handleUpdateProfile(c *gin.Context) {
	var profile models.PersonaProfile
	if err := c.ShouldBindJSON(&profile); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.profiles.set(profile)
	c.Status(http.StatusNoContent)
}

func (s *server) handleUpdateContext(c *gin.Context) {
	var snapshot models.ContextSnapshot
	if err := c.ShouldBindJSON(&snapshot); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.contexts.set(snapshot)
	c.Status(http.StatusNoContent)
}

// ginSSEWriter implements the session SSE writer over a gin context.
type ginSSEWriter struct {
	c *gin.Context
}

func (w *ginSSEWriter) WriteSSE(data string) error {
	w.c.SSEvent("message", data)
	return nil
}

func (w *ginSSEWriter) WriteSSEError(err error) error {
	w.c.SSEvent("error", coacherr.UserMessage(err))
	w.c.Writer.Flush()
	return nil
}

func (w *ginSSEWriter) Flush() {
	w.c.Writer.Flush()
}

// profileState holds the last persona pushed by the client app.
type profileState struct {
	mu      sync.RWMutex
	profile models.PersonaProfile
	loaded  bool
}

func (p *profileState) set(profile models.PersonaProfile) {
	p.mu.Lock()
	p.profile = profile
	p.loaded = true
	p.mu.Unlock()
}

func (p *profileState) Profile(context.Context) (models.PersonaProfile, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.loaded {
		return models.PersonaProfile{}, coacherr.New(coacherr.KindContextUnavailable, "no persona configured")
	}
	return p.profile, nil
}

// contextSource holds the last context snapshot pushed by the client app.
// The scheduler refresher polls it to keep its cache current.
type contextSource struct {
	mu       sync.RWMutex
	snapshot models.ContextSnapshot
	loaded   bool
}

func (s *contextSource) set(snapshot models.ContextSnapshot) {
	s.mu.Lock()
	s.snapshot = snapshot
	s.loaded = true
	s.mu.Unlock()
}

func (s *contextSource) Snapshot(context.Context) (models.ContextSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		return models.ContextSnapshot{}, coacherr.New(coacherr.KindContextUnavailable, "no context snapshot available")
	}
	return s.snapshot, nil
}
