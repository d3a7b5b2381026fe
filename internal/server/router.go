package server

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/guide-on-the-side/internal/auth"
	"github.com/MarcoPoloResearchLab/guide-on-the-side/internal/slides"
	"github.com/MarcoPoloResearchLab/guide-on-the-side/internal/tutorials"
	"github.com/MarcoPoloResearchLab/guide-on-the-side/internal/uploads"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	authorSubjectContextKey  = "guide_author_subject"
	accessTokenQueryParam    = "access_token"
	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingTutorialsService = errors.New("tutorials service dependency required")
	errMissingUploadStore      = errors.New("upload store dependency required")
)

// SessionAuthenticator validates author sessions carried by a request.
type SessionAuthenticator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
	ValidateToken(token string) (auth.SessionClaims, error)
}

type Dependencies struct {
	Sessions          SessionAuthenticator
	TutorialsService  *tutorials.Service
	UploadStore       *uploads.Store
	Realtime          *RealtimeDispatcher
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionValidator
	}
	if deps.TutorialsService == nil {
		return nil, errMissingTutorialsService
	}
	if deps.UploadStore == nil {
		return nil, errMissingUploadStore
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		sessions:  deps.Sessions,
		tutorials: deps.TutorialsService,
		uploads:   deps.UploadStore,
		realtime:  realtime,
		heartbeat: heartbeat,
		logger:    logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.Static(uploads.URLPrefix, deps.UploadStore.BaseDir())

	api := router.Group("/api")
	api.GET("/tutorials/:id/public", handler.handleGetPublicTutorial)

	protected := api.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/tutorials", handler.handleListTutorials)
	protected.POST("/tutorials", handler.handleCreateTutorial)
	protected.GET("/tutorials/:id", handler.handleGetTutorial)
	protected.PUT("/tutorials/:id", handler.handleUpdateTutorial)
	protected.DELETE("/tutorials/:id", handler.handleDeleteTutorial)
	protected.GET("/tutorials/:id/events", handler.handleTutorialEvents)
	protected.POST("/uploads", handler.handleUpload)

	return router, nil
}

type httpHandler struct {
	sessions  SessionAuthenticator
	tutorials *tutorials.Service
	uploads   *uploads.Store
	realtime  *RealtimeDispatcher
	heartbeat time.Duration
	logger    *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "If-Match", "Last-Event-ID"},
		ExposeHeaders:    []string{"ETag"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(started)),
		)
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.authenticate(c)
	if err != nil {
		h.logger.Warn("session validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(authorSubjectContextKey, claims.Subject)
	c.Next()
}

// authenticate accepts the access_token query parameter as a last resort
// because EventSource cannot set request headers.
func (h *httpHandler) authenticate(c *gin.Context) (auth.SessionClaims, error) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err == nil {
		return claims, nil
	}
	if token := strings.TrimSpace(c.Query(accessTokenQueryParam)); token != "" && errors.Is(err, auth.ErrMissingSessionToken) {
		return h.sessions.ValidateToken(token)
	}
	return auth.SessionClaims{}, err
}

type serviceError interface {
	error
	Code() string
}

func (h *httpHandler) respondServiceError(c *gin.Context, err error, fallback string) {
	status, message := classifyServiceError(err, fallback)
	payload := gin.H{"error": message}
	var coded serviceError
	if errors.As(err, &coded) {
		payload["code"] = coded.Code()
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, payload)
}

func classifyServiceError(err error, fallback string) (int, string) {
	switch {
	case errors.Is(err, tutorials.ErrInvalidTutorialID):
		return http.StatusBadRequest, "invalid_tutorial_id"
	case errors.Is(err, tutorials.ErrInvalidTitle):
		return http.StatusBadRequest, "invalid_title"
	case errors.Is(err, tutorials.ErrInvalidStatus):
		return http.StatusBadRequest, "invalid_status"
	case errors.Is(err, slides.ErrInvalidPane):
		return http.StatusBadRequest, "invalid_pane"
	case errors.Is(err, tutorials.ErrTutorialNotFound):
		return http.StatusNotFound, "tutorial_not_found"
	case errors.Is(err, tutorials.ErrTutorialUnavailable):
		return http.StatusForbidden, "tutorial_not_available"
	case errors.Is(err, tutorials.ErrVersionConflict):
		return http.StatusConflict, "version_conflict"
	case errors.Is(err, uploads.ErrMissingFile):
		return http.StatusBadRequest, uploads.ErrMissingFile.Error()
	case errors.Is(err, uploads.ErrInvalidType):
		return http.StatusBadRequest, uploads.ErrInvalidType.Error()
	case errors.Is(err, uploads.ErrImageTooLarge):
		return http.StatusBadRequest, uploads.ErrImageTooLarge.Error()
	case errors.Is(err, uploads.ErrFileTooLarge):
		return http.StatusBadRequest, uploads.ErrFileTooLarge.Error()
	default:
		return http.StatusInternalServerError, fallback
	}
}
