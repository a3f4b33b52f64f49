package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/fan-verify/internal/apperr"
	"github.com/example/fan-verify/internal/auth"
	"github.com/example/fan-verify/internal/logging"
	"github.com/example/fan-verify/internal/repository"
	"github.com/example/fan-verify/internal/usecase"
	"github.com/example/fan-verify/internal/visionclassifier"
)

// classifierRetryAfterSeconds is advertised when the classifier is unavailable.
const classifierRetryAfterSeconds = 30

// VerificationService is the verification flow used by the routes.
type VerificationService interface {
	VerifyIdentity(ctx context.Context, userID string, document, selfie visionclassifier.Image) (*usecase.VerificationResult, error)
	SaveResult(ctx context.Context, userID string, faceVerified bool, confidence *float64) (string, error)
	CompleteVerification(ctx context.Context, userID string) (string, error)
	GetStatus(ctx context.Context, sessionUserID, targetUserID string) (*usecase.StatusView, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

// AccountService is the account flow used by the routes.
type AccountService interface {
	Register(ctx context.Context, in usecase.RegisterInput) (*usecase.Session, error)
	Login(ctx context.Context, email, password string) (*usecase.Session, error)
	GoogleLogin(ctx context.Context, idToken string) (*usecase.Session, error)
	Me(ctx context.Context, userID string) (*repository.User, error)
	UserExists(ctx context.Context, userID string) (bool, error)
}

// Dependencies groups everything RegisterRoutes needs.
type Dependencies struct {
	Verification VerificationService
	Accounts     AccountService
	Tokens       *auth.TokenManager
	// MetricsHandler is mounted on /metrics when set.
	MetricsHandler http.Handler
	Logger         *zap.Logger
	Development    bool
	MaxImageBytes  int64
	Cookie         auth.CookieOptions
}

type server struct {
	Dependencies
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, deps Dependencies) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.MaxImageBytes <= 0 {
		deps.MaxImageBytes = usecase.DefaultOptions.MaxImageBytes
	}
	s := &server{Dependencies: deps}

	router.Use(s.recovery(), func(c *gin.Context) {
		c.Header("Cross-Origin-Opener-Policy", "same-origin-allow-popups")
		c.Next()
	})

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "API Furia Backend está ativa!"})
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP"})
	})
	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	protect := auth.JWTMiddleware(deps.Tokens, deps.Accounts.UserExists, deps.Logger)

	authGroup := router.Group("/api/auth")
	authGroup.POST("/register", s.register)
	authGroup.POST("/login", s.login)
	authGroup.POST("/google", s.googleLogin)
	authGroup.POST("/logout", s.logout)
	authGroup.GET("/me", protect, s.me)

	verification := router.Group("/api/verification", protect)
	verification.POST("/verify-identity", s.verifyIdentity)
	verification.POST("/save-result", s.saveResult)
	verification.POST("/complete-verification", s.completeVerification)
	verification.GET("/status", s.status)
	verification.GET("/status/:userId", s.status)
	verification.GET("/summary", s.summary)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Rota não encontrada"})
	})
}

// respondError renders err as {success:false, message}. The raw error is
// only echoed in development.
func (s *server) respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	if kind == apperr.KindClassifierUnavailable {
		c.Header("Retry-After", strconv.Itoa(classifierRetryAfterSeconds))
	}

	body := gin.H{"success": false, "message": apperr.Message(err)}
	if s.Development {
		body["error"] = err.Error()
	}
	// Storage and classifier failures are logged by the use case.
	if kind == apperr.KindInternal {
		logging.WithOperation(s.Logger, "http."+c.FullPath(), logging.RequestID(c)).Error("request failed", logging.ErrorFields(err)...)
	}
	c.AbortWithStatusJSON(status, body)
}

func (s *server) recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		s.Logger.Error("panic recovered",
			zap.Any("panic", recovered),
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", logging.RequestID(c)),
		)
		body := gin.H{"success": false, "message": "Erro interno no servidor"}
		if s.Development {
			body["error"] = fmt.Sprint(recovered)
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, body)
	})
}

func sessionUserID(c *gin.Context) string {
	id, _ := auth.GetUserID(c.Request.Context())
	return id
}
