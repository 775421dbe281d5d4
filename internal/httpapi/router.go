// Package httpapi is a local stand-in for the ShoshChat backend.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/shoshchat-widget/internal/httpapi/handlers"
	"github.com/suPer8Hu/shoshchat-widget/internal/httpapi/middleware"
)

// APIPrefix is where every endpoint except /healthz is mounted.
const APIPrefix = "/api/v1"

func NewRouter(h *handlers.Handler, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog(logger))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowHeaders:    []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposeHeaders:   []string{"X-Request-ID"},
	}))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not found."})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"detail": "Method not allowed."})
	})

	r.GET("/healthz", h.Health)

	api := r.Group(APIPrefix)

	// auth
	api.POST("/auth/login/", h.Login)
	api.POST("/auth/refresh/", h.Refresh)

	// chat and the account flows accept anonymous callers, but a bad bearer is
	// still rejected
	public := api.Group("/")
	public.Use(middleware.OptionalAuth(h.JWTSecret()))
	public.POST("/chat/", h.SendChat)
	public.POST("/auth/register/onboard/", h.RegisterOnboard)
	public.POST("/auth/password/reset/", h.RequestPasswordReset)
	public.POST("/auth/password/reset/confirm/", h.ConfirmPasswordReset)
	public.POST("/auth/email/verify/", h.RequestEmailVerification)
	public.POST("/auth/email/verify/confirm/", h.ConfirmEmail)

	authGroup := api.Group("/")
	authGroup.Use(middleware.AuthRequired(h.JWTSecret()))
	authGroup.GET("/auth/me/", h.Me)
	authGroup.GET("/chat/sessions/", h.ListSessions)
	authGroup.GET("/chat/analytics/", h.Analytics)
	authGroup.GET("/tenants/me/", h.CurrentTenant)
	authGroup.PATCH("/tenants/me/settings/", h.UpdateSettings)
	authGroup.POST("/tenants/me/domains/", h.AddDomain)
	authGroup.GET("/tenants/me/embed/", h.EmbedCode)
	return r
}
