package handlers

import (
	"net/http"
	"time"

	"github.com/SAP-F-2025/workshop-progress/internal/config"
	"github.com/SAP-F-2025/workshop-progress/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
)

// NewRouter builds the gin engine with logging middleware and all routes.
func NewRouter(hm *HandlerManager, logger utils.Logger, environment string) *gin.Engine {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(utils.LoggerMiddleware(logger))
	router.Use(utils.ContextLogger(logger))
	hm.SetupRoutes(router)
	return router
}

// CorsSettings allows the browser client to call the API with its session
// cookie.
func CorsSettings(allowedOrigins []string, debug bool) *cors.Cors {
	return cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		Debug:            debug,
	})
}

// NewServer wraps the router in CORS handling.
func NewServer(cfg *config.Config, router *gin.Engine) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           CorsSettings(cfg.AllowedOrigins, false).Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
