package api

import (
	"net/http"
	"strings"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"machine-catalog-backend/config"
	"machine-catalog-backend/internal/auth"
	"machine-catalog-backend/internal/catalog"
	"machine-catalog-backend/internal/metrics"
	"machine-catalog-backend/internal/mw"
)

// RouterDeps are the collaborators the HTTP surface is built from.
type RouterDeps struct {
	Service  *catalog.Service
	DB       *gorm.DB
	WebPush  *webpush.Options
	Resolver *auth.Resolver
	Metrics  *metrics.Metrics
	Server   config.ServerConfig
	// MaxUpload caps uploaded image size in bytes.
	MaxUpload int64
	// ImagesDir, when set, is served read-only under ImagesURL.
	ImagesDir string
	ImagesURL string
	Log       *zap.SugaredLogger
}

// NewRouter creates and configures a new Gin router.
func NewRouter(d RouterDeps) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(d.Service, d.DB, d.WebPush, d.MaxUpload, d.Log)

	rateLimiter := mw.RateLimiter(rate.Limit(d.Server.RateLimitPerSec), d.Server.RateLimitBurst)
	responses := mw.NewResponseCache(d.Server.CacheTTL)
	caching := responses.Cache()

	r.GET("/healthz", healthz(d.DB))
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}
	if d.ImagesDir != "" && strings.HasPrefix(d.ImagesURL, "/") {
		r.Static(d.ImagesURL, d.ImagesDir)
	}

	api := r.Group("/api")
	api.Use(rateLimiter, mw.Authenticate(d.Resolver), responses.Invalidator())
	{
		api.GET("/machines", caching, handler.ListMachines)
		api.GET("/machines/:id", caching, handler.GetMachine)
		api.POST("/machines", handler.CreateMachine)
		api.PUT("/machines/:id", handler.EditMachine)
		api.PATCH("/machines/:id", handler.UpdateMachineMeta)
		api.PUT("/machines/:id/placements", handler.ReplacePlacements)
		api.DELETE("/machines/:id", handler.DeleteMachine)

		api.GET("/parts", caching, handler.ListParts)
		api.GET("/parts/:id", caching, handler.GetPart)
		api.POST("/parts", handler.CreatePart)
		api.PUT("/parts/:id", handler.UpdatePart)
		api.DELETE("/parts/:id", handler.DeletePart)

		api.POST("/uploads", handler.UploadImage)

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	// Assignment changes alter what restricted users see, so they flush the
	// response cache too.
	external := r.Group("/external")
	external.Use(rateLimiter, mw.RequireAPIKey(d.Server.ExternalAPIKey), responses.Invalidator())
	{
		external.GET("/machines", handler.ListMachineRefs)
		external.POST("/user-machines", handler.AssignMachines)
		external.DELETE("/user-machines/:userId/:machineId", handler.UnassignMachine)
	}

	return r
}

func healthz(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
