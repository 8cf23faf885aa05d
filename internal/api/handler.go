package api

import (
	"net/http"
	"strconv"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"machine-catalog-backend/internal/apperr"
	"machine-catalog-backend/internal/catalog"
	"machine-catalog-backend/internal/mw"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	svc      *catalog.Service
	db       *gorm.DB
	webpush  *webpush.Options
	maxBytes int64
	log      *zap.SugaredLogger
}

// NewHandler creates a new API handler. db backs the push subscription
// endpoints; maxUpload caps the size of uploaded images.
func NewHandler(svc *catalog.Service, db *gorm.DB, webpushOptions *webpush.Options, maxUpload int64, log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handler{
		svc:      svc,
		db:       db,
		webpush:  webpushOptions,
		maxBytes: maxUpload,
		log:      log,
	}
}

// respond writes res with the status its outcome maps to.
func respond[T any](c *gin.Context, okStatus int, res catalog.Result[T]) {
	if res.Success {
		c.JSON(okStatus, res)
		return
	}
	c.JSON(statusFor(c, res.Kind), res)
}

func statusFor(c *gin.Context, k apperr.Kind) int {
	switch k {
	case apperr.KindValidation:
		return http.StatusUnprocessableEntity
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindPermission:
		if mw.CurrentIdentity(c) == nil {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// badRequest answers a request whose body or path could not be read.
func badRequest[T any](c *gin.Context, field, msg string) {
	fields := apperr.FieldErrors{}
	fields.Add(field, msg)
	respond(c, http.StatusOK, catalog.Fail[T](apperr.Validation("invalid request", fields)))
}

// pathID parses the :id route parameter.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// queryInt reads an integer query parameter, falling back to def when it
// is absent or malformed.
func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	return v
}
