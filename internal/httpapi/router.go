package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/northshop/platform/internal/domain"
	"github.com/northshop/platform/internal/metrics"
	"github.com/northshop/platform/internal/storage/memory"
)

const (
	defaultPendingTTL   = time.Minute
	defaultCompletedTTL = 24 * time.Hour
)

// RouterOptions — общие зависимости HTTP-слоя сервиса.
type RouterOptions struct {
	Logger  *log.Entry
	Metrics *metrics.HTTPMetrics

	// InternalToken — shared secret маршрутов /internal.
	InternalToken string

	// IdempotencyStore и TTL — фильтр публичных мутаций.
	IdempotencyStore domain.IdempotencyStore
	PendingTTL       time.Duration
	CompletedTTL     time.Duration
}

func (o *RouterOptions) normalize(component string) {
	if o.Logger == nil {
		o.Logger = log.WithField("component", component)
	}
	if o.PendingTTL <= 0 {
		o.PendingTTL = defaultPendingTTL
	}
	if o.CompletedTTL <= 0 {
		o.CompletedTTL = defaultCompletedTTL
	}
	// Фильтр обязан работать на каждом защищённом маршруте: сборка без
	// внешнего хранилища получает in-memory запасной вариант.
	if o.IdempotencyStore == nil {
		o.IdempotencyStore = memory.NewIdempotencyStore()
	}
}

// newEngine создаёт gin-роутер с общими middleware.
func newEngine(opts RouterOptions) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(Observe(opts.Metrics, opts.Logger))
	return engine
}

// idempotent оборачивает публичную мутацию idempotency-фильтром.
func idempotent(opts RouterOptions) gin.HandlerFunc {
	return Idempotency(opts.IdempotencyStore, opts.Metrics, opts.Logger, opts.PendingTTL, opts.CompletedTTL)
}
