package httpapi

import (
	"bytes"
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/northshop/platform/internal/api"
	"github.com/northshop/platform/internal/domain"
	"github.com/northshop/platform/internal/httpcall"
	"github.com/northshop/platform/internal/metrics"
)

// HeaderIdempotencyKey — заголовок клиентского idempotency-ключа на
// публичных мутациях.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	storeOpTimeout = 2 * time.Second

	// fallbackReplayContentType используется при replay записей, сохранённых
	// до того, как снимок ответа стал включать Content-Type.
	fallbackReplayContentType = "application/json; charset=utf-8"
)

// Observe — access-лог и HTTP-метрики запроса.
func Observe(m *metrics.HTTPMetrics, logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		if m != nil {
			m.RecordInFlightStarted()
		}

		c.Next()

		duration := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		if m != nil {
			m.RecordRequest(c.Request.Method, route, status, duration)
			m.RecordInFlightFinished()
		}

		entry := logger.WithFields(log.Fields{
			"method":      c.Request.Method,
			"route":       route,
			"status":      status,
			"duration_ms": duration.Milliseconds(),
		})
		if status >= 500 {
			entry.Error("request failed")
		} else {
			entry.Info("request handled")
		}
	}
}

// InternalAuth отклоняет внутренние запросы без корректного shared secret:
// 401 — заголовок не передан вовсе, 403 — передан, но не совпал.
// Пустой настроенный secret закрывает маршруты полностью: отсутствие
// конфигурации не должно открывать внутренний API.
func InternalAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader(httpcall.HeaderInternalAuth)
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, api.ErrorResponse{Error: domain.ErrInternalAuth.Error()})
			return
		}
		if secret == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, api.ErrorResponse{Error: domain.ErrInternalAuth.Error()})
			return
		}
		c.Next()
	}
}

// bodyCaptureWriter снимает копию тела ответа для последующего replay.
type bodyCaptureWriter struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *bodyCaptureWriter) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyCaptureWriter) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency — фильтр публичных мутаций по заголовку Idempotency-Key.
// Заголовок опционален: запрос без ключа проходит к обработчику без
// дедупликации и хранилище не трогает. Ключ действует в рамках
// (key, route): тот же ключ на другом маршруте — независимый запрос.
// Завершённый ответ воспроизводится дословно, конкурентный дубликат
// получает conflict, ответ 5xx не кэшируется.
func Idempotency(store domain.IdempotencyStore, m *metrics.HTTPMetrics, logger *log.Entry, pendingTTL, completedTTL time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if key == "" {
			c.Next()
			return
		}

		route := c.Request.Method + " " + c.FullPath()
		claim, record, err := store.Claim(c.Request.Context(), key, route, pendingTTL)
		if err != nil {
			writeError(c, err)
			c.Abort()
			return
		}

		switch claim {
		case domain.ClaimCompleted:
			if m != nil {
				m.RecordIdempotentReplay()
			}
			contentType := record.ContentType
			if contentType == "" {
				contentType = fallbackReplayContentType
			}
			c.Data(record.HTTPStatus, contentType, record.ResponseBody)
			c.Abort()
			return
		case domain.ClaimInFlight:
			if m != nil {
				m.RecordIdempotentConflict()
			}
			writeError(c, domain.ErrIdempotencyInFlight)
			c.Abort()
			return
		}

		capture := &bodyCaptureWriter{ResponseWriter: c.Writer}
		c.Writer = capture

		c.Next()

		// Контекст запроса к этому моменту мог быть отменён клиентом,
		// судьбу записи решаем на отдельном таймауте.
		ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
		defer cancel()

		status := capture.Status()
		if status >= 500 {
			// Недетерминированный сбой: освобождаем ключ под честный retry.
			if err := store.Drop(ctx, key, route); err != nil {
				logger.WithError(err).WithField("route", route).
					Warn("failed to drop idempotency record")
			}
			return
		}

		if err := store.Complete(ctx, key, route, status, capture.Header().Get("Content-Type"), capture.buf.Bytes(), completedTTL); err != nil {
			logger.WithError(err).WithField("route", route).
				Warn("failed to complete idempotency record")
		}
	}
}
