// Package httpapi — HTTP-слой сервисов платформы: роутеры gin,
// idempotency-фильтр публичных мутаций и защита внутренних маршрутов.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/northshop/platform/internal/api"
	"github.com/northshop/platform/internal/domain"
)

// statusForKind переводит доменный Kind в HTTP-статус ответа.
// Обратное преобразование выполняет httpcall на вызывающей стороне.
func statusForKind(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindAuth:
		return http.StatusUnauthorized
	case domain.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError отдаёт ошибку в едином конверте {"error": ...}.
func writeError(c *gin.Context, err error) {
	c.JSON(statusForKind(domain.KindOf(err)), api.ErrorResponse{Error: err.Error()})
}

// writeBindingError отдаёт 400 для ошибок разбора запроса.
func writeBindingError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
}
