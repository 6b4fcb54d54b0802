// Package api содержит wire-типы внутреннего и публичного HTTP API.
// Ими пользуются и обработчики, и клиенты-фасады, поэтому форма запросов
// и ответов определена ровно один раз.
package api

import "time"

// ErrorResponse — единый конверт ошибки.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CheckItem — одна позиция запроса доступности.
type CheckItem struct {
	SKU string `json:"sku" binding:"required"`
	Qty int32  `json:"qty" binding:"required,gt=0"`
}

// CheckStockRequest — запрос POST /internal/inventory/check.
type CheckStockRequest struct {
	Items []CheckItem `json:"items" binding:"required,min=1,dive"`
}

// AvailabilityItem — доступность одной позиции.
type AvailabilityItem struct {
	SKU           string `json:"sku"`
	Available     bool   `json:"available"`
	Backorderable bool   `json:"backorderable"`
	OnHand        int32  `json:"on_hand"`
}

// CheckStockResponse — ответ проверки доступности.
type CheckStockResponse struct {
	Items []AvailabilityItem `json:"items"`
}

// ReserveLine — одна линия резерва стока.
type ReserveLine struct {
	SKU       string `json:"sku" binding:"required"`
	Warehouse string `json:"warehouse,omitempty"`
	Qty       int32  `json:"qty" binding:"required,gt=0"`
}

// ReserveStockRequest — запрос POST /internal/inventory/reserve.
type ReserveStockRequest struct {
	OrderID   string        `json:"order_id" binding:"required"`
	Items     []ReserveLine `json:"items" binding:"required,min=1,dive"`
	ExpiresAt time.Time     `json:"expires_at" binding:"required"`
}

// StockReservationResponse — снимок резерва стока.
type StockReservationResponse struct {
	ID        string        `json:"id"`
	OrderID   string        `json:"order_id"`
	Status    string        `json:"status"`
	Lines     []ReserveLine `json:"lines"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// ReasonRequest — опциональная причина release/cancel.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// StockItemRequest — запрос PUT /internal/inventory/items.
type StockItemRequest struct {
	SKU           string `json:"sku" binding:"required"`
	Warehouse     string `json:"warehouse"`
	OnHand        int32  `json:"on_hand" binding:"gte=0"`
	Backorderable bool   `json:"backorderable"`
}

// StockItemResponse — снимок позиции стока.
type StockItemResponse struct {
	SKU           string `json:"sku"`
	Warehouse     string `json:"warehouse"`
	OnHand        int32  `json:"on_hand"`
	Reserved      int32  `json:"reserved"`
	Backorderable bool   `json:"backorderable"`
}

// ReserveCouponRequest — запрос POST /internal/promotions/reserve.
type ReserveCouponRequest struct {
	CouponCode string `json:"coupon_code" binding:"required"`
	OrderID    string `json:"order_id" binding:"required"`
}

// CommitCouponRequest — запрос commit резерва купона.
type CommitCouponRequest struct {
	OrderID string `json:"order_id"`
}

// CouponReservationResponse — снимок резерва купона.
type CouponReservationResponse struct {
	ID         string `json:"id"`
	CouponCode string `json:"coupon_code"`
	OrderID    string `json:"order_id"`
	Status     string `json:"status"`
}

// OrderItemRequest — позиция создаваемого заказа.
type OrderItemRequest struct {
	SKU        string `json:"sku" binding:"required"`
	Qty        int32  `json:"qty" binding:"required,gt=0"`
	PriceMinor int64  `json:"price_minor" binding:"gte=0"`
}

// PlaceOrderRequest — запрос POST /api/orders.
type PlaceOrderRequest struct {
	CustomerID  string             `json:"customer_id" binding:"required"`
	Currency    string             `json:"currency" binding:"required"`
	AmountMinor int64              `json:"amount_minor"`
	CouponCode  string             `json:"coupon_code"`
	Items       []OrderItemRequest `json:"items" binding:"required,min=1,dive"`
}

// StatusChangeResponse — одна запись истории статусов заказа.
type StatusChangeResponse struct {
	From       string    `json:"from"`
	To         string    `json:"to"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// OrderResponse — снимок заказа.
type OrderResponse struct {
	ID            string                 `json:"id"`
	CustomerID    string                 `json:"customer_id"`
	Status        string                 `json:"status"`
	Currency      string                 `json:"currency"`
	AmountMinor   int64                  `json:"amount_minor"`
	CouponCode    string                 `json:"coupon_code,omitempty"`
	Items         []OrderItemRequest     `json:"items"`
	StatusHistory []StatusChangeResponse `json:"status_history,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// OrderListResponse — список заказов покупателя.
type OrderListResponse struct {
	Orders []OrderResponse `json:"orders"`
}

// CouponResponse — снимок купона.
type CouponResponse struct {
	Code          string    `json:"code"`
	BatchID       string    `json:"batch_id"`
	DiscountMinor int64     `json:"discount_minor"`
	UsageLimit    int32     `json:"usage_limit"`
	Committed     int32     `json:"committed"`
	Reserved      int32     `json:"reserved"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`
}

// CouponBatchRequest — запрос POST /api/coupons/batch. Идентификатор
// партии назначает сервис.
type CouponBatchRequest struct {
	Codes         []string  `json:"codes" binding:"required,min=1"`
	DiscountMinor int64     `json:"discount_minor" binding:"gte=0"`
	UsageLimit    int32     `json:"usage_limit" binding:"required,gt=0"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// CouponBatchResponse — результат создания батча купонов.
type CouponBatchResponse struct {
	BatchID string `json:"batch_id"`
	Created int    `json:"created"`
}
