package httpcall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/northshop/platform/internal/domain"
	"github.com/northshop/platform/internal/version"
)

// HeaderInternalAuth — заголовок внутреннего shared secret для
// межсервисных вызовов.
const HeaderInternalAuth = "X-Internal-Auth"

const (
	defaultConnectTimeout = 2 * time.Second
	defaultRequestTimeout = 5 * time.Second
	errorBodyLimit        = 2048
)

// Client — JSON-клиент внутреннего HTTP API одного downstream.
// Таймауты соединения и запроса независимы от таймаута вызывающего
// запроса: зависший downstream не может бесконечно держать воркера.
type Client struct {
	name    string
	baseURL string
	secret  string
	http    *http.Client
}

// New создаёт клиент downstream name по базовому URL.
func New(name, baseURL, secret string, connectTimeout, requestTimeout time.Duration) *Client {
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: connectTimeout,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		name:    name,
		baseURL: baseURL,
		secret:  secret,
		http: &http.Client{
			Transport: transport,
			Timeout:   requestTimeout,
		},
	}
}

// errorEnvelope — тело ошибки внутреннего API.
type errorEnvelope struct {
	Error string `json:"error"`
}

// PostJSON выполняет POST path с JSON-телом; при непустом out
// декодирует в него успешный ответ. Транспортные и HTTP-ошибки
// возвращаются уже классифицированными доменным Kind.
func (c *Client) PostJSON(ctx context.Context, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return domain.WrapE(domain.KindValidation, "encode request body", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return domain.WrapE(domain.KindValidation, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if c.secret != "" {
		req.Header.Set(HeaderInternalAuth, c.secret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.WrapE(domain.KindUnavailable, c.name+" is unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return domain.WrapE(domain.KindUnavailable, c.name+" returned malformed response", err)
		}
		return nil
	}

	return c.mapError(resp.StatusCode, resp.Body)
}

// mapError переводит HTTP-статус ответа в доменный Kind:
// 4xx — бизнес-ошибки (не ретраятся), 401/403 — фатальный отказ
// credential, 408/429/5xx — временные сбои.
func (c *Client) mapError(status int, body io.Reader) error {
	message := readErrorMessage(body)
	if message == "" {
		message = fmt.Sprintf("%s returned status %d", c.name, status)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.WrapE(domain.KindAuth, message, domain.ErrInternalAuth)
	case status == http.StatusNotFound:
		return domain.E(domain.KindNotFound, message)
	case status == http.StatusConflict:
		return domain.E(domain.KindConflict, message)
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return domain.E(domain.KindUnavailable, message)
	case status >= 400 && status < 500:
		return domain.E(domain.KindValidation, message)
	default:
		return domain.E(domain.KindUnavailable, message)
	}
}

func readErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, errorBodyLimit))
	if err != nil || len(raw) == 0 {
		return ""
	}

	var envelope errorEnvelope
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error != "" {
		return envelope.Error
	}
	return string(raw)
}
