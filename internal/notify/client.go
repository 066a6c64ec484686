// Package notify доставляет уведомления о переходах заказов во внешний сервис рассылки.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/warmconnects/internal/model"
)

// Event: тело уведомления о переходе заказа.
type Event struct {
	OrderID     uuid.UUID         `json:"order_id"`
	OrderNumber string            `json:"order_number"`
	BuyerID     int64             `json:"buyer_id"`
	SellerID    int64             `json:"seller_id"`
	From        model.OrderStatus `json:"from,omitempty"`
	To          model.OrderStatus `json:"to"`
	Event       model.OrderEvent  `json:"event"`
	ActorID     int64             `json:"actor_id"`
	At          time.Time         `json:"at"`
}

// Client инкапсулирует HTTP-взаимодействие с сервисом уведомлений.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient создаёт HTTP-клиент для отправки уведомлений на указанный адрес.
func NewClient(endpoint string) *Client {
	endpoint = strings.TrimRight(endpoint, "/")
	if endpoint != "" && !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "http://" + endpoint
	}

	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Send отправляет уведомление. Для ответа 429 возвращает задержку из Retry-After без ошибки.
func (c *Client) Send(ctx context.Context, ev Event) (int, time.Duration, error) {
	if c == nil || c.endpoint == "" {
		return 0, 0, fmt.Errorf("notify client not configured")
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return 0, 0, fmt.Errorf("encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return resp.StatusCode, retryAfter, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return resp.StatusCode, 0, nil
}
