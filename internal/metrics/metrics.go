// Package metrics собирает метрики Prometheus сервиса.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mmeshcher/warmconnects/internal/orders"
)

const namespace = "warmconnects"

// Metrics хранит коллекторы в собственном реестре. Методы безопасны для nil-получателя,
// чтобы компоненты можно было создавать без метрик.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	transitions      *prometheus.CounterVec
	walletOperations *prometheus.CounterVec
	expiredOrders    prometheus.Counter
	notifications    *prometheus.CounterVec
}

// New создаёт реестр и регистрирует коллекторы.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Committed order status transitions.",
		}, []string{"from", "to", "event"}),
		walletOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_operations_total",
			Help:      "Committed wallet operations by kind.",
		}, []string{"kind"}),
		expiredOrders: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_expired_total",
			Help:      "Orders cancelled because the seller did not accept them in time.",
		}),
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Outbound transition notifications by result.",
		}, []string{"result"}),
	}
}

// Handler отдаёт метрики в формате Prometheus.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP учитывает обработанный HTTP-запрос.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// OnTransition учитывает зафиксированный переход заказа.
func (m *Metrics) OnTransition(_ context.Context, t orders.Transition) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(t.Change.From), string(t.Change.To), string(t.Change.Event)).Inc()
}

// WalletOperation учитывает пополнение или вывод средств.
func (m *Metrics) WalletOperation(kind string) {
	if m == nil {
		return
	}
	m.walletOperations.WithLabelValues(kind).Inc()
}

// OrderExpired учитывает заказ, отменённый по таймауту.
func (m *Metrics) OrderExpired() {
	if m == nil {
		return
	}
	m.expiredOrders.Inc()
}

// Notification учитывает результат отправки уведомления: sent, failed или dropped.
func (m *Metrics) Notification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}
