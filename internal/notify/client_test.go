package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/warmconnects/internal/model"
	"github.com/mmeshcher/warmconnects/internal/orders"
)

func TestSend_OK(t *testing.T) {
	orderID := uuid.New()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %q, want application/json", ct)
		}

		var ev Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Errorf("decode: %v", err)
		}
		if ev.OrderID != orderID || ev.To != model.StatusAccepted {
			t.Errorf("unexpected event: %+v", ev)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	code, retry, err := client.Send(ctx, Event{OrderID: orderID, To: model.StatusAccepted, Event: model.EventAccept})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if code != http.StatusAccepted {
		t.Fatalf("status code = %d, want %d", code, http.StatusAccepted)
	}
	if retry != 0 {
		t.Fatalf("retryAfter = %v, want 0", retry)
	}
}

func TestSend_TooManyRequests(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	code, retry, err := client.Send(context.Background(), Event{})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if code != http.StatusTooManyRequests {
		t.Fatalf("status code = %d, want %d", code, http.StatusTooManyRequests)
	}
	if retry != 5*time.Second {
		t.Fatalf("retryAfter = %v, want 5s", retry)
	}
}

func TestSend_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	_, _, err := NewClient(ts.URL).Send(context.Background(), Event{})
	if err == nil {
		t.Fatalf("expected error for 500 response")
	}
}

func TestSend_NotConfigured(t *testing.T) {
	_, _, err := NewClient("").Send(context.Background(), Event{})
	if err == nil {
		t.Fatalf("expected error for empty endpoint")
	}
}

func TestNotifier_DeliversQueuedTransitions(t *testing.T) {
	var (
		mu       sync.Mutex
		received []Event
		calls    int
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		var ev Event
		_ = json.NewDecoder(r.Body).Decode(&ev)
		received = append(received, ev)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	n := New(NewClient(ts.URL), 4, zap.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = n.Run(ctx)
		close(done)
	}()

	orderID := uuid.New()
	n.OnTransition(ctx, orders.Transition{
		OrderID: orderID,
		Number:  "WC-1",
		Change:  model.StatusChange{From: model.StatusDelivered, To: model.StatusApproved, Event: model.EventApprove, ActorID: 7},
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		got := len(received)
		mu.Unlock()
		if got == 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("received %d events, want 1", len(received))
	}
	if received[0].OrderID != orderID || received[0].ActorID != 7 || received[0].OrderNumber != "WC-1" {
		t.Fatalf("unexpected event: %+v", received[0])
	}
}

func TestNotifier_DropsWhenQueueFull(t *testing.T) {
	n := New(NewClient(""), 1, zap.NewNop(), nil)

	n.OnTransition(context.Background(), orders.Transition{})
	n.OnTransition(context.Background(), orders.Transition{})

	if len(n.queue) != 1 {
		t.Fatalf("queue length = %d, want 1", len(n.queue))
	}
}
