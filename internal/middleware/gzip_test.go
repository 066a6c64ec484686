package middleware

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderBody struct {
	ServiceID string `json:"service_id"`
	Quantity  int    `json:"quantity"`
}

// echoOrder отвечает номером заказа для тела с service_id и 204 для пустого тела.
func echoOrder(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(raw) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var req orderBody
	if err := json.Unmarshal(raw, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"order_number": "WC-20260314150926-1234568",
		"service_id":   req.ServiceID,
		"quantity":     req.Quantity,
	})
}

func gzipped(t *testing.T, s string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return &buf
}

func readBody(t *testing.T, res *http.Response) string {
	t.Helper()
	var r io.Reader = res.Body
	if res.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(res.Body)
		require.NoError(t, err)
		defer zr.Close()
		r = zr
	}
	raw, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(raw)
}

func TestGzipMiddleware(t *testing.T) {
	const order = `{"service_id":"7f1d","quantity":2}`

	tests := []struct {
		name           string
		body           func(t *testing.T) io.Reader
		headers        map[string]string
		wantStatus     int
		wantEncoding   string
		wantBodySubstr string
	}{
		{
			name:           "compressed order, client accepts gzip",
			body:           func(t *testing.T) io.Reader { return gzipped(t, order) },
			headers:        map[string]string{"Content-Encoding": "gzip", "Accept-Encoding": "gzip, deflate"},
			wantStatus:     http.StatusCreated,
			wantEncoding:   "gzip",
			wantBodySubstr: `"quantity":2`,
		},
		{
			name:           "compressed order, plain response",
			body:           func(t *testing.T) io.Reader { return gzipped(t, order) },
			headers:        map[string]string{"Content-Encoding": "gzip"},
			wantStatus:     http.StatusCreated,
			wantBodySubstr: `"service_id":"7f1d"`,
		},
		{
			name:           "plain order, compressed response",
			body:           func(*testing.T) io.Reader { return strings.NewReader(order) },
			headers:        map[string]string{"Accept-Encoding": "gzip"},
			wantStatus:     http.StatusCreated,
			wantEncoding:   "gzip",
			wantBodySubstr: `"order_number":"WC-20260314150926-1234568"`,
		},
		{
			name:         "no content stays uncompressed",
			body:         func(*testing.T) io.Reader { return http.NoBody },
			headers:      map[string]string{"Accept-Encoding": "gzip"},
			wantStatus:   http.StatusNoContent,
			wantEncoding: "",
		},
		{
			name:         "malformed gzip body",
			body:         func(*testing.T) io.Reader { return strings.NewReader(order) },
			headers:      map[string]string{"Content-Encoding": "gzip", "Accept-Encoding": "gzip"},
			wantStatus:   http.StatusBadRequest,
			wantEncoding: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/orders/create", tt.body(t))
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()

			GzipMiddleware(http.HandlerFunc(echoOrder)).ServeHTTP(w, req)

			res := w.Result()
			defer res.Body.Close()

			assert.Equal(t, tt.wantStatus, res.StatusCode)
			assert.Equal(t, tt.wantEncoding, res.Header.Get("Content-Encoding"))

			body := readBody(t, res)
			if tt.wantBodySubstr != "" {
				assert.Contains(t, body, tt.wantBodySubstr)
			}
			if tt.wantStatus == http.StatusNoContent {
				assert.Empty(t, body)
			}
		})
	}
}

func TestGzipMiddleware_NotModified(t *testing.T) {
	h := GzipMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		w.WriteHeader(http.StatusNotModified)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/orders/buyer", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Zero(t, w.Body.Len())
}

func TestGzipMiddleware_ImplicitStatus(t *testing.T) {
	h := GzipMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"credit_balance":"60.00"}`))
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/wallet/balance", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "gzip", res.Header.Get("Content-Encoding"))
	assert.JSONEq(t, `{"credit_balance":"60.00"}`, readBody(t, res))
}
