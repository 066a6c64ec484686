// Package middleware содержит HTTP middleware сервиса: авторизацию, сжатие, логирование и метрики.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/warmconnects/internal/model"
)

type contextKey string

const identityKey contextKey = "identity"

const (
	authCookieName = "auth_token"
	// срок жизни также зашит в подписанное значение cookie
	authCookieTTL = 24 * time.Hour
)

const (
	capBuy = 1 << iota
	capSell
	capArbitrate
)

// AuthMiddleware выполняет проверку аутентификации пользователя по подписанному cookie.
// Cookie содержит идентификатор счёта, его возможности и срок действия.
type AuthMiddleware struct {
	secretKey []byte
	now       func() time.Time
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
// Пустой ключ заменяется случайным, и cookie перестают действовать после перезапуска.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("warmconnects-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
		now:       time.Now,
	}
}

// Middleware проверяет cookie авторизации и добавляет личность пользователя в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(authCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		id, ok := a.parseCookie(cookie.Value)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// SetAuthCookie устанавливает cookie авторизации для указанной личности.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, id model.Identity) {
	expires := a.now().Add(authCookieTTL)
	cookie := &http.Cookie{
		Name:     authCookieName,
		Value:    a.sign(encodeIdentity(id, expires)),
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

// ClearAuthCookie удаляет cookie авторизации.
func (a *AuthMiddleware) ClearAuthCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func encodeIdentity(id model.Identity, expires time.Time) string {
	caps := 0
	if id.Capabilities.CanBuy {
		caps |= capBuy
	}
	if id.Capabilities.CanSell {
		caps |= capSell
	}
	if id.Capabilities.CanArbitrate {
		caps |= capArbitrate
	}
	return strconv.FormatInt(id.AccountID, 10) + ":" + strconv.Itoa(caps) + ":" + strconv.FormatInt(expires.Unix(), 10)
}

func decodeIdentity(payload string, now time.Time) (model.Identity, bool) {
	parts := strings.Split(payload, ":")
	if len(parts) != 3 {
		return model.Identity{}, false
	}
	idStr, capsStr, expStr := parts[0], parts[1], parts[2]

	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil || !now.Before(time.Unix(exp, 0)) {
		return model.Identity{}, false
	}

	accountID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || accountID <= 0 {
		return model.Identity{}, false
	}
	caps, err := strconv.Atoi(capsStr)
	if err != nil {
		return model.Identity{}, false
	}

	return model.Identity{
		AccountID: accountID,
		Capabilities: model.Capabilities{
			CanBuy:       caps&capBuy != 0,
			CanSell:      caps&capSell != 0,
			CanArbitrate: caps&capArbitrate != 0,
		},
	}, true
}

func (a *AuthMiddleware) signature(payload string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *AuthMiddleware) sign(payload string) string {
	return payload + "." + a.signature(payload)
}

func (a *AuthMiddleware) parseCookie(cookieValue string) (model.Identity, bool) {
	payload, signature, ok := strings.Cut(cookieValue, ".")
	if !ok {
		return model.Identity{}, false
	}

	if !hmac.Equal([]byte(signature), []byte(a.signature(payload))) {
		return model.Identity{}, false
	}

	return decodeIdentity(payload, a.now())
}

// WithIdentity кладёт личность пользователя в контекст.
func WithIdentity(ctx context.Context, id model.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentityFromContext извлекает личность пользователя из контекста запроса.
func GetIdentityFromContext(ctx context.Context) (model.Identity, bool) {
	id, ok := ctx.Value(identityKey).(model.Identity)
	return id, ok
}
