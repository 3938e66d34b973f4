package authcore

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"
)

// RefreshCookieName is the cookie the transport helpers read and write.
const RefreshCookieName = "refresh_token"

// ClientIPFromRequest extracts the originating client IP. Proxy headers are
// consulted in trust order before falling back to the socket address; callers
// behind untrusted proxies should strip those headers upstream.
func ClientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, ok := strings.Cut(xff, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(xff)
	}
	for _, header := range []string{"X-Real-IP", "CF-Connecting-IP", "True-Client-IP"} {
		if ip := strings.TrimSpace(r.Header.Get(header)); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ContextFromRequest builds a request context carrying the client IP and
// user agent for the engine.
func ContextFromRequest(r *http.Request) context.Context {
	ctx := WithClientIP(r.Context(), ClientIPFromRequest(r))
	return WithUserAgent(ctx, r.UserAgent())
}

// RefreshTokenFromRequest reads the refresh token from the cookie, falling
// back to the form field of the same name.
func RefreshTokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(RefreshCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return r.PostFormValue(RefreshCookieName)
}

// SetRefreshCookie writes the refresh token as an http-only secure cookie
// scoped to path.
func SetRefreshCookie(w http.ResponseWriter, token string, ttl time.Duration, path string) {
	if path == "" {
		path = "/"
	}
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    token,
		Path:     path,
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearRefreshCookie expires the refresh cookie.
func ClearRefreshCookie(w http.ResponseWriter, path string) {
	if path == "" {
		path = "/"
	}
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}
