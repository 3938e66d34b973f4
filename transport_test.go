package authcore

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestClientIPFromRequest(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded first hop", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.2:1234", "203.0.113.7"},
		{"forwarded single", map[string]string{"X-Forwarded-For": "203.0.113.7"}, "10.0.0.2:1234", "203.0.113.7"},
		{"real ip", map[string]string{"X-Real-IP": "203.0.113.8"}, "10.0.0.2:1234", "203.0.113.8"},
		{"cloudflare", map[string]string{"CF-Connecting-IP": "203.0.113.9"}, "10.0.0.2:1234", "203.0.113.9"},
		{"remote addr fallback", nil, "10.0.0.2:1234", "10.0.0.2"},
		{"remote addr without port", nil, "10.0.0.2", "10.0.0.2"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/login", nil)
			r.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				r.Header.Set(k, v)
			}
			if got := ClientIPFromRequest(r); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRefreshTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/refresh", nil)
	r.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: "from-cookie"})
	if got := RefreshTokenFromRequest(r); got != "from-cookie" {
		t.Fatalf("got %q", got)
	}

	form := url.Values{RefreshCookieName: {"from-form"}}
	r = httptest.NewRequest(http.MethodPost, "/refresh", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if got := RefreshTokenFromRequest(r); got != "from-form" {
		t.Fatalf("got %q", got)
	}
}

func TestRefreshCookieLifecycle(t *testing.T) {
	w := httptest.NewRecorder()
	SetRefreshCookie(w, "tok", 30*24*time.Hour, "/auth")

	cookies := w.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("cookies = %d", len(cookies))
	}
	c := cookies[0]
	if c.Name != RefreshCookieName || c.Value != "tok" || c.Path != "/auth" {
		t.Fatalf("cookie = %+v", c)
	}
	if !c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteStrictMode {
		t.Fatalf("cookie attributes = %+v", c)
	}
	if c.MaxAge != int(30*24*time.Hour/time.Second) {
		t.Fatalf("max age = %d", c.MaxAge)
	}

	w = httptest.NewRecorder()
	ClearRefreshCookie(w, "/auth")
	cleared := w.Result().Cookies()
	if len(cleared) != 1 || cleared[0].MaxAge != -1 || cleared[0].Value != "" {
		t.Fatalf("cleared cookie = %+v", cleared)
	}
}

func TestContextFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/login", nil)
	r.RemoteAddr = "10.0.0.5:4321"
	r.Header.Set("User-Agent", "cli/1.0")

	ctx := ContextFromRequest(r)
	if got := clientIPFromContext(ctx); got != "10.0.0.5" {
		t.Fatalf("ip = %q", got)
	}
	if got := userAgentFromContext(ctx); got != "cli/1.0" {
		t.Fatalf("ua = %q", got)
	}
}
