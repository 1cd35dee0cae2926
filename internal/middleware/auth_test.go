package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/habitquest/service/internal/app/domain/user"
	"github.com/habitquest/service/internal/app/services/auth"
	"github.com/habitquest/service/internal/logging"
)

func newAuthFixture(t *testing.T) (*AuthMiddleware, string) {
	t.Helper()
	tokens := auth.NewTokens("test-secret", time.Hour)
	token, _, err := tokens.Issue(user.User{ID: "u1", Username: "alice", Email: "a@b.com"})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return NewAuthMiddleware(tokens, nil, []string{"/api/auth/login"}), token
}

func echoUserID() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetUserID(r.Context())))
	})
}

func TestAuthMiddlewareAcceptsValidToken(t *testing.T) {
	mw, token := newAuthFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/habits", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	mw.Handler(echoUserID()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "u1" {
		t.Fatalf("expected user id in context, got %q", rec.Body.String())
	}
}

func TestAuthMiddlewareRejectsBadTokens(t *testing.T) {
	mw, _ := newAuthFixture(t)

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic abc"},
		{"garbage token", "Bearer not-a-jwt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/habits", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()

			mw.Handler(echoUserID()).ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestAuthMiddlewareRejectsWrongSecret(t *testing.T) {
	mw, _ := newAuthFixture(t)

	other := auth.NewTokens("other-secret", time.Hour)
	token, _, _ := other.Issue(user.User{ID: "u1"})

	req := httptest.NewRequest(http.MethodGet, "/api/habits", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	mw.Handler(echoUserID()).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthMiddlewareSkipsConfiguredPaths(t *testing.T) {
	mw, _ := newAuthFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	rec := httptest.NewRecorder()

	mw.Handler(echoUserID()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected skip path to pass, got %d", rec.Code)
	}
}

func TestRateLimiterThrottles(t *testing.T) {
	rl := NewRateLimiter(1, 2, nil)
	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/habits", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		statuses = append(statuses, rec.Code)
	}

	if statuses[0] != http.StatusOK || statuses[1] != http.StatusOK {
		t.Fatalf("burst requests must pass: %v", statuses)
	}
	if statuses[2] != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %v", statuses)
	}

	// A different client has its own budget.
	req := httptest.NewRequest(http.MethodGet, "/api/habits", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected separate budget per client, got %d", rec.Code)
	}
}

func TestRateLimiterKeysAuthenticatedRequestsByUser(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(userID string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/habits", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		if userID != "" {
			req = req.WithContext(logging.WithUserID(req.Context(), userID))
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	// Two users behind the same address draw from separate budgets.
	if code := send("user-a"); code != http.StatusOK {
		t.Fatalf("first user: expected 200, got %d", code)
	}
	if code := send("user-b"); code != http.StatusOK {
		t.Fatalf("second user must not share the first user's budget, got %d", code)
	}
	if code := send("user-a"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for exhausted user budget, got %d", code)
	}
	if code := send(""); code != http.StatusOK {
		t.Fatalf("anonymous request keyed by address: expected 200, got %d", code)
	}
}

func TestRateLimiterCleanupSweepsMap(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	for i := 0; i < 10001; i++ {
		rl.getLimiter(fmt.Sprintf("key-%d", i))
	}

	stop := make(chan struct{})
	defer close(stop)
	rl.StartCleanup(time.Millisecond, stop)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rl.mu.Lock()
		n := len(rl.limiters)
		rl.mu.Unlock()
		if n == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("cleanup never swept the limiter map")
}

func TestAuthFillsUserIDCapture(t *testing.T) {
	mw, token := newAuthFixture(t)

	// The access logger installs the cell before auth runs and reads it back
	// after the inner chain returns.
	var captured string
	outer := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.WithUserIDCapture(r.Context())
		mw.Handler(echoUserID()).ServeHTTP(w, r.WithContext(ctx))
		captured = logging.CapturedUserID(ctx)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/habits", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	outer.ServeHTTP(httptest.NewRecorder(), req)

	if captured != "u1" {
		t.Fatalf("expected captured user id %q, got %q", "u1", captured)
	}
}
