package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukerupert/shortlink/internal/auth"
	"github.com/dukerupert/shortlink/internal/model"
	"github.com/dukerupert/shortlink/internal/token"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type mapAccounts map[string]*model.Account

func (m mapAccounts) GetByID(ctx context.Context, id string) (*model.Account, error) {
	if id == "broken" {
		return nil, errors.New("db down")
	}
	return m[id], nil
}

func setupGate(t *testing.T) (*Gate, *token.Authority) {
	t.Helper()
	tokens := token.NewAuthority([]byte("gate-secret"))
	accounts := mapAccounts{
		"acct-1": {ID: "acct-1", Email: "alice@example.com"},
	}
	return NewGate(tokens, accounts, testLogger), tokens
}

func mustIssue(t *testing.T, a *token.Authority, id string, ttl time.Duration) string {
	t.Helper()
	tok, err := a.Issue(id, ttl)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return tok
}

func serveGate(g *Gate, req *http.Request) (*httptest.ResponseRecorder, *auth.Identity) {
	var seen *auth.Identity
	h := g.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.FromContext(r.Context())
		if ok {
			seen = &id
		}
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, seen
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body["error"]
}

func TestRequireAuthValidToken(t *testing.T) {
	g, tokens := setupGate(t)

	req := httptest.NewRequest("GET", "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+mustIssue(t, tokens, "acct-1", time.Hour))
	rec, id := serveGate(g, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if id == nil || id.AccountID != "acct-1" || id.Email != "alice@example.com" {
		t.Errorf("identity = %+v", id)
	}
}

func TestRequireAuthMissingToken(t *testing.T) {
	g, _ := setupGate(t)

	rec, id := serveGate(g, httptest.NewRequest("GET", "/auth/me", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if id != nil {
		t.Error("handler should not run")
	}
	if msg := errorBody(t, rec); msg != "missing token" {
		t.Errorf("error = %q, want %q", msg, "missing token")
	}
}

func TestRequireAuthRejectsBadTokens(t *testing.T) {
	g, tokens := setupGate(t)
	other := token.NewAuthority([]byte("other-secret"))
	past := token.NewAuthority([]byte("gate-secret")).WithClock(func() time.Time {
		return time.Now().Add(-2 * time.Hour)
	})

	tests := []struct {
		name   string
		header string
	}{
		{"garbage", "Bearer not.a.token"},
		{"wrong secret", "Bearer " + mustIssue(t, other, "acct-1", time.Hour)},
		{"expired", "Bearer " + mustIssue(t, past, "acct-1", time.Hour)},
		{"wrong scheme", "Basic " + mustIssue(t, tokens, "acct-1", time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/auth/me", nil)
			req.Header.Set("Authorization", tt.header)
			rec, id := serveGate(g, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
			if id != nil {
				t.Error("handler should not run")
			}
		})
	}
}

func TestRequireAuthAccountGone(t *testing.T) {
	g, tokens := setupGate(t)

	req := httptest.NewRequest("GET", "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+mustIssue(t, tokens, "deleted", time.Hour))
	rec, _ := serveGate(g, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if msg := errorBody(t, rec); msg != "account no longer exists" {
		t.Errorf("error = %q", msg)
	}
}

func TestRequireAuthLookupError(t *testing.T) {
	g, tokens := setupGate(t)

	req := httptest.NewRequest("GET", "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+mustIssue(t, tokens, "broken", time.Hour))
	rec, _ := serveGate(g, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if msg := errorBody(t, rec); msg != "internal error" {
		t.Errorf("error = %q, should not leak details", msg)
	}
}

func TestAuthenticateQueryTokenOnlyForUpgrades(t *testing.T) {
	g, tokens := setupGate(t)
	tok := mustIssue(t, tokens, "acct-1", time.Hour)

	plain := httptest.NewRequest("GET", "/shortener/events?access_token="+tok, nil)
	if _, err := g.Authenticate(plain); !errors.Is(err, ErrMissingToken) {
		t.Errorf("plain request: err = %v, want ErrMissingToken", err)
	}

	upgrade := httptest.NewRequest("GET", "/shortener/events?access_token="+tok, nil)
	upgrade.Header.Set("Connection", "Upgrade")
	upgrade.Header.Set("Upgrade", "websocket")
	id, err := g.Authenticate(upgrade)
	if err != nil {
		t.Fatalf("upgrade request: %v", err)
	}
	if id.AccountID != "acct-1" {
		t.Errorf("account = %q", id.AccountID)
	}
}
