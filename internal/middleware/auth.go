package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/shortlink/internal/auth"
	"github.com/dukerupert/shortlink/internal/model"
	"github.com/dukerupert/shortlink/internal/token"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
	ErrAccountGone  = errors.New("account no longer exists")
)

// AccountLookup resolves the subject of a verified token.
type AccountLookup interface {
	GetByID(ctx context.Context, id string) (*model.Account, error)
}

// Gate turns a bearer token into a verified identity.
type Gate struct {
	tokens   *token.Authority
	accounts AccountLookup
	logger   *slog.Logger
}

func NewGate(tokens *token.Authority, accounts AccountLookup, logger *slog.Logger) *Gate {
	return &Gate{tokens: tokens, accounts: accounts, logger: logger}
}

// bearerToken reads "Authorization: Bearer <token>". Browsers cannot set
// headers on websocket upgrades, so those may pass access_token instead.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

// Authenticate verifies the request's token and loads its account.
func (g *Gate) Authenticate(r *http.Request) (auth.Identity, error) {
	raw := bearerToken(r)
	if raw == "" {
		return auth.Identity{}, ErrMissingToken
	}

	accountID, err := g.tokens.Verify(raw)
	if err != nil {
		g.logger.Info("token rejected", "reason", tokenFailure(err), "remote", RealIP(r))
		return auth.Identity{}, ErrInvalidToken
	}

	account, err := g.accounts.GetByID(r.Context(), accountID)
	if err != nil {
		return auth.Identity{}, err
	}
	if account == nil {
		return auth.Identity{}, ErrAccountGone
	}
	return auth.Identity{AccountID: account.ID, Email: account.Email}, nil
}

func tokenFailure(err error) string {
	switch {
	case errors.Is(err, token.ErrExpired):
		return "expired"
	case errors.Is(err, token.ErrSignature):
		return "signature"
	default:
		return "malformed"
	}
}

// RequireAuth rejects requests without a valid token with 401 and passes the
// identity to next through the request context.
func (g *Gate) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := g.Authenticate(r)
		switch {
		case err == nil:
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		case errors.Is(err, ErrMissingToken):
			writeError(w, http.StatusUnauthorized, "missing token")
		case errors.Is(err, ErrInvalidToken):
			writeError(w, http.StatusUnauthorized, "unauthorized")
		case errors.Is(err, ErrAccountGone):
			writeError(w, http.StatusUnauthorized, "account no longer exists")
		default:
			g.logger.Error("resolve token account", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
