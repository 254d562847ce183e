package websocket

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/shortlink/internal/auth"
)

// HandleEvents upgrades an authenticated request and streams the account's
// link events until the connection closes. allowedOrigins holds the CORS
// allowlist; same-host connections are always accepted.
func HandleEvents(hub *Hub, allowedOrigins []string, logger *slog.Logger) http.HandlerFunc {
	patterns := originPatterns(allowedOrigins)

	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.FromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{OriginPatterns: patterns})
		if err != nil {
			logger.Warn("websocket accept", "account_id", id.AccountID, "error", err)
			return
		}
		logger.Debug("websocket connected", "account_id", id.AccountID)

		NewClient(hub, conn, id.AccountID).Run(r.Context())
		logger.Debug("websocket disconnected", "account_id", id.AccountID)
	}
}

// originPatterns turns origins like "https://app.example.com" into the host
// patterns the websocket library matches against.
func originPatterns(origins []string) []string {
	var patterns []string
	for _, o := range origins {
		if o == "*" {
			patterns = append(patterns, "*")
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		patterns = append(patterns, strings.TrimRight(o, "/"))
	}
	return patterns
}
