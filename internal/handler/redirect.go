package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/shortlink/internal/service"
)

// RedirectHandler serves the public side: short code redirects, liveness
// and the landing redirect.
type RedirectHandler struct {
	links       *service.LinkService
	frontendURL string
	logger      *slog.Logger
}

func NewRedirectHandler(links *service.LinkService, frontendURL string, logger *slog.Logger) *RedirectHandler {
	return &RedirectHandler{links: links, frontendURL: frontendURL, logger: logger}
}

func (h *RedirectHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	link, err := h.links.Resolve(r.Context(), r.PathValue("code"))
	if err != nil {
		if service.KindOf(err) == service.KindNotFound {
			writeMessage(w, http.StatusNotFound, "short link not found or archived")
			return
		}
		writeError(w, r, h.logger, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, link.OriginalURL, http.StatusFound)
}

func (h *RedirectHandler) Root(w http.ResponseWriter, r *http.Request) {
	if h.frontendURL != "" {
		http.Redirect(w, r, h.frontendURL, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"service": "shortlink"})
}

func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
