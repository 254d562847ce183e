package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dukerupert/shortlink/internal/model"
	"github.com/dukerupert/shortlink/internal/service"
)

type LinkHandler struct {
	svc     *service.LinkService
	baseURL string
	logger  *slog.Logger
}

func NewLinkHandler(svc *service.LinkService, baseURL string, logger *slog.Logger) *LinkHandler {
	return &LinkHandler{svc: svc, baseURL: baseURL, logger: logger}
}

type createLinkRequest struct {
	OriginalURL   string `json:"original_url"`
	PreferredCode string `json:"preferred_code"`
}

type updateLinkRequest struct {
	OriginalURL *string `json:"original_url"`
	Code        *string `json:"code"`
}

// linkResponse adds the public short URL to a link.
type linkResponse struct {
	model.Link
	ShortURL string `json:"short_url"`
}

func (h *LinkHandler) present(l *model.Link) linkResponse {
	return linkResponse{Link: *l, ShortURL: h.baseURL + "/" + l.Code}
}

func (h *LinkHandler) presentAll(links []model.Link) []linkResponse {
	out := make([]linkResponse, len(links))
	for i := range links {
		out[i] = h.present(&links[i])
	}
	return out
}

func (h *LinkHandler) Create(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req createLinkRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	link, err := h.svc.Create(r.Context(), id.AccountID, service.CreateLinkInput{
		OriginalURL:   req.OriginalURL,
		PreferredCode: req.PreferredCode,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.present(link))
}

func (h *LinkHandler) list(archived bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := identity(w, r)
		if !ok {
			return
		}
		links, err := h.svc.List(r.Context(), id.AccountID, archived)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, h.presentAll(links))
	}
}

func (h *LinkHandler) List(w http.ResponseWriter, r *http.Request) {
	h.list(false)(w, r)
}

func (h *LinkHandler) ListArchived(w http.ResponseWriter, r *http.Request) {
	h.list(true)(w, r)
}

func (h *LinkHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	n, err := h.svc.DeleteAll(r.Context(), id.AccountID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("deleted %d link(s)", n),
		"deleted": n,
	})
}

func (h *LinkHandler) DeleteArchived(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	n, err := h.svc.DeleteArchived(r.Context(), id.AccountID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("deleted %d archived link(s)", n),
		"deleted": n,
	})
}

func (h *LinkHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	link, err := h.svc.Get(r.Context(), id.AccountID, r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.present(link))
}

func (h *LinkHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req updateLinkRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	link, err := h.svc.Update(r.Context(), id.AccountID, r.PathValue("id"), service.LinkPatch{
		OriginalURL: req.OriginalURL,
		Code:        req.Code,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.present(link))
}

func (h *LinkHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), id.AccountID, r.PathValue("id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "link deleted"})
}

func (h *LinkHandler) Archive(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	link, err := h.svc.Archive(r.Context(), id.AccountID, r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.present(link))
}
