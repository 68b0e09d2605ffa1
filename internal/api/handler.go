package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/squeezewatch/squeezewatch/internal/alerts"
	"github.com/squeezewatch/squeezewatch/internal/engine"
	"github.com/squeezewatch/squeezewatch/internal/watchlist"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 16

// Service is the engine surface the API drives. *engine.Engine implements it.
type Service interface {
	AddToWatchlist(ctx context.Context, ticker string, target, priceTarget *float64) (watchlist.Item, error)
	RemoveFromWatchlist(ctx context.Context, ticker string) (bool, error)
	Watchlist() []watchlist.Item
	Item(ticker string) (watchlist.Item, bool)
	Alerts() []alerts.Alert
	ClearAlerts(ctx context.Context) error
	ExportCSV(w io.Writer) error
	SetSound(enabled bool) int
	Status() engine.Status
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	svc Service
	mux *http.ServeMux
	now func() time.Time
}

// New creates a Handler for svc and registers all routes.
func New(svc Service) http.Handler {
	h := &Handler{svc: svc, mux: http.NewServeMux(), now: time.Now}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/watchlist", h.watchlist)
	h.mux.HandleFunc("/api/v1/watchlist/", h.watchItem) // subtree; extracts {ticker}
	h.mux.HandleFunc("/api/v1/alerts", h.alerts)
	h.mux.HandleFunc("/api/v1/alerts/export", h.export)
	h.mux.HandleFunc("/api/v1/sound", h.sound)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	st := h.svc.Status()
	state := "stopped"
	if st.Running {
		state = "running"
	}
	jsonResp(w, http.StatusOK, HealthResponse{State: state, Status: st})
}

func (h *Handler) watchlist(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		jsonResp(w, http.StatusOK, nonNil(h.svc.Watchlist()))
	case http.MethodPost:
		h.addTicker(w, r)
	default:
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) addTicker(w http.ResponseWriter, r *http.Request) {
	var req AddRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	it, err := h.svc.AddToWatchlist(r.Context(), req.Ticker, req.TargetScore, req.PriceTarget)
	switch {
	case errors.Is(err, watchlist.ErrDuplicateTicker):
		jsonErr(w, http.StatusConflict, fmt.Sprintf("%s is already watched", watchlist.Normalize(req.Ticker)))
	case errors.Is(err, watchlist.ErrInvalidTicker), errors.Is(err, watchlist.ErrInvalidTarget):
		jsonErr(w, http.StatusBadRequest, err.Error())
	case err != nil && it.Ticker == "":
		jsonErr(w, http.StatusInternalServerError, err.Error())
	default:
		// A non-nil err here is a persistence failure; the ticker was added.
		jsonResp(w, http.StatusCreated, ItemResponse{Item: it, Warning: warning(err)})
	}
}

// watchItem serves /api/v1/watchlist/{ticker}.
func (h *Handler) watchItem(w http.ResponseWriter, r *http.Request) {
	ticker := strings.TrimPrefix(r.URL.Path, "/api/v1/watchlist/")
	if ticker == "" {
		h.watchlist(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		it, ok := h.svc.Item(ticker)
		if !ok {
			jsonErr(w, http.StatusNotFound, "ticker not watched")
			return
		}
		jsonResp(w, http.StatusOK, it)

	case http.MethodDelete:
		removed, err := h.svc.RemoveFromWatchlist(r.Context(), ticker)
		if !removed {
			jsonErr(w, http.StatusNotFound, "ticker not watched")
			return
		}
		if err != nil {
			jsonResp(w, http.StatusOK, WarningResponse{Warning: warning(err)})
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		jsonResp(w, http.StatusOK, nonNil(h.svc.Alerts()))
	case http.MethodDelete:
		if err := h.svc.ClearAlerts(r.Context()); err != nil {
			jsonResp(w, http.StatusOK, WarningResponse{Warning: warning(err)})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// export serves the history as a CSV attachment.
func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", alerts.ExportFilename(h.now())))
	if err := h.svc.ExportCSV(w); err != nil {
		// Headers are already sent; all we can do is log.
		slog.Error("api: csv export failed", "err", err)
	}
}

func (h *Handler) sound(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req SoundRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil || req.Enabled == nil {
		jsonErr(w, http.StatusBadRequest, `body must be {"enabled": true|false}`)
		return
	}
	n := h.svc.SetSound(*req.Enabled)
	jsonResp(w, http.StatusOK, SoundResponse{Enabled: *req.Enabled, Channels: n})
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func warning(err error) string {
	if err == nil {
		return ""
	}
	return "change applied but not persisted: " + err.Error()
}

// nonNil makes empty lists encode as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
