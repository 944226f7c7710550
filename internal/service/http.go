package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"habblive-backend/internal/catalog"
	"habblive-backend/internal/reconcile"
	"habblive-backend/internal/scrapers/habblive"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
)

const report_http_handler = "http.handler"

const Version = "4.0"

// bodies larger than this are rejected as invalid json
const maxBodyBytes = 1 << 20

type HandlerOptions struct {
	// RateLimit is the number of requests a single ip may send per
	// RateWindow, 0 disables limiting.
	RateLimit  int
	RateWindow time.Duration
	// AllowedOrigins for CORS, defaults to every origin.
	AllowedOrigins []string
}

type nextBadgeResponse struct {
	Ok               bool              `json:"ok"`
	Message          string            `json:"message,omitempty"`
	Badge            *catalog.BadgeID  `json:"badge"`
	Found            []catalog.BadgeID `json:"found"`
	TotalEncontrados int               `json:"total_encontrados"`
	Faltam           int               `json:"faltam"`
	Zerou            bool              `json:"zerou"`
}

type errorResponse struct {
	Ok    bool   `json:"ok"`
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// NewHandler exposes svc as a json api.
func NewHandler(svc Service, opts HandlerOptions) http.Handler {
	h := handler{svc: svc}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/", h.home)
	r.Get("/api/health", h.health)

	r.Group(func(r chi.Router) {
		if opts.RateLimit > 0 {
			window := opts.RateWindow
			if window <= 0 {
				window = time.Minute
			}
			r.Use(httprate.Limit(
				opts.RateLimit,
				window,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					w.Header().Set("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
					writeJSON(w, http.StatusTooManyRequests, errorResponse{
						Error: "Muitas requisições, tente novamente mais tarde",
					})
				}),
			))
		}
		r.Post("/api/next-badge", h.nextBadge)
		r.Post("/api/next-badge-cookie", h.nextBadge)
		r.Post("/api/session/invalidate", h.invalidateSession)
	})

	return r
}

type handler struct {
	svc Service
}

func (h handler) home(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "online",
		"message": "HabbLive Badge API",
		"version": Version,
		"endpoints": map[string]string{
			"/api/next-badge":         "POST - Próximo badge a partir da lista enviada, dos cookies ou da sessão do servidor",
			"/api/next-badge-cookie":  "POST - Igual a /api/next-badge",
			"/api/session/invalidate": "POST - Força um novo login da sessão do servidor",
			"/api/health":             "GET - Estado do servidor",
		},
	})
}

func (h handler) health(w http.ResponseWriter, r *http.Request) {
	now := h.svc.clock.Now()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"timestamp":     float64(now.UnixNano()) / float64(time.Second),
		"session_valid": h.svc.SessionValid(),
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	err := decoder.Decode(v)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}
	return nil
}

func (h handler) nextBadge(w http.ResponseWriter, r *http.Request) {
	var req Request
	err := decodeBody(w, r, &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.empty() {
		h.writeError(w, r, ErrInvalidJSON)
		return
	}

	result, err := h.svc.NextBadge(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newNextBadgeResponse(result))
}

func newNextBadgeResponse(result reconcile.Result) nextBadgeResponse {
	res := nextBadgeResponse{
		Ok:               true,
		Badge:            result.Next,
		Found:            result.Found,
		TotalEncontrados: len(result.Found),
		Faltam:           result.Missing,
		Zerou:            result.Complete,
	}
	if result.Complete {
		res.Message = "Usuário já possui todos os badges!"
	}
	return res
}

func (h handler) invalidateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"key"`
	}
	err := decodeBody(w, r, &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Key == "" {
		h.writeError(w, r, ErrInvalidJSON)
		return
	}
	err = h.svc.InvalidateSession(req.Key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// errorStatus maps an error to its status code and the message shown to
// the caller.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidJSON):
		return http.StatusBadRequest, ErrInvalidJSON.Error()
	case errors.Is(err, ErrMissingUser):
		return http.StatusBadRequest, ErrMissingUser.Error()
	case errors.Is(err, ErrInvalidKey):
		return http.StatusForbidden, ErrInvalidKey.Error()
	case errors.Is(err, habblive.ErrForbidden):
		return http.StatusBadGateway, "O HabbLive recusou o acesso ao perfil, verifique os cookies"
	case errors.Is(err, habblive.ErrNotConfigured):
		return http.StatusServiceUnavailable, "Sessão do servidor não configurada"
	case errors.Is(err, habblive.ErrTimeout):
		return http.StatusGatewayTimeout, "O HabbLive não respondeu a tempo"
	case errors.Is(err, habblive.ErrProfileUnavailable):
		return http.StatusNotFound, "Perfil não encontrado ou privado"
	case errors.Is(err, habblive.ErrSessionExpiredPersistent):
		return http.StatusBadGateway, "A sessão do HabbLive continua expirando após novo login"
	case errors.Is(err, habblive.ErrAuthUnavailable), errors.Is(err, habblive.ErrLoginFailed):
		return http.StatusBadGateway, "Não foi possível fazer login no HabbLive"
	case errors.Is(err, habblive.ErrTransport):
		return http.StatusBadGateway, "Não foi possível acessar o HabbLive"
	default:
		return http.StatusInternalServerError, "Erro interno"
	}
}

func (h handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.svc.tel.ReportBroken(report_http_handler, err, r.URL.Path, middleware.GetReqID(r.Context()))
	}
	writeJSON(w, status, errorResponse{Error: message})
}
