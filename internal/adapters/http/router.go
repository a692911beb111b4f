package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmsrsd/strn-app/internal/adapters/rpcjson"
	"github.com/jmsrsd/strn-app/internal/application"
	"github.com/jmsrsd/strn-app/internal/domain"
	"github.com/jmsrsd/strn-app/internal/metrics"
	"github.com/sirupsen/logrus"
)

const sessionCookieName = "strn_session"

type contextKey string

const identityKey contextKey = "identity"

type Options struct {
	// Context bounds background work such as rate limiter pruning.
	Context context.Context
	Store   *application.StoreService
	Auth    *application.AuthService
	RPC     *rpcjson.Dispatcher
	Metrics *metrics.Metrics
	Log     *logrus.Logger
	BaseURL string
	// LoginEvery and LoginBurst bound password logins and magic-link
	// requests per client address.
	LoginEvery time.Duration
	LoginBurst int
	// TrustProxy keys clients on X-Real-Ip/X-Forwarded-For. Enable it only
	// behind a proxy that overwrites those headers.
	TrustProxy bool
}

type Handler struct {
	store   *application.StoreService
	auth    *application.AuthService
	rpc     *rpcjson.Dispatcher
	log     *logrus.Logger
	baseURL string
	limiter *rateLimiter
	secure  bool
}

func NewRouter(opts Options) http.Handler {
	if opts.LoginEvery <= 0 {
		opts.LoginEvery = 10 * time.Second
	}
	if opts.LoginBurst <= 0 {
		opts.LoginBurst = 5
	}
	h := &Handler{
		store:   opts.Store,
		auth:    opts.Auth,
		rpc:     opts.RPC,
		log:     opts.Log,
		baseURL: opts.BaseURL,
		limiter: newRateLimiter(opts.LoginEvery, opts.LoginBurst, opts.Log),
		secure:  strings.HasPrefix(opts.BaseURL, "https://"),
	}

	if opts.Context != nil {
		h.startJanitor(opts.Context, 10*time.Minute)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if opts.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.InstrumentHandler)
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "application": h.store.Application()})
	})
	r.Get("/auth/magic", h.handleMagicLink)

	r.Route("/api", func(api chi.Router) {
		api.With(h.limiter.Handler).Post("/auth/login", h.handleAPILogin)
		api.With(h.limiter.Handler).Post("/auth/magic-link", h.handleAPIMagicLink)
		api.With(h.requireAuthAPI(domain.RoleGuest)).Get("/auth/whoami", h.handleAPIWhoAmI)
		api.With(h.requireAuthAPI(domain.RoleGuest)).Post("/auth/logout", h.handleAPILogout)
		api.Post("/rpc", h.handleRPC)

		api.With(h.requireAuthAPI(domain.RoleGuest)).Get("/domains", h.handleAPIListDomains)
		api.With(h.requireAuthAPI(domain.RoleGuest)).Get("/domains/{domain}/entities", h.handleAPIBrowse)
		api.With(h.requireAuthAPI(domain.RoleGuest)).Get("/domains/{domain}/entities/{id}", h.handleAPIRecord)
		api.With(h.requireAuthAPI(domain.RoleGuest)).Delete("/domains/{domain}/entities/{id}", h.handleAPIDropEntity)
	})

	return r
}

// startJanitor prunes idle rate limiter buckets until ctx is done.
func (h *Handler) startJanitor(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.limiter.cleanup(every)
			}
		}
	}()
}

type apiLoginRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Mode      string `json:"mode"`
	TokenName string `json:"token_name"`
}

func (h *Handler) handleAPILogin(w http.ResponseWriter, r *http.Request) {
	var req apiLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	if mode == "" {
		mode = "token"
	}

	if mode == "session" {
		u, token, err := h.auth.LoginWithSession(r.Context(), req.Email, req.Password, application.DefaultSessionTTL)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid credentials"})
			return
		}
		h.setSessionCookie(w, token)
		writeJSON(w, http.StatusOK, map[string]any{"user_id": u.ID, "email": u.Email, "role": u.Role, "mode": "session"})
		return
	}

	u, token, err := h.auth.LoginWithAPIToken(r.Context(), req.Email, req.Password, req.TokenName, nil)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid credentials"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": u.ID, "email": u.Email, "role": u.Role, "token": token, "mode": "token"})
}

func (h *Handler) handleAPIMagicLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	if err := h.auth.RequestMagicLink(r.Context(), req.Email, h.baseURL); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"sent": true})
}

// handleMagicLink is the landing URL mailed to users.
func (h *Handler) handleMagicLink(w http.ResponseWriter, r *http.Request) {
	_, token, err := h.auth.VerifyMagicLink(r.Context(), r.URL.Query().Get("token"), application.DefaultSessionTTL)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.setSessionCookie(w, token)

	next := r.URL.Query().Get("next")
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
		next = "/api/auth/whoami"
	}
	http.Redirect(w, r, next, http.StatusSeeOther)
}

func (h *Handler) handleAPIWhoAmI(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	writeJSON(w, http.StatusOK, identity)
}

func (h *Handler) handleAPILogout(w http.ResponseWriter, r *http.Request) {
	if token, ok := bearerToken(r); ok {
		_ = h.auth.Logout(r.Context(), token)
	}
	if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
		_ = h.auth.Logout(r.Context(), c.Value)
	}
	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req rpcjson.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, rpcjson.Response{JSONRPC: "2.0", Error: &rpcjson.Error{Code: rpcjson.CodeParseError, Message: "parse error"}})
		return
	}

	if rpcjson.IsPublic(req.Method) && !h.limiter.allow(clientKey(r)) {
		h.log.WithFields(logrus.Fields{"client": clientKey(r), "method": req.Method}).Warn("rate limit exceeded")
		w.Header().Set("Retry-After", "60")
		writeJSON(w, http.StatusOK, rpcjson.Response{JSONRPC: "2.0", Error: &rpcjson.Error{Code: rpcjson.CodeTooManyCalls, Message: "too many requests"}, ID: req.ID})
		return
	}

	var caller *domain.Identity
	if identity, ok := h.authenticateRequest(r); ok {
		caller = &identity
	}
	writeJSON(w, http.StatusOK, h.rpc.Dispatch(r.Context(), req, caller))
}

func (h *Handler) handleAPIListDomains(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.Domains(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (h *Handler) handleAPIBrowse(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	skip, err := optionalInt(q.Get("skip"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "skip must be an integer"})
		return
	}
	take, err := optionalInt(q.Get("take"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "take must be an integer"})
		return
	}

	page, err := h.store.Browse(r.Context(), chi.URLParam(r, "domain"), domain.BrowseQuery{
		Skip:  skip,
		Take:  take,
		Order: domain.Order(strings.ToLower(q.Get("order"))),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) handleAPIRecord(w http.ResponseWriter, r *http.Request) {
	record, err := h.store.Record(r.Context(), chi.URLParam(r, "domain"), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) handleAPIDropEntity(w http.ResponseWriter, r *http.Request) {
	domainKey, id := chi.URLParam(r, "domain"), chi.URLParam(r, "id")
	if err := h.store.DropEntity(r.Context(), domainKey, id); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeAudit(r.Context(), "entity.drop", "entity", domainKey+"/"+id)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) requireAuthAPI(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := h.authenticateRequest(r)
			if !ok {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
				return
			}
			if err := h.auth.Require(&identity, role); err != nil {
				writeJSON(w, http.StatusForbidden, map[string]any{"error": "forbidden"})
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, identity)))
		})
	}
}

func (h *Handler) authenticateRequest(r *http.Request) (domain.Identity, bool) {
	if token, ok := bearerToken(r); ok {
		identity, err := h.auth.Authenticate(r.Context(), token)
		if err == nil {
			return identity, true
		}
	}

	c, err := r.Cookie(sessionCookieName)
	if err == nil && strings.TrimSpace(c.Value) != "" {
		identity, authErr := h.auth.AuthenticateSession(r.Context(), c.Value)
		if authErr == nil {
			return identity, true
		}
	}

	return domain.Identity{}, false
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(authHeader[7:])
	return token, token != ""
}

func identityFromContext(ctx context.Context) (domain.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(domain.Identity)
	return identity, ok
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.secure,
		MaxAge:   int(application.DefaultSessionTTL.Seconds()),
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start),
		}).Debug("http request")
	})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.WithError(err).Error("request failed")
		writeJSON(w, status, map[string]any{"error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrInvalidCredentials), errors.Is(err, domain.ErrLinkExpired):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrUnknownKind),
		errors.Is(err, domain.ErrUnknownAttribute),
		errors.Is(err, domain.ErrNotFilterable):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func optionalInt(raw string) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeAudit(ctx context.Context, action, targetType, targetKey string) {
	identity, ok := identityFromContext(ctx)
	if !ok {
		h.auth.WriteAudit(ctx, nil, action, targetType, targetKey, "http")
		return
	}
	h.auth.WriteAudit(ctx, &identity.UserID, action, targetType, targetKey, "http")
}
