package handler

import (
	"bytes"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/csrf"
	"go.uber.org/zap"

	"github.com/ComUnity/access-gate/internal/config"
	"github.com/ComUnity/access-gate/internal/gate"
	"github.com/ComUnity/access-gate/internal/service"
	"github.com/ComUnity/access-gate/internal/store"
	"github.com/ComUnity/access-gate/internal/telemetry"
	"github.com/ComUnity/access-gate/internal/util/logger"
	"github.com/ComUnity/access-gate/internal/view"
)

// The overlay only needs its inline stylesheet and a same-origin form post.
const overlayCSP = "default-src 'none'; style-src 'unsafe-inline'; form-action 'self'; frame-ancestors 'none'; base-uri 'none'"

type GateHandlerConfig struct {
	Flags    store.Provider
	Leads    gate.LeadWriter // nil disables remote lead writes
	Audit    service.Publisher
	Visitors store.VisitorCookie
	// Contexts restricts the submit and status endpoints. Empty allows any
	// well-formed context name.
	Contexts []string
	Logger   *zap.SugaredLogger
}

// GateHandler serves gated content and the gate's own endpoints.
type GateHandler struct {
	flags    store.Provider
	leads    gate.LeadWriter
	audit    service.Publisher
	visitors store.VisitorCookie
	known    map[string]struct{}
	inflight *inflight
	log      *zap.SugaredLogger
}

func NewGateHandler(cfg GateHandlerConfig) *GateHandler {
	log := cfg.Logger
	if log == nil {
		log = logger.GetLogger()
	}
	h := &GateHandler{
		flags:    cfg.Flags,
		leads:    cfg.Leads,
		audit:    cfg.Audit,
		visitors: cfg.Visitors,
		inflight: newInflight(),
		log:      log,
	}
	if len(cfg.Contexts) > 0 {
		h.known = make(map[string]struct{}, len(cfg.Contexts))
		for _, c := range cfg.Contexts {
			h.known[c] = struct{}{}
		}
	}
	return h
}

// RegisterRoutes mounts POST /_gate/{context}/submit and GET /_gate/{context}/status.
// submitMW wraps the submit endpoint only.
func (h *GateHandler) RegisterRoutes(r chi.Router, submitMW ...func(http.Handler) http.Handler) {
	r.Route("/_gate/{context}", func(r chi.Router) {
		r.With(submitMW...).Post("/submit", h.Submit)
		r.Get("/status", h.Status)
	})
}

// Middleware gates next behind the lead form for contextName.
func (h *GateHandler) Middleware(contextName string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wdg := h.widget(w, r, contextName, r.URL.Path)
		wdg.Mount(r.Context())
		if wdg.Allowed() {
			next.ServeHTTP(w, r)
			return
		}

		h.publish(r, telemetry.EventGateViewed, wdg.Context(), r.URL.Path, "")
		h.renderOverlay(w, r, http.StatusOK, wdg, r.URL.RequestURI(), wdg.State())
	})
}

func (h *GateHandler) Submit(w http.ResponseWriter, r *http.Request) {
	contextName, ok := h.contextParam(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	email := r.PostForm.Get("email")
	phone := r.PostForm.Get("phone")
	returnTo := safeReturnPath(r.PostForm.Get("path"))

	visitor := h.visitors.Ensure(w, r)
	wdg := h.widget(w, r, contextName, pagePath(returnTo))
	wdg.Mount(r.Context())
	if wdg.Allowed() {
		http.Redirect(w, r, returnTo, http.StatusSeeOther)
		return
	}

	slot := visitor + "|" + wdg.Context()
	if !h.inflight.acquire(slot) {
		h.log.Infof("gate: duplicate submission rejected context=%s", wdg.Context())
		h.renderOverlay(w, r, http.StatusConflict, wdg, returnTo, gate.State{
			Email: email, Phone: phone, IsSubmitting: true,
		})
		return
	}
	defer h.inflight.release(slot)

	outcome, err := wdg.Submit(r.Context(), email, phone)
	switch outcome {
	case gate.OutcomeGranted:
		http.Redirect(w, r, returnTo, http.StatusSeeOther)
	case gate.OutcomeInvalid:
		h.publish(r, telemetry.EventLeadInvalid, wdg.Context(), pagePath(returnTo), wdg.State().ErrorMessage)
		h.renderOverlay(w, r, http.StatusUnprocessableEntity, wdg, returnTo, wdg.State())
	case gate.OutcomeBusy:
		h.renderOverlay(w, r, http.StatusConflict, wdg, returnTo, wdg.State())
	default:
		h.log.Warnf("gate: submission failed context=%s request_id=%s: %v",
			wdg.Context(), middleware.GetReqID(r.Context()), err)
		h.renderOverlay(w, r, http.StatusServiceUnavailable, wdg, returnTo, wdg.State())
	}
}

type statusResponse struct {
	Context string `json:"context"`
	Title   string `json:"title"`
	Allowed bool   `json:"allowed"`
}

func (h *GateHandler) Status(w http.ResponseWriter, r *http.Request) {
	contextName, ok := h.contextParam(w, r)
	if !ok {
		return
	}
	wdg := h.widget(w, r, contextName, "")
	wdg.Mount(r.Context())
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, statusResponse{
		Context: wdg.Context(),
		Title:   wdg.Title(),
		Allowed: wdg.Allowed(),
	})
}

func (h *GateHandler) widget(w http.ResponseWriter, r *http.Request, contextName, path string) *gate.Widget {
	return gate.New(gate.Options{
		Context: contextName,
		Path:    path,
		Flags:   h.flags.ForRequest(w, r),
		Leads:   h.leads,
		Logger:  h.log,
	})
}

func (h *GateHandler) contextParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := chi.URLParam(r, "context")
	if !config.ContextNamePattern.MatchString(name) {
		writeJSONError(w, http.StatusNotFound, "unknown gate")
		return "", false
	}
	if h.known != nil {
		if _, ok := h.known[name]; !ok {
			writeJSONError(w, http.StatusNotFound, "unknown gate")
			return "", false
		}
	}
	return name, true
}

func (h *GateHandler) renderOverlay(w http.ResponseWriter, r *http.Request, status int, wdg *gate.Widget, returnTo string, st gate.State) {
	var buf bytes.Buffer
	err := view.RenderOverlay(&buf, view.OverlayProps{
		Title:     wdg.Title(),
		Action:    "/_gate/" + url.PathEscape(wdg.Context()) + "/submit",
		Path:      returnTo,
		CSRFField: string(csrf.TemplateField(r)),
		State:     st,
	})
	if err != nil {
		h.log.Errorf("gate: render overlay: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Security-Policy", overlayCSP)
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func (h *GateHandler) publish(r *http.Request, event, contextName, path, reason string) {
	if h.audit == nil {
		return
	}
	h.audit.Publish(telemetry.GateAuditEvent{
		Timestamp: time.Now().UTC(),
		Event:     event,
		Context:   contextName,
		Path:      path,
		RequestID: middleware.GetReqID(r.Context()),
		Reason:    reason,
	})
}

// safeReturnPath keeps redirects on this host.
// pagePath drops the query and fragment of a return path. Leads record the
// page, not its campaign parameters.
func pagePath(p string) string {
	u, err := url.Parse(p)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

func safeReturnPath(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return "/"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	return u.RequestURI()
}

// inflight holds one submission slot per visitor and context.
type inflight struct {
	mu    sync.Mutex
	slots map[string]struct{}
}

func newInflight() *inflight {
	return &inflight{slots: make(map[string]struct{})}
}

func (f *inflight) acquire(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.slots[key]; busy {
		return false
	}
	f.slots[key] = struct{}{}
	return true
}

func (f *inflight) release(key string) {
	f.mu.Lock()
	delete(f.slots, key)
	f.mu.Unlock()
}
