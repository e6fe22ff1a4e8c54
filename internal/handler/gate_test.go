package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ComUnity/access-gate/internal/gate"
	"github.com/ComUnity/access-gate/internal/models"
	"github.com/ComUnity/access-gate/internal/store"
	"github.com/ComUnity/access-gate/internal/telemetry"
)

type fakeLeads struct {
	mu   sync.Mutex
	got  []models.LeadRecord
	fail error
}

func (f *fakeLeads) InsertLead(_ context.Context, lead models.LeadRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, lead)
	return f.fail
}

func (f *fakeLeads) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

type capturePublisher struct {
	mu     sync.Mutex
	events []telemetry.GateAuditEvent
}

func (p *capturePublisher) Publish(ev any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := ev.(telemetry.GateAuditEvent); ok {
		p.events = append(p.events, e)
	}
}

type gateFixture struct {
	h      *GateHandler
	router http.Handler
	audit  *capturePublisher
}

func content(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, body)
	})
}

func newGateFixture(t *testing.T, flags store.Provider, leads gate.LeadWriter, contexts ...string) *gateFixture {
	t.Helper()
	audit := &capturePublisher{}
	h := NewGateHandler(GateHandlerConfig{
		Flags:    flags,
		Leads:    leads,
		Audit:    audit,
		Contexts: contexts,
		Logger:   zap.NewNop().Sugar(),
	})
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	r.Handle("/deck", h.Middleware("pitch", content("deck body")))
	r.Handle("/proto", h.Middleware("prototype", content("proto body")))
	return &gateFixture{h: h, router: r, audit: audit}
}

// session replays cookies between requests like a browser.
type session struct {
	t       *testing.T
	router  http.Handler
	cookies map[string]*http.Cookie
}

func newSession(t *testing.T, router http.Handler) *session {
	return &session{t: t, router: router, cookies: map[string]*http.Cookie{}}
}

func (s *session) do(req *http.Request) *httptest.ResponseRecorder {
	for _, c := range s.cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		s.cookies[c.Name] = c
	}
	return rec
}

func (s *session) get(path string) *httptest.ResponseRecorder {
	return s.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (s *session) submit(contextName, email, phone, path string) *httptest.ResponseRecorder {
	form := url.Values{"email": {email}, "phone": {phone}, "path": {path}}
	req := httptest.NewRequest(http.MethodPost, "/_gate/"+contextName+"/submit", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.do(req)
}

func TestMiddlewareShowsOverlayWithContextTitle(t *testing.T) {
	f := newGateFixture(t, store.NewMemoryProvider(store.VisitorCookie{}), nil)
	s := newSession(t, f.router)

	rec := s.get("/deck")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Access the Pitch Deck")
	assert.NotContains(t, rec.Body.String(), "deck body")
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))

	rec = s.get("/proto")
	assert.Contains(t, rec.Body.String(), "Access the Prototype")

	require.Len(t, f.audit.events, 2)
	assert.Equal(t, telemetry.EventGateViewed, f.audit.events[0].Event)
	assert.Equal(t, "pitch", f.audit.events[0].Context)
}

func TestSubmitGrantsAccessAndPersistsFlag(t *testing.T) {
	leads := &fakeLeads{}
	f := newGateFixture(t, store.NewMemoryProvider(store.VisitorCookie{}), leads)
	s := newSession(t, f.router)

	rec := s.submit("pitch", "a@b.com", "+15551234567", "/deck")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/deck", rec.Header().Get("Location"))

	require.Equal(t, 1, leads.calls())
	assert.Equal(t, "a@b.com", leads.got[0].Email)
	assert.Equal(t, "+15551234567", leads.got[0].Phone)
	assert.Equal(t, "pitch", leads.got[0].Context)
	assert.Equal(t, "/deck", leads.got[0].Path)

	rec = s.get("/deck")
	assert.Equal(t, "deck body", rec.Body.String())

	// other contexts stay gated
	rec = s.get("/proto")
	assert.Contains(t, rec.Body.String(), "Access the Prototype")
}

func TestSubmitRecordsPagePathWithoutQuery(t *testing.T) {
	leads := &fakeLeads{}
	f := newGateFixture(t, store.NewMemoryProvider(store.VisitorCookie{}), leads)
	s := newSession(t, f.router)

	rec := s.submit("pitch", "a@b.com", "+15551234567", "/deck?utm_source=newsletter&ref=a%40b.com")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/deck?utm_source=newsletter&ref=a%40b.com", rec.Header().Get("Location"))

	require.Equal(t, 1, leads.calls())
	assert.Equal(t, "/deck", leads.got[0].Path)
}

func TestSubmitWithoutLeadWriterStillGrants(t *testing.T) {
	f := newGateFixture(t, store.NewMemoryProvider(store.VisitorCookie{}), nil)
	s := newSession(t, f.router)

	rec := s.submit("prototype", "a@b.com", "555-123-4567", "/proto")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "proto body", s.get("/proto").Body.String())
}

func TestSubmitWithCookieStore(t *testing.T) {
	provider := store.NewCookieProvider([]byte("0123456789abcdef0123456789abcdef"), false, time.Hour)
	f := newGateFixture(t, provider, &fakeLeads{})
	s := newSession(t, f.router)

	rec := s.submit("pitch", "a@b.com", "+15551234567", "/deck")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "deck body", s.get("/deck").Body.String())
}

func TestSubmitRemoteFailureKeepsGateClosed(t *testing.T) {
	leads := &fakeLeads{fail: errors.New("connection refused")}
	f := newGateFixture(t, store.NewMemoryProvider(store.VisitorCookie{}), leads)
	s := newSession(t, f.router)

	rec := s.submit("pitch", "a@b.com", "+15551234567", "/deck")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), gate.GenericRetryMessage)
	assert.Equal(t, 1, leads.calls())

	rec = s.get("/deck")
	assert.Contains(t, rec.Body.String(), "Access the Pitch Deck")

	// resubmitting retries the write
	leads.mu.Lock()
	leads.fail = nil
	leads.mu.Unlock()
	rec = s.submit("pitch", "a@b.com", "+15551234567", "/deck")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, 2, leads.calls())
}

func TestSubmitValidationError(t *testing.T) {
	cases := []struct {
		email, phone, want string
	}{
		{"", "+15551234567", gate.MsgEmailRequired},
		{"not-an-email", "+15551234567", gate.MsgEmailInvalid},
		{"a@b.com", "", gate.MsgPhoneRequired},
		{"a@b.com", "abc", gate.MsgPhoneInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.want, func(t *testing.T) {
			leads := &fakeLeads{}
			f := newGateFixture(t, store.NewMemoryProvider(store.VisitorCookie{}), leads)
			s := newSession(t, f.router)

			rec := s.submit("pitch", tc.email, tc.phone, "/deck")
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.want)
			assert.Zero(t, leads.calls())
			assert.Contains(t, s.get("/deck").Body.String(), "Access the Pitch Deck")
		})
	}
}

func TestSubmitRejectsDuplicateInFlight(t *testing.T) {
	leads := &fakeLeads{}
	f := newGateFixture(t, store.NewMemoryProvider(store.VisitorCookie{}), leads)
	s := newSession(t, f.router)

	visitor := uuid.NewString()
	s.cookies["vb_visitor"] = &http.Cookie{Name: "vb_visitor", Value: visitor}
	require.True(t, f.h.inflight.acquire(visitor+"|pitch"))

	rec := s.submit("pitch", "a@b.com", "+15551234567", "/deck")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `type="submit" disabled`)
	assert.Zero(t, leads.calls())

	f.h.inflight.release(visitor + "|pitch")
	rec = s.submit("pitch", "a@b.com", "+15551234567", "/deck")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, 1, leads.calls())
}

func TestSubmitUnsafeReturnPath(t *testing.T) {
	f := newGateFixture(t, store.NewMemoryProvider(store.VisitorCookie{}), nil)
	s := newSession(t, f.router)

	rec := s.submit("pitch", "a@b.com", "+15551234567", "https://evil.example/phish")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestUnknownContext(t *testing.T) {
	f := newGateFixture(t, store.NewMemoryProvider(store.VisitorCookie{}), nil, "pitch", "prototype")
	s := newSession(t, f.router)

	assert.Equal(t, http.StatusNotFound, s.submit("other", "a@b.com", "+15551234567", "/").Code)
	assert.Equal(t, http.StatusNotFound, s.get("/_gate/a.b/status").Code)
	assert.Equal(t, http.StatusOK, s.get("/_gate/pitch/status").Code)
}

func TestStatus(t *testing.T) {
	f := newGateFixture(t, store.NewMemoryProvider(store.VisitorCookie{}), nil)
	s := newSession(t, f.router)

	var got statusResponse
	rec := s.get("/_gate/pitch/status")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, statusResponse{Context: "pitch", Title: "Pitch Deck", Allowed: false}, got)

	s.submit("pitch", "a@b.com", "+15551234567", "/deck")
	rec = s.get("/_gate/pitch/status")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Allowed)
}

func TestSafeReturnPath(t *testing.T) {
	cases := map[string]string{
		"":                     "/",
		"deck":                 "/",
		"//evil.example":       "/",
		"/\\evil.example":      "/",
		"https://evil.example": "/",
		"/deck":                "/deck",
		"/deck?slide=3":        "/deck?slide=3",
	}
	for in, want := range cases {
		assert.Equal(t, want, safeReturnPath(in), "input %q", in)
	}
}

func TestPagePath(t *testing.T) {
	assert.Equal(t, "/deck", pagePath("/deck?slide=3#notes"))
	assert.Equal(t, "/deck/", pagePath("/deck/"))
	assert.Equal(t, "/", pagePath("?utm_source=x"))
}
