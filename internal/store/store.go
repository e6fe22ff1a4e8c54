// Package store persists gate access flags per visitor.
package store

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FlagStore is a visitor-local key-value store.
type FlagStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Provider binds a FlagStore to the visitor behind a request. Implementations
// may set cookies on w.
type Provider interface {
	ForRequest(w http.ResponseWriter, r *http.Request) FlagStore
}

// MemoryStore is an in-process FlagStore.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

// MemoryProvider keeps one MemoryStore per visitor id. A visitor's store is
// created on its first write, so visitors who never submit cost nothing.
// Flags are lost on restart.
type MemoryProvider struct {
	Visitors VisitorCookie

	mu     sync.Mutex
	stores map[string]*MemoryStore
}

func NewMemoryProvider(visitors VisitorCookie) *MemoryProvider {
	return &MemoryProvider{Visitors: visitors, stores: make(map[string]*MemoryStore)}
}

func (p *MemoryProvider) ForRequest(w http.ResponseWriter, r *http.Request) FlagStore {
	return &visitorMemoryStore{p: p, visitor: p.Visitors.Ensure(w, r)}
}

// Len reports how many visitors hold at least one flag.
func (p *MemoryProvider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stores)
}

func (p *MemoryProvider) lookup(visitor string, create bool) *MemoryStore {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.stores[visitor]
	if !ok && create {
		s = NewMemoryStore()
		p.stores[visitor] = s
	}
	return s
}

type visitorMemoryStore struct {
	p       *MemoryProvider
	visitor string
}

func (v *visitorMemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	s := v.p.lookup(v.visitor, false)
	if s == nil {
		return "", false, nil
	}
	return s.Get(ctx, key)
}

func (v *visitorMemoryStore) Set(ctx context.Context, key, value string) error {
	return v.p.lookup(v.visitor, true).Set(ctx, key, value)
}

const visitorCookieName = "vb_visitor"

// VisitorCookie issues and reads the anonymous visitor id cookie.
type VisitorCookie struct {
	Secure bool
	MaxAge time.Duration
}

// Ensure returns the visitor id of r, issuing a new one on w when r has none.
func (v VisitorCookie) Ensure(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(visitorCookieName); err == nil {
		if id, err := uuid.Parse(c.Value); err == nil {
			return id.String()
		}
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     visitorCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(v.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   v.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	// later lookups within the same request see the new id
	r.AddCookie(&http.Cookie{Name: visitorCookieName, Value: id})
	return id
}
