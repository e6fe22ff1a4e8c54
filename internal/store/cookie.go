package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const flagCookieName = "vb_gate"

// ErrInvalidFlagCookie means the flag cookie was present but failed verification.
var ErrInvalidFlagCookie = errors.New("store: invalid flag cookie")

// CookieProvider keeps every flag of a visitor in one signed cookie, so the
// flags live with the visitor's browser the way local storage would.
type CookieProvider struct {
	Secret []byte
	Secure bool
	MaxAge time.Duration

	now func() time.Time
}

func NewCookieProvider(secret []byte, secure bool, maxAge time.Duration) *CookieProvider {
	return &CookieProvider{Secret: secret, Secure: secure, MaxAge: maxAge, now: time.Now}
}

func (p *CookieProvider) ForRequest(w http.ResponseWriter, r *http.Request) FlagStore {
	return &CookieStore{provider: p, w: w, r: r}
}

type flagClaims struct {
	Flags map[string]string `json:"flags"`
	jwt.RegisteredClaims
}

// CookieStore reads flags from the request cookie and writes them back on the
// response. It is scoped to a single request.
type CookieStore struct {
	provider *CookieProvider
	w        http.ResponseWriter
	r        *http.Request

	mu     sync.Mutex
	loaded bool
	flags  map[string]string
}

func (s *CookieStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return "", false, err
	}
	v, ok := s.flags[key]
	return v, ok, nil
}

func (s *CookieStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// an unreadable cookie is replaced rather than merged
	_ = s.load()
	s.flags[key] = value

	now := s.provider.clock()
	claims := flagClaims{
		Flags: s.flags,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.provider.MaxAge)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.provider.Secret)
	if err != nil {
		return fmt.Errorf("sign flag cookie: %w", err)
	}
	http.SetCookie(s.w, &http.Cookie{
		Name:     flagCookieName,
		Value:    signed,
		Path:     "/",
		MaxAge:   int(s.provider.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   s.provider.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (s *CookieStore) load() error {
	if s.loaded {
		return nil
	}
	s.loaded = true
	s.flags = make(map[string]string)

	c, err := s.r.Cookie(flagCookieName)
	if err != nil {
		return nil
	}

	claims := &flagClaims{}
	parser := jwt.Parser{ValidMethods: []string{jwt.SigningMethodHS256.Alg()}}
	_, err = parser.ParseWithClaims(c.Value, claims, func(t *jwt.Token) (interface{}, error) {
		return s.provider.Secret, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFlagCookie, err)
	}
	for k, v := range claims.Flags {
		s.flags[k] = v
	}
	return nil
}

func (p *CookieProvider) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}
