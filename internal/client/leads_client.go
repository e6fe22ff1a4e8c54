package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ComUnity/access-gate/internal/models"
)

// ErrLeadRejected is returned when the lead service answers with a non-2xx status.
var ErrLeadRejected = errors.New("lead service rejected insert")

// RejectedError carries the status and a truncated body of a refused insert.
// It matches ErrLeadRejected under errors.Is.
type RejectedError struct {
	Status int
	Detail string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", ErrLeadRejected, e.Status, e.Detail)
}

func (e *RejectedError) Unwrap() error { return ErrLeadRejected }

func (e *RejectedError) HTTPStatus() int { return e.Status }

const leadsCollection = "leads"

type LeadClientConfig struct {
	URL        string
	AnonKey    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// LeadClient inserts rows into the leads collection of a PostgREST-style
// service using its anonymous key.
type LeadClient struct {
	endpoint string
	anonKey  string
	http     *http.Client
}

// NewLeadClient returns nil when the URL or the anonymous key is missing.
// Callers treat a nil client as lead capture being switched off.
func NewLeadClient(cfg LeadClientConfig) *LeadClient {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	key := strings.TrimSpace(cfg.AnonKey)
	if base == "" || key == "" {
		return nil
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: orDuration(cfg.Timeout, 10*time.Second)}
	}
	return &LeadClient{
		endpoint: base + "/rest/v1/" + leadsCollection,
		anonKey:  key,
		http:     hc,
	}
}

type leadRow struct {
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Context string `json:"context"`
	Path    string `json:"path"`
}

// InsertLead writes one lead row. Nothing is read back.
func (c *LeadClient) InsertLead(ctx context.Context, lead models.LeadRecord) error {
	body, err := json.Marshal(leadRow{
		Email:   lead.Email,
		Phone:   lead.Phone,
		Context: lead.Context,
		Path:    lead.Path,
	})
	if err != nil {
		return fmt.Errorf("encode lead: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build lead request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+c.anonKey)
	req.Header.Set("Prefer", "return=minimal")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("insert lead: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &RejectedError{Status: resp.StatusCode, Detail: strings.TrimSpace(string(msg))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
