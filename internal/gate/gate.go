// Package gate holds the lead-capture access gate: the per-context access flag,
// contact validation and the submit state machine that unlocks gated content.
package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ComUnity/access-gate/internal/models"
	"github.com/ComUnity/access-gate/internal/util/logger"
)

const (
	// GrantedValue is the only value an access flag is ever set to.
	GrantedValue = "granted"

	GenericRetryMessage = "Something went wrong. Please try again."
)

// ErrSubmitInFlight is returned when a submission arrives while another one is
// still writing its lead.
var ErrSubmitInFlight = errors.New("gate: submission already in progress")

// FlagStore is the visitor-local key-value storage holding access flags.
type FlagStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// LeadWriter records a captured lead remotely.
type LeadWriter interface {
	InsertLead(ctx context.Context, lead models.LeadRecord) error
}

// State is the transient view state of one gate.
type State struct {
	Email        string
	Phone        string
	ErrorMessage string
	IsSubmitting bool
	IsAllowed    bool
}

type Outcome int

const (
	OutcomeInvalid Outcome = iota
	OutcomeGranted
	OutcomeFailed
	OutcomeBusy
)

func (o Outcome) String() string {
	switch o {
	case OutcomeGranted:
		return "granted"
	case OutcomeFailed:
		return "failed"
	case OutcomeBusy:
		return "busy"
	default:
		return "invalid"
	}
}

type Options struct {
	Context string // defaults to DefaultContext
	Path    string // page the visitor submitted from
	Flags   FlagStore
	Leads   LeadWriter // nil disables remote lead writes
	Logger  *zap.SugaredLogger
}

// Widget is one mounted gate. It is safe for concurrent use, though a single
// visitor normally drives it sequentially.
type Widget struct {
	context string
	path    string
	flags   FlagStore
	leads   LeadWriter
	log     *zap.SugaredLogger
	tracer  trace.Tracer

	mu    sync.Mutex
	state State
}

func New(opts Options) *Widget {
	ctxName := strings.TrimSpace(opts.Context)
	if ctxName == "" {
		ctxName = DefaultContext
	}
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}
	return &Widget{
		context: ctxName,
		path:    opts.Path,
		flags:   opts.Flags,
		leads:   opts.Leads,
		log:     log,
		tracer:  otel.Tracer("access-gate/gate"),
	}
}

func (w *Widget) Context() string { return w.context }

func (w *Widget) Title() string { return Title(w.context) }

// Mount reads the access flag once. A read failure leaves the gate closed.
func (w *Widget) Mount(ctx context.Context) {
	if w.flags == nil {
		return
	}
	v, ok, err := w.flags.Get(ctx, FlagKey(w.context))
	if err != nil {
		w.log.Warnf("gate: read access flag context=%s: %v", w.context, err)
		return
	}
	if ok && v == GrantedValue {
		w.mu.Lock()
		w.state.IsAllowed = true
		w.mu.Unlock()
	}
}

// Submit validates the contact details and, when they pass, records the lead and
// grants access. A failed lead write leaves the gate closed and skips the flag
// write; an absent lead writer does not.
func (w *Widget) Submit(ctx context.Context, email, phone string) (Outcome, error) {
	w.mu.Lock()
	if w.state.IsSubmitting {
		w.mu.Unlock()
		return OutcomeBusy, ErrSubmitInFlight
	}
	w.state.Email = email
	w.state.Phone = phone
	if msg := Validate(email, phone); msg != "" {
		w.state.ErrorMessage = msg
		w.mu.Unlock()
		return OutcomeInvalid, nil
	}
	w.state.ErrorMessage = ""
	w.state.IsSubmitting = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.state.IsSubmitting = false
		w.mu.Unlock()
	}()

	ctx, span := w.tracer.Start(ctx, "gate.Submit", trace.WithAttributes(
		attribute.String("gate.context", w.context),
		attribute.Bool("gate.remote_leads", w.leads != nil),
	))
	defer span.End()

	if w.leads != nil {
		lead := models.LeadRecord{
			Email:   strings.TrimSpace(email),
			Phone:   strings.TrimSpace(phone),
			Context: w.context,
			Path:    w.path,
		}
		if err := w.leads.InsertLead(ctx, lead); err != nil {
			w.log.Errorf("gate: lead capture failed context=%s: %v", w.context, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "lead write failed")

			w.mu.Lock()
			w.state.ErrorMessage = GenericRetryMessage
			w.mu.Unlock()
			return OutcomeFailed, fmt.Errorf("record lead: %w", err)
		}
	}

	if w.flags != nil {
		if err := w.flags.Set(ctx, FlagKey(w.context), GrantedValue); err != nil {
			// The lead is captured; this session stays unlocked regardless.
			w.log.Warnf("gate: persist access flag context=%s: %v", w.context, err)
		}
	}

	w.mu.Lock()
	w.state.IsAllowed = true
	w.mu.Unlock()
	return OutcomeGranted, nil
}

// State returns a snapshot of the current view state.
func (w *Widget) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Widget) Allowed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.IsAllowed
}
