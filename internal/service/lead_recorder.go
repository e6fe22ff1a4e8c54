package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ComUnity/access-gate/internal/gate"
	"github.com/ComUnity/access-gate/internal/models"
	"github.com/ComUnity/access-gate/internal/telemetry"
	"github.com/ComUnity/access-gate/internal/util/logger"
)

// Publisher accepts audit events. telemetry.KafkaAuditShipper satisfies it.
type Publisher interface {
	Publish(ev any)
}

// LeadRecorder decorates a LeadWriter with ids, tracing and audit events.
type LeadRecorder struct {
	writer gate.LeadWriter
	audit  Publisher
	tracer trace.Tracer
	now    func() time.Time
}

// NewLeadRecorder returns nil when writer is nil so callers can keep the
// "no remote writes" meaning of a nil gate.LeadWriter.
func NewLeadRecorder(writer gate.LeadWriter, audit Publisher) *LeadRecorder {
	if writer == nil {
		return nil
	}
	return &LeadRecorder{
		writer: writer,
		audit:  audit,
		tracer: otel.Tracer("access-gate/service"),
		now:    time.Now,
	}
}

func (r *LeadRecorder) InsertLead(ctx context.Context, lead models.LeadRecord) error {
	if lead.ID == uuid.Nil {
		lead.ID = uuid.New()
	}
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = r.now().UTC()
	}

	ctx, span := r.tracer.Start(ctx, "leads.Insert", trace.WithAttributes(
		attribute.String("lead.id", lead.ID.String()),
		attribute.String("gate.context", lead.Context),
	))
	defer span.End()

	start := r.now()
	err := r.writer.InsertLead(ctx, lead)
	elapsed := r.now().Sub(start)

	ev := telemetry.GateAuditEvent{
		Timestamp: lead.CreatedAt,
		Event:     telemetry.EventLeadCaptured,
		Context:   lead.Context,
		Path:      lead.Path,
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert lead")
		ev.Event = telemetry.EventLeadFailed
		ev.Reason = failureReason(err)
	} else {
		logger.Debugf("lead %s recorded for context=%s in %s", lead.ID, lead.Context, elapsed)
	}
	if r.audit != nil {
		r.audit.Publish(ev)
	}
	return err
}

// failureReason reduces a write error to a fixed label. Error text from the
// lead service can echo the submitted row, so it never reaches the audit log.
func failureReason(err error) string {
	var status interface{ HTTPStatus() int }
	var timeout interface{ Timeout() bool }
	switch {
	case errors.As(err, &status):
		return fmt.Sprintf("rejected: status %d", status.HTTPStatus())
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &timeout) && timeout.Timeout():
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "write_failed"
	}
}
