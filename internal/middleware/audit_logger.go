package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ComUnity/access-gate/internal/telemetry"
	"github.com/ComUnity/access-gate/internal/util/logger"
)

// Publisher is the minimal interface middlewares need.
type Publisher interface {
	Publish(any)
}

// RequestAuditMW logs each request and ships a RequestAuditEvent. Query strings
// are left out since return paths may carry campaign parameters.
type RequestAuditMW struct {
	Shipper Publisher
}

func NewRequestAuditMW(shipper Publisher) *RequestAuditMW {
	return &RequestAuditMW{Shipper: shipper}
}

func (m *RequestAuditMW) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		reqID := chimw.GetReqID(r.Context())

		logger.GetLogger().Infow("request_audit",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"latency_ms", elapsed.Milliseconds(),
			"request_id", reqID,
		)
		if m.Shipper != nil {
			m.Shipper.Publish(telemetry.RequestAuditEvent{
				Timestamp:  start.UTC(),
				Method:     r.Method,
				Path:       r.URL.Path,
				Status:     status,
				DurationMs: elapsed.Milliseconds(),
				RequestID:  reqID,
			})
		}
	})
}
