package audit

import (
	"context"
	"sync"
	"time"

	"clmhub.io/internal/obs"
)

const defaultEmitTimeout = 5 * time.Second

// Emitter writes audit entries in the background after a primary action has succeeded.
// Failures are counted and logged, never returned.
type Emitter struct {
	rec     *Recorder
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewEmitter builds an emitter. A non-positive timeout uses 5s.
func NewEmitter(rec *Recorder, timeout time.Duration) *Emitter {
	if timeout <= 0 {
		timeout = defaultEmitTimeout
	}
	return &Emitter{rec: rec, timeout: timeout}
}

// Emit schedules e for writing. The request context may end before the write; only its values are kept.
func (em *Emitter) Emit(ctx context.Context, e Entry) {
	if em == nil || em.rec == nil {
		return
	}
	em.wg.Add(1)
	go func() {
		defer em.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), em.timeout)
		defer cancel()
		if _, err := em.rec.Record(ctx, e); err != nil {
			obs.AuditEmitFailures.WithLabelValues(e.EntityType).Inc()
			obs.Warn("audit_emit_failed", map[string]any{
				"company_id":  e.CompanyID,
				"entity_type": e.EntityType,
				"entity_id":   e.EntityID,
				"action":      e.Action,
				"request_id":  RequestIDFromContext(ctx),
				"error":       err,
			})
		}
	}()
}

// Wait blocks until every scheduled emission has finished.
func (em *Emitter) Wait() {
	if em == nil {
		return
	}
	em.wg.Wait()
}
