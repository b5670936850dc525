// Package health reports readiness: the database answers and the access policy evaluates.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	bridgev1 "lms-bridge/api/bridge/v1"
)

const checkTimeout = 2 * time.Second

// Pinger is used for the database readiness check (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker is used for the policy engine readiness check (e.g. *engine.OPAEvaluator).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Checker runs the readiness checks. Nil dependencies are skipped.
type Checker struct {
	db     Pinger
	policy PolicyChecker
	log    logrus.FieldLogger
}

// NewChecker returns a Checker. db and policy may be nil.
func NewChecker(db Pinger, policy PolicyChecker, log logrus.FieldLogger) *Checker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Checker{db: db, policy: policy, log: log.WithField("component", "health")}
}

// Check returns a map of failed checks to their error text; empty means ready.
func (c *Checker) Check(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	failed := map[string]string{}
	if c.db != nil {
		if err := c.db.PingContext(ctx); err != nil {
			failed["database"] = err.Error()
		}
	}
	if c.policy != nil {
		if err := c.policy.HealthCheck(ctx); err != nil {
			failed["policy"] = err.Error()
		}
	}
	return failed
}

// Update runs the checks and sets the serving status of the whole server ("") and of
// BridgeService on srv.
func (c *Checker) Update(ctx context.Context, srv *health.Server) {
	st := healthpb.HealthCheckResponse_SERVING
	if failed := c.Check(ctx); len(failed) > 0 {
		st = healthpb.HealthCheckResponse_NOT_SERVING
		c.log.WithField("failed", failed).Warn("readiness check failed")
	}
	srv.SetServingStatus("", st)
	srv.SetServingStatus(bridgev1.ServiceName, st)
}

// Watch calls Update every interval until ctx is done.
func (c *Checker) Watch(ctx context.Context, srv *health.Server, interval time.Duration) {
	c.Update(ctx, srv)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Update(ctx, srv)
		}
	}
}

// ServeHTTP answers 200 {"status":"ok"} when ready and 503 with the failed checks otherwise.
func (c *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	failed := c.Check(r.Context())
	w.Header().Set("Content-Type", "application/json")
	body := map[string]any{"status": "ok"}
	if len(failed) > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		body = map[string]any{"status": "unavailable", "failed": failed}
	}
	_ = json.NewEncoder(w).Encode(body)
}
