package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"lms-bridge/internal/audit"
	auditdomain "lms-bridge/internal/audit/domain"
	"lms-bridge/internal/catalog/domain"
	"lms-bridge/internal/metrics"
	"lms-bridge/internal/telemetry"
	teldomain "lms-bridge/internal/telemetry/domain"
)

// ErrSyncInProgress is returned when a sync is requested while another one is running.
var ErrSyncInProgress = errors.New("catalog: sync already in progress")

// Syncer runs single reconciliation passes. *Reconciler implements it.
type Syncer interface {
	SyncCategories(ctx context.Context) (*domain.SyncResult, error)
	SyncCourses(ctx context.Context) (*domain.SyncResult, error)
}

// Locker takes a cross-process lock without waiting. ok is false when another process holds it.
type Locker func(ctx context.Context) (release func(), ok bool, err error)

// OrchestratorOptions configures an Orchestrator. Zero values are usable.
type OrchestratorOptions struct {
	// Locker extends the in-process guard across processes (server and sync CLI).
	Locker  Locker
	Logger  logrus.FieldLogger
	Metrics *metrics.Metrics
	Audit   audit.AuditLogger
	Events  telemetry.EventEmitter
}

// Orchestrator sequences sync passes and guarantees at most one runs at a time.
type Orchestrator struct {
	syncer  Syncer
	lock    Locker
	running atomic.Bool
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	audit   audit.AuditLogger
	events  telemetry.EventEmitter
}

// NewOrchestrator returns an orchestrator over syncer.
func NewOrchestrator(syncer Syncer, opts OrchestratorOptions) *Orchestrator {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Orchestrator{
		syncer:  syncer,
		lock:    opts.Locker,
		log:     log.WithField("component", "sync"),
		metrics: opts.Metrics,
		audit:   opts.Audit,
		events:  opts.Events,
	}
}

// SyncCategories runs the category pass alone.
func (o *Orchestrator) SyncCategories(ctx context.Context) (*domain.SyncResult, error) {
	release, err := o.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	res, err := o.syncer.SyncCategories(ctx)
	o.record(ctx, string(domain.SyncKindCategories), time.Since(start), err, res)
	return res, err
}

// SyncCourses runs the course pass alone. Category references resolve against whatever
// categories are already stored.
func (o *Orchestrator) SyncCourses(ctx context.Context) (*domain.SyncResult, error) {
	release, err := o.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	res, err := o.syncer.SyncCourses(ctx)
	o.record(ctx, string(domain.SyncKindCourses), time.Since(start), err, res)
	return res, err
}

// FullSync runs categories then courses. If the category pass fails the course pass is not
// started and the error is returned. If the course pass fails the category result is still
// returned alongside the error.
func (o *Orchestrator) FullSync(ctx context.Context) (*domain.FullSyncResult, error) {
	release, err := o.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	out := &domain.FullSyncResult{}
	out.Categories, err = o.syncer.SyncCategories(ctx)
	if err != nil {
		err = fmt.Errorf("categories: %w", err)
		o.record(ctx, "full", time.Since(start), err, out.Categories)
		return nil, err
	}
	out.Courses, err = o.syncer.SyncCourses(ctx)
	if err != nil {
		err = fmt.Errorf("courses: %w", err)
	}
	o.record(ctx, "full", time.Since(start), err, out.Categories, out.Courses)
	return out, err
}

func (o *Orchestrator) acquire(ctx context.Context) (func(), error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	done := func() { o.running.Store(false) }
	if o.lock == nil {
		return done, nil
	}
	unlock, ok, err := o.lock(ctx)
	if err != nil {
		done()
		return nil, fmt.Errorf("catalog: sync lock: %w", err)
	}
	if !ok {
		done()
		return nil, ErrSyncInProgress
	}
	return func() {
		unlock()
		done()
	}, nil
}

// record publishes one run's outcome to metrics, logs, audit and events.
func (o *Orchestrator) record(ctx context.Context, kind string, d time.Duration, err error, results ...*domain.SyncResult) {
	o.metrics.ObserveSyncRun(kind, d, err)

	summary := map[string]any{"kind": kind, "duration_ms": d.Milliseconds()}
	for _, r := range results {
		if r == nil {
			continue
		}
		k := string(r.Kind)
		o.metrics.AddSyncItems(k, "created", r.Created)
		o.metrics.AddSyncItems(k, "updated", r.Updated)
		o.metrics.AddSyncItems(k, "unchanged", r.Unchanged)
		o.metrics.AddSyncItems(k, "failed", len(r.Failed))
		summary[k] = map[string]int{
			"total":      r.Total,
			"created":    r.Created,
			"updated":    r.Updated,
			"unchanged":  r.Unchanged,
			"failed":     len(r.Failed),
			"collisions": len(r.Collisions),
		}
	}

	action, eventType := auditdomain.ActionSyncCompleted, teldomain.EventSyncCompleted
	entry := o.log.WithFields(logrus.Fields{"kind": kind, "duration_ms": d.Milliseconds()})
	if err != nil {
		action, eventType = auditdomain.ActionSyncFailed, teldomain.EventSyncFailed
		summary["error"] = err.Error()
		entry.WithError(err).Error("sync run failed")
	} else {
		entry.Info("sync run completed")
	}
	if o.audit != nil {
		o.audit.LogEvent(ctx, "", action, "catalog", summary)
	}
	telemetry.EmitAsync(o.events, teldomain.NewEvent(eventType, eventSource, "", summary))
}
