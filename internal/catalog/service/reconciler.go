// Package service reconciles the external catalog into the local store.
package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"lms-bridge/internal/audit"
	auditdomain "lms-bridge/internal/audit/domain"
	"lms-bridge/internal/catalog/domain"
	"lms-bridge/internal/catalog/repository"
	"lms-bridge/internal/lms"
	"lms-bridge/internal/metrics"
	"lms-bridge/internal/telemetry"
	teldomain "lms-bridge/internal/telemetry/domain"
)

const (
	defaultWorkers  = 4
	defaultCurrency = "USD"
	eventSource     = "catalog"
)

var tracer = otel.Tracer("lms-bridge/catalog")

// Source lists the external catalog. *lms.Client implements it.
type Source interface {
	ListCategories(ctx context.Context) ([]lms.Category, error)
	ListCourses(ctx context.Context) ([]lms.Course, error)
}

// Options configures a Reconciler. Zero values are usable.
type Options struct {
	// Workers bounds concurrent upserts (default 4).
	Workers int
	// DefaultCurrency is set on newly created courses (default USD).
	DefaultCurrency string
	Logger          logrus.FieldLogger
	Metrics         *metrics.Metrics
	Audit           audit.AuditLogger
	Events          telemetry.EventEmitter
	// Now is the clock (tests).
	Now func() time.Time
}

// Reconciler mirrors external categories and courses into the local store.
type Reconciler struct {
	source   Source
	repo     repository.Repository
	workers  int
	currency string
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
	audit    audit.AuditLogger
	events   telemetry.EventEmitter
	now      func() time.Time
}

// NewReconciler returns a reconciler reading from source and writing to repo.
func NewReconciler(source Source, repo repository.Repository, opts Options) *Reconciler {
	r := &Reconciler{
		source:   source,
		repo:     repo,
		workers:  opts.Workers,
		currency: opts.DefaultCurrency,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		audit:    opts.Audit,
		events:   opts.Events,
		now:      opts.Now,
	}
	if r.workers <= 0 {
		r.workers = defaultWorkers
	}
	if r.currency == "" {
		r.currency = defaultCurrency
	}
	if r.log == nil {
		r.log = logrus.StandardLogger()
	}
	r.log = r.log.WithField("component", "catalog")
	if r.now == nil {
		r.now = func() time.Time { return time.Now().UTC() }
	}
	return r
}

// write is one planned insert or update. err is set by the worker that ran it.
type write struct {
	externalID int64
	name       string
	create     bool
	category   *domain.Category
	course     *domain.Course
	collision  *domain.SlugCollision
	err        error
}

// SyncCategories pulls every external category and upserts it by slug. Only a failure to list
// the source or load local state returns an error; item failures are reported in the result.
func (r *Reconciler) SyncCategories(ctx context.Context) (*domain.SyncResult, error) {
	ctx, span := tracer.Start(ctx, "catalog.SyncCategories")
	defer span.End()

	result := &domain.SyncResult{Kind: domain.SyncKindCategories, StartedAt: r.now()}
	src, err := r.source.ListCategories(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "list categories")
		return nil, fmt.Errorf("catalog: list external categories: %w", err)
	}
	stored, err := r.repo.ListCategories(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "load categories")
		return nil, fmt.Errorf("catalog: load categories: %w", err)
	}
	result.Total = len(src)

	live := make(map[int64]bool, len(src))
	for _, sc := range src {
		live[int64(sc.ID)] = true
	}
	byExt := make(map[int64]*domain.Category, len(stored))
	orphans := make(map[string]*domain.Category)
	planner := newSlugPlanner()
	for _, c := range stored {
		byExt[c.ExternalCategoryID] = c
		planner.reserve(c.Slug, c.ExternalCategoryID)
		if !live[c.ExternalCategoryID] {
			orphans[c.Slug] = c
		}
	}

	now := r.now()
	seen := make(map[int64]bool, len(src))
	var writes []*write
	for _, sc := range src {
		ext := int64(sc.ID)
		name := strings.TrimSpace(html.UnescapeString(sc.Name))
		if reason := itemProblem(sc.DecodeErr, ext, seen); reason != "" {
			r.fail(result, ext, name, reason)
			continue
		}
		base := CategorySlugBase(sc.IDNumber, name, ext)

		existing := byExt[ext]
		var slug string
		var collision *domain.SlugCollision
		if existing == nil && orphans[base] != nil {
			// Slug is the natural key: a category recreated upstream under a new id takes over the
			// row its slug already names.
			existing = orphans[base]
			delete(orphans, base)
			planner.reserve(base, ext)
			slug = base
		} else {
			current := ""
			if existing != nil {
				current = existing.Slug
			}
			slug, collision = planner.assign(base, ext, current)
		}

		desired := &domain.Category{
			Slug:               slug,
			ExternalCategoryID: ext,
			Name:               name,
			Description:        strings.TrimSpace(sc.Description),
			ParentExternalID:   int64(sc.Parent),
			SortOrder:          int(sc.SortOrder),
			Depth:              int(sc.Depth),
			CourseCount:        int(sc.CourseCount),
			Visible:            sc.IsVisible(),
		}
		if err := desired.Validate(); err != nil {
			r.fail(result, ext, name, err.Error())
			continue
		}
		w := &write{externalID: ext, name: name, category: desired, collision: collision}
		if existing != nil {
			if existing.Slug == desired.Slug && existing.SameDisplay(desired) {
				result.Unchanged++
				continue
			}
			desired.ID = existing.ID
			desired.CreatedAt = existing.CreatedAt
			desired.UpdatedAt = now
		} else {
			desired.ID = uuid.New().String()
			desired.CreatedAt = now
			desired.UpdatedAt = now
			w.create = true
		}
		writes = append(writes, w)
	}

	r.apply(ctx, writes, func(ctx context.Context, w *write) error {
		if w.create {
			return r.repo.CreateCategory(ctx, w.category)
		}
		return r.repo.UpdateCategory(ctx, w.category)
	})
	r.collect(ctx, result, writes, "category")
	r.finish(span, result)
	return result, nil
}

// SyncCourses pulls every external course and upserts it by external course id. Source-owned
// fields are overwritten; locally-owned fields are set only when the course is first created.
// Unchanged courses are not written.
func (r *Reconciler) SyncCourses(ctx context.Context) (*domain.SyncResult, error) {
	ctx, span := tracer.Start(ctx, "catalog.SyncCourses")
	defer span.End()

	result := &domain.SyncResult{Kind: domain.SyncKindCourses, StartedAt: r.now()}
	src, err := r.source.ListCourses(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "list courses")
		return nil, fmt.Errorf("catalog: list external courses: %w", err)
	}
	cats, err := r.repo.ListCategories(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "load categories")
		return nil, fmt.Errorf("catalog: load categories: %w", err)
	}
	stored, err := r.repo.ListCourses(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "load courses")
		return nil, fmt.Errorf("catalog: load courses: %w", err)
	}
	result.Total = len(src)

	catByExt := make(map[int64]string, len(cats))
	for _, c := range cats {
		catByExt[c.ExternalCategoryID] = c.ID
	}
	byExt := make(map[int64]*domain.Course, len(stored))
	planner := newSlugPlanner()
	for _, c := range stored {
		byExt[c.ExternalCourseID] = c
		planner.reserve(c.Slug, c.ExternalCourseID)
	}

	now := r.now()
	seen := make(map[int64]bool, len(src))
	var writes []*write
	for _, sc := range src {
		ext := int64(sc.ID)
		title := strings.TrimSpace(html.UnescapeString(sc.Title()))
		if reason := itemProblem(sc.DecodeErr, ext, seen); reason != "" {
			r.fail(result, ext, title, reason)
			continue
		}

		existing := byExt[ext]
		current := ""
		if existing != nil {
			current = existing.Slug
		}
		slug, collision := planner.assign(CourseSlugBase(sc.ShortName, ext), ext, current)

		categoryID := ""
		if sc.CategoryID > 0 {
			var ok bool
			if categoryID, ok = catByExt[int64(sc.CategoryID)]; !ok {
				r.log.WithFields(logrus.Fields{"external_course_id": ext, "external_category_id": int64(sc.CategoryID)}).
					Debug("course category not mirrored; leaving uncategorized")
			}
		}

		desired := &domain.Course{
			ExternalCourseID: ext,
			Slug:             slug,
			Title:            title,
			Summary:          strings.TrimSpace(sc.Summary),
			CategoryID:       categoryID,
			Visible:          sc.IsVisible(),
			ExternalImageURL: sc.ImageURL(),
		}
		if err := desired.Validate(); err != nil {
			r.fail(result, ext, title, err.Error())
			continue
		}

		w := &write{externalID: ext, name: title, collision: collision}
		if existing != nil {
			if existing.SameSource(desired) {
				result.Unchanged++
				continue
			}
			merged := *existing
			merged.Slug = desired.Slug
			merged.Title = desired.Title
			merged.Summary = desired.Summary
			merged.CategoryID = desired.CategoryID
			merged.Visible = desired.Visible
			merged.ExternalImageURL = desired.ExternalImageURL
			merged.UpdatedAt = now
			w.course = &merged
		} else {
			desired.ID = uuid.New().String()
			desired.Currency = r.currency
			desired.Tags = []string{}
			desired.CreatedAt = now
			desired.UpdatedAt = now
			w.course = desired
			w.create = true
		}
		writes = append(writes, w)
	}

	r.apply(ctx, writes, func(ctx context.Context, w *write) error {
		if w.create {
			return r.repo.CreateCourse(ctx, w.course)
		}
		return r.repo.UpdateCourseSource(ctx, w.course)
	})
	r.collect(ctx, result, writes, "course")
	r.finish(span, result)
	return result, nil
}

// itemProblem returns why a source item cannot be reconciled, or "".
func itemProblem(decodeErr error, ext int64, seen map[int64]bool) string {
	switch {
	case decodeErr != nil:
		return decodeErr.Error()
	case ext <= 0:
		return "missing external id"
	case seen[ext]:
		return "duplicate external id in source"
	}
	seen[ext] = true
	return ""
}

// apply runs fn for every write on a bounded worker group. Each write records its own error so
// one failing row never stops the others.
func (r *Reconciler) apply(ctx context.Context, writes []*write, fn func(context.Context, *write) error) {
	var g errgroup.Group
	g.SetLimit(r.workers)
	for _, w := range writes {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				w.err = err
				return nil
			}
			w.err = fn(ctx, w)
			return nil
		})
	}
	_ = g.Wait()
}

// collect folds finished writes into result in planning order and reports collisions.
func (r *Reconciler) collect(ctx context.Context, result *domain.SyncResult, writes []*write, resource string) {
	for _, w := range writes {
		if w.err != nil {
			r.fail(result, w.externalID, w.name, w.err.Error())
			continue
		}
		if w.create {
			result.Created++
		} else {
			result.Updated++
		}
		if w.collision != nil {
			result.Collisions = append(result.Collisions, *w.collision)
			r.reportCollision(ctx, resource, *w.collision)
		}
	}
}

func (r *Reconciler) fail(result *domain.SyncResult, ext int64, name, reason string) {
	result.Failed = append(result.Failed, domain.ItemFailure{ExternalID: ext, Name: name, Reason: reason})
	r.log.WithFields(logrus.Fields{
		"kind":        result.Kind,
		"external_id": ext,
		"name":        name,
		"reason":      reason,
	}).Warn("catalog item skipped")
}

func (r *Reconciler) reportCollision(ctx context.Context, resource string, c domain.SlugCollision) {
	fields := logrus.Fields{
		"resource":       resource,
		"external_id":    c.ExternalID,
		"base":           c.Base,
		"assigned":       c.Assigned,
		"conflicts_with": c.ConflictsWith,
	}
	r.log.WithFields(fields).Warn("slug collision")
	r.metrics.IncSlugCollision(resource)
	if r.audit != nil {
		r.audit.LogEvent(ctx, "", auditdomain.ActionSlugCollision, resource, fields)
	}
	telemetry.EmitAsync(r.events, teldomain.NewEvent(teldomain.EventSlugCollision, eventSource, "", fields))
}

func (r *Reconciler) finish(span trace.Span, result *domain.SyncResult) {
	result.FinishedAt = r.now()
	span.SetAttributes(
		attribute.String("catalog.kind", string(result.Kind)),
		attribute.Int("catalog.total", result.Total),
		attribute.Int("catalog.created", result.Created),
		attribute.Int("catalog.updated", result.Updated),
		attribute.Int("catalog.unchanged", result.Unchanged),
		attribute.Int("catalog.failed", len(result.Failed)),
	)
	r.log.WithFields(logrus.Fields{
		"kind":       result.Kind,
		"total":      result.Total,
		"created":    result.Created,
		"updated":    result.Updated,
		"unchanged":  result.Unchanged,
		"failed":     len(result.Failed),
		"collisions": len(result.Collisions),
	}).Info("catalog sync finished")
}

// IsConnectivity reports whether a sync error came from the external platform being unreachable.
func IsConnectivity(err error) bool {
	return lms.IsConnectivity(err) || errors.Is(err, context.DeadlineExceeded)
}
