// Package pipeline runs scrape, diff, notify and checkpoint for one department at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/shatgupt/getmycourses/internal/assert"
	"github.com/shatgupt/getmycourses/internal/catalog"
	"github.com/shatgupt/getmycourses/internal/notify"
	"github.com/shatgupt/getmycourses/internal/store"
	"github.com/shatgupt/getmycourses/internal/telemetry"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("getmycourses/pipeline")

// ErrInvalidDepartment is returned for departments that are not a subject code, ex. "CSE".
var ErrInvalidDepartment = errors.New("invalid department")

var departmentRegex = regexp.MustCompile(`^[A-Za-z]{2,5}$`)

// NormalizeDepartment validates a subject code and returns it uppercased, so that "cse" and
// "CSE" share one baseline and one lock.
func NormalizeDepartment(department string) (string, error) {
	if !departmentRegex.MatchString(department) {
		return "", fmt.Errorf("%w: %q", ErrInvalidDepartment, department)
	}
	return strings.ToUpper(department), nil
}

const (
	report_runner_scrape  = "runner.scrape"
	report_runner_load    = "runner.load"
	report_runner_deliver = "runner.deliver"
)

// Scraper produces fresh department snapshots.
type Scraper interface {
	Term() string
	Department(ctx context.Context, department, course string) (catalog.Snapshot, error)
}

// Baselines loads the state a run diffs against.
type Baselines interface {
	Load(ctx context.Context, key store.Key) (store.Baseline, error)
}

// Deliverer notifies and checkpoints a change set, committing final once it is drained.
type Deliverer interface {
	DeliverAll(
		ctx context.Context,
		key store.Key,
		changes catalog.ChangeSet,
		baseline store.Baseline,
		final catalog.Snapshot,
	) (store.Baseline, error)
}

type Result struct {
	RunId      string
	Department string
	Course     string
	// Fresh is set whenever the scrape succeeded, even if the run failed afterwards.
	Fresh   catalog.Snapshot
	Changes catalog.ChangeSet
	// Delivered is the number of changes notified during this run.
	Delivered int
	// Baseline is the state after the run, the loaded one when nothing was committed.
	Baseline store.Baseline
}

type Options struct {
	// RunTimeout bounds a whole run, zero means no bound beyond the caller's context.
	RunTimeout time.Duration
}

type Runner struct {
	scraper    Scraper
	baselines  Baselines
	deliverer  Deliverer
	cache      *store.Cache
	locks      keyedMutex
	runTimeout time.Duration
	tel        telemetry.API
}

func NewRunner(
	scraper Scraper,
	baselines Baselines,
	deliverer Deliverer,
	cache *store.Cache,
	opts Options,
	tel telemetry.API,
) *Runner {
	assert.NotNil(scraper)
	assert.NotNil(baselines)
	assert.NotNil(deliverer)
	assert.NotNil(cache)
	assert.NotNil(tel)

	return &Runner{
		scraper:    scraper,
		baselines:  baselines,
		deliverer:  deliverer,
		cache:      cache,
		locks:      keyedMutex{locks: map[string]*sync.Mutex{}},
		runTimeout: opts.RunTimeout,
		tel:        telemetry.NewScopedAPI("pipeline", tel),
	}
}

func (r *Runner) baseline(ctx context.Context, key store.Key) store.Baseline {
	cached, ok := r.cache.Get(key)
	if ok {
		return cached
	}
	loaded, err := r.baselines.Load(ctx, key)
	if err != nil {
		// diffing against nothing re-notifies everything, which beats notifying nothing
		r.tel.ReportWarning(report_runner_load, err, key.String())
		return store.Baseline{Phase: store.Absent}
	}
	r.cache.Set(key, loaded)
	return loaded
}

// Run scrapes the department (optionally narrowed to one course number), notifies every class
// that changed since the last run and persists the new baseline. Runs of the same department
// are serialized.
//
// Errors are ErrInvalidDepartment before anything is scraped, *classlist.FetchError or *classlist.ExtractError when the scrape failed (nothing is
// persisted), *notify.DeliveryError when a notification failed and *store.PersistenceError when
// a checkpoint or the baseline could not be written. Result.Fresh is set for the latter two.
func (r *Runner) Run(ctx context.Context, department, course string) (Result, error) {
	department, err := NormalizeDepartment(department)
	if err != nil {
		return Result{Course: course}, err
	}
	runId, err := random.String(8)
	if err != nil {
		return Result{}, err
	}

	unlock := r.locks.lock(department)
	defer unlock()

	if r.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.runTimeout)
		defer cancel()
	}

	ctx, span := tracer.Start(ctx, "Runner:Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("run_id", runId),
		attribute.String("department", department),
		attribute.String("course", course),
	)

	result := Result{RunId: runId, Department: department, Course: course}

	fresh, err := r.scraper.Department(ctx, department, course)
	if err != nil {
		r.tel.ReportBroken(report_runner_scrape, err, runId, department)
		span.RecordError(err)
		span.SetStatus(codes.Error, "scrape failed")
		return result, err
	}
	result.Fresh = fresh

	key := store.Key{Term: r.scraper.Term(), Department: department}
	baseline := r.baseline(ctx, key)
	result.Baseline = baseline

	changes := catalog.Diff(fresh, baseline.Snapshot)
	result.Changes = changes
	span.SetAttributes(
		attribute.String("baseline", baseline.Phase.String()),
		attribute.Int("changes", len(changes)),
	)
	r.tel.ReportCount(fmt.Sprintf("changes.%s", department), int64(len(changes)))

	if len(changes) == 0 && baseline.Phase == store.Complete {
		r.tel.ReportDebug("nothing changed", runId, department)
		return result, nil
	}

	final := fresh
	if course != "" {
		// a filtered scrape only saw some of the department, keep the rest
		final = baseline.Snapshot.Union(fresh)
	}

	committed, err := r.deliverer.DeliverAll(ctx, key, changes, baseline, final)
	if err != nil {
		// the durable state moved past what is cached, the next run must reload it
		r.cache.Evict(key)
		var deliveryErr *notify.DeliveryError
		var checkpointErr *notify.CheckpointError
		switch {
		case errors.As(err, &deliveryErr):
			result.Delivered = deliveryErr.Delivered
		case errors.As(err, &checkpointErr):
			result.Delivered = checkpointErr.Delivered
		}
		r.tel.ReportBroken(report_runner_deliver, err, runId, department)
		span.RecordError(err)
		span.SetStatus(codes.Error, "deliver failed")
		return result, err
	}

	r.cache.Set(key, committed)
	result.Delivered = len(changes)
	result.Baseline = committed
	return result, nil
}

// keyedMutex hands out one mutex per key, created on first use.
type keyedMutex struct {
	mutex sync.Mutex
	locks map[string]*sync.Mutex
}

func (m *keyedMutex) lock(key string) (unlock func()) {
	m.mutex.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	m.mutex.Unlock()

	l.Lock()
	return l.Unlock
}
