// Package store persists department baselines and checkpoints to a local cache tier and an
// optional remote tier.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/shatgupt/getmycourses/internal/assert"
	"github.com/shatgupt/getmycourses/internal/catalog"
	"github.com/shatgupt/getmycourses/internal/telemetry"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = telemetry.Tracer("getmycourses/store")

const (
	report_store_load            = "store.load"
	report_store_hydrate         = "store.hydrate"
	report_store_save_checkpoint = "store.save-checkpoint"
	report_store_commit          = "store.commit"
)

const (
	completeFile   = "courses.json"
	incompleteFile = "courses.json.temp"
)

// Key addresses the persisted state of one department in one term.
type Key struct {
	Term       string
	Department string
}

// ErrInvalidKey is returned for keys whose term or department is not a single path segment.
var ErrInvalidKey = errors.New("invalid key")

// Validate rejects keys that would resolve outside of their own <term>/<department>
// directory, ex. a department of "../2198/CSE".
func (k Key) Validate() error {
	for _, segment := range []string{k.Term, k.Department} {
		if segment == "" || segment == "." || segment == ".." || strings.ContainsAny(segment, `/\`) {
			return fmt.Errorf("%w: %q", ErrInvalidKey, path.Join(k.Term, k.Department))
		}
	}
	return nil
}

func (k Key) CompletePath() string {
	return path.Join(k.Term, k.Department, completeFile)
}

func (k Key) IncompletePath() string {
	return path.Join(k.Term, k.Department, incompleteFile)
}

func (k Key) String() string {
	return path.Join(k.Term, k.Department)
}

// PersistenceError is returned when reading or writing a tier fails.
type PersistenceError struct {
	Op  string
	Key Key
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

type tier struct {
	name  string
	blobs Blobs
}

type Store struct {
	tiers []tier
	now   func() time.Time
	tel   telemetry.API
}

// NewStore creates a store over a local tier and an optional remote tier (nil to disable it).
// Reads consult the local tier first, writes go to the local tier and then the remote one.
func NewStore(local Blobs, remote Blobs, tel telemetry.API) *Store {
	assert.NotNil(local)
	assert.NotNil(tel)

	tiers := []tier{{name: "local", blobs: local}}
	if remote != nil {
		tiers = append(tiers, tier{name: "remote", blobs: remote})
	}
	return &Store{
		tiers: tiers,
		now:   time.Now,
		tel:   telemetry.NewScopedAPI("store", tel),
	}
}

type tierState struct {
	complete   *envelope
	incomplete *envelope
	raw        map[string][]byte
}

func (s tierState) found() bool {
	return s.complete != nil || s.incomplete != nil
}

// resolve picks the state a run should diff against. An incomplete checkpoint is only a resume
// point for the complete baseline it was derived from, one left over from an older baseline is
// ignored.
func (s tierState) resolve() Baseline {
	switch {
	case s.complete != nil && s.incomplete != nil:
		if s.incomplete.BaseRevision == s.complete.Revision {
			return s.incomplete.baseline()
		}
		return s.complete.baseline()
	case s.complete != nil:
		return s.complete.baseline()
	case s.incomplete != nil:
		return s.incomplete.baseline()
	}
	return Baseline{Phase: Absent}
}

func (s *Store) readTier(ctx context.Context, t tier, key Key) (tierState, error) {
	state := tierState{raw: map[string][]byte{}}

	read := func(blobPath string) (*envelope, error) {
		data, err := t.blobs.Get(ctx, blobPath)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		env, err := decodeEnvelope(data)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", blobPath, err)
		}
		state.raw[blobPath] = data
		return &env, nil
	}

	complete, err := read(key.CompletePath())
	if err != nil {
		return tierState{}, err
	}
	state.complete = complete

	incomplete, err := read(key.IncompletePath())
	if err != nil {
		if complete == nil {
			return tierState{}, err
		}
		// the complete baseline is still usable, the checkpoint just cannot be resumed
		s.tel.ReportWarning(report_store_load, err, t.name, key.String())
	}
	state.incomplete = incomplete

	return state, nil
}

// Load returns the state a run of the department should diff against, Absent when nothing
// has been persisted yet.
//
// A PersistenceError means no tier could be read, the returned Baseline is then Absent.
func (s *Store) Load(ctx context.Context, key Key) (Baseline, error) {
	if err := key.Validate(); err != nil {
		return Baseline{Phase: Absent}, err
	}
	ctx, span := tracer.Start(ctx, "Store:Load")
	defer span.End()
	span.SetAttributes(attribute.String("key", key.String()))

	var errs []error
	for i, t := range s.tiers {
		state, err := s.readTier(ctx, t, key)
		if err != nil {
			s.tel.ReportWarning(report_store_load, err, t.name, key.String())
			errs = append(errs, fmt.Errorf("%s: %w", t.name, err))
			continue
		}
		if !state.found() {
			continue
		}

		if i > 0 {
			s.hydrate(ctx, state, key)
		}
		baseline := state.resolve()
		span.SetAttributes(
			attribute.String("tier", t.name),
			attribute.String("phase", baseline.Phase.String()),
		)
		s.tel.ReportDebug("loaded baseline", key.String(), t.name, baseline.Phase.String(), baseline.Snapshot.Len())
		return baseline, nil
	}

	if len(errs) > 0 {
		err := &PersistenceError{Op: "load", Key: key, Err: errors.Join(errs...)}
		span.RecordError(err)
		return Baseline{Phase: Absent}, err
	}
	return Baseline{Phase: Absent}, nil
}

// hydrate copies what was read from a remote tier into the local one, failures only cost a
// remote read on the next load.
func (s *Store) hydrate(ctx context.Context, state tierState, key Key) {
	local := s.tiers[0]
	for blobPath, data := range state.raw {
		err := local.blobs.Put(ctx, blobPath, data)
		if err != nil {
			s.tel.ReportWarning(report_store_hydrate, err, key.String(), blobPath)
		}
	}
}

func (s *Store) write(ctx context.Context, blobPath string, env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	var errs []error
	for _, t := range s.tiers {
		err := t.blobs.Put(ctx, blobPath, data)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.name, err))
		}
	}
	return errors.Join(errs...)
}

// SaveCheckpoint persists an incomplete state derived from the complete baseline with the
// given revision (empty for cold starts), overwriting the previous checkpoint.
func (s *Store) SaveCheckpoint(ctx context.Context, key Key, baseRevision string, checkpoint catalog.Snapshot) error {
	if err := key.Validate(); err != nil {
		return err
	}
	ctx, span := tracer.Start(ctx, "Store:SaveCheckpoint")
	defer span.End()

	err := s.write(ctx, key.IncompletePath(), envelope{
		State:        Incomplete,
		BaseRevision: baseRevision,
		SavedAt:      s.now(),
		Classes:      checkpoint,
	})
	if err != nil {
		err = &PersistenceError{Op: "save checkpoint", Key: key, Err: err}
		span.RecordError(err)
		s.tel.ReportBroken(report_store_save_checkpoint, err)
		return err
	}
	return nil
}

// Commit persists a complete baseline under a fresh revision and discards the checkpoint.
func (s *Store) Commit(ctx context.Context, key Key, snapshot catalog.Snapshot) (Baseline, error) {
	if err := key.Validate(); err != nil {
		return Baseline{}, err
	}
	ctx, span := tracer.Start(ctx, "Store:Commit")
	defer span.End()

	revision, err := random.String(16)
	if err != nil {
		return Baseline{}, &PersistenceError{Op: "commit", Key: key, Err: err}
	}

	err = s.write(ctx, key.CompletePath(), envelope{
		State:    Complete,
		Revision: revision,
		SavedAt:  s.now(),
		Classes:  snapshot,
	})
	if err != nil {
		err = &PersistenceError{Op: "commit", Key: key, Err: err}
		span.RecordError(err)
		s.tel.ReportBroken(report_store_commit, err)
		return Baseline{}, err
	}

	// a checkpoint that survives this delete names the previous revision, so loads ignore it
	for _, t := range s.tiers {
		err := t.blobs.Delete(ctx, key.IncompletePath())
		if err != nil {
			s.tel.ReportWarning(report_store_commit, fmt.Errorf("discard checkpoint: %w", err), t.name, key.String())
		}
	}

	return Baseline{Phase: Complete, Revision: revision, Snapshot: snapshot}, nil
}

// Artifact is one persisted file of a key on one tier.
type Artifact struct {
	Tier  string
	Path  string
	Phase Phase
}

// Artifacts lists which of the key's complete and incomplete files exist on each tier, without
// reading them.
func (s *Store) Artifacts(ctx context.Context, key Key) ([]Artifact, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	var out []Artifact
	var errs []error
	for _, t := range s.tiers {
		for _, candidate := range []Artifact{
			{Tier: t.name, Path: key.CompletePath(), Phase: Complete},
			{Tier: t.name, Path: key.IncompletePath(), Phase: Incomplete},
		} {
			exists, err := t.blobs.Exists(ctx, candidate.Path)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", t.name, err))
				continue
			}
			if exists {
				out = append(out, candidate)
			}
		}
	}
	if len(errs) > 0 {
		return out, &PersistenceError{Op: "list", Key: key, Err: errors.Join(errs...)}
	}
	return out, nil
}
