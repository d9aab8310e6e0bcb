// Package notify delivers one notification per changed class and checkpoints after each one,
// so a run that stops halfway resumes without notifying anyone twice.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/shatgupt/getmycourses/internal/assert"
	"github.com/shatgupt/getmycourses/internal/catalog"
	"github.com/shatgupt/getmycourses/internal/store"
	"github.com/shatgupt/getmycourses/internal/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("getmycourses/notify")

const (
	report_deliver_send       = "deliver.send"
	report_deliver_checkpoint = "deliver.checkpoint"
)

// Checkpointer is the part of the store the deliverer writes through.
type Checkpointer interface {
	SaveCheckpoint(ctx context.Context, key store.Key, baseRevision string, checkpoint catalog.Snapshot) error
	Commit(ctx context.Context, key store.Key, snapshot catalog.Snapshot) (store.Baseline, error)
}

// DeliveryError is returned when a notification could not be sent. The checkpoint persisted
// before returning contains exactly the Delivered changes before Ordinal.
type DeliveryError struct {
	// Ordinal is the index of the failed change in its change set.
	Ordinal   int
	ClassID   string
	Delivered int
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf(
		"deliver change %d (class %s), %d delivered before it: %v",
		e.Ordinal, e.ClassID, e.Delivered, e.Err,
	)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// CheckpointError is returned when every notification up to Delivered went out but the state
// recording them could not be written, either a checkpoint or the final commit.
type CheckpointError struct {
	Delivered int
	Err       error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("persist state after %d delivered: %v", e.Delivered, e.Err)
}

func (e *CheckpointError) Unwrap() error {
	return e.Err
}

type Options struct {
	Recipients []string
	// ClassUrl returns the catalog page of a class.
	ClassUrl func(classId string) string
}

type Deliverer struct {
	transport   Transport
	checkpoints Checkpointer
	recipients  []string
	classUrl    func(string) string
	tel         telemetry.API
}

func NewDeliverer(transport Transport, checkpoints Checkpointer, opts Options, tel telemetry.API) *Deliverer {
	assert.NotNil(transport)
	assert.NotNil(checkpoints)
	assert.NotNil(opts.ClassUrl)
	assert.NotNil(tel)

	return &Deliverer{
		transport:   transport,
		checkpoints: checkpoints,
		recipients:  opts.Recipients,
		classUrl:    opts.ClassUrl,
		tel:         telemetry.NewScopedAPI("notify", tel),
	}
}

// DeliverAll sends a notification for every change in order. After each successful send the
// baseline plus everything delivered so far is persisted as a checkpoint. Once every change is
// delivered, final is committed as the new complete baseline and returned.
//
// A failed send returns a *DeliveryError. A failed checkpoint write or commit returns a
// *CheckpointError wrapping the write's error, no further deliveries are attempted.
func (d *Deliverer) DeliverAll(
	ctx context.Context,
	key store.Key,
	changes catalog.ChangeSet,
	baseline store.Baseline,
	final catalog.Snapshot,
) (store.Baseline, error) {
	ctx, span := tracer.Start(ctx, "Deliverer:DeliverAll")
	defer span.End()
	span.SetAttributes(
		attribute.String("key", key.String()),
		attribute.Int("changes", len(changes)),
		attribute.String("baseline", baseline.Phase.String()),
	)

	checkpoint := baseline.Snapshot.Clone()
	for i, change := range changes {
		msg := FormatMessage(change.Record, d.classUrl(change.ClassID))
		err := d.transport.Send(ctx, msg.Subject, d.recipients, msg.HTML)
		if err != nil {
			d.tel.ReportBroken(report_deliver_send, err, key.String(), change.ClassID)
			span.RecordError(err)
			span.SetStatus(codes.Error, "delivery failed")

			deliveryErr := &DeliveryError{Ordinal: i, ClassID: change.ClassID, Delivered: i, Err: err}
			persistErr := d.checkpoints.SaveCheckpoint(ctx, key, baseline.Revision, checkpoint)
			if persistErr != nil {
				d.tel.ReportBroken(report_deliver_checkpoint, persistErr, key.String())
				deliveryErr.Err = errors.Join(err, persistErr)
			}
			return store.Baseline{}, deliveryErr
		}

		checkpoint.Put(change.Record)
		err = d.checkpoints.SaveCheckpoint(ctx, key, baseline.Revision, checkpoint)
		if err != nil {
			// every delivery after this one would be repeated after a restart
			d.tel.ReportBroken(report_deliver_checkpoint, err, key.String(), change.ClassID)
			span.RecordError(err)
			span.SetStatus(codes.Error, "checkpoint failed")
			return store.Baseline{}, &CheckpointError{
				Delivered: i + 1,
				Err:       fmt.Errorf("checkpoint after class %s: %w", change.ClassID, err),
			}
		}
		d.tel.ReportDebug("delivered", key.String(), change.ClassID)
	}
	d.tel.ReportCount(fmt.Sprintf("delivered.%s", key.Department), int64(len(changes)))

	committed, err := d.checkpoints.Commit(ctx, key, final)
	if err != nil {
		span.RecordError(err)
		return store.Baseline{}, &CheckpointError{Delivered: len(changes), Err: err}
	}
	return committed, nil
}
