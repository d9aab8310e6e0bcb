package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shatgupt/getmycourses/internal/catalog"
)

type Phase int

const (
	// Absent means nothing was ever persisted for the department.
	Absent Phase = iota
	// Incomplete is a checkpoint: the last complete baseline plus the records whose
	// notifications were delivered before the run stopped.
	Incomplete
	// Complete is a baseline every notification was delivered for.
	Complete
)

func (p Phase) String() string {
	switch p {
	case Absent:
		return "absent"
	case Incomplete:
		return "incomplete"
	case Complete:
		return "complete"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

func (p Phase) MarshalText() ([]byte, error) {
	switch p {
	case Incomplete, Complete:
		return []byte(p.String()), nil
	}
	return nil, fmt.Errorf("phase %s cannot be persisted", p)
}

func (p *Phase) UnmarshalText(text []byte) error {
	switch string(text) {
	case "incomplete":
		*p = Incomplete
	case "complete":
		*p = Complete
	default:
		return fmt.Errorf("unknown phase %q", string(text))
	}
	return nil
}

// Baseline is what a run diffs against.
type Baseline struct {
	Phase Phase
	// Revision identifies the complete baseline this state is, or for an incomplete one,
	// the complete baseline it extends. It is empty for cold starts.
	Revision string
	Snapshot catalog.Snapshot
}

// envelope is the persisted form of a Baseline.
type envelope struct {
	State        Phase            `json:"state"`
	Revision     string           `json:"revision,omitempty"`
	BaseRevision string           `json:"base_revision,omitempty"`
	SavedAt      time.Time        `json:"saved_at"`
	Classes      catalog.Snapshot `json:"classes"`
}

func decodeEnvelope(data []byte) (envelope, error) {
	var env envelope
	err := json.Unmarshal(data, &env)
	if err != nil {
		return envelope{}, err
	}
	if env.State == Absent {
		return envelope{}, fmt.Errorf("envelope has no state")
	}
	return env, nil
}

func (e envelope) baseline() Baseline {
	out := Baseline{Phase: e.State, Snapshot: e.Classes}
	switch e.State {
	case Complete:
		out.Revision = e.Revision
	case Incomplete:
		out.Revision = e.BaseRevision
	}
	return out
}
