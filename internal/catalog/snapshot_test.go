package catalog

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestSnapshotPutKeepsPosition(t *testing.T) {
	s := NewSnapshot(record("a", 1, 10), record("b", 2, 10))
	s.Put(record("a", 7, 10))
	s.Put(record("c", 0, 10))

	require.Equal(t, []string{"a", "b", "c"}, s.Keys())
	a, ok := s.Get("a")
	require.True(t, ok)
	require.Equal(t, 7, a.OpenSeats)
}

func TestSnapshotCloneIsIndependent(t *testing.T) {
	s := NewSnapshot(record("a", 1, 10))
	clone := s.Clone()
	clone.Put(record("b", 1, 10))
	clone.Put(record("a", 9, 10))

	require.Equal(t, 1, s.Len())
	a, _ := s.Get("a")
	require.Equal(t, 1, a.OpenSeats)
}

func TestSnapshotUnion(t *testing.T) {
	left := NewSnapshot(record("a", 1, 10), record("b", 1, 10))
	right := NewSnapshot(record("b", 5, 10), record("c", 1, 10))

	union := left.Union(right)
	require.Equal(t, []string{"a", "b", "c"}, union.Keys())
	b, _ := union.Get("b")
	require.Equal(t, 5, b.OpenSeats)
	require.Equal(t, 2, left.Len())
}

func TestSnapshotJSON(t *testing.T) {
	s := NewSnapshot(
		ClassRecord{
			ClassID:    "12345",
			Course:     "CSE 110",
			Title:      "Principles of Programming",
			Instructor: "Smith",
			Dates:      "08/22 - 12/09",
			Days:       "M W",
			Time:       "10:30 AM - 11:45 AM",
			OpenSeats:  3,
			TotalSeats: 30,
		},
		reserved("00012", 0, 25, 0),
	)

	serialized, err := json.Marshal(s)
	require.NoError(t, err)

	var raw map[string]map[string]string
	require.NoError(t, json.Unmarshal(serialized, &raw))
	require.Equal(t, "3", raw["12345"]["open_seats"])
	require.Equal(t, "30", raw["12345"]["total_seats"])
	require.Equal(t, "12345", raw["12345"]["class_num"])
	_, hasNonReserved := raw["12345"]["non_reserved_open_seats"]
	require.False(t, hasNonReserved)
	require.Equal(t, "0", raw["00012"]["non_reserved_open_seats"])

	var decoded Snapshot
	require.NoError(t, json.Unmarshal(serialized, &decoded))
	require.Equal(t, s.Keys(), decoded.Keys())
	if diff := cmp.Diff(s.Records(), decoded.Records()); diff != "" {
		t.Fatal("records changed after decoding", diff)
	}
}

func TestSnapshotRejectsBadSeatCounts(t *testing.T) {
	var s Snapshot
	err := json.Unmarshal([]byte(`{"1": {"class_num": "1", "open_seats": "", "total_seats": "3"}}`), &s)
	require.Error(t, err)

	err = json.Unmarshal([]byte(`{"1": {"class_num": "1", "open_seats": "-2", "total_seats": "3"}}`), &s)
	require.Error(t, err)
}
