package catalog

// absentSeats stands in for every seat counter of a class the baseline has never seen.
const absentSeats = -1

// Change is a record that needs a notification.
type Change struct {
	ClassID string
	Record  ClassRecord
}

// ChangeSet is ordered like the fresh snapshot it was computed from.
type ChangeSet []Change

func (c ChangeSet) ClassIDs() []string {
	out := make([]string, len(c))
	for i, change := range c {
		out[i] = change.ClassID
	}
	return out
}

// Changed decides whether fresh differs from prev. If the fresh record carries
// non-reserved seats only those are compared, otherwise open seats are. A record that
// has no prev compares against -1 counters, so it is always changed.
func Changed(fresh ClassRecord, prev ClassRecord, hasPrev bool) bool {
	prevOpen := absentSeats
	prevNonReserved := absentSeats
	if hasPrev {
		prevOpen = prev.OpenSeats
		if prev.NonReservedOpenSeats != nil {
			prevNonReserved = *prev.NonReservedOpenSeats
		}
	}

	if fresh.NonReservedOpenSeats != nil {
		return *fresh.NonReservedOpenSeats != prevNonReserved
	}
	return fresh.OpenSeats != prevOpen
}

// Diff returns the records of fresh that changed relative to baseline. Classes that
// disappeared from fresh are not reported.
func Diff(fresh, baseline Snapshot) ChangeSet {
	var changes ChangeSet
	for _, record := range fresh.Records() {
		prev, hasPrev := baseline.Get(record.ClassID)
		if Changed(record, prev, hasPrev) {
			changes = append(changes, Change{
				ClassID: record.ClassID,
				Record:  record,
			})
		}
	}
	return changes
}
