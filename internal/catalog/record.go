package catalog

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ClassRecord is one row of a department's class list.
type ClassRecord struct {
	ClassID    string
	Course     string
	Title      string
	Instructor string
	Dates      string
	Days       string
	Time       string
	OpenSeats  int
	TotalSeats int
	// NonReservedOpenSeats is nil when the class has no seat reservation policy, this is
	// not the same thing as zero non-reserved seats.
	NonReservedOpenSeats *int
}

// Seats returns a pointer suitable for ClassRecord.NonReservedOpenSeats.
func Seats(n int) *int {
	return &n
}

func (r ClassRecord) HasReservation() bool {
	return r.NonReservedOpenSeats != nil
}

// Equal compares every field, including the value behind NonReservedOpenSeats.
func (r ClassRecord) Equal(other ClassRecord) bool {
	if r.HasReservation() != other.HasReservation() {
		return false
	}
	if r.HasReservation() && *r.NonReservedOpenSeats != *other.NonReservedOpenSeats {
		return false
	}
	a, b := r, other
	a.NonReservedOpenSeats, b.NonReservedOpenSeats = nil, nil
	return a == b
}

// wireRecord mirrors the portal, where seat counts are strings.
type wireRecord struct {
	ClassNum             string `json:"class_num"`
	Course               string `json:"course"`
	Title                string `json:"title"`
	Instructor           string `json:"instructor"`
	Dates                string `json:"dates"`
	Days                 string `json:"days,omitempty"`
	Time                 string `json:"time,omitempty"`
	OpenSeats            string `json:"open_seats"`
	TotalSeats           string `json:"total_seats"`
	NonReservedOpenSeats string `json:"non_reserved_open_seats,omitempty"`
}

func (r ClassRecord) MarshalJSON() ([]byte, error) {
	w := wireRecord{
		ClassNum:   r.ClassID,
		Course:     r.Course,
		Title:      r.Title,
		Instructor: r.Instructor,
		Dates:      r.Dates,
		Days:       r.Days,
		Time:       r.Time,
		OpenSeats:  strconv.Itoa(r.OpenSeats),
		TotalSeats: strconv.Itoa(r.TotalSeats),
	}
	if r.NonReservedOpenSeats != nil {
		w.NonReservedOpenSeats = strconv.Itoa(*r.NonReservedOpenSeats)
	}
	return json.Marshal(w)
}

func (r *ClassRecord) UnmarshalJSON(data []byte) error {
	var w wireRecord
	err := json.Unmarshal(data, &w)
	if err != nil {
		return err
	}

	openSeats, err := parseCount("open_seats", w.OpenSeats)
	if err != nil {
		return err
	}
	totalSeats, err := parseCount("total_seats", w.TotalSeats)
	if err != nil {
		return err
	}

	*r = ClassRecord{
		ClassID:    w.ClassNum,
		Course:     w.Course,
		Title:      w.Title,
		Instructor: w.Instructor,
		Dates:      w.Dates,
		Days:       w.Days,
		Time:       w.Time,
		OpenSeats:  openSeats,
		TotalSeats: totalSeats,
	}
	if w.NonReservedOpenSeats != "" {
		nonReserved, err := parseCount("non_reserved_open_seats", w.NonReservedOpenSeats)
		if err != nil {
			return err
		}
		r.NonReservedOpenSeats = &nonReserved
	}
	return nil
}

func parseCount(field, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s: negative seat count %d", field, n)
	}
	return n, nil
}

// SeatInfo is the seat availability of a single class as shown on its detail page.
type SeatInfo struct {
	OpenSeats            int
	TotalSeats           int
	NonReservedOpenSeats *int
}

func (s SeatInfo) MarshalJSON() ([]byte, error) {
	w := struct {
		OpenSeats            string `json:"open_seats"`
		TotalSeats           string `json:"total_seats"`
		NonReservedOpenSeats string `json:"non_reserved_open_seats,omitempty"`
	}{
		OpenSeats:  strconv.Itoa(s.OpenSeats),
		TotalSeats: strconv.Itoa(s.TotalSeats),
	}
	if s.NonReservedOpenSeats != nil {
		w.NonReservedOpenSeats = strconv.Itoa(*s.NonReservedOpenSeats)
	}
	return json.Marshal(w)
}
