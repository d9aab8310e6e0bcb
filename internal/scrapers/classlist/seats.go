package classlist

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shatgupt/getmycourses/internal/catalog"
	"github.com/shatgupt/getmycourses/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

const (
	report_extract_reservation = "extract.reservation"
	report_extract_class_seats = "extract.class-seats"
)

// the reservation popup and the class details page spell this label differently
var reservationPageRegex = regexp.MustCompile(`Non Reserved Available Seats :\D*(\d+)`)
var detailsNonReservedRegex = regexp.MustCompile(`Non Reserved Available Seats:\D*(\d+)`)
var detailsOpenSeatsRegex = regexp.MustCompile(
	`<!-- Open seats -->[\s\S]*Open: </label>\D*(\d+)&nbsp;of&nbsp;(\d+)\D*<span[\s\S]*<!-- End of open seat -->`,
)

// seatCell is the result of reading the seats column of a class list row, reservationUrl
// is set when the cell links to a reservation popup that still needs to be fetched.
type seatCell struct {
	openSeats      int
	totalSeats     int
	reservationUrl string
}

// parseSeatCell reads "<open> of <total>" out of the cell text.
func parseSeatCell(cell *goquery.Selection) (seatCell, error) {
	tokens := strings.Fields(htmlutil.CellText(cell))
	if len(tokens) < 3 {
		return seatCell{}, &ExtractError{
			Reason: fmt.Sprintf("seats cell has %d tokens, expected at least 3", len(tokens)),
		}
	}

	open, err := parseSeatToken(tokens[0])
	if err != nil {
		return seatCell{}, &ExtractError{Reason: "open seats", Err: err}
	}
	total, err := parseSeatToken(tokens[2])
	if err != nil {
		return seatCell{}, &ExtractError{Reason: "total seats", Err: err}
	}

	out := seatCell{openSeats: open, totalSeats: total}

	reserve := cell.Find("span.rsrvtip").First()
	if reserve.Length() == 0 {
		return out, nil
	}
	rel := strings.TrimSpace(reserve.AttrOr("rel", ""))
	if rel == "" {
		return seatCell{}, &ExtractError{Reason: "reservation marker without a rel link"}
	}
	out.reservationUrl = rel
	return out, nil
}

func parseSeatToken(token string) (int, error) {
	n, err := strconv.Atoi(token)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative seat count %d", n)
	}
	return n, nil
}

// extractReservation reads the non-reserved open seats from a reservation popup.
func extractReservation(markup []byte) (int, error) {
	groups := reservationPageRegex.FindSubmatch(markup)
	if len(groups) < 2 {
		return 0, &ExtractError{Reason: "no match for non reserved available seats"}
	}
	n, err := strconv.Atoi(string(groups[1]))
	if err != nil {
		return 0, &ExtractError{Reason: "non reserved available seats", Err: err}
	}
	return n, nil
}

// ExtractClassSeats reads the seat information off a class details page.
func ExtractClassSeats(markup []byte) (catalog.SeatInfo, error) {
	groups := detailsOpenSeatsRegex.FindSubmatch(markup)
	if len(groups) < 3 {
		return catalog.SeatInfo{}, &ExtractError{Reason: "no match for open seats"}
	}
	open, err := strconv.Atoi(string(groups[1]))
	if err != nil {
		return catalog.SeatInfo{}, &ExtractError{Reason: "open seats", Err: err}
	}
	total, err := strconv.Atoi(string(groups[2]))
	if err != nil {
		return catalog.SeatInfo{}, &ExtractError{Reason: "total seats", Err: err}
	}

	info := catalog.SeatInfo{OpenSeats: open, TotalSeats: total}

	groups = detailsNonReservedRegex.FindSubmatch(markup)
	if len(groups) < 2 {
		return info, nil
	}
	nonReserved, err := strconv.Atoi(string(groups[1]))
	if err != nil {
		return catalog.SeatInfo{}, &ExtractError{Reason: "non reserved available seats", Err: err}
	}
	info.NonReservedOpenSeats = &nonReserved
	return info, nil
}

// ClassSeats fetches the details page of a single class and extracts its seats.
func (s *Scraper) ClassSeats(ctx context.Context, classId string) (catalog.SeatInfo, error) {
	ctx, span := tracer.Start(ctx, "Scraper:ClassSeats")
	defer span.End()

	endpoint := s.classDetailsUrl(classId)
	markup, err := s.client.fetch(ctx, endpoint)
	if err != nil {
		return catalog.SeatInfo{}, err
	}
	info, err := ExtractClassSeats(markup)
	if err != nil {
		s.tel.ReportBroken(report_extract_class_seats, err, classId)
		return catalog.SeatInfo{}, err
	}
	return info, nil
}
