package classlist

import (
	"bytes"
	"context"
	"fmt"

	"github.com/shatgupt/getmycourses/internal/catalog"
	"github.com/shatgupt/getmycourses/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"
)

const (
	report_extract_page = "extract.page"
)

// column positions of a class list row
const (
	colCourse     = 0
	colTitle      = 1
	colClassId    = 2
	colInstructor = 3
	colDays       = 4
	colStartTime  = 5
	colEndTime    = 6
	colDates      = 8
	colSeats      = 10
)

const rowSelector = ".grpEven,.grpOdd,.grpEvenTitle,.grpOddTitle"

type parsedRow struct {
	record         catalog.ClassRecord
	reservationUrl string
}

func parseDocument(markup []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return nil, &ExtractError{Reason: "parse html", Err: err}
	}
	return doc, nil
}

func joinTime(start, end string) string {
	switch {
	case start != "" && end != "":
		return fmt.Sprintf("%s - %s", start, end)
	case start != "":
		return start
	default:
		return end
	}
}

// parseRows reads every class row of the catalog table, in document order. It does not
// fetch anything, reservation popups are returned as urls.
func parseRows(doc *goquery.Document) ([]parsedRow, error) {
	table := doc.Find("table#CatalogList").First()
	if table.Length() == 0 {
		return nil, &ExtractError{Reason: "no table found"}
	}
	rows := table.Find(rowSelector)
	if rows.Length() == 0 {
		return nil, &ExtractError{Reason: "no rows in table"}
	}

	out := make([]parsedRow, 0, rows.Length())
	var rowErr error
	rows.EachWithBreak(func(i int, row *goquery.Selection) bool {
		columns := row.ChildrenFiltered("td")
		if columns.Length() <= colSeats {
			rowErr = &ExtractError{
				Reason: fmt.Sprintf("row %d has %d columns, expected at least %d", i, columns.Length(), colSeats+1),
			}
			return false
		}
		text := func(col int) string {
			return htmlutil.CellText(columns.Eq(col))
		}

		classId := text(colClassId)
		if classId == "" {
			rowErr = &ExtractError{Reason: fmt.Sprintf("row %d has no class number", i)}
			return false
		}

		seats, err := parseSeatCell(columns.Eq(colSeats))
		if err != nil {
			rowErr = fmt.Errorf("class %s: %w", classId, err)
			return false
		}

		out = append(out, parsedRow{
			record: catalog.ClassRecord{
				ClassID:    classId,
				Course:     text(colCourse),
				Title:      text(colTitle),
				Instructor: text(colInstructor),
				Dates:      text(colDates),
				Days:       text(colDays),
				Time:       joinTime(text(colStartTime), text(colEndTime)),
				OpenSeats:  seats.openSeats,
				TotalSeats: seats.totalSeats,
			},
			reservationUrl: seats.reservationUrl,
		})
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}
	return out, nil
}

// ExtractPage turns one class list page into a snapshot, fetching the reservation popup of
// every class that has one.
func (s *Scraper) ExtractPage(ctx context.Context, markup []byte) (catalog.Snapshot, error) {
	doc, err := parseDocument(markup)
	if err != nil {
		s.tel.ReportBroken(report_extract_page, err)
		return catalog.Snapshot{}, err
	}
	rows, err := parseRows(doc)
	if err != nil {
		s.tel.ReportBroken(report_extract_page, err)
		return catalog.Snapshot{}, err
	}

	err = s.enrichReservations(ctx, rows)
	if err != nil {
		return catalog.Snapshot{}, err
	}

	snapshot := catalog.Snapshot{}
	for _, row := range rows {
		snapshot.Put(row.record)
	}
	return snapshot, nil
}

// enrichReservations fills in NonReservedOpenSeats for every row with a reservation popup.
// The popups are fetched concurrently, each result is written back to its own row so the
// row order does not depend on which fetch finishes first.
func (s *Scraper) enrichReservations(ctx context.Context, rows []parsedRow) error {
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(s.enrichConcurrency)

	for i := range rows {
		if rows[i].reservationUrl == "" {
			continue
		}
		row := &rows[i]
		group.Go(func() error {
			markup, err := s.client.fetch(ctx, row.reservationUrl)
			if err != nil {
				return err
			}
			nonReserved, err := extractReservation(markup)
			if err != nil {
				s.tel.ReportBroken(report_extract_reservation, err, row.record.ClassID, row.reservationUrl)
				return fmt.Errorf("class %s: %w", row.record.ClassID, err)
			}
			row.record.NonReservedOpenSeats = catalog.Seats(nonReserved)
			return nil
		})
	}

	return group.Wait()
}
