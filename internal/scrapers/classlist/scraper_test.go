package classlist

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shatgupt/getmycourses/internal/catalog"
	"github.com/shatgupt/getmycourses/internal/telemetry"

	_ "embed"

	"github.com/stretchr/testify/require"
)

//go:embed class_list_test.html
var classListPage []byte

//go:embed reserved_seats_test.html
var reservedSeatsPage []byte

//go:embed course_details_test.html
var courseDetailsPage []byte

func newTestScraper(t testing.TB, handler http.Handler) (*Scraper, *telemetry.RecordingAPI) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	tel := telemetry.NewRecordingAPI()
	scraper, err := NewScraper(Options{
		Client: ClientOptions{
			BaseUrl:           server.URL,
			Timeout:           time.Second * 5,
			RequestsPerSecond: 1000,
		},
		Term: "2197",
	}, tel)
	if err != nil {
		t.Fatal(err)
	}
	return scraper, tel
}

// generatedPage renders a class list page with one row per class id, every row has
// `<n> of 10` seats where n is the row index.
func generatedPage(ids []string, paginationEntries int) string {
	var rows strings.Builder
	for i, id := range ids {
		class := "grpEven"
		if i%2 == 1 {
			class = "grpOdd"
		}
		fmt.Fprintf(
			&rows,
			`<tr class="%s"><td>CSE %d</td><td>Title %s</td><td>%s</td><td>Staff</td><td>M</td><td>9:00 AM</td><td>9:50 AM</td><td>ONLINE</td><td>8/22 - 12/9</td><td>3</td><td>%d of 10</td></tr>`,
			class, 100+i, id, id, i,
		)
	}
	var pagination strings.Builder
	for i := 0; i < paginationEntries; i++ {
		fmt.Fprintf(&pagination, `<li><a href="#">%d</a></li>`, i+1)
	}
	return fmt.Sprintf(
		`<html><body><table id="CatalogList"><tbody>%s</tbody></table><ul class="pagination">%s</ul></body></html>`,
		rows.String(), pagination.String(),
	)
}

func TestExtractPage(t *testing.T) {
	var reservationHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/catalog/reservedseats", func(w http.ResponseWriter, r *http.Request) {
		reservationHits.Add(1)
		require.Equal(t, "67890", r.URL.Query().Get("r"))
		w.Write(reservedSeatsPage)
	})
	scraper, _ := newTestScraper(t, mux)

	snapshot, err := scraper.ExtractPage(context.Background(), classListPage)
	require.NoError(t, err)
	require.Equal(t, []string{"12345", "67890", "70001"}, snapshot.Keys())
	require.Equal(t, int32(1), reservationHits.Load())

	first, _ := snapshot.Get("12345")
	require.Equal(t, catalog.ClassRecord{
		ClassID:    "12345",
		Course:     "CSE 110",
		Title:      "Principles of Programming",
		Instructor: "Smith",
		Dates:      "8/22 - 12/9(C)",
		Days:       "M W",
		Time:       "10:30 AM - 11:45 AM",
		OpenSeats:  3,
		TotalSeats: 30,
	}, first)
	require.False(t, first.HasReservation())

	second, _ := snapshot.Get("67890")
	require.Equal(t, "Object-Oriented Programming & Data", second.Title)
	require.Equal(t, 5, second.OpenSeats)
	require.Equal(t, 25, second.TotalSeats)
	require.NotNil(t, second.NonReservedOpenSeats)
	require.Equal(t, 2, *second.NonReservedOpenSeats)

	third, _ := snapshot.Get("70001")
	require.Equal(t, 0, third.OpenSeats)
	require.Equal(t, 120, third.TotalSeats)
	require.Equal(t, "", third.Time)
}

func TestExtractPageStructuralErrors(t *testing.T) {
	scraper, tel := newTestScraper(t, http.NotFoundHandler())

	cases := []struct {
		name   string
		markup string
	}{
		{
			name:   "no table",
			markup: `<html><body><p>No classes found</p></body></html>`,
		},
		{
			name:   "no rows",
			markup: `<table id="CatalogList"><tr class="header"><td>Course</td></tr></table>`,
		},
		{
			name:   "too few columns",
			markup: `<table id="CatalogList"><tr class="grpOdd"><td>CSE 110</td><td>Title</td><td>1</td></tr></table>`,
		},
		{
			name:   "unparsable seats",
			markup: `<table id="CatalogList"><tr class="grpOdd"><td>a</td><td>b</td><td>1</td><td>d</td><td></td><td></td><td></td><td></td><td></td><td></td><td>full</td></tr></table>`,
		},
		{
			name:   "reservation marker without link",
			markup: `<table id="CatalogList"><tr class="grpOdd"><td>a</td><td>b</td><td>1</td><td>d</td><td></td><td></td><td></td><td></td><td></td><td></td><td>1 of 3 <span class="rsrvtip"></span></td></tr></table>`,
		},
	}

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			_, err := scraper.ExtractPage(context.Background(), []byte(test.markup))
			var extractErr *ExtractError
			require.True(t, errors.As(err, &extractErr), "expected ExtractError, got %v", err)
		})
	}
	require.NotEmpty(t, tel.Find(telemetry.LevelBroken, report_extract_page))
}

func TestReservationMismatchIsNotZero(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/catalog/reservedseats", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<div>Reserved seats are currently unavailable.</div>`))
	})
	scraper, tel := newTestScraper(t, mux)

	_, err := scraper.ExtractPage(context.Background(), classListPage)
	var extractErr *ExtractError
	require.ErrorAs(t, err, &extractErr)
	require.Len(t, tel.Find(telemetry.LevelBroken, report_extract_reservation), 1)
}

func TestDepartmentPaginationUnion(t *testing.T) {
	pages := map[string][]string{
		"1": {"10001", "10002"},
		"2": {"20001", "20002", "20003"},
		"3": {"30001"},
	}
	var requests atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/catalog/myclasslistresults", func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		query := r.URL.Query()
		require.Equal(t, "CSE", query.Get("s"))
		require.Equal(t, "2197", query.Get("t"))
		require.Equal(t, "all", query.Get("e"))
		ids, ok := pages[query.Get("page")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		// 3 pages + a "next" button
		w.Write([]byte(generatedPage(ids, 4)))
	})
	scraper, _ := newTestScraper(t, mux)

	snapshot, err := scraper.Department(context.Background(), "CSE", "")
	require.NoError(t, err)
	require.Equal(t, int32(3), requests.Load())
	require.Equal(t, 6, snapshot.Len())
	require.Equal(t, []string{"10001", "10002", "20001", "20002", "20003", "30001"}, snapshot.Keys())
}

func TestPageCount(t *testing.T) {
	table := []struct {
		entries  int
		expected int
	}{
		{entries: 0, expected: 1},
		{entries: 1, expected: 1},
		{entries: 2, expected: 1},
		{entries: 3, expected: 2},
		{entries: 6, expected: 5},
	}
	for _, row := range table {
		count, err := pageCount([]byte(generatedPage([]string{"1"}, row.entries)))
		require.NoError(t, err)
		require.Equal(t, row.expected, count, "pagination entries: %d", row.entries)
	}
}

func TestDepartmentFailsOnAnyPage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/catalog/myclasslistresults", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(generatedPage([]string{"10001"}, 3)))
	})
	scraper, tel := newTestScraper(t, mux)

	snapshot, err := scraper.Department(context.Background(), "CSE", "")
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, http.StatusServiceUnavailable, fetchErr.Status)
	require.Equal(t, 0, snapshot.Len())
	require.NotEmpty(t, tel.Find(telemetry.LevelBroken, report_client_fetch))
}

func TestFetchRejectsUndecodableBody(t *testing.T) {
	scraper, _ := newTestScraper(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte{0xff, 0xfe, 0xfd})
	}))

	_, err := scraper.Fetch(context.Background(), "/catalog/myclasslistresults")
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
}

func TestFetchTimeout(t *testing.T) {
	scraper, _ := newTestScraper(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second * 2):
		}
	}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*100)
	defer cancel()
	_, err := scraper.Fetch(ctx, "/catalog/myclasslistresults")
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
}

func TestCourseFilterAndCookies(t *testing.T) {
	var cookieSeen atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("/catalog/myclasslistresults", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "110", r.URL.Query().Get("n"))
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "session-1", Path: "/"})
		w.Write([]byte(generatedPage([]string{"12345"}, 1)))
	})
	mux.HandleFunc("/catalog/coursedetails", func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("JSESSIONID")
		if err == nil && cookie.Value == "session-1" {
			cookieSeen.Store(true)
		}
		require.Equal(t, "12345", r.URL.Query().Get("r"))
		w.Write(courseDetailsPage)
	})
	scraper, _ := newTestScraper(t, mux)

	snapshot, err := scraper.Department(context.Background(), "CSE", "110")
	require.NoError(t, err)
	require.Equal(t, []string{"12345"}, snapshot.Keys())

	info, err := scraper.ClassSeats(context.Background(), "12345")
	require.NoError(t, err)
	require.True(t, cookieSeen.Load(), "session cookie was not sent on the second request")
	require.Equal(t, 7, info.OpenSeats)
	require.Equal(t, 40, info.TotalSeats)
	require.NotNil(t, info.NonReservedOpenSeats)
	require.Equal(t, 4, *info.NonReservedOpenSeats)
}

func TestExtractClassSeats(t *testing.T) {
	info, err := ExtractClassSeats([]byte(strings.Replace(
		string(courseDetailsPage),
		"Non Reserved Available Seats: 4",
		"",
		1,
	)))
	require.NoError(t, err)
	require.Equal(t, 7, info.OpenSeats)
	require.Nil(t, info.NonReservedOpenSeats)

	_, err = ExtractClassSeats([]byte(`<html><body>Class not found</body></html>`))
	var extractErr *ExtractError
	require.ErrorAs(t, err, &extractErr)
}

func TestClassUrl(t *testing.T) {
	scraper, _ := newTestScraper(t, http.NotFoundHandler())
	require.True(t, strings.HasSuffix(scraper.ClassUrl("12345"), "/catalog/course?r=12345"))
}
