package notify

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/shatgupt/getmycourses/internal/catalog"

	"github.com/jedib0t/go-pretty/v6/table"
)

type Message struct {
	Subject string
	HTML    string
}

// Subject is "[<class id>] <course>: <title> - <instructor>", followed by the meeting days
// and time when the class has any.
func Subject(record catalog.ClassRecord) string {
	subject := fmt.Sprintf("[%s] %s: %s - %s", record.ClassID, record.Course, record.Title, record.Instructor)
	schedule := strings.TrimSpace(record.Days + " " + record.Time)
	if schedule != "" {
		subject += fmt.Sprintf(" (%s)", schedule)
	}
	return subject
}

type field struct {
	label string
	value string
}

func fields(record catalog.ClassRecord) []field {
	nonReserved := ""
	if record.NonReservedOpenSeats != nil {
		nonReserved = strconv.Itoa(*record.NonReservedOpenSeats)
	}
	return []field{
		{"Class #", record.ClassID},
		{"Course", record.Course},
		{"Title", record.Title},
		{"Instructor", record.Instructor},
		{"Days", record.Days},
		{"Time", record.Time},
		{"Dates", record.Dates},
		{"Open Seats", strconv.Itoa(record.OpenSeats)},
		{"Total Seats", strconv.Itoa(record.TotalSeats)},
		{"Non Reserved Open Seats", nonReserved},
	}
}

// FormatMessage renders the notification for one changed class, classUrl is the catalog
// page every value links to.
func FormatMessage(record catalog.ClassRecord, classUrl string) Message {
	t := table.NewWriter()
	t.Style().HTML = table.HTMLOptions{
		CSSClass:    "class-update",
		EmptyColumn: "&nbsp;",
		// values are escaped by hand so the links survive
		EscapeText: false,
		Newline:    "<br/>",
	}

	href := html.EscapeString(classUrl)
	for _, f := range fields(record) {
		value := ""
		if f.value != "" {
			value = fmt.Sprintf(`<a href="%s">%s</a>`, href, html.EscapeString(f.value))
		}
		t.AppendRow(table.Row{html.EscapeString(f.label), value})
	}

	return Message{
		Subject: Subject(record),
		HTML:    "<h2>Class updated:</h2>\n" + t.RenderHTML(),
	}
}
