// scraper.go combines the client and the extractor into whole department snapshots.

package classlist

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/shatgupt/getmycourses/internal/assert"
	"github.com/shatgupt/getmycourses/internal/catalog"
	"github.com/shatgupt/getmycourses/internal/telemetry"

	"go.opentelemetry.io/otel/attribute"
)

var tracer = telemetry.Tracer("getmycourses/scrapers/classlist")

const (
	report_scraper_pagination = "scraper.pagination"
)

type Options struct {
	Client ClientOptions
	// Term is the portal's term code, ex. "2197" for Fall 2019.
	Term string
	// EnrichConcurrency bounds the reservation popups fetched at once, defaults to 4.
	EnrichConcurrency int
}

type Scraper struct {
	client            *client
	term              string
	enrichConcurrency int
	tel               telemetry.API
}

func NewScraper(opts Options, tel telemetry.API) (*Scraper, error) {
	assert.NotNil(tel)
	assert.NotEmptyStr(opts.Term)

	tel = telemetry.NewScopedAPI("classlist_scraper", tel)

	c, err := newClient(opts.Client, tel)
	if err != nil {
		return nil, err
	}
	if opts.EnrichConcurrency <= 0 {
		opts.EnrichConcurrency = 4
	}
	return &Scraper{
		client:            c,
		term:              opts.Term,
		enrichConcurrency: opts.EnrichConcurrency,
		tel:               tel,
	}, nil
}

func (s *Scraper) Term() string {
	return s.term
}

func (s *Scraper) classListUrl(department, course string, page int) string {
	query := url.Values{}
	query.Set("t", s.term)
	query.Set("hon", "F")
	query.Set("promod", "F")
	query.Set("e", "all")
	query.Set("s", department)
	if course != "" {
		query.Set("n", course)
	}
	query.Set("page", strconv.Itoa(page))
	return "/catalog/myclasslistresults?" + query.Encode()
}

func (s *Scraper) classDetailsUrl(classId string) string {
	query := url.Values{}
	query.Set("t", s.term)
	query.Set("r", classId)
	return "/catalog/coursedetails?" + query.Encode()
}

// ClassUrl is the public catalog page of a class.
func (s *Scraper) ClassUrl(classId string) string {
	link := s.client.baseUrl.JoinPath("/catalog/course")
	link.RawQuery = url.Values{"r": {classId}}.Encode()
	return link.String()
}

// pageCount reads the pagination control of the first page. A single page of results
// renders one entry (or none), more pages render one entry per page plus a "next" button.
func pageCount(markup []byte) (int, error) {
	doc, err := parseDocument(markup)
	if err != nil {
		return 0, err
	}
	entries := doc.Find(".pagination>li").Length()
	if entries > 2 {
		return entries - 1, nil
	}
	return 1, nil
}

// Fetch returns the raw markup of a portal endpoint.
func (s *Scraper) Fetch(ctx context.Context, endpoint string) ([]byte, error) {
	return s.client.fetch(ctx, endpoint)
}

// FetchAll returns the markup of every page of a department's class list, in page order.
// Either every page is returned or an error is.
func (s *Scraper) FetchAll(ctx context.Context, department, course string) ([][]byte, error) {
	first, err := s.client.fetch(ctx, s.classListUrl(department, course, 1))
	if err != nil {
		return nil, err
	}
	pages, err := pageCount(first)
	if err != nil {
		s.tel.ReportBroken(report_scraper_pagination, err, department)
		return nil, err
	}
	s.tel.ReportDebug("pagination", department, pages)

	out := make([][]byte, 0, pages)
	out = append(out, first)
	for page := 2; page <= pages; page++ {
		markup, err := s.client.fetch(ctx, s.classListUrl(department, course, page))
		if err != nil {
			return nil, err
		}
		out = append(out, markup)
	}
	return out, nil
}

// Department scrapes every page of a department (optionally narrowed to one course number)
// into a single snapshot.
func (s *Scraper) Department(ctx context.Context, department, course string) (catalog.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "Scraper:Department")
	defer span.End()
	span.SetAttributes(
		attribute.String("department", department),
		attribute.String("course", course),
	)

	pages, err := s.FetchAll(ctx, department, course)
	if err != nil {
		span.RecordError(err)
		return catalog.Snapshot{}, err
	}

	snapshot := catalog.Snapshot{}
	for i, markup := range pages {
		page, err := s.ExtractPage(ctx, markup)
		if err != nil {
			span.RecordError(err)
			return catalog.Snapshot{}, fmt.Errorf("page %d: %w", i+1, err)
		}
		for _, record := range page.Records() {
			snapshot.Put(record)
		}
	}

	span.SetAttributes(attribute.Int("classes", snapshot.Len()))
	s.tel.ReportCount(fmt.Sprintf("classes.%s", department), int64(snapshot.Len()))
	return snapshot, nil
}
