// client.go contains the http side of the catalog scraper, it knows how to talk to the portal
// but nothing about the markup it gets back.

package classlist

import (
	"context"
	"fmt"
	"net/http/cookiejar"
	"net/url"
	"time"
	"unicode/utf8"

	"github.com/shatgupt/getmycourses/internal/telemetry"
	"github.com/shatgupt/getmycourses/lib/restyutil"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	report_client_fetch = "client.fetch"
)

var defaultHeaders = map[string]string{
	"user-agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,image/apng,*/*;q=0.8",
	"accept-charset":  "utf-8;q=0.7,*;q=0.3",
	"accept-language": "en-US,en;q=0.8",
	"connection":      "keep-alive",
}

type ClientOptions struct {
	BaseUrl string
	// Timeout applies to every request, defaults to 30 seconds.
	Timeout time.Duration
	// RequestsPerSecond paces requests to the portal, defaults to 2.
	RequestsPerSecond float64
	// CloudflareBypass wraps the transport to look like a regular browser.
	CloudflareBypass bool
	// Dump receives every request and response pair when set.
	Dump restyutil.Output
}

type client struct {
	baseUrl *url.URL
	http    *resty.Client
	tel     telemetry.API
}

func newClient(opts ClientOptions, tel telemetry.API) (*client, error) {
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}
	if opts.Timeout == 0 {
		opts.Timeout = time.Second * 30
	}
	if opts.RequestsPerSecond == 0 {
		opts.RequestsPerSecond = 2
	}

	httpClient := resty.New()
	httpClient.SetBaseURL(opts.BaseUrl)
	// the portal pins a session to its cookies, so every request made by this client shares
	// the one jar
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	httpClient.SetCookieJar(jar)
	if opts.CloudflareBypass {
		httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)
	}
	httpClient.SetHeaders(defaultHeaders)
	httpClient.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	httpClient.SetTimeout(opts.Timeout)

	burst := int(opts.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	rateLimiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(httpClient, tel)
	restyutil.DumpExchanges(httpClient, opts.Dump)

	return &client{
		baseUrl: baseUrl,
		http:    httpClient,
		tel:     tel,
	}, nil
}

// fetch GETs an endpoint relative to the base url (or an absolute url) and returns the body,
// which is guaranteed to be valid utf-8.
func (c *client) fetch(ctx context.Context, endpoint string) ([]byte, error) {
	res, err := c.http.R().
		SetContext(ctx).
		Get(endpoint)
	if err != nil {
		c.tel.ReportBroken(report_client_fetch, fmt.Errorf("request: %w", err), endpoint)
		return nil, &FetchError{Url: endpoint, Err: err}
	}
	if res.IsError() {
		err := fmt.Errorf("unexpected status %s", res.Status())
		c.tel.ReportBroken(report_client_fetch, err, endpoint)
		return nil, &FetchError{Url: endpoint, Status: res.StatusCode(), Err: err}
	}

	body := res.Body()
	if !utf8.Valid(body) {
		err := fmt.Errorf("response body is not valid utf-8")
		c.tel.ReportBroken(report_client_fetch, err, endpoint)
		return nil, &FetchError{Url: endpoint, Status: res.StatusCode(), Err: err}
	}
	return body, nil
}
