package telemetry

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const (
	report_resty_request  = "resty.request"
	report_resty_response = "resty.response"
	report_resty_requests = "resty.requests"
)

var restyTracer = Tracer("getmycourses/resty")

type instrumentResty struct {
	tel       API
	idcounter *uint64
}

// InstrumentResty opens a client span for every request made by the client and reports it
// along with its status and duration, failed requests are reported as broken.
func InstrumentResty(client *resty.Client, tel API) {
	var idcounter uint64
	i := instrumentResty{tel: tel, idcounter: &idcounter}

	client.OnBeforeRequest(i.onBeforeRequest)
	client.OnAfterResponse(i.onAfterResponse)
	client.OnError(i.onError)
}

type requestKeyType int

var requestKey requestKeyType

type requestInfo struct {
	id        uint64
	startTime time.Time
	span      oteltrace.Span
}

func (i instrumentResty) onBeforeRequest(_ *resty.Client, req *resty.Request) error {
	id := atomic.AddUint64(i.idcounter, 1)
	ctx, span := restyTracer.Start(
		req.Context(),
		fmt.Sprintf("http %s", req.Method),
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(req.Method),
			semconv.URLFull(req.URL),
		),
	)
	ctx = context.WithValue(ctx, requestKey, requestInfo{
		id:        id,
		startTime: time.Now(),
		span:      span,
	})
	i.tel.ReportDebug(report_resty_request, id, req.Method, req.URL)
	i.tel.ReportCount(report_resty_requests, int64(id))

	req.SetContext(ctx)
	return nil
}

func (i instrumentResty) onAfterResponse(_ *resty.Client, res *resty.Response) error {
	info, ok := res.Request.Context().Value(requestKey).(requestInfo)
	if !ok {
		i.tel.ReportDebug(report_resty_response, res.Request.URL, res.Status())
		return nil
	}

	info.span.SetAttributes(semconv.HTTPResponseStatusCode(res.StatusCode()))
	if res.IsError() {
		info.span.SetStatus(codes.Error, res.Status())
	}
	info.span.End()

	i.tel.ReportDebug(
		report_resty_response,
		info.id,
		time.Since(info.startTime).String(),
		res.Status(),
	)
	return nil
}

func (i instrumentResty) onError(req *resty.Request, err error) {
	// the request may have failed before onBeforeRequest got to it
	var duration time.Duration
	info, ok := req.Context().Value(requestKey).(requestInfo)
	if ok {
		duration = time.Since(info.startTime)
		info.span.RecordError(err)
		info.span.SetStatus(codes.Error, "request failed")
		info.span.End()
	}
	i.tel.ReportBroken(
		report_resty_response,
		err,
		req.Method,
		req.URL,
		duration.String(),
	)
}
