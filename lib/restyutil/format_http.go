package restyutil

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/go-resty/resty/v2"
)

func writeHeaders(out *strings.Builder, headers http.Header) {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range headers[k] {
			fmt.Fprintf(out, "%s: %s\n", k, v)
		}
	}
}

func formatHeaders(headers http.Header) string {
	var out strings.Builder
	writeHeaders(&out, headers)
	return strings.TrimSuffix(out.String(), "\n")
}

func requestBody(req *http.Request) string {
	if req == nil || req.GetBody == nil {
		return ""
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Sprintf("(failed to get request body: %s)", err.Error())
	}
	defer body.Close()
	contents, err := io.ReadAll(body)
	if err != nil {
		return fmt.Sprintf("(failed to read request body: %s)", err.Error())
	}
	return string(contents)
}

// formatHttpMessage renders an exchange the way it would look on the wire, the response
// url is the one after redirects.
func formatHttpMessage(res *resty.Response) string {
	var out strings.Builder

	out.WriteString("---- REQUEST ----\n\n")
	fmt.Fprintf(&out, "%s %s\n\n", res.Request.Method, res.Request.URL)
	if res.Request.RawRequest != nil {
		writeHeaders(&out, res.Request.RawRequest.Header)
		out.WriteString("\n")
		out.WriteString(requestBody(res.Request.RawRequest))
	}

	responseUrl := res.Request.URL
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		responseUrl = res.RawResponse.Request.URL.String()
	}
	out.WriteString("\n\n---- RESPONSE ----\n\n")
	fmt.Fprintf(&out, "%d %s (%s)\n\n", res.StatusCode(), responseUrl, res.Time())
	writeHeaders(&out, res.Header())
	out.WriteString("\n")
	out.Write(res.Body())

	return out.String()
}
