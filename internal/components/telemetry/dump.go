package telemetry

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
)

const report_dump_write = "dump.write"

// form fields whose values never make it into a dump
var redactedFields = []string{"password", "client_secret"}

// 1: request method
// 2: request url
// 3: request headers in ("Key: Value" format)
// 4: request body
// 5: response status
// 6: response url
// 7: response headers in ("Key: Value" format)
// 8: response body
const messageTemplate = `---- REQUEST ----

%s %s

%s

%s

---- RESPONSE ----

%s %s

%s

%s`

// HttpDump writes every request/response pair of an instrumented client to
// its own numbered file, for picking apart a provider's login flow by hand.
type HttpDump struct {
	directory string
	counter   *uint64
	tel       API
}

// NewHttpDump creates a fresh "dump-*" directory inside dir (creating dir if
// needed) and dumps into it. Nothing already in dir is touched.
func NewHttpDump(dir string, tel API) (HttpDump, error) {
	err := os.MkdirAll(dir, 0700)
	if err != nil {
		return HttpDump{}, err
	}
	directory, err := os.MkdirTemp(dir, "dump-*")
	if err != nil {
		return HttpDump{}, err
	}
	var counter uint64
	return HttpDump{directory: directory, counter: &counter, tel: tel}, nil
}

// Dir is the directory the exchanges are written to.
func (d HttpDump) Dir() string {
	return d.directory
}

// Instrument makes client dump every response it receives.
func (d HttpDump) Instrument(client *resty.Client) {
	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		d.write(res)
		return nil
	})
}

func (d HttpDump) write(res *resty.Response) {
	id := atomic.AddUint64(d.counter, 1)
	name := filepath.Join(d.directory, fmt.Sprintf("%04d.txt", id))
	err := os.WriteFile(name, []byte(formatHttpMessage(res)), 0600)
	if err != nil {
		d.tel.ReportWarning(report_dump_write, err, name)
	}
}

func formatRequestBody(req *http.Request) string {
	if req == nil || req.GetBody == nil {
		return ""
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Sprintf("failed to get request body: %s", err.Error())
	}
	readBody, err := io.ReadAll(body)
	if err != nil {
		return fmt.Sprintf("failed to read request body: %s", err.Error())
	}
	if !strings.HasPrefix(req.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		return RedactBearer(string(readBody))
	}
	form, err := url.ParseQuery(string(readBody))
	if err != nil {
		return string(readBody)
	}
	for _, field := range redactedFields {
		if form.Has(field) {
			form.Set(field, "<redacted>")
		}
	}
	return form.Encode()
}

func formatHttpMessage(res *resty.Response) string {
	var requestHeaders string
	if res.Request.RawRequest != nil {
		requestHeaders = formatHeaders(res.Request.RawRequest.Header)
	}

	responseUrl := res.Request.URL
	if res.RawResponse != nil {
		if redirected, err := res.RawResponse.Location(); err == nil {
			responseUrl = redirected.String()
		}
	}

	return fmt.Sprintf(
		messageTemplate,

		res.Request.Method, res.Request.URL,
		requestHeaders,
		formatRequestBody(res.Request.RawRequest),

		strconv.Itoa(res.StatusCode()), responseUrl,
		formatHeaders(res.Header()),
		RedactBearer(res.String()),
	)
}
