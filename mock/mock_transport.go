// Package mock provides a scripted HTTP transport for exercising the client without a network.
package mock

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Response is one scripted reply. When Err is set Do fails with it instead.
type Response struct {
	StatusCode int
	Header     map[string]string
	Body       []byte
	Err        error
}

// Call is a recorded request.
type Call struct {
	Method string
	URL    string
	Path   string
	Header http.Header
	Body   []byte
	At     time.Time
}

// Transport implements the client's HTTPDoer.
//
// Scripted Responses are served in order. Once they run out, every request gets Default, or
// 200 {"success":true} when Default is unset. RequestsUntilRateLimit and ShouldReturn429Always
// turn replies into 429s carrying RetryAfter.
type Transport struct {
	Responses []Response
	Default   *Response

	RequestsUntilRateLimit int  // How many requests until we hit a limit
	ShouldReturn429Always  bool // If true, always return 429
	RetryAfter             string

	mu    sync.Mutex
	calls []Call
}

// Do records req, consuming its body, and returns the next scripted reply.
func (t *Transport) Do(req *http.Request) (*http.Response, error) {
	call := Call{
		Method: req.Method,
		URL:    req.URL.String(),
		Path:   req.URL.Path,
		Header: req.Header.Clone(),
		At:     time.Now(),
	}
	if req.Body != nil {
		data, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		call.Body = data
		if err != nil {
			t.record(call)
			return nil, err
		}
	}
	if err := req.Context().Err(); err != nil {
		t.record(call)
		return nil, err
	}

	n := t.record(call)
	reply := t.next(n)
	if reply.Err != nil {
		return nil, reply.Err
	}

	status := reply.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	resp := &http.Response{
		StatusCode:    status,
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		Header:        make(http.Header),
		Body:          io.NopCloser(bytes.NewReader(reply.Body)),
		ContentLength: int64(len(reply.Body)),
		Request:       req,
	}
	for k, v := range reply.Header {
		resp.Header.Set(k, v)
	}
	return resp, nil
}

func (t *Transport) record(c Call) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, c)
	return len(t.calls)
}

func (t *Transport) next(n int) Response {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ShouldReturn429Always || (t.RequestsUntilRateLimit > 0 && n > t.RequestsUntilRateLimit) {
		return Throttle(t.RetryAfter)
	}
	if len(t.Responses) > 0 {
		r := t.Responses[0]
		t.Responses = t.Responses[1:]
		return r
	}
	if t.Default != nil {
		return *t.Default
	}
	return JSON(http.StatusOK, map[string]any{"success": true})
}

// Calls returns a copy of the recorded requests.
func (t *Transport) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Call(nil), t.calls...)
}

// CallCount returns the number of requests received.
func (t *Transport) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// JSON returns a reply with v encoded as a JSON body.
func JSON(status int, v any) Response {
	data, err := json.Marshal(v)
	if err != nil {
		return Response{Err: err}
	}
	return Response{
		StatusCode: status,
		Header:     map[string]string{"Content-Type": "application/json"},
		Body:       data,
	}
}

// Bytes returns a reply with a raw body.
func Bytes(status int, body []byte, contentType string) Response {
	return Response{
		StatusCode: status,
		Header:     map[string]string{"Content-Type": contentType},
		Body:       body,
	}
}

// Throttle returns a 429 reply. An empty retryAfter omits the Retry-After header.
func Throttle(retryAfter string) Response {
	r := Response{
		StatusCode: http.StatusTooManyRequests,
		Header:     map[string]string{},
		Body:       []byte(`{"error":"Rate limited"}`),
	}
	if retryAfter != "" {
		r.Header["Retry-After"] = retryAfter
	}
	return r
}
