// request_response.go
// -------------------
// This file defines the values that flow through the request pipeline: the DataType enum that
// selects how a successful response body is decoded, the RequestDescriptor built for one
// logical call, and the Result handed back to callers.
//
// A Result carries either Data (2xx) or Errors (non-2xx). Remote failures are values, not Go errors.
package anvilbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// DataType selects how a successful response body is decoded.
type DataType int

const (
	// DataTypeUnspecified makes the executor log a diagnostic and fall back to JSON.
	DataTypeUnspecified DataType = iota
	DataTypeJSON
	DataTypeBuffer
	DataTypeStream
)

func (d DataType) String() string {
	switch d {
	case DataTypeJSON:
		return "json"
	case DataTypeBuffer:
		return "buffer"
	case DataTypeStream:
		return "stream"
	default:
		return "unspecified"
	}
}

// ParseDataType maps "json", "buffer" or "stream" to a DataType. The empty string yields
// DataTypeUnspecified.
func ParseDataType(s string) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DataTypeUnspecified, nil
	case "json":
		return DataTypeJSON, nil
	case "buffer":
		return DataTypeBuffer, nil
	case "stream":
		return DataTypeStream, nil
	}
	return DataTypeUnspecified, &ConfigurationError{
		Field:   "dataType",
		Message: fmt.Sprintf("unknown data type %q", s),
		Err:     ErrUnsupportedDataType,
	}
}

// RequestOptions are per-call options shared by every operation.
type RequestOptions struct {
	DataType DataType
	// Headers are added to the request. They never replace Authorization or User-Agent and
	// empty values are dropped.
	Headers map[string]string
}

// RequestDescriptor describes one outbound call. It is built by the call that owns it and not
// mutated afterwards.
type RequestDescriptor struct {
	Method   string
	URL      string
	Header   http.Header
	Body     BodySource
	DataType DataType
}

// BodySource produces a fresh request body for each physical attempt. abort cancels the
// in-flight attempt, and is used by streaming bodies whose source fails mid-write.
type BodySource interface {
	ContentType() string
	Open(abort func(error)) (io.Reader, error)
}

type bytesBody struct {
	contentType string
	data        []byte
}

// JSONBody marshals v once and replays the same bytes on every attempt.
func JSONBody(v any) (BodySource, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &ConfigurationError{Field: "payload", Message: "payload is not JSON serializable", Err: err}
	}
	return &bytesBody{contentType: "application/json", data: data}, nil
}

func (b *bytesBody) ContentType() string { return b.contentType }

func (b *bytesBody) Open(func(error)) (io.Reader, error) {
	return bytes.NewReader(b.data), nil
}

// Factory turns the descriptor into a RequestFactory for the executor.
func (d *RequestDescriptor) Factory() RequestFactory {
	return func(ctx context.Context, abort func(error)) (*http.Request, error) {
		var body io.Reader
		if d.Body != nil {
			r, err := d.Body.Open(abort)
			if err != nil {
				return nil, err
			}
			body = r
		}

		req, err := http.NewRequestWithContext(ctx, d.Method, d.URL, body)
		if err != nil {
			return nil, err
		}
		for k, vals := range d.Header {
			for _, v := range vals {
				req.Header.Add(k, v)
			}
		}
		// The body owns Content-Type; a multipart boundary must never be replaced.
		if d.Body != nil {
			req.Header.Set("Content-Type", d.Body.ContentType())
		}
		return req, nil
	}
}

// ResponseError is one entry of a remote error list.
type ResponseError struct {
	Message string           `mapstructure:"message" json:"message,omitempty"`
	Name    string           `mapstructure:"name" json:"name,omitempty"`
	Fields  []map[string]any `mapstructure:"fields" json:"fields,omitempty"`
	Path    []any            `mapstructure:"path" json:"path,omitempty"`
	Extra   map[string]any   `mapstructure:",remain" json:"-"`
}

func decodeResponseError(v any) ResponseError {
	var re ResponseError
	if m, ok := v.(map[string]any); ok {
		if err := mapstructure.Decode(m, &re); err != nil {
			re.Message = fmt.Sprint(m["message"])
			re.Extra = m
		}
		return re
	}
	re.Message = fmt.Sprint(v)
	return re
}

// Result is the outcome of a call that reached the remote service.
//
// On 2xx, Data holds a []byte (DataTypeBuffer), an io.ReadCloser (DataTypeStream) or the
// decoded JSON value. On other statuses Errors is set; when the error body carried neither
// "errors" nor "message", the decoded body is placed in Data instead.
type Result struct {
	StatusCode int
	Data       any
	Errors     []ResponseError
}

// OK reports a 2xx status with no error list.
func (r *Result) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300 && len(r.Errors) == 0
}

// Bytes returns Data for buffer results.
func (r *Result) Bytes() ([]byte, bool) {
	b, ok := r.Data.([]byte)
	return b, ok
}

// Stream returns Data for stream results. The caller must close it.
func (r *Result) Stream() (io.ReadCloser, bool) {
	rc, ok := r.Data.(io.ReadCloser)
	return rc, ok
}

// JSON returns Data as a JSON object.
func (r *Result) JSON() (map[string]any, bool) {
	m, ok := r.Data.(map[string]any)
	return m, ok
}

// Lookup walks a dotted path ("data.etchPacket.eid") into a JSON result.
func (r *Result) Lookup(path string) (any, bool) {
	var cur any = r.Data
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// DecodeData decodes the value found at path into out.
func (r *Result) DecodeData(path string, out any) error {
	v, ok := r.Lookup(path)
	if !ok {
		return fmt.Errorf("no value at %q", path)
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(v)
}

// Err returns a *RemoteError when the call failed remotely, nil otherwise.
func (r *Result) Err() error {
	if r.StatusCode >= 300 || len(r.Errors) > 0 {
		return &RemoteError{StatusCode: r.StatusCode, Errors: r.Errors}
	}
	return nil
}
