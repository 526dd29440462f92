// multipart.go
// ------------
// This file implements the GraphQL multipart request encoding: an "operations" part with the
// query and the scrubbed variables, a "map" part linking 1-based part indices to variable
// paths, and one part per extracted upload.
//
// Responsibilities:
// - Short-circuiting to a plain JSON body when no uploads were extracted.
// - Streaming the multipart body through a pipe so uploads are never fully buffered.
// - Aborting the in-flight attempt when an upload source fails mid-write.
// - Replaying the body on retry: buffers are re-read, seekable streams are rewound, and
//   consumed non-seekable streams fail with ErrStreamNotReplayable.
package anvilbridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

const variablesPathPrefix = "variables."

var errBodyReplaced = errors.New("anvil: request body reopened for retry")

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

type graphQLOperation struct {
	Query     string `json:"query"`
	Variables any    `json:"variables"`
}

// GraphQLBody is the request body of a GraphQL call. It implements BodySource.
type GraphQLBody struct {
	operations []byte
	mapping    []byte
	boundary   string
	parts      []*multipartFile

	mu       sync.Mutex
	opens    int
	previous *io.PipeReader
	done     chan struct{}
}

type multipartFile struct {
	upload   Upload
	paths    []string
	seekable io.Seeker
	start    int64
	touched  atomic.Bool
}

// EncodeGraphQL builds the body for query with the scrubbed variables and the uploads taken
// out of them by ExtractFiles.
func EncodeGraphQL(query string, variables any, files *ExtractedFiles) (*GraphQLBody, error) {
	operations, err := json.Marshal(graphQLOperation{Query: query, Variables: variables})
	if err != nil {
		return nil, &ConfigurationError{Field: "variables", Message: "variables are not JSON serializable", Err: err}
	}
	body := &GraphQLBody{operations: operations}
	if files.Len() == 0 {
		return body, nil
	}

	mapping := make(map[string][]string, files.Len())
	for i, f := range files.Files() {
		paths := make([]string, len(f.Paths))
		for j, p := range f.Paths {
			paths[j] = variablesPathPrefix + p
		}
		mapping[strconv.Itoa(i+1)] = paths

		part := &multipartFile{upload: f.Upload, paths: paths}
		if s, ok := f.Upload.(*StreamUpload); ok {
			if seeker, ok := s.Reader.(io.Seeker); ok {
				if off, err := seeker.Seek(0, io.SeekCurrent); err == nil {
					part.seekable = seeker
					part.start = off
				}
			}
		}
		body.parts = append(body.parts, part)
	}
	if body.mapping, err = json.Marshal(mapping); err != nil {
		return nil, err
	}
	body.boundary = "anvil-" + uuid.NewString()
	return body, nil
}

// IsMultipart reports whether the body carries uploads.
func (b *GraphQLBody) IsMultipart() bool { return len(b.parts) > 0 }

// Operations returns the JSON of {query, variables}.
func (b *GraphQLBody) Operations() []byte { return b.operations }

// Map returns the JSON of the index to paths map, or nil without uploads.
func (b *GraphQLBody) Map() []byte { return b.mapping }

// Uploads returns the uploads in part order.
func (b *GraphQLBody) Uploads() []Upload {
	out := make([]Upload, len(b.parts))
	for i, p := range b.parts {
		out[i] = p.upload
	}
	return out
}

func (b *GraphQLBody) ContentType() string {
	if !b.IsMultipart() {
		return "application/json"
	}
	return "multipart/form-data; boundary=" + b.boundary
}

// Open returns a fresh body for one attempt. A previous attempt's writer is stopped first.
// Multipart bodies are *io.PipeReader values, so closing them stops the writer goroutine.
func (b *GraphQLBody) Open(abort func(error)) (io.Reader, error) {
	if !b.IsMultipart() {
		return bytes.NewReader(b.operations), nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.previous != nil {
		b.previous.CloseWithError(errBodyReplaced)
		<-b.done
	}

	sources := make([]*resolvedUpload, len(b.parts))
	for i, p := range b.parts {
		if b.opens > 0 && p.touched.Load() {
			if p.seekable == nil {
				return nil, fmt.Errorf("%w: part %d", ErrStreamNotReplayable, i+1)
			}
			if _, err := p.seekable.Seek(p.start, io.SeekStart); err != nil {
				return nil, fmt.Errorf("%w: part %d: %v", ErrStreamNotReplayable, i+1, err)
			}
		}
		resolved, err := p.upload.resolve()
		if err != nil {
			return nil, err
		}
		sources[i] = resolved
	}
	b.opens++

	pr, pw := io.Pipe()
	done := make(chan struct{})
	b.previous, b.done = pr, done
	go func() {
		defer close(done)
		b.write(pw, sources, abort)
	}()
	return pr, nil
}

func (b *GraphQLBody) write(pw *io.PipeWriter, sources []*resolvedUpload, abort func(error)) {
	mw := multipart.NewWriter(pw)
	if err := mw.SetBoundary(b.boundary); err != nil {
		pw.CloseWithError(err)
		return
	}

	if err := mw.WriteField("operations", string(b.operations)); err != nil {
		pw.CloseWithError(err)
		return
	}
	if err := mw.WriteField("map", string(b.mapping)); err != nil {
		pw.CloseWithError(err)
		return
	}

	for i, src := range sources {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%d"; filename="%s"`,
			i+1, quoteEscaper.Replace(src.filename)))
		h.Set("Content-Type", src.mimetype)
		part, err := mw.CreatePart(h)
		if err != nil {
			pw.CloseWithError(err)
			return
		}

		sr := &sourceReader{r: src.source, touched: &b.parts[i].touched}
		if _, err := io.Copy(part, sr); err != nil {
			if sr.err != nil {
				streamErr := fmt.Errorf("%w: part %d (%s): %v", ErrUploadStream, i+1, src.filename, sr.err)
				abort(streamErr)
				pw.CloseWithError(streamErr)
				return
			}
			pw.CloseWithError(err)
			return
		}
	}
	pw.CloseWithError(mw.Close())
}

// sourceReader remembers read failures so they can be told apart from pipe write failures.
type sourceReader struct {
	r       io.Reader
	err     error
	touched *atomic.Bool
}

func (s *sourceReader) Read(p []byte) (int, error) {
	s.touched.Store(true)
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF {
		s.err = err
	}
	return n, err
}
