package anvilbridge

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"path/filepath"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/afero"
)

const (
	defaultUploadFilename = "file"
	defaultUploadMimetype = "application/octet-stream"
)

// Upload is a file value placed inside GraphQL variables. The implementations are
// *StreamUpload, *BufferUpload and *Base64Upload.
type Upload interface {
	// Kind names the variant: "stream", "buffer" or "base64".
	Kind() string
	validate() error
	resolve() (*resolvedUpload, error)
}

// UploadOptions is the metadata attached to a multipart file part.
type UploadOptions struct {
	Filename string
	Mimetype string
}

// StreamUpload sends the bytes read from Reader.
type StreamUpload struct {
	Reader io.Reader
	UploadOptions
}

// BufferUpload sends an in-memory buffer.
type BufferUpload struct {
	Data []byte
	UploadOptions
}

// Base64Upload is an inline base64 payload. Filename and Mimetype are required.
type Base64Upload struct {
	Data     string `json:"data"`
	Filename string `json:"filename"`
	Mimetype string `json:"mimetype"`
	// Bufferize makes PrepareBase64 decode the payload up front into a *BufferUpload.
	Bufferize bool `json:"-"`
}

// resolvedUpload is the (byte source, filename, mimetype) triple every upload turns into.
type resolvedUpload struct {
	source   io.Reader
	filename string
	mimetype string
}

func (u *StreamUpload) Kind() string { return "stream" }
func (u *BufferUpload) Kind() string { return "buffer" }
func (u *Base64Upload) Kind() string { return "base64" }

func (u *StreamUpload) validate() error {
	if u.Reader == nil {
		return &ConfigurationError{Field: "reader", Message: "stream upload has no reader"}
	}
	return nil
}

func (u *BufferUpload) validate() error {
	if u.Data == nil {
		return &ConfigurationError{Field: "data", Message: "buffer upload has no data"}
	}
	return nil
}

func (u *Base64Upload) validate() error {
	err := validation.ValidateStruct(u,
		validation.Field(&u.Data, validation.Required, is.Base64),
		validation.Field(&u.Filename, validation.Required),
		validation.Field(&u.Mimetype, validation.Required),
	)
	if err != nil {
		return &ConfigurationError{Message: "base64 upload: " + err.Error(), Err: err}
	}
	return nil
}

func (u *StreamUpload) resolve() (*resolvedUpload, error) {
	filename := u.Filename
	if filename == "" {
		if named, ok := u.Reader.(interface{ Name() string }); ok && named.Name() != "" {
			filename = filepath.Base(named.Name())
		}
	}
	return newResolvedUpload(u.Reader, filename, u.Mimetype), nil
}

func (u *BufferUpload) resolve() (*resolvedUpload, error) {
	return newResolvedUpload(bytes.NewReader(u.Data), u.Filename, u.Mimetype), nil
}

func (u *Base64Upload) resolve() (*resolvedUpload, error) {
	data, err := base64.StdEncoding.DecodeString(u.Data)
	if err != nil {
		return nil, &ConfigurationError{Field: "data", Message: "invalid base64 payload", Err: err}
	}
	return newResolvedUpload(bytes.NewReader(data), u.Filename, u.Mimetype), nil
}

func newResolvedUpload(src io.Reader, filename, mimetype string) *resolvedUpload {
	if filename == "" {
		filename = defaultUploadFilename
	}
	if mimetype == "" {
		mimetype = mime.TypeByExtension(filepath.Ext(filename))
	}
	if mimetype == "" {
		mimetype = defaultUploadMimetype
	}
	return &resolvedUpload{source: src, filename: filename, mimetype: mimetype}
}

// PrepareFile opens path on fs for upload. The filename defaults to the base name of path and
// the mimetype to the one registered for its extension. The file is closed by the caller.
func PrepareFile(fs afero.Fs, path string, opts UploadOptions) (*StreamUpload, afero.File, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	f, err := fs.Open(path)
	if err != nil {
		return nil, nil, &ConfigurationError{Field: "path", Message: fmt.Sprintf("cannot open %s", path), Err: err}
	}
	if opts.Filename == "" {
		opts.Filename = filepath.Base(path)
	}
	return &StreamUpload{Reader: f, UploadOptions: opts}, f, nil
}

// PrepareReader wraps r as a stream upload.
func PrepareReader(r io.Reader, opts UploadOptions) *StreamUpload {
	return &StreamUpload{Reader: r, UploadOptions: opts}
}

// PrepareBytes wraps data as a buffer upload.
func PrepareBytes(data []byte, opts UploadOptions) *BufferUpload {
	return &BufferUpload{Data: data, UploadOptions: opts}
}

// PrepareBase64 validates an inline base64 payload. With Bufferize set it is decoded now and
// returned as a *BufferUpload.
func PrepareBase64(in Base64Upload) (Upload, error) {
	u := in
	if err := u.validate(); err != nil {
		return nil, err
	}
	if !u.Bufferize {
		return &u, nil
	}
	data, err := base64.StdEncoding.DecodeString(u.Data)
	if err != nil {
		return nil, &ConfigurationError{Field: "data", Message: "invalid base64 payload", Err: err}
	}
	return &BufferUpload{Data: data, UploadOptions: UploadOptions{Filename: u.Filename, Mimetype: u.Mimetype}}, nil
}
