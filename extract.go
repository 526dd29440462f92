package anvilbridge

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strconv"

	"github.com/hashicorp/go-multierror"
)

// ExtractedFile is one upload found in a variables tree, with every path that references it.
type ExtractedFile struct {
	Upload Upload
	Paths  []string
}

// ExtractedFiles keeps uploads in the order they were first found.
type ExtractedFiles struct {
	files []*ExtractedFile
	index map[any]int
}

func newExtractedFiles() *ExtractedFiles {
	return &ExtractedFiles{index: map[any]int{}}
}

// Len returns the number of distinct uploads.
func (e *ExtractedFiles) Len() int {
	if e == nil {
		return 0
	}
	return len(e.files)
}

// Files returns the uploads in insertion order.
func (e *ExtractedFiles) Files() []*ExtractedFile {
	if e == nil {
		return nil
	}
	return e.files
}

func (e *ExtractedFiles) add(key any, u Upload, path string) {
	if i, ok := e.index[key]; ok {
		e.files[i].Paths = append(e.files[i].Paths, path)
		return
	}
	e.index[key] = len(e.files)
	e.files = append(e.files, &ExtractedFile{Upload: u, Paths: []string{path}})
}

// ExtractFiles validates tree and returns a copy of it with every upload replaced by nil,
// together with the uploads and the dotted paths that referenced them.
//
// Maps, []any and other slices or string-keyed maps are walked; map keys are visited in
// sorted order. The same upload value referenced from several paths is reported once.
func ExtractFiles(tree any) (any, *ExtractedFiles, error) {
	if err := ValidateUploads(tree); err != nil {
		return nil, nil, err
	}
	files := newExtractedFiles()
	scrubbed := extractValue(tree, "", files)
	return scrubbed, files, nil
}

func extractValue(v any, path string, files *ExtractedFiles) any {
	if u, key, ok := asUpload(v); ok {
		files.add(key, u, path)
		return nil
	}

	switch t := v.(type) {
	case nil:
		return nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for _, k := range sortedKeys(t) {
			out[k] = extractValue(t[k], joinPath(path, k), files)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = extractValue(item, joinPath(path, strconv.Itoa(i)), files)
		}
		return out
	}

	if generic, ok := genericContainer(v); ok {
		return extractValue(generic, path, files)
	}
	return v
}

// ValidateUploads rejects values that look like uploads but are not usable as one: typed
// uploads missing required fields (ConfigurationError) and maps that carry only part of the
// data/filename/mimetype descriptor (SchemaError).
func ValidateUploads(tree any) error {
	var (
		schemaErrs *multierror.Error
		paths      []string
	)
	var walk func(v any, key, path string) error
	walk = func(v any, key, path string) error {
		if u, _, ok := asUpload(v); ok {
			if err := u.validate(); err != nil {
				if ce, ok := err.(*ConfigurationError); ok {
					ce.Field = joinPath(path, ce.Field)
				}
				return err
			}
			return nil
		}

		switch t := v.(type) {
		case map[string]any:
			if looksLikeUpload(key, t) {
				paths = append(paths, path)
				schemaErrs = multierror.Append(schemaErrs,
					fmt.Errorf("%s: file value must have string data, filename and mimetype", displayPath(path)))
				return nil
			}
			for _, k := range sortedKeys(t) {
				if err := walk(t[k], k, joinPath(path, k)); err != nil {
					return err
				}
			}
		case []any:
			for i, item := range t {
				if err := walk(item, key, joinPath(path, strconv.Itoa(i))); err != nil {
					return err
				}
			}
		default:
			if generic, ok := genericContainer(v); ok {
				return walk(generic, key, path)
			}
		}
		return nil
	}

	if err := walk(tree, "", ""); err != nil {
		return err
	}
	if schemaErrs != nil {
		return &SchemaError{Paths: paths, Err: schemaErrs}
	}
	return nil
}

var descriptorKeys = map[string]bool{"data": true, "filename": true, "mimetype": true, "bufferize": true}

// isBase64Descriptor reports a map shaped exactly like Base64Upload.
func isBase64Descriptor(m map[string]any) bool {
	for k := range m {
		if !descriptorKeys[k] {
			return false
		}
	}
	for _, k := range []string{"data", "filename", "mimetype"} {
		s, ok := m[k].(string)
		if !ok || s == "" {
			return false
		}
	}
	if b, ok := m["bufferize"]; ok {
		if _, isBool := b.(bool); !isBool {
			return false
		}
	}
	return true
}

// looksLikeUpload reports a map that is meant as a file but is not a complete descriptor: any
// map stored under a "file" key, or one combining "data" with "filename" or "mimetype".
func looksLikeUpload(key string, m map[string]any) bool {
	if key == "file" {
		return true
	}
	_, hasData := m["data"]
	_, hasFilename := m["filename"]
	_, hasMimetype := m["mimetype"]
	return hasData && (hasFilename || hasMimetype)
}

type byteSliceKey struct {
	ptr uintptr
	n   int
}

type mapKey struct {
	ptr uintptr
}

// asUpload recognises upload leaves and returns the identity used to merge repeated references.
func asUpload(v any) (Upload, any, bool) {
	switch t := v.(type) {
	case *StreamUpload:
		return t, t, t != nil
	case *BufferUpload:
		return t, t, t != nil
	case *Base64Upload:
		return t, t, t != nil
	case StreamUpload:
		u := &t
		return u, u, true
	case BufferUpload:
		u := &t
		return u, u, true
	case Base64Upload:
		u := &t
		return u, u, true
	case json.RawMessage:
		return nil, nil, false
	case []byte:
		u := &BufferUpload{Data: t}
		return u, byteSliceKey{ptr: reflect.ValueOf(t).Pointer(), n: len(t)}, true
	case map[string]any:
		if !isBase64Descriptor(t) {
			return nil, nil, false
		}
		u := &Base64Upload{
			Data:     t["data"].(string),
			Filename: t["filename"].(string),
			Mimetype: t["mimetype"].(string),
		}
		return u, mapKey{ptr: reflect.ValueOf(t).Pointer()}, true
	case io.Reader:
		u := &StreamUpload{Reader: t}
		if reflect.TypeOf(t).Comparable() {
			return u, t, true
		}
		return u, u, true
	}
	return nil, nil, false
}

// genericContainer converts typed slices and string-keyed maps ([]map[string]any,
// map[string]string, ...) into []any / map[string]any so they can be walked. Byte slices such
// as json.RawMessage are left alone.
func genericContainer(v any) (any, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 || (rv.Kind() == reflect.Slice && rv.IsNil()) {
			return nil, false
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, true
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String || rv.IsNil() {
			return nil, false
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = iter.Value().Interface()
		}
		return out, true
	}
	return nil, false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	if key == "" {
		return parent
	}
	return parent + "." + key
}

func displayPath(path string) string {
	if path == "" {
		return "<root>"
	}
	return path
}
