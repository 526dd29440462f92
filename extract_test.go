package anvilbridge

import (
	"encoding/json"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setPath puts v at a dotted path of a tree made of map[string]any and []any.
func setPath(tree any, path string, v any) {
	keys := strings.Split(path, ".")
	cur := tree
	for i, k := range keys {
		last := i == len(keys)-1
		switch node := cur.(type) {
		case map[string]any:
			if last {
				node[k] = v
				return
			}
			cur = node[k]
		case []any:
			idx, _ := strconv.Atoi(k)
			if last {
				node[idx] = v
				return
			}
			cur = node[idx]
		}
	}
}

func TestExtractFilesRoundTrip(t *testing.T) {
	buffer := PrepareBytes([]byte("pdf bytes"), UploadOptions{Filename: "a.pdf"})
	stream := PrepareReader(strings.NewReader("stream bytes"), UploadOptions{Filename: "c.pdf"})
	tree := map[string]any{
		"a": map[string]any{"b": map[string]any{"file": buffer, "title": "A"}},
		"c": []any{map[string]any{"file": stream}},
		"n": 3,
	}

	scrubbed, files, err := ExtractFiles(tree)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"a": map[string]any{"b": map[string]any{"file": nil, "title": "A"}},
		"c": []any{map[string]any{"file": nil}},
		"n": 3,
	}, scrubbed)

	require.Equal(t, 2, files.Len())
	assert.Equal(t, []string{"a.b.file"}, files.Files()[0].Paths)
	assert.Same(t, buffer, files.Files()[0].Upload)
	assert.Equal(t, []string{"c.0.file"}, files.Files()[1].Paths)
	assert.Same(t, stream, files.Files()[1].Upload)

	for _, f := range files.Files() {
		for _, p := range f.Paths {
			setPath(scrubbed, p, f.Upload)
		}
	}
	assert.Equal(t, tree, scrubbed)
}

func TestExtractFilesDoesNotMutateInput(t *testing.T) {
	upload := PrepareBytes([]byte("x"), UploadOptions{})
	tree := map[string]any{"file": upload}

	_, _, err := ExtractFiles(tree)
	require.NoError(t, err)
	assert.Same(t, upload, tree["file"])
}

func TestExtractFilesSharedUpload(t *testing.T) {
	shared := PrepareBytes([]byte("same"), UploadOptions{Filename: "s.pdf"})
	tree := map[string]any{
		"first":  map[string]any{"file": shared},
		"second": []any{shared},
	}

	_, files, err := ExtractFiles(tree)
	require.NoError(t, err)
	require.Equal(t, 1, files.Len())
	assert.Equal(t, []string{"first.file", "second.0"}, files.Files()[0].Paths)
}

func TestExtractFilesSharedRawBytes(t *testing.T) {
	data := []byte("raw")
	tree := map[string]any{"x": data, "y": data, "z": []byte("raw")}

	_, files, err := ExtractFiles(tree)
	require.NoError(t, err)
	require.Equal(t, 2, files.Len())
	assert.Equal(t, []string{"x", "y"}, files.Files()[0].Paths)
	assert.Equal(t, []string{"z"}, files.Files()[1].Paths)
}

func TestExtractFilesBase64Descriptor(t *testing.T) {
	tree := map[string]any{
		"files": []any{
			map[string]any{
				"id": "doc",
				"file": map[string]any{
					"data":     "SGVsbG8=",
					"filename": "hello.txt",
					"mimetype": "text/plain",
				},
			},
		},
	}

	scrubbed, files, err := ExtractFiles(tree)
	require.NoError(t, err)
	require.Equal(t, 1, files.Len())
	assert.Equal(t, []string{"files.0.file"}, files.Files()[0].Paths)

	u, ok := files.Files()[0].Upload.(*Base64Upload)
	require.True(t, ok)
	assert.Equal(t, "hello.txt", u.Filename)
	assert.Equal(t, map[string]any{"files": []any{map[string]any{"id": "doc", "file": nil}}}, scrubbed)
}

func TestExtractFilesWalksTypedContainers(t *testing.T) {
	upload := PrepareBytes([]byte("x"), UploadOptions{})
	tree := map[string]any{
		"signers": []map[string]any{{"name": "Sally"}, {"file": upload}},
		"labels":  map[string]string{"k": "v"},
	}

	scrubbed, files, err := ExtractFiles(tree)
	require.NoError(t, err)
	require.Equal(t, 1, files.Len())
	assert.Equal(t, []string{"signers.1.file"}, files.Files()[0].Paths)
	assert.Equal(t, map[string]any{"k": "v"}, scrubbed.(map[string]any)["labels"])
}

func TestExtractFilesIgnoresRawJSON(t *testing.T) {
	tree := map[string]any{"payload": json.RawMessage(`{"a":1}`), "name": "x"}

	scrubbed, files, err := ExtractFiles(tree)
	require.NoError(t, err)
	assert.Equal(t, 0, files.Len())
	assert.Equal(t, tree, scrubbed)
}

func TestValidateUploadsRejectsPartialDescriptors(t *testing.T) {
	tree := map[string]any{
		"file": map[string]any{"data": "SGVsbG8=", "filename": "x"},
		"files": []any{
			map[string]any{"data": "SGVsbG8=", "mimetype": "text/plain"},
		},
		"ok": map[string]any{"data": "not a file"},
	}

	err := ValidateUploads(tree)
	require.Error(t, err)
	require.True(t, IsSchemaError(err))

	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, []string{"file", "files.0"}, se.Paths)
	assert.Len(t, se.Err.Errors, 2)
}

func TestValidateUploadsRejectsIncompleteTypedUpload(t *testing.T) {
	tree := map[string]any{"doc": &Base64Upload{Data: "SGVsbG8=", Filename: "x.txt"}}

	err := ValidateUploads(tree)
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
	assert.Contains(t, err.Error(), "doc")
}

func TestValidateUploadsRejectsBadBase64(t *testing.T) {
	tree := map[string]any{"file": map[string]any{"data": "***", "filename": "x", "mimetype": "text/plain"}}

	err := ValidateUploads(tree)
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
}
