package anvilbridge

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opengovern/anvil-bridge/mock"
)

func newTestClient(t *testing.T, tr *mock.Transport, mutate ...func(*Config)) *Client {
	t.Helper()
	cfg := &Config{
		APIKey:     "test-key",
		BaseURL:    "https://anvil.test",
		HTTPClient: tr,
	}
	for _, m := range mutate {
		m(cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	c.executor.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return c
}

func TestNewRequiresExactlyOneCredential(t *testing.T) {
	_, err := New(&Config{})
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))

	_, err = New(&Config{APIKey: "k", AccessToken: "t"})
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))

	_, err = New(nil)
	assert.True(t, IsConfigurationError(err))
}

func TestFillPDF(t *testing.T) {
	tr := &mock.Transport{Responses: []mock.Response{mock.Bytes(http.StatusOK, []byte("PDF bytes"), "application/pdf")}}
	c := newTestClient(t, tr)

	payload := map[string]any{"title": "Test", "data": map[string]any{"helloId": "hello!"}}
	res, err := c.FillPDF(context.Background(), "cast123", payload, FillOptions{})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, []byte("PDF bytes"), res.Data)

	calls := tr.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, http.MethodPost, calls[0].Method)
	assert.Equal(t, "/api/v1/fill/cast123.pdf", calls[0].Path)
	assert.JSONEq(t, `{"title":"Test","data":{"helloId":"hello!"}}`, string(calls[0].Body))
	assert.Equal(t, "application/json", calls[0].Header.Get("Content-Type"))
}

func TestFillPDFVersionNumberAndStream(t *testing.T) {
	tr := &mock.Transport{Responses: []mock.Response{mock.Bytes(http.StatusOK, []byte("PDF"), "application/pdf")}}
	c := newTestClient(t, tr)

	version := 3
	res, err := c.FillPDF(context.Background(), "cast123", map[string]any{}, FillOptions{
		RequestOptions: RequestOptions{DataType: DataTypeStream},
		VersionNumber:  &version,
	})
	require.NoError(t, err)

	rc, ok := res.Stream()
	require.True(t, ok)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "PDF", string(data))
	assert.Equal(t, "https://anvil.test/api/v1/fill/cast123.pdf?versionNumber=3", tr.Calls()[0].URL)
}

func TestBinaryOperationsRejectJSONDataType(t *testing.T) {
	tr := &mock.Transport{}
	c := newTestClient(t, tr)
	ctx := context.Background()
	jsonOpts := RequestOptions{DataType: DataTypeJSON}

	_, err := c.FillPDF(ctx, "cast123", map[string]any{}, FillOptions{RequestOptions: jsonOpts})
	assert.ErrorIs(t, err, ErrUnsupportedDataType)
	_, err = c.GeneratePDF(ctx, map[string]any{}, jsonOpts)
	assert.ErrorIs(t, err, ErrUnsupportedDataType)
	_, err = c.DownloadDocuments(ctx, "grp", jsonOpts)
	assert.ErrorIs(t, err, ErrUnsupportedDataType)
	_, err = c.GetEtchPacket(ctx, GraphQLOperation{}, RequestOptions{DataType: DataTypeBuffer})
	assert.ErrorIs(t, err, ErrUnsupportedDataType)

	_, err = c.FillPDF(ctx, "", map[string]any{}, FillOptions{})
	assert.True(t, IsConfigurationError(err))

	assert.Equal(t, 0, tr.CallCount())
}

func TestGeneratePDFAndDownloadDocuments(t *testing.T) {
	tr := &mock.Transport{Responses: []mock.Response{
		mock.Bytes(http.StatusOK, []byte("generated"), "application/pdf"),
		mock.Bytes(http.StatusOK, []byte("PK zip"), "application/zip"),
	}}
	c := newTestClient(t, tr)
	ctx := context.Background()

	res, err := c.GeneratePDF(ctx, map[string]any{"type": "markdown", "title": "T"}, RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, []byte("generated"), res.Data)

	res, err = c.DownloadDocuments(ctx, "grp/1", RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, []byte("PK zip"), res.Data)

	calls := tr.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, http.MethodPost, calls[0].Method)
	assert.Equal(t, "/api/v1/generate-pdf", calls[0].Path)
	assert.Equal(t, http.MethodGet, calls[1].Method)
	assert.Equal(t, "https://anvil.test/api/document-group/grp%2F1.zip", calls[1].URL)
	assert.Empty(t, calls[1].Body)
}

func TestGenerateEtchSignURL(t *testing.T) {
	tr := &mock.Transport{Responses: []mock.Response{
		mock.JSON(http.StatusOK, map[string]any{"data": map[string]any{"generateEtchSignURL": "http://x"}}),
		mock.JSON(http.StatusOK, map[string]any{"data": map[string]any{}}),
	}}
	c := newTestClient(t, tr)
	vars := map[string]any{"signerEid": "s1", "clientUserId": "u1"}

	res, err := c.GenerateEtchSignURL(context.Background(), vars, RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, &SignURLResult{StatusCode: http.StatusOK, URL: "http://x"}, res)

	res, err = c.GenerateEtchSignURL(context.Background(), vars, RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Empty(t, res.URL)
	assert.Nil(t, res.Errors)

	call := tr.Calls()[0]
	assert.Equal(t, "/graphql", call.Path)
	assert.Equal(t, "application/json", call.Header.Get("Content-Type"))
	assert.Contains(t, string(call.Body), "generateEtchSignURL")
	assert.Contains(t, string(call.Body), `"signerEid":"s1"`)
}

func TestAuthorizationAndUserAgentCannotBeOverridden(t *testing.T) {
	tr := &mock.Transport{}
	c := newTestClient(t, tr)

	_, err := c.RequestREST(context.Background(), RESTRequest{Path: "/api/ping"}, RequestOptions{
		DataType: DataTypeJSON,
		Headers: map[string]string{
			"authorization": "Bearer stolen",
			"User-Agent":    "other",
			"X-Trace":       "t1",
			"X-Empty":       "",
		},
	})
	require.NoError(t, err)

	h := tr.Calls()[0].Header
	assert.Equal(t, "Basic "+base64.StdEncoding.EncodeToString([]byte("test-key:")), h.Get("Authorization"))
	assert.Equal(t, DefaultUserAgent(), h.Get("User-Agent"))
	assert.Equal(t, "t1", h.Get("X-Trace"))
	_, present := h["X-Empty"]
	assert.False(t, present)
}

func TestBodyContentTypeCannotBeOverridden(t *testing.T) {
	tr := &mock.Transport{}
	c := newTestClient(t, tr)
	headers := map[string]string{"Content-Type": "application/json"}

	_, err := c.RequestGraphQL(context.Background(), GraphQLRequest{
		Query: "mutation Upload($file: Upload) { upload(file: $file) }",
		Variables: map[string]any{
			"file": PrepareBytes([]byte("%PDF-1.4"), UploadOptions{Filename: "a.pdf", Mimetype: "application/pdf"}),
		},
	}, RequestOptions{Headers: headers})
	require.NoError(t, err)

	_, err = c.RequestREST(context.Background(), RESTRequest{Method: http.MethodPost, Path: "/api/ping", Payload: map[string]any{"a": 1}},
		RequestOptions{DataType: DataTypeJSON, Headers: map[string]string{"content-type": "text/plain"}})
	require.NoError(t, err)

	calls := tr.Calls()
	require.Len(t, calls, 2)

	mediaType, params, err := mime.ParseMediaType(calls[0].Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/form-data", mediaType)
	require.NotEmpty(t, params["boundary"])
	assert.True(t, bytes.HasPrefix(calls[0].Body, []byte("--"+params["boundary"])))

	assert.Equal(t, "application/json", calls[1].Header.Get("Content-Type"))
	assert.Len(t, calls[1].Header.Values("Content-Type"), 1)
}

func TestAccessTokenBearerHeader(t *testing.T) {
	tr := &mock.Transport{}
	c := newTestClient(t, tr, func(cfg *Config) {
		cfg.APIKey = ""
		cfg.AccessToken = "opaque-token"
	})

	_, err := c.RequestREST(context.Background(), RESTRequest{Path: "/api/ping"}, RequestOptions{DataType: DataTypeJSON})
	require.NoError(t, err)
	want := "Bearer " + base64.StdEncoding.EncodeToString([]byte("opaque-token"))
	assert.Equal(t, want, tr.Calls()[0].Header.Get("Authorization"))
}

func TestExpiredAccessTokenIsLogged(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	var logs bytes.Buffer
	_, err = New(&Config{
		AccessToken: token,
		HTTPClient:  &mock.Transport{},
		Logger:      hclog.New(&hclog.LoggerOptions{Output: &logs, Level: hclog.Info}),
	})
	require.NoError(t, err)
	assert.Contains(t, logs.String(), "access token has expired")
}

func TestSetDebug(t *testing.T) {
	logger := hclog.New(&hclog.LoggerOptions{Output: io.Discard, Level: hclog.Info})
	c := newTestClient(t, &mock.Transport{}, func(cfg *Config) { cfg.Logger = logger })

	c.SetDebug(true)
	assert.True(t, c.logger.IsDebug())
	c.SetDebug(false)
	assert.False(t, c.logger.IsDebug())
}

func TestCreateEtchPacketUploadsFileAndReplaysOnThrottle(t *testing.T) {
	tr := &mock.Transport{Responses: []mock.Response{
		mock.Throttle("0"),
		mock.JSON(http.StatusOK, map[string]any{"data": map[string]any{"createEtchPacket": map[string]any{"eid": "pkt1"}}}),
	}}
	c := newTestClient(t, tr)

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/nda.pdf", []byte("%PDF nda"), 0o644))
	upload, f, err := PrepareFile(fs, "/nda.pdf", UploadOptions{})
	require.NoError(t, err)
	defer f.Close()

	res, err := c.CreateEtchPacket(context.Background(), GraphQLOperation{
		Variables: map[string]any{
			"name":  "NDA",
			"files": []any{map[string]any{"id": "nda", "file": upload}},
		},
		ResponseQuery: "{ eid }",
	}, RequestOptions{})
	require.NoError(t, err)

	var packet struct {
		Eid string `json:"eid"`
	}
	require.NoError(t, res.DecodeData("data.createEtchPacket", &packet))
	assert.Equal(t, "pkt1", packet.Eid)

	calls := tr.Calls()
	require.Len(t, calls, 2)
	for _, call := range calls {
		mediaType, params, err := mime.ParseMediaType(call.Header.Get("Content-Type"))
		require.NoError(t, err)
		require.Equal(t, "multipart/form-data", mediaType)

		form, err := multipart.NewReader(bytes.NewReader(call.Body), params["boundary"]).ReadForm(1 << 20)
		require.NoError(t, err)
		assert.Contains(t, form.Value["operations"][0], "createEtchPacket")
		assert.Contains(t, form.Value["operations"][0], `"file":null`)
		assert.JSONEq(t, `{"1":["variables.files.0.file"]}`, form.Value["map"][0])

		fh := form.File["1"][0]
		assert.Equal(t, "nda.pdf", fh.Filename)
		part, err := fh.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(part)
		require.NoError(t, err)
		assert.Equal(t, "%PDF nda", string(data))
	}
}

func TestSchemaErrorNeverReachesTransport(t *testing.T) {
	tr := &mock.Transport{}
	c := newTestClient(t, tr)

	_, err := c.CreateEtchPacket(context.Background(), GraphQLOperation{
		Variables: map[string]any{"file": map[string]any{"data": "SGVsbG8=", "filename": "x"}},
	}, RequestOptions{})
	require.Error(t, err)
	assert.True(t, IsSchemaError(err))
	assert.Equal(t, 0, tr.CallCount())
}

func TestDocumentOverrideReplacesQuery(t *testing.T) {
	tr := &mock.Transport{}
	c := newTestClient(t, tr)

	_, err := c.RemoveWeldData(context.Background(), GraphQLOperation{
		Variables: map[string]any{"eid": "w1"},
		Document:  "mutation { custom }",
	}, RequestOptions{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"query":"mutation { custom }","variables":{"eid":"w1"}}`, string(tr.Calls()[0].Body))
}

func TestGraphQLRemoteErrorsAreValues(t *testing.T) {
	tr := &mock.Transport{Responses: []mock.Response{mock.JSON(http.StatusBadRequest, map[string]any{
		"errors": []any{map[string]any{"message": "eid not found"}},
	})}}
	c := newTestClient(t, tr)

	res, err := c.GetEtchPacket(context.Background(), GraphQLOperation{Variables: map[string]any{"eid": "nope"}}, RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "eid not found", res.Errors[0].Message)
}

func TestUploadStreamFailureAbortsRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(&Config{APIKey: "k", BaseURL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)

	broken := PrepareReader(&failingReader{err: io.ErrUnexpectedEOF}, UploadOptions{Filename: "broken.pdf"})
	_, err = c.RequestGraphQL(context.Background(), GraphQLRequest{
		Query:     "mutation { upload }",
		Variables: map[string]any{"file": broken},
	}, RequestOptions{})
	require.Error(t, err)
	assert.True(t, IsTransportError(err))
	assert.True(t, IsAborted(err))
	assert.ErrorIs(t, err, ErrUploadStream)
}

func TestMetricsAreRecorded(t *testing.T) {
	reg := prometheus.NewRegistry()
	tr := &mock.Transport{Responses: []mock.Response{mock.Throttle("0"), mock.JSON(http.StatusOK, nil)}}
	c := newTestClient(t, tr, func(cfg *Config) { cfg.MetricsRegisterer = reg })

	_, err := c.RequestGraphQL(context.Background(), GraphQLRequest{
		Query:     "mutation { m }",
		Variables: map[string]any{"doc": PrepareBytes([]byte("x"), UploadOptions{})},
	}, RequestOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.requestsTotal.WithLabelValues("POST", "429")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.requestsTotal.WithLabelValues("POST", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.throttledTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.uploadsTotal.WithLabelValues("buffer")))

	families, err := reg.Gather()
	require.NoError(t, err)
	var waits uint64
	for _, mf := range families {
		if mf.GetName() == "anvil_rate_limiter_wait_seconds" {
			waits = mf.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	assert.Equal(t, uint64(2), waits)
}

func TestDefaultUserAgent(t *testing.T) {
	assert.True(t, strings.HasPrefix(DefaultUserAgent(), "anvil-bridge/"))
}
