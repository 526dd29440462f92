// sdk.go
// ------
// The sdk.go file contains the Client struct, the entry point of the library.
//
// Key functionalities include:
// - Initializing a client with New(), which validates the Config and fixes the Authorization
//   and User-Agent headers for the life of the client
// - Making raw calls through RequestREST() and RequestGraphQL()
// - Sharing one RateLimiter and RequestExecutor across every call made by the client
//
// The operations in operations.go are thin routes over these two calls.
package anvilbridge

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
)

type Client struct {
	baseURL   string
	authValue string
	userAgent string
	fs        afero.Fs

	logger      hclog.Logger
	metrics     *MetricsCollector
	rateLimiter *RateLimiter
	executor    *RequestExecutor
}

// New returns a client for cfg. cfg is copied; later changes to it have no effect.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, &ConfigurationError{Field: "config", Message: "config is required"}
	}
	c := *cfg
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	authValue, err := authorizationHeader(c.APIKey, c.AccessToken)
	if err != nil {
		return nil, err
	}

	doer := c.HTTPClient
	if doer == nil {
		doer = http.DefaultClient
	}
	var metrics *MetricsCollector
	if c.MetricsRegisterer != nil {
		metrics = NewMetricsCollector(c.MetricsRegisterer)
	}

	limiter := NewRateLimiter(c.RequestLimit, c.RequestLimitWindow)
	limiter.metrics = metrics

	logger := c.Logger.Named("anvil")
	warnIfExpired(logger, c.AccessToken, time.Now())

	client := &Client{
		baseURL:     c.BaseURL,
		authValue:   authValue,
		userAgent:   c.UserAgent,
		fs:          c.Fs,
		logger:      logger,
		metrics:     metrics,
		rateLimiter: limiter,
	}
	client.executor = NewRequestExecutor(doer, limiter, logger, metrics)
	logger.Debug("client initialized", "base_url", c.BaseURL,
		"request_limit", c.RequestLimit, "request_limit_window", c.RequestLimitWindow)
	return client, nil
}

// SetDebug switches the client logger between Debug and Info level.
func (c *Client) SetDebug(enabled bool) {
	if enabled {
		c.logger.SetLevel(hclog.Debug)
		return
	}
	c.logger.SetLevel(hclog.Info)
}

// RateLimiter returns the limiter shared by every call of this client.
func (c *Client) RateLimiter() *RateLimiter {
	return c.rateLimiter
}

// BaseURL returns the service root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// PrepareFile opens path on the client's filesystem as a stream upload.
func (c *Client) PrepareFile(path string, opts UploadOptions) (*StreamUpload, afero.File, error) {
	return PrepareFile(c.fs, path, opts)
}

// headers merges caller headers under the fixed Authorization and User-Agent values.
func (c *Client) headers(extra map[string]string) http.Header {
	h := make(http.Header, len(extra)+2)
	for k, v := range extra {
		if v == "" {
			continue
		}
		switch http.CanonicalHeaderKey(k) {
		case "Authorization", "User-Agent":
			continue
		}
		h.Set(k, v)
	}
	h.Set("Authorization", c.authValue)
	h.Set("User-Agent", c.userAgent)
	return h
}

// RESTRequest is a raw call against a path relative to the base URL.
type RESTRequest struct {
	Method string
	Path   string
	// Payload, when not nil, is sent as a JSON body.
	Payload any
}

// RequestREST runs a REST call through the limiter and retry loop.
func (c *Client) RequestREST(ctx context.Context, in RESTRequest, opts RequestOptions) (*Result, error) {
	method := in.Method
	if method == "" {
		method = http.MethodGet
	}
	desc := &RequestDescriptor{
		Method:   method,
		URL:      c.baseURL + in.Path,
		Header:   c.headers(opts.Headers),
		DataType: opts.DataType,
	}
	if in.Payload != nil {
		body, err := JSONBody(in.Payload)
		if err != nil {
			return nil, err
		}
		desc.Body = body
	}
	return c.executor.Execute(ctx, desc.Factory(), desc.DataType)
}

// GraphQLRequest is a raw GraphQL document with its variables. Variables may hold uploads.
type GraphQLRequest struct {
	Query     string
	Variables any
}

// RequestGraphQL extracts uploads from the variables and POSTs the operation to /graphql, as a
// multipart request when uploads were found and as plain JSON otherwise.
func (c *Client) RequestGraphQL(ctx context.Context, in GraphQLRequest, opts RequestOptions) (*Result, error) {
	if in.Query == "" {
		return nil, &ConfigurationError{Field: "query", Message: "a GraphQL query is required"}
	}
	variables := in.Variables
	if variables == nil {
		variables = map[string]any{}
	}
	scrubbed, files, err := ExtractFiles(variables)
	if err != nil {
		return nil, err
	}
	body, err := EncodeGraphQL(in.Query, scrubbed, files)
	if err != nil {
		return nil, err
	}
	for _, u := range body.Uploads() {
		c.metrics.recordUpload(u.Kind())
	}

	dataType := opts.DataType
	if dataType == DataTypeUnspecified {
		dataType = DataTypeJSON
	}
	desc := &RequestDescriptor{
		Method:   http.MethodPost,
		URL:      c.baseURL + "/graphql",
		Header:   c.headers(opts.Headers),
		Body:     body,
		DataType: dataType,
	}
	return c.executor.Execute(ctx, desc.Factory(), desc.DataType)
}
