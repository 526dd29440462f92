package anvilbridge

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/opengovern/anvil-bridge/graphql"
)

// FillOptions are the options of FillPDF.
type FillOptions struct {
	RequestOptions
	// VersionNumber selects a template version. Nil fills the published version.
	VersionNumber *int
}

// GraphQLOperation is the input of the named GraphQL operations.
type GraphQLOperation struct {
	Variables any
	// ResponseQuery replaces the default selection set of the operation.
	ResponseQuery string
	// Document replaces the whole query or mutation.
	Document string
}

// SignURLResult is the result of GenerateEtchSignURL. URL is empty when the service returned
// no URL.
type SignURLResult struct {
	StatusCode int
	URL        string
	Errors     []ResponseError
}

// FillPDF fills the PDF template templateID with payload and returns the PDF as a buffer
// (default) or a stream.
func (c *Client) FillPDF(ctx context.Context, templateID string, payload any, opts FillOptions) (*Result, error) {
	if templateID == "" {
		return nil, &ConfigurationError{Field: "templateID", Message: "a PDF template ID is required"}
	}
	dataType, err := binaryDataType(opts.DataType)
	if err != nil {
		return nil, err
	}
	path := "/api/v1/fill/" + url.PathEscape(templateID) + ".pdf"
	if opts.VersionNumber != nil {
		path += "?" + url.Values{"versionNumber": {strconv.Itoa(*opts.VersionNumber)}}.Encode()
	}
	reqOpts := opts.RequestOptions
	reqOpts.DataType = dataType
	return c.RequestREST(ctx, RESTRequest{Method: http.MethodPost, Path: path, Payload: payload}, reqOpts)
}

// GeneratePDF renders a PDF from HTML/CSS or markdown payload.
func (c *Client) GeneratePDF(ctx context.Context, payload any, opts RequestOptions) (*Result, error) {
	dataType, err := binaryDataType(opts.DataType)
	if err != nil {
		return nil, err
	}
	opts.DataType = dataType
	return c.RequestREST(ctx, RESTRequest{Method: http.MethodPost, Path: "/api/v1/generate-pdf", Payload: payload}, opts)
}

// DownloadDocuments fetches the zip archive of a document group.
func (c *Client) DownloadDocuments(ctx context.Context, documentGroupEid string, opts RequestOptions) (*Result, error) {
	if documentGroupEid == "" {
		return nil, &ConfigurationError{Field: "documentGroupEid", Message: "a document group eid is required"}
	}
	dataType, err := binaryDataType(opts.DataType)
	if err != nil {
		return nil, err
	}
	opts.DataType = dataType
	path := "/api/document-group/" + url.PathEscape(documentGroupEid) + ".zip"
	return c.RequestREST(ctx, RESTRequest{Method: http.MethodGet, Path: path}, opts)
}

// CreateEtchPacket creates a signature packet. Variables may carry uploads under files.
func (c *Client) CreateEtchPacket(ctx context.Context, op GraphQLOperation, opts RequestOptions) (*Result, error) {
	return c.runOperation(ctx, op, graphql.CreateEtchPacket, opts)
}

// GetEtchPacket fetches a signature packet by eid.
func (c *Client) GetEtchPacket(ctx context.Context, op GraphQLOperation, opts RequestOptions) (*Result, error) {
	return c.runOperation(ctx, op, graphql.EtchPacket, opts)
}

// RemoveWeldData deletes a workflow submission and its data.
func (c *Client) RemoveWeldData(ctx context.Context, op GraphQLOperation, opts RequestOptions) (*Result, error) {
	return c.runOperation(ctx, op, func(string) string { return graphql.RemoveWeldData() }, opts)
}

// ForgeSubmit submits data to a workflow webform.
func (c *Client) ForgeSubmit(ctx context.Context, op GraphQLOperation, opts RequestOptions) (*Result, error) {
	return c.runOperation(ctx, op, graphql.ForgeSubmit, opts)
}

// GenerateEtchSignURL returns the signing URL of an embedded signer.
func (c *Client) GenerateEtchSignURL(ctx context.Context, variables any, opts RequestOptions) (*SignURLResult, error) {
	op := GraphQLOperation{Variables: variables}
	res, err := c.runOperation(ctx, op, func(string) string { return graphql.GenerateEtchSignURL() }, opts)
	if err != nil {
		return nil, err
	}
	out := &SignURLResult{StatusCode: res.StatusCode, Errors: res.Errors}
	if v, ok := res.Lookup("data.generateEtchSignURL"); ok {
		if s, ok := v.(string); ok {
			out.URL = s
		}
	}
	return out, nil
}

func (c *Client) runOperation(ctx context.Context, op GraphQLOperation, gen QueryGenerator, opts RequestOptions) (*Result, error) {
	switch opts.DataType {
	case DataTypeUnspecified, DataTypeJSON:
		opts.DataType = DataTypeJSON
	default:
		return nil, unsupportedDataType(opts.DataType, DataTypeJSON)
	}
	query := op.Document
	if strings.TrimSpace(query) == "" {
		query = gen(op.ResponseQuery)
	}
	return c.RequestGraphQL(ctx, GraphQLRequest{Query: query, Variables: op.Variables}, opts)
}

// binaryDataType defaults REST file responses to a buffer and rejects json.
func binaryDataType(dt DataType) (DataType, error) {
	switch dt {
	case DataTypeUnspecified:
		return DataTypeBuffer, nil
	case DataTypeBuffer, DataTypeStream:
		return dt, nil
	}
	return DataTypeUnspecified, unsupportedDataType(dt, DataTypeBuffer, DataTypeStream)
}

func unsupportedDataType(dt DataType, allowed ...DataType) error {
	names := make([]string, len(allowed))
	for i, a := range allowed {
		names[i] = a.String()
	}
	return &ConfigurationError{
		Field:   "dataType",
		Message: fmt.Sprintf("%s is not supported here, use one of %s", dt, strings.Join(names, ", ")),
		Err:     ErrUnsupportedDataType,
	}
}
