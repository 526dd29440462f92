package anvilbridge

import (
	"context"
	"net/http"
)

// HTTPDoer sends one physical HTTP request. *http.Client satisfies it; tests use mock.Transport.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RequestFactory builds the request for one physical attempt. abort cancels that attempt with
// the given cause; streaming bodies call it when their source fails.
type RequestFactory func(ctx context.Context, abort func(error)) (*http.Request, error)

// QueryGenerator produces the GraphQL document for an operation. responseQuery, when not
// empty, replaces the default selection set.
type QueryGenerator func(responseQuery string) string
