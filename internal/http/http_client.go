package http

import "net/http"

// HTTPClient is the subset of *http.Client the remote calls need. The Workers
// build swaps in a fetch-backed implementation.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}
