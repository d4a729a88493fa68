// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// InboundRequest is a client request that passed the gate and is about to
// be forwarded upstream.
type InboundRequest struct {
	Ctx    context.Context
	Method string
	URL    *url.URL
	Header http.Header
	Body   io.ReadCloser
}

// OutboundRequest is the translated request sent to the chat API.
type OutboundRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
	Stream bool
}

// ProxyResponse represents the upstream response to be relayed back.
type ProxyResponse struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       io.ReadCloser
}

// ExchangeResult is the payload returned by the token exchange endpoint.
type ExchangeResult struct {
	Token     string `json:"token"`
	RefreshIn int64  `json:"refresh_in"`
}
