package beankit

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// CallFromRequest builds a CallContext from an HTTP request: path, headers,
// remote origin, query values, and, when the request was routed by chi, the
// route parameters.
func CallFromRequest(r *http.Request) *CallContext {
	call := NewCallContext(r.URL.Path)
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		call.Origin = host
	} else {
		call.Origin = r.RemoteAddr
	}
	for name, values := range r.Header {
		if len(values) > 0 {
			call.SetHeader(name, values[0])
		}
	}
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			call.Params[key] = values[0]
		}
	}
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		for i, key := range rctx.URLParams.Keys {
			call.Params[key] = rctx.URLParams.Values[i]
		}
	}
	return call
}

// Handler adapts a pipeline to an http.HandlerFunc. The response body is
// JSON-encoded and the status classification mapped to an HTTP status code;
// everything else about the wire stays with the router.
func Handler(ex *Executor, p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := p.Execute(r.Context(), ex, CallFromRequest(r))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(httpStatus(resp.Status))
		_ = json.NewEncoder(w).Encode(resp.Body)
	}
}

// Mount registers a pipeline on a chi router for the given method and
// pattern.
func Mount(r chi.Router, method, pattern string, ex *Executor, p Pipeline) {
	r.Method(method, pattern, Handler(ex, p))
}

func httpStatus(s Status) int {
	switch s {
	case StatusOK:
		return http.StatusOK
	case StatusUnauthorized:
		return http.StatusUnauthorized
	case StatusForbidden:
		return http.StatusForbidden
	case StatusTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
