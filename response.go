package beankit

// Status classifies a pipeline response at the transport boundary. The HTTP
// adapter maps these onto wire status codes; other transports are free to map
// them however they like.
type Status int

const (
	StatusOK Status = iota
	StatusUnauthorized
	StatusForbidden
	StatusTooManyRequests
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusUnauthorized:
		return "unauthorized"
	case StatusForbidden:
		return "forbidden"
	case StatusTooManyRequests:
		return "too many requests"
	case StatusFailure:
		return "failure"
	}
	return "unknown"
}

// Response is the result of a pipeline run. When a guard fails, the guard's
// own Response is returned to the caller verbatim; the executor never rewraps
// it.
type Response struct {
	Status Status
	Body   any
}

// OK wraps a successful call body result.
func OK(body any) *Response {
	return &Response{Status: StatusOK, Body: body}
}

// Unauthorized is the outcome of a failed or absent required identity.
func Unauthorized(reason string) *Response {
	return &Response{Status: StatusUnauthorized, Body: errorBody("unauthorized", reason)}
}

// Forbidden is the authorization-denied outcome produced by role guards.
func Forbidden(reason string) *Response {
	return &Response{Status: StatusForbidden, Body: errorBody("forbidden", reason)}
}

// TooManyRequests is the throttled outcome produced by rate-limit guards.
func TooManyRequests(reason string) *Response {
	return &Response{Status: StatusTooManyRequests, Body: errorBody("too many requests", reason)}
}

// Failure is the generic failure outcome: body errors, panics caught by the
// safety net, and missing required component config all end here.
func Failure(reason string) *Response {
	return &Response{Status: StatusFailure, Body: errorBody("failure", reason)}
}

func errorBody(kind, reason string) map[string]any {
	return map[string]any{"error": kind, "reason": reason}
}
