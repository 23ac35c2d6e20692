package client

import (
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// OK reports whether the status code is below 400.
func (r *Response) OK() bool {
	return r.StatusCode < 400
}

// String returns the body as a string.
func (r *Response) String() string {
	return string(r.Body)
}

// JSON looks up a gjson path in the body.
func (r *Response) JSON(path string) gjson.Result {
	return gjson.GetBytes(r.Body, path)
}
