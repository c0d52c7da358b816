package pistache

import (
	"net/http"

	"github.com/huangxin96/pistache/respparse"
)

// Response is the result of a resolved request future.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

func responseFromParsed(r *respparse.Response) *Response {
	return &Response{
		StatusCode: r.StatusCode,
		Status:     r.Status,
		Header:     r.Header,
		Body:       r.Body,
	}
}
