package pistache

import (
	"context"
	"strings"
	"time"

	"github.com/huangxin96/pistache/future"
	"github.com/huangxin96/pistache/wire"
)

// Method is an HTTP request method.
type Method string

const (
	GET    Method = "GET"
	POST   Method = "POST"
	PUT    Method = "PUT"
	PATCH  Method = "PATCH"
	DELETE Method = "DELETE"
)

// QueryParam is a single query-string key/value pair, kept in insertion
// order the way RequestBuilder preserves header and cookie order.
type QueryParam struct {
	Name  string
	Value string
}

// Query is an ordered set of query-string parameters.
type Query []QueryParam

// AsString renders q as "?a=1&b=2", or "" if q is empty.
func (q Query) AsString() string {
	if len(q) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteByte('?')
	for i, p := range q {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.Name)
		b.WriteByte('=')
		b.WriteString(p.Value)
	}
	return b.String()
}

// Request is the fully-built, immutable description of an HTTP request
// ready to be sent. Callers obtain one through RequestBuilder, not by
// constructing this struct directly.
type Request struct {
	method   Method
	resource string
	query    Query
	headers  []wire.Header
	cookies  []wire.Cookie
	body     []byte
	timeout  time.Duration
}

func (r *Request) toMessage(keepAlive bool) wire.Message {
	return wire.Message{
		Method:    string(r.method),
		Resource:  r.resource,
		Query:     r.query.AsString(),
		Cookies:   r.cookies,
		Headers:   r.headers,
		Body:      r.body,
		KeepAlive: keepAlive,
	}
}

// RequestBuilder is the fluent construction surface: method, resource,
// params, header, cookie, body, timeout, send. It is not safe for
// concurrent use; build and send from a single goroutine.
type RequestBuilder struct {
	client *Client
	req    Request
}

func newRequestBuilder(c *Client, method Method, resource string) *RequestBuilder {
	return &RequestBuilder{client: c, req: Request{method: method, resource: resource}}
}

func (b *RequestBuilder) Method(m Method) *RequestBuilder {
	b.req.method = m
	return b
}

func (b *RequestBuilder) Resource(resource string) *RequestBuilder {
	b.req.resource = resource
	return b
}

func (b *RequestBuilder) Params(q Query) *RequestBuilder {
	b.req.query = q
	return b
}

// Header appends a header. Any caller-supplied User-Agent is dropped here
// rather than at serialization time, so it never survives into the
// serialized request a Transport sends.
func (b *RequestBuilder) Header(name, value string) *RequestBuilder {
	if strings.EqualFold(name, "User-Agent") {
		return b
	}
	b.req.headers = append(b.req.headers, wire.Header{Name: name, Value: value})
	return b
}

func (b *RequestBuilder) Cookie(name, value string) *RequestBuilder {
	b.req.cookies = append(b.req.cookies, wire.Cookie{Name: name, Value: value})
	return b
}

// Body sets a string body. Go strings are already immutable and cheap to
// share, so unlike the reference implementation's
// RequestBuilder::body(std::string&&) there is no separate move overload
// to mirror here.
func (b *RequestBuilder) Body(body string) *RequestBuilder {
	b.req.body = []byte(body)
	return b
}

// BodyBytes sets a []byte body without an extra copy, for callers already
// holding the bytes they want sent.
func (b *RequestBuilder) BodyBytes(body []byte) *RequestBuilder {
	b.req.body = body
	return b
}

func (b *RequestBuilder) Timeout(d time.Duration) *RequestBuilder {
	b.req.timeout = d
	return b
}

// Send dispatches the built request and returns a Future for its Response.
func (b *RequestBuilder) Send() *future.Future[*Response] {
	req := b.req
	return b.client.doRequest(&req)
}

// SendCtx is Send plus a convenience blocking Wait against ctx, for callers
// that don't want to hold onto the Future themselves.
func (b *RequestBuilder) SendCtx(ctx context.Context) (*Response, error) {
	return b.Send().Wait(ctx)
}
