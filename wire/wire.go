// Package wire turns a logical HTTP request into the exact bytes a
// Connection writes to its socket. Request/RequestBuilder stay in the root
// package (they are the caller-facing surface); wire only knows about the
// flattened Message below, which keeps this package import-cycle-free and
// independently testable against raw byte expectations.
package wire

import (
	"strconv"

	"github.com/valyala/bytebufferpool"
)

// Header is a single caller-supplied header, kept in insertion order.
type Header struct {
	Name  string
	Value string
}

// Cookie is a single caller-supplied cookie.
type Cookie struct {
	Name  string
	Value string
}

// Message is everything Serialize needs to emit a request per the wire
// emission rules. Resource is the original resource string as given
// to the builder (e.g. "http://example.org/path"); Serialize performs the
// host/path split itself so callers never have to.
type Message struct {
	Method    string
	Resource  string
	Query     string // already formatted, e.g. "?a=1&b=2", or ""
	Cookies   []Cookie
	Headers   []Header
	Body      []byte
	KeepAlive bool
}

const userAgent = "pistache/0.1"

// Split strips an optional "http://" scheme and a literal "www." prefix
// from resource, then splits at the first '?' or '/' into (host,
// path-with-query-suffix). It is exported so client.go can key its
// connection pool and admission queues on the same host the serializer
// emits, without re-parsing the URL twice.
func Split(resource string) (host, path string) {
	s := resource
	const scheme = "http://"
	if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
		s = s[len(scheme):]
	}
	const www = "www."
	if len(s) >= len(www) && s[:len(www)] == www {
		s = s[len(www):]
	}
	idx := len(s)
	for i, c := range s {
		if c == '?' || c == '/' {
			idx = i
			break
		}
	}
	return s[:idx], s[idx:]
}

// Serialize renders msg as an HTTP/1.1 request into a pooled buffer. The
// caller owns the returned buffer and must call bytebufferpool.Put on it
// (or hand it to something that will) once the bytes have been written to
// the wire.
func Serialize(msg Message) *bytebufferpool.ByteBuffer {
	host, path := Split(msg.Resource)
	if path == "" || path[0] != '/' {
		path = "/" + path
	}

	buf := bytebufferpool.Get()

	buf.WriteString(msg.Method)
	buf.WriteByte(' ')
	buf.WriteString(path)
	buf.WriteString(msg.Query)
	buf.WriteString(" HTTP/1.1\r\n")

	if len(msg.Cookies) > 0 {
		buf.WriteString("Cookie: ")
		for i, c := range msg.Cookies {
			if i > 0 {
				buf.WriteString("; ")
			}
			buf.WriteString(c.Name)
			buf.WriteByte('=')
			buf.WriteString(c.Value)
		}
		buf.WriteString("\r\n")
	}

	for _, h := range msg.Headers {
		buf.WriteString(h.Name)
		buf.WriteString(": ")
		buf.WriteString(h.Value)
		buf.WriteString("\r\n")
	}

	buf.WriteString("User-Agent: ")
	buf.WriteString(userAgent)
	buf.WriteString("\r\n")

	buf.WriteString("Host: ")
	buf.WriteString(host)
	buf.WriteString("\r\n")

	if len(msg.Body) > 0 {
		buf.WriteString("Content-Length: ")
		buf.WriteString(strconv.Itoa(len(msg.Body)))
		buf.WriteString("\r\n")
	}

	if !msg.KeepAlive {
		buf.WriteString("Connection: close\r\n")
	}

	buf.WriteString("\r\n")
	if len(msg.Body) > 0 {
		buf.Write(msg.Body)
	}

	return buf
}
