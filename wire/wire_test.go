package wire

import (
	"strings"
	"testing"
)

func TestSplitStripsSchemeAndWWW(t *testing.T) {
	cases := []struct {
		in, host, path string
	}{
		{"http://example.org/", "example.org", "/"},
		{"http://www.example.org/x?y=1", "example.org", "/x?y=1"},
		{"h/x", "h", "/x"},
		{"h", "h", ""},
	}
	for _, c := range cases {
		host, path := Split(c.in)
		if host != c.host || path != c.path {
			t.Errorf("Split(%q) = (%q,%q), want (%q,%q)", c.in, host, path, c.host, c.path)
		}
	}
}

func TestSerializePostMatchesWireScenario(t *testing.T) {
	buf := Serialize(Message{
		Method:   "POST",
		Resource: "http://h/x",
		Headers:  []Header{{Name: "X-Y", Value: "1"}},
		Body:     []byte("abc"),
		KeepAlive: true,
	})
	defer buf.Reset()
	got := buf.String()

	if !strings.HasPrefix(got, "POST /x HTTP/1.1\r\n") {
		t.Fatalf("missing request line, got %q", got)
	}
	for _, want := range []string{
		"X-Y: 1\r\n",
		"User-Agent: pistache/0.1\r\n",
		"Host: h\r\n",
		"Content-Length: 3\r\n",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in %q", want, got)
		}
	}
	if !strings.HasSuffix(got, "\r\n\r\nabc") {
		t.Fatalf("missing body terminator/body, got %q", got)
	}
}

func TestSerializeOmitsContentLengthWithoutBody(t *testing.T) {
	buf := Serialize(Message{Method: "GET", Resource: "http://example.org/", KeepAlive: true})
	defer buf.Reset()
	if strings.Contains(buf.String(), "Content-Length") {
		t.Fatalf("unexpected Content-Length on bodyless request: %q", buf.String())
	}
}

func TestSerializeEmitsConnectionCloseWhenNotKeepAlive(t *testing.T) {
	buf := Serialize(Message{Method: "GET", Resource: "http://example.org/", KeepAlive: false})
	defer buf.Reset()
	if !strings.Contains(buf.String(), "Connection: close\r\n") {
		t.Fatalf("expected Connection: close, got %q", buf.String())
	}
}

func TestSerializeCookiesJoinedWithSemicolon(t *testing.T) {
	buf := Serialize(Message{
		Method:   "GET",
		Resource: "http://example.org/",
		Cookies:  []Cookie{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}},
		KeepAlive: true,
	})
	defer buf.Reset()
	if !strings.Contains(buf.String(), "Cookie: a=1; b=2\r\n") {
		t.Fatalf("got %q", buf.String())
	}
}
