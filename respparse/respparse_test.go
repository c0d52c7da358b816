package respparse

import "testing"

func TestFeedWholeResponseAtOnce(t *testing.T) {
	var p Parser
	status, err := p.Feed([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nOK"))
	if err != nil {
		t.Fatalf("Feed returned error: %v", err)
	}
	if status != Done {
		t.Fatalf("status = %v, want Done", status)
	}
	resp := p.Response()
	if resp.StatusCode != 200 || string(resp.Body) != "OK" {
		t.Fatalf("got %+v", resp)
	}
}

func TestFeedOneByteAtATimeFiresDoneExactlyOnce(t *testing.T) {
	raw := []byte("HTTP/1.1 200 OK\r\nContent-Length: 11\r\n\r\nhello world")
	var p Parser
	doneCount := 0
	for i := 0; i < len(raw); i++ {
		status, err := p.Feed(raw[i : i+1])
		if err != nil {
			t.Fatalf("Feed byte %d returned error: %v", i, err)
		}
		if status == Done {
			doneCount++
		}
	}
	if doneCount != 1 {
		t.Fatalf("Done fired %d times, want exactly 1", doneCount)
	}
	if string(p.Response().Body) != "hello world" {
		t.Fatalf("got body %q", p.Response().Body)
	}
}

func TestFeedSplitAcrossHeaderAndBody(t *testing.T) {
	var p Parser
	status, err := p.Feed([]byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\n"))
	if err != nil {
		t.Fatalf("Feed returned error: %v", err)
	}
	if status != NeedMore {
		t.Fatalf("status = %v, want NeedMore before body arrives", status)
	}
	status, err = p.Feed([]byte("hello"))
	if err != nil {
		t.Fatalf("Feed returned error: %v", err)
	}
	if status != Done {
		t.Fatalf("status = %v, want Done", status)
	}
	if string(p.Response().Body) != "hello" {
		t.Fatalf("got body %q", p.Response().Body)
	}
}

func TestResetClearsState(t *testing.T) {
	var p Parser
	p.Feed([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nOK"))
	if p.Response() == nil {
		t.Fatal("expected a response before Reset")
	}
	p.Reset()
	if p.Response() != nil {
		t.Fatal("expected nil response after Reset")
	}
	status, err := p.Feed([]byte("HTTP/1.1 204 No Content\r\n\r\n"))
	if err != nil {
		t.Fatalf("Feed after Reset returned error: %v", err)
	}
	if status != Done || p.Response().StatusCode != 204 {
		t.Fatalf("got status=%v resp=%+v", status, p.Response())
	}
}
