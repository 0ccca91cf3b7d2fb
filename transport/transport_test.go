package transport

import (
	"context"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestParseMethod(t *testing.T) {
	valid := map[string]Method{
		"GET":    GET,
		"get":    GET,
		"":       GET,
		"Post":   POST,
		"PUT":    PUT,
		"delete": DELETE,
		"PATCH":  PATCH,
		"head":   HEAD,
	}
	for in, want := range valid {
		got, err := ParseMethod(in)
		if err != nil {
			t.Fatalf("ParseMethod(%q) returned error: %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseMethod(%q) = %v, want %v", in, got, want)
		}
	}

	for _, in := range []string{"OPTIONS", "TRACE", "bogus"} {
		if _, err := ParseMethod(in); err == nil {
			t.Fatalf("ParseMethod(%q) should have failed", in)
		}
	}
}

func TestExecuteDiscardsBodyByDefault(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello world"))
	}))
	defer ts.Close()

	c := NewClient(5 * time.Second)
	out, err := c.Execute(context.Background(), Request{Method: GET, URL: ts.URL})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out.Status != 200 {
		t.Fatalf("got status %d, want 200", out.Status)
	}
	if out.Bytes != int64(len("hello world")) {
		t.Fatalf("got %d bytes, want %d", out.Bytes, len("hello world"))
	}
	if out.Body != nil {
		t.Fatalf("body should not be retained, got %q", out.Body)
	}
}

func TestExecuteKeepsBodyWhenAsked(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	defer ts.Close()

	c := NewClient(5 * time.Second)
	c.KeepBody = true
	out, err := c.Execute(context.Background(), Request{Method: GET, URL: ts.URL})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if string(out.Body) != `{"ok":true}` {
		t.Fatalf("got body %q", out.Body)
	}
}

func TestExecutePostSetsContentType(t *testing.T) {
	var gotCT string
	var gotBody []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCT = r.Header.Get("Content-Type")
		gotBody, _ = ioutil.ReadAll(r.Body)
	}))
	defer ts.Close()

	c := NewClient(5 * time.Second)
	_, err := c.Execute(context.Background(), Request{
		Method: POST,
		URL:    ts.URL,
		Body:   []byte(`{"a":1}`),
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if gotCT != "application/json" {
		t.Fatalf("got Content-Type %q", gotCT)
	}
	if string(gotBody) != `{"a":1}` {
		t.Fatalf("got body %q", gotBody)
	}

	// An explicit header wins over the default.
	_, err = c.Execute(context.Background(), Request{
		Method:  POST,
		URL:     ts.URL,
		Headers: map[string]string{"Content-Type": "text/plain"},
		Body:    []byte("raw"),
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if gotCT != "text/plain" {
		t.Fatalf("got Content-Type %q, want text/plain", gotCT)
	}
}

func TestExecuteTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer ts.Close()

	c := NewClient(0)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Execute(ctx, Request{Method: GET, URL: ts.URL})
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if kind := Classify(err); kind != TimeoutError {
		t.Fatalf("classified as %v, want TimeoutError", kind)
	}
}

func TestClassifyConnectionRefused(t *testing.T) {
	c := NewClient(time.Second)
	// Port 1 is essentially never listening.
	_, err := c.Execute(context.Background(), Request{Method: GET, URL: "http://127.0.0.1:1/"})
	if err == nil {
		t.Fatal("expected a connection error")
	}
	if kind := Classify(err); kind != ConnectionError {
		t.Fatalf("classified as %v, want ConnectionError", kind)
	}
}

func TestClassifyNil(t *testing.T) {
	if kind := Classify(nil); kind != NoError {
		t.Fatalf("Classify(nil) = %v, want NoError", kind)
	}
}
