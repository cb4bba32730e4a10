package server

import (
	"strings"
	"testing"
)

func TestParseGETWithQueryAndHeaders(t *testing.T) {
	raw := "GET /search?q=go&page=2 HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"X-Custom:   padded value \t\r\n" +
		"\r\n"

	req := NewRequest([]byte(raw))

	if !req.IsComplete() {
		t.Fatalf("expected complete request")
	}
	if req.Method() != MethodGET {
		t.Fatalf("Method = %v, want GET", req.Method())
	}
	if req.URI() != "/search?q=go&page=2" {
		t.Fatalf("URI = %q", req.URI())
	}
	if req.Path() != "/search" || req.Query() != "q=go&page=2" {
		t.Fatalf("Path/Query = %q / %q", req.Path(), req.Query())
	}
	if req.Version() != HTTP11 {
		t.Fatalf("Version = %v, want HTTP/1.1", req.Version())
	}
	if v, ok := req.Header("HOST"); !ok || v != "example.com" {
		t.Fatalf("Header(HOST) = %q, %v", v, ok)
	}
	if v, _ := req.Header("x-custom"); v != "padded value" {
		t.Fatalf("Header(x-custom) = %q, want trimmed", v)
	}
	if !req.HasHeader("Host") || req.HasHeader("Missing") {
		t.Fatalf("HasHeader mismatch")
	}
	if len(req.Body()) != 0 {
		t.Fatalf("expected empty body, got %q", req.Body())
	}

	params := req.QueryParams()
	if params["q"] != "go" || params["page"] != "2" {
		t.Fatalf("QueryParams = %#v", params)
	}
	if v, ok := req.QueryParam("page"); !ok || v != "2" {
		t.Fatalf("QueryParam(page) = %q, %v", v, ok)
	}
	if _, ok := req.QueryParam("nope"); ok {
		t.Fatalf("QueryParam(nope) should be missing")
	}
}

func TestParsePOSTBodyVerbatim(t *testing.T) {
	body := "line one\nline two\r\n\r\nafter blank"
	raw := "POST /api/data HTTP/1.1\r\n" +
		"Content-Type: text/plain\r\n" +
		"Content-Length: 32\r\n" +
		"\r\n" + body

	req := NewRequest([]byte(raw))
	if got := string(req.Body()); got != body {
		t.Fatalf("Body = %q, want %q", got, body)
	}
	if req.ContentLength() != 32 {
		t.Fatalf("ContentLength = %d, want 32", req.ContentLength())
	}
	if !req.IsComplete() {
		t.Fatalf("expected complete request")
	}
}

func TestIsCompleteShortBody(t *testing.T) {
	raw := "POST /x HTTP/1.1\r\nContent-Length: 10\r\n\r\nabc"
	req := NewRequest([]byte(raw))
	if req.IsComplete() {
		t.Fatalf("request with 3 of 10 body bytes should be incomplete")
	}
}

func TestIsCompleteBadContentLength(t *testing.T) {
	req := NewRequest([]byte("POST /x HTTP/1.1\r\nContent-Length: ten\r\n\r\n"))
	if req.IsComplete() {
		t.Fatalf("unparseable Content-Length should make the request incomplete")
	}
	if req.ContentLength() != 0 {
		t.Fatalf("ContentLength = %d, want 0", req.ContentLength())
	}
}

func TestParseUnknownMethodAndVersion(t *testing.T) {
	cases := []struct {
		raw        string
		method     Method
		version    Version
		incomplete bool
	}{
		{"BREW /pot HTTP/1.1\r\n\r\n", MethodUnknown, HTTP11, true},
		{"GET / HTTP/9.9\r\n\r\n", MethodGET, VersionUnknown, true},
		{"get / http/1.0\r\n\r\n", MethodGET, HTTP10, false},
		{"GET / HTTP/2.0\r\n\r\n", MethodGET, HTTP20, false},
		{"", MethodUnknown, VersionUnknown, true},
	}

	for _, tc := range cases {
		req := NewRequest([]byte(tc.raw))
		if req.Method() != tc.method || req.Version() != tc.version {
			t.Fatalf("%q: got %v %v, want %v %v", tc.raw, req.Method(), req.Version(), tc.method, tc.version)
		}
		if req.IsComplete() == tc.incomplete {
			t.Fatalf("%q: IsComplete = %v", tc.raw, req.IsComplete())
		}
	}
}

func TestParseSkipsHeaderWithoutColon(t *testing.T) {
	req := NewRequest([]byte("GET / HTTP/1.1\r\nno colon here\r\nA: b\r\n\r\n"))
	if h := req.Headers(); len(h) != 1 || h["a"] != "b" {
		t.Fatalf("Headers = %#v", h)
	}
}

func TestParseBareLF(t *testing.T) {
	req := NewRequest([]byte("GET /lf HTTP/1.1\nHost: x\n\nbody"))
	if req.Path() != "/lf" {
		t.Fatalf("Path = %q", req.Path())
	}
	if v, _ := req.Header("host"); v != "x" {
		t.Fatalf("Header(host) = %q", v)
	}
	if string(req.Body()) != "body" {
		t.Fatalf("Body = %q", req.Body())
	}
}

func TestParseReplacesPreviousState(t *testing.T) {
	req := NewRequest([]byte("POST /a HTTP/1.1\r\nX-Old: 1\r\n\r\nold"))
	req.Parse([]byte("GET /b HTTP/1.0\r\n\r\n"))

	if req.Method() != MethodGET || req.Path() != "/b" || req.Version() != HTTP10 {
		t.Fatalf("request line not replaced: %v %q %v", req.Method(), req.Path(), req.Version())
	}
	if req.HasHeader("x-old") || len(req.Body()) != 0 {
		t.Fatalf("old headers or body survived: %#v %q", req.Headers(), req.Body())
	}
}

func TestHeadersReturnsCopy(t *testing.T) {
	req := NewRequest([]byte("GET / HTTP/1.1\r\nA: 1\r\n\r\n"))
	h := req.Headers()
	h["a"] = "changed"
	if v, _ := req.Header("a"); v != "1" {
		t.Fatalf("mutating Headers() changed the request: %q", v)
	}
}

func TestRequestCookies(t *testing.T) {
	req := NewRequest([]byte("GET / HTTP/1.1\r\nCookie: session=abc; theme=dark\r\n\r\n"))
	c := req.Cookies()
	if c["session"] != "abc" || c["theme"] != "dark" {
		t.Fatalf("Cookies = %#v", c)
	}
}

func TestRequestString(t *testing.T) {
	req := NewRequest([]byte("POST /p?x=1 HTTP/1.1\r\nZ: last\r\nA: first\r\nContent-Length: 2\r\n\r\nhi"))
	want := "POST /p?x=1 HTTP/1.1\r\n" +
		"a: first\r\n" +
		"content-length: 2\r\n" +
		"z: last\r\n" +
		"\r\n" +
		"hi"
	if got := req.String(); got != want {
		t.Fatalf("String() =\n%q\nwant\n%q", got, want)
	}
}

func TestParseMethodAllKnown(t *testing.T) {
	for _, name := range []string{"GET", "POST", "PUT", "DELETE", "HEAD", "OPTIONS", "PATCH", "TRACE", "CONNECT"} {
		m := ParseMethod(strings.ToLower(name))
		if m == MethodUnknown || m.String() != name {
			t.Fatalf("ParseMethod(%q) = %v", name, m)
		}
	}
	if ParseMethod("UNKNOWN") != MethodUnknown {
		t.Fatalf("UNKNOWN must not parse as a method")
	}
}

func TestVersionSupported(t *testing.T) {
	if !HTTP10.Supported() || !HTTP11.Supported() {
		t.Fatalf("1.0 and 1.1 must be supported")
	}
	if HTTP20.Supported() || HTTP30.Supported() || VersionUnknown.Supported() {
		t.Fatalf("only 1.0 and 1.1 are supported")
	}
}

func TestParseStringRoundTrip(t *testing.T) {
	raw := "PUT /items/7?force=true HTTP/1.1\r\n" +
		"Content-Type: application/json\r\n" +
		"Content-Length: 11\r\n" +
		"\r\n" +
		`{"qty": 3}` + "\n"

	first := NewRequest([]byte(raw))
	second := NewRequest([]byte(first.String()))

	if second.Method() != first.Method() || second.Path() != first.Path() ||
		second.Query() != first.Query() || second.Version() != first.Version() {
		t.Fatalf("request line changed: %q -> %q", first.String(), second.String())
	}
	if string(second.Body()) != string(first.Body()) {
		t.Fatalf("body changed: %q -> %q", first.Body(), second.Body())
	}
	h1, h2 := first.Headers(), second.Headers()
	if len(h1) != len(h2) {
		t.Fatalf("headers changed: %#v -> %#v", h1, h2)
	}
	for k, v := range h1 {
		if h2[k] != v {
			t.Fatalf("header %q: %q -> %q", k, v, h2[k])
		}
	}
	if !second.IsComplete() {
		t.Fatalf("round-tripped request incomplete")
	}
}
