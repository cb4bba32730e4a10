package server

import (
	"testing"
	"time"
)

func TestURLEncode(t *testing.T) {
	cases := map[string]string{
		"hello world":  "hello%20world",
		"a+b=c&d":      "a%2bb%3dc%26d",
		"safe-_.~AZ09": "safe-_.~AZ09",
		"/path":        "%2fpath",
		"":             "",
	}
	for in, want := range cases {
		if got := URLEncode(in); got != want {
			t.Fatalf("URLEncode(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestURLDecode(t *testing.T) {
	cases := map[string]string{
		"hello%20world": "hello world",
		"a+b":           "a b",
		"%2Fpath":       "/path",
		"%2fpath":       "/path",
		"100%":          "100%",
		"%zz":           "%zz",
		"%4":            "%4",
	}
	for in, want := range cases {
		if got := URLDecode(in); got != want {
			t.Fatalf("URLDecode(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestURLRoundTrip(t *testing.T) {
	for _, s := range []string{"a b", "ü/ß?&=", "plain", "100%"} {
		if got := URLDecode(URLEncode(s)); got != s {
			t.Fatalf("round trip %q -> %q", s, got)
		}
	}
}

func TestMimeType(t *testing.T) {
	cases := map[string]string{
		"index.html":      "text/html",
		"STYLE.CSS":       "text/css",
		"app.js":          "application/javascript",
		"photo.JPEG":      "image/jpeg",
		"dir/archive.zip": "application/zip",
		"font.woff2":      "font/woff2",
		"noext":           DefaultMimeType,
		"weird.xyz":       DefaultMimeType,
		"trailingdot.":    DefaultMimeType,
	}
	for in, want := range cases {
		if got := MimeType(in); got != want {
			t.Fatalf("MimeType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHTTPDateRoundTrip(t *testing.T) {
	ts := time.Date(2024, time.March, 5, 7, 8, 9, 0, time.UTC)
	s := FormatHTTPDate(ts)
	if s != "Tue, 05 Mar 2024 07:08:09 GMT" {
		t.Fatalf("FormatHTTPDate = %q", s)
	}
	got, err := ParseHTTPDate(s)
	if err != nil {
		t.Fatalf("ParseHTTPDate: %v", err)
	}
	if !got.Equal(ts) {
		t.Fatalf("ParseHTTPDate = %v, want %v", got, ts)
	}

	// Non-UTC input is normalized.
	local := ts.In(time.FixedZone("X", 3*3600))
	if FormatHTTPDate(local) != s {
		t.Fatalf("FormatHTTPDate(local) = %q", FormatHTTPDate(local))
	}
}

func TestParseHTTPDateObsoleteForms(t *testing.T) {
	want := time.Date(1994, time.November, 6, 8, 49, 37, 0, time.UTC)
	for _, s := range []string{
		"Sunday, 06-Nov-94 08:49:37 GMT",
		"Sun Nov  6 08:49:37 1994",
	} {
		got, err := ParseHTTPDate(s)
		if err != nil {
			t.Fatalf("ParseHTTPDate(%q): %v", s, err)
		}
		if !got.Equal(want) {
			t.Fatalf("ParseHTTPDate(%q) = %v, want %v", s, got, want)
		}
	}
	if _, err := ParseHTTPDate("yesterday"); err == nil {
		t.Fatalf("expected error for garbage date")
	}
}

func TestParseQueryString(t *testing.T) {
	got := ParseQueryString("name=John%20Doe&tag=a+b&flag&&x=1&x=2")
	want := map[string]string{"name": "John Doe", "tag": "a b", "flag": "", "x": "2"}
	if len(got) != len(want) {
		t.Fatalf("ParseQueryString = %#v", got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("ParseQueryString[%q] = %q, want %q", k, got[k], v)
		}
	}
	if len(ParseQueryString("")) != 0 {
		t.Fatalf("empty query should give empty map")
	}
}

func TestParseCookies(t *testing.T) {
	got := ParseCookies("a=1;  b=two ; junk; c=x=y")
	if got["a"] != "1" || got["b"] != "two" || got["c"] != "x=y" {
		t.Fatalf("ParseCookies = %#v", got)
	}
	if _, ok := got["junk"]; ok {
		t.Fatalf("entry without '=' should be skipped")
	}
}

func TestContentTypePredicates(t *testing.T) {
	if !IsJSONContentType("application/json; charset=utf-8") || IsJSONContentType("text/plain") {
		t.Fatalf("IsJSONContentType mismatch")
	}
	if !IsFormContentType("application/x-www-form-urlencoded") || IsFormContentType("application/json") {
		t.Fatalf("IsFormContentType mismatch")
	}
	if !IsMultipartContentType("multipart/form-data; boundary=x") || IsMultipartContentType("text/html") {
		t.Fatalf("IsMultipartContentType mismatch")
	}
}
