package server

import (
	"bytes"
	"sort"
	"strconv"
	"strings"
)

// Method is a request method.
type Method int

const (
	MethodUnknown Method = iota
	MethodGET
	MethodPOST
	MethodPUT
	MethodDELETE
	MethodHEAD
	MethodOPTIONS
	MethodPATCH
	MethodTRACE
	MethodCONNECT
)

var methodNames = [...]string{
	MethodUnknown: "UNKNOWN",
	MethodGET:     "GET",
	MethodPOST:    "POST",
	MethodPUT:     "PUT",
	MethodDELETE:  "DELETE",
	MethodHEAD:    "HEAD",
	MethodOPTIONS: "OPTIONS",
	MethodPATCH:   "PATCH",
	MethodTRACE:   "TRACE",
	MethodCONNECT: "CONNECT",
}

func (m Method) String() string {
	if m < 0 || int(m) >= len(methodNames) {
		return "UNKNOWN"
	}
	return methodNames[m]
}

// ParseMethod matches s case-insensitively against the known methods.
func ParseMethod(s string) Method {
	s = strings.ToUpper(s)
	for m, name := range methodNames {
		if Method(m) != MethodUnknown && name == s {
			return Method(m)
		}
	}
	return MethodUnknown
}

// Version is the protocol version of a request line.
type Version int

const (
	VersionUnknown Version = iota
	HTTP10
	HTTP11
	HTTP20
	HTTP30
)

func (v Version) String() string {
	switch v {
	case HTTP10:
		return "HTTP/1.0"
	case HTTP11:
		return "HTTP/1.1"
	case HTTP20:
		return "HTTP/2.0"
	case HTTP30:
		return "HTTP/3.0"
	default:
		return "UNKNOWN"
	}
}

// Supported reports whether the server can answer requests of this version.
func (v Version) Supported() bool {
	return v == HTTP10 || v == HTTP11
}

// ParseVersion matches s case-insensitively against the known versions.
func ParseVersion(s string) Version {
	switch strings.ToUpper(s) {
	case "HTTP/1.0":
		return HTTP10
	case "HTTP/1.1":
		return HTTP11
	case "HTTP/2.0":
		return HTTP20
	case "HTTP/3.0":
		return HTTP30
	}
	return VersionUnknown
}

// Request is a parsed HTTP request. It is filled by Parse and read-only
// afterwards; handlers only see it through accessors.
type Request struct {
	method  Method
	uri     string
	path    string
	query   string
	version Version
	headers map[string]string // keys are lowercase
	body    []byte

	complete bool

	// set by the connection before dispatch
	id         string
	remoteAddr string
}

// NewRequest parses raw into a new Request.
func NewRequest(raw []byte) *Request {
	r := new(Request)
	r.Parse(raw)
	return r
}

// Parse replaces the request with the contents of buf and reports whether
// the request line carried a known method and version.
func (r *Request) Parse(buf []byte) bool {
	r.Reset()

	rest := buf
	first := true
	for len(rest) > 0 {
		var line []byte
		if i := bytes.IndexByte(rest, '\n'); i >= 0 {
			line, rest = rest[:i], rest[i+1:]
		} else {
			line, rest = rest, nil
		}
		line = bytes.TrimSuffix(line, []byte{'\r'})

		if first {
			r.parseRequestLine(string(line))
			first = false
			continue
		}
		if len(line) == 0 {
			// Everything after the blank line is the body, newlines included.
			r.body = append(r.body, rest...)
			break
		}
		r.parseHeaderLine(string(line))
	}

	r.complete = r.method != MethodUnknown && r.version != VersionUnknown
	return r.complete
}

func (r *Request) parseRequestLine(line string) {
	fields := strings.Fields(line)
	if len(fields) > 0 {
		r.method = ParseMethod(fields[0])
	}
	if len(fields) > 1 {
		r.uri = fields[1]
		r.parseURI(r.uri)
	}
	if len(fields) > 2 {
		r.version = ParseVersion(fields[2])
	}
}

func (r *Request) parseHeaderLine(line string) {
	name, value, ok := strings.Cut(line, ":")
	if !ok {
		return
	}
	name = strings.Trim(name, " \t")
	value = strings.Trim(value, " \t\r")
	r.headers[strings.ToLower(name)] = value
}

func (r *Request) parseURI(uri string) {
	if path, query, ok := strings.Cut(uri, "?"); ok {
		r.path, r.query = path, query
	} else {
		r.path, r.query = uri, ""
	}
}

// Reset clears the request so it can be parsed again.
func (r *Request) Reset() {
	r.method = MethodUnknown
	r.uri = ""
	r.path = ""
	r.query = ""
	r.version = VersionUnknown
	if r.headers == nil {
		r.headers = make(map[string]string)
	} else {
		clear(r.headers)
	}
	r.body = r.body[:0]
	r.complete = false
	r.id = ""
	r.remoteAddr = ""
}

// IsComplete reports whether method and version are known and, when a
// Content-Length is declared, the whole body is present.
func (r *Request) IsComplete() bool {
	if !r.complete {
		return false
	}
	v, ok := r.Header("content-length")
	if !ok {
		return true
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return false
	}
	return uint64(len(r.body)) >= n
}

func (r *Request) Method() Method   { return r.method }
func (r *Request) URI() string      { return r.uri }
func (r *Request) Path() string     { return r.path }
func (r *Request) Query() string    { return r.query }
func (r *Request) Version() Version { return r.version }
func (r *Request) Body() []byte     { return r.body }

// ID is the request id assigned by the connection that read the request.
func (r *Request) ID() string { return r.id }

// RemoteAddr is the peer address of the connection that read the request.
func (r *Request) RemoteAddr() string { return r.remoteAddr }

// Header looks name up case-insensitively.
func (r *Request) Header(name string) (string, bool) {
	v, ok := r.headers[strings.ToLower(name)]
	return v, ok
}

func (r *Request) HasHeader(name string) bool {
	_, ok := r.headers[strings.ToLower(name)]
	return ok
}

// Headers returns a copy of the header map, keyed by lowercase name.
func (r *Request) Headers() map[string]string {
	h := make(map[string]string, len(r.headers))
	for k, v := range r.headers {
		h[k] = v
	}
	return h
}

// ContentLength returns the declared body length, or 0 if the header is
// missing or not a number.
func (r *Request) ContentLength() uint64 {
	v, ok := r.Header("content-length")
	if !ok {
		return 0
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// QueryParams splits the raw query on '&' and '='. Values are returned as
// sent; use URLDecode or ParseQueryString for decoded values.
func (r *Request) QueryParams() map[string]string {
	params := make(map[string]string)
	if r.query == "" {
		return params
	}
	for _, pair := range strings.Split(r.query, "&") {
		if k, v, ok := strings.Cut(pair, "="); ok {
			params[k] = v
		} else {
			params[pair] = ""
		}
	}
	return params
}

func (r *Request) QueryParam(name string) (string, bool) {
	v, ok := r.QueryParams()[name]
	return v, ok
}

// Cookies parses the Cookie header.
func (r *Request) Cookies() map[string]string {
	v, _ := r.Header("cookie")
	return ParseCookies(v)
}

// String re-serializes the request in wire form. Headers are written in
// name order.
func (r *Request) String() string {
	var b strings.Builder
	b.WriteString(r.method.String())
	b.WriteByte(' ')
	b.WriteString(r.uri)
	b.WriteByte(' ')
	b.WriteString(r.version.String())
	b.WriteString("\r\n")

	names := make([]string, 0, len(r.headers))
	for k := range r.headers {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(r.headers[k])
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	b.Write(r.body)
	return b.String()
}
