package server

import (
	"bytes"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultServerHeader is the Server header value every response starts with.
const DefaultServerHeader = "HTTP-Lib/1.0"

// Response is a mutable response builder. Setters return the receiver so
// calls can be chained:
//
//	server.NewResponse(server.StatusCreated, "").Body("x").ContentType("text/plain")
type Response struct {
	status  StatusCode
	headers map[string]string
	body    []byte
}

// NewResponse returns a response with the default Server, Date and
// Connection headers set.
func NewResponse(code StatusCode, body string) *Response {
	r := &Response{
		status:  code,
		headers: make(map[string]string, 4),
		body:    []byte(body),
	}
	r.setDefaultHeaders()
	return r
}

func (r *Response) setDefaultHeaders() {
	r.headers["Server"] = DefaultServerHeader
	r.headers["Date"] = FormatHTTPDate(time.Now())
	r.headers["Connection"] = "close"
}

func (r *Response) Status(code StatusCode) *Response {
	r.status = code
	return r
}

func (r *Response) Body(body string) *Response {
	r.body = []byte(body)
	return r
}

// Data sets the body from raw bytes without copying.
func (r *Response) Data(body []byte) *Response {
	r.body = body
	return r
}

// Header sets a header, replacing any value stored under the same name.
func (r *Response) Header(name, value string) *Response {
	r.headers[name] = value
	return r
}

func (r *Response) ContentType(contentType string) *Response {
	return r.Header("Content-Type", contentType)
}

// Cookie sets a Set-Cookie header. A negative maxAge omits Max-Age and an
// empty path means "/".
func (r *Response) Cookie(name, value, path string, maxAge int) *Response {
	if path == "" {
		path = "/"
	}
	c := name + "=" + value + "; Path=" + path
	if maxAge >= 0 {
		c += "; Max-Age=" + strconv.Itoa(maxAge)
	}
	return r.Header("Set-Cookie", c)
}

// merge takes status and body from o and copies its headers over r's,
// keeping any header o does not set.
func (r *Response) merge(o *Response) {
	r.status = o.status
	r.body = o.body
	for k, v := range o.headers {
		r.headers[k] = v
	}
}

func (r *Response) StatusCode() StatusCode { return r.status }

// HeaderValue returns the value stored under exactly name, or "".
func (r *Response) HeaderValue(name string) string { return r.headers[name] }

func (r *Response) BodyBytes() []byte { return r.body }

// HeaderBytes serializes the status line and headers, terminated by the
// blank line. Content-Length always reflects the current body.
func (r *Response) HeaderBytes() []byte {
	var b bytes.Buffer
	r.writeHead(&b)
	return b.Bytes()
}

// Bytes serializes the full response.
func (r *Response) Bytes() []byte {
	var b bytes.Buffer
	b.Grow(256 + len(r.body))
	r.writeHead(&b)
	b.Write(r.body)
	return b.Bytes()
}

func (r *Response) String() string {
	return string(r.Bytes())
}

// WriteTo writes the serialized response to w.
func (r *Response) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(r.Bytes())
	return int64(n), err
}

func (r *Response) writeHead(b *bytes.Buffer) {
	b.WriteString("HTTP/1.1 ")
	b.WriteString(strconv.Itoa(int(r.status)))
	b.WriteByte(' ')
	b.WriteString(r.status.Reason())
	b.WriteString("\r\n")

	names := make([]string, 0, len(r.headers)+1)
	for k := range r.headers {
		if strings.EqualFold(k, "Content-Length") {
			continue
		}
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		writeHeaderLine(b, k, r.headers[k])
	}
	writeHeaderLine(b, "Content-Length", strconv.Itoa(len(r.body)))
	b.WriteString("\r\n")
}

func writeHeaderLine(b *bytes.Buffer, name, value string) {
	b.WriteString(sanitizeHeader(name))
	b.WriteString(": ")
	b.WriteString(sanitizeHeader(value))
	b.WriteString("\r\n")
}

// sanitizeHeader drops CR, LF and other control bytes except HTAB.
func sanitizeHeader(v string) string {
	clean := true
	for i := 0; i < len(v); i++ {
		if c := v[i]; (c < 0x20 && c != '\t') || c == 0x7f {
			clean = false
			break
		}
	}
	if clean {
		return v
	}
	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		c := v[i]
		if (c < 0x20 && c != '\t') || c == 0x7f {
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Common responses.

func OK(body string) *Response      { return NewResponse(StatusOK, body) }
func Created(body string) *Response { return NewResponse(StatusCreated, body) }
func NoContent() *Response          { return NewResponse(StatusNoContent, "") }

func BadRequest(message string) *Response   { return NewResponse(StatusBadRequest, message) }
func Unauthorized(message string) *Response { return NewResponse(StatusUnauthorized, message) }
func Forbidden(message string) *Response    { return NewResponse(StatusForbidden, message) }
func NotFound(message string) *Response     { return NewResponse(StatusNotFound, message) }

func MethodNotAllowed(message string) *Response {
	return NewResponse(StatusMethodNotAllowed, message)
}

func InternalError(message string) *Response {
	return NewResponse(StatusInternalServerError, message)
}

func NotImplemented(message string) *Response {
	return NewResponse(StatusNotImplemented, message)
}

func ServiceUnavailable(message string) *Response {
	return NewResponse(StatusServiceUnavailable, message)
}

// Content type helpers.

func JSON(body string, status StatusCode) *Response {
	return NewResponse(status, body).ContentType("application/json")
}

func HTML(body string, status StatusCode) *Response {
	return NewResponse(status, body).ContentType("text/html; charset=utf-8")
}

func Text(body string, status StatusCode) *Response {
	return NewResponse(status, body).ContentType("text/plain; charset=utf-8")
}

func Redirect(location string, status StatusCode) *Response {
	return NewResponse(status, "").Header("Location", location)
}
