package server

import (
	"errors"
	"path"
	"strings"
	"time"
)

const hexDigits = "0123456789abcdef"

// URLEncode percent-encodes every byte outside the RFC 3986 unreserved set.
func URLEncode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-', c == '_', c == '.', c == '~':
		return true
	}
	return false
}

// URLDecode reverses URLEncode and also maps '+' to a space.
// Malformed escapes are copied through unchanged.
func URLDecode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '%' && i+2 < len(s):
			hi, ok1 := unhex(s[i+1])
			lo, ok2 := unhex(s[i+2])
			if !ok1 || !ok2 {
				b.WriteByte(c)
				continue
			}
			b.WriteByte(hi<<4 | lo)
			i += 2
		case c == '+':
			b.WriteByte(' ')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// DefaultMimeType is returned by MimeType for unknown or missing extensions.
const DefaultMimeType = "application/octet-stream"

var mimeTypes = map[string]string{
	// text
	"txt":  "text/plain",
	"html": "text/html",
	"htm":  "text/html",
	"css":  "text/css",
	"js":   "application/javascript",
	"json": "application/json",
	"xml":  "application/xml",
	"csv":  "text/csv",

	// images
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"svg":  "image/svg+xml",
	"webp": "image/webp",
	"ico":  "image/x-icon",

	// audio/video
	"mp3":  "audio/mpeg",
	"wav":  "audio/wav",
	"mp4":  "video/mp4",
	"webm": "video/webm",
	"ogg":  "audio/ogg",

	// documents
	"pdf":  "application/pdf",
	"doc":  "application/msword",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"xls":  "application/vnd.ms-excel",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",

	// archives
	"zip": "application/zip",
	"tar": "application/x-tar",
	"gz":  "application/gzip",
	"rar": "application/x-rar-compressed",

	// fonts
	"ttf":   "font/ttf",
	"woff":  "font/woff",
	"woff2": "font/woff2",
}

// MimeType maps a file name to a content type by its extension.
func MimeType(filename string) string {
	ext := path.Ext(filename)
	if ext == "" {
		return DefaultMimeType
	}
	if t, ok := mimeTypes[strings.ToLower(ext[1:])]; ok {
		return t
	}
	return DefaultMimeType
}

// HTTP-date layouts, preferred format first.
const (
	httpDateRFC1123 = "Mon, 02 Jan 2006 15:04:05 GMT"
	httpDateRFC850  = "Monday, 02-Jan-06 15:04:05 GMT"
	httpDateANSIC   = "Mon Jan _2 15:04:05 2006"
)

var errBadHTTPDate = errors.New("server: unrecognized HTTP date")

// FormatHTTPDate formats t in the RFC 1123 form used by Date headers.
func FormatHTTPDate(t time.Time) string {
	return t.UTC().Format(httpDateRFC1123)
}

// ParseHTTPDate accepts the three date formats allowed by RFC 9110.
func ParseHTTPDate(s string) (time.Time, error) {
	for _, layout := range []string{httpDateRFC1123, httpDateRFC850, httpDateANSIC} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errBadHTTPDate
}

// ParseQueryString splits a raw query into decoded key/value pairs.
// Later duplicates overwrite earlier ones.
func ParseQueryString(query string) map[string]string {
	params := make(map[string]string)
	if query == "" {
		return params
	}
	for _, pair := range strings.Split(query, "&") {
		if pair == "" {
			continue
		}
		if k, v, ok := strings.Cut(pair, "="); ok {
			params[URLDecode(k)] = URLDecode(v)
		} else {
			params[URLDecode(pair)] = ""
		}
	}
	return params
}

// ParseCookies parses a Cookie header value. Entries without '=' are skipped.
func ParseCookies(header string) map[string]string {
	cookies := make(map[string]string)
	if header == "" {
		return cookies
	}
	for _, c := range strings.Split(header, ";") {
		c = strings.Trim(c, " \t")
		if name, value, ok := strings.Cut(c, "="); ok {
			cookies[name] = value
		}
	}
	return cookies
}

func IsJSONContentType(contentType string) bool {
	return strings.Contains(contentType, "application/json")
}

func IsFormContentType(contentType string) bool {
	return strings.Contains(contentType, "application/x-www-form-urlencoded")
}

func IsMultipartContentType(contentType string) bool {
	return strings.Contains(contentType, "multipart/form-data")
}
