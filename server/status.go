package server

import "strconv"

// StatusCode is an HTTP status code the server knows a reason phrase for.
type StatusCode int

const (
	// 1xx
	StatusContinue           StatusCode = 100
	StatusSwitchingProtocols StatusCode = 101

	// 2xx
	StatusOK             StatusCode = 200
	StatusCreated        StatusCode = 201
	StatusAccepted       StatusCode = 202
	StatusNoContent      StatusCode = 204
	StatusResetContent   StatusCode = 205
	StatusPartialContent StatusCode = 206

	// 3xx
	StatusMultipleChoices   StatusCode = 300
	StatusMovedPermanently  StatusCode = 301
	StatusFound             StatusCode = 302
	StatusSeeOther          StatusCode = 303
	StatusNotModified       StatusCode = 304
	StatusTemporaryRedirect StatusCode = 307
	StatusPermanentRedirect StatusCode = 308

	// 4xx
	StatusBadRequest           StatusCode = 400
	StatusUnauthorized         StatusCode = 401
	StatusPaymentRequired      StatusCode = 402
	StatusForbidden            StatusCode = 403
	StatusNotFound             StatusCode = 404
	StatusMethodNotAllowed     StatusCode = 405
	StatusNotAcceptable        StatusCode = 406
	StatusRequestTimeout       StatusCode = 408
	StatusConflict             StatusCode = 409
	StatusGone                 StatusCode = 410
	StatusLengthRequired       StatusCode = 411
	StatusPayloadTooLarge      StatusCode = 413
	StatusURITooLong           StatusCode = 414
	StatusUnsupportedMediaType StatusCode = 415
	StatusRangeNotSatisfiable  StatusCode = 416
	StatusExpectationFailed    StatusCode = 417
	StatusTeapot               StatusCode = 418
	StatusUnprocessableEntity  StatusCode = 422
	StatusTooManyRequests      StatusCode = 429

	// 5xx
	StatusInternalServerError     StatusCode = 500
	StatusNotImplemented          StatusCode = 501
	StatusBadGateway              StatusCode = 502
	StatusServiceUnavailable      StatusCode = 503
	StatusGatewayTimeout          StatusCode = 504
	StatusHTTPVersionNotSupported StatusCode = 505
)

var reasonPhrases = map[StatusCode]string{
	StatusContinue:           "Continue",
	StatusSwitchingProtocols: "Switching Protocols",

	StatusOK:             "OK",
	StatusCreated:        "Created",
	StatusAccepted:       "Accepted",
	StatusNoContent:      "No Content",
	StatusResetContent:   "Reset Content",
	StatusPartialContent: "Partial Content",

	StatusMultipleChoices:   "Multiple Choices",
	StatusMovedPermanently:  "Moved Permanently",
	StatusFound:             "Found",
	StatusSeeOther:          "See Other",
	StatusNotModified:       "Not Modified",
	StatusTemporaryRedirect: "Temporary Redirect",
	StatusPermanentRedirect: "Permanent Redirect",

	StatusBadRequest:           "Bad Request",
	StatusUnauthorized:         "Unauthorized",
	StatusPaymentRequired:      "Payment Required",
	StatusForbidden:            "Forbidden",
	StatusNotFound:             "Not Found",
	StatusMethodNotAllowed:     "Method Not Allowed",
	StatusNotAcceptable:        "Not Acceptable",
	StatusRequestTimeout:       "Request Timeout",
	StatusConflict:             "Conflict",
	StatusGone:                 "Gone",
	StatusLengthRequired:       "Length Required",
	StatusPayloadTooLarge:      "Payload Too Large",
	StatusURITooLong:           "URI Too Long",
	StatusUnsupportedMediaType: "Unsupported Media Type",
	StatusRangeNotSatisfiable:  "Range Not Satisfiable",
	StatusExpectationFailed:    "Expectation Failed",
	StatusTeapot:               "I'm a teapot",
	StatusUnprocessableEntity:  "Unprocessable Entity",
	StatusTooManyRequests:      "Too Many Requests",

	StatusInternalServerError:     "Internal Server Error",
	StatusNotImplemented:          "Not Implemented",
	StatusBadGateway:              "Bad Gateway",
	StatusServiceUnavailable:      "Service Unavailable",
	StatusGatewayTimeout:          "Gateway Timeout",
	StatusHTTPVersionNotSupported: "HTTP Version Not Supported",
}

// Reason returns the reason phrase for c, or "Unknown" when c has none.
func (c StatusCode) Reason() string {
	if r, ok := reasonPhrases[c]; ok {
		return r
	}
	return "Unknown"
}

func (c StatusCode) String() string {
	return strconv.Itoa(int(c)) + " " + c.Reason()
}
