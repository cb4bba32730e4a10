package server

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// RequestID copies the request id onto the response as X-Request-Id.
func RequestID() Middleware {
	return func(req *Request, resp *Response, next func()) {
		next()
		if id := req.ID(); id != "" {
			resp.Header("X-Request-Id", id)
		}
	}
}

// AccessLog writes one event per request once the response is built.
func AccessLog(log zerolog.Logger) Middleware {
	log = log.With().Str("component", "access").Logger()
	return func(req *Request, resp *Response, next func()) {
		start := time.Now()
		next()

		ua, _ := req.Header("user-agent")
		ev := log.Info()
		if resp.StatusCode() >= StatusInternalServerError {
			ev = log.Warn()
		}
		ev.Str("request_id", req.ID()).
			Str("method", req.Method().String()).
			Str("path", req.Path()).
			Int("status", int(resp.StatusCode())).
			Float64("duration_ms", float64(time.Since(start).Microseconds())/1000).
			Str("remote_addr", req.RemoteAddr()).
			Str("user_agent", ua).
			Msg("request")
	}
}

// Claims is the token payload accepted by BearerAuth.
type Claims struct {
	UserID string `json:"sub"`
	jwt.RegisteredClaims
}

var errUnauthenticated = errors.New("unauthenticated")

// BearerAuth guards every path under the given prefixes with an HS256 JWT
// carried as "Authorization: Bearer <token>". Requests without a valid
// token carrying a subject get 401 and never reach routing.
func BearerAuth(secret []byte, prefixes ...string) Middleware {
	return func(req *Request, resp *Response, next func()) {
		if !underAny(req.Path(), prefixes) {
			next()
			return
		}
		if _, err := authenticate(req, secret); err != nil {
			resp.Status(StatusUnauthorized).
				Body("unauthorized").
				ContentType("text/plain; charset=utf-8").
				Header("WWW-Authenticate", `Bearer realm="httpd"`)
			return
		}
		next()
	}
}

// authenticate returns the token subject.
func authenticate(req *Request, secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", errUnauthenticated
	}
	auth, _ := req.Header("authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", errUnauthenticated
	}

	tokenStr := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil || !token.Valid || claims.UserID == "" {
		return "", errUnauthenticated
	}
	return claims.UserID, nil
}

func underAny(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
