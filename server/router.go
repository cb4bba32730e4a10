package server

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/rs/zerolog"
)

// Handler answers a request. A returned error becomes a 500 response; the
// error itself is logged and never sent to the client.
type Handler interface {
	Handle(req *Request) (*Response, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(req *Request) (*Response, error)

func (f HandlerFunc) Handle(req *Request) (*Response, error) {
	return f(req)
}

// Middleware runs before route and static matching, in registration order.
// It may change resp before or after calling next; returning without
// calling next answers the request with resp as it stands.
type Middleware func(req *Request, resp *Response, next func())

type route struct {
	method  Method
	path    string
	handler Handler
}

var errNilResponse = errors.New("handler returned no response")

// Router holds the route table, middleware chain and static mounts.
//
// None of these are guarded: register everything before the server starts
// accepting connections. Registering while requests are in flight is a
// data race.
type Router struct {
	routes      []route
	middlewares []Middleware
	mounts      []StaticMount
	cache       *FileCache

	log zerolog.Logger
}

func NewRouter(log zerolog.Logger) *Router {
	return &Router{
		log: log.With().Str("component", "router").Logger(),
	}
}

// Route appends a route. Duplicates are kept; the first one registered wins.
func (rt *Router) Route(method Method, path string, h Handler) *Router {
	rt.routes = append(rt.routes, route{method: method, path: path, handler: h})
	return rt
}

func (rt *Router) Get(path string, h HandlerFunc) *Router {
	return rt.Route(MethodGET, path, h)
}

func (rt *Router) Post(path string, h HandlerFunc) *Router {
	return rt.Route(MethodPOST, path, h)
}

func (rt *Router) Put(path string, h HandlerFunc) *Router {
	return rt.Route(MethodPUT, path, h)
}

func (rt *Router) Delete(path string, h HandlerFunc) *Router {
	return rt.Route(MethodDELETE, path, h)
}

func (rt *Router) Use(mw Middleware) *Router {
	rt.middlewares = append(rt.middlewares, mw)
	return rt
}

// ServeStatic mounts dir under prefix. Mounting the same prefix again
// replaces the directory in place.
func (rt *Router) ServeStatic(prefix, dir string) *Router {
	for i := range rt.mounts {
		if rt.mounts[i].Prefix == prefix {
			rt.mounts[i].Dir = dir
			return rt
		}
	}
	rt.mounts = append(rt.mounts, StaticMount{Prefix: prefix, Dir: dir})
	return rt
}

// Mounts returns a copy of the static mount table.
func (rt *Router) Mounts() []StaticMount {
	return append([]StaticMount(nil), rt.mounts...)
}

// EnableFileCache serves static files through c. Watching the mount
// directories is up to the caller (see FileCache.Watch).
func (rt *Router) EnableFileCache(c *FileCache) {
	rt.cache = c
}

// HandleRequest runs the middleware chain and then dispatches to the first
// matching route, then the static mounts, then 404.
func (rt *Router) HandleRequest(req *Request) *Response {
	resp := NewResponse(StatusOK, "")

	var step func(i int)
	step = func(i int) {
		if i == len(rt.middlewares) {
			resp.merge(rt.dispatch(req))
			return
		}
		called := false
		rt.runMiddleware(req, rt.middlewares[i], resp, func() {
			if called {
				return
			}
			called = true
			step(i + 1)
		})
	}
	step(0)

	return resp
}

// Label names what req would be dispatched to, for metrics: the route path,
// the static mount prefix, or "(unmatched)".
func (rt *Router) Label(req *Request) string {
	for _, r := range rt.routes {
		if r.method == req.Method() && r.path == req.Path() {
			return r.path
		}
	}
	for _, m := range rt.mounts {
		if strings.HasPrefix(req.Path(), m.Prefix) {
			return m.Prefix
		}
	}
	return "(unmatched)"
}

func (rt *Router) runMiddleware(req *Request, mw Middleware, resp *Response, next func()) {
	defer func() {
		if p := recover(); p != nil {
			rt.log.Error().
				Str("request_id", req.ID()).
				Interface("panic", p).
				Bytes("stack", debug.Stack()).
				Msg("middleware panic")
			*resp = *InternalError("Internal Server Error")
		}
	}()
	mw(req, resp, next)
}

func (rt *Router) dispatch(req *Request) *Response {
	for _, r := range rt.routes {
		if r.method == req.Method() && r.path == req.Path() {
			return rt.invoke(r.handler, req)
		}
	}

	if resp, res := rt.serveStatic(req); res == staticServed || res == staticForbidden {
		return resp
	}
	return NotFound("Not Found")
}

// invoke calls h, turning errors and panics into a generic 500.
func (rt *Router) invoke(h Handler, req *Request) (resp *Response) {
	defer func() {
		if p := recover(); p != nil {
			rt.log.Error().
				Str("request_id", req.ID()).
				Str("method", req.Method().String()).
				Str("path", req.Path()).
				Interface("panic", p).
				Bytes("stack", debug.Stack()).
				Msg("handler panic")
			resp = InternalError("Internal Server Error")
		}
	}()

	resp, err := h.Handle(req)
	if err == nil && resp == nil {
		err = errNilResponse
	}
	if err != nil {
		rt.log.Error().
			Err(fmt.Errorf("%s %s: %w", req.Method(), req.Path(), err)).
			Str("request_id", req.ID()).
			Msg("handler failed")
		return InternalError("Internal Server Error")
	}
	return resp
}
