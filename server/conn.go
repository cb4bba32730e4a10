package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type connState int

const (
	stateReadingHeader connState = iota
	stateReadingBody
	stateDispatching
	stateWriting
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateReadingHeader:
		return "reading_header"
	case stateReadingBody:
		return "reading_body"
	case stateDispatching:
		return "dispatching"
	case stateWriting:
		return "writing"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

var headerEnd = []byte("\r\n\r\n")

const (
	readChunk = 4 << 10

	// Upper bounds on draining a rejected body before the socket is closed.
	maxDiscardBytes = 256 << 10
	discardWait     = time.Second
)

// conn serves exactly one request on one accepted socket and closes it.
// Everything here is owned by the goroutine running serve.
type conn struct {
	srv   *Server
	rwc   net.Conn
	buf   []byte // receive buffer; reads append, parsing consumes a prefix
	req   Request
	state connState
	log   zerolog.Logger
}

func newConn(srv *Server, rwc net.Conn) *conn {
	c := &conn{
		srv: srv,
		rwc: rwc,
		buf: make([]byte, 0, readChunk),
	}
	c.log = srv.log.With().
		Str("component", "conn").
		Str("remote_addr", rwc.RemoteAddr().String()).
		Logger()
	return c
}

func (c *conn) setState(s connState) {
	c.state = s
	c.log.Debug().Str("state", s.String()).Msg("conn state")
}

func (c *conn) serve() {
	defer c.close()

	c.setState(stateReadingHeader)
	header, err := c.readHeader()
	if err != nil {
		if errors.Is(err, ErrHeaderTooLarge) {
			c.log.Warn().Err(err).Msg("rejecting request")
			c.write(BadRequest("Bad Request"), false)
			return
		}
		c.log.Debug().Err(err).Msg("read header")
		return
	}
	c.req.Parse(header)
	rest := c.buf[len(header)+len(headerEnd):]

	if n := c.req.ContentLength(); n > 0 {
		if limit := c.srv.bodyLimit(); n > uint64(limit) {
			c.log.Warn().Err(fmt.Errorf("%w: %d > %d", ErrBodyTooLarge, n, limit)).Msg("rejecting request")
			c.write(NewResponse(StatusPayloadTooLarge, "Payload Too Large"), false)
			c.closeWrite()
			if buffered := uint64(len(rest)); n > buffered {
				c.discard(n - buffered)
			}
			return
		}
		body, err := c.readBody(rest, n)
		if err != nil {
			c.log.Debug().Err(err).Msg("read body")
			return
		}
		raw := make([]byte, 0, len(header)+len(headerEnd)+len(body))
		raw = append(raw, header...)
		raw = append(raw, headerEnd...)
		raw = append(raw, body...)
		c.req.Parse(raw)
	}

	c.req.id = requestID(&c.req)
	c.req.remoteAddr = c.rwc.RemoteAddr().String()
	c.log = c.log.With().Str("request_id", c.req.id).Logger()

	c.setState(stateDispatching)
	resp := c.dispatch()

	c.write(resp, c.req.Method() == MethodHEAD)
}

// readHeader fills the buffer until the blank line that ends the header and
// returns everything before it.
func (c *conn) readHeader() ([]byte, error) {
	scanned := 0
	for {
		// Re-scan the last 3 bytes in case the sentinel straddles two reads.
		from := max(scanned-len(headerEnd)+1, 0)
		if i := bytes.Index(c.buf[from:], headerEnd); i >= 0 {
			return c.buf[:from+i], nil
		}
		scanned = len(c.buf)

		if limit := c.srv.headerLimit(); len(c.buf) >= limit {
			return nil, fmt.Errorf("%w: %d bytes without end of header", ErrHeaderTooLarge, len(c.buf))
		}
		if err := c.fill(); err != nil {
			return nil, err
		}
	}
}

// readBody returns exactly n body bytes, reading whatever rest does not
// already hold. Bytes past n are discarded; there is no pipelining.
func (c *conn) readBody(rest []byte, n uint64) ([]byte, error) {
	if uint64(len(rest)) >= n {
		return rest[:n], nil
	}

	c.setState(stateReadingBody)
	body := make([]byte, n)
	copied := copy(body, rest)
	c.setReadDeadline()
	if _, err := io.ReadFull(c.rwc, body[copied:]); err != nil {
		return nil, err
	}
	return body, nil
}

// fill appends one read's worth of data to the buffer.
func (c *conn) fill() error {
	if cap(c.buf)-len(c.buf) < readChunk/4 {
		grown := make([]byte, len(c.buf), 2*cap(c.buf)+readChunk)
		copy(grown, c.buf)
		c.buf = grown
	}
	c.setReadDeadline()
	n, err := c.rwc.Read(c.buf[len(c.buf):cap(c.buf)])
	c.buf = c.buf[:len(c.buf)+n]
	if err != nil {
		if n > 0 && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

// discard reads and drops up to n bytes of a body the client is still
// sending, so closing the socket does not reset the connection before the
// client has read the response.
func (c *conn) discard(n uint64) {
	n = min(n, maxDiscardBytes)
	wait := discardWait
	if d := c.srv.cfg.ReadTimeout; d > 0 && d < wait {
		wait = d
	}
	_ = c.rwc.SetReadDeadline(time.Now().Add(wait))
	if copied, err := io.CopyN(io.Discard, c.rwc, int64(n)); err != nil {
		c.log.Debug().Err(err).Int64("discarded", copied).Msg("drain rejected body")
	}
}

func (c *conn) setReadDeadline() {
	if d := c.srv.cfg.ReadTimeout; d > 0 {
		_ = c.rwc.SetReadDeadline(time.Now().Add(d))
	}
}

func (c *conn) dispatch() *Response {
	req := &c.req
	start := time.Now()

	switch {
	case !req.IsComplete():
		c.log.Debug().Str("uri", req.URI()).Msg("incomplete request")
		return BadRequest("Bad Request")
	case !req.Version().Supported():
		return NewResponse(StatusHTTPVersionNotSupported, "HTTP Version Not Supported")
	}

	route := c.srv.Router.Label(req)
	c.srv.metrics.StartRequest(route)
	resp := c.srv.Router.HandleRequest(req)
	c.srv.metrics.EndRequest(route, time.Since(start), resp.StatusCode())
	return resp
}

func (c *conn) write(resp *Response, headOnly bool) {
	c.setState(stateWriting)

	data := resp.Bytes()
	if headOnly {
		data = resp.HeaderBytes()
	}
	if d := c.srv.cfg.WriteTimeout; d > 0 {
		_ = c.rwc.SetWriteDeadline(time.Now().Add(d))
	}
	if _, err := c.rwc.Write(data); err != nil {
		c.log.Error().Err(err).Msg("write response")
	}
}

// close shuts the socket down in both directions and releases it.
func (c *conn) close() {
	c.closeWrite()
	_ = c.rwc.Close()
	c.setState(stateClosed)
	c.srv.untrack(c)
}

func (c *conn) closeWrite() {
	if tc, ok := c.rwc.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}
}

// requestID keeps a client supplied X-Request-Id, or makes a new one.
func requestID(req *Request) string {
	if id, ok := req.Header("x-request-id"); ok && id != "" && len(id) <= 128 {
		return id
	}
	return uuid.New().String()
}
