package server

import (
	"os"
	"path/filepath"
	"strings"
)

// StaticMount maps a URL prefix to a directory.
type StaticMount struct {
	Prefix string `json:"prefix"`
	Dir    string `json:"dir"`
}

type staticResult int

const (
	staticNoMatch staticResult = iota
	staticServed
	staticForbidden
	staticNotFound
)

// serveStatic looks the request path up in the mount table. Mounts are
// tried in registration order and the first matching prefix decides.
func (rt *Router) serveStatic(req *Request) (*Response, staticResult) {
	path := req.Path()

	for _, m := range rt.mounts {
		if !strings.HasPrefix(path, m.Prefix) {
			continue
		}

		rel := path[len(m.Prefix):]
		if !strings.HasPrefix(rel, "/") {
			rel = "/" + rel
		}

		full, ok := resolveInside(m.Dir, rel)
		if !ok {
			rt.log.Warn().
				Str("request_id", req.ID()).
				Str("path", path).
				Str("mount", m.Prefix).
				Msg("static path escapes mount")
			return Forbidden("Forbidden"), staticForbidden
		}
		if full == "" {
			return nil, staticNotFound
		}

		data, err := rt.readFile(full)
		if err != nil {
			rt.log.Debug().Err(err).Str("file", full).Msg("static read failed")
			return nil, staticNotFound
		}
		return OK("").Data(data).ContentType(MimeType(full)), staticServed
	}

	return nil, staticNoMatch
}

func (rt *Router) readFile(path string) ([]byte, error) {
	if rt.cache != nil {
		return rt.cache.Get(path)
	}
	return os.ReadFile(path)
}

// resolveInside joins rel onto dir and canonicalizes the result. ok is
// false when the path leaves dir, either lexically or through a symlink.
// An empty path with ok true means there is no regular file there.
func resolveInside(dir, rel string) (full string, ok bool) {
	base, err := filepath.Abs(dir)
	if err != nil {
		return "", false
	}
	// Join cleans, so "/../.." segments are resolved here.
	candidate := filepath.Join(base, filepath.FromSlash(rel))
	if !within(base, candidate) {
		return "", false
	}

	realBase, err := filepath.EvalSymlinks(base)
	if err != nil {
		return "", true
	}
	real, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		return "", true
	}
	if !within(realBase, real) {
		return "", false
	}

	info, err := os.Stat(real)
	if err != nil || !info.Mode().IsRegular() {
		return "", true
	}
	return real, true
}

// within compares by path components, so /srv/public2 is not inside
// /srv/public.
func within(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// canonicalDir returns dir with symlinks resolved, or its absolute form if
// it cannot be resolved.
func canonicalDir(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return dir
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real
	}
	return abs
}
