// Package router provides the URL trie the HTTP surface dispatches through.
// Patterns are slash-separated; a segment beginning with ':' captures the
// matching path segment into the parameter map under that name.
package router

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// Params holds the values captured by ':name' pattern segments.
type Params map[string]string

// Handler is invoked for a routed request with the captured parameters.
type Handler func(w http.ResponseWriter, r *http.Request, params Params)

type node struct {
	key      string // literal segment, or ":name" for a wildcard
	wildcard bool
	handler  Handler
	children []*node
}

// Router matches request paths against registered patterns. It is built once
// at startup and is read-only afterwards, so lookups take no locks.
type Router struct {
	root   *node
	logger zerolog.Logger
}

// New returns an empty Router.
func New(logger zerolog.Logger) *Router {
	return &Router{
		root:   &node{},
		logger: logger.With().Str("component", "router").Logger(),
	}
}

// Handle registers h for pattern. The pattern must begin with '/'. At most
// one wildcard child may exist per tree level; registering a second wildcard
// with a differing name reuses the existing node and logs a warning, since
// that is a configuration error.
func (r *Router) Handle(pattern string, h Handler) {
	if pattern == "" || pattern[0] != '/' || h == nil {
		r.logger.Warn().Str("pattern", pattern).Msg("ignoring invalid route registration")
		return
	}

	cur := r.root
	segs := strings.Split(pattern[1:], "/")
	for i, seg := range segs {
		wildcard := strings.HasPrefix(seg, ":")

		var next *node
		for _, c := range cur.children {
			if c.key == seg {
				next = c
				break
			}
			if wildcard && c.wildcard {
				r.logger.Warn().
					Str("pattern", pattern).
					Str("existing", c.key).
					Str("requested", seg).
					Msg("wildcard params at the same depth must share a name")
				next = c
				break
			}
		}
		if next == nil {
			next = &node{key: seg, wildcard: wildcard}
			cur.children = append(cur.children, next)
		}
		if i == len(segs)-1 && next.handler == nil {
			next.handler = h
		}
		cur = next
	}
}

// Route matches the request path and invokes the registered handler.
// A single trailing slash is tolerated. Returns false when no handler
// matched; the caller is expected to reply 404.
func (r *Router) Route(w http.ResponseWriter, req *http.Request) bool {
	path := req.URL.Path
	if path == "" || path[0] != '/' {
		return false
	}

	path = path[1:]
	if n := len(path); n > 0 && path[n-1] == '/' {
		path = path[:n-1]
	}

	cur := r.root
	var params Params
	if path != "" {
		for _, seg := range strings.Split(path, "/") {
			var literal, wildcard *node
			for _, c := range cur.children {
				if c.wildcard {
					wildcard = c
				} else if c.key == seg {
					literal = c
					break
				}
			}
			switch {
			case literal != nil:
				cur = literal
			case wildcard != nil && seg != "":
				if params == nil {
					params = make(Params, 2)
				}
				params[wildcard.key[1:]] = seg
				cur = wildcard
			default:
				return false
			}
		}
	}

	if cur.handler == nil {
		return false
	}
	cur.handler(w, req, params)
	return true
}
