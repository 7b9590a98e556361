package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/panjf2000/gnet/v2"
	"github.com/panjf2000/gnet/v2/pkg/pool/goroutine"
	"github.com/rs/zerolog"
)

// Handler builds the full response for one request.
type Handler func(ctx context.Context, req Request) []byte

// Server is a minimal HTTP/1.1 server on top of gnet. Parsing happens on the
// event loop, handlers run on a goroutine pool so that a slow store never
// stalls other connections.
type Server struct {
	gnet.BuiltinEventEngine

	name   string
	routes map[string]map[string]Handler
	pool   *goroutine.Pool
	logger *zerolog.Logger

	ctx    context.Context
	mu     sync.Mutex
	engine gnet.Engine
	booted bool
}

func NewServer(ctx context.Context, name string, logger *zerolog.Logger) *Server {
	return &Server{
		name:   name,
		routes: make(map[string]map[string]Handler),
		pool:   goroutine.Default(),
		logger: logger,
		ctx:    ctx,
	}
}

func (s *Server) Handle(method, path string, h Handler) {
	byMethod, ok := s.routes[path]
	if !ok {
		byMethod = make(map[string]Handler)
		s.routes[path] = byMethod
	}
	byMethod[method] = h
}

// Run blocks until the engine stops.
func (s *Server) Run(port string) error {
	addr := fmt.Sprintf("tcp://:%s", port)
	return gnet.Run(s, addr,
		gnet.WithMulticore(true),
		gnet.WithReusePort(true),
		gnet.WithTCPNoDelay(gnet.TCPNoDelay),
	)
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	eng, booted := s.engine, s.booted
	s.mu.Unlock()
	if !booted {
		return nil
	}
	return eng.Stop(ctx)
}

func (s *Server) OnBoot(eng gnet.Engine) gnet.Action {
	s.mu.Lock()
	s.engine, s.booted = eng, true
	s.mu.Unlock()

	s.logger.Info().Str("server", s.name).Msg("gnet server started")
	return gnet.None
}

func (s *Server) OnShutdown(gnet.Engine) {
	s.pool.Release()
	s.logger.Info().Str("server", s.name).Msg("gnet server stopped")
}

func (s *Server) OnOpen(c gnet.Conn) ([]byte, gnet.Action) {
	c.SetContext(&connQueue{})
	return nil, gnet.None
}

func (s *Server) OnTraffic(c gnet.Conn) gnet.Action {
	var batch []Request
	for {
		buf, _ := c.Peek(c.InboundBuffered())
		req, n, err := ParseRequest(buf)
		if errors.Is(err, ErrIncomplete) {
			break
		}
		if errors.Is(err, ErrTooLarge) {
			c.Write(HTTP413TooLarge)
			return gnet.Close
		}
		if err != nil {
			c.Write(HTTP400BadRequest)
			return gnet.Close
		}
		req.Body = bytes.Clone(req.Body)
		c.Discard(n)
		batch = append(batch, req)
	}
	if len(batch) == 0 {
		return gnet.None
	}

	cq, ok := c.Context().(*connQueue)
	if !ok {
		cq = &connQueue{}
		c.SetContext(cq)
	}
	if !cq.enqueue(batch) {
		return gnet.None
	}

	// Pipelined requests on one connection are answered in order, across
	// OnTraffic calls too.
	err := s.pool.Submit(func() {
		for {
			next, ok := cq.next()
			if !ok {
				return
			}
			var out []byte
			for _, req := range next {
				out = append(out, s.Serve(req)...)
			}
			c.AsyncWrite(out, nil)
		}
	})
	if err != nil {
		cq.reset()
		s.logger.Error().Err(err).Msg("handler pool rejected request")
		c.Write(HTTP503Unavailable)
		return gnet.Close
	}
	return gnet.None
}

// Serve routes one parsed request to its handler.
func (s *Server) Serve(req Request) []byte {
	byMethod, ok := s.routes[req.Path]
	if !ok {
		return HTTP404NotFound
	}
	h, ok := byMethod[req.Method]
	if !ok {
		return HTTP405NotAllowed
	}
	return h(s.ctx, req)
}
