package network

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"msgrelay/metrics"
)

// RequestHandler serves one request/response exchange on a connection.
type RequestHandler interface {
	HandleRequest(rw io.ReadWriter) error
}

// ServerOptions configures Listen.
type ServerOptions struct {
	Handler RequestHandler
	Logger  zerolog.Logger
}

// Server accepts relay clients and serves each connection on its own goroutine.
type Server struct {
	listener net.Listener
	handler  RequestHandler
	logger   zerolog.Logger

	errs chan error

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Listen starts a TCP listener and the accept loop.
func Listen(address string, options ServerOptions) (*Server, error) {
	if options.Handler == nil {
		return nil, errors.New("network: request handler is required")
	}
	if address == "" {
		address = ":0"
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %q: %w", address, err)
	}

	server := &Server{
		listener: listener,
		handler:  options.Handler,
		logger:   options.Logger,
		errs:     make(chan error, 16),
		conns:    make(map[net.Conn]struct{}),
		closed:   make(chan struct{}),
	}

	server.wg.Add(1)
	go server.acceptLoop()
	return server, nil
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Errors returns asynchronous accept errors.
func (s *Server) Errors() <-chan error {
	return s.errs
}

// Close stops accepting, closes live connections and waits for their workers.
func (s *Server) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.closed)
		closeErr = s.listener.Close()

		s.connsMu.Lock()
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.connsMu.Unlock()

		s.wg.Wait()
		close(s.errs)
	})
	return closeErr
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}

			s.reportError(fmt.Errorf("accept connection: %w", err))
			continue
		}

		if !s.track(conn) {
			_ = conn.Close()
			return
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	metrics.ConnectionOpened()
	defer metrics.ConnectionClosed()

	logger := s.logger.With().Str("remote", conn.RemoteAddr().String()).Logger()
	logger.Debug().Msg("client connected")

	for {
		err := s.handler.HandleRequest(conn)
		if err == nil {
			continue
		}

		switch {
		case errors.Is(err, ErrPeerClosed):
			logger.Debug().Msg("client closed connection")
		case errors.Is(err, ErrDisconnected):
			select {
			case <-s.closed:
				logger.Debug().Msg("connection closed by shutdown")
			default:
				logger.Info().Err(err).Msg("client disconnected")
			}
		default:
			logger.Info().Err(err).Msg("closing connection after failed request")
		}
		return
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()

	select {
	case <-s.closed:
		return false
	default:
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()
}

func (s *Server) reportError(err error) {
	if err == nil {
		return
	}

	// Accept loop shutdown produces expected net.ErrClosed errors.
	if errors.Is(err, net.ErrClosed) {
		return
	}

	s.logger.Warn().Err(err).Msg("server error")
	select {
	case s.errs <- err:
	default:
	}
}
