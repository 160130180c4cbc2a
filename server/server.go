package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"chathub/auth"
	"chathub/chat"
	"chathub/models"
	"chathub/protocol"
	"chathub/registry"
)

type Config struct {
	Port         int
	HTTPAddr     string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	OutboxSize   int
	IntentRate   float64
	IntentBurst  int
}

// Store is the part of the storage layer the HTTP API reads directly.
type Store interface {
	SearchUsers(ctx context.Context, query, excludeID string) ([]models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Ping(ctx context.Context) error
}

type Deps struct {
	Router   *chat.Router
	Auth     *auth.Service
	Registry *registry.Registry
	Store    Store
	Gatherer prometheus.Gatherer
}

type Server struct {
	router   *chat.Router
	auth     *auth.Service
	registry *registry.Registry
	store    Store
	gatherer prometheus.Gatherer
	config   *Config

	mu       sync.Mutex
	conns    map[string]*conn
	listener net.Listener
	httpSrv  *http.Server
	closing  bool

	writers sync.WaitGroup
	done    chan struct{}
}

// shutdownGrace bounds how long Shutdown waits for writers to flush the
// disconnect notice.
const shutdownGrace = 5 * time.Second

func New(deps Deps, config *Config) *Server {
	if config.OutboxSize <= 0 {
		config.OutboxSize = 256
	}
	return &Server{
		router:   deps.Router,
		auth:     deps.Auth,
		registry: deps.Registry,
		store:    deps.Store,
		gatherer: deps.Gatherer,
		config:   config,
		conns:    make(map[string]*conn),
		done:     make(chan struct{}),
	}
}

// Done is closed once Shutdown has finished.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Start listens for line protocol clients. It returns nil once Shutdown has
// closed the listener; callers wait on Done for the disconnect notices.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(s.config.Port))
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		listener.Close()
		return nil
	}
	s.listener = listener
	s.mu.Unlock()
	defer listener.Close()

	log.Info().Str("addr", listener.Addr().String()).Msg("line server started")

	for {
		nc, err := listener.Accept()
		if err != nil {
			if s.isClosing() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Error().Err(err).Msg("accept failed")
			continue
		}

		go s.handleConnection(nc)
	}
}

// StartHTTP serves the HTTP API, the websocket endpoint and /metrics.
func (s *Server) StartHTTP() error {
	srv := &http.Server{
		Addr:              s.config.HTTPAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.httpSrv = srv
	s.mu.Unlock()

	log.Info().Str("addr", s.config.HTTPAddr).Msg("http server started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleConnection(nc net.Conn) {
	c := s.newConn("tcp", &lineTransport{conn: nc, writeTimeout: s.config.WriteTimeout}, nc.RemoteAddr().String())
	s.startWriter(c, nil, nil)
	defer s.teardown(c)

	c.log.Info().Msg("client connected")

	reader := bufio.NewReader(nc)
	for {
		if s.config.ReadTimeout > 0 {
			nc.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			var netErr net.Error
			switch {
			case errors.As(err, &netErr) && netErr.Timeout():
				c.log.Info().Msg("read timeout")
				c.Send(protocol.Event{Type: protocol.EventDisconnected, Data: protocol.Disconnected{Reason: "timeout"}})
				c.Close("timeout")
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
			default:
				c.log.Debug().Err(err).Msg("read failed")
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		// credentials stay out of the log
		if !strings.HasPrefix(line, "auth|") && !strings.HasPrefix(line, "reg|") {
			c.log.Debug().Str("line", line).Msg("received")
		}

		pkt, err := protocol.ParsePacket(line + "\n")
		if err != nil {
			c.Send(protocol.NewError("", models.CodeInvalidRequest, "Invalid packet format"))
			continue
		}

		in, err := protocol.IntentFromPacket(pkt)
		if err != nil {
			c.Send(protocol.NewError(pkt.Type, models.CodeInvalidRequest, "Unknown packet type"))
			continue
		}

		if !s.handleIntent(c, in) {
			return
		}
	}
}

func (s *Server) newConn(kind string, t transport, remote string) *conn {
	id := uuid.NewString()
	c := &conn{
		id:      id,
		kind:    kind,
		t:       t,
		outbox:  make(chan protocol.Event, s.config.OutboxSize),
		done:    make(chan struct{}),
		limiter: newLimiter(s.config.IntentRate, s.config.IntentBurst),
		log:     log.With().Str("conn", id).Str("transport", kind).Str("remote", remote).Logger(),
	}
	s.track(c)
	return c
}

// startWriter runs the writer of c. Shutdown waits for every writer started
// before it; a connection that arrives during shutdown is closed at once.
func (s *Server) startWriter(c *conn, keepalive <-chan time.Time, ping func() error) {
	s.mu.Lock()
	closing := s.closing
	if !closing {
		s.writers.Add(1)
	}
	s.mu.Unlock()

	if closing {
		c.Close("shutdown")
		go c.writeLoop(keepalive, ping)
		return
	}
	go func() {
		defer s.writers.Done()
		c.writeLoop(keepalive, ping)
	}()
}

func newLimiter(r float64, burst int) *rate.Limiter {
	if r <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(r), burst)
}

// teardown runs once the reader of c has stopped. A connection that was
// replaced by a newer session of the same user does not remove it.
func (s *Server) teardown(c *conn) {
	c.Close("")
	if o := c.origin(); s.router.Leave(o) {
		c.log.Info().Str("user", o.Username).Msg("user left")
	}
	s.untrack(c)

	c.mu.Lock()
	reason := c.reason
	c.mu.Unlock()
	c.log.Info().Str("reason", reason).Msg("client disconnected")
}

func (s *Server) track(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c.id] = c
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c.id)
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// Shutdown stops accepting clients and disconnects every connection with
// reason. A non-zero completion time is passed on as the expected end of
// the outage. It returns after the writers flushed the notice or after
// shutdownGrace; a second call waits for the first.
func (s *Server) Shutdown(reason string, completionTime time.Time) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closing = true
	listener, httpSrv := s.listener, s.httpSrv
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	defer close(s.done)

	if listener != nil {
		listener.Close()
	}

	var details string
	if !completionTime.IsZero() {
		details = completionTime.UTC().Format(time.RFC3339)
	}

	// Sessions are dropped without leave announcements: everyone is going.
	s.registry.Snapshot()
	for _, c := range conns {
		c.Send(protocol.Event{Type: protocol.EventDisconnected, Data: protocol.Disconnected{Reason: reason, Details: details}})
		c.Close(reason)
	}

	if httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("http shutdown")
		}
	}

	flushed := make(chan struct{})
	go func() {
		s.writers.Wait()
		close(flushed)
	}()
	select {
	case <-flushed:
	case <-time.After(shutdownGrace):
		log.Warn().Msg("writers still busy after shutdown grace period")
	}

	log.Info().Str("reason", reason).Int("connections", len(conns)).Msg("server shut down")
}

// GetStats returns server statistics as a formatted string:
// connections=N,users=name:transport;...
func (s *Server) GetStats() string {
	sessions := s.registry.Sessions()

	s.mu.Lock()
	connections := len(s.conns)
	users := make([]string, 0, len(sessions))
	for _, sess := range sessions {
		kind := "?"
		if c, ok := s.conns[sess.ConnID]; ok {
			kind = c.kind
		}
		users = append(users, sess.Username+":"+kind)
	}
	s.mu.Unlock()

	return "connections=" + strconv.Itoa(connections) + ",users=" + strings.Join(users, ";")
}
