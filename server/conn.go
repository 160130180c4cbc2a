package server

import (
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"chathub/chat"
	"chathub/models"
	"chathub/protocol"
)

// transport writes rendered events to one client. Only the connection's
// writer goroutine calls it.
type transport interface {
	WriteEvent(ev protocol.Event) error
	Close() error
}

// conn is a registry.Handle. Events are queued on a bounded outbox drained by
// writeLoop; a full outbox drops the event instead of blocking the sender.
type conn struct {
	id      string
	kind    string
	t       transport
	outbox  chan protocol.Event
	done    chan struct{}
	once    sync.Once
	limiter *rate.Limiter
	log     zerolog.Logger

	mu       sync.Mutex
	reason   string
	identity models.Identity
}

func (c *conn) ID() string { return c.id }

func (c *conn) Send(ev protocol.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.outbox <- ev:
		return true
	default:
		c.log.Warn().Str("event", ev.Type).Msg("outbox full, event dropped")
		return false
	}
}

// Close stops the writer after it has flushed what is already queued. The
// first reason wins.
func (c *conn) Close(reason string) {
	c.once.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *conn) setIdentity(id models.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = id
}

// logger returns the connection logger tagged with the user once known. c.log
// itself never changes after newConn.
func (c *conn) logger() zerolog.Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity.Username == "" {
		return c.log
	}
	return c.log.With().Str("user", c.identity.Username).Logger()
}

func (c *conn) authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity.UserID != ""
}

func (c *conn) origin() chat.Origin {
	c.mu.Lock()
	defer c.mu.Unlock()
	return chat.Origin{Identity: c.identity, Handle: c}
}

// writeLoop owns the transport. keepalive may be nil.
func (c *conn) writeLoop(keepalive <-chan time.Time, ping func() error) {
	defer c.t.Close()
	for {
		select {
		case ev := <-c.outbox:
			if err := c.t.WriteEvent(ev); err != nil {
				c.log.Debug().Err(err).Str("event", ev.Type).Msg("write failed")
				c.Close("")
				return
			}
		case <-keepalive:
			if err := ping(); err != nil {
				c.Close("")
				return
			}
		case <-c.done:
			c.flush()
			return
		}
	}
}

func (c *conn) flush() {
	for {
		select {
		case ev := <-c.outbox:
			if err := c.t.WriteEvent(ev); err != nil {
				return
			}
		default:
			return
		}
	}
}

type lineTransport struct {
	conn         net.Conn
	writeTimeout time.Duration
}

func (t *lineTransport) WriteEvent(ev protocol.Event) error {
	if t.writeTimeout > 0 {
		t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	_, err := t.conn.Write([]byte(protocol.FormatLine(ev)))
	return err
}

func (t *lineTransport) Close() error {
	return t.conn.Close()
}
