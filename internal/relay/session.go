package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/net/proxy"

	"github.com/Bigbrotr/bigbrotr/internal/config"
	"github.com/Bigbrotr/bigbrotr/internal/nostr"
	"github.com/Bigbrotr/bigbrotr/pkg/log"
)

// Session is one open connection to a relay. Sessions are used by a single
// task goroutine; fetches on one session are sequential.
type Session struct {
	url     string
	conn    *websocket.Conn
	route   Route
	logger  log.Logger
	Skipped int // malformed payloads dropped across the session's fetches
}

// Dialer abstracts session opening so tasks can be tested against fakes.
type Dialer interface {
	Open(ctx context.Context, ep Endpoint) (Fetcher, error)
}

// Fetcher is the narrow session surface the window scheduler consumes.
type Fetcher interface {
	Fetch(ctx context.Context, f nostr.Filter) ([]nostr.Event, error)
	Close() error
}

// WSDialer opens websocket sessions per the configured transport rules.
type WSDialer struct {
	cfg    config.Config
	logger log.Logger
}

// NewWSDialer builds the production dialer.
func NewWSDialer(cfg config.Config, logger log.Logger) *WSDialer {
	return &WSDialer{cfg: cfg, logger: logger}
}

// Open resolves the endpoint's route and performs the websocket handshake.
func (d *WSDialer) Open(ctx context.Context, ep Endpoint) (Fetcher, error) {
	route, err := Resolve(ep, d.cfg)
	if err != nil {
		return nil, err
	}

	wsd := websocket.Dialer{HandshakeTimeout: route.Tier.Request}
	if route.Transport == config.TransportProxied {
		addr := fmt.Sprintf("%s:%d", d.cfg.Proxy.Host, d.cfg.Proxy.Port)
		socks, err := proxy.SOCKS5("tcp", addr, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("socks5 %s: %w", addr, err)
		}
		cd, ok := socks.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks5 dialer has no context support")
		}
		wsd.NetDialContext = cd.DialContext
	} else {
		nd := &net.Dialer{Timeout: route.Tier.Request}
		wsd.NetDialContext = nd.DialContext
	}

	conn, _, err := wsd.DialContext(ctx, ep.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", ep.URL, err)
	}
	return &Session{
		url:    ep.URL,
		conn:   conn,
		route:  route,
		logger: d.logger.With(log.Str("relay", ep.URL)),
	}, nil
}

// Fetch issues one subscription and collects events until the end-of-results
// marker. Malformed event payloads are skipped, never fatal to the stream.
func (s *Session) Fetch(ctx context.Context, f nostr.Filter) ([]nostr.Event, error) {
	sub := uuid.NewString()
	req, err := json.Marshal([3]interface{}{"REQ", sub, f})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	if err := s.write(ctx, req); err != nil {
		return nil, fmt.Errorf("send request to %s: %w", s.url, err)
	}

	var events []nostr.Event
	for {
		frame, err := s.read(ctx)
		if err != nil {
			return nil, fmt.Errorf("read from %s: %w", s.url, err)
		}
		var parts []json.RawMessage
		if err := json.Unmarshal(frame, &parts); err != nil || len(parts) < 2 {
			s.skip("unparseable frame")
			continue
		}
		var kind, gotSub string
		if err := json.Unmarshal(parts[0], &kind); err != nil {
			s.skip("bad frame type")
			continue
		}
		if err := json.Unmarshal(parts[1], &gotSub); err != nil || gotSub != sub {
			continue
		}
		switch kind {
		case "EVENT":
			if len(parts) < 3 {
				s.skip("event frame missing payload")
				continue
			}
			ev, err := nostr.ParseEvent(parts[2])
			if err != nil {
				s.skip(err.Error())
				continue
			}
			events = append(events, ev)
		case "EOSE":
			s.close(sub)
			return events, nil
		case "CLOSED":
			return nil, fmt.Errorf("relay %s closed subscription", s.url)
		default:
			// NOTICE and friends are informational only.
		}
	}
}

// Close tears the connection down.
func (s *Session) Close() error { return s.conn.Close() }

func (s *Session) write(ctx context.Context, b []byte) error {
	_ = s.conn.SetWriteDeadline(ioDeadline(ctx, s.route.Tier.Request))
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Session) read(ctx context.Context) ([]byte, error) {
	_ = s.conn.SetReadDeadline(ioDeadline(ctx, s.route.Tier.Request))
	_, b, err := s.conn.ReadMessage()
	return b, err
}

func (s *Session) close(sub string) {
	if b, err := json.Marshal([2]string{"CLOSE", sub}); err == nil {
		_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = s.conn.WriteMessage(websocket.TextMessage, b)
	}
}

func (s *Session) skip(reason string) {
	s.Skipped++
	s.logger.Debug("skipped payload", log.Str("reason", reason))
}

// ioDeadline picks the sooner of the per-request timeout and the context
// deadline, so a task deadline cancels in-flight reads and writes.
func ioDeadline(ctx context.Context, per time.Duration) time.Time {
	d := time.Now().Add(per)
	if dl, ok := ctx.Deadline(); ok && dl.Before(d) {
		return dl
	}
	return d
}
