// Package realtime subscribes to the order service's websocket event stream. It
// implements the auto-advance engine's ports.EventStream.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/Apurer/order-autoadvance/internal/domains/orders/adapters/http/mapper"
	"github.com/Apurer/order-autoadvance/internal/domains/orders/domain"
	"github.com/Apurer/order-autoadvance/internal/domains/orders/ports"
)

var _ ports.EventStream = (*Stream)(nil)

const eventBuffer = 64

// Stream dials the websocket endpoint on every Connect.
type Stream struct {
	url    *url.URL
	origin string
	token  string
	probe  *http.Client
	logger *slog.Logger
}

// Option configures the Stream.
type Option func(*Stream)

// WithBearerToken authenticates the websocket handshake.
func WithBearerToken(token string) Option {
	return func(s *Stream) {
		s.token = strings.TrimSpace(token)
	}
}

// WithLogger injects a slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Stream) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStream accepts a ws:// or wss:// endpoint URL.
func NewStream(endpoint string, opts ...Option) (*Stream, error) {
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return nil, fmt.Errorf("parse stream URL: %w", err)
	}
	origin := &url.URL{Host: parsed.Host}
	switch parsed.Scheme {
	case "ws":
		origin.Scheme = "http"
	case "wss":
		origin.Scheme = "https"
	default:
		return nil, fmt.Errorf("stream URL %q must use ws or wss", endpoint)
	}
	s := &Stream{
		url:    parsed,
		origin: origin.String(),
		probe:  &http.Client{Timeout: 5 * time.Second},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Connect dials the stream. A handshake the server refuses for credentials returns
// ports.ErrStreamUnauthorized.
func (s *Stream) Connect(ctx context.Context) (ports.Subscription, error) {
	config, err := websocket.NewConfig(s.url.String(), s.origin)
	if err != nil {
		return nil, fmt.Errorf("stream config: %w", err)
	}
	if s.token != "" {
		config.Header.Set("Authorization", "Bearer "+s.token)
	}
	conn, err := config.DialContext(ctx)
	if err != nil {
		if badStatus(err) && s.rejectedCredentials(ctx) {
			return nil, fmt.Errorf("%w: %s", ports.ErrStreamUnauthorized, s.url.Redacted())
		}
		return nil, fmt.Errorf("dial order stream: %w", err)
	}

	sub := &subscription{
		conn:   conn,
		events: make(chan domain.Event, eventBuffer),
		done:   make(chan struct{}),
		logger: s.logger,
	}
	stop := context.AfterFunc(ctx, func() { _ = sub.Close() })
	go func() {
		defer stop()
		sub.read()
	}()
	return sub, nil
}

func badStatus(err error) bool {
	var dialErr *websocket.DialError
	if errors.As(err, &dialErr) && dialErr.Err == websocket.ErrBadStatus {
		return true
	}
	return errors.Is(err, websocket.ErrBadStatus)
}

// rejectedCredentials asks the endpoint over plain HTTP why the upgrade failed; the
// websocket handshake error does not carry the status code.
func (s *Stream) rejectedCredentials(ctx context.Context) bool {
	probeURL := *s.url
	if probeURL.Scheme == "wss" {
		probeURL.Scheme = "https"
	} else {
		probeURL.Scheme = "http"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL.String(), nil)
	if err != nil {
		return false
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.probe.Do(req)
	if err != nil {
		return false
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden
}

type subscription struct {
	conn      *websocket.Conn
	events    chan domain.Event
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger

	mu  sync.Mutex
	err error
}

func (s *subscription) Events() <-chan domain.Event { return s.events }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

func (s *subscription) read() {
	defer close(s.events)
	for {
		var frame mapper.Event
		if err := websocket.JSON.Receive(s.conn, &frame); err != nil {
			select {
			case <-s.done:
			default:
				if errors.Is(err, io.EOF) {
					err = io.ErrUnexpectedEOF
				}
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
			}
			return
		}
		event, err := mapper.ToDomainEvent(frame)
		if err != nil {
			s.logger.Warn("dropping malformed order event", slog.String("type", frame.Type), slog.String("error", err.Error()))
			continue
		}
		select {
		case s.events <- event:
		case <-s.done:
			return
		}
	}
}
