package ws

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amirphl/orgsync/app/dto"
	"github.com/amirphl/orgsync/app/middleware"
	businessflow "github.com/amirphl/orgsync/business_flow"
	"github.com/amirphl/orgsync/config"
	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Conn is the part of *websocket.Conn a session needs
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

var errSessionClosed = errors.New("session closed")

// Close reasons, also used as metric labels
const (
	ReasonClient       = "client"
	ReasonIdle         = "idle"
	ReasonAuthTimeout  = "auth_timeout"
	ReasonUnauthorized = "unauthorized"
	ReasonLogout       = "logout"
	ReasonShutdown     = "shutdown"
	ReasonWriteFailed  = "write_failed"
	ReasonReadFailed   = "read_failed"
)

// Session owns one websocket connection. Messages are handled one at a time in Run.
type Session struct {
	id         string
	conn       Conn
	dispatcher *Dispatcher
	registry   *Registry
	cfg        config.WebSocketConfig
	logger     *zap.Logger
	state      *ConnState
	limiter    *rate.Limiter
	openedAt   time.Time

	authenticated atomic.Bool
	writeMu       sync.Mutex
	closeOnce     sync.Once
	done          chan struct{}
	reasonMu      sync.Mutex
	reason        string
}

func NewSession(conn Conn, dispatcher *Dispatcher, registry *Registry, cfg config.WebSocketConfig, metadata *businessflow.ClientMetadata, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metadata == nil {
		metadata = &businessflow.ClientMetadata{}
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 15 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.IdleTimeout {
		cfg.PingInterval = cfg.IdleTimeout / 2
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 256 * 1024
	}
	if cfg.MessageRate <= 0 {
		cfg.MessageRate = 10
	}
	if cfg.MessageBurst <= 0 {
		cfg.MessageBurst = 20
	}

	id := uuid.NewString()
	metadata.ConnectionID = id
	return &Session{
		id:         id,
		conn:       conn,
		dispatcher: dispatcher,
		registry:   registry,
		cfg:        cfg,
		logger:     logger.With(zap.String("connection_id", id)),
		state:      &ConnState{ConnectionID: id, Metadata: metadata},
		limiter:    rate.NewLimiter(rate.Limit(cfg.MessageRate), cfg.MessageBurst),
		done:       make(chan struct{}),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Authenticated() bool {
	return s.authenticated.Load()
}

// Preauthenticate seeds the session with a credential already checked at upgrade time.
// It must be called before Run.
func (s *Session) Preauthenticate(credential string) {
	if credential == "" {
		return
	}
	s.state.Credential = credential
	s.state.Authenticated = true
	s.authenticated.Store(true)
}

// Send writes one envelope. Safe for concurrent use with broadcasts.
func (s *Session) Send(env dto.Envelope) error {
	data, err := Encode(env)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and tears the connection down. Only the first call has effect.
func (s *Session) Close(code int, reason string) {
	s.closeOnce.Do(func() {
		s.reasonMu.Lock()
		s.reason = reason
		s.reasonMu.Unlock()
		close(s.done)

		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(s.cfg.WriteTimeout))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
}

func (s *Session) closeReason() string {
	s.reasonMu.Lock()
	defer s.reasonMu.Unlock()
	return s.reason
}

// Run serves the connection until it closes. ctx cancellation closes it as a server shutdown.
func (s *Session) Run(ctx context.Context) {
	s.openedAt = time.Now()
	s.registry.Register(s)
	middleware.ConnectionOpened()
	s.logger.Info("connection opened", zap.String("ip_address", s.state.Metadata.IPAddress))
	defer s.cleanup()

	authTimer := time.AfterFunc(s.cfg.AuthTimeout, func() {
		if !s.authenticated.Load() {
			s.logger.Info("closing unauthenticated connection", zap.Duration("auth_timeout", s.cfg.AuthTimeout))
			s.Close(websocket.ClosePolicyViolation, ReasonAuthTimeout)
		}
	})
	defer authTimer.Stop()

	stopOnShutdown := context.AfterFunc(ctx, func() {
		s.Close(websocket.CloseGoingAway, ReasonShutdown)
	})
	defer stopOnShutdown()

	s.conn.SetReadLimit(s.cfg.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	})

	go s.pingLoop()

	for {
		messageType, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.readFailed(err)
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))

		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		if !s.limiter.Allow() {
			if err := s.Send(dto.Envelope{Status: http.StatusTooManyRequests, Message: "Too many messages. Please slow down."}); err != nil {
				s.Close(websocket.CloseInternalServerErr, ReasonWriteFailed)
				return
			}
			continue
		}

		res := s.dispatcher.Dispatch(ctx, s.state, raw)
		s.authenticated.Store(s.state.Authenticated)
		if s.state.Authenticated {
			authTimer.Stop()
		}

		if err := s.Send(res.Envelope); err != nil {
			if !errors.Is(err, errSessionClosed) {
				s.logger.Warn("failed to write response", zap.Error(err))
			}
			s.Close(websocket.CloseInternalServerErr, ReasonWriteFailed)
			return
		}
		if res.Close {
			reason := ReasonUnauthorized
			if res.CloseCode == websocket.CloseNormalClosure {
				reason = ReasonLogout
			}
			s.Close(res.CloseCode, reason)
			return
		}
	}
}

func (s *Session) readFailed(err error) {
	select {
	case <-s.done:
		return
	default:
	}

	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		s.Close(websocket.CloseNormalClosure, ReasonIdle)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		s.Close(websocket.CloseNormalClosure, ReasonClient)
	case websocket.IsCloseError(err, websocket.CloseMessageTooBig), errors.Is(err, websocket.ErrReadLimit):
		s.Close(websocket.CloseMessageTooBig, ReasonReadFailed)
	default:
		s.logger.Debug("read failed", zap.Error(err))
		s.Close(websocket.CloseNormalClosure, ReasonReadFailed)
	}
}

// pingLoop keeps the peer's pongs flowing so idle detection only trips on dead connections
func (s *Session) pingLoop() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout))
			s.writeMu.Unlock()
			if err != nil {
				s.Close(websocket.CloseGoingAway, ReasonWriteFailed)
				return
			}
		}
	}
}

func (s *Session) cleanup() {
	s.Close(websocket.CloseNormalClosure, ReasonClient)
	s.registry.Unregister(s.id)

	reason := s.closeReason()
	middleware.ConnectionClosed(reason)
	s.logger.Info("connection closed",
		zap.String("reason", reason),
		zap.Duration("duration", time.Since(s.openedAt)),
	)
}
