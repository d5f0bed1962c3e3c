package ws

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amirphl/orgsync/app/dto"
	businessflow "github.com/amirphl/orgsync/business_flow"
	"github.com/amirphl/orgsync/models"
	"github.com/fasthttp/websocket"
	"github.com/stretchr/testify/require"
)

const validCredential = "good-credential"

func testActor() *businessflow.Actor {
	unlimited := models.AdminTypeUnlimited
	return &businessflow.Actor{
		User:    &models.User{ID: "admin-1", Email: "root@example.com", Role: models.RoleAdmin, AdminType: &unlimited, AccountID: "main"},
		Account: &models.Account{ID: "main", Name: "Main", Type: models.AccountTypeMain},
	}
}

type stubAuth struct {
	loginErr    error
	logoutCalls atomic.Int32
	lastLogout  string
}

func (s *stubAuth) Login(ctx context.Context, req *dto.LoginRequest, metadata *businessflow.ClientMetadata) (*dto.LoginResponse, error) {
	if s.loginErr != nil {
		return nil, s.loginErr
	}
	return &dto.LoginResponse{Credential: validCredential, TokenType: "Bearer", ExpiresIn: 3600, User: dto.UserDTO{ID: "admin-1", Email: req.Email}}, nil
}

func (s *stubAuth) Authenticate(ctx context.Context, credential string) (*businessflow.Actor, error) {
	switch credential {
	case "":
		return nil, businessflow.NewBusinessError("CREDENTIAL_REQUIRED", "Credential is required", businessflow.ErrCredentialRequired)
	case validCredential:
		return testActor(), nil
	default:
		return nil, businessflow.NewBusinessError("CREDENTIAL_INVALID", "Credential is invalid", businessflow.ErrCredentialInvalid)
	}
}

func (s *stubAuth) Logout(ctx context.Context, actor *businessflow.Actor, credential string, metadata *businessflow.ClientMetadata) (*dto.LogoutResponse, error) {
	s.logoutCalls.Add(1)
	s.lastLogout = credential
	return &dto.LogoutResponse{Revoked: true}, nil
}

type stubAccounts struct {
	err        error
	assigned   []dto.UserDTO
	getDelay   time.Duration
	inFlight   atomic.Int32
	maxFlight  atomic.Int32
	lastCreate *dto.CreateAccountRequest
	lastMeta   *businessflow.ClientMetadata
}

func (s *stubAccounts) CreateAccount(ctx context.Context, actor *businessflow.Actor, req *dto.CreateAccountRequest, metadata *businessflow.ClientMetadata) (*dto.CreateAccountResponse, error) {
	s.lastCreate = req
	s.lastMeta = metadata
	if s.err != nil {
		return nil, s.err
	}
	return &dto.CreateAccountResponse{Account: dto.AccountDTO{ID: "acc-new", Name: req.Name, Type: req.Type}}, nil
}

func (s *stubAccounts) EditAccount(ctx context.Context, actor *businessflow.Actor, req *dto.EditAccountRequest, metadata *businessflow.ClientMetadata) (*dto.EditAccountResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &dto.EditAccountResponse{Account: dto.AccountDTO{ID: req.AccountID}}, nil
}

func (s *stubAccounts) DeleteAccount(ctx context.Context, actor *businessflow.Actor, req *dto.DeleteAccountRequest, metadata *businessflow.ClientMetadata) (*dto.DeleteAccountResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &dto.DeleteAccountResponse{AccountID: req.AccountID}, nil
}

func (s *stubAccounts) AssignUsers(ctx context.Context, actor *businessflow.Actor, req *dto.AssignUsersRequest, metadata *businessflow.ClientMetadata) (*dto.AssignUsersResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &dto.AssignUsersResponse{AccountID: req.AccountID, Assigned: s.assigned}, nil
}

func (s *stubAccounts) GetAccounts(ctx context.Context, actor *businessflow.Actor) (*dto.GetAccountsResponse, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		prev := s.maxFlight.Load()
		if n <= prev || s.maxFlight.CompareAndSwap(prev, n) {
			break
		}
	}
	if s.getDelay > 0 {
		time.Sleep(s.getDelay)
	}
	if s.err != nil {
		return nil, s.err
	}
	return &dto.GetAccountsResponse{Accounts: []dto.AccountDTO{{ID: "main", Name: "Main", Type: "main"}}}, nil
}

type stubUsers struct {
	err error
}

func (s *stubUsers) CreateUser(ctx context.Context, actor *businessflow.Actor, req *dto.CreateUserRequest, metadata *businessflow.ClientMetadata) (*dto.CreateUserResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &dto.CreateUserResponse{User: dto.UserDTO{ID: "u-new", Email: req.Email}}, nil
}

type stubReconcile struct {
	err      error
	deadline time.Time
}

func (s *stubReconcile) Reconcile(ctx context.Context) (*dto.SyncSummaryDTO, error) {
	return &dto.SyncSummaryDTO{}, s.err
}

func (s *stubReconcile) OrganizationUsers(ctx context.Context, actor *businessflow.Actor, metadata *businessflow.ClientMetadata) (*dto.OrganizationUsersResponse, error) {
	s.deadline, _ = ctx.Deadline()
	if s.err != nil {
		return nil, s.err
	}
	return &dto.OrganizationUsersResponse{MainAccount: dto.AccountDTO{ID: "main"}}, nil
}

type fakePeer struct {
	id            string
	authenticated bool
	sendErr       error
	sendDelay     time.Duration

	mu         sync.Mutex
	sent       []dto.Envelope
	closedWith int
}

func (p *fakePeer) ID() string          { return p.id }
func (p *fakePeer) Authenticated() bool { return p.authenticated }

func (p *fakePeer) Send(env dto.Envelope) error {
	time.Sleep(p.sendDelay)
	if p.sendErr != nil {
		return p.sendErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, env)
	return nil
}

func (p *fakePeer) Close(code int, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closedWith = code
}

func (p *fakePeer) received() []dto.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]dto.Envelope(nil), p.sent...)
}

// awaitEvents waits until p received at least n envelopes and returns them
func (p *fakePeer) awaitEvents(t *testing.T, n int) []dto.Envelope {
	t.Helper()
	require.Eventually(t, func() bool { return len(p.received()) >= n }, 2*time.Second, 5*time.Millisecond)
	return p.received()
}

// fakeConn is an in-memory Conn. Tests push client frames into inbound and read replies from writes.
type fakeConn struct {
	inbound  chan []byte
	writes   chan []byte
	closed   chan struct{}
	autoPong bool

	mu           sync.Mutex
	closeOnce    sync.Once
	readDeadline time.Time
	readLimit    int64
	pong         func(string) error
	pings        int
	closeFrame   []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		writes:  make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	for {
		c.mu.Lock()
		deadline := c.readDeadline
		c.mu.Unlock()

		var timeout <-chan time.Time
		var timer *time.Timer
		if !deadline.IsZero() {
			timer = time.NewTimer(time.Until(deadline))
			timeout = timer.C
		}
		stop := func() {
			if timer != nil {
				timer.Stop()
			}
		}

		select {
		case data := <-c.inbound:
			stop()
			return websocket.TextMessage, data, nil
		case <-c.closed:
			stop()
			return 0, nil, &websocket.CloseError{Code: websocket.CloseAbnormalClosure}
		case <-timeout:
			c.mu.Lock()
			extended := c.readDeadline.After(time.Now())
			c.mu.Unlock()
			if extended {
				continue
			}
			return 0, nil, os.ErrDeadlineExceeded
		}
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.closed:
		return errors.New("use of closed connection")
	default:
	}
	select {
	case c.writes <- append([]byte(nil), data...):
	default:
	}
	return nil
}

func (c *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	c.mu.Lock()
	switch messageType {
	case websocket.CloseMessage:
		c.closeFrame = append([]byte(nil), data...)
	case websocket.PingMessage:
		c.pings++
	}
	pong := c.pong
	c.mu.Unlock()

	if messageType == websocket.PingMessage && c.autoPong && pong != nil {
		return pong("")
	}
	return nil
}

func (c *fakeConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readDeadline = t
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) SetReadLimit(limit int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readLimit = limit
}

func (c *fakeConn) SetPongHandler(h func(string) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pong = h
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// closeCode decodes the status code of the close frame the server sent
func (c *fakeConn) closeCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.closeFrame) < 2 {
		return 0
	}
	return int(c.closeFrame[0])<<8 | int(c.closeFrame[1])
}

func (c *fakeConn) pingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}
