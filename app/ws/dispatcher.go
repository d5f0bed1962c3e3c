package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/amirphl/orgsync/app/dto"
	"github.com/amirphl/orgsync/app/middleware"
	businessflow "github.com/amirphl/orgsync/business_flow"
	"github.com/amirphl/orgsync/utils"
	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Action names
const (
	ActionLogin             = "auth.login"
	ActionLogout            = "auth.logout"
	ActionCreateAccount     = "accounts.create"
	ActionEditAccount       = "accounts.edit"
	ActionDeleteAccount     = "accounts.delete"
	ActionAssignUsers       = "accounts.assignUsers"
	ActionGetAccounts       = "accounts.get"
	ActionOrganizationUsers = "accounts.getOrganizationUsers"
	ActionCreateUser        = "users.create"

	// ActionAccountsChanged is pushed by the server, never sent by clients
	ActionAccountsChanged = "accounts.changed"
)

const (
	defaultActionTimeout   = 30 * time.Second
	reconcileActionTimeout = 2 * time.Minute
)

// ConnState is the per-connection authentication state. Only the owning session touches it.
type ConnState struct {
	ConnectionID  string
	Credential    string
	Authenticated bool
	Metadata      *businessflow.ClientMetadata
}

// Result is what the session must do after one message
type Result struct {
	Envelope    dto.Envelope
	Close       bool
	CloseCode   int
	CloseReason string
}

type request struct {
	actor    *businessflow.Actor
	msg      *dto.InboundMessage
	state    *ConnState
	metadata *businessflow.ClientMetadata
}

type reply struct {
	status  int
	message string
	data    any
	close   bool
	changed *dto.AccountsChangedEvent
}

type route struct {
	public  bool
	timeout time.Duration
	handle  func(ctx context.Context, req *request) (*reply, error)
}

// Dispatcher routes decoded actions to the business flows and maps their errors to envelopes
type Dispatcher struct {
	auth      businessflow.AuthFlow
	accounts  businessflow.AccountFlow
	users     businessflow.UserFlow
	reconcile businessflow.ReconciliationFlow
	registry  *Registry
	codec     *Codec
	logger    *zap.Logger
	routes    map[string]route
}

func NewDispatcher(
	auth businessflow.AuthFlow,
	accounts businessflow.AccountFlow,
	users businessflow.UserFlow,
	reconcile businessflow.ReconciliationFlow,
	registry *Registry,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		auth:      auth,
		accounts:  accounts,
		users:     users,
		reconcile: reconcile,
		registry:  registry,
		codec:     NewCodec(),
		logger:    logger,
	}
	d.routes = map[string]route{
		ActionLogin:             {public: true, handle: d.login},
		ActionLogout:            {handle: d.logout},
		ActionCreateAccount:     {handle: d.createAccount},
		ActionEditAccount:       {handle: d.editAccount},
		ActionDeleteAccount:     {handle: d.deleteAccount},
		ActionAssignUsers:       {handle: d.assignUsers},
		ActionGetAccounts:       {handle: d.getAccounts},
		ActionOrganizationUsers: {handle: d.organizationUsers, timeout: reconcileActionTimeout},
		ActionCreateUser:        {handle: d.createUser},
	}
	return d
}

// Dispatch handles one inbound frame. It never returns an error; failures become envelopes.
func (d *Dispatcher) Dispatch(ctx context.Context, state *ConnState, raw []byte) Result {
	start := time.Now()

	msg, err := d.codec.DecodeMessage(raw)
	if err != nil {
		res := d.failure(state, "", err)
		middleware.ObserveMessage("", false, res.Envelope.Status, time.Since(start))
		return res
	}

	rt, known := d.routes[msg.Action]
	res := d.dispatch(ctx, state, msg, rt, known)
	middleware.ObserveMessage(msg.Action, known, res.Envelope.Status, time.Since(start))
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, state *ConnState, msg *dto.InboundMessage, rt route, known bool) Result {
	if !known {
		return d.failure(state, msg.Action, businessflow.NewBusinessErrorf("UNKNOWN_ACTION", "Unknown action %q", businessflow.ErrBadRequest, msg.Action))
	}

	timeout := rt.timeout
	if timeout <= 0 {
		timeout = defaultActionTimeout
	}

	metadata := &businessflow.ClientMetadata{}
	if state.Metadata != nil {
		metadata = businessflow.NewClientMetadata(state.Metadata.IPAddress, state.Metadata.UserAgent)
	}
	metadata.ConnectionID = state.ConnectionID
	metadata.SetRequestID(uuid.NewString())

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ctx = context.WithValue(ctx, utils.RequestIDKey, metadata.RequestID)
	ctx = context.WithValue(ctx, utils.ConnectionIDKey, state.ConnectionID)
	ctx = context.WithValue(ctx, utils.IPAddressKey, metadata.IPAddress)
	ctx = context.WithValue(ctx, utils.ActionKey, msg.Action)

	req := &request{msg: msg, state: state, metadata: metadata}
	if !rt.public {
		credential := msg.Credential
		if credential == "" {
			credential = state.Credential
		}
		actor, err := d.auth.Authenticate(ctx, credential)
		if err != nil {
			return d.failure(state, msg.Action, err)
		}
		state.Credential = credential
		state.Authenticated = true
		req.actor = actor
	}

	out, err := rt.handle(ctx, req)
	if err != nil {
		return d.failure(state, msg.Action, err)
	}

	if out.changed != nil && d.registry != nil {
		d.registry.Publish(dto.Envelope{
			Status:  http.StatusOK,
			Action:  ActionAccountsChanged,
			Message: "Accounts changed",
			Data:    out.changed,
		})
	}

	res := Result{Envelope: dto.Envelope{Status: out.status, Action: msg.Action, Message: out.message, Data: out.data}}
	if out.close {
		res.Close = true
		res.CloseCode = websocket.CloseNormalClosure
		res.CloseReason = "logged out"
	}
	return res
}

// failure maps err to an error envelope. Unauthorized closes the connection.
func (d *Dispatcher) failure(state *ConnState, action string, err error) Result {
	status := StatusFor(err)
	fields := []zap.Field{
		zap.String("connection_id", state.ConnectionID),
		zap.String("action", action),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status == http.StatusInternalServerError {
		d.logger.Error("action failed", fields...)
	} else {
		d.logger.Debug("action rejected", fields...)
	}

	res := Result{Envelope: dto.Envelope{Status: status, Action: action, Message: businessflow.PublicMessage(err)}}
	if status == http.StatusUnauthorized {
		state.Authenticated = false
		state.Credential = ""
		res.Close = true
		res.CloseCode = websocket.ClosePolicyViolation
		res.CloseReason = "unauthorized"
	}
	return res
}

// StatusFor maps an error kind to the envelope status
func StatusFor(err error) int {
	switch businessflow.KindOf(err) {
	case businessflow.KindUnauthorized:
		return http.StatusUnauthorized
	case businessflow.KindForbidden:
		return http.StatusForbidden
	case businessflow.KindNotFound:
		return http.StatusNotFound
	case businessflow.KindConflict:
		return http.StatusConflict
	case businessflow.KindBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (d *Dispatcher) login(ctx context.Context, req *request) (*reply, error) {
	body, err := DecodeData[dto.LoginRequest](d.codec, req.msg.Data)
	if err != nil {
		return nil, err
	}
	resp, err := d.auth.Login(ctx, body, req.metadata)
	if err != nil {
		return nil, err
	}
	req.state.Credential = resp.Credential
	req.state.Authenticated = true
	return &reply{status: http.StatusOK, message: "Login successful", data: resp}, nil
}

func (d *Dispatcher) logout(ctx context.Context, req *request) (*reply, error) {
	if _, err := DecodeData[dto.EmptyRequest](d.codec, req.msg.Data); err != nil {
		return nil, err
	}
	resp, err := d.auth.Logout(ctx, req.actor, req.state.Credential, req.metadata)
	if err != nil {
		return nil, err
	}
	req.state.Credential = ""
	req.state.Authenticated = false
	return &reply{status: http.StatusOK, message: "Logged out", data: resp, close: true}, nil
}

func (d *Dispatcher) createAccount(ctx context.Context, req *request) (*reply, error) {
	body, err := DecodeData[dto.CreateAccountRequest](d.codec, req.msg.Data)
	if err != nil {
		return nil, err
	}
	resp, err := d.accounts.CreateAccount(ctx, req.actor, body, req.metadata)
	if err != nil {
		return nil, err
	}
	return &reply{
		status:  http.StatusCreated,
		message: "Account created successfully",
		data:    resp,
		changed: changed(resp.Account.ID, businessflow.OperationCreateAccount, req.actor),
	}, nil
}

func (d *Dispatcher) editAccount(ctx context.Context, req *request) (*reply, error) {
	body, err := DecodeData[dto.EditAccountRequest](d.codec, req.msg.Data)
	if err != nil {
		return nil, err
	}
	resp, err := d.accounts.EditAccount(ctx, req.actor, body, req.metadata)
	if err != nil {
		return nil, err
	}
	return &reply{
		status:  http.StatusOK,
		message: "Account updated successfully",
		data:    resp,
		changed: changed(resp.Account.ID, businessflow.OperationEditAccount, req.actor),
	}, nil
}

func (d *Dispatcher) deleteAccount(ctx context.Context, req *request) (*reply, error) {
	body, err := DecodeData[dto.DeleteAccountRequest](d.codec, req.msg.Data)
	if err != nil {
		return nil, err
	}
	resp, err := d.accounts.DeleteAccount(ctx, req.actor, body, req.metadata)
	if err != nil {
		return nil, err
	}
	return &reply{
		status:  http.StatusOK,
		message: "Account deleted successfully",
		data:    resp,
		changed: changed(resp.AccountID, businessflow.OperationDeleteAccount, req.actor),
	}, nil
}

func (d *Dispatcher) assignUsers(ctx context.Context, req *request) (*reply, error) {
	body, err := DecodeData[dto.AssignUsersRequest](d.codec, req.msg.Data)
	if err != nil {
		return nil, err
	}
	resp, err := d.accounts.AssignUsers(ctx, req.actor, body, req.metadata)
	if err != nil {
		return nil, err
	}
	out := &reply{status: http.StatusOK, message: "Users assigned successfully", data: resp}
	if len(resp.Assigned) > 0 {
		out.changed = changed(resp.AccountID, businessflow.OperationAssignUsers, req.actor)
	}
	return out, nil
}

func (d *Dispatcher) getAccounts(ctx context.Context, req *request) (*reply, error) {
	if _, err := DecodeData[dto.EmptyRequest](d.codec, req.msg.Data); err != nil {
		return nil, err
	}
	resp, err := d.accounts.GetAccounts(ctx, req.actor)
	if err != nil {
		return nil, err
	}
	return &reply{status: http.StatusOK, message: "Accounts retrieved successfully", data: resp}, nil
}

func (d *Dispatcher) organizationUsers(ctx context.Context, req *request) (*reply, error) {
	if _, err := DecodeData[dto.EmptyRequest](d.codec, req.msg.Data); err != nil {
		return nil, err
	}
	resp, err := d.reconcile.OrganizationUsers(ctx, req.actor, req.metadata)
	if err != nil {
		return nil, err
	}
	return &reply{status: http.StatusOK, message: "Organization users retrieved successfully", data: resp}, nil
}

func (d *Dispatcher) createUser(ctx context.Context, req *request) (*reply, error) {
	body, err := DecodeData[dto.CreateUserRequest](d.codec, req.msg.Data)
	if err != nil {
		return nil, err
	}
	resp, err := d.users.CreateUser(ctx, req.actor, body, req.metadata)
	if err != nil {
		return nil, err
	}
	return &reply{status: http.StatusCreated, message: "User created successfully", data: resp}, nil
}

func changed(accountID, operation string, actor *businessflow.Actor) *dto.AccountsChangedEvent {
	return &dto.AccountsChangedEvent{AccountID: accountID, Operation: operation, ActorID: actor.ID()}
}
