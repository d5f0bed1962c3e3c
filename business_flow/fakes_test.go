package businessflow

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/amirphl/orgsync/app/dto"
	"github.com/amirphl/orgsync/models"
	"github.com/amirphl/orgsync/repository"
	"github.com/amirphl/orgsync/utils"
	"gorm.io/gorm"
)

var (
	errInjected     = errors.New("injected failure")
	errValueTooLong = errors.New("value too long for column")
)

// fakeStore is an in-memory stand-in for the relational store. Transactions snapshot and restore it.
type fakeStore struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
	users    map[string]*models.User
	audits   []*models.AuditLog
	seq      map[string]int
	next     int
	writes   int
	failOn   map[string]error

	// beforeReassign runs outside the store lock ahead of ReassignAccount for the user id
	beforeReassign map[string]func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts: make(map[string]*models.Account),
		users:    make(map[string]*models.User),
		seq:      make(map[string]int),
		failOn:   make(map[string]error),

		beforeReassign: make(map[string]func()),
	}
}

// journal records how to undo a write made inside a fake transaction. Callers hold s.mu.
func (s *fakeStore) journal(ctx context.Context, undo func()) {
	if tx, ok := ctx.Value(fakeTxKey{}).(*fakeTx); ok {
		tx.undo = append(tx.undo, undo)
	}
}

func (s *fakeStore) fail(op string) error {
	return s.failOn[op]
}

func (s *fakeStore) stamp(id string) time.Time {
	if _, ok := s.seq[id]; !ok {
		s.next++
		s.seq[id] = s.next
	}
	return time.Date(2025, 1, 1, 0, 0, s.seq[id], 0, time.UTC)
}

func cloneAccount(a *models.Account) *models.Account {
	c := *a
	c.Parent = nil
	if a.ParentID != nil {
		c.ParentID = utils.ToPtr(*a.ParentID)
	}
	if a.PrimaryAdminID != nil {
		c.PrimaryAdminID = utils.ToPtr(*a.PrimaryAdminID)
	}
	if a.ExternalKey != nil {
		c.ExternalKey = utils.ToPtr(*a.ExternalKey)
	}
	return &c
}

func cloneUser(u *models.User) *models.User {
	c := *u
	c.Account = nil
	if u.AdminType != nil {
		c.AdminType = utils.ToPtr(*u.AdminType)
	}
	if u.ExternalID != nil {
		c.ExternalID = utils.ToPtr(*u.ExternalID)
	}
	return &c
}

// seed helpers write straight to the store

func (s *fakeStore) putAccount(a *models.Account) *models.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.CreatedAt = s.stamp(a.ID)
	s.accounts[a.ID] = cloneAccount(a)
	return a
}

func (s *fakeStore) putUser(u *models.User) *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.CreatedAt = s.stamp(u.ID)
	s.users[u.ID] = cloneUser(u)
	return u
}

func (s *fakeStore) account(id string) *models.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok {
		return cloneAccount(a)
	}
	return nil
}

func (s *fakeStore) user(id string) *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return cloneUser(u)
	}
	return nil
}

func (s *fakeStore) userCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

func (s *fakeStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *fakeStore) auditActions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.audits))
	for _, a := range s.audits {
		out = append(out, a.Action)
	}
	return out
}

type fakeTxKey struct{}

type fakeTx struct {
	undo []func()
}

// fakeTxManager undoes the writes of a failed transaction row by row, so concurrent transactions keep their own writes
type fakeTxManager struct {
	store *fakeStore
}

func (m *fakeTxManager) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	if ctx.Value(fakeTxKey{}) != nil {
		return fn(ctx)
	}

	tx := &fakeTx{}
	if err := fn(context.WithValue(ctx, fakeTxKey{}, tx)); err != nil {
		m.store.mu.Lock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		m.store.mu.Unlock()
		return err
	}
	return nil
}

type fakeAccountRepo struct {
	store *fakeStore
}

var _ repository.AccountRepository = (*fakeAccountRepo)(nil)

func (r *fakeAccountRepo) ByID(_ context.Context, id string) (*models.Account, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if err := r.store.fail("accounts.ByID"); err != nil {
		return nil, err
	}
	if a, ok := r.store.accounts[id]; ok {
		return cloneAccount(a), nil
	}
	return nil, nil
}

func (r *fakeAccountRepo) ByExternalKey(_ context.Context, key string) (*models.Account, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, a := range r.store.accounts {
		if a.ExternalKey != nil && *a.ExternalKey == key {
			return cloneAccount(a), nil
		}
	}
	return nil, nil
}

func (r *fakeAccountRepo) matches(a *models.Account, f models.AccountFilter) bool {
	if f.ID != nil && a.ID != *f.ID {
		return false
	}
	if len(f.IDs) > 0 && !contains(f.IDs, a.ID) {
		return false
	}
	if f.ExternalKey != nil && (a.ExternalKey == nil || *a.ExternalKey != *f.ExternalKey) {
		return false
	}
	if f.Type != nil && a.Type != *f.Type {
		return false
	}
	if f.ParentID != nil && (a.ParentID == nil || *a.ParentID != *f.ParentID) {
		return false
	}
	if f.PrimaryAdminID != nil && (a.PrimaryAdminID == nil || *a.PrimaryAdminID != *f.PrimaryAdminID) {
		return false
	}
	if f.MinLevel != nil && a.Type.Level() < *f.MinLevel {
		return false
	}
	return true
}

func (r *fakeAccountRepo) ByFilter(_ context.Context, filter models.AccountFilter, _ string, limit, offset int) ([]*models.Account, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*models.Account
	for _, a := range r.store.accounts {
		if r.matches(a, filter) {
			out = append(out, cloneAccount(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return r.store.seq[out[i].ID] < r.store.seq[out[j].ID] })
	return page(out, limit, offset), nil
}

func (r *fakeAccountRepo) ListAll(ctx context.Context) ([]*models.Account, error) {
	return r.ByFilter(ctx, models.AccountFilter{}, "", 0, 0)
}

func (r *fakeAccountRepo) Count(ctx context.Context, filter models.AccountFilter) (int64, error) {
	out, err := r.ByFilter(ctx, filter, "", 0, 0)
	return int64(len(out)), err
}

func (r *fakeAccountRepo) Save(ctx context.Context, a *models.Account) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if err := r.store.fail("accounts.Save"); err != nil {
		return err
	}
	if _, exists := r.store.accounts[a.ID]; exists {
		return gorm.ErrDuplicatedKey
	}
	a.CreatedAt = r.store.stamp(a.ID)
	a.UpdatedAt = a.CreatedAt
	r.store.accounts[a.ID] = cloneAccount(a)
	r.store.writes++
	id := a.ID
	r.store.journal(ctx, func() {
		delete(r.store.accounts, id)
		r.store.writes--
	})
	return nil
}

func (r *fakeAccountRepo) SaveBatch(ctx context.Context, accounts []*models.Account) error {
	for _, a := range accounts {
		if err := r.Save(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeAccountRepo) Update(ctx context.Context, a *models.Account) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if err := r.store.fail("accounts.Update"); err != nil {
		return err
	}
	prev, ok := r.store.accounts[a.ID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	r.store.accounts[a.ID] = cloneAccount(a)
	r.store.writes++
	r.store.journal(ctx, func() {
		r.store.accounts[prev.ID] = prev
		r.store.writes--
	})
	return nil
}

func (r *fakeAccountRepo) Delete(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if err := r.store.fail("accounts.Delete"); err != nil {
		return err
	}
	prev, ok := r.store.accounts[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	delete(r.store.accounts, id)
	r.store.writes++
	r.store.journal(ctx, func() {
		r.store.accounts[id] = prev
		r.store.writes--
	})
	return nil
}

func (r *fakeAccountRepo) ReparentChildren(ctx context.Context, fromParentID, toParentID string) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var moved []string
	for _, a := range r.store.accounts {
		if a.ParentID != nil && *a.ParentID == fromParentID {
			a.ParentID = utils.ToPtr(toParentID)
			moved = append(moved, a.ID)
		}
	}
	r.store.writes++
	r.store.journal(ctx, func() {
		for _, id := range moved {
			if a, ok := r.store.accounts[id]; ok {
				a.ParentID = utils.ToPtr(fromParentID)
			}
		}
		r.store.writes--
	})
	return int64(len(moved)), nil
}

type fakeUserRepo struct {
	store *fakeStore
}

var _ repository.UserRepository = (*fakeUserRepo)(nil)

func (r *fakeUserRepo) ByID(_ context.Context, id string) (*models.User, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if err := r.store.fail("users.ByID"); err != nil {
		return nil, err
	}
	if u, ok := r.store.users[id]; ok {
		return cloneUser(u), nil
	}
	return nil, nil
}

func (r *fakeUserRepo) ByEmail(ctx context.Context, email string) (*models.User, error) {
	e := strings.ToLower(strings.TrimSpace(email))
	out, err := r.ByFilter(ctx, models.UserFilter{Email: &e}, "", 1, 0)
	if err != nil || len(out) == 0 {
		return nil, err
	}
	return out[0], nil
}

func (r *fakeUserRepo) matches(u *models.User, f models.UserFilter) bool {
	if f.ID != nil && u.ID != *f.ID {
		return false
	}
	if len(f.IDs) > 0 && !contains(f.IDs, u.ID) {
		return false
	}
	if f.Email != nil && !strings.EqualFold(u.Email, *f.Email) {
		return false
	}
	if len(f.Emails) > 0 && !contains(f.Emails, strings.ToLower(u.Email)) {
		return false
	}
	if f.Role != nil && u.Role != *f.Role {
		return false
	}
	if f.AccountID != nil && u.AccountID != *f.AccountID {
		return false
	}
	if len(f.AccountIDs) > 0 && !contains(f.AccountIDs, u.AccountID) {
		return false
	}
	if f.Source != nil && u.Source != *f.Source {
		return false
	}
	return true
}

func (r *fakeUserRepo) ByFilter(_ context.Context, filter models.UserFilter, _ string, limit, offset int) ([]*models.User, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if err := r.store.fail("users.ByFilter"); err != nil {
		return nil, err
	}
	var out []*models.User
	for _, u := range r.store.users {
		if r.matches(u, filter) {
			out = append(out, cloneUser(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return r.store.seq[out[i].ID] < r.store.seq[out[j].ID] })
	return page(out, limit, offset), nil
}

func (r *fakeUserRepo) Count(ctx context.Context, filter models.UserFilter) (int64, error) {
	out, err := r.ByFilter(ctx, filter, "", 0, 0)
	return int64(len(out)), err
}

func (r *fakeUserRepo) saveLocked(ctx context.Context, u *models.User) error {
	if utf8.RuneCountInString(u.FirstName) > 255 || utf8.RuneCountInString(u.LastName) > 255 ||
		utf8.RuneCountInString(u.Email) > 255 || utf8.RuneCountInString(u.Phone) > 32 ||
		utf8.RuneCountInString(utils.Deref(u.ExternalID)) > 128 {
		return errValueTooLong
	}
	if _, exists := r.store.users[u.ID]; exists {
		return gorm.ErrDuplicatedKey
	}
	for _, existing := range r.store.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return gorm.ErrDuplicatedKey
		}
	}
	u.CreatedAt = r.store.stamp(u.ID)
	u.UpdatedAt = u.CreatedAt
	r.store.users[u.ID] = cloneUser(u)
	r.store.writes++
	id := u.ID
	r.store.journal(ctx, func() {
		delete(r.store.users, id)
		r.store.writes--
	})
	return nil
}

func (r *fakeUserRepo) Save(ctx context.Context, u *models.User) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if err := r.store.fail("users.Save"); err != nil {
		return err
	}
	return r.saveLocked(ctx, u)
}

func (r *fakeUserRepo) SaveBatch(ctx context.Context, users []*models.User) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if err := r.store.fail("users.SaveBatch"); err != nil {
		return err
	}
	for _, u := range users {
		if err := r.saveLocked(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeUserRepo) Update(ctx context.Context, u *models.User) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	prev, ok := r.store.users[u.ID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	r.store.users[u.ID] = cloneUser(u)
	r.store.writes++
	r.store.journal(ctx, func() {
		r.store.users[prev.ID] = prev
		r.store.writes--
	})
	return nil
}

func (r *fakeUserRepo) ReassignAccount(ctx context.Context, userID, expectedAccountID, newAccountID string, adminType *models.AdminType) (bool, error) {
	if hook := r.store.beforeReassign[userID]; hook != nil {
		hook()
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if err := r.store.fail("users.ReassignAccount:" + userID); err != nil {
		return false, err
	}
	u, ok := r.store.users[userID]
	if !ok || u.AccountID != expectedAccountID {
		return false, nil
	}
	prev := cloneUser(u)
	r.store.journal(ctx, func() {
		r.store.users[userID] = prev
		r.store.writes--
	})
	u.AccountID = newAccountID
	if adminType != nil {
		u.AdminType = utils.ToPtr(*adminType)
	}
	r.store.writes++
	return true, nil
}

func (r *fakeUserRepo) ReassignAllFromAccount(ctx context.Context, fromAccountID, toAccountID string) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var moved []string
	for _, u := range r.store.users {
		if u.AccountID == fromAccountID {
			u.AccountID = toAccountID
			moved = append(moved, u.ID)
		}
	}
	r.store.writes++
	r.store.journal(ctx, func() {
		for _, id := range moved {
			if u, ok := r.store.users[id]; ok {
				u.AccountID = fromAccountID
			}
		}
		r.store.writes--
	})
	return int64(len(moved)), nil
}

type fakeAuditRepo struct {
	store *fakeStore
}

func (r *fakeAuditRepo) Save(ctx context.Context, a *models.AuditLog) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.audits = append(r.store.audits, a)
	r.store.journal(ctx, func() {
		for i, existing := range r.store.audits {
			if existing == a {
				r.store.audits = append(r.store.audits[:i], r.store.audits[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (r *fakeAuditRepo) ByFilter(_ context.Context, _ models.AuditLogFilter, _ string, _, _ int) ([]*models.AuditLog, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return append([]*models.AuditLog(nil), r.store.audits...), nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func page[T any](in []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(in) {
			return nil
		}
		in = in[offset:]
	}
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}

// fakeLegacyClient serves canned legacy data
type fakeLegacyClient struct {
	loginErr     error
	adminPages   [][]dto.LegacyAdmin
	adminsErr    error
	schedules    []dto.LegacySchedule
	schedulesErr error
	attendance   map[string][]dto.LegacyAttendance
	attendErr    map[string]error
	attendDelay  time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	adminCalls  atomic.Int32
}

func (c *fakeLegacyClient) Login(context.Context) (string, error) {
	if c.loginErr != nil {
		return "", c.loginErr
	}
	return "legacy-token", nil
}

func (c *fakeLegacyClient) ListAdmins(_ context.Context, _ string, page, _ int) ([]dto.LegacyAdmin, error) {
	c.adminCalls.Add(1)
	if c.adminsErr != nil {
		return nil, c.adminsErr
	}
	if page-1 < len(c.adminPages) {
		return c.adminPages[page-1], nil
	}
	return nil, nil
}

func (c *fakeLegacyClient) ListSchedules(context.Context, string) ([]dto.LegacySchedule, error) {
	if c.schedulesErr != nil {
		return nil, c.schedulesErr
	}
	return c.schedules, nil
}

func (c *fakeLegacyClient) ListAttendance(ctx context.Context, _ string, scheduleID string) ([]dto.LegacyAttendance, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		m := c.maxInFlight.Load()
		if n <= m || c.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	if c.attendDelay > 0 {
		select {
		case <-time.After(c.attendDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := c.attendErr[scheduleID]; err != nil {
		return nil, err
	}
	return c.attendance[scheduleID], nil
}

// fixture wires flows over one fake store
type fixture struct {
	store       *fakeStore
	accounts    *fakeAccountRepo
	users       *fakeUserRepo
	audits      *fakeAuditRepo
	tx          *fakeTxManager
	permissions PermissionEvaluator
}

func newFixture() *fixture {
	store := newFakeStore()
	f := &fixture{
		store:    store,
		accounts: &fakeAccountRepo{store: store},
		users:    &fakeUserRepo{store: store},
		audits:   &fakeAuditRepo{store: store},
		tx:       &fakeTxManager{store: store},
	}
	f.permissions = NewPermissionEvaluator(f.accounts, nil)
	return f
}

func (f *fixture) accountFlow() AccountFlow {
	return NewAccountFlow(f.accounts, f.users, f.audits, f.tx, f.permissions, nil)
}

func (f *fixture) userFlow() UserFlow {
	return NewUserFlow(f.accounts, f.users, f.audits, f.tx, 4, nil)
}

func (f *fixture) actor(userID string) *Actor {
	u := f.store.user(userID)
	return &Actor{User: u, Account: f.store.account(u.AccountID)}
}

func newAccount(id string, t models.AccountType, parentID string) *models.Account {
	a := &models.Account{ID: id, Name: strings.ToUpper(id), Type: t}
	if parentID != "" {
		a.ParentID = utils.ToPtr(parentID)
	}
	return a
}

func newAdmin(id, accountID string, adminType models.AdminType) *models.User {
	return &models.User{
		ID:        id,
		FirstName: id,
		LastName:  "Admin",
		Email:     id + "@example.com",
		Role:      models.RoleAdmin,
		AdminType: utils.ToPtr(adminType),
		AccountID: accountID,
		Source:    models.UserSourceLocal,
	}
}

func newUser(id, accountID string) *models.User {
	return &models.User{
		ID:        id,
		FirstName: id,
		LastName:  "User",
		Email:     id + "@example.com",
		Role:      models.RoleUser,
		AccountID: accountID,
		Source:    models.UserSourceLocal,
	}
}

// seedOrg builds M(main) > R(regional) > D(district) with a super admin on M,
// a limited admin on R and a primary admin candidate on M
func seedOrg(f *fixture) {
	f.store.putAccount(newAccount("M", models.AccountTypeMain, ""))
	f.store.putAccount(newAccount("R", models.AccountTypeRegional, "M"))
	f.store.putAccount(newAccount("D", models.AccountTypeDistrict, "R"))
	f.store.putAccount(newAccount("X", models.AccountTypeMain, ""))
	f.store.putAccount(newAccount("XB", models.AccountTypeBranch, "X"))

	f.store.putUser(newAdmin("super", "M", models.AdminTypeUnlimited))
	f.store.putUser(newAdmin("P", "M", models.AdminTypeLimited))
	f.store.putUser(newAdmin("limited", "R", models.AdminTypeLimited))
	f.store.putUser(newUser("u1", "M"))
	f.store.putUser(newAdmin("u2", "M", models.AdminTypeLimited))
}
