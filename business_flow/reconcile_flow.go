package businessflow

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/amirphl/orgsync/app/dto"
	"github.com/amirphl/orgsync/app/services"
	"github.com/amirphl/orgsync/config"
	"github.com/amirphl/orgsync/models"
	"github.com/amirphl/orgsync/repository"
	"github.com/amirphl/orgsync/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ReconciliationFlow converges local users with the legacy system of record
type ReconciliationFlow interface {
	Reconcile(ctx context.Context) (*dto.SyncSummaryDTO, error)
	OrganizationUsers(ctx context.Context, actor *Actor, metadata *ClientMetadata) (*dto.OrganizationUsersResponse, error)
}

type ReconciliationFlowImpl struct {
	accountRepo  repository.AccountRepository
	userRepo     repository.UserRepository
	auditRepo    repository.AuditLogRepository
	txManager    repository.TxManager
	legacy       services.LegacyClient
	lock         SyncLock
	legacyCfg    config.LegacyConfig
	reconcileCfg config.ReconcileConfig
	logger       *zap.Logger
}

func NewReconciliationFlow(
	accountRepo repository.AccountRepository,
	userRepo repository.UserRepository,
	auditRepo repository.AuditLogRepository,
	txManager repository.TxManager,
	legacy services.LegacyClient,
	lock SyncLock,
	legacyCfg config.LegacyConfig,
	reconcileCfg config.ReconcileConfig,
	logger *zap.Logger,
) ReconciliationFlow {
	if logger == nil {
		logger = zap.NewNop()
	}
	if lock == nil {
		lock = NewMemorySyncLock()
	}
	if legacyCfg.PageSize <= 0 {
		legacyCfg.PageSize = 100
	}
	if legacyCfg.MaxPages <= 0 {
		legacyCfg.MaxPages = 1000
	}
	if legacyCfg.BatchSize <= 0 {
		legacyCfg.BatchSize = 5
	}
	if legacyCfg.RequestTimeout <= 0 {
		legacyCfg.RequestTimeout = 10 * time.Second
	}
	if reconcileCfg.LockTTL <= 0 {
		reconcileCfg.LockTTL = 5 * time.Minute
	}
	if reconcileCfg.PlaceholderEmailDomain == "" {
		reconcileCfg.PlaceholderEmailDomain = "legacy.invalid"
	}
	return &ReconciliationFlowImpl{
		accountRepo:  accountRepo,
		userRepo:     userRepo,
		auditRepo:    auditRepo,
		txManager:    txManager,
		legacy:       legacy,
		lock:         lock,
		legacyCfg:    legacyCfg,
		reconcileCfg: reconcileCfg,
		logger:       logger,
	}
}

// column limits of the users table
const (
	maxUserIDLen     = 64
	maxNameLen       = 255
	maxEmailLen      = 255
	maxPhoneLen      = 32
	maxExternalIDLen = 128
)

// externalRecord is a legacy admin or attendee normalized for upsert
type externalRecord struct {
	id        string
	extID     string
	firstName string
	lastName  string
	email     string
	phone     string
	role      models.Role
}

// Reconcile runs one sync. Only a failed legacy login or admin fetch aborts it;
// schedule and attendance failures leave that phase empty.
func (f *ReconciliationFlowImpl) Reconcile(ctx context.Context) (*dto.SyncSummaryDTO, error) {
	summary := &dto.SyncSummaryDTO{StartedAt: utils.UTCNow()}
	defer func() {
		summary.DurationMilliseconds = time.Since(summary.StartedAt).Milliseconds()
	}()

	release, acquired, err := f.lock.TryLock(ctx, utils.ReconcileLockKey, f.reconcileCfg.LockTTL)
	if err != nil {
		return nil, NewBusinessError("RECONCILE_LOCK_FAILED", "Failed to acquire reconciliation lock", err)
	}
	if !acquired {
		f.logger.Info("reconciliation already running elsewhere, skipping")
		summary.Skipped = true
		return summary, nil
	}
	defer release()

	token, err := f.legacy.Login(ctx)
	if err != nil {
		f.logger.Error("legacy login failed", zap.Error(err))
		return nil, NewBusinessError("LEGACY_AUTH_FAILED", "Failed to authenticate against the legacy system", fmt.Errorf("%w: %w", ErrLegacyAuthFailed, err))
	}

	admins, err := f.fetchAdmins(ctx, token)
	if err != nil {
		f.logger.Error("legacy admin fetch failed", zap.Error(err))
		return nil, NewBusinessError("LEGACY_FETCH_FAILED", "Failed to fetch admins from the legacy system", fmt.Errorf("%w: %w", ErrLegacyFetchFailed, err))
	}
	summary.AdminsFetched = len(admins)

	attendees := f.fetchAttendees(ctx, token, summary)
	summary.AttendeesFetched = len(attendees)

	unique := dedupByPhone(attendees)
	summary.UniqueAttendees = len(unique)

	records := make([]externalRecord, 0, len(admins)+len(unique))
	for _, a := range admins {
		records = append(records, f.adminRecord(a))
	}
	for _, a := range unique {
		records = append(records, f.attendeeRecord(a))
	}
	records = f.dropOversized(records, summary)

	err = f.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		root, err := EnsureOrganizationRoot(txCtx, f.accountRepo, f.reconcileCfg)
		if err != nil {
			return err
		}
		summary.MainAccountID = root.ID

		created, skipped, err := f.upsert(txCtx, root.ID, records)
		if err != nil {
			return err
		}
		summary.ExistingSkipped = skipped
		for _, u := range created {
			if u.Role == models.RoleAdmin {
				summary.AdminsCreated++
			} else {
				summary.UsersCreated++
			}
		}

		if len(created) == 0 {
			return nil
		}
		return createAuditLog(txCtx, f.auditRepo, "", models.AuditActionReconciled, utils.ToPtr(root.ID), true, nil, nil, summary, nil)
	})
	if err != nil {
		f.logger.Error("reconciliation upsert failed", zap.Error(err))
		return nil, NewBusinessError("RECONCILE_UPSERT_FAILED", "Failed to store reconciled users", err)
	}

	f.logger.Info("reconciliation finished",
		zap.Int("admins_fetched", summary.AdminsFetched),
		zap.Int("attendees_fetched", summary.AttendeesFetched),
		zap.Int("unique_attendees", summary.UniqueAttendees),
		zap.Int("admins_created", summary.AdminsCreated),
		zap.Int("users_created", summary.UsersCreated),
		zap.Int("existing_skipped", summary.ExistingSkipped),
		zap.Int("invalid_skipped", summary.InvalidSkipped),
		zap.Int("attendance_failures", summary.AttendanceFailures),
	)
	return summary, nil
}

// fetchAdmins pages through the admin directory until a short page
func (f *ReconciliationFlowImpl) fetchAdmins(ctx context.Context, token string) ([]dto.LegacyAdmin, error) {
	var out []dto.LegacyAdmin
	for page := 1; page <= f.legacyCfg.MaxPages; page++ {
		batch, err := f.legacy.ListAdmins(ctx, token, page, f.legacyCfg.PageSize)
		if err != nil {
			return nil, err
		}
		for _, a := range batch {
			if strings.TrimSpace(a.Phone) == "" {
				continue
			}
			out = append(out, a)
		}
		if len(batch) < f.legacyCfg.PageSize {
			return out, nil
		}
	}
	f.logger.Warn("legacy admin pagination hit the page limit", zap.Int("max_pages", f.legacyCfg.MaxPages))
	return out, nil
}

// fetchAttendees loads schedules and their attendance in bounded batches. Results keep schedule order.
func (f *ReconciliationFlowImpl) fetchAttendees(ctx context.Context, token string, summary *dto.SyncSummaryDTO) []dto.LegacyAttendance {
	schedules, err := f.legacy.ListSchedules(ctx, token)
	if err != nil {
		f.logger.Warn("legacy schedule fetch failed, continuing without attendance", zap.Error(err))
		summary.ScheduleFetchFailed = true
		return nil
	}
	summary.SchedulesFetched = len(schedules)

	var failures atomic.Int64
	perSchedule := make([][]dto.LegacyAttendance, len(schedules))
	for start := 0; start < len(schedules); start += f.legacyCfg.BatchSize {
		end := min(start+f.legacyCfg.BatchSize, len(schedules))

		var g errgroup.Group
		for i := start; i < end; i++ {
			scheduleID := schedules[i].ID.String()
			g.Go(func() error {
				callCtx, cancel := context.WithTimeout(ctx, f.legacyCfg.RequestTimeout)
				defer cancel()

				records, err := f.legacy.ListAttendance(callCtx, token, scheduleID)
				if err != nil {
					failures.Add(1)
					f.logger.Warn("legacy attendance fetch failed", zap.String("schedule_id", scheduleID), zap.Error(err))
					return nil
				}
				perSchedule[i] = records
				return nil
			})
		}
		_ = g.Wait()
	}
	summary.AttendanceFailures = int(failures.Load())

	var out []dto.LegacyAttendance
	for _, records := range perSchedule {
		for _, r := range records {
			if r.MemberID == "" {
				continue
			}
			out = append(out, r)
		}
	}
	return out
}

// dedupByPhone keeps the last record seen for each phone, at the position of the first.
// Records without a phone are keyed by member id.
func dedupByPhone(records []dto.LegacyAttendance) []dto.LegacyAttendance {
	index := make(map[string]int, len(records))
	out := make([]dto.LegacyAttendance, 0, len(records))
	for _, r := range records {
		key := "phone:" + strings.TrimSpace(r.Phone)
		if strings.TrimSpace(r.Phone) == "" {
			key = "member:" + r.MemberID.String()
		}
		if i, ok := index[key]; ok {
			out[i] = r
			continue
		}
		index[key] = len(out)
		out = append(out, r)
	}
	return out
}

func (f *ReconciliationFlowImpl) adminRecord(a dto.LegacyAdmin) externalRecord {
	ext := a.ID.String()
	return externalRecord{
		id:        utils.LegacyAdminIDPrefix + ext,
		extID:     ext,
		firstName: utils.Truncate(utils.SanitizeText(a.FirstName), maxNameLen),
		lastName:  utils.Truncate(utils.SanitizeText(a.LastName), maxNameLen),
		email:     f.emailFor(a.Email, utils.LegacyAdminIDPrefix, ext),
		phone:     strings.TrimSpace(a.Phone),
		role:      models.RoleAdmin,
	}
}

func (f *ReconciliationFlowImpl) attendeeRecord(a dto.LegacyAttendance) externalRecord {
	ext := a.MemberID.String()
	return externalRecord{
		id:        utils.LegacyUserIDPrefix + ext,
		extID:     ext,
		firstName: utils.Truncate(utils.SanitizeText(a.FirstName), maxNameLen),
		lastName:  utils.Truncate(utils.SanitizeText(a.LastName), maxNameLen),
		email:     f.emailFor(a.Email, utils.LegacyUserIDPrefix, ext),
		phone:     strings.TrimSpace(a.Phone),
		role:      models.RoleUser,
	}
}

// fits reports whether the identifying fields fit their columns. Names are truncated instead.
func (r externalRecord) fits() bool {
	return utf8.RuneCountInString(r.id) <= maxUserIDLen &&
		utf8.RuneCountInString(r.extID) <= maxExternalIDLen &&
		utf8.RuneCountInString(r.email) <= maxEmailLen &&
		utf8.RuneCountInString(r.phone) <= maxPhoneLen
}

// dropOversized removes records that would fail the insert and counts them on the summary
func (f *ReconciliationFlowImpl) dropOversized(records []externalRecord, summary *dto.SyncSummaryDTO) []externalRecord {
	out := records[:0]
	for _, r := range records {
		if !r.fits() {
			summary.InvalidSkipped++
			f.logger.Warn("legacy record does not fit the users table, skipping",
				zap.String("external_id", utils.Truncate(r.extID, maxExternalIDLen)),
				zap.String("role", string(r.role)),
			)
			continue
		}
		out = append(out, r)
	}
	return out
}

// emailFor normalizes an external email or derives a stable placeholder when it is missing
func (f *ReconciliationFlowImpl) emailFor(email, prefix, extID string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if email != "" {
		return email
	}
	return strings.ToLower(prefix + extID + "@" + f.reconcileCfg.PlaceholderEmailDomain)
}

// upsert inserts records whose email and derived id are both unused. Existing users are never touched.
func (f *ReconciliationFlowImpl) upsert(ctx context.Context, accountID string, records []externalRecord) ([]*models.User, int, error) {
	if len(records) == 0 {
		return nil, 0, nil
	}

	emails := make([]string, 0, len(records))
	ids := make([]string, 0, len(records))
	for _, r := range records {
		emails = append(emails, r.email)
		ids = append(ids, r.id)
	}

	takenEmails := make(map[string]struct{}, len(records))
	takenIDs := make(map[string]struct{}, len(records))
	byEmail, err := f.userRepo.ByFilter(ctx, models.UserFilter{Emails: emails}, "", 0, 0)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to lookup users by email: %w", err)
	}
	for _, u := range byEmail {
		takenEmails[strings.ToLower(u.Email)] = struct{}{}
	}
	byID, err := f.userRepo.ByFilter(ctx, models.UserFilter{IDs: ids}, "", 0, 0)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to lookup users by id: %w", err)
	}
	for _, u := range byID {
		takenIDs[u.ID] = struct{}{}
	}

	var toCreate []*models.User
	skipped := 0
	for _, r := range records {
		_, emailTaken := takenEmails[r.email]
		_, idTaken := takenIDs[r.id]
		if emailTaken || idTaken {
			skipped++
			continue
		}
		takenEmails[r.email] = struct{}{}
		takenIDs[r.id] = struct{}{}

		u := &models.User{
			ID:         r.id,
			FirstName:  r.firstName,
			LastName:   r.lastName,
			Email:      r.email,
			Phone:      r.phone,
			Role:       r.role,
			AccountID:  accountID,
			ExternalID: utils.ToPtr(r.extID),
			Source:     models.UserSourceLegacy,
		}
		if r.role == models.RoleAdmin {
			u.AdminType = utils.ToPtr(models.AdminTypeLimited)
		}
		toCreate = append(toCreate, u)
	}

	if len(toCreate) > 0 {
		if err := f.userRepo.SaveBatch(ctx, toCreate); err != nil {
			return nil, 0, fmt.Errorf("failed to insert reconciled users: %w", err)
		}
	}
	return toCreate, skipped, nil
}

// OrganizationUsers syncs with the legacy system and returns every account of the actor's
// organization with its admins and users
func (f *ReconciliationFlowImpl) OrganizationUsers(ctx context.Context, actor *Actor, metadata *ClientMetadata) (*dto.OrganizationUsersResponse, error) {
	summary, err := f.Reconcile(ctx)
	if err != nil {
		logFailure(f.logger, actor.ID(), "organization_users", "", err)
		return nil, err
	}

	mainAccount, err := resolveMainAccount(ctx, f.accountRepo, actor)
	if err != nil {
		return nil, NewBusinessError("MAIN_ACCOUNT_LOOKUP_FAILED", "Failed to resolve your main account", err)
	}

	all, err := f.accountRepo.ListAll(ctx)
	if err != nil {
		return nil, NewBusinessError("ACCOUNTS_LOOKUP_FAILED", "Failed to list accounts", err)
	}
	subtree := subtreeOf(mainAccount, all)

	ids := make([]string, 0, len(subtree))
	for _, a := range subtree {
		ids = append(ids, a.ID)
	}
	members, err := f.userRepo.ByFilter(ctx, models.UserFilter{AccountIDs: ids}, "", 0, 0)
	if err != nil {
		return nil, NewBusinessError("USERS_LOOKUP_FAILED", "Failed to list users", err)
	}

	nodes := make([]dto.OrganizationAccountDTO, len(subtree))
	pos := make(map[string]int, len(subtree))
	for i, a := range subtree {
		nodes[i] = dto.OrganizationAccountDTO{Account: ToAccountDTO(a), Admins: []dto.UserDTO{}, Users: []dto.UserDTO{}}
		pos[a.ID] = i
	}

	resp := &dto.OrganizationUsersResponse{MainAccount: ToAccountDTO(mainAccount), Sync: *summary}
	for _, u := range members {
		i, ok := pos[u.AccountID]
		if !ok {
			continue
		}
		if u.IsAdmin() {
			nodes[i].Admins = append(nodes[i].Admins, ToUserDTO(u))
			resp.TotalAdmins++
		} else {
			nodes[i].Users = append(nodes[i].Users, ToUserDTO(u))
			resp.TotalUsers++
		}
	}
	resp.Accounts = nodes
	return resp, nil
}

// subtreeOf returns root and its descendants in breadth-first order
func subtreeOf(root *models.Account, all []*models.Account) []*models.Account {
	children := make(map[string][]*models.Account, len(all))
	for _, a := range all {
		if a.ParentID != nil {
			children[*a.ParentID] = append(children[*a.ParentID], a)
		}
	}

	out := []*models.Account{root}
	seen := map[string]struct{}{root.ID: {}}
	for i := 0; i < len(out); i++ {
		for _, c := range children[out[i].ID] {
			if _, ok := seen[c.ID]; ok {
				continue
			}
			seen[c.ID] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// EnsureOrganizationRoot finds or creates the main account keyed by the organization key.
// The id is derived from the key so re-runs and restarts never produce a second root.
func EnsureOrganizationRoot(ctx context.Context, accountRepo repository.AccountRepository, cfg config.ReconcileConfig) (*models.Account, error) {
	key := cfg.OrganizationKey
	if key == "" {
		key = "default"
	}

	root, err := accountRepo.ByExternalKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup organization root: %w", err)
	}
	if root != nil {
		return root, nil
	}

	id := OrganizationRootID(key)
	root, err = accountRepo.ByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup organization root: %w", err)
	}
	if root != nil {
		return root, nil
	}

	name := cfg.OrganizationName
	if name == "" {
		name = key
	}
	root = &models.Account{
		ID:          id,
		ExternalKey: utils.ToPtr(key),
		Name:        utils.SanitizeText(name),
		Type:        models.AccountTypeMain,
		Country:     utils.SanitizeText(cfg.OrganizationCountry),
	}
	if err := accountRepo.Save(ctx, root); err != nil {
		return nil, fmt.Errorf("failed to create organization root: %w", err)
	}
	return root, nil
}

// OrganizationRootID derives the main account id from the organization key
func OrganizationRootID(key string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("orgsync:organization:"+key)).String()
}
