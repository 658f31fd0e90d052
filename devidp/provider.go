package devidp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/wastehub/onboard"
	"github.com/wastehub/onboard/idp"
	"github.com/wastehub/onboard/internal"
	"github.com/wastehub/onboard/internal/limiters"
	"github.com/wastehub/onboard/internal/rate"
	"github.com/wastehub/onboard/internal/stores"
	"github.com/wastehub/onboard/pin"
	"github.com/wastehub/onboard/session"
	"go.uber.org/zap"
)

var _ idp.Client = (*Provider)(nil)

// Provider is a Redis-backed identity provider. It implements
// [idp.Client] in-process and backs the HTTP API served by [NewHandler].
// Every failure is an *[idp.Error], so an in-process caller sees the same
// errors the HTTP client would.
type Provider struct {
	cfg        Config
	logger     *zap.Logger
	notifier   Notifier
	accounts   *stores.AccountStore
	challenges *stores.ChallengeStore
	tokens     *stores.TokenStore
	otpLimiter *limiters.OTPRequestLimiter
	lockout    *limiters.LockoutLimiter
	hasher     *pin.Hasher
	newCode    func() (string, error)
}

// AccountSummary is the administrator's view of an account.
type AccountSummary struct {
	ID          string    `json:"id"`
	Role        string    `json:"role"`
	Contact     string    `json:"contact"`
	Status      string    `json:"registration_status"`
	CompanyName string    `json:"company_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// New validates cfg and builds a provider on rdb. A nil notifier logs
// codes through logger.
func New(rdb redis.UniversalClient, cfg Config, logger *zap.Logger, notifier Notifier) (*Provider, error) {
	if rdb == nil {
		return nil, errors.New("devidp: redis client is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	hasher, err := pin.NewHasher(cfg.PIN.Hash)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}

	counter := rate.New(rdb, cfg.KeyPrefix)
	p := &Provider{
		cfg:        cfg,
		logger:     logger,
		notifier:   notifier,
		accounts:   stores.NewAccountStore(rdb, cfg.KeyPrefix+":acct"),
		challenges: stores.NewChallengeStore(rdb, cfg.KeyPrefix+":otp"),
		tokens:     stores.NewTokenStore(rdb, cfg.KeyPrefix+":tok", cfg.Tokens.AccessTTL, cfg.Tokens.RefreshTTL),
		otpLimiter: limiters.NewOTPRequestLimiter(counter, limiters.OTPConfig{
			EnableIPThrottle: cfg.OTP.MaxPerIP > 0,
			PerContact:       rate.Window{Max: cfg.OTP.MaxPerContact, Period: cfg.OTP.Window},
			PerIP:            rate.Window{Max: cfg.OTP.MaxPerIP, Period: cfg.OTP.Window},
		}),
		lockout: limiters.NewLockoutLimiter(rdb, counter, cfg.KeyPrefix, limiters.LockoutConfig{
			Threshold: cfg.PIN.LockThreshold,
			Duration:  cfg.PIN.LockDuration,
		}),
		hasher: hasher,
	}
	p.newCode = func() (string, error) {
		if cfg.OTP.FixedCode != "" {
			return cfg.OTP.FixedCode, nil
		}
		return internal.NewOTP(cfg.OTP.Length)
	}
	return p, nil
}

// SeedAdministrators creates an administrator account for every configured
// email that has none.
func (p *Provider) SeedAdministrators(ctx context.Context) error {
	for _, raw := range p.cfg.Administrators {
		email := strings.ToLower(strings.TrimSpace(raw))
		if email == "" {
			continue
		}
		now := time.Now().Unix()
		_, created, err := p.accounts.FindOrCreate(ctx, stores.Account{
			ID:        uuid.NewString(),
			Role:      session.RoleAdministrator.String(),
			Contact:   email,
			Status:    session.StatusComplete.String(),
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return err
		}
		if created {
			p.logger.Info("administrator seeded", zap.String("email", email))
		}
	}
	return nil
}

// RequestOTP issues a code for the contact on the device, replacing any
// outstanding one. Unknown administrator emails get a receipt and no code.
func (p *Provider) RequestOTP(ctx context.Context, req idp.OTPRequest) (idp.OTPReceipt, error) {
	const op = "request_otp"

	contact, fields := contactFor(req.Role, req.Phone, req.Email)
	if req.DeviceID == "" {
		fields["device_id"] = "required"
	}
	if len(fields) > 0 {
		return idp.OTPReceipt{}, invalid(op, fields)
	}
	role := req.Role.String()
	now := time.Now()

	if req.Role == session.RoleAdministrator {
		_, err := p.accounts.Find(ctx, role, contact)
		if errors.Is(err, stores.ErrAccountNotFound) {
			p.logger.Info("otp requested for unknown administrator")
			return idp.OTPReceipt{SentAt: now}, nil
		}
		if err != nil {
			return idp.OTPReceipt{}, unavailable(op, err)
		}
	}

	if err := p.otpLimiter.Enforce(ctx, role, contact, onboard.ClientIPFromContext(ctx)); err != nil {
		if errors.Is(err, limiters.ErrOTPRateLimited) {
			return idp.OTPReceipt{}, failure(op, idp.KindRateLimited, http.StatusTooManyRequests, "too many codes requested, try again later")
		}
		return idp.OTPReceipt{}, unavailable(op, err)
	}

	code, err := p.newCode()
	if err != nil {
		return idp.OTPReceipt{}, internalError(op, err)
	}
	record := &stores.OTPChallenge{
		Role:      uint8(req.Role),
		CodeHash:  internal.HashSecret(code),
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(p.cfg.OTP.TTL).Unix(),
	}
	if err := p.challenges.Save(ctx, role, contact, req.DeviceID, record, p.cfg.OTP.TTL); err != nil {
		return idp.OTPReceipt{}, unavailable(op, err)
	}

	if err := p.notifier.Deliver(ctx, Delivery{
		Role:      req.Role,
		Contact:   contact,
		DeviceID:  req.DeviceID,
		Code:      code,
		ExpiresAt: now.Add(p.cfg.OTP.TTL),
	}); err != nil {
		return idp.OTPReceipt{}, unavailable(op, err)
	}
	return idp.OTPReceipt{SentAt: now}, nil
}

// VerifyOTP consumes the outstanding code and opens a provider session.
// A facility manager account is created on its first verified code.
func (p *Provider) VerifyOTP(ctx context.Context, req idp.OTPVerification) (idp.TokenBundle, error) {
	const op = "verify_otp"

	contact, fields := contactFor(req.Role, req.Phone, req.Email)
	if req.OTP == "" {
		fields["otp"] = "required"
	}
	if len(fields) > 0 {
		return idp.TokenBundle{}, invalid(op, fields)
	}
	role := req.Role.String()

	_, err := p.challenges.Consume(ctx, role, contact, req.DeviceID, internal.HashSecret(req.OTP), p.cfg.OTP.MaxAttempts)
	switch {
	case err == nil:
	case errors.Is(err, stores.ErrChallengeAttemptsExceeded):
		return idp.TokenBundle{}, failure(op, idp.KindRateLimited, http.StatusTooManyRequests, "too many attempts, request a new code")
	case errors.Is(err, stores.ErrChallengeBackend):
		return idp.TokenBundle{}, unavailable(op, err)
	default:
		return idp.TokenBundle{}, failure(op, idp.KindUnauthorized, http.StatusUnauthorized, "invalid or expired code")
	}

	var acct *stores.Account
	if req.Role == session.RoleAdministrator {
		acct, err = p.accounts.Find(ctx, role, contact)
		if errors.Is(err, stores.ErrAccountNotFound) {
			return idp.TokenBundle{}, failure(op, idp.KindUnauthorized, http.StatusUnauthorized, "invalid or expired code")
		}
	} else {
		now := time.Now().Unix()
		var created bool
		acct, created, err = p.accounts.FindOrCreate(ctx, stores.Account{
			ID:        uuid.NewString(),
			Role:      role,
			Contact:   contact,
			Status:    session.StatusUncomplete.String(),
			CreatedAt: now,
			UpdatedAt: now,
		})
		if created {
			p.logger.Info("account created", zap.String("account_id", acct.ID))
		}
	}
	if err != nil {
		return idp.TokenBundle{}, unavailable(op, err)
	}

	return p.issue(ctx, op, acct, "")
}

// CreateCompanyProfile stores the profile and moves the account to
// awaiting approval.
func (p *Provider) CreateCompanyProfile(ctx context.Context, accessToken string, profile idp.CompanyProfile) (idp.TokenBundle, error) {
	const op = "create_company_profile"

	acct, sess, err := p.authenticate(ctx, op, accessToken)
	if err != nil {
		return idp.TokenBundle{}, err
	}
	if acct.Role != session.RoleFacilityManager.String() {
		return idp.TokenBundle{}, failure(op, idp.KindRejected, http.StatusConflict, "not a facility manager account")
	}
	if fields := missingProfileFields(&profile); len(fields) > 0 {
		return idp.TokenBundle{}, invalid(op, fields)
	}

	data, err := json.Marshal(profile)
	if err != nil {
		return idp.TokenBundle{}, internalError(op, err)
	}
	acct, err = p.accounts.Transition(ctx, acct.ID,
		session.StatusUncomplete.String(), session.StatusAwaitingApproval.String(),
		map[string]any{"profile": string(data), "updated_at": time.Now().Unix()})
	if err != nil {
		return idp.TokenBundle{}, p.transitionError(op, err, "company profile already submitted")
	}

	return p.issue(ctx, op, acct, sess.SessionID)
}

// RegistrationStatus reports where the account is in onboarding.
func (p *Provider) RegistrationStatus(ctx context.Context, accessToken string) (idp.StatusReport, error) {
	const op = "registration_status"

	acct, _, err := p.authenticate(ctx, op, accessToken)
	if err != nil {
		return idp.StatusReport{}, err
	}
	status, _ := session.ParseRegistrationStatus(acct.Status)
	return idp.StatusReport{Status: status, NextStep: nextStep(status)}, nil
}

// CreatePIN sets the PIN of an approved account and completes onboarding.
func (p *Provider) CreatePIN(ctx context.Context, accessToken, value string) (idp.TokenBundle, error) {
	const op = "create_pin"

	if !pin.Valid(value) {
		return idp.TokenBundle{}, invalid(op, map[string]string{"pin": "must be 6 digits"})
	}
	acct, sess, err := p.authenticate(ctx, op, accessToken)
	if err != nil {
		return idp.TokenBundle{}, err
	}

	hash, err := p.hasher.Hash(value)
	if err != nil {
		return idp.TokenBundle{}, internalError(op, err)
	}
	acct, err = p.accounts.Transition(ctx, acct.ID,
		session.StatusApproved.String(), session.StatusComplete.String(),
		map[string]any{"pin_hash": hash, "updated_at": time.Now().Unix()})
	if err != nil {
		return idp.TokenBundle{}, p.transitionError(op, err, "account is not approved")
	}

	return p.issue(ctx, op, acct, sess.SessionID)
}

// VerifyPIN checks the PIN. Repeated failures lock the account for
// PIN.LockDuration.
func (p *Provider) VerifyPIN(ctx context.Context, accessToken, value string) (idp.TokenBundle, error) {
	const op = "verify_pin"

	acct, sess, err := p.authenticate(ctx, op, accessToken)
	if err != nil {
		return idp.TokenBundle{}, err
	}
	if acct.Status != session.StatusComplete.String() || acct.PINHash == "" {
		return idp.TokenBundle{}, failure(op, idp.KindRejected, http.StatusConflict, "no pin has been set")
	}

	locked, err := p.lockout.Locked(ctx, acct.ID)
	if err != nil {
		return idp.TokenBundle{}, unavailable(op, err)
	}
	if locked {
		return idp.TokenBundle{}, failure(op, idp.KindLocked, http.StatusForbidden, "account locked, try again later")
	}

	ok, err := p.hasher.Verify(value, acct.PINHash)
	if err != nil {
		return idp.TokenBundle{}, internalError(op, err)
	}
	if !ok {
		nowLocked, err := p.lockout.RecordFailure(ctx, acct.ID)
		if err != nil {
			return idp.TokenBundle{}, unavailable(op, err)
		}
		if nowLocked {
			p.logger.Warn("account locked after pin failures", zap.String("account_id", acct.ID))
			return idp.TokenBundle{}, failure(op, idp.KindLocked, http.StatusForbidden, "account locked, try again later")
		}
		return idp.TokenBundle{}, failure(op, idp.KindUnauthorized, http.StatusUnauthorized, "incorrect pin")
	}

	if err := p.lockout.Reset(ctx, acct.ID); err != nil {
		return idp.TokenBundle{}, unavailable(op, err)
	}
	if need, _ := p.hasher.NeedsRehash(acct.PINHash); need {
		if hash, err := p.hasher.Hash(value); err == nil {
			if err := p.accounts.SetFields(ctx, acct.ID, map[string]any{"pin_hash": hash}); err != nil {
				p.logger.Warn("pin rehash failed", zap.String("account_id", acct.ID), zap.Error(err))
			}
		}
	}

	return p.issue(ctx, op, acct, sess.SessionID)
}

// Refresh rotates the pair a refresh token belongs to. Each refresh
// token works once.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (idp.TokenBundle, error) {
	const op = "refresh"

	if refreshToken == "" {
		return idp.TokenBundle{}, failure(op, idp.KindUnauthorized, http.StatusUnauthorized, "refresh token required")
	}
	sess, err := p.tokens.ConsumeRefresh(ctx, internal.SecretKey(refreshToken))
	if err != nil {
		if errors.Is(err, stores.ErrTokenInvalid) {
			return idp.TokenBundle{}, failure(op, idp.KindUnauthorized, http.StatusUnauthorized, "refresh token invalid or expired")
		}
		return idp.TokenBundle{}, unavailable(op, err)
	}
	acct, err := p.accounts.Get(ctx, sess.AccountID)
	if err != nil {
		if errors.Is(err, stores.ErrAccountNotFound) {
			return idp.TokenBundle{}, failure(op, idp.KindUnauthorized, http.StatusUnauthorized, "account not found")
		}
		return idp.TokenBundle{}, unavailable(op, err)
	}
	return p.issue(ctx, op, acct, sess.SessionID)
}

// Logout revokes the session the access token belongs to.
func (p *Provider) Logout(ctx context.Context, accessToken string) error {
	const op = "logout"

	_, sess, err := p.authenticate(ctx, op, accessToken)
	if err != nil {
		return err
	}
	if err := p.tokens.Revoke(ctx, sess.SessionID); err != nil {
		return unavailable(op, err)
	}
	return nil
}

// Accounts lists accounts at status for an administrator. An empty status
// lists those awaiting approval.
func (p *Provider) Accounts(ctx context.Context, adminToken, status string) ([]AccountSummary, error) {
	const op = "list_accounts"

	if _, err := p.administrator(ctx, op, adminToken); err != nil {
		return nil, err
	}
	if status == "" {
		status = session.StatusAwaitingApproval.String()
	}
	parsed, ok := session.ParseRegistrationStatus(status)
	if !ok {
		return nil, invalid(op, map[string]string{"status": "unknown registration status"})
	}

	accts, err := p.accounts.ListByStatus(ctx, parsed.String())
	if err != nil {
		return nil, unavailable(op, err)
	}
	out := make([]AccountSummary, 0, len(accts))
	for i := range accts {
		if accts[i].Role != session.RoleFacilityManager.String() {
			continue
		}
		out = append(out, summarize(&accts[i]))
	}
	return out, nil
}

// Approve moves an account from awaiting approval to approved.
func (p *Provider) Approve(ctx context.Context, adminToken, accountID string) (AccountSummary, error) {
	const op = "approve"

	admin, err := p.administrator(ctx, op, adminToken)
	if err != nil {
		return AccountSummary{}, err
	}
	acct, err := p.accounts.Transition(ctx, accountID,
		session.StatusAwaitingApproval.String(), session.StatusApproved.String(),
		map[string]any{"updated_at": time.Now().Unix()})
	if err != nil {
		return AccountSummary{}, p.transitionError(op, err, "account is not awaiting approval")
	}

	p.logger.Info("account approved", zap.String("account_id", acct.ID), zap.String("approved_by", admin.ID))
	return summarize(acct), nil
}

func (p *Provider) authenticate(ctx context.Context, op, accessToken string) (*stores.Account, *stores.TokenSession, error) {
	if accessToken == "" {
		return nil, nil, failure(op, idp.KindUnauthorized, http.StatusUnauthorized, "access token required")
	}
	sess, err := p.tokens.ResolveAccess(ctx, internal.SecretKey(accessToken))
	if err != nil {
		if errors.Is(err, stores.ErrTokenInvalid) {
			return nil, nil, failure(op, idp.KindUnauthorized, http.StatusUnauthorized, "access token invalid or expired")
		}
		return nil, nil, unavailable(op, err)
	}
	acct, err := p.accounts.Get(ctx, sess.AccountID)
	if err != nil {
		if errors.Is(err, stores.ErrAccountNotFound) {
			return nil, nil, failure(op, idp.KindUnauthorized, http.StatusUnauthorized, "account not found")
		}
		return nil, nil, unavailable(op, err)
	}
	return acct, sess, nil
}

func (p *Provider) administrator(ctx context.Context, op, token string) (*stores.Account, error) {
	acct, _, err := p.authenticate(ctx, op, token)
	if err != nil {
		return nil, err
	}
	if acct.Role != session.RoleAdministrator.String() {
		return nil, failure(op, idp.KindRejected, http.StatusForbidden, "administrator token required")
	}
	return acct, nil
}

// issue opens a new session when sid is empty, otherwise rotates the pair
// of session sid.
func (p *Provider) issue(ctx context.Context, op string, acct *stores.Account, sid string) (idp.TokenBundle, error) {
	if sid == "" {
		sid = uuid.NewString()
	}
	access, err := internal.NewOpaqueToken()
	if err != nil {
		return idp.TokenBundle{}, internalError(op, err)
	}
	refresh, err := internal.NewOpaqueToken()
	if err != nil {
		return idp.TokenBundle{}, internalError(op, err)
	}

	sess := stores.TokenSession{SessionID: sid, AccountID: acct.ID}
	if err := p.tokens.Issue(ctx, sess, internal.SecretKey(access), internal.SecretKey(refresh)); err != nil {
		return idp.TokenBundle{}, unavailable(op, err)
	}

	status, _ := session.ParseRegistrationStatus(acct.Status)
	return idp.TokenBundle{
		Tokens: session.Tokens{
			AccessToken:  access,
			RefreshToken: refresh,
			TokenType:    "Bearer",
			SessionID:    sid,
		},
		Status:   status,
		NextStep: nextStep(status),
	}, nil
}

func (p *Provider) transitionError(op string, err error, conflict string) error {
	switch {
	case errors.Is(err, stores.ErrAccountState):
		return failure(op, idp.KindRejected, http.StatusConflict, conflict)
	case errors.Is(err, stores.ErrAccountNotFound):
		return failure(op, idp.KindRejected, http.StatusNotFound, "account not found")
	default:
		return unavailable(op, err)
	}
}

func contactFor(role session.Role, phone, email string) (string, map[string]string) {
	fields := map[string]string{}
	switch role {
	case session.RoleFacilityManager:
		phone = strings.TrimSpace(phone)
		if phone == "" {
			fields["phone"] = "required"
		}
		return phone, fields
	case session.RoleAdministrator:
		email = strings.ToLower(strings.TrimSpace(email))
		if !strings.Contains(email, "@") {
			fields["email"] = "required"
		}
		return email, fields
	default:
		fields["role"] = "unknown role"
		return "", fields
	}
}

func missingProfileFields(p *idp.CompanyProfile) map[string]string {
	fields := map[string]string{}
	for name, v := range map[string]*string{
		"company_name":  &p.CompanyName,
		"company_type":  &p.CompanyType,
		"address":       &p.Address,
		"province":      &p.Province,
		"city":          &p.City,
		"postal_code":   &p.PostalCode,
		"company_phone": &p.CompanyPhone,
		"company_email": &p.CompanyEmail,
		"website":       &p.Website,
		"founded_date":  &p.FoundedDate,
		"tax_id":        &p.TaxID,
		"description":   &p.Description,
	} {
		*v = strings.TrimSpace(*v)
		if *v == "" {
			fields[name] = "required"
		}
	}
	return fields
}

func nextStep(status session.RegistrationStatus) string {
	switch status {
	case session.StatusUncomplete:
		return "complete_profile"
	case session.StatusAwaitingApproval:
		return "await_approval"
	case session.StatusApproved:
		return "create_pin"
	case session.StatusComplete:
		return "dashboard"
	default:
		return ""
	}
}

func summarize(acct *stores.Account) AccountSummary {
	s := AccountSummary{
		ID:        acct.ID,
		Role:      acct.Role,
		Contact:   acct.Contact,
		Status:    acct.Status,
		CreatedAt: time.Unix(acct.CreatedAt, 0).UTC(),
	}
	if acct.Profile != "" {
		var profile idp.CompanyProfile
		if json.Unmarshal([]byte(acct.Profile), &profile) == nil {
			s.CompanyName = profile.CompanyName
		}
	}
	return s
}
