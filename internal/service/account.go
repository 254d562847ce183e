package service

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/shortlink/internal/model"
	"github.com/dukerupert/shortlink/internal/otp"
	"github.com/dukerupert/shortlink/internal/store"
)

const (
	ChallengeTTL     = 10 * time.Minute
	RegisterTokenTTL = 8 * time.Hour
	LoginTokenTTL    = time.Hour
	MaxCodeAttempts  = 5

	DefaultMaxAccounts = 50
)

// Mailer delivers verification codes.
type Mailer interface {
	SendOTP(ctx context.Context, to, code string, ttl time.Duration) error
}

// TokenIssuer signs bearer tokens for an account.
type TokenIssuer interface {
	Issue(accountID string, ttl time.Duration) (string, error)
}

// RegisterInput completes a registration started with RegisterInitiate.
type RegisterInput struct {
	Email     string
	Code      string
	FirstName string
	LastName  string
	Password  string
}

// AccountPatch lists the fields of a self-service update. Nil and empty
// values leave the field unchanged.
type AccountPatch struct {
	FirstName *string
	LastName  *string
	Email     *string
	Password  *string
}

func (p AccountPatch) empty() bool {
	return isBlank(p.FirstName) && isBlank(p.LastName) && isBlank(p.Email) && isBlank(p.Password)
}

func isBlank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

type AccountService struct {
	accounts    *store.AccountStore
	links       *store.LinkStore
	challenges  otp.Store
	tokens      TokenIssuer
	mailer      Mailer
	maxAccounts int
	bcryptCost  int
	now         func() time.Time
	logger      *slog.Logger

	// compared against when the email is unknown so both login failures
	// cost one bcrypt comparison
	dummyHash []byte
}

type AccountOption func(*AccountService)

func WithMaxAccounts(n int) AccountOption {
	return func(s *AccountService) {
		if n > 0 {
			s.maxAccounts = n
		}
	}
}

func WithBcryptCost(cost int) AccountOption {
	return func(s *AccountService) {
		s.bcryptCost = cost
	}
}

func WithAccountClock(now func() time.Time) AccountOption {
	return func(s *AccountService) {
		s.now = now
	}
}

func NewAccountService(
	accounts *store.AccountStore,
	links *store.LinkStore,
	challenges otp.Store,
	tokens TokenIssuer,
	mailer Mailer,
	logger *slog.Logger,
	opts ...AccountOption,
) *AccountService {
	s := &AccountService{
		accounts:    accounts,
		links:       links,
		challenges:  challenges,
		tokens:      tokens,
		mailer:      mailer,
		maxAccounts: DefaultMaxAccounts,
		bcryptCost:  bcrypt.DefaultCost,
		now:         time.Now,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), s.bcryptCost)
	return s
}

func validEmail(email string) bool {
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func (s *AccountService) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", ErrPasswordLength
	}
	if err != nil {
		return "", internal("hash password", err)
	}
	return string(hash), nil
}

func (s *AccountService) checkAdmission(ctx context.Context) error {
	n, err := s.accounts.Count(ctx)
	if err != nil {
		return internal("count accounts", err)
	}
	if n >= s.maxAccounts {
		return ErrAdmissionClosed
	}
	return nil
}

// RegisterInitiate issues a verification code for email and mails it.
// A new call for the same email replaces the pending challenge.
func (s *AccountService) RegisterInitiate(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if !validEmail(email) {
		return ErrInvalidEmail
	}
	if err := s.checkAdmission(ctx); err != nil {
		return err
	}

	existing, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return internal("lookup account", err)
	}
	if existing != nil {
		return ErrEmailTaken
	}

	code, err := otp.GenerateCode()
	if err != nil {
		return internal("generate code", err)
	}
	c := otp.Challenge{Email: email, Code: code, ExpiresAt: s.now().Add(ChallengeTTL)}
	if err := s.challenges.Put(ctx, c); err != nil {
		return internal("store challenge", err)
	}

	if err := s.mailer.SendOTP(ctx, email, code, ChallengeTTL); err != nil {
		// An undelivered code cannot be verified.
		if derr := s.challenges.Delete(ctx, email); derr != nil {
			s.logger.Warn("discard undelivered challenge", "email", email, "error", derr)
		}
		return withCause(ErrEmailDelivery, err)
	}

	s.logger.Info("verification code sent", "email", email)
	return nil
}

// RegisterVerify checks the code for in.Email and, on success, creates the
// account and returns a token valid for RegisterTokenTTL.
func (s *AccountService) RegisterVerify(ctx context.Context, in RegisterInput) (string, *model.Account, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.Code = strings.TrimSpace(in.Code)
	if !validEmail(in.Email) {
		return "", nil, ErrInvalidEmail
	}
	if in.Code == "" {
		return "", nil, ErrCodeMissing
	}
	if in.Password == "" {
		return "", nil, ErrPasswordMissing
	}

	c, err := s.challenges.Get(ctx, in.Email)
	if err != nil {
		return "", nil, internal("load challenge", err)
	}
	if c == nil {
		return "", nil, ErrNoChallenge
	}

	if c.Code != in.Code {
		c.Attempts++
		if c.Attempts >= MaxCodeAttempts {
			if err := s.challenges.Delete(ctx, in.Email); err != nil {
				return "", nil, internal("discard challenge", err)
			}
			return "", nil, ErrTooManyTries
		}
		if err := s.challenges.Put(ctx, *c); err != nil {
			return "", nil, internal("store challenge", err)
		}
		return "", nil, ErrInvalidCode
	}

	if c.Expired(s.now()) {
		if err := s.challenges.Delete(ctx, in.Email); err != nil {
			return "", nil, internal("discard challenge", err)
		}
		return "", nil, ErrCodeExpired
	}

	// The cap may have filled up while the code was in flight.
	if err := s.checkAdmission(ctx); err != nil {
		return "", nil, err
	}

	hash, err := s.hashPassword(in.Password)
	if err != nil {
		return "", nil, err
	}

	account, err := s.accounts.Create(ctx,
		in.Email, strings.TrimSpace(in.FirstName), strings.TrimSpace(in.LastName), hash)
	if errors.Is(err, store.ErrEmailTaken) {
		return "", nil, ErrEmailTaken
	}
	if err != nil {
		return "", nil, internal("create account", err)
	}

	// The account is rolled back and the challenge kept so the same code can
	// be submitted again.
	tok, err := s.tokens.Issue(account.ID, RegisterTokenTTL)
	if err != nil {
		if delErr := s.accounts.Delete(ctx, account.ID); delErr != nil {
			s.logger.Error("roll back account", "account_id", account.ID, "error", delErr)
		}
		return "", nil, internal("issue token", err)
	}

	if err := s.challenges.Delete(ctx, in.Email); err != nil {
		s.logger.Warn("discard used challenge", "email", in.Email, "error", err)
	}

	s.logger.Info("account registered", "account_id", account.ID)
	return tok, account, nil
}

// Login returns a token valid for LoginTokenTTL. Unknown email and wrong
// password both yield ErrInvalidLogin.
func (s *AccountService) Login(ctx context.Context, email, password string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return "", ErrInvalidLogin
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return "", internal("lookup account", err)
	}

	hash := s.dummyHash
	if account != nil {
		hash = []byte(account.PasswordHash)
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil || account == nil {
		return "", ErrInvalidLogin
	}

	tok, err := s.tokens.Issue(account.ID, LoginTokenTTL)
	if err != nil {
		return "", internal("issue token", err)
	}
	return tok, nil
}

func (s *AccountService) Get(ctx context.Context, accountID string) (*model.Account, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, internal("get account", err)
	}
	if account == nil {
		return nil, ErrAccountGone
	}
	return account, nil
}

func (s *AccountService) Update(ctx context.Context, accountID string, p AccountPatch) (*model.Account, error) {
	if p.empty() {
		return nil, ErrNothingToSave
	}

	account, err := s.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if !isBlank(p.FirstName) {
		account.FirstName = strings.TrimSpace(*p.FirstName)
	}
	if !isBlank(p.LastName) {
		account.LastName = strings.TrimSpace(*p.LastName)
	}
	if !isBlank(p.Email) {
		email := strings.TrimSpace(*p.Email)
		if !validEmail(email) {
			return nil, ErrInvalidEmail
		}
		if email != account.Email {
			other, err := s.accounts.GetByEmail(ctx, email)
			if err != nil {
				return nil, internal("lookup account", err)
			}
			if other != nil && other.ID != account.ID {
				return nil, ErrEmailTaken
			}
			account.Email = email
		}
	}
	if !isBlank(p.Password) {
		hash, err := s.hashPassword(*p.Password)
		if err != nil {
			return nil, err
		}
		account.PasswordHash = hash
	}

	updated, err := s.accounts.Update(ctx, account)
	if errors.Is(err, store.ErrEmailTaken) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, internal("update account", err)
	}
	if updated == nil {
		return nil, ErrAccountGone
	}
	return updated, nil
}

// Delete removes the account. It refuses while the account owns any link,
// archived ones included.
func (s *AccountService) Delete(ctx context.Context, accountID string) error {
	if _, err := s.Get(ctx, accountID); err != nil {
		return err
	}

	n, err := s.links.CountByAccount(ctx, accountID)
	if err != nil {
		return internal("count links", err)
	}
	if n > 0 {
		return ErrAccountInUse
	}

	if err := s.accounts.Delete(ctx, accountID); err != nil {
		return internal("delete account", err)
	}
	s.logger.Info("account deleted", "account_id", accountID)
	return nil
}
