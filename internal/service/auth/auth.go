package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/ivolkov/coinkeeper/internal/apperrors"
	"github.com/ivolkov/coinkeeper/internal/logger"
	"github.com/ivolkov/coinkeeper/internal/models"
	"github.com/ivolkov/coinkeeper/internal/repository"
	"github.com/ivolkov/coinkeeper/internal/service/auth/tokenmanager"
)

const (
	defaultRefreshTokenTTL      = 7 * 24 * time.Hour
	defaultRememberMeTTL        = 30 * 24 * time.Hour
	defaultMaxActiveSessions    = 5
	defaultLockoutThreshold     = 5
	defaultLockoutDuration      = 30 * time.Minute
	defaultEmailVerificationTTL = 24 * time.Hour
	defaultPasswordResetTTL     = time.Hour

	// How long expired and revoked records are kept before garbage
	// collection. Revoked records must outlive the family they belong
	// to: deleting them early would turn reuse detection into a plain
	// invalid-token miss.
	defaultRevokedRetention = 30 * 24 * time.Hour
)

// Auth service config with sensible defaults
type Config struct {
	// Hasher used during registration and login
	// If not set then bcrypt is used
	Hasher PasswordHasher

	// Mailer for verification and reset links
	// If not set then links are only logged
	Mailer Mailer

	Logger logger.Logger

	// Refresh token lifetimes: the remember-me window is used when the
	// client asked to stay logged in
	RefreshTokenTTL time.Duration
	RememberMeTTL   time.Duration

	// Active sessions allowed per account before the oldest is evicted
	MaxActiveSessions int

	// Consecutive failed logins before the account locks, and for how long
	LockoutThreshold int
	LockoutDuration  time.Duration

	EmailVerificationTTL time.Duration
	PasswordResetTTL     time.Duration

	RevokedRetention time.Duration
}

// AuthService owns the whole token lifecycle: login and lockout,
// refresh token rotation with reuse detection, session limits and
// verification tokens.
type AuthService struct {
	storage repository.Storage
	tokens  *tokenmanager.TokenManager
	hasher  PasswordHasher
	mailer  Mailer
	logger  logger.Logger

	validate *validator.Validate

	refreshTTL       time.Duration
	rememberTTL      time.Duration
	maxSessions      int
	lockoutThreshold int
	lockoutDuration  time.Duration
	verificationTTL  time.Duration
	resetTTL         time.Duration
	revokedRetention time.Duration

	// Hash compared against on unknown-user logins so the response
	// time matches the wrong-password path
	decoyHash string

	now func() time.Time
}

func NewService(cfg Config, tokens *tokenmanager.TokenManager, storage repository.Storage) (*AuthService, error) {
	if tokens == nil || storage == nil {
		return nil, errors.New("token manager and storage must not be nil")
	}

	if cfg.Hasher == nil {
		cfg.Hasher = DefaultHasher
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}
	if cfg.Mailer == nil {
		cfg.Mailer = LogMailer{Logger: cfg.Logger}
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.RefreshTokenTTL, defaultRefreshTokenTTL)
	setDefaultDuration(&cfg.RememberMeTTL, defaultRememberMeTTL)
	setDefaultDuration(&cfg.LockoutDuration, defaultLockoutDuration)
	setDefaultDuration(&cfg.EmailVerificationTTL, defaultEmailVerificationTTL)
	setDefaultDuration(&cfg.PasswordResetTTL, defaultPasswordResetTTL)
	setDefaultDuration(&cfg.RevokedRetention, defaultRevokedRetention)
	if cfg.MaxActiveSessions == 0 {
		cfg.MaxActiveSessions = defaultMaxActiveSessions
	}
	if cfg.LockoutThreshold == 0 {
		cfg.LockoutThreshold = defaultLockoutThreshold
	}

	decoyHash, err := cfg.Hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("error while preparing decoy hash. Err: %w", err)
	}

	return &AuthService{
		storage:          storage,
		tokens:           tokens,
		hasher:           cfg.Hasher,
		mailer:           cfg.Mailer,
		logger:           cfg.Logger,
		validate:         validator.New(),
		refreshTTL:       cfg.RefreshTokenTTL,
		rememberTTL:      cfg.RememberMeTTL,
		maxSessions:      cfg.MaxActiveSessions,
		lockoutThreshold: cfg.LockoutThreshold,
		lockoutDuration:  cfg.LockoutDuration,
		verificationTTL:  cfg.EmailVerificationTTL,
		resetTTL:         cfg.PasswordResetTTL,
		revokedRetention: cfg.RevokedRetention,
		decoyHash:        decoyHash,
		now:              time.Now,
	}, nil
}

type RegisterInput struct {
	Username string `validate:"required,min=2,max=50"`
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=8"`
}

// Register creates the user and sends the email-verification link
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (models.User, error) {
	var user models.User

	if err := s.validate.Struct(input); err != nil {
		return user, fmt.Errorf("invalid register input: %w", err)
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return user, fmt.Errorf("can't use this as password, Err: %w", err)
	}

	user, err = s.storage.User().CreateUser(ctx, repository.CreateUserParams{
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: hash,
	})
	if err != nil {
		return user, fmt.Errorf("can't create user. Err: %w", err)
	}

	secret, err := s.issueVerificationToken(ctx, user.ID, models.PurposeEmailVerification, s.verificationTTL)
	if err != nil {
		// The account exists either way; the link can be re-requested
		s.logger.Error("can't issue email verification token", "user_id", user.ID, "error", err)
		return user, nil
	}
	s.deliver(ctx, user.Email, "Verify your email", verificationMailBody(secret))

	return user, nil
}

type LoginInput struct {
	Username string `validate:"required"`
	Password string `validate:"required"`

	RememberMe bool
	Device     models.Device
}

// Login gates on account lockout, verifies the password and opens a new
// session (fresh token family). Failed-attempt bookkeeping is committed
// even though the call returns an error.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (models.TokenPair, error) {
	var pair models.TokenPair

	if err := s.validate.Struct(input); err != nil {
		return pair, apperrors.ErrInvalidCredentials
	}

	// Business failures are surfaced after the transaction commits, so
	// counter increments and lock timestamps are never rolled back
	var loginErr error

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		user, err := st.User().GetUserByUsernameForUpdate(ctx, input.Username)
		if err != nil {
			if errors.Is(err, apperrors.ErrUserNotFound) {
				// Burn the same time a real comparison would take
				_ = s.hasher.Compare(s.decoyHash, input.Password)
				loginErr = apperrors.ErrInvalidCredentials
				return nil
			}
			return err
		}

		now := s.now()

		if user.LockedUntil != nil {
			// Never compare passwords against a locked account
			if user.LockedUntil.After(now) {
				loginErr = &apperrors.AccountLockedError{Until: *user.LockedUntil}
				return nil
			}

			// The lock elapsed: forget the old failures before verifying
			if err := st.User().SetLoginFailures(ctx, user.ID, 0, nil); err != nil {
				return err
			}
			user.FailedLogins = 0
			user.LockedUntil = nil
		}

		if err := s.hasher.Compare(user.HashedPassword, input.Password); err != nil {
			failures := user.FailedLogins + 1
			var lockedUntil *time.Time
			if failures >= s.lockoutThreshold {
				until := now.Add(s.lockoutDuration)
				lockedUntil = &until
				s.logger.Warn("account locked after repeated failures", "user_id", user.ID, "until", until)
			}
			if err := st.User().SetLoginFailures(ctx, user.ID, failures, lockedUntil); err != nil {
				return err
			}
			loginErr = apperrors.ErrInvalidCredentials
			return nil
		}

		if user.FailedLogins != 0 {
			if err := st.User().SetLoginFailures(ctx, user.ID, 0, nil); err != nil {
				return err
			}
		}

		// New login means new token family
		pair, err = s.issueTokens(ctx, st, user, uuid.New(), input.RememberMe, input.Device, now)
		return err
	})

	switch {
	case err != nil:
		return models.TokenPair{}, err
	case loginErr != nil:
		return models.TokenPair{}, loginErr
	default:
		return pair, nil
	}
}

// Authenticate verifies an access token and cross-checks its embedded
// token version against the account's current one. A bumped version
// (logout-all, password reset) invalidates the token even though the
// signature is still good.
func (s *AuthService) Authenticate(ctx context.Context, access string) (models.User, error) {
	claims, err := s.tokens.Parse(access)
	if err != nil {
		return models.User{}, err
	}

	user, err := s.storage.User().GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrUserNotFound) {
			return models.User{}, apperrors.ErrInvalidToken
		}
		return models.User{}, err
	}

	if claims.TokenVersion != user.TokenVersion {
		return models.User{}, apperrors.ErrInvalidToken
	}

	return user, nil
}

// deliver sends mail without failing the calling operation
func (s *AuthService) deliver(ctx context.Context, to string, subject string, body string) {
	if err := s.mailer.Send(ctx, to, subject, body); err != nil {
		s.logger.Error("email delivery failed", "to", to, "subject", subject, "error", err)
	}
}

func verificationMailBody(secret models.Secret) string {
	return "Use this code to verify your email: " + string(secret)
}

func resetMailBody(secret models.Secret) string {
	return "Use this code to reset your password: " + string(secret)
}
