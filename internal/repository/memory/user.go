package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ivolkov/coinkeeper/internal/apperrors"
	"github.com/ivolkov/coinkeeper/internal/models"
	"github.com/ivolkov/coinkeeper/internal/repository"
)

type UserRepo struct {
	s *Storage
}

func (r *UserRepo) CreateUser(_ context.Context, arg repository.CreateUserParams) (models.User, error) {
	defer r.s.lock()()
	d := r.s.data

	if _, ok := d.usernames[arg.Username]; ok {
		return models.User{}, apperrors.ErrUserAlreadyExists
	}
	if _, ok := d.emails[arg.Email]; ok {
		return models.User{}, apperrors.ErrUserAlreadyExists
	}

	user := models.User{
		ID:             uuid.New(),
		CreatedAt:      time.Now(),
		Username:       arg.Username,
		Email:          arg.Email,
		HashedPassword: arg.PasswordHash,
	}
	d.users[user.ID] = &user
	d.usernames[user.Username] = user.ID
	d.emails[user.Email] = user.ID

	return user, nil
}

func (r *UserRepo) GetUserByID(_ context.Context, userID uuid.UUID) (models.User, error) {
	defer r.s.lock()()
	return r.get(userID)
}

func (r *UserRepo) GetUserByIDForUpdate(ctx context.Context, userID uuid.UUID) (models.User, error) {
	return r.GetUserByID(ctx, userID)
}

func (r *UserRepo) GetUserByUsername(_ context.Context, username string) (models.User, error) {
	defer r.s.lock()()
	return r.get(r.s.data.usernames[username])
}

func (r *UserRepo) GetUserByUsernameForUpdate(ctx context.Context, username string) (models.User, error) {
	return r.GetUserByUsername(ctx, username)
}

func (r *UserRepo) GetUserByEmail(_ context.Context, email string) (models.User, error) {
	defer r.s.lock()()
	return r.get(r.s.data.emails[email])
}

func (r *UserRepo) SetLoginFailures(_ context.Context, userID uuid.UUID, failures int, lockedUntil *time.Time) error {
	defer r.s.lock()()

	user, ok := r.s.data.users[userID]
	if !ok {
		return apperrors.ErrUserNotFound
	}
	user.FailedLogins = failures
	user.LockedUntil = copyTime(lockedUntil)
	return nil
}

func (r *UserRepo) BumpTokenVersion(_ context.Context, userID uuid.UUID) (int64, error) {
	defer r.s.lock()()

	user, ok := r.s.data.users[userID]
	if !ok {
		return 0, apperrors.ErrUserNotFound
	}
	user.TokenVersion++
	return user.TokenVersion, nil
}

func (r *UserRepo) SetPassword(_ context.Context, userID uuid.UUID, passwordHash string) error {
	defer r.s.lock()()

	user, ok := r.s.data.users[userID]
	if !ok {
		return apperrors.ErrUserNotFound
	}
	user.HashedPassword = passwordHash
	return nil
}

func (r *UserRepo) MarkEmailVerified(_ context.Context, userID uuid.UUID) error {
	defer r.s.lock()()

	user, ok := r.s.data.users[userID]
	if !ok {
		return apperrors.ErrUserNotFound
	}
	user.EmailVerified = true
	return nil
}

func (r *UserRepo) get(userID uuid.UUID) (models.User, error) {
	user, ok := r.s.data.users[userID]
	if !ok {
		return models.User{}, apperrors.ErrUserNotFound
	}

	copied := *user
	copied.LockedUntil = copyTime(user.LockedUntil)
	return copied, nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	copied := *t
	return &copied
}
