// Package memory is an in-memory repository.Storage used to test the
// token-lifecycle engine without a database. Transactions serialize on
// one mutex; there is no rollback, so the engine only writes on paths
// that are meant to commit (which the service guarantees anyway).
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ivolkov/coinkeeper/internal/models"
	"github.com/ivolkov/coinkeeper/internal/repository"
)

type data struct {
	users     map[uuid.UUID]*models.User
	usernames map[string]uuid.UUID
	emails    map[string]uuid.UUID

	refresh       map[uuid.UUID]*models.RefreshToken
	refreshByHash map[string]uuid.UUID

	verification       map[uuid.UUID]*models.VerificationToken
	verificationByHash map[string]uuid.UUID
}

type Storage struct {
	mu   *sync.Mutex
	data *data
	inTx bool
}

func NewStorage() *Storage {
	return &Storage{
		mu: &sync.Mutex{},
		data: &data{
			users:              map[uuid.UUID]*models.User{},
			usernames:          map[string]uuid.UUID{},
			emails:             map[string]uuid.UUID{},
			refresh:            map[uuid.UUID]*models.RefreshToken{},
			refreshByHash:      map[string]uuid.UUID{},
			verification:       map[uuid.UUID]*models.VerificationToken{},
			verificationByHash: map[string]uuid.UUID{},
		},
	}
}

func (s *Storage) User() repository.UserRepo {
	return &UserRepo{s: s}
}

func (s *Storage) Refresh() repository.RefreshTokenRepo {
	return &RefreshTokenRepo{s: s}
}

func (s *Storage) Verification() repository.VerificationTokenRepo {
	return &VerificationTokenRepo{s: s}
}

func (s *Storage) InTx(ctx context.Context, fn func(repository.Storage) error) error {
	if s.inTx {
		return fn(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return fn(&Storage{mu: s.mu, data: s.data, inTx: true})
}

// lock guards single calls made outside InTx; inside a transaction the
// mutex is already held
func (s *Storage) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}
