// Package admin keeps the list of users allowed to run events.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nantokaworks/guild-raffle/internal/localdb"
	"github.com/nantokaworks/guild-raffle/internal/shared/logger"
	"go.uber.org/zap"
)

var (
	ErrForbidden   = errors.New("main admin required")
	ErrNotAdmin    = errors.New("user is not in the admin list")
	ErrRemoveMain  = errors.New("main admins cannot be removed")
	ErrEmptyTarget = errors.New("admin identity is required")
)

// Store is the admin list backed by localdb. Main admins from configuration are
// authorized even when the database is unavailable.
type Store struct {
	mu   sync.RWMutex
	main map[string]struct{}
}

func NewStore(mainAdmins []string) *Store {
	s := &Store{main: make(map[string]struct{})}
	for _, id := range mainAdmins {
		if id = normalize(id); id != "" {
			s.main[id] = struct{}{}
		}
	}
	return s
}

func normalize(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// SeedMainAdmins writes the configured main admins to the database.
func (s *Store) SeedMainAdmins(ctx context.Context) error {
	s.mu.RLock()
	ids := make([]string, 0, len(s.main))
	for id := range s.main {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := localdb.UpsertAdmin(id, true, "config"); err != nil {
			return fmt.Errorf("failed to seed main admin %s: %w", id, err)
		}
	}
	if len(ids) > 0 {
		logger.Info("Main admins seeded", zap.Int("count", len(ids)))
	}
	return nil
}

// IsAuthorized reports whether identity is an admin, or a main admin when requireTopLevel is set.
func (s *Store) IsAuthorized(_ context.Context, identity string, requireTopLevel bool) bool {
	identity = normalize(identity)
	if identity == "" {
		return false
	}

	s.mu.RLock()
	_, configured := s.main[identity]
	s.mu.RUnlock()
	if configured {
		return true
	}

	a, err := localdb.GetAdmin(identity)
	if err != nil {
		if !errors.Is(err, localdb.ErrRecordNotFound) {
			logger.Warn("Admin lookup failed", zap.String("identity", identity), zap.Error(err))
		}
		return false
	}
	return a.IsMain || !requireTopLevel
}

// Add puts identity on the admin list. Only main admins may add.
func (s *Store) Add(ctx context.Context, actor, identity string) error {
	if !s.IsAuthorized(ctx, actor, true) {
		return ErrForbidden
	}
	identity = normalize(identity)
	if identity == "" {
		return ErrEmptyTarget
	}
	if err := localdb.UpsertAdmin(identity, false, normalize(actor)); err != nil {
		return err
	}
	logger.Info("Admin added", zap.String("identity", identity), zap.String("by", actor))
	return nil
}

// Remove takes identity off the admin list. Only main admins may remove, and main admins stay.
func (s *Store) Remove(ctx context.Context, actor, identity string) error {
	if !s.IsAuthorized(ctx, actor, true) {
		return ErrForbidden
	}
	identity = normalize(identity)
	if identity == "" {
		return ErrEmptyTarget
	}

	s.mu.RLock()
	_, configured := s.main[identity]
	s.mu.RUnlock()
	if configured {
		return ErrRemoveMain
	}

	a, err := localdb.GetAdmin(identity)
	if errors.Is(err, localdb.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", identity, ErrNotAdmin)
	}
	if err != nil {
		return err
	}
	if a.IsMain {
		return ErrRemoveMain
	}

	if err := localdb.DeleteAdmin(identity); err != nil {
		if errors.Is(err, localdb.ErrRecordNotFound) {
			return fmt.Errorf("%s: %w", identity, ErrNotAdmin)
		}
		return err
	}
	logger.Info("Admin removed", zap.String("identity", identity), zap.String("by", actor))
	return nil
}

// List returns the stored admins, main admins first.
func (s *Store) List(_ context.Context) ([]localdb.Admin, error) {
	return localdb.GetAdmins()
}

// Reason returns the chat reply for err.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrForbidden):
		return "You are not Admin !"
	case errors.Is(err, ErrNotAdmin):
		return "That user is not in the Admin List."
	case errors.Is(err, ErrRemoveMain):
		return "Main admins cannot be removed."
	case errors.Is(err, ErrEmptyTarget):
		return "You need to specify a user."
	default:
		return "Failed to update the Admin List."
	}
}
