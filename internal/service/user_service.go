package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"levelup-loyalty/internal/ledger"
	"levelup-loyalty/internal/models"
	"levelup-loyalty/internal/store"
	"levelup-loyalty/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UserService serves customers and their point balances. The stored user
// record never carries the balance; it is folded from the ledger on read.
type UserService struct {
	gw     *store.Gateway
	logger *zap.Logger
	now    func() time.Time
}

// NewUserService creates a new user service
func NewUserService(gw *store.Gateway) *UserService {
	return &UserService{
		gw:     gw,
		logger: util.GetLogger(),
		now:    time.Now,
	}
}

// CreateUserRequest represents a request to register a customer
type CreateUserRequest struct {
	Nombre   string `json:"nombre" binding:"required"`
	Correo   string `json:"correo" binding:"required"`
	Rut      string `json:"rut,omitempty"`
	Rol      string `json:"rol,omitempty"`
	Telefono string `json:"telefono,omitempty"`
}

// GrantPointsRequest represents an admin balance correction
type GrantPointsRequest struct {
	Points int    `json:"points" binding:"required"`
	Reason string `json:"reason"`
}

// Get returns a user with its derived balance and tier
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	ctx, span := util.StartSpan(ctx, "UserService.Get")
	defer span.End()

	users := store.ReadCollection[models.User](ctx, s.gw, store.KeyUsers)
	idx := findUser(users, id)
	if idx < 0 {
		return nil, models.ErrNotFound.WithContext("user_id", id)
	}
	entries := store.ReadCollection[models.LedgerEntry](ctx, s.gw, store.KeyLedger)
	user := withBalance(users[idx], entries)
	return &user, nil
}

// List returns every user with derived balances
func (s *UserService) List(ctx context.Context) []models.User {
	ctx, span := util.StartSpan(ctx, "UserService.List")
	defer span.End()

	users := store.ReadCollection[models.User](ctx, s.gw, store.KeyUsers)
	entries := store.ReadCollection[models.LedgerEntry](ctx, s.gw, store.KeyLedger)
	for i := range users {
		users[i] = withBalance(users[i], entries)
	}
	return users
}

// Create registers a user at tier bronce with no points
func (s *UserService) Create(ctx context.Context, req *CreateUserRequest) (*models.User, error) {
	ctx, span := util.StartSpan(ctx, "UserService.Create")
	defer span.End()

	nombre := strings.TrimSpace(req.Nombre)
	correo := strings.ToLower(strings.TrimSpace(req.Correo))
	if nombre == "" || !strings.Contains(correo, "@") {
		return nil, models.ErrInvalidUser.WithContext("correo", req.Correo)
	}

	var created models.User
	err := s.gw.Serialize(func() error {
		users, err := store.LoadCollection[models.User](ctx, s.gw, store.KeyUsers)
		if err != nil {
			return err
		}
		for _, u := range users {
			if strings.EqualFold(u.Correo, correo) {
				return models.ErrInvalidUser.WithContext("correo", correo, "reason", "already registered")
			}
		}

		created = models.User{
			ID:            uuid.New().String(),
			Nombre:        nombre,
			Correo:        correo,
			Rut:           req.Rut,
			Tipo:          userType(correo),
			Nivel:         models.TierBronze,
			Rol:           req.Rol,
			Telefono:      req.Telefono,
			Activo:        true,
			FechaRegistro: s.now().UTC(),
		}
		if created.Rol == "" {
			created.Rol = "cliente"
		}
		users = append(users, created)

		batch := store.NewBatch("create user " + created.ID)
		if err := batch.PutCollection(store.KeyUsers, users); err != nil {
			return err
		}
		return s.gw.Commit(ctx, batch)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("User created",
		zap.String("user_id", created.ID),
		zap.String("tipo", created.Tipo))
	return &created, nil
}

// Balance folds the user's ledger entries
func (s *UserService) Balance(ctx context.Context, id string) (int, error) {
	user, err := s.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return user.Puntos, nil
}

// History returns the user's ledger entries, newest first
func (s *UserService) History(ctx context.Context, id string) ([]models.LedgerEntry, error) {
	ctx, span := util.StartSpan(ctx, "UserService.History")
	defer span.End()

	users := store.ReadCollection[models.User](ctx, s.gw, store.KeyUsers)
	if findUser(users, id) < 0 {
		return nil, models.ErrNotFound.WithContext("user_id", id)
	}
	entries := ledger.ForUser(store.ReadCollection[models.LedgerEntry](ctx, s.gw, store.KeyLedger), id)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}

// GrantPoints appends an admin adjustment. A negative grant may not take the
// balance below zero.
func (s *UserService) GrantPoints(ctx context.Context, id string, req *GrantPointsRequest) (*models.User, error) {
	ctx, span := util.StartSpan(ctx, "UserService.GrantPoints")
	defer span.End()

	if req.Points == 0 {
		return nil, models.ErrInvalidUser.WithContext("points", 0)
	}

	var updated models.User
	err := s.gw.Serialize(func() error {
		users, err := store.LoadCollection[models.User](ctx, s.gw, store.KeyUsers)
		if err != nil {
			return err
		}
		idx := findUser(users, id)
		if idx < 0 {
			return models.ErrNotFound.WithContext("user_id", id)
		}
		entries, err := store.LoadCollection[models.LedgerEntry](ctx, s.gw, store.KeyLedger)
		if err != nil {
			return err
		}
		balance := ledger.Balance(entries, id)
		if balance+req.Points < 0 {
			return models.ErrInsufficientPoints.WithContext(
				"user_id", id,
				"balance", balance,
				"adjustment", req.Points,
			)
		}

		reason := req.Reason
		if reason == "" {
			reason = "admin adjustment"
		}
		entries = append(entries, ledger.NewEntry(id, models.EntryAdjust, req.Points, "", "", reason))

		batch := store.NewBatch(fmt.Sprintf("adjust points %s", id))
		if err := batch.PutCollection(store.KeyLedger, entries); err != nil {
			return err
		}
		if err := s.gw.Commit(ctx, batch); err != nil {
			return err
		}
		updated = withBalance(users[idx], entries)
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.PointsMovedTotal.WithLabelValues(models.EntryAdjust).Add(float64(abs(req.Points)))
	s.logger.Info("Points adjusted",
		zap.String("user_id", id),
		zap.Int("points", req.Points),
		zap.Int("balance", updated.Puntos))
	return &updated, nil
}

// PromoteTier recomputes the tier from lifetime points and persists it when
// it went up. Tiers never go down.
func (s *UserService) PromoteTier(ctx context.Context, id string) (*models.User, bool, error) {
	ctx, span := util.StartSpan(ctx, "UserService.PromoteTier")
	defer span.End()

	var (
		updated  models.User
		promoted bool
	)
	err := s.gw.Serialize(func() error {
		users, err := store.LoadCollection[models.User](ctx, s.gw, store.KeyUsers)
		if err != nil {
			return err
		}
		idx := findUser(users, id)
		if idx < 0 {
			return models.ErrNotFound.WithContext("user_id", id)
		}
		entries, err := store.LoadCollection[models.LedgerEntry](ctx, s.gw, store.KeyLedger)
		if err != nil {
			return err
		}

		current := users[idx].Nivel
		next := ledger.Promote(current, ledger.LifetimeEarned(entries, id))
		if next != current {
			users[idx].Nivel = next
			batch := store.NewBatch("promote tier " + id)
			if err := batch.PutCollection(store.KeyUsers, users); err != nil {
				return err
			}
			if err := s.gw.Commit(ctx, batch); err != nil {
				return err
			}
			promoted = true
		}
		updated = withBalance(users[idx], entries)
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if promoted {
		s.logger.Info("User promoted",
			zap.String("user_id", id),
			zap.String("nivel", updated.Nivel))
	}
	return &updated, promoted, nil
}

func findUser(users []models.User, id string) int {
	for i := range users {
		if users[i].ID == id {
			return i
		}
	}
	return -1
}

// withBalance fills the derived fields of user from the ledger
func withBalance(user models.User, entries []models.LedgerEntry) models.User {
	user.Puntos = ledger.Balance(entries, user.ID)
	user.Nivel = ledger.Promote(user.Nivel, ledger.LifetimeEarned(entries, user.ID))
	return user
}

func userType(correo string) string {
	for _, domain := range models.DuocDomains {
		if strings.HasSuffix(correo, "@"+domain) {
			return models.UserTypeDuoc
		}
	}
	return models.UserTypeNormal
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
