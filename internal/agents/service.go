package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/memohai/wadesk/internal/store"
)

var (
	ErrAgentNotFound      = errors.New("agent not found")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidRequest     = errors.New("invalid agent request")
)

// Store is the agent part of store.Driver.
type Store interface {
	CreateAgent(ctx context.Context, create *store.Agent) (*store.Agent, error)
	GetAgent(ctx context.Context, find *store.FindAgent) (*store.Agent, error)
	ListAgents(ctx context.Context, find *store.FindAgent) ([]*store.Agent, error)
	DeleteAgent(ctx context.Context, id string) error
}

// Service provides agent CRUD and credential checks.
type Service struct {
	store  Store
	logger *slog.Logger
	cost   int
}

// NewService creates a new agent service.
func NewService(log *slog.Logger, st Store) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:  st,
		logger: log.With(slog.String("service", "agents")),
		cost:   bcrypt.DefaultCost,
	}
}

// Create stores a new agent with a bcrypt password hash.
func (s *Service) Create(ctx context.Context, req CreateAgentRequest) (Agent, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return Agent{}, fmt.Errorf("%w: username and password are required", ErrInvalidRequest)
	}
	if _, err := s.store.GetAgent(ctx, &store.FindAgent{Username: username}); err == nil {
		return Agent{}, ErrUsernameTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return Agent{}, err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return Agent{}, fmt.Errorf("hash password: %w", err)
	}
	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = username
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	row, err := s.store.CreateAgent(ctx, &store.Agent{
		ID:           uuid.NewString(),
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: string(hashed),
		Active:       active,
		CreatedAt:    time.Now(),
	})
	if err != nil {
		return Agent{}, err
	}
	s.logger.Info("agent created", slog.String("agent_id", row.ID), slog.String("username", username))
	return toAgent(row), nil
}

func (s *Service) Get(ctx context.Context, id string) (Agent, error) {
	row, err := s.store.GetAgent(ctx, &store.FindAgent{ID: strings.TrimSpace(id)})
	if errors.Is(err, store.ErrNotFound) {
		return Agent{}, ErrAgentNotFound
	}
	if err != nil {
		return Agent{}, err
	}
	return toAgent(row), nil
}

// List returns agents in creation order, which is also the round-robin order.
func (s *Service) List(ctx context.Context, activeOnly bool) ([]Agent, error) {
	rows, err := s.store.ListAgents(ctx, &store.FindAgent{ActiveOnly: activeOnly})
	if err != nil {
		return nil, err
	}
	out := make([]Agent, 0, len(rows))
	for _, row := range rows {
		out = append(out, toAgent(row))
	}
	return out, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.store.DeleteAgent(ctx, strings.TrimSpace(id))
	if errors.Is(err, store.ErrNotFound) {
		return ErrAgentNotFound
	}
	if err != nil {
		return err
	}
	s.logger.Info("agent deleted", slog.String("agent_id", id))
	return nil
}

// Authenticate checks credentials. Unknown users, inactive agents and wrong
// passwords all return ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, username, password string) (Agent, error) {
	row, err := s.store.GetAgent(ctx, &store.FindAgent{Username: strings.TrimSpace(username)})
	if errors.Is(err, store.ErrNotFound) {
		return Agent{}, ErrInvalidCredentials
	}
	if err != nil {
		return Agent{}, err
	}
	if !row.Active {
		return Agent{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(row.PasswordHash), []byte(password)); err != nil {
		return Agent{}, ErrInvalidCredentials
	}
	return toAgent(row), nil
}

func toAgent(row *store.Agent) Agent {
	return Agent{
		ID:          row.ID,
		Username:    row.Username,
		DisplayName: row.DisplayName,
		Active:      row.Active,
		CreatedAt:   row.CreatedAt,
	}
}
