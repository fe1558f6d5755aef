// Package node registers the airports and airlines that take part in
// verification billing.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sovra/wallet-ledger/internal/ledger"
)

// Service provides node registration and lookup.
type Service struct {
	repo   Repository
	ledger ledger.Ledger
	logger *slog.Logger
}

// NewService constructs a node service.
func NewService(repo Repository, led ledger.Ledger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: led, logger: logger}
}

// RegisterInput captures the data required to register a node. ID is
// generated when empty.
type RegisterInput struct {
	ID         string
	Name       string
	Kind       Kind
	RegionCode string
}

// Register records a node and ensures its enterprise ledger account.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Node, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Node{}, fmt.Errorf("%w: name is required", ErrInvalidNode)
	}
	if !in.Kind.Valid() {
		return Node{}, fmt.Errorf("%w: kind must be %s or %s, got %q", ErrInvalidNode, KindAirport, KindAirline, in.Kind)
	}
	region := strings.ToUpper(strings.TrimSpace(in.RegionCode))
	if !validRegion(region) {
		return Node{}, fmt.Errorf("%w: region code must be 2 or 3 letters, got %q", ErrInvalidNode, in.RegionCode)
	}

	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.NewString()
	}
	if _, err := s.repo.Get(ctx, id); err == nil {
		return Node{}, fmt.Errorf("%w: %s", ErrNodeExists, id)
	}

	if _, err := s.ledger.GetOrCreate(ctx, id, ledger.KindEnterprise); err != nil {
		return Node{}, err
	}

	n := Node{
		ID:         id,
		Name:       name,
		Kind:       in.Kind,
		RegionCode: region,
		AccountID:  id,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return Node{}, err
	}
	s.logger.InfoContext(ctx, "node registered", "node_id", n.ID, "kind", n.Kind, "region", n.RegionCode)
	return n, nil
}

// Get returns a node by ID.
func (s *Service) Get(ctx context.Context, id string) (Node, error) {
	return s.repo.Get(ctx, id)
}

// List returns all registered nodes.
func (s *Service) List(ctx context.Context) ([]Node, error) {
	return s.repo.List(ctx)
}

func validRegion(code string) bool {
	if len(code) < 2 || len(code) > 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
