package routing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type Service struct {
	configs      ConfigRepository
	sources      SourceRepository
	destinations DestinationRepository
}

func NewService(configs ConfigRepository, sources SourceRepository, destinations DestinationRepository) *Service {
	return &Service{configs: configs, sources: sources, destinations: destinations}
}

func (s *Service) CreateConfig(ctx context.Context, c *HL7Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := s.configs.Create(ctx, c); err != nil {
		return fmt.Errorf("create hl7 config: %w", err)
	}
	return nil
}

func (s *Service) GetConfig(ctx context.Context, id uuid.UUID) (*HL7Config, error) {
	return s.configs.GetByID(ctx, id)
}

func (s *Service) AllConfigs(ctx context.Context) ([]*HL7Config, error) {
	return s.configs.GetAll(ctx)
}

func (s *Service) ListConfigs(ctx context.Context, limit, offset int) ([]*HL7Config, int, error) {
	return s.configs.List(ctx, limit, offset)
}

func (s *Service) UpdateConfig(ctx context.Context, c *HL7Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	return s.configs.Update(ctx, c)
}

func (s *Service) DeleteConfig(ctx context.Context, id uuid.UUID) error {
	return s.configs.Delete(ctx, id)
}

// MatchConfig finds the config whose sending ID matches the message. valueAt
// resolves an HL7 path against the message being routed.
func (s *Service) MatchConfig(ctx context.Context, valueAt func(path string) string) (*HL7Config, error) {
	configs, err := s.configs.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load hl7 configs: %w", err)
	}
	for _, c := range configs {
		if c.Matches(valueAt) {
			return c, nil
		}
	}
	return nil, ErrNotFound
}

func (s *Service) RegisterSource(ctx context.Context, a *SourceApplication) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if err := s.sources.Create(ctx, a); err != nil {
		return fmt.Errorf("register source application: %w", err)
	}
	return nil
}

func (s *Service) SourceByAETitle(ctx context.Context, aeTitle string) (*SourceApplication, error) {
	return s.sources.GetByAETitle(ctx, aeTitle)
}

func (s *Service) ListSources(ctx context.Context, limit, offset int) ([]*SourceApplication, int, error) {
	return s.sources.List(ctx, limit, offset)
}

func (s *Service) DeleteSource(ctx context.Context, id uuid.UUID) error {
	return s.sources.Delete(ctx, id)
}

func (s *Service) RegisterDestination(ctx context.Context, a *DestinationApplication) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if err := s.destinations.Create(ctx, a); err != nil {
		return fmt.Errorf("register destination application: %w", err)
	}
	return nil
}

func (s *Service) DestinationByAETitle(ctx context.Context, aeTitle string) (*DestinationApplication, error) {
	return s.destinations.GetByAETitle(ctx, aeTitle)
}

func (s *Service) ListDestinations(ctx context.Context, limit, offset int) ([]*DestinationApplication, int, error) {
	return s.destinations.List(ctx, limit, offset)
}

func (s *Service) DeleteDestination(ctx context.Context, id uuid.UUID) error {
	return s.destinations.Delete(ctx, id)
}
