package policy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aegisshield/compliance-tracker/internal/clock"
	"github.com/aegisshield/compliance-tracker/internal/models"
)

// Service is the validating boundary in front of a Store. Invalid
// configuration never reaches the engine.
type Service struct {
	store  Store
	clock  clock.Clock
	logger *zap.Logger
}

// NewService wraps store
func NewService(store Store, clk clock.Clock, logger *zap.Logger) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{store: store, clock: clk, logger: logger.Named("policy")}
}

func (s *Service) SLAConfigs(ctx context.Context) ([]models.SLAConfiguration, error) {
	return s.store.ListSLAConfigs(ctx)
}

// SLAConfig returns nil when the status is not configured
func (s *Service) SLAConfig(ctx context.Context, status models.Status) (*models.SLAConfiguration, error) {
	return s.store.GetSLAConfig(ctx, status)
}

// SaveSLAConfig validates and stores cfg, replacing any configuration for its status
func (s *Service) SaveSLAConfig(ctx context.Context, cfg models.SLAConfiguration, by models.Actor) (models.SLAConfiguration, error) {
	if err := models.ValidateSLAConfiguration(cfg); err != nil {
		return models.SLAConfiguration{}, err
	}
	cfg.UpdatedBy = by.ID
	cfg.UpdatedAt = s.clock.Now()
	if err := s.store.PutSLAConfig(ctx, cfg); err != nil {
		return models.SLAConfiguration{}, fmt.Errorf("failed to save sla configuration: %w", err)
	}

	s.logger.Info("SLA configuration saved",
		zap.String("status", cfg.Status.String()),
		zap.Int("target_days", cfg.TargetDays),
		zap.Bool("enabled", cfg.Enabled),
		zap.String("updated_by", by.ID))
	return cfg, nil
}

func (s *Service) DeleteSLAConfig(ctx context.Context, status models.Status) error {
	return s.store.DeleteSLAConfig(ctx, status)
}

func (s *Service) Rules(ctx context.Context) ([]models.EscalationRule, error) {
	return s.store.ListRules(ctx)
}

// EnabledRules lists only rules the evaluator should consider
func (s *Service) EnabledRules(ctx context.Context) ([]models.EscalationRule, error) {
	rules, err := s.store.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	enabled := rules[:0]
	for _, r := range rules {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}
	return enabled, nil
}

func (s *Service) Rule(ctx context.Context, id string) (*models.EscalationRule, error) {
	return s.store.GetRule(ctx, id)
}

// CreateRule validates rule, assigns an ID when missing and stores it
func (s *Service) CreateRule(ctx context.Context, rule models.EscalationRule, by models.Actor) (models.EscalationRule, error) {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	now := s.clock.Now()
	rule.CreatedAt = now
	return s.saveRule(ctx, rule, by, now)
}

// UpdateRule replaces an existing rule
func (s *Service) UpdateRule(ctx context.Context, rule models.EscalationRule, by models.Actor) (models.EscalationRule, error) {
	existing, err := s.store.GetRule(ctx, rule.ID)
	if err != nil {
		return models.EscalationRule{}, err
	}
	rule.CreatedAt = existing.CreatedAt
	return s.saveRule(ctx, rule, by, s.clock.Now())
}

func (s *Service) saveRule(ctx context.Context, rule models.EscalationRule, by models.Actor, now time.Time) (models.EscalationRule, error) {
	rule.EscalateTo = dedupe(rule.EscalateTo)
	if err := models.ValidateEscalationRule(rule); err != nil {
		return models.EscalationRule{}, err
	}
	rule.UpdatedBy = by.ID
	rule.UpdatedAt = now
	if err := s.store.PutRule(ctx, rule); err != nil {
		return models.EscalationRule{}, fmt.Errorf("failed to save escalation rule: %w", err)
	}

	s.logger.Info("Escalation rule saved",
		zap.String("rule_id", rule.ID),
		zap.String("trigger_status", rule.TriggerStatus.String()),
		zap.Int("days_threshold", rule.DaysThreshold),
		zap.Bool("enabled", rule.Enabled),
		zap.String("updated_by", by.ID))
	return rule, nil
}

func (s *Service) DeleteRule(ctx context.Context, id string) error {
	return s.store.DeleteRule(ctx, id)
}

// Seed loads configuration through the same validation as the admin API
func (s *Service) Seed(ctx context.Context, configs []models.SLAConfiguration, rules []models.EscalationRule) error {
	for _, cfg := range configs {
		if _, err := s.SaveSLAConfig(ctx, cfg, models.SystemActor); err != nil {
			return fmt.Errorf("seed sla %s: %w", cfg.Status, err)
		}
	}
	for _, rule := range rules {
		if rule.ID != "" {
			if existing, err := s.store.GetRule(ctx, rule.ID); err == nil && existing != nil {
				if _, err := s.UpdateRule(ctx, rule, models.SystemActor); err != nil {
					return fmt.Errorf("seed rule %s: %w", rule.ID, err)
				}
				continue
			}
		}
		if _, err := s.CreateRule(ctx, rule, models.SystemActor); err != nil {
			return fmt.Errorf("seed rule %s: %w", rule.Name, err)
		}
	}
	return nil
}

func dedupe(in []string) models.StringArray {
	seen := make(map[string]struct{}, len(in))
	out := make(models.StringArray, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
