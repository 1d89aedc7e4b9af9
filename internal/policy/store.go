package policy

import (
	"context"

	"github.com/aegisshield/compliance-tracker/internal/models"
)

// Store holds administrator-authored SLA configurations and escalation rules.
// The engine only reads from it.
type Store interface {
	ListSLAConfigs(ctx context.Context) ([]models.SLAConfiguration, error)
	// GetSLAConfig returns nil without error when the status has no configuration
	GetSLAConfig(ctx context.Context, status models.Status) (*models.SLAConfiguration, error)
	PutSLAConfig(ctx context.Context, cfg models.SLAConfiguration) error
	DeleteSLAConfig(ctx context.Context, status models.Status) error

	ListRules(ctx context.Context) ([]models.EscalationRule, error)
	GetRule(ctx context.Context, id string) (*models.EscalationRule, error)
	PutRule(ctx context.Context, rule models.EscalationRule) error
	DeleteRule(ctx context.Context, id string) error
}
