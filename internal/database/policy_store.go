package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/aegisshield/compliance-tracker/internal/models"
)

// PolicyStore keeps SLA configurations and escalation rules through gorm,
// sharing the connection pool of the sqlx stores.
type PolicyStore struct {
	db *gorm.DB
}

// NewPolicyStore opens gorm on an existing connection
func NewPolicyStore(conn *sql.DB, debug bool) (*PolicyStore, error) {
	logLevel := logger.Silent
	if debug {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: conn}), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open gorm: %w", err)
	}
	return &PolicyStore{db: db}, nil
}

func (s *PolicyStore) ListSLAConfigs(ctx context.Context) ([]models.SLAConfiguration, error) {
	var configs []models.SLAConfiguration
	if err := s.db.WithContext(ctx).Order("status").Find(&configs).Error; err != nil {
		return nil, fmt.Errorf("failed to list sla configurations: %w", err)
	}
	return configs, nil
}

func (s *PolicyStore) GetSLAConfig(ctx context.Context, status models.Status) (*models.SLAConfiguration, error) {
	var cfg models.SLAConfiguration
	err := s.db.WithContext(ctx).Where("status = ?", string(status)).Take(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sla configuration: %w", err)
	}
	return &cfg, nil
}

func (s *PolicyStore) PutSLAConfig(ctx context.Context, cfg models.SLAConfiguration) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&cfg).Error
	if err != nil {
		return fmt.Errorf("failed to save sla configuration: %w", err)
	}
	return nil
}

func (s *PolicyStore) DeleteSLAConfig(ctx context.Context, status models.Status) error {
	err := s.db.WithContext(ctx).Where("status = ?", string(status)).Delete(&models.SLAConfiguration{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete sla configuration: %w", err)
	}
	return nil
}

func (s *PolicyStore) ListRules(ctx context.Context) ([]models.EscalationRule, error) {
	var rules []models.EscalationRule
	if err := s.db.WithContext(ctx).Order("id").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to list escalation rules: %w", err)
	}
	return rules, nil
}

func (s *PolicyStore) GetRule(ctx context.Context, id string) (*models.EscalationRule, error) {
	var rule models.EscalationRule
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrUnknownRule
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get escalation rule: %w", err)
	}
	return &rule, nil
}

func (s *PolicyStore) PutRule(ctx context.Context, rule models.EscalationRule) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rule).Error
	if err != nil {
		return fmt.Errorf("failed to save escalation rule: %w", err)
	}
	return nil
}

func (s *PolicyStore) DeleteRule(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.EscalationRule{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete escalation rule: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrUnknownRule
	}
	return nil
}
