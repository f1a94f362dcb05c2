package services

import (
	"context"
	"errors"
	"log"

	"billing-backend/internal/cache"
	"billing-backend/internal/models"
	"billing-backend/internal/repositories"
)

// settableKeys are the settings the admin UI may write. Anything else is
// rejected so a typo never creates a dead key.
var settableKeys = map[string]bool{
	"stripe_secret_key":     true,
	"invoice_due_in_days":   true,
	"auto_create_customers": true,
	"billing_contact_email": true,
}

type SystemSettingService struct {
	Repo *repositories.SystemSettingRepository
}

func NewSystemSettingService(repo *repositories.SystemSettingRepository) *SystemSettingService {
	return &SystemSettingService{Repo: repo}
}

func (s *SystemSettingService) GetSetting(ctx context.Context, key string) (*models.SystemSetting, error) {
	setting, err := s.Repo.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if setting == nil {
		return nil, errors.New("setting not found")
	}
	// Secrets are write-only through the API.
	if key == "stripe_secret_key" && setting.SettingValue != "" {
		setting.SettingValue = "********"
	}
	return setting, nil
}

func (s *SystemSettingService) ListSettings(ctx context.Context) ([]*models.SystemSetting, error) {
	settings, err := s.Repo.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, setting := range settings {
		if setting.SettingKey == "stripe_secret_key" && setting.SettingValue != "" {
			setting.SettingValue = "********"
		}
	}
	return settings, nil
}

func (s *SystemSettingService) UpdateSetting(ctx context.Context, key, value string, userID int) error {
	if !settableKeys[key] {
		return errors.New("unknown setting key")
	}
	if err := s.Repo.Set(ctx, key, value); err != nil {
		return err
	}
	log.Printf("[Settings] %s updated by user %d", key, userID)
	cache.InvalidateSettingCaches(ctx)
	return nil
}
