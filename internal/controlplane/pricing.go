package controlplane

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// PricingForModel returns the deployment-linked pricing override for a
// public model name, if one exists.
func (s *Store) PricingForModel(ctx context.Context, modelName string) (*ModelPricing, error) {
	var row ModelPricing
	err := s.db.WithContext(ctx).Where("model_name = ?", modelName).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
