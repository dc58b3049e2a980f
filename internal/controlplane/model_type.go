package controlplane

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// ModelTypeFor returns the model_type of any active deployment registered
// under modelName, so the gateway can reject a request whose endpoint
// doesn't match the model's declared type before ever touching the router.
// Ambiguity (deployments of mixed types under one name) is not a schema
// invariant this module enforces; the first row found wins.
func (s *Store) ModelTypeFor(ctx context.Context, modelName string) (ModelType, bool, error) {
	var d ModelDeployment
	err := s.db.WithContext(ctx).
		Where("model_name = ? AND is_active = ?", modelName, true).
		First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return d.ModelType, true, nil
}
