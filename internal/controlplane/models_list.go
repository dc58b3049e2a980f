package controlplane

import "context"

// ListActiveModelNames returns the distinct public model names of active
// deployments visible to orgID (or every deployment, if orgID is empty),
// for GET /v1/models' DB half of the union.
func (s *Store) ListActiveModelNames(ctx context.Context, orgID string) ([]string, error) {
	q := s.db.WithContext(ctx).Model(&ModelDeployment{}).Where("is_active = ?", true)
	if orgID != "" {
		q = q.Where(s.db.Where("org_id = ?", orgID).Or("org_id IS NULL"))
	}
	var names []string
	if err := q.Distinct("model_name").Order("model_name").Pluck("model_name", &names).Error; err != nil {
		return nil, err
	}
	return names, nil
}
