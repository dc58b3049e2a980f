package controlplane

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gatewayllm/gatewayllm/internal/database"
	"github.com/gatewayllm/gatewayllm/internal/gwerrors"
)

// Decryptor reverses the AEAD encryption an encrypted API key column holds.
// Implemented by *KeyCipher; abstracted here so store tests can inject a
// no-op or failing stub.
type Decryptor interface {
	Decrypt(encoded string) (string, error)
}

// ResolvedDeployment is a deployment with its credentials and effective
// settings fully resolved — deployment-level fields override provider-level
// fields — ready for internal/deploycache to cache and
// internal/router to dispatch against.
//
// ConfigError is set, and the deployment otherwise left populated, when a
// standalone deployment carries no provider_type. The row stays in the
// cached list but can never be selected: internal/router surfaces
// ConfigError as a hard, non-retriable error instead of quietly falling
// through to "no healthy deployments", so the misconfiguration is visible
// instead of masked.
type ResolvedDeployment struct {
	Deployment     ModelDeployment
	ProviderConfig *ProviderConfig
	ProviderType   string
	APIBase        string
	Settings       map[string]string
	DecryptedKey   string
	ConfigError    error
}

// Store is the read path the dispatch engine uses against the
// control-plane database.
type Store struct {
	db        *gorm.DB
	pool      *database.PoolManager
	decryptor Decryptor
	logger    *zap.Logger
}

// StoreOption configures optional Store collaborators.
type StoreOption func(*Store)

// WithPool attaches the connection pool manager so multi-row writes (spend
// counter increments) retry on transient transaction failures instead of
// failing a request outright on one deadlock or serialization conflict.
func WithPool(pm *database.PoolManager) StoreOption {
	return func(s *Store) { s.pool = pm }
}

// NewStore builds a Store. decryptor may be nil only in tests that pre-seed
// plaintext-looking "encrypted" keys and don't exercise the decrypt path.
func NewStore(db *gorm.DB, decryptor Decryptor, logger *zap.Logger, opts ...StoreOption) *Store {
	s := &Store{db: db, decryptor: decryptor, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchDeployments is the deployment cache's miss path: active
// deployments matching model (and model_type, if given), scoped by org,
// filtered by team access for linked deployments, with credentials
// resolved and decrypted. Ordered by Deployment.Priority descending.
//
// Decrypt-failure semantics:
//   - deployment-level key decrypt failure on a linked deployment: log and
//     fall through to the provider-level key.
//   - provider-level key decrypt failure on a linked deployment: drop the
//     deployment entirely.
//   - standalone deployment key decrypt failure: drop the deployment.
func (s *Store) FetchDeployments(ctx context.Context, modelName, orgID, teamID string, modelType ModelType) ([]ResolvedDeployment, error) {
	var deployments []ModelDeployment
	q := s.db.WithContext(ctx).
		Where("model_name = ? AND is_active = ?", modelName, true)
	if modelType != "" {
		q = q.Where("model_type = ?", modelType)
	}
	if orgID != "" {
		q = q.Where(s.db.Where("org_id = ?", orgID).Or("org_id IS NULL"))
	}
	if err := q.Order("priority desc").Find(&deployments).Error; err != nil {
		return nil, err
	}

	// Preload the ProviderConfigs referenced by linked deployments in one
	// query, and the team access grants for this team in one query.
	configIDs := make([]string, 0, len(deployments))
	for _, d := range deployments {
		if d.IsLinked() {
			configIDs = append(configIDs, *d.ProviderConfigID)
		}
	}
	configs := map[string]ProviderConfig{}
	if len(configIDs) > 0 {
		var rows []ProviderConfig
		if err := s.db.WithContext(ctx).Where("id IN ?", configIDs).Find(&rows).Error; err != nil {
			return nil, err
		}
		for _, c := range rows {
			configs[c.ID] = c
		}
	}
	accessible := map[string]bool{}
	if teamID != "" && len(configIDs) > 0 {
		var grants []TeamProviderAccess
		if err := s.db.WithContext(ctx).Where("team_id = ? AND provider_config_id IN ?", teamID, configIDs).Find(&grants).Error; err != nil {
			return nil, err
		}
		for _, g := range grants {
			accessible[g.ProviderConfigID] = true
		}
	}

	out := make([]ResolvedDeployment, 0, len(deployments))
	for _, d := range deployments {
		resolved, ok := s.resolveOne(d, configs, accessible, teamID)
		if !ok {
			continue
		}
		out = append(out, resolved)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Deployment.Priority > out[j].Deployment.Priority
	})
	return out, nil
}

func (s *Store) resolveOne(d ModelDeployment, configs map[string]ProviderConfig, accessible map[string]bool, teamID string) (ResolvedDeployment, bool) {
	if !d.IsLinked() {
		return s.resolveStandalone(d)
	}

	cfg, found := configs[*d.ProviderConfigID]
	if !found || !cfg.IsActive {
		return ResolvedDeployment{}, false
	}
	if teamID != "" && !accessible[cfg.ID] {
		return ResolvedDeployment{}, false
	}

	key, ok := s.resolveLinkedKey(d, cfg)
	if !ok {
		return ResolvedDeployment{}, false
	}

	settings := mergeSettings(cfg.Settings, d.Settings)
	apiBase := cfg.APIBase
	if d.APIBase != "" {
		apiBase = d.APIBase
	}
	return ResolvedDeployment{
		Deployment:     d,
		ProviderConfig: &cfg,
		ProviderType:   cfg.ProviderType,
		APIBase:        apiBase,
		Settings:       settings,
		DecryptedKey:   key,
	}, true
}

func (s *Store) resolveLinkedKey(d ModelDeployment, cfg ProviderConfig) (string, bool) {
	if d.APIKeyEncrypted != "" {
		key, err := s.decrypt(d.APIKeyEncrypted)
		if err == nil {
			return key, true
		}
		s.logger.Warn("deployment-level key decrypt failed, falling back to provider key",
			zap.String("deployment_id", d.ID), zap.Error(err))
	}
	if cfg.APIKeyEncrypted == "" {
		return "", false
	}
	key, err := s.decrypt(cfg.APIKeyEncrypted)
	if err != nil {
		s.logger.Warn("provider-level key decrypt failed, dropping deployment",
			zap.String("deployment_id", d.ID), zap.String("provider_config_id", cfg.ID), zap.Error(err))
		return "", false
	}
	return key, true
}

func (s *Store) resolveStandalone(d ModelDeployment) (ResolvedDeployment, bool) {
	if d.ProviderType == "" {
		// Kept in the list, not dropped: the router must surface this as a
		// hard misconfiguration error rather than silently falling through
		// to another candidate.
		return ResolvedDeployment{
			Deployment:  d,
			ConfigError: gwerrors.RouterMisconfigured("standalone deployment " + d.ID + " has no provider_type"),
		}, true
	}
	if d.APIKeyEncrypted == "" {
		return ResolvedDeployment{}, false
	}
	key, err := s.decrypt(d.APIKeyEncrypted)
	if err != nil {
		s.logger.Warn("standalone deployment key decrypt failed, dropping deployment",
			zap.String("deployment_id", d.ID), zap.Error(err))
		return ResolvedDeployment{}, false
	}
	return ResolvedDeployment{
		Deployment:   d,
		ProviderType: d.ProviderType,
		APIBase:      d.APIBase,
		Settings:     d.Settings,
		DecryptedKey: key,
	}, true
}

func (s *Store) decrypt(encoded string) (string, error) {
	if s.decryptor == nil {
		return encoded, nil
	}
	return s.decryptor.Decrypt(encoded)
}

func mergeSettings(base, override map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}
