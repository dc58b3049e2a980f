// Package controlplane holds the GORM-backed schema and queries the
// dispatch engine reads: deployments, provider configs, team access grants,
// pricing rows, api keys, and the append-only spend log.
// CRUD administration over these tables is explicitly out of scope; this package exposes only the read/write paths the router, cache,
// auth resolver, and spend recorder need.
package controlplane

import (
	"time"

	"gorm.io/gorm"
)

// Organization is the top-level tenant boundary.
type Organization struct {
	ID         string `gorm:"primaryKey"`
	Name       string
	MaxBudget  *float64
	Spend      float64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Team scopes deployment access and spend within an Organization.
type Team struct {
	ID        string `gorm:"primaryKey"`
	OrgID     string `gorm:"index"`
	Name      string
	MaxBudget *float64
	Spend     float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// User belongs to an org/team and may hold api keys.
type User struct {
	ID        string `gorm:"primaryKey"`
	OrgID     string `gorm:"index"`
	TeamID    string `gorm:"index"`
	Email     string
	MaxBudget *float64
	Spend     float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// APIKey is a provisioned bearer credential. Only the sha-256 hash is
// persisted; plaintext never touches the database.
type APIKey struct {
	ID            string `gorm:"primaryKey"`
	KeyHash       string `gorm:"uniqueIndex;column:key_hash"`
	UserID        string `gorm:"index"`
	TeamID        string `gorm:"index"`
	OrgID         string `gorm:"index"`
	AllowedModels StringSet `gorm:"serializer:json"`
	BlockedModels StringSet `gorm:"serializer:json"`
	MaxBudget     *float64
	Spend         float64
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TableName pins the GORM table name explicitly.
func (APIKey) TableName() string { return "api_keys" }

// StringSet is a JSON-serialized set of strings (allowed/blocked models).
type StringSet []string

// Contains reports whether s holds value, exactly or as a suffix match.
func (s StringSet) Contains(value string) bool {
	for _, v := range s {
		if v == value {
			return true
		}
		if len(value) > len(v) && len(v) > 0 && value[len(value)-len(v):] == v {
			return true
		}
	}
	return false
}

// ModelType enumerates the dispatch patterns a deployment can serve.
type ModelType string

const (
	ModelTypeChat              ModelType = "chat"
	ModelTypeEmbedding         ModelType = "embedding"
	ModelTypeImageGeneration   ModelType = "image_generation"
	ModelTypeAudioTranscription ModelType = "audio_transcription"
	ModelTypeAudioSpeech       ModelType = "audio_speech"
	ModelTypeModeration        ModelType = "moderation"
	ModelTypeRerank            ModelType = "rerank"
)

// ProviderConfig is a shared credential/endpoint bundle a linked deployment
// references.
type ProviderConfig struct {
	ID               string `gorm:"primaryKey"`
	Name             string
	ProviderType     string
	APIBase          string
	Settings         map[string]string `gorm:"serializer:json"`
	APIKeyEncrypted  string
	IsActive         bool
	OrgID            *string `gorm:"index"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TeamProviderAccess constrains which linked deployments a team may use.
// Standalone deployments are always team-accessible.
type TeamProviderAccess struct {
	TeamID           string `gorm:"primaryKey"`
	ProviderConfigID string `gorm:"primaryKey"`
}

func (TeamProviderAccess) TableName() string { return "team_provider_access" }

// ModelDeployment is one upstream path to a public model name. At least one
// key source (deployment-level or, for linked deployments, provider-level)
// must be present after resolution.
type ModelDeployment struct {
	ID              string `gorm:"primaryKey"`
	ModelName       string `gorm:"index"` // public name
	ProviderModel   string // upstream name
	ModelType       ModelType `gorm:"index"`
	Priority        int
	Timeout         time.Duration
	IsActive        bool
	Settings        map[string]string `gorm:"serializer:json"`
	PricingID       *string
	OrgID           *string `gorm:"index"`

	// Linked mode: references ProviderConfig by ID.
	ProviderConfigID *string

	// Standalone mode: the deployment carries its own credentials.
	ProviderType        string
	APIBase             string
	APIKeyEncrypted     string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsLinked reports whether this deployment inherits from a ProviderConfig.
func (d *ModelDeployment) IsLinked() bool {
	return d.ProviderConfigID != nil && *d.ProviderConfigID != ""
}

// ModelPricing is the deployment-linked per-token cost override.
type ModelPricing struct {
	ID                       string `gorm:"primaryKey"`
	ModelName                string `gorm:"index"`
	InputCostPerToken        string // decimal string, parsed with shopspring/decimal
	OutputCostPerToken       string
	CachedInputCostPerToken  string
}

// SpendLog is an append-only record of one terminated request's cost and
// usage. Spend is stored as a string to preserve the full
// 20,12 fixed-point precision through GORM/SQL round-trips.
type SpendLog struct {
	ID               string `gorm:"primaryKey"`
	RequestID        string `gorm:"index"`
	APIKeyID         *string `gorm:"index"`
	UserID           *string `gorm:"index"`
	TeamID           *string `gorm:"index"`
	OrgID            *string `gorm:"index"`
	Model            string
	Provider         string
	EndpointType     string
	PromptTokens     *int
	CompletionTokens *int
	TotalTokens      *int
	Spend            string // decimal(20,12) encoded as a string
	LatencyMS        *int64
	Status           string
	Error            *string
	CreatedAt        time.Time `gorm:"index"`
}

func (SpendLog) TableName() string { return "spend_logs" }

// AuditLog, FileObject, BatchJob are persisted but entirely owned by the
// control plane's admin CRUD and file/batch APIs. They're declared here
// only so AutoMigrate can stand up the full schema; nothing in this
// module reads or writes them.
type AuditLog struct {
	ID        string `gorm:"primaryKey"`
	Actor     string
	Action    string
	Target    string
	CreatedAt time.Time
}

type FileObject struct {
	ID        string `gorm:"primaryKey"`
	OrgID     string
	Purpose   string
	CreatedAt time.Time
}

type BatchJob struct {
	ID        string `gorm:"primaryKey"`
	OrgID     string
	Status    string
	CreatedAt time.Time
}

// AutoMigrate stands up every table this module touches, plus the
// control-plane-owned tables above, so a fresh database carries the full
// schema even though only a subset is read here.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Organization{},
		&Team{},
		&User{},
		&APIKey{},
		&ProviderConfig{},
		&TeamProviderAccess{},
		&ModelDeployment{},
		&ModelPricing{},
		&SpendLog{},
		&AuditLog{},
		&FileObject{},
		&BatchJob{},
	)
}
