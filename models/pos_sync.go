package models

import "time"

const (
	PosProviderVetPos = "vetpos"
)

const (
	PosConnectionStatusConnected    = "CONNECTED"
	PosConnectionStatusDisconnected = "DISCONNECTED"
	PosConnectionStatusError        = "ERROR"
)

const (
	PosSyncRunStatusQueued  = "QUEUED"
	PosSyncRunStatusRunning = "RUNNING"
	PosSyncRunStatusSuccess = "SUCCESS"
	PosSyncRunStatusFailed  = "FAILED"
	PosSyncRunStatusPartial = "PARTIAL"
)

const (
	PosSyncTriggeredManual = "manual"
	PosSyncTriggeredRetry  = "retry"
	PosSyncTriggeredSystem = "system"
)

type PosConnection struct {
	ID                uint       `gorm:"primary_key" json:"id"`
	ClinicId          string     `gorm:"size:64;index;not null" json:"clinic_id"`
	Provider          string     `gorm:"index;size:50;not null" json:"provider"`
	Status            string     `gorm:"size:20;not null" json:"status"`
	AuthType          string     `gorm:"size:20" json:"auth_type"`
	AuthSecretRef     string     `gorm:"type:text" json:"auth_secret_ref"`
	StoreId           string     `gorm:"size:100" json:"store_id"`
	StoreName         string     `gorm:"size:255" json:"store_name"`
	LocationId        int        `gorm:"not null;default:0" json:"location_id"`
	SettingsJSON      []byte     `gorm:"type:json" json:"settings"`
	CursorStateJSON   []byte     `gorm:"type:json" json:"cursor_state"`
	LastSyncAt        *time.Time `json:"last_sync_at"`
	LastSuccessSyncAt *time.Time `json:"last_success_sync_at"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type PosSyncRun struct {
	ID              uint       `gorm:"primary_key" json:"id"`
	ClinicId        string     `gorm:"size:64;index;not null" json:"clinic_id"`
	ConnectionId    uint       `gorm:"index;not null" json:"connection_id"`
	Provider        string     `gorm:"index;size:50;not null" json:"provider"`
	Status          string     `gorm:"size:20;not null" json:"status"`
	TriggeredBy     string     `gorm:"size:20" json:"triggered_by"`
	ModulesJSON     []byte     `gorm:"type:json" json:"modules"`
	StatsJSON       []byte     `gorm:"type:json" json:"stats"`
	CursorStateJSON []byte     `gorm:"type:json" json:"cursor_state"`
	RecordsSynced   int        `json:"records_synced"`
	ErrorCount      int        `json:"error_count"`
	ParentRunId     *uint      `gorm:"index" json:"parent_run_id"`
	StartedAt       *time.Time `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at"`
	DurationMs      int64      `json:"duration_ms"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type PosSyncError struct {
	ID          uint      `gorm:"primary_key" json:"id"`
	SyncRunId   uint      `gorm:"index;not null" json:"sync_run_id"`
	ClinicId    string    `gorm:"size:64;index;not null" json:"clinic_id"`
	EntityType  string    `gorm:"size:50" json:"entity_type"`
	ExternalId  string    `gorm:"size:128" json:"external_id"`
	ErrorCode   string    `gorm:"size:64" json:"error_code"`
	Message     string    `gorm:"type:text" json:"message"`
	PayloadJSON []byte    `gorm:"type:json" json:"payload"`
	Retryable   bool      `gorm:"default:false" json:"retryable"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}
