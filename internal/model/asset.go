package model

// Asset tracks one video through its whole lifecycle, from the moment a
// file is accepted for transfer until the remote streaming service reports
// it as ready. The core never hard-deletes these rows.
type Asset struct {
	ID     string `gorm:"primaryKey" json:"id"`
	UserID string `gorm:"index" json:"user_id"`

	// Collection the asset belongs to. Enrollment checks run against this
	CollectionID string `gorm:"index" json:"collection_id"`

	// Assigned by the remote service once the upload succeeds. Empty while
	// the asset is pending or failed during the upload phase
	RemoteID string `gorm:"index" json:"remote_id,omitempty"`

	Size   int64  `json:"size"`
	Status Status `gorm:"index" json:"status"`

	// Opaque blob owned by the UI layer, passed through unmodified
	Metadata MetadataMap `json:"metadata,omitempty"`

	// Last failure surfaced by the pipeline or reconciliation
	LastError string `json:"last_error,omitempty"`

	// Refreshed by reconciliation, never authoritative
	Duration     float64 `json:"duration,omitempty"`
	ThumbnailURL string  `json:"thumbnail_url,omitempty"`

	// All are unix second timestamps
	SubmittedAt  int64  `gorm:"not null" json:"submitted_at"`
	ProcessingAt *int64 `json:"processing_at,omitempty"`
	ReadyAt      *int64 `json:"ready_at,omitempty"`
}
