package model

// AccessToken is the server-side shadow of an issued playback token. The
// raw token is never stored, only its hash. A signed token that validates
// cryptographically but has no row here was revoked or swept.
type AccessToken struct {
	TokenHash string `gorm:"primaryKey" json:"-"`

	UserID  string `gorm:"index" json:"user_id"`
	AssetID string `gorm:"index" json:"asset_id"`

	// Binding metadata recorded at issuance
	IssuedIP string `json:"issued_ip,omitempty"`
	UAHash   string `json:"ua_hash,omitempty"`

	// Unix second timestamps. ExpiresAt is always after IssuedAt
	IssuedAt   int64  `gorm:"not null" json:"issued_at"`
	ExpiresAt  int64  `gorm:"index;not null" json:"expires_at"`
	LastUsedAt *int64 `json:"last_used_at,omitempty"`
}
