package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"bitwise74/stream-vault/internal/authz"
	"bitwise74/stream-vault/internal/model"
	"bitwise74/stream-vault/pkg/util"

	"github.com/golang-jwt/jwt/v5"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"
	"gorm.io/gorm"
)

const audience = "stream-vault"

// Claims is the signed token payload. Permissions are baked in at issuance
// so validation never has to re-run authorization.
type Claims struct {
	jwt.RegisteredClaims

	AssetID      string          `json:"asset_id"`
	RemoteID     string          `json:"remote_id,omitempty"`
	CollectionID string          `json:"collection_id,omitempty"`
	Permissions  map[string]bool `json:"permissions,omitempty"`
	BoundIP      string          `json:"bound_ip,omitempty"`
	BoundUA      string          `json:"bound_ua,omitempty"`
}

// IssueOpts carries the caller's request metadata and the optional
// binding flags. Bindings are off by default since shared NAT IPs make
// them a deployment policy call.
type IssueOpts struct {
	IP        string
	UserAgent string
	BindIP    bool
	BindUA    bool
}

// RequestMeta is the current request's metadata checked against bindings
// during validation.
type RequestMeta struct {
	IP        string
	UserAgent string
}

type IssueResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ValidateResult struct {
	CallerID    string          `json:"caller_id"`
	AssetID     string          `json:"asset_id"`
	Permissions map[string]bool `json:"permissions,omitempty"`
}

type Service struct {
	DB    *gorm.DB
	Authz *authz.Engine

	// Injectable for boundary tests
	Now func() time.Time

	secret  []byte
	ttl     time.Duration
	limiter *RateLimiter
}

// NewService derives the HMAC signing key from the configured secret and
// deployment salt. The raw config value is never used as the key directly.
func NewService(db *gorm.DB, az *authz.Engine) *Service {
	secret := argon2.IDKey(
		[]byte(viper.GetString("token.secret")),
		[]byte(viper.GetString("token.secret_salt")),
		3, 64*1024, 4, 32,
	)

	return &Service{
		DB:      db,
		Authz:   az,
		Now:     time.Now,
		secret:  secret,
		ttl:     viper.GetDuration("token.ttl"),
		limiter: NewRateLimiter(viper.GetInt("token.rate_limit"), time.Hour),
	}
}

// Issue authorizes the caller for view access and hands out a signed
// token for the asset. Download/manage grants ride along as claims.
func (s *Service) Issue(callerID, assetID string, o IssueOpts) (*IssueResult, error) {
	var asset model.Asset

	err := s.DB.Where("id = ?", assetID).First(&asset).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, reject(ReasonAssetNotReady, "asset does not exist")
		}

		return nil, fmt.Errorf("failed to load asset, %w", err)
	}

	if asset.Status != model.StatusReady {
		return nil, reject(ReasonAssetNotReady, fmt.Sprintf("asset is %s, not ready", asset.Status))
	}

	if d := s.Authz.Decide(authz.ActionView, &asset, callerID); !d.Allowed {
		return nil, reject(d.Reason, d.Message)
	}

	now := s.Now()
	expiresAt := now.Add(s.ttl)

	jti, err := gonanoid.New(16)
	if err != nil {
		return nil, err
	}

	perms := map[string]bool{}
	if d := s.Authz.Decide(authz.ActionDownload, &asset, callerID); d.Allowed {
		perms["download"] = true
	}
	if d := s.Authz.Decide(authz.ActionManage, &asset, callerID); d.Allowed {
		perms["manage"] = true
	}

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    viper.GetString("host.domain"),
			Audience:  jwt.ClaimStrings{audience},
			Subject:   callerID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        jti,
		},
		AssetID:      asset.ID,
		RemoteID:     asset.RemoteID,
		CollectionID: asset.CollectionID,
		Permissions:  perms,
	}

	if o.BindIP {
		claims.BoundIP = o.IP
	}
	if o.BindUA {
		claims.BoundUA = util.HashUserAgent(o.UserAgent)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token, %w", err)
	}

	row := &model.AccessToken{
		TokenHash: util.HashToken(signed),
		UserID:    callerID,
		AssetID:   asset.ID,
		IssuedIP:  o.IP,
		UAHash:    util.HashUserAgent(o.UserAgent),
		IssuedAt:  now.Unix(),
		ExpiresAt: expiresAt.Unix(),
	}

	if err := s.DB.Create(row).Error; err != nil {
		return nil, fmt.Errorf("failed to persist access token, %w", err)
	}

	s.enforceRetention(callerID, asset.ID)

	return &IssueResult{Token: signed, ExpiresAt: expiresAt}, nil
}

// Validate checks signature, lifetime, revocation state, bindings and the
// caller's validation budget. Every rejection is a *ReasonError.
func (s *Service) Validate(tokenStr string, meta RequestMeta) (*ValidateResult, error) {
	if strings.Count(tokenStr, ".") != 2 {
		return nil, reject(ReasonMalformed, "token is not a three-segment compact token")
	}

	claims := &Claims{}

	_, err := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.Now),
		jwt.WithAudience(audience),
	).ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, reject(ReasonBadSignature, "signature does not match")
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, reject(ReasonExpired, "token has expired")
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			return nil, reject(ReasonNotYetValid, "token is not valid yet")
		default:
			return nil, reject(ReasonMalformed, "token could not be parsed")
		}
	}

	hash := util.HashToken(tokenStr)

	var row model.AccessToken

	err = s.DB.Where("token_hash = ?", hash).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, reject(ReasonUnknownToken, "token was revoked or never issued here")
		}

		return nil, fmt.Errorf("failed to look up access token, %w", err)
	}

	// Impossible under correct signing but cheap to assert against a
	// stolen-and-resigned payload
	if claims.Subject != row.UserID || claims.AssetID != row.AssetID {
		return nil, reject(ReasonPayloadMismatch, "payload does not match the issued token record")
	}

	if claims.BoundIP != "" && claims.BoundIP != meta.IP {
		return nil, reject(ReasonBindingMismatch, "token is bound to a different IP")
	}

	if claims.BoundUA != "" && claims.BoundUA != util.HashUserAgent(meta.UserAgent) {
		return nil, reject(ReasonBindingMismatch, "token is bound to a different user agent")
	}

	if !s.limiter.Allow(claims.Subject) {
		return nil, reject(ReasonRateLimited, "too many validations, slow down")
	}

	lastUsed := s.Now().Unix()
	err = s.DB.
		Model(model.AccessToken{}).
		Where("token_hash = ?", hash).
		Update("last_used_at", lastUsed).
		Error
	if err != nil {
		// Last-used is advisory, a failed update never fails validation
		zap.L().Warn("Failed to update token last-used timestamp", zap.Error(err))
	}

	return &ValidateResult{
		CallerID:    claims.Subject,
		AssetID:     claims.AssetID,
		Permissions: claims.Permissions,
	}, nil
}

// Revoke deletes the server-side record for one token, invalidating it
// even though its signature stays intact.
func (s *Service) Revoke(tokenStr string) error {
	return s.DB.
		Where("token_hash = ?", util.HashToken(tokenStr)).
		Delete(model.AccessToken{}).
		Error
}

// RevokeUser drops every live token of one user. Incident response path.
func (s *Service) RevokeUser(userID string) (int64, error) {
	res := s.DB.Where("user_id = ?", userID).Delete(model.AccessToken{})
	return res.RowsAffected, res.Error
}

// RevokeAsset drops every live token for one asset.
func (s *Service) RevokeAsset(assetID string) (int64, error) {
	res := s.DB.Where("asset_id = ?", assetID).Delete(model.AccessToken{})
	return res.RowsAffected, res.Error
}

// enforceRetention keeps only the N freshest tokens per (user, asset) pair
func (s *Service) enforceRetention(userID, assetID string) {
	keep := viper.GetInt("token.retention_per_pair")
	if keep <= 0 {
		return
	}

	err := s.DB.Exec(`
		DELETE FROM access_tokens WHERE token_hash IN (
			SELECT token_hash FROM (
				SELECT token_hash,
				       ROW_NUMBER() OVER (PARTITION BY user_id, asset_id ORDER BY issued_at DESC, token_hash) AS rn
				FROM access_tokens
				WHERE user_id = ? AND asset_id = ?
			) ranked WHERE rn > ?
		)`, userID, assetID, keep).Error
	if err != nil {
		zap.L().Warn("Failed to enforce token retention", zap.Error(err))
	}
}
