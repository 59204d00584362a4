// Package queue is the durable work queue that drives assets through
// their transfer lifecycle, retrying transient failures with bounded
// exponential backoff.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bitwise74/stream-vault/internal/model"
	"bitwise74/stream-vault/internal/remote"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrNotInErrorState is returned by ResetForRetry when the asset isn't
// actually failed.
var ErrNotInErrorState = errors.New("asset is not in the error state")

// Parked items get an eligibility time far enough out that no drain will
// ever pick them up without a manual reset
const parkedFor = 100 * 365 * 24 * time.Hour

// Policy holds the retry knobs. Defaults follow FromConfig.
type Policy struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// How long permanently failed items are kept before purge
	Retention time.Duration
}

func FromConfig() Policy {
	return Policy{
		MaxAttempts: viper.GetInt("queue.max_attempts"),
		BackoffBase: viper.GetDuration("queue.backoff_base"),
		BackoffCap:  viper.GetDuration("queue.backoff_cap"),
		Retention:   viper.GetDuration("queue.retention"),
	}
}

// Backoff computes the delay before the next try after the given failure
// count. Doubles per attempt, capped.
func (p Policy) Backoff(attempts int) time.Duration {
	d := p.BackoffBase << (attempts - 1)
	if d > p.BackoffCap || d <= 0 {
		return p.BackoffCap
	}

	return d
}

type DrainResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

type Queue struct {
	DB     *gorm.DB
	Remote remote.Client
	Policy Policy

	// Injectable for tests
	Now func() time.Time

	// Per-asset claims. Two operations on the same asset must never run
	// concurrently, even across overlapping drains
	inflight sync.Map
}

func New(db *gorm.DB, rc remote.Client, p Policy) *Queue {
	return &Queue{
		DB:     db,
		Remote: rc,
		Policy: p,
		Now:    time.Now,
	}
}

// Enqueue creates one work item for an asset. Items with a higher priority
// drain first, FIFO within the same priority.
func (q *Queue) Enqueue(assetID string, action model.Action, priority int, payload string) (*model.QueueItem, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("unknown queue action %q", action)
	}

	var count int64
	if err := q.DB.Model(model.Asset{}).Where("id = ?", assetID).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check asset existence, %w", err)
	}
	if count == 0 {
		return nil, fmt.Errorf("asset %q does not exist", assetID)
	}

	id, err := gonanoid.New(16)
	if err != nil {
		return nil, err
	}

	now := q.Now().Unix()
	item := &model.QueueItem{
		ID:             id,
		AssetID:        assetID,
		Action:         action,
		Priority:       priority,
		MaxAttempts:    q.Policy.MaxAttempts,
		Payload:        payload,
		NextEligibleAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := q.DB.Create(item).Error; err != nil {
		return nil, fmt.Errorf("failed to enqueue work item, %w", err)
	}

	zap.L().Debug("Work item enqueued",
		zap.String("asset_id", assetID),
		zap.String("action", string(action)),
		zap.Int("priority", priority))

	return item, nil
}

// Drain processes up to batchSize eligible items. Called by the scheduler
// on a fixed cadence. Respects ctx's deadline, anything left over waits
// for the next run.
func (q *Queue) Drain(ctx context.Context, batchSize int) (DrainResult, error) {
	var res DrainResult

	now := q.Now()

	var items []model.QueueItem
	err := q.DB.
		Where("next_eligible_at <= ? AND attempts < max_attempts AND parked = ?", now.Unix(), false).
		Order("priority DESC, created_at ASC").
		Limit(batchSize).
		Find(&items).
		Error
	if err != nil {
		return res, fmt.Errorf("failed to select eligible work items, %w", err)
	}

	for i := range items {
		if ctx.Err() != nil {
			zap.L().Warn("Drain deadline reached, leaving remaining items for the next run",
				zap.Int("remaining", len(items)-i))
			break
		}

		item := &items[i]

		// Never allow two in-flight operations for the same asset
		if _, busy := q.inflight.LoadOrStore(item.AssetID, struct{}{}); busy {
			continue
		}

		processed, failed := q.runClaimed(ctx, item)
		res.Processed += processed
		res.Failed += failed
	}

	q.purge()

	return res, nil
}

// runClaimed re-checks the item under the per-asset claim before executing
// it. An overlapping drain can select the same item before either claims
// the asset, so a copy that was already finished, parked or failed in the
// meantime is dropped instead of re-executed. The claim is released even
// if processing panics.
func (q *Queue) runClaimed(ctx context.Context, item *model.QueueItem) (processed, failed int) {
	defer q.inflight.Delete(item.AssetID)

	var current model.QueueItem

	err := q.DB.Where("id = ? AND parked = ?", item.ID, false).First(&current).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			zap.L().Error("Failed to re-check work item before execution", zap.Error(err))
		}
		return 0, 0
	}

	// Stale copy, another drain already ran this item
	if current.Attempts != item.Attempts {
		return 0, 0
	}

	if err := q.process(ctx, &current); err != nil {
		q.recordFailure(&current, err)
		return 0, 1
	}

	return 1, 0
}

func (q *Queue) process(ctx context.Context, item *model.QueueItem) error {
	var asset model.Asset

	if err := q.DB.Where("id = ?", item.AssetID).First(&asset).Error; err != nil {
		return fmt.Errorf("failed to load asset, %w", err)
	}

	switch item.Action {
	case model.ActionUpload:
		if err := q.runUpload(ctx, item, &asset); err != nil {
			return err
		}
	case model.ActionDelete:
		if asset.RemoteID != "" {
			err := q.Remote.Delete(ctx, asset.RemoteID)
			if err != nil && !errors.Is(err, remote.ErrNotFound) {
				return err
			}
		}
	case model.ActionSync:
		if err := q.runSync(ctx, &asset); err != nil {
			return err
		}
	}

	// Terminal success, the item leaves the queue
	if err := q.DB.Delete(item).Error; err != nil {
		return fmt.Errorf("failed to remove finished work item, %w", err)
	}

	return nil
}

func (q *Queue) runUpload(ctx context.Context, item *model.QueueItem, asset *model.Asset) error {
	if err := asset.Transition(model.StatusUploading); err != nil {
		return err
	}
	if err := q.DB.Save(asset).Error; err != nil {
		return fmt.Errorf("failed to store uploading status, %w", err)
	}

	metadata := make(map[string]string, len(asset.Metadata))
	for k, v := range asset.Metadata {
		metadata[k] = fmt.Sprint(v)
	}

	res, err := q.Remote.Upload(ctx, item.Payload, metadata)
	if err != nil {
		return err
	}

	now := q.Now().Unix()

	asset.RemoteID = res.RemoteID
	asset.ProcessingAt = &now
	asset.Duration = res.Duration
	asset.ThumbnailURL = res.ThumbnailURL

	target := res.Status
	if target != model.StatusProcessing && target != model.StatusReady {
		target = model.StatusProcessing
	}

	if err := asset.Transition(target); err != nil {
		return err
	}

	if asset.Status == model.StatusReady {
		asset.ReadyAt = &now
	}

	asset.LastError = ""

	if err := q.DB.Save(asset).Error; err != nil {
		return fmt.Errorf("failed to store upload result, %w", err)
	}

	zap.L().Info("Asset uploaded",
		zap.String("asset_id", asset.ID),
		zap.String("remote_id", asset.RemoteID),
		zap.String("status", string(asset.Status)))

	return nil
}

func (q *Queue) runSync(ctx context.Context, asset *model.Asset) error {
	if asset.RemoteID == "" {
		return errors.New("asset has no remote ID to sync against")
	}

	res, err := q.Remote.GetStatus(ctx, asset.RemoteID)
	if err != nil {
		return err
	}

	changed := false

	if res.Status != asset.Status && asset.Status.CanTransition(res.Status) {
		if err := asset.Transition(res.Status); err != nil {
			return err
		}

		if asset.Status == model.StatusReady && asset.ReadyAt == nil {
			now := q.Now().Unix()
			asset.ReadyAt = &now
		}

		changed = true
	}

	if res.Duration != 0 && res.Duration != asset.Duration {
		asset.Duration = res.Duration
		changed = true
	}

	if res.ThumbnailURL != "" && res.ThumbnailURL != asset.ThumbnailURL {
		asset.ThumbnailURL = res.ThumbnailURL
		changed = true
	}

	if !changed {
		return nil
	}

	if err := q.DB.Save(asset).Error; err != nil {
		return fmt.Errorf("failed to store synced status, %w", err)
	}

	return nil
}

// recordFailure applies the backoff policy, parking the item and marking
// the asset failed once the retry budget is spent. Permanent remote
// rejections skip the backoff entirely.
func (q *Queue) recordFailure(item *model.QueueItem, cause error) {
	now := q.Now()

	item.Attempts++
	if remote.IsPermanent(cause) {
		item.Attempts = item.MaxAttempts
	}

	item.ErrorLog = append(item.ErrorLog, fmt.Sprintf("attempt %d: %s", item.Attempts, cause.Error()))
	item.UpdatedAt = now.Unix()

	if item.Attempts >= item.MaxAttempts {
		item.Parked = true
		item.NextEligibleAt = now.Add(parkedFor).Unix()

		q.markAssetFailed(item.AssetID, cause.Error())

		zap.L().Error("Work item exhausted its retry budget, parked",
			zap.String("asset_id", item.AssetID),
			zap.String("action", string(item.Action)),
			zap.Error(cause))
	} else {
		item.NextEligibleAt = now.Add(q.Policy.Backoff(item.Attempts)).Unix()

		zap.L().Warn("Work item failed, backing off",
			zap.String("asset_id", item.AssetID),
			zap.Int("attempts", item.Attempts),
			zap.Int64("next_eligible_at", item.NextEligibleAt),
			zap.Error(cause))
	}

	if err := q.DB.Save(item).Error; err != nil {
		zap.L().Error("Failed to persist work item failure", zap.Error(err))
	}
}

func (q *Queue) markAssetFailed(assetID, message string) {
	var asset model.Asset

	if err := q.DB.Where("id = ?", assetID).First(&asset).Error; err != nil {
		zap.L().Error("Failed to load asset for error marking", zap.Error(err))
		return
	}

	if err := asset.Transition(model.StatusError); err != nil {
		zap.L().Error("Failed to mark asset as errored", zap.Error(err))
		return
	}

	asset.LastError = message

	if err := q.DB.Save(&asset).Error; err != nil {
		zap.L().Error("Failed to persist asset error state", zap.Error(err))
	}
}

// ResetForRetry is the only path from error back to pending. Parked items
// for the asset get their budget back.
func (q *Queue) ResetForRetry(assetID string) (*model.Asset, error) {
	var asset model.Asset

	if err := q.DB.Where("id = ?", assetID).First(&asset).Error; err != nil {
		return nil, fmt.Errorf("failed to load asset, %w", err)
	}

	if asset.Status != model.StatusError {
		return nil, ErrNotInErrorState
	}

	if err := asset.Transition(model.StatusPending); err != nil {
		return nil, err
	}

	asset.LastError = ""

	if err := q.DB.Save(&asset).Error; err != nil {
		return nil, fmt.Errorf("failed to reset asset, %w", err)
	}

	now := q.Now().Unix()
	err := q.DB.
		Model(model.QueueItem{}).
		Where("asset_id = ? AND parked = ?", assetID, true).
		Updates(map[string]any{
			"parked":           false,
			"attempts":         0,
			"next_eligible_at": now,
			"updated_at":       now,
		}).
		Error
	if err != nil {
		return nil, fmt.Errorf("failed to unpark work items, %w", err)
	}

	return &asset, nil
}

// purge drops parked items that sat failed past the retention window
func (q *Queue) purge() {
	cutoff := q.Now().Add(-q.Policy.Retention).Unix()

	err := q.DB.
		Where("parked = ? AND updated_at < ?", true, cutoff).
		Delete(model.QueueItem{}).
		Error
	if err != nil {
		zap.L().Error("Failed to purge parked work items", zap.Error(err))
	}
}
