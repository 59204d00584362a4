// Package reconcile periodically compares local asset records against the
// remote service's inventory and flags drift. It never deletes anything,
// locally or remotely, on its own.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitwise74/stream-vault/internal/model"
	"bitwise74/stream-vault/internal/remote"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// HealthReport summarizes one reconciliation pass.
type HealthReport struct {
	Healthy   int `json:"healthy"`
	Unhealthy int `json:"unhealthy"`

	Stuck         int      `json:"stuck"`
	LocalOrphans  int      `json:"local_orphans"`
	RemoteOrphans []string `json:"remote_orphans,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func (r HealthReport) HasIssues() bool {
	return r.Unhealthy > 0 || r.Stuck > 0 || r.LocalOrphans > 0 || len(r.RemoteOrphans) > 0
}

// Notifier is the external alerting collaborator. Only called when a pass
// found something wrong.
type Notifier interface {
	HealthAlert(report HealthReport)
}

// LogNotifier alerts through the process log. The default when no real
// alerting collaborator is wired in.
type LogNotifier struct{}

func (LogNotifier) HealthAlert(report HealthReport) {
	zap.L().Warn("Reconciliation found issues",
		zap.Int("unhealthy", report.Unhealthy),
		zap.Int("stuck", report.Stuck),
		zap.Int("local_orphans", report.LocalOrphans),
		zap.Int("remote_orphans", len(report.RemoteOrphans)))
}

type Runner struct {
	DB       *gorm.DB
	Remote   remote.Client
	Notifier Notifier

	StuckAfter time.Duration
	PageSize   int32

	// Injectable for tests
	Now func() time.Time
}

func New(db *gorm.DB, rc remote.Client) *Runner {
	return &Runner{
		DB:         db,
		Remote:     rc,
		Notifier:   LogNotifier{},
		StuckAfter: viper.GetDuration("reconcile.stuck_after"),
		PageSize:   viper.GetInt32("reconcile.page_size"),
		Now:        time.Now,
	}
}

// Run performs one full reconciliation pass: stuck-transfer recovery,
// local-orphan detection, then remote-orphan detection. A failure on one
// asset is logged and skipped, it never aborts the pass.
func (r *Runner) Run(ctx context.Context) HealthReport {
	report := HealthReport{StartedAt: r.Now()}

	r.recoverStuck(ctx, &report)
	r.findLocalOrphans(ctx, &report)
	r.findRemoteOrphans(ctx, &report)

	report.FinishedAt = r.Now()

	zap.L().Info("Reconciliation pass finished",
		zap.Int("healthy", report.Healthy),
		zap.Int("unhealthy", report.Unhealthy),
		zap.Int("stuck", report.Stuck),
		zap.Int("local_orphans", report.LocalOrphans),
		zap.Int("remote_orphans", len(report.RemoteOrphans)))

	if report.HasIssues() && r.Notifier != nil {
		r.Notifier.HealthAlert(report)
	}

	return report
}

// recoverStuck looks for assets that have sat in uploading or processing
// past the threshold, gives each one last sync against the remote and
// marks the ones that didn't move as failed. The threshold counts from
// when the asset entered its current phase, not from submission, so an
// asset that waited in the queue for hours isn't punished for a transfer
// that started minutes ago.
func (r *Runner) recoverStuck(ctx context.Context, report *HealthReport) {
	cutoff := r.Now().Add(-r.StuckAfter).Unix()

	var assets []model.Asset
	err := r.DB.
		Where("(status = ? AND COALESCE(processing_at, submitted_at) < ?) OR (status = ? AND submitted_at < ?)",
			model.StatusProcessing, cutoff, model.StatusUploading, cutoff).
		Find(&assets).
		Error
	if err != nil {
		zap.L().Error("Failed to query for stuck transfers", zap.Error(err))
		report.Unhealthy++
		return
	}

	for i := range assets {
		asset := &assets[i]

		if asset.RemoteID != "" {
			res, err := r.Remote.GetStatus(ctx, asset.RemoteID)
			if err == nil && res.Status != asset.Status && asset.Status.CanTransition(res.Status) {
				// The remote actually moved on, catch the local record up
				if terr := asset.Transition(res.Status); terr == nil {
					if asset.Status == model.StatusReady && asset.ReadyAt == nil {
						now := r.Now().Unix()
						asset.ReadyAt = &now
					}

					if serr := r.DB.Save(asset).Error; serr != nil {
						zap.L().Error("Failed to store recovered status", zap.Error(serr))
						report.Unhealthy++
						continue
					}

					report.Healthy++
					continue
				}
			}

			if err != nil && !errors.Is(err, remote.ErrNotFound) {
				zap.L().Error("Remote check failed during stuck recovery, leaving asset untouched",
					zap.String("asset_id", asset.ID), zap.Error(err))
				report.Unhealthy++
				continue
			}
		}

		r.markError(asset, "transfer stuck, needs manual review", report)
		report.Stuck++
	}
}

// findLocalOrphans verifies that every ready asset still exists remotely.
func (r *Runner) findLocalOrphans(ctx context.Context, report *HealthReport) {
	var assets []model.Asset
	err := r.DB.
		Where("status = ? AND remote_id <> ''", model.StatusReady).
		Find(&assets).
		Error
	if err != nil {
		zap.L().Error("Failed to query for ready assets", zap.Error(err))
		report.Unhealthy++
		return
	}

	for i := range assets {
		asset := &assets[i]

		_, err := r.Remote.GetStatus(ctx, asset.RemoteID)
		switch {
		case err == nil:
			report.Healthy++
		case errors.Is(err, remote.ErrNotFound):
			r.markError(asset, fmt.Sprintf("remote asset %s is missing, local record orphaned", asset.RemoteID), report)
			report.LocalOrphans++
		default:
			zap.L().Error("Remote check failed during orphan detection, leaving asset untouched",
				zap.String("asset_id", asset.ID), zap.Error(err))
			report.Unhealthy++
		}
	}
}

// findRemoteOrphans lists the remote inventory and records ids the local
// store doesn't know about. No automatic deletion, the list goes to an
// administrator.
func (r *Runner) findRemoteOrphans(ctx context.Context, report *HealthReport) {
	objects, err := r.Remote.List(ctx, r.PageSize)
	if err != nil {
		zap.L().Error("Failed to list remote assets", zap.Error(err))
		report.Unhealthy++
		return
	}

	for _, o := range objects {
		var count int64

		err := r.DB.Model(model.Asset{}).Where("remote_id = ?", o.RemoteID).Count(&count).Error
		if err != nil {
			zap.L().Error("Failed to match remote asset locally", zap.Error(err))
			report.Unhealthy++
			continue
		}

		if count == 0 {
			report.RemoteOrphans = append(report.RemoteOrphans, o.RemoteID)
		} else {
			report.Healthy++
		}
	}
}

func (r *Runner) markError(asset *model.Asset, message string, report *HealthReport) {
	if err := asset.Transition(model.StatusError); err != nil {
		zap.L().Error("Failed to mark asset as errored", zap.Error(err))
		report.Unhealthy++
		return
	}

	asset.LastError = message

	if err := r.DB.Save(asset).Error; err != nil {
		zap.L().Error("Failed to persist asset error state", zap.Error(err))
		report.Unhealthy++
	}
}
