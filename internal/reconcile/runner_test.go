package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"bitwise74/stream-vault/internal/model"
	"bitwise74/stream-vault/internal/remote"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type remoteStub struct {
	// Per remote ID status answers, missing entries report ErrNotFound
	statuses map[string]*remote.StatusResult
	listing  []remote.RemoteObject
	listErr  error
}

func (s *remoteStub) Upload(ctx context.Context, sourcePath string, metadata map[string]string) (*remote.UploadResult, error) {
	return nil, errors.New("not implemented")
}

func (s *remoteStub) GetStatus(ctx context.Context, remoteID string) (*remote.StatusResult, error) {
	if res, ok := s.statuses[remoteID]; ok {
		return res, nil
	}
	return nil, remote.ErrNotFound
}

func (s *remoteStub) Delete(ctx context.Context, remoteID string) error {
	return nil
}

func (s *remoteStub) List(ctx context.Context, pageSize int32) ([]remote.RemoteObject, error) {
	return s.listing, s.listErr
}

func (s *remoteStub) SignedURL(ctx context.Context, remoteID string, expiry time.Duration) (string, error) {
	return "https://cdn.example.com/" + remoteID, nil
}

type captureNotifier struct {
	reports []HealthReport
}

func (n *captureNotifier) HealthAlert(report HealthReport) {
	n.reports = append(n.reports, report)
}

func newTestRunner(t *testing.T, stub *remoteStub) (*Runner, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:" + t.Name() + "?mode=memory&cache=shared"))
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(model.Asset{}))

	return &Runner{
		DB:         db,
		Remote:     stub,
		Notifier:   LogNotifier{},
		StuckAfter: 2 * time.Hour,
		PageSize:   1000,
		Now:        time.Now,
	}, db
}

func seedAsset(t *testing.T, db *gorm.DB, id, remoteID string, status model.Status, age time.Duration) {
	t.Helper()

	require.NoError(t, db.Create(&model.Asset{
		ID:           id,
		UserID:       "alice",
		CollectionID: "col1",
		RemoteID:     remoteID,
		Status:       status,
		SubmittedAt:  time.Now().Add(-age).Unix(),
	}).Error)
}

func TestLocalOrphanFlagged(t *testing.T) {
	stub := &remoteStub{statuses: map[string]*remote.StatusResult{}}
	r, db := newTestRunner(t, stub)

	seedAsset(t, db, "a1", "gone123", model.StatusReady, time.Minute)

	report := r.Run(context.Background())
	assert.Equal(t, 1, report.LocalOrphans)
	assert.True(t, report.HasIssues())

	// The record is flagged, never deleted
	var asset model.Asset
	require.NoError(t, db.Where("id = ?", "a1").First(&asset).Error)
	assert.Equal(t, model.StatusError, asset.Status)
	assert.Contains(t, asset.LastError, "gone123")
	assert.Contains(t, asset.LastError, "orphaned")
}

func TestHealthyAssetUntouched(t *testing.T) {
	stub := &remoteStub{statuses: map[string]*remote.StatusResult{
		"r1": {Status: model.StatusReady},
	}}
	r, db := newTestRunner(t, stub)

	seedAsset(t, db, "a1", "r1", model.StatusReady, time.Minute)

	report := r.Run(context.Background())
	assert.Equal(t, 1, report.Healthy)
	assert.False(t, report.HasIssues())

	var asset model.Asset
	require.NoError(t, db.Where("id = ?", "a1").First(&asset).Error)
	assert.Equal(t, model.StatusReady, asset.Status)
}

func TestStuckTransferCaughtUp(t *testing.T) {
	stub := &remoteStub{statuses: map[string]*remote.StatusResult{
		"r1": {Status: model.StatusReady},
	}}
	r, db := newTestRunner(t, stub)

	// Stuck in processing for 3h, but the remote finished long ago
	seedAsset(t, db, "a1", "r1", model.StatusProcessing, 3*time.Hour)

	report := r.Run(context.Background())
	assert.Zero(t, report.Stuck)

	var asset model.Asset
	require.NoError(t, db.Where("id = ?", "a1").First(&asset).Error)
	assert.Equal(t, model.StatusReady, asset.Status)
	require.NotNil(t, asset.ReadyAt)
}

func TestStuckTransferMarkedFailed(t *testing.T) {
	stub := &remoteStub{statuses: map[string]*remote.StatusResult{
		"r1": {Status: model.StatusProcessing},
	}}
	r, db := newTestRunner(t, stub)

	// The remote hasn't moved either, a human needs to look at this
	seedAsset(t, db, "a1", "r1", model.StatusProcessing, 3*time.Hour)

	report := r.Run(context.Background())
	assert.Equal(t, 1, report.Stuck)

	var asset model.Asset
	require.NoError(t, db.Where("id = ?", "a1").First(&asset).Error)
	assert.Equal(t, model.StatusError, asset.Status)
	assert.Contains(t, asset.LastError, "stuck")
}

func TestQueuedLongButRecentlyProcessingNotStuck(t *testing.T) {
	stub := &remoteStub{statuses: map[string]*remote.StatusResult{
		"r1": {Status: model.StatusProcessing},
	}}
	r, db := newTestRunner(t, stub)

	// Waited in the queue for hours but only entered processing minutes
	// ago. The transfer itself is healthy and must be left alone.
	procAt := time.Now().Add(-10 * time.Minute).Unix()
	require.NoError(t, db.Create(&model.Asset{
		ID:           "a1",
		UserID:       "alice",
		CollectionID: "col1",
		RemoteID:     "r1",
		Status:       model.StatusProcessing,
		SubmittedAt:  time.Now().Add(-3 * time.Hour).Unix(),
		ProcessingAt: &procAt,
	}).Error)

	report := r.Run(context.Background())
	assert.Zero(t, report.Stuck)

	var asset model.Asset
	require.NoError(t, db.Where("id = ?", "a1").First(&asset).Error)
	assert.Equal(t, model.StatusProcessing, asset.Status)
	assert.Empty(t, asset.LastError)
}

func TestRecentTransferNotTouched(t *testing.T) {
	stub := &remoteStub{statuses: map[string]*remote.StatusResult{}}
	r, db := newTestRunner(t, stub)

	seedAsset(t, db, "a1", "", model.StatusUploading, 10*time.Minute)

	report := r.Run(context.Background())
	assert.Zero(t, report.Stuck)

	var asset model.Asset
	require.NoError(t, db.Where("id = ?", "a1").First(&asset).Error)
	assert.Equal(t, model.StatusUploading, asset.Status)
}

func TestRemoteOrphansListedNotDeleted(t *testing.T) {
	stub := &remoteStub{
		statuses: map[string]*remote.StatusResult{
			"known": {Status: model.StatusReady},
		},
		listing: []remote.RemoteObject{
			{RemoteID: "known", Size: 100},
			{RemoteID: "mystery1", Size: 200},
			{RemoteID: "mystery2", Size: 300},
		},
	}
	r, db := newTestRunner(t, stub)

	seedAsset(t, db, "a1", "known", model.StatusReady, time.Minute)

	report := r.Run(context.Background())
	assert.ElementsMatch(t, []string{"mystery1", "mystery2"}, report.RemoteOrphans)
	assert.True(t, report.HasIssues())
}

func TestNotifierFiresOnlyOnIssues(t *testing.T) {
	stub := &remoteStub{statuses: map[string]*remote.StatusResult{
		"r1": {Status: model.StatusReady},
	}}
	r, db := newTestRunner(t, stub)

	notifier := &captureNotifier{}
	r.Notifier = notifier

	seedAsset(t, db, "a1", "r1", model.StatusReady, time.Minute)

	r.Run(context.Background())
	assert.Empty(t, notifier.reports, "a clean pass must not alert")

	seedAsset(t, db, "a2", "missing", model.StatusReady, time.Minute)

	r.Run(context.Background())
	require.Len(t, notifier.reports, 1)
	assert.Equal(t, 1, notifier.reports[0].LocalOrphans)
}
