package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bitwise74/stream-vault/internal/model"
	"bitwise74/stream-vault/internal/remote"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type remoteStub struct {
	mu sync.Mutex

	uploadRes   *remote.UploadResult
	uploadErr   error
	uploadPanic string
	statusRes   *remote.StatusResult
	statusErr   error
	deleteErr   error

	// Asset order observed through upload payloads
	uploads []string

	// Concurrency tracking for the in-flight invariant
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	delay       time.Duration
}

func (s *remoteStub) track() func() {
	n := s.inFlight.Add(1)
	for {
		max := s.maxInFlight.Load()
		if n <= max || s.maxInFlight.CompareAndSwap(max, n) {
			break
		}
	}

	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	return func() { s.inFlight.Add(-1) }
}

func (s *remoteStub) Upload(ctx context.Context, sourcePath string, metadata map[string]string) (*remote.UploadResult, error) {
	defer s.track()()

	s.mu.Lock()
	s.uploads = append(s.uploads, sourcePath)
	s.mu.Unlock()

	if s.uploadPanic != "" {
		panic(s.uploadPanic)
	}
	if s.uploadErr != nil {
		return nil, s.uploadErr
	}
	return s.uploadRes, nil
}

func (s *remoteStub) GetStatus(ctx context.Context, remoteID string) (*remote.StatusResult, error) {
	defer s.track()()

	if s.statusErr != nil {
		return nil, s.statusErr
	}
	return s.statusRes, nil
}

func (s *remoteStub) Delete(ctx context.Context, remoteID string) error {
	defer s.track()()
	return s.deleteErr
}

func (s *remoteStub) List(ctx context.Context, pageSize int32) ([]remote.RemoteObject, error) {
	return nil, nil
}

func (s *remoteStub) SignedURL(ctx context.Context, remoteID string, expiry time.Duration) (string, error) {
	return "https://cdn.example.com/" + remoteID, nil
}

func testPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BackoffBase: time.Minute,
		BackoffCap:  time.Hour,
		Retention:   24 * time.Hour,
	}
}

func newTestQueue(t *testing.T, stub *remoteStub) (*Queue, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:" + t.Name() + "?mode=memory&cache=shared"))
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(model.Asset{}, model.QueueItem{}))

	return New(db, stub, testPolicy()), db
}

func seedAsset(t *testing.T, db *gorm.DB, id string, status model.Status) *model.Asset {
	t.Helper()

	asset := &model.Asset{
		ID:           id,
		UserID:       "alice",
		CollectionID: "col1",
		Status:       status,
		SubmittedAt:  time.Now().Unix(),
	}
	if status == model.StatusProcessing || status == model.StatusReady {
		asset.RemoteID = "r-" + id
	}
	require.NoError(t, db.Create(asset).Error)

	return asset
}

func TestBackoffSequence(t *testing.T) {
	p := testPolicy()

	want := []time.Duration{
		60 * time.Second,
		120 * time.Second,
		240 * time.Second,
		480 * time.Second,
		960 * time.Second,
	}

	for i, w := range want {
		assert.Equal(t, w, p.Backoff(i+1), "attempt %d", i+1)
	}

	// Capped at one hour no matter how many attempts
	assert.Equal(t, time.Hour, p.Backoff(7))
	assert.Equal(t, time.Hour, p.Backoff(40))
}

func TestDrainUploadSuccess(t *testing.T) {
	stub := &remoteStub{
		uploadRes: &remote.UploadResult{RemoteID: "cf123", Status: model.StatusReady},
	}
	q, db := newTestQueue(t, stub)

	seedAsset(t, db, "a1", model.StatusPending)

	_, err := q.Enqueue("a1", model.ActionUpload, 5, "/tmp/a1.mp4")
	require.NoError(t, err)

	res, err := q.Drain(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 0, res.Failed)

	var asset model.Asset
	require.NoError(t, db.Where("id = ?", "a1").First(&asset).Error)
	assert.Equal(t, "cf123", asset.RemoteID)
	assert.Equal(t, model.StatusReady, asset.Status)
	require.NotNil(t, asset.ReadyAt)
	require.NotNil(t, asset.ProcessingAt)

	// Terminal success removes the item
	var count int64
	require.NoError(t, db.Model(model.QueueItem{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestDrainRespectsEligibility(t *testing.T) {
	stub := &remoteStub{
		uploadRes: &remote.UploadResult{RemoteID: "cf123", Status: model.StatusReady},
	}
	q, db := newTestQueue(t, stub)

	seedAsset(t, db, "a1", model.StatusPending)

	item, err := q.Enqueue("a1", model.ActionUpload, 0, "/tmp/a1.mp4")
	require.NoError(t, err)

	item.NextEligibleAt = time.Now().Add(time.Hour).Unix()
	require.NoError(t, db.Save(item).Error)

	res, err := q.Drain(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
	assert.Empty(t, stub.uploads)
}

func TestTransientFailureBacksOffThenParks(t *testing.T) {
	stub := &remoteStub{uploadErr: errors.New("connection reset by peer")}
	q, db := newTestQueue(t, stub)

	seedAsset(t, db, "a1", model.StatusPending)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q.Now = func() time.Time { return now }

	_, err := q.Enqueue("a1", model.ActionUpload, 0, "/tmp/a1.mp4")
	require.NoError(t, err)

	// Attempt 1: 60s delay
	res, err := q.Drain(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	var item model.QueueItem
	require.NoError(t, db.First(&item).Error)
	assert.Equal(t, 1, item.Attempts)
	assert.False(t, item.Parked)
	assert.Equal(t, now.Add(60*time.Second).Unix(), item.NextEligibleAt)

	// Not eligible yet, nothing happens
	now = now.Add(30 * time.Second)
	res, _ = q.Drain(context.Background(), 1)
	assert.Zero(t, res.Failed)

	// Attempt 2: 120s delay
	now = now.Add(31 * time.Second)
	attempt2At := now
	res, _ = q.Drain(context.Background(), 1)
	assert.Equal(t, 1, res.Failed)

	require.NoError(t, db.First(&item).Error)
	assert.Equal(t, 2, item.Attempts)
	assert.Equal(t, attempt2At.Add(120*time.Second).Unix(), item.NextEligibleAt)

	// Attempt 3 exhausts the budget, the item parks and the asset fails
	now = now.Add(121 * time.Second)
	res, _ = q.Drain(context.Background(), 1)
	assert.Equal(t, 1, res.Failed)

	require.NoError(t, db.First(&item).Error)
	assert.Equal(t, 3, item.Attempts)
	assert.True(t, item.Parked)
	assert.Len(t, item.ErrorLog, 3)
	assert.Greater(t, item.NextEligibleAt, now.Add(24*time.Hour).Unix())

	var asset model.Asset
	require.NoError(t, db.Where("id = ?", "a1").First(&asset).Error)
	assert.Equal(t, model.StatusError, asset.Status)
	assert.Contains(t, asset.LastError, "connection reset")
}

func TestPermanentFailureParksImmediately(t *testing.T) {
	stub := &remoteStub{
		statusErr: &smithy.GenericAPIError{Code: "AccessDenied", Message: "no"},
	}
	q, db := newTestQueue(t, stub)

	seedAsset(t, db, "a1", model.StatusProcessing)

	_, err := q.Enqueue("a1", model.ActionSync, 0, "")
	require.NoError(t, err)

	res, err := q.Drain(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	var item model.QueueItem
	require.NoError(t, db.First(&item).Error)
	assert.True(t, item.Parked, "a 4xx must not be retried")
	assert.Equal(t, item.MaxAttempts, item.Attempts)

	var asset model.Asset
	require.NoError(t, db.Where("id = ?", "a1").First(&asset).Error)
	assert.Equal(t, model.StatusError, asset.Status)
}

func TestPriorityThenFIFO(t *testing.T) {
	stub := &remoteStub{
		uploadRes: &remote.UploadResult{RemoteID: "cf123", Status: model.StatusReady},
	}
	q, db := newTestQueue(t, stub)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q.Now = func() time.Time { return now }

	seedAsset(t, db, "low", model.StatusPending)
	seedAsset(t, db, "high1", model.StatusPending)
	seedAsset(t, db, "high2", model.StatusPending)

	_, err := q.Enqueue("low", model.ActionUpload, 1, "low.mp4")
	require.NoError(t, err)

	now = now.Add(time.Second)
	_, err = q.Enqueue("high1", model.ActionUpload, 5, "high1.mp4")
	require.NoError(t, err)

	now = now.Add(time.Second)
	_, err = q.Enqueue("high2", model.ActionUpload, 5, "high2.mp4")
	require.NoError(t, err)

	res, err := q.Drain(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)

	assert.Equal(t, []string{"high1.mp4", "high2.mp4", "low.mp4"}, stub.uploads)
}

func TestSyncUpdatesAsset(t *testing.T) {
	stub := &remoteStub{
		statusRes: &remote.StatusResult{Status: model.StatusReady, Duration: 42.5, ThumbnailURL: "https://cdn/th.webp"},
	}
	q, db := newTestQueue(t, stub)

	seedAsset(t, db, "a1", model.StatusProcessing)

	_, err := q.Enqueue("a1", model.ActionSync, 0, "")
	require.NoError(t, err)

	res, err := q.Drain(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)

	var asset model.Asset
	require.NoError(t, db.Where("id = ?", "a1").First(&asset).Error)
	assert.Equal(t, model.StatusReady, asset.Status)
	assert.Equal(t, 42.5, asset.Duration)
	assert.NotNil(t, asset.ReadyAt)
}

func TestDeleteTolerateMissingRemote(t *testing.T) {
	stub := &remoteStub{deleteErr: remote.ErrNotFound}
	q, db := newTestQueue(t, stub)

	seedAsset(t, db, "a1", model.StatusReady)

	_, err := q.Enqueue("a1", model.ActionDelete, 0, "")
	require.NoError(t, err)

	res, err := q.Drain(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed, "deleting an already absent remote object is success")
}

func TestAtMostOneInFlightPerAsset(t *testing.T) {
	stub := &remoteStub{
		statusRes: &remote.StatusResult{Status: model.StatusProcessing},
		delay:     30 * time.Millisecond,
	}
	q, db := newTestQueue(t, stub)

	seedAsset(t, db, "a1", model.StatusProcessing)

	for range 4 {
		_, err := q.Enqueue("a1", model.ActionSync, 0, "")
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Drain(context.Background(), 4)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, stub.maxInFlight.Load(), int32(1),
		"two operations on the same asset must never run concurrently")
}

func TestStaleItemCopyNotReprocessed(t *testing.T) {
	stub := &remoteStub{
		uploadRes: &remote.UploadResult{RemoteID: "cf123", Status: model.StatusReady},
	}
	q, db := newTestQueue(t, stub)

	seedAsset(t, db, "a1", model.StatusPending)

	item, err := q.Enqueue("a1", model.ActionUpload, 0, "a1.mp4")
	require.NoError(t, err)

	// An overlapping drain selected the item before this one finished it
	stale := *item

	res, err := q.Drain(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 1, res.Processed)

	processed, failed := q.runClaimed(context.Background(), &stale)
	assert.Zero(t, processed)
	assert.Zero(t, failed)

	var asset model.Asset
	require.NoError(t, db.Where("id = ?", "a1").First(&asset).Error)
	assert.Equal(t, model.StatusReady, asset.Status)
	assert.Empty(t, asset.LastError)

	var count int64
	require.NoError(t, db.Model(model.QueueItem{}).Count(&count).Error)
	assert.Zero(t, count, "a finished item must never be resurrected")
}

func TestStaleFailedCopySkipped(t *testing.T) {
	stub := &remoteStub{uploadErr: errors.New("boom")}
	q, db := newTestQueue(t, stub)

	seedAsset(t, db, "a1", model.StatusPending)

	item, err := q.Enqueue("a1", model.ActionUpload, 0, "a1.mp4")
	require.NoError(t, err)

	stale := *item

	res, err := q.Drain(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 1, res.Failed)

	// The stale copy still carries attempts 0, the stored row moved on
	processed, failed := q.runClaimed(context.Background(), &stale)
	assert.Zero(t, processed)
	assert.Zero(t, failed)

	var current model.QueueItem
	require.NoError(t, db.First(&current).Error)
	assert.Equal(t, 1, current.Attempts, "the skipped copy must not burn an extra attempt")
}

func TestClaimReleasedOnPanic(t *testing.T) {
	stub := &remoteStub{uploadPanic: "remote client blew up"}
	q, db := newTestQueue(t, stub)

	seedAsset(t, db, "a1", model.StatusPending)

	_, err := q.Enqueue("a1", model.ActionUpload, 0, "a1.mp4")
	require.NoError(t, err)

	func() {
		defer func() {
			require.NotNil(t, recover())
		}()

		q.Drain(context.Background(), 1)
	}()

	// The asset must not stay locked out, the next drain picks it up again
	stub.uploadPanic = ""
	stub.uploadRes = &remote.UploadResult{RemoteID: "cf123", Status: model.StatusReady}

	res, err := q.Drain(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)

	var asset model.Asset
	require.NoError(t, db.Where("id = ?", "a1").First(&asset).Error)
	assert.Equal(t, model.StatusReady, asset.Status)
}

func TestDrainDeadlineLeavesItems(t *testing.T) {
	stub := &remoteStub{
		uploadRes: &remote.UploadResult{RemoteID: "cf123", Status: model.StatusReady},
	}
	q, db := newTestQueue(t, stub)

	seedAsset(t, db, "a1", model.StatusPending)

	_, err := q.Enqueue("a1", model.ActionUpload, 0, "a1.mp4")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := q.Drain(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
	assert.Zero(t, res.Failed)

	// The item is untouched and picked up by the next run
	var item model.QueueItem
	require.NoError(t, db.First(&item).Error)
	assert.Zero(t, item.Attempts)

	res, err = q.Drain(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
}

func TestResetForRetry(t *testing.T) {
	stub := &remoteStub{uploadErr: errors.New("boom")}
	q, db := newTestQueue(t, stub)

	seedAsset(t, db, "a1", model.StatusPending)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q.Now = func() time.Time { return now }

	_, err := q.Enqueue("a1", model.ActionUpload, 0, "a1.mp4")
	require.NoError(t, err)

	// Burn through the whole retry budget

	for range 3 {
		q.Drain(context.Background(), 1)
		now = now.Add(time.Hour)
	}

	var asset model.Asset
	require.NoError(t, db.Where("id = ?", "a1").First(&asset).Error)
	require.Equal(t, model.StatusError, asset.Status)

	reset, err := q.ResetForRetry("a1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, reset.Status)
	assert.Empty(t, reset.LastError)

	var item model.QueueItem
	require.NoError(t, db.First(&item).Error)
	assert.False(t, item.Parked)
	assert.Zero(t, item.Attempts)
	assert.LessOrEqual(t, item.NextEligibleAt, now.Unix())

	// Resetting a healthy asset is rejected
	_, err = q.ResetForRetry("a1")
	assert.ErrorIs(t, err, ErrNotInErrorState)
}

func TestPurgeDropsOldParkedItems(t *testing.T) {
	stub := &remoteStub{
		uploadRes: &remote.UploadResult{RemoteID: "cf123", Status: model.StatusReady},
	}
	q, db := newTestQueue(t, stub)

	seedAsset(t, db, "a1", model.StatusPending)

	old := time.Now().Add(-48 * time.Hour).Unix()
	require.NoError(t, db.Create(&model.QueueItem{
		ID:             "stale",
		AssetID:        "a1",
		Action:         model.ActionUpload,
		MaxAttempts:    3,
		Attempts:       3,
		Parked:         true,
		NextEligibleAt: time.Now().Add(parkedFor).Unix(),
		CreatedAt:      old,
		UpdatedAt:      old,
	}).Error)

	_, err := q.Drain(context.Background(), 1)
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(model.QueueItem{}).Count(&count).Error)
	assert.Zero(t, count, "parked items past retention are purged")
}
