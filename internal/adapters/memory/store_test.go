package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagewatch/internal/domain"
	"imagewatch/internal/ports"
)

func TestInsertImageRejectsDuplicateNamePerOwner(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.InsertImage(ctx, domain.Image{OwnerID: "a", Name: "api"})
	require.NoError(t, err)

	_, err = s.InsertImage(ctx, domain.Image{OwnerID: "a", Name: "api"})
	assert.ErrorIs(t, err, domain.ErrDuplicateName)

	_, err = s.InsertImage(ctx, domain.Image{OwnerID: "b", Name: "api"})
	assert.NoError(t, err, "names are unique per owner only")
}

func TestOwnerScoping(t *testing.T) {
	ctx := context.Background()
	s := New()
	img, err := s.InsertImage(ctx, domain.Image{OwnerID: "a", Name: "api"})
	require.NoError(t, err)

	_, err = s.GetImage(ctx, "b", img.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, s.DeleteImage(ctx, "b", img.ID), domain.ErrNotFound)

	list, err := s.ListImages(ctx, "b", domain.ImageFilter{}, nil)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDeleteImageRequiresHistoryGone(t *testing.T) {
	ctx := context.Background()
	s := New()
	img, _ := s.InsertImage(ctx, domain.Image{OwnerID: "a", Name: "api"})
	_, err := s.InsertHistory(ctx, domain.ScanHistoryEntry{ImageID: img.ID, OwnerID: "a", Status: domain.StatusPending})
	require.NoError(t, err)

	assert.ErrorIs(t, s.DeleteImage(ctx, "a", img.ID), ErrConstraint)

	require.NoError(t, s.DeleteHistoryForImage(ctx, "a", img.ID))
	require.NoError(t, s.DeleteImage(ctx, "a", img.ID))
	_, err = s.GetImage(ctx, "a", img.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListImagesOrderAndHistory(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })
	first, _ := s.InsertImage(ctx, domain.Image{OwnerID: "a", Name: "first"})
	now = now.Add(time.Minute)
	second, _ := s.InsertImage(ctx, domain.Image{OwnerID: "a", Name: "second"})
	_, err := s.InsertHistory(ctx, domain.ScanHistoryEntry{ImageID: first.ID, OwnerID: "a"})
	require.NoError(t, err)

	list, err := s.ListImages(ctx, "a", domain.ImageFilter{}, nil)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
	require.Len(t, list[1].History, 1)
	assert.Equal(t, now, list[1].History[0].StartedAt)

	now = now.Add(time.Minute)
	status := domain.StatusScanning
	_, err = s.UpdateImage(ctx, "a", first.ID, domain.ImageUpdate{Status: &status})
	require.NoError(t, err)
	list, _ = s.ListImages(ctx, "a", domain.ImageFilter{}, nil)
	assert.Equal(t, first.ID, list[0].ID, "most recently updated first")
}

func TestCompleteScan(t *testing.T) {
	ctx := context.Background()
	s := New()
	img, _ := s.InsertImage(ctx, domain.Image{OwnerID: "a", Name: "api", Status: domain.StatusScanning})
	_, _ = s.InsertHistory(ctx, domain.ScanHistoryEntry{ImageID: img.ID, OwnerID: "a", Status: domain.StatusPending})
	_, _ = s.InsertHistory(ctx, domain.ScanHistoryEntry{ImageID: img.ID, OwnerID: "a", Status: domain.StatusScanning})

	jobs, err := s.ListScanning(ctx)
	require.NoError(t, err)
	require.Equal(t, []ports.ScanJob{{ImageID: img.ID, OwnerID: "a", Name: "api"}}, jobs)

	at := time.Now()
	counts := domain.Vulnerabilities{Critical: 1, High: 2, Medium: 3}
	require.NoError(t, s.CompleteScan(ctx, jobs[0], domain.StatusComplete, counts, at))

	got, _ := s.GetImage(ctx, "a", img.ID)
	assert.Equal(t, domain.StatusComplete, got.Status)
	assert.Equal(t, counts, got.Vulnerabilities)
	require.NotNil(t, got.LastScan)

	history, _ := s.ListHistory(ctx, "a", img.ID)
	require.Len(t, history, 2)
	assert.Equal(t, domain.StatusPending, history[0].Status, "only scanning rows are concluded")
	assert.Equal(t, domain.StatusComplete, history[1].Status)
	assert.Equal(t, counts.Findings(), history[1].Findings)

	// a second completion is a no-op
	require.NoError(t, s.CompleteScan(ctx, jobs[0], domain.StatusFailed, domain.Vulnerabilities{}, at))
	got, _ = s.GetImage(ctx, "a", img.ID)
	assert.Equal(t, domain.StatusComplete, got.Status)
}

func TestStartScanIsConditional(t *testing.T) {
	ctx := context.Background()
	s := New()
	img, _ := s.InsertImage(ctx, domain.Image{OwnerID: "a", Name: "api", Status: domain.StatusPending})
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	got, started, err := s.StartScan(ctx, "a", img.ID, at)
	require.NoError(t, err)
	assert.True(t, started)
	assert.Equal(t, domain.StatusScanning, got.Status)
	require.NotNil(t, got.LastScan)
	assert.Equal(t, at, *got.LastScan)

	got, started, err = s.StartScan(ctx, "a", img.ID, at.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, started)
	assert.Equal(t, at, *got.LastScan, "an in-flight scan is left untouched")

	_, _, err = s.StartScan(ctx, "b", img.ID, at)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFailedCompletionKeepsCounts(t *testing.T) {
	ctx := context.Background()
	s := New()
	img, _ := s.InsertImage(ctx, domain.Image{OwnerID: "a", Name: "api", Status: domain.StatusScanning,
		Vulnerabilities: domain.Vulnerabilities{Critical: 2, Medium: 1}})
	_, _ = s.InsertHistory(ctx, domain.ScanHistoryEntry{ImageID: img.ID, OwnerID: "a", Status: domain.StatusScanning})

	job := ports.ScanJob{ImageID: img.ID, OwnerID: "a", Name: "api"}
	require.NoError(t, s.CompleteScan(ctx, job, domain.StatusFailed, domain.Vulnerabilities{}, time.Now()))

	got, _ := s.GetImage(ctx, "a", img.ID)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, domain.Vulnerabilities{Critical: 2, Medium: 1}, got.Vulnerabilities)
	history, _ := s.ListHistory(ctx, "a", img.ID)
	require.Len(t, history, 1)
	assert.Equal(t, domain.StatusFailed, history[0].Status)
	assert.Empty(t, history[0].Findings)
}

func TestSubscribeScopesByOwnerAndEntity(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New()
	images, err := s.Subscribe(ctx, "a", domain.EntityImages)
	require.NoError(t, err)
	history, err := s.Subscribe(ctx, "a", domain.EntityScanHistory)
	require.NoError(t, err)

	_, _ = s.InsertImage(context.Background(), domain.Image{OwnerID: "b", Name: "other"})
	img, _ := s.InsertImage(context.Background(), domain.Image{OwnerID: "a", Name: "mine"})
	_, _ = s.InsertHistory(context.Background(), domain.ScanHistoryEntry{ImageID: img.ID, OwnerID: "a"})

	ev := <-images
	assert.Equal(t, domain.EventInsert, ev.Kind)
	assert.Equal(t, "mine", ev.ImageAfter.Name)
	assert.NotEmpty(t, ev.ID)

	hev := <-history
	assert.Equal(t, domain.EntityScanHistory, hev.Entity)
	assert.Equal(t, img.ID, hev.ImageID())

	cancel()
	assert.Eventually(t, func() bool {
		_, open := <-images
		return !open
	}, time.Second, 10*time.Millisecond)
}
