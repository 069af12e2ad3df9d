package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagewatch/internal/adapters/memory"
	"imagewatch/internal/domain"
)

func TestCalcChange(t *testing.T) {
	tests := []struct {
		current, previous, want int
	}{
		{0, 0, 0},
		{5, 0, 100},
		{50, 100, -50},
		{150, 100, 50},
		{1, 3, -67},
		{2, 3, -33},
		{3, 8, -62},
		{1, 8, -87},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CalcChange(tt.current, tt.previous), "calcChange(%d, %d)", tt.current, tt.previous)
	}
}

func TestComplianceScoreAndLevel(t *testing.T) {
	assert.Equal(t, 100, ComplianceScore(0, 0))
	assert.Equal(t, domain.Compliant, Level(100))

	assert.Equal(t, 70, ComplianceScore(2, 0))
	assert.Equal(t, domain.AtRisk, Level(70))

	assert.Equal(t, 25, ComplianceScore(5, 0))
	assert.Equal(t, domain.NonCompliant, Level(25))

	assert.Equal(t, 90, ComplianceScore(0, 2))
	assert.Equal(t, domain.Compliant, Level(90))

	assert.Equal(t, 0, ComplianceScore(10, 10))
}

func TestRecommendations(t *testing.T) {
	assert.Nil(t, Recommendations(domain.Compliance{Level: domain.Compliant}))
	recs := Recommendations(domain.Compliance{Level: domain.AtRisk, CriticalImages: 2})
	require.Len(t, recs, 3)
	assert.Equal(t, "Address critical vulnerabilities in 2 images", recs[0])
}

type seeded struct {
	store *memory.Store
	owner string
}

func (s seeded) add(t *testing.T, name string, created time.Time, v domain.Vulnerabilities) domain.Image {
	t.Helper()
	s.store.SetClock(func() time.Time { return created })
	img, err := s.store.InsertImage(context.Background(), domain.Image{OwnerID: s.owner, Name: name, Status: domain.StatusComplete, Vulnerabilities: v})
	require.NoError(t, err)
	return img
}

func (s seeded) scan(t *testing.T, img domain.Image, started time.Time) {
	t.Helper()
	_, err := s.store.InsertHistory(context.Background(), domain.ScanHistoryEntry{ImageID: img.ID, OwnerID: s.owner, Status: domain.StatusComplete, StartedAt: started})
	require.NoError(t, err)
}

func TestCompute(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	db := seeded{store: memory.New(), owner: "acct"}

	old := db.add(t, "old", now.AddDate(0, -2, 0), domain.Vulnerabilities{Critical: 1, High: 1})
	db.add(t, "recent", now.AddDate(0, 0, -3), domain.Vulnerabilities{Critical: 2})
	db.add(t, "clean", now.AddDate(0, 0, -1), domain.Vulnerabilities{})
	// another account's data never counts
	seeded{store: db.store, owner: "other"}.add(t, "old", now.AddDate(0, -2, 0), domain.Vulnerabilities{Critical: 9})

	db.scan(t, old, now.Add(-1*time.Hour))
	db.scan(t, old, now.Add(-2*time.Hour))
	db.scan(t, old, now.Add(-30*time.Hour))
	db.scan(t, old, now.Add(-72*time.Hour))

	svc := New(db.store, WithClock(func() time.Time { return now }))
	st, err := svc.Compute(context.Background(), "acct")
	require.NoError(t, err)

	assert.Equal(t, domain.Metric{Value: 3, Change: 200, Period: PeriodLastMonth}, st.TotalImages)
	assert.Equal(t, domain.Metric{Value: 2, Change: 100, Period: PeriodLastMonth}, st.CriticalIssues)
	assert.Equal(t, domain.Metric{Value: 1, Change: 0, Period: PeriodLastMonth}, st.HighRisk)
	assert.Equal(t, domain.Metric{Value: 2, Change: 100, Period: PeriodYesterday}, st.ScannedToday)
}

func TestComputeComparisonPeriod(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	svc := New(memory.New(), WithClock(func() time.Time { return now }), WithComparisonMonths(3))
	st, err := svc.Compute(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, "last 3 months", st.TotalImages.Period)
	assert.Equal(t, 0, st.TotalImages.Change)
}

func TestCompliance(t *testing.T) {
	now := time.Now()
	db := seeded{store: memory.New(), owner: "acct"}
	db.add(t, "a", now, domain.Vulnerabilities{Critical: 3, High: 1})
	db.add(t, "b", now, domain.Vulnerabilities{Critical: 1})
	db.add(t, "c", now, domain.Vulnerabilities{High: 4})

	c, err := New(db.store).Compliance(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, 3, c.TotalImages)
	assert.Equal(t, 2, c.CriticalImages)
	assert.Equal(t, 2, c.HighImages)
	assert.Equal(t, 60, c.Score)
	assert.Equal(t, domain.NonCompliant, c.Level)
	assert.NotEmpty(t, c.Recommendations)
}

type failingRepo struct{ err error }

func (f failingRepo) CountImages(context.Context, string, domain.CountFilter) (int, error) {
	return 0, f.err
}

func (f failingRepo) CountScansStarted(context.Context, string, time.Time, *time.Time) (int, error) {
	return 0, f.err
}

func TestComputePropagatesTransportErrors(t *testing.T) {
	down := &domain.TransportError{Op: "count images", Err: errors.New("connection refused")}
	_, err := New(failingRepo{err: down}).Compute(context.Background(), "acct")
	require.Error(t, err)
	assert.True(t, domain.IsTransport(err))

	_, err = New(failingRepo{err: down}).Compliance(context.Background(), "acct")
	assert.True(t, domain.IsTransport(err))
}
