package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagewatch/internal/domain"
)

func TestDecodeImageUpdate(t *testing.T) {
	payload := []byte(`{
		"id": "images:42:2026-10-19T10:00:00Z",
		"entity": "images",
		"kind": "update",
		"owner_id": "acct",
		"before": {"id": "img-1", "user_id": "acct", "name": "nginx", "registry_url": null,
			"registry_domain": null, "status": "pending", "critical_vulnerabilities": 0,
			"high_vulnerabilities": 0, "medium_vulnerabilities": 0, "last_scan": null,
			"created_at": "2026-10-19T09:00:00.123456+00:00", "updated_at": "2026-10-19T09:00:00+00:00"},
		"after": {"id": "img-1", "user_id": "acct", "name": "nginx", "registry_url": "ghcr.io/acme/nginx",
			"registry_domain": "ghcr.io", "status": "complete", "critical_vulnerabilities": 2,
			"high_vulnerabilities": 1, "medium_vulnerabilities": 4, "last_scan": "2026-10-19T10:00:00+00:00",
			"created_at": "2026-10-19T09:00:00.123456+00:00", "updated_at": "2026-10-19T10:00:00+00:00"}
	}`)

	ev, err := decodeChange(payload)
	require.NoError(t, err)
	assert.Equal(t, domain.EntityImages, ev.Entity)
	assert.Equal(t, domain.EventUpdate, ev.Kind)
	assert.Equal(t, "acct", ev.OwnerID)
	assert.False(t, ev.ReceivedAt.IsZero())

	require.NotNil(t, ev.ImageBefore)
	require.NotNil(t, ev.ImageAfter)
	assert.Equal(t, domain.StatusPending, ev.ImageBefore.Status)
	assert.Nil(t, ev.ImageBefore.LastScan)
	assert.Equal(t, domain.StatusComplete, ev.ImageAfter.Status)
	assert.Equal(t, domain.Vulnerabilities{Critical: 2, High: 1, Medium: 4}, ev.ImageAfter.Vulnerabilities)
	require.NotNil(t, ev.ImageAfter.RegistryDomain)
	assert.Equal(t, "ghcr.io", *ev.ImageAfter.RegistryDomain)
	assert.NotNil(t, ev.ImageAfter.LastScan)
	assert.Equal(t, "img-1", ev.ImageID())
}

func TestDecodeHistoryInsert(t *testing.T) {
	payload := []byte(`{
		"id": "scan_history:7",
		"entity": "scan_history",
		"kind": "insert",
		"owner_id": "acct",
		"before": null,
		"after": {"id": "h-1", "image_id": "img-1", "user_id": "acct", "status": "scanning",
			"scan_started_at": "2026-10-19T10:00:00+00:00", "scan_completed_at": null,
			"vulnerabilities_found": {}}
	}`)

	ev, err := decodeChange(payload)
	require.NoError(t, err)
	assert.Equal(t, domain.EntityScanHistory, ev.Entity)
	assert.Nil(t, ev.HistoryBefore)
	require.NotNil(t, ev.HistoryAfter)
	assert.Equal(t, "img-1", ev.HistoryAfter.ImageID)
	assert.Equal(t, domain.StatusScanning, ev.HistoryAfter.Status)
	assert.Nil(t, ev.HistoryAfter.CompletedAt)
	assert.Empty(t, ev.HistoryAfter.Findings)
	assert.Nil(t, ev.ImageAfter)
}

func TestDecodeRejectsBadPayloads(t *testing.T) {
	_, err := decodeChange([]byte(`{"entity": "profiles", "kind": "insert"}`))
	assert.ErrorContains(t, err, "unknown entity profiles")

	_, err = decodeChange([]byte(`not json`))
	assert.Error(t, err)

	_, err = decodeChange([]byte(`{"entity": "images", "kind": "insert", "after": {"created_at": "yesterday"}}`))
	assert.Error(t, err)
}

func TestWrapErr(t *testing.T) {
	assert.NoError(t, wrapErr("get image", nil))
	assert.ErrorIs(t, wrapErr("get image", pgx.ErrNoRows), domain.ErrNotFound)
	assert.ErrorIs(t, wrapErr("get image", fmt.Errorf("scan: %w", pgx.ErrNoRows)), domain.ErrNotFound)
	assert.ErrorIs(t, wrapErr("insert image", &pgconn.PgError{Code: codeUniqueViolation}), domain.ErrDuplicateName)
	assert.ErrorIs(t, wrapErr("get image", &pgconn.PgError{Code: codeInvalidText}), domain.ErrNotFound)

	serverErr := &pgconn.PgError{Code: "23514", Message: "check constraint"}
	err := wrapErr("update image", serverErr)
	assert.ErrorIs(t, err, serverErr)
	assert.False(t, domain.IsTransport(err))

	err = wrapErr("list images", errors.New("connection refused"))
	assert.True(t, domain.IsTransport(err))
	var te *domain.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "list images", te.Op)
}
