package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
	"github.com/probatio/probatio/internal/storage/sqlite"
)

func setupAudit(t *testing.T) (*Service, models.TenantContext, models.TenantContext) {
	t.Helper()
	logger := arbor.NewLogger()
	ctx := context.Background()

	db, err := sqlite.NewManager(logger, &common.DatabaseConfig{
		Path:        t.TempDir() + "/test.db",
		BusyTimeout: "5s",
		CacheSizeKB: 2000,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	acme := models.NewTenant("acme")
	require.NoError(t, db.TenantStorage().CreateTenant(ctx, acme))
	rival := models.NewTenant("rival")
	require.NoError(t, db.TenantStorage().CreateTenant(ctx, rival))

	svc := NewService(logger, db.AuditStorage())
	return svc,
		models.TenantContext{TenantID: acme.ID, ActorID: "usr_analyst"},
		models.TenantContext{TenantID: rival.ID, ActorID: "usr_outsider"}
}

func TestRecordAndList(t *testing.T) {
	svc, tc, _ := setupAudit(t)
	ctx := context.Background()

	svc.Record(ctx, &models.AuditLog{
		TenantID:  tc.TenantID,
		Action:    "document.upload",
		ActorID:   tc.ActorID,
		EntityID:  "doc_123",
		RequestID: "req_abc",
		Details:   map[string]interface{}{"filename": "report.pdf"},
	})

	// The append happens off the request path.
	require.Eventually(t, func() bool {
		entries, err := svc.List(ctx, tc, nil)
		return err == nil && len(entries) == 1
	}, 2*time.Second, 10*time.Millisecond)

	entries, err := svc.List(ctx, tc, nil)
	require.NoError(t, err)
	entry := entries[0]
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())
	assert.Equal(t, "document.upload", entry.Action)
	assert.Equal(t, "usr_analyst", entry.ActorID)
	assert.Equal(t, "doc_123", entry.EntityID)
	assert.Equal(t, "req_abc", entry.RequestID)
	assert.Equal(t, "report.pdf", entry.Details["filename"])
}

func TestRecord_DropsInvalidEntries(t *testing.T) {
	svc, tc, _ := setupAudit(t)
	ctx := context.Background()

	svc.Record(ctx, nil)
	svc.Record(ctx, &models.AuditLog{Action: "orphan.action"})
	svc.Record(ctx, &models.AuditLog{TenantID: tc.TenantID})

	entries, err := svc.List(ctx, tc, nil)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestList_ScopedByTenant(t *testing.T) {
	svc, tc, rivalTC := setupAudit(t)
	ctx := context.Background()

	svc.Record(ctx, &models.AuditLog{TenantID: tc.TenantID, Action: "document.upload"})
	svc.Record(ctx, &models.AuditLog{TenantID: rivalTC.TenantID, Action: "document.delete"})

	require.Eventually(t, func() bool {
		mine, err1 := svc.List(ctx, tc, nil)
		theirs, err2 := svc.List(ctx, rivalTC, nil)
		return err1 == nil && err2 == nil && len(mine) == 1 && len(theirs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mine, err := svc.List(ctx, tc, nil)
	require.NoError(t, err)
	assert.Equal(t, "document.upload", mine[0].Action)

	theirs, err := svc.List(ctx, rivalTC, nil)
	require.NoError(t, err)
	assert.Equal(t, "document.delete", theirs[0].Action)
}

func TestList_PaginatesNewestFirst(t *testing.T) {
	svc, tc, _ := setupAudit(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Minute)

	for i, action := range []string{"first", "second", "third"} {
		svc.Record(ctx, &models.AuditLog{
			TenantID:  tc.TenantID,
			Action:    action,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}

	require.Eventually(t, func() bool {
		entries, err := svc.List(ctx, tc, nil)
		return err == nil && len(entries) == 3
	}, 2*time.Second, 10*time.Millisecond)

	page, err := svc.List(ctx, tc, &interfaces.ListOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "third", page[0].Action)
	assert.Equal(t, "second", page[1].Action)

	rest, err := svc.List(ctx, tc, &interfaces.ListOptions{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "first", rest[0].Action)
}
