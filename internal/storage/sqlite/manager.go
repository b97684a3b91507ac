package sqlite

import (
	"database/sql"

	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/interfaces"
	"github.com/ternarybob/arbor"
)

// Manager bundles the SQLite-backed storage implementations behind the
// composite interface the services consume.
type Manager struct {
	db     *SQLiteDB
	logger arbor.ILogger

	tenants   interfaces.TenantStorage
	documents interfaces.DocumentStorage
	spans     interfaces.SpanStorage
	facts     interfaces.FactStorage
	quality   interfaces.QualityStorage
	runs      interfaces.RunStorage
	jobs      interfaces.JobStorage
	deletions interfaces.DeletionStorage
	projects  interfaces.ProjectStorage
	packs     interfaces.PackStorage
	audit     interfaces.AuditStorage
}

// NewManager opens the database, runs migrations, and wires every storage.
func NewManager(logger arbor.ILogger, config *common.DatabaseConfig) (*Manager, error) {
	db, err := NewSQLiteDB(logger, config)
	if err != nil {
		return nil, err
	}

	return &Manager{
		db:        db,
		logger:    logger,
		tenants:   NewTenantStorage(db, logger),
		documents: NewDocumentStorage(db, logger),
		spans:     NewSpanStorage(db, logger),
		facts:     NewFactStorage(db, logger),
		quality:   NewQualityStorage(db, logger),
		runs:      NewRunStorage(db, logger),
		jobs:      NewJobStorage(db, logger),
		deletions: NewDeletionStorage(db, logger),
		projects:  NewProjectStorage(db, logger),
		packs:     NewPackStorage(db, logger),
		audit:     NewAuditStorage(db, logger),
	}, nil
}

func (m *Manager) TenantStorage() interfaces.TenantStorage     { return m.tenants }
func (m *Manager) DocumentStorage() interfaces.DocumentStorage { return m.documents }
func (m *Manager) SpanStorage() interfaces.SpanStorage         { return m.spans }
func (m *Manager) FactStorage() interfaces.FactStorage         { return m.facts }
func (m *Manager) QualityStorage() interfaces.QualityStorage   { return m.quality }
func (m *Manager) RunStorage() interfaces.RunStorage           { return m.runs }
func (m *Manager) JobStorage() interfaces.JobStorage           { return m.jobs }
func (m *Manager) DeletionStorage() interfaces.DeletionStorage { return m.deletions }
func (m *Manager) ProjectStorage() interfaces.ProjectStorage   { return m.projects }
func (m *Manager) PackStorage() interfaces.PackStorage         { return m.packs }
func (m *Manager) AuditStorage() interfaces.AuditStorage       { return m.audit }

// DB exposes the raw handle for health checks.
func (m *Manager) DB() *sql.DB { return m.db.DB() }

// Close closes the underlying database.
func (m *Manager) Close() error { return m.db.Close() }
