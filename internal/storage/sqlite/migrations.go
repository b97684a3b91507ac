package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// migrate runs database migrations
func (s *SQLiteDB) migrate() error {
	ctx := context.Background()

	if err := s.createMigrationsTable(ctx); err != nil {
		return err
	}

	migrations := []migration{
		{version: 1, name: "tenants_documents_versions", up: migrateV1},
		{version: 2, name: "spans_embedding_chunks", up: migrateV2},
		{version: 3, name: "extraction_runs_facts_quality", up: migrateV3},
		{version: 4, name: "jobs_deletion_tasks", up: migrateV4},
		{version: 5, name: "projects_packs_audit", up: migrateV5},
		{version: 6, name: "tenant_extraction_settings", up: migrateV6},
	}

	for _, m := range migrations {
		if err := s.runMigration(ctx, m); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}
	}

	return nil
}

type migration struct {
	version int
	name    string
	up      func(context.Context, *sql.Tx) error
}

func (s *SQLiteDB) createMigrationsTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at INTEGER NOT NULL
	)`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *SQLiteDB) runMigration(ctx context.Context, m migration) error {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.version).Scan(&count)
	if err != nil {
		return err
	}

	if count > 0 {
		return nil // Already applied
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := m.up(ctx, tx); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, strftime('%s', 'now'))",
		m.version, m.name)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// migrateV1 creates tenants, API keys, documents, and document versions.
// Timestamps are Unix milliseconds throughout.
func migrateV1(ctx context.Context, tx *sql.Tx) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS tenants (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			active INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS tenant_api_keys (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL REFERENCES tenants(id),
			name TEXT NOT NULL,
			key_hash TEXT NOT NULL UNIQUE,
			key_prefix TEXT NOT NULL,
			scopes JSON,
			active INTEGER NOT NULL DEFAULT 1,
			expires_at INTEGER,
			created_at INTEGER NOT NULL,
			revoked_at INTEGER,
			last_used_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_tenant ON tenant_api_keys(tenant_id)`,

		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL REFERENCES tenants(id),
			filename TEXT NOT NULL,
			content_type TEXT,
			content_hash TEXT NOT NULL,
			classification TEXT NOT NULL DEFAULT 'other',
			source_type TEXT NOT NULL DEFAULT 'upload',
			source_url TEXT,
			sectors JSON,
			topics JSON,
			geographies JSON,
			companies JSON,
			authors JSON,
			publisher TEXT,
			published_date INTEGER,
			deletion_status TEXT NOT NULL DEFAULT 'ACTIVE',
			deletion_requested_by TEXT,
			deletion_requested_at INTEGER,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		// Partial so pending presigned allocations (empty hash until the
		// bytes are confirmed) never collide with each other.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_tenant_hash
			ON documents(tenant_id, content_hash) WHERE content_hash != ''`,
		`CREATE INDEX IF NOT EXISTS idx_documents_tenant_status ON documents(tenant_id, deletion_status)`,

		`CREATE TABLE IF NOT EXISTS document_versions (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			document_id TEXT NOT NULL REFERENCES documents(id),
			version_number INTEGER NOT NULL,
			blob_key TEXT NOT NULL,
			size_bytes INTEGER NOT NULL DEFAULT 0,
			content_hash TEXT NOT NULL,
			upload_status TEXT NOT NULL DEFAULT 'PENDING',
			processing_status TEXT NOT NULL DEFAULT 'PENDING',
			extraction_status TEXT NOT NULL DEFAULT 'PENDING',
			extraction_claimed_by TEXT,
			extraction_claimed_at INTEGER,
			extracted_text TEXT,
			page_count INTEGER NOT NULL DEFAULT 0,
			truthfulness_score REAL NOT NULL DEFAULT 0,
			bias_score REAL NOT NULL DEFAULT 0,
			last_error TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE (document_id, version_number)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_versions_tenant_document ON document_versions(tenant_id, document_id)`,
		`CREATE INDEX IF NOT EXISTS idx_versions_content_hash ON document_versions(tenant_id, content_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_versions_extraction_status ON document_versions(extraction_status)`,
	}

	for _, query := range queries {
		if _, err := tx.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	return nil
}

// migrateV2 creates spans and embedding chunks. (version_id, span_hash) is
// the span identity across regeneration.
func migrateV2(ctx context.Context, tx *sql.Tx) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS spans (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			version_id TEXT NOT NULL REFERENCES document_versions(id),
			document_id TEXT NOT NULL,
			locator JSON NOT NULL,
			end_locator JSON,
			text_content TEXT NOT NULL,
			span_type TEXT NOT NULL DEFAULT 'TEXT',
			span_hash TEXT NOT NULL,
			metadata JSON,
			created_at INTEGER NOT NULL,
			UNIQUE (version_id, span_hash)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_spans_tenant_version ON spans(tenant_id, version_id)`,
		`CREATE INDEX IF NOT EXISTS idx_spans_tenant_document ON spans(tenant_id, document_id)`,

		`CREATE TABLE IF NOT EXISTS embedding_chunks (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			version_id TEXT NOT NULL REFERENCES document_versions(id),
			document_id TEXT NOT NULL,
			span_id TEXT REFERENCES spans(id),
			chunk_index INTEGER NOT NULL,
			text_content TEXT NOT NULL,
			embedding BLOB,
			char_start INTEGER NOT NULL DEFAULT 0,
			char_end INTEGER NOT NULL DEFAULT 0,
			metadata JSON,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_tenant_version ON embedding_chunks(tenant_id, version_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_tenant_document ON embedding_chunks(tenant_id, document_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_span ON embedding_chunks(span_id)`,
	}

	for _, query := range queries {
		if _, err := tx.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	return nil
}

// migrateV3 creates extraction runs, the four fact tables, and the quality
// tables. The partial unique index enforces at most one queued or running
// fact run per (version, profile, process_context, level).
func migrateV3(ctx context.Context, tx *sql.Tx) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS extraction_runs (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			version_id TEXT NOT NULL REFERENCES document_versions(id),
			extractor_name TEXT NOT NULL,
			extractor_version TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			started_at INTEGER,
			completed_at INTEGER,
			artifact_path TEXT,
			profile TEXT NOT NULL DEFAULT '',
			level INTEGER NOT NULL DEFAULT 0,
			process_context TEXT NOT NULL DEFAULT '',
			schema_version TEXT,
			vocabulary_version TEXT,
			claim_count INTEGER NOT NULL DEFAULT 0,
			metric_count INTEGER NOT NULL DEFAULT 0,
			constraint_count INTEGER NOT NULL DEFAULT 0,
			risk_count INTEGER NOT NULL DEFAULT 0,
			warnings JSON,
			error_message TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_tenant_version ON extraction_runs(tenant_id, version_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_active_slot
			ON extraction_runs(version_id, profile, process_context, level)
			WHERE status IN ('queued', 'running') AND profile != ''`,

		`CREATE TABLE IF NOT EXISTS claims (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			version_id TEXT NOT NULL REFERENCES document_versions(id),
			extraction_run_id TEXT NOT NULL REFERENCES extraction_runs(id),
			process_context TEXT NOT NULL DEFAULT 'unspecified',
			level INTEGER NOT NULL DEFAULT 1,
			subject TEXT NOT NULL,
			predicate TEXT NOT NULL,
			object TEXT NOT NULL,
			certainty TEXT,
			reliability TEXT,
			span_refs JSON,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_claims_tenant_version ON claims(tenant_id, version_id)`,
		`CREATE INDEX IF NOT EXISTS idx_claims_run ON claims(extraction_run_id)`,

		`CREATE TABLE IF NOT EXISTS metrics (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			version_id TEXT NOT NULL REFERENCES document_versions(id),
			extraction_run_id TEXT NOT NULL REFERENCES extraction_runs(id),
			process_context TEXT NOT NULL DEFAULT 'unspecified',
			level INTEGER NOT NULL DEFAULT 1,
			entity TEXT NOT NULL,
			metric_name TEXT NOT NULL,
			value_text TEXT NOT NULL,
			value REAL,
			unit TEXT,
			currency TEXT,
			period JSON,
			calculation_method TEXT,
			quality_flags JSON,
			certainty TEXT,
			reliability TEXT,
			span_refs JSON,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_tenant_version ON metrics(tenant_id, version_id)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_run ON metrics(extraction_run_id)`,

		`CREATE TABLE IF NOT EXISTS constraints (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			version_id TEXT NOT NULL REFERENCES document_versions(id),
			extraction_run_id TEXT NOT NULL REFERENCES extraction_runs(id),
			process_context TEXT NOT NULL DEFAULT 'unspecified',
			level INTEGER NOT NULL DEFAULT 1,
			kind TEXT NOT NULL,
			description TEXT NOT NULL,
			related_fact_ids JSON,
			certainty TEXT,
			reliability TEXT,
			span_refs JSON,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_constraints_tenant_version ON constraints(tenant_id, version_id)`,
		`CREATE INDEX IF NOT EXISTS idx_constraints_run ON constraints(extraction_run_id)`,

		`CREATE TABLE IF NOT EXISTS risks (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			version_id TEXT NOT NULL REFERENCES document_versions(id),
			extraction_run_id TEXT NOT NULL REFERENCES extraction_runs(id),
			process_context TEXT NOT NULL DEFAULT 'unspecified',
			level INTEGER NOT NULL DEFAULT 1,
			risk_type TEXT NOT NULL,
			statement TEXT NOT NULL,
			severity TEXT NOT NULL,
			rationale TEXT,
			related_fact_ids JSON,
			certainty TEXT,
			reliability TEXT,
			span_refs JSON,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_risks_tenant_version ON risks(tenant_id, version_id)`,
		`CREATE INDEX IF NOT EXISTS idx_risks_run ON risks(extraction_run_id)`,

		`CREATE TABLE IF NOT EXISTS conflicts (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			version_id TEXT NOT NULL REFERENCES document_versions(id),
			content_key TEXT NOT NULL,
			conflict_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			reason TEXT NOT NULL,
			fact_ids JSON,
			created_at INTEGER NOT NULL,
			UNIQUE (version_id, content_key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conflicts_tenant_version ON conflicts(tenant_id, version_id)`,

		`CREATE TABLE IF NOT EXISTS open_questions (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			version_id TEXT NOT NULL REFERENCES document_versions(id),
			content_key TEXT NOT NULL,
			category TEXT NOT NULL,
			question TEXT NOT NULL,
			fact_ids JSON,
			created_at INTEGER NOT NULL,
			UNIQUE (version_id, content_key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_questions_tenant_version ON open_questions(tenant_id, version_id)`,
	}

	for _, query := range queries {
		if _, err := tx.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	return nil
}

// migrateV4 creates jobs and deletion tasks. Deletion tasks outlive their
// document (document_id set NULL) as the protocol's audit trail.
func migrateV4(ctx context.Context, tx *sql.Tx) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'queued',
			priority INTEGER NOT NULL DEFAULT 0,
			payload JSON,
			result JSON,
			error TEXT,
			attempts INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL DEFAULT 3,
			progress INTEGER NOT NULL DEFAULT 0,
			progress_message TEXT,
			worker_id TEXT,
			queue_message_id TEXT,
			cancel_requested INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			started_at INTEGER,
			finished_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_tenant_status ON jobs(tenant_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status_started ON jobs(status, started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at)`,

		`CREATE TABLE IF NOT EXISTS deletion_tasks (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			document_id TEXT REFERENCES documents(id) ON DELETE SET NULL,
			task_type TEXT NOT NULL,
			resource_id TEXT,
			processing_order INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			retry_count INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL DEFAULT 3,
			error TEXT,
			created_at INTEGER NOT NULL,
			completed_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deletion_tasks_document ON deletion_tasks(tenant_id, document_id)`,
	}

	for _, query := range queries {
		if _, err := tx.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	return nil
}

// migrateV5 creates projects, folders, evidence packs, and the audit log.
func migrateV5(ctx context.Context, tx *sql.Tx) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL REFERENCES tenants(id),
			name TEXT NOT NULL,
			description TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			deleted_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_projects_tenant ON projects(tenant_id)`,

		`CREATE TABLE IF NOT EXISTS project_documents (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			project_id TEXT NOT NULL REFERENCES projects(id),
			document_id TEXT NOT NULL REFERENCES documents(id),
			pinned_version_id TEXT,
			folder_id TEXT,
			created_at INTEGER NOT NULL,
			UNIQUE (project_id, document_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_project_documents_tenant ON project_documents(tenant_id, project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_project_documents_document ON project_documents(tenant_id, document_id)`,

		`CREATE TABLE IF NOT EXISTS folders (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			project_id TEXT NOT NULL REFERENCES projects(id),
			parent_id TEXT,
			name TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			deleted_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_folders_project ON folders(tenant_id, project_id)`,

		`CREATE TABLE IF NOT EXISTS evidence_packs (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			project_id TEXT,
			name TEXT NOT NULL,
			description TEXT,
			created_by TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			deleted_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_packs_tenant ON evidence_packs(tenant_id)`,

		`CREATE TABLE IF NOT EXISTS evidence_pack_items (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			pack_id TEXT NOT NULL REFERENCES evidence_packs(id) ON DELETE CASCADE,
			kind TEXT NOT NULL,
			ref_id TEXT NOT NULL,
			note TEXT,
			position INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pack_items_pack ON evidence_pack_items(tenant_id, pack_id)`,

		`CREATE TABLE IF NOT EXISTS audit_logs (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			action TEXT NOT NULL,
			actor_id TEXT,
			entity_id TEXT,
			request_id TEXT,
			ip_address TEXT,
			user_agent TEXT,
			details JSON,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_tenant_created ON audit_logs(tenant_id, created_at)`,
	}

	for _, query := range queries {
		if _, err := tx.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	return nil
}

// migrateV6 creates per-tenant extraction settings. One row per tenant;
// absence means the built-in defaults apply.
func migrateV6(ctx context.Context, tx *sql.Tx) error {
	query := `
	CREATE TABLE IF NOT EXISTS tenant_extraction_settings (
		tenant_id TEXT PRIMARY KEY REFERENCES tenants(id),
		default_profile TEXT NOT NULL DEFAULT 'general',
		default_level INTEGER NOT NULL DEFAULT 1,
		default_process_context TEXT,
		skip_quality INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	)`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to execute query: %w", err)
	}
	return nil
}
