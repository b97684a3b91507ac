package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
	"github.com/ternarybob/arbor"
)

// DocumentStorage handles document and version persistence.
type DocumentStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewDocumentStorage creates a new document storage instance.
func NewDocumentStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.DocumentStorage {
	return &DocumentStorage{db: db, logger: logger}
}

const documentColumns = `
	id, tenant_id, filename, content_type, content_hash, classification,
	source_type, source_url, sectors, topics, geographies, companies, authors,
	publisher, published_date, deletion_status, deletion_requested_by,
	deletion_requested_at, created_at, updated_at`

// CreateDocument inserts a document row. (tenant_id, content_hash) is unique
// for non-empty hashes; a collision is ErrDuplicate and callers dedup by
// looking the hash up first. Pending presigned allocations insert an empty
// hash, which the partial index leaves unconstrained.
func (d *DocumentStorage) CreateDocument(ctx context.Context, doc *models.Document) error {
	sectors, err := marshalJSON(doc.Sectors)
	if err != nil {
		return err
	}
	topics, err := marshalJSON(doc.Topics)
	if err != nil {
		return err
	}
	geographies, err := marshalJSON(doc.Geographies)
	if err != nil {
		return err
	}
	companies, err := marshalJSON(doc.Companies)
	if err != nil {
		return err
	}
	authors, err := marshalJSON(doc.Authors)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO documents (` + documentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = d.db.db.ExecContext(ctx, query,
		doc.ID, doc.TenantID, doc.Filename, nullStr(doc.ContentType), doc.ContentHash,
		string(doc.Classification), string(doc.SourceType), nullStr(doc.SourceURL),
		sectors, topics, geographies, companies, authors,
		nullStr(doc.Publisher), millisPtr(doc.PublishedDate),
		string(doc.DeletionStatus), nullStr(doc.DeletionRequestedBy),
		millisPtr(doc.DeletionRequestedAt),
		millis(doc.CreatedAt), millis(doc.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return interfaces.ErrDuplicate
		}
		return fmt.Errorf("failed to create document: %w", err)
	}

	d.logger.Debug().
		Str("document_id", doc.ID).
		Str("tenant_id", doc.TenantID).
		Str("filename", doc.Filename).
		Msg("Document created")
	return nil
}

// GetDocument fetches a document within the tenant scope.
func (d *DocumentStorage) GetDocument(ctx context.Context, tenantID, id string) (*models.Document, error) {
	row := d.db.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ? AND tenant_id = ?`,
		id, tenantID)
	return scanDocument(row.Scan)
}

// ListDocuments returns a filtered, paginated page of the tenant's documents.
func (d *DocumentStorage) ListDocuments(ctx context.Context, tenantID string, opts *interfaces.DocumentListOptions) ([]*models.Document, error) {
	where, args := documentFilter(tenantID, opts)

	orderBy := "created_at"
	orderDir := "DESC"
	if opts != nil {
		switch opts.SortBy {
		case "filename":
			orderBy = "filename"
		case "updated_at":
			orderBy = "updated_at"
		}
		if strings.EqualFold(opts.SortOrder, "asc") {
			orderDir = "ASC"
		}
	}

	query := `SELECT ` + documentColumns + ` FROM documents WHERE ` + where +
		` ORDER BY ` + orderBy + ` ` + orderDir

	limit, offset := 50, 0
	if opts != nil {
		if opts.Limit > 0 {
			limit = opts.Limit
		}
		if opts.Offset > 0 {
			offset = opts.Offset
		}
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := d.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// CountDocuments returns the filtered total for pagination.
func (d *DocumentStorage) CountDocuments(ctx context.Context, tenantID string, opts *interfaces.DocumentListOptions) (int, error) {
	where, args := documentFilter(tenantID, opts)
	var count int
	err := d.db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE `+where, args...).Scan(&count)
	return count, err
}

// documentFilter builds the WHERE clause shared by List and Count.
func documentFilter(tenantID string, opts *interfaces.DocumentListOptions) (string, []interface{}) {
	clauses := []string{"tenant_id = ?"}
	args := []interface{}{tenantID}

	if opts == nil {
		clauses = append(clauses, "deletion_status = ?")
		args = append(args, string(models.DeletionStatusActive))
		return strings.Join(clauses, " AND "), args
	}

	if !opts.IncludeDeleted {
		clauses = append(clauses, "deletion_status = ?")
		args = append(args, string(models.DeletionStatusActive))
	}
	if opts.SourceType != "" {
		clauses = append(clauses, "source_type = ?")
		args = append(args, opts.SourceType)
	}
	if opts.Classification != "" {
		clauses = append(clauses, "classification = ?")
		args = append(args, opts.Classification)
	}
	if opts.Search != "" {
		clauses = append(clauses, "filename LIKE ?")
		args = append(args, "%"+opts.Search+"%")
	}
	// Array metadata filters match any element of the JSON column.
	arrayFilters := []struct {
		column string
		value  string
	}{
		{"sectors", opts.Sector},
		{"topics", opts.Topic},
		{"geographies", opts.Geography},
		{"companies", opts.Company},
	}
	for _, f := range arrayFilters {
		if f.value == "" {
			continue
		}
		clauses = append(clauses,
			fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(documents.%s) WHERE json_each.value = ?)", f.column))
		args = append(args, f.value)
	}

	return strings.Join(clauses, " AND "), args
}

// UpdateDocument persists mutable document fields.
func (d *DocumentStorage) UpdateDocument(ctx context.Context, doc *models.Document) error {
	sectors, err := marshalJSON(doc.Sectors)
	if err != nil {
		return err
	}
	topics, err := marshalJSON(doc.Topics)
	if err != nil {
		return err
	}
	geographies, err := marshalJSON(doc.Geographies)
	if err != nil {
		return err
	}
	companies, err := marshalJSON(doc.Companies)
	if err != nil {
		return err
	}
	authors, err := marshalJSON(doc.Authors)
	if err != nil {
		return err
	}

	doc.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE documents SET
			filename = ?, content_type = ?, classification = ?,
			sectors = ?, topics = ?, geographies = ?, companies = ?, authors = ?,
			publisher = ?, published_date = ?, updated_at = ?
		WHERE id = ? AND tenant_id = ?`

	result, err := d.db.db.ExecContext(ctx, query,
		doc.Filename, nullStr(doc.ContentType), string(doc.Classification),
		sectors, topics, geographies, companies, authors,
		nullStr(doc.Publisher), millisPtr(doc.PublishedDate), millis(doc.UpdatedAt),
		doc.ID, doc.TenantID)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	return requireRow(result)
}

// SetDocumentContentHash backfills the content hash on a document whose
// bytes arrived after the row, i.e. the presigned upload flow.
func (d *DocumentStorage) SetDocumentContentHash(ctx context.Context, tenantID, id, contentHash string) error {
	result, err := d.db.db.ExecContext(ctx, `
		UPDATE documents SET content_hash = ?, updated_at = ?
		WHERE id = ? AND tenant_id = ?`,
		contentHash, millis(time.Now().UTC()), id, tenantID)
	if err != nil {
		if isUniqueViolation(err) {
			return interfaces.ErrDuplicate
		}
		return fmt.Errorf("failed to set content hash: %w", err)
	}
	return requireRow(result)
}

// SetDeletionStatus moves a document through the deletion protocol states.
func (d *DocumentStorage) SetDeletionStatus(ctx context.Context, tenantID, id string, status models.DeletionStatus, requestedBy string) error {
	now := time.Now().UTC()
	var result sql.Result
	var err error

	if status == models.DeletionStatusMarked {
		result, err = d.db.db.ExecContext(ctx, `
			UPDATE documents SET deletion_status = ?, deletion_requested_by = ?,
				deletion_requested_at = ?, updated_at = ?
			WHERE id = ? AND tenant_id = ?`,
			string(status), nullStr(requestedBy), millis(now), millis(now), id, tenantID)
	} else {
		result, err = d.db.db.ExecContext(ctx, `
			UPDATE documents SET deletion_status = ?, updated_at = ?
			WHERE id = ? AND tenant_id = ?`,
			string(status), millis(now), id, tenantID)
	}
	if err != nil {
		return fmt.Errorf("failed to set deletion status: %w", err)
	}
	return requireRow(result)
}

// DeleteDocumentRow removes the document row. Final step of the deletion
// protocol; versions and attachments must already be gone or the foreign
// keys reject the delete.
func (d *DocumentStorage) DeleteDocumentRow(ctx context.Context, tenantID, id string) error {
	result, err := d.db.db.ExecContext(ctx,
		`DELETE FROM documents WHERE id = ? AND tenant_id = ?`, id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete document row: %w", err)
	}
	return requireRow(result)
}

// ListMarkedForDeletion returns documents awaiting the deletion protocol,
// oldest request first. Cross-tenant by design: the resume sweep serves all
// tenants.
func (d *DocumentStorage) ListMarkedForDeletion(ctx context.Context, limit int) ([]*models.Document, error) {
	rows, err := d.db.db.QueryContext(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE deletion_status IN (?, ?)
		ORDER BY deletion_requested_at ASC LIMIT ?`,
		string(models.DeletionStatusMarked), string(models.DeletionStatusFailed), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list marked documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// ListDeletedBefore returns DELETED tombstones older than the cutoff for the
// purge sweep.
func (d *DocumentStorage) ListDeletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.Document, error) {
	rows, err := d.db.db.QueryContext(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE deletion_status = ? AND updated_at < ?
		ORDER BY updated_at ASC LIMIT ?`,
		string(models.DeletionStatusDeleted), millis(cutoff), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list deleted documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

const versionColumns = `
	id, tenant_id, document_id, version_number, blob_key, size_bytes,
	content_hash, upload_status, processing_status, extraction_status,
	extracted_text, page_count, truthfulness_score, bias_score, last_error,
	created_at, updated_at`

// CreateVersion inserts a version row.
func (d *DocumentStorage) CreateVersion(ctx context.Context, version *models.DocumentVersion) error {
	query := `
		INSERT INTO document_versions (` + versionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := d.db.db.ExecContext(ctx, query,
		version.ID, version.TenantID, version.DocumentID, version.VersionNumber,
		version.BlobKey, version.SizeBytes, version.ContentHash,
		string(version.UploadStatus), string(version.ProcessingStatus),
		string(version.ExtractionStatus),
		nullStr(version.ExtractedText), version.PageCount,
		version.Truthfulness, version.BiasScore, nullStr(version.LastError),
		millis(version.CreatedAt), millis(version.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return interfaces.ErrDuplicate
		}
		return fmt.Errorf("failed to create version: %w", err)
	}

	d.logger.Debug().
		Str("version_id", version.ID).
		Str("document_id", version.DocumentID).
		Int("version_number", version.VersionNumber).
		Msg("Document version created")
	return nil
}

// GetVersion fetches a version within the tenant scope.
func (d *DocumentStorage) GetVersion(ctx context.Context, tenantID, versionID string) (*models.DocumentVersion, error) {
	row := d.db.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM document_versions WHERE id = ? AND tenant_id = ?`,
		versionID, tenantID)
	return scanVersion(row.Scan)
}

// GetLatestVersion fetches the highest-numbered version of a document.
func (d *DocumentStorage) GetLatestVersion(ctx context.Context, tenantID, documentID string) (*models.DocumentVersion, error) {
	row := d.db.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+` FROM document_versions
		WHERE document_id = ? AND tenant_id = ?
		ORDER BY version_number DESC LIMIT 1`,
		documentID, tenantID)
	return scanVersion(row.Scan)
}

// ListVersions returns a document's versions, newest first.
func (d *DocumentStorage) ListVersions(ctx context.Context, tenantID, documentID string) ([]*models.DocumentVersion, error) {
	rows, err := d.db.db.QueryContext(ctx, `
		SELECT `+versionColumns+` FROM document_versions
		WHERE document_id = ? AND tenant_id = ?
		ORDER BY version_number DESC`,
		documentID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	var versions []*models.DocumentVersion
	for rows.Next() {
		version, err := scanVersion(rows.Scan)
		if err != nil {
			return nil, err
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}

// FindVersionByContentHash looks up a version by its byte hash for upload
// deduplication.
func (d *DocumentStorage) FindVersionByContentHash(ctx context.Context, tenantID, contentHash string) (*models.DocumentVersion, error) {
	row := d.db.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+` FROM document_versions
		WHERE content_hash = ? AND tenant_id = ?
		ORDER BY created_at ASC LIMIT 1`,
		contentHash, tenantID)
	return scanVersion(row.Scan)
}

// UpdateVersion persists mutable version fields.
func (d *DocumentStorage) UpdateVersion(ctx context.Context, version *models.DocumentVersion) error {
	version.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE document_versions SET
			blob_key = ?, size_bytes = ?, content_hash = ?,
			upload_status = ?, processing_status = ?, extraction_status = ?,
			extracted_text = ?, page_count = ?, truthfulness_score = ?,
			bias_score = ?, last_error = ?, updated_at = ?
		WHERE id = ? AND tenant_id = ?`

	result, err := d.db.db.ExecContext(ctx, query,
		version.BlobKey, version.SizeBytes, version.ContentHash,
		string(version.UploadStatus), string(version.ProcessingStatus),
		string(version.ExtractionStatus),
		nullStr(version.ExtractedText), version.PageCount,
		version.Truthfulness, version.BiasScore, nullStr(version.LastError),
		millis(version.UpdatedAt),
		version.ID, version.TenantID)
	if err != nil {
		return fmt.Errorf("failed to update version: %w", err)
	}
	return requireRow(result)
}

// AdvanceVersionStatus swaps processing_status from one stage to the next.
// The stored status must equal `from`; otherwise ErrInvalidTransition. This
// is what makes pipeline stages idempotent under duplicate job delivery.
func (d *DocumentStorage) AdvanceVersionStatus(ctx context.Context, tenantID, versionID string, from, to models.ProcessingStatus) error {
	if !from.CanAdvanceTo(to) {
		return fmt.Errorf("%w: %s -> %s", interfaces.ErrInvalidTransition, from, to)
	}

	result, err := d.db.db.ExecContext(ctx, `
		UPDATE document_versions SET processing_status = ?, updated_at = ?
		WHERE id = ? AND tenant_id = ? AND processing_status = ?`,
		string(to), millis(time.Now().UTC()), versionID, tenantID, string(from))
	if err != nil {
		return fmt.Errorf("failed to advance version status: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish a missing row from a lost CAS race.
		if _, getErr := d.GetVersion(ctx, tenantID, versionID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: version %s not at %s", interfaces.ErrInvalidTransition, versionID, from)
	}
	return nil
}

// MarkVersionFailed records a pipeline failure.
func (d *DocumentStorage) MarkVersionFailed(ctx context.Context, tenantID, versionID, errMsg string) error {
	result, err := d.db.db.ExecContext(ctx, `
		UPDATE document_versions SET processing_status = ?, last_error = ?, updated_at = ?
		WHERE id = ? AND tenant_id = ?`,
		string(models.ProcessingStatusFailed), errMsg, millis(time.Now().UTC()),
		versionID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to mark version failed: %w", err)
	}
	return requireRow(result)
}

// ResetVersionForReprocessing returns a version to the top of the pipeline
// and releases any extraction claim.
func (d *DocumentStorage) ResetVersionForReprocessing(ctx context.Context, tenantID, versionID string) error {
	result, err := d.db.db.ExecContext(ctx, `
		UPDATE document_versions SET
			processing_status = ?, extraction_status = ?,
			extraction_claimed_by = NULL, extraction_claimed_at = NULL,
			last_error = NULL, updated_at = ?
		WHERE id = ? AND tenant_id = ?`,
		string(models.ProcessingStatusUploaded), string(models.ExtractionStatusPending),
		millis(time.Now().UTC()), versionID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to reset version: %w", err)
	}
	return requireRow(result)
}

// ClaimPendingExtractions flips up to limit PENDING versions to PROCESSING
// under this worker's name and returns them. The single UPDATE makes the
// claim atomic; two pollers never claim the same version.
func (d *DocumentStorage) ClaimPendingExtractions(ctx context.Context, workerID string, limit int) ([]*models.DocumentVersion, error) {
	stamp := millis(time.Now().UTC())

	result, err := d.db.db.ExecContext(ctx, `
		UPDATE document_versions SET
			extraction_status = ?, extraction_claimed_by = ?, extraction_claimed_at = ?
		WHERE id IN (
			SELECT v.id FROM document_versions v
			JOIN documents doc ON doc.id = v.document_id
			WHERE v.extraction_status = ?
			  AND v.upload_status = ?
			  AND doc.deletion_status = ?
			ORDER BY v.created_at ASC
			LIMIT ?
		)`,
		string(models.ExtractionStatusProcessing), workerID, stamp,
		string(models.ExtractionStatusPending), string(models.UploadStatusUploaded),
		string(models.DeletionStatusActive), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim extractions: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	rows, err := d.db.db.QueryContext(ctx, `
		SELECT `+versionColumns+` FROM document_versions
		WHERE extraction_claimed_by = ? AND extraction_claimed_at = ?
		ORDER BY created_at ASC`,
		workerID, stamp)
	if err != nil {
		return nil, fmt.Errorf("failed to load claimed versions: %w", err)
	}
	defer rows.Close()

	var versions []*models.DocumentVersion
	for rows.Next() {
		version, err := scanVersion(rows.Scan)
		if err != nil {
			return nil, err
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}

// SetExtractionStatus finalizes a claimed extraction. Worker-side, so no
// tenant scope.
func (d *DocumentStorage) SetExtractionStatus(ctx context.Context, versionID string, status models.ExtractionStatus, errMsg string) error {
	result, err := d.db.db.ExecContext(ctx, `
		UPDATE document_versions SET extraction_status = ?, last_error = ?, updated_at = ?
		WHERE id = ?`,
		string(status), nullStr(errMsg), millis(time.Now().UTC()), versionID)
	if err != nil {
		return fmt.Errorf("failed to set extraction status: %w", err)
	}
	return requireRow(result)
}

// ReleaseStaleExtractionClaims returns PROCESSING claims older than the
// cutoff to PENDING. Recovers work orphaned by a crashed poller.
func (d *DocumentStorage) ReleaseStaleExtractionClaims(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := d.db.db.ExecContext(ctx, `
		UPDATE document_versions SET
			extraction_status = ?, extraction_claimed_by = NULL, extraction_claimed_at = NULL
		WHERE extraction_status = ? AND extraction_claimed_at < ?`,
		string(models.ExtractionStatusPending), string(models.ExtractionStatusProcessing),
		millis(olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to release stale claims: %w", err)
	}
	return result.RowsAffected()
}

// DeleteVersionsByDocument removes all version rows for a document. Deletion
// protocol level 8.
func (d *DocumentStorage) DeleteVersionsByDocument(ctx context.Context, tenantID, documentID string) (int64, error) {
	result, err := d.db.db.ExecContext(ctx,
		`DELETE FROM document_versions WHERE document_id = ? AND tenant_id = ?`,
		documentID, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete versions: %w", err)
	}
	return result.RowsAffected()
}

// Helper functions

func scanDocument(scan func(...interface{}) error) (*models.Document, error) {
	var doc models.Document
	var contentType, sourceURL, publisher, requestedBy sql.NullString
	var sectors, topics, geographies, companies, authors sql.NullString
	var publishedDate, requestedAt sql.NullInt64
	var createdAt, updatedAt int64

	err := scan(
		&doc.ID, &doc.TenantID, &doc.Filename, &contentType, &doc.ContentHash,
		&doc.Classification, &doc.SourceType, &sourceURL,
		&sectors, &topics, &geographies, &companies, &authors,
		&publisher, &publishedDate, &doc.DeletionStatus, &requestedBy,
		&requestedAt, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	doc.ContentType = strValue(contentType)
	doc.SourceURL = strValue(sourceURL)
	doc.Publisher = strValue(publisher)
	doc.DeletionRequestedBy = strValue(requestedBy)

	for _, col := range []struct {
		raw string
		dst *[]string
	}{
		{sectors.String, &doc.Sectors},
		{topics.String, &doc.Topics},
		{geographies.String, &doc.Geographies},
		{companies.String, &doc.Companies},
		{authors.String, &doc.Authors},
	} {
		if err := unmarshalJSON(sql.NullString{String: col.raw, Valid: col.raw != ""}, col.dst); err != nil {
			return nil, err
		}
	}

	doc.PublishedDate = timePtrFromMillis(publishedDate)
	doc.DeletionRequestedAt = timePtrFromMillis(requestedAt)
	doc.CreatedAt = timeFromMillis(createdAt)
	doc.UpdatedAt = timeFromMillis(updatedAt)
	return &doc, nil
}

func scanVersion(scan func(...interface{}) error) (*models.DocumentVersion, error) {
	var version models.DocumentVersion
	var extractedText, lastError sql.NullString
	var createdAt, updatedAt int64

	err := scan(
		&version.ID, &version.TenantID, &version.DocumentID, &version.VersionNumber,
		&version.BlobKey, &version.SizeBytes, &version.ContentHash,
		&version.UploadStatus, &version.ProcessingStatus, &version.ExtractionStatus,
		&extractedText, &version.PageCount, &version.Truthfulness,
		&version.BiasScore, &lastError, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	version.ExtractedText = strValue(extractedText)
	version.LastError = strValue(lastError)
	version.CreatedAt = timeFromMillis(createdAt)
	version.UpdatedAt = timeFromMillis(updatedAt)
	return &version, nil
}
