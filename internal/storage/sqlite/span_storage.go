package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
	"github.com/ternarybob/arbor"
)

// SpanStorage handles span and embedding chunk persistence.
type SpanStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewSpanStorage creates a new span storage instance.
func NewSpanStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.SpanStorage {
	return &SpanStorage{db: db, logger: logger}
}

const spanColumns = `
	id, tenant_id, version_id, document_id, locator, end_locator,
	text_content, span_type, span_hash, metadata, created_at`

// UpsertSpans writes spans for a version. Rows colliding on
// (version_id, span_hash) update in place and keep their original id, so
// span references held by facts survive regeneration.
func (s *SpanStorage) UpsertSpans(ctx context.Context, spans []*models.Span) (int, int, error) {
	if len(spans) == 0 {
		return 0, 0, nil
	}

	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	// Existing hashes decide insert vs update per span.
	existing := make(map[string]bool)
	rows, err := tx.QueryContext(ctx,
		`SELECT span_hash FROM spans WHERE version_id = ?`, spans[0].VersionID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load existing span hashes: %w", err)
	}
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			rows.Close()
			return 0, 0, err
		}
		existing[hash] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO spans (`+spanColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(version_id, span_hash) DO UPDATE SET
			text_content = excluded.text_content,
			locator = excluded.locator,
			end_locator = excluded.end_locator,
			span_type = excluded.span_type,
			metadata = excluded.metadata`)
	if err != nil {
		return 0, 0, err
	}
	defer stmt.Close()

	inserted, updated := 0, 0
	for _, span := range spans {
		locatorJSON, err := span.Locator.CanonicalJSON()
		if err != nil {
			return 0, 0, err
		}
		var endLocatorJSON interface{}
		if span.EndLocator != nil {
			canonical, err := span.EndLocator.CanonicalJSON()
			if err != nil {
				return 0, 0, err
			}
			endLocatorJSON = canonical
		}
		metadata, err := marshalJSON(span.Metadata)
		if err != nil {
			return 0, 0, err
		}

		_, err = stmt.ExecContext(ctx,
			span.ID, span.TenantID, span.VersionID, span.DocumentID,
			locatorJSON, endLocatorJSON, span.TextContent,
			string(span.SpanType), span.SpanHash, metadata,
			millis(span.CreatedAt))
		if err != nil {
			return 0, 0, fmt.Errorf("failed to upsert span: %w", err)
		}

		if existing[span.SpanHash] {
			updated++
		} else {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}

	s.logger.Debug().
		Str("version_id", spans[0].VersionID).
		Int("inserted", inserted).
		Int("updated", updated).
		Msg("Spans upserted")
	return inserted, updated, nil
}

// GetSpan fetches a span within the tenant scope.
func (s *SpanStorage) GetSpan(ctx context.Context, tenantID, spanID string) (*models.Span, error) {
	row := s.db.db.QueryRowContext(ctx,
		`SELECT `+spanColumns+` FROM spans WHERE id = ? AND tenant_id = ?`,
		spanID, tenantID)
	return scanSpan(row.Scan)
}

// GetSpanByHash fetches a span by its stable identity.
func (s *SpanStorage) GetSpanByHash(ctx context.Context, tenantID, versionID, spanHash string) (*models.Span, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT `+spanColumns+` FROM spans
		WHERE version_id = ? AND span_hash = ? AND tenant_id = ?`,
		versionID, spanHash, tenantID)
	return scanSpan(row.Scan)
}

// ListSpansByVersion returns a version's spans in document order.
func (s *SpanStorage) ListSpansByVersion(ctx context.Context, tenantID, versionID string, opts *interfaces.ListOptions) ([]*models.Span, error) {
	query := `SELECT ` + spanColumns + ` FROM spans
		WHERE version_id = ? AND tenant_id = ?
		ORDER BY created_at ASC, id ASC`
	args := []interface{}{versionID, tenantID}

	if opts != nil && opts.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list spans: %w", err)
	}
	defer rows.Close()

	var spans []*models.Span
	for rows.Next() {
		span, err := scanSpan(rows.Scan)
		if err != nil {
			return nil, err
		}
		spans = append(spans, span)
	}
	return spans, rows.Err()
}

// CountSpansByVersion returns the span count for a version.
func (s *SpanStorage) CountSpansByVersion(ctx context.Context, tenantID, versionID string) (int, error) {
	var count int
	err := s.db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM spans WHERE version_id = ? AND tenant_id = ?`,
		versionID, tenantID).Scan(&count)
	return count, err
}

// DeleteSpansByDocument removes all spans for a document. Deletion protocol
// level 3; chunks must already be gone.
func (s *SpanStorage) DeleteSpansByDocument(ctx context.Context, tenantID, documentID string) (int64, error) {
	result, err := s.db.db.ExecContext(ctx,
		`DELETE FROM spans WHERE document_id = ? AND tenant_id = ?`,
		documentID, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete spans: %w", err)
	}
	return result.RowsAffected()
}

const chunkColumns = `
	id, tenant_id, version_id, document_id, span_id, chunk_index,
	text_content, embedding, char_start, char_end, metadata, created_at`

// StoreChunks writes embedding chunks in one transaction.
func (s *SpanStorage) StoreChunks(ctx context.Context, chunks []*models.EmbeddingChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO embedding_chunks (`+chunkColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		var embeddingData []byte
		if len(chunk.Embedding) > 0 {
			embeddingData, err = serializeEmbedding(chunk.Embedding)
			if err != nil {
				return fmt.Errorf("failed to serialize embedding: %w", err)
			}
		}
		metadata, err := marshalJSON(chunk.Metadata)
		if err != nil {
			return err
		}

		_, err = stmt.ExecContext(ctx,
			chunk.ID, chunk.TenantID, chunk.VersionID, chunk.DocumentID,
			nullStr(chunk.SpanID), chunk.ChunkIndex, chunk.TextContent,
			embeddingData, chunk.CharStart, chunk.CharEnd, metadata,
			millis(chunk.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to store chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.logger.Debug().
		Str("version_id", chunks[0].VersionID).
		Int("count", len(chunks)).
		Msg("Embedding chunks stored")
	return nil
}

// ListChunksByVersion returns a version's chunks in index order.
func (s *SpanStorage) ListChunksByVersion(ctx context.Context, tenantID, versionID string) ([]*models.EmbeddingChunk, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT `+chunkColumns+` FROM embedding_chunks
		WHERE version_id = ? AND tenant_id = ?
		ORDER BY chunk_index ASC`,
		versionID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*models.EmbeddingChunk
	for rows.Next() {
		chunk, err := s.scanChunk(rows.Scan)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// CountChunksByVersion returns the chunk count for a version.
func (s *SpanStorage) CountChunksByVersion(ctx context.Context, tenantID, versionID string) (int, error) {
	var count int
	err := s.db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM embedding_chunks WHERE version_id = ? AND tenant_id = ?`,
		versionID, tenantID).Scan(&count)
	return count, err
}

// DeleteChunksByVersion removes a version's chunks ahead of re-embedding.
func (s *SpanStorage) DeleteChunksByVersion(ctx context.Context, tenantID, versionID string) (int64, error) {
	result, err := s.db.db.ExecContext(ctx,
		`DELETE FROM embedding_chunks WHERE version_id = ? AND tenant_id = ?`,
		versionID, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	return result.RowsAffected()
}

// DeleteChunksByDocument removes all chunks for a document. Deletion protocol
// level 2.
func (s *SpanStorage) DeleteChunksByDocument(ctx context.Context, tenantID, documentID string) (int64, error) {
	result, err := s.db.db.ExecContext(ctx,
		`DELETE FROM embedding_chunks WHERE document_id = ? AND tenant_id = ?`,
		documentID, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	return result.RowsAffected()
}

// ListCandidates returns embedded chunks with their span and document context
// for scoring. Only visible documents qualify; deletion hides a document from
// search the moment it is marked.
func (s *SpanStorage) ListCandidates(ctx context.Context, tenantID string, filters models.SearchFilters) ([]*models.ChunkCandidate, error) {
	clauses := []string{
		"c.tenant_id = ?",
		"c.embedding IS NOT NULL",
		"d.deletion_status = ?",
	}
	args := []interface{}{tenantID, string(models.DeletionStatusActive)}

	if filters.ProjectID != "" {
		clauses = append(clauses,
			"c.document_id IN (SELECT document_id FROM project_documents WHERE project_id = ? AND tenant_id = ?)")
		args = append(args, filters.ProjectID, tenantID)
	}
	if len(filters.DocumentIDs) > 0 {
		placeholders := strings.TrimRight(strings.Repeat("?,", len(filters.DocumentIDs)), ",")
		clauses = append(clauses, "c.document_id IN ("+placeholders+")")
		for _, id := range filters.DocumentIDs {
			args = append(args, id)
		}
	}
	if len(filters.DocumentTypes) > 0 {
		placeholders := strings.TrimRight(strings.Repeat("?,", len(filters.DocumentTypes)), ",")
		clauses = append(clauses, "d.classification IN ("+placeholders+")")
		for _, t := range filters.DocumentTypes {
			args = append(args, t)
		}
	}
	if len(filters.SpanTypes) > 0 {
		placeholders := strings.TrimRight(strings.Repeat("?,", len(filters.SpanTypes)), ",")
		clauses = append(clauses, "sp.span_type IN ("+placeholders+")")
		for _, t := range filters.SpanTypes {
			args = append(args, t)
		}
	}
	if filters.SpansOnly {
		clauses = append(clauses, "c.span_id IS NOT NULL")
	}
	arrayFilters := []struct {
		column string
		values []string
	}{
		{"sectors", filters.Sectors},
		{"topics", filters.Topics},
		{"geographies", filters.Geographies},
		{"companies", filters.Companies},
	}
	for _, f := range arrayFilters {
		if len(f.values) == 0 {
			continue
		}
		placeholders := strings.TrimRight(strings.Repeat("?,", len(f.values)), ",")
		clauses = append(clauses,
			fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(d.%s) WHERE json_each.value IN (%s))", f.column, placeholders))
		for _, v := range f.values {
			args = append(args, v)
		}
	}

	query := `
		SELECT
			c.id, c.tenant_id, c.version_id, c.document_id, c.span_id,
			c.chunk_index, c.text_content, c.embedding, c.char_start, c.char_end,
			c.metadata, c.created_at,
			sp.id, sp.locator, sp.end_locator, sp.text_content, sp.span_type, sp.span_hash,
			d.id, d.filename, d.classification,
			d.sectors, d.topics, d.geographies, d.companies
		FROM embedding_chunks c
		JOIN documents d ON d.id = c.document_id
		LEFT JOIN spans sp ON sp.id = c.span_id
		WHERE ` + strings.Join(clauses, " AND ")

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list search candidates: %w", err)
	}
	defer rows.Close()

	var candidates []*models.ChunkCandidate
	for rows.Next() {
		var chunk models.EmbeddingChunk
		var chunkSpanID, chunkMetadata sql.NullString
		var embeddingData []byte
		var chunkCreatedAt int64

		var spanID, spanLocator, spanEndLocator, spanText, spanType, spanHash sql.NullString

		var doc models.Document
		var sectors, topics, geographies, companies sql.NullString

		err := rows.Scan(
			&chunk.ID, &chunk.TenantID, &chunk.VersionID, &chunk.DocumentID, &chunkSpanID,
			&chunk.ChunkIndex, &chunk.TextContent, &embeddingData, &chunk.CharStart, &chunk.CharEnd,
			&chunkMetadata, &chunkCreatedAt,
			&spanID, &spanLocator, &spanEndLocator, &spanText, &spanType, &spanHash,
			&doc.ID, &doc.Filename, &doc.Classification,
			&sectors, &topics, &geographies, &companies)
		if err != nil {
			return nil, err
		}

		chunk.SpanID = strValue(chunkSpanID)
		if len(embeddingData) > 0 {
			chunk.Embedding, err = deserializeEmbedding(embeddingData)
			if err != nil {
				s.logger.Warn().Err(err).Str("chunk_id", chunk.ID).Msg("Failed to deserialize embedding")
				continue
			}
		}
		if err := unmarshalJSON(chunkMetadata, &chunk.Metadata); err != nil {
			return nil, err
		}
		chunk.CreatedAt = timeFromMillis(chunkCreatedAt)

		candidate := &models.ChunkCandidate{Chunk: &chunk}

		if spanID.Valid {
			span := &models.Span{
				ID:          spanID.String,
				TenantID:    chunk.TenantID,
				VersionID:   chunk.VersionID,
				DocumentID:  chunk.DocumentID,
				TextContent: strValue(spanText),
				SpanType:    models.SpanType(strValue(spanType)),
				SpanHash:    strValue(spanHash),
			}
			if spanLocator.Valid {
				locator, err := models.ParseLocator([]byte(spanLocator.String))
				if err != nil {
					return nil, err
				}
				span.Locator = locator
			}
			if spanEndLocator.Valid {
				endLocator, err := models.ParseLocator([]byte(spanEndLocator.String))
				if err != nil {
					return nil, err
				}
				span.EndLocator = &endLocator
			}
			candidate.Span = span
		}

		doc.TenantID = chunk.TenantID
		if err := unmarshalJSON(sectors, &doc.Sectors); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(topics, &doc.Topics); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(geographies, &doc.Geographies); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(companies, &doc.Companies); err != nil {
			return nil, err
		}
		candidate.Document = &doc

		candidates = append(candidates, candidate)
	}
	return candidates, rows.Err()
}

func scanSpan(scan func(...interface{}) error) (*models.Span, error) {
	var span models.Span
	var locatorJSON string
	var endLocatorJSON, metadata sql.NullString
	var createdAt int64

	err := scan(
		&span.ID, &span.TenantID, &span.VersionID, &span.DocumentID,
		&locatorJSON, &endLocatorJSON, &span.TextContent,
		&span.SpanType, &span.SpanHash, &metadata, &createdAt)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	span.Locator, err = models.ParseLocator([]byte(locatorJSON))
	if err != nil {
		return nil, err
	}
	if endLocatorJSON.Valid {
		endLocator, err := models.ParseLocator([]byte(endLocatorJSON.String))
		if err != nil {
			return nil, err
		}
		span.EndLocator = &endLocator
	}
	if err := unmarshalJSON(metadata, &span.Metadata); err != nil {
		return nil, err
	}
	span.CreatedAt = timeFromMillis(createdAt)
	return &span, nil
}

func (s *SpanStorage) scanChunk(scan func(...interface{}) error) (*models.EmbeddingChunk, error) {
	var chunk models.EmbeddingChunk
	var spanID, metadata sql.NullString
	var embeddingData []byte
	var createdAt int64

	err := scan(
		&chunk.ID, &chunk.TenantID, &chunk.VersionID, &chunk.DocumentID,
		&spanID, &chunk.ChunkIndex, &chunk.TextContent, &embeddingData,
		&chunk.CharStart, &chunk.CharEnd, &metadata, &createdAt)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	chunk.SpanID = strValue(spanID)
	if len(embeddingData) > 0 {
		chunk.Embedding, err = deserializeEmbedding(embeddingData)
		if err != nil {
			s.logger.Warn().Err(err).Str("chunk_id", chunk.ID).Msg("Failed to deserialize embedding")
		}
	}
	if err := unmarshalJSON(metadata, &chunk.Metadata); err != nil {
		return nil, err
	}
	chunk.CreatedAt = timeFromMillis(createdAt)
	return &chunk, nil
}
