package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
	"github.com/ternarybob/arbor"
)

// FactStorage handles claim, metric, constraint, and risk persistence.
type FactStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewFactStorage creates a new fact storage instance.
func NewFactStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.FactStorage {
	return &FactStorage{db: db, logger: logger}
}

// versionScope is the subquery used to delete facts by document while the
// version rows still exist. Facts leave before versions in the deletion
// protocol, so the join is always resolvable.
const versionScope = `(SELECT id FROM document_versions WHERE document_id = ? AND tenant_id = ?)`

// InsertClaims writes claims in one transaction.
func (f *FactStorage) InsertClaims(ctx context.Context, claims []*models.Claim) error {
	if len(claims) == 0 {
		return nil
	}

	tx, err := f.db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO claims
			(id, tenant_id, version_id, extraction_run_id, process_context, level,
			 subject, predicate, object, certainty, reliability, span_refs, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, claim := range claims {
		spanRefs, err := marshalJSON(claim.SpanRefs)
		if err != nil {
			return err
		}
		_, err = stmt.ExecContext(ctx,
			claim.ID, claim.TenantID, claim.VersionID, claim.ExtractionRunID,
			claim.ProcessContext, claim.Level,
			claim.Subject, claim.Predicate, claim.Object,
			nullStr(string(claim.Certainty)), nullStr(string(claim.Reliability)),
			spanRefs, millis(claim.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to insert claim: %w", err)
		}
	}
	return tx.Commit()
}

// InsertMetrics writes metrics in one transaction.
func (f *FactStorage) InsertMetrics(ctx context.Context, metrics []*models.Metric) error {
	if len(metrics) == 0 {
		return nil
	}

	tx, err := f.db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO metrics
			(id, tenant_id, version_id, extraction_run_id, process_context, level,
			 entity, metric_name, value_text, value, unit, currency, period,
			 calculation_method, quality_flags, certainty, reliability, span_refs, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, metric := range metrics {
		var period interface{}
		if metric.Period != nil {
			period, err = marshalJSON(metric.Period)
			if err != nil {
				return err
			}
		}
		qualityFlags, err := marshalJSON(metric.QualityFlags)
		if err != nil {
			return err
		}
		spanRefs, err := marshalJSON(metric.SpanRefs)
		if err != nil {
			return err
		}
		var value interface{}
		if metric.Value != nil {
			value = *metric.Value
		}

		_, err = stmt.ExecContext(ctx,
			metric.ID, metric.TenantID, metric.VersionID, metric.ExtractionRunID,
			metric.ProcessContext, metric.Level,
			metric.Entity, metric.MetricName, metric.ValueText, value,
			nullStr(metric.Unit), nullStr(metric.Currency), period,
			nullStr(metric.CalculationMethod), qualityFlags,
			nullStr(string(metric.Certainty)), nullStr(string(metric.Reliability)),
			spanRefs, millis(metric.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to insert metric: %w", err)
		}
	}
	return tx.Commit()
}

// InsertConstraints writes constraints in one transaction.
func (f *FactStorage) InsertConstraints(ctx context.Context, constraints []*models.Constraint) error {
	if len(constraints) == 0 {
		return nil
	}

	tx, err := f.db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO constraints
			(id, tenant_id, version_id, extraction_run_id, process_context, level,
			 kind, description, related_fact_ids, certainty, reliability, span_refs, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, constraint := range constraints {
		relatedIDs, err := marshalJSON(constraint.RelatedFactIDs)
		if err != nil {
			return err
		}
		spanRefs, err := marshalJSON(constraint.SpanRefs)
		if err != nil {
			return err
		}
		_, err = stmt.ExecContext(ctx,
			constraint.ID, constraint.TenantID, constraint.VersionID, constraint.ExtractionRunID,
			constraint.ProcessContext, constraint.Level,
			string(constraint.Kind), constraint.Description, relatedIDs,
			nullStr(string(constraint.Certainty)), nullStr(string(constraint.Reliability)),
			spanRefs, millis(constraint.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to insert constraint: %w", err)
		}
	}
	return tx.Commit()
}

// InsertRisks writes risks in one transaction.
func (f *FactStorage) InsertRisks(ctx context.Context, risks []*models.Risk) error {
	if len(risks) == 0 {
		return nil
	}

	tx, err := f.db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO risks
			(id, tenant_id, version_id, extraction_run_id, process_context, level,
			 risk_type, statement, severity, rationale, related_fact_ids,
			 certainty, reliability, span_refs, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, risk := range risks {
		relatedIDs, err := marshalJSON(risk.RelatedFactIDs)
		if err != nil {
			return err
		}
		spanRefs, err := marshalJSON(risk.SpanRefs)
		if err != nil {
			return err
		}
		_, err = stmt.ExecContext(ctx,
			risk.ID, risk.TenantID, risk.VersionID, risk.ExtractionRunID,
			risk.ProcessContext, risk.Level,
			risk.RiskType, risk.Statement, string(risk.Severity),
			nullStr(risk.Rationale), relatedIDs,
			nullStr(string(risk.Certainty)), nullStr(string(risk.Reliability)),
			spanRefs, millis(risk.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to insert risk: %w", err)
		}
	}
	return tx.Commit()
}

// ListClaimsByVersion returns a version's claims, optionally narrowed to a
// process context.
func (f *FactStorage) ListClaimsByVersion(ctx context.Context, tenantID, versionID, processContext string) ([]*models.Claim, error) {
	query := `
		SELECT id, tenant_id, version_id, extraction_run_id, process_context, level,
			subject, predicate, object, certainty, reliability, span_refs, created_at
		FROM claims WHERE version_id = ? AND tenant_id = ?`
	args := []interface{}{versionID, tenantID}
	if processContext != "" {
		query += " AND process_context = ?"
		args = append(args, processContext)
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := f.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	defer rows.Close()

	var claims []*models.Claim
	for rows.Next() {
		var c models.Claim
		var certainty, reliability, spanRefs sql.NullString
		var createdAt int64
		err := rows.Scan(&c.ID, &c.TenantID, &c.VersionID, &c.ExtractionRunID,
			&c.ProcessContext, &c.Level, &c.Subject, &c.Predicate, &c.Object,
			&certainty, &reliability, &spanRefs, &createdAt)
		if err != nil {
			return nil, err
		}
		c.Certainty = models.Certainty(strValue(certainty))
		c.Reliability = models.Reliability(strValue(reliability))
		if err := unmarshalJSON(spanRefs, &c.SpanRefs); err != nil {
			return nil, err
		}
		c.CreatedAt = timeFromMillis(createdAt)
		claims = append(claims, &c)
	}
	return claims, rows.Err()
}

// ListMetricsByVersion returns a version's metrics, optionally narrowed to a
// process context.
func (f *FactStorage) ListMetricsByVersion(ctx context.Context, tenantID, versionID, processContext string) ([]*models.Metric, error) {
	query := `
		SELECT id, tenant_id, version_id, extraction_run_id, process_context, level,
			entity, metric_name, value_text, value, unit, currency, period,
			calculation_method, quality_flags, certainty, reliability, span_refs, created_at
		FROM metrics WHERE version_id = ? AND tenant_id = ?`
	args := []interface{}{versionID, tenantID}
	if processContext != "" {
		query += " AND process_context = ?"
		args = append(args, processContext)
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := f.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list metrics: %w", err)
	}
	defer rows.Close()

	var metrics []*models.Metric
	for rows.Next() {
		var m models.Metric
		var value sql.NullFloat64
		var unit, currency, period, calcMethod, qualityFlags sql.NullString
		var certainty, reliability, spanRefs sql.NullString
		var createdAt int64
		err := rows.Scan(&m.ID, &m.TenantID, &m.VersionID, &m.ExtractionRunID,
			&m.ProcessContext, &m.Level, &m.Entity, &m.MetricName, &m.ValueText,
			&value, &unit, &currency, &period, &calcMethod, &qualityFlags,
			&certainty, &reliability, &spanRefs, &createdAt)
		if err != nil {
			return nil, err
		}
		if value.Valid {
			v := value.Float64
			m.Value = &v
		}
		m.Unit = strValue(unit)
		m.Currency = strValue(currency)
		m.CalculationMethod = strValue(calcMethod)
		if period.Valid {
			m.Period = &models.TimePeriod{}
			if err := unmarshalJSON(period, m.Period); err != nil {
				return nil, err
			}
		}
		if err := unmarshalJSON(qualityFlags, &m.QualityFlags); err != nil {
			return nil, err
		}
		m.Certainty = models.Certainty(strValue(certainty))
		m.Reliability = models.Reliability(strValue(reliability))
		if err := unmarshalJSON(spanRefs, &m.SpanRefs); err != nil {
			return nil, err
		}
		m.CreatedAt = timeFromMillis(createdAt)
		metrics = append(metrics, &m)
	}
	return metrics, rows.Err()
}

// GetClaim fetches one claim within the tenant scope.
func (f *FactStorage) GetClaim(ctx context.Context, tenantID, claimID string) (*models.Claim, error) {
	row := f.db.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, version_id, extraction_run_id, process_context, level,
			subject, predicate, object, certainty, reliability, span_refs, created_at
		FROM claims WHERE id = ? AND tenant_id = ?`,
		claimID, tenantID)

	var c models.Claim
	var certainty, reliability, spanRefs sql.NullString
	var createdAt int64
	err := row.Scan(&c.ID, &c.TenantID, &c.VersionID, &c.ExtractionRunID,
		&c.ProcessContext, &c.Level, &c.Subject, &c.Predicate, &c.Object,
		&certainty, &reliability, &spanRefs, &createdAt)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Certainty = models.Certainty(strValue(certainty))
	c.Reliability = models.Reliability(strValue(reliability))
	if err := unmarshalJSON(spanRefs, &c.SpanRefs); err != nil {
		return nil, err
	}
	c.CreatedAt = timeFromMillis(createdAt)
	return &c, nil
}

// GetMetric fetches one metric within the tenant scope.
func (f *FactStorage) GetMetric(ctx context.Context, tenantID, metricID string) (*models.Metric, error) {
	row := f.db.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, version_id, extraction_run_id, process_context, level,
			entity, metric_name, value_text, value, unit, currency, period,
			calculation_method, quality_flags, certainty, reliability, span_refs, created_at
		FROM metrics WHERE id = ? AND tenant_id = ?`,
		metricID, tenantID)

	var m models.Metric
	var value sql.NullFloat64
	var unit, currency, period, calcMethod, qualityFlags sql.NullString
	var certainty, reliability, spanRefs sql.NullString
	var createdAt int64
	err := row.Scan(&m.ID, &m.TenantID, &m.VersionID, &m.ExtractionRunID,
		&m.ProcessContext, &m.Level, &m.Entity, &m.MetricName, &m.ValueText,
		&value, &unit, &currency, &period, &calcMethod, &qualityFlags,
		&certainty, &reliability, &spanRefs, &createdAt)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if value.Valid {
		v := value.Float64
		m.Value = &v
	}
	m.Unit = strValue(unit)
	m.Currency = strValue(currency)
	m.CalculationMethod = strValue(calcMethod)
	if period.Valid {
		m.Period = &models.TimePeriod{}
		if err := unmarshalJSON(period, m.Period); err != nil {
			return nil, err
		}
	}
	if err := unmarshalJSON(qualityFlags, &m.QualityFlags); err != nil {
		return nil, err
	}
	m.Certainty = models.Certainty(strValue(certainty))
	m.Reliability = models.Reliability(strValue(reliability))
	if err := unmarshalJSON(spanRefs, &m.SpanRefs); err != nil {
		return nil, err
	}
	m.CreatedAt = timeFromMillis(createdAt)
	return &m, nil
}

// ListConstraintsByVersion returns a version's constraints, optionally
// narrowed to a process context.
func (f *FactStorage) ListConstraintsByVersion(ctx context.Context, tenantID, versionID, processContext string) ([]*models.Constraint, error) {
	query := `
		SELECT id, tenant_id, version_id, extraction_run_id, process_context, level,
			kind, description, related_fact_ids, certainty, reliability, span_refs, created_at
		FROM constraints WHERE version_id = ? AND tenant_id = ?`
	args := []interface{}{versionID, tenantID}
	if processContext != "" {
		query += " AND process_context = ?"
		args = append(args, processContext)
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := f.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list constraints: %w", err)
	}
	defer rows.Close()

	var constraints []*models.Constraint
	for rows.Next() {
		var c models.Constraint
		var relatedIDs, certainty, reliability, spanRefs sql.NullString
		var createdAt int64
		err := rows.Scan(&c.ID, &c.TenantID, &c.VersionID, &c.ExtractionRunID,
			&c.ProcessContext, &c.Level, &c.Kind, &c.Description,
			&relatedIDs, &certainty, &reliability, &spanRefs, &createdAt)
		if err != nil {
			return nil, err
		}
		if err := unmarshalJSON(relatedIDs, &c.RelatedFactIDs); err != nil {
			return nil, err
		}
		c.Certainty = models.Certainty(strValue(certainty))
		c.Reliability = models.Reliability(strValue(reliability))
		if err := unmarshalJSON(spanRefs, &c.SpanRefs); err != nil {
			return nil, err
		}
		c.CreatedAt = timeFromMillis(createdAt)
		constraints = append(constraints, &c)
	}
	return constraints, rows.Err()
}

// ListRisksByVersion returns a version's risks, optionally narrowed to a
// process context.
func (f *FactStorage) ListRisksByVersion(ctx context.Context, tenantID, versionID, processContext string) ([]*models.Risk, error) {
	query := `
		SELECT id, tenant_id, version_id, extraction_run_id, process_context, level,
			risk_type, statement, severity, rationale, related_fact_ids,
			certainty, reliability, span_refs, created_at
		FROM risks WHERE version_id = ? AND tenant_id = ?`
	args := []interface{}{versionID, tenantID}
	if processContext != "" {
		query += " AND process_context = ?"
		args = append(args, processContext)
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := f.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list risks: %w", err)
	}
	defer rows.Close()

	var risks []*models.Risk
	for rows.Next() {
		var r models.Risk
		var rationale, relatedIDs, certainty, reliability, spanRefs sql.NullString
		var createdAt int64
		err := rows.Scan(&r.ID, &r.TenantID, &r.VersionID, &r.ExtractionRunID,
			&r.ProcessContext, &r.Level, &r.RiskType, &r.Statement, &r.Severity,
			&rationale, &relatedIDs, &certainty, &reliability, &spanRefs, &createdAt)
		if err != nil {
			return nil, err
		}
		r.Rationale = strValue(rationale)
		if err := unmarshalJSON(relatedIDs, &r.RelatedFactIDs); err != nil {
			return nil, err
		}
		r.Certainty = models.Certainty(strValue(certainty))
		r.Reliability = models.Reliability(strValue(reliability))
		if err := unmarshalJSON(spanRefs, &r.SpanRefs); err != nil {
			return nil, err
		}
		r.CreatedAt = timeFromMillis(createdAt)
		risks = append(risks, &r)
	}
	return risks, rows.Err()
}

// CountFactsByVersion returns per-kind fact counts for a version.
func (f *FactStorage) CountFactsByVersion(ctx context.Context, tenantID, versionID string) (models.FactCounts, error) {
	var counts models.FactCounts
	targets := []struct {
		table string
		dst   *int
	}{
		{"claims", &counts.Claims},
		{"metrics", &counts.Metrics},
		{"constraints", &counts.Constraints},
		{"risks", &counts.Risks},
	}
	for _, t := range targets {
		err := f.db.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM `+t.table+` WHERE version_id = ? AND tenant_id = ?`,
			versionID, tenantID).Scan(t.dst)
		if err != nil {
			return counts, fmt.Errorf("failed to count %s: %w", t.table, err)
		}
	}
	return counts, nil
}

// DeleteFactsByRun removes all facts produced by one run. Re-extraction
// replaces a run's facts atomically with the insert that follows.
func (f *FactStorage) DeleteFactsByRun(ctx context.Context, tenantID, runID string) (int64, error) {
	tx, err := f.db.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var total int64
	for _, table := range []string{"claims", "metrics", "constraints", "risks"} {
		result, err := tx.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE extraction_run_id = ? AND tenant_id = ?`,
			runID, tenantID)
		if err != nil {
			return 0, fmt.Errorf("failed to delete %s by run: %w", table, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, err
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

// DeleteClaimsByDocument removes all claims for a document. Deletion protocol
// level 4.
func (f *FactStorage) DeleteClaimsByDocument(ctx context.Context, tenantID, documentID string) (int64, error) {
	return f.deleteByDocument(ctx, "claims", tenantID, documentID)
}

// DeleteMetricsByDocument removes all metrics for a document.
func (f *FactStorage) DeleteMetricsByDocument(ctx context.Context, tenantID, documentID string) (int64, error) {
	return f.deleteByDocument(ctx, "metrics", tenantID, documentID)
}

// DeleteConstraintsByDocument removes all constraints for a document.
func (f *FactStorage) DeleteConstraintsByDocument(ctx context.Context, tenantID, documentID string) (int64, error) {
	return f.deleteByDocument(ctx, "constraints", tenantID, documentID)
}

// DeleteRisksByDocument removes all risks for a document.
func (f *FactStorage) DeleteRisksByDocument(ctx context.Context, tenantID, documentID string) (int64, error) {
	return f.deleteByDocument(ctx, "risks", tenantID, documentID)
}

func (f *FactStorage) deleteByDocument(ctx context.Context, table, tenantID, documentID string) (int64, error) {
	result, err := f.db.db.ExecContext(ctx,
		`DELETE FROM `+table+` WHERE tenant_id = ? AND version_id IN `+versionScope,
		tenantID, documentID, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s: %w", table, err)
	}
	return result.RowsAffected()
}
