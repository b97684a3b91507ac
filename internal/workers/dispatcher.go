// -----------------------------------------------------------------------
// Job dispatcher - binds job types to the services that execute them
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
)

// Dispatcher translates job payloads into service calls. Payload keys
// mirror what the enqueue side writes; a missing required key fails the
// job without retry value, so handlers validate before touching services.
type Dispatcher struct {
	logger     arbor.ILogger
	docs       interfaces.DocumentService
	pipeline   interfaces.PipelineService
	facts      interfaces.FactService
	embeddings interfaces.EmbeddingService
	deletion   interfaces.DeletionService
}

func NewDispatcher(logger arbor.ILogger, docs interfaces.DocumentService, pipeline interfaces.PipelineService, facts interfaces.FactService, embeddings interfaces.EmbeddingService, deletion interfaces.DeletionService) *Dispatcher {
	return &Dispatcher{
		logger:     logger,
		docs:       docs,
		pipeline:   pipeline,
		facts:      facts,
		embeddings: embeddings,
		deletion:   deletion,
	}
}

// RegisterAll wires every known job type onto the processor.
func (d *Dispatcher) RegisterAll(p *Processor) {
	p.Register(models.JobTypeIngestDocument, d.ingestDocument)
	p.Register(models.JobTypeProcessVersion, d.processVersion)
	p.Register(models.JobTypeExtractFacts, d.extractFacts)
	p.Register(models.JobTypeEmbedVersion, d.embedVersion)
	p.Register(models.JobTypeDeleteDocument, d.deleteDocument)
	p.Register(models.JobTypeBulkURLIngest, d.bulkURLIngest)
	p.Register(models.JobTypeBulkFolderIngest, d.bulkFolderIngest)
	p.Register(models.JobTypeUpgradeExtraction, d.upgradeExtraction)
}

func (d *Dispatcher) processVersion(ctx context.Context, job *models.Job, report interfaces.ProgressFn) (map[string]interface{}, error) {
	versionID, err := requireString(job.Payload, "version_id")
	if err != nil {
		return nil, err
	}
	opts := processOptions(job.Payload)

	if payloadBool(job.Payload, "reprocess") {
		err = d.pipeline.Reprocess(ctx, job.TenantID, versionID, opts, report)
	} else {
		err = d.pipeline.ProcessVersion(ctx, job.TenantID, versionID, opts, report)
	}
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"version_id": versionID}, nil
}

func (d *Dispatcher) ingestDocument(ctx context.Context, job *models.Job, report interfaces.ProgressFn) (map[string]interface{}, error) {
	rawURL, err := requireString(job.Payload, "url")
	if err != nil {
		return nil, err
	}

	report(10, "downloading "+rawURL)
	res, err := d.docs.IngestURL(ctx, workerTenant(job.TenantID), rawURL, job.Priority, processOptions(job.Payload))
	if err != nil {
		return nil, err
	}
	report(100, "document ingested")
	return map[string]interface{}{
		"document_id":  res.Document.ID,
		"version_id":   res.Version.ID,
		"deduplicated": res.Deduplicated,
	}, nil
}

// bulkURLIngest works through the URL list one download at a time, checking
// for cancellation between URLs. Individual failures are collected; the job
// only fails when nothing was ingested.
func (d *Dispatcher) bulkURLIngest(ctx context.Context, job *models.Job, report interfaces.ProgressFn) (map[string]interface{}, error) {
	urls := payloadStrings(job.Payload, "urls")
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: urls are required", interfaces.ErrValidation)
	}
	opts := processOptions(job.Payload)
	tc := workerTenant(job.TenantID)

	ingested := 0
	failures := map[string]interface{}{}
	for i, rawURL := range urls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := d.docs.IngestURL(ctx, tc, rawURL, job.Priority, opts); err != nil {
			failures[rawURL] = err.Error()
			d.logger.Warn().
				Err(err).
				Str("job_id", job.ID).
				Str("url", rawURL).
				Msg("URL ingestion failed")
		} else {
			ingested++
		}
		report((i+1)*100/len(urls), fmt.Sprintf("processed %d of %d URLs", i+1, len(urls)))
	}

	result := map[string]interface{}{
		"ingested": ingested,
		"failed":   len(failures),
	}
	if len(failures) > 0 {
		result["failures"] = failures
	}
	if ingested == 0 {
		return nil, fmt.Errorf("all %d URLs failed to ingest", len(urls))
	}
	return result, nil
}

func (d *Dispatcher) bulkFolderIngest(ctx context.Context, job *models.Job, report interfaces.ProgressFn) (map[string]interface{}, error) {
	folder, err := requireString(job.Payload, "folder")
	if err != nil {
		return nil, err
	}
	opts := processOptions(job.Payload)
	tc := workerTenant(job.TenantID)

	summary, err := d.docs.IngestFolder(ctx, tc, folder, job.Priority, opts, report)
	if err != nil {
		return nil, err
	}

	result := map[string]interface{}{
		"ingested":     summary.Ingested,
		"deduplicated": summary.Deduplicated,
		"skipped":      summary.Skipped,
		"failed":       len(summary.Failures),
	}
	if len(summary.Failures) > 0 {
		result["failures"] = summary.Failures
	}
	if summary.Ingested == 0 && summary.Deduplicated == 0 && len(summary.Failures) > 0 {
		return nil, fmt.Errorf("all %d files failed to ingest", len(summary.Failures))
	}
	return result, nil
}

func (d *Dispatcher) extractFacts(ctx context.Context, job *models.Job, report interfaces.ProgressFn) (map[string]interface{}, error) {
	versionID, err := requireString(job.Payload, "version_id")
	if err != nil {
		return nil, err
	}

	report(10, "extracting facts")
	run, err := d.facts.ExtractFacts(ctx, job.TenantID, versionID,
		models.ExtractionProfile(payloadString(job.Payload, "profile")),
		payloadString(job.Payload, "process_context"),
		payloadInt(job.Payload, "level"))
	if err != nil {
		return nil, err
	}
	report(100, "facts extracted")
	return runResult(run), nil
}

func (d *Dispatcher) upgradeExtraction(ctx context.Context, job *models.Job, report interfaces.ProgressFn) (map[string]interface{}, error) {
	versionID, err := requireString(job.Payload, "version_id")
	if err != nil {
		return nil, err
	}
	target := payloadInt(job.Payload, "target_level")
	if target <= 0 {
		return nil, fmt.Errorf("%w: target_level is required", interfaces.ErrValidation)
	}

	report(10, fmt.Sprintf("upgrading extraction to level %d", target))
	run, err := d.facts.UpgradeLevel(ctx, job.TenantID, versionID,
		models.ExtractionProfile(payloadString(job.Payload, "profile")),
		payloadString(job.Payload, "process_context"),
		target)
	if err != nil {
		return nil, err
	}
	report(100, "extraction upgraded")
	return runResult(run), nil
}

func (d *Dispatcher) embedVersion(ctx context.Context, job *models.Job, report interfaces.ProgressFn) (map[string]interface{}, error) {
	versionID, err := requireString(job.Payload, "version_id")
	if err != nil {
		return nil, err
	}

	report(10, "embedding spans")
	chunks, err := d.embeddings.EmbedVersion(ctx, job.TenantID, versionID)
	if err != nil {
		return nil, err
	}
	report(100, "version embedded")
	return map[string]interface{}{
		"version_id": versionID,
		"chunks":     chunks,
	}, nil
}

func (d *Dispatcher) deleteDocument(ctx context.Context, job *models.Job, report interfaces.ProgressFn) (map[string]interface{}, error) {
	documentID, err := requireString(job.Payload, "document_id")
	if err != nil {
		return nil, err
	}

	report(10, "running deletion protocol")
	if err := d.deletion.ExecuteDeletion(ctx, job.TenantID, documentID); err != nil {
		return nil, err
	}
	report(100, "document deleted")
	return map[string]interface{}{"document_id": documentID}, nil
}

func runResult(run *models.ExtractionRun) map[string]interface{} {
	return map[string]interface{}{
		"run_id":      run.ID,
		"claims":      run.ClaimCount,
		"metrics":     run.MetricCount,
		"constraints": run.ConstraintCount,
		"risks":       run.RiskCount,
	}
}

// workerTenant is the service context for handler calls. Workers act on
// behalf of the job's tenant with full scopes.
func workerTenant(tenantID string) models.TenantContext {
	return models.TenantContext{TenantID: tenantID, ActorID: "worker", Scopes: []string{"*"}}
}

func processOptions(payload map[string]interface{}) interfaces.ProcessOptions {
	return interfaces.ProcessOptions{
		Profile:        models.ExtractionProfile(payloadString(payload, "profile")),
		Level:          payloadInt(payload, "level"),
		ProcessContext: payloadString(payload, "process_context"),
		SkipFacts:      payloadBool(payload, "skip_facts"),
		SkipQuality:    payloadBool(payload, "skip_quality"),
	}
}

func requireString(payload map[string]interface{}, key string) (string, error) {
	if s := payloadString(payload, key); s != "" {
		return s, nil
	}
	return "", fmt.Errorf("%w: %s is required", interfaces.ErrValidation, key)
}

func payloadString(payload map[string]interface{}, key string) string {
	s, _ := payload[key].(string)
	return s
}

// payloadInt tolerates both in-process ints and the float64 that JSON
// numbers decode to after a round trip through the job row.
func payloadInt(payload map[string]interface{}, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func payloadBool(payload map[string]interface{}, key string) bool {
	b, _ := payload[key].(bool)
	return b
}

func payloadStrings(payload map[string]interface{}, key string) []string {
	switch v := payload[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
