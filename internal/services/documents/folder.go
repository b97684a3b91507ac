package documents

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
)

// EnqueueFolderIngest validates the folder up front and queues one bulk job
// for it. The payload carries the request path, not the resolved one, so the
// worker re-resolves against whatever root it is configured with.
func (s *Service) EnqueueFolderIngest(ctx context.Context, tc models.TenantContext, folder string, priority int, opts interfaces.ProcessOptions) (string, error) {
	resolved, err := s.resolveIngestFolder(folder)
	if err != nil {
		return "", err
	}

	payload := processPayload(opts)
	payload["folder"] = strings.TrimSpace(folder)

	job := models.NewJob(tc.TenantID, models.JobTypeBulkFolderIngest, priority, payload)
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("failed to create folder ingestion job: %w", err)
	}
	msg := &models.QueueMessage{
		JobID:      job.ID,
		TenantID:   tc.TenantID,
		Type:       job.Type,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := s.queue.Enqueue(ctx, models.QueueForPriority(job.Priority), msg); err != nil {
		return "", fmt.Errorf("failed to enqueue folder ingestion job: %w", err)
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("folder", resolved).
		Msg("Bulk folder ingestion queued")
	return job.ID, nil
}

// IngestFolder walks the folder and pushes every supported regular file
// through the standard upload path. Unsupported extensions and dotfiles are
// skipped; per-file failures are collected rather than aborting the walk.
func (s *Service) IngestFolder(ctx context.Context, tc models.TenantContext, folder string, priority int, opts interfaces.ProcessOptions, progress interfaces.ProgressFn) (*interfaces.FolderIngestResult, error) {
	resolved, err := s.resolveIngestFolder(folder)
	if err != nil {
		return nil, err
	}

	var files []string
	var skipped int
	err = filepath.WalkDir(resolved, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") {
			if d.IsDir() && path != resolved {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if !s.extensionAllowed(name) {
			skipped++
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk folder %s: %w", resolved, err)
	}

	result := &interfaces.FolderIngestResult{
		Skipped:  skipped,
		Failures: map[string]string{},
	}

	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rel, relErr := filepath.Rel(resolved, path)
		if relErr != nil {
			rel = filepath.Base(path)
		}

		uploaded, err := s.ingestFolderFile(ctx, tc, path, priority, opts)
		if err != nil {
			result.Failures[rel] = err.Error()
			s.logger.Warn().
				Err(err).
				Str("file", rel).
				Msg("Folder file ingestion failed")
		} else if uploaded.Deduplicated {
			result.Deduplicated++
		} else {
			result.Ingested++
		}
		if progress != nil {
			progress((i+1)*100/len(files), fmt.Sprintf("processed %d of %d files", i+1, len(files)))
		}
	}

	s.logger.Info().
		Str("folder", resolved).
		Int("ingested", result.Ingested).
		Int("deduplicated", result.Deduplicated).
		Int("skipped", result.Skipped).
		Int("failed", len(result.Failures)).
		Msg("Folder ingested")
	return result, nil
}

func (s *Service) ingestFolderFile(ctx context.Context, tc models.TenantContext, path string, priority int, opts interfaces.ProcessOptions) (*interfaces.UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	return s.Upload(ctx, tc, &interfaces.UploadRequest{
		Filename:   filepath.Base(path),
		SourceType: models.SourceTypeFolder,
		Data:       f,
		Priority:   priority,
		Process:    opts,
	})
}

// resolveIngestFolder jails the requested path under the configured folder
// root. Absolute paths and traversal out of the root are validation errors,
// as is a path that does not exist or is not a directory.
func (s *Service) resolveIngestFolder(folder string) (string, error) {
	root := strings.TrimSpace(s.ingest.FolderRoot)
	if root == "" {
		return "", fmt.Errorf("%w: folder ingestion is disabled (no folder_root configured)", interfaces.ErrValidation)
	}

	folder = strings.TrimSpace(folder)
	if folder == "" {
		return "", fmt.Errorf("%w: folder path is required", interfaces.ErrValidation)
	}
	if filepath.IsAbs(folder) {
		return "", fmt.Errorf("%w: folder path must be relative to the ingestion root", interfaces.ErrValidation)
	}

	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("invalid folder root %q: %w", root, err)
	}
	resolved := filepath.Join(rootAbs, folder)

	rel, err := filepath.Rel(rootAbs, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: folder path %q escapes the ingestion root", interfaces.ErrValidation, folder)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("%w: folder %q does not exist", interfaces.ErrValidation, folder)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %q is not a directory", interfaces.ErrValidation, folder)
	}
	return resolved, nil
}
