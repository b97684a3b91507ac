package extraction

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/ternarybob/arbor"

	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/models"
)

// ImageExtractor records image dimensions and format. When an OCR command is
// configured it is invoked for text; OCR failure downgrades to a warning
// because the image artifact itself is still useful evidence.
type ImageExtractor struct {
	ocrEnabled bool
	ocrCommand string
	logger     arbor.ILogger
}

func NewImageExtractor(logger arbor.ILogger, config *common.ExtractionConfig) *ImageExtractor {
	return &ImageExtractor{
		ocrEnabled: config.OCREnabled,
		ocrCommand: config.OCRCommand,
		logger:     logger,
	}
}

func (e *ImageExtractor) Name() string    { return "image_extractor" }
func (e *ImageExtractor) Version() string { return "1.0.0" }

func (e *ImageExtractor) Formats() []models.SourceFormat {
	return []models.SourceFormat{models.FormatImage}
}

func (e *ImageExtractor) Extract(ctx context.Context, data []byte, filename string) (*models.ExtractedContent, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	info := &models.ImageInfo{
		Width:  cfg.Width,
		Height: cfg.Height,
		Format: format,
	}

	var warnings []string
	if e.ocrEnabled && e.ocrCommand != "" {
		text, err := e.runOCR(ctx, data, filename)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("ocr failed: %v", err))
			e.logger.Warn().Err(err).Str("filename", filename).Msg("OCR failed")
		} else {
			info.OCRText = text
		}
	}

	return &models.ExtractedContent{
		Format:   models.FormatImage,
		Image:    info,
		Warnings: warnings,
		Metadata: map[string]interface{}{
			"filename": filename,
			"width":    cfg.Width,
			"height":   cfg.Height,
		},
	}, nil
}

// runOCR shells out to the configured OCR binary, tesseract-style: input file
// argument, "stdout" output target.
func (e *ImageExtractor) runOCR(ctx context.Context, data []byte, filename string) (string, error) {
	tmp, err := os.CreateTemp("", "ocr-*"+filepath.Ext(filename))
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", err
	}
	tmp.Close()

	cmd := exec.CommandContext(ctx, e.ocrCommand, tmp.Name(), "stdout")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%s: %w", e.ocrCommand, err)
	}
	return strings.TrimSpace(string(out)), nil
}
