package blob

import (
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/interfaces"
)

// NewStore builds the configured blob backend. Only the local filesystem
// backend is implemented; "s3" is reserved in the config schema and rejected
// here with a clear message rather than a silent fallback.
func NewStore(logger arbor.ILogger, config *common.BlobConfig) (interfaces.BlobStore, error) {
	switch strings.ToLower(config.Backend) {
	case "", "local":
		return NewLocalStore(logger, config)
	case "s3":
		return nil, fmt.Errorf("blob backend %q is not implemented, use \"local\"", config.Backend)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", config.Backend)
	}
}

// DocumentKey builds the canonical object key for an uploaded version.
func DocumentKey(documentID string, versionNumber int, filename string) string {
	return fmt.Sprintf("documents/%s/v%d/%s", documentID, versionNumber, common.SanitizeFilename(filename))
}

// ArtifactKey builds the object key for a derived artifact of a version,
// kept under artifacts/ so originals and derivations never collide.
func ArtifactKey(documentID string, versionNumber int, name string) string {
	return fmt.Sprintf("documents/%s/v%d/artifacts/%s", documentID, versionNumber, common.SanitizeFilename(name))
}
