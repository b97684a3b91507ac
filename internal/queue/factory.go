package queue

import (
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/interfaces"
)

// NewManager builds the configured queue backend. Badger is the embedded
// default; Redis serves multi-node deployments.
func NewManager(logger arbor.ILogger, config *common.QueueConfig) (interfaces.QueueManager, error) {
	switch strings.ToLower(config.Backend) {
	case "", "badger":
		return NewBadgerQueue(logger, config)
	case "redis":
		return NewRedisQueue(logger, config)
	default:
		return nil, fmt.Errorf("unknown queue backend %q", config.Backend)
	}
}
