package engine

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praeco/internal/common"
	"github.com/ternarybob/praeco/internal/interfaces"
)

// NewEngine creates the configured engine provider. The subprocess CLI is
// the default; the direct API provider exists for environments without the
// engine binary installed.
func NewEngine(config common.EngineConfig, logger arbor.ILogger) (interfaces.Engine, error) {
	switch config.Provider {
	case "", "cli":
		cli := NewCLIEngine(config, logger)
		// An unresolvable binary is fatal at startup, not at first task.
		if err := cli.Verify(); err != nil {
			return nil, err
		}
		return cli, nil
	case "api":
		return NewAPIEngine(config, logger)
	default:
		return nil, fmt.Errorf("unknown engine provider: %s", config.Provider)
	}
}
