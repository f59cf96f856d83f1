package eventbus

import (
	"github.com/iris-mcp/iris/internal/common/config"
	"github.com/iris-mcp/iris/internal/common/logger"
)

// New returns a NATSBus when cfg.URL is set, otherwise an in-process
// MemoryBus (spec §4.8's "empty URL means the in-memory bus is used").
func New(cfg config.NATSConfig, log *logger.Logger) (Bus, error) {
	if cfg.URL == "" {
		return NewMemoryBus(log), nil
	}
	return NewNATSBus(cfg, log)
}
