package audit

import (
	"fmt"

	"github.com/abracadabra-mc/abracadabra/hub/config"
)

// New creates a Store based on the configured audit driver.
func New(cfg config.AuditConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgres(cfg.DSN)
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "none", "":
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("unsupported audit driver: %q", cfg.Driver)
	}
}
