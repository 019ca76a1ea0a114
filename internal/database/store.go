package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/railbook/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/railbook/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/railbook/pkg/ledger"
)

// Store backends selectable from the command line.
const (
	BackendGorm = "gorm"
	BackendPgx  = "pgx"
)

// ErrUnsupportedBackend is returned for an unknown backend name or a backend
// that cannot serve the resolved driver.
var ErrUnsupportedBackend = errors.New("unsupported store backend")

// StoreOptions selects how OpenStore connects.
type StoreOptions struct {
	Backend     string
	DatabaseURL string
	AutoMigrate bool
}

// OpenStore connects the requested backend and returns it as a ledger.Store.
// The pgx backend only speaks PostgreSQL; gorm serves every supported driver.
func OpenStore(ctx context.Context, options StoreOptions) (ledger.Store, func() error, error) {
	backend := strings.ToLower(strings.TrimSpace(options.Backend))
	if backend == "" {
		backend = BackendGorm
	}
	switch backend {
	case BackendGorm:
		db, closeFn, _, err := Open(ctx, options.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if options.AutoMigrate {
			if err := Migrate(db); err != nil {
				_ = closeFn()
				return nil, nil, err
			}
		}
		return gormstore.New(db), closeFn, nil
	case BackendPgx:
		target, err := Resolve(options.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if target.Driver != DriverPostgres {
			return nil, nil, fmt.Errorf("%w: %s cannot serve %s", ErrUnsupportedBackend, backend, target.Driver)
		}
		db, err := pgstore.Open(ctx, target.DSN)
		if err != nil {
			return nil, nil, err
		}
		store := pgstore.New(db)
		if options.AutoMigrate {
			if err := store.Migrate(ctx); err != nil {
				_ = db.Close()
				return nil, nil, err
			}
		}
		return store, db.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, options.Backend)
	}
}
