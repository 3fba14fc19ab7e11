package directory

import (
	"context"
	"embed"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/orgstack/directory/modules/directory/infrastructure/persistence"
	"github.com/orgstack/directory/modules/directory/services"
	"github.com/orgstack/directory/pkg/configuration"
	"github.com/orgstack/directory/pkg/eventbus"
)

//go:embed infrastructure/persistence/schema/directory-schema.sql
var migrationFiles embed.FS

// Module bundles the directory services over one shared repository set.
type Module struct {
	Directory *services.DirectoryService
	Locations *services.LocationService
	Positions *services.PositionService
	Compactor *services.Compactor
}

func NewModule(bus eventbus.EventBus, log *logrus.Logger, compaction configuration.CompactionOptions) *Module {
	departments := persistence.NewDepartmentRepository()
	locations := persistence.NewLocationRepository()
	positions := persistence.NewPositionRepository()

	return &Module{
		Directory: services.NewDirectoryService(departments, locations, positions, bus, log),
		Locations: services.NewLocationService(locations, bus, log),
		Positions: services.NewPositionService(positions, departments, bus, log),
		Compactor: services.NewCompactor(departments, locations, positions, bus, services.CompactorOptions{
			Enabled:   compaction.Enabled,
			Interval:  compaction.Interval,
			Retention: compaction.Retention,
			BatchSize: compaction.BatchSize,
			Logger:    log.WithField("component", "compactor"),
		}),
	}
}

func (m *Module) Name() string {
	return "directory"
}

// RunMigrations applies the embedded schema. Statements are idempotent, so
// reapplying on startup is safe.
func (m *Module) RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	schema, err := migrationFiles.ReadFile("infrastructure/persistence/schema/directory-schema.sql")
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, string(schema))
	return err
}
