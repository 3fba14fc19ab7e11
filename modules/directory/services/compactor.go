package services

import (
	"context"
	"errors"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/orgstack/directory/modules/directory/domain/events"
	"github.com/orgstack/directory/pkg/composables"
	"github.com/orgstack/directory/pkg/eventbus"
)

type CompactorOptions struct {
	Enabled   bool
	Interval  time.Duration
	Retention time.Duration
	BatchSize int

	Logger *logrus.Entry
}

func (o *CompactorOptions) setDefaults() {
	if o.Interval == 0 {
		o.Interval = 24 * time.Hour
	}
	if o.Retention == 0 {
		o.Retention = 30 * 24 * time.Hour
	}
	if o.BatchSize == 0 {
		o.BatchSize = 100
	}
	if o.Logger == nil {
		nop := logrus.New()
		nop.SetOutput(io.Discard)
		o.Logger = logrus.NewEntry(nop)
	}
}

// Compactor permanently removes departments that have been soft-deleted for
// longer than the retention window. Each purged department's tombstoned
// segment is spliced out of every surviving descendant path so the subtree
// reattaches to the nearest live ancestor. Orphaned locations and positions
// past retention are hard-deleted in the same pass.
type Compactor struct {
	departments DepartmentRepository
	locations   LocationRepository
	positions   PositionRepository
	bus         eventbus.EventBus
	opts        CompactorOptions
}

func NewCompactor(
	departments DepartmentRepository,
	locations LocationRepository,
	positions PositionRepository,
	bus eventbus.EventBus,
	opts CompactorOptions,
) *Compactor {
	opts.setDefaults()
	return &Compactor{
		departments: departments,
		locations:   locations,
		positions:   positions,
		bus:         bus,
		opts:        opts,
	}
}

func (c *Compactor) Run(ctx context.Context) error {
	if !c.opts.Enabled {
		return nil
	}

	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if _, err := c.CompactOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			c.opts.Logger.WithError(err).Warn("directory: compaction tick failed")
		}
	}
}

type CompactionReport struct {
	PurgedDepartmentIDs   []uuid.UUID
	RelinkedDescendantIDs []uuid.UUID
	PurgedLocations       int64
	PurgedPositions       int64
}

// CompactOnce runs one compaction batch in a single transaction. An error
// rolls everything back; the next tick retries the same rows.
func (c *Compactor) CompactOnce(ctx context.Context) (*CompactionReport, error) {
	cutoff := time.Now().UTC().Add(-c.opts.Retention)

	report, err := composables.InTxResult(ctx, func(txCtx context.Context) (*CompactionReport, error) {
		expired, err := c.departments.SelectSoftDeletedBefore(txCtx, cutoff, c.opts.BatchSize)
		if err != nil {
			return nil, err
		}

		report := &CompactionReport{}
		if len(expired) > 0 {
			ids := make([]uuid.UUID, 0, len(expired))
			for _, dept := range expired {
				ids = append(ids, dept.ID)
			}

			if err := c.departments.DeleteLinksForDepartments(txCtx, ids); err != nil {
				return nil, err
			}

			// Deepest first, so splicing one segment never invalidates the
			// stored path of another expired ancestor in the same batch.
			sort.Slice(expired, func(i, j int) bool { return expired[i].Depth > expired[j].Depth })
			for _, dept := range expired {
				relinked, err := c.departments.SpliceOutDeleted(txCtx, dept)
				if err != nil {
					return nil, err
				}
				report.RelinkedDescendantIDs = append(report.RelinkedDescendantIDs, relinked...)
			}

			if err := c.departments.DeleteHard(txCtx, ids); err != nil {
				return nil, err
			}
			report.PurgedDepartmentIDs = ids
		}

		purgedLocations, err := c.locations.DeleteHardUnlinkedBefore(txCtx, cutoff)
		if err != nil {
			return nil, err
		}
		report.PurgedLocations = purgedLocations

		purgedPositions, err := c.positions.DeleteHardUnlinkedBefore(txCtx, cutoff)
		if err != nil {
			return nil, err
		}
		report.PurgedPositions = purgedPositions

		return report, nil
	})
	recordCompactionRun(err)
	if err != nil {
		return nil, err
	}

	recordCompactionPurged("department", len(report.PurgedDepartmentIDs))
	recordCompactionPurged("location", int(report.PurgedLocations))
	recordCompactionPurged("position", int(report.PurgedPositions))

	if len(report.PurgedDepartmentIDs) > 0 {
		if c.bus != nil {
			// Relinked descendants are affected too: their paths changed, so
			// cached subtrees containing them must be evicted.
			affected := make([]uuid.UUID, 0, len(report.PurgedDepartmentIDs)+len(report.RelinkedDescendantIDs))
			affected = append(affected, report.PurgedDepartmentIDs...)
			affected = append(affected, report.RelinkedDescendantIDs...)
			c.bus.Publish(events.NewDirectoryEventV1(
				events.ChangeDepartmentCompacted,
				report.PurgedDepartmentIDs[0],
				affected...,
			))
		}
		c.opts.Logger.WithFields(logrus.Fields{
			"departments": len(report.PurgedDepartmentIDs),
			"descendants": len(report.RelinkedDescendantIDs),
			"locations":   report.PurgedLocations,
			"positions":   report.PurgedPositions,
		}).Info("directory: compaction batch committed")
	}
	return report, nil
}
