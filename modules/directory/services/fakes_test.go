package services_test

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/orgstack/directory/modules/directory/domain/department"
	"github.com/orgstack/directory/modules/directory/domain/location"
	"github.com/orgstack/directory/modules/directory/domain/position"
	"github.com/orgstack/directory/modules/directory/domain/treepath"
	"github.com/orgstack/directory/pkg/composables"
)

// stubTx satisfies the transaction interfaces without a database; the fake
// repositories below never touch it.
type stubTx struct{ pgx.Tx }

func txContext() context.Context {
	return composables.WithTx(context.Background(), stubTx{})
}

// fakeStore is shared in-memory state behind the three fake repositories.
type fakeStore struct {
	mu            sync.Mutex
	departments   map[uuid.UUID]*department.Department
	locations     map[uuid.UUID]*location.Location
	positions     map[uuid.UUID]*position.Position
	locationLinks []department.LocationLink
	positionLinks []department.PositionLink
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		departments: make(map[uuid.UUID]*department.Department),
		locations:   make(map[uuid.UUID]*location.Location),
		positions:   make(map[uuid.UUID]*position.Position),
	}
}

func (s *fakeStore) deptCopy(d *department.Department) *department.Department {
	c := *d
	return &c
}

type fakeDepartments struct{ s *fakeStore }
type fakeLocations struct{ s *fakeStore }
type fakePositions struct{ s *fakeStore }

func (r fakeDepartments) GetByID(_ context.Context, id uuid.UUID) (*department.Department, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.departments[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return r.s.deptCopy(d), nil
}

func (r fakeDepartments) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*department.Department, error) {
	return r.GetByID(ctx, id)
}

func (r fakeDepartments) LockDescendants(context.Context, treepath.Path) error { return nil }

func (r fakeDepartments) Insert(_ context.Context, dept *department.Department) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.departments {
		if existing.IsActive && existing.Identifier.String() == dept.Identifier.String() {
			return &pgconn.PgError{Code: "23505", ConstraintName: "departments_identifier_active_key"}
		}
	}
	r.s.departments[dept.ID] = r.s.deptCopy(dept)
	return nil
}

func (r fakeDepartments) Update(_ context.Context, dept *department.Department) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.departments[dept.ID]; !ok {
		return pgx.ErrNoRows
	}
	r.s.departments[dept.ID] = r.s.deptCopy(dept)
	return nil
}

func (r fakeDepartments) RewriteDescendantPaths(_ context.Context, oldPrefix, newPrefix treepath.Path, excludeID uuid.UUID, depthDelta int16) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var affected []uuid.UUID
	for _, d := range r.s.departments {
		if d.ID == excludeID || !d.Path.IsDescendantOf(oldPrefix) {
			continue
		}
		rebased, err := d.Path.Rebase(oldPrefix, newPrefix)
		if err != nil {
			return nil, err
		}
		d.Path = rebased
		d.Depth -= depthDelta
		affected = append(affected, d.ID)
	}
	return affected, nil
}

func (r fakeDepartments) ListSubtree(_ context.Context, prefix treepath.Path) ([]*department.Department, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*department.Department
	for _, d := range r.s.departments {
		if d.IsActive && d.Path.IsDescendantOf(prefix) {
			out = append(out, r.s.deptCopy(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path.String() < out[j].Path.String() })
	return out, nil
}

func (r fakeDepartments) ListAncestorsOf(_ context.Context, path treepath.Path) ([]*department.Department, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*department.Department
	for _, d := range r.s.departments {
		if d.IsActive && d.Path.String() != path.String() && path.IsDescendantOf(d.Path) {
			out = append(out, r.s.deptCopy(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Depth < out[j].Depth })
	return out, nil
}

func (r fakeDepartments) ListRoots(context.Context) ([]*department.Department, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*department.Department
	for _, d := range r.s.departments {
		if d.IsActive && d.Depth == 0 {
			out = append(out, r.s.deptCopy(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path.String() < out[j].Path.String() })
	return out, nil
}

func (r fakeDepartments) ListByLocation(_ context.Context, locationID uuid.UUID) ([]*department.Department, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*department.Department
	for _, link := range r.s.locationLinks {
		if link.LocationID != locationID {
			continue
		}
		if d, ok := r.s.departments[link.DepartmentID]; ok && d.IsActive {
			out = append(out, r.s.deptCopy(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path.String() < out[j].Path.String() })
	return out, nil
}

func (r fakeDepartments) ListChildren(_ context.Context, parentID uuid.UUID, limit, offset int) ([]department.ChildNode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var children []*department.Department
	for _, d := range r.s.departments {
		if d.IsActive && d.ParentID != nil && *d.ParentID == parentID {
			children = append(children, r.s.deptCopy(d))
		}
	}
	sort.Slice(children, func(i, j int) bool { return children[i].CreatedAt.Before(children[j].CreatedAt) })
	if offset >= len(children) {
		return nil, nil
	}
	children = children[offset:]
	if len(children) > limit {
		children = children[:limit]
	}
	out := make([]department.ChildNode, 0, len(children))
	for _, child := range children {
		hasChildren := false
		for _, d := range r.s.departments {
			if d.IsActive && d.ParentID != nil && *d.ParentID == child.ID {
				hasChildren = true
				break
			}
		}
		out = append(out, department.ChildNode{Department: child, HasChildren: hasChildren})
	}
	return out, nil
}

func (r fakeDepartments) ListTopByPositions(_ context.Context, limit int) ([]department.PositionCount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	counts := make(map[uuid.UUID]int64)
	for _, link := range r.s.positionLinks {
		counts[link.DepartmentID]++
	}
	var out []department.PositionCount
	for id, n := range counts {
		if d, ok := r.s.departments[id]; ok && d.IsActive {
			out = append(out, department.PositionCount{Department: r.s.deptCopy(d), Positions: n})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Positions != out[j].Positions {
			return out[i].Positions > out[j].Positions
		}
		return out[i].Department.Path.String() < out[j].Department.Path.String()
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r fakeDepartments) InsertLocationLinks(_ context.Context, links []department.LocationLink) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.locationLinks = append(r.s.locationLinks, links...)
	return nil
}

func (r fakeDepartments) DeleteLocationLinks(_ context.Context, departmentID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	kept := r.s.locationLinks[:0]
	for _, link := range r.s.locationLinks {
		if link.DepartmentID != departmentID {
			kept = append(kept, link)
		}
	}
	r.s.locationLinks = kept
	return nil
}

func (r fakeDepartments) InsertPositionLinks(_ context.Context, links []department.PositionLink) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.positionLinks = append(r.s.positionLinks, links...)
	return nil
}

func (r fakeDepartments) SelectSoftDeletedBefore(_ context.Context, cutoff time.Time, limit int) ([]*department.Department, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*department.Department
	for _, d := range r.s.departments {
		if !d.IsActive && d.DeletedAt != nil && d.DeletedAt.Before(cutoff) {
			out = append(out, r.s.deptCopy(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path.String() < out[j].Path.String() })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r fakeDepartments) SpliceOutDeleted(_ context.Context, dept *department.Department) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	live := dept.Path.StripTombstone()
	index := len(live.Segments()) - 1
	var relinked []uuid.UUID
	for _, d := range r.s.departments {
		if d.ID == dept.ID || d.Path.String() == live.String() {
			continue
		}
		if d.ParentID != nil && *d.ParentID == dept.ID {
			d.ParentID = dept.ParentID
		}
		if !d.Path.IsDescendantOf(live) {
			continue
		}
		spliced, err := d.Path.WithoutSegment(index)
		if err != nil {
			return relinked, err
		}
		d.Path = spliced
		d.Depth--
		relinked = append(relinked, d.ID)
	}
	return relinked, nil
}

func (r fakeDepartments) DeleteLinksForDepartments(_ context.Context, ids []uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	drop := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	keptLoc := r.s.locationLinks[:0]
	for _, link := range r.s.locationLinks {
		if !drop[link.DepartmentID] {
			keptLoc = append(keptLoc, link)
		}
	}
	r.s.locationLinks = keptLoc
	keptPos := r.s.positionLinks[:0]
	for _, link := range r.s.positionLinks {
		if !drop[link.DepartmentID] {
			keptPos = append(keptPos, link)
		}
	}
	r.s.positionLinks = keptPos
	return nil
}

func (r fakeDepartments) DeleteHard(_ context.Context, ids []uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, id := range ids {
		delete(r.s.departments, id)
	}
	return nil
}

func (r fakeLocations) GetByID(_ context.Context, id uuid.UUID) (*location.Location, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	loc, ok := r.s.locations[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	c := *loc
	return &c, nil
}

func (r fakeLocations) GetByIDs(_ context.Context, ids []uuid.UUID) ([]*location.Location, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*location.Location
	for _, id := range ids {
		if loc, ok := r.s.locations[id]; ok {
			c := *loc
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r fakeLocations) Insert(_ context.Context, loc *location.Location) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *loc
	r.s.locations[loc.ID] = &c
	return nil
}

func (r fakeLocations) Search(_ context.Context, f location.Filter) ([]*location.Location, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	linked := make(map[uuid.UUID]bool)
	for _, link := range r.s.locationLinks {
		for _, deptID := range f.DepartmentIDs {
			if link.DepartmentID == deptID {
				linked[link.LocationID] = true
			}
		}
	}
	var out []*location.Location
	for _, loc := range r.s.locations {
		if f.Search != "" && !strings.Contains(strings.ToLower(loc.Name.String()), strings.ToLower(f.Search)) {
			continue
		}
		if f.IsActive != nil && loc.IsActive != *f.IsActive {
			continue
		}
		if len(f.DepartmentIDs) > 0 && !linked[loc.ID] {
			continue
		}
		c := *loc
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsActive != out[j].IsActive {
			return out[i].IsActive
		}
		return out[i].Name.String() < out[j].Name.String()
	})
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r fakeLocations) FindSoleLinkedTo(_ context.Context, departmentID uuid.UUID) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []uuid.UUID
	for _, link := range r.s.locationLinks {
		if link.DepartmentID != departmentID {
			continue
		}
		loc, ok := r.s.locations[link.LocationID]
		if !ok || !loc.IsActive {
			continue
		}
		sole := true
		for _, other := range r.s.locationLinks {
			if other.LocationID != link.LocationID || other.DepartmentID == departmentID {
				continue
			}
			if d, ok := r.s.departments[other.DepartmentID]; ok && d.IsActive {
				sole = false
				break
			}
		}
		if sole {
			out = append(out, link.LocationID)
		}
	}
	return out, nil
}

func (r fakeLocations) SoftDeleteByIDs(_ context.Context, ids []uuid.UUID, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, id := range ids {
		if loc, ok := r.s.locations[id]; ok {
			loc.SoftDelete(now)
		}
	}
	return nil
}

func (r fakeLocations) DeleteHardUnlinkedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	linked := make(map[uuid.UUID]bool)
	for _, link := range r.s.locationLinks {
		linked[link.LocationID] = true
	}
	var n int64
	for id, loc := range r.s.locations {
		if !loc.IsActive && loc.DeletedAt != nil && loc.DeletedAt.Before(cutoff) && !linked[id] {
			delete(r.s.locations, id)
			n++
		}
	}
	return n, nil
}

func (r fakePositions) GetByID(_ context.Context, id uuid.UUID) (*position.Position, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	pos, ok := r.s.positions[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	c := *pos
	return &c, nil
}

func (r fakePositions) Insert(_ context.Context, pos *position.Position) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *pos
	r.s.positions[pos.ID] = &c
	return nil
}

func (r fakePositions) FindSoleLinkedTo(_ context.Context, departmentID uuid.UUID) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []uuid.UUID
	for _, link := range r.s.positionLinks {
		if link.DepartmentID != departmentID {
			continue
		}
		pos, ok := r.s.positions[link.PositionID]
		if !ok || !pos.IsActive {
			continue
		}
		sole := true
		for _, other := range r.s.positionLinks {
			if other.PositionID != link.PositionID || other.DepartmentID == departmentID {
				continue
			}
			if d, ok := r.s.departments[other.DepartmentID]; ok && d.IsActive {
				sole = false
				break
			}
		}
		if sole {
			out = append(out, link.PositionID)
		}
	}
	return out, nil
}

func (r fakePositions) SoftDeleteByIDs(_ context.Context, ids []uuid.UUID, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, id := range ids {
		if pos, ok := r.s.positions[id]; ok {
			pos.SoftDelete(now)
		}
	}
	return nil
}

func (r fakePositions) DeleteHardUnlinkedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	linked := make(map[uuid.UUID]bool)
	for _, link := range r.s.positionLinks {
		linked[link.PositionID] = true
	}
	var n int64
	for id, pos := range r.s.positions {
		if !pos.IsActive && pos.DeletedAt != nil && pos.DeletedAt.Before(cutoff) && !linked[id] {
			delete(r.s.positions, id)
			n++
		}
	}
	return n, nil
}
