package raid

import (
	"fmt"
	"sort"

	"github.com/gofrs/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/openstack/ironic-sub002/pkg/utils"
)

// Allocate maps the requested logical disk specs onto concrete physical
// disks and returns the augmented specs in request order. It is a pure
// function: the inputs are never mutated and no I/O happens here.
//
// Specs are processed in three classes, in this order:
//  1. explicit disk set + explicit size, so their space is reserved
//     before any automatic matching;
//  2. no disk set, resolved by backtracking search over disk groups
//     homogeneous in (controller, media type, protocol, capacity);
//  3. explicit disk set + MAX size, resolved last so they claim
//     whatever space remains.
//
// A *ConstraintError is returned when no assignment can satisfy all
// specs with the present hardware.
func Allocate(specs []LogicalDiskSpec, disks []PhysicalDisk) (*AllocationPlan, error) {
	a := &allocator{
		disks:  map[string]*PhysicalDisk{},
		logger: log.WithField("Module", "RAIDAllocator"),
	}
	for i := range disks {
		d := disks[i]
		a.disks[d.ID] = &d
		a.diskOrder = append(a.diskOrder, d.ID)
	}
	return a.run(specs)
}

type allocator struct {
	disks     map[string]*PhysicalDisk
	diskOrder []string

	// deepest spec the search failed on, for the error message
	failedSpec *LogicalDiskSpec
	failedIdx  int

	logger *log.Entry
}

type diskGroupKey struct {
	controller string
	diskType   DiskType
	protocol   Protocol
	sizeBytes  int64
}

func (a *allocator) run(specs []LogicalDiskSpec) (*AllocationPlan, error) {
	a.logger.WithFields(log.Fields{"volumes": len(specs), "disks": len(a.disks)}).Debug("Allocating RAID volumes")

	volumes := make([]LogicalDiskSpec, len(specs))
	copy(volumes, specs)

	rootVolumes := 0
	for i := range volumes {
		level, err := NormalizeLevel(string(volumes[i].Level))
		if err != nil {
			return nil, &ConstraintError{Volume: volumes[i].VolumeName, Reason: err.Error()}
		}
		volumes[i].Level = level
		if volumes[i].VolumeName == "" {
			volumes[i].VolumeName = uuid.Must(uuid.NewV4()).String()
		}
		if volumes[i].IsRootVolume {
			rootVolumes++
		}
	}
	if rootVolumes > 1 {
		return nil, &ConstraintError{Reason: ErrDuplicateRootVolume.Error()}
	}

	free := map[string]int64{}
	for id, d := range a.disks {
		free[id] = d.SizeBytes
	}

	var explicitSized, auto, explicitMax []*LogicalDiskSpec
	for i := range volumes {
		v := &volumes[i]
		switch {
		case len(v.PhysicalDisks) == 0:
			auto = append(auto, v)
		case v.IsMaxSize():
			explicitMax = append(explicitMax, v)
		default:
			explicitSized = append(explicitSized, v)
		}
	}

	for _, v := range explicitSized {
		if err := a.resolveExplicit(v, free); err != nil {
			return nil, err
		}
	}

	if len(auto) > 0 {
		pool, depri := a.buildPool(explicitSized, explicitMax)
		finalFree, ok := a.search(auto, pool, depri, free)
		if !ok {
			failed := a.failedSpec
			if failed == nil {
				failed = auto[0]
			}
			return nil, &ConstraintError{
				Volume: failed.VolumeName,
				Reason: fmt.Sprintf("no disk assignment found for raid level %q", failed.Level),
			}
		}
		free = finalFree
	}

	for _, v := range explicitMax {
		if err := a.resolveExplicit(v, free); err != nil {
			return nil, err
		}
	}

	return &AllocationPlan{Volumes: volumes, FreeBytes: free}, nil
}

// buildPool returns the disk IDs available to the backtracking search
// plus the set of disks that should only be used as a last resort
// because a shared MAX volume still has to claim their leftover space.
func (a *allocator) buildPool(explicitSized, explicitMax []*LogicalDiskSpec) ([]string, map[string]bool) {
	reserved := map[string]bool{}
	for _, v := range explicitSized {
		if !v.ShareDisks {
			for _, id := range v.PhysicalDisks {
				reserved[id] = true
			}
		}
	}
	depri := map[string]bool{}
	for _, v := range explicitMax {
		for _, id := range v.PhysicalDisks {
			if v.ShareDisks {
				depri[id] = true
			} else {
				reserved[id] = true
			}
		}
	}

	pool := make([]string, 0, len(a.diskOrder))
	for _, id := range a.diskOrder {
		if !reserved[id] {
			pool = append(pool, id)
		}
	}
	return pool, depri
}

// resolveExplicit handles the specs naming their physical disks
// directly, both the fixed-size ones up front and the MAX ones at the
// end of the run.
func (a *allocator) resolveExplicit(v *LogicalDiskSpec, free map[string]int64) error {
	minFree := int64(-1)
	controller := ""
	for _, id := range v.PhysicalDisks {
		d, ok := a.disks[id]
		if !ok {
			return &ConstraintError{Volume: v.VolumeName, Reason: fmt.Sprintf("physical disk %q not found", id)}
		}
		if controller == "" {
			controller = d.Controller
		} else if controller != d.Controller {
			return &ConstraintError{Volume: v.VolumeName, Reason: "physical disks span multiple controllers"}
		}
		if minFree < 0 || free[id] < minFree {
			minFree = free[id]
		}
	}

	count := len(v.PhysicalDisks)
	if !ValidDiskCount(v.Level, count) {
		return &ConstraintError{
			Volume: v.VolumeName,
			Reason: fmt.Sprintf("%d disk(s) is invalid for raid level %q", count, v.Level),
		}
	}

	maxVol := MaxVolumeBytes(v.Level, count, minFree)
	size := utils.GbToByte(v.SizeGB)
	if v.IsMaxSize() {
		size = maxVol
	}
	if size <= 0 || size > maxVol {
		return &ConstraintError{
			Volume: v.VolumeName,
			Reason: fmt.Sprintf("requested %d bytes but at most %d bytes fit on the selected disks", size, maxVol),
		}
	}

	usage := PerDiskUsageBytes(v.Level, count, size)
	for _, id := range v.PhysicalDisks {
		free[id] -= usage
		if free[id] < 0 {
			return &ConstraintError{Volume: v.VolumeName, Reason: fmt.Sprintf("disk %q overcommitted", id)}
		}
	}

	v.Controller = controller
	v.SizeBytes = size
	setSpans(v, count)
	return nil
}

// search assigns disks to pending[0] and recurses on the rest. It is an
// explicit backtracking function returning ok/not-ok, so every decision
// point is directly testable. The first fully consistent assignment
// wins.
func (a *allocator) search(pending []*LogicalDiskSpec, pool []string, depri map[string]bool, free map[string]int64) (map[string]int64, bool) {
	if len(pending) == 0 {
		return free, true
	}
	v := pending[0]

	for _, candidates := range a.candidateLists(v, pool, depri, free) {
		sortByFree(candidates, free)

		maxCount := len(candidates)
		if m := MaxDisks(v.Level); m > 0 && m < maxCount {
			maxCount = m
		}
		for _, count := range countOrder(v, maxCount) {
			if !ValidDiskCount(v.Level, count) {
				continue
			}
			// the k disks with the least free space, keeping the
			// roomy ones for later specs
			selected := candidates[:count]
			minFree := free[selected[0]]

			maxVol := MaxVolumeBytes(v.Level, count, minFree)
			size := utils.GbToByte(v.SizeGB)
			if v.IsMaxSize() {
				size = maxVol
			}
			if size <= 0 || size > maxVol {
				continue
			}

			usage := PerDiskUsageBytes(v.Level, count, size)
			nextFree := copyLedger(free)
			overcommitted := false
			for _, id := range selected {
				nextFree[id] -= usage
				if nextFree[id] < 0 {
					overcommitted = true
					break
				}
			}
			if overcommitted {
				continue
			}

			if finalFree, ok := a.search(pending[1:], pool, depri, nextFree); ok {
				v.Controller = a.disks[selected[0]].Controller
				v.PhysicalDisks = append([]string{}, selected...)
				v.SizeBytes = size
				setSpans(v, count)
				return finalFree, true
			}
		}
	}

	if a.failedSpec == nil || len(pending) <= a.failedIdx {
		a.failedSpec = v
		a.failedIdx = len(pending)
	}
	return nil, false
}

// candidateLists groups the pool by (controller, type, protocol,
// capacity) after applying the spec's filters. Lists without
// de-prioritized disks come first; a list containing them is only
// offered once every clean list has failed.
func (a *allocator) candidateLists(v *LogicalDiskSpec, pool []string, depri map[string]bool, free map[string]int64) [][]string {
	groups := map[diskGroupKey][]string{}
	var keys []diskGroupKey
	for _, id := range pool {
		d := a.disks[id]
		if v.DiskType != "" && d.Type != v.DiskType {
			continue
		}
		if v.Protocol != "" && d.Protocol != v.Protocol {
			continue
		}
		if free[id] < StripeSizeBytes {
			continue
		}
		key := diskGroupKey{d.Controller, d.Type, d.Protocol, d.SizeBytes}
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], id)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].controller != keys[j].controller {
			return keys[i].controller < keys[j].controller
		}
		if keys[i].diskType != keys[j].diskType {
			return keys[i].diskType < keys[j].diskType
		}
		if keys[i].protocol != keys[j].protocol {
			return keys[i].protocol < keys[j].protocol
		}
		return keys[i].sizeBytes < keys[j].sizeBytes
	})

	var clean, mixed [][]string
	for _, key := range keys {
		group := groups[key]
		primary := make([]string, 0, len(group))
		hasDepri := false
		for _, id := range group {
			if depri[id] {
				hasDepri = true
			} else {
				primary = append(primary, id)
			}
		}
		if len(primary) > 0 {
			clean = append(clean, primary)
		}
		if hasDepri {
			mixed = append(mixed, append([]string{}, group...))
		}
	}
	return append(clean, mixed...)
}

// countOrder yields the disk counts to try. Fixed-size volumes try the
// fewest disks first to keep spare disks available; MAX volumes try the
// most disks first so they end up as large as the hardware allows.
func countOrder(v *LogicalDiskSpec, maxCount int) []int {
	min := MinDisks(v.Level)
	var counts []int
	if v.IsMaxSize() {
		for c := maxCount; c >= min; c-- {
			counts = append(counts, c)
		}
	} else {
		for c := min; c <= maxCount; c++ {
			counts = append(counts, c)
		}
	}
	return counts
}

// setSpans fills the span geometry. RAID 1+0 is left unresolved since
// the controllers calculate it themselves.
func setSpans(v *LogicalDiskSpec, diskCount int) {
	if v.Level == Level10 {
		v.SpanDepth, v.SpanLength = 0, 0
		return
	}
	spans := Spans(v.Level, diskCount)
	v.SpanDepth = spans
	v.SpanLength = diskCount / spans
}

func sortByFree(ids []string, free map[string]int64) {
	sort.Slice(ids, func(i, j int) bool {
		if free[ids[i]] != free[ids[j]] {
			return free[ids[i]] < free[ids[j]]
		}
		return ids[i] < ids[j]
	})
}

func copyLedger(free map[string]int64) map[string]int64 {
	next := make(map[string]int64, len(free))
	for id, b := range free {
		next[id] = b
	}
	return next
}
