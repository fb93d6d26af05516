package raid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gib = int64(1024 * 1024 * 1024)

func ssdDisks(controller string, count int, sizeBytes int64) []PhysicalDisk {
	var disks []PhysicalDisk
	for i := 0; i < count; i++ {
		disks = append(disks, PhysicalDisk{
			ID:         string(rune('a'+i)) + "-ssd",
			Controller: controller,
			SizeBytes:  sizeBytes,
			Type:       DiskTypeSSD,
			Protocol:   ProtocolSATA,
		})
	}
	return disks
}

func TestAllocate_MaxRAID0UsesEveryDisk(t *testing.T) {
	disks := ssdDisks("RAID.Integrated.1-1", 4, 100*gib)
	specs := []LogicalDiskSpec{
		{VolumeName: "scratch", Level: Level0, SizeGB: MaxSizeGB},
	}

	plan, err := Allocate(specs, disks)
	require.NoError(t, err)
	require.Len(t, plan.Volumes, 1)

	v := plan.Volumes[0]
	assert.Len(t, v.PhysicalDisks, 4)
	assert.Equal(t, 400*gib, v.SizeBytes)
	assert.Equal(t, "RAID.Integrated.1-1", v.Controller)
	assert.Equal(t, 1, v.SpanDepth)
	assert.Equal(t, 4, v.SpanLength)
	for _, d := range disks {
		assert.Equal(t, int64(0), plan.FreeBytes[d.ID])
	}
}

func TestAllocate_MirrorLeavesFreeSpace(t *testing.T) {
	disks := []PhysicalDisk{
		{ID: "hdd-0", Controller: "c0", SizeBytes: 50 * gib, Type: DiskTypeHDD, Protocol: ProtocolSAS},
		{ID: "hdd-1", Controller: "c0", SizeBytes: 50 * gib, Type: DiskTypeHDD, Protocol: ProtocolSAS},
	}
	specs := []LogicalDiskSpec{
		{VolumeName: "os", Level: Level1, SizeGB: 40, IsRootVolume: true},
	}

	plan, err := Allocate(specs, disks)
	require.NoError(t, err)

	v := plan.Volumes[0]
	assert.ElementsMatch(t, []string{"hdd-0", "hdd-1"}, v.PhysicalDisks)
	assert.Equal(t, 40*gib, v.SizeBytes)
	assert.Equal(t, 10*gib, plan.FreeBytes["hdd-0"])
	assert.Equal(t, 10*gib, plan.FreeBytes["hdd-1"])
}

func TestAllocate_NotEnoughDisksForLevel(t *testing.T) {
	disks := ssdDisks("c0", 2, 100*gib)
	specs := []LogicalDiskSpec{
		{VolumeName: "data", Level: Level5, SizeGB: 10},
	}

	_, err := Allocate(specs, disks)
	require.Error(t, err)
	assert.True(t, IsConstraintError(err))
}

func TestAllocate_ExplicitDisksReservedBeforeAutomatic(t *testing.T) {
	disks := []PhysicalDisk{
		{ID: "d1", Controller: "c0", SizeBytes: 100 * gib, Type: DiskTypeHDD, Protocol: ProtocolSAS},
		{ID: "d2", Controller: "c0", SizeBytes: 100 * gib, Type: DiskTypeHDD, Protocol: ProtocolSAS},
		{ID: "d3", Controller: "c0", SizeBytes: 100 * gib, Type: DiskTypeHDD, Protocol: ProtocolSAS},
	}
	// the automatic spec comes first in request order, the explicit one
	// still gets its disks
	specs := []LogicalDiskSpec{
		{VolumeName: "auto", Level: LevelJBOD, SizeGB: 10},
		{VolumeName: "pinned", Level: Level1, SizeGB: 20, PhysicalDisks: []string{"d1", "d2"}},
	}

	plan, err := Allocate(specs, disks)
	require.NoError(t, err)

	assert.Equal(t, []string{"d3"}, plan.Volumes[0].PhysicalDisks)
	assert.Equal(t, []string{"d1", "d2"}, plan.Volumes[1].PhysicalDisks)
	assert.Equal(t, 80*gib, plan.FreeBytes["d1"])
}

func TestAllocate_SharedMaxClaimsRemainder(t *testing.T) {
	disks := []PhysicalDisk{
		{ID: "d1", Controller: "c0", SizeBytes: 100 * gib, Type: DiskTypeSSD, Protocol: ProtocolSATA},
		{ID: "d2", Controller: "c0", SizeBytes: 100 * gib, Type: DiskTypeSSD, Protocol: ProtocolSATA},
	}
	specs := []LogicalDiskSpec{
		{VolumeName: "rest", Level: Level1, SizeGB: MaxSizeGB, PhysicalDisks: []string{"d1", "d2"}, ShareDisks: true},
		{VolumeName: "os", Level: Level1, SizeGB: 40},
	}

	plan, err := Allocate(specs, disks)
	require.NoError(t, err)

	// the automatic volume lands first, the MAX volume gets what is left
	assert.Equal(t, 40*gib, plan.Volumes[1].SizeBytes)
	assert.Equal(t, 60*gib, plan.Volumes[0].SizeBytes)
	assert.Equal(t, int64(0), plan.FreeBytes["d1"])
	assert.Equal(t, int64(0), plan.FreeBytes["d2"])
}

func TestAllocate_BacktracksWhenLaterSpecNeedsSpace(t *testing.T) {
	disks := ssdDisks("c0", 3, 10*gib)
	specs := []LogicalDiskSpec{
		{VolumeName: "big", Level: Level0, SizeGB: MaxSizeGB},
		{VolumeName: "small", Level: LevelJBOD, SizeGB: 5},
	}

	plan, err := Allocate(specs, disks)
	require.NoError(t, err)

	// the MAX stripe would love all 3 disks, but then nothing is left
	// for the JBOD volume; the search has to settle for 2
	assert.Len(t, plan.Volumes[0].PhysicalDisks, 2)
	assert.Equal(t, 20*gib, plan.Volumes[0].SizeBytes)
	assert.Len(t, plan.Volumes[1].PhysicalDisks, 1)
	assert.Equal(t, 5*gib, plan.Volumes[1].SizeBytes)
}

func TestAllocate_LevelAliasAndGeneratedName(t *testing.T) {
	disks := ssdDisks("c0", 4, 100*gib)
	specs := []LogicalDiskSpec{
		{Level: "10", SizeGB: 50},
	}

	plan, err := Allocate(specs, disks)
	require.NoError(t, err)

	v := plan.Volumes[0]
	assert.Equal(t, Level10, v.Level)
	assert.NotEmpty(t, v.VolumeName)
	// the controller computes the 1+0 span geometry itself
	assert.Equal(t, 0, v.SpanDepth)
	assert.Equal(t, 0, v.SpanLength)
	assert.Len(t, v.PhysicalDisks, 4)
}

func TestAllocate_ConstraintFailures(t *testing.T) {
	disks := []PhysicalDisk{
		{ID: "d1", Controller: "c0", SizeBytes: 100 * gib, Type: DiskTypeHDD, Protocol: ProtocolSAS},
		{ID: "d2", Controller: "c1", SizeBytes: 100 * gib, Type: DiskTypeHDD, Protocol: ProtocolSAS},
	}

	tests := []struct {
		name  string
		specs []LogicalDiskSpec
	}{
		{
			name: "two root volumes",
			specs: []LogicalDiskSpec{
				{Level: LevelJBOD, SizeGB: 1, IsRootVolume: true},
				{Level: LevelJBOD, SizeGB: 1, IsRootVolume: true},
			},
		},
		{
			name:  "unknown physical disk",
			specs: []LogicalDiskSpec{{Level: LevelJBOD, SizeGB: 1, PhysicalDisks: []string{"ghost"}}},
		},
		{
			name:  "disks on different controllers",
			specs: []LogicalDiskSpec{{Level: Level1, SizeGB: 1, PhysicalDisks: []string{"d1", "d2"}}},
		},
		{
			name:  "size exceeds the selected disks",
			specs: []LogicalDiskSpec{{Level: LevelJBOD, SizeGB: 500, PhysicalDisks: []string{"d1"}}},
		},
		{
			name:  "unknown raid level",
			specs: []LogicalDiskSpec{{Level: "7", SizeGB: 1}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Allocate(tt.specs, disks)
			require.Error(t, err)
			assert.True(t, IsConstraintError(err))
		})
	}
}

func TestAllocate_InputSpecsNotMutated(t *testing.T) {
	disks := ssdDisks("c0", 2, 100*gib)
	specs := []LogicalDiskSpec{
		{VolumeName: "os", Level: Level1, SizeGB: 10},
	}

	_, err := Allocate(specs, disks)
	require.NoError(t, err)

	assert.Empty(t, specs[0].PhysicalDisks)
	assert.Empty(t, specs[0].Controller)
	assert.Equal(t, int64(0), specs[0].SizeBytes)
}

func TestAllocate_TypeAndProtocolFilters(t *testing.T) {
	disks := []PhysicalDisk{
		{ID: "hdd-0", Controller: "c0", SizeBytes: 100 * gib, Type: DiskTypeHDD, Protocol: ProtocolSAS},
		{ID: "hdd-1", Controller: "c0", SizeBytes: 100 * gib, Type: DiskTypeHDD, Protocol: ProtocolSAS},
		{ID: "ssd-0", Controller: "c0", SizeBytes: 100 * gib, Type: DiskTypeSSD, Protocol: ProtocolSATA},
		{ID: "ssd-1", Controller: "c0", SizeBytes: 100 * gib, Type: DiskTypeSSD, Protocol: ProtocolSATA},
	}
	specs := []LogicalDiskSpec{
		{VolumeName: "fast", Level: Level1, SizeGB: 10, DiskType: DiskTypeSSD},
		{VolumeName: "slow", Level: Level1, SizeGB: 10, DiskType: DiskTypeHDD, Protocol: ProtocolSAS},
	}

	plan, err := Allocate(specs, disks)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"ssd-0", "ssd-1"}, plan.Volumes[0].PhysicalDisks)
	assert.ElementsMatch(t, []string{"hdd-0", "hdd-1"}, plan.Volumes[1].PhysicalDisks)
}
