package raid

import "fmt"

// Level is a RAID level. Compound levels are written as "N+M", meaning
// spans of RAID-N striped together (RAID-M across the spans).
type Level string

const (
	LevelJBOD Level = "JBOD"
	Level0    Level = "0"
	Level1    Level = "1"
	Level5    Level = "5"
	Level6    Level = "6"
	Level10   Level = "1+0"
	Level50   Level = "5+0"
	Level60   Level = "6+0"
)

const (
	// StripeSizeBytes is the stripe unit all usable capacity is quantized to
	StripeSizeBytes int64 = 64 * 1024
	stripeSizeKiB   int64 = 64
)

// MaxSizeGB is the sentinel for a volume claiming all remaining space
const MaxSizeGB = -1

var levelAliases = map[string]Level{
	"10": Level10,
	"50": Level50,
	"60": Level60,
}

var minDisksPerLevel = map[Level]int{
	LevelJBOD: 1,
	Level0:    1,
	Level1:    2,
	Level5:    3,
	Level6:    4,
	Level10:   4,
	Level50:   6,
	Level60:   8,
}

// maxDisksPerLevel lists the levels with a hard upper bound on disk
// count. 0 means unbounded.
var maxDisksPerLevel = map[Level]int{
	LevelJBOD: 1,
	Level1:    2,
}

var overheadPerSpan = map[Level]int{
	LevelJBOD: 0,
	Level0:    0,
	Level1:    1,
	Level5:    1,
	Level6:    2,
}

// NormalizeLevel maps a level string onto its canonical Level,
// accepting the short aliases "10", "50" and "60".
func NormalizeLevel(level string) (Level, error) {
	if l, ok := levelAliases[level]; ok {
		return l, nil
	}
	l := Level(level)
	if _, ok := minDisksPerLevel[l]; !ok {
		return "", fmt.Errorf("unknown raid level %q", level)
	}
	return l, nil
}

// BaseLevel returns the per-span level of a compound level, or the
// level itself for simple levels.
func BaseLevel(level Level) Level {
	switch level {
	case Level10:
		return Level1
	case Level50:
		return Level5
	case Level60:
		return Level6
	}
	return level
}

// IsCompound reports whether the level is built from spans
func IsCompound(level Level) bool {
	return level != BaseLevel(level)
}

// Spans returns the span count the level uses for the given disk count
func Spans(level Level, diskCount int) int {
	switch level {
	case Level10:
		return diskCount / 2
	case Level50, Level60:
		return 2
	}
	return 1
}

// MinDisks is the minimum disk count the level can be built on
func MinDisks(level Level) int {
	return minDisksPerLevel[level]
}

// MaxDisks is the maximum disk count for the level, 0 if unbounded
func MaxDisks(level Level) int {
	return maxDisksPerLevel[level]
}

// OverheadDisks is the number of disks consumed by redundancy for the
// given level and disk count. A compound level pays the base level's
// overhead once per span.
func OverheadDisks(level Level, diskCount int) int {
	return overheadPerSpan[BaseLevel(level)] * Spans(level, diskCount)
}

// ValidDiskCount reports whether a volume of this level can be built
// on exactly diskCount disks. Compound levels need an even count.
func ValidDiskCount(level Level, diskCount int) bool {
	if diskCount < MinDisks(level) {
		return false
	}
	if max := MaxDisks(level); max > 0 && diskCount > max {
		return false
	}
	if IsCompound(level) && diskCount%2 != 0 {
		return false
	}
	return true
}

// MaxVolumeBytes is the largest volume the level can hold on diskCount
// disks when the tightest disk has freePerDiskBytes available. Usable
// space per disk is quantized down to the stripe unit.
func MaxVolumeBytes(level Level, diskCount int, freePerDiskBytes int64) int64 {
	dataDisks := int64(diskCount - OverheadDisks(level, diskCount))
	if dataDisks <= 0 {
		return 0
	}
	stripesPerDisk := (freePerDiskBytes / 1024) / stripeSizeKiB
	return stripesPerDisk * StripeSizeBytes * dataDisks
}

// PerDiskUsageBytes is the space a volume of volumeBytes consumes on
// each member disk. The stripe count is rounded up per disk, slightly
// over-reserving rather than risking an overcommitted disk.
func PerDiskUsageBytes(level Level, diskCount int, volumeBytes int64) int64 {
	dataDisks := int64(diskCount - OverheadDisks(level, diskCount))
	if dataDisks <= 0 {
		return 0
	}
	volumeKiB := ceilDiv(volumeBytes, 1024)
	stripes := ceilDiv(volumeKiB, stripeSizeKiB)
	return ceilDiv(stripes, dataDisks) * StripeSizeBytes
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
