package raid

import (
	"errors"
	"fmt"
)

// DiskType is the media type of a physical disk
type DiskType string

const (
	DiskTypeHDD DiskType = "hdd"
	DiskTypeSSD DiskType = "ssd"
)

// Protocol is the link protocol a physical disk speaks
type Protocol string

const (
	ProtocolSAS  Protocol = "sas"
	ProtocolSATA Protocol = "sata"
	ProtocolSCSI Protocol = "scsi"
	ProtocolNVMe Protocol = "nvme"
)

// PhysicalDisk is one disk behind a storage controller. It is never
// mutated; remaining free space during an allocation run lives in the
// plan's ledger instead.
type PhysicalDisk struct {
	ID         string   `json:"id"`
	Controller string   `json:"controller"`
	SizeBytes  int64    `json:"size_bytes"`
	Type       DiskType `json:"disk_type"`
	Protocol   Protocol `json:"interface_type"`
}

// LogicalDiskSpec is one requested logical volume. The caller fills the
// request fields; Allocate returns an augmented copy with the resolved
// fields set and never mutates the input.
type LogicalDiskSpec struct {
	VolumeName    string   `json:"volume_name,omitempty"`
	Level         Level    `json:"raid_level"`
	SizeGB        int      `json:"size_gb"` // MaxSizeGB claims all remaining space
	DiskType      DiskType `json:"disk_type,omitempty"`
	Protocol      Protocol `json:"interface_type,omitempty"`
	PhysicalDisks []string `json:"physical_disks,omitempty"`
	ShareDisks    bool     `json:"share_physical_disks,omitempty"`
	IsRootVolume  bool     `json:"is_root_volume,omitempty"`

	// resolved by the allocator
	Controller string `json:"controller,omitempty"`
	SizeBytes  int64  `json:"size_bytes,omitempty"`
	SpanDepth  int    `json:"span_depth,omitempty"`
	SpanLength int    `json:"span_length,omitempty"`
}

// IsMaxSize reports whether the spec claims all remaining space
func (s *LogicalDiskSpec) IsMaxSize() bool {
	return s.SizeGB == MaxSizeGB
}

// AllocationPlan is the result of one allocation run: the augmented
// specs in request order plus the final free-space ledger per disk.
type AllocationPlan struct {
	Volumes   []LogicalDiskSpec
	FreeBytes map[string]int64
}

var (
	// ErrDuplicateRootVolume signals more than one spec flagged as root volume
	ErrDuplicateRootVolume = errors.New("more than one root volume requested")
)

// ConstraintError means no disk assignment can satisfy the request. It
// indicates the configuration cannot be built with the present
// hardware, not a system fault, and is always safe to surface to the
// caller.
type ConstraintError struct {
	Volume string
	Reason string
}

func (e *ConstraintError) Error() string {
	if e.Volume == "" {
		return fmt.Sprintf("cannot satisfy raid request: %s", e.Reason)
	}
	return fmt.Sprintf("cannot satisfy raid volume %q: %s", e.Volume, e.Reason)
}

// IsConstraintError checks if the error is a ConstraintError
func IsConstraintError(err error) bool {
	var ce *ConstraintError
	return errors.As(err, &ce)
}
