package bmc

import (
	"context"
	"errors"
	"fmt"

	"github.com/openstack/ironic-sub002/pkg/raid"
)

// Address locates one out-of-band controller
type Address struct {
	Endpoint string
	Username string
	Password string
	SystemID string
	Vendor   string
}

// Inventory is the hardware the controller reports for a system
type Inventory struct {
	Controllers []string
	Disks       []raid.PhysicalDisk
}

// VolumeSpec is one volume creation request, already resolved onto
// concrete physical disks by the allocator.
type VolumeSpec struct {
	Name          string
	Controller    string
	Level         raid.Level
	SizeBytes     int64
	PhysicalDisks []string
	SpanDepth     int
	SpanLength    int
}

// Volume is one existing volume on a controller
type Volume struct {
	ID         string
	Name       string
	Controller string
	Level      raid.Level
	SizeBytes  int64
}

// SubmitResult is the outcome of a create/delete/update call. An empty
// TaskMonitor means the controller completed the request synchronously.
type SubmitResult struct {
	TaskMonitor    string
	RebootRequired bool
}

// Task is the state of one monitored asynchronous operation
type Task struct {
	IsProcessing bool
	Succeeded    bool
	Messages     []string
}

// FirmwareImage is one firmware component update request
type FirmwareImage struct {
	Component string
	URL       string
	Checksum  string
}

// ErrTaskNotFound means the controller no longer knows the task
// monitor, commonly because it garbage-collected the record.
var ErrTaskNotFound = errors.New("task monitor not found on the controller")

// OperationError means the controller rejected a request outright.
// Unlike a TransientError it will not succeed on retry.
type OperationError struct {
	Op     string
	Detail string
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("controller rejected %s: %s", e.Op, e.Detail)
}

// TransientError wraps connection and auth failures that should be
// retried on the next tick instead of failing the operation.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient controller error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient checks if the error is retryable connectivity trouble
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Client is the remote-controller facade. Implementations do the wire
// protocol; everything above only sees volume CRUD, task-monitor
// polling and inventory discovery.
//
//go:generate mockgen -source=client.go -destination=client_mock.go -package=bmc
type Client interface {
	SystemInventory(ctx context.Context, addr Address) (*Inventory, error)
	ListVolumes(ctx context.Context, addr Address) ([]Volume, error)
	CreateVolume(ctx context.Context, addr Address, spec VolumeSpec) (*SubmitResult, error)
	DeleteVolume(ctx context.Context, addr Address, volumeID string) (*SubmitResult, error)
	GetTask(ctx context.Context, addr Address, monitor string) (*Task, error)
	UpdateFirmware(ctx context.Context, addr Address, image FirmwareImage) (*SubmitResult, error)
	ApplyBIOSSettings(ctx context.Context, addr Address, settings map[string]string) (*SubmitResult, error)
}
