package node

import (
	"encoding/json"

	"github.com/openstack/ironic-sub002/pkg/raid"
)

// ProvisionState is the node's position in the provisioning state machine
type ProvisionState string

const (
	StateManageable   ProvisionState = "manageable"
	StateActive       ProvisionState = "active"
	StateCleaning     ProvisionState = "cleaning"
	StateCleanWait    ProvisionState = "clean wait"
	StateCleanFailed  ProvisionState = "clean failed"
	StateDeploying    ProvisionState = "deploying"
	StateDeployWait   ProvisionState = "deploy wait"
	StateDeployFailed ProvisionState = "deploy failed"
)

// StepKind tells which workflow a step belongs to
type StepKind string

const (
	StepKindClean  StepKind = "clean"
	StepKindDeploy StepKind = "deploy"
)

// Step describes the workflow step a node is currently executing
type Step struct {
	Kind      StepKind `json:"kind"`
	Interface string   `json:"interface"`
	Name      string   `json:"step"`
}

// RAIDConfig is the caller-provided target configuration
type RAIDConfig struct {
	LogicalDisks []raid.LogicalDiskSpec `json:"logical_disks"`
}

// RealizedVolume is one volume as actually built by the controller,
// recorded on the node once an operation set completes.
type RealizedVolume struct {
	Controller string     `json:"controller"`
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Level      raid.Level `json:"raid_level"`
	SizeGB     int        `json:"size_gb"`
}

// DriverInfo carries the out-of-band endpoint of the node
type DriverInfo struct {
	Endpoint string `json:"endpoint"`
	Username string `json:"username"`
	Password string `json:"password"`
	SystemID string `json:"system_id"`
	Vendor   string `json:"vendor,omitempty"`
}

// Node is one managed bare-metal machine. The Stash is the transient
// key/value bag persisted across process restarts and reboots; always
// go through the typed accessors in stash.go, raw access is reserved
// for the storage boundary.
type Node struct {
	ID             string                     `json:"id"`
	Driver         DriverInfo                 `json:"driver_info"`
	ProvisionState ProvisionState             `json:"provision_state"`
	Maintenance    bool                       `json:"maintenance"`
	Fault          string                     `json:"fault,omitempty"`
	CurrentStep    *Step                      `json:"current_step,omitempty"`
	TargetRAID     *RAIDConfig                `json:"target_raid_config,omitempty"`
	Stash          map[string]json.RawMessage `json:"internal_info"`
}

// InWaitState reports whether the node sits in the wait state matching
// its current step's workflow.
func (n *Node) InWaitState() bool {
	if n.CurrentStep == nil {
		return false
	}
	switch n.CurrentStep.Kind {
	case StepKindClean:
		return n.ProvisionState == StateCleanWait
	case StepKindDeploy:
		return n.ProvisionState == StateDeployWait
	}
	return false
}

// DeepCopy returns a full copy of the node
func (n *Node) DeepCopy() *Node {
	out := *n
	if n.CurrentStep != nil {
		step := *n.CurrentStep
		out.CurrentStep = &step
	}
	if n.TargetRAID != nil {
		cfg := RAIDConfig{LogicalDisks: make([]raid.LogicalDiskSpec, len(n.TargetRAID.LogicalDisks))}
		for i, ld := range n.TargetRAID.LogicalDisks {
			cfg.LogicalDisks[i] = ld
			cfg.LogicalDisks[i].PhysicalDisks = append([]string{}, ld.PhysicalDisks...)
		}
		out.TargetRAID = &cfg
	}
	if n.Stash != nil {
		out.Stash = make(map[string]json.RawMessage, len(n.Stash))
		for k, v := range n.Stash {
			out.Stash[k] = append(json.RawMessage{}, v...)
		}
	}
	return &out
}
