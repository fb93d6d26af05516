package node

import (
	"encoding/json"
	"sort"
	"time"
)

// Stash keys. These are persisted on upgrade paths, so the literals
// must never change.
const (
	keyRAIDConfigs     = "raid_configs"
	keyLogicalDisks    = "raid_config.logical_disks"
	keyLastUpdated     = "raid_config.last_updated"
	keyRebootRequired  = "reboot_required"
	keySkipCurrentStep = "skip_current_step"
	keyRAIDPolling     = "raid_config_polling"
	keyFirmwareUpdates = "firmware_updates"
	keyFirmwarePolling = "firmware_polling"
	keyBIOSApply       = "bios_settings_apply"
	keyBIOSPolling     = "bios_polling"
)

// deleteAllKey marks a pending delete of every volume on the node,
// stored in place of a controller identity.
const deleteAllKey = "true"

const pendingSetVersion = 1

// OpKind is the kind of a pending remote operation
type OpKind string

const (
	OpCreate OpKind = "create"
	OpDelete OpKind = "delete"
)

// PendingOp is one asynchronous configuration request in flight on the
// remote controller, tracked by its task monitor handle.
type PendingOp struct {
	Kind        OpKind     `json:"operation"`
	TaskMonitor string     `json:"task_monitor"`
	SubmittedAt time.Time  `json:"submitted_at"`
	WaitUntil   *time.Time `json:"wait_until,omitempty"`

	// Controller and DeleteAll are carried by the stash map key, not
	// by the serialized op itself
	Controller string `json:"-"`
	DeleteAll  bool   `json:"-"`
}

// PendingSet is the versioned container for firmware and BIOS pending
// operations.
type PendingSet struct {
	Version int         `json:"version"`
	Ops     []PendingOp `json:"ops"`
}

func (n *Node) getJSON(key string, v interface{}) (bool, error) {
	raw, ok := n.Stash[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}

func (n *Node) setJSON(key string, v interface{}) {
	if n.Stash == nil {
		n.Stash = map[string]json.RawMessage{}
	}
	raw, _ := json.Marshal(v)
	n.Stash[key] = raw
}

// PendingRAIDOps decodes the raid pending-operation set. The on-disk
// layout is a map keyed by controller identity, or the literal "true"
// for a delete-all operation.
func (n *Node) PendingRAIDOps() ([]PendingOp, error) {
	byController := map[string][]PendingOp{}
	if ok, err := n.getJSON(keyRAIDConfigs, &byController); !ok || err != nil {
		return nil, err
	}
	var ops []PendingOp
	for key, entry := range byController {
		for _, op := range entry {
			if key == deleteAllKey {
				op.DeleteAll = true
			} else {
				op.Controller = key
			}
			ops = append(ops, op)
		}
	}
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].Controller != ops[j].Controller {
			return ops[i].Controller < ops[j].Controller
		}
		return ops[i].TaskMonitor < ops[j].TaskMonitor
	})
	return ops, nil
}

// SetPendingRAIDOps stores the raid pending-operation set, dropping
// the key entirely when the set is empty.
func (n *Node) SetPendingRAIDOps(ops []PendingOp) {
	if len(ops) == 0 {
		delete(n.Stash, keyRAIDConfigs)
		return
	}
	byController := map[string][]PendingOp{}
	for _, op := range ops {
		key := op.Controller
		if op.DeleteAll {
			key = deleteAllKey
		}
		byController[key] = append(byController[key], op)
	}
	n.setJSON(keyRAIDConfigs, byController)
}

// PendingFirmwareOps decodes the firmware pending set
func (n *Node) PendingFirmwareOps() ([]PendingOp, error) {
	return n.pendingSet(keyFirmwareUpdates)
}

// SetPendingFirmwareOps stores the firmware pending set
func (n *Node) SetPendingFirmwareOps(ops []PendingOp) {
	n.setPendingSet(keyFirmwareUpdates, ops)
}

// PendingBIOSOps decodes the BIOS pending set
func (n *Node) PendingBIOSOps() ([]PendingOp, error) {
	return n.pendingSet(keyBIOSApply)
}

// SetPendingBIOSOps stores the BIOS pending set
func (n *Node) SetPendingBIOSOps(ops []PendingOp) {
	n.setPendingSet(keyBIOSApply, ops)
}

func (n *Node) pendingSet(key string) ([]PendingOp, error) {
	set := PendingSet{}
	if ok, err := n.getJSON(key, &set); !ok || err != nil {
		return nil, err
	}
	return set.Ops, nil
}

func (n *Node) setPendingSet(key string, ops []PendingOp) {
	if len(ops) == 0 {
		delete(n.Stash, key)
		return
	}
	n.setJSON(key, PendingSet{Version: pendingSetVersion, Ops: ops})
}

// RealizedVolumes returns the last-applied configuration snapshot
func (n *Node) RealizedVolumes() ([]RealizedVolume, error) {
	var vols []RealizedVolume
	if _, err := n.getJSON(keyLogicalDisks, &vols); err != nil {
		return nil, err
	}
	return vols, nil
}

// SetRealizedVolumes updates the last-applied configuration snapshot
// and its timestamp.
func (n *Node) SetRealizedVolumes(vols []RealizedVolume, at time.Time) {
	n.setJSON(keyLogicalDisks, vols)
	n.setJSON(keyLastUpdated, at.UTC().Format(time.RFC3339))
}

// LastRAIDUpdate returns the timestamp of the applied snapshot
func (n *Node) LastRAIDUpdate() (time.Time, bool) {
	var ts string
	if ok, err := n.getJSON(keyLastUpdated, &ts); !ok || err != nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (n *Node) boolFlag(key string) bool {
	var v bool
	if ok, err := n.getJSON(key, &v); !ok || err != nil {
		return false
	}
	return v
}

func (n *Node) setBoolFlag(key string, v bool) {
	if !v {
		delete(n.Stash, key)
		return
	}
	n.setJSON(key, true)
}

// RebootRequired reports whether a submitted operation needs a reboot
// to take effect.
func (n *Node) RebootRequired() bool { return n.boolFlag(keyRebootRequired) }

// SetRebootRequired sets the reboot continuation flag
func (n *Node) SetRebootRequired(v bool) { n.setBoolFlag(keyRebootRequired, v) }

// SkipCurrentStep reports whether the current workflow step must not be
// re-entered on resume.
func (n *Node) SkipCurrentStep() bool { return n.boolFlag(keySkipCurrentStep) }

// SetSkipCurrentStep sets the skip continuation flag
func (n *Node) SetSkipCurrentStep(v bool) { n.setBoolFlag(keySkipCurrentStep, v) }

// RAIDPolling reports whether the reconciliation loop owns raid completion
func (n *Node) RAIDPolling() bool { return n.boolFlag(keyRAIDPolling) }

// SetRAIDPolling hands raid completion over to the reconciliation loop
func (n *Node) SetRAIDPolling(v bool) { n.setBoolFlag(keyRAIDPolling, v) }

// FirmwarePolling reports whether the loop owns firmware completion
func (n *Node) FirmwarePolling() bool { return n.boolFlag(keyFirmwarePolling) }

// SetFirmwarePolling hands firmware completion over to the loop
func (n *Node) SetFirmwarePolling(v bool) { n.setBoolFlag(keyFirmwarePolling, v) }

// BIOSPolling reports whether the loop owns BIOS completion
func (n *Node) BIOSPolling() bool { return n.boolFlag(keyBIOSPolling) }

// SetBIOSPolling hands BIOS completion over to the loop
func (n *Node) SetBIOSPolling(v bool) { n.setBoolFlag(keyBIOSPolling, v) }

// HasPending is the cheap existence check the periodic scan filters
// nodes with. It never decodes more than it has to.
func (n *Node) HasPending(kind PendingKind) bool {
	switch kind {
	case PendingFirmware:
		_, ok := n.Stash[keyFirmwareUpdates]
		return ok
	case PendingBIOS:
		_, ok := n.Stash[keyBIOSApply]
		return ok
	case PendingRAIDCreate, PendingRAIDDelete:
		if _, ok := n.Stash[keyRAIDConfigs]; !ok {
			return false
		}
		ops, err := n.PendingRAIDOps()
		if err != nil {
			return false
		}
		for _, op := range ops {
			if kind == PendingRAIDCreate && op.Kind == OpCreate {
				return true
			}
			if kind == PendingRAIDDelete && op.Kind == OpDelete {
				return true
			}
		}
	}
	return false
}

// HasAnyPending reports whether any pending set is non-empty
func (n *Node) HasAnyPending() bool {
	for _, key := range []string{keyRAIDConfigs, keyFirmwareUpdates, keyBIOSApply} {
		if _, ok := n.Stash[key]; ok {
			return true
		}
	}
	return false
}

// ClearAllPending force-drops every pending set and continuation flag.
// Used by the stuck-node sweep so that leaving maintenance does not
// resume a half-finished operation.
func (n *Node) ClearAllPending() {
	for _, key := range []string{
		keyRAIDConfigs, keyFirmwareUpdates, keyBIOSApply,
		keyRebootRequired, keySkipCurrentStep,
		keyRAIDPolling, keyFirmwarePolling, keyBIOSPolling,
	} {
		delete(n.Stash, key)
	}
}

// OldestPendingOp returns the earliest submission time across all
// pending sets, false when nothing is pending.
func (n *Node) OldestPendingOp() (time.Time, bool) {
	oldest := time.Time{}
	found := false
	collect := func(ops []PendingOp, err error) {
		if err != nil {
			return
		}
		for _, op := range ops {
			if !found || op.SubmittedAt.Before(oldest) {
				oldest = op.SubmittedAt
				found = true
			}
		}
	}
	collect(n.PendingRAIDOps())
	collect(n.PendingFirmwareOps())
	collect(n.PendingBIOSOps())
	return oldest, found
}
