package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/openstack/ironic-sub002/pkg/bmc"
	"github.com/openstack/ironic-sub002/pkg/node"
	"github.com/openstack/ironic-sub002/pkg/raid"
	"github.com/openstack/ironic-sub002/pkg/utils"
)

// Outcome is the result of resolving one pending operation
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeSucceeded
	OutcomeFailed
)

// Tracker submits configuration requests to the remote controller and
// resolves the resulting pending operations. It never drives the
// polling loop itself; that is the conductor's job.
type Tracker struct {
	client bmc.Client
	now    func() time.Time
	logger *log.Entry
}

// New creates a tracker on top of the controller client
func New(client bmc.Client) *Tracker {
	return &Tracker{
		client: client,
		now:    time.Now,
		logger: log.WithField("Module", "OperationTracker"),
	}
}

// BMCAddress maps a node's driver info onto the controller address
func BMCAddress(n *node.Node) bmc.Address {
	return bmc.Address{
		Endpoint: n.Driver.Endpoint,
		Username: n.Driver.Username,
		Password: n.Driver.Password,
		SystemID: n.Driver.SystemID,
		Vendor:   n.Driver.Vendor,
	}
}

// Submit issues the volume deletions and creations for an allocation
// plan, in plan order, through the caller's exclusive session. Remote
// calls answering synchronously are resolved inline; calls returning a
// task monitor become PendingOps on the node. The node is persisted
// exactly once, after every call went through; a submission error
// leaves the node unchanged.
func (t *Tracker) Submit(ctx context.Context, sess node.Session, plan *raid.AllocationPlan, deleteExisting bool) ([]node.PendingOp, error) {
	n := sess.Node()
	addr := BMCAddress(n)
	vendor := bmc.VendorFor(n.Driver.Vendor)
	logCtx := t.logger.WithField("node", n.ID)

	if err := vendor.PrepareJobQueue(ctx, t.client, addr); err != nil {
		return nil, fmt.Errorf("preparing controller job queue: %w", err)
	}

	var ops []node.PendingOp
	rebootNeeded := false

	if deleteExisting {
		volumes, err := t.client.ListVolumes(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("listing existing volumes: %w", err)
		}
		for _, vol := range volumes {
			result, err := t.client.DeleteVolume(ctx, addr, vol.ID)
			if err != nil {
				return nil, fmt.Errorf("deleting volume %q: %w", vol.ID, err)
			}
			logCtx.WithFields(log.Fields{"volume": vol.ID, "monitor": result.TaskMonitor}).Info("Requested a volume deletion")
			if op, needed := t.pendingOp(node.OpDelete, "", result, vendor); op != nil {
				op.DeleteAll = true
				ops = append(ops, *op)
				rebootNeeded = rebootNeeded || needed
			}
		}
	}

	if plan != nil {
		for _, spec := range plan.Volumes {
			result, err := t.client.CreateVolume(ctx, addr, bmc.VolumeSpec{
				Name:          spec.VolumeName,
				Controller:    spec.Controller,
				Level:         spec.Level,
				SizeBytes:     spec.SizeBytes,
				PhysicalDisks: spec.PhysicalDisks,
				SpanDepth:     spec.SpanDepth,
				SpanLength:    spec.SpanLength,
			})
			if err != nil {
				return nil, fmt.Errorf("creating volume %q: %w", spec.VolumeName, err)
			}
			logCtx.WithFields(log.Fields{
				"volume": spec.VolumeName, "controller": spec.Controller,
				"level": spec.Level, "sizeBytes": spec.SizeBytes,
				"disks": spec.PhysicalDisks, "monitor": result.TaskMonitor,
			}).Info("Requested a volume creation")
			if op, needed := t.pendingOp(node.OpCreate, spec.Controller, result, vendor); op != nil {
				ops = append(ops, *op)
				rebootNeeded = rebootNeeded || needed
			}
		}
		n.TargetRAID = &node.RAIDConfig{LogicalDisks: plan.Volumes}
	}

	n.SetPendingRAIDOps(ops)
	if len(ops) > 0 {
		n.SetRebootRequired(rebootNeeded)
		n.SetSkipCurrentStep(true)
		n.SetRAIDPolling(true)
	} else if err := t.recordRealized(ctx, n); err != nil {
		// everything completed synchronously, snapshot right away
		return nil, err
	}

	if err := sess.Save(); err != nil {
		return nil, err
	}
	return ops, nil
}

// Resolve checks one pending operation against its task monitor.
//
// A monitor the controller no longer knows is treated as success. This
// mirrors controllers that garbage-collect finished task records
// quickly; the cost is that a failed, already-collected operation is
// indistinguishable from a succeeded one. Deliberate trade-off, kept
// for compatibility.
func (t *Tracker) Resolve(ctx context.Context, n *node.Node, op node.PendingOp) (Outcome, []string, error) {
	logCtx := t.logger.WithFields(log.Fields{"node": n.ID, "monitor": op.TaskMonitor, "operation": op.Kind})

	if op.WaitUntil != nil && t.now().Before(*op.WaitUntil) {
		logCtx.WithField("waitUntil", op.WaitUntil).Debug("Controller settle time not over yet")
		return OutcomePending, nil, nil
	}

	task, err := t.client.GetTask(ctx, BMCAddress(n), op.TaskMonitor)
	if err != nil {
		if errors.Is(err, bmc.ErrTaskNotFound) {
			logCtx.Warn("Task monitor is gone from the controller, treating the operation as succeeded")
			return OutcomeSucceeded, nil, nil
		}
		return OutcomePending, nil, err
	}

	switch {
	case task.IsProcessing:
		return OutcomePending, nil, nil
	case task.Succeeded:
		logCtx.Info("Pending operation completed")
		return OutcomeSucceeded, task.Messages, nil
	default:
		logCtx.WithField("messages", task.Messages).Error("Pending operation failed")
		return OutcomeFailed, task.Messages, nil
	}
}

// RecordRealized refreshes the node's applied-configuration snapshot
// from the controller's actual volume list.
func (t *Tracker) RecordRealized(ctx context.Context, n *node.Node) error {
	return t.recordRealized(ctx, n)
}

func (t *Tracker) recordRealized(ctx context.Context, n *node.Node) error {
	volumes, err := t.client.ListVolumes(ctx, BMCAddress(n))
	if err != nil {
		return fmt.Errorf("listing volumes for the applied snapshot: %w", err)
	}
	realized := make([]node.RealizedVolume, 0, len(volumes))
	for _, vol := range volumes {
		realized = append(realized, node.RealizedVolume{
			Controller: vol.Controller,
			ID:         vol.ID,
			Name:       vol.Name,
			Level:      vol.Level,
			SizeGB:     utils.ByteToGb(vol.SizeBytes),
		})
	}
	n.SetRealizedVolumes(realized, t.now())
	return nil
}

func (t *Tracker) pendingOp(kind node.OpKind, controller string, result *bmc.SubmitResult, vendor bmc.Vendor) (*node.PendingOp, bool) {
	if result.TaskMonitor == "" {
		return nil, false
	}
	op := &node.PendingOp{
		Kind:        kind,
		Controller:  controller,
		TaskMonitor: result.TaskMonitor,
		SubmittedAt: t.now(),
	}
	if settle := vendor.SettleTime(); settle > 0 {
		until := op.SubmittedAt.Add(settle)
		op.WaitUntil = &until
	}
	return op, result.RebootRequired || vendor.RebootRequired()
}
