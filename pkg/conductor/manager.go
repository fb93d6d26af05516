package conductor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/openstack/ironic-sub002/pkg/bmc"
	"github.com/openstack/ironic-sub002/pkg/common"
	"github.com/openstack/ironic-sub002/pkg/node"
	"github.com/openstack/ironic-sub002/pkg/tracker"
	"github.com/openstack/ironic-sub002/pkg/workflow"
)

const (
	// DefaultPollInterval is how often pending operations are polled
	DefaultPollInterval = 30 * time.Second
	// DefaultSweepInterval is how often stuck nodes are looked for
	DefaultSweepInterval = 5 * time.Minute
	// DefaultStuckGrace is how long a failed node in maintenance may
	// keep a pending set before it is force-cleared
	DefaultStuckGrace = 30 * time.Minute

	maxCheckRetries = 5
)

// Options tune the reconciliation loop
type Options struct {
	PollInterval  time.Duration
	SweepInterval time.Duration
	StuckGrace    time.Duration
}

func (o *Options) defaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	if o.StuckGrace <= 0 {
		o.StuckGrace = DefaultStuckGrace
	}
}

// Manager is the reconciliation loop: a periodic scan across all nodes
// with pending remote operations, one worker per operation class,
// driving each node's pending set to a terminal transition under the
// per-node lock.
type Manager struct {
	store   node.Store
	tracker *tracker.Tracker
	engine  workflow.Engine
	opts    Options

	queues     map[node.PendingKind]*common.TaskQueue
	sweepQueue *common.TaskQueue

	now    func() time.Time
	logger *log.Entry
}

// New creates the reconciliation manager
func New(store node.Store, trk *tracker.Tracker, engine workflow.Engine, opts Options) *Manager {
	opts.defaults()
	queues := map[node.PendingKind]*common.TaskQueue{}
	for _, kind := range node.Kinds() {
		queues[kind] = common.NewTaskQueue("check-"+string(kind), maxCheckRetries)
	}
	return &Manager{
		store:      store,
		tracker:    trk,
		engine:     engine,
		opts:       opts,
		queues:     queues,
		sweepQueue: common.NewTaskQueue("stuck-sweep", maxCheckRetries),
		now:        time.Now,
		logger:     log.WithField("Module", "Conductor"),
	}
}

// Run starts the workers and the periodic scans, blocking until stopCh
// closes.
func (m *Manager) Run(stopCh <-chan struct{}) {
	m.logger.WithFields(log.Fields{
		"pollInterval": m.opts.PollInterval, "sweepInterval": m.opts.SweepInterval,
	}).Info("Starting the reconciliation loop")

	for kind := range m.queues {
		go m.startCheckWorker(kind, stopCh)
	}
	go m.startSweepWorker(stopCh)

	go wait.Until(m.scan, m.opts.PollInterval, stopCh)
	go wait.Until(m.scanStuck, m.opts.SweepInterval, stopCh)

	<-stopCh
}

// scan is one tick: a targeted filter for nodes with pending work, not
// a walk over every node attribute.
func (m *Manager) scan() {
	for kind, q := range m.queues {
		ids, err := m.store.ListPendingNodes(kind)
		if err != nil {
			m.logger.WithError(err).WithField("class", kind).Error("Failed to list nodes with pending operations")
			continue
		}
		for _, id := range ids {
			q.Add(id)
		}
	}
}

func (m *Manager) startCheckWorker(kind node.PendingKind, stopCh <-chan struct{}) {
	q := m.queues[kind]
	m.logger.WithField("class", kind).Debug("Pending-operation worker is working now")
	go func() {
		for {
			nodeID, shutdown := q.Get()
			if shutdown {
				m.logger.WithField("class", kind).Debug("Stop the pending-operation worker")
				break
			}
			if err := m.checkNode(kind, nodeID); err != nil {
				m.logger.WithFields(log.Fields{"node": nodeID, "class": kind, "attempts": q.NumRequeues(nodeID), "error": err.Error()}).Error("Failed to check the node, retry later")
				q.AddRateLimited(nodeID)
			} else {
				q.Forget(nodeID)
			}
			q.Done(nodeID)
		}
	}()

	<-stopCh
	q.Shutdown()
}

// checkNode polls every not-yet-resolved pending operation of one class
// on one node and, once the whole set is terminal, finalizes it under
// an upgraded lock.
func (m *Manager) checkNode(kind node.PendingKind, nodeID string) error {
	logCtx := m.logger.WithFields(log.Fields{"node": nodeID, "class": kind})

	sess, err := m.store.Acquire(context.TODO(), nodeID, false)
	if err != nil {
		if errors.Is(err, node.ErrNodeLocked) {
			logCtx.Debug("Node is locked elsewhere, will try again next tick")
			return nil
		}
		if errors.Is(err, node.ErrNodeNotFound) {
			logCtx.Info("Node is gone, nothing to check")
			return nil
		}
		return err
	}
	defer sess.Release()

	n := sess.Node()
	ops, err := pendingFor(n, kind)
	if err != nil {
		logCtx.WithError(err).Error("Pending set is unreadable, leaving it for the sweep")
		return nil
	}
	if len(ops) == 0 {
		// cleared concurrently between the scan and the lock
		return nil
	}
	if !n.InWaitState() {
		logCtx.WithField("state", n.ProvisionState).Debug("Node is not waiting on this subsystem")
		return nil
	}

	allResolved := true
	var resolved []node.PendingOp
	for _, op := range ops {
		outcome, messages, err := m.tracker.Resolve(context.TODO(), n, op)
		if err != nil {
			if bmc.IsTransient(err) {
				logCtx.WithError(err).Debug("Controller unreachable, operations stay pending")
				allResolved = false
				break
			}
			return err
		}
		if outcome == tracker.OutcomeFailed {
			// the remaining operations are abandoned, the set fails
			// as a unit
			return m.finalizeFailure(sess, kind, composeFailure(kind, messages))
		}
		if outcome == tracker.OutcomePending {
			allResolved = false
			continue
		}
		resolved = append(resolved, op)
	}
	if allResolved {
		return m.finalizeSuccess(sess, kind, logCtx)
	}
	if len(resolved) > 0 {
		// drop the resolved members right away so their monitors are
		// never polled again; the terminal transition waits for the
		// rest of the set
		return m.trimResolved(sess, kind, resolved, logCtx)
	}
	return nil
}

func (m *Manager) trimResolved(sess node.Session, kind node.PendingKind, resolved []node.PendingOp, logCtx *log.Entry) error {
	if err := sess.UpgradeLock(); err != nil {
		if errors.Is(err, node.ErrNodeLocked) {
			logCtx.Debug("Cannot upgrade the lock now, trimming next tick")
			return nil
		}
		return err
	}
	removeOps(sess.Node(), kind, resolved)
	if err := sess.Save(); err != nil {
		return err
	}
	logCtx.WithField("resolved", len(resolved)).Debug("Removed the resolved operations, the rest stay pending")
	return nil
}

// removeOps drops the given operations, identified by their monitor
// handles, from the class's pending set.
func removeOps(n *node.Node, kind node.PendingKind, resolved []node.PendingOp) {
	drop := map[string]struct{}{}
	for _, op := range resolved {
		drop[op.TaskMonitor] = struct{}{}
	}
	keep := func(ops []node.PendingOp) []node.PendingOp {
		var out []node.PendingOp
		for _, op := range ops {
			if _, ok := drop[op.TaskMonitor]; !ok {
				out = append(out, op)
			}
		}
		return out
	}
	switch kind {
	case node.PendingFirmware:
		ops, _ := n.PendingFirmwareOps()
		n.SetPendingFirmwareOps(keep(ops))
	case node.PendingBIOS:
		ops, _ := n.PendingBIOSOps()
		n.SetPendingBIOSOps(keep(ops))
	default:
		ops, _ := n.PendingRAIDOps()
		n.SetPendingRAIDOps(keep(ops))
	}
}

func (m *Manager) finalizeSuccess(sess node.Session, kind node.PendingKind, logCtx *log.Entry) error {
	if err := sess.UpgradeLock(); err != nil {
		if errors.Is(err, node.ErrNodeLocked) {
			logCtx.Debug("Cannot upgrade the lock now, finalizing next tick")
			return nil
		}
		return err
	}
	n := sess.Node()

	clearPending(n, kind)
	if kind == node.PendingRAIDCreate || kind == node.PendingRAIDDelete {
		if remaining, _ := n.PendingRAIDOps(); len(remaining) > 0 {
			// the other raid class is still in flight, no terminal
			// transition yet
			return sess.Save()
		}
		if err := m.tracker.RecordRealized(context.TODO(), n); err != nil {
			if bmc.IsTransient(err) {
				logCtx.WithError(err).Debug("Cannot snapshot the applied configuration yet")
				return nil
			}
			return err
		}
	}

	if err := sess.Save(); err != nil {
		return err
	}
	logCtx.Info("Pending operation set resolved, resuming the workflow")
	m.notifyResume(n)
	return nil
}

func (m *Manager) finalizeFailure(sess node.Session, kind node.PendingKind, message string) error {
	if err := sess.UpgradeLock(); err != nil {
		if errors.Is(err, node.ErrNodeLocked) {
			return nil
		}
		return err
	}
	n := sess.Node()

	discardPending(n, kind)
	if err := sess.Save(); err != nil {
		return err
	}
	m.notifyFailure(n, message)
	return nil
}

func (m *Manager) notifyResume(n *node.Node) {
	if stepKind(n) == node.StepKindDeploy {
		m.engine.NotifyResumeDeploy(n.ID)
		return
	}
	m.engine.NotifyResumeClean(n.ID)
}

func (m *Manager) notifyFailure(n *node.Node, message string) {
	if stepKind(n) == node.StepKindDeploy {
		m.engine.DeployError(n.ID, message)
		return
	}
	m.engine.CleanError(n.ID, message)
}

func stepKind(n *node.Node) node.StepKind {
	if n.CurrentStep != nil {
		return n.CurrentStep.Kind
	}
	if n.ProvisionState == node.StateDeployWait || n.ProvisionState == node.StateDeploying {
		return node.StepKindDeploy
	}
	return node.StepKindClean
}

// pendingFor selects the pending operations of one class
func pendingFor(n *node.Node, kind node.PendingKind) ([]node.PendingOp, error) {
	switch kind {
	case node.PendingFirmware:
		return n.PendingFirmwareOps()
	case node.PendingBIOS:
		return n.PendingBIOSOps()
	}
	ops, err := n.PendingRAIDOps()
	if err != nil {
		return nil, err
	}
	var out []node.PendingOp
	for _, op := range ops {
		if kind == node.PendingRAIDCreate && op.Kind == node.OpCreate {
			out = append(out, op)
		}
		if kind == node.PendingRAIDDelete && op.Kind == node.OpDelete {
			out = append(out, op)
		}
	}
	return out, nil
}

// clearPending removes the resolved class from the node, keeping the
// other raid class in place when it is still in flight.
func clearPending(n *node.Node, kind node.PendingKind) {
	switch kind {
	case node.PendingFirmware:
		n.SetPendingFirmwareOps(nil)
		n.SetFirmwarePolling(false)
	case node.PendingBIOS:
		n.SetPendingBIOSOps(nil)
		n.SetBIOSPolling(false)
	default:
		ops, _ := n.PendingRAIDOps()
		var kept []node.PendingOp
		for _, op := range ops {
			resolved := (kind == node.PendingRAIDCreate && op.Kind == node.OpCreate) ||
				(kind == node.PendingRAIDDelete && op.Kind == node.OpDelete)
			if !resolved {
				kept = append(kept, op)
			}
		}
		n.SetPendingRAIDOps(kept)
		if len(kept) == 0 {
			n.SetRAIDPolling(false)
		}
	}
}

// discardPending drops the whole pending set of the class after a
// definite failure. For raid, both classes go: partial success is not
// reported.
func discardPending(n *node.Node, kind node.PendingKind) {
	switch kind {
	case node.PendingFirmware:
		n.SetPendingFirmwareOps(nil)
		n.SetFirmwarePolling(false)
	case node.PendingBIOS:
		n.SetPendingBIOSOps(nil)
		n.SetBIOSPolling(false)
	default:
		n.SetPendingRAIDOps(nil)
		n.SetRAIDPolling(false)
	}
}

func composeFailure(kind node.PendingKind, messages []string) string {
	detail := strings.Join(messages, "; ")
	if detail == "" {
		detail = "the controller reported no details"
	}
	return fmt.Sprintf("%s operation failed on the remote controller: %s", kind, detail)
}
