package conductor

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/openstack/ironic-sub002/pkg/node"
)

// scanStuck is one sweep tick, collecting every node that still has a
// pending operation of any class.
func (m *Manager) scanStuck() {
	seen := map[string]struct{}{}
	for _, kind := range node.Kinds() {
		ids, err := m.store.ListPendingNodes(kind)
		if err != nil {
			m.logger.WithError(err).WithField("class", kind).Error("Failed to list nodes for the stuck sweep")
			continue
		}
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			m.sweepQueue.Add(id)
		}
	}
}

func (m *Manager) startSweepWorker(stopCh <-chan struct{}) {
	m.logger.Debug("Stuck-node sweep worker is working now")
	go func() {
		for {
			nodeID, shutdown := m.sweepQueue.Get()
			if shutdown {
				m.logger.Debug("Stop the stuck-node sweep worker")
				break
			}
			if err := m.sweepNode(nodeID); err != nil {
				m.logger.WithFields(log.Fields{"node": nodeID, "error": err.Error()}).Error("Failed to sweep the node, retry later")
				m.sweepQueue.AddRateLimited(nodeID)
			} else {
				m.sweepQueue.Forget(nodeID)
			}
			m.sweepQueue.Done(nodeID)
		}
	}()

	<-stopCh
	m.sweepQueue.Shutdown()
}

// sweepNode clears the pending set of a node that failed into
// maintenance while operations were in flight. Without the sweep such
// a node would be polled forever, since no workflow will ever consume
// the result.
func (m *Manager) sweepNode(nodeID string) error {
	logCtx := m.logger.WithField("node", nodeID)

	sess, err := m.store.Acquire(context.TODO(), nodeID, false)
	if err != nil {
		if errors.Is(err, node.ErrNodeLocked) || errors.Is(err, node.ErrNodeNotFound) {
			return nil
		}
		return err
	}
	defer sess.Release()

	n := sess.Node()
	if !n.Maintenance || n.Fault == "" {
		return nil
	}
	if !n.HasAnyPending() {
		return nil
	}
	oldest, ok := n.OldestPendingOp()
	if !ok || m.now().Sub(oldest) < m.opts.StuckGrace {
		return nil
	}

	if err := sess.UpgradeLock(); err != nil {
		if errors.Is(err, node.ErrNodeLocked) {
			return nil
		}
		return err
	}
	n.ClearAllPending()
	if err := sess.Save(); err != nil {
		return err
	}
	logCtx.WithFields(log.Fields{"fault": n.Fault, "submittedAt": oldest}).Warn("Cleared the abandoned pending operations of a faulted node")
	return nil
}
