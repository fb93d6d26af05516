package conductor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openstack/ironic-sub002/pkg/bmc"
	"github.com/openstack/ironic-sub002/pkg/node"
	"github.com/openstack/ironic-sub002/pkg/raid"
	"github.com/openstack/ironic-sub002/pkg/tracker"
	"github.com/openstack/ironic-sub002/pkg/workflow"
)

// recordingEngine captures workflow notifications for assertions
type recordingEngine struct {
	mu            sync.Mutex
	resumedClean  []string
	resumedDeploy []string
	cleanErrors   map[string]string
	deployErrors  map[string]string
}

var _ workflow.Engine = &recordingEngine{}

func newRecordingEngine() *recordingEngine {
	return &recordingEngine{cleanErrors: map[string]string{}, deployErrors: map[string]string{}}
}

func (e *recordingEngine) NotifyResumeClean(nodeID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resumedClean = append(e.resumedClean, nodeID)
}

func (e *recordingEngine) NotifyResumeDeploy(nodeID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resumedDeploy = append(e.resumedDeploy, nodeID)
}

func (e *recordingEngine) CleanError(nodeID, message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cleanErrors[nodeID] = message
}

func (e *recordingEngine) DeployError(nodeID, message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deployErrors[nodeID] = message
}

func waitingNode(kind node.StepKind) *node.Node {
	state := node.StateCleanWait
	if kind == node.StepKindDeploy {
		state = node.StateDeployWait
	}
	return &node.Node{
		ID:             "node-1",
		Driver:         node.DriverInfo{Endpoint: "https://bmc.example", Username: "root", Password: "calvin"},
		ProvisionState: state,
		CurrentStep:    &node.Step{Kind: kind, Interface: "raid", Name: "apply_configuration"},
	}
}

func withPendingCreate(n *node.Node, monitor string) *node.Node {
	n.SetPendingRAIDOps([]node.PendingOp{
		{Kind: node.OpCreate, TaskMonitor: monitor, SubmittedAt: time.Now(), Controller: "c0"},
	})
	n.SetRAIDPolling(true)
	n.SetSkipCurrentStep(true)
	return n
}

type fixture struct {
	store  *node.MemStore
	client *bmc.MockClient
	engine *recordingEngine
	mgr    *Manager
}

func newFixture(t *testing.T) *fixture {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	client := bmc.NewMockClient(ctrl)
	store := node.NewMemStore()
	engine := newRecordingEngine()
	mgr := New(store, tracker.New(client), engine, Options{})
	return &fixture{store: store, client: client, engine: engine, mgr: mgr}
}

func (f *fixture) nodeState(t *testing.T, id string) *node.Node {
	t.Helper()
	sess, err := f.store.Acquire(context.Background(), id, false)
	require.NoError(t, err)
	defer sess.Release()
	return sess.Node()
}

func TestCheckNode_ResolvedSetResumesCleaning(t *testing.T) {
	f := newFixture(t)
	f.store.Add(withPendingCreate(waitingNode(node.StepKindClean), "/taskmon/42"))

	f.client.EXPECT().GetTask(gomock.Any(), gomock.Any(), "/taskmon/42").
		Return(&bmc.Task{Succeeded: true}, nil)
	f.client.EXPECT().ListVolumes(gomock.Any(), gomock.Any()).
		Return([]bmc.Volume{{ID: "vol-1", Name: "os", Controller: "c0", Level: raid.Level1, SizeBytes: 40 << 30}}, nil)

	require.NoError(t, f.mgr.checkNode(node.PendingRAIDCreate, "node-1"))

	n := f.nodeState(t, "node-1")
	assert.False(t, n.HasAnyPending())
	assert.False(t, n.RAIDPolling())
	vols, err := n.RealizedVolumes()
	require.NoError(t, err)
	require.Len(t, vols, 1)
	assert.Equal(t, "vol-1", vols[0].ID)

	assert.Equal(t, []string{"node-1"}, f.engine.resumedClean)
	assert.Empty(t, f.engine.cleanErrors)
}

func TestCheckNode_MonitorGoneCountsAsSuccess(t *testing.T) {
	f := newFixture(t)
	f.store.Add(withPendingCreate(waitingNode(node.StepKindClean), "/taskmon/42"))

	f.client.EXPECT().GetTask(gomock.Any(), gomock.Any(), "/taskmon/42").
		Return(nil, bmc.ErrTaskNotFound)
	f.client.EXPECT().ListVolumes(gomock.Any(), gomock.Any()).
		Return([]bmc.Volume{}, nil)

	require.NoError(t, f.mgr.checkNode(node.PendingRAIDCreate, "node-1"))

	n := f.nodeState(t, "node-1")
	assert.False(t, n.HasAnyPending())
	assert.Equal(t, []string{"node-1"}, f.engine.resumedClean)
	assert.Empty(t, f.engine.cleanErrors)
}

func TestCheckNode_FailedTaskInvokesFailureHandler(t *testing.T) {
	f := newFixture(t)
	f.store.Add(withPendingCreate(waitingNode(node.StepKindClean), "/taskmon/42"))

	f.client.EXPECT().GetTask(gomock.Any(), gomock.Any(), "/taskmon/42").
		Return(&bmc.Task{Messages: []string{"Unable to configure the virtual disk"}}, nil)

	require.NoError(t, f.mgr.checkNode(node.PendingRAIDCreate, "node-1"))

	n := f.nodeState(t, "node-1")
	assert.False(t, n.HasAnyPending())
	assert.Empty(t, f.engine.resumedClean)
	assert.Contains(t, f.engine.cleanErrors["node-1"], "Unable to configure the virtual disk")
}

func TestCheckNode_DeployStepResumesDeploy(t *testing.T) {
	f := newFixture(t)
	f.store.Add(withPendingCreate(waitingNode(node.StepKindDeploy), "/taskmon/42"))

	f.client.EXPECT().GetTask(gomock.Any(), gomock.Any(), "/taskmon/42").
		Return(&bmc.Task{Succeeded: true}, nil)
	f.client.EXPECT().ListVolumes(gomock.Any(), gomock.Any()).
		Return([]bmc.Volume{}, nil)

	require.NoError(t, f.mgr.checkNode(node.PendingRAIDCreate, "node-1"))

	assert.Equal(t, []string{"node-1"}, f.engine.resumedDeploy)
	assert.Empty(t, f.engine.resumedClean)
}

func TestCheckNode_StillProcessingChangesNothing(t *testing.T) {
	f := newFixture(t)
	f.store.Add(withPendingCreate(waitingNode(node.StepKindClean), "/taskmon/42"))

	f.client.EXPECT().GetTask(gomock.Any(), gomock.Any(), "/taskmon/42").
		Return(&bmc.Task{IsProcessing: true}, nil)

	require.NoError(t, f.mgr.checkNode(node.PendingRAIDCreate, "node-1"))

	n := f.nodeState(t, "node-1")
	assert.True(t, n.HasPending(node.PendingRAIDCreate))
	assert.Empty(t, f.engine.resumedClean)
}

func TestCheckNode_SettleTimeSkipsThePoll(t *testing.T) {
	f := newFixture(t)
	n := waitingNode(node.StepKindClean)
	until := time.Now().Add(time.Hour)
	n.SetPendingRAIDOps([]node.PendingOp{
		{Kind: node.OpCreate, TaskMonitor: "/taskmon/42", SubmittedAt: time.Now(), Controller: "c0", WaitUntil: &until},
	})
	n.SetRAIDPolling(true)
	f.store.Add(n)

	// no GetTask expectation: the controller must not be polled yet
	require.NoError(t, f.mgr.checkNode(node.PendingRAIDCreate, "node-1"))

	assert.True(t, f.nodeState(t, "node-1").HasPending(node.PendingRAIDCreate))
}

func TestCheckNode_LockedNodeIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.store.Add(withPendingCreate(waitingNode(node.StepKindClean), "/taskmon/42"))

	holder, err := f.store.Acquire(context.Background(), "node-1", true)
	require.NoError(t, err)
	defer holder.Release()

	// no client expectations: the locked node is left for the next tick
	require.NoError(t, f.mgr.checkNode(node.PendingRAIDCreate, "node-1"))
	assert.Empty(t, f.engine.resumedClean)
}

func TestCheckNode_TransientErrorKeepsThePendingSet(t *testing.T) {
	f := newFixture(t)
	f.store.Add(withPendingCreate(waitingNode(node.StepKindClean), "/taskmon/42"))

	f.client.EXPECT().GetTask(gomock.Any(), gomock.Any(), "/taskmon/42").
		Return(nil, &bmc.TransientError{Err: context.DeadlineExceeded})

	require.NoError(t, f.mgr.checkNode(node.PendingRAIDCreate, "node-1"))

	assert.True(t, f.nodeState(t, "node-1").HasPending(node.PendingRAIDCreate))
	assert.Empty(t, f.engine.cleanErrors)
}

func TestCheckNode_ResolvedOpsRemovedIndividually(t *testing.T) {
	f := newFixture(t)
	n := waitingNode(node.StepKindClean)
	n.SetPendingRAIDOps([]node.PendingOp{
		{Kind: node.OpCreate, TaskMonitor: "/taskmon/1", SubmittedAt: time.Now(), Controller: "c0"},
		{Kind: node.OpCreate, TaskMonitor: "/taskmon/2", SubmittedAt: time.Now(), Controller: "c0"},
	})
	n.SetRAIDPolling(true)
	f.store.Add(n)

	// the finished monitor is polled exactly once across both ticks
	f.client.EXPECT().GetTask(gomock.Any(), gomock.Any(), "/taskmon/1").
		Return(&bmc.Task{Succeeded: true}, nil)
	f.client.EXPECT().GetTask(gomock.Any(), gomock.Any(), "/taskmon/2").
		Return(&bmc.Task{IsProcessing: true}, nil).Times(2)

	require.NoError(t, f.mgr.checkNode(node.PendingRAIDCreate, "node-1"))

	got := f.nodeState(t, "node-1")
	ops, err := got.PendingRAIDOps()
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "/taskmon/2", ops[0].TaskMonitor)
	assert.True(t, got.RAIDPolling())
	assert.Empty(t, f.engine.resumedClean)

	require.NoError(t, f.mgr.checkNode(node.PendingRAIDCreate, "node-1"))
	assert.Empty(t, f.engine.resumedClean)
}

func TestCheckNode_OtherRAIDClassStillInFlight(t *testing.T) {
	f := newFixture(t)
	n := waitingNode(node.StepKindClean)
	n.SetPendingRAIDOps([]node.PendingOp{
		{Kind: node.OpDelete, TaskMonitor: "/taskmon/del", SubmittedAt: time.Now(), DeleteAll: true},
		{Kind: node.OpCreate, TaskMonitor: "/taskmon/new", SubmittedAt: time.Now(), Controller: "c0"},
	})
	n.SetRAIDPolling(true)
	f.store.Add(n)

	f.client.EXPECT().GetTask(gomock.Any(), gomock.Any(), "/taskmon/del").
		Return(&bmc.Task{Succeeded: true}, nil)

	require.NoError(t, f.mgr.checkNode(node.PendingRAIDDelete, "node-1"))

	got := f.nodeState(t, "node-1")
	assert.False(t, got.HasPending(node.PendingRAIDDelete))
	assert.True(t, got.HasPending(node.PendingRAIDCreate))
	assert.True(t, got.RAIDPolling())
	// the workflow resumes only when the whole raid set is done
	assert.Empty(t, f.engine.resumedClean)
}

func TestCheckNode_NotInWaitState(t *testing.T) {
	f := newFixture(t)
	n := withPendingCreate(waitingNode(node.StepKindClean), "/taskmon/42")
	n.ProvisionState = node.StateCleaning
	f.store.Add(n)

	require.NoError(t, f.mgr.checkNode(node.PendingRAIDCreate, "node-1"))
	assert.True(t, f.nodeState(t, "node-1").HasPending(node.PendingRAIDCreate))
}

func TestCheckNode_FirmwareSetResolves(t *testing.T) {
	f := newFixture(t)
	n := waitingNode(node.StepKindClean)
	n.SetPendingFirmwareOps([]node.PendingOp{
		{Kind: node.OpCreate, TaskMonitor: "/taskmon/fw-1", SubmittedAt: time.Now()},
	})
	n.SetFirmwarePolling(true)
	f.store.Add(n)

	// no ListVolumes expectation: only the raid classes snapshot the
	// applied configuration
	f.client.EXPECT().GetTask(gomock.Any(), gomock.Any(), "/taskmon/fw-1").
		Return(&bmc.Task{Succeeded: true}, nil)

	require.NoError(t, f.mgr.checkNode(node.PendingFirmware, "node-1"))

	got := f.nodeState(t, "node-1")
	assert.False(t, got.HasPending(node.PendingFirmware))
	assert.False(t, got.FirmwarePolling())
	assert.Equal(t, []string{"node-1"}, f.engine.resumedClean)
}

func TestCheckNode_BIOSFailureInvokesFailureHandler(t *testing.T) {
	f := newFixture(t)
	n := waitingNode(node.StepKindClean)
	n.SetPendingBIOSOps([]node.PendingOp{
		{Kind: node.OpCreate, TaskMonitor: "/taskmon/bios-1", SubmittedAt: time.Now()},
	})
	n.SetBIOSPolling(true)
	f.store.Add(n)

	f.client.EXPECT().GetTask(gomock.Any(), gomock.Any(), "/taskmon/bios-1").
		Return(&bmc.Task{Messages: []string{"Invalid attribute BootMode"}}, nil)

	require.NoError(t, f.mgr.checkNode(node.PendingBIOS, "node-1"))

	got := f.nodeState(t, "node-1")
	assert.False(t, got.HasPending(node.PendingBIOS))
	assert.False(t, got.BIOSPolling())
	assert.Empty(t, f.engine.resumedClean)
	assert.Contains(t, f.engine.cleanErrors["node-1"], "Invalid attribute BootMode")
}

func TestSweepNode_ClearsAbandonedOperations(t *testing.T) {
	f := newFixture(t)
	n := withPendingCreate(waitingNode(node.StepKindClean), "/taskmon/42")
	n.Maintenance = true
	n.Fault = "clean failure"
	n.SetPendingRAIDOps([]node.PendingOp{
		{Kind: node.OpCreate, TaskMonitor: "/taskmon/42", SubmittedAt: time.Now().Add(-2 * time.Hour), Controller: "c0"},
	})
	f.store.Add(n)

	require.NoError(t, f.mgr.sweepNode("node-1"))

	got := f.nodeState(t, "node-1")
	assert.False(t, got.HasAnyPending())
	assert.False(t, got.RAIDPolling())
	assert.False(t, got.SkipCurrentStep())
}

func TestSweepNode_LeavesHealthyNodesAlone(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		mutate func(n *node.Node)
	}{
		{name: "not in maintenance", mutate: func(n *node.Node) {}},
		{name: "no fault recorded", mutate: func(n *node.Node) { n.Maintenance = true }},
		{
			name: "within the grace period",
			mutate: func(n *node.Node) {
				n.Maintenance = true
				n.Fault = "clean failure"
				n.SetPendingRAIDOps([]node.PendingOp{
					{Kind: node.OpCreate, TaskMonitor: "/taskmon/42", SubmittedAt: time.Now(), Controller: "c0"},
				})
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := withPendingCreate(waitingNode(node.StepKindClean), "/taskmon/42")
			n.ID = "node-" + tt.name
			tt.mutate(n)
			f.store.Add(n)

			require.NoError(t, f.mgr.sweepNode(n.ID))
			assert.True(t, f.nodeState(t, n.ID).HasAnyPending())
		})
	}
}

func TestScan_EnqueuesOnlyPendingNodes(t *testing.T) {
	f := newFixture(t)
	f.store.Add(withPendingCreate(waitingNode(node.StepKindClean), "/taskmon/42"))
	idle := waitingNode(node.StepKindClean)
	idle.ID = "node-idle"
	f.store.Add(idle)

	f.mgr.scan()

	assert.Equal(t, 1, f.mgr.queues[node.PendingRAIDCreate].Len())
	assert.Equal(t, 0, f.mgr.queues[node.PendingRAIDDelete].Len())
	assert.Equal(t, 0, f.mgr.queues[node.PendingFirmware].Len())
}
