package routing

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mo3789530/wasmatrix/internal/controlplane/state"
	"github.com/mo3789530/wasmatrix/internal/domain"
	"github.com/mo3789530/wasmatrix/internal/logging"
	"github.com/mo3789530/wasmatrix/internal/wire"
)

var validModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// fakeTransport is a scriptable NodeTransport: each method looks up its
// response/error by node address, falling back to a zero-value success.
type fakeTransport struct {
	mu sync.Mutex

	startErr  map[string]error
	startResp map[string]wire.StartInstanceResponse

	stopErr  map[string]error
	stopResp map[string]wire.StopInstanceResponse

	queryResp map[string]wire.QueryInstanceResponse
	queryErr  map[string]error

	listResp map[string]wire.ListInstancesResponse
	listErr  map[string]error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		startErr:  map[string]error{},
		startResp: map[string]wire.StartInstanceResponse{},
		stopErr:   map[string]error{},
		stopResp:  map[string]wire.StopInstanceResponse{},
		queryResp: map[string]wire.QueryInstanceResponse{},
		queryErr:  map[string]error{},
		listResp:  map[string]wire.ListInstancesResponse{},
		listErr:   map[string]error{},
	}
}

func (f *fakeTransport) StartInstance(_ context.Context, address string, _ wire.StartInstanceRequest) (wire.StartInstanceResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.startErr[address]; ok {
		return wire.StartInstanceResponse{}, err
	}
	if resp, ok := f.startResp[address]; ok {
		return resp, nil
	}
	return wire.StartInstanceResponse{Success: true}, nil
}

func (f *fakeTransport) StopInstance(_ context.Context, address, _ string) (wire.StopInstanceResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.stopErr[address]; ok {
		return wire.StopInstanceResponse{}, err
	}
	if resp, ok := f.stopResp[address]; ok {
		return resp, nil
	}
	return wire.StopInstanceResponse{Success: true}, nil
}

func (f *fakeTransport) QueryInstance(_ context.Context, address, _ string) (wire.QueryInstanceResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.queryErr[address]; ok {
		return wire.QueryInstanceResponse{}, err
	}
	return f.queryResp[address], nil
}

func (f *fakeTransport) ListInstances(_ context.Context, address string) (wire.ListInstancesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.listErr[address]; ok {
		return wire.ListInstancesResponse{}, err
	}
	return f.listResp[address], nil
}

var _ NodeTransport = (*fakeTransport)(nil)

func newTestService(transport NodeTransport) *Service {
	return New(NewRepository(), state.New(), transport, logging.NewDefault("routing-test"), nil)
}

func TestServiceRegisterNodeRecoversExistingInstances(t *testing.T) {
	transport := newFakeTransport()
	svc := newTestService(transport)

	transport.listResp["http://node-1:7070"] = wire.ListInstancesResponse{
		Success: true,
		Instances: []wire.InstanceMetadata{
			{InstanceID: "inst-1", ModuleHash: "abc", Status: wire.InstanceStatusRunning},
		},
	}

	require.NoError(t, svc.RegisterNode(context.Background(), "node-1", "node-1:7070", nil, 10))

	nodeID, ok := svc.repo.NodeForInstance("inst-1")
	require.True(t, ok)
	assert.Equal(t, "node-1", nodeID)

	rec, _ := svc.repo.Get("node-1")
	assert.Equal(t, uint32(1), rec.ActiveInstances)
}

func TestServiceRegisterNodeToleratesListInstancesFailure(t *testing.T) {
	transport := newFakeTransport()
	svc := newTestService(transport)
	transport.listErr["http://node-1:7070"] = assertErr{}

	assert.NoError(t, svc.RegisterNode(context.Background(), "node-1", "node-1:7070", nil, 10))
}

type assertErr struct{}

func (assertErr) Error() string { return "transport unavailable" }

func TestServiceStartInstanceNoCandidates(t *testing.T) {
	svc := newTestService(newFakeTransport())
	_, err := svc.StartInstance(context.Background(), validModule, nil, domain.RestartPolicy{Type: domain.RestartAlways}, nil)
	assert.Error(t, err)
}

func TestServiceStartInstanceFallsThroughFailingCandidates(t *testing.T) {
	transport := newFakeTransport()
	svc := newTestService(transport)
	require.NoError(t, svc.RegisterNode(context.Background(), "bad", "bad:7070", nil, 10))
	require.NoError(t, svc.RegisterNode(context.Background(), "good", "good:7070", nil, 10))
	// One active instance on "good" sorts "bad" (zero active) first, so the
	// failing candidate is always tried before the working one.
	svc.repo.IncrementActive("good")

	transport.startErr["http://bad:7070"] = assertErr{}

	instanceID, err := svc.StartInstance(context.Background(), validModule, nil, domain.RestartPolicy{Type: domain.RestartAlways}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, instanceID)

	nodeID, ok := svc.repo.NodeForInstance(instanceID)
	require.True(t, ok)
	assert.Equal(t, "good", nodeID)

	badRec, _ := svc.repo.Get("bad")
	assert.False(t, badRec.Available, "a node whose transport failed is marked unavailable")
}

func TestServiceStartInstanceAllCandidatesFail(t *testing.T) {
	transport := newFakeTransport()
	svc := newTestService(transport)
	require.NoError(t, svc.RegisterNode(context.Background(), "node-1", "node-1:7070", nil, 10))
	transport.startErr["http://node-1:7070"] = assertErr{}

	_, err := svc.StartInstance(context.Background(), validModule, nil, domain.RestartPolicy{Type: domain.RestartAlways}, nil)
	assert.Error(t, err)
}

func TestServiceStopInstanceUnknownInstance(t *testing.T) {
	svc := newTestService(newFakeTransport())
	err := svc.StopInstance(context.Background(), "ghost")
	assert.Error(t, err)
}

func TestServiceStopInstanceNotFoundIsIdempotentSuccess(t *testing.T) {
	transport := newFakeTransport()
	svc := newTestService(transport)
	require.NoError(t, svc.RegisterNode(context.Background(), "node-1", "node-1:7070", nil, 10))
	svc.repo.AssignInstance("inst-1", "node-1")

	transport.stopResp["http://node-1:7070"] = wire.StopInstanceResponse{Success: false, ErrorCode: "INSTANCE_NOT_FOUND"}

	require.NoError(t, svc.StopInstance(context.Background(), "inst-1"))
	_, ok := svc.repo.NodeForInstance("inst-1")
	assert.False(t, ok)
}

func TestServiceStopInstanceTransportFailure(t *testing.T) {
	transport := newFakeTransport()
	svc := newTestService(transport)
	require.NoError(t, svc.RegisterNode(context.Background(), "node-1", "node-1:7070", nil, 10))
	svc.repo.AssignInstance("inst-1", "node-1")
	transport.stopErr["http://node-1:7070"] = assertErr{}

	err := svc.StopInstance(context.Background(), "inst-1")
	assert.Error(t, err)
}

func TestServiceQueryInstance(t *testing.T) {
	transport := newFakeTransport()
	svc := newTestService(transport)
	require.NoError(t, svc.RegisterNode(context.Background(), "node-1", "node-1:7070", nil, 10))
	svc.repo.AssignInstance("inst-1", "node-1")

	transport.queryResp["http://node-1:7070"] = wire.QueryInstanceResponse{
		Success:  true,
		Instance: &wire.InstanceMetadata{InstanceID: "inst-1", Status: wire.InstanceStatusRunning},
	}

	meta, err := svc.QueryInstance(context.Background(), "inst-1")
	require.NoError(t, err)
	assert.Equal(t, "inst-1", meta.InstanceID)
	assert.Equal(t, domain.StatusRunning, meta.Status)
}

func TestServiceListInstancesFanOut(t *testing.T) {
	transport := newFakeTransport()
	svc := newTestService(transport)
	require.NoError(t, svc.RegisterNode(context.Background(), "node-1", "node-1:7070", nil, 10))
	require.NoError(t, svc.RegisterNode(context.Background(), "node-2", "node-2:7070", nil, 10))

	transport.listResp["http://node-1:7070"] = wire.ListInstancesResponse{
		Success:   true,
		Instances: []wire.InstanceMetadata{{InstanceID: "a", Status: wire.InstanceStatusRunning}},
	}
	transport.listResp["http://node-2:7070"] = wire.ListInstancesResponse{
		Success:   true,
		Instances: []wire.InstanceMetadata{{InstanceID: "b", Status: wire.InstanceStatusRunning}},
	}

	got := svc.ListInstances(context.Background())
	ids := map[string]bool{}
	for _, m := range got {
		ids[m.InstanceID] = true
	}
	assert.True(t, ids["a"])
	assert.True(t, ids["b"])
}

func TestServiceApplyHeartbeatUnknownNode(t *testing.T) {
	svc := newTestService(newFakeTransport())
	err := svc.ApplyHeartbeat(wire.StatusReport{NodeID: "ghost"})
	assert.Error(t, err)
}

func TestServiceApplyHeartbeatUpdatesInstanceStatus(t *testing.T) {
	transport := newFakeTransport()
	svc := newTestService(transport)
	require.NoError(t, svc.RegisterNode(context.Background(), "node-1", "node-1:7070", nil, 10))

	instanceID, err := svc.store.StartInstance(validModule, nil)
	require.NoError(t, err)

	report := wire.StatusReport{
		NodeID:    "node-1",
		Timestamp: 1,
		InstanceUpdates: []wire.InstanceStatusUpdate{
			{InstanceID: instanceID, Status: wire.InstanceStatusRunning},
		},
	}
	require.NoError(t, svc.ApplyHeartbeat(report))

	meta, err := svc.store.QueryInstance(instanceID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, meta.Status)
}

func TestServiceApplyHeartbeatSkipsUnknownInstance(t *testing.T) {
	transport := newFakeTransport()
	svc := newTestService(transport)
	require.NoError(t, svc.RegisterNode(context.Background(), "node-1", "node-1:7070", nil, 10))

	report := wire.StatusReport{
		NodeID:    "node-1",
		Timestamp: 1,
		InstanceUpdates: []wire.InstanceStatusUpdate{
			{InstanceID: "ghost", Status: wire.InstanceStatusRunning},
		},
	}
	assert.NoError(t, svc.ApplyHeartbeat(report))
}

func TestServiceStatusReportSequence(t *testing.T) {
	transport := newFakeTransport()
	svc := newTestService(transport)
	ctx := context.Background()

	require.NoError(t, svc.RegisterNode(ctx, "node-1", "node-1:7070", nil, 10))

	instanceID, err := svc.StartInstance(ctx, validModule, nil, domain.DefaultRestartPolicy(), nil)
	require.NoError(t, err)

	sequence := []wire.InstanceStatus{
		wire.InstanceStatusStarting,
		wire.InstanceStatusRunning,
		wire.InstanceStatusCrashed,
		wire.InstanceStatusStopped,
	}
	for i, status := range sequence {
		report := wire.StatusReport{
			NodeID:    "node-1",
			Timestamp: int64(1700000000 + i),
			InstanceUpdates: []wire.InstanceStatusUpdate{
				{InstanceID: instanceID, Status: status},
			},
		}
		require.NoError(t, svc.ApplyHeartbeat(report))
	}

	meta, err := svc.store.QueryInstance(instanceID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStopped, meta.Status, "final reported status wins")
}

func TestServiceRegisterProvider(t *testing.T) {
	svc := newTestService(newFakeTransport())
	ctx := context.Background()

	require.NoError(t, svc.RegisterProvider(ctx, "kv-main", domain.ProviderKv, "node-1"))

	meta, ok := svc.repo.ProviderMeta("kv-main")
	require.True(t, ok)
	assert.Equal(t, domain.ProviderKv, meta.ProviderType)
	assert.Equal(t, "node-1", meta.NodeID)

	t.Run("empty provider_id rejected", func(t *testing.T) {
		assert.Error(t, svc.RegisterProvider(ctx, "", domain.ProviderKv, "node-1"))
	})
}
