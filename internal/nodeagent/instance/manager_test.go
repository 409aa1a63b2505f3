package instance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mo3789530/wasmatrix/internal/domain"
	"github.com/mo3789530/wasmatrix/internal/logging"
	"github.com/mo3789530/wasmatrix/internal/nodeagent/engine"
)

var validModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func testManager(t *testing.T, maxInstances int) *Manager {
	t.Helper()
	log := logging.New("test", logging.Config{Level: "fatal"})
	return NewManager(engine.NewInMemoryEngine(), log, nil, maxInstances)
}

func TestManagerStartStopLifecycle(t *testing.T) {
	m := testManager(t, 0)
	ctx := context.Background()

	require.NoError(t, m.StartInstance(ctx, "inst-1", validModule, nil, domain.DefaultRestartPolicy()))

	assert.Equal(t, domain.StatusRunning, m.Status("inst-1"))

	t.Run("duplicate instance_id rejected", func(t *testing.T) {
		err := m.StartInstance(ctx, "inst-1", validModule, nil, domain.DefaultRestartPolicy())
		assert.Error(t, err)
	})

	require.NoError(t, m.StopInstance("inst-1"))
	assert.Equal(t, domain.StatusStopped, m.Status("inst-1"))

	t.Run("stopping an already-stopped instance is idempotent", func(t *testing.T) {
		assert.NoError(t, m.StopInstance("inst-1"))
	})

	t.Run("stopping an unknown instance is not found", func(t *testing.T) {
		err := m.StopInstance("does-not-exist")
		assert.Error(t, err)
	})
}

func TestManagerMaxInstances(t *testing.T) {
	m := testManager(t, 1)
	ctx := context.Background()

	require.NoError(t, m.StartInstance(ctx, "inst-1", validModule, nil, domain.DefaultRestartPolicy()))
	err := m.StartInstance(ctx, "inst-2", validModule, nil, domain.DefaultRestartPolicy())
	assert.Error(t, err)
}

func TestManagerCrashRecoveryPreservesCount(t *testing.T) {
	m := testManager(t, 0)
	ctx := context.Background()
	require.NoError(t, m.StartInstance(ctx, "inst-1", validModule, nil, domain.DefaultRestartPolicy()))

	_, restart, err := m.OnCrash("inst-1", "panic")
	require.NoError(t, err)
	assert.False(t, restart) // default policy is Never

	assert.Equal(t, domain.StatusCrashed, m.Status("inst-1"))
	assert.Equal(t, uint32(1), m.CrashInfo("inst-1").CrashCount)

	require.NoError(t, m.RestartInstance(ctx, "inst-1"))
	assert.Equal(t, domain.StatusRunning, m.Status("inst-1"))
	assert.Equal(t, uint32(1), m.CrashInfo("inst-1").CrashCount, "restart must not reset crash history")

	var types []domain.ExecutionEventType
	for _, e := range m.Events().ForInstance("inst-1") {
		types = append(types, e.EventType)
	}
	assert.Equal(t, []domain.ExecutionEventType{
		domain.EventInstanceStarted,
		domain.EventInstanceCrashed,
		domain.EventInstanceStopped,
		domain.EventInstanceStarted,
		domain.EventInstanceRestarted,
	}, types, "restart is recorded as stop+start+restart of the same id")
}

func TestManagerStatusPrecedence(t *testing.T) {
	m := testManager(t, 0)
	ctx := context.Background()
	require.NoError(t, m.StartInstance(ctx, "inst-1", validModule, nil, domain.DefaultRestartPolicy()))
	require.NoError(t, m.StopInstance("inst-1"))
	_, _, err := m.OnCrash("inst-1", "panic")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCrashed, m.Status("inst-1"), "crashed marker outranks stopped entry")

	meta, err := m.Metadata("inst-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCrashed, meta.Status)
}

func TestManagerGC(t *testing.T) {
	m := testManager(t, 0)
	ctx := context.Background()
	require.NoError(t, m.StartInstance(ctx, "inst-old", validModule, nil, domain.DefaultRestartPolicy()))
	require.NoError(t, m.StopInstance("inst-old"))

	retired := m.GC(time.Now().Add(time.Hour))
	assert.Equal(t, 1, retired)

	assert.Equal(t, domain.StatusStopped, m.Status("inst-old"), "a gc'd id reads as stopped, like any unknown id")
	assert.Zero(t, m.CrashInfo("inst-old").CrashCount)
}

func TestManagerListAndModuleHashStability(t *testing.T) {
	m := testManager(t, 0)
	ctx := context.Background()
	require.NoError(t, m.StartInstance(ctx, "inst-1", validModule, nil, domain.DefaultRestartPolicy()))

	list := m.List()
	require.Len(t, list, 1)
	assert.Equal(t, "inst-1", list[0].InstanceID)
	assert.NotEmpty(t, list[0].ModuleHash)
}

func TestManagerStopClearsCrashMarker(t *testing.T) {
	m := testManager(t, 0)
	ctx := context.Background()
	require.NoError(t, m.StartInstance(ctx, "inst-1", validModule, nil, domain.DefaultRestartPolicy()))

	_, _, err := m.OnCrash("inst-1", "panic")
	require.NoError(t, err)
	require.Equal(t, domain.StatusCrashed, m.Status("inst-1"))

	require.NoError(t, m.StopInstance("inst-1"))
	assert.Equal(t, domain.StatusStopped, m.Status("inst-1"), "stop removes the crash marker")
	assert.Equal(t, uint32(1), m.CrashInfo("inst-1").CrashCount, "crash history is independent of the marker")
}

func TestManagerCrashedInstanceListedOnce(t *testing.T) {
	m := testManager(t, 0)
	ctx := context.Background()
	require.NoError(t, m.StartInstance(ctx, "inst-1", validModule, nil, domain.DefaultRestartPolicy()))
	_, _, err := m.OnCrash("inst-1", "panic")
	require.NoError(t, err)

	list := m.List()
	require.Len(t, list, 1)
	assert.Equal(t, domain.StatusCrashed, list[0].Status)
}
