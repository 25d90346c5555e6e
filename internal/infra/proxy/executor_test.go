package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"toolgate/internal/domain"
	"toolgate/internal/infra/gating"
	"toolgate/internal/infra/registry"
)

type fakeInvoker struct {
	result  json.RawMessage
	err     error
	backend string
	tool    string
	calls   int
}

func (f *fakeInvoker) Invoke(_ context.Context, backend, toolName string, _ json.RawMessage) (json.RawMessage, error) {
	f.calls++
	f.backend = backend
	f.tool = toolName
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeUsage struct {
	bumped []string
}

func (f *fakeUsage) Bump(toolID string) { f.bumped = append(f.bumped, toolID) }

func newFixture(t *testing.T) (*Executor, *gating.Service, *fakeInvoker, *fakeUsage) {
	t.Helper()
	reg := registry.New(zap.NewNop())
	reg.ReplaceBackend("calcsrv", []domain.Tool{
		{ID: "calcsrv_add", Name: "add", Server: "calcsrv", EstimatedTokens: 10},
	})
	gate := gating.NewService(reg, nil, nil, zap.NewNop())
	invoker := &fakeInvoker{result: json.RawMessage(`{"ok":true}`)}
	usage := &fakeUsage{}
	return NewExecutor(gate, reg, invoker, usage, zap.NewNop()), gate, invoker, usage
}

func TestExecutePublishedTool(t *testing.T) {
	e, gate, invoker, usage := newFixture(t)
	_, err := gate.Provision([]string{"calcsrv_add"}, 10, 0)
	require.NoError(t, err)

	result, err := e.Execute(context.Background(), "calcsrv_add", json.RawMessage(`{"a":1}`))
	require.NoError(t, err)

	assert.JSONEq(t, `{"ok":true}`, string(result))
	assert.Equal(t, "calcsrv", invoker.backend)
	assert.Equal(t, "add", invoker.tool)
	assert.Equal(t, []string{"calcsrv_add"}, usage.bumped)
}

func TestExecuteNotProvisioned(t *testing.T) {
	e, _, invoker, _ := newFixture(t)

	// Registered but never provisioned.
	_, err := e.Execute(context.Background(), "calcsrv_add", nil)
	assert.ErrorIs(t, err, domain.ErrNotProvisioned)
	assert.Zero(t, invoker.calls)
}

func TestExecuteNotProvisionedForUnknownTool(t *testing.T) {
	e, _, invoker, _ := newFixture(t)

	// The gate answers before the registry: unknown ids also read as
	// not provisioned, never as a registry miss.
	_, err := e.Execute(context.Background(), "ghost_tool", nil)
	assert.ErrorIs(t, err, domain.ErrNotProvisioned)
	assert.NotErrorIs(t, err, domain.ErrUnknownTool)
	assert.Zero(t, invoker.calls)
}

func TestExecuteUnknownToolAfterPublish(t *testing.T) {
	reg := registry.New(zap.NewNop())
	reg.ReplaceBackend("calcsrv", []domain.Tool{
		{ID: "calcsrv_add", Name: "add", Server: "calcsrv", EstimatedTokens: 10},
	})
	gate := gating.NewService(reg, nil, nil, zap.NewNop())
	invoker := &fakeInvoker{}
	e := NewExecutor(gate, reg, invoker, nil, zap.NewNop())

	_, err := gate.Provision([]string{"calcsrv_add"}, 10, 0)
	require.NoError(t, err)

	// Tool vanishes from the registry but the gate was not pruned yet.
	reg.RemoveBackend("calcsrv")

	_, err = e.Execute(context.Background(), "calcsrv_add", nil)
	assert.ErrorIs(t, err, domain.ErrUnknownTool)
	assert.Zero(t, invoker.calls)
}

func TestExecuteWrapsBackendFailures(t *testing.T) {
	e, gate, invoker, usage := newFixture(t)
	_, err := gate.Provision([]string{"calcsrv_add"}, 10, 0)
	require.NoError(t, err)

	for _, backendErr := range []error{domain.ErrInvocationTimeout, domain.ErrBackendUnavailable} {
		invoker.err = backendErr

		_, err := e.Execute(context.Background(), "calcsrv_add", nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, backendErr)
		assert.NotErrorIs(t, err, domain.ErrNotProvisioned)
		assert.NotErrorIs(t, err, domain.ErrUnknownTool)
	}
	assert.Empty(t, usage.bumped)
}

func TestExecuteNoRetries(t *testing.T) {
	e, gate, invoker, _ := newFixture(t)
	_, err := gate.Provision([]string{"calcsrv_add"}, 10, 0)
	require.NoError(t, err)

	invoker.err = errors.New("transient")
	_, err = e.Execute(context.Background(), "calcsrv_add", nil)
	require.Error(t, err)
	assert.Equal(t, 1, invoker.calls)
}

func TestClearThenExecute(t *testing.T) {
	e, gate, _, _ := newFixture(t)
	_, err := gate.Provision([]string{"calcsrv_add"}, 10, 0)
	require.NoError(t, err)

	_, err = gate.Provision(nil, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, gate.Published())

	_, err = e.Execute(context.Background(), "calcsrv_add", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, domain.ErrNotProvisioned)
}
