package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mo3789530/wasmatrix/internal/domain"
)

type stubInvoker struct {
	result string
	err    error
}

func (s stubInvoker) Invoke(ctx context.Context, req Request) (string, error) {
	return s.result, s.err
}

func TestDispatcherRoutesByProviderType(t *testing.T) {
	d := NewDispatcher(map[domain.ProviderType]Invoker{
		domain.ProviderKv: stubInvoker{result: `{"ok":true}`},
	})

	result, err := d.Invoke(context.Background(), Request{ProviderType: domain.ProviderKv, Operation: "get"})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, result)
}

func TestDispatcherFallsBackToNoop(t *testing.T) {
	d := NewDispatcher(nil)
	result, err := d.Invoke(context.Background(), Request{ProviderType: domain.ProviderHttp, Operation: "request", ParamsJSON: "{}"})
	require.NoError(t, err)
	assert.Contains(t, result, "http")
}

func TestDispatcherPropagatesInvokerError(t *testing.T) {
	d := NewDispatcher(map[domain.ProviderType]Invoker{
		domain.ProviderMessaging: stubInvoker{err: errors.New("broker unreachable")},
	})
	_, err := d.Invoke(context.Background(), Request{ProviderType: domain.ProviderMessaging, Operation: "publish"})
	assert.Error(t, err)
}
