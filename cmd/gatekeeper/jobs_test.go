package main

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/platinummonkey/gatekeeper/pkg/config"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/sso"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHandle struct {
	config sso.ConnectionConfig
}

func (h *stubHandle) Config() sso.ConnectionConfig { return h.config }
func (h *stubHandle) Close() error                 { return nil }

func completeEnv(key string) (string, bool) {
	values := map[string]string{
		sso.EnvURL:          "https://sso.example.com/auth",
		sso.EnvUsername:     "admin",
		sso.EnvPassword:     "secret",
		sso.EnvClientID:     "admin-cli",
		sso.EnvClientSecret: "client-secret",
		sso.EnvRealm:        "sunbird",
	}
	v, ok := values[key]
	return v, ok
}

// flakyBuilder fails until ready is set
type flakyBuilder struct {
	ready  atomic.Bool
	builds atomic.Int32
}

func (b *flakyBuilder) Build(config sso.ConnectionConfig) (sso.Handle, error) {
	b.builds.Add(1)
	if !b.ready.Load() {
		return nil, errors.New("keycloak unreachable")
	}
	return &stubHandle{config: config}, nil
}

func TestReconnectSSO(t *testing.T) {
	logger := observability.NewNopLogger()
	builder := &flakyBuilder{}
	manager := sso.NewManager(sso.WithEnv(completeEnv), sso.WithBuilder(builder))

	reconnectSSO(manager, logger)
	assert.False(t, manager.Connected())
	assert.Equal(t, int32(1), builder.builds.Load())

	builder.ready.Store(true)
	reconnectSSO(manager, logger)
	assert.True(t, manager.Connected())
	assert.Equal(t, int32(2), builder.builds.Load())

	// A ready manager is left alone
	reconnectSSO(manager, logger)
	assert.Equal(t, int32(2), builder.builds.Load())

	// A closed manager is never reopened
	require.NoError(t, manager.Shutdown(context.Background()))
	reconnectSSO(manager, logger)
	assert.False(t, manager.Connected())
	assert.Equal(t, int32(2), builder.builds.Load())
}

type countingPruner struct {
	calls   int
	removed int
}

func (p *countingPruner) RemoveUnhealthyReplicas(ctx context.Context) int {
	p.calls++
	return p.removed
}

func TestPruneReplicas(t *testing.T) {
	p := &countingPruner{removed: 1}
	pruneReplicas(p, observability.NewNopLogger())
	assert.Equal(t, 1, p.calls)
}

func TestNewScheduler(t *testing.T) {
	logger := observability.NewNopLogger()
	manager := sso.NewManager(sso.WithEnv(completeEnv), sso.WithBuilder(&flakyBuilder{}))

	c, err := newScheduler(config.JobsConfig{SSOReconnect: "@every 1m", ReplicaHealth: "@every 30s"}, manager, &countingPruner{}, logger)
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 2)

	c, err = newScheduler(config.JobsConfig{SSOReconnect: "@every 1m", ReplicaHealth: "@every 30s"}, manager, nil, logger)
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 1)

	c, err = newScheduler(config.JobsConfig{}, manager, &countingPruner{}, logger)
	require.NoError(t, err)
	assert.Empty(t, c.Entries())

	_, err = newScheduler(config.JobsConfig{SSOReconnect: "whenever"}, manager, nil, logger)
	assert.ErrorContains(t, err, "sso reconnect")
}
