package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/gatekeeper/pkg/config"
	"github.com/platinummonkey/gatekeeper/pkg/middleware"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/sso"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadProperties(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := observability.NewNopLogger()

	props, err := loadProperties(ctx, config.SSOConfig{}, logger)
	require.NoError(t, err)
	assert.Nil(t, props)

	path := filepath.Join(t.TempDir(), "sso.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sso:\n  url: https://sso.example.com/auth\n"), 0o600))

	props, err = loadProperties(ctx, config.SSOConfig{PropertiesFile: path, WatchProperties: true}, logger)
	require.NoError(t, err)
	value, ok := props.GetProperty("sso.url")
	assert.True(t, ok)
	assert.Equal(t, "https://sso.example.com/auth", value)

	_, err = loadProperties(ctx, config.SSOConfig{PropertiesFile: filepath.Join(t.TempDir(), "missing.yaml")}, logger)
	assert.Error(t, err)
}

func TestNewSSOManager(t *testing.T) {
	logger := observability.NewNopLogger()

	manager, err := newSSOManager(config.SSOConfig{}, nil, logger, nil)
	require.NoError(t, err)
	assert.Equal(t, sso.StateUninitialized, manager.State())

	_, err = newSSOManager(config.SSOConfig{CACertFile: filepath.Join(t.TempDir(), "missing.pem")}, nil, logger, nil)
	assert.ErrorContains(t, err, "CA certificate")
}

func TestNewRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := observability.NewNopLogger()

	assert.Nil(t, newRateLimiter(ctx, config.RateLimitConfig{}, &storeStack{}, logger))

	limiter := newRateLimiter(ctx, config.RateLimitConfig{RequestsPerMinute: 10, Distributed: true}, &storeStack{}, logger)
	_, ok := limiter.(*middleware.RateLimiter)
	assert.True(t, ok, "falls back to the in-process limiter without redis")

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	limiter = newRateLimiter(ctx, config.RateLimitConfig{RequestsPerMinute: 10, Burst: 5, Distributed: true}, &storeStack{redis: client}, logger)
	_, ok = limiter.(*middleware.DistributedRateLimiter)
	require.True(t, ok)
	assert.Equal(t, 15, limiter.Config().RequestsPerWindow+limiter.Config().BurstSize)
}
