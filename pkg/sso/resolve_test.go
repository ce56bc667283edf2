package sso

import (
	"testing"

	"github.com/platinummonkey/gatekeeper/pkg/properties"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// envMap builds a LookupFunc from a map
func envMap(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func completeEnv() map[string]string {
	return map[string]string{
		EnvURL:      "https://sso.example.com/auth",
		EnvUsername: "svc",
		EnvPassword: "pw",
		EnvClientID: "gateway",
		EnvRealm:    "sunbird",
	}
}

func completeProps() properties.MapCache {
	return properties.MapCache{
		PropURL:      "https://props.example.com/auth",
		PropRealm:    "master",
		PropUsername: "admin",
		PropPassword: "secret",
		PropClientID: "admin-cli",
		PropPoolSize: "10",
	}
}

// spyProperties records every key read
type spyProperties struct {
	properties.Cache
	reads []string
}

func (s *spyProperties) GetProperty(key string) (string, bool) {
	s.reads = append(s.reads, key)
	if s.Cache == nil {
		return "", false
	}
	return s.Cache.GetProperty(key)
}

func TestFromEnvironment_Complete(t *testing.T) {
	env := completeEnv()
	env[EnvClientSecret] = "s3cret"

	config, ok, err := fromEnvironment(envMap(env))
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, GrantClientCredentials, config.GrantType)
	assert.Equal(t, "https://sso.example.com/auth", config.ServerURL)
	assert.Equal(t, "sunbird", config.Realm)
	assert.Equal(t, "gateway", config.ClientID)
	assert.Equal(t, "s3cret", config.ClientSecret)
	assert.Equal(t, DefaultPoolSize, config.PoolSize)
}

func TestFromEnvironment_MissingAnyRequiredField(t *testing.T) {
	for _, key := range []string{EnvURL, EnvUsername, EnvPassword, EnvClientID, EnvRealm} {
		t.Run(key+" unset", func(t *testing.T) {
			env := completeEnv()
			delete(env, key)
			_, ok, err := fromEnvironment(envMap(env))
			assert.NoError(t, err)
			assert.False(t, ok)
		})
		t.Run(key+" whitespace", func(t *testing.T) {
			env := completeEnv()
			env[key] = "  \t"
			_, ok, err := fromEnvironment(envMap(env))
			assert.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestFromEnvironment_SecretAndPoolSize(t *testing.T) {
	env := completeEnv()
	env[EnvClientSecret] = "   "
	env[EnvPoolSize] = "5"

	config, ok, err := fromEnvironment(envMap(env))
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, config.HasSecret(), "blank secret is not attached")
	assert.Equal(t, 5, config.PoolSize)

	env[EnvPoolSize] = "many"
	_, ok, err = fromEnvironment(envMap(env))
	assert.True(t, ok)
	assert.ErrorIs(t, err, ErrInvalidPoolSize)
}

func TestFromProperties(t *testing.T) {
	config, err := fromProperties(completeProps())
	require.NoError(t, err)

	assert.Equal(t, GrantPassword, config.GrantType)
	assert.Equal(t, "https://props.example.com/auth", config.ServerURL)
	assert.Equal(t, "master", config.Realm)
	assert.Equal(t, "admin", config.Username)
	assert.Equal(t, "secret", config.Password)
	assert.Equal(t, "admin-cli", config.ClientID)
	assert.Equal(t, 10, config.PoolSize)
	assert.False(t, config.HasSecret())
}

func TestFromProperties_Secret(t *testing.T) {
	tests := []struct {
		name   string
		secret *string
		want   string
	}{
		{name: "absent", secret: nil, want: ""},
		{name: "placeholder sentinel", secret: strPtr(PropClientSecret), want: ""},
		{name: "blank", secret: strPtr(""), want: ""},
		{name: "real value", secret: strPtr("abc123"), want: "abc123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			props := completeProps()
			if tt.secret != nil {
				props[PropClientSecret] = *tt.secret
			}
			config, err := fromProperties(props)
			require.NoError(t, err)
			assert.Equal(t, tt.want, config.ClientSecret)
		})
	}
}

func TestFromProperties_Errors(t *testing.T) {
	for _, key := range []string{PropURL, PropRealm, PropUsername, PropPassword, PropClientID} {
		t.Run("missing "+key, func(t *testing.T) {
			props := completeProps()
			delete(props, key)
			_, err := fromProperties(props)
			assert.ErrorIs(t, err, ErrMissingProperty)
			assert.Contains(t, err.Error(), key)
		})
	}

	t.Run("pool size absent uses default", func(t *testing.T) {
		props := completeProps()
		delete(props, PropPoolSize)
		config, err := fromProperties(props)
		require.NoError(t, err)
		assert.Equal(t, DefaultPoolSize, config.PoolSize)
	})

	t.Run("pool size unparsable", func(t *testing.T) {
		props := completeProps()
		props[PropPoolSize] = "-3"
		_, err := fromProperties(props)
		assert.ErrorIs(t, err, ErrInvalidPoolSize)
	})

	t.Run("no cache", func(t *testing.T) {
		_, err := fromProperties(nil)
		assert.ErrorIs(t, err, ErrNoProperties)
	})
}

func strPtr(s string) *string {
	return &s
}
