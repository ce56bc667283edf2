package sso

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/platinummonkey/gatekeeper/pkg/properties"
)

// Environment variables for the environment source
const (
	EnvURL          = "SUNBIRD_SSO_URL"
	EnvUsername     = "SUNBIRD_SSO_USERNAME"
	EnvPassword     = "SUNBIRD_SSO_PASSWORD"
	EnvClientID     = "SUNBIRD_SSO_CLIENT_ID"
	EnvClientSecret = "SUNBIRD_SSO_CLIENT_SECRET"
	EnvRealm        = "SUNBIRD_SSO_REALM"
	EnvPoolSize     = "SUNBIRD_SSO_POOL_SIZE"
)

// Keys for the properties source
const (
	PropURL          = "sso.url"
	PropRealm        = "sso.realm"
	PropUsername     = "sso.username"
	PropPassword     = "sso.password"
	PropClientID     = "sso.client.id"
	PropClientSecret = "sso.client.secret"
	PropPoolSize     = "sso.connection.pool.size"
)

// DefaultPoolSize is used when no pool size is configured
const DefaultPoolSize = 20

// LookupFunc looks up an environment variable
type LookupFunc func(key string) (string, bool)

// OSLookup reads the process environment
var OSLookup LookupFunc = os.LookupEnv

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// fromEnvironment resolves the environment source. ok is false when any
// required variable is blank, in which case the source is absent and the
// caller falls through to properties.
func fromEnvironment(lookup LookupFunc) (config ConnectionConfig, ok bool, err error) {
	get := func(key string) string {
		v, _ := lookup(key)
		return v
	}

	config = ConnectionConfig{
		ServerURL: get(EnvURL),
		Username:  get(EnvUsername),
		Password:  get(EnvPassword),
		ClientID:  get(EnvClientID),
		Realm:     get(EnvRealm),
		GrantType: GrantClientCredentials,
		PoolSize:  DefaultPoolSize,
	}
	if isBlank(config.ServerURL) || isBlank(config.Username) || isBlank(config.Password) ||
		isBlank(config.ClientID) || isBlank(config.Realm) {
		return ConnectionConfig{}, false, nil
	}

	if secret := get(EnvClientSecret); !isBlank(secret) {
		config.ClientSecret = secret
	}

	if raw := get(EnvPoolSize); !isBlank(raw) {
		size, err := parsePoolSize(raw)
		if err != nil {
			return ConnectionConfig{}, true, fmt.Errorf("%s: %w", EnvPoolSize, err)
		}
		config.PoolSize = size
	}

	return config, true, nil
}

// fromProperties resolves the properties source. Every required key is
// looked up individually and a missing one fails the build.
func fromProperties(cache properties.Cache) (ConnectionConfig, error) {
	if cache == nil {
		return ConnectionConfig{}, ErrNoProperties
	}

	required := func(key string) (string, error) {
		v, ok := cache.GetProperty(key)
		if !ok || isBlank(v) {
			return "", fmt.Errorf("%w: %s", ErrMissingProperty, key)
		}
		return v, nil
	}

	config := ConnectionConfig{GrantType: GrantPassword, PoolSize: DefaultPoolSize}
	var err error
	for _, field := range []struct {
		key  string
		dest *string
	}{
		{PropURL, &config.ServerURL},
		{PropRealm, &config.Realm},
		{PropUsername, &config.Username},
		{PropPassword, &config.Password},
		{PropClientID, &config.ClientID},
	} {
		if *field.dest, err = required(field.key); err != nil {
			return ConnectionConfig{}, err
		}
	}

	if raw, ok := cache.GetProperty(PropPoolSize); ok && !isBlank(raw) {
		if config.PoolSize, err = parsePoolSize(raw); err != nil {
			return ConnectionConfig{}, fmt.Errorf("%s: %w", PropPoolSize, err)
		}
	}

	// An unresolved placeholder carries its own key name as the value
	if secret, ok := cache.GetProperty(PropClientSecret); ok && !isBlank(secret) && secret != PropClientSecret {
		config.ClientSecret = secret
	}

	return config, nil
}

func parsePoolSize(raw string) (int, error) {
	size, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || size <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPoolSize, raw)
	}
	return size, nil
}
