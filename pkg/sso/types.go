package sso

import (
	"errors"
	"fmt"
)

// GrantType is the OAuth2 flow used to obtain a provider-side session
type GrantType string

const (
	// GrantPassword is the resource-owner password flow, the default
	GrantPassword GrantType = "password"
	// GrantClientCredentials is used when configuration comes from the environment
	GrantClientCredentials GrantType = "client_credentials"
)

// Source identifies where a connection configuration was resolved from
type Source string

const (
	SourceEnvironment Source = "environment"
	SourceProperties  Source = "properties"
)

// ConnectionConfig is the contract handed to a Builder
type ConnectionConfig struct {
	ServerURL    string    `json:"server_url"`
	Realm        string    `json:"realm"`
	Username     string    `json:"username"`
	Password     string    `json:"-"`
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"-"` // Optional
	GrantType    GrantType `json:"grant_type"`
	PoolSize     int       `json:"pool_size"`
}

// HasSecret reports whether a client secret is attached
func (c ConnectionConfig) HasSecret() bool {
	return c.ClientSecret != ""
}

// Handle is a live, closable connection to the identity provider
type Handle interface {
	// Config returns the configuration the handle was built with
	Config() ConnectionConfig

	// Close releases the connection. Calling it more than once is safe.
	Close() error
}

// Builder creates a Handle from a resolved configuration
type Builder interface {
	Build(config ConnectionConfig) (Handle, error)
}

// BuilderFunc adapts a function to the Builder interface
type BuilderFunc func(config ConnectionConfig) (Handle, error)

// Build implements Builder
func (f BuilderFunc) Build(config ConnectionConfig) (Handle, error) {
	return f(config)
}

// State is the lifecycle state of a Manager
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Info is a diagnostic snapshot of the resolved connection. It never
// carries credentials.
type Info struct {
	ServerURL string `json:"server_url,omitempty"`
	Realm     string `json:"realm,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Source    Source `json:"source,omitempty"`
	State     State  `json:"state"`
}

var (
	// ErrConnectionFailure wraps every resolution or build failure
	ErrConnectionFailure = errors.New("sso connection failure")

	// ErrMissingProperty is returned when a required property is absent
	ErrMissingProperty = errors.New("missing required property")

	// ErrInvalidPoolSize is returned when the pool size is not a positive integer
	ErrInvalidPoolSize = errors.New("invalid connection pool size")

	// ErrNoProperties is returned when the properties source is needed but none is configured
	ErrNoProperties = errors.New("no properties cache configured")

	// ErrManagerClosed is returned by Initialize after Shutdown
	ErrManagerClosed = errors.New("sso manager is closed")

	// ErrConnectionClosed is returned by Connection methods after Close
	ErrConnectionClosed = errors.New("sso connection is closed")

	// ErrInvalidConfig is returned when a configuration cannot produce a connection
	ErrInvalidConfig = errors.New("invalid sso connection config")
)
