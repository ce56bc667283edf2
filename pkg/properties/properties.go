// Package properties provides the key/value properties cache used as the
// fallback configuration source for the SSO connection.
package properties

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Cache is a read-only string lookup by dotted key
type Cache interface {
	GetProperty(key string) (string, bool)
}

// MapCache is a static Cache
type MapCache map[string]string

// GetProperty implements Cache
func (m MapCache) GetProperty(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// FileCache is a Cache loaded from a YAML file. Nested maps are flattened
// with dots, so both of these define sso.url:
//
//	sso:
//	  url: https://sso.example.com/auth
//
//	sso.url: https://sso.example.com/auth
type FileCache struct {
	path     string
	logger   *logrus.Logger
	onReload func()

	mu     sync.RWMutex
	values map[string]string
}

// FileOption configures a FileCache
type FileOption func(*FileCache)

// WithLogger sets the logger
func WithLogger(logger *logrus.Logger) FileOption {
	return func(c *FileCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// OnReload registers a callback run after every successful reload
func OnReload(fn func()) FileOption {
	return func(c *FileCache) {
		c.onReload = fn
	}
}

// NewFileCache loads path and returns the cache
func NewFileCache(path string, opts ...FileOption) (*FileCache, error) {
	c := &FileCache{
		path:   path,
		logger: observability.NewNopLogger(),
		values: map[string]string{},
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// GetProperty implements Cache
func (c *FileCache) GetProperty(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// Keys returns the loaded keys in sorted order
func (c *FileCache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Path returns the backing file path
func (c *FileCache) Path() string {
	return c.path
}

// Reload re-reads the file. On error the previous values are kept.
func (c *FileCache) Reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("failed to read properties file: %w", err)
	}

	values, err := Parse(data)
	if err != nil {
		return fmt.Errorf("failed to parse properties file %s: %w", c.path, err)
	}

	c.mu.Lock()
	c.values = values
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"path": c.path,
		"keys": len(values),
	}).Debug("Properties loaded")

	if c.onReload != nil {
		c.onReload()
	}
	return nil
}

// Watch reloads the cache whenever the file is written or replaced, until
// ctx is done. The parent directory is watched so editors that save by
// rename are picked up.
func (c *FileCache) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(c.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(c.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := c.Reload(); err != nil {
				c.logger.WithError(err).Warn("Properties reload failed, keeping previous values")
				continue
			}
			c.logger.WithField("path", c.path).Info("Properties reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.WithError(err).Warn("Properties watcher error")
		}
	}
}

// Parse decodes a YAML document into flattened dotted keys. Scalars are
// rendered as strings, sequences are joined with commas and null values are
// omitted.
func Parse(data []byte) (map[string]string, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	values := make(map[string]string)
	if doc == nil {
		return values, nil
	}
	if err := flatten("", doc, values); err != nil {
		return nil, err
	}
	return values, nil
}

var errNotMapping = errors.New("top level must be a mapping")

func flatten(prefix string, node interface{}, out map[string]string) error {
	switch v := node.(type) {
	case map[string]interface{}:
		for k, child := range v {
			if err := flatten(join(prefix, k), child, out); err != nil {
				return err
			}
		}
	case map[interface{}]interface{}:
		for k, child := range v {
			if err := flatten(join(prefix, fmt.Sprint(k)), child, out); err != nil {
				return err
			}
		}
	default:
		if prefix == "" {
			return errNotMapping
		}
		switch s := v.(type) {
		case nil:
		case []interface{}:
			parts := make([]string, len(s))
			for i, item := range s {
				parts[i] = fmt.Sprint(item)
			}
			out[prefix] = strings.Join(parts, ",")
		default:
			out[prefix] = fmt.Sprint(s)
		}
	}
	return nil
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
