package store

import (
	"context"
	"reflect"
	"sync"
)

// MemoryStore is an in-process Store. Rows keep insertion order and the
// "id" column is treated as the key. Duplicate keys are allowed.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string][]Row
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables: make(map[string][]Row),
	}
}

func tableKey(keyspace, table string) string {
	return keyspace + "." + table
}

// Insert appends a copy of row to keyspace.table
func (s *MemoryStore) Insert(keyspace, table string, row Row) {
	copied := make(Row, len(row))
	for k, v := range row {
		copied[k] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := tableKey(keyspace, table)
	s.tables[key] = append(s.tables[key], copied)
}

// GetRecordByKey returns rows whose "id" equals key
func (s *MemoryStore) GetRecordByKey(ctx context.Context, keyspace, table, key string) ([]Row, error) {
	return s.GetRecordsByFilter(ctx, keyspace, table, map[string]interface{}{"id": key})
}

// GetRecordsByFilter returns rows matching every filter condition
func (s *MemoryStore) GetRecordsByFilter(ctx context.Context, keyspace, table string, filter map[string]interface{}) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(filter) == 0 {
		return nil, ErrEmptyFilter
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Row
	for _, row := range s.tables[tableKey(keyspace, table)] {
		if matches(row, filter) {
			copied := make(Row, len(row))
			for k, v := range row {
				copied[k] = v
			}
			result = append(result, copied)
		}
	}
	return result, nil
}

func matches(row Row, filter map[string]interface{}) bool {
	for column, want := range filter {
		got, ok := row[column]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}
