// Package store defines the persistent store abstraction used for credential lookups.
//
// # Overview
//
// The gateway never owns credential records; it only reads them. A Store exposes
// two lookups, each returning an ordered slice of rows:
//
//	rows, err := st.GetRecordByKey(ctx, "sunbird", "user_auth", token)
//	rows, err := st.GetRecordsByFilter(ctx, "sunbird", "client_info", map[string]interface{}{
//		"id":         clientID,
//		"master_key": clientToken,
//	})
//
// # Implementations
//
//   - MemoryStore: in-process rows, used for development and tests
//   - sqlstore.Store: PostgreSQL (lib/pq) or SQLite (go-sqlite3) via database/sql
//   - cache.Store: read-through L1 LRU / L2 Redis decorator around any Store
//
// # Related Packages
//
//   - pkg/auth: token verification on top of a Store
package store
