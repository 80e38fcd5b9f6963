// Package storage provides persistence backends for the quota engine.
//
// Three implementations of quota.Store are available:
//
//   - MemoryStore: in-process, for tests and single-process deployments
//     without durability requirements
//   - SQLiteStore: the default durable backend for single-instance
//     deployments, using WAL mode and prepared statements
//   - RedisStore: for multi-instance deployments, using Lua scripts so the
//     conditional increment stays atomic across processes
//
// All backends implement the conditional increment as one indivisible
// operation: SQLite as a single conditional upsert statement, Redis as a Lua
// script, memory under one mutex. None of them read the count, compare it in
// the caller, and write it back in a second round trip.
package storage
