// Package kvstore is the external "main memory" collaborator spec.md
// §6 describes: a durable key-value store used as persistence for
// queues and as main memory for the cache tier. It is deliberately
// thin — list/hash/string primitives only, no business logic — a
// contract around whatever backend implements it.
package kvstore

import "context"

// Store is the contract every engine that needs "main memory" talks
// to. A Redis-backed implementation (Redis) is used in production; an
// in-memory implementation (Memory) backs unit tests that shouldn't
// need a live Redis instance.
type Store interface {
	// Get returns the raw string stored at key, and false if absent.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes the raw string value at key.
	Set(ctx context.Context, key string, value string) error

	// RPush appends value to the tail of the list at key.
	RPush(ctx context.Context, key string, value string) error
	// LPush prepends value to the head of the list at key.
	LPush(ctx context.Context, key string, value string) error
	// RPopLPush atomically moves the tail element of src to the head
	// of dst, returning it. ok is false if src was empty.
	RPopLPush(ctx context.Context, src string, dst string) (value string, ok bool, err error)
	// LRem removes up to one occurrence of value from the list at key.
	LRem(ctx context.Context, key string, value string) error

	// HSet sets field to value in the hash at key.
	HSet(ctx context.Context, key string, field string, value string) error
	// HGet returns field's value in the hash at key.
	HGet(ctx context.Context, key string, field string) (string, bool, error)
	// HDel deletes field from the hash at key, returning whether it existed.
	HDel(ctx context.Context, key string, field string) (bool, error)
	// HGetAll returns every field/value pair in the hash at key.
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// Keys returns every key matching a glob-style pattern, the way
	// Redis' KEYS does. Used by the queue redelivery monitor to find
	// pending-metadata hashes without tracking topic membership
	// separately.
	Keys(ctx context.Context, pattern string) ([]string, error)
}
