/*
Package storage provides BoltDB-backed persistence for Paddock's control
plane entities: servers, apps, teams, log entries, and alert profiles.

Entities are stored as JSON documents in one bucket per type. Writes are
upserts; callers own read-modify-write cycles and there is no optimistic
locking, which matches the single-writer reconciler model.

Log entries are the exception to plain ID keying: they are keyed by
kind, creation time, and ID so that a cursor walk over a kind prefix
yields entries oldest-first. Retention eviction and the unsent
notification batch both depend on that ordering.
*/
package storage
