/*
Package permission holds the relational half of Paddock's authorization
model: the canonical permission definitions and the (team, user,
permission) assignment table, stored in SQLite.

The table lives beside the document store rather than inside it because
grant checks are row lookups, not document reads, and the save path
needs team-wide UPDATE semantics. Assignments are history-preserving:
revocation flips granted to false, rows are never deleted.
*/
package permission
