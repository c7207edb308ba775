// Package ledger defines the append-only payment ledger: one Record per
// charge attempt, paid or failed.
//
// Records are the audit trail of the renewal engine. A paid record is always
// written in the same transaction that advances the subscription period, so
// the ledger and the subscription never drift.
package ledger
