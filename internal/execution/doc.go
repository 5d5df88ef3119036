// Package execution contains the two capabilities every ledger transaction
// has: a verification predicate, run before a transaction is admitted into a
// block, and a deterministic state transition, run against a ledger fork once
// the transaction is in a block.
//
// Verification is pure: it reads only the transaction's own bytes and
// signature. A transaction that fails it is dropped without a trace.
//
// Execution reads the ledger time and the entity schema of the fork, decides
// whether to reject before issuing any write, and on success records exactly
// one timestamp entry for the transaction hash. A rejection leaves the fork as
// it was before the call.
package execution
