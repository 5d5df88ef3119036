package execution

import (
	"errors"
	"fmt"
	"time"

	"coinfolio.mini/cfm/internal/ledger"
	"coinfolio.mini/cfm/internal/txerr"
	"coinfolio.mini/cfm/internal/types"
)

var (
	// ErrNoLedgerTime means the block driver executed a transaction before a
	// ledger time was agreed. It is a broken precondition, not a rejection.
	ErrNoLedgerTime = errors.New("execution: ledger time is not available")
	// ErrAmountOverflow rejects a transfer whose credit does not fit the
	// receiver's holding.
	ErrAmountOverflow = errors.New("execution: receiver holding would overflow")
	// ErrUnknownTransaction is returned for a value outside the closed set of kinds.
	ErrUnknownTransaction = errors.New("execution: unknown transaction")
	// ErrAlreadyExecuted rejects a Transfer or CreatePortfolio whose id is
	// already in the timestamp index.
	ErrAlreadyExecuted = errors.New("execution: transaction already executed")
)

// Execute applies tx to fork. hash is the transaction id recorded in the
// timestamp index. A nil result means every write committed to the fork; any
// error means none did.
//
// A Transfer or CreatePortfolio already in the timestamp index is rejected
// with ErrAlreadyExecuted. A CurrencyIssue replay mints again and keeps the
// timestamp of its first execution; use Replayed to tell the two apart.
func Execute(fork *ledger.Fork, tx types.Transaction, hash string) error {
	now, ok := ledger.NewTimeSchema(fork).Time()
	if !ok {
		return ErrNoLedgerTime
	}

	replay := Replayed(fork, hash)
	if _, issue := tx.(types.CurrencyIssue); replay && !issue {
		return ErrAlreadyExecuted
	}

	fork.Checkpoint()
	schema := ledger.NewCurrencySchema(fork)

	var err error
	switch v := tx.(type) {
	case types.Transfer:
		err = executeTransfer(schema, v)
	case types.CurrencyIssue:
		err = executeCurrencyIssue(schema, v)
	case types.CreatePortfolio:
		err = executeCreatePortfolio(schema, v)
	default:
		err = fmt.Errorf("%w: %T", ErrUnknownTransaction, tx)
	}
	if err == nil && !replay {
		err = schema.AddTimestamp(types.TimestampEntry{TxHash: hash, Time: now})
	}
	if err != nil {
		fork.Rollback()
		return err
	}
	return nil
}

// Replayed reports whether a transaction with this id has already been
// executed on fork or the state under it.
func Replayed(fork *ledger.Fork, hash string) bool {
	_, ok := ledger.NewCurrencySchema(fork).Timestamp(hash)
	return ok
}

// executeTransfer moves Amount of CurrencyID between the two owners'
// portfolios. A sender without any portfolio is reported as ReceiverNotFound,
// the code clients already rely on for that case. The amount must be held
// inside portfolio PortfolioID: naming any other portfolio leaves nothing to
// debit and is InsufficientCurrencyAmount.
func executeTransfer(schema *ledger.CurrencySchema, tx types.Transfer) error {
	sender, ok := schema.Portfolio(tx.From)
	if !ok {
		return txerr.New(txerr.ReceiverNotFound)
	}
	receiver, ok := schema.Portfolio(tx.To)
	if !ok {
		return txerr.New(txerr.ReceiverNotFound)
	}

	if sender.ID != tx.PortfolioID {
		return txerr.New(txerr.InsufficientCurrencyAmount)
	}
	debited, ok := sender.Debit(tx.CurrencyID, tx.Amount)
	if !ok {
		return txerr.New(txerr.InsufficientCurrencyAmount)
	}
	if tx.From.Equal(tx.To) {
		return nil
	}
	credited, ok := receiver.Credit(tx.CurrencyID, tx.Amount)
	if !ok {
		return ErrAmountOverflow
	}

	schema.PutPortfolio(debited)
	schema.PutPortfolio(credited)
	return nil
}

// executeCurrencyIssue always commits. Replaying the same issue mints again:
// nothing here is keyed on the seed.
func executeCurrencyIssue(schema *ledger.CurrencySchema, tx types.CurrencyIssue) error {
	schema.AddCurrency(tx.CurrencyID, tx.Amount)
	return nil
}

func executeCreatePortfolio(schema *ledger.CurrencySchema, tx types.CreatePortfolio) error {
	if _, exists := schema.Portfolio(tx.PubKey); exists {
		return txerr.New(txerr.WalletAlreadyExists)
	}
	schema.CreatePortfolio(tx.PortfolioID, tx.PubKey, tx.Holdings())
	return nil
}

// LedgerTime exposes the time oracle reading of a fork to callers that need
// to stamp their own records with it.
func LedgerTime(fork *ledger.Fork) (time.Time, bool) {
	return ledger.NewTimeSchema(fork).Time()
}
