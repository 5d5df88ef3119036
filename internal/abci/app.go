// Package abci contains the ABCI application that connects the ledger
// transaction processor to the Tendermint consensus engine. CheckTx runs the
// verification predicate as the admission filter; BeginBlock agrees the
// ledger time from the block header; DeliverTx executes on the block fork;
// Commit merges the fork, persists the committed state and returns the app
// hash.
package abci

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	abci "github.com/tendermint/tendermint/abci/types"

	"coinfolio.mini/cfm/internal/cidutil"
	"coinfolio.mini/cfm/internal/execution"
	"coinfolio.mini/cfm/internal/ledger"
	"coinfolio.mini/cfm/internal/logger"
	"coinfolio.mini/cfm/internal/txerr"
	"coinfolio.mini/cfm/internal/types"
)

const (
	CodeTypeOK             uint32 = 0
	CodeTypeEncodingError  uint32 = 1
	CodeTypeAuthError      uint32 = 2
	CodeTypeExecutionError uint32 = 3
	CodeTypeNotFound       uint32 = 4
	CodeTypeUnknownQuery   uint32 = 5

	// Codespace tags every non-OK response of this application.
	Codespace = "cfm"

	// EventType is the ABCI event emitted for every committed transaction.
	EventType = "cfm"
)

// Persister stores the committed ledger after every block.
type Persister interface {
	Save(*ledger.State) error
}

// Application implements the ABCI interface over the ledger.
type Application struct {
	abci.BaseApplication

	// mu guards state: Query and Info arrive on their own ABCI connection.
	mu      sync.RWMutex
	state   *ledger.State
	block   *ledger.Fork
	height  int64
	store   Persister
	journal *logger.Journal
}

// NewApplication creates the application on top of a committed state. store
// may be nil, in which case committed state lives only in memory.
func NewApplication(state *ledger.State, store Persister, journal *logger.Journal) *Application {
	if state == nil {
		state = ledger.NewState()
	}
	if journal == nil {
		journal = logger.New(1000)
	}
	return &Application{
		state:   state,
		height:  state.Height,
		store:   store,
		journal: journal,
	}
}

// Journal returns the execution journal of this replica.
func (app *Application) Journal() *logger.Journal { return app.journal }

// Portfolio returns the committed portfolio owned by owner.
func (app *Application) Portfolio(owner types.PublicKey) (types.Portfolio, bool) {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.state.Portfolio(owner)
}

// Currency returns the committed cumulative issued amount of a currency.
func (app *Application) Currency(id uint64) (decimal.Decimal, bool) {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.state.Currency(id)
}

// Timestamp returns the committed timestamp entry of a transaction hash.
func (app *Application) Timestamp(hash string) (types.TimestampEntry, bool) {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.state.Timestamp(hash)
}

// LastCommit returns the height and app hash of the last committed block.
func (app *Application) LastCommit() (int64, []byte) {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.state.Height, append([]byte(nil), app.state.AppHash...)
}

func (app *Application) Info(req abci.RequestInfo) abci.ResponseInfo {
	height, appHash := app.LastCommit()
	return abci.ResponseInfo{
		Data:             "cfm (built " + types.BuildTime + ")",
		Version:          types.Version,
		LastBlockHeight:  height,
		LastBlockAppHash: appHash,
	}
}

// admit decodes the wire bytes and runs the verification predicate. The
// returned id hashes the signed body, so re-encodings of one record share it.
func admit(raw []byte) (tx types.Transaction, id string, code uint32, msg string) {
	stx, err := types.DecodeSignedTransaction(raw)
	if err != nil {
		return nil, "", CodeTypeEncodingError, err.Error()
	}
	tx, err = stx.Decode()
	if err != nil {
		return nil, "", CodeTypeEncodingError, err.Error()
	}
	if !execution.VerifyTransaction(tx, stx.Tx, stx.Signature) {
		return nil, "", CodeTypeAuthError, "signature is not attributable to " + string(tx.Kind()) + " signer"
	}
	return tx, stx.Hash(), CodeTypeOK, ""
}

func (app *Application) CheckTx(req abci.RequestCheckTx) abci.ResponseCheckTx {
	if _, _, code, msg := admit(req.Tx); code != CodeTypeOK {
		return abci.ResponseCheckTx{Code: code, Log: msg, Codespace: Codespace}
	}
	return abci.ResponseCheckTx{Code: CodeTypeOK}
}

func (app *Application) BeginBlock(req abci.RequestBeginBlock) abci.ResponseBeginBlock {
	app.mu.Lock()
	defer app.mu.Unlock()

	app.block = app.state.Fork()
	app.height = req.Header.Height
	if err := ledger.NewTimeSchema(app.block).SetTime(req.Header.Time); err != nil {
		log.Printf("WARN: Block %d time %s not applied: %v", req.Header.Height, req.Header.Time.UTC().Format(time.RFC3339Nano), err)
	}
	return abci.ResponseBeginBlock{}
}

func (app *Application) DeliverTx(req abci.RequestDeliverTx) abci.ResponseDeliverTx {
	tx, hash, code, msg := admit(req.Tx)
	if code != CodeTypeOK {
		return abci.ResponseDeliverTx{Code: code, Log: msg, Codespace: Codespace}
	}

	app.mu.Lock()
	defer app.mu.Unlock()

	if app.block == nil {
		app.block = app.state.Fork()
	}

	if tx.Kind() == types.KindCurrencyIssue && execution.Replayed(app.block, hash) {
		log.Printf("INFO: Replayed currency issue %s mints again", hash)
	}
	err := execution.Execute(app.block, tx, hash)
	now, _ := execution.LedgerTime(app.block)
	kind := string(tx.Kind())

	switch {
	case err == nil:
		app.journal.Committed(app.height, now, hash, kind)
		return abci.ResponseDeliverTx{
			Code: CodeTypeOK,
			Events: []abci.Event{{
				Type: EventType,
				Attributes: []abci.EventAttribute{
					{Key: []byte("hash"), Value: []byte(hash), Index: true},
					{Key: []byte("kind"), Value: []byte(kind), Index: true},
				},
			}},
		}
	case errors.Is(err, execution.ErrNoLedgerTime):
		panic(fmt.Sprintf("deliver %s at height %d: %v", hash, app.height, err))
	}

	if c, ok := txerr.CodeOf(err); ok {
		b := uint8(c)
		app.journal.Rejected(app.height, now, hash, kind, &b, c.Description())
		log.Printf("INFO: Rejected %s %s: %s", kind, hash, c.Description())
		return abci.ResponseDeliverTx{
			Code:      CodeTypeExecutionError,
			Data:      []byte{b},
			Log:       c.Description(),
			Codespace: Codespace,
		}
	}

	app.journal.Rejected(app.height, now, hash, kind, nil, err.Error())
	log.Printf("INFO: Rejected %s %s: %v", kind, hash, err)
	return abci.ResponseDeliverTx{Code: CodeTypeExecutionError, Log: err.Error(), Codespace: Codespace}
}

func (app *Application) EndBlock(req abci.RequestEndBlock) abci.ResponseEndBlock {
	return abci.ResponseEndBlock{}
}

// Commit merges the block fork and persists the new state. A failure to
// persist halts the node: Tendermint replays the block from the last height
// reported by Info on restart.
func (app *Application) Commit() abci.ResponseCommit {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.block != nil {
		if d := app.block.Merge(); !d.Empty() {
			log.Printf("INFO: Height %d merged %d portfolios, %d currencies, %d timestamps",
				app.height, len(d.Portfolios), len(d.Currencies), len(d.Timestamps))
		}
		app.block = nil
	}
	appHash := app.state.Commit(app.height)

	if app.store != nil {
		if err := app.store.Save(app.state); err != nil {
			panic(fmt.Sprintf("persist height %d: %v", app.height, err))
		}
	}
	return abci.ResponseCommit{Data: appHash}
}

// Query serves reads of committed state:
//
//	/portfolio/<owner hex>  portfolio JSON
//	/currency/<id>          cumulative issued amount
//	/timestamp/<tx hash>    timestamp entry JSON
//	/journal                recent execution outcomes of this replica
func (app *Application) Query(req abci.RequestQuery) abci.ResponseQuery {
	height, _ := app.LastCommit()
	resp := app.query(strings.TrimPrefix(req.Path, "/"))
	resp.Height = height
	if resp.Code != CodeTypeOK {
		resp.Codespace = Codespace
	}
	return resp
}

func (app *Application) query(path string) abci.ResponseQuery {
	route, arg, _ := strings.Cut(path, "/")
	switch route {
	case "portfolio":
		owner, err := types.ParsePublicKey(arg)
		if err != nil {
			return abci.ResponseQuery{Code: CodeTypeEncodingError, Log: err.Error()}
		}
		p, ok := app.Portfolio(owner)
		if !ok {
			return abci.ResponseQuery{Code: CodeTypeNotFound, Log: "portfolio not found"}
		}
		return jsonQuery(hex.EncodeToString(owner), p)

	case "currency":
		id, err := strconv.ParseUint(arg, 10, 64)
		if err != nil {
			return abci.ResponseQuery{Code: CodeTypeEncodingError, Log: fmt.Sprintf("currency id: %v", err)}
		}
		issued, ok := app.Currency(id)
		if !ok {
			return abci.ResponseQuery{Code: CodeTypeNotFound, Log: "currency not found"}
		}
		return abci.ResponseQuery{Code: CodeTypeOK, Key: []byte(arg), Value: []byte(issued.String())}

	case "timestamp":
		if _, err := cidutil.Parse(arg); err != nil {
			return abci.ResponseQuery{Code: CodeTypeEncodingError, Log: err.Error()}
		}
		e, ok := app.Timestamp(arg)
		if !ok {
			return abci.ResponseQuery{Code: CodeTypeNotFound, Log: "timestamp not found"}
		}
		return jsonQuery(arg, e)

	case "journal":
		return jsonQuery("journal", app.journal.GetAll())

	default:
		return abci.ResponseQuery{Code: CodeTypeUnknownQuery, Log: fmt.Sprintf("unknown query path %q", path)}
	}
}

func jsonQuery(key string, v any) abci.ResponseQuery {
	b, err := json.Marshal(v)
	if err != nil {
		return abci.ResponseQuery{Code: CodeTypeEncodingError, Log: err.Error()}
	}
	return abci.ResponseQuery{Code: CodeTypeOK, Key: []byte(key), Value: b}
}
