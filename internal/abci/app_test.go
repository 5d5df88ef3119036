package abci

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tmabci "github.com/tendermint/tendermint/abci/types"
	tmproto "github.com/tendermint/tendermint/proto/tendermint/types"

	"coinfolio.mini/cfm/internal/cidutil"
	"coinfolio.mini/cfm/internal/identity"
	"coinfolio.mini/cfm/internal/ledger"
	"coinfolio.mini/cfm/internal/logger"
	"coinfolio.mini/cfm/internal/txerr"
	"coinfolio.mini/cfm/internal/types"
)

var genesis = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type memStore struct {
	saves int
	last  ledger.Snapshot
	err   error
}

func (m *memStore) Save(st *ledger.State) error {
	if m.err != nil {
		return m.err
	}
	m.saves++
	m.last = st.Snapshot()
	return nil
}

func newIdentity(t *testing.T, name string) *identity.Identity {
	t.Helper()
	id, err := identity.LoadOrCreateIdentity(filepath.Join(t.TempDir(), name+".pem"))
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity %s: %v", name, err)
	}
	return id
}

// wire signs tx with id (whether or not id is its signer) and returns the
// bytes Tendermint would deliver.
func wire(t *testing.T, id *identity.Identity, tx types.Transaction) []byte {
	t.Helper()
	stx, err := id.SignTransactionUnchecked(tx)
	if err != nil {
		t.Fatalf("sign %s: %v", tx.Kind(), err)
	}
	b, err := stx.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return b
}

func txID(t *testing.T, raw []byte) string {
	t.Helper()
	id, err := types.TxID(raw)
	if err != nil {
		t.Fatalf("TxID: %v", err)
	}
	return id
}

func beginBlock(app *Application, height int64, at time.Time) {
	app.BeginBlock(tmabci.RequestBeginBlock{Header: tmproto.Header{Height: height, Time: at}})
}

func wantRejected(t *testing.T, resp tmabci.ResponseDeliverTx, code txerr.Code) {
	t.Helper()
	if resp.Code != CodeTypeExecutionError {
		t.Fatalf("expected execution error, got code=%d log=%s", resp.Code, resp.Log)
	}
	if resp.Codespace != Codespace {
		t.Errorf("codespace = %q, want %q", resp.Codespace, Codespace)
	}
	if !bytes.Equal(resp.Data, []byte{uint8(code)}) {
		t.Fatalf("data = %v, want [%d]", resp.Data, code)
	}
	if resp.Log != code.Description() {
		t.Fatalf("log = %q, want %q", resp.Log, code.Description())
	}
}

func TestCreatePortfolioThroughBlock(t *testing.T) {
	alice := newIdentity(t, "alice")
	store := &memStore{}
	app := NewApplication(nil, store, logger.New(10))

	create := wire(t, alice, types.CreatePortfolio{PortfolioID: 1, PubKey: alice.PublicKey(), Pairs: [][]uint64{{10, 100}}})
	if resp := app.CheckTx(tmabci.RequestCheckTx{Tx: create}); resp.Code != CodeTypeOK {
		t.Fatalf("CheckTx failed: code=%d log=%s", resp.Code, resp.Log)
	}

	beginBlock(app, 1, genesis)
	resp := app.DeliverTx(tmabci.RequestDeliverTx{Tx: create})
	if resp.Code != CodeTypeOK {
		t.Fatalf("DeliverTx failed: code=%d log=%s", resp.Code, resp.Log)
	}
	if len(resp.Events) != 1 || resp.Events[0].Type != EventType {
		t.Fatalf("expected one %s event, got %+v", EventType, resp.Events)
	}

	second := wire(t, alice, types.CreatePortfolio{PortfolioID: 2, PubKey: alice.PublicKey()})
	wantRejected(t, app.DeliverTx(tmabci.RequestDeliverTx{Tx: second}), txerr.WalletAlreadyExists)

	app.EndBlock(tmabci.RequestEndBlock{Height: 1})
	commit := app.Commit()

	if store.saves != 1 || store.last.Height != 1 {
		t.Fatalf("expected one save at height 1, got %d saves at %d", store.saves, store.last.Height)
	}
	if !bytes.Equal(commit.Data, store.last.AppHash) {
		t.Fatalf("commit app hash differs from persisted app hash")
	}

	p, ok := app.Portfolio(alice.PublicKey())
	if !ok || p.ID != 1 || p.Balance(10) != 100 {
		t.Fatalf("unexpected portfolio after commit: %+v %v", p, ok)
	}

	e, ok := app.Timestamp(txID(t, create))
	if !ok || !e.Time.Equal(genesis) {
		t.Fatalf("timestamp entry = %+v %v, want time %s", e, ok, genesis)
	}
	if _, ok := app.Timestamp(txID(t, second)); ok {
		t.Fatalf("rejected transaction must not be timestamped")
	}

	info := app.Info(tmabci.RequestInfo{})
	if info.LastBlockHeight != 1 || !bytes.Equal(info.LastBlockAppHash, commit.Data) {
		t.Fatalf("Info = height %d hash %x", info.LastBlockHeight, info.LastBlockAppHash)
	}
	if info.Version != types.Version || !strings.Contains(info.Data, types.BuildTime) {
		t.Errorf("Info version %q data %q", info.Version, info.Data)
	}

	journal := app.Journal().GetAll()
	if len(journal) != 2 || journal[0].Outcome != logger.OutcomeRejected || journal[1].Outcome != logger.OutcomeCommitted {
		t.Fatalf("unexpected journal: %+v", journal)
	}
	if journal[0].Code == nil || *journal[0].Code != uint8(txerr.WalletAlreadyExists) {
		t.Fatalf("rejection should carry its code: %+v", journal[0])
	}
}

func TestTransferThroughBlocks(t *testing.T) {
	alice, bob, carol := newIdentity(t, "alice"), newIdentity(t, "bob"), newIdentity(t, "carol")
	app := NewApplication(nil, nil, nil)

	beginBlock(app, 1, genesis)
	for _, tx := range [][]byte{
		wire(t, alice, types.CreatePortfolio{PortfolioID: 1, PubKey: alice.PublicKey(), Pairs: [][]uint64{{10, 100}}}),
		wire(t, bob, types.CreatePortfolio{PortfolioID: 2, PubKey: bob.PublicKey()}),
	} {
		if resp := app.DeliverTx(tmabci.RequestDeliverTx{Tx: tx}); resp.Code != CodeTypeOK {
			t.Fatalf("setup DeliverTx failed: %s", resp.Log)
		}
	}
	app.Commit()

	beginBlock(app, 2, genesis.Add(5*time.Second))
	// Both transfers land in the same block; the second observes the first.
	for _, amount := range []uint64{60, 40} {
		tx := wire(t, alice, types.Transfer{From: alice.PublicKey(), To: bob.PublicKey(), PortfolioID: 1, CurrencyID: 10, Amount: amount, Seed: amount})
		if resp := app.DeliverTx(tmabci.RequestDeliverTx{Tx: tx}); resp.Code != CodeTypeOK {
			t.Fatalf("transfer %d failed: %s", amount, resp.Log)
		}
	}
	overdraw := wire(t, alice, types.Transfer{From: alice.PublicKey(), To: bob.PublicKey(), PortfolioID: 1, CurrencyID: 10, Amount: 1})
	wantRejected(t, app.DeliverTx(tmabci.RequestDeliverTx{Tx: overdraw}), txerr.InsufficientCurrencyAmount)

	// carol has no portfolio.
	fromNowhere := wire(t, carol, types.Transfer{From: carol.PublicKey(), To: bob.PublicKey(), PortfolioID: 3, CurrencyID: 10, Amount: 1})
	wantRejected(t, app.DeliverTx(tmabci.RequestDeliverTx{Tx: fromNowhere}), txerr.ReceiverNotFound)

	wrongID := wire(t, bob, types.Transfer{From: bob.PublicKey(), To: alice.PublicKey(), PortfolioID: 9, CurrencyID: 10, Amount: 1})
	wantRejected(t, app.DeliverTx(tmabci.RequestDeliverTx{Tx: wrongID}), txerr.InsufficientCurrencyAmount)
	app.Commit()

	a, _ := app.Portfolio(alice.PublicKey())
	b, _ := app.Portfolio(bob.PublicKey())
	if a.Balance(10) != 0 || b.Balance(10) != 100 {
		t.Fatalf("balances alice=%d bob=%d, want 0 and 100", a.Balance(10), b.Balance(10))
	}
}

func wantAlreadyExecuted(t *testing.T, resp tmabci.ResponseDeliverTx) {
	t.Helper()
	if resp.Code != CodeTypeExecutionError || len(resp.Data) != 0 {
		t.Fatalf("expected a rejection without taxonomy code, got code=%d data=%v log=%s", resp.Code, resp.Data, resp.Log)
	}
	if !strings.Contains(resp.Log, "already executed") {
		t.Fatalf("log = %q", resp.Log)
	}
}

// One signed transfer delivered again, byte for byte or inside a differently
// encoded record, is rejected and moves no funds.
func TestTransferReplayIsRejected(t *testing.T) {
	alice, bob := newIdentity(t, "alice"), newIdentity(t, "bob")
	app := NewApplication(nil, nil, nil)

	beginBlock(app, 1, genesis)
	for _, tx := range [][]byte{
		wire(t, alice, types.CreatePortfolio{PortfolioID: 1, PubKey: alice.PublicKey(), Pairs: [][]uint64{{10, 100}}}),
		wire(t, bob, types.CreatePortfolio{PortfolioID: 2, PubKey: bob.PublicKey()}),
	} {
		if resp := app.DeliverTx(tmabci.RequestDeliverTx{Tx: tx}); resp.Code != CodeTypeOK {
			t.Fatalf("setup DeliverTx failed: %s", resp.Log)
		}
	}
	app.Commit()

	stx, err := alice.SignTransaction(types.Transfer{From: alice.PublicKey(), To: bob.PublicKey(), PortfolioID: 1, CurrencyID: 10, Amount: 30})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	compact, err := stx.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	indented, err := json.MarshalIndent(stx, "", "  ")
	if err != nil {
		t.Fatalf("indent: %v", err)
	}
	if bytes.Equal(compact, indented) {
		t.Fatalf("encodings should differ")
	}

	beginBlock(app, 2, genesis.Add(time.Second))
	if resp := app.DeliverTx(tmabci.RequestDeliverTx{Tx: compact}); resp.Code != CodeTypeOK {
		t.Fatalf("transfer failed: %s", resp.Log)
	}
	wantAlreadyExecuted(t, app.DeliverTx(tmabci.RequestDeliverTx{Tx: indented}))
	wantAlreadyExecuted(t, app.DeliverTx(tmabci.RequestDeliverTx{Tx: compact}))
	app.Commit()

	beginBlock(app, 3, genesis.Add(2*time.Second))
	wantAlreadyExecuted(t, app.DeliverTx(tmabci.RequestDeliverTx{Tx: indented}))
	app.Commit()

	a, _ := app.Portfolio(alice.PublicKey())
	b, _ := app.Portfolio(bob.PublicKey())
	if a.Balance(10) != 70 || b.Balance(10) != 30 {
		t.Fatalf("balances alice=%d bob=%d, want 70 and 30", a.Balance(10), b.Balance(10))
	}
	e, ok := app.Timestamp(txID(t, indented))
	if !ok || !e.Time.Equal(genesis.Add(time.Second)) {
		t.Fatalf("timestamp entry = %+v %v", e, ok)
	}

	committed := 0
	for _, entry := range app.Journal().GetAll() {
		if entry.Outcome == logger.OutcomeCommitted {
			committed++
		}
	}
	if committed != 3 {
		t.Fatalf("committed journal entries = %d, want 3", committed)
	}
}

// A replayed currency issue mints again and keeps its first timestamp.
func TestCurrencyIssueReplayMintsAgain(t *testing.T) {
	alice := newIdentity(t, "alice")
	app := NewApplication(nil, nil, nil)
	issue := wire(t, alice, types.CurrencyIssue{PubKey: alice.PublicKey(), CurrencyID: 5, Amount: 4})

	beginBlock(app, 1, genesis)
	if resp := app.DeliverTx(tmabci.RequestDeliverTx{Tx: issue}); resp.Code != CodeTypeOK {
		t.Fatalf("issue failed: %s", resp.Log)
	}
	app.Commit()

	beginBlock(app, 2, genesis.Add(time.Minute))
	if resp := app.DeliverTx(tmabci.RequestDeliverTx{Tx: issue}); resp.Code != CodeTypeOK {
		t.Fatalf("replayed issue failed: %s", resp.Log)
	}
	app.Commit()

	if issued, _ := app.Currency(5); issued.String() != "8" {
		t.Fatalf("issued = %s, want 8", issued)
	}
	e, ok := app.Timestamp(txID(t, issue))
	if !ok || !e.Time.Equal(genesis) {
		t.Fatalf("timestamp entry = %+v %v, want the first delivery", e, ok)
	}
}

// A transfer signed by its receiver never passes the admission filter and
// leaves no trace.
func TestReceiverSignedTransferIsFiltered(t *testing.T) {
	alice, bob := newIdentity(t, "alice"), newIdentity(t, "bob")
	app := NewApplication(nil, nil, nil)

	forged := wire(t, bob, types.Transfer{From: alice.PublicKey(), To: bob.PublicKey(), PortfolioID: 1, CurrencyID: 10, Amount: 5})

	check := app.CheckTx(tmabci.RequestCheckTx{Tx: forged})
	if check.Code != CodeTypeAuthError {
		t.Fatalf("CheckTx code = %d, want %d", check.Code, CodeTypeAuthError)
	}

	beginBlock(app, 1, genesis)
	deliver := app.DeliverTx(tmabci.RequestDeliverTx{Tx: forged})
	if deliver.Code != CodeTypeAuthError {
		t.Fatalf("DeliverTx code = %d, want %d", deliver.Code, CodeTypeAuthError)
	}
	app.Commit()

	if _, ok := app.Timestamp(txID(t, forged)); ok {
		t.Fatalf("filtered transaction was timestamped")
	}
	if n := len(app.Journal().GetAll()); n != 0 {
		t.Fatalf("filtered transaction reached the journal (%d entries)", n)
	}
}

func TestCheckTxRejectsMalformedInput(t *testing.T) {
	alice := newIdentity(t, "alice")
	app := NewApplication(nil, nil, nil)

	badPair := wire(t, alice, types.CreatePortfolio{PortfolioID: 1, PubKey: alice.PublicKey(), Pairs: [][]uint64{{10}}})

	cases := map[string][]byte{
		"garbage":        []byte("not json"),
		"unknown fields": []byte(`{"tx":"","signature":"","extra":1}`),
		"malformed pair": badPair,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			resp := app.CheckTx(tmabci.RequestCheckTx{Tx: raw})
			if resp.Code != CodeTypeEncodingError {
				t.Fatalf("code = %d, want %d (log=%s)", resp.Code, CodeTypeEncodingError, resp.Log)
			}
		})
	}
}

func TestDeliverWithoutLedgerTimeHalts(t *testing.T) {
	alice := newIdentity(t, "alice")
	app := NewApplication(nil, nil, nil)
	tx := wire(t, alice, types.CurrencyIssue{PubKey: alice.PublicKey(), CurrencyID: 1, Amount: 1})

	defer func() {
		if recover() == nil {
			t.Fatalf("DeliverTx without a ledger time should panic")
		}
		if _, ok := app.Currency(1); ok {
			t.Fatalf("no write may happen without a ledger time")
		}
	}()
	app.DeliverTx(tmabci.RequestDeliverTx{Tx: tx})
}

func TestCommitPanicsWhenPersistFails(t *testing.T) {
	app := NewApplication(nil, &memStore{err: errors.New("disk full")}, nil)
	beginBlock(app, 1, genesis)

	defer func() {
		if recover() == nil {
			t.Fatalf("Commit should panic when state cannot be persisted")
		}
	}()
	app.Commit()
}

func TestQuery(t *testing.T) {
	alice := newIdentity(t, "alice")
	app := NewApplication(nil, nil, nil)

	create := wire(t, alice, types.CreatePortfolio{PortfolioID: 4, PubKey: alice.PublicKey(), Pairs: [][]uint64{{10, 7}}})
	issue := wire(t, alice, types.CurrencyIssue{PubKey: alice.PublicKey(), CurrencyID: 10, Amount: 7})
	beginBlock(app, 1, genesis)
	app.DeliverTx(tmabci.RequestDeliverTx{Tx: create})
	app.DeliverTx(tmabci.RequestDeliverTx{Tx: issue})
	app.Commit()

	resp := app.Query(tmabci.RequestQuery{Path: "/portfolio/" + alice.PublicKeyHex()})
	if resp.Code != CodeTypeOK || resp.Height != 1 {
		t.Fatalf("portfolio query: code=%d height=%d log=%s", resp.Code, resp.Height, resp.Log)
	}
	var p types.Portfolio
	if err := json.Unmarshal(resp.Value, &p); err != nil {
		t.Fatalf("decode portfolio: %v", err)
	}
	if p.ID != 4 || !p.Owner.Equal(alice.PublicKey()) || p.Balance(10) != 7 {
		t.Fatalf("unexpected portfolio %+v", p)
	}

	resp = app.Query(tmabci.RequestQuery{Path: "/currency/10"})
	if resp.Code != CodeTypeOK || string(resp.Value) != "7" {
		t.Fatalf("currency query: code=%d value=%s", resp.Code, resp.Value)
	}

	resp = app.Query(tmabci.RequestQuery{Path: "/timestamp/" + txID(t, issue)})
	if resp.Code != CodeTypeOK {
		t.Fatalf("timestamp query: code=%d log=%s", resp.Code, resp.Log)
	}
	var e types.TimestampEntry
	if err := json.Unmarshal(resp.Value, &e); err != nil || !e.Time.Equal(genesis) {
		t.Fatalf("timestamp entry %+v (%v)", e, err)
	}

	resp = app.Query(tmabci.RequestQuery{Path: "/journal"})
	var entries []logger.Entry
	if err := json.Unmarshal(resp.Value, &entries); err != nil || len(entries) != 2 {
		t.Fatalf("journal query returned %d entries (%v)", len(entries), err)
	}

	for path, code := range map[string]uint32{
		"/currency/11":                           CodeTypeNotFound,
		"/currency/ten":                          CodeTypeEncodingError,
		"/portfolio/zz":                          CodeTypeEncodingError,
		"/timestamp/" + cidutil.String([]byte{}): CodeTypeNotFound,
		"/nothing":                               CodeTypeUnknownQuery,
	} {
		resp := app.Query(tmabci.RequestQuery{Path: path})
		if resp.Code != code {
			t.Errorf("%s: code = %d, want %d", path, resp.Code, code)
		}
		if !strings.EqualFold(resp.Codespace, Codespace) {
			t.Errorf("%s: codespace = %q", path, resp.Codespace)
		}
	}
}

func TestRestartFromPersistedState(t *testing.T) {
	alice := newIdentity(t, "alice")
	store := &memStore{}
	app := NewApplication(nil, store, nil)

	beginBlock(app, 1, genesis)
	app.DeliverTx(tmabci.RequestDeliverTx{Tx: wire(t, alice, types.CurrencyIssue{PubKey: alice.PublicKey(), CurrencyID: 3, Amount: 9})})
	app.Commit()

	restarted := NewApplication(ledger.FromSnapshot(store.last), store, nil)
	info := restarted.Info(tmabci.RequestInfo{})
	if info.LastBlockHeight != 1 || !bytes.Equal(info.LastBlockAppHash, store.last.AppHash) {
		t.Fatalf("restarted Info = height %d hash %x", info.LastBlockHeight, info.LastBlockAppHash)
	}

	// The next block may carry an equal or later time only.
	beginBlock(restarted, 2, genesis)
	restarted.DeliverTx(tmabci.RequestDeliverTx{Tx: wire(t, alice, types.CurrencyIssue{PubKey: alice.PublicKey(), CurrencyID: 3, Amount: 1, Seed: 1})})
	restarted.Commit()

	issued, _ := restarted.Currency(3)
	if issued.String() != "10" {
		t.Fatalf("issued = %s, want 10", issued)
	}
}
