package tendermint

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"coinfolio.mini/cfm/internal/txerr"
	"coinfolio.mini/cfm/internal/types"
)

// DefaultRPCAddress is the Tendermint RPC endpoint used when none is configured.
const DefaultRPCAddress = "http://localhost:26657"

// BroadcastClient wraps the Tendermint JSON-RPC endpoint for broadcasting
// transactions and reading application state.
type BroadcastClient struct {
	rpcAddr string
	client  *http.Client
}

// NewBroadcastClient creates a new Tendermint RPC client for transaction broadcasting.
func NewBroadcastClient(rpcAddr string) *BroadcastClient {
	if rpcAddr == "" {
		rpcAddr = DefaultRPCAddress
	}

	return &BroadcastClient{
		rpcAddr: rpcAddr,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// TxResult is the outcome of one ABCI phase for a transaction.
type TxResult struct {
	Code      uint32 `json:"code"`
	Data      []byte `json:"data"`
	Log       string `json:"log"`
	Codespace string `json:"codespace"`
}

// Err returns nil for an accepted result and a *RejectedError otherwise.
func (r TxResult) Err(stage string) error {
	if r.Code == 0 {
		return nil
	}
	return &RejectedError{Stage: stage, Result: r}
}

// BroadcastResult is returned by the broadcast calls. TxID is the content
// identifier under which the ledger timestamps the transaction; Hash is
// Tendermint's own hex hash of the same bytes.
type BroadcastResult struct {
	TxID      string
	Hash      string
	Height    int64
	CheckTx   TxResult
	DeliverTx *TxResult // set by BroadcastTxCommit only
}

// RejectedError reports a transaction refused by the application.
type RejectedError struct {
	Stage  string // "check_tx" or "deliver_tx"
	Result TxResult
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s rejected with code %d: %s", e.Stage, e.Result.Code, e.Result.Log)
}

// ExecutionCode extracts the ledger error code of an execution rejection.
func (e *RejectedError) ExecutionCode() (txerr.Code, bool) {
	if e.Result.Codespace != "cfm" || len(e.Result.Data) != 1 {
		return 0, false
	}
	c := txerr.Code(e.Result.Data[0])
	return c, c.Valid()
}

// RPCError is a JSON-RPC level failure.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s (%s)", e.Code, e.Message, e.Data)
}

// BroadcastTxSync broadcasts a transaction and returns once CheckTx has run.
func (bc *BroadcastClient) BroadcastTxSync(ctx context.Context, tx []byte) (*BroadcastResult, error) {
	var res struct {
		TxResult
		Hash string `json:"hash"`
	}
	if err := bc.call(ctx, "broadcast_tx_sync", map[string]string{"tx": base64.StdEncoding.EncodeToString(tx)}, &res); err != nil {
		return nil, err
	}
	out := &BroadcastResult{TxID: txID(tx), Hash: res.Hash, CheckTx: res.TxResult}
	return out, res.TxResult.Err("check_tx")
}

// BroadcastTxCommit broadcasts a transaction and waits for it to be committed to a block.
func (bc *BroadcastClient) BroadcastTxCommit(ctx context.Context, tx []byte) (*BroadcastResult, error) {
	var res struct {
		CheckTx   TxResult `json:"check_tx"`
		DeliverTx TxResult `json:"deliver_tx"`
		Hash      string   `json:"hash"`
		Height    int64    `json:"height,string"`
	}
	if err := bc.call(ctx, "broadcast_tx_commit", map[string]string{"tx": base64.StdEncoding.EncodeToString(tx)}, &res); err != nil {
		return nil, err
	}
	out := &BroadcastResult{TxID: txID(tx), Hash: res.Hash, Height: res.Height, CheckTx: res.CheckTx, DeliverTx: &res.DeliverTx}
	if err := res.CheckTx.Err("check_tx"); err != nil {
		return out, err
	}
	return out, res.DeliverTx.Err("deliver_tx")
}

// BroadcastSignedTransaction encodes signedTx and broadcasts it with BroadcastTxSync.
func (bc *BroadcastClient) BroadcastSignedTransaction(ctx context.Context, signedTx *types.SignedTransaction) (*BroadcastResult, error) {
	txBytes, err := signedTx.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}
	return bc.BroadcastTxSync(ctx, txBytes)
}

// BroadcastSignedTransactionCommit is like BroadcastSignedTransaction but waits for commit.
func (bc *BroadcastClient) BroadcastSignedTransactionCommit(ctx context.Context, signedTx *types.SignedTransaction) (*BroadcastResult, error) {
	txBytes, err := signedTx.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}
	return bc.BroadcastTxCommit(ctx, txBytes)
}

// QueryTx queries a transaction by its Tendermint hex hash.
func (bc *BroadcastClient) QueryTx(ctx context.Context, txHash string) (map[string]interface{}, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(txHash, "0x"))
	if err != nil {
		return nil, fmt.Errorf("tx hash: %w", err)
	}
	var result map[string]interface{}
	if err := bc.call(ctx, "tx", map[string]interface{}{"hash": base64.StdEncoding.EncodeToString(raw)}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// ErrQueryFailed is returned by ABCIQuery for a non-zero application code.
var ErrQueryFailed = errors.New("abci query failed")

// ABCIQuery runs an application query such as "/portfolio/<hex>" and returns
// the response value.
func (bc *BroadcastClient) ABCIQuery(ctx context.Context, path string) ([]byte, error) {
	var res struct {
		Response struct {
			Code  uint32 `json:"code"`
			Log   string `json:"log"`
			Value []byte `json:"value"`
		} `json:"response"`
	}
	if err := bc.call(ctx, "abci_query", map[string]string{"path": path}, &res); err != nil {
		return nil, err
	}
	if res.Response.Code != 0 {
		return nil, fmt.Errorf("%w: %s: code %d: %s", ErrQueryFailed, path, res.Response.Code, res.Response.Log)
	}
	return res.Response.Value, nil
}

// call performs one JSON-RPC request and decodes its result into out.
func (bc *BroadcastClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	reqBytes, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      uuid.NewString(),
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal RPC request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, bc.rpcAddr, bytes.NewReader(reqBytes))
	if err != nil {
		return fmt.Errorf("failed to build RPC request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := bc.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send RPC request: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read RPC response: %w", err)
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &rpcResp); err != nil {
		return fmt.Errorf("failed to parse RPC response: %w (body: %s)", err, string(respBytes))
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}
