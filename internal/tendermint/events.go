package tendermint

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"coinfolio.mini/cfm/internal/types"
)

// TxEvent is a transaction delivered in a committed block.
type TxEvent struct {
	TxID   string
	Height int64
	Result TxResult
}

// txID is the ledger id of a delivered record, or "" when it does not decode.
func txID(tx []byte) string {
	id, err := types.TxID(tx)
	if err != nil {
		return ""
	}
	return id
}

// websocketURL maps the RPC address onto Tendermint's /websocket endpoint.
func websocketURL(rpcAddr string) (string, error) {
	u, err := url.Parse(rpcAddr)
	if err != nil {
		return "", fmt.Errorf("parse rpc address: %w", err)
	}
	switch u.Scheme {
	case "http", "tcp", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/websocket"
	return u.String(), nil
}

// WaitForTx subscribes to Tx events for the transaction with the given
// ledger id and blocks until it is delivered or ctx is done. The returned
// event carries the DeliverTx result, which may be a rejection.
func (bc *BroadcastClient) WaitForTx(ctx context.Context, id string) (*TxEvent, error) {
	wsURL, err := websocketURL(bc.rpcAddr)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	// Closing the connection unblocks ReadJSON when ctx ends first.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	subID := uuid.NewString()
	sub := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      subID,
		"method":  "subscribe",
		"params": map[string]string{
			"query": fmt.Sprintf("tm.event='Tx' AND cfm.hash='%s'", id),
		},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	for {
		var msg struct {
			ID     string          `json:"id"`
			Result json.RawMessage `json:"result"`
			Error  *RPCError       `json:"error"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("read event: %w", err)
		}
		if msg.Error != nil {
			return nil, msg.Error
		}

		ev, ok, err := parseTxEvent(msg.Result)
		if err != nil {
			return nil, err
		}
		if !ok || ev.TxID != id {
			continue
		}

		_ = conn.WriteJSON(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      uuid.NewString(),
			"method":  "unsubscribe_all",
			"params":  map[string]string{},
		})
		return ev, nil
	}
}

// parseTxEvent decodes the result of an event message. ok is false for the
// empty subscription acknowledgement and for non-Tx events.
func parseTxEvent(raw json.RawMessage) (*TxEvent, bool, error) {
	var res struct {
		Data struct {
			Type  string `json:"type"`
			Value struct {
				TxResult struct {
					Height int64    `json:"height,string"`
					Tx     []byte   `json:"tx"`
					Result TxResult `json:"result"`
				} `json:"TxResult"`
			} `json:"value"`
		} `json:"data"`
	}
	if len(raw) == 0 || string(raw) == "{}" || string(raw) == "null" {
		return nil, false, nil
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, false, fmt.Errorf("decode event: %w", err)
	}
	if res.Data.Type != "tendermint/event/Tx" {
		return nil, false, nil
	}
	tx := res.Data.Value.TxResult
	return &TxEvent{TxID: txID(tx.Tx), Height: tx.Height, Result: tx.Result}, true, nil
}
