package chain

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testContract = "0x5fbdb2315678afecb367f032d93f642f64180aa3"
	testWallet   = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	testTx       = "0x88df016429689c079f3b2f6ad39fa052532c56795b733da78a91ebe6a713944b"
)

// fakeNode answers JSON-RPC methods from a static table.
func fakeNode(t *testing.T, results map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if res, ok := results[req.Method]; ok {
			resp["result"] = res
		} else {
			resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestGetBalance(t *testing.T) {
	var seen map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64            `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "eth_call", req.Method)
		require.NoError(t, json.Unmarshal(req.Params[0], &seen))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0", "id": req.ID,
			// 0.005 ether
			"result": "0x0000000000000000000000000000000000000000000000000011c37937e08000",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testContract, time.Second)
	bal, err := c.GetBalance(context.Background(), testWallet)
	require.NoError(t, err)

	assert.Equal(t, "5000000000000000", bal.String())
	assert.Equal(t, testWallet, seen["from"])
	assert.Equal(t, testContract, seen["to"])
	assert.Equal(t, getBalanceSelector, seen["data"])
}

func TestGetBalanceRejectsBadAccount(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", testContract, time.Second)
	_, err := c.GetBalance(context.Background(), "not-an-address")
	assert.Error(t, err)
}

func TestRPCErrorIsReturned(t *testing.T) {
	srv := fakeNode(t, nil)
	defer srv.Close()

	c := NewClient(srv.URL, testContract, time.Second)
	_, err := c.GetChainID(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "method not found")
}

func TestTransactionAndReceipt(t *testing.T) {
	srv := fakeNode(t, map[string]any{
		"eth_chainId": "0x9c64862f62780",
		"eth_getTransactionByHash": map[string]any{
			"hash": testTx, "from": testWallet, "to": testContract,
			"value": "0x11c37937e08000", "blockNumber": "0x10",
		},
		"eth_getTransactionReceipt": map[string]any{
			"transactionHash": testTx, "status": "0x1", "from": testWallet, "to": testContract,
		},
	})
	defer srv.Close()

	c := NewClient(srv.URL, testContract, time.Second)
	ctx := context.Background()

	id, err := c.GetChainID(ctx)
	require.NoError(t, err)
	assert.Equal(t, ChainID, id)

	tx, err := c.TransactionByHash(ctx, testTx)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(5_000_000_000_000_000), tx.Value)
	assert.True(t, SameAddress(tx.To, testContract))

	rcpt, err := c.TransactionReceipt(ctx, testTx)
	require.NoError(t, err)
	assert.True(t, rcpt.Succeeded())
}

func TestUnknownTransaction(t *testing.T) {
	srv := fakeNode(t, map[string]any{
		"eth_getTransactionByHash":  nil,
		"eth_getTransactionReceipt": nil,
	})
	defer srv.Close()

	c := NewClient(srv.URL, testContract, time.Second)
	_, err := c.TransactionByHash(context.Background(), testTx)
	assert.ErrorIs(t, err, ErrTxNotFound)
	_, err = c.TransactionReceipt(context.Background(), testTx)
	assert.ErrorIs(t, err, ErrTxNotFound)
}

func TestCheckChainID(t *testing.T) {
	srv := fakeNode(t, map[string]any{"eth_chainId": "0x9c64862f62780"})
	defer srv.Close()
	c := NewClient(srv.URL, testContract, time.Second)

	id, err := c.GetChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ChainID, id)

	require.NoError(t, c.CheckChainID(context.Background(), ChainID))
	err = c.CheckChainID(context.Background(), 1)
	assert.ErrorIs(t, err, ErrWrongChain)

	down := fakeNode(t, nil)
	defer down.Close()
	err = NewClient(down.URL, testContract, time.Second).CheckChainID(context.Background(), ChainID)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrWrongChain)
}
