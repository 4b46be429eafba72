// Package chain reads the Sagent billing contract and transactions over JSON-RPC.
package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	// ChainID of the Sagent network.
	ChainID uint64 = 2751288990640000
	// DefaultRPCURL is the public Sagent JSON-RPC endpoint.
	DefaultRPCURL = "https://sagent-2751288990640000-1.jsonrpc.sagarpc.io"
	// Symbol of the native currency.
	Symbol = "SAG"
	// Decimals of the native currency.
	Decimals = 18

	// getBalanceSelector is the 4-byte selector of getBalance().
	getBalanceSelector = "0x12065fe0"
)

var (
	// ErrTxNotFound is returned when the node does not know a transaction.
	ErrTxNotFound = errors.New("transaction not found")
	// ErrWrongChain is returned when the node serves a different chain.
	ErrWrongChain = errors.New("rpc node serves a different chain")
)

// Client is a minimal Ethereum JSON-RPC client bound to the billing contract.
type Client struct {
	http     *resty.Client
	contract string
	nextID   atomic.Uint64
}

// NewClient creates a client for rpcURL. contract is the billing contract address.
func NewClient(rpcURL, contract string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := resty.New().
		SetBaseURL(rpcURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)

	return &Client{http: c, contract: strings.ToLower(contract)}
}

// Contract returns the lower-cased billing contract address.
func (c *Client) Contract() string {
	return c.contract
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, out any, params ...any) error {
	if params == nil {
		params = []any{}
	}
	req := rpcRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params}

	var rr rpcResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(&req).
		SetResult(&rr).
		Post("")
	if err != nil {
		return fmt.Errorf("%s request: %w", method, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("%s status %d: %s", method, resp.StatusCode(), resp.String())
	}
	if rr.Error != nil {
		return fmt.Errorf("%s: %w", method, rr.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rr.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// GetChainID returns the chain id reported by the node.
func (c *Client) GetChainID(ctx context.Context) (uint64, error) {
	var hex string
	if err := c.call(ctx, "eth_chainId", &hex); err != nil {
		return 0, err
	}
	n, err := ParseQuantity(hex)
	if err != nil {
		return 0, err
	}
	return n.Uint64(), nil
}

// CheckChainID fails with ErrWrongChain unless the node reports want.
func (c *Client) CheckChainID(ctx context.Context, want uint64) error {
	got, err := c.GetChainID(ctx)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: got %d, want %d", ErrWrongChain, got, want)
	}
	return nil
}

// GetBalance calls the contract's getBalance() as account and returns the
// deposited balance in wei.
func (c *Client) GetBalance(ctx context.Context, account string) (*big.Int, error) {
	if c.contract == "" {
		return nil, errors.New("contract address not configured")
	}
	if !IsAddress(account) {
		return nil, fmt.Errorf("invalid account address %q", account)
	}
	callMsg := map[string]string{
		"from": account,
		"to":   c.contract,
		"data": getBalanceSelector,
	}
	var hex string
	if err := c.call(ctx, "eth_call", &hex, callMsg, "latest"); err != nil {
		return nil, err
	}
	return ParseQuantity(hex)
}

// Transaction is the subset of a transaction the billing flow checks.
type Transaction struct {
	Hash        string   `json:"hash"`
	From        string   `json:"from"`
	To          string   `json:"to"`
	Value       *big.Int `json:"-"`
	BlockNumber string   `json:"blockNumber"`
	RawValue    string   `json:"value"`
}

// TransactionByHash returns the transaction with the given hash.
func (c *Client) TransactionByHash(ctx context.Context, hash string) (*Transaction, error) {
	var tx *Transaction
	if err := c.call(ctx, "eth_getTransactionByHash", &tx, hash); err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, ErrTxNotFound
	}
	v, err := ParseQuantity(tx.RawValue)
	if err != nil {
		return nil, fmt.Errorf("transaction value: %w", err)
	}
	tx.Value = v
	return tx, nil
}

// Receipt is the subset of a transaction receipt the billing flow checks.
type Receipt struct {
	TransactionHash string `json:"transactionHash"`
	Status          string `json:"status"`
	From            string `json:"from"`
	To              string `json:"to"`
	BlockNumber     string `json:"blockNumber"`
}

// Succeeded reports whether the receipt status is 0x1.
func (r *Receipt) Succeeded() bool {
	return r.Status == "0x1"
}

// TransactionReceipt returns the receipt of a mined transaction. A pending or
// unknown transaction yields ErrTxNotFound.
func (c *Client) TransactionReceipt(ctx context.Context, hash string) (*Receipt, error) {
	var r *Receipt
	if err := c.call(ctx, "eth_getTransactionReceipt", &r, hash); err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrTxNotFound
	}
	return r, nil
}
