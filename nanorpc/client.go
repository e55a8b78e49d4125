package nanorpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/flashbots/ledgermix/mixer"
	"github.com/shopspring/decimal"
)

// Config describes how to reach a node's RPC endpoint.
type Config struct {
	// URL of the node RPC, e.g. http://[::1]:7076.
	URL string
	// Wallet holds the origin account; mix accounts are created in it.
	Wallet string
	// RequestTimeout bounds a single RPC call.
	RequestTimeout time.Duration
	// Confirm bounds the wait in SendAndConfirm.
	Confirm mixer.ConfirmConfig
}

// Client is a mixer.LedgerClient talking to a node's JSON-RPC interface.
// It is safe for concurrent use.
type Client struct {
	url        string
	wallet     string
	confirm    mixer.ConfirmConfig
	httpClient *http.Client
	log        *slog.Logger
}

var _ mixer.LedgerClient = (*Client)(nil)

// NewClient creates a node client.
func NewClient(cfg Config, log *slog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("node url is required")
	}
	if cfg.Wallet == "" {
		return nil, fmt.Errorf("wallet id is required")
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.Confirm.PollInterval == 0 || cfg.Confirm.Timeout == 0 {
		cfg.Confirm = mixer.DefaultConfirmConfig()
	}
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		url:        strings.TrimRight(cfg.URL, "/"),
		wallet:     cfg.Wallet,
		confirm:    cfg.Confirm,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		log:        log,
	}, nil
}

// rpcError is the error shape returned by the node.
type rpcError struct {
	Error string `json:"error"`
}

// call posts an action and decodes the response into out.
func (c *Client) call(ctx context.Context, action string, params map[string]any, out any) error {
	body := map[string]any{"action": action}
	for k, v := range params {
		body[k] = v
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", mixer.ErrLedgerUnavailable, action, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", mixer.ErrLedgerUnavailable, action, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading %s response: %v", mixer.ErrLedgerUnavailable, action, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned %d: %s", mixer.ErrLedgerUnavailable, action, resp.StatusCode, string(raw))
	}

	var nodeErr rpcError
	if err := json.Unmarshal(raw, &nodeErr); err == nil && nodeErr.Error != "" {
		return classifyNodeError(action, nodeErr.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decoding %s response: %v", mixer.ErrLedgerUnavailable, action, err)
	}
	return nil
}

func classifyNodeError(action, msg string) error {
	if strings.Contains(strings.ToLower(msg), "insufficient balance") {
		return fmt.Errorf("%w: %s: %s", mixer.ErrInsufficientRemoteBalance, action, msg)
	}
	return fmt.Errorf("%w: %s: %s", mixer.ErrLedgerUnavailable, action, msg)
}

// CreateAccount implements mixer.LedgerClient.
func (c *Client) CreateAccount(ctx context.Context) (mixer.AccountID, error) {
	var resp struct {
		Account string `json:"account"`
	}
	if err := c.call(ctx, "account_create", map[string]any{"wallet": c.wallet}, &resp); err != nil {
		return "", err
	}
	if resp.Account == "" {
		return "", fmt.Errorf("%w: account_create returned no account", mixer.ErrLedgerUnavailable)
	}
	return mixer.AccountID(resp.Account), nil
}

// DeleteAccount implements mixer.LedgerClient.
func (c *Client) DeleteAccount(ctx context.Context, account mixer.AccountID) (bool, error) {
	var resp struct {
		Removed string `json:"removed"`
	}
	params := map[string]any{"wallet": c.wallet, "account": string(account)}
	if err := c.call(ctx, "account_remove", params, &resp); err != nil {
		return false, err
	}
	return resp.Removed == "1", nil
}

// AccountBalance implements mixer.LedgerClient.
func (c *Client) AccountBalance(ctx context.Context, account mixer.AccountID) (decimal.Decimal, decimal.Decimal, error) {
	var resp struct {
		Balance    string `json:"balance"`
		Pending    string `json:"pending"`
		Receivable string `json:"receivable"`
	}
	if err := c.call(ctx, "account_balance", map[string]any{"account": string(account)}, &resp); err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	confirmed, err := parseRaw(resp.Balance)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: balance of %s: %v", mixer.ErrLedgerUnavailable, account, err)
	}

	pendingField := resp.Pending
	if pendingField == "" {
		pendingField = resp.Receivable
	}
	pending, err := parseRaw(pendingField)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: pending of %s: %v", mixer.ErrLedgerUnavailable, account, err)
	}

	return confirmed, pending, nil
}

// Send implements mixer.LedgerClient.
func (c *Client) Send(ctx context.Context, source, destination mixer.AccountID, amount decimal.Decimal) (mixer.TransferHandle, error) {
	if !amount.IsPositive() {
		return "", fmt.Errorf("send of non-positive amount %s", amount)
	}

	var resp struct {
		Block string `json:"block"`
	}
	params := map[string]any{
		"wallet":      c.wallet,
		"source":      string(source),
		"destination": string(destination),
		"amount":      amount.String(),
	}
	if err := c.call(ctx, "send", params, &resp); err != nil {
		return "", err
	}

	c.log.Debug("Send block published", "source", source, "destination", destination, "amount", amount.String(), "block", resp.Block)
	return mixer.TransferHandle(resp.Block), nil
}

// ReceivePending implements mixer.LedgerClient by publishing a receive block
// for every pending block of the account.
func (c *Client) ReceivePending(ctx context.Context, account mixer.AccountID) error {
	blocks, err := c.pendingBlocks(ctx, account)
	if err != nil {
		return err
	}

	for _, block := range blocks {
		params := map[string]any{"wallet": c.wallet, "account": string(account), "block": block}
		if err := c.call(ctx, "receive", params, nil); err != nil {
			return err
		}
	}
	return nil
}

// pendingBlocks lists the hashes of blocks pending for account. Nodes answer
// with an empty string when nothing is pending, an array of hashes, or an
// object keyed by hash when more detail is requested.
func (c *Client) pendingBlocks(ctx context.Context, account mixer.AccountID) ([]string, error) {
	var resp struct {
		Blocks json.RawMessage `json:"blocks"`
	}
	params := map[string]any{"account": string(account), "count": "99999"}
	if err := c.call(ctx, "pending", params, &resp); err != nil {
		return nil, err
	}

	return decodeBlocks(resp.Blocks)
}

func decodeBlocks(raw json.RawMessage) ([]string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] == '"' || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	switch trimmed[0] {
	case '[':
		var hashes []string
		if err := json.Unmarshal(trimmed, &hashes); err != nil {
			return nil, fmt.Errorf("%w: decoding pending blocks: %v", mixer.ErrLedgerUnavailable, err)
		}
		return hashes, nil
	case '{':
		var byHash map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &byHash); err != nil {
			return nil, fmt.Errorf("%w: decoding pending blocks: %v", mixer.ErrLedgerUnavailable, err)
		}
		hashes := make([]string, 0, len(byHash))
		for hash := range byHash {
			hashes = append(hashes, hash)
		}
		return hashes, nil
	default:
		return nil, fmt.Errorf("%w: unexpected pending blocks %s", mixer.ErrLedgerUnavailable, string(trimmed))
	}
}

// SendAndConfirm implements mixer.LedgerClient.
func (c *Client) SendAndConfirm(ctx context.Context, source, destination mixer.AccountID, amount decimal.Decimal) error {
	return mixer.SendAndConfirm(ctx, c, source, destination, amount, c.confirm)
}

// ListAccounts returns every account of the wallet.
func (c *Client) ListAccounts(ctx context.Context) ([]mixer.AccountID, error) {
	var resp struct {
		Accounts []string `json:"accounts"`
	}
	if err := c.call(ctx, "account_list", map[string]any{"wallet": c.wallet}, &resp); err != nil {
		return nil, err
	}

	out := make([]mixer.AccountID, len(resp.Accounts))
	for i, acc := range resp.Accounts {
		out[i] = mixer.AccountID(acc)
	}
	return out, nil
}

func parseRaw(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() || !d.IsInteger() {
		return decimal.Zero, fmt.Errorf("invalid raw amount %q", s)
	}
	return d, nil
}
