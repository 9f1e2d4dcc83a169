package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/alanyoungcy/chainbot/internal/domain"
)

// RPCClient is a minimal Solana JSON-RPC client over HTTP.
type RPCClient struct {
	client *resty.Client
	nextID atomic.Uint64
}

// NewRPCClient creates a client for the given RPC endpoint, e.g.
// "https://api.mainnet-beta.solana.com".
func NewRPCClient(rpcURL string) *RPCClient {
	client := resty.New()
	client.SetBaseURL(rpcURL)
	client.SetTimeout(30 * time.Second)
	client.SetHeader("Content-Type", "application/json")

	return &RPCClient{client: client}
}

// GetTransaction fetches a confirmed transaction in jsonParsed encoding. It
// returns domain.ErrNotFound when the node does not know the signature yet.
func (c *RPCClient) GetTransaction(ctx context.Context, signature string) (*Transaction, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  "getTransaction",
		Params: []any{
			signature,
			map[string]any{
				"encoding":                       "jsonParsed",
				"commitment":                     "confirmed",
				"maxSupportedTransactionVersion": 0,
			},
		},
	}

	result, err := c.call(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("solana/rpc: get transaction %s: %w", signature, err)
	}
	if len(result) == 0 || string(result) == "null" {
		return nil, fmt.Errorf("solana/rpc: get transaction %s: %w", signature, domain.ErrNotFound)
	}

	var tx Transaction
	if err := json.Unmarshal(result, &tx); err != nil {
		return nil, fmt.Errorf("solana/rpc: decode transaction %s: %w", signature, err)
	}
	return &tx, nil
}

func (c *RPCClient) call(ctx context.Context, req rpcRequest) (json.RawMessage, error) {
	var out rpcResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConnection, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d: %s", domain.ErrConnection, resp.StatusCode(), resp.String())
	}
	if out.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %w", out.Error.Code, out.Error)
	}
	return out.Result, nil
}
