package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"tokenflow/internal/health"
	"tokenflow/internal/market"
	"tokenflow/logger"
)

const lamportsPerSol = 1_000_000_000

// SolanaRPC answers account balance and token supply queries against one
// JSON-RPC node endpoint.
type SolanaRPC struct {
	name     string
	endpoint string
	priority int
	client   *http.Client
	log      *logger.Log
}

func NewSolanaRPC(endpoint string, priority int, client *http.Client) *SolanaRPC {
	return &SolanaRPC{
		name:     "solana_rpc",
		endpoint: endpoint,
		priority: priority,
		client:   client,
		log:      logger.GetLogger(),
	}
}

func (p *SolanaRPC) Name() string  { return p.name }
func (p *SolanaRPC) Priority() int { return p.priority }
func (p *SolanaRPC) Categories() []market.Category {
	return []market.Category{market.CategoryAccountBalance, market.CategoryTokenSupply}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type balanceResponse struct {
	Result struct {
		Value uint64 `json:"value"`
	} `json:"result"`
	Error *rpcError `json:"error"`
}

type supplyResponse struct {
	Result struct {
		Value struct {
			Amount   string `json:"amount"`
			Decimals uint8  `json:"decimals"`
		} `json:"value"`
	} `json:"result"`
	Error *rpcError `json:"error"`
}

func (p *SolanaRPC) Query(ctx context.Context, key market.ResourceKey, budget health.TimeoutBudget) market.QueryResult {
	start := time.Now()

	switch key.Category {
	case market.CategoryAccountBalance:
		return p.queryBalance(ctx, key, budget, start)
	case market.CategoryTokenSupply:
		return p.querySupply(ctx, key, budget, start)
	default:
		return failedResult(key, p.name, p.priority, start)
	}
}

func (p *SolanaRPC) queryBalance(ctx context.Context, key market.ResourceKey, budget health.TimeoutBudget, start time.Time) market.QueryResult {
	var resp balanceResponse
	err := p.call(ctx, budget, rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getBalance",
		Params:  []interface{}{key.Identifier},
	}, &resp)
	if err != nil || resp.Error != nil {
		if err == nil {
			err = fmt.Errorf("rpc error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		p.log.WithComponent("rpc_provider").WithFields(logger.Fields{
			"wallet": key.Identifier,
		}).WithError(err).Debug("getBalance failed")
		return failedResult(key, p.name, p.priority, start)
	}

	return market.QueryResult{
		Key: key,
		Data: market.TokenMarketData{
			Balance: float64(resp.Result.Value) / lamportsPerSol,
		},
		Source:    p.name,
		Priority:  p.priority,
		Latency:   time.Since(start),
		Success:   true,
		Timestamp: time.Now(),
	}
}

func (p *SolanaRPC) querySupply(ctx context.Context, key market.ResourceKey, budget health.TimeoutBudget, start time.Time) market.QueryResult {
	var resp supplyResponse
	err := p.call(ctx, budget, rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getTokenSupply",
		Params:  []interface{}{key.Identifier},
	}, &resp)
	if err != nil || resp.Error != nil {
		if err == nil {
			err = fmt.Errorf("rpc error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		p.log.WithComponent("rpc_provider").WithFields(logger.Fields{
			"mint": key.Identifier,
		}).WithError(err).Debug("getTokenSupply failed")
		return failedResult(key, p.name, p.priority, start)
	}

	amount, err := strconv.ParseUint(resp.Result.Value.Amount, 10, 64)
	if err != nil || amount == 0 {
		return failedResult(key, p.name, p.priority, start)
	}

	return market.QueryResult{
		Key: key,
		Data: market.TokenMarketData{
			Supply:   amount,
			Decimals: resp.Result.Value.Decimals,
		},
		Source:    p.name,
		Priority:  p.priority,
		Latency:   time.Since(start),
		Success:   true,
		Timestamp: time.Now(),
	}
}

func (p *SolanaRPC) call(ctx context.Context, budget health.TimeoutBudget, req rpcRequest, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, budget.Total)
	defer cancel()

	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("malformed response body: %w", err)
	}
	return nil
}
