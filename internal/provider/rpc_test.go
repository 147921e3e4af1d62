package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"tokenflow/internal/market"
)

func TestSolanaRPCBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Method != "getBalance" {
			t.Fatalf("expected getBalance, got %q", req.Method)
		}
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"context":{"slot":1},"value":2500000000}}`))
	}))
	defer srv.Close()

	p := NewSolanaRPC(srv.URL, 9, srv.Client())
	key := market.NewResourceKey(market.CategoryAccountBalance, "wallet123")

	res := p.Query(context.Background(), key, testBudget())
	if !res.Success {
		t.Fatalf("expected success")
	}
	if res.Data.Balance != 2.5 {
		t.Fatalf("expected 2.5 SOL, got %v", res.Data.Balance)
	}
}

func TestSolanaRPCTokenSupply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"value":{"amount":"1000000000000000","decimals":6,"uiAmount":1e9}}}`))
	}))
	defer srv.Close()

	p := NewSolanaRPC(srv.URL, 9, srv.Client())
	key := market.NewResourceKey(market.CategoryTokenSupply, "mint123")

	res := p.Query(context.Background(), key, testBudget())
	if !res.Success {
		t.Fatalf("expected success")
	}
	if res.Data.Supply != 1000000000000000 {
		t.Fatalf("unexpected supply %d", res.Data.Supply)
	}
	if res.Data.Decimals != 6 {
		t.Fatalf("unexpected decimals %d", res.Data.Decimals)
	}
}

func TestSolanaRPCErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"invalid param"}}`))
	}))
	defer srv.Close()

	p := NewSolanaRPC(srv.URL, 9, srv.Client())
	res := p.Query(context.Background(), market.NewResourceKey(market.CategoryAccountBalance, "bad"), testBudget())
	if res.Success {
		t.Fatalf("expected failure on rpc error")
	}
}

func TestSolanaRPCUnsupportedCategory(t *testing.T) {
	p := NewSolanaRPC("http://127.0.0.1:1", 9, http.DefaultClient)
	res := p.Query(context.Background(), market.NewResourceKey(market.CategoryTokenPrice, "mint"), testBudget())
	if res.Success {
		t.Fatalf("rpc provider should not answer price queries")
	}
}
