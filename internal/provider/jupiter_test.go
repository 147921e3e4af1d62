package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"tokenflow/internal/market"
)

func TestJupiterPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("ids")
		fmt.Fprintf(w, `{"data":{"%s":{"price":1.234,"mintSymbol":"TKN"}}}`, id)
	}))
	defer srv.Close()

	p := NewJupiter(srv.URL, 10, "", srv.Client())
	res := p.Query(context.Background(), market.NewResourceKey(market.CategoryTokenPrice, "mint123"), testBudget())
	if !res.Success {
		t.Fatalf("expected success")
	}
	if res.Data.PriceUSD != 1.234 {
		t.Fatalf("unexpected price %v", res.Data.PriceUSD)
	}
}

func TestJupiterReferencePriceUsesSolMint(t *testing.T) {
	var gotID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = r.URL.Query().Get("ids")
		fmt.Fprintf(w, `{"data":{"%s":{"price":150.5,"mintSymbol":"SOL"}}}`, gotID)
	}))
	defer srv.Close()

	p := NewJupiter(srv.URL, 10, "", srv.Client())
	res := p.Query(context.Background(), market.NewResourceKey(market.CategoryReferencePrice, "SOL"), testBudget())
	if !res.Success {
		t.Fatalf("expected success")
	}
	if gotID != market.SolMint {
		t.Fatalf("reference price should resolve against the wrapped SOL mint, got %q", gotID)
	}
	if res.Data.PriceUSD != 150.5 {
		t.Fatalf("unexpected price %v", res.Data.PriceUSD)
	}
}

func TestJupiterMissingTokenFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	p := NewJupiter(srv.URL, 10, "", srv.Client())
	res := p.Query(context.Background(), market.NewResourceKey(market.CategoryTokenPrice, "mint123"), testBudget())
	if res.Success {
		t.Fatalf("expected failure when token is absent from response")
	}
}

func TestJupiterAPIKeyHeader(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-KEY")
		w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	p := NewJupiter(srv.URL, 10, "secret", srv.Client())
	p.Query(context.Background(), market.NewResourceKey(market.CategoryTokenPrice, "mint123"), testBudget())
	if gotKey != "secret" {
		t.Fatalf("expected api key header, got %q", gotKey)
	}
}
