package retail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"dealscout/internal/domain"
	"dealscout/internal/source"
)

const shopPage = `<!DOCTYPE html>
<html><body>
<div class="collection-grid">
  <div class="product-card">
    <a href="/products/charizard-ex-199-165-151"><img src="/cdn/char.jpg"></a>
    <h3 class="product-title">Charizard ex 199/165 Pokemon 151</h3>
    <span class="price">&pound;89.99</span>
  </div>
  <div class="product-card">
    <a href="/products/pikachu-promo"><img src="/cdn/pika.jpg"></a>
    <h3 class="product-title">Pikachu SWSH Promo</h3>
    <span class="price">From &pound;3.50</span>
  </div>
  <div class="product-card">
    <h3 class="product-title">Sold out card with no link</h3>
    <span class="price">&pound;10.00</span>
  </div>
</div>
</body></html>`

func newTestAdapter(t *testing.T, srv *httptest.Server, maxPages int) *Adapter {
	t.Helper()
	a, err := New(Options{
		Platform: domain.PlatformMagicMadhouse,
		BaseURL:  srv.URL,
		ListPath: "/collections/pokemon-single-cards",
		MaxPages: maxPages,
		Client:   srv.Client(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestFetchExtractsProductTiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "1" {
			fmt.Fprint(w, shopPage)
			return
		}
		fmt.Fprint(w, "<html><body><div class=\"collection-grid\"></div></body></html>")
	}))
	defer srv.Close()

	listings, err := newTestAdapter(t, srv, 3).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(listings) != 2 {
		t.Fatalf("listings = %d, want 2 (linkless tile skipped)", len(listings))
	}

	got := listings[0]
	if got.ExternalID != "charizard-ex-199-165-151" {
		t.Errorf("ExternalID = %q", got.ExternalID)
	}
	if got.Title != "Charizard ex 199/165 Pokemon 151" {
		t.Errorf("Title = %q", got.Title)
	}
	if got.Price != 89.99 {
		t.Errorf("Price = %v, want 89.99", got.Price)
	}
	if got.Currency != "GBP" {
		t.Errorf("Currency = %q", got.Currency)
	}
	if got.URL != srv.URL+"/products/charizard-ex-199-165-151" {
		t.Errorf("URL = %q", got.URL)
	}
	if !got.BuyNow {
		t.Error("BuyNow = false, want true")
	}
	if listings[1].Price != 3.50 {
		t.Errorf("second Price = %v, want 3.50", listings[1].Price)
	}
}

func TestFetchStopsAtEmptyPage(t *testing.T) {
	var pages []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages = append(pages, r.URL.Query().Get("page"))
		if r.URL.Query().Get("page") == "1" {
			fmt.Fprint(w, shopPage)
			return
		}
		fmt.Fprint(w, "<html><body></body></html>")
	}))
	defer srv.Close()

	if _, err := newTestAdapter(t, srv, 5).Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("requested pages %v, want stop after first empty page", pages)
	}
}

func TestFetchLayoutDriftYieldsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div class="new-grid"><div class="tile">nothing familiar</div></div></body></html>`)
	}))
	defer srv.Close()

	listings, err := newTestAdapter(t, srv, 3).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(listings) != 0 {
		t.Fatalf("listings = %d, want 0 on layout drift", len(listings))
	}
}

func TestFetchStatusClassification(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, source.ErrRateLimited},
		{http.StatusForbidden, source.ErrBlocked},
		{http.StatusBadGateway, source.ErrTransient},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		_, err := newTestAdapter(t, srv, 1).Fetch(context.Background())
		srv.Close()
		if !errors.Is(err, tc.want) {
			t.Errorf("status %d: err = %v, want %v", tc.status, err, tc.want)
		}
		var se *source.SourceError
		if !errors.As(err, &se) || se.Platform != domain.PlatformMagicMadhouse {
			t.Errorf("status %d: missing SourceError platform, got %v", tc.status, err)
		}
	}
}

func TestParsePrice(t *testing.T) {
	cases := map[string]float64{
		"£89.99":        89.99,
		"From £3.50":    3.50,
		"£1,299.00":     1299.00,
		"Out of stock":  0,
		"":              0,
		"  £0.75 each ": 0.75,
	}
	for in, want := range cases {
		if got := parsePrice(in); got != want {
			t.Errorf("parsePrice(%q) = %v, want %v", in, got, want)
		}
	}
}
