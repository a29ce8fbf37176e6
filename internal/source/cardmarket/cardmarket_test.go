package cardmarket

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"dealscout/internal/domain"
	"dealscout/internal/source"
)

func newStubAdapter(t *testing.T, render func(ctx context.Context, pageURL, proxyURL string) (pageData, error)) *Adapter {
	t.Helper()
	a, err := New(Options{Queries: []string{"Pokemon"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.render = render
	return a
}

func TestFetchMapsRows(t *testing.T) {
	a := newStubAdapter(t, func(ctx context.Context, pageURL, proxyURL string) (pageData, error) {
		return pageData{Rows: []row{
			{
				Title:     "Charizard VMAX 20/189 Darkness Ablaze",
				Price:     "24,50 €",
				Condition: "EX",
				Seller:    "ukcards",
				URL:       "https://www.cardmarket.com/en/Pokemon/Products/Singles/Darkness-Ablaze/Charizard-VMAX-V1-DAA020",
				Img:       "https://img.cardmarket.com/DAA020.jpg",
			},
			{Title: "Not a product link", Price: "5,00 €", URL: "https://www.cardmarket.com/en/Pokemon/Users/ukcards"},
			{Title: "", Price: "9,99 €", URL: "https://www.cardmarket.com/en/Pokemon/Products/Singles/151/Blank-MEW000"},
		}}, nil
	})

	listings, err := a.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(listings) != 1 {
		t.Fatalf("listings = %d, want 1", len(listings))
	}
	got := listings[0]
	if got.ExternalID != "Charizard-VMAX-V1-DAA020" {
		t.Errorf("ExternalID = %q, want product slug from URL", got.ExternalID)
	}
	if got.Platform != domain.PlatformCardmarket {
		t.Errorf("Platform = %q", got.Platform)
	}
	if got.Price != 24.50 || got.Currency != "EUR" {
		t.Errorf("Price = %v %s, want 24.50 EUR", got.Price, got.Currency)
	}
	if got.RawCondition != "LP" {
		t.Errorf("RawCondition = %q, want Cardmarket EX translated to LP", got.RawCondition)
	}
	if got.SellerName != "ukcards" {
		t.Errorf("SellerName = %q", got.SellerName)
	}
	if !got.BuyNow {
		t.Error("BuyNow = false, want true")
	}
}

func TestSearchURLPinsUKSellers(t *testing.T) {
	var sawURL string
	a := newStubAdapter(t, func(ctx context.Context, pageURL, proxyURL string) (pageData, error) {
		sawURL = pageURL
		return pageData{}, nil
	})

	if _, err := a.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	for _, want := range []string{"sellerCountry=GB", "sortBy=price_asc", "searchString=Pokemon"} {
		if !strings.Contains(sawURL, want) {
			t.Errorf("search URL %q missing %q", sawURL, want)
		}
	}
}

func TestTranslateCondition(t *testing.T) {
	cases := map[string]string{
		"MT":         "NM",
		"NM":         "NM",
		"EX":         "LP",
		"GD":         "MP",
		"LP":         "MP",
		"PL":         "HP",
		"PO":         "DMG",
		"mint condn": "mint condn", // unknown codes pass through
	}
	for in, want := range cases {
		if got := translateCondition(in); got != want {
			t.Errorf("translateCondition(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParsePriceFormats(t *testing.T) {
	cases := map[string]float64{
		"24,50 €":    24.50,
		"1.234,56 €": 1234.56,
		"£12.50":     12.50,
		"":           0,
		"sold out":   0,
	}
	for in, want := range cases {
		if got := parsePrice(in); got != want {
			t.Errorf("parsePrice(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFetchChallengePageIsBlocked(t *testing.T) {
	a := newStubAdapter(t, func(ctx context.Context, pageURL, proxyURL string) (pageData, error) {
		return pageData{Challenged: true}, nil
	})

	_, err := a.Fetch(context.Background())
	if !errors.Is(err, source.ErrBlocked) {
		t.Fatalf("err = %v, want ErrBlocked", err)
	}
	if !source.IsCircuitTripping(err) {
		t.Error("challenge should trip the circuit")
	}
}

func TestFetchRenderFailureIsTransient(t *testing.T) {
	a := newStubAdapter(t, func(ctx context.Context, pageURL, proxyURL string) (pageData, error) {
		return pageData{}, fmt.Errorf("context deadline exceeded")
	})

	_, err := a.Fetch(context.Background())
	if !errors.Is(err, source.ErrTransient) {
		t.Fatalf("err = %v, want ErrTransient", err)
	}
}

func TestFetchPerQueryLimit(t *testing.T) {
	a, err := New(Options{Queries: []string{"Pokemon"}, PerQuery: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.render = func(ctx context.Context, pageURL, proxyURL string) (pageData, error) {
		var rows []row
		for i := 0; i < 5; i++ {
			rows = append(rows, row{
				Title: fmt.Sprintf("Card %d", i),
				Price: "1,00 €",
				URL:   fmt.Sprintf("https://www.cardmarket.com/en/Pokemon/Products/Singles/151/Card-MEW%03d", i),
			})
		}
		return pageData{Rows: rows}, nil
	}

	listings, err := a.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(listings) != 2 {
		t.Fatalf("listings = %d, want per-query limit 2", len(listings))
	}
}
