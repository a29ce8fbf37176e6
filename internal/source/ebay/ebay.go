// Package ebay fetches Buy It Now listings from the eBay Browse API.
package ebay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"dealscout/internal/domain"
	"dealscout/internal/source"
)

const (
	defaultAuthURL   = "https://api.ebay.com/identity/v1/oauth2/token"
	defaultBrowseURL = "https://api.ebay.com/buy/browse/v1/item_summary/search"

	// Pokemon TCG category on eBay UK.
	categoryID = "183454"

	marketplaceID = "EBAY_GB"
)

// DefaultQueries are the search terms used when none are configured.
var DefaultQueries = []string{
	"pokemon card holo",
	"pokemon tcg rare",
	"charizard pokemon",
	"pikachu pokemon card",
}

// Options configures the Adapter.
type Options struct {
	AppID  string
	CertID string

	// Queries to search per cycle. Nil uses DefaultQueries.
	Queries []string

	// PerQueryLimit caps results per query. Zero uses 50.
	PerQueryLimit int

	// AuthURL and BrowseURL override the API endpoints, for tests.
	AuthURL   string
	BrowseURL string

	Client *http.Client
}

// Adapter implements source.Adapter against the eBay Browse API.
type Adapter struct {
	appID     string
	certID    string
	queries   []string
	limit     int
	authURL   string
	browseURL string
	client    *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

var _ source.Adapter = (*Adapter)(nil)

// New creates an eBay adapter.
func New(opts Options) (*Adapter, error) {
	if opts.AppID == "" || opts.CertID == "" {
		return nil, fmt.Errorf("ebay: app id and cert id are required")
	}
	queries := opts.Queries
	if queries == nil {
		queries = DefaultQueries
	}
	limit := opts.PerQueryLimit
	if limit == 0 {
		limit = 50
	}
	authURL := opts.AuthURL
	if authURL == "" {
		authURL = defaultAuthURL
	}
	browseURL := opts.BrowseURL
	if browseURL == "" {
		browseURL = defaultBrowseURL
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Adapter{
		appID:     opts.AppID,
		certID:    opts.CertID,
		queries:   queries,
		limit:     limit,
		authURL:   authURL,
		browseURL: browseURL,
		client:    client,
	}, nil
}

// Platform identifies this adapter.
func (a *Adapter) Platform() domain.Platform { return domain.PlatformEbay }

// Fetch searches every configured query and returns the deduplicated batch.
func (a *Adapter) Fetch(ctx context.Context) ([]source.RawListing, error) {
	seen := map[string]bool{}
	var out []source.RawListing
	for _, q := range a.queries {
		items, err := a.search(ctx, q)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			if item.ItemID == "" || seen[item.ItemID] {
				continue
			}
			seen[item.ItemID] = true
			out = append(out, item.toRaw())
		}
	}
	return out, nil
}

type itemSummary struct {
	ItemID string `json:"itemId"`
	Title  string `json:"title"`
	Price  struct {
		Value    string `json:"value"`
		Currency string `json:"currency"`
	} `json:"price"`
	ItemWebURL string `json:"itemWebUrl"`
	Condition  string `json:"condition"`
	Seller     struct {
		Username string `json:"username"`
	} `json:"seller"`
	Image struct {
		ImageURL string `json:"imageUrl"`
	} `json:"image"`
	ShippingOptions []struct {
		ShippingCost struct {
			Value string `json:"value"`
		} `json:"shippingCost"`
	} `json:"shippingOptions"`
	ShortDescription string `json:"shortDescription"`
}

func (it *itemSummary) toRaw() source.RawListing {
	price, _ := strconv.ParseFloat(it.Price.Value, 64)
	raw := source.RawListing{
		ExternalID:   it.ItemID,
		Platform:     domain.PlatformEbay,
		URL:          it.ItemWebURL,
		Title:        it.Title,
		Description:  it.ShortDescription,
		Price:        price,
		Currency:     it.Price.Currency,
		SellerName:   it.Seller.Username,
		ImageURL:     it.Image.ImageURL,
		RawCondition: it.Condition,
		BuyNow:       true, // search filter restricts to fixed price
	}
	if len(it.ShippingOptions) > 0 {
		if v, err := strconv.ParseFloat(it.ShippingOptions[0].ShippingCost.Value, 64); err == nil {
			raw.Shipping = &v
		}
	}
	return raw
}

func (a *Adapter) search(ctx context.Context, query string) ([]itemSummary, error) {
	items, status, err := a.doSearch(ctx, query)
	if status == http.StatusUnauthorized {
		// One refresh, then give up: the credentials are wrong.
		a.invalidateToken()
		items, status, err = a.doSearch(ctx, query)
		if status == http.StatusUnauthorized {
			return nil, source.NewError(domain.PlatformEbay, source.ErrAuthFailed, fmt.Errorf("search %q: credentials rejected", query))
		}
	}
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusTooManyRequests:
		return nil, source.NewError(domain.PlatformEbay, source.ErrRateLimited, fmt.Errorf("search %q: status 429", query))
	case status >= 500:
		return nil, source.NewError(domain.PlatformEbay, source.ErrTransient, fmt.Errorf("search %q: status %d", query, status))
	case status != http.StatusOK:
		return nil, source.NewError(domain.PlatformEbay, source.ErrTransient, fmt.Errorf("search %q: unexpected status %d", query, status))
	}
	return items, nil
}

func (a *Adapter) doSearch(ctx context.Context, query string) ([]itemSummary, int, error) {
	token, err := a.getToken(ctx)
	if err != nil {
		return nil, 0, err
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("category_ids", categoryID)
	params.Set("filter", "buyingOptions:{FIXED_PRICE},priceCurrency:GBP,itemLocationCountry:GB")
	params.Set("sort", "newlyListed")
	params.Set("limit", strconv.Itoa(a.limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.browseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-EBAY-C-MARKETPLACE-ID", marketplaceID)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, 0, source.NewError(domain.PlatformEbay, source.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, nil
	}

	var body struct {
		ItemSummaries []itemSummary `json:"itemSummaries"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, resp.StatusCode, source.NewError(domain.PlatformEbay, source.ErrTransient, fmt.Errorf("decode search response: %w", err))
	}
	return body.ItemSummaries, resp.StatusCode, nil
}

func (a *Adapter) getToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token != "" && time.Now().Before(a.tokenExpiry) {
		return a.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("scope", "https://api.ebay.com/oauth/api_scope")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	credentials := base64.StdEncoding.EncodeToString([]byte(a.appID + ":" + a.certID))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Basic "+credentials)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", source.NewError(domain.PlatformEbay, source.ErrTransient, fmt.Errorf("token request: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		io.Copy(io.Discard, resp.Body)
		return "", source.NewError(domain.PlatformEbay, source.ErrAuthFailed, fmt.Errorf("token request: status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, resp.Body)
		return "", source.NewError(domain.PlatformEbay, source.ErrTransient, fmt.Errorf("token request: status %d", resp.StatusCode))
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", source.NewError(domain.PlatformEbay, source.ErrTransient, fmt.Errorf("decode token response: %w", err))
	}
	if body.AccessToken == "" {
		return "", source.NewError(domain.PlatformEbay, source.ErrAuthFailed, fmt.Errorf("token response carried no access token"))
	}

	expiresIn := time.Duration(body.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = time.Hour
	}
	a.token = body.AccessToken
	a.tokenExpiry = time.Now().Add(expiresIn - time.Minute)
	return a.token, nil
}

func (a *Adapter) invalidateToken() {
	a.mu.Lock()
	a.token = ""
	a.mu.Unlock()
}
