// Package cardmarket fetches Pokemon singles from Cardmarket through a
// headless browser. The listing tables render client-side behind a
// Cloudflare layer, so a plain HTTP client only sees challenge pages.
// Prices are quoted in EUR; searches are pinned to UK-based sellers.
package cardmarket

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"dealscout/internal/domain"
	"dealscout/internal/proxy"
	"dealscout/internal/source"
)

const (
	defaultBaseURL  = "https://www.cardmarket.com"
	searchPath      = "/en/Pokemon/Products/Singles"
	defaultPageWait = 5 * time.Second
)

// DefaultQueries mirrors the searches worth watching on Cardmarket.
var DefaultQueries = []string{
	"Pokemon",
	"Pokemon Holo",
	"Pokemon VMAX",
}

var (
	productRe = regexp.MustCompile(`/Products/Singles/[^?#]*/([^/?#]+)`)
	priceRe   = regexp.MustCompile(`[\d.]+`)
)

// conditionCodes maps Cardmarket's grade scale onto ours. The codes do not
// line up one to one: Cardmarket's LP (Light Played) sits a grade below
// ours, so the raw code must be translated here, not downstream.
var conditionCodes = map[string]string{
	"MT": "NM",
	"NM": "NM",
	"EX": "LP",
	"GD": "MP",
	"LP": "MP",
	"PL": "HP",
	"PO": "DMG",
}

// row is the shape the in-page extraction script returns per listing row.
type row struct {
	Title     string `json:"title"`
	Price     string `json:"price"`
	Condition string `json:"condition"`
	Seller    string `json:"seller"`
	URL       string `json:"url"`
	Img       string `json:"img"`
}

// pageData is everything one search page render yields.
type pageData struct {
	Challenged bool  `json:"challenged"`
	Rows       []row `json:"rows"`
}

// Options configures the Cardmarket adapter.
type Options struct {
	Queries     []string
	PerQuery    int         // max rows kept per query, zero means 50
	MinPriceEUR float64     // search floor, zero means 5
	MaxPriceEUR float64     // search ceiling, zero means 5000
	BaseURL     string      // override for tests
	Proxies     *proxy.Pool // nil means direct egress
	ChromePath  string      // explicit browser binary, empty means autodetect
	PageWait    time.Duration
	PageTimeout time.Duration
}

// Adapter implements source.Adapter using chromedp.
type Adapter struct {
	queries     []string
	perQuery    int
	minPrice    float64
	maxPrice    float64
	baseURL     string
	proxies     *proxy.Pool
	chromePath  string
	pageWait    time.Duration
	pageTimeout time.Duration

	// render loads one search URL through the given proxy (empty means
	// direct) and returns the extracted page. Swapped out in tests.
	render func(ctx context.Context, pageURL, proxyURL string) (pageData, error)
}

var _ source.Adapter = (*Adapter)(nil)

// New creates a Cardmarket adapter.
func New(opts Options) (*Adapter, error) {
	queries := opts.Queries
	if len(queries) == 0 {
		queries = DefaultQueries
	}
	perQuery := opts.PerQuery
	if perQuery == 0 {
		perQuery = 50
	}
	minPrice := opts.MinPriceEUR
	if minPrice == 0 {
		minPrice = 5
	}
	maxPrice := opts.MaxPriceEUR
	if maxPrice == 0 {
		maxPrice = 5000
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	pageWait := opts.PageWait
	if pageWait == 0 {
		pageWait = defaultPageWait
	}
	pageTimeout := opts.PageTimeout
	if pageTimeout == 0 {
		pageTimeout = 90 * time.Second
	}
	a := &Adapter{
		queries:     queries,
		perQuery:    perQuery,
		minPrice:    minPrice,
		maxPrice:    maxPrice,
		baseURL:     strings.TrimRight(baseURL, "/"),
		proxies:     opts.Proxies,
		chromePath:  opts.ChromePath,
		pageWait:    pageWait,
		pageTimeout: pageTimeout,
	}
	a.render = a.renderPage
	return a, nil
}

// Platform identifies this adapter.
func (a *Adapter) Platform() domain.Platform { return domain.PlatformCardmarket }

// Fetch renders the singles search for each query and extracts listing rows.
// A challenge page on any query aborts the whole fetch as blocked and burns
// the proxy lease.
func (a *Adapter) Fetch(ctx context.Context) ([]source.RawListing, error) {
	var handle *proxy.Handle
	proxyURL := ""
	if a.proxies != nil {
		var err error
		handle, err = a.proxies.Acquire(ctx)
		if err != nil {
			return nil, source.NewError(domain.PlatformCardmarket, source.ErrTransient, err)
		}
		proxyURL = handle.URL
	}
	leaseOK := false
	defer func() {
		if handle == nil {
			return
		}
		if leaseOK {
			a.proxies.Release(handle)
		} else {
			a.proxies.Penalize(handle)
		}
	}()

	var out []source.RawListing
	seen := make(map[string]struct{})

	for _, q := range a.queries {
		page, err := a.render(ctx, a.searchURL(q), proxyURL)
		if err != nil {
			return nil, source.NewError(domain.PlatformCardmarket, source.ErrTransient, err)
		}
		if page.Challenged {
			return nil, source.NewError(domain.PlatformCardmarket, source.ErrBlocked,
				fmt.Errorf("bot challenge on query %q", q))
		}

		kept := 0
		for _, r := range page.Rows {
			if kept >= a.perQuery {
				break
			}
			l, ok := a.toRaw(r)
			if !ok {
				continue
			}
			if _, dup := seen[l.ExternalID]; dup {
				continue
			}
			seen[l.ExternalID] = struct{}{}
			out = append(out, l)
			kept++
		}
	}
	leaseOK = true
	return out, nil
}

// searchURL pins results to UK sellers, cheapest first.
func (a *Adapter) searchURL(query string) string {
	v := url.Values{}
	v.Set("searchString", query)
	v.Set("minPrice", strconv.FormatFloat(a.minPrice, 'f', -1, 64))
	v.Set("maxPrice", strconv.FormatFloat(a.maxPrice, 'f', -1, 64))
	v.Set("sellerCountry", "GB")
	v.Set("sortBy", "price_asc")
	v.Set("perPage", "50")
	return a.baseURL + searchPath + "?" + v.Encode()
}

func (a *Adapter) toRaw(r row) (source.RawListing, bool) {
	m := productRe.FindStringSubmatch(r.URL)
	if m == nil {
		return source.RawListing{}, false
	}
	price := parsePrice(r.Price)
	if r.Title == "" || price <= 0 {
		return source.RawListing{}, false
	}
	pageURL := r.URL
	if strings.HasPrefix(pageURL, "/") {
		pageURL = a.baseURL + pageURL
	}
	return source.RawListing{
		ExternalID:   m[1],
		Platform:     domain.PlatformCardmarket,
		URL:          pageURL,
		Title:        r.Title,
		Price:        price,
		Currency:     "EUR",
		SellerName:   r.Seller,
		ImageURL:     r.Img,
		RawCondition: translateCondition(r.Condition),
		BuyNow:       true,
	}, true
}

// translateCondition maps a Cardmarket grade code onto our scale. Unknown
// codes pass through untouched for the text classifier to chew on.
func translateCondition(raw string) string {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if mapped, ok := conditionCodes[code]; ok {
		return mapped
	}
	return raw
}

// parsePrice handles both "£12.50" and the European "12,50 €" format.
func parsePrice(s string) float64 {
	cleaned := strings.ReplaceAll(s, ".", "")
	if !strings.Contains(s, ",") {
		cleaned = s
	}
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	m := priceRe.FindString(cleaned)
	if m == "" {
		return 0
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0
	}
	return v
}

// renderPage drives a fresh browser tab through one search page.
func (a *Adapter) renderPage(ctx context.Context, pageURL, proxyURL string) (pageData, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
	)
	if bin := a.browserBinary(); bin != "" {
		opts = append(opts, chromedp.ExecPath(bin))
	}
	if proxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(proxyURL))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelTab()

	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, a.pageTimeout)
	defer cancelTimeout()

	var page pageData
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(pageURL),
		chromedp.Sleep(a.pageWait),
		chromedp.Evaluate(dismissConsentScript, nil),
		chromedp.Evaluate(extractScript, &page),
	)
	if err != nil {
		return pageData{}, fmt.Errorf("render %s: %w", pageURL, err)
	}
	return page, nil
}

func (a *Adapter) browserBinary() string {
	if a.chromePath != "" {
		return a.chromePath
	}
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}
	for _, name := range []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}

// dismissConsentScript clicks through the cookie banner when present so the
// listing table is not covered by the overlay.
const dismissConsentScript = `
(function() {
	var btn = document.querySelector('#onetrust-accept-btn-handler');
	if (btn) btn.click();
})()
`

// extractScript runs inside the search page. It flags Cloudflare challenge
// pages and pulls listing rows from the article table.
const extractScript = `
(function() {
	var result = { challenged: false, rows: [] };

	var title = (document.title || '').toLowerCase();
	if (title.indexOf('just a moment') !== -1 ||
	    title.indexOf('access denied') !== -1 ||
	    document.querySelector('iframe[src*="challenge"]') ||
	    document.querySelector('iframe[src*="captcha"]')) {
		result.challenged = true;
		return result;
	}

	var rowSelectors = ['.article-row', '.table-body .row'];
	var rows = [];
	for (var si = 0; si < rowSelectors.length; si++) {
		rows = document.querySelectorAll(rowSelectors[si]);
		if (rows.length > 0) break;
	}

	var seen = {};
	for (var i = 0; i < rows.length; i++) {
		var row = rows[i];
		var link = row.querySelector('a.article-link') ||
		           row.querySelector('a[href*="/Products/Singles/"]');
		if (!link || !link.href || seen[link.href]) continue;
		seen[link.href] = true;

		var priceEl = row.querySelector('.price-container .text-right') ||
		              row.querySelector('.col-price');
		var condEl = row.querySelector('.article-condition') ||
		             row.querySelector('.product-condition');
		var sellerEl = row.querySelector('.seller-name a') ||
		               row.querySelector('.col-seller a');
		var imgEl = row.querySelector('img.thumbnail') ||
		            row.querySelector('img[src*="img.cardmarket"]');

		result.rows.push({
			title:     (link.innerText || '').trim(),
			price:     priceEl ? priceEl.innerText.trim() : '',
			condition: condEl ? condEl.innerText.trim() : '',
			seller:    sellerEl ? sellerEl.innerText.trim() : '',
			url:       link.href,
			img:       imgEl ? imgEl.src : ''
		});
	}
	return result;
})()
`
