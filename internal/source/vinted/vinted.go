// Package vinted fetches Vinted listings through a headless browser. The
// catalog pages are client-rendered and sit behind a bot-detection layer, so
// a plain HTTP client sees only challenge pages.
package vinted

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
	defaultBaseURL  = "https://www.vinted.co.uk"
	defaultPageWait = 5 * time.Second
)

// DefaultQueries mirrors the searches worth watching on Vinted.
var DefaultQueries = []string{
	"pokemon card",
	"pokemon cards graded",
	"pokemon tcg",
}

var (
	itemIDRe = regexp.MustCompile(`/items/(\d+)`)
	priceRe  = regexp.MustCompile(`[\d.]+`)
)

// tile is the shape the in-page extraction script returns per listing.
type tile struct {
	Title string `json:"title"`
	Price string `json:"price"`
	URL   string `json:"url"`
	Img   string `json:"img"`
}

// pageData is everything one catalog page render yields.
type pageData struct {
	Challenged bool   `json:"challenged"`
	Tiles      []tile `json:"tiles"`
}

// Options configures the Vinted adapter.
type Options struct {
	Queries     []string
	PerQuery    int         // max tiles kept per query, zero means 50
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
	baseURL     string
	proxies     *proxy.Pool
	chromePath  string
	pageWait    time.Duration
	pageTimeout time.Duration

	// render loads one catalog URL through the given proxy (empty means
	// direct) and returns the extracted page. Swapped out in tests.
	render func(ctx context.Context, pageURL, proxyURL string) (pageData, error)
}

var _ source.Adapter = (*Adapter)(nil)

// New creates a Vinted adapter.
func New(opts Options) (*Adapter, error) {
	queries := opts.Queries
	if len(queries) == 0 {
		queries = DefaultQueries
	}
	perQuery := opts.PerQuery
	if perQuery == 0 {
		perQuery = 50
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
func (a *Adapter) Platform() domain.Platform { return domain.PlatformVinted }

// Fetch renders the catalog page for each query and extracts listing tiles.
// A challenge page on any query aborts the whole fetch as blocked and burns
// the proxy lease.
func (a *Adapter) Fetch(ctx context.Context) ([]source.RawListing, error) {
	var handle *proxy.Handle
	proxyURL := ""
	if a.proxies != nil {
		var err error
		handle, err = a.proxies.Acquire(ctx)
		if err != nil {
			return nil, source.NewError(domain.PlatformVinted, source.ErrTransient, err)
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
		pageURL := fmt.Sprintf("%s/catalog?search_text=%s&order=newest_first",
			a.baseURL, url.QueryEscape(q))

		page, err := a.render(ctx, pageURL, proxyURL)
		if err != nil {
			return nil, source.NewError(domain.PlatformVinted, source.ErrTransient, err)
		}
		if page.Challenged {
			return nil, source.NewError(domain.PlatformVinted, source.ErrBlocked,
				fmt.Errorf("bot challenge on query %q", q))
		}

		kept := 0
		for _, t := range page.Tiles {
			if kept >= a.perQuery {
				break
			}
			l, ok := toRaw(t)
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

func toRaw(t tile) (source.RawListing, bool) {
	m := itemIDRe.FindStringSubmatch(t.URL)
	if m == nil {
		return source.RawListing{}, false
	}
	price := parsePrice(t.Price)
	if t.Title == "" || price <= 0 {
		return source.RawListing{}, false
	}
	return source.RawListing{
		ExternalID: m[1],
		Platform:   domain.PlatformVinted,
		URL:        t.URL,
		Title:      t.Title,
		Price:      price,
		Currency:   "GBP",
		ImageURL:   t.Img,
		BuyNow:     true,
	}, true
}

func parsePrice(s string) float64 {
	m := priceRe.FindString(strings.ReplaceAll(s, ",", ""))
	if m == "" {
		return 0
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0
	}
	return v
}

// renderPage drives a fresh browser tab through one catalog page.
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

// extractScript runs inside the catalog page. It flags DataDome and
// Cloudflare challenge pages and pulls listing tiles by a cascade of
// selectors, newest layout first.
const extractScript = `
(function() {
	var result = { challenged: false, tiles: [] };

	var title = (document.title || '').toLowerCase();
	var body = document.body ? document.body.innerHTML : '';
	if (title.indexOf('just a moment') !== -1 ||
	    title.indexOf('access denied') !== -1 ||
	    body.indexOf('datadome') !== -1 ||
	    document.querySelector('iframe[src*="captcha"]')) {
		result.challenged = true;
		return result;
	}

	var tileSelectors = [
		'[data-testid="grid-item"]',
		'.feed-grid__item',
		'.new-item-box__container'
	];
	var tiles = [];
	for (var si = 0; si < tileSelectors.length; si++) {
		tiles = document.querySelectorAll(tileSelectors[si]);
		if (tiles.length > 0) break;
	}

	var seen = {};
	for (var i = 0; i < tiles.length; i++) {
		var tile = tiles[i];
		var link = tile.querySelector('a[href*="/items/"]');
		if (!link || !link.href || seen[link.href]) continue;
		seen[link.href] = true;

		var titleEl = tile.querySelector('[data-testid$="--description-title"]') ||
		              tile.querySelector('.new-item-box__description p') ||
		              tile.querySelector('h3');
		var priceEl = tile.querySelector('[data-testid$="--price-text"]') ||
		              tile.querySelector('.new-item-box__title') ||
		              tile.querySelector('p[class*="price"]');
		var imgEl = tile.querySelector('img');

		var text = (link.getAttribute('title') || '') + ' ' + (tile.innerText || '');
		var priceMatch = text.match(/£\s*[\d,.]+/);

		result.tiles.push({
			title: titleEl ? titleEl.innerText.trim() : (link.getAttribute('title') || '').trim(),
			price: priceEl ? priceEl.innerText.trim() : (priceMatch ? priceMatch[0] : ''),
			url:   link.href,
			img:   imgEl ? imgEl.src : ''
		});
	}
	return result;
})()
`
