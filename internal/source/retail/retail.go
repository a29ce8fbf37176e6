// Package retail scrapes static UK retail shop listing pages (Magic
// Madhouse, Chaos Cards). The pages are server-rendered HTML; layout drift
// yields fewer or zero listings, never an error.
package retail

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"dealscout/internal/domain"
	"dealscout/internal/source"
)

var priceRe = regexp.MustCompile(`[\d.]+`)

// Options configures a retail shop adapter.
type Options struct {
	Platform domain.Platform
	BaseURL  string // e.g. https://www.magicmadhouse.co.uk
	ListPath string // e.g. /collections/pokemon-single-cards

	// MaxPages to walk per cycle. Zero uses 3.
	MaxPages int

	Client *http.Client
}

// Adapter implements source.Adapter for a static retail shop.
type Adapter struct {
	platform domain.Platform
	baseURL  string
	listPath string
	maxPages int
	client   *http.Client
}

var _ source.Adapter = (*Adapter)(nil)

// New creates a retail shop adapter.
func New(opts Options) (*Adapter, error) {
	if !opts.Platform.IsValid() {
		return nil, fmt.Errorf("retail: invalid platform %q", opts.Platform)
	}
	if opts.BaseURL == "" || opts.ListPath == "" {
		return nil, fmt.Errorf("retail: base url and list path are required")
	}
	maxPages := opts.MaxPages
	if maxPages == 0 {
		maxPages = 3
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Adapter{
		platform: opts.Platform,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		listPath: opts.ListPath,
		maxPages: maxPages,
		client:   client,
	}, nil
}

// Platform identifies this adapter.
func (a *Adapter) Platform() domain.Platform { return a.platform }

// Fetch walks the listing pages and extracts product tiles.
func (a *Adapter) Fetch(ctx context.Context) ([]source.RawListing, error) {
	var out []source.RawListing
	for page := 1; page <= a.maxPages; page++ {
		listings, err := a.fetchPage(ctx, page)
		if err != nil {
			return nil, err
		}
		if len(listings) == 0 {
			// Past the last page, or the layout drifted.
			break
		}
		out = append(out, listings...)
	}
	return out, nil
}

func (a *Adapter) fetchPage(ctx context.Context, page int) ([]source.RawListing, error) {
	pageURL := fmt.Sprintf("%s%s?page=%d", a.baseURL, a.listPath, page)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, source.NewError(a.platform, source.ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		return nil, source.NewError(a.platform, source.ErrRateLimited, fmt.Errorf("page %d: status 429", page))
	case resp.StatusCode == http.StatusForbidden:
		io.Copy(io.Discard, resp.Body)
		return nil, source.NewError(a.platform, source.ErrBlocked, fmt.Errorf("page %d: status 403", page))
	case resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return nil, source.NewError(a.platform, source.ErrTransient, fmt.Errorf("page %d: status %d", page, resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, resp.Body)
		return nil, source.NewError(a.platform, source.ErrTransient, fmt.Errorf("page %d: unexpected status %d", page, resp.StatusCode))
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, source.NewError(a.platform, source.ErrTransient, fmt.Errorf("parse page %d: %w", page, err))
	}
	return a.extract(doc), nil
}

// extract pulls product tiles out of the page. Tiles are nodes whose class
// list contains a product marker; within a tile the first heading is the
// title, the first price-classed node the price, the first anchor the link.
func (a *Adapter) extract(doc *html.Node) []source.RawListing {
	var out []source.RawListing
	walk(doc, func(n *html.Node) bool {
		if !isProductTile(n) {
			return true
		}
		if l, ok := a.parseTile(n); ok {
			out = append(out, l)
		}
		return false // don't descend into a matched tile
	})
	return out
}

func (a *Adapter) parseTile(tile *html.Node) (source.RawListing, bool) {
	var title, priceText, href, imgSrc string
	walk(tile, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		switch {
		case title == "" && (n.Data == "h3" || n.Data == "h4" || hasClassContaining(n, "title")):
			title = strings.TrimSpace(textContent(n))
		case priceText == "" && hasClassContaining(n, "price"):
			priceText = textContent(n)
		case href == "" && n.Data == "a":
			href = attr(n, "href")
		case imgSrc == "" && n.Data == "img":
			imgSrc = attr(n, "src")
		}
		return true
	})

	price := parsePrice(priceText)
	if title == "" || price <= 0 || href == "" {
		return source.RawListing{}, false
	}
	if !strings.HasPrefix(href, "http") {
		href = a.baseURL + href
	}
	return source.RawListing{
		ExternalID: externalIDFromURL(href),
		Platform:   a.platform,
		URL:        href,
		Title:      title,
		Price:      price,
		Currency:   "GBP",
		ImageURL:   imgSrc,
		BuyNow:     true, // retail listings are always instant purchase
	}, true
}

func isProductTile(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, c := range classes(n) {
		switch c {
		case "product-card", "product-item", "product":
			return true
		}
	}
	return false
}

// externalIDFromURL uses the product slug as the stable listing identity.
func externalIDFromURL(u string) string {
	trimmed := strings.TrimRight(u, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	return trimmed
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

// walk visits nodes depth first; visit returning false skips the subtree.
func walk(n *html.Node, visit func(*html.Node) bool) {
	if !visit(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}

func classes(n *html.Node) []string {
	return strings.Fields(attr(n, "class"))
}

func hasClassContaining(n *html.Node, fragment string) bool {
	for _, c := range classes(n) {
		if strings.Contains(c, fragment) {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
		return true
	})
	return sb.String()
}
