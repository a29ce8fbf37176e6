package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"time"

	"dealscout/internal/domain"
	"dealscout/internal/storage"
)

// DefaultBaseURL is the reference card API endpoint.
const DefaultBaseURL = "https://api.pokemontcg.io/v2"

const syncPageSize = 250

// Reference API prices arrive in USD (tcgplayer) and EUR (cardmarket);
// converted to pence at sync time.
const (
	usdToPence = 78.0
	eurToPence = 85.0
)

// SampleSink receives reference price samples extracted during a sync.
// The market value resolver implements it.
type SampleSink interface {
	Observe(ctx context.Context, sample domain.PriceSample) error
}

// SyncStats summarizes one sync run.
type SyncStats struct {
	SetsSynced  int
	CardsSynced int
	SamplesFed  int
	Errors      int
}

// SyncClient pulls the reference card API and upserts cards plus their
// catalog-level price samples.
type SyncClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	cards   storage.CardStore
	sink    SampleSink // nil skips price samples
	now     func() time.Time
}

// SyncOptions configures a SyncClient.
type SyncOptions struct {
	BaseURL string // "" uses DefaultBaseURL
	APIKey  string
	Client  *http.Client
	Cards   storage.CardStore
	Sink    SampleSink
	Now     func() time.Time
}

// NewSyncClient creates a SyncClient.
func NewSyncClient(opts SyncOptions) (*SyncClient, error) {
	if opts.Cards == nil {
		return nil, fmt.Errorf("catalog: card store is required")
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &SyncClient{
		baseURL: baseURL,
		apiKey:  opts.APIKey,
		client:  client,
		cards:   opts.Cards,
		sink:    opts.Sink,
		now:     now,
	}, nil
}

// apiCard is the reference API's card shape, reduced to the fields we keep.
type apiCard struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Number string `json:"number"`
	Rarity string `json:"rarity"`
	Set    struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"set"`
	Images struct {
		Small string `json:"small"`
		Large string `json:"large"`
	} `json:"images"`
	TCGPlayer struct {
		Prices map[string]struct {
			Low    float64 `json:"low"`
			Market float64 `json:"market"`
		} `json:"prices"`
	} `json:"tcgplayer"`
	Cardmarket struct {
		Prices struct {
			TrendPrice float64 `json:"trendPrice"`
			LowPrice   float64 `json:"lowPrice"`
		} `json:"prices"`
	} `json:"cardmarket"`
}

type cardsResponse struct {
	Data       []apiCard `json:"data"`
	TotalCount int       `json:"totalCount"`
}

// SyncSet pulls every card in a set, upserting cards and feeding reference
// prices to the sink. Per-card failures are counted, not fatal.
func (c *SyncClient) SyncSet(ctx context.Context, setID string) (SyncStats, error) {
	var stats SyncStats
	page := 1
	fetched := 0
	for {
		resp, err := c.fetchPage(ctx, setID, page)
		if err != nil {
			return stats, err
		}
		for i := range resp.Data {
			if err := c.processCard(ctx, &resp.Data[i], &stats); err != nil {
				log.Printf("catalog: card %s: %v", resp.Data[i].ID, err)
				stats.Errors++
			}
		}
		fetched += len(resp.Data)
		if fetched >= resp.TotalCount || len(resp.Data) == 0 {
			break
		}
		page++
	}
	stats.SetsSynced = 1
	return stats, nil
}

// SyncSets syncs several sets, accumulating stats. A failed set is counted
// and skipped; the rest continue.
func (c *SyncClient) SyncSets(ctx context.Context, setIDs []string) SyncStats {
	var total SyncStats
	for _, id := range setIDs {
		stats, err := c.SyncSet(ctx, id)
		if err != nil {
			log.Printf("catalog: sync set %s: %v", id, err)
			total.Errors++
		}
		total.SetsSynced += stats.SetsSynced
		total.CardsSynced += stats.CardsSynced
		total.SamplesFed += stats.SamplesFed
		total.Errors += stats.Errors
	}
	return total
}

func (c *SyncClient) fetchPage(ctx context.Context, setID string, page int) (*cardsResponse, error) {
	q := url.Values{}
	q.Set("q", fmt.Sprintf("set.id:%q", setID))
	q.Set("page", fmt.Sprintf("%d", page))
	q.Set("pageSize", fmt.Sprintf("%d", syncPageSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/cards?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch cards page %d: %w", page, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("fetch cards page %d: status %d", page, resp.StatusCode)
	}

	var out cardsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode cards page %d: %w", page, err)
	}
	return &out, nil
}

func (c *SyncClient) processCard(ctx context.Context, raw *apiCard, stats *SyncStats) error {
	card := &domain.Card{
		ID:         raw.ID,
		Name:       raw.Name,
		SetID:      raw.Set.ID,
		SetName:    raw.Set.Name,
		Number:     raw.Number,
		Rarity:     raw.Rarity,
		ImageSmall: raw.Images.Small,
		ImageLarge: raw.Images.Large,
		UpdatedAt:  c.now().UnixMilli(),
	}
	if err := c.cards.Upsert(ctx, card); err != nil {
		return fmt.Errorf("upsert card: %w", err)
	}
	stats.CardsSynced++

	if c.sink == nil {
		return nil
	}
	nowMs := c.now().UnixMilli()
	feed := func(source domain.PriceSource, major float64, pencePerUnit float64, currency string) {
		if major <= 0 {
			return
		}
		sample := domain.PriceSample{
			CardID:     raw.ID,
			Condition:  domain.ConditionNM, // reference prices quote NM
			Source:     source,
			ValueP:     int64(math.Round(major * pencePerUnit)),
			Currency:   currency,
			ObservedAt: nowMs,
		}
		if err := c.sink.Observe(ctx, sample); err != nil {
			log.Printf("catalog: sample %s/%s rejected: %v", raw.ID, source, err)
			return
		}
		stats.SamplesFed++
	}

	// TCGPlayer lists variants; take the first priced one in preference
	// order, like the reference sync did.
	for _, variant := range []string{"normal", "holofoil", "reverseHolofoil", "1stEditionHolofoil"} {
		p, ok := raw.TCGPlayer.Prices[variant]
		if !ok || p.Market <= 0 {
			continue
		}
		feed(domain.SourceTCGPlayerMarket, p.Market, usdToPence, "USD")
		feed(domain.SourceTCGPlayerLow, p.Low, usdToPence, "USD")
		break
	}
	feed(domain.SourceCardmarketTrend, raw.Cardmarket.Prices.TrendPrice, eurToPence, "EUR")
	feed(domain.SourceCardmarketLow, raw.Cardmarket.Prices.LowPrice, eurToPence, "EUR")
	return nil
}
