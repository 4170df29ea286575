package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/marcelujan/mgq-admin-sub000/internal/domain"
)

const (
	// CatalogJSONEngineID identifies the built-in structured-data engine.
	CatalogJSONEngineID = "catalog-json"

	catalogJSONEngineVersion = "1.2.0"

	defaultFetchTimeout = 15 * time.Second
	defaultUserAgent    = "mgq-pricewatch/1.2 (catalog price collector)"

	maxBodyBytes = 4 << 20
)

var (
	ldJSONRe     = regexp.MustCompile(`(?is)<script[^>]+type\s*=\s*["']application/ld\+json["'][^>]*>(.*?)</script>`)
	productVarRe = regexp.MustCompile(`(?is)var\s+productData\s*=\s*(\{.*?\})\s*;`)
	canonicalRe  = regexp.MustCompile(`(?is)<link[^>]+rel\s*=\s*["']canonical["'][^>]+href\s*=\s*["']([^"']+)["']`)
)

// CatalogJSONEngine extracts presentation/price pairs from the structured
// catalog metadata embedded in a supplier's product page. The primary source
// is the JSON-LD Product block; pages without one fall back to the inline
// productData script some storefront templates emit.
type CatalogJSONEngine struct {
	logger *slog.Logger
	client *http.Client
	ua     string
}

// NewCatalogJSONEngine builds the engine. client may be nil.
func NewCatalogJSONEngine(logger *slog.Logger, client *http.Client) *CatalogJSONEngine {
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	return &CatalogJSONEngine{
		logger: logger,
		client: client,
		ua:     defaultUserAgent,
	}
}

// WithUserAgent overrides the User-Agent sent on fetches.
func (e *CatalogJSONEngine) WithUserAgent(ua string) *CatalogJSONEngine {
	if ua != "" {
		e.ua = ua
	}
	return e
}

func (e *CatalogJSONEngine) ID() string      { return CatalogJSONEngineID }
func (e *CatalogJSONEngine) Version() string { return catalogJSONEngineVersion }

// Extract fetches sourceURL and returns every recognizable
// (presentation, price) pair, deduplicated by presentation (last seen wins).
func (e *CatalogJSONEngine) Extract(ctx context.Context, sourceURL string) (*Extraction, error) {
	body, err := e.fetch(ctx, sourceURL)
	if err != nil {
		return nil, err
	}

	pairs, canonical := e.parseLDJSON(body)
	if len(pairs) == 0 {
		pairs = e.parseProductVar(body)
	}
	if canonical == "" {
		canonical = canonicalLink(body)
	}
	if canonical == "" {
		canonical = sourceURL
	}

	prices := dedupe(pairs)
	if len(prices) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoPricesFound, sourceURL)
	}

	return &Extraction{CanonicalURL: canonical, Prices: prices}, nil
}

func (e *CatalogJSONEngine) fetch(ctx context.Context, sourceURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", e.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", sourceURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch %s: http status %d", sourceURL, resp.StatusCode)
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read body %s: %w", sourceURL, err)
	}
	return string(b), nil
}

// ldProduct mirrors the subset of the JSON-LD Product vocabulary we read.
type ldProduct struct {
	Type   string   `json:"@type"`
	URL    string   `json:"url"`
	Offers ldOffers `json:"offers"`
}

type ldOffers []ldOffer

// UnmarshalJSON accepts both a single offer object and an offer array.
func (o *ldOffers) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var arr []ldOffer
		if err := json.Unmarshal(data, &arr); err != nil {
			return err
		}
		*o = arr
		return nil
	}
	var one ldOffer
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*o = ldOffers{one}
	return nil
}

type ldOffer struct {
	SKU   string          `json:"sku"`
	Name  string          `json:"name"`
	Price json.RawMessage `json:"price"`
	URL   string          `json:"url"`
}

func (e *CatalogJSONEngine) parseLDJSON(body string) ([]PresentationPrice, string) {
	var pairs []PresentationPrice
	var canonical string

	for _, m := range ldJSONRe.FindAllStringSubmatch(body, -1) {
		var p ldProduct
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &p); err != nil {
			continue
		}
		if !strings.EqualFold(p.Type, "Product") {
			continue
		}
		if canonical == "" {
			canonical = strings.TrimSpace(p.URL)
		}
		for _, off := range p.Offers {
			key := off.SKU
			if key == "" {
				key = off.Name
			}
			pres, err := ParsePresentation(key)
			if err != nil {
				continue
			}
			price, err := ParsePrice(rawString(off.Price))
			if err != nil {
				continue
			}
			pairs = append(pairs, PresentationPrice{Presentation: pres, Price: price})
		}
	}
	return pairs, canonical
}

// productVar is the secondary embedded-script shape:
// var productData = {"variants":[{"presentation":"0-5000","price":"1.234,56"}]};
type productVar struct {
	Variants []struct {
		Presentation string          `json:"presentation"`
		Price        json.RawMessage `json:"price"`
	} `json:"variants"`
}

func (e *CatalogJSONEngine) parseProductVar(body string) []PresentationPrice {
	m := productVarRe.FindStringSubmatch(body)
	if m == nil {
		return nil
	}
	var pv productVar
	if err := json.Unmarshal([]byte(m[1]), &pv); err != nil {
		e.logger.Debug("productData block unparseable", slog.String("error", err.Error()))
		return nil
	}

	var pairs []PresentationPrice
	for _, v := range pv.Variants {
		pres, err := ParsePresentation(v.Presentation)
		if err != nil {
			continue
		}
		price, err := ParsePrice(rawString(v.Price))
		if err != nil {
			continue
		}
		pairs = append(pairs, PresentationPrice{Presentation: pres, Price: price})
	}
	return pairs
}

func canonicalLink(body string) string {
	if m := canonicalRe.FindStringSubmatch(body); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// rawString unwraps a JSON value that may be either a number or a string.
func rawString(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		var out string
		if err := json.Unmarshal(raw, &out); err == nil {
			return out
		}
	}
	return s
}

// dedupe keeps the last pair per presentation key and drops non-positive
// prices, returning a deterministic order.
func dedupe(pairs []PresentationPrice) []PresentationPrice {
	byPres := make(map[float64]float64, len(pairs))
	for _, p := range pairs {
		if p.Price <= 0 {
			continue
		}
		byPres[p.Presentation] = p.Price
	}

	out := make([]PresentationPrice, 0, len(byPres))
	for pres, price := range byPres {
		out = append(out, PresentationPrice{Presentation: pres, Price: price})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Presentation < out[j].Presentation })
	return out
}
