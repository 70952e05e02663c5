package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/zhaobenny/gasometer/internal/model"
	"go.uber.org/zap"
)

const liteLLMPricingURL = "https://raw.githubusercontent.com/BerriAI/litellm/main/model_prices_and_context_window.json"

// DefaultModel is assumed when a transcript never names a model.
const DefaultModel = "claude-opus-4-6"

// liteLLMModel represents the pricing structure from LiteLLM
type liteLLMModel struct {
	InputCostPerToken  float64 `json:"input_cost_per_token"`
	OutputCostPerToken float64 `json:"output_cost_per_token"`
	CacheCreationCost  float64 `json:"cache_creation_input_token_cost"`
	CacheReadCost      float64 `json:"cache_read_input_token_cost"`
	LiteLLMProvider    string  `json:"litellm_provider"`
}

// perMTok builds per-token pricing from dollars per million tokens.
func perMTok(input, output, cacheWrite, cacheRead float64) model.ModelPricing {
	return model.ModelPricing{
		InputCostPerToken:         input / 1e6,
		OutputCostPerToken:        output / 1e6,
		CacheCreationCostPerToken: cacheWrite / 1e6,
		CacheReadCostPerToken:     cacheRead / 1e6,
	}
}

var (
	opus45   = perMTok(5, 25, 6.25, 0.50)
	opus4    = perMTok(15, 75, 18.75, 1.50)
	sonnet   = perMTok(3, 15, 3.75, 0.30)
	haiku45  = perMTok(1, 5, 1.25, 0.10)
	haiku35  = perMTok(0.80, 4, 1.00, 0.08)
	haiku3   = perMTok(0.25, 1.25, 0.30, 0.03)
	embedded = map[string]model.ModelPricing{
		"claude-opus-4-6":            opus45,
		"claude-opus-4-5":            opus45,
		"claude-opus-4-5-20251101":   opus45,
		"claude-opus-4-1":            opus4,
		"claude-opus-4-1-20250805":   opus4,
		"claude-opus-4-20250514":     opus4,
		"claude-4-opus-20250514":     opus4,
		"claude-3-opus-20240229":     opus4,
		"claude-sonnet-4-6":          sonnet,
		"claude-sonnet-4-5":          sonnet,
		"claude-sonnet-4-5-20250929": sonnet,
		"claude-sonnet-4-20250514":   sonnet,
		"claude-4-sonnet-20250514":   sonnet,
		"claude-3-7-sonnet-20250219": sonnet,
		"claude-3-5-sonnet-20241022": sonnet,
		"claude-haiku-4-5":           haiku45,
		"claude-haiku-4-5-20251001":  haiku45,
		"claude-3-5-haiku-20241022":  haiku35,
		"claude-3-haiku-20240307":    haiku3,
	}
)

// GetEmbeddedPricing returns a copy of the built-in pricing table
func GetEmbeddedPricing() map[string]model.ModelPricing {
	out := make(map[string]model.ModelPricing, len(embedded))
	for k, v := range embedded {
		out[k] = v
	}
	return out
}

// familyFallbacks are tried in order against the lower-cased model name.
var familyFallbacks = []struct {
	substrings []string
	pricing    model.ModelPricing
}{
	{[]string{"opus-4-6", "opus-4-5"}, opus45},
	{[]string{"opus-4"}, opus4},
	{[]string{"opus"}, opus4},
	{[]string{"sonnet"}, sonnet},
	{[]string{"haiku-4"}, haiku45},
	{[]string{"haiku-3-5"}, haiku35},
	{[]string{"haiku"}, haiku3},
}

// Catalog resolves model pricing, refreshing from LiteLLM at most once per TTL.
type Catalog struct {
	mu       sync.Mutex
	client   *http.Client
	url      string
	offline  bool
	ttl      time.Duration
	logger   *zap.Logger
	cache    map[string]model.ModelPricing
	cachedAt time.Time
}

// Option configures a Catalog
type Option func(*Catalog)

// WithOffline disables the LiteLLM fetch.
func WithOffline(offline bool) Option { return func(c *Catalog) { c.offline = offline } }

// WithURL overrides the LiteLLM pricing URL.
func WithURL(url string) Option { return func(c *Catalog) { c.url = url } }

// WithHTTPClient sets the client used for fetching.
func WithHTTPClient(client *http.Client) Option { return func(c *Catalog) { c.client = client } }

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option { return func(c *Catalog) { c.logger = logger } }

// NewCatalog returns a pricing catalog
func NewCatalog(opts ...Option) *Catalog {
	c := &Catalog{
		client: &http.Client{Timeout: 10 * time.Second},
		url:    liteLLMPricingURL,
		ttl:    time.Hour,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// table returns LiteLLM pricing merged over the embedded table, or just the
// embedded table when offline or the fetch fails.
func (c *Catalog) table(ctx context.Context) map[string]model.ModelPricing {
	if c.offline {
		return embedded
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cache != nil && time.Since(c.cachedAt) < c.ttl {
		return c.cache
	}

	fetched, err := c.fetch(ctx)
	if err != nil {
		c.logger.Debug("using embedded pricing", zap.Error(err))
		c.cache = embedded
	} else {
		merged := GetEmbeddedPricing()
		for k, v := range fetched {
			merged[k] = v
		}
		c.cache = merged
	}
	c.cachedAt = time.Now()
	return c.cache
}

func (c *Catalog) fetch(ctx context.Context) (map[string]model.ModelPricing, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch pricing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch pricing: status %d", resp.StatusCode)
	}

	var rawPricing map[string]liteLLMModel
	if err := json.NewDecoder(resp.Body).Decode(&rawPricing); err != nil {
		return nil, fmt.Errorf("decode pricing: %w", err)
	}

	pricing := make(map[string]model.ModelPricing)
	for name, data := range rawPricing {
		// Only include Anthropic provider models
		if data.LiteLLMProvider != "anthropic" {
			continue
		}
		pricing[name] = model.ModelPricing{
			InputCostPerToken:         data.InputCostPerToken,
			OutputCostPerToken:        data.OutputCostPerToken,
			CacheCreationCostPerToken: data.CacheCreationCost,
			CacheReadCostPerToken:     data.CacheReadCost,
		}
	}
	return pricing, nil
}

// Lookup returns pricing for a model: exact name, then normalized name, then
// model family, then Opus 4.6.
func (c *Catalog) Lookup(ctx context.Context, modelName string) model.ModelPricing {
	if modelName == "" {
		modelName = DefaultModel
	}
	pricing := c.table(ctx)

	if p, ok := pricing[modelName]; ok {
		return p
	}

	normalized := normalizeModelName(modelName)
	for name, p := range pricing {
		if normalizeModelName(name) == normalized {
			return p
		}
	}

	if p, ok := familyPricing(modelName); ok {
		return p
	}

	c.logger.Warn("unknown model, using default pricing", zap.String("model", modelName))
	return embedded[DefaultModel]
}

func familyPricing(modelName string) (model.ModelPricing, bool) {
	m := strings.ToLower(modelName)
	for _, f := range familyFallbacks {
		for _, s := range f.substrings {
			if strings.Contains(m, s) {
				return f.pricing, true
			}
		}
	}
	return model.ModelPricing{}, false
}

// normalizeModelName normalizes model names for matching
func normalizeModelName(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "-", "")
	name = strings.ReplaceAll(name, "_", "")
	return name
}

// CalculateCost calculates the cost for a usage record, rounded to
// millionths of a dollar
func CalculateCost(usage model.TokenUsage, pricing model.ModelPricing) float64 {
	cost := float64(usage.InputTokens) * pricing.InputCostPerToken
	cost += float64(usage.OutputTokens) * pricing.OutputCostPerToken
	cost += float64(usage.CacheCreationInputTokens) * pricing.CacheCreationCostPerToken
	cost += float64(usage.CacheReadInputTokens) * pricing.CacheReadCostPerToken
	return math.Round(cost*1e6) / 1e6
}
