package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// RouterSource fetches quotes from a swap-aggregator HTTP API. The two
// router generations expose the same quote shape at different
// endpoints, so one source type covers both; only the base URL and
// chain id differ.
type RouterSource struct {
	baseURL string
	chainID uint64
	client  *http.Client
}

type RouterOption func(*RouterSource)

// WithHTTPClient replaces the default http.Client, e.g. to set a
// timeout or a proxy.
func WithHTTPClient(client *http.Client) RouterOption {
	return func(s *RouterSource) {
		s.client = client
	}
}

func NewRouterSource(baseURL string, chainID uint64, opts ...RouterOption) *RouterSource {
	s := &RouterSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		chainID: chainID,
		client:  http.DefaultClient,
	}
	for _, fn := range opts {
		fn(s)
	}
	return s
}

type routerRequest struct {
	ChainID     uint64 `json:"chainId"`
	InputToken  string `json:"inputToken"`
	OutputToken string `json:"outputToken"`
	Amount      string `json:"amount"`
	Slippage    string `json:"slippage"`
}

// Quote performs a single quote round trip. Empty pathId responses are
// returned as-is; the retry policy lives in Cache.FetchAndStore.
func (s *RouterSource) Quote(ctx context.Context, in, out common.Address, amountIn, slippage decimal.Decimal) (*Quote, error) {
	body, err := json.Marshal(routerRequest{
		ChainID:     s.chainID,
		InputToken:  in.Hex(),
		OutputToken: out.Hex(),
		Amount:      amountIn.String(),
		Slippage:    slippage.String(),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/quote", strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("aggregator quote: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	outAmount, err := decimal.NewFromString(gjson.GetBytes(raw, "outAmount").String())
	if err != nil {
		return nil, fmt.Errorf("aggregator quote: bad outAmount: %w", err)
	}
	priceImpact := decimal.NewFromFloat(gjson.GetBytes(raw, "priceImpact").Float())

	q := &Quote{
		InputToken:   in,
		OutputToken:  out,
		InputAmount:  amountIn,
		OutputAmount: outAmount,
		PriceImpact:  priceImpact,
		Slippage:     slippage,
		PathID:       gjson.GetBytes(raw, "pathId").String(),
		RoutePayload: []byte(gjson.GetBytes(raw, "route").Raw),
	}
	for _, name := range gjson.GetBytes(raw, "pathVisualization.#.name").Array() {
		q.PathNames = append(q.PathNames, name.String())
	}
	return q, nil
}
