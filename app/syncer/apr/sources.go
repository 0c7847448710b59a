package apr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/beetslabs/poolsync/pkg/chain"
)

func newHTTPClient() *http.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 2
	c.RetryWaitMin = 250 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.Logger = nil
	return c.StandardClient()
}

// StakedNativeSource reads the staking APR of a liquid-staked native asset
// token from its provider's API. The endpoint returns {"apr": <percent>}.
type StakedNativeSource struct {
	name         string
	url          string
	tokenAddress string
	chains       map[chain.Chain]struct{}
	httpClient   *http.Client
}

func NewStakedNativeSource(name, url, tokenAddress string, chains ...chain.Chain) *StakedNativeSource {
	set := make(map[chain.Chain]struct{}, len(chains))
	for _, c := range chains {
		set[c] = struct{}{}
	}
	return &StakedNativeSource{
		name:         name,
		url:          url,
		tokenAddress: strings.ToLower(tokenAddress),
		chains:       set,
		httpClient:   newHTTPClient(),
	}
}

func (s *StakedNativeSource) Name() string { return s.name }

func (s *StakedNativeSource) Supports(c chain.Chain) bool {
	_, ok := s.chains[c]
	return ok
}

func (s *StakedNativeSource) GetAprs(ctx context.Context, _ chain.Chain) (map[string]Item, error) {
	var payload struct {
		APR float64 `json:"apr"`
	}
	if err := s.getJSON(ctx, s.url, &payload); err != nil {
		return nil, err
	}
	return map[string]Item{
		s.tokenAddress: {APR: payload.APR / 100, IsIBYield: true},
	}, nil
}

func (s *StakedNativeSource) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", s.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned status %d: %s", s.name, resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// YieldTableSource reads a token-address-to-APR table from a provider API. The
// endpoint returns {"<address>": <fraction>, ...} per chain.
type YieldTableSource struct {
	name       string
	urlByChain map[chain.Chain]string
	group      string
	httpClient *http.Client
}

func NewYieldTableSource(name, group string, urlByChain map[chain.Chain]string) *YieldTableSource {
	return &YieldTableSource{
		name:       name,
		urlByChain: urlByChain,
		group:      group,
		httpClient: newHTTPClient(),
	}
}

func (s *YieldTableSource) Name() string { return s.name }

func (s *YieldTableSource) Supports(c chain.Chain) bool {
	_, ok := s.urlByChain[c]
	return ok
}

func (s *YieldTableSource) GetAprs(ctx context.Context, c chain.Chain) (map[string]Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.urlByChain[c], nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", s.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", s.name, resp.StatusCode)
	}

	var table map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&table); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", s.name, err)
	}

	out := make(map[string]Item, len(table))
	for addr, apr := range table {
		out[strings.ToLower(addr)] = Item{APR: apr, IsIBYield: true, Group: s.group}
	}
	return out, nil
}
