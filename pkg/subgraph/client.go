package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// PageSize is the maximum number of entities fetched per GraphQL query.
const PageSize = 1000

// Client is a paginated GraphQL client against one chain's subgraph. It is the
// primary (but occasionally lagging) data source; callers check Meta() against
// the chain head before trusting incremental results.
type Client struct {
	httpClient *http.Client
	logger     *zap.Logger
	url        string
}

// NewClient builds a subgraph client with retrying transport.
func NewClient(logger *zap.Logger, url string) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = nil

	return &Client{
		httpClient: retryClient.StandardClient(),
		logger:     logger,
		url:        url,
	}
}

// Meta returns the subgraph's current indexed block.
func (c *Client) Meta(ctx context.Context) (Meta, error) {
	var out struct {
		Meta Meta `json:"_meta"`
	}
	if err := c.execute(ctx, `{ _meta { block { number } } }`, &out); err != nil {
		return Meta{}, fmt.Errorf("subgraph metadata: %w", err)
	}
	return out.Meta, nil
}

// Snapshots fetches all pool snapshots matching the filter, paginating by id.
func (c *Client) Snapshots(ctx context.Context, filter SnapshotFilter) ([]*RawSnapshot, error) {
	var all []*RawSnapshot
	lastID := ""

	for {
		query := fmt.Sprintf(`{
			poolSnapshots(
				first: %d,
				where: {%s},
				orderBy: id,
				orderDirection: asc
			) {
				id
				poolId
				timestamp
				dailyVolumes
				dailySwapFees
				dailySurpluses
				amounts
				totalShares
				totalSwapVolume
				totalSwapFee
				totalSurplus
			}
		}`, PageSize, snapshotWhere(filter, lastID))

		var out struct {
			PoolSnapshots []*RawSnapshot `json:"poolSnapshots"`
		}
		if err := c.execute(ctx, query, &out); err != nil {
			return nil, fmt.Errorf("snapshots query after id %q: %w", lastID, err)
		}

		if len(out.PoolSnapshots) == 0 {
			break
		}

		all = append(all, out.PoolSnapshots...)
		lastID = out.PoolSnapshots[len(out.PoolSnapshots)-1].ID

		if len(out.PoolSnapshots) < PageSize {
			break
		}
	}

	return all, nil
}

// PoolShares fetches all share balances changed at or after filter.BlockGTE,
// paginating by id.
func (c *Client) PoolShares(ctx context.Context, filter ShareFilter) ([]*PoolShare, error) {
	var all []*PoolShare
	lastID := ""

	for {
		query := fmt.Sprintf(`{
			poolShares(
				first: %d,
				where: {%s},
				orderBy: id,
				orderDirection: asc
			) {
				id
				balance
				userAddress { id }
				poolId { id address }
			}
		}`, PageSize, shareWhere(filter, lastID))

		var out struct {
			PoolShares []*PoolShare `json:"poolShares"`
		}
		if err := c.execute(ctx, query, &out); err != nil {
			return nil, fmt.Errorf("pool shares query after id %q: %w", lastID, err)
		}

		if len(out.PoolShares) == 0 {
			break
		}

		all = append(all, out.PoolShares...)
		lastID = out.PoolShares[len(out.PoolShares)-1].ID

		if len(out.PoolShares) < PageSize {
			break
		}
	}

	return all, nil
}

func snapshotWhere(filter SnapshotFilter, lastID string) string {
	var clauses []string
	if lastID != "" {
		clauses = append(clauses, fmt.Sprintf(`id_gt: "%s"`, lastID))
	}
	if len(filter.PoolIDs) > 0 {
		quoted := make([]string, len(filter.PoolIDs))
		for i, id := range filter.PoolIDs {
			quoted[i] = fmt.Sprintf("%q", id)
		}
		clauses = append(clauses, fmt.Sprintf(`poolId_in: [%s]`, strings.Join(quoted, ", ")))
	}
	if filter.BlockGTE > 0 {
		clauses = append(clauses, fmt.Sprintf(`_change_block: {number_gte: %d}`, filter.BlockGTE))
	}
	return strings.Join(clauses, ", ")
}

func shareWhere(filter ShareFilter, lastID string) string {
	var clauses []string
	if lastID != "" {
		clauses = append(clauses, fmt.Sprintf(`id_gt: "%s"`, lastID))
	}
	if filter.BlockGTE > 0 {
		clauses = append(clauses, fmt.Sprintf(`_change_block: {number_gte: %d}`, filter.BlockGTE))
	}
	return strings.Join(clauses, ", ")
}

// execute sends a GraphQL query and unmarshals the data payload into out.
func (c *Client) execute(ctx context.Context, query string, out any) error {
	reqBody, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("subgraph returned status %d: %s", resp.StatusCode, string(body))
	}

	raw := graphResponse[json.RawMessage]{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if len(raw.Errors) > 0 {
		return fmt.Errorf("subgraph error: %s", raw.Errors[0].Message)
	}

	if err := json.Unmarshal(raw.Data, out); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}

	return nil
}
