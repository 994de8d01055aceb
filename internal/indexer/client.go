// Package indexer is the client for the graph indexer that projects on-chain
// events into queryable entities.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/tokenization_layer/internal/chain"
	"github.com/R3E-Network/tokenization_layer/internal/httputil"
)

// Config configures the indexer client.
type Config struct {
	URL     string
	Timeout time.Duration
}

// Client queries the indexer GraphQL endpoint.
type Client struct {
	svc *httputil.ServiceClient
}

// New creates an indexer client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("indexer URL required")
	}
	return &Client{
		svc: httputil.NewServiceClient(httputil.ServiceClientConfig{
			Service:    "indexer",
			BaseURL:    cfg.URL,
			Timeout:    cfg.Timeout,
			MaxRetries: -1,
		}),
	}, nil
}

const headBlockQuery = `query IndexerHead { _meta { block { number } } }`

// HeadBlock returns the latest block the indexer has processed.
func (c *Client) HeadBlock(ctx context.Context) (uint64, error) {
	data, err := c.svc.GraphQL(ctx, "", headBlockQuery, nil)
	if err != nil {
		return 0, err
	}
	number := data.Get("_meta.block.number")
	if !number.Exists() {
		return 0, fmt.Errorf("indexer: response has no head block")
	}
	return number.Uint(), nil
}

// QueryIndexedState runs q and returns the JSON selected by q.Path, or nil when
// the entity is not (yet) indexed.
func (c *Client) QueryIndexedState(ctx context.Context, q chain.IndexedQuery) (json.RawMessage, error) {
	data, err := c.svc.GraphQL(ctx, "", q.Query, q.Variables)
	if err != nil {
		return nil, err
	}
	selected := data
	if q.Path != "" {
		selected = data.Get(q.Path)
	}
	if !selected.Exists() || selected.Type == gjson.Null {
		return nil, nil
	}
	if selected.IsArray() && len(selected.Array()) == 0 {
		return nil, nil
	}
	return json.RawMessage(selected.Raw), nil
}
