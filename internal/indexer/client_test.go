package indexer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/tokenization_layer/internal/chain"
	"github.com/R3E-Network/tokenization_layer/internal/httputil"
)

func newTestClient(t *testing.T, body string) *Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req httputil.GraphQLRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	client, err := New(Config{URL: server.URL})
	require.NoError(t, err)
	return client
}

func TestHeadBlock(t *testing.T) {
	client := newTestClient(t, `{"data":{"_meta":{"block":{"number":1234}}}}`)

	head, err := client.HeadBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1234), head)
}

func TestHeadBlockMissing(t *testing.T) {
	client := newTestClient(t, `{"data":{}}`)

	_, err := client.HeadBlock(context.Background())
	assert.Error(t, err)
}

func TestQueryIndexedState(t *testing.T) {
	client := newTestClient(t, `{"data":{"tokens":[{"id":"0xabc","name":"Bond A"}]}}`)

	got, err := client.QueryIndexedState(context.Background(), chain.IndexedQuery{
		Query: `query($id: String!) { tokens(where: {id: $id}) { id name } }`,
		Path:  "tokens.0",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"0xabc","name":"Bond A"}`, string(got))
}

func TestQueryIndexedStateNotYetIndexed(t *testing.T) {
	client := newTestClient(t, `{"data":{"tokens":[]}}`)

	got, err := client.QueryIndexedState(context.Background(), chain.IndexedQuery{Query: "{ tokens { id } }", Path: "tokens"})
	require.NoError(t, err)
	assert.Nil(t, got)
}
