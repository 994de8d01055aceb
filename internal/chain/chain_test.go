package chain

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/R3E-Network/tokenization_layer/internal/errors"
)

var (
	testContract = common.HexToAddress("0x1000000000000000000000000000000000000001")
	testSender   = common.HexToAddress("0x2000000000000000000000000000000000000002")
)

func TestMutationValidate(t *testing.T) {
	valid := Mutation{
		Action:   "mint",
		Contract: testContract,
		From:     testSender,
		Function: "mint",
		Args: []Arg{
			{Name: "to", Value: testSender},
			{Name: "amount", Value: big.NewInt(100)},
		},
	}
	require.NoError(t, valid.Validate())

	cases := map[string]func(m *Mutation){
		"missing contract": func(m *Mutation) { m.Contract = common.Address{} },
		"missing sender":   func(m *Mutation) { m.From = common.Address{} },
		"missing function": func(m *Mutation) { m.Function = " " },
		"negative amount":  func(m *Mutation) { m.Args[1].Value = big.NewInt(-1) },
		"oversized amount": func(m *Mutation) { m.Args[1].Value = new(big.Int).Lsh(big.NewInt(1), 256) },
		"zero recipient":   func(m *Mutation) { m.Args[0].Value = common.Address{} },
		"duplicate arg":    func(m *Mutation) { m.Args = append(m.Args, Arg{Name: "to", Value: testSender}) },
		"nil required arg": func(m *Mutation) { m.Args[1].Value = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			m := valid
			m.Args = append([]Arg(nil), valid.Args...)
			mutate(&m)
			err := m.Validate()
			require.Error(t, err)
			assert.Equal(t, apperrors.CodeInvalidInput, apperrors.CodeOf(err))
		})
	}
}

func TestMutationOptionalArg(t *testing.T) {
	m := Mutation{
		Contract: testContract,
		From:     testSender,
		Function: "createBond",
		Args:     []Arg{{Name: "denominationAsset", Value: common.Address{}, Optional: true}},
	}
	assert.NoError(t, m.Validate())
}

func TestArgsMapWireValues(t *testing.T) {
	m := Mutation{Args: []Arg{
		{Name: "amount", Value: big.NewInt(1000)},
		{Name: "to", Value: testSender},
		{Name: "data", Value: []byte{0xde, 0xad}},
		{Name: "name", Value: "Bond A"},
	}}
	got := m.ArgsMap()
	assert.Equal(t, "1000", got["amount"])
	assert.Equal(t, testSender.Hex(), got["to"])
	assert.Equal(t, "0xdead", got["data"])
	assert.Equal(t, "Bond A", got["name"])
}

func TestIndexedQueryBindContract(t *testing.T) {
	q := IndexedQuery{Query: "q", Variables: map[string]interface{}{"first": 1}, ContractVariable: "id"}

	bound, ok := q.BindContract(&testContract)
	require.True(t, ok)
	assert.Equal(t, strings.ToLower(testContract.Hex()), bound.Variables["id"])
	assert.Equal(t, 1, bound.Variables["first"])
	assert.NotContains(t, q.Variables, "id")

	_, ok = q.BindContract(nil)
	assert.False(t, ok)

	plain := IndexedQuery{Query: "q"}
	same, ok := plain.BindContract(nil)
	assert.True(t, ok)
	assert.Equal(t, plain, same)
}

func TestParseHash(t *testing.T) {
	h, err := ParseHash("0xab" + strings.Repeat("0", 62))
	require.NoError(t, err)
	assert.Equal(t, byte(0xab), h[0])

	_, err = ParseHash("0x1234")
	assert.Error(t, err)
	_, err = ParseHash("0xzz" + strings.Repeat("0", 62))
	assert.Error(t, err)
}

func TestParseReceiptStatus(t *testing.T) {
	assert.Equal(t, ReceiptSuccess, ParseReceiptStatus("Success"))
	assert.Equal(t, ReceiptSuccess, ParseReceiptStatus("0x1"))
	assert.Equal(t, ReceiptReverted, ParseReceiptStatus("0x0"))
	assert.Equal(t, ReceiptReverted, ParseReceiptStatus("Reverted"))
}

type rpcRequest struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
	ID     json.RawMessage   `json:"id"`
}

// newRPCServer answers every JSON-RPC call with handler's result. A returned
// *rpcFailure is sent as the error object instead.
func newRPCServer(t *testing.T, handler func(req rpcRequest) interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		switch v := handler(req).(type) {
		case *rpcFailure:
			resp["error"] = v
		default:
			resp["result"] = v
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

type rpcFailure struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// nodeReceipt is an eth_getTransactionReceipt result with every field the
// go-ethereum decoder requires.
func nodeReceipt(txHash, status, block string, contract *common.Address) map[string]interface{} {
	r := map[string]interface{}{
		"transactionHash":   txHash,
		"status":            status,
		"blockNumber":       block,
		"cumulativeGasUsed": "0x5208",
		"gasUsed":           "0x5208",
		"logsBloom":         "0x" + strings.Repeat("00", 256),
		"logs":              []interface{}{},
		"type":              "0x2",
	}
	if contract != nil {
		r["contractAddress"] = contract.Hex()
	}
	return r
}

func TestClientGetReceipt(t *testing.T) {
	server := newRPCServer(t, func(req rpcRequest) interface{} {
		assert.Equal(t, "eth_getTransactionReceipt", req.Method)
		return nodeReceipt("0x11"+strings.Repeat("0", 62), "0x1", "0x2a", &testContract)
	})
	defer server.Close()

	client, err := NewClient(Config{RPCURL: server.URL})
	require.NoError(t, err)
	defer client.Close()

	receipt, err := client.GetReceipt(context.Background(), common.Hash{1})
	require.NoError(t, err)
	assert.True(t, receipt.Succeeded())
	assert.Equal(t, uint64(42), receipt.BlockNumber)
	assert.Equal(t, common.HexToHash("0x11"+strings.Repeat("0", 62)), receipt.TransactionHash)
	require.NotNil(t, receipt.ContractAddress)
	assert.Equal(t, testContract, *receipt.ContractAddress)
}

func TestClientGetReceiptReverted(t *testing.T) {
	server := newRPCServer(t, func(rpcRequest) interface{} {
		return nodeReceipt("0x22"+strings.Repeat("0", 62), "0x0", "0x7", nil)
	})
	defer server.Close()

	client, err := NewClient(Config{RPCURL: server.URL})
	require.NoError(t, err)
	defer client.Close()

	receipt, err := client.GetReceipt(context.Background(), common.Hash{2})
	require.NoError(t, err)
	assert.False(t, receipt.Succeeded())
	assert.Equal(t, uint64(7), receipt.BlockNumber)
	assert.Nil(t, receipt.ContractAddress)
}

func TestClientGetReceiptPending(t *testing.T) {
	server := newRPCServer(t, func(rpcRequest) interface{} { return nil })
	defer server.Close()

	client, err := NewClient(Config{RPCURL: server.URL})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.GetReceipt(context.Background(), common.Hash{1})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

func TestClientBlockNumber(t *testing.T) {
	server := newRPCServer(t, func(req rpcRequest) interface{} {
		assert.Equal(t, "eth_blockNumber", req.Method)
		return "0x2c"
	})
	defer server.Close()

	client, err := NewClient(Config{RPCURL: server.URL})
	require.NoError(t, err)
	defer client.Close()

	head, err := client.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(44), head)
}

func TestClientNodeError(t *testing.T) {
	server := newRPCServer(t, func(rpcRequest) interface{} {
		return &rpcFailure{Code: -32601, Message: "method not found"}
	})
	defer server.Close()

	client, err := NewClient(Config{RPCURL: server.URL})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.BlockNumber(context.Background())
	assert.Equal(t, apperrors.CodeInternal, apperrors.CodeOf(err))
	assert.False(t, apperrors.IsRetryable(err))
}

func TestClientTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client, err := NewClient(Config{RPCURL: server.URL})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.BlockNumber(context.Background())
	assert.True(t, apperrors.IsRetryable(err))
}

type countingSource struct {
	calls   atomic.Int32
	readyAt int32
}

func (s *countingSource) GetReceipt(_ context.Context, h common.Hash) (*Receipt, error) {
	if s.calls.Add(1) < s.readyAt {
		return nil, ErrReceiptNotFound
	}
	return &Receipt{TransactionHash: h, Status: ReceiptSuccess, BlockNumber: 7}, nil
}

func TestWaitForReceipt(t *testing.T) {
	src := &countingSource{readyAt: 3}
	receipt, err := WaitForReceipt(context.Background(), src, common.Hash{9}, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), receipt.BlockNumber)
	assert.Equal(t, int32(3), src.calls.Load())
}

func TestWaitForReceiptTimeout(t *testing.T) {
	src := &countingSource{readyAt: 1 << 30}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := WaitForReceipt(ctx, src, common.Hash{9}, time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
