// Package chain provides EVM transaction primitives for the tokenization layer.
package chain

import (
	"encoding/hex"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	apperrors "github.com/R3E-Network/tokenization_layer/internal/errors"
)

// =============================================================================
// Mutation Descriptor
// =============================================================================

// Arg is a single named contract-call argument. Args are kept ordered because
// the contract-call shape is positional.
type Arg struct {
	Name     string      `json:"name"`
	Value    interface{} `json:"value"`
	Optional bool        `json:"-"`
}

// IndexedQuery describes a read against the indexer once it has caught up.
// Path is a gjson path into the response data selecting the entity.
// ContractVariable, when set, names the variable that receives the address of
// the contract the transaction deployed.
type IndexedQuery struct {
	Query            string                 `json:"query"`
	Variables        map[string]interface{} `json:"variables,omitempty"`
	Path             string                 `json:"path"`
	ContractVariable string                 `json:"contractVariable,omitempty"`
}

// BindContract returns a copy of q with ContractVariable set to the lowercase
// hex of the deployed contract, the form indexers use for entity ids. It
// reports false when q needs a contract and the receipt has none.
func (q IndexedQuery) BindContract(contract *common.Address) (IndexedQuery, bool) {
	if q.ContractVariable == "" {
		return q, true
	}
	if contract == nil || *contract == (common.Address{}) {
		return q, false
	}
	vars := make(map[string]interface{}, len(q.Variables)+1)
	for k, v := range q.Variables {
		vars[k] = v
	}
	vars[q.ContractVariable] = strings.ToLower(contract.Hex())
	q.Variables = vars
	return q, true
}

// Mutation describes one state-changing contract call.
type Mutation struct {
	// Action labels the mutation for logs and metrics (e.g. "create-bond", "mint").
	Action   string
	Contract common.Address
	From     common.Address
	Function string
	Args     []Arg

	// IndexingTimeout bounds the wait for the indexer after confirmation. Zero skips it.
	IndexingTimeout time.Duration
	// IndexQuery is run once the indexer reaches the mined block. Optional.
	IndexQuery *IndexedQuery
}

// Validate checks the descriptor is well formed: required addresses present and
// amounts non-negative.
func (m *Mutation) Validate() error {
	if m == nil {
		return apperrors.InvalidInput("mutation is required")
	}
	if m.Contract == (common.Address{}) {
		return apperrors.InvalidInput("mutation contract address is required")
	}
	if m.From == (common.Address{}) {
		return apperrors.InvalidInput("mutation sender address is required")
	}
	if strings.TrimSpace(m.Function) == "" {
		return apperrors.InvalidInput("mutation function is required")
	}
	if m.IndexingTimeout < 0 {
		return apperrors.InvalidInput("indexing timeout must not be negative")
	}

	seen := make(map[string]struct{}, len(m.Args))
	for _, arg := range m.Args {
		if arg.Name == "" {
			return apperrors.InvalidInput("argument name is required")
		}
		if _, dup := seen[arg.Name]; dup {
			return apperrors.Newf(apperrors.CodeInvalidInput, "duplicate argument %s", arg.Name)
		}
		seen[arg.Name] = struct{}{}

		if err := validateArg(arg); err != nil {
			return err
		}
	}
	return nil
}

func validateArg(arg Arg) error {
	switch v := arg.Value.(type) {
	case nil:
		if !arg.Optional {
			return apperrors.Newf(apperrors.CodeInvalidInput, "argument %s is required", arg.Name)
		}
	case *big.Int:
		if v == nil {
			if !arg.Optional {
				return apperrors.Newf(apperrors.CodeInvalidInput, "argument %s is required", arg.Name)
			}
			return nil
		}
		if v.Sign() < 0 {
			return apperrors.Newf(apperrors.CodeInvalidInput, "argument %s must not be negative", arg.Name)
		}
		if v.BitLen() > 256 {
			return apperrors.Newf(apperrors.CodeInvalidInput, "argument %s exceeds uint256", arg.Name)
		}
	case common.Address:
		if v == (common.Address{}) && !arg.Optional {
			return apperrors.Newf(apperrors.CodeInvalidInput, "argument %s address is required", arg.Name)
		}
	}
	return nil
}

// ArgsMap returns the arguments as a name -> wire value map.
func (m *Mutation) ArgsMap() map[string]interface{} {
	out := make(map[string]interface{}, len(m.Args))
	for _, arg := range m.Args {
		out[arg.Name] = WireValue(arg.Value)
	}
	return out
}

// WireValue converts Go-typed argument values into their JSON wire form:
// big integers as decimal strings, addresses and byte slices as 0x-hex.
func WireValue(v interface{}) interface{} {
	switch t := v.(type) {
	case *big.Int:
		if t == nil {
			return nil
		}
		return t.String()
	case common.Address:
		return t.Hex()
	case common.Hash:
		return t.Hex()
	case []byte:
		return "0x" + common.Bytes2Hex(t)
	case []common.Address:
		out := make([]string, len(t))
		for i, a := range t {
			out[i] = a.Hex()
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = WireValue(e)
		}
		return out
	case []map[string]interface{}:
		out := make([]map[string]interface{}, len(t))
		for i, e := range t {
			out[i] = make(map[string]interface{}, len(e))
			for k, val := range e {
				out[i][k] = WireValue(val)
			}
		}
		return out
	default:
		return v
	}
}

// =============================================================================
// Receipts
// =============================================================================

// ReceiptStatus is the execution outcome of a mined transaction.
type ReceiptStatus string

const (
	ReceiptSuccess  ReceiptStatus = "success"
	ReceiptReverted ReceiptStatus = "reverted"
)

// ParseReceiptStatus normalizes the status spellings used by the Portal and JSON-RPC nodes.
func ParseReceiptStatus(s string) ReceiptStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success", "0x1", "1":
		return ReceiptSuccess
	default:
		return ReceiptReverted
	}
}

// Receipt is a mined transaction receipt.
type Receipt struct {
	TransactionHash common.Hash     `json:"transactionHash"`
	Status          ReceiptStatus   `json:"status"`
	BlockNumber     uint64          `json:"blockNumber"`
	ContractAddress *common.Address `json:"contractAddress,omitempty"`
	RevertReason    string          `json:"revertReason,omitempty"`
}

// Succeeded reports whether the transaction executed successfully.
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == ReceiptSuccess
}

// ErrReceiptNotFound is returned while a transaction is not yet mined.
var ErrReceiptNotFound = apperrors.New(apperrors.CodeNotFound, "receipt not found")

// ParseHash parses a 0x-prefixed 32-byte transaction hash.
func ParseHash(s string) (common.Hash, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") || len(s) != 66 {
		return common.Hash{}, apperrors.Newf(apperrors.CodeInvalidInput, "invalid transaction hash %q", s)
	}
	if _, err := hex.DecodeString(s[2:]); err != nil {
		return common.Hash{}, apperrors.Newf(apperrors.CodeInvalidInput, "invalid transaction hash %q", s)
	}
	return common.HexToHash(s), nil
}

// ParseAddress parses a hex address, rejecting malformed input and the zero address.
func ParseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, apperrors.Newf(apperrors.CodeInvalidInput, "%s: invalid address %q", field, s)
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, apperrors.Newf(apperrors.CodeInvalidInput, "%s: zero address", field)
	}
	return addr, nil
}
