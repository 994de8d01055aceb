package compliance

import (
	"fmt"
	"math/big"
	"reflect"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/R3E-Network/tokenization_layer/internal/chain"
	apperrors "github.com/R3E-Network/tokenization_layer/internal/errors"
	"github.com/R3E-Network/tokenization_layer/internal/metrics"
)

// MaxCountryCode is the largest ISO-3166 numeric code.
const MaxCountryCode = 999

var (
	expressionArgs  = mustArguments("tuple[]", []abi.ArgumentMarshaling{{Name: "nodeType", Type: "uint8"}, {Name: "value", Type: "uint256"}})
	countryListArgs = mustArguments("uint16[]", nil)
	addressListArgs = mustArguments("address[]", nil)
	supplyLimitArgs = mustArguments("tuple", []abi.ArgumentMarshaling{
		{Name: "maxSupply", Type: "uint256"},
		{Name: "periodLength", Type: "uint256"},
		{Name: "rolling", Type: "bool"},
		{Name: "useBasePrice", Type: "bool"},
		{Name: "global", Type: "bool"},
	})
)

// mustArguments builds a single-argument ABI layout.
func mustArguments(typ string, components []abi.ArgumentMarshaling) abi.Arguments {
	t, err := abi.NewType(typ, "", components)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: t}}
}

// abiExpressionNode mirrors tuple(uint8 nodeType, uint256 value).
type abiExpressionNode struct {
	NodeType uint8
	Value    *big.Int
}

// abiSupplyLimit mirrors the supply-limit tuple.
type abiSupplyLimit struct {
	MaxSupply    *big.Int
	PeriodLength *big.Int
	Rolling      bool
	UseBasePrice bool
	Global       bool
}

// Encode returns the ABI-encoded parameters for cfg. Encoding is deterministic
// and never reorders caller-supplied lists.
func Encode(cfg ModuleConfig) (out []byte, err error) {
	if _, err := ParseModuleType(string(cfg.TypeID)); err != nil {
		metrics.RecordEncode("unknown", false)
		return nil, err
	}
	defer func() {
		metrics.RecordEncode(string(cfg.TypeID), err == nil)
	}()

	values := normalize(cfg.Values)
	switch cfg.TypeID {
	case IdentityVerification:
		p, ok := values.(ExpressionParams)
		if !ok {
			return nil, mismatch(cfg.TypeID, values)
		}
		return EncodeExpression(p)
	case CountryAllowList, CountryBlockList:
		p, ok := values.(CountryListParams)
		if !ok {
			return nil, mismatch(cfg.TypeID, values)
		}
		return EncodeCountries(p.Countries)
	case AddressAllowList, AddressBlockList:
		p, ok := values.(AddressListParams)
		if !ok {
			return nil, mismatch(cfg.TypeID, values)
		}
		return EncodeAddresses(p.Addresses)
	case TokenSupplyLimit:
		p, ok := values.(SupplyLimitParams)
		if !ok {
			return nil, mismatch(cfg.TypeID, values)
		}
		return EncodeSupplyLimit(p)
	}
	return nil, apperrors.Newf(apperrors.CodeUnsupportedModuleType, "unsupported compliance module type %q", cfg.TypeID)
}

func mismatch(typeID ModuleType, values Params) error {
	return apperrors.Newf(apperrors.CodeParamsMismatch, "%s does not accept %T parameters", typeID, values)
}

// EncodeExpression encodes an identity-verification expression as its postfix
// node array. An empty expression encodes to an empty byte slice.
func EncodeExpression(p ExpressionParams) ([]byte, error) {
	if p.Expression != nil && len(p.Infix) > 0 {
		return nil, apperrors.New(apperrors.CodeParamsMismatch, "expression and infix are mutually exclusive")
	}

	var (
		nodes []ExpressionNode
		err   error
	)
	if len(p.Infix) > 0 {
		nodes, err = InfixToPostfix(p.Infix)
	} else {
		nodes, err = Postfix(p.Expression)
	}
	if err != nil {
		return nil, err
	}
	return EncodePostfix(nodes)
}

// EncodePostfix packs an already-flattened node sequence.
func EncodePostfix(nodes []ExpressionNode) ([]byte, error) {
	if len(nodes) == 0 {
		return []byte{}, nil
	}
	if err := ValidatePostfix(nodes); err != nil {
		return nil, err
	}

	packed := make([]abiExpressionNode, len(nodes))
	for i, n := range nodes {
		packed[i] = abiExpressionNode{NodeType: uint8(n.NodeType), Value: n.Value}
	}
	out, err := expressionArgs.Pack(packed)
	if err != nil {
		return nil, fmt.Errorf("pack expression: %w", err)
	}
	return out, nil
}

// EncodeCountries encodes country codes as uint16[] in caller order.
func EncodeCountries(countries []uint16) ([]byte, error) {
	for i, c := range countries {
		if c == 0 || c > MaxCountryCode {
			return nil, apperrors.Newf(apperrors.CodeInvalidInput, "countries[%d]: %d is not an ISO-3166 numeric code", i, c)
		}
	}
	if countries == nil {
		countries = []uint16{}
	}
	out, err := countryListArgs.Pack(countries)
	if err != nil {
		return nil, fmt.Errorf("pack countries: %w", err)
	}
	return out, nil
}

// EncodeAddresses encodes hex addresses as address[] in caller order.
func EncodeAddresses(addresses []string) ([]byte, error) {
	parsed := make([]common.Address, len(addresses))
	for i, a := range addresses {
		addr, err := chain.ParseAddress(fmt.Sprintf("addresses[%d]", i), a)
		if err != nil {
			return nil, err
		}
		parsed[i] = addr
	}
	out, err := addressListArgs.Pack(parsed)
	if err != nil {
		return nil, fmt.Errorf("pack addresses: %w", err)
	}
	return out, nil
}

// EncodeSupplyLimit encodes the supply-limit tuple.
func EncodeSupplyLimit(p SupplyLimitParams) ([]byte, error) {
	if p.MaxSupply == nil || p.MaxSupply.Sign() <= 0 {
		return nil, apperrors.InvalidInput("maxSupply must be positive")
	}
	if p.MaxSupply.BitLen() > 256 {
		return nil, apperrors.InvalidInput("maxSupply exceeds uint256")
	}
	if p.Rolling && p.PeriodLength == 0 {
		return nil, apperrors.InvalidInput("rolling limits require a period length")
	}
	out, err := supplyLimitArgs.Pack(abiSupplyLimit{
		MaxSupply:    p.MaxSupply,
		PeriodLength: new(big.Int).SetUint64(p.PeriodLength),
		Rolling:      p.Rolling,
		UseBasePrice: p.UseBasePrice,
		Global:       p.Global,
	})
	if err != nil {
		return nil, fmt.Errorf("pack supply limit: %w", err)
	}
	return out, nil
}

// =============================================================================
// Decoding
// =============================================================================

// Decode reverses Encode. Expressions decode to their tree form.
func Decode(typeID ModuleType, data []byte) (ModuleConfig, error) {
	if _, err := ParseModuleType(string(typeID)); err != nil {
		return ModuleConfig{}, err
	}

	switch typeID {
	case IdentityVerification:
		nodes, err := DecodePostfix(data)
		if err != nil {
			return ModuleConfig{}, err
		}
		tree, err := BuildTree(nodes)
		if err != nil {
			return ModuleConfig{}, err
		}
		return ModuleConfig{TypeID: typeID, Values: ExpressionParams{Expression: tree}}, nil

	case CountryAllowList, CountryBlockList:
		v, err := unpackOne(countryListArgs, data)
		if err != nil {
			return ModuleConfig{}, err
		}
		countries, ok := v.([]uint16)
		if !ok {
			return ModuleConfig{}, decodeErr(typeID, fmt.Errorf("unexpected %T", v))
		}
		return ModuleConfig{TypeID: typeID, Values: CountryListParams{Countries: countries}}, nil

	case AddressAllowList, AddressBlockList:
		v, err := unpackOne(addressListArgs, data)
		if err != nil {
			return ModuleConfig{}, err
		}
		addrs, ok := v.([]common.Address)
		if !ok {
			return ModuleConfig{}, decodeErr(typeID, fmt.Errorf("unexpected %T", v))
		}
		out := make([]string, len(addrs))
		for i, a := range addrs {
			out[i] = a.Hex()
		}
		return ModuleConfig{TypeID: typeID, Values: AddressListParams{Addresses: out}}, nil

	default:
		v, err := unpackOne(supplyLimitArgs, data)
		if err != nil {
			return ModuleConfig{}, err
		}
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Struct {
			return ModuleConfig{}, decodeErr(typeID, fmt.Errorf("unexpected %T", v))
		}
		period := rv.FieldByName("PeriodLength").Interface().(*big.Int)
		if !period.IsUint64() {
			return ModuleConfig{}, decodeErr(typeID, fmt.Errorf("period length overflows"))
		}
		return ModuleConfig{TypeID: typeID, Values: SupplyLimitParams{
			MaxSupply:    rv.FieldByName("MaxSupply").Interface().(*big.Int),
			PeriodLength: period.Uint64(),
			Rolling:      rv.FieldByName("Rolling").Bool(),
			UseBasePrice: rv.FieldByName("UseBasePrice").Bool(),
			Global:       rv.FieldByName("Global").Bool(),
		}}, nil
	}
}

// DecodePostfix unpacks an expression node array. Empty input is an empty expression.
func DecodePostfix(data []byte) ([]ExpressionNode, error) {
	if len(data) == 0 {
		return nil, nil
	}
	v, err := unpackOne(expressionArgs, data)
	if err != nil {
		return nil, err
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, decodeErr(IdentityVerification, fmt.Errorf("unexpected %T", v))
	}

	nodes := make([]ExpressionNode, rv.Len())
	for i := range nodes {
		elem := rv.Index(i)
		nodes[i] = ExpressionNode{
			NodeType: NodeType(elem.FieldByName("NodeType").Uint()),
			Value:    elem.FieldByName("Value").Interface().(*big.Int),
		}
	}
	if err := ValidatePostfix(nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

func unpackOne(args abi.Arguments, data []byte) (interface{}, error) {
	values, err := args.Unpack(data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "failed to unpack compliance params", err)
	}
	if len(values) != 1 {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "expected 1 value, got %d", len(values))
	}
	return values[0], nil
}

func decodeErr(typeID ModuleType, err error) error {
	return apperrors.Wrap(apperrors.CodeInvalidInput, fmt.Sprintf("failed to decode %s params", typeID), err)
}
