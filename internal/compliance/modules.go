// Package compliance encodes compliance module parameters into the ABI byte
// layout the on-chain compliance engine consumes.
package compliance

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"

	apperrors "github.com/R3E-Network/tokenization_layer/internal/errors"
)

// ModuleType identifies a compliance module kind.
type ModuleType string

const (
	IdentityVerification ModuleType = "identity-verification"
	CountryAllowList     ModuleType = "country-allow-list"
	CountryBlockList     ModuleType = "country-block-list"
	AddressAllowList     ModuleType = "address-allow-list"
	AddressBlockList     ModuleType = "address-block-list"
	TokenSupplyLimit     ModuleType = "token-supply-limit"
)

// ModuleTypes lists every supported module type.
var ModuleTypes = []ModuleType{
	IdentityVerification,
	CountryAllowList,
	CountryBlockList,
	AddressAllowList,
	AddressBlockList,
	TokenSupplyLimit,
}

// ParseModuleType validates a module type tag.
func ParseModuleType(s string) (ModuleType, error) {
	for _, t := range ModuleTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", apperrors.Newf(apperrors.CodeUnsupportedModuleType, "unsupported compliance module type %q", s)
}

// Params is the module-specific parameter object.
type Params interface {
	isParams()
}

// ExpressionParams configures identity verification. At most one of Expression
// and Infix is set; neither means no restriction.
type ExpressionParams struct {
	Expression *Expression  `json:"expression,omitempty"`
	Infix      []InfixToken `json:"infix,omitempty"`
}

// CountryListParams lists ISO-3166 numeric country codes.
type CountryListParams struct {
	Countries []uint16 `json:"countries"`
}

// AddressListParams lists hex addresses.
type AddressListParams struct {
	Addresses []string `json:"addresses"`
}

// SupplyLimitParams caps token supply. PeriodLength is in days; zero means lifetime.
type SupplyLimitParams struct {
	MaxSupply    *big.Int `json:"maxSupply"`
	PeriodLength uint64   `json:"periodLength"`
	Rolling      bool     `json:"rolling"`
	UseBasePrice bool     `json:"useBasePrice"`
	Global       bool     `json:"global"`
}

func (ExpressionParams) isParams()  {}
func (CountryListParams) isParams() {}
func (AddressListParams) isParams() {}
func (SupplyLimitParams) isParams() {}

// ModuleConfig pairs a module type with its parameters.
type ModuleConfig struct {
	TypeID ModuleType `json:"typeId"`
	Values Params     `json:"values"`
}

// paramsFor returns an empty parameter value of the shape typeID requires.
func paramsFor(typeID ModuleType) (Params, error) {
	switch typeID {
	case IdentityVerification:
		return &ExpressionParams{}, nil
	case CountryAllowList, CountryBlockList:
		return &CountryListParams{}, nil
	case AddressAllowList, AddressBlockList:
		return &AddressListParams{}, nil
	case TokenSupplyLimit:
		return &SupplyLimitParams{}, nil
	default:
		return nil, apperrors.Newf(apperrors.CodeUnsupportedModuleType, "unsupported compliance module type %q", typeID)
	}
}

// normalize dereferences pointer params so callers may pass either form.
func normalize(p Params) Params {
	switch v := p.(type) {
	case *ExpressionParams:
		if v != nil {
			return *v
		}
	case *CountryListParams:
		if v != nil {
			return *v
		}
	case *AddressListParams:
		if v != nil {
			return *v
		}
	case *SupplyLimitParams:
		if v != nil {
			return *v
		}
	default:
		return p
	}
	return nil
}

// UnmarshalJSON decodes a module config strictly: unknown fields and values of
// the wrong shape for the type are rejected.
func (m *ModuleConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		TypeID string          `json:"typeId"`
		Values json.RawMessage `json:"values"`
	}
	if err := decodeStrict(data, &raw); err != nil {
		return apperrors.Newf(apperrors.CodeInvalidInput, "invalid compliance module: %v", err)
	}

	typeID, err := ParseModuleType(raw.TypeID)
	if err != nil {
		return err
	}
	proto, err := paramsFor(typeID)
	if err != nil {
		return err
	}
	if len(raw.Values) == 0 || string(raw.Values) == "null" {
		return apperrors.Newf(apperrors.CodeParamsMismatch, "%s: values are required", typeID)
	}
	if err := decodeStrict(raw.Values, proto); err != nil {
		return apperrors.Newf(apperrors.CodeParamsMismatch, "%s: values do not match module type: %v", typeID, err)
	}

	m.TypeID = typeID
	m.Values = normalize(proto)
	return nil
}

func decodeStrict(data []byte, target interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after JSON value")
	}
	return nil
}
