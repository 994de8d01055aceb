// Package tokens prepares token creation and token actions as contract
// mutations and hands them to the execution pipeline.
package tokens

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/R3E-Network/tokenization_layer/internal/challenge"
	"github.com/R3E-Network/tokenization_layer/internal/compliance"
	apperrors "github.com/R3E-Network/tokenization_layer/internal/errors"
)

// AssetType tags a kind of tokenized instrument.
type AssetType string

const (
	Bond           AssetType = "bond"
	Equity         AssetType = "equity"
	Fund           AssetType = "fund"
	Deposit        AssetType = "deposit"
	StableCoin     AssetType = "stablecoin"
	Cryptocurrency AssetType = "cryptocurrency"
)

// AssetTypes lists every supported asset type.
var AssetTypes = []AssetType{Bond, Equity, Fund, Deposit, StableCoin, Cryptocurrency}

const (
	maxDecimals    = 18
	maxNameLength  = 50
	maxSymbolLen   = 12
	isinLength     = 12
	maxBasisPoints = 10_000
)

// CreateInput is the request to create a token. Fields below the common block
// apply to specific asset types only.
type CreateInput struct {
	Name           string                    `json:"name"`
	Symbol         string                    `json:"symbol"`
	Decimals       int                       `json:"decimals"`
	ISIN           string                    `json:"isin,omitempty"`
	CountryCode    uint16                    `json:"countryCode"`
	InitialModules []compliance.ModuleConfig `json:"initialModulePairs,omitempty"`
	Credential     challenge.Credential      `json:"verification"`

	// Bond
	Cap               *big.Int       `json:"cap,omitempty"`
	FaceValue         *big.Int       `json:"faceValue,omitempty"`
	MaturityDate      time.Time      `json:"maturityDate,omitempty"`
	DenominationAsset common.Address `json:"denominationAsset,omitempty"`

	// Fund
	ManagementFeeBps uint16 `json:"managementFeeBps,omitempty"`

	// Cryptocurrency
	InitialSupply *big.Int `json:"initialSupply,omitempty"`
}

// Validate checks the fields shared by every asset type.
func (in *CreateInput) Validate() error {
	name := strings.TrimSpace(in.Name)
	if name == "" || len(name) > maxNameLength {
		return apperrors.Newf(apperrors.CodeInvalidInput, "name must be 1-%d characters", maxNameLength)
	}
	symbol := strings.TrimSpace(in.Symbol)
	if symbol == "" || len(symbol) > maxSymbolLen || !isAlphanumeric(symbol) {
		return apperrors.Newf(apperrors.CodeInvalidInput, "symbol must be 1-%d alphanumeric characters", maxSymbolLen)
	}
	if in.Decimals < 0 || in.Decimals > maxDecimals {
		return apperrors.Newf(apperrors.CodeInvalidInput, "decimals must be between 0 and %d", maxDecimals)
	}
	if in.ISIN != "" && (len(in.ISIN) != isinLength || !isAlphanumeric(in.ISIN)) {
		return apperrors.Newf(apperrors.CodeInvalidInput, "isin must be %d alphanumeric characters", isinLength)
	}
	if in.CountryCode == 0 || in.CountryCode > 999 {
		return apperrors.InvalidInput("countryCode must be an ISO-3166 numeric code")
	}
	return challenge.ValidateFormat(in.Credential)
}

// ParseAssetType validates an asset type tag.
func ParseAssetType(s string) (AssetType, error) {
	t := AssetType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AssetTypes {
		if t == known {
			return t, nil
		}
	}
	return "", apperrors.Newf(apperrors.CodeUnsupportedAssetType, "unsupported asset type %q", s)
}

// Factories maps asset types to their deployed factory contract.
type Factories map[AssetType]common.Address

// NewFactories builds factories from configuration keyed by asset type tag.
func NewFactories(addresses map[string]common.Address) (Factories, error) {
	f := make(Factories, len(addresses))
	for tag, addr := range addresses {
		t, err := ParseAssetType(tag)
		if err != nil {
			return nil, err
		}
		f[t] = addr
	}
	return f, nil
}

func isAlphanumeric(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return true
}

func positive(field string, v *big.Int) error {
	if v == nil || v.Sign() <= 0 {
		return apperrors.Newf(apperrors.CodeInvalidInput, "%s must be positive", field)
	}
	return nil
}
