package tokens

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/R3E-Network/tokenization_layer/internal/chain"
	"github.com/R3E-Network/tokenization_layer/internal/challenge"
	"github.com/R3E-Network/tokenization_layer/internal/compliance"
	apperrors "github.com/R3E-Network/tokenization_layer/internal/errors"
	"github.com/R3E-Network/tokenization_layer/internal/pipeline"
)

// Runner executes a prepared mutation. *pipeline.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, m chain.Mutation, user challenge.User, cred challenge.Credential) <-chan pipeline.Event
}

// ActionContext carries the acting user and per-request execution options.
type ActionContext struct {
	User challenge.User
	// IndexingTimeout bounds the wait for the indexer. Zero skips it.
	IndexingTimeout time.Duration
}

// creation is the part of a create call shared by every handler.
type creation struct {
	input CreateInput
	pairs []map[string]interface{}
	now   time.Time
}

func (c creation) head() []chain.Arg {
	var isin interface{}
	if c.input.ISIN != "" {
		isin = c.input.ISIN
	}
	return []chain.Arg{
		{Name: "name", Value: c.input.Name},
		{Name: "symbol", Value: c.input.Symbol},
		{Name: "decimals", Value: c.input.Decimals},
		{Name: "isin", Value: isin, Optional: true},
	}
}

func (c creation) tail() []chain.Arg {
	return []chain.Arg{
		{Name: "initialModulePairs", Value: c.pairs},
		{Name: "countryCode", Value: c.input.CountryCode},
	}
}

// creationHandler knows the factory call shape for one asset type.
type creationHandler struct {
	function string
	args     func(c creation) ([]chain.Arg, error)
}

// handlers is the only place a new asset type needs to be registered.
var handlers = map[AssetType]creationHandler{
	Bond:           {function: "BondFactoryCreateBond", args: bondArgs},
	Equity:         {function: "EquityFactoryCreateEquity", args: plainArgs},
	Fund:           {function: "FundFactoryCreateFund", args: fundArgs},
	Deposit:        {function: "DepositFactoryCreateDeposit", args: plainArgs},
	StableCoin:     {function: "StableCoinFactoryCreateStableCoin", args: plainArgs},
	Cryptocurrency: {function: "CryptoCurrencyFactoryCreateCryptoCurrency", args: cryptoArgs},
}

func plainArgs(c creation) ([]chain.Arg, error) {
	return append(c.head(), c.tail()...), nil
}

func bondArgs(c creation) ([]chain.Arg, error) {
	in := c.input
	if err := positive("cap", in.Cap); err != nil {
		return nil, err
	}
	if err := positive("faceValue", in.FaceValue); err != nil {
		return nil, err
	}
	if !in.MaturityDate.After(c.now) {
		return nil, apperrors.InvalidInput("maturityDate must be in the future")
	}
	if in.DenominationAsset == (common.Address{}) {
		return nil, apperrors.InvalidInput("denominationAsset is required")
	}

	args := append(c.head(),
		chain.Arg{Name: "cap", Value: in.Cap},
		chain.Arg{Name: "maturityDate", Value: big.NewInt(in.MaturityDate.Unix())},
		chain.Arg{Name: "faceValue", Value: in.FaceValue},
		chain.Arg{Name: "denominationAsset", Value: in.DenominationAsset},
	)
	return append(args, c.tail()...), nil
}

func fundArgs(c creation) ([]chain.Arg, error) {
	if c.input.ManagementFeeBps > maxBasisPoints {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "managementFeeBps must not exceed %d", maxBasisPoints)
	}
	args := append(c.head(), chain.Arg{Name: "managementFeeBps", Value: c.input.ManagementFeeBps})
	return append(args, c.tail()...), nil
}

func cryptoArgs(c creation) ([]chain.Arg, error) {
	supply := c.input.InitialSupply
	if supply == nil {
		supply = new(big.Int)
	}
	if supply.Sign() < 0 {
		return nil, apperrors.InvalidInput("initialSupply must not be negative")
	}
	args := append(c.head(), chain.Arg{Name: "initialSupply", Value: supply})
	return append(args, c.tail()...), nil
}

// Dispatcher routes token creation to the handler for each asset type.
type Dispatcher struct {
	runner    Runner
	factories Factories
	modules   compliance.Registry
	now       func() time.Time
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(runner Runner, factories Factories, modules compliance.Registry) *Dispatcher {
	return &Dispatcher{
		runner:    runner,
		factories: factories,
		modules:   modules,
		now:       time.Now,
	}
}

// Prepare validates input and builds the factory mutation without running it.
func (d *Dispatcher) Prepare(assetType AssetType, input CreateInput, actx ActionContext) (chain.Mutation, error) {
	h, ok := handlers[assetType]
	if !ok {
		return chain.Mutation{}, apperrors.Newf(apperrors.CodeUnsupportedAssetType, "unsupported asset type %q", assetType)
	}
	factory, ok := d.factories[assetType]
	if !ok || factory == (common.Address{}) {
		return chain.Mutation{}, apperrors.Newf(apperrors.CodeUnsupportedAssetType, "no %s factory deployed", assetType)
	}
	if err := input.Validate(); err != nil {
		return chain.Mutation{}, err
	}

	pairs, err := compliance.EncodeModulePairs(input.InitialModules, d.modules)
	if err != nil {
		return chain.Mutation{}, err
	}

	args, err := h.args(creation{input: input, pairs: compliance.PairsArg(pairs), now: d.now()})
	if err != nil {
		return chain.Mutation{}, err
	}

	m := chain.Mutation{
		Action:          "create-" + string(assetType),
		Contract:        factory,
		From:            actx.User.Wallet,
		Function:        h.function,
		Args:            args,
		IndexingTimeout: actx.IndexingTimeout,
	}
	if actx.IndexingTimeout > 0 {
		m.IndexQuery = &chain.IndexedQuery{
			Query:            `query TokenByAddress($id: ID!) { token(id: $id) { id name symbol decimals } }`,
			Path:             "token",
			ContractVariable: "id",
		}
	}
	if err := m.Validate(); err != nil {
		return chain.Mutation{}, err
	}
	return m, nil
}

// Dispatch prepares the creation mutation for assetType and starts it.
// Input errors are returned before anything is sent.
func (d *Dispatcher) Dispatch(ctx context.Context, assetType AssetType, input CreateInput, actx ActionContext) (<-chan pipeline.Event, error) {
	m, err := d.Prepare(assetType, input, actx)
	if err != nil {
		return nil, err
	}
	return d.runner.Run(ctx, m, actx.User, input.Credential), nil
}
