package tokens

import (
	"context"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/R3E-Network/tokenization_layer/internal/chain"
	"github.com/R3E-Network/tokenization_layer/internal/challenge"
	"github.com/R3E-Network/tokenization_layer/internal/compliance"
	apperrors "github.com/R3E-Network/tokenization_layer/internal/errors"
	"github.com/R3E-Network/tokenization_layer/internal/pipeline"
)

// Token action names.
const (
	ActionMint                = "mint"
	ActionBurn                = "burn"
	ActionTransfer            = "transfer"
	ActionPause               = "pause"
	ActionUnpause             = "unpause"
	ActionAddComplianceModule = "add-compliance-module"
)

// ActionInput is the request for an action on an existing token. Which fields
// are required depends on the action.
type ActionInput struct {
	To         common.Address           `json:"to,omitempty"`
	From       common.Address           `json:"from,omitempty"`
	Amount     *big.Int                 `json:"amount,omitempty"`
	Module     *compliance.ModuleConfig `json:"module,omitempty"`
	Credential challenge.Credential     `json:"verification"`
}

type actionHandler struct {
	function string
	args     func(a *Actions, in ActionInput) ([]chain.Arg, error)
}

var actionHandlers = map[string]actionHandler{
	ActionMint:                {function: "TokenMint", args: mintArgs},
	ActionBurn:                {function: "TokenBurn", args: burnArgs},
	ActionTransfer:            {function: "TokenTransfer", args: transferArgs},
	ActionPause:               {function: "TokenPause", args: noArgs},
	ActionUnpause:             {function: "TokenUnpause", args: noArgs},
	ActionAddComplianceModule: {function: "TokenAddComplianceModule", args: addModuleArgs},
}

// ActionNames returns the supported action names in sorted order.
func ActionNames() []string {
	names := make([]string, 0, len(actionHandlers))
	for name := range actionHandlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func requireAddress(field string, addr common.Address) error {
	if addr == (common.Address{}) {
		return apperrors.Newf(apperrors.CodeInvalidInput, "%s address is required", field)
	}
	return nil
}

func mintArgs(_ *Actions, in ActionInput) ([]chain.Arg, error) {
	if err := requireAddress("to", in.To); err != nil {
		return nil, err
	}
	if err := positive("amount", in.Amount); err != nil {
		return nil, err
	}
	return []chain.Arg{{Name: "to", Value: in.To}, {Name: "amount", Value: in.Amount}}, nil
}

func burnArgs(_ *Actions, in ActionInput) ([]chain.Arg, error) {
	if err := requireAddress("from", in.From); err != nil {
		return nil, err
	}
	if err := positive("amount", in.Amount); err != nil {
		return nil, err
	}
	return []chain.Arg{{Name: "userAddress", Value: in.From}, {Name: "amount", Value: in.Amount}}, nil
}

func transferArgs(_ *Actions, in ActionInput) ([]chain.Arg, error) {
	if err := requireAddress("to", in.To); err != nil {
		return nil, err
	}
	if err := positive("amount", in.Amount); err != nil {
		return nil, err
	}
	return []chain.Arg{{Name: "to", Value: in.To}, {Name: "amount", Value: in.Amount}}, nil
}

func noArgs(_ *Actions, _ ActionInput) ([]chain.Arg, error) {
	return nil, nil
}

func addModuleArgs(a *Actions, in ActionInput) ([]chain.Arg, error) {
	if in.Module == nil {
		return nil, apperrors.InvalidInput("module is required")
	}
	pairs, err := compliance.EncodeModulePairs([]compliance.ModuleConfig{*in.Module}, a.modules)
	if err != nil {
		return nil, err
	}
	return []chain.Arg{
		{Name: "module", Value: pairs[0].Module},
		{Name: "params", Value: pairs[0].Params},
	}, nil
}

// Actions executes actions on existing tokens.
type Actions struct {
	runner  Runner
	modules compliance.Registry
}

// NewActions creates the token action registry.
func NewActions(runner Runner, modules compliance.Registry) *Actions {
	return &Actions{runner: runner, modules: modules}
}

// Prepare validates input and builds the mutation for action on token.
func (a *Actions) Prepare(action string, token common.Address, in ActionInput, actx ActionContext) (chain.Mutation, error) {
	h, ok := actionHandlers[action]
	if !ok {
		return chain.Mutation{}, apperrors.Newf(apperrors.CodeUnsupportedAction, "unsupported action %q", action)
	}
	if err := requireAddress("token", token); err != nil {
		return chain.Mutation{}, err
	}
	if err := challenge.ValidateFormat(in.Credential); err != nil {
		return chain.Mutation{}, err
	}

	args, err := h.args(a, in)
	if err != nil {
		return chain.Mutation{}, err
	}

	m := chain.Mutation{
		Action:          action,
		Contract:        token,
		From:            actx.User.Wallet,
		Function:        h.function,
		Args:            args,
		IndexingTimeout: actx.IndexingTimeout,
	}
	if err := m.Validate(); err != nil {
		return chain.Mutation{}, err
	}
	return m, nil
}

// Execute prepares action and starts it.
func (a *Actions) Execute(ctx context.Context, action string, token common.Address, in ActionInput, actx ActionContext) (<-chan pipeline.Event, error) {
	m, err := a.Prepare(action, token, in, actx)
	if err != nil {
		return nil, err
	}
	return a.runner.Run(ctx, m, actx.User, in.Credential), nil
}
