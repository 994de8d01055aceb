package compliance

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	apperrors "github.com/R3E-Network/tokenization_layer/internal/errors"
)

// ModulePair is a compliance module contract with its encoded parameters.
type ModulePair struct {
	Module common.Address `json:"module"`
	Params []byte         `json:"params"`
}

// Registry resolves module types to deployed module contracts.
type Registry map[ModuleType]common.Address

// NewRegistry builds a registry from configuration keyed by module type tag.
func NewRegistry(addresses map[string]common.Address) (Registry, error) {
	r := make(Registry, len(addresses))
	for tag, addr := range addresses {
		t, err := ParseModuleType(tag)
		if err != nil {
			return nil, err
		}
		r[t] = addr
	}
	return r, nil
}

// EncodeModulePairs encodes every config in order. The output order matches
// the input order exactly.
func EncodeModulePairs(configs []ModuleConfig, registry Registry) ([]ModulePair, error) {
	pairs := make([]ModulePair, 0, len(configs))
	for i, cfg := range configs {
		module, ok := registry[cfg.TypeID]
		if !ok || module == (common.Address{}) {
			if _, err := ParseModuleType(string(cfg.TypeID)); err != nil {
				return nil, err
			}
			return nil, apperrors.Newf(apperrors.CodeUnsupportedModuleType, "modules[%d]: no %s module deployed", i, cfg.TypeID)
		}
		params, err := Encode(cfg)
		if err != nil {
			return nil, wrapIndex(i, err)
		}
		pairs = append(pairs, ModulePair{Module: module, Params: params})
	}
	return pairs, nil
}

// PairsArg converts pairs to the contract-call argument form.
func PairsArg(pairs []ModulePair) []map[string]interface{} {
	out := make([]map[string]interface{}, len(pairs))
	for i, p := range pairs {
		out[i] = map[string]interface{}{
			"module": p.Module,
			"params": p.Params,
		}
	}
	return out
}

func wrapIndex(i int, err error) error {
	se := apperrors.GetServiceError(err)
	if se == nil {
		return fmt.Errorf("modules[%d]: %w", i, err)
	}
	return se.WithDetails("module_index", i)
}
