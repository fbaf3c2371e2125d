package enzyme

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/jainkunal/giza-agents/internal/web3"
)

// FundCalculator queries the protocol's value-calculation router. All of
// the router methods are declared nonpayable because they recompute fee
// state internally, so they are executed here as eth_call simulations.
type FundCalculator struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewFundCalculator binds the router at a known address.
func NewFundCalculator(client web3.Client, address common.Address) (*FundCalculator, error) {
	parsed, err := abi.JSON(strings.NewReader(calculatorRouterABI))
	if err != nil {
		return nil, fmt.Errorf("解析 FundValueCalculator ABI 失败: %w", err)
	}
	backend := client.Backend()
	return &FundCalculator{
		address:  address,
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
	}, nil
}

// NewFundCalculatorForChain resolves the router address from the client's
// chain ID.
func NewFundCalculatorForChain(ctx context.Context, client web3.Client) (*FundCalculator, error) {
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	deployment, err := DeploymentFor(chainID.Uint64())
	if err != nil {
		return nil, err
	}
	return NewFundCalculator(client, deployment.FundValueCalculatorRouter)
}

// Address returns the bound router address.
func (c *FundCalculator) Address() common.Address {
	return c.address
}

// Valuation is the result of an asset-value query.
type Valuation struct {
	// Denomination is the asset the value is expressed in. For queries
	// without a quote asset this is the fund's tracked denomination asset.
	Denomination common.Address
	// Value is the raw amount in the denomination asset's units.
	Value *big.Int
}

// AssetsValueQuery selects which portfolio value to compute.
type AssetsValueQuery struct {
	Vault common.Address
	// Net switches from gross asset value to net asset value.
	Net bool
	// QuoteAsset, when set, converts the result into that asset instead of
	// the fund's denomination asset.
	QuoteAsset *common.Address
	// BlockNumber pins the query to a historical block. Nil means latest.
	BlockNumber *big.Int
}

// AssetsValue computes the fund's gross or net asset value.
func (c *FundCalculator) AssetsValue(ctx context.Context, query AssetsValueQuery) (*Valuation, error) {
	if query.Vault == (common.Address{}) {
		return nil, fmt.Errorf("未指定基金地址")
	}
	opts := &bind.CallOpts{Context: ctx, BlockNumber: query.BlockNumber}

	method := "calcGav"
	if query.Net {
		method = "calcNav"
	}

	var out []interface{}
	if query.QuoteAsset != nil {
		if err := c.contract.Call(opts, &out, method+"InAsset", query.Vault, *query.QuoteAsset); err != nil {
			return nil, fmt.Errorf("查询基金资产估值失败: %w", err)
		}
		return &Valuation{
			Denomination: *query.QuoteAsset,
			Value:        *abi.ConvertType(out[0], new(*big.Int)).(**big.Int),
		}, nil
	}

	if err := c.contract.Call(opts, &out, method, query.Vault); err != nil {
		return nil, fmt.Errorf("查询基金资产估值失败: %w", err)
	}
	return &Valuation{
		Denomination: *abi.ConvertType(out[0], new(common.Address)).(*common.Address),
		Value:        *abi.ConvertType(out[1], new(*big.Int)).(**big.Int),
	}, nil
}

// ShareValueQuery selects which per-share value to compute.
type ShareValueQuery struct {
	Vault common.Address
	// Net switches from gross share value to net share value.
	Net bool
	// Shareholder, when set, values that account's full share position
	// instead of a single share. Only valid with Net.
	Shareholder *common.Address
	// QuoteAsset, when set, converts the result into that asset.
	QuoteAsset *common.Address
	// BlockNumber pins the query to a historical block. Nil means latest.
	BlockNumber *big.Int
}

// ShareValue computes the value of one share, or of a shareholder's entire
// position when Shareholder is set.
func (c *FundCalculator) ShareValue(ctx context.Context, query ShareValueQuery) (*Valuation, error) {
	if query.Vault == (common.Address{}) {
		return nil, fmt.Errorf("未指定基金地址")
	}
	if query.Shareholder != nil && !query.Net {
		return nil, fmt.Errorf("按持有人估值仅支持净值口径")
	}
	opts := &bind.CallOpts{Context: ctx, BlockNumber: query.BlockNumber}

	var method string
	args := []interface{}{query.Vault}
	switch {
	case query.Shareholder != nil:
		method = "calcNetValueForSharesHolder"
		args = append(args, *query.Shareholder)
	case query.Net:
		method = "calcNetShareValue"
	default:
		method = "calcGrossShareValue"
	}

	var out []interface{}
	if query.QuoteAsset != nil {
		withQuote := method + "InAsset"
		quoted := append([]interface{}{}, args...)
		quoted = append(quoted, *query.QuoteAsset)
		if err := c.contract.Call(opts, &out, withQuote, quoted...); err != nil {
			return nil, fmt.Errorf("查询份额估值失败: %w", err)
		}
		return &Valuation{
			Denomination: *query.QuoteAsset,
			Value:        *abi.ConvertType(out[0], new(*big.Int)).(**big.Int),
		}, nil
	}

	if err := c.contract.Call(opts, &out, method, args...); err != nil {
		return nil, fmt.Errorf("查询份额估值失败: %w", err)
	}
	return &Valuation{
		Denomination: *abi.ConvertType(out[0], new(common.Address)).(*common.Address),
		Value:        *abi.ConvertType(out[1], new(*big.Int)).(**big.Int),
	}, nil
}
