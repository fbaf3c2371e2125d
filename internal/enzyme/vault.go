package enzyme

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/jainkunal/giza-agents/internal/web3"
)

// maxBasisPoints is the denominator used for redemption percentages.
const maxBasisPoints = 10_000

// Vault binds a fund's shares proxy together with its comptroller. The
// comptroller address is resolved on construction via getAccessor, and the
// share/denomination metadata is loaded once so later calls can convert
// between human units and raw token units.
type Vault struct {
	client web3.Client

	proxyAddress       common.Address
	comptrollerAddress common.Address

	proxy        *bind.BoundContract
	comptroller  *bind.BoundContract
	denomination *bind.BoundContract

	name                 string
	symbol               string
	decimals             uint8
	denominationAsset    common.Address
	denominationSymbol   string
	denominationDecimals uint8
}

// NewVault binds the vault at the given shares proxy address and loads its
// static metadata.
func NewVault(ctx context.Context, client web3.Client, proxyAddress common.Address) (*Vault, error) {
	proxyParsed, err := abi.JSON(strings.NewReader(vaultProxyABI))
	if err != nil {
		return nil, fmt.Errorf("解析 VaultProxy ABI 失败: %w", err)
	}
	comptrollerParsed, err := abi.JSON(strings.NewReader(comptrollerABI))
	if err != nil {
		return nil, fmt.Errorf("解析 Comptroller ABI 失败: %w", err)
	}
	erc20Parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("解析 ERC20 ABI 失败: %w", err)
	}

	backend := client.Backend()
	v := &Vault{
		client:       client,
		proxyAddress: proxyAddress,
		proxy:        bind.NewBoundContract(proxyAddress, proxyParsed, backend, backend, backend),
	}

	opts := &bind.CallOpts{Context: ctx}

	var out []interface{}
	if err := v.proxy.Call(opts, &out, "getAccessor"); err != nil {
		return nil, fmt.Errorf("读取基金访问器失败: %w", err)
	}
	v.comptrollerAddress = *abi.ConvertType(out[0], new(common.Address)).(*common.Address)
	v.comptroller = bind.NewBoundContract(v.comptrollerAddress, comptrollerParsed, backend, backend, backend)

	out = nil
	if err := v.proxy.Call(opts, &out, "name"); err != nil {
		return nil, fmt.Errorf("读取基金名称失败: %w", err)
	}
	v.name = *abi.ConvertType(out[0], new(string)).(*string)

	out = nil
	if err := v.proxy.Call(opts, &out, "symbol"); err != nil {
		return nil, fmt.Errorf("读取基金代号失败: %w", err)
	}
	v.symbol = *abi.ConvertType(out[0], new(string)).(*string)

	out = nil
	if err := v.proxy.Call(opts, &out, "decimals"); err != nil {
		return nil, fmt.Errorf("读取份额精度失败: %w", err)
	}
	v.decimals = *abi.ConvertType(out[0], new(uint8)).(*uint8)

	out = nil
	if err := v.comptroller.Call(opts, &out, "getDenominationAsset"); err != nil {
		return nil, fmt.Errorf("读取计价资产失败: %w", err)
	}
	v.denominationAsset = *abi.ConvertType(out[0], new(common.Address)).(*common.Address)
	v.denomination = bind.NewBoundContract(v.denominationAsset, erc20Parsed, backend, backend, backend)

	out = nil
	if err := v.denomination.Call(opts, &out, "symbol"); err != nil {
		return nil, fmt.Errorf("读取计价资产代号失败: %w", err)
	}
	v.denominationSymbol = *abi.ConvertType(out[0], new(string)).(*string)

	out = nil
	if err := v.denomination.Call(opts, &out, "decimals"); err != nil {
		return nil, fmt.Errorf("读取计价资产精度失败: %w", err)
	}
	v.denominationDecimals = *abi.ConvertType(out[0], new(uint8)).(*uint8)

	return v, nil
}

// Address returns the shares proxy address.
func (v *Vault) Address() common.Address { return v.proxyAddress }

// ComptrollerAddress returns the resolved comptroller proxy address.
func (v *Vault) ComptrollerAddress() common.Address { return v.comptrollerAddress }

// Name returns the fund name.
func (v *Vault) Name() string { return v.name }

// Symbol returns the shares token symbol.
func (v *Vault) Symbol() string { return v.symbol }

// Decimals returns the shares token precision.
func (v *Vault) Decimals() uint8 { return v.decimals }

// DenominationAsset returns the address of the fund's denomination asset.
func (v *Vault) DenominationAsset() common.Address { return v.denominationAsset }

// DenominationSymbol returns the denomination asset token symbol.
func (v *Vault) DenominationSymbol() string { return v.denominationSymbol }

// DenominationDecimals returns the denomination asset precision.
func (v *Vault) DenominationDecimals() uint8 { return v.denominationDecimals }

// Timelock returns the shares action timelock in seconds.
func (v *Vault) Timelock(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	if err := v.comptroller.Call(&bind.CallOpts{Context: ctx}, &out, "getSharesActionTimelock"); err != nil {
		return nil, fmt.Errorf("读取份额操作锁定期失败: %w", err)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// TotalShares returns the outstanding share supply in raw token units.
func (v *Vault) TotalShares(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	if err := v.proxy.Call(&bind.CallOpts{Context: ctx}, &out, "totalSupply"); err != nil {
		return nil, fmt.Errorf("读取份额总量失败: %w", err)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// SharesOf returns the raw share balance held by the given account.
func (v *Vault) SharesOf(ctx context.Context, account common.Address) (*big.Int, error) {
	var out []interface{}
	if err := v.proxy.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", account); err != nil {
		return nil, fmt.Errorf("读取份额余额失败: %w", err)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// ToDenominationUnits converts a human amount into the denomination asset's
// raw integer units.
func (v *Vault) ToDenominationUnits(amount float64) (*big.Int, error) {
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, fmt.Errorf("存入金额非法: %v", amount)
	}
	scaled := new(big.Float).Mul(
		big.NewFloat(amount),
		new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(v.denominationDecimals)), nil)),
	)
	units, _ := scaled.Int(nil)
	return units, nil
}

// DepositParams describes a buyShares submission. Amount is expressed in
// raw denomination asset units; Slippage trims the minimum acceptable share
// quantity (0.01 means accepting 1% fewer shares than simulated).
type DepositParams struct {
	Amount   *big.Int
	Slippage float64
}

// SimulateDeposit runs buyShares as an eth_call and returns the share
// quantity the deposit would mint.
func (v *Vault) SimulateDeposit(ctx context.Context, from common.Address, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("存入金额必须为正数")
	}
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx, From: from}
	if err := v.comptroller.Call(opts, &out, "buyShares", amount, big.NewInt(1)); err != nil {
		return nil, fmt.Errorf("模拟申购失败: %w", err)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// Deposit exchanges denomination asset for vault shares. The allowance
// granted to the comptroller is topped up first when insufficient, and the
// simulated share quantity minus slippage becomes the on-chain minimum.
func (v *Vault) Deposit(ctx context.Context, opts *bind.TransactOpts, params DepositParams) (*coretypes.Transaction, error) {
	if opts == nil {
		return nil, fmt.Errorf("未提供交易签名器")
	}
	if params.Amount == nil || params.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("存入金额必须为正数")
	}
	if params.Slippage < 0 || params.Slippage >= 1 {
		return nil, fmt.Errorf("滑点必须位于 [0, 1) 区间: %v", params.Slippage)
	}

	var out []interface{}
	callOpts := &bind.CallOpts{Context: ctx, From: opts.From}
	if err := v.denomination.Call(callOpts, &out, "allowance", opts.From, v.comptrollerAddress); err != nil {
		return nil, fmt.Errorf("读取授权额度失败: %w", err)
	}
	allowance := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)

	if allowance.Cmp(params.Amount) < 0 {
		approveTx, err := v.denomination.Transact(opts, "approve", v.comptrollerAddress, params.Amount)
		if err != nil {
			return nil, fmt.Errorf("授权计价资产失败: %w", err)
		}
		if _, err := v.client.WaitMined(ctx, approveTx); err != nil {
			return nil, fmt.Errorf("等待授权交易上链失败: %w", err)
		}
	}

	expected, err := v.SimulateDeposit(ctx, opts.From, params.Amount)
	if err != nil {
		return nil, err
	}
	minShares := applySlippage(expected, params.Slippage)

	tx, err := v.comptroller.Transact(opts, "buyShares", params.Amount, minShares)
	if err != nil {
		return nil, fmt.Errorf("申购份额失败: %w", err)
	}
	return tx, nil
}

// RedeemParams describes a redeemSharesForSpecificAssets submission. The
// percentages are expressed in basis points and must sum to exactly 10000.
type RedeemParams struct {
	Recipient   common.Address
	Shares      *big.Int
	Assets      []common.Address
	Percentages []*big.Int
}

func (p RedeemParams) validate() error {
	if p.Shares == nil || p.Shares.Sign() <= 0 {
		return fmt.Errorf("赎回份额必须为正数")
	}
	if len(p.Assets) == 0 {
		return fmt.Errorf("未指定赎回资产")
	}
	if len(p.Assets) != len(p.Percentages) {
		return fmt.Errorf("资产与比例数量不一致: %d != %d", len(p.Assets), len(p.Percentages))
	}
	total := new(big.Int)
	for _, pct := range p.Percentages {
		if pct == nil || pct.Sign() <= 0 {
			return fmt.Errorf("赎回比例必须为正数")
		}
		total.Add(total, pct)
	}
	if total.Cmp(big.NewInt(maxBasisPoints)) != 0 {
		return fmt.Errorf("赎回比例之和必须等于 %d 基点, 实际 %s", maxBasisPoints, total)
	}
	return nil
}

// SimulateRedeem runs the redemption as an eth_call and returns the payout
// amount per requested asset.
func (v *Vault) SimulateRedeem(ctx context.Context, from common.Address, params RedeemParams) ([]*big.Int, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	recipient := params.Recipient
	if recipient == (common.Address{}) {
		recipient = from
	}
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx, From: from}
	if err := v.comptroller.Call(opts, &out, "redeemSharesForSpecificAssets",
		recipient, params.Shares, params.Assets, params.Percentages); err != nil {
		return nil, fmt.Errorf("模拟赎回失败: %w", err)
	}
	return *abi.ConvertType(out[0], new([]*big.Int)).(*[]*big.Int), nil
}

// Redeem burns vault shares in exchange for the specified assets.
func (v *Vault) Redeem(ctx context.Context, opts *bind.TransactOpts, params RedeemParams) (*coretypes.Transaction, error) {
	if opts == nil {
		return nil, fmt.Errorf("未提供交易签名器")
	}
	if err := params.validate(); err != nil {
		return nil, err
	}
	recipient := params.Recipient
	if recipient == (common.Address{}) {
		recipient = opts.From
	}
	tx, err := v.comptroller.Transact(opts, "redeemSharesForSpecificAssets",
		recipient, params.Shares, params.Assets, params.Percentages)
	if err != nil {
		return nil, fmt.Errorf("赎回份额失败: %w", err)
	}
	return tx, nil
}

// applySlippage scales the expected quantity down by the given ratio.
func applySlippage(expected *big.Int, slippage float64) *big.Int {
	if slippage == 0 {
		return new(big.Int).Set(expected)
	}
	keep := big.NewInt(int64(math.Round((1 - slippage) * maxBasisPoints)))
	scaled := new(big.Int).Mul(expected, keep)
	return scaled.Div(scaled, big.NewInt(maxBasisPoints))
}
