package enzyme

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/jainkunal/giza-agents/internal/web3/ethereum"
)

var (
	testVaultAddr       = common.HexToAddress("0x1000000000000000000000000000000000000001")
	testComptrollerAddr = common.HexToAddress("0x1000000000000000000000000000000000000002")
	testDenomAddr       = common.HexToAddress("0x1000000000000000000000000000000000000003")
	testDeployerAddr    = common.HexToAddress("0x1000000000000000000000000000000000000004")
	testCalculatorAddr  = common.HexToAddress("0x1000000000000000000000000000000000000005")
	testUserAddr        = common.HexToAddress("0x2000000000000000000000000000000000000001")
)

// callFn answers a simulated contract call with its unpacked return values.
type callFn func(args []interface{}) ([]interface{}, error)

// stubBackend implements bind.ContractBackend against in-memory handlers so
// contract logic can be exercised without a node.
type stubBackend struct {
	t        *testing.T
	abis     map[common.Address]abi.ABI
	handlers map[common.Address]map[string]callFn
	logs     []coretypes.Log
	queries  []gethcore.FilterQuery
	sent     []*coretypes.Transaction
	head     uint64
	nonce    uint64
}

func newStubBackend(t *testing.T) *stubBackend {
	return &stubBackend{
		t:        t,
		abis:     make(map[common.Address]abi.ABI),
		handlers: make(map[common.Address]map[string]callFn),
		head:     100,
	}
}

func (b *stubBackend) register(addr common.Address, abiJSON string) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		b.t.Fatalf("解析测试 ABI 失败: %v", err)
	}
	b.abis[addr] = parsed
	if b.handlers[addr] == nil {
		b.handlers[addr] = make(map[string]callFn)
	}
}

func (b *stubBackend) handle(addr common.Address, method string, fn callFn) {
	b.handlers[addr][method] = fn
}

// returns installs a handler that always replies with the same values.
func (b *stubBackend) returns(addr common.Address, method string, values ...interface{}) {
	b.handle(addr, method, func([]interface{}) ([]interface{}, error) {
		return values, nil
	})
}

func (b *stubBackend) dispatch(to common.Address, data []byte) ([]byte, error) {
	parsed, ok := b.abis[to]
	if !ok {
		return nil, fmt.Errorf("未注册合约地址 %s", to)
	}
	if len(data) < 4 {
		return nil, errors.New("调用数据过短")
	}
	method, err := parsed.MethodById(data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, err
	}
	fn, ok := b.handlers[to][method.Name]
	if !ok {
		return nil, fmt.Errorf("方法 %s 未配置处理器", method.Name)
	}
	outs, err := fn(args)
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(outs...)
}

func (b *stubBackend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x01}, nil
}

func (b *stubBackend) CallContract(_ context.Context, call gethcore.CallMsg, _ *big.Int) ([]byte, error) {
	if call.To == nil {
		return nil, errors.New("缺少目标合约地址")
	}
	return b.dispatch(*call.To, call.Data)
}

func (b *stubBackend) PendingCodeAt(context.Context, common.Address) ([]byte, error) {
	return []byte{0x01}, nil
}

func (b *stubBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return b.nonce, nil
}

func (b *stubBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (b *stubBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (b *stubBackend) EstimateGas(context.Context, gethcore.CallMsg) (uint64, error) {
	return 500_000, nil
}

func (b *stubBackend) SendTransaction(_ context.Context, tx *coretypes.Transaction) error {
	b.sent = append(b.sent, tx)
	b.nonce++
	return nil
}

func (b *stubBackend) HeaderByNumber(_ context.Context, number *big.Int) (*coretypes.Header, error) {
	if number == nil {
		number = new(big.Int).SetUint64(b.head)
	}
	return &coretypes.Header{Number: number, BaseFee: big.NewInt(1)}, nil
}

func (b *stubBackend) BlockByNumber(_ context.Context, number *big.Int) (*coretypes.Block, error) {
	header, _ := b.HeaderByNumber(context.Background(), number)
	return coretypes.NewBlockWithHeader(header), nil
}

func (b *stubBackend) TransactionReceipt(_ context.Context, txHash common.Hash) (*coretypes.Receipt, error) {
	return &coretypes.Receipt{
		Status:      coretypes.ReceiptStatusSuccessful,
		TxHash:      txHash,
		BlockNumber: new(big.Int).SetUint64(b.head),
	}, nil
}

func (b *stubBackend) FilterLogs(_ context.Context, q gethcore.FilterQuery) ([]coretypes.Log, error) {
	b.queries = append(b.queries, q)
	var matched []coretypes.Log
	for _, entry := range b.logs {
		if q.FromBlock != nil && entry.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && entry.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		matched = append(matched, entry)
	}
	return matched, nil
}

func (b *stubBackend) SubscribeFilterLogs(context.Context, gethcore.FilterQuery, chan<- coretypes.Log) (gethcore.Subscription, error) {
	return nil, errors.New("测试后端不支持事件订阅")
}

func testTransactOpts(from common.Address) *bind.TransactOpts {
	return &bind.TransactOpts{
		From: from,
		Signer: func(_ common.Address, tx *coretypes.Transaction) (*coretypes.Transaction, error) {
			return tx, nil
		},
	}
}

// newVaultFixture wires a backend with a fully answered vault so individual
// tests only override the handlers they care about.
func newVaultFixture(t *testing.T) (*stubBackend, *Vault) {
	t.Helper()
	backend := newStubBackend(t)
	backend.register(testVaultAddr, vaultProxyABI)
	backend.register(testComptrollerAddr, comptrollerABI)
	backend.register(testDenomAddr, erc20ABI)

	backend.returns(testVaultAddr, "getAccessor", testComptrollerAddr)
	backend.returns(testVaultAddr, "name", "Giza Strategy Fund")
	backend.returns(testVaultAddr, "symbol", "GSF")
	backend.returns(testVaultAddr, "decimals", uint8(18))
	backend.returns(testVaultAddr, "totalSupply", big.NewInt(7_000_000))
	backend.returns(testComptrollerAddr, "getDenominationAsset", testDenomAddr)
	backend.returns(testComptrollerAddr, "getSharesActionTimelock", big.NewInt(3600))
	backend.returns(testDenomAddr, "symbol", "USDC")
	backend.returns(testDenomAddr, "decimals", uint8(6))
	backend.returns(testDenomAddr, "allowance", big.NewInt(0))
	backend.returns(testDenomAddr, "approve", true)

	client := ethereum.NewBackendClient("stub", big.NewInt(1), backend)
	vault, err := NewVault(context.Background(), client, testVaultAddr)
	if err != nil {
		t.Fatalf("构建 Vault 失败: %v", err)
	}
	return backend, vault
}

func TestNewVaultLoadsMetadata(t *testing.T) {
	_, vault := newVaultFixture(t)

	if vault.Address() != testVaultAddr {
		t.Fatalf("份额代理地址不匹配: %s", vault.Address())
	}
	if vault.ComptrollerAddress() != testComptrollerAddr {
		t.Fatalf("访问器地址解析错误: %s", vault.ComptrollerAddress())
	}
	if vault.Name() != "Giza Strategy Fund" || vault.Symbol() != "GSF" {
		t.Fatalf("基金元数据错误: %s / %s", vault.Name(), vault.Symbol())
	}
	if vault.Decimals() != 18 {
		t.Fatalf("份额精度错误: %d", vault.Decimals())
	}
	if vault.DenominationAsset() != testDenomAddr || vault.DenominationSymbol() != "USDC" {
		t.Fatalf("计价资产元数据错误: %s / %s", vault.DenominationAsset(), vault.DenominationSymbol())
	}
	if vault.DenominationDecimals() != 6 {
		t.Fatalf("计价资产精度错误: %d", vault.DenominationDecimals())
	}

	timelock, err := vault.Timelock(context.Background())
	if err != nil {
		t.Fatalf("读取锁定期失败: %v", err)
	}
	if timelock.Int64() != 3600 {
		t.Fatalf("锁定期错误: %s", timelock)
	}
}

func TestVaultToDenominationUnits(t *testing.T) {
	_, vault := newVaultFixture(t)

	units, err := vault.ToDenominationUnits(12.5)
	if err != nil {
		t.Fatalf("金额换算失败: %v", err)
	}
	if units.Int64() != 12_500_000 {
		t.Fatalf("金额换算结果错误: %s", units)
	}

	if _, err := vault.ToDenominationUnits(-1); err == nil {
		t.Fatal("负数金额应当返回错误")
	}
}

func TestVaultDepositApprovesWhenAllowanceTooLow(t *testing.T) {
	backend, vault := newVaultFixture(t)
	backend.returns(testComptrollerAddr, "buyShares", big.NewInt(100_000))

	amount := big.NewInt(5_000_000)
	tx, err := vault.Deposit(context.Background(), testTransactOpts(testUserAddr), DepositParams{
		Amount:   amount,
		Slippage: 0.01,
	})
	if err != nil {
		t.Fatalf("申购失败: %v", err)
	}
	if tx == nil {
		t.Fatal("未返回申购交易")
	}

	if len(backend.sent) != 2 {
		t.Fatalf("期望先授权再申购的两笔交易, 实际 %d 笔", len(backend.sent))
	}
	if to := backend.sent[0].To(); to == nil || *to != testDenomAddr {
		t.Fatalf("第一笔交易应发往计价资产合约: %v", to)
	}
	if to := backend.sent[1].To(); to == nil || *to != testComptrollerAddr {
		t.Fatalf("第二笔交易应发往 Comptroller: %v", to)
	}

	parsed, err := abi.JSON(strings.NewReader(comptrollerABI))
	if err != nil {
		t.Fatalf("解析 Comptroller ABI 失败: %v", err)
	}
	data := backend.sent[1].Data()
	args, err := parsed.Methods["buyShares"].Inputs.Unpack(data[4:])
	if err != nil {
		t.Fatalf("解析申购参数失败: %v", err)
	}
	if got := args[0].(*big.Int); got.Cmp(amount) != 0 {
		t.Fatalf("申购金额错误: %s", got)
	}
	// 期望份额 100000, 滑点 1% 后的最小可接受份额为 99000
	if got := args[1].(*big.Int); got.Int64() != 99_000 {
		t.Fatalf("最小份额计算错误: %s", got)
	}
}

func TestVaultDepositSkipsApproveWithSufficientAllowance(t *testing.T) {
	backend, vault := newVaultFixture(t)
	backend.returns(testDenomAddr, "allowance", big.NewInt(10_000_000))
	backend.returns(testComptrollerAddr, "buyShares", big.NewInt(42))

	_, err := vault.Deposit(context.Background(), testTransactOpts(testUserAddr), DepositParams{
		Amount: big.NewInt(5_000_000),
	})
	if err != nil {
		t.Fatalf("申购失败: %v", err)
	}
	if len(backend.sent) != 1 {
		t.Fatalf("授权充足时应只有一笔申购交易, 实际 %d 笔", len(backend.sent))
	}
}

func TestVaultRedeemValidation(t *testing.T) {
	_, vault := newVaultFixture(t)
	ctx := context.Background()
	opts := testTransactOpts(testUserAddr)

	cases := []struct {
		name   string
		params RedeemParams
	}{
		{"零份额", RedeemParams{Shares: big.NewInt(0), Assets: []common.Address{testDenomAddr}, Percentages: []*big.Int{big.NewInt(10_000)}}},
		{"缺少资产", RedeemParams{Shares: big.NewInt(1)}},
		{"数量不一致", RedeemParams{Shares: big.NewInt(1), Assets: []common.Address{testDenomAddr}, Percentages: nil}},
		{"比例不足", RedeemParams{Shares: big.NewInt(1), Assets: []common.Address{testDenomAddr}, Percentages: []*big.Int{big.NewInt(9_999)}}},
	}
	for _, tc := range cases {
		if _, err := vault.Redeem(ctx, opts, tc.params); err == nil {
			t.Fatalf("%s: 非法参数应当返回错误", tc.name)
		}
	}
}

func TestVaultSimulateRedeem(t *testing.T) {
	backend, vault := newVaultFixture(t)
	backend.handle(testComptrollerAddr, "redeemSharesForSpecificAssets", func(args []interface{}) ([]interface{}, error) {
		if recipient := args[0].(common.Address); recipient != testUserAddr {
			return nil, fmt.Errorf("收款人默认值错误: %s", recipient)
		}
		return []interface{}{[]*big.Int{big.NewInt(1_234)}}, nil
	})

	payouts, err := vault.SimulateRedeem(context.Background(), testUserAddr, RedeemParams{
		Shares:      big.NewInt(500),
		Assets:      []common.Address{testDenomAddr},
		Percentages: []*big.Int{big.NewInt(10_000)},
	})
	if err != nil {
		t.Fatalf("模拟赎回失败: %v", err)
	}
	if len(payouts) != 1 || payouts[0].Int64() != 1_234 {
		t.Fatalf("赎回结果错误: %v", payouts)
	}
}

func TestFundCalculatorAssetsValue(t *testing.T) {
	backend := newStubBackend(t)
	backend.register(testCalculatorAddr, calculatorRouterABI)
	backend.returns(testCalculatorAddr, "calcGav", testDenomAddr, big.NewInt(9_000_000))
	backend.returns(testCalculatorAddr, "calcNav", testDenomAddr, big.NewInt(8_500_000))
	backend.returns(testCalculatorAddr, "calcNavInAsset", big.NewInt(4_200))

	client := ethereum.NewBackendClient("stub", big.NewInt(1), backend)
	calc, err := NewFundCalculator(client, testCalculatorAddr)
	if err != nil {
		t.Fatalf("构建 FundCalculator 失败: %v", err)
	}
	ctx := context.Background()

	gav, err := calc.AssetsValue(ctx, AssetsValueQuery{Vault: testVaultAddr})
	if err != nil {
		t.Fatalf("查询总资产估值失败: %v", err)
	}
	if gav.Denomination != testDenomAddr || gav.Value.Int64() != 9_000_000 {
		t.Fatalf("总资产估值错误: %+v", gav)
	}

	nav, err := calc.AssetsValue(ctx, AssetsValueQuery{Vault: testVaultAddr, Net: true})
	if err != nil {
		t.Fatalf("查询净资产估值失败: %v", err)
	}
	if nav.Value.Int64() != 8_500_000 {
		t.Fatalf("净资产估值错误: %+v", nav)
	}

	quote := testDenomAddr
	quoted, err := calc.AssetsValue(ctx, AssetsValueQuery{Vault: testVaultAddr, Net: true, QuoteAsset: &quote})
	if err != nil {
		t.Fatalf("按报价资产查询失败: %v", err)
	}
	if quoted.Denomination != quote || quoted.Value.Int64() != 4_200 {
		t.Fatalf("报价资产估值错误: %+v", quoted)
	}

	if _, err := calc.AssetsValue(ctx, AssetsValueQuery{}); err == nil {
		t.Fatal("缺少基金地址应当返回错误")
	}
}

func TestFundCalculatorShareValue(t *testing.T) {
	backend := newStubBackend(t)
	backend.register(testCalculatorAddr, calculatorRouterABI)
	backend.returns(testCalculatorAddr, "calcGrossShareValue", testDenomAddr, big.NewInt(1_050_000))
	backend.returns(testCalculatorAddr, "calcNetValueForSharesHolder", testDenomAddr, big.NewInt(77_000))

	client := ethereum.NewBackendClient("stub", big.NewInt(1), backend)
	calc, err := NewFundCalculator(client, testCalculatorAddr)
	if err != nil {
		t.Fatalf("构建 FundCalculator 失败: %v", err)
	}
	ctx := context.Background()

	gross, err := calc.ShareValue(ctx, ShareValueQuery{Vault: testVaultAddr})
	if err != nil {
		t.Fatalf("查询单位份额估值失败: %v", err)
	}
	if gross.Value.Int64() != 1_050_000 {
		t.Fatalf("单位份额估值错误: %+v", gross)
	}

	holder := testUserAddr
	position, err := calc.ShareValue(ctx, ShareValueQuery{Vault: testVaultAddr, Net: true, Shareholder: &holder})
	if err != nil {
		t.Fatalf("查询持有人估值失败: %v", err)
	}
	if position.Value.Int64() != 77_000 {
		t.Fatalf("持有人估值错误: %+v", position)
	}

	if _, err := calc.ShareValue(ctx, ShareValueQuery{Vault: testVaultAddr, Shareholder: &holder}); err == nil {
		t.Fatal("按持有人查询毛值应当返回错误")
	}
}

func TestFundDeployerCreateFundDefaultsOwner(t *testing.T) {
	backend := newStubBackend(t)
	backend.register(testDeployerAddr, fundDeployerABI)

	client := ethereum.NewBackendClient("stub", big.NewInt(1), backend)
	deployer, err := NewFundDeployer(client, testDeployerAddr)
	if err != nil {
		t.Fatalf("构建 FundDeployer 失败: %v", err)
	}

	_, err = deployer.CreateFund(testTransactOpts(testUserAddr), CreateFundParams{
		Name:              "Giza Strategy Fund",
		Symbol:            "GSF",
		DenominationAsset: testDenomAddr,
	})
	if err != nil {
		t.Fatalf("创建基金失败: %v", err)
	}
	if len(backend.sent) != 1 {
		t.Fatalf("期望一笔交易, 实际 %d 笔", len(backend.sent))
	}

	parsed, err := abi.JSON(strings.NewReader(fundDeployerABI))
	if err != nil {
		t.Fatalf("解析 FundDeployer ABI 失败: %v", err)
	}
	data := backend.sent[0].Data()
	args, err := parsed.Methods["createNewFund"].Inputs.Unpack(data[4:])
	if err != nil {
		t.Fatalf("解析创建参数失败: %v", err)
	}
	if owner := args[0].(common.Address); owner != testUserAddr {
		t.Fatalf("基金所有者应默认为交易发送方: %s", owner)
	}
	if timelock := args[4].(*big.Int); timelock.Sign() != 0 {
		t.Fatalf("锁定期默认值应为零: %s", timelock)
	}
}

func TestFundDeployerVaultsChunksQueries(t *testing.T) {
	backend := newStubBackend(t)
	backend.register(testDeployerAddr, fundDeployerABI)

	parsed, err := abi.JSON(strings.NewReader(fundDeployerABI))
	if err != nil {
		t.Fatalf("解析 FundDeployer ABI 失败: %v", err)
	}
	event := parsed.Events["NewFundCreated"]
	payload, err := event.Inputs.NonIndexed().Pack(testVaultAddr, testComptrollerAddr)
	if err != nil {
		t.Fatalf("构造事件数据失败: %v", err)
	}
	backend.logs = []coretypes.Log{{
		Address:     testDeployerAddr,
		Topics:      []common.Hash{event.ID, common.BytesToHash(testUserAddr.Bytes())},
		Data:        payload,
		BlockNumber: 12_345,
		TxHash:      common.HexToHash("0xabc"),
	}}

	client := ethereum.NewBackendClient("stub", big.NewInt(1), backend)
	deployer, err := NewFundDeployer(client, testDeployerAddr)
	if err != nil {
		t.Fatalf("构建 FundDeployer 失败: %v", err)
	}

	created, err := deployer.Vaults(context.Background(), 0, 15_000)
	if err != nil {
		t.Fatalf("查询基金列表失败: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("期望一条创建记录, 实际 %d 条", len(created))
	}
	record := created[0]
	if record.Creator != testUserAddr || record.VaultProxy != testVaultAddr || record.ComptrollerProxy != testComptrollerAddr {
		t.Fatalf("事件解析结果错误: %+v", record)
	}
	if record.BlockNumber != 12_345 {
		t.Fatalf("事件区块高度错误: %d", record.BlockNumber)
	}

	if len(backend.queries) != 2 {
		t.Fatalf("期望两次分段查询, 实际 %d 次", len(backend.queries))
	}
	if backend.queries[0].ToBlock.Uint64() != 9_999 || backend.queries[1].FromBlock.Uint64() != 10_000 {
		t.Fatalf("分段边界错误: %v / %v", backend.queries[0].ToBlock, backend.queries[1].FromBlock)
	}
}

func TestDeploymentFor(t *testing.T) {
	if _, err := DeploymentFor(1); err != nil {
		t.Fatalf("主网部署信息缺失: %v", err)
	}
	if _, err := DeploymentFor(999_999); err == nil {
		t.Fatal("未知链应当返回错误")
	}
}

func TestDeploymentRegistry(t *testing.T) {
	if _, err := DeploymentFor(1); err != nil {
		t.Fatalf("mainnet deployment missing: %v", err)
	}
	if _, err := DeploymentFor(137); err != nil {
		t.Fatalf("polygon deployment missing: %v", err)
	}
	if _, err := DeploymentFor(11155111); err == nil {
		t.Fatalf("expected error for unregistered chain")
	}

	// 测试网的合约地址由运维方注册，不完整的部署应被拒绝。
	err := RegisterDeployment(11155111, Deployment{
		FundDeployer: common.HexToAddress("0x0000000000000000000000000000000000000001"),
	})
	if err == nil {
		t.Fatalf("expected error for incomplete deployment")
	}

	want := Deployment{
		FundDeployer:              common.HexToAddress("0x0000000000000000000000000000000000000001"),
		FundValueCalculatorRouter: common.HexToAddress("0x0000000000000000000000000000000000000002"),
	}
	if err := RegisterDeployment(11155111, want); err != nil {
		t.Fatalf("register: %v", err)
	}
	got, err := DeploymentFor(11155111)
	if err != nil {
		t.Fatalf("deployment for testnet: %v", err)
	}
	if got != want {
		t.Fatalf("unexpected deployment: %+v", got)
	}
	delete(deployments, 11155111)
}
