package agent

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/jainkunal/giza-agents/internal/enzyme"
	xerrors "github.com/jainkunal/giza-agents/internal/errors"
	"github.com/jainkunal/giza-agents/internal/fixedpoint"
	"github.com/jainkunal/giza-agents/internal/model"
	"github.com/jainkunal/giza-agents/internal/platform"
	"github.com/jainkunal/giza-agents/internal/storage/mysql"
	"github.com/jainkunal/giza-agents/internal/web3"
	"github.com/jainkunal/giza-agents/internal/web3/ethereum"
)

// 金库操作类型。
const (
	VaultActionNone    = "none"
	VaultActionDeposit = "deposit"
	VaultActionRedeem  = "redeem"
)

// 验证与轮询的默认参数。
const (
	defaultVerifyTimeout = 10 * time.Minute
	defaultPollInterval  = 10 * time.Second
	defaultJobSize       = platform.JobSizeM
)

// TaskRequest 描述一次完整的智能体任务：先做可验证推理，验证通过后
// 视情况执行金库操作。
type TaskRequest struct {
	ID           string         `json:"id,omitempty"`
	Shape        []int          `json:"shape"`
	Input        []float64      `json:"input"`
	VaultAction  string         `json:"vault_action,omitempty"`
	VaultAddress string         `json:"vault_address,omitempty"`
	Amount       float64        `json:"amount,omitempty"`
	Slippage     float64        `json:"slippage,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// TaskResult 汇总推理、验证与链上交互得到的结果。
type TaskResult struct {
	RequestID    string    `json:"request_id"`
	ProofID      string    `json:"proof_id,omitempty"`
	Verified     bool      `json:"verified"`
	OutputShape  []int     `json:"output_shape"`
	Output       []float64 `json:"output"`
	VaultAction  string    `json:"vault_action,omitempty"`
	VaultAddress string    `json:"vault_address,omitempty"`
	TxHash       string    `json:"tx_hash,omitempty"`
	ChainID      string    `json:"chain_id,omitempty"`
	BlockNumber  string    `json:"block_number,omitempty"`
	Observations string    `json:"observations,omitempty"`
	CreatedAt    int64     `json:"created_at"`
}

// inferencer 抽象可验证推理的入口，便于在测试中替换真实模型。
type inferencer interface {
	Predict(ctx context.Context, req model.PredictRequest) (*model.PredictResult, error)
	Framework() platform.Framework
	ModelID() uint64
	VersionID() uint64
	EndpointID() uint64
}

// modelInfo 描述 Result 需要的模型定位信息。
type modelInfo struct {
	endpointID uint64
	modelID    uint64
	versionID  uint64
	framework  platform.Framework
}

// Agent 协调可验证推理与链上交互，是系统的业务核心。
type Agent struct {
	model   inferencer
	api     ProofService
	chain   web3.Client
	signer  *ethereum.Signer
	history mysql.RunRepository

	fpImpl        fixedpoint.Impl
	jobSize       platform.JobSize
	verifyTimeout time.Duration
	pollInterval  time.Duration
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithFPImpl 设置张量序列化使用的定点数格式。
func WithFPImpl(impl fixedpoint.Impl) Option {
	return func(a *Agent) {
		a.fpImpl = impl
	}
}

// WithJobSize 设置证明任务的计算规格。
func WithJobSize(size platform.JobSize) Option {
	return func(a *Agent) {
		a.jobSize = size
	}
}

// WithVerifyTimeout 设置等待证明验证通过的最长时间。
func WithVerifyTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout > 0 {
			a.verifyTimeout = timeout
		}
	}
}

// WithPollInterval 设置轮询远端任务状态的间隔。
func WithPollInterval(interval time.Duration) Option {
	return func(a *Agent) {
		if interval > 0 {
			a.pollInterval = interval
		}
	}
}

// New 创建一个 Agent。
func New(m inferencer, api ProofService, chain web3.Client, signer *ethereum.Signer, history mysql.RunRepository, opts ...Option) *Agent {
	ag := &Agent{
		model:         m,
		api:           api,
		chain:         chain,
		signer:        signer,
		history:       history,
		fpImpl:        fixedpoint.FP16x16,
		jobSize:       defaultJobSize,
		verifyTimeout: defaultVerifyTimeout,
		pollInterval:  defaultPollInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	return ag
}

// Predict 执行一次可验证推理并返回跟踪其证明进度的 Result。
func (a *Agent) Predict(ctx context.Context, input fixedpoint.Tensor) (*Result, error) {
	if a.model == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置推理模型")
	}
	if a.api == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置平台客户端")
	}

	prediction, err := a.model.Predict(ctx, model.PredictRequest{
		Input:      input,
		Verifiable: true,
		FPImpl:     a.fpImpl,
		JobSize:    a.jobSize,
	})
	if err != nil {
		return nil, err
	}

	info := modelInfo{
		endpointID: a.model.EndpointID(),
		modelID:    a.model.ModelID(),
		versionID:  a.model.VersionID(),
		framework:  a.model.Framework(),
	}
	return newResult(ctx, a.api, info, prediction.RequestID, prediction.Output, a.verifyTimeout, a.pollInterval)
}

// Execute 运行完整的任务流程：推理、等待验证、执行金库操作并落库。
// 金库操作只会在证明验证通过之后提交。
func (a *Agent) Execute(ctx context.Context, req TaskRequest) (*TaskResult, error) {
	input, err := fixedpoint.NewTensor(req.Shape, req.Input)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "推理输入非法")
	}
	action := strings.ToLower(strings.TrimSpace(req.VaultAction))
	if action != "" && action != VaultActionNone {
		if action != VaultActionDeposit && action != VaultActionRedeem {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "不支持的金库操作: "+req.VaultAction)
		}
		if !common.IsHexAddress(req.VaultAddress) {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "金库地址非法: "+req.VaultAddress)
		}
		if req.Amount <= 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "金库操作数量必须为正数")
		}
	}

	// 执行可验证推理并等待证明验证通过。
	result, err := a.Predict(ctx, input)
	if err != nil {
		return nil, err
	}
	output, err := result.Value(ctx)
	if err != nil {
		return nil, err
	}

	// 获取链上最新信息。
	var observations string
	chainInfo := web3.ChainSnapshot{}
	if a.chain == nil {
		observations = appendObservation(observations, "未配置链上客户端")
	} else {
		snapshot, err := a.chain.FetchChainSnapshot(ctx)
		if err != nil {
			observations = appendObservation(observations, fmt.Sprintf("获取链上信息失败: %v", err))
		} else {
			chainInfo = snapshot
		}
	}

	// 证明验证通过后执行金库操作（如有）。
	var txHash string
	if action != "" && action != VaultActionNone {
		hash, actionErr := a.runVaultAction(ctx, action, req)
		if actionErr != nil {
			observations = appendObservation(observations, fmt.Sprintf("执行金库操作失败: %v", actionErr))
		} else {
			txHash = hash
			observations = appendObservation(observations, fmt.Sprintf("%s 交易已上链: %s", action, hash))
		}
	}

	now := time.Now().Unix()
	taskResult := &TaskResult{
		RequestID:    result.RequestID(),
		ProofID:      result.ProofID(),
		Verified:     result.Verified(),
		OutputShape:  output.Shape,
		Output:       output.Data,
		VaultAction:  action,
		VaultAddress: req.VaultAddress,
		TxHash:       txHash,
		ChainID:      chainInfo.ChainID,
		BlockNumber:  chainInfo.BlockNumber,
		Observations: observations,
		CreatedAt:    now,
	}

	// 保存运行记录（如已配置存储）。
	if a.history != nil {
		serialized, serr := fixedpoint.Serialize(output, a.fpImpl)
		if serr != nil {
			serialized = fmt.Sprintf("%v", output.Data)
		}
		record := &mysql.RunRecord{
			TaskID:       req.ID,
			ModelID:      a.model.ModelID(),
			VersionID:    a.model.VersionID(),
			RequestID:    taskResult.RequestID,
			ProofID:      taskResult.ProofID,
			Framework:    string(a.model.Framework()),
			Verified:     taskResult.Verified,
			Output:       serialized,
			VaultAction:  action,
			VaultAddress: req.VaultAddress,
			Amount:       fmt.Sprintf("%v", req.Amount),
			TxHash:       txHash,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := a.history.Create(ctx, record); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存运行记录失败")
		}
	}

	return taskResult, nil
}

// runVaultAction 对目标金库执行申购或赎回，返回交易哈希。
func (a *Agent) runVaultAction(ctx context.Context, action string, req TaskRequest) (string, error) {
	if a.chain == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "未配置链上客户端")
	}
	if a.signer == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "未配置交易签名器")
	}

	vault, err := enzyme.NewVault(ctx, a.chain, common.HexToAddress(req.VaultAddress))
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeChainFailure, err, "绑定金库失败")
	}
	chainID, err := a.chain.ChainID(ctx)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeChainFailure, err, "获取链 ID 失败")
	}
	opts, err := a.signer.TransactOpts(ctx, chainID)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeChainFailure, err, "构建交易选项失败")
	}

	switch action {
	case VaultActionDeposit:
		amount, err := vault.ToDenominationUnits(req.Amount)
		if err != nil {
			return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "存入金额非法")
		}
		tx, err := vault.Deposit(ctx, opts, enzyme.DepositParams{Amount: amount, Slippage: req.Slippage})
		if err != nil {
			return "", xerrors.Wrap(xerrors.CodeChainFailure, err, "申购金库份额失败")
		}
		if _, err := a.chain.WaitMined(ctx, tx); err != nil {
			return "", xerrors.Wrap(xerrors.CodeChainFailure, err, "等待申购交易上链失败")
		}
		return tx.Hash().Hex(), nil
	case VaultActionRedeem:
		shares, err := sharesUnits(req.Amount, vault.Decimals())
		if err != nil {
			return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "赎回份额非法")
		}
		tx, err := vault.Redeem(ctx, opts, enzyme.RedeemParams{
			Shares:      shares,
			Assets:      []common.Address{vault.DenominationAsset()},
			Percentages: basisPointsAll(),
		})
		if err != nil {
			return "", xerrors.Wrap(xerrors.CodeChainFailure, err, "赎回金库份额失败")
		}
		if _, err := a.chain.WaitMined(ctx, tx); err != nil {
			return "", xerrors.Wrap(xerrors.CodeChainFailure, err, "等待赎回交易上链失败")
		}
		return tx.Hash().Hex(), nil
	}
	return "", xerrors.New(xerrors.CodeInvalidArgument, "不支持的金库操作: "+action)
}

// ListHistory 获取最近的运行记录。
func (a *Agent) ListHistory(ctx context.Context, limit int) ([]mysql.RunRecord, error) {
	if a.history == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置运行历史仓库")
	}
	records, err := a.history.ListLatest(ctx, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询运行记录失败")
	}
	return records, nil
}

// appendObservation 将新的观察结果追加到现有的观察字符串中。
func appendObservation(existing, next string) string {
	next = strings.TrimSpace(next)
	if next == "" {
		return existing
	}
	if strings.TrimSpace(existing) == "" {
		return next
	}
	return existing + "\n" + next
}

// sharesUnits 将人类可读的份额数量换算为代币最小单位。
func sharesUnits(amount float64, decimals uint8) (*big.Int, error) {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, fmt.Errorf("份额数量非法: %v", amount)
	}
	scaled := new(big.Float).Mul(
		big.NewFloat(amount),
		new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)),
	)
	units, _ := scaled.Int(nil)
	return units, nil
}

// basisPointsAll 返回将全部赎回份额兑付为单一资产的比例参数。
func basisPointsAll() []*big.Int {
	return []*big.Int{big.NewInt(10_000)}
}
