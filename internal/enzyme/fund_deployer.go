package enzyme

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/jainkunal/giza-agents/internal/web3"
)

// vaultQueryChunk bounds a single eth_getLogs range. Public RPC providers
// reject unbounded ranges, so vault discovery walks the chain in chunks.
const vaultQueryChunk = 10_000

// FundDeployer wraps the protocol contract that creates new vaults.
type FundDeployer struct {
	address  common.Address
	abi      abi.ABI
	contract *bind.BoundContract
	client   web3.Client
}

// NewFundDeployer binds the deployer at a known address.
func NewFundDeployer(client web3.Client, address common.Address) (*FundDeployer, error) {
	parsed, err := abi.JSON(strings.NewReader(fundDeployerABI))
	if err != nil {
		return nil, fmt.Errorf("解析 FundDeployer ABI 失败: %w", err)
	}
	backend := client.Backend()
	return &FundDeployer{
		address:  address,
		abi:      parsed,
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
		client:   client,
	}, nil
}

// NewFundDeployerForChain resolves the deployer address from the client's
// chain ID.
func NewFundDeployerForChain(ctx context.Context, client web3.Client) (*FundDeployer, error) {
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	deployment, err := DeploymentFor(chainID.Uint64())
	if err != nil {
		return nil, err
	}
	return NewFundDeployer(client, deployment.FundDeployer)
}

// Address returns the bound contract address.
func (d *FundDeployer) Address() common.Address {
	return d.address
}

// CreateFundParams collects the createNewFund arguments.
type CreateFundParams struct {
	Owner                   common.Address
	Name                    string
	Symbol                  string
	DenominationAsset       common.Address
	SharesActionTimelock    *big.Int
	FeeManagerConfigData    []byte
	PolicyManagerConfigData []byte
}

// CreateFund submits a createNewFund transaction. The fund owner defaults
// to the transaction sender when unset.
func (d *FundDeployer) CreateFund(opts *bind.TransactOpts, params CreateFundParams) (*coretypes.Transaction, error) {
	if opts == nil {
		return nil, fmt.Errorf("未提供交易签名器")
	}
	owner := params.Owner
	if owner == (common.Address{}) {
		owner = opts.From
	}
	timelock := params.SharesActionTimelock
	if timelock == nil {
		timelock = new(big.Int)
	}
	tx, err := d.contract.Transact(opts, "createNewFund",
		owner,
		params.Name,
		params.Symbol,
		params.DenominationAsset,
		timelock,
		params.FeeManagerConfigData,
		params.PolicyManagerConfigData,
	)
	if err != nil {
		return nil, fmt.Errorf("创建基金失败: %w", err)
	}
	return tx, nil
}

// FundCreated describes one NewFundCreated event occurrence.
type FundCreated struct {
	Creator          common.Address
	VaultProxy       common.Address
	ComptrollerProxy common.Address
	BlockNumber      uint64
	TxHash           common.Hash
}

// Vaults returns the vaults created within the given block range. A zero
// end block means the current chain head.
func (d *FundDeployer) Vaults(ctx context.Context, startBlock, endBlock uint64) ([]FundCreated, error) {
	if endBlock == 0 {
		head, err := d.client.BlockNumber(ctx)
		if err != nil {
			return nil, err
		}
		endBlock = head
	}
	if startBlock > endBlock {
		return nil, fmt.Errorf("起始区块 %d 晚于结束区块 %d", startBlock, endBlock)
	}

	event, ok := d.abi.Events["NewFundCreated"]
	if !ok {
		return nil, fmt.Errorf("ABI 中缺少 NewFundCreated 事件")
	}

	var created []FundCreated
	for from := startBlock; from <= endBlock; {
		to := from + vaultQueryChunk - 1
		if to > endBlock {
			to = endBlock
		}
		logs, err := d.client.FilterLogs(ctx, gethcore.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{d.address},
			Topics:    [][]common.Hash{{event.ID}},
		})
		if err != nil {
			return nil, err
		}
		for _, entry := range logs {
			var decoded struct {
				Creator          common.Address
				VaultProxy       common.Address
				ComptrollerProxy common.Address
			}
			if err := d.contract.UnpackLog(&decoded, "NewFundCreated", entry); err != nil {
				return nil, fmt.Errorf("解析 NewFundCreated 事件失败: %w", err)
			}
			created = append(created, FundCreated{
				Creator:          decoded.Creator,
				VaultProxy:       decoded.VaultProxy,
				ComptrollerProxy: decoded.ComptrollerProxy,
				BlockNumber:      entry.BlockNumber,
				TxHash:           entry.TxHash,
			})
		}
		if to == endBlock {
			break
		}
		from = to + 1
	}
	return created, nil
}
