package enzyme

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Deployment holds the protocol contract addresses for one network.
type Deployment struct {
	FundDeployer              common.Address
	FundValueCalculatorRouter common.Address
}

// deployments lists the known protocol releases keyed by chain ID.
var deployments = map[uint64]Deployment{
	// Ethereum mainnet, v4 release.
	1: {
		FundDeployer:              common.HexToAddress("0x4f1C53F096533C04d8157EFB6Bca3eb22ddC6360"),
		FundValueCalculatorRouter: common.HexToAddress("0x7c728cd0CfA92401E01A4849a01b57EE53F5b2b9"),
	},
	// Polygon PoS.
	137: {
		FundDeployer:              common.HexToAddress("0x188d356cAF78bc6694aEE5969FDE99a9D612284F"),
		FundValueCalculatorRouter: common.HexToAddress("0xcdf038Dd3b66506d2e5378aee185b2f0084B7A33"),
	},
}

// RegisterDeployment adds or replaces the protocol addresses for a chain.
// Testnet releases rotate between protocol versions, so their addresses are
// supplied by the operator instead of being compiled in.
func RegisterDeployment(chainID uint64, deployment Deployment) error {
	if deployment.FundDeployer == (common.Address{}) || deployment.FundValueCalculatorRouter == (common.Address{}) {
		return fmt.Errorf("链 %d 的协议部署地址不完整", chainID)
	}
	deployments[chainID] = deployment
	return nil
}

// DeploymentFor returns the protocol addresses for a chain ID.
func DeploymentFor(chainID uint64) (Deployment, error) {
	deployment, ok := deployments[chainID]
	if !ok {
		return Deployment{}, fmt.Errorf("链 %d 上没有已知的协议部署", chainID)
	}
	return deployment, nil
}
