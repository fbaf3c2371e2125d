package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
)

// Signer manages an unlocked keystore account used to sign agent
// transactions. The passphrase is never configured in files: it is read
// from the <ACCOUNT>_PASSPHRASE environment variable.
type Signer struct {
	alias    string
	keystore *keystore.KeyStore
	account  accounts.Account
}

// PassphraseEnv returns the environment variable name holding the
// passphrase for the given account alias.
func PassphraseEnv(alias string) string {
	return strings.ToUpper(strings.TrimSpace(alias)) + "_PASSPHRASE"
}

// NewSigner opens the keystore directory, locates the account and unlocks
// it. Construction fails fast when the passphrase variable is unset so a
// misconfigured agent never reaches the transaction path.
func NewSigner(keystoreDir, alias string) (*Signer, error) {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return nil, fmt.Errorf("未指定签名账户")
	}
	passphrase, ok := os.LookupEnv(PassphraseEnv(alias))
	if !ok {
		return nil, fmt.Errorf("环境变量 %s 中找不到账户 %s 的口令", PassphraseEnv(alias), alias)
	}

	ks := keystore.NewKeyStore(keystoreDir, keystore.StandardScryptN, keystore.StandardScryptP)
	account, err := findAccount(ks, alias)
	if err != nil {
		return nil, err
	}
	if err := ks.Unlock(account, passphrase); err != nil {
		return nil, fmt.Errorf("解锁账户 %s 失败: %w", alias, err)
	}
	return &Signer{alias: alias, keystore: ks, account: account}, nil
}

// findAccount resolves an alias against the keystore: a hex address matches
// directly, otherwise the keystore file base name is compared.
func findAccount(ks *keystore.KeyStore, alias string) (accounts.Account, error) {
	if common.IsHexAddress(alias) {
		target := common.HexToAddress(alias)
		for _, account := range ks.Accounts() {
			if account.Address == target {
				return account, nil
			}
		}
		return accounts.Account{}, fmt.Errorf("密钥库中找不到地址 %s", target.Hex())
	}
	for _, account := range ks.Accounts() {
		base := filepath.Base(account.URL.Path)
		if base == alias || strings.TrimSuffix(base, filepath.Ext(base)) == alias {
			return account, nil
		}
	}
	return accounts.Account{}, fmt.Errorf("密钥库中找不到账户 %s", alias)
}

// Alias returns the configured account alias.
func (s *Signer) Alias() string {
	return s.alias
}

// Address returns the unlocked account address.
func (s *Signer) Address() common.Address {
	return s.account.Address
}

// TransactOpts builds transact opts bound to the signer and chain ID.
func (s *Signer) TransactOpts(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyStoreTransactorWithChainID(s.keystore, s.account, chainID)
	if err != nil {
		return nil, fmt.Errorf("构建交易签名器失败: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}
