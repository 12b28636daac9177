package signer

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	clierr "github.com/ggonzalez94/yieldmove/internal/errors"
)

const (
	EnvPrivateKey           = "YIELDMOVE_PRIVATE_KEY"
	EnvPrivateKeyFile       = "YIELDMOVE_PRIVATE_KEY_FILE"
	EnvKeystorePath         = "YIELDMOVE_KEYSTORE_PATH"
	EnvKeystorePassword     = "YIELDMOVE_KEYSTORE_PASSWORD"
	EnvKeystorePasswordFile = "YIELDMOVE_KEYSTORE_PASSWORD_FILE"

	// EnvLegacyPrivateKey is the variable older rebalancer .env files carry.
	EnvLegacyPrivateKey = "PRIVATE_KEY"

	KeySourceAuto     = "auto"
	KeySourceEnv      = "env"
	KeySourceFile     = "file"
	KeySourceKeystore = "keystore"

	keyFileName = "key.hex"
)

// KeyConfig lists every place a key may come from. The first non-empty
// entry wins, in field order.
type KeyConfig struct {
	PrivateKeyHex        string
	PrivateKeyFile       string
	KeystorePath         string
	KeystorePassword     string
	KeystorePasswordFile string
}

// LocalSigner signs with an in-memory secp256k1 key.
type LocalSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func (s *LocalSigner) Address() common.Address {
	return s.address
}

func (s *LocalSigner) SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	if s == nil || s.key == nil {
		return nil, clierr.New(clierr.CodeSigner, "signer has no key loaded")
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}

// NewLocalSignerFromEnv loads the key selected by source from YIELDMOVE_*
// variables or the default key file.
func NewLocalSignerFromEnv(source string) (*LocalSigner, error) {
	cfg, err := keyConfigFromEnv().only(source)
	if err != nil {
		return nil, err
	}
	return NewLocalSigner(cfg)
}

func keyConfigFromEnv() KeyConfig {
	env := func(name string) string { return strings.TrimSpace(os.Getenv(name)) }
	cfg := KeyConfig{
		PrivateKeyHex:        env(EnvPrivateKey),
		PrivateKeyFile:       env(EnvPrivateKeyFile),
		KeystorePath:         env(EnvKeystorePath),
		KeystorePassword:     env(EnvKeystorePassword),
		KeystorePasswordFile: env(EnvKeystorePasswordFile),
	}
	if cfg.PrivateKeyHex == "" {
		cfg.PrivateKeyHex = env(EnvLegacyPrivateKey)
	}
	if cfg.PrivateKeyFile == "" {
		cfg.PrivateKeyFile = existingDefaultKeyFile()
	}
	return cfg
}

// only clears every entry the key source excludes.
func (c KeyConfig) only(source string) (KeyConfig, error) {
	switch strings.ToLower(strings.TrimSpace(source)) {
	case "", KeySourceAuto:
		return c, nil
	case KeySourceEnv:
		return KeyConfig{PrivateKeyHex: c.PrivateKeyHex}, nil
	case KeySourceFile:
		return KeyConfig{PrivateKeyFile: c.PrivateKeyFile}, nil
	case KeySourceKeystore:
		return KeyConfig{KeystorePath: c.KeystorePath, KeystorePassword: c.KeystorePassword, KeystorePasswordFile: c.KeystorePasswordFile}, nil
	default:
		return KeyConfig{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown key source %q, use one of %s", source,
			strings.Join([]string{KeySourceAuto, KeySourceEnv, KeySourceFile, KeySourceKeystore}, "|")))
	}
}

func NewLocalSigner(cfg KeyConfig) (*LocalSigner, error) {
	key, err := cfg.load()
	if err != nil {
		return nil, err
	}
	return &LocalSigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (c KeyConfig) load() (*ecdsa.PrivateKey, error) {
	switch {
	case strings.TrimSpace(c.PrivateKeyHex) != "":
		return parseHexKey(c.PrivateKeyHex)
	case strings.TrimSpace(c.PrivateKeyFile) != "":
		buf, err := os.ReadFile(c.PrivateKeyFile)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeSigner, "read key file", err)
		}
		return parseHexKey(string(buf))
	case strings.TrimSpace(c.KeystorePath) != "":
		return c.decryptKeystore()
	default:
		return nil, clierr.New(clierr.CodeSigner, fmt.Sprintf(
			"no signing key found: set %s or write a hex key to %s", EnvPrivateKey, defaultKeyFile()))
	}
}

func (c KeyConfig) decryptKeystore() (*ecdsa.PrivateKey, error) {
	password := c.KeystorePassword
	if strings.TrimSpace(password) == "" && strings.TrimSpace(c.KeystorePasswordFile) != "" {
		buf, err := os.ReadFile(c.KeystorePasswordFile)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeSigner, "read keystore password file", err)
		}
		password = strings.TrimSpace(string(buf))
	}
	if strings.TrimSpace(password) == "" {
		return nil, clierr.New(clierr.CodeSigner, fmt.Sprintf("keystore %s needs %s or %s", c.KeystorePath, EnvKeystorePassword, EnvKeystorePasswordFile))
	}
	buf, err := os.ReadFile(c.KeystorePath)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "read keystore", err)
	}
	key, err := keystore.DecryptKey(buf, password)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "decrypt keystore", err)
	}
	return key.PrivateKey, nil
}

func parseHexKey(raw string) (*ecdsa.PrivateKey, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if clean == "" {
		return nil, clierr.New(clierr.CodeSigner, "private key is empty")
	}
	key, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "parse private key", err)
	}
	return key, nil
}

// defaultKeyFile is $XDG_CONFIG_HOME/yieldmove/key.hex, or the same under
// ~/.config.
func defaultKeyFile() string {
	base := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil || strings.TrimSpace(home) == "" {
			return ""
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "yieldmove", keyFileName)
}

func existingDefaultKeyFile() string {
	path := defaultKeyFile()
	if path == "" {
		return ""
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return ""
	}
	return path
}
