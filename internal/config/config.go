package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const envPrefix = "YIELDMOVE_"

type GlobalFlags struct {
	ConfigPath     string
	JSON           bool
	Plain          bool
	EnableCommands string
	LogLevel       string
	KeySource      string
	MetricsFile    string
	ReceiptTimeout string
}

// BindFlags registers the global flags on fs.
func BindFlags(fs *pflag.FlagSet, flags *GlobalFlags) {
	fs.StringVar(&flags.ConfigPath, "config", "", "Path to config file (.yaml or .toml)")
	fs.BoolVar(&flags.JSON, "json", false, "Output JSON (default)")
	fs.BoolVar(&flags.Plain, "plain", false, "Output plain text")
	fs.StringVar(&flags.EnableCommands, "enable-commands", "", "Allowlist command paths (comma-separated)")
	fs.StringVar(&flags.LogLevel, "log-level", "", "Log level (debug|info|warn|error)")
	fs.StringVar(&flags.KeySource, "key-source", "", "Signing key source (auto|env|file|keystore)")
	fs.StringVar(&flags.MetricsFile, "metrics-file", "", "Write prometheus metrics to this textfile on exit")
	fs.StringVar(&flags.ReceiptTimeout, "receipt-timeout", "", "Maximum wait for a transaction receipt")
}

type Settings struct {
	OutputMode     string
	EnableCommands []string
	KeySource      string
	Log            LogSettings
	ABIDir         string

	Chains       map[string]ChainSettings
	Contracts    map[string]map[string]string
	Tokens       map[string]map[string]string
	Silo         SiloSettings
	SmartAccount SmartAccountSettings
	Uniswap      UniswapSettings
	Execution    ExecutionSettings

	ResultsPath        string
	ResultsLockPath    string
	VaultCachePath     string
	VaultCacheLockPath string
	NonceLockDir       string
	VaultCache         VaultCacheSettings
	Bookkeeping        BookkeepingSettings
	Archive            ArchiveSettings
	MetricsFile        string
	Tracing            TracingSettings
}

type LogSettings struct {
	Level  string
	Format string
}

type ChainSettings struct {
	Name        string
	ChainID     int64
	RPCURL      string
	ExplorerURL string
	Fee         FeeSettings
	Read        ReadSettings
	RateLimit   RateLimitSettings
}

type FeeSettings struct {
	Mode               string
	GasPriceMultiplier float64
	PriorityFeeGwei    string
	GasLimitOverride   uint64
}

type ReadSettings struct {
	GasLimit           uint64
	GasPriceMultiplier float64
}

type RateLimitSettings struct {
	RPS   float64
	Burst int
}

type SiloSettings struct {
	Markets       map[string]map[string]string
	DefaultMarket map[string]string
}

type SmartAccountSettings struct {
	Index      map[string]string
	Version    int64
	Connectors map[string]map[string]string
	Aliases    map[string]map[string]string
}

type UniswapSettings struct {
	FeeTier           map[string]uint32
	FallbackMinOutPct float64
	DeadlineWindow    time.Duration
}

type ExecutionSettings struct {
	PollInterval   time.Duration
	ReceiptTimeout time.Duration
	SettleDelay    time.Duration
	GasBuffer      float64
	FeeBumpPercent int64
	MaxAttempts    int
}

type VaultCacheSettings struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

type BookkeepingSettings struct {
	HTTPEndpoint string
	APIKey       string
	PostgresDSN  string
}

type ArchiveSettings struct {
	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	S3Prefix       string
	ForcePathStyle bool
}

type TracingSettings struct {
	Endpoint string
	Insecure bool
}

type fileConfig struct {
	Output         string   `yaml:"output" toml:"output"`
	EnableCommands []string `yaml:"enable_commands" toml:"enable_commands"`
	ABIDir         string   `yaml:"abi_dir" toml:"abi_dir"`
	Log            struct {
		Level  string `yaml:"level" toml:"level"`
		Format string `yaml:"format" toml:"format"`
	} `yaml:"log" toml:"log"`
	Signer struct {
		KeySource string `yaml:"key_source" toml:"key_source"`
	} `yaml:"signer" toml:"signer"`
	Chains    map[string]chainFile         `yaml:"chains" toml:"chains"`
	Contracts map[string]map[string]string `yaml:"contracts" toml:"contracts"`
	Tokens    map[string]map[string]string `yaml:"tokens" toml:"tokens"`
	Silo      struct {
		Markets       map[string]map[string]string `yaml:"markets" toml:"markets"`
		DefaultMarket map[string]string            `yaml:"default_market" toml:"default_market"`
	} `yaml:"silo" toml:"silo"`
	SmartAccount struct {
		Index      map[string]string            `yaml:"index" toml:"index"`
		Version    *int64                       `yaml:"version" toml:"version"`
		Connectors map[string]map[string]string `yaml:"connectors" toml:"connectors"`
		Aliases    map[string]map[string]string `yaml:"aliases" toml:"aliases"`
	} `yaml:"smart_account" toml:"smart_account"`
	Uniswap struct {
		FeeTier           map[string]uint32 `yaml:"fee_tier" toml:"fee_tier"`
		FallbackMinOutPct *float64          `yaml:"fallback_min_out_pct" toml:"fallback_min_out_pct"`
		DeadlineWindow    string            `yaml:"deadline_window" toml:"deadline_window"`
	} `yaml:"uniswap" toml:"uniswap"`
	Execution struct {
		PollInterval   string   `yaml:"poll_interval" toml:"poll_interval"`
		ReceiptTimeout string   `yaml:"receipt_timeout" toml:"receipt_timeout"`
		SettleDelay    string   `yaml:"settle_delay" toml:"settle_delay"`
		GasBuffer      *float64 `yaml:"gas_buffer" toml:"gas_buffer"`
		FeeBumpPercent *int64   `yaml:"fee_bump_percent" toml:"fee_bump_percent"`
		MaxAttempts    *int     `yaml:"max_attempts" toml:"max_attempts"`
	} `yaml:"execution" toml:"execution"`
	Storage struct {
		ResultsPath        string `yaml:"results_path" toml:"results_path"`
		ResultsLockPath    string `yaml:"results_lock_path" toml:"results_lock_path"`
		VaultCachePath     string `yaml:"vault_cache_path" toml:"vault_cache_path"`
		VaultCacheLockPath string `yaml:"vault_cache_lock_path" toml:"vault_cache_lock_path"`
		NonceLockDir       string `yaml:"nonce_lock_dir" toml:"nonce_lock_dir"`
	} `yaml:"storage" toml:"storage"`
	VaultCache struct {
		Backend       string `yaml:"backend" toml:"backend"`
		RedisAddr     string `yaml:"redis_addr" toml:"redis_addr"`
		RedisPassword string `yaml:"redis_password" toml:"redis_password"`
		RedisDB       *int   `yaml:"redis_db" toml:"redis_db"`
	} `yaml:"vault_cache" toml:"vault_cache"`
	Bookkeeping struct {
		HTTPEndpoint   string `yaml:"http_endpoint" toml:"http_endpoint"`
		APIKey         string `yaml:"api_key" toml:"api_key"`
		APIKeyEnv      string `yaml:"api_key_env" toml:"api_key_env"`
		PostgresDSN    string `yaml:"postgres_dsn" toml:"postgres_dsn"`
		PostgresDSNEnv string `yaml:"postgres_dsn_env" toml:"postgres_dsn_env"`
	} `yaml:"bookkeeping" toml:"bookkeeping"`
	Archive struct {
		S3Bucket       string `yaml:"s3_bucket" toml:"s3_bucket"`
		S3Region       string `yaml:"s3_region" toml:"s3_region"`
		S3Endpoint     string `yaml:"s3_endpoint" toml:"s3_endpoint"`
		S3Prefix       string `yaml:"s3_prefix" toml:"s3_prefix"`
		ForcePathStyle bool   `yaml:"force_path_style" toml:"force_path_style"`
	} `yaml:"archive" toml:"archive"`
	Metrics struct {
		TextfilePath string `yaml:"textfile_path" toml:"textfile_path"`
	} `yaml:"metrics" toml:"metrics"`
	Tracing struct {
		Endpoint string `yaml:"endpoint" toml:"endpoint"`
		Insecure bool   `yaml:"insecure" toml:"insecure"`
	} `yaml:"tracing" toml:"tracing"`
}

type chainFile struct {
	ChainID     int64  `yaml:"chain_id" toml:"chain_id"`
	RPCURL      string `yaml:"rpc_url" toml:"rpc_url"`
	RPCURLEnv   string `yaml:"rpc_url_env" toml:"rpc_url_env"`
	ExplorerURL string `yaml:"explorer_url" toml:"explorer_url"`
	Fee         struct {
		Mode               string   `yaml:"mode" toml:"mode"`
		GasPriceMultiplier *float64 `yaml:"gas_price_multiplier" toml:"gas_price_multiplier"`
		PriorityFeeGwei    string   `yaml:"priority_fee_gwei" toml:"priority_fee_gwei"`
		GasLimitOverride   uint64   `yaml:"gas_limit_override" toml:"gas_limit_override"`
	} `yaml:"fee" toml:"fee"`
	Read struct {
		GasLimit           uint64   `yaml:"gas_limit" toml:"gas_limit"`
		GasPriceMultiplier *float64 `yaml:"gas_price_multiplier" toml:"gas_price_multiplier"`
	} `yaml:"read" toml:"read"`
	RateLimit struct {
		RPS   *float64 `yaml:"rps" toml:"rps"`
		Burst *int     `yaml:"burst" toml:"burst"`
	} `yaml:"rate_limit" toml:"rate_limit"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Execution.PollInterval <= 0 {
		settings.Execution.PollInterval = 2 * time.Second
	}
	if settings.Execution.ReceiptTimeout <= 0 {
		settings.Execution.ReceiptTimeout = 180 * time.Second
	}
	if settings.Execution.GasBuffer <= 1 {
		settings.Execution.GasBuffer = 1.2
	}
	if settings.Execution.FeeBumpPercent <= 100 {
		settings.Execution.FeeBumpPercent = 130
	}
	if settings.Execution.MaxAttempts <= 0 {
		settings.Execution.MaxAttempts = 3
	}
	if settings.Execution.SettleDelay < 0 {
		settings.Execution.SettleDelay = 0
	}

	return settings, nil
}

// Chain returns the settings for a network name, case-insensitively.
func (s Settings) Chain(network string) (ChainSettings, bool) {
	c, ok := s.Chains[NormalizeNetwork(network)]
	return c, ok
}

func NormalizeNetwork(network string) string {
	return strings.ToLower(strings.TrimSpace(network))
}

func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func defaultSettings() (Settings, error) {
	dataDir, err := defaultDataDir()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:         "json",
		KeySource:          "auto",
		Log:                LogSettings{Level: "info", Format: "console"},
		Chains:             defaultChains(),
		Contracts:          defaultContracts(),
		Tokens:             defaultTokens(),
		Silo:               SiloSettings{Markets: map[string]map[string]string{}, DefaultMarket: map[string]string{}},
		SmartAccount:       defaultSmartAccount(),
		Uniswap:            UniswapSettings{FeeTier: map[string]uint32{}, FallbackMinOutPct: 95, DeadlineWindow: 10 * time.Minute},
		Execution:          ExecutionSettings{PollInterval: 2 * time.Second, ReceiptTimeout: 180 * time.Second, SettleDelay: 5 * time.Second, GasBuffer: 1.2, FeeBumpPercent: 130, MaxAttempts: 3},
		ResultsPath:        filepath.Join(dataDir, "results.db"),
		ResultsLockPath:    filepath.Join(dataDir, "results.lock"),
		VaultCachePath:     filepath.Join(dataDir, "vaults.db"),
		VaultCacheLockPath: filepath.Join(dataDir, "vaults.lock"),
		NonceLockDir:       filepath.Join(dataDir, "nonces"),
		VaultCache:         VaultCacheSettings{Backend: "memory"},
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "yieldmove", "config.yaml"), nil
}

func defaultDataDir() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "yieldmove"), nil
}

func decodeFile(path string, buf []byte, cfg *fileConfig) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(buf, cfg); err != nil {
			return fmt.Errorf("parse config toml: %w", err)
		}
		return nil
	}
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := decodeFile(path, buf, &cfg); err != nil {
		return err
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if len(cfg.EnableCommands) > 0 {
		settings.EnableCommands = cfg.EnableCommands
	}
	if cfg.ABIDir != "" {
		settings.ABIDir = cfg.ABIDir
	}
	if cfg.Log.Level != "" {
		settings.Log.Level = strings.ToLower(cfg.Log.Level)
	}
	if cfg.Log.Format != "" {
		settings.Log.Format = strings.ToLower(cfg.Log.Format)
	}
	if cfg.Signer.KeySource != "" {
		settings.KeySource = cfg.Signer.KeySource
	}

	for name, c := range cfg.Chains {
		if err := mergeChain(settings, name, c); err != nil {
			return err
		}
	}
	for protocol, byNetwork := range cfg.Contracts {
		key := strings.ToLower(strings.TrimSpace(protocol))
		if settings.Contracts[key] == nil {
			settings.Contracts[key] = map[string]string{}
		}
		for network, addr := range byNetwork {
			settings.Contracts[key][NormalizeNetwork(network)] = strings.TrimSpace(addr)
		}
	}
	for symbol, byNetwork := range cfg.Tokens {
		key := NormalizeSymbol(symbol)
		if settings.Tokens[key] == nil {
			settings.Tokens[key] = map[string]string{}
		}
		for network, addr := range byNetwork {
			settings.Tokens[key][NormalizeNetwork(network)] = strings.TrimSpace(addr)
		}
	}
	for network, markets := range cfg.Silo.Markets {
		key := NormalizeNetwork(network)
		if settings.Silo.Markets[key] == nil {
			settings.Silo.Markets[key] = map[string]string{}
		}
		for market, addr := range markets {
			settings.Silo.Markets[key][strings.TrimSpace(market)] = strings.TrimSpace(addr)
		}
	}
	for network, market := range cfg.Silo.DefaultMarket {
		settings.Silo.DefaultMarket[NormalizeNetwork(network)] = strings.TrimSpace(market)
	}
	for network, addr := range cfg.SmartAccount.Index {
		settings.SmartAccount.Index[NormalizeNetwork(network)] = strings.TrimSpace(addr)
	}
	if cfg.SmartAccount.Version != nil {
		settings.SmartAccount.Version = *cfg.SmartAccount.Version
	}
	mergeNested(settings.SmartAccount.Connectors, cfg.SmartAccount.Connectors)
	mergeNested(settings.SmartAccount.Aliases, cfg.SmartAccount.Aliases)

	for network, fee := range cfg.Uniswap.FeeTier {
		settings.Uniswap.FeeTier[NormalizeNetwork(network)] = fee
	}
	if cfg.Uniswap.FallbackMinOutPct != nil {
		settings.Uniswap.FallbackMinOutPct = *cfg.Uniswap.FallbackMinOutPct
	}
	if err := parseDurationInto(cfg.Uniswap.DeadlineWindow, "uniswap.deadline_window", &settings.Uniswap.DeadlineWindow); err != nil {
		return err
	}

	if err := parseDurationInto(cfg.Execution.PollInterval, "execution.poll_interval", &settings.Execution.PollInterval); err != nil {
		return err
	}
	if err := parseDurationInto(cfg.Execution.ReceiptTimeout, "execution.receipt_timeout", &settings.Execution.ReceiptTimeout); err != nil {
		return err
	}
	if err := parseDurationInto(cfg.Execution.SettleDelay, "execution.settle_delay", &settings.Execution.SettleDelay); err != nil {
		return err
	}
	if cfg.Execution.GasBuffer != nil {
		settings.Execution.GasBuffer = *cfg.Execution.GasBuffer
	}
	if cfg.Execution.FeeBumpPercent != nil {
		settings.Execution.FeeBumpPercent = *cfg.Execution.FeeBumpPercent
	}
	if cfg.Execution.MaxAttempts != nil {
		settings.Execution.MaxAttempts = *cfg.Execution.MaxAttempts
	}

	if cfg.Storage.ResultsPath != "" {
		settings.ResultsPath = cfg.Storage.ResultsPath
	}
	if cfg.Storage.ResultsLockPath != "" {
		settings.ResultsLockPath = cfg.Storage.ResultsLockPath
	}
	if cfg.Storage.VaultCachePath != "" {
		settings.VaultCachePath = cfg.Storage.VaultCachePath
	}
	if cfg.Storage.NonceLockDir != "" {
		settings.NonceLockDir = cfg.Storage.NonceLockDir
	}
	if cfg.Storage.VaultCacheLockPath != "" {
		settings.VaultCacheLockPath = cfg.Storage.VaultCacheLockPath
	}

	if cfg.VaultCache.Backend != "" {
		settings.VaultCache.Backend = strings.ToLower(cfg.VaultCache.Backend)
	}
	if cfg.VaultCache.RedisAddr != "" {
		settings.VaultCache.RedisAddr = cfg.VaultCache.RedisAddr
	}
	if cfg.VaultCache.RedisPassword != "" {
		settings.VaultCache.RedisPassword = cfg.VaultCache.RedisPassword
	}
	if cfg.VaultCache.RedisDB != nil {
		settings.VaultCache.RedisDB = *cfg.VaultCache.RedisDB
	}

	if cfg.Bookkeeping.HTTPEndpoint != "" {
		settings.Bookkeeping.HTTPEndpoint = cfg.Bookkeeping.HTTPEndpoint
	}
	if cfg.Bookkeeping.APIKey != "" {
		settings.Bookkeeping.APIKey = cfg.Bookkeeping.APIKey
	}
	if cfg.Bookkeeping.APIKeyEnv != "" {
		settings.Bookkeeping.APIKey = os.Getenv(cfg.Bookkeeping.APIKeyEnv)
	}
	if cfg.Bookkeeping.PostgresDSN != "" {
		settings.Bookkeeping.PostgresDSN = cfg.Bookkeeping.PostgresDSN
	}
	if cfg.Bookkeeping.PostgresDSNEnv != "" {
		settings.Bookkeeping.PostgresDSN = os.Getenv(cfg.Bookkeeping.PostgresDSNEnv)
	}

	if cfg.Archive.S3Bucket != "" {
		settings.Archive = ArchiveSettings{
			S3Bucket:       cfg.Archive.S3Bucket,
			S3Region:       cfg.Archive.S3Region,
			S3Endpoint:     cfg.Archive.S3Endpoint,
			S3Prefix:       cfg.Archive.S3Prefix,
			ForcePathStyle: cfg.Archive.ForcePathStyle,
		}
	}
	if cfg.Metrics.TextfilePath != "" {
		settings.MetricsFile = cfg.Metrics.TextfilePath
	}
	if cfg.Tracing.Endpoint != "" {
		settings.Tracing = TracingSettings{Endpoint: cfg.Tracing.Endpoint, Insecure: cfg.Tracing.Insecure}
	}

	return nil
}

func mergeChain(settings *Settings, name string, c chainFile) error {
	key := NormalizeNetwork(name)
	current := settings.Chains[key]
	current.Name = key
	if c.ChainID != 0 {
		current.ChainID = c.ChainID
	}
	if c.RPCURL != "" {
		current.RPCURL = c.RPCURL
	}
	if c.RPCURLEnv != "" {
		if v := os.Getenv(c.RPCURLEnv); v != "" {
			current.RPCURL = v
		}
	}
	if c.ExplorerURL != "" {
		current.ExplorerURL = c.ExplorerURL
	}
	if c.Fee.Mode != "" {
		mode := strings.ToLower(c.Fee.Mode)
		if mode != "eip1559" && mode != "legacy" {
			return fmt.Errorf("config chains.%s.fee.mode must be eip1559 or legacy", key)
		}
		current.Fee.Mode = mode
	}
	if c.Fee.GasPriceMultiplier != nil {
		current.Fee.GasPriceMultiplier = *c.Fee.GasPriceMultiplier
	}
	if c.Fee.PriorityFeeGwei != "" {
		current.Fee.PriorityFeeGwei = c.Fee.PriorityFeeGwei
	}
	if c.Fee.GasLimitOverride != 0 {
		current.Fee.GasLimitOverride = c.Fee.GasLimitOverride
	}
	if c.Read.GasLimit != 0 {
		current.Read.GasLimit = c.Read.GasLimit
	}
	if c.Read.GasPriceMultiplier != nil {
		current.Read.GasPriceMultiplier = *c.Read.GasPriceMultiplier
	}
	if c.RateLimit.RPS != nil {
		current.RateLimit.RPS = *c.RateLimit.RPS
	}
	if c.RateLimit.Burst != nil {
		current.RateLimit.Burst = *c.RateLimit.Burst
	}
	if current.Fee.Mode == "" {
		current.Fee.Mode = "eip1559"
	}
	settings.Chains[key] = current
	return nil
}

func mergeNested(dst, src map[string]map[string]string) {
	for network, entries := range src {
		key := NormalizeNetwork(network)
		if dst[key] == nil {
			dst[key] = map[string]string{}
		}
		for name, value := range entries {
			dst[key][strings.TrimSpace(name)] = strings.TrimSpace(value)
		}
	}
}

func parseDurationInto(raw, field string, dst *time.Duration) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("config %s: %w", field, err)
	}
	*dst = d
	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv(envPrefix + "OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		settings.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv(envPrefix + "LOG_FORMAT"); v != "" {
		settings.Log.Format = strings.ToLower(v)
	}
	if v := os.Getenv(envPrefix + "KEY_SOURCE"); v != "" {
		settings.KeySource = v
	}
	if v := os.Getenv(envPrefix + "ABI_DIR"); v != "" {
		settings.ABIDir = v
	}
	for name, chain := range settings.Chains {
		if v := os.Getenv(envPrefix + "RPC_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))); v != "" {
			chain.RPCURL = v
			settings.Chains[name] = chain
		}
	}
	if v := os.Getenv(envPrefix + "RECEIPT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Execution.ReceiptTimeout = d
		}
	}
	if v := os.Getenv(envPrefix + "SETTLE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Execution.SettleDelay = d
		}
	}
	if v := os.Getenv(envPrefix + "MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Execution.MaxAttempts = n
		}
	}
	if v := os.Getenv(envPrefix + "RESULTS_PATH"); v != "" {
		settings.ResultsPath = v
	}
	if v := os.Getenv(envPrefix + "RESULTS_LOCK_PATH"); v != "" {
		settings.ResultsLockPath = v
	}
	if v := os.Getenv(envPrefix + "NONCE_LOCK_DIR"); v != "" {
		settings.NonceLockDir = v
	}
	if v := os.Getenv(envPrefix + "VAULT_CACHE"); v != "" {
		settings.VaultCache.Backend = strings.ToLower(v)
	}
	if v := os.Getenv(envPrefix + "REDIS_ADDR"); v != "" {
		settings.VaultCache.RedisAddr = v
	}
	if v := os.Getenv(envPrefix + "REDIS_PASSWORD"); v != "" {
		settings.VaultCache.RedisPassword = v
	}
	if v := os.Getenv(envPrefix + "BOOKKEEPING_URL"); v != "" {
		settings.Bookkeeping.HTTPEndpoint = v
	}
	if v := os.Getenv(envPrefix + "BOOKKEEPING_API_KEY"); v != "" {
		settings.Bookkeeping.APIKey = v
	}
	if v := os.Getenv(envPrefix + "POSTGRES_DSN"); v != "" {
		settings.Bookkeeping.PostgresDSN = v
	}
	if v := os.Getenv(envPrefix + "ARCHIVE_BUCKET"); v != "" {
		settings.Archive.S3Bucket = v
	}
	if v := os.Getenv(envPrefix + "ARCHIVE_REGION"); v != "" {
		settings.Archive.S3Region = v
	}
	if v := os.Getenv(envPrefix + "METRICS_FILE"); v != "" {
		settings.MetricsFile = v
	}
	if v := os.Getenv(envPrefix + "OTLP_ENDPOINT"); v != "" {
		settings.Tracing.Endpoint = v
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}

	if strings.TrimSpace(flags.EnableCommands) != "" {
		parts := strings.Split(flags.EnableCommands, ",")
		allowed := make([]string, 0, len(parts))
		for _, part := range parts {
			v := strings.TrimSpace(part)
			if v != "" {
				allowed = append(allowed, v)
			}
		}
		settings.EnableCommands = allowed
	}
	if flags.LogLevel != "" {
		settings.Log.Level = strings.ToLower(flags.LogLevel)
	}
	if flags.KeySource != "" {
		settings.KeySource = flags.KeySource
	}
	if flags.MetricsFile != "" {
		settings.MetricsFile = flags.MetricsFile
	}
	if flags.ReceiptTimeout != "" {
		d, err := time.ParseDuration(flags.ReceiptTimeout)
		if err != nil {
			return fmt.Errorf("parse --receipt-timeout: %w", err)
		}
		settings.Execution.ReceiptTimeout = d
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}
	switch settings.VaultCache.Backend {
	case "", "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("vault cache backend must be memory, sqlite or redis")
	}

	return nil
}
