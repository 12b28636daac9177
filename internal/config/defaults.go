package config

// Built-in chain, contract and token defaults. Every entry can be overridden
// from the config file.

func defaultChains() map[string]ChainSettings {
	return map[string]ChainSettings{
		"arbitrum": {
			Name:        "arbitrum",
			ChainID:     42161,
			RPCURL:      "https://arb1.arbitrum.io/rpc",
			ExplorerURL: "https://arbiscan.io",
			Fee:         FeeSettings{Mode: "eip1559"},
			Read:        ReadSettings{GasLimit: 3_000_000, GasPriceMultiplier: 1.2},
			RateLimit:   RateLimitSettings{RPS: 10, Burst: 20},
		},
		"optimism": {
			Name:        "optimism",
			ChainID:     10,
			RPCURL:      "https://mainnet.optimism.io",
			ExplorerURL: "https://optimistic.etherscan.io",
			Fee:         FeeSettings{Mode: "eip1559"},
			RateLimit:   RateLimitSettings{RPS: 10, Burst: 20},
		},
		"base": {
			Name:        "base",
			ChainID:     8453,
			RPCURL:      "https://mainnet.base.org",
			ExplorerURL: "https://basescan.org",
			Fee:         FeeSettings{Mode: "eip1559"},
			RateLimit:   RateLimitSettings{RPS: 10, Burst: 20},
		},
		"mantle": {
			Name:        "mantle",
			ChainID:     5000,
			RPCURL:      "https://rpc.mantle.xyz",
			ExplorerURL: "https://mantlescan.xyz",
			Fee:         FeeSettings{Mode: "legacy", GasPriceMultiplier: 1.1},
			RateLimit:   RateLimitSettings{RPS: 5, Burst: 10},
		},
	}
}

// Keys are protocol identifiers; uniswap-v3 is the SwapRouter with deadline
// support and uniswap-v3-quoter the QuoterV2.
func defaultContracts() map[string]map[string]string {
	return map[string]map[string]string{
		"aave-v3": {
			"arbitrum": "0x794a61358D6845594F94dc1DB02A252b5b4814aD",
			"optimism": "0x794a61358D6845594F94dc1DB02A252b5b4814aD",
			"base":     "0xA238Dd80C259a72e81d7e4664a9801593F98d1c5",
		},
		"aave-v2":     {},
		"compound-v3": {"arbitrum": "0x9c4ec768c28520B50860ea7a15bd7213a9fF58bf"},
		"lendle":      {"mantle": "0xCFa5aE7c2CE8Fadc6426C1ff872cA45378Fb7cF3"},
		"uniswap-v3": {
			"arbitrum": "0xE592427A0AEce92De3Edee1F18E0157C05861564",
			"optimism": "0xE592427A0AEce92De3Edee1F18E0157C05861564",
		},
		"uniswap-v3-quoter": {
			"arbitrum": "0x61fFE014bA17989E743c5F6cB21bF9697530B21e",
			"optimism": "0x61fFE014bA17989E743c5F6cB21bF9697530B21e",
			"base":     "0x3d4e44Eb1374240CE5F1B871ab261CD16335B76a",
		},
	}
}

func defaultTokens() map[string]map[string]string {
	return map[string]map[string]string{
		"USDC": {
			"arbitrum": "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
			"optimism": "0x0b2C639c533813f4Aa9D7837cAf62653d097Ff85",
			"base":     "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			"mantle":   "0x09Bc4E0D864854c6aFB6eB9A9cdF58aC190D0dF9",
		},
		"USDC.E": {"arbitrum": "0xFF970A61A04b1cA14834A43f5dE4533eBDDB5CC8"},
		"USDT": {
			"arbitrum": "0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9",
			"optimism": "0x94b008aA00579c1307B0EF2c499aD98a8ce58e58",
		},
		"WETH": {"arbitrum": "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1"},
		// Fluid position tokens, read for smart-account balances.
		"FUSDC": {"arbitrum": "0x4CFA50B7Ce747e2D61724fcAc57f24B748FF2b2A"},
		"FUSDT": {"arbitrum": "0x876Ec6bE52486Eeec06bc06434f3E629D695C6Ba"},
	}
}

func defaultSmartAccount() SmartAccountSettings {
	return SmartAccountSettings{
		Index:   map[string]string{"arbitrum": "0x1eE00C305C51Ff3bE60162456A9B533C07cD9288"},
		Version: 1,
		Connectors: map[string]map[string]string{
			"arbitrum": {"BASIC-A": "0x94aFEAAD699720F6eE75E1AD90497cE1Eb02624e"},
		},
		Aliases: map[string]map[string]string{
			"arbitrum": {"basic": "BASIC-A", "fluid": "FLUID-A"},
		},
	}
}
