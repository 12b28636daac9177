package registry

// Names accepted by Registry.ABI. An override file <abi_dir>/<name>.json
// replaces the built-in fragment.
const (
	ABIERC20           = "erc20"
	ABIAaveV3Pool      = "aave-v3-pool"
	ABIAaveV2Pool      = "aave-v2-pool"
	ABIComet           = "comet"
	ABIUniswapV3Router = "uniswap-v3-router"
	ABIUniswapV3Quoter = "uniswap-v3-quoter"
	ABISiloConfig      = "silo-config"
	ABISiloVault       = "silo-vault"
	ABIDSAIndex        = "dsa-index"
	ABIDSAAccount      = "dsa-account"
	ABIDSAConnector    = "dsa-connector"
)

var builtinABIs = map[string]string{
	ABIERC20:           ERC20ABI,
	ABIAaveV3Pool:      AaveV3PoolABI,
	ABIAaveV2Pool:      AaveV2PoolABI,
	ABIComet:           CometABI,
	ABIUniswapV3Router: UniswapV3RouterABI,
	ABIUniswapV3Quoter: UniswapV3QuoterV2ABI,
	ABISiloConfig:      SiloConfigABI,
	ABISiloVault:       SiloVaultABI,
	ABIDSAIndex:        DSAIndexABI,
	ABIDSAAccount:      DSAAccountABI,
	ABIDSAConnector:    DSAConnectorABI,
}

// ABI fragments used by operators, the vault resolver and the smart account.
const (
	ERC20ABI = `[
		{"name":"name","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
		{"name":"symbol","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
		{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
		{"name":"totalSupply","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
	]`

	// getReserveData is decoded from raw return words; layouts differ
	// between v2 and v3 pools.
	AaveV3PoolABI = `[
		{"name":"supply","type":"function","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"onBehalfOf","type":"address"},{"name":"referralCode","type":"uint16"}],"outputs":[]},
		{"name":"withdraw","type":"function","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"to","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"getReserveData","type":"function","stateMutability":"view","inputs":[{"name":"asset","type":"address"}],"outputs":[]}
	]`

	AaveV2PoolABI = `[
		{"name":"deposit","type":"function","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"onBehalfOf","type":"address"},{"name":"referralCode","type":"uint16"}],"outputs":[]},
		{"name":"withdraw","type":"function","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"to","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"getReserveData","type":"function","stateMutability":"view","inputs":[{"name":"asset","type":"address"}],"outputs":[]}
	]`

	CometABI = `[
		{"name":"supply","type":"function","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
		{"name":"withdraw","type":"function","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"collateralBalanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"},{"name":"asset","type":"address"}],"outputs":[{"name":"","type":"uint128"}]},
		{"name":"baseToken","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
		{"name":"isSupplyPaused","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
		{"name":"isWithdrawPaused","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
		{"name":"getAssetInfoByAddress","type":"function","stateMutability":"view","inputs":[{"name":"asset","type":"address"}],"outputs":[{"name":"","type":"tuple","components":[{"name":"offset","type":"uint8"},{"name":"asset","type":"address"},{"name":"priceFeed","type":"address"},{"name":"scale","type":"uint64"},{"name":"borrowCollateralFactor","type":"uint64"},{"name":"liquidateCollateralFactor","type":"uint64"},{"name":"liquidationFactor","type":"uint64"},{"name":"supplyCap","type":"uint128"}]}]}
	]`

	UniswapV3QuoterV2ABI = `[
		{"name":"quoteExactInput","type":"function","stateMutability":"nonpayable","inputs":[{"name":"path","type":"bytes"},{"name":"amountIn","type":"uint256"}],"outputs":[{"name":"amountOut","type":"uint256"},{"name":"sqrtPriceX96AfterList","type":"uint160[]"},{"name":"initializedTicksCrossedList","type":"uint32[]"},{"name":"gasEstimate","type":"uint256"}]}
	]`

	UniswapV3RouterABI = `[
		{"name":"exactInput","type":"function","stateMutability":"payable","inputs":[{"name":"params","type":"tuple","components":[{"name":"path","type":"bytes"},{"name":"recipient","type":"address"},{"name":"deadline","type":"uint256"},{"name":"amountIn","type":"uint256"},{"name":"amountOutMinimum","type":"uint256"}]}],"outputs":[{"name":"amountOut","type":"uint256"}]}
	]`

	SiloConfigABI = `[
		{"name":"getSilo","type":"function","stateMutability":"view","inputs":[{"name":"index","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
		{"name":"silos","type":"function","stateMutability":"view","inputs":[{"name":"index","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
		{"name":"getSilos","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"silo0","type":"address"},{"name":"silo1","type":"address"}]},
		{"name":"getStandardSilo","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
		{"name":"getProtectedSilo","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
	]`

	// Overloads resolve to deposit/deposit0, redeem/redeem0 and
	// maxWithdraw/maxWithdraw0 in declaration order.
	SiloVaultABI = `[
		{"name":"asset","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
		{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"totalAssets","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"getLiquidity","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"previewRedeem","type":"function","stateMutability":"view","inputs":[{"name":"shares","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"convertToAssets","type":"function","stateMutability":"view","inputs":[{"name":"shares","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"convertToShares","type":"function","stateMutability":"view","inputs":[{"name":"assets","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"deposit","type":"function","stateMutability":"nonpayable","inputs":[{"name":"assets","type":"uint256"},{"name":"receiver","type":"address"}],"outputs":[{"name":"shares","type":"uint256"}]},
		{"name":"deposit","type":"function","stateMutability":"nonpayable","inputs":[{"name":"assets","type":"uint256"},{"name":"receiver","type":"address"},{"name":"collateralType","type":"uint8"}],"outputs":[{"name":"shares","type":"uint256"}]},
		{"name":"redeem","type":"function","stateMutability":"nonpayable","inputs":[{"name":"shares","type":"uint256"},{"name":"receiver","type":"address"},{"name":"owner","type":"address"}],"outputs":[{"name":"assets","type":"uint256"}]},
		{"name":"redeem","type":"function","stateMutability":"nonpayable","inputs":[{"name":"shares","type":"uint256"},{"name":"receiver","type":"address"},{"name":"owner","type":"address"},{"name":"collateralType","type":"uint8"}],"outputs":[{"name":"assets","type":"uint256"}]},
		{"name":"maxWithdraw","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"maxWithdraw","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"collateralType","type":"uint8"}],"outputs":[{"name":"","type":"uint256"}]}
	]`

	DSAIndexABI = `[
		{"name":"build","type":"function","stateMutability":"nonpayable","inputs":[{"name":"_owner","type":"address"},{"name":"accountVersion","type":"uint256"},{"name":"_origin","type":"address"}],"outputs":[{"name":"_account","type":"address"}]},
		{"name":"getAccounts","type":"function","stateMutability":"view","inputs":[{"name":"_owner","type":"address"}],"outputs":[{"name":"","type":"tuple[]","components":[{"name":"id","type":"uint256"},{"name":"account","type":"address"},{"name":"version","type":"uint256"}]}]},
		{"name":"LogAccountCreated","type":"event","anonymous":false,"inputs":[{"name":"sender","type":"address","indexed":false},{"name":"owner","type":"address","indexed":true},{"name":"account","type":"address","indexed":true},{"name":"origin","type":"address","indexed":true}]}
	]`

	DSAAccountABI = `[
		{"name":"cast","type":"function","stateMutability":"payable","inputs":[{"name":"_targets","type":"address[]"},{"name":"_datas","type":"bytes[]"},{"name":"_origin","type":"address"}],"outputs":[{"name":"","type":"bytes32"}]},
		{"name":"isAuth","type":"function","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"bool"}]}
	]`

	DSAConnectorABI = `[
		{"name":"deposit","type":"function","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"amt","type":"uint256"},{"name":"getId","type":"uint256"},{"name":"setId","type":"uint256"}],"outputs":[]},
		{"name":"withdraw","type":"function","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"amt","type":"uint256"},{"name":"to","type":"address"},{"name":"getId","type":"uint256"},{"name":"setId","type":"uint256"}],"outputs":[]}
	]`
)
