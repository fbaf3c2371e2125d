package enzyme

const fundDeployerABI = `[
  {"type":"function","name":"createNewFund","stateMutability":"nonpayable",
   "inputs":[
     {"name":"_fundOwner","type":"address"},
     {"name":"_fundName","type":"string"},
     {"name":"_fundSymbol","type":"string"},
     {"name":"_denominationAsset","type":"address"},
     {"name":"_sharesActionTimelock","type":"uint256"},
     {"name":"_feeManagerConfigData","type":"bytes"},
     {"name":"_policyManagerConfigData","type":"bytes"}],
   "outputs":[
     {"name":"comptrollerProxy_","type":"address"},
     {"name":"vaultProxy_","type":"address"}]},
  {"type":"event","name":"NewFundCreated","anonymous":false,
   "inputs":[
     {"name":"creator","type":"address","indexed":true},
     {"name":"vaultProxy","type":"address","indexed":false},
     {"name":"comptrollerProxy","type":"address","indexed":false}]}
]`

const vaultProxyABI = `[
  {"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"decimals","stateMutability":"pure","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"_account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getAccessor","stateMutability":"view","inputs":[],"outputs":[{"name":"accessor_","type":"address"}]}
]`

const comptrollerABI = `[
  {"type":"function","name":"getDenominationAsset","stateMutability":"view","inputs":[],"outputs":[{"name":"denominationAsset_","type":"address"}]},
  {"type":"function","name":"getSharesActionTimelock","stateMutability":"view","inputs":[],"outputs":[{"name":"sharesActionTimelock_","type":"uint256"}]},
  {"type":"function","name":"buyShares","stateMutability":"nonpayable",
   "inputs":[
     {"name":"_investmentAmount","type":"uint256"},
     {"name":"_minSharesQuantity","type":"uint256"}],
   "outputs":[{"name":"sharesReceived_","type":"uint256"}]},
  {"type":"function","name":"redeemSharesForSpecificAssets","stateMutability":"nonpayable",
   "inputs":[
     {"name":"_recipient","type":"address"},
     {"name":"_sharesQuantity","type":"uint256"},
     {"name":"_payoutAssets","type":"address[]"},
     {"name":"_payoutAssetPercentages","type":"uint256[]"}],
   "outputs":[{"name":"payoutAmounts_","type":"uint256[]"}]}
]`

const erc20ABI = `[
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"_owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"allowance","stateMutability":"view",
   "inputs":[{"name":"_owner","type":"address"},{"name":"_spender","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable",
   "inputs":[{"name":"_spender","type":"address"},{"name":"_value","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]}
]`

const calculatorRouterABI = `[
  {"type":"function","name":"calcGav","stateMutability":"nonpayable",
   "inputs":[{"name":"_vaultProxy","type":"address"}],
   "outputs":[{"name":"denominationAsset_","type":"address"},{"name":"gav_","type":"uint256"}]},
  {"type":"function","name":"calcGavInAsset","stateMutability":"nonpayable",
   "inputs":[{"name":"_vaultProxy","type":"address"},{"name":"_quoteAsset","type":"address"}],
   "outputs":[{"name":"gav_","type":"uint256"}]},
  {"type":"function","name":"calcNav","stateMutability":"nonpayable",
   "inputs":[{"name":"_vaultProxy","type":"address"}],
   "outputs":[{"name":"denominationAsset_","type":"address"},{"name":"nav_","type":"uint256"}]},
  {"type":"function","name":"calcNavInAsset","stateMutability":"nonpayable",
   "inputs":[{"name":"_vaultProxy","type":"address"},{"name":"_quoteAsset","type":"address"}],
   "outputs":[{"name":"nav_","type":"uint256"}]},
  {"type":"function","name":"calcGrossShareValue","stateMutability":"nonpayable",
   "inputs":[{"name":"_vaultProxy","type":"address"}],
   "outputs":[{"name":"denominationAsset_","type":"address"},{"name":"grossShareValue_","type":"uint256"}]},
  {"type":"function","name":"calcGrossShareValueInAsset","stateMutability":"nonpayable",
   "inputs":[{"name":"_vaultProxy","type":"address"},{"name":"_quoteAsset","type":"address"}],
   "outputs":[{"name":"grossShareValue_","type":"uint256"}]},
  {"type":"function","name":"calcNetShareValue","stateMutability":"nonpayable",
   "inputs":[{"name":"_vaultProxy","type":"address"}],
   "outputs":[{"name":"denominationAsset_","type":"address"},{"name":"netShareValue_","type":"uint256"}]},
  {"type":"function","name":"calcNetShareValueInAsset","stateMutability":"nonpayable",
   "inputs":[{"name":"_vaultProxy","type":"address"},{"name":"_quoteAsset","type":"address"}],
   "outputs":[{"name":"netShareValue_","type":"uint256"}]},
  {"type":"function","name":"calcNetValueForSharesHolder","stateMutability":"nonpayable",
   "inputs":[{"name":"_vaultProxy","type":"address"},{"name":"_sharesHolder","type":"address"}],
   "outputs":[{"name":"denominationAsset_","type":"address"},{"name":"netValue_","type":"uint256"}]},
  {"type":"function","name":"calcNetValueForSharesHolderInAsset","stateMutability":"nonpayable",
   "inputs":[{"name":"_vaultProxy","type":"address"},{"name":"_sharesHolder","type":"address"},{"name":"_quoteAsset","type":"address"}],
   "outputs":[{"name":"netValue_","type":"uint256"}]}
]`
