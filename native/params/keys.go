package params

const (
	// ParamsKeyProtocol stores the versioned protocol parameter set.
	ParamsKeyProtocol = "protocol"
)

// Module names recognised by the pause table.
const (
	ModuleVault      = "vault"
	ModuleLending    = "lending"
	ModuleCollateral = "collateral"
	ModuleGovernance = "governance"
	ModuleYield      = "yield"
)
