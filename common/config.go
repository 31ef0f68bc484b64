package common

import (
	"io/ioutil"

	"github.com/spf13/viper"
)

const (
	// CfgChainID defines the ID of the chain.
	CfgChainID = "chain.id"
	// CfgChainNumLanes defines the number of parallel execution lanes. Must be a power of two.
	CfgChainNumLanes = "chain.numLanes"
	// CfgChainNumSlices defines the number of transaction slices per block.
	CfgChainNumSlices = "chain.numSlices"
	// CfgChainBlockDifficulty defines the proof of work target difficulty for produced blocks.
	CfgChainBlockDifficulty = "chain.blockDifficulty"
	// CfgChainAncestorHopLimit bounds the common ancestor search during chain reorganisation.
	CfgChainAncestorHopLimit = "chain.ancestorHopLimit"

	// CfgCoordinatorMining determines whether the node produces blocks.
	CfgCoordinatorMining = "coordinator.mining"
	// CfgCoordinatorBlockPeriod defines the interval between self-mined blocks.
	CfgCoordinatorBlockPeriod = "coordinator.blockPeriod"
	// CfgCoordinatorTxGracePeriod defines how long to wait for missing transactions
	// before asking peers for them.
	CfgCoordinatorTxGracePeriod = "coordinator.txGracePeriod"
	// CfgCoordinatorTxHardTimeout defines how long to wait after asking for missing
	// transactions before discarding the block.
	CfgCoordinatorTxHardTimeout = "coordinator.txHardTimeout"
	// CfgCoordinatorExecPollInterval defines the delay between execution status polls.
	CfgCoordinatorExecPollInterval = "coordinator.execPollInterval"
	// CfgCoordinatorStatusInterval defines the interval between periodic status prints.
	CfgCoordinatorStatusInterval = "coordinator.statusInterval"
	// CfgCoordinatorFastSyncThreshold defines the ancestor path length below which the
	// cached path is discarded and re-derived.
	CfgCoordinatorFastSyncThreshold = "coordinator.fastSyncThreshold"
	// CfgCoordinatorSynergeticEnabled gates DAG/synergetic execution.
	CfgCoordinatorSynergeticEnabled = "coordinator.synergeticEnabled"
	// CfgCoordinatorMinerAddress is the address blocks are mined under.
	CfgCoordinatorMinerAddress = "coordinator.minerAddress"
	// CfgCoordinatorMinerStake is the stake registered for the local miner.
	CfgCoordinatorMinerStake = "coordinator.minerStake"

	// CfgStorageDirectory defines where the database files live.
	CfgStorageDirectory = "storage.directory"
	// CfgStorageBackend selects the database backend (leveldb | badger | memory).
	CfgStorageBackend = "storage.backend"

	// CfgLogLevels sets the log level.
	CfgLogLevels = "log.levels"

	// CfgMetricsServer is the listen address of the metrics endpoint. Blank
	// disables it.
	CfgMetricsServer = "metrics.server"
)

func init() {
	viper.SetDefault(CfgChainID, "lattis-localnet")
	viper.SetDefault(CfgChainNumLanes, 4)
	viper.SetDefault(CfgChainNumSlices, 4)
	viper.SetDefault(CfgChainBlockDifficulty, 8)
	viper.SetDefault(CfgChainAncestorHopLimit, 5000)

	viper.SetDefault(CfgCoordinatorMining, true)
	viper.SetDefault(CfgCoordinatorBlockPeriod, "10s")
	viper.SetDefault(CfgCoordinatorTxGracePeriod, "30s")
	viper.SetDefault(CfgCoordinatorTxHardTimeout, "30s")
	viper.SetDefault(CfgCoordinatorExecPollInterval, "20ms")
	viper.SetDefault(CfgCoordinatorStatusInterval, "10s")
	viper.SetDefault(CfgCoordinatorFastSyncThreshold, 100)
	viper.SetDefault(CfgCoordinatorSynergeticEnabled, true)
	viper.SetDefault(CfgCoordinatorMinerAddress, "0x0000000000000000000000000000000000000001")
	viper.SetDefault(CfgCoordinatorMinerStake, 100)

	viper.SetDefault(CfgStorageBackend, "leveldb")
	viper.SetDefault(CfgLogLevels, "info")
}

// InitialConfig is the default configuration produced by the init command.
const InitialConfig = `# Lattis configuration
chain:
  id: lattis-localnet
  numLanes: 4
  numSlices: 4
coordinator:
  mining: true
  blockPeriod: 10s
`

// WriteInitialConfig writes the default configuration file to filePath.
func WriteInitialConfig(filePath string) error {
	return ioutil.WriteFile(filePath, []byte(InitialConfig), 0600)
}
