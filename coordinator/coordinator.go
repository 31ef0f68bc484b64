package coordinator

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/lattisledger/lattis/blockchain"
	"github.com/lattisledger/lattis/common"
	"github.com/lattisledger/lattis/common/clock"
	"github.com/lattisledger/lattis/common/timer"
	"github.com/lattisledger/lattis/core"
)

const (
	txSyncNotifyInterval = 1 * time.Second
	execNotifyInterval   = 500 * time.Millisecond

	// proofSearchBudget bounds the nonce search effort per tick.
	proofSearchBudget = 100

	syncPollDelay     = 100 * time.Millisecond
	txWaitDelay       = 200 * time.Millisecond
	errorCooldown     = 5 * time.Second
	invalidChainDelay = 500 * time.Millisecond
)

var logger *log.Entry = log.WithFields(log.Fields{"prefix": "coordinator"})

// Params bundles the collaborators the coordinator sequences.
type Params struct {
	Chain       *blockchain.Chain
	DAG         core.DAG // nil disables synergetic execution
	Stake       core.StakeManager
	ExecMgr     core.ExecutionManager
	Storage     core.StorageUnit
	Packer      core.BlockPacker
	Sink        core.BlockSink
	StatusCache core.TxStatusCache
	Miner       core.ProofMiner
	Clock       clock.Clock
	Metrics     *Metrics

	MinerAddress common.Address
}

// Coordinator is the block coordination engine. It decides at every moment
// whether the node is catching up to the network's agreed chain, validating
// and executing a received block, or producing and broadcasting a new one.
//
// The coordinator runs as a single threaded cooperative state machine:
// exactly one state handler executes per tick, handlers never block, and any
// wait is expressed as a delay before the next tick.
type Coordinator struct {
	chain       *blockchain.Chain
	dag         core.DAG
	stake       core.StakeManager
	execMgr     core.ExecutionManager
	storage     core.StorageUnit
	packer      core.BlockPacker
	sink        core.BlockSink
	statusCache core.TxStatusCache
	miner       core.ProofMiner
	clk         clock.Clock
	metrics     *Metrics

	minerAddress      common.Address
	miningEnabled     bool
	blockPeriod       time.Duration
	txGracePeriod     time.Duration
	txHardTimeout     time.Duration
	execPollInterval  time.Duration
	numLanes          uint16
	numSlices         uint16
	blockDifficulty   uint64
	ancestorHopLimit  int
	fastSyncThreshold int

	mu        sync.Mutex
	state     State
	prevState State

	currentBlock      *core.Block
	nextBlock         *core.Block
	pendingTxs        map[common.Hash]struct{}
	ancestorPath      []*blockchain.ExtendedBlock
	synergeticDone    bool
	askedForTxs       bool
	nextBlockTime     time.Time
	lastExecutedBlock common.Hash

	txWaitPeriodic   *timer.Periodic
	execWaitPeriodic *timer.Periodic
	syncingPeriodic  *timer.Periodic
	statusPeriodic   *timer.Periodic
	txGraceDeadline  *timer.Deadline
	txHardDeadline   *timer.Deadline

	// Life cycle
	wg      *sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
}

// NewCoordinator creates a Coordinator. Timeouts and the chain topology are
// read from the configuration.
func NewCoordinator(params Params) *Coordinator {
	clk := params.Clock
	if clk == nil {
		clk = clock.NewSystem()
	}
	metrics := params.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	statusInterval := viper.GetDuration(common.CfgCoordinatorStatusInterval)

	c := &Coordinator{
		chain:       params.Chain,
		dag:         params.DAG,
		stake:       params.Stake,
		execMgr:     params.ExecMgr,
		storage:     params.Storage,
		packer:      params.Packer,
		sink:        params.Sink,
		statusCache: params.StatusCache,
		miner:       params.Miner,
		clk:         clk,
		metrics:     metrics,

		minerAddress:      params.MinerAddress,
		miningEnabled:     viper.GetBool(common.CfgCoordinatorMining),
		blockPeriod:       viper.GetDuration(common.CfgCoordinatorBlockPeriod),
		txGracePeriod:     viper.GetDuration(common.CfgCoordinatorTxGracePeriod),
		txHardTimeout:     viper.GetDuration(common.CfgCoordinatorTxHardTimeout),
		execPollInterval:  viper.GetDuration(common.CfgCoordinatorExecPollInterval),
		numLanes:          uint16(viper.GetInt(common.CfgChainNumLanes)),
		numSlices:         uint16(viper.GetInt(common.CfgChainNumSlices)),
		blockDifficulty:   uint64(viper.GetInt(common.CfgChainBlockDifficulty)),
		ancestorHopLimit:  viper.GetInt(common.CfgChainAncestorHopLimit),
		fastSyncThreshold: viper.GetInt(common.CfgCoordinatorFastSyncThreshold),

		state:             StateReload,
		prevState:         StateReload,
		lastExecutedBlock: core.GenesisDigest,

		wg: &sync.WaitGroup{},
	}

	c.txWaitPeriodic = timer.NewPeriodic(clk, txSyncNotifyInterval)
	c.execWaitPeriodic = timer.NewPeriodic(clk, execNotifyInterval)
	c.syncingPeriodic = timer.NewPeriodic(clk, statusInterval)
	c.statusPeriodic = timer.NewPeriodic(clk, statusInterval)
	c.txGraceDeadline = timer.NewDeadline(clk)
	c.txHardDeadline = timer.NewDeadline(clk)

	return c
}

// Start kicks off the tick loop.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.ctx = ctx
	c.cancel = cancel

	c.wg.Add(1)
	go c.mainLoop()
}

// Stop notifies the tick loop to stop without blocking.
func (c *Coordinator) Stop() {
	c.cancel()
}

// Wait blocks until the tick loop stops.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) mainLoop() {
	defer c.wg.Done()

	for {
		delay := c.Tick()
		if delay <= 0 {
			select {
			case <-c.ctx.Done():
				c.stopped = true
				return
			default:
			}
			continue
		}
		select {
		case <-c.ctx.Done():
			c.stopped = true
			return
		case <-time.After(delay):
		}
	}
}

// Tick executes exactly one state handler and returns the delay requested
// before the next tick. The external driver must guarantee at most one
// concurrent invocation; the internal lock makes violations harmless.
func (c *Coordinator) Tick() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	entered := c.state
	c.metrics.tick(entered)

	var next State
	var delay time.Duration

	switch entered {
	case StateReload:
		next, delay = c.onReload()
	case StateSynchronising:
		next, delay = c.onSynchronising()
	case StateSynchronised:
		next, delay = c.onSynchronised()
	case StatePreExecValidation:
		next, delay = c.onPreExecValidation()
	case StateSynergeticExecution:
		next, delay = c.onSynergeticExecution()
	case StateWaitForTransactions:
		next, delay = c.onWaitForTransactions()
	case StateScheduleExecution:
		next, delay = c.onScheduleExecution()
	case StateWaitForExecution:
		next, delay = c.onWaitForExecution()
	case StatePostExecValidation:
		next, delay = c.onPostExecValidation()
	case StateNewSynergeticExecution:
		next, delay = c.onNewSynergeticExecution()
	case StatePackNewBlock:
		next, delay = c.onPackNewBlock()
	case StateExecuteNewBlock:
		next, delay = c.onExecuteNewBlock()
	case StateWaitForNewBlockExecution:
		next, delay = c.onWaitForNewBlockExecution()
	case StateProofSearch:
		next, delay = c.onProofSearch()
	case StateTransmitBlock:
		next, delay = c.onTransmitBlock()
	case StateReset:
		next, delay = c.onReset()
	default:
		logger.Errorf("Unknown coordinator state: %v", entered)
		next, delay = StateReset, 0
	}

	if next != entered && c.statusPeriodic.Poll() {
		logger.WithFields(log.Fields{"current": next.String(), "previous": entered.String()}).Info("Coordinator state change")
	}

	c.prevState = entered
	c.state = next
	return delay
}

// CurrentState returns the state the next tick will execute.
func (c *Coordinator) CurrentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastExecutedBlock returns the hash of the most recently executed block.
func (c *Coordinator) LastExecutedBlock() common.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastExecutedBlock
}

// TriggerBlockGeneration forces the block interval to expire so that the
// state machine can generate a block on its next synchronised tick.
func (c *Coordinator) TriggerBlockGeneration() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.miningEnabled {
		c.nextBlockTime = c.clk.Now()
	}
}

// ResetToGenesis discards all processed-block bookkeeping, forcing the next
// synchronising pass to replay the chain from genesis.
func (c *Coordinator) ResetToGenesis() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastExecutedBlock = core.GenesisDigest
	c.execMgr.SetLastProcessedBlock(core.GenesisDigest)
}

// ---------------------------------------------------------------------------
// state handlers
// ---------------------------------------------------------------------------

func (c *Coordinator) onReload() (State, time.Duration) {
	if c.currentBlock == nil {
		if heaviest := c.chain.HeaviestBlock(); heaviest != nil {
			c.currentBlock = heaviest.Block
		}
	}

	// Reaching genesis here means there is no state to reload: fresh node,
	// or a pruned chain. The synchronising pass re-derives everything.
	if c.currentBlock != nil && !c.currentBlock.IsGenesis() {
		revertOK := c.storage.RevertToHash(c.currentBlock.StateHash, c.currentBlock.Height)

		revertOKDAG := true
		if c.dag != nil {
			revertOKDAG = c.dag.RevertToEpoch(c.currentBlock.Height)
		}

		if revertOK && revertOKDAG {
			c.execMgr.SetLastProcessedBlock(c.currentBlock.Hash)
			c.lastExecutedBlock = c.currentBlock.Hash
		} else {
			logger.WithFields(log.Fields{"block": c.currentBlock.Hash.Hex()}).Warn("Unable to reload state, continuing from scratch")
		}
	}

	return StateReset, 0
}

func (c *Coordinator) onSynchronising() (State, time.Duration) {
	if c.currentBlock == nil {
		heaviest := c.chain.HeaviestBlock()
		if heaviest == nil {
			logger.Error("Invalid heaviest block")
			return StateReset, invalidChainDelay
		}
		c.currentBlock = heaviest.Block
	}

	if c.currentBlock.Hash.IsEmpty() {
		logger.Error("Invalid heaviest block, empty block hash")
		return StateReset, invalidChainDelay
	}

	currentHash := c.currentBlock.Hash
	lastProcessed := c.execMgr.LastProcessedBlock()

	switch {
	case lastProcessed == core.GenesisDigest:
		// start up: work out which of the blocks has been executed previously
		if c.currentBlock.IsGenesis() {
			// got back to genesis, start executing from the beginning
			return StatePreExecValidation, 0
		}
		previous, err := c.chain.FindBlock(c.currentBlock.Parent)
		if err != nil {
			logger.WithFields(log.Fields{"block": currentHash.Hex()}).Warn("Unable to lookup previous block")
			return StateReset, 0
		}
		c.currentBlock = previous.Block
		return StateSynchronising, 0

	case currentHash == lastProcessed:
		// fully caught up with the chain
		return StateSynchronised, 0

	default:
		return c.synchroniseTowardsHeaviest(currentHash, lastProcessed)
	}
}

// synchroniseTowardsHeaviest reverts to the common ancestor of the heaviest
// and the last processed block and sets up the next hop of the replay.
func (c *Coordinator) synchroniseTowardsHeaviest(currentHash, lastProcessed common.Hash) (State, time.Duration) {
	if len(c.ancestorPath) == 0 {
		path, err := c.chain.PathToCommonAncestor(currentHash, lastProcessed, c.ancestorHopLimit)
		if err != nil {
			logger.WithFields(log.Fields{"block": currentHash.Hex(), "error": err}).Warn("Unable to lookup common ancestor")
			return StateReset, 0
		}
		c.ancestorPath = path
	}

	if len(c.ancestorPath) < 2 {
		// the ancestor equals the tip, nothing to replay
		c.ancestorPath = nil
		return StateReset, 0
	}

	commonParent := c.ancestorPath[0]
	nextBlock := c.ancestorPath[1]

	if c.syncingPeriodic.Poll() {
		completion := float64(nextBlock.Height*100) / float64(c.currentBlock.Height)
		logger.WithFields(log.Fields{
			"block": nextBlock.Height,
			"of":    c.currentBlock.Height,
		}).Infof("Synchronising of chain in progress, %.1f%%", completion)
	}

	// the common parent should always have been processed, but check
	if !c.storage.HashExists(commonParent.StateHash, commonParent.Height) {
		logger.WithFields(log.Fields{
			"block":  currentHash.Hex(),
			"number": commonParent.Height,
		}).Error("Ancestor block's state hash cannot be retrieved")

		c.fullRevertToGenesis()

		// allow the network to catch up if the issue is network related, and
		// restrict log spam
		return StateReset, errorCooldown
	}

	if !c.storage.RevertToHash(commonParent.StateHash, commonParent.Height) {
		logger.WithFields(log.Fields{"block": currentHash.Hex()}).Error("Unable to restore state")
		return StateReset, errorCooldown
	}

	if c.dag != nil && !c.dag.RevertToEpoch(commonParent.Height) {
		logger.WithFields(log.Fields{"number": commonParent.Height}).Error("Failed to revert DAG")
		return StateReset, errorCooldown
	}

	c.currentBlock = nextBlock.Block

	// consume the hop; retain long paths for efficiency, re-derive short ones
	c.ancestorPath = c.ancestorPath[1:]
	if len(c.ancestorPath) < c.fastSyncThreshold {
		c.ancestorPath = nil
	}

	return StatePreExecValidation, 0
}

func (c *Coordinator) fullRevertToGenesis() {
	c.metrics.fullResyncs.Inc()

	c.execMgr.SetLastProcessedBlock(core.GenesisDigest)
	c.lastExecutedBlock = core.GenesisDigest
	if !c.storage.RevertToHash(core.GenesisStateRoot, 0) {
		logger.Error("Unable to revert back to genesis")
	}
	if c.dag != nil && !c.dag.RevertToEpoch(0) {
		logger.Error("Unable to revert DAG back to genesis")
	}
}

func (c *Coordinator) onSynchronised() (State, time.Duration) {
	c.syncingPeriodic.Reset()

	// a change in the chain requires re-evaluation
	if c.chain.HeaviestBlockHash() != c.currentBlock.Hash {
		return StateReset, 0
	}

	if c.miningEnabled && !c.clk.Now().Before(c.nextBlockTime) {
		if c.stake != nil && !c.stake.ShouldGenerateBlock(c.currentBlock, c.minerAddress) {
			return StateSynchronised, syncPollDelay
		}

		next := core.NewBlock()
		next.ChainID = c.chain.ChainID
		next.Parent = c.currentBlock.Hash
		next.Height = c.currentBlock.Height + 1
		next.Miner = c.minerAddress
		next.NumLanes = c.numLanes
		next.NumSlices = c.numSlices
		if c.stake != nil {
			next.Weight = c.stake.GetBlockGenerationWeight(c.currentBlock, c.minerAddress)
		}
		if c.dag != nil {
			next.DAGEpoch = c.dag.CreateEpoch(next.Height)
		}
		next.Proof.SetTarget(c.blockDifficulty)

		// discard the adopted cursor, we are making a new block
		c.nextBlock = next
		c.currentBlock = nil

		return StateNewSynergeticExecution, 0
	}

	if c.prevState == StateSynchronising {
		logger.WithFields(log.Fields{
			"block":  c.currentBlock.Hash.Hex(),
			"number": c.currentBlock.Height,
			"parent": c.currentBlock.Parent.Hex(),
		}).Info("Chain sync complete")
		return StateSynchronised, 0
	}

	return StateSynchronised, syncPollDelay
}

func (c *Coordinator) onPreExecValidation() (State, time.Duration) {
	block := c.currentBlock
	isGenesis := block.IsGenesis()

	fail := func(reason string) (State, time.Duration) {
		logger.WithFields(log.Fields{"block": block.Hash.Hex(), "reason": reason}).Warn("Block validation failed")
		c.removeBlock(block.Hash)
		return StateReset, 0
	}

	if !isGenesis {
		previous, err := c.chain.FindBlock(block.Parent)
		if err != nil {
			return fail("no previous block in chain")
		}

		if c.stake != nil {
			if !c.stake.ValidMinerForBlock(previous.Block, block.Miner) {
				return fail("block signed by miner deemed invalid by the staking mechanism")
			}
			if block.Weight != c.stake.GetBlockGenerationWeight(previous.Block, block.Miner) {
				return fail("incorrect stake weight found for block")
			}
		}

		if previous.Height+1 != block.Height {
			return fail("block number mismatch")
		}
		if block.NumLanes != c.numLanes {
			return fail("lane count mismatch")
		}
		if block.NumSlices != c.numSlices || len(block.Slices) != int(c.numSlices) {
			return fail("slice count mismatch")
		}
		if block.CalculateHash() != block.Hash {
			return fail("block digest mismatch")
		}

		if c.dag != nil {
			// all work is identified on the latest DAG segment and staged in
			// a queue
			if status := c.dag.PrepareWorkQueue(block, previous.Block); status != core.WorkQueueSuccess {
				return fail("block certifies work that possibly is malicious")
			}
		}
	}

	c.txWaitPeriodic.Reset()
	return StateSynergeticExecution, 0
}

func (c *Coordinator) onSynergeticExecution() (State, time.Duration) {
	block := c.currentBlock

	if !block.IsGenesis() && c.dag != nil && !c.synergeticDone {
		previous, err := c.chain.FindBlock(block.Parent)
		if err != nil {
			logger.Warn("Failed to lookup previous block")
			return StateReset, 0
		}

		if status := c.dag.PrepareWorkQueue(block, previous.Block); status != core.WorkQueueSuccess {
			logger.WithFields(log.Fields{"status": status.String()}).Warn("Error preparing synergetic work queue")
			return StateReset, 0
		}

		if !c.dag.ValidateWorkAndUpdateState(block.Height, c.numLanes) {
			logger.WithFields(log.Fields{"block": block.Hash.Hex()}).Warn("Synergetic work did not execute")
			c.removeBlock(block.Hash)
			return StateReset, 0
		}
	}

	// validated once per block, the wait state consults this flag
	c.synergeticDone = true

	return StateWaitForTransactions, 0
}

func (c *Coordinator) onWaitForTransactions() (State, time.Duration) {
	block := c.currentBlock

	if c.prevState == StateWaitForTransactions {
		if c.askedForTxs {
			// stuck waiting for transactions: has the hard timeout elapsed?
			if c.txHardDeadline.HasExpired() {
				logger.WithFields(log.Fields{"block": block.Hash.Hex()}).Warn("Transactions never arrived, discarding block")
				c.removeBlock(block.Hash)
				return StateReset, 0
			}
		} else if c.txGraceDeadline.HasExpired() {
			c.storage.IssueCallForMissingTxs(digestList(c.pendingTxs))
			c.askedForTxs = true
			c.txHardDeadline.Restart(c.txHardTimeout)
		}
	} else {
		// only just started waiting: arm the countdown to asking peers
		c.txGraceDeadline.Restart(c.txGracePeriod)
		c.askedForTxs = false
	}

	dagReady := true
	if c.dag != nil {
		dagReady = c.dag.SatisfyEpoch(block.DAGEpoch)
	}

	if c.pendingTxs == nil {
		c.pendingTxs = block.TxDigests()
	}

	for digest := range c.pendingTxs {
		if c.storage.HasTransaction(digest) {
			delete(c.pendingTxs, digest)
		}
	}

	if len(c.pendingTxs) == 0 && dagReady {
		c.pendingTxs = nil
		if c.synergeticDone {
			return StateScheduleExecution, 0
		}
		return StateSynergeticExecution, 0
	}

	if c.txWaitPeriodic.Poll() {
		logger.WithFields(log.Fields{
			"pending":  len(c.pendingTxs),
			"dagReady": dagReady,
		}).Info("Waiting for transactions to sync")
	}

	return StateWaitForTransactions, txWaitDelay
}

func (c *Coordinator) onScheduleExecution() (State, time.Duration) {
	if !c.scheduleBlock(c.currentBlock) {
		return StateReset, 0
	}
	c.execWaitPeriodic.Reset()
	return StateWaitForExecution, 0
}

func (c *Coordinator) onWaitForExecution() (State, time.Duration) {
	switch c.queryExecutorStatus() {
	case executionIdle:
		return StatePostExecValidation, 0

	case executionRunning:
		if c.execWaitPeriodic.Poll() {
			logger.WithFields(log.Fields{"block": c.currentBlock.Hash.Hex()}).Info("Waiting for execution to complete")
		}
		return StateWaitForExecution, c.execPollInterval

	default:
		return StateReset, 0
	}
}

func (c *Coordinator) onPostExecValidation() (State, time.Duration) {
	block := c.currentBlock
	stateHash := c.storage.CurrentHash()

	invalid := false
	if !block.IsGenesis() && stateHash != block.StateHash {
		logger.WithFields(log.Fields{
			"block":    block.Hash.Hex(),
			"expected": block.StateHash.Hex(),
			"actual":   stateHash.Hex(),
		}).Warn("Block validation failed: state hash mismatch")
		invalid = true
	}

	if invalid {
		c.recoverFromInvalidBlock(block)
		c.removeBlock(block.Hash)
		return StateReset, 0
	}

	c.updateTxStatus(block)
	c.storage.Commit(block.Height)
	if c.dag != nil {
		c.dag.CommitEpoch(block.DAGEpoch)
	}
	c.lastExecutedBlock = block.Hash
	c.metrics.blocksExecuted.Inc()

	return StateReset, 0
}

// recoverFromInvalidBlock restores state to the parent's checkpoint, or all
// the way back to genesis if the narrow recovery fails.
func (c *Coordinator) recoverFromInvalidBlock(block *core.Block) {
	reverted := false

	if previous, err := c.chain.FindBlock(block.Parent); err == nil {
		revertedDAG := true
		if c.dag != nil {
			revertedDAG = c.dag.RevertToEpoch(previous.Height)
		}
		if revertedDAG && c.storage.RevertToHash(previous.StateHash, previous.Height) {
			c.execMgr.SetLastProcessedBlock(previous.Hash)
			c.lastExecutedBlock = previous.Hash
			reverted = true
		}
	}

	if !reverted {
		c.fullRevertToGenesis()
	}
}

func (c *Coordinator) onNewSynergeticExecution() (State, time.Duration) {
	block := c.nextBlock

	if c.dag != nil {
		previous, err := c.chain.FindBlock(block.Parent)
		if err != nil {
			logger.Warn("Failed to lookup previous block for new block")
			return StateReset, 0
		}

		if status := c.dag.PrepareWorkQueue(block, previous.Block); status != core.WorkQueueSuccess {
			logger.WithFields(log.Fields{"status": status.String()}).Warn("Error preparing synergetic work queue")
			return StateReset, 0
		}

		if !c.dag.ValidateWorkAndUpdateState(block.Height, c.numLanes) {
			logger.Warn("Failed to validate work queue for new block")
			return StateReset, 0
		}
	}

	return StatePackNewBlock, 0
}

func (c *Coordinator) onPackNewBlock() (State, time.Duration) {
	if err := c.packer.GenerateBlock(c.nextBlock, c.numLanes, c.numSlices); err != nil {
		// no block is lost, the pool is untouched
		logger.WithFields(log.Fields{"error": err}).Error("Error generated performing block packing")
		return StateReset, 0
	}

	c.updateNextBlockTime()
	return StateExecuteNewBlock, 0
}

func (c *Coordinator) onExecuteNewBlock() (State, time.Duration) {
	if !c.scheduleBlock(c.nextBlock) {
		return StateReset, 0
	}
	c.execWaitPeriodic.Reset()
	return StateWaitForNewBlockExecution, 0
}

func (c *Coordinator) onWaitForNewBlockExecution() (State, time.Duration) {
	switch c.queryExecutorStatus() {
	case executionIdle:
		// the state hash is now knowable: fill it in and commit immediately
		c.nextBlock.StateHash = c.storage.CurrentHash()
		c.storage.Commit(c.nextBlock.Height)
		if c.dag != nil {
			c.dag.CommitEpoch(c.nextBlock.DAGEpoch)
		}
		return StateProofSearch, 0

	case executionRunning:
		if c.execWaitPeriodic.Poll() {
			logger.WithFields(log.Fields{"parent": c.nextBlock.Parent.Hex()}).Info("Waiting for new block execution")
		}
		return StateWaitForNewBlockExecution, c.execPollInterval

	default:
		return StateReset, 0
	}
}

func (c *Coordinator) onProofSearch() (State, time.Duration) {
	if !c.miner.Mine(c.nextBlock, proofSearchBudget) {
		// no valid proof within this tick's budget, keep searching
		return StateProofSearch, 0
	}

	c.nextBlock.UpdateHash()

	// the execution manager could not know the final digest at execution
	// time because the state hash was not yet known
	c.execMgr.SetLastProcessedBlock(c.nextBlock.Hash)

	return StateTransmitBlock, 0
}

func (c *Coordinator) onTransmitBlock() (State, time.Duration) {
	block := c.nextBlock

	if _, err := c.chain.AddBlock(block); err != nil {
		// duplicate or stale add: nothing to broadcast
		logger.WithFields(log.Fields{"block": block.Hash.Hex(), "error": err}).Warn("Error transmitting verified block")
		return StateReset, 0
	}

	logger.WithFields(log.Fields{
		"block":  block.Hash.Hex(),
		"txs":    block.TxCount(),
		"number": block.Height,
	}).Info("Broadcasting new block")

	c.updateTxStatus(block)
	c.lastExecutedBlock = block.Hash
	c.metrics.blocksProduced.Inc()

	c.dispatchBlock(block)

	return StateReset, 0
}

// dispatchBlock hands the block to the sink, containing any panic from the
// collaborator so it cannot take down the state machine.
func (c *Coordinator) dispatchBlock(block *core.Block) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(log.Fields{"block": block.Hash.Hex(), "panic": r}).Warn("Block sink failed")
		}
	}()
	c.sink.OnBlock(block)
}

func (c *Coordinator) onReset() (State, time.Duration) {
	// trigger stake updates at the end of the block lifecycle
	if c.stake != nil {
		if c.nextBlock != nil {
			c.stake.UpdateCurrentBlock(c.nextBlock)
		} else if c.currentBlock != nil {
			c.stake.UpdateCurrentBlock(c.currentBlock)
		}
	}

	c.currentBlock = nil
	c.nextBlock = nil
	c.pendingTxs = nil
	c.ancestorPath = nil
	c.synergeticDone = false
	c.askedForTxs = false
	c.txGraceDeadline.Clear()
	c.txHardDeadline.Clear()

	c.updateNextBlockTime()

	return StateSynchronising, 0
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func (c *Coordinator) scheduleBlock(block *core.Block) bool {
	if block == nil {
		logger.Error("Unable to execute empty block")
		return false
	}

	if status := c.execMgr.Execute(block); status != core.ScheduleStatusScheduled {
		logger.WithFields(log.Fields{"status": status.String()}).Error("Execution engine rejected block")
		return false
	}
	return true
}

func (c *Coordinator) queryExecutorStatus() executionStatus {
	switch state := c.execMgr.GetState(); state {
	case core.ExecutionStateIdle:
		return executionIdle
	case core.ExecutionStateActive:
		return executionRunning
	case core.ExecutionStateTransactionsUnavailable:
		return executionStalled
	default:
		logger.WithFields(log.Fields{"state": state.String()}).Warn("Execution in error state")
		return executionError
	}
}

func (c *Coordinator) removeBlock(hash common.Hash) {
	c.metrics.blocksRejected.Inc()
	if err := c.chain.RemoveBlock(hash); err != nil {
		logger.WithFields(log.Fields{"block": hash.Hex(), "error": err}).Warn("Unable to remove block")
	}
}

func (c *Coordinator) updateNextBlockTime() {
	c.nextBlockTime = c.clk.Now().Add(c.blockPeriod)
}

func (c *Coordinator) updateTxStatus(block *core.Block) {
	if c.statusCache == nil {
		return
	}
	for _, slice := range block.Slices {
		for _, tx := range slice {
			c.statusCache.Update(tx, core.TxStatusExecuted)
		}
	}
}

func digestList(set map[common.Hash]struct{}) []common.Hash {
	digests := make([]common.Hash, 0, len(set))
	for digest := range set {
		digests = append(digests, digest)
	}
	return digests
}
