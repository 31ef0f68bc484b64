package coordinator

import (
	"sync"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattisledger/lattis/blockchain"
	"github.com/lattisledger/lattis/common"
	"github.com/lattisledger/lattis/common/clock"
	"github.com/lattisledger/lattis/consensus"
	"github.com/lattisledger/lattis/core"
	"github.com/lattisledger/lattis/dag"
	"github.com/lattisledger/lattis/execution"
	ld "github.com/lattisledger/lattis/ledger"
	"github.com/lattisledger/lattis/ledger/storage"
	mp "github.com/lattisledger/lattis/mempool"
	"github.com/lattisledger/lattis/store"
)

var (
	minerOne = common.Address{0x01}
	minerTwo = common.Address{0x02}
)

func setTestConfig() {
	viper.Set(common.CfgChainID, "testchain")
	viper.Set(common.CfgChainNumLanes, 1)
	viper.Set(common.CfgChainNumSlices, 1)
	viper.Set(common.CfgChainBlockDifficulty, 1)
	viper.Set(common.CfgChainAncestorHopLimit, 5000)
	viper.Set(common.CfgCoordinatorBlockPeriod, "10s")
	viper.Set(common.CfgCoordinatorTxGracePeriod, "30s")
	viper.Set(common.CfgCoordinatorTxHardTimeout, "30s")
	viper.Set(common.CfgCoordinatorExecPollInterval, "20ms")
	viper.Set(common.CfgCoordinatorStatusInterval, "10s")
	viper.Set(common.CfgCoordinatorFastSyncThreshold, 100)
}

type capturingSink struct {
	mu     sync.Mutex
	blocks []*core.Block
}

func (cs *capturingSink) OnBlock(block *core.Block) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.blocks = append(cs.blocks, block)
}

func (cs *capturingSink) count() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.blocks)
}

type capturingRequester struct {
	mu    sync.Mutex
	calls [][]common.Hash
}

func (cr *capturingRequester) RequestMissingTxs(digests []common.Hash) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	cr.calls = append(cr.calls, digests)
}

func (cr *capturingRequester) count() int {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return len(cr.calls)
}

// rig is a fully wired single node coordination stack over in-memory
// storage, an inline execution manager and a simulated clock.
type rig struct {
	chain  *blockchain.Chain
	unit   *storage.Unit
	exec   *execution.Manager
	dagL   *dag.Ledger
	stake  *consensus.StakeManager
	pool   *mp.Mempool
	status *ld.TxStatusCache
	sink   *capturingSink
	req    *capturingRequester
	clk    *clock.Simulated
	co     *Coordinator
}

func newRig(t *testing.T, mining bool) *rig {
	viper.Set(common.CfgCoordinatorMining, mining)

	genesis := core.NewGenesisBlock(viper.GetString(common.CfgChainID), 1, 1)
	req := &capturingRequester{}
	sink := &capturingSink{}
	kv := store.NewMemKVStore()

	r := &rig{
		chain:  blockchain.NewChain(viper.GetString(common.CfgChainID), kv, genesis),
		unit:   storage.NewUnit(kv, req),
		dagL:   dag.NewLedger(),
		stake:  consensus.NewStakeManager(),
		status: ld.NewTxStatusCache(1024),
		sink:   sink,
		req:    req,
		clk:    clock.NewSimulated(),
	}
	r.exec = execution.NewInlineManager(r.unit)
	r.pool = mp.NewMempool(r.unit, r.status, nil)
	r.stake.SetStake(minerOne, 100)
	r.stake.SetStake(minerTwo, 100)

	r.co = NewCoordinator(Params{
		Chain:        r.chain,
		DAG:          r.dagL,
		Stake:        r.stake,
		ExecMgr:      r.exec,
		Storage:      r.unit,
		Packer:       r.pool,
		Sink:         sink,
		StatusCache:  r.status,
		Miner:        consensus.NewNonceMiner(),
		Clock:        r.clk,
		MinerAddress: minerOne,
	})
	return r
}

// step runs one tick, advancing the simulated clock by the requested delay.
func (r *rig) step(t *testing.T) {
	delay := r.co.Tick()
	if delay > 0 {
		r.clk.Advance(delay)
	}

	// at most one block cursor may be live at any point
	if r.co.currentBlock != nil && r.co.nextBlock != nil {
		t.Fatal("both block cursors set after tick")
	}
}

func (r *rig) stepUntil(t *testing.T, done func() bool, max int) {
	for i := 0; i < max; i++ {
		if done() {
			return
		}
		r.step(t)
	}
	t.Fatalf("condition not reached within %d ticks, state %v", max, r.co.CurrentState())
}

func (r *rig) stepUntilState(t *testing.T, target State, max int) {
	r.stepUntil(t, func() bool { return r.co.CurrentState() == target }, max)
}

// makeChild builds a block the pre-execution checks accept, minus the state
// hash which the caller chooses.
func (r *rig) makeChild(parent *core.Block, miner common.Address, stateHash common.Hash, txs ...core.Transaction) *core.Block {
	block := core.NewBlock()
	block.ChainID = parent.ChainID
	block.Parent = parent.Hash
	block.Height = parent.Height + 1
	block.Miner = miner
	block.NumLanes = 1
	block.NumSlices = 1
	block.Slices = make([]core.Slice, 1)
	for _, tx := range txs {
		block.Slices[0] = append(block.Slices[0], tx.Digest)
	}
	block.Weight = r.stake.GetBlockGenerationWeight(parent, miner)
	block.StateHash = stateHash
	block.DAGEpoch = core.DAGEpoch{Number: block.Height}
	block.UpdateHash()
	return block
}

func TestStartupReachesSynchronised(t *testing.T) {
	assert := assert.New(t)
	setTestConfig()

	r := newRig(t, false)
	assert.Equal(StateReload, r.co.CurrentState())

	r.stepUntilState(t, StateSynchronised, 50)
	assert.Equal(r.chain.Root().Hash, r.co.LastExecutedBlock())
	assert.Equal(core.GenesisStateRoot, r.unit.LastCommitHash())
}

func TestProduceAndAdoptBlock(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	setTestConfig()

	// producing node
	producer := newRig(t, true)
	tx1 := core.NewTransaction(common.Bytes("transfer 1"))
	tx2 := core.NewTransaction(common.Bytes("transfer 2"))
	require.NoError(producer.pool.Add(tx1))
	require.NoError(producer.pool.Add(tx2))

	producer.stepUntilState(t, StateSynchronised, 50)
	producer.co.TriggerBlockGeneration()
	producer.stepUntil(t, func() bool { return producer.sink.count() > 0 }, 200)
	producer.stepUntilState(t, StateSynchronised, 50)

	produced := producer.sink.blocks[0]
	assert.Equal(uint64(1), produced.Height)
	assert.Equal(2, produced.TxCount())
	assert.Equal(produced.Hash, producer.chain.HeaviestBlockHash())
	assert.Equal(produced.Hash, producer.co.LastExecutedBlock())
	assert.True(core.LeadingZeroBits(produced.Hash) >= produced.Proof.Target)

	status, ok := producer.status.Get(tx1.Digest)
	require.True(ok)
	assert.Equal(core.TxStatusExecuted, status)

	// adopting node: receives the transactions, then the block
	adopter := newRig(t, false)
	adopter.stepUntilState(t, StateSynchronised, 50)

	adopter.unit.AddTransaction(tx1)
	adopter.unit.AddTransaction(tx2)
	_, err := adopter.chain.AddBlock(produced)
	require.NoError(err)

	adopter.stepUntil(t, func() bool { return adopter.co.LastExecutedBlock() == produced.Hash }, 200)
	assert.Equal(produced.Hash, adopter.chain.HeaviestBlockHash())
	assert.Equal(produced.StateHash, adopter.unit.LastCommitHash())
}

func TestMissingTransactionsTimeout(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	setTestConfig()

	r := newRig(t, false)
	r.stepUntilState(t, StateSynchronised, 50)
	genesis := r.chain.Root().Block

	missing := []core.Transaction{
		core.NewTransaction(common.Bytes("lost 1")),
		core.NewTransaction(common.Bytes("lost 2")),
		core.NewTransaction(common.Bytes("lost 3")),
	}
	block := r.makeChild(genesis, minerTwo, common.HexToHash("0xff"), missing...)
	_, err := r.chain.AddBlock(block)
	require.NoError(err)

	// the grace period passes without the transactions arriving, so exactly
	// one pull request goes out
	r.stepUntil(t, func() bool { return r.req.count() > 0 }, 1000)
	require.Equal(1, r.req.count())
	assert.Len(r.req.calls[0], 3)
	assert.True(r.chain.HasBlock(block.Hash))

	// the hard timeout passes, the block is abandoned
	r.stepUntil(t, func() bool { return !r.chain.HasBlock(block.Hash) }, 1000)
	require.Equal(1, r.req.count())

	r.stepUntilState(t, StateSynchronised, 50)
	assert.Equal(genesis.Hash, r.chain.HeaviestBlockHash())
	assert.Equal(genesis.Hash, r.co.LastExecutedBlock())
}

func TestLateTransactionsUnblockExecution(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	setTestConfig()

	r := newRig(t, false)
	r.stepUntilState(t, StateSynchronised, 50)
	genesis := r.chain.Root().Block

	tx := core.NewTransaction(common.Bytes("late arrival"))

	// the block's state hash must reflect the executed transaction; compute
	// it on a scratch unit
	scratch := storage.NewUnit(store.NewMemKVStore(), nil)
	scratch.Set(tx.Digest, tx.Payload)
	block := r.makeChild(genesis, minerTwo, scratch.CurrentHash(), tx)
	_, err := r.chain.AddBlock(block)
	require.NoError(err)

	r.stepUntilState(t, StateWaitForTransactions, 50)
	for i := 0; i < 10; i++ {
		r.step(t)
	}
	assert.Equal(StateWaitForTransactions, r.co.CurrentState())

	// the transaction arrives before any timeout
	r.unit.AddTransaction(tx)
	r.stepUntil(t, func() bool { return r.co.LastExecutedBlock() == block.Hash }, 200)
	assert.Zero(r.req.count())
	assert.Equal(block.StateHash, r.unit.LastCommitHash())
}

func TestInvalidStateHashRevertsToParent(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	setTestConfig()

	r := newRig(t, false)
	r.stepUntilState(t, StateSynchronised, 50)
	genesis := r.chain.Root().Block

	// an empty block whose claimed state hash cannot result from execution
	block := r.makeChild(genesis, minerTwo, common.HexToHash("0xbad"))
	_, err := r.chain.AddBlock(block)
	require.NoError(err)

	r.stepUntil(t, func() bool { return !r.chain.HasBlock(block.Hash) }, 200)
	r.stepUntilState(t, StateSynchronised, 50)

	assert.Equal(genesis.Hash, r.co.LastExecutedBlock())
	assert.Equal(genesis.Hash, r.chain.HeaviestBlockHash())
	assert.Equal(core.GenesisStateRoot, r.unit.CurrentHash())
}

func TestForkConvergence(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	setTestConfig()

	r := newRig(t, false)
	r.stepUntilState(t, StateSynchronised, 50)
	genesis := r.chain.Root().Block

	// two competing, individually valid children of genesis
	childOne := r.makeChild(genesis, minerOne, core.GenesisStateRoot)
	childTwo := r.makeChild(genesis, minerTwo, core.GenesisStateRoot)
	_, err := r.chain.AddBlock(childOne)
	require.NoError(err)
	_, err = r.chain.AddBlock(childTwo)
	require.NoError(err)

	heavy := r.chain.HeaviestBlockHash()
	r.stepUntil(t, func() bool { return r.co.LastExecutedBlock() == heavy }, 400)

	// extend the losing fork; two stake draws always outweigh one
	light := childOne
	if heavy == childOne.Hash {
		light = childTwo
	}
	extension := r.makeChild(light, minerOne, core.GenesisStateRoot)
	_, err = r.chain.AddBlock(extension)
	require.NoError(err)
	require.Equal(extension.Hash, r.chain.HeaviestBlockHash())

	// the coordinator reverts to the common ancestor and replays
	r.stepUntil(t, func() bool { return r.co.LastExecutedBlock() == extension.Hash }, 400)
	assert.Equal(extension.Hash, r.chain.HeaviestBlockHash())
}

func TestResetToGenesisReplaysChain(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	setTestConfig()

	r := newRig(t, false)
	r.stepUntilState(t, StateSynchronised, 50)
	genesis := r.chain.Root().Block

	block := r.makeChild(genesis, minerTwo, core.GenesisStateRoot)
	_, err := r.chain.AddBlock(block)
	require.NoError(err)
	r.stepUntil(t, func() bool { return r.co.LastExecutedBlock() == block.Hash }, 200)

	r.co.ResetToGenesis()
	assert.Equal(core.GenesisDigest, r.co.LastExecutedBlock())

	r.stepUntil(t, func() bool { return r.co.LastExecutedBlock() == block.Hash }, 400)
	assert.Equal(block.Hash, r.chain.HeaviestBlockHash())
}

func TestTriggerBlockGenerationRequiresMining(t *testing.T) {
	assert := assert.New(t)
	setTestConfig()

	r := newRig(t, false)
	r.stepUntilState(t, StateSynchronised, 50)

	r.co.TriggerBlockGeneration()
	for i := 0; i < 20; i++ {
		r.step(t)
	}
	assert.Equal(StateSynchronised, r.co.CurrentState())
	assert.Zero(r.sink.count())
}

func TestUnstakedMinerDoesNotProduce(t *testing.T) {
	assert := assert.New(t)
	setTestConfig()

	r := newRig(t, true)
	r.stake.SetStake(minerOne, 0)
	r.stepUntilState(t, StateSynchronised, 50)

	r.co.TriggerBlockGeneration()
	for i := 0; i < 20; i++ {
		r.step(t)
	}
	assert.Equal(StateSynchronised, r.co.CurrentState())
	assert.Zero(r.sink.count())
}

func TestInvalidWeightRejected(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	setTestConfig()

	r := newRig(t, false)
	r.stepUntilState(t, StateSynchronised, 50)
	genesis := r.chain.Root().Block

	block := r.makeChild(genesis, minerTwo, core.GenesisStateRoot)
	block.Weight = block.Weight + 1
	block.UpdateHash()
	_, err := r.chain.AddBlock(block)
	require.NoError(err)

	r.stepUntil(t, func() bool { return !r.chain.HasBlock(block.Hash) }, 200)
	r.stepUntilState(t, StateSynchronised, 50)
	assert.Equal(genesis.Hash, r.co.LastExecutedBlock())
}

func TestTamperedBlockDigestRejected(t *testing.T) {
	require := require.New(t)
	setTestConfig()

	r := newRig(t, false)
	r.stepUntilState(t, StateSynchronised, 50)
	genesis := r.chain.Root().Block

	block := r.makeChild(genesis, minerTwo, core.GenesisStateRoot)
	block.Hash = common.HexToHash("0x123456")
	_, err := r.chain.AddBlock(block)
	require.NoError(err)

	r.stepUntil(t, func() bool { return !r.chain.HasBlock(block.Hash) }, 200)
}

func TestStateStrings(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("Reloading State", StateReload.String())
	assert.Equal("Synchronising", StateSynchronising.String())
	assert.Equal("Synchronised", StateSynchronised.String())
	assert.NotEqual(StateReset.String(), StateTransmitBlock.String())
}
