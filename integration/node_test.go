package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattisledger/lattis/common"
	"github.com/lattisledger/lattis/coordinator"
	"github.com/lattisledger/lattis/core"
	"github.com/lattisledger/lattis/node"
	"github.com/lattisledger/lattis/store/database/backend"
)

func setIntegrationConfig() {
	viper.Set(common.CfgChainID, "integration")
	viper.Set(common.CfgChainNumLanes, 2)
	viper.Set(common.CfgChainNumSlices, 2)
	viper.Set(common.CfgChainBlockDifficulty, 1)
	viper.Set(common.CfgCoordinatorBlockPeriod, "1h") // only explicit triggers
	viper.Set(common.CfgCoordinatorSynergeticEnabled, true)
	viper.Set(common.CfgCoordinatorStatusInterval, "10s")
}

func waitSynchronised(t *testing.T, n *node.Node) {
	require.Eventually(t, func() bool {
		return n.Coordinator.CurrentState() == coordinator.StateSynchronised
	}, 10*time.Second, 10*time.Millisecond, "coordinator never synchronised")
}

func newTestNode(t *testing.T, mining bool) *node.Node {
	viper.Set(common.CfgCoordinatorMining, mining)
	return node.NewNode(&node.Params{
		ChainID:      viper.GetString(common.CfgChainID),
		MinerAddress: common.Address{0x01},
		MinerStake:   100,
		DB:           backend.NewMemDatabase(),
	})
}

func TestNodeProducesAndPropagatesBlock(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	setIntegrationConfig()

	producer := newTestNode(t, true)
	adopter := newTestNode(t, false)

	// pipe the producer's broadcasts straight into the adopter
	producer.Dispatcher.AddBlockHandler(func(block *core.Block) {
		adopter.ReceiveBlock(block)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(producer.Start(ctx))
	require.NoError(adopter.Start(ctx))
	defer func() {
		producer.Stop()
		adopter.Stop()
		producer.Wait()
		adopter.Wait()
	}()

	tx := core.NewTransaction(common.Bytes("pay bob 10"))
	require.NoError(producer.SubmitTransaction(tx))
	adopter.StorageUnit.AddTransaction(tx)

	// a reset rearms the block interval, so only trigger once settled
	waitSynchronised(t, producer)
	producer.Coordinator.TriggerBlockGeneration()

	require.Eventually(func() bool {
		return producer.Chain.HeaviestBlock().Height == 1
	}, 10*time.Second, 10*time.Millisecond, "producer never mined a block")

	produced := producer.Chain.HeaviestBlock()
	assert.Equal(1, produced.TxCount())

	require.Eventually(func() bool {
		return adopter.Coordinator.LastExecutedBlock() == produced.Hash
	}, 10*time.Second, 10*time.Millisecond, "adopter never executed the block")

	assert.Equal(produced.Hash, adopter.Chain.HeaviestBlockHash())
	assert.Equal(produced.StateHash, adopter.StorageUnit.LastCommitHash())

	status, ok := adopter.StatusCache.Get(tx.Digest)
	require.True(ok)
	assert.Equal(core.TxStatusExecuted, status)
}

func TestNodeParksOrphanUntilParentArrives(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	setIntegrationConfig()

	producer := newTestNode(t, true)
	adopter := newTestNode(t, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(producer.Start(ctx))
	defer func() {
		producer.Stop()
		producer.Wait()
	}()

	// mine two empty blocks back to back
	var mu sync.Mutex
	var blocks []*core.Block
	producer.Dispatcher.AddBlockHandler(func(block *core.Block) {
		mu.Lock()
		defer mu.Unlock()
		blocks = append(blocks, block)
	})
	for i := 0; i < 2; i++ {
		waitSynchronised(t, producer)
		producer.Coordinator.TriggerBlockGeneration()
		height := uint64(i + 1)
		require.Eventually(func() bool {
			return producer.Chain.HeaviestBlock().Height == height
		}, 10*time.Second, 10*time.Millisecond)
	}
	require.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(blocks) == 2
	}, 5*time.Second, 10*time.Millisecond)

	// deliver out of order: the child parks, the parent unlocks it
	require.NoError(adopter.ReceiveBlock(blocks[1]))
	assert.True(adopter.Orphans.Contains(blocks[1].Hash))
	assert.False(adopter.Chain.HasBlock(blocks[1].Hash))

	require.NoError(adopter.ReceiveBlock(blocks[0]))
	assert.True(adopter.Chain.HasBlock(blocks[0].Hash))
	assert.True(adopter.Chain.HasBlock(blocks[1].Hash))
	assert.False(adopter.Orphans.Contains(blocks[1].Hash))
}
