package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattisledger/lattis/common"
	"github.com/lattisledger/lattis/core"
	"github.com/lattisledger/lattis/ledger/storage"
	"github.com/lattisledger/lattis/store"
)

func newTestRig(t *testing.T) (*Manager, *storage.Unit) {
	unit := storage.NewUnit(store.NewMemKVStore(), nil)
	return NewInlineManager(unit), unit
}

func blockWithTxs(parent common.Hash, txs ...core.Transaction) *core.Block {
	block := &core.Block{
		BlockHeader: &core.BlockHeader{
			Parent:    parent,
			Height:    1,
			NumLanes:  1,
			NumSlices: 1,
		},
		Slices: make([]core.Slice, 1),
	}
	for _, tx := range txs {
		block.Slices[0] = append(block.Slices[0], tx.Digest)
	}
	block.UpdateHash()
	return block
}

func TestExecuteAppliesTransactions(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	mgr, unit := newTestRig(t)

	tx := core.NewTransaction(common.Bytes("set x=1"))
	unit.AddTransaction(tx)

	block := blockWithTxs(core.GenesisDigest, tx)
	require.Equal(core.ScheduleStatusScheduled, mgr.Execute(block))
	assert.Equal(core.ExecutionStateIdle, mgr.GetState())
	assert.Equal(block.Hash, mgr.LastProcessedBlock())

	value, ok := unit.Get(tx.Digest)
	require.True(ok)
	assert.Equal(tx.Payload, value)
}

func TestExecuteMissingTransaction(t *testing.T) {
	assert := assert.New(t)

	mgr, unit := newTestRig(t)

	present := core.NewTransaction(common.Bytes("present"))
	absent := core.NewTransaction(common.Bytes("absent"))
	unit.AddTransaction(present)

	block := blockWithTxs(core.GenesisDigest, present, absent)
	assert.Equal(core.ScheduleStatusScheduled, mgr.Execute(block))
	assert.Equal(core.ExecutionStateTransactionsUnavailable, mgr.GetState())
	assert.NotEqual(block.Hash, mgr.LastProcessedBlock())
}

func TestSetLastProcessedBlockResets(t *testing.T) {
	assert := assert.New(t)

	mgr, _ := newTestRig(t)

	target := common.HexToHash("0xaa")
	mgr.SetLastProcessedBlock(target)
	assert.Equal(core.ExecutionStateIdle, mgr.GetState())
	assert.Equal(target, mgr.LastProcessedBlock())
}

func TestAbortReturnsToIdle(t *testing.T) {
	assert := assert.New(t)

	mgr, _ := newTestRig(t)

	absent := core.NewTransaction(common.Bytes("absent"))
	block := blockWithTxs(core.GenesisDigest, absent)
	mgr.Execute(block)
	assert.Equal(core.ExecutionStateTransactionsUnavailable, mgr.GetState())

	mgr.Abort()
	assert.Equal(core.ExecutionStateIdle, mgr.GetState())
}
