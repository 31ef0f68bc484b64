package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lattisledger/lattis/common"
	"github.com/lattisledger/lattis/core"
)

func TestDispatchBlockToHandlers(t *testing.T) {
	require := require.New(t)

	dp := NewDispatcher()
	received := make(chan *core.Block, 1)
	dp.AddBlockHandler(func(block *core.Block) {
		received <- block
	})

	require.NoError(dp.Start(context.Background()))
	defer dp.Stop()

	block := core.NewGenesisBlock("test", 4, 4)
	dp.OnBlock(block)

	select {
	case got := <-received:
		require.Equal(block.Hash, got.Hash)
	case <-time.After(time.Second):
		t.Fatal("block was not dispatched")
	}
}

func TestDispatchTxRequest(t *testing.T) {
	require := require.New(t)

	dp := NewDispatcher()
	received := make(chan []common.Hash, 1)
	dp.AddTxRequestHandler(func(digests []common.Hash) {
		received <- digests
	})

	require.NoError(dp.Start(context.Background()))
	defer dp.Stop()

	want := []common.Hash{common.HexToHash("0x01"), common.HexToHash("0x02")}
	dp.RequestMissingTxs(want)

	select {
	case got := <-received:
		require.Equal(want, got)
	case <-time.After(time.Second):
		t.Fatal("tx request was not dispatched")
	}
}
