package node

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"

	"github.com/lattisledger/lattis/blockchain"
	"github.com/lattisledger/lattis/common"
	"github.com/lattisledger/lattis/consensus"
	"github.com/lattisledger/lattis/coordinator"
	"github.com/lattisledger/lattis/core"
	"github.com/lattisledger/lattis/dag"
	dp "github.com/lattisledger/lattis/dispatcher"
	"github.com/lattisledger/lattis/execution"
	ld "github.com/lattisledger/lattis/ledger"
	"github.com/lattisledger/lattis/ledger/storage"
	mp "github.com/lattisledger/lattis/mempool"
	"github.com/lattisledger/lattis/store"
	"github.com/lattisledger/lattis/store/database"
	"github.com/lattisledger/lattis/store/kvstore"
)

// Node assembles the block coordination stack: chain, storage unit,
// execution manager, DAG ledger, mempool, dispatcher and the coordinator
// that sequences them.
type Node struct {
	Store       store.Store
	Chain       *blockchain.Chain
	Orphans     *blockchain.OrphanPool
	StorageUnit *storage.Unit
	ExecMgr     *execution.Manager
	DAG         *dag.Ledger
	Stake       *consensus.StakeManager
	Mempool     *mp.Mempool
	Dispatcher  *dp.Dispatcher
	StatusCache *ld.TxStatusCache
	Coordinator *coordinator.Coordinator

	// Life cycle
	wg      *sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
}

type Params struct {
	ChainID      string
	MinerAddress common.Address
	MinerStake   uint64
	DB           database.Database
	Registerer   prometheus.Registerer
}

func NewNode(params *Params) *Node {
	kv := kvstore.NewKVStore(params.DB)

	genesis := core.NewGenesisBlock(params.ChainID,
		uint16(viper.GetInt(common.CfgChainNumLanes)),
		uint16(viper.GetInt(common.CfgChainNumSlices)))
	chain := blockchain.NewChain(params.ChainID, kv, genesis)

	dispatcher := dp.NewDispatcher()
	storageUnit := storage.NewUnit(kv, dispatcher)
	execMgr := execution.NewManager(storageUnit)
	statusCache := ld.NewTxStatusCache(0)
	mempool := mp.NewMempool(storageUnit, statusCache, mp.NewMetrics(params.Registerer))

	var dagLedger *dag.Ledger
	if viper.GetBool(common.CfgCoordinatorSynergeticEnabled) {
		dagLedger = dag.NewLedger()
	}

	stake := consensus.NewStakeManager()
	if params.MinerStake > 0 {
		stake.SetStake(params.MinerAddress, params.MinerStake)
	}

	coordParams := coordinator.Params{
		Chain:        chain,
		Stake:        stake,
		ExecMgr:      execMgr,
		Storage:      storageUnit,
		Packer:       mempool,
		Sink:         dispatcher,
		StatusCache:  statusCache,
		Miner:        consensus.NewNonceMiner(),
		Metrics:      coordinator.NewMetrics(params.Registerer),
		MinerAddress: params.MinerAddress,
	}
	if dagLedger != nil {
		coordParams.DAG = dagLedger
	}

	return &Node{
		Store:       kv,
		Chain:       chain,
		Orphans:     blockchain.NewOrphanPool(),
		StorageUnit: storageUnit,
		ExecMgr:     execMgr,
		DAG:         dagLedger,
		Stake:       stake,
		Mempool:     mempool,
		Dispatcher:  dispatcher,
		StatusCache: statusCache,
		Coordinator: coordinator.NewCoordinator(coordParams),

		wg: &sync.WaitGroup{},
	}
}

// SubmitTransaction accepts a transaction into the node's pool.
func (n *Node) SubmitTransaction(tx core.Transaction) error {
	if err := n.Mempool.Add(tx); err != nil {
		return err
	}
	n.StatusCache.Update(tx.Digest, core.TxStatusPending)
	return nil
}

// ReceiveBlock ingests a block received from a peer. Orphans are parked
// until their parent arrives; the coordinator picks added blocks up on its
// next synchronisation pass.
func (n *Node) ReceiveBlock(block *core.Block) error {
	_, err := n.Chain.AddBlock(block)
	if err != nil {
		if errors.Cause(err) == blockchain.ErrParentNotFound {
			n.Orphans.Add(block)
			return nil
		}
		return err
	}

	// the new block may unlock parked descendants
	for parent := block.Hash; ; {
		child := n.Orphans.TryGetChild(parent)
		if child == nil {
			break
		}
		if _, err := n.Chain.AddBlock(child); err != nil {
			break
		}
		parent = child.Hash
	}
	return nil
}

// Start starts sub components and kicks off the coordinator loop.
func (n *Node) Start(ctx context.Context) error {
	c, cancel := context.WithCancel(ctx)
	n.ctx = c
	n.cancel = cancel

	if err := n.Dispatcher.Start(n.ctx); err != nil {
		return err
	}
	n.Coordinator.Start(n.ctx)
	return nil
}

// Stop notifies all sub components to stop without blocking.
func (n *Node) Stop() {
	n.cancel()
	n.Dispatcher.Stop()
}

// Wait blocks until all sub components stop.
func (n *Node) Wait() {
	n.Coordinator.Wait()
	n.Dispatcher.Wait()
	n.wg.Wait()
}
