package dispatcher

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/lattisledger/lattis/common"
	"github.com/lattisledger/lattis/core"
)

var logger *log.Entry = log.WithFields(log.Fields{"prefix": "dispatcher"})

// BlockHandler receives blocks the coordinator has produced and transmitted.
type BlockHandler func(block *core.Block)

// TxRequestHandler receives requests for transactions missing from the local
// pool.
type TxRequestHandler func(digests []common.Hash)

// Dispatcher fans produced blocks and missing-transaction requests out to
// registered handlers. It is the seam where a network layer would attach;
// handlers run on a single dispatch goroutine so they never block the
// coordinator.
type Dispatcher struct {
	mu sync.RWMutex

	blockHandlers []BlockHandler
	txHandlers    []TxRequestHandler

	blocksOut chan *core.Block
	txsOut    chan []common.Hash

	// Life cycle
	wg      *sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
}

var _ core.BlockSink = (*Dispatcher)(nil)

// NewDispatcher returns a dispatcher with no handlers attached.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		blocksOut: make(chan *core.Block, 64),
		txsOut:    make(chan []common.Hash, 64),
		wg:        &sync.WaitGroup{},
	}
}

// AddBlockHandler registers a handler for produced blocks.
func (dp *Dispatcher) AddBlockHandler(handler BlockHandler) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.blockHandlers = append(dp.blockHandlers, handler)
}

// AddTxRequestHandler registers a handler for missing-transaction requests.
func (dp *Dispatcher) AddTxRequestHandler(handler TxRequestHandler) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.txHandlers = append(dp.txHandlers, handler)
}

// Start is called when the dispatcher starts.
func (dp *Dispatcher) Start(ctx context.Context) error {
	c, cancel := context.WithCancel(ctx)
	dp.ctx = c
	dp.cancel = cancel

	dp.wg.Add(1)
	go dp.dispatchLoop()
	return nil
}

// Stop is called when the dispatcher stops.
func (dp *Dispatcher) Stop() {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if dp.stopped {
		return
	}
	dp.stopped = true
	dp.cancel()
}

// Wait suspends the caller goroutine until the dispatch loop has drained.
func (dp *Dispatcher) Wait() {
	dp.wg.Wait()
}

// OnBlock implements core.BlockSink. Called by the coordinator when a block
// it produced has been added to the chain.
func (dp *Dispatcher) OnBlock(block *core.Block) {
	select {
	case dp.blocksOut <- block:
	default:
		logger.WithFields(log.Fields{"block": block.Hash.Hex()}).Warn("Block dispatch queue full, dropping")
	}
}

// RequestMissingTxs forwards a missing-transaction pull request to the
// registered handlers.
func (dp *Dispatcher) RequestMissingTxs(digests []common.Hash) {
	select {
	case dp.txsOut <- digests:
	default:
		logger.WithFields(log.Fields{"count": len(digests)}).Warn("Tx request queue full, dropping")
	}
}

func (dp *Dispatcher) dispatchLoop() {
	defer dp.wg.Done()
	for {
		select {
		case <-dp.ctx.Done():
			return
		case block := <-dp.blocksOut:
			dp.mu.RLock()
			handlers := dp.blockHandlers
			dp.mu.RUnlock()
			for _, handler := range handlers {
				handler(block)
			}
		case digests := <-dp.txsOut:
			dp.mu.RLock()
			handlers := dp.txHandlers
			dp.mu.RUnlock()
			for _, handler := range handlers {
				handler(digests)
			}
		}
	}
}
