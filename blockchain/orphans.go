package blockchain

import (
	"container/list"
	"sync"

	"github.com/lattisledger/lattis/common"
	"github.com/lattisledger/lattis/core"
)

const maxOrphanPoolSize = 64

// OrphanPool parks blocks whose parent has not arrived yet. When the pool is
// full the oldest entry is evicted.
type OrphanPool struct {
	mu sync.Mutex

	blocks        *list.List
	hashToBlock   map[common.Hash]*list.Element
	parentToBlock map[common.Hash]*list.Element
}

func NewOrphanPool() *OrphanPool {
	return &OrphanPool{
		blocks:        list.New(),
		hashToBlock:   make(map[common.Hash]*list.Element),
		parentToBlock: make(map[common.Hash]*list.Element),
	}
}

func (op *OrphanPool) Contains(hash common.Hash) bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	_, ok := op.hashToBlock[hash]
	return ok
}

func (op *OrphanPool) Len() int {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.blocks.Len()
}

func (op *OrphanPool) Add(block *core.Block) {
	op.mu.Lock()
	defer op.mu.Unlock()

	if _, ok := op.hashToBlock[block.Hash]; ok {
		return
	}
	if op.blocks.Len() >= maxOrphanPoolSize {
		op.removeOldest()
	}

	el := op.blocks.PushBack(block)
	op.hashToBlock[block.Hash] = el
	op.parentToBlock[block.Parent] = el
}

// TryGetChild removes and returns a parked block whose parent is hash, or
// nil when none is waiting.
func (op *OrphanPool) TryGetChild(hash common.Hash) *core.Block {
	op.mu.Lock()
	defer op.mu.Unlock()

	el, ok := op.parentToBlock[hash]
	if !ok {
		return nil
	}
	block := el.Value.(*core.Block)
	op.remove(block)
	return block
}

func (op *OrphanPool) remove(block *core.Block) {
	el, ok := op.hashToBlock[block.Hash]
	if !ok {
		return
	}
	op.blocks.Remove(el)
	delete(op.hashToBlock, block.Hash)
	delete(op.parentToBlock, block.Parent)
}

func (op *OrphanPool) removeOldest() {
	el := op.blocks.Front()
	if el == nil {
		return
	}
	op.remove(el.Value.(*core.Block))
}
