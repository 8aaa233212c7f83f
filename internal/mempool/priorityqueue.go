package mempool

import (
	"container/heap"

	"github.com/daglabs/powvote-node/internal/blockmodel"
)

// txPriorityQueue implements a heap.Interface of mining descriptors
// ordered by fee rate, the shape of the teacher's mining.go
// txPriorityQueue/txPQByFee pair (container/heap, fee-per-KB compare
// function) adapted to this repo's TxDesc.FeeRate field.
type txPriorityQueue struct {
	items []*txDescItem
}

type txDescItem struct {
	desc    *blockmodel.TxDesc
	feeRate float64
}

func newTxPriorityQueue(reserve int) *txPriorityQueue {
	pq := &txPriorityQueue{items: make([]*txDescItem, 0, reserve)}
	heap.Init(pq)
	return pq
}

func (pq *txPriorityQueue) Len() int { return len(pq.items) }

// Less orders the queue so the highest fee rate pops first.
func (pq *txPriorityQueue) Less(i, j int) bool {
	return pq.items[i].feeRate > pq.items[j].feeRate
}

func (pq *txPriorityQueue) Swap(i, j int) {
	pq.items[i], pq.items[j] = pq.items[j], pq.items[i]
}

func (pq *txPriorityQueue) Push(x interface{}) {
	pq.items = append(pq.items, x.(*txDescItem))
}

func (pq *txPriorityQueue) Pop() interface{} {
	n := len(pq.items)
	item := pq.items[n-1]
	pq.items[n-1] = nil
	pq.items = pq.items[:n-1]
	return item
}
