package exchange

import (
	"container/heap"
	"fmt"
	"sort"
)

// Book holds resting orders for one pair in strict price-time priority:
// best price first (highest bid, lowest ask), earliest sequence first among
// equal prices.
//
// The Book is not synchronized. It is owned exclusively by the Engine for
// its pair and is only touched under the engine's lock.
type Book struct {
	// Heap-based best price tracking (O(1) peek).
	bidHeap *maxPriceHeap
	askHeap *minPriceHeap

	// Price level queues, kept in ascending order id. Normal inserts append
	// (ids are monotonic); a maker restored after a rolled-back fill slots
	// back in front of later arrivals.
	bids map[int64][]*Order
	asks map[int64][]*Order

	// Order index for O(1) side/price lookup on removal.
	index map[OrderID]bookSlot
}

type bookSlot struct {
	side  Side
	price int64
}

func NewBook() *Book {
	bidHeap := &maxPriceHeap{}
	askHeap := &minPriceHeap{}
	heap.Init(bidHeap)
	heap.Init(askHeap)

	return &Book{
		bidHeap: bidHeap,
		askHeap: askHeap,
		bids:    make(map[int64][]*Order),
		asks:    make(map[int64][]*Order),
		index:   make(map[OrderID]bookSlot),
	}
}

func (b *Book) levels(side Side) map[int64][]*Order {
	if side == Buy {
		return b.bids
	}
	return b.asks
}

// Insert adds a resting order, keeping the priority invariant.
// Remaining must be positive.
func (b *Book) Insert(o *Order) {
	if o.Remaining <= 0 {
		panic(fmt.Sprintf("book: insert order %d with remaining %d", o.ID, o.Remaining))
	}

	levels := b.levels(o.Side)
	level := levels[o.Price]
	if len(level) == 0 {
		if o.Side == Buy {
			heap.Push(b.bidHeap, o.Price)
		} else {
			heap.Push(b.askHeap, o.Price)
		}
	}

	// Slot by order id so a restored maker keeps its original time priority.
	i := len(level)
	for i > 0 && level[i-1].ID > o.ID {
		i--
	}
	level = append(level, nil)
	copy(level[i+1:], level[i:])
	level[i] = o
	levels[o.Price] = level

	b.index[o.ID] = bookSlot{side: o.Side, price: o.Price}
}

// PeekBest returns the highest-priority resting order for a side without
// removing it, or false if the side is empty.
func (b *Book) PeekBest(side Side) (*Order, bool) {
	var price int64
	if side == Buy {
		if b.bidHeap.Len() == 0 {
			return nil, false
		}
		price = b.bidHeap.Peek()
	} else {
		if b.askHeap.Len() == 0 {
			return nil, false
		}
		price = b.askHeap.Peek()
	}
	level := b.levels(side)[price]
	if len(level) == 0 {
		// Levels are removed together with their heap entry; an empty
		// level here means the book invariant is broken.
		panic(fmt.Sprintf("book: empty level at price %d", price))
	}
	return level[0], true
}

// Get returns a resting order without removing it.
func (b *Book) Get(id OrderID) (*Order, bool) {
	slot, ok := b.index[id]
	if !ok {
		return nil, false
	}
	for _, o := range b.levels(slot.side)[slot.price] {
		if o.ID == id {
			return o, true
		}
	}
	return nil, false
}

// Remove takes an order out of the book and returns it.
// Returns ErrOrderNotFound if the id is not resting.
func (b *Book) Remove(id OrderID) (*Order, error) {
	slot, ok := b.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrOrderNotFound, id)
	}

	levels := b.levels(slot.side)
	level := levels[slot.price]
	for i, o := range level {
		if o.ID != id {
			continue
		}
		level = append(level[:i], level[i+1:]...)
		if len(level) == 0 {
			delete(levels, slot.price)
			b.removeHeapPrice(slot.side, slot.price)
		} else {
			levels[slot.price] = level
		}
		delete(b.index, id)
		return o, nil
	}
	panic(fmt.Sprintf("book: indexed order %d missing from level %d", id, slot.price))
}

// removeHeapPrice drops an emptied price level from its heap.
// O(N) over price levels, which is acceptable at level granularity.
func (b *Book) removeHeapPrice(side Side, price int64) {
	if side == Buy {
		for i := 0; i < b.bidHeap.Len(); i++ {
			if (*b.bidHeap)[i] == price {
				heap.Remove(b.bidHeap, i)
				return
			}
		}
	} else {
		for i := 0; i < b.askHeap.Len(); i++ {
			if (*b.askHeap)[i] == price {
				heap.Remove(b.askHeap, i)
				return
			}
		}
	}
}

// Len returns the number of resting orders on a side.
func (b *Book) Len(side Side) int {
	n := 0
	for _, level := range b.levels(side) {
		n += len(level)
	}
	return n
}

// Depth returns the total resting quantity at one price on a side.
func (b *Book) Depth(side Side, price int64) int64 {
	var qty int64
	for _, o := range b.levels(side)[price] {
		qty += o.Remaining
	}
	return qty
}

// BestBid returns the highest bid level, or false if there are no bids.
func (b *Book) BestBid() (PriceLevel, bool) {
	if b.bidHeap.Len() == 0 {
		return PriceLevel{}, false
	}
	p := b.bidHeap.Peek()
	return PriceLevel{Price: p, Quantity: b.Depth(Buy, p)}, true
}

// BestAsk returns the lowest ask level, or false if there are no asks.
func (b *Book) BestAsk() (PriceLevel, bool) {
	if b.askHeap.Len() == 0 {
		return PriceLevel{}, false
	}
	p := b.askHeap.Peek()
	return PriceLevel{Price: p, Quantity: b.Depth(Sell, p)}, true
}

// BidLevels returns all bid levels sorted high to low (best first).
func (b *Book) BidLevels() []PriceLevel {
	levels := b.collectLevels(Buy)
	sort.Slice(levels, func(i, j int) bool { return levels[i].Price > levels[j].Price })
	return levels
}

// AskLevels returns all ask levels sorted low to high (best first).
func (b *Book) AskLevels() []PriceLevel {
	levels := b.collectLevels(Sell)
	sort.Slice(levels, func(i, j int) bool { return levels[i].Price < levels[j].Price })
	return levels
}

func (b *Book) collectLevels(side Side) []PriceLevel {
	out := make([]PriceLevel, 0, len(b.levels(side)))
	for price, level := range b.levels(side) {
		var qty int64
		for _, o := range level {
			qty += o.Remaining
		}
		out = append(out, PriceLevel{Price: price, Quantity: qty})
	}
	return out
}
