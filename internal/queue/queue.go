package queue

import (
	"container/heap"
	"sync"
)

// Item is a single item in the priority queue
type Item[T any] struct {
	Value    T
	Priority int
	seq      uint64
	index    int
}

// priorityHeap implements heap.Interface.
// Lower priority values dequeue first; ties dequeue in insertion order,
// which gives FIFO behaviour when every item shares one priority.
type priorityHeap[T any] []*Item[T]

func (ph priorityHeap[T]) Len() int { return len(ph) }

func (ph priorityHeap[T]) Less(i, j int) bool {
	if ph[i].Priority != ph[j].Priority {
		return ph[i].Priority < ph[j].Priority
	}
	return ph[i].seq < ph[j].seq
}

func (ph priorityHeap[T]) Swap(i, j int) {
	ph[i], ph[j] = ph[j], ph[i]
	ph[i].index = i
	ph[j].index = j
}

func (ph *priorityHeap[T]) Push(x interface{}) {
	n := len(*ph)
	item := x.(*Item[T])
	item.index = n
	*ph = append(*ph, item)
}

func (ph *priorityHeap[T]) Pop() interface{} {
	old := *ph
	n := len(old)
	item := old[n-1]
	old[n-1] = nil  // avoid memory leak
	item.index = -1 // for safety
	*ph = old[0 : n-1]
	return item
}

// PriorityQueue is a thread-safe generic priority queue with FIFO tie-breaking.
type PriorityQueue[T any] struct {
	heap priorityHeap[T]
	seq  uint64
	mu   sync.Mutex
}

func NewPriorityQueue[T any]() *PriorityQueue[T] {
	pq := &PriorityQueue[T]{
		heap: make(priorityHeap[T], 0),
	}
	heap.Init(&pq.heap)
	return pq
}

func (pq *PriorityQueue[T]) Len() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return pq.heap.Len()
}

// Enqueue adds a value with the given priority. Lower values dequeue first.
func (pq *PriorityQueue[T]) Enqueue(value T, priority int) {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	pq.seq++
	heap.Push(&pq.heap, &Item[T]{
		Value:    value,
		Priority: priority,
		seq:      pq.seq,
	})
}

// Dequeue removes and returns the highest priority item from the queue
func (pq *PriorityQueue[T]) Dequeue() (T, bool) {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if pq.heap.Len() == 0 {
		var zero T
		return zero, false
	}

	item := heap.Pop(&pq.heap).(*Item[T])
	return item.Value, true
}

// DequeueAll drains the queue in priority order.
func (pq *PriorityQueue[T]) DequeueAll() []T {
	items := make([]T, 0, pq.Len())
	for {
		item, ok := pq.Dequeue()
		if !ok {
			return items
		}
		items = append(items, item)
	}
}

// Clear removes all queued items and returns them in priority order.
func (pq *PriorityQueue[T]) Clear() []T {
	return pq.DequeueAll()
}
