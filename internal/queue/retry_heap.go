package queue

// retryHeap orders retry items by NotBefore, earliest first. Guarded by the
// manager's mutex; never touched directly.
type retryHeap []*Item

func (h retryHeap) Len() int { return len(h) }

func (h retryHeap) Less(i, j int) bool {
	return h[i].NotBefore.Before(h[j].NotBefore)
}

func (h retryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *retryHeap) Push(x interface{}) {
	*h = append(*h, x.(*Item))
}

func (h *retryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
