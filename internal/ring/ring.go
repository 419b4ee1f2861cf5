package ring

// Buffer 固定容量的环形缓冲区；写满后覆盖最旧的元素
// Buffer is a fixed-capacity ring; once full, each Push evicts the oldest item in O(1).
type Buffer[T any] struct {
	items []T
	start int
	size  int
}

func New[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

func (b *Buffer[T]) Push(item T) {
	capacity := len(b.items)
	if b.size < capacity {
		b.items[(b.start+b.size)%capacity] = item
		b.size++
		return
	}
	b.items[b.start] = item
	b.start = (b.start + 1) % capacity
}

// Items returns a copy ordered oldest to newest.
func (b *Buffer[T]) Items() []T {
	out := make([]T, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.items[(b.start+i)%len(b.items)]
	}
	return out
}

// Newest returns up to n items ordered newest to oldest. n <= 0 means all.
func (b *Buffer[T]) Newest(n int) []T {
	if n <= 0 || n > b.size {
		n = b.size
	}
	out := make([]T, n)
	for i := 0; i < n; i++ {
		idx := (b.start + b.size - 1 - i) % len(b.items)
		out[i] = b.items[idx]
	}
	return out
}
