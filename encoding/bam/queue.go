package bam

// PartitionQueue hands out partitions to workers. Each partition is handed
// out once; there is no way to put one back. Thread safe.
type PartitionQueue struct {
	ch chan Partition
	n  int
}

// NewPartitionQueue creates a queue holding parts, in order.
func NewPartitionQueue(parts []Partition) *PartitionQueue {
	ch := make(chan Partition, len(parts))
	for _, p := range parts {
		ch <- p
	}
	close(ch)
	return &PartitionQueue{ch: ch, n: len(parts)}
}

// Poll removes and returns the next partition. It never blocks. It returns
// false once the queue is drained, and the caller should then stop.
func (q *PartitionQueue) Poll() (Partition, bool) {
	select {
	case p, ok := <-q.ch:
		return p, ok
	default:
		return Partition{}, false
	}
}

// Len returns the number of partitions the queue was created with.
func (q *PartitionQueue) Len() int { return q.n }
