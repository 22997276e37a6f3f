// picsync - Steam PICS catalog ingestion service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/picsync

package worker

// appQueue is a bounded FIFO of appids awaiting processing. It is touched
// only by the monitor goroutine, so it carries no lock. When full, Push
// refuses the newcomer: under sustained overload the oldest queued changes
// win and fresh arrivals are dropped, to be re-delivered by later deltas or
// swept up by a bulk backfill.
type appQueue struct {
	capacity int
	items    []uint32
	queued   map[uint32]bool
}

func newAppQueue(capacity int) *appQueue {
	return &appQueue{
		capacity: capacity,
		queued:   make(map[uint32]bool),
	}
}

// Push appends an appid, refusing duplicates and overflow. The caller is
// responsible for the processing-set dedup: a re-enqueue after a failed batch
// happens while its members are still marked processing.
func (q *appQueue) Push(appid uint32) bool {
	if q.queued[appid] {
		return true
	}
	if len(q.items) >= q.capacity {
		return false
	}
	q.items = append(q.items, appid)
	q.queued[appid] = true
	return true
}

// Drain removes and returns up to n appids from the front.
func (q *appQueue) Drain(n int) []uint32 {
	n = min(n, len(q.items))
	if n == 0 {
		return nil
	}
	batch := make([]uint32, n)
	copy(batch, q.items[:n])
	q.items = append(q.items[:0], q.items[n:]...)
	for _, appid := range batch {
		delete(q.queued, appid)
	}
	return batch
}

func (q *appQueue) Len() int {
	return len(q.items)
}
