package taskrunner

import (
	"container/heap"
	"sync"
)

// taskQueue is a min-heap on (priority, seq) with a wakeup channel for the
// dispatcher.
type taskQueue struct {
	mu     sync.Mutex
	items  taskHeap
	seq    uint64
	notify chan struct{}
}

func newTaskQueue() *taskQueue {
	q := &taskQueue{notify: make(chan struct{}, 1)}
	heap.Init(&q.items)
	return q
}

func (q *taskQueue) push(task Task) {
	q.mu.Lock()
	q.seq++
	heap.Push(&q.items, &queuedTask{task: task, seq: q.seq})
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop blocks until a task is available or done closes.
func (q *taskQueue) pop(done <-chan struct{}) (Task, bool) {
	for {
		q.mu.Lock()
		if q.items.Len() > 0 {
			item := heap.Pop(&q.items).(*queuedTask)
			q.mu.Unlock()
			return item.task, true
		}
		q.mu.Unlock()

		select {
		case <-done:
			return Task{}, false
		case <-q.notify:
		}
	}
}

func (q *taskQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

func (q *taskQueue) countByKind() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	counts := make(map[string]int, len(Kinds))
	for _, kind := range Kinds {
		counts[kind.String()] = 0
	}
	for _, item := range q.items {
		counts[item.task.Kind.String()]++
	}
	return counts
}

// drain empties the queue and returns the dropped tasks in dispatch order.
func (q *taskQueue) drain() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	tasks := make([]Task, 0, q.items.Len())
	for q.items.Len() > 0 {
		tasks = append(tasks, heap.Pop(&q.items).(*queuedTask).task)
	}
	return tasks
}

type queuedTask struct {
	task Task
	seq  uint64
}

type taskHeap []*queuedTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	pi, pj := h[i].task.Kind.Priority(), h[j].task.Kind.Priority()
	if pi != pj {
		return pi < pj
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*queuedTask)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
