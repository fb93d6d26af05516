package common

import (
	"time"

	log "github.com/sirupsen/logrus"
	"k8s.io/client-go/util/workqueue"
)

// TaskQueue is a rate limiting queue of node IDs waiting to be checked
type TaskQueue struct {
	queue      workqueue.RateLimitingInterface
	logger     *log.Entry
	maxRetries int
}

// NewTaskQueue creates a queue
// maxRetries limits the retry number for one node, no limit if maxRetries=0
// backoff: 1s, 2s, 4s, 8s, 16s, 32s, 60s, 60s, 60s, ...
func NewTaskQueue(taskName string, maxRetries int) *TaskQueue {
	return &TaskQueue{
		queue: workqueue.NewNamedRateLimitingQueue(
			workqueue.NewItemExponentialFailureRateLimiter(time.Second, time.Minute),
			taskName,
		),
		maxRetries: maxRetries,
		logger:     log.WithField("TaskQueue", taskName),
	}
}

// Add a node into the queue
func (q *TaskQueue) Add(nodeID string) {
	q.queue.Add(nodeID)
}

// AddRateLimited requeues a node with backoff, dropping it once it has
// been retried more than maxRetries times. The node comes back on the
// next periodic scan anyway, so dropping here is safe.
func (q *TaskQueue) AddRateLimited(nodeID string) {
	if q.maxRetries > 0 && q.NumRequeues(nodeID) > q.maxRetries {
		q.logger.WithField("Node", nodeID).Infof("exceeds maxRetries(%d), drop it until next scan", q.maxRetries)
		return
	}
	q.queue.AddRateLimited(nodeID)
}

// Get a node from the queue. It's a blocking call
func (q *TaskQueue) Get() (string, bool) {
	item, shutdown := q.queue.Get()
	if item == nil {
		return "", true
	}
	return item.(string), shutdown
}

// Done completes the task on the node and removes it from the queue
func (q *TaskQueue) Done(nodeID string) {
	q.queue.Done(nodeID)
}

// NumRequeues gets the number of times the node has been retried
func (q *TaskQueue) NumRequeues(nodeID string) int {
	return q.queue.NumRequeues(nodeID)
}

// Forget cleans up the rate limit record of the node
func (q *TaskQueue) Forget(nodeID string) {
	q.queue.Forget(nodeID)
}

// Len returns the number of nodes currently queued
func (q *TaskQueue) Len() int {
	return q.queue.Len()
}

// Shutdown the queue
func (q *TaskQueue) Shutdown() {
	q.queue.ShutDown()
}
