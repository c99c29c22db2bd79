package executor

import "github.com/JakeFAU/crawl-dispatcher/internal/taskqueue"

// Notice is published when a task reaches a terminal status.
type Notice struct {
	TaskID string               `json:"task_id"`
	Status taskqueue.TaskStatus `json:"status"`
	Target string               `json:"target"`
	Type   taskqueue.TaskType   `json:"task_type"`
	Result string               `json:"result,omitempty"`
	Error  string               `json:"error,omitempty"`
}

// Attributes exposes routing attributes to message brokers.
func (n Notice) Attributes() map[string]string {
	return map[string]string{
		"task_id":   n.TaskID,
		"status":    string(n.Status),
		"task_type": string(n.Type),
	}
}

// OrderingKey keeps notices for one target in order.
func (n Notice) OrderingKey() string {
	return n.Target
}
