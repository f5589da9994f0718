package domain

// TaskMessage is the execution unit published to the task queue. Worker and
// Machine are snapshots taken at submit time.
type TaskMessage struct {
	JobID       string  `json:"job_id"`
	TaskID      string  `json:"task_id"`
	TaskName    string  `json:"task_name"`
	Worker      Worker  `json:"worker"`
	Machine     Machine `json:"machine"`
	DeliveryTag uint64  `json:"-"`
}
