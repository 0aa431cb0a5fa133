package probe

// TaskStatus is the lifecycle state of a server-side task.
type TaskStatus string

const (
	TaskWorking       TaskStatus = "working"
	TaskInputRequired TaskStatus = "input_required"
	TaskCompleted     TaskStatus = "completed"
	TaskFailed        TaskStatus = "failed"
	TaskCancelled     TaskStatus = "cancelled"
)

// Valid reports whether the status is one the protocol defines.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskWorking, TaskInputRequired, TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// Terminal reports whether the status is final. Terminal tasks never
// transition again; cancelling one must be rejected.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// taskStatusOf extracts the status field from a task object.
func taskStatusOf(task map[string]any) TaskStatus {
	status, _ := task["status"].(string)
	return TaskStatus(status)
}

// findTask returns the first task whose status satisfies the predicate.
func findTask(tasks []map[string]any, match func(TaskStatus) bool) (map[string]any, bool) {
	for _, t := range tasks {
		if match(taskStatusOf(t)) {
			return t, true
		}
	}
	return nil, false
}
