package probe

import (
	"context"
	"fmt"
	"time"
)

// taskPollAttempts bounds how long TASK-008 follows a spawned task.
const taskPollAttempts = 3

// tasksSuite validates the experimental tasks extension: the catalog, the
// status state machine, and task-augmented tool calls.
func tasksSuite() suiteDef {
	return suiteDef{
		Name:       "tasks",
		Capability: "tasks",
		Checks: []checkDef{
			{
				ID:          "TASK-001",
				Description: "tasks/list returns a list of tasks",
				Severity:    SeverityCritical,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					tasks, _, err := rc.session.ListPaginated(ctx, methodTasksList, "tasks")
					if err != nil {
						return Fail("tasks/list failed: %v", err)
					}
					rc.tasks = tasks
					return Pass("Found %d tasks", len(tasks))
				},
			},
			{
				ID:          "TASK-002",
				Description: "Each task has taskId, status, createdAt",
				Severity:    SeverityError,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					if len(rc.tasks) == 0 {
						return Skip("No tasks discovered")
					}
					var issues []string
					for _, t := range rc.tasks {
						tid, _ := t["taskId"].(string)
						if tid == "" {
							issues = append(issues, "task missing 'taskId'")
						}
						if status := taskStatusOf(t); !status.Valid() {
							issues = append(issues, fmt.Sprintf("task %q has invalid status: %q", tid, status))
						}
						if created, _ := t["createdAt"].(string); created == "" {
							issues = append(issues, fmt.Sprintf("task %q missing 'createdAt'", tid))
						}
					}
					if len(issues) > 0 {
						return Fail("%s", joinLimited(issues, 5))
					}
					return Pass("All %d tasks have required fields", len(rc.tasks))
				},
			},
			{
				ID:          "TASK-003",
				Description: "tasks/get returns task status",
				Severity:    SeverityError,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					if len(rc.tasks) == 0 {
						return Skip("No tasks to get")
					}
					taskID, _ := rc.tasks[0]["taskId"].(string)
					resp, err := rc.session.GetTask(ctx, taskID)
					if err != nil {
						return Fail("tasks/get failed: %v", err)
					}
					rc.recordErrorCode(resp)
					if resp.Error != nil {
						return Fail("tasks/get error: %s", resp.Error.Message)
					}
					result := resp.ResultMap()
					if result["taskId"] == nil || result["status"] == nil {
						return Fail("Response missing taskId or status")
					}
					return Pass("Task %q status: %v", taskID, result["status"])
				},
			},
			{
				ID:          "TASK-004",
				Description: "Nonexistent taskId returns error",
				Severity:    SeverityWarning,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					resp, err := rc.session.GetTask(ctx, "nonexistent-task-id-00000")
					if err != nil {
						return Fail("Server crashed: %v", err)
					}
					rc.recordErrorCode(resp)
					if resp.Error != nil {
						return Pass("Server returned error for nonexistent taskId")
					}
					return Fail("Server did not return error for nonexistent taskId")
				},
			},
			{
				ID:          "TASK-005",
				Description: "tasks/cancel cancels a working task",
				Severity:    SeverityError,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					working, found := findTask(rc.tasks, func(s TaskStatus) bool { return s == TaskWorking })
					if !found {
						return Skip("No tasks in 'working' status")
					}
					taskID, _ := working["taskId"].(string)
					resp, err := rc.session.CancelTask(ctx, taskID)
					if err != nil {
						return Fail("cancel failed: %v", err)
					}
					rc.recordErrorCode(resp)
					if resp.Error != nil {
						return Fail("cancel error: %s", resp.Error.Message)
					}
					if status := resp.ResultMap()["status"]; status == string(TaskCancelled) {
						return Pass("Task %q cancelled", taskID)
					}
					return Warn("Task %q status after cancel: %v", taskID, resp.ResultMap()["status"])
				},
			},
			{
				ID:          "TASK-006",
				Description: "tasks/cancel on terminal task returns error",
				Severity:    SeverityWarning,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					terminal, found := findTask(rc.tasks, TaskStatus.Terminal)
					if !found {
						return Skip("No tasks in terminal status")
					}
					taskID, _ := terminal["taskId"].(string)
					resp, err := rc.session.CancelTask(ctx, taskID)
					if err != nil {
						return Fail("cancel failed: %v", err)
					}
					rc.recordErrorCode(resp)
					if resp.Error != nil {
						return Pass("Server returned error (code=%d) for cancel on terminal task", resp.Error.Code)
					}
					return Warn("Server did not return error for cancel on terminal task")
				},
			},
			{
				ID:          "TASK-007",
				Description: "tasks/result returns completed task result",
				Severity:    SeverityError,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					completed, found := findTask(rc.tasks, func(s TaskStatus) bool { return s == TaskCompleted })
					if !found {
						return Skip("No completed tasks")
					}
					taskID, _ := completed["taskId"].(string)
					resp, err := rc.session.GetTaskResult(ctx, taskID)
					if err != nil {
						return Fail("tasks/result failed: %v", err)
					}
					rc.recordErrorCode(resp)
					if resp.Error != nil {
						return Fail("tasks/result error: %s", resp.Error.Message)
					}
					return Pass("Got result for completed task %q", taskID)
				},
			},
			{
				ID:          "TASK-008",
				Description: "Task-augmented tools/call returns task handle",
				Severity:    SeverityError,
				Run:         checkTaskAugmentedCall,
			},
		},
	}
}

// checkTaskAugmentedCall asks the server to run a tool as a task, then
// polls the handle a bounded number of times. A task that stays in
// "working" is not a failure; the handle shape is what is under test.
func checkTaskAugmentedCall(ctx context.Context, rc *runContext) Outcome {
	if !rc.session.SubCapability("tasks", "tools") {
		return Skip("Server does not advertise tasks.tools capability")
	}
	if len(rc.tools) == 0 {
		return Skip("No tools available for task-augmented call")
	}

	var (
		tool map[string]any
		args map[string]any
	)
	for _, t := range rc.tools {
		schema, _ := t["inputSchema"].(map[string]any)
		if a := generateValidArgs(schema); a != nil {
			tool = t
			args = a
			break
		}
	}
	if tool == nil {
		return Skip("No tool with simple enough schema for task-augmented call")
	}

	name, _ := tool["name"].(string)
	resp, err := rc.session.CallToolWithTask(ctx, name, args, 30000)
	if err != nil {
		return Fail("Task-augmented call failed: %v", err)
	}
	rc.recordErrorCode(resp)
	if resp.Error != nil {
		return Fail("Task-augmented call error: %s", resp.Error.Message)
	}

	result := resp.ResultMap()
	if typ, _ := result["type"].(string); typ != "task" {
		return Fail("Response type is %v, expected \"task\"", result["type"])
	}
	taskID, _ := result["taskId"].(string)
	if taskID == "" {
		return Fail("Response missing taskId")
	}

	status, _ := result["status"].(string)
	details := fmt.Sprintf("Task %q created with status %q", taskID, status)
	if TaskStatus(status) != TaskWorking {
		return Pass("%s", details)
	}

	pollInterval := time.Second
	if ms, ok := result["pollInterval"].(float64); ok && ms > 0 {
		pollInterval = time.Duration(ms) * time.Millisecond
	}
	for attempt := 0; attempt < taskPollAttempts; attempt++ {
		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return Pass("%s", details)
		}
		poll, err := rc.session.GetTask(ctx, taskID)
		if err != nil {
			break
		}
		pollStatus := TaskStatus(fmt.Sprint(poll.ResultMap()["status"]))
		if pollStatus.Terminal() {
			details += fmt.Sprintf(" -> %s", pollStatus)
			if pollStatus == TaskCompleted {
				if _, err := rc.session.GetTaskResult(ctx, taskID); err == nil {
					details += " (result fetched)"
				}
			}
			break
		}
	}
	return Pass("%s", details)
}
