package api

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	TaskStatusPending    = "pending"
	TaskStatusProcessing = "processing"
	TaskStatusComplete   = "complete"
	TaskStatusFailed     = "failed"

	TaskKindGenerate = "generate"
	TaskKindLearn    = "learn"
)

// Task tracks one background run so clients can poll for its outcome.
type Task struct {
	ID        string    `json:"task_id"`
	Kind      string    `json:"kind"`
	TargetID  int64     `json:"target_id"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type TaskManager struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

func NewTaskManager() *TaskManager {
	return &TaskManager{
		tasks: make(map[string]*Task),
	}
}

func (m *TaskManager) Create(kind string, targetID int64) *Task {
	now := time.Now().UTC()
	task := &Task{
		ID:        uuid.NewString(),
		Kind:      kind,
		TargetID:  targetID,
		Status:    TaskStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.tasks[task.ID] = task
	m.mu.Unlock()

	return task.clone()
}

func (m *TaskManager) Get(id string) (*Task, bool) {
	m.mu.RLock()
	task, ok := m.tasks[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return task.clone(), true
}

func (m *TaskManager) MarkProcessing(id string) {
	m.withTask(id, func(task *Task) {
		task.Status = TaskStatusProcessing
	})
}

func (m *TaskManager) MarkCompleted(id string) {
	m.withTask(id, func(task *Task) {
		task.Status = TaskStatusComplete
	})
}

func (m *TaskManager) MarkFailed(id string, msg string) {
	m.withTask(id, func(task *Task) {
		task.Status = TaskStatusFailed
		task.Error = strings.TrimSpace(msg)
	})
}

// Finish records err, or success when err is nil.
func (m *TaskManager) Finish(id string, err error) {
	if err != nil {
		m.MarkFailed(id, err.Error())
		return
	}
	m.MarkCompleted(id)
}

func (m *TaskManager) withTask(id string, fn func(task *Task)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return
	}
	fn(task)
	task.UpdatedAt = time.Now().UTC()
}

func (task *Task) clone() *Task {
	if task == nil {
		return nil
	}
	cp := *task
	return &cp
}
