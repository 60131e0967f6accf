package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"duespay_app/internal/models"
)

const defaultMaxAttempt = 3

// BuildScheduledTask is a helper to build ScheduledTask records generically
func BuildScheduledTask(taskName string, args interface{}, due time.Time, recurringInterval *string, taskType models.ScheduledTaskType, maxAttempt int) (*models.ScheduledTask, error) {
	argsBytes, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal args: %w", err)
	}

	var mapArgs map[string]interface{}
	if err := json.Unmarshal(argsBytes, &mapArgs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into map: %w", err)
	}

	return &models.ScheduledTask{
		TaskName:          taskName,
		Arguments:         mapArgs,
		Due:               due,
		RecurringInterval: recurringInterval,
		Status:            models.ScheduledTaskStatusActive,
		TaskType:          taskType,
		MaxAttempt:        maxAttempt,
	}, nil
}

// DBScheduler submits work by inserting ScheduledTask rows for the worker
// to pick up. It is the production implementation of the orchestrator's
// Scheduler dependency.
type DBScheduler struct {
	db *gorm.DB
}

func NewDBScheduler(db *gorm.DB) *DBScheduler {
	return &DBScheduler{db: db}
}

// SubmitNow enqueues a task due immediately
func (s *DBScheduler) SubmitNow(taskName string, args map[string]interface{}) error {
	return s.SubmitAt(taskName, args, time.Now())
}

// SubmitAt enqueues a task to run no earlier than due
func (s *DBScheduler) SubmitAt(taskName string, args map[string]interface{}, due time.Time) error {
	task, err := BuildScheduledTask(taskName, args, due, nil, models.ScheduledTaskTypeOneTime, defaultMaxAttempt)
	if err != nil {
		return err
	}
	if err := s.db.Create(task).Error; err != nil {
		return fmt.Errorf("failed to enqueue task %s: %w", taskName, err)
	}
	return nil
}
