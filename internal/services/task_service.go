package services

import (
	"context"
	"strings"
	"time"

	"greendrake/offers/internal/cache"
	"greendrake/offers/internal/models"
	"greendrake/offers/internal/store"
	"greendrake/offers/internal/utils"
)

// TaskInput creates a task.
type TaskInput struct {
	Type        string              `json:"task_type" binding:"required"`
	Description string              `json:"description"`
	Priority    models.TaskPriority `json:"priority"`
	AssignedTo  *utils.SixID        `json:"assigned_to,omitempty"`
	DueDate     *time.Time          `json:"due_date,omitempty"`
}

// ITaskService manages an offer's operational tasks.
type ITaskService interface {
	List(ctx context.Context, identity models.Identity, offerID utils.SixID) ([]models.OfferTask, error)
	Create(ctx context.Context, identity models.Identity, offerID utils.SixID, in TaskInput) (*models.OfferTask, error)
	UpdateStatus(ctx context.Context, identity models.Identity, offerID, taskID utils.SixID, status models.TaskStatus) (*models.OfferTask, error)
	Assign(ctx context.Context, identity models.Identity, offerID, taskID utils.SixID, assignee *utils.SixID) (*models.OfferTask, error)
	Delete(ctx context.Context, identity models.Identity, offerID, taskID utils.SixID) error
}

var taskTransitions = map[models.TaskStatus][]models.TaskStatus{
	models.TaskPending:    {models.TaskInProgress, models.TaskCompleted, models.TaskRejected},
	models.TaskInProgress: {models.TaskCompleted, models.TaskRejected},
}

type taskService struct {
	satellite
}

// NewTaskService creates a new TaskService.
func NewTaskService(st store.RecordStore, roles IRoleResolver, timeline ITimelineService, c *cache.TTLCache) ITaskService {
	return &taskService{satellite: newSatellite(st, roles, timeline, c)}
}

func (s *taskService) List(ctx context.Context, identity models.Identity, offerID utils.SixID) ([]models.OfferTask, error) {
	const op = "tasks.list"
	if _, err := s.authorize(ctx, op, identity, offerID, models.RoleBuyer, models.RoleSeller, models.RoleAdmin); err != nil {
		return nil, err
	}
	rows, err := s.list(ctx, op, models.TableTasks, offerID)
	if err != nil {
		return nil, err
	}
	tasks, err := store.DecodeAll[models.OfferTask](rows)
	return tasks, storeFailure(op, err)
}

// Create adds a task in pendiente. Only the seller side creates tasks.
func (s *taskService) Create(ctx context.Context, identity models.Identity, offerID utils.SixID, in TaskInput) (*models.OfferTask, error) {
	const op = "tasks.create"
	res, err := s.authorize(ctx, op, identity, offerID, models.RoleSeller, models.RoleAdmin)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Type) == "" {
		return nil, validationError(op, "A task needs a type.")
	}
	if in.Priority == "" {
		in.Priority = models.PriorityNormal
	}
	if in.Priority.Rank() < 0 {
		return nil, validationError(op, "Unknown task priority.")
	}

	var task *models.OfferTask
	err = s.insert(ctx, op, models.TableTasks, func(id utils.SixID) interface{} {
		now := s.now()
		task = &models.OfferTask{
			ID:          id,
			OfferID:     offerID,
			Type:        strings.TrimSpace(in.Type),
			Description: strings.TrimSpace(in.Description),
			Priority:    in.Priority,
			Status:      models.TaskPending,
			AssignedTo:  in.AssignedTo,
			DueDate:     in.DueDate,
			CreatedBy:   identity.ID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return task
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, res, offerID, EventTaskCreated, "Tarea creada", task.Description, map[string]interface{}{
		"task_id":  task.ID.String(),
		"priority": string(task.Priority),
		"status":   string(task.Status),
	})
	return task, nil
}

// UpdateStatus moves a task along its lifecycle. The assignee may update
// their own task; everyone else needs the seller side.
func (s *taskService) UpdateStatus(ctx context.Context, identity models.Identity, offerID, taskID utils.SixID, status models.TaskStatus) (*models.OfferTask, error) {
	const op = "tasks.update_status"
	res, err := s.authorize(ctx, op, identity, offerID, models.RoleBuyer, models.RoleSeller, models.RoleAdmin)
	if err != nil {
		return nil, err
	}
	var task models.OfferTask
	if err := s.fetch(ctx, op, models.TableTasks, "Task", offerID, taskID, &task); err != nil {
		return nil, err
	}
	assignee := task.AssignedTo != nil && *task.AssignedTo == identity.ID
	if !assignee && !res.Is(models.RoleSeller, models.RoleAdmin) {
		return nil, permissionDenied(op, "")
	}
	if !canTransition(taskTransitions, task.Status, status) {
		return nil, newError(KindStateTransition, op, "This task cannot move to that status.", nil)
	}

	old := task.Status
	if err := s.conditionalUpdate(ctx, op, models.TableTasks, taskID, string(old), store.Row{"status": status}, &task); err != nil {
		return nil, err
	}
	s.record(ctx, res, offerID, EventTaskUpdated, "Tarea actualizada", "", map[string]interface{}{
		"task_id":    task.ID.String(),
		"old_status": string(old),
		"new_status": string(status),
	})
	return &task, nil
}

// Assign sets or clears the assignee.
func (s *taskService) Assign(ctx context.Context, identity models.Identity, offerID, taskID utils.SixID, assignee *utils.SixID) (*models.OfferTask, error) {
	const op = "tasks.assign"
	res, err := s.authorize(ctx, op, identity, offerID, models.RoleSeller, models.RoleAdmin)
	if err != nil {
		return nil, err
	}
	patch := store.Row{"assigned_to": nil, "updated_at": s.now()}
	assigned := ""
	if assignee != nil {
		patch["assigned_to"] = *assignee
		assigned = assignee.String()
	}
	var task models.OfferTask
	if err := s.update(ctx, op, models.TableTasks, "Task", offerID, taskID, patch, &task); err != nil {
		return nil, err
	}
	s.record(ctx, res, offerID, EventTaskAssigned, "Tarea asignada", "", map[string]interface{}{
		"task_id":     task.ID.String(),
		"assigned_to": assigned,
	})
	return &task, nil
}

func (s *taskService) Delete(ctx context.Context, identity models.Identity, offerID, taskID utils.SixID) error {
	const op = "tasks.delete"
	res, err := s.authorize(ctx, op, identity, offerID, models.RoleSeller, models.RoleAdmin)
	if err != nil {
		return err
	}
	if err := s.remove(ctx, op, models.TableTasks, "Task", offerID, taskID); err != nil {
		return err
	}
	s.record(ctx, res, offerID, EventTaskDeleted, "Tarea eliminada", "", map[string]interface{}{
		"task_id": taskID.String(),
	})
	return nil
}
