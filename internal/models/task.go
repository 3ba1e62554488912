package models

import (
	"time"

	"greendrake/offers/internal/utils"
)

// TaskPriority is ordered: baja < normal < alta < urgente.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "baja"
	PriorityNormal TaskPriority = "normal"
	PriorityHigh   TaskPriority = "alta"
	PriorityUrgent TaskPriority = "urgente"
)

var priorityRank = map[TaskPriority]int{
	PriorityLow:    0,
	PriorityNormal: 1,
	PriorityHigh:   2,
	PriorityUrgent: 3,
}

// Rank orders priorities; unknown values rank -1.
func (p TaskPriority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return -1
}

type TaskStatus string

const (
	TaskPending    TaskStatus = "pendiente"
	TaskInProgress TaskStatus = "en_progreso"
	TaskCompleted  TaskStatus = "completada"
	TaskRejected   TaskStatus = "rechazada"
)

// OfferTask is an operational work item attached to an offer.
type OfferTask struct {
	ID          utils.SixID  `bson:"_id" json:"id"`
	OfferID     utils.SixID  `bson:"offer_id" json:"offer_id"`
	Type        string       `bson:"task_type" json:"task_type"`
	Description string       `bson:"description" json:"description"`
	Priority    TaskPriority `bson:"priority" json:"priority"`
	Status      TaskStatus   `bson:"status" json:"status"`
	AssignedTo  *utils.SixID `bson:"assigned_to,omitempty" json:"assigned_to,omitempty"`
	DueDate     *time.Time   `bson:"due_date,omitempty" json:"due_date,omitempty"`
	CreatedBy   utils.SixID  `bson:"created_by" json:"created_by"`
	CreatedAt   time.Time    `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `bson:"updated_at" json:"updated_at"`
}
