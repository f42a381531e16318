package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	AuditActionJobCreated = "job.created"
	AuditActionJobUpdated = "job.updated"
)

// AuditLog is an append-only record of every job write
type AuditLog struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	JobID     string         `gorm:"type:varchar(64);not null;index" json:"job_id"`
	Action    string         `gorm:"type:varchar(50);not null" json:"action"`
	Payload   datatypes.JSON `gorm:"type:json" json:"payload"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}
