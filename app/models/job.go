package models

import (
	"time"

	"gorm.io/datatypes"
)

// JobState is the lifecycle state of a submitted command
type JobState string

const (
	JobStateQueued     JobState = "queued"
	JobStateRunning    JobState = "running"
	JobStateSucceeded  JobState = "succeeded"
	JobStateFailed     JobState = "failed"
	JobStateRolledBack JobState = "rolled_back"
)

// IsTerminal reports whether no further transition is allowed
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateSucceeded, JobStateFailed, JobStateRolledBack:
		return true
	}
	return false
}

// Error codes recorded on failed jobs
const (
	ErrCodeInvalidCommand = "invalid_command"
	ErrCodeNotFound       = "not_found"
	ErrCodeCSPUnavailable = "csp_unavailable"
	ErrCodeDuplicate      = "duplicate"
	ErrCodeCrashResume    = "crash_resume"
	ErrCodeGeneric        = "error"
)

// JobError is the structured failure stored on a job
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Job tracks one accepted command from queue to terminal state
type Job struct {
	ID        string            `gorm:"type:varchar(64);primaryKey" json:"id"`
	State     JobState          `gorm:"type:varchar(20);not null;index" json:"state"`
	Result    datatypes.JSONMap `gorm:"type:json" json:"result,omitempty"`
	Error     *JobError         `gorm:"type:json;serializer:json" json:"error,omitempty"`
	CreatedAt time.Time         `gorm:"precision:6;autoCreateTime:false" json:"created_at"`
	UpdatedAt time.Time         `gorm:"precision:6;autoUpdateTime:false" json:"updated_at"`
}

func (Job) TableName() string {
	return "jobs"
}

// JobPatch describes a partial job update; nil fields are left untouched
type JobPatch struct {
	State  *JobState              `json:"state,omitempty"`
	Result map[string]interface{} `json:"result,omitempty"`
	Error  *JobError              `json:"error,omitempty"`
}

// Apply merges the patch into job
func (p JobPatch) Apply(job *Job) {
	if p.State != nil {
		job.State = *p.State
	}
	if p.Result != nil {
		job.Result = datatypes.JSONMap(p.Result)
	}
	if p.Error != nil {
		e := *p.Error
		job.Error = &e
	}
}

// Clone returns a deep-enough copy for handing out from in-memory stores
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Result != nil {
		c.Result = make(datatypes.JSONMap, len(j.Result))
		for k, v := range j.Result {
			c.Result[k] = v
		}
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	return &c
}

// StatePtr is a small helper for building patches
func StatePtr(s JobState) *JobState {
	return &s
}
