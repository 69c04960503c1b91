package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// JobType 计算任务类型
type JobType string

const (
	JobTypeReputationScore   JobType = "reputation_score"
	JobTypeTandaVerification JobType = "tanda_verification"
	JobTypeUBICalculation    JobType = "ubi_calculation"
)

// JobStatus 计算任务状态, 只能从 pending 单向进入终态
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal 是否终态
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobInput 按任务类型区分的输入载荷
type JobInput interface {
	JobType() JobType
	isJobInput()
}

// JobOutput 按任务类型区分的输出载荷
type JobOutput interface {
	JobType() JobType
	isJobOutput()
}

// ReputationScoreInput 声誉分计算输入
type ReputationScoreInput struct {
	UserID   string       `json:"user_id"`
	Activity ActivityData `json:"activity"`
}

// ReputationScoreOutput 声誉分计算输出
type ReputationScoreOutput struct {
	Reputation ReputationData `json:"reputation"`
}

// UBICalculationInput 个性化 UBI 计算输入
type UBICalculationInput struct {
	User      User      `json:"user"`
	Community Community `json:"community"`
	// At 计算基准时间, 为零值时使用执行时刻
	At time.Time `json:"at"`
}

// UBICalculationOutput 个性化 UBI 计算输出
type UBICalculationOutput struct {
	Calculation UBICalculation `json:"calculation"`
}

// TandaVerificationInput tanda 校验输入
type TandaVerificationInput struct {
	Request TandaVerificationRequest `json:"request"`
}

// TandaVerificationOutput tanda 校验输出
type TandaVerificationOutput struct {
	Result TandaVerificationResult `json:"result"`
}

func (ReputationScoreInput) JobType() JobType    { return JobTypeReputationScore }
func (UBICalculationInput) JobType() JobType     { return JobTypeUBICalculation }
func (TandaVerificationInput) JobType() JobType  { return JobTypeTandaVerification }
func (ReputationScoreOutput) JobType() JobType   { return JobTypeReputationScore }
func (UBICalculationOutput) JobType() JobType    { return JobTypeUBICalculation }
func (TandaVerificationOutput) JobType() JobType { return JobTypeTandaVerification }

func (ReputationScoreInput) isJobInput()     {}
func (UBICalculationInput) isJobInput()      {}
func (TandaVerificationInput) isJobInput()   {}
func (ReputationScoreOutput) isJobOutput()   {}
func (UBICalculationOutput) isJobOutput()    {}
func (TandaVerificationOutput) isJobOutput() {}

// ComputationJob 可寻址的异步计算单元
// CompletedAt 仅在终态时设置; 失败时 Outputs 为 nil, Error 记录原因
type ComputationJob struct {
	ID          string     `json:"id"`
	Type        JobType    `json:"type"`
	Inputs      JobInput   `json:"inputs"`
	Outputs     JobOutput  `json:"outputs,omitempty"`
	Status      JobStatus  `json:"status"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ComputationJobRecord 计算任务审计记录
type ComputationJobRecord struct {
	ID           string      `gorm:"column:id;primaryKey;type:varchar(64)"`
	Type         JobType     `gorm:"column:type;type:varchar(32);not null;index"`
	Status       JobStatus   `gorm:"column:status;type:varchar(16);not null;index"`
	Inputs       JSONPayload `gorm:"column:inputs;type:jsonb"`
	Outputs      JSONPayload `gorm:"column:outputs;type:jsonb"`
	ErrorMessage *string     `gorm:"column:error_message;type:text"`
	CreatedAt    int64       `gorm:"column:created_at;not null;index"`
	CompletedAt  *int64      `gorm:"column:completed_at"`
}

// TableName 表名
func (ComputationJobRecord) TableName() string {
	return "ubi_computation_jobs"
}

// JSONPayload JSON 列
type JSONPayload json.RawMessage

// Value 实现 driver.Valuer 接口
func (p JSONPayload) Value() (driver.Value, error) {
	if len(p) == 0 {
		return nil, nil
	}
	return []byte(p), nil
}

// Scan 实现 sql.Scanner 接口
func (p *JSONPayload) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*p = nil
	case []byte:
		*p = append((*p)[:0], v...)
	case string:
		*p = JSONPayload(v)
	default:
		return errors.New("type assertion to []byte failed")
	}
	return nil
}

// NewJobRecord 将任务快照转换为审计记录
func NewJobRecord(job *ComputationJob) (*ComputationJobRecord, error) {
	rec := &ComputationJobRecord{
		ID:        job.ID,
		Type:      job.Type,
		Status:    job.Status,
		CreatedAt: job.CreatedAt.UnixMilli(),
	}
	if job.Inputs != nil {
		data, err := json.Marshal(job.Inputs)
		if err != nil {
			return nil, fmt.Errorf("marshal job inputs: %w", err)
		}
		rec.Inputs = data
	}
	if job.Outputs != nil {
		data, err := json.Marshal(job.Outputs)
		if err != nil {
			return nil, fmt.Errorf("marshal job outputs: %w", err)
		}
		rec.Outputs = data
	}
	if job.Error != "" {
		msg := job.Error
		rec.ErrorMessage = &msg
	}
	if job.CompletedAt != nil {
		ms := job.CompletedAt.UnixMilli()
		rec.CompletedAt = &ms
	}
	return rec, nil
}

// ToJob 从审计记录还原任务
func (r *ComputationJobRecord) ToJob() (*ComputationJob, error) {
	job := &ComputationJob{
		ID:        r.ID,
		Type:      r.Type,
		Status:    r.Status,
		CreatedAt: time.UnixMilli(r.CreatedAt),
	}
	if r.ErrorMessage != nil {
		job.Error = *r.ErrorMessage
	}
	if r.CompletedAt != nil {
		t := time.UnixMilli(*r.CompletedAt)
		job.CompletedAt = &t
	}
	in, out, err := decodePayloads(r.Type, r.Inputs, r.Outputs)
	if err != nil {
		return nil, err
	}
	job.Inputs = in
	job.Outputs = out
	return job, nil
}

func decodePayloads(t JobType, rawIn, rawOut JSONPayload) (JobInput, JobOutput, error) {
	switch t {
	case JobTypeReputationScore:
		return decodePair[ReputationScoreInput, ReputationScoreOutput](rawIn, rawOut)
	case JobTypeUBICalculation:
		return decodePair[UBICalculationInput, UBICalculationOutput](rawIn, rawOut)
	case JobTypeTandaVerification:
		return decodePair[TandaVerificationInput, TandaVerificationOutput](rawIn, rawOut)
	}
	return nil, nil, fmt.Errorf("unknown job type %q", t)
}

func decodePair[I JobInput, O JobOutput](rawIn, rawOut JSONPayload) (JobInput, JobOutput, error) {
	var in JobInput
	if len(rawIn) > 0 {
		var v I
		if err := json.Unmarshal(rawIn, &v); err != nil {
			return nil, nil, fmt.Errorf("unmarshal job inputs: %w", err)
		}
		in = v
	}
	var out JobOutput
	if len(rawOut) > 0 {
		var v O
		if err := json.Unmarshal(rawOut, &v); err != nil {
			return nil, nil, fmt.Errorf("unmarshal job outputs: %w", err)
		}
		out = v
	}
	return in, out, nil
}
