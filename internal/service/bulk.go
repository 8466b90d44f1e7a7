package service

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/appointment_scheduler/internal/apperr"
	"github.com/Freeeeeet/appointment_scheduler/internal/model"
	"go.uber.org/zap"
)

type BulkOperation string

const (
	BulkConfirm      BulkOperation = "CONFIRM"
	BulkCancel       BulkOperation = "CANCEL"
	BulkUpdateStatus BulkOperation = "UPDATE_STATUS"
)

// MaxBulkSize максимальное число записей в одной пакетной операции
const MaxBulkSize = 100

// BulkInput пакетная операция над записями
type BulkInput struct {
	AppointmentIDs []int64                 `validate:"required,min=1,max=100,dive,gt=0"`
	Operation      BulkOperation           `validate:"required,oneof=CONFIRM CANCEL UPDATE_STATUS"`
	Status         model.AppointmentStatus `validate:"required_if=Operation UPDATE_STATUS"`
	Reason         string                  `validate:"max=500"`
}

// BulkItemResult результат операции над одной записью
type BulkItemResult struct {
	AppointmentID int64                   `json:"appointment_id"`
	Success       bool                    `json:"success"`
	Status        model.AppointmentStatus `json:"status,omitempty"`
	Code          apperr.Code             `json:"code,omitempty"`
	Error         string                  `json:"error,omitempty"`
}

// BulkResult итог пакетной операции
type BulkResult struct {
	TotalOperations      int              `json:"total_operations"`
	SuccessfulOperations int              `json:"successful_operations"`
	FailedOperations     int              `json:"failed_operations"`
	Results              []BulkItemResult `json:"results"`
	Errors               []BulkItemResult `json:"errors"`
}

// Bulk применяет операцию к каждой записи в отдельной транзакции.
// Ошибка бизнес-правила по одной записи не останавливает остальные;
// инфраструктурная ошибка прерывает пакет, уже выполненные операции остаются в силе.
func (s *AppointmentService) Bulk(ctx context.Context, actor model.Actor, input BulkInput) (*BulkResult, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	result := &BulkResult{
		TotalOperations: len(input.AppointmentIDs),
		Results:         make([]BulkItemResult, 0, len(input.AppointmentIDs)),
		Errors:          []BulkItemResult{},
	}

	for _, id := range input.AppointmentIDs {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("bulk %s interrupted: %w", input.Operation, err)
		}

		a, err := s.applyBulk(ctx, actor, id, input)
		if err != nil {
			if apperr.KindOf(err) == "" {
				s.logger.Error("Bulk operation aborted",
					zap.String("operation", string(input.Operation)),
					zap.Int64("appointment_id", id),
					zap.Int("processed", len(result.Results)),
					zap.Error(err))
				return result, fmt.Errorf("bulk %s aborted at appointment %d: %w", input.Operation, id, err)
			}

			item := BulkItemResult{
				AppointmentID: id,
				Code:          apperr.CodeOf(err),
				Error:         err.Error(),
			}
			result.FailedOperations++
			result.Results = append(result.Results, item)
			result.Errors = append(result.Errors, item)
			continue
		}

		result.SuccessfulOperations++
		result.Results = append(result.Results, BulkItemResult{
			AppointmentID: id,
			Success:       true,
			Status:        a.Status,
		})
	}

	s.logger.Info("Bulk operation completed",
		zap.String("operation", string(input.Operation)),
		zap.Int("total", result.TotalOperations),
		zap.Int("successful", result.SuccessfulOperations),
		zap.Int("failed", result.FailedOperations),
		zap.Int64("actor_id", actor.ID))

	return result, nil
}

func (s *AppointmentService) applyBulk(ctx context.Context, actor model.Actor, id int64, input BulkInput) (*model.Appointment, error) {
	switch input.Operation {
	case BulkConfirm:
		return s.Confirm(ctx, actor, id)
	case BulkCancel:
		return s.Cancel(ctx, actor, id, input.Reason)
	default:
		return s.UpdateStatus(ctx, actor, id, input.Status, input.Reason)
	}
}
