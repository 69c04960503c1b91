// Package errors 定义带错误码的业务错误
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error 业务错误
type Error struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	HTTPStatus int               `json:"-"`
	GRPCCode   codes.Code        `json:"-"`
	Cause      error             `json:"-"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 按错误码比较, 供 errors.Is 使用
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetail 添加单个详情 (返回副本)
func (e *Error) WithDetail(key, value string) *Error {
	newErr := e.Copy()
	if newErr.Details == nil {
		newErr.Details = make(map[string]string)
	}
	newErr.Details[key] = value
	return newErr
}

// WithMessage 替换错误消息 (返回副本)
func (e *Error) WithMessage(message string) *Error {
	newErr := e.Copy()
	newErr.Message = message
	return newErr
}

// Copy 复制错误
func (e *Error) Copy() *Error {
	newErr := &Error{
		Code:       e.Code,
		Message:    e.Message,
		HTTPStatus: e.HTTPStatus,
		GRPCCode:   e.GRPCCode,
		Cause:      e.Cause,
	}
	if e.Details != nil {
		newErr.Details = make(map[string]string, len(e.Details))
		for k, v := range e.Details {
			newErr.Details[k] = v
		}
	}
	return newErr
}

// NewWithStatus 创建带状态码的错误
func NewWithStatus(code, message string, httpStatus int, grpcCode codes.Code) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		GRPCCode:   grpcCode,
	}
}

// Wrap 包装底层错误
func Wrap(err *Error, cause error) *Error {
	newErr := err.Copy()
	newErr.Cause = cause
	return newErr
}

// FromError 从标准错误转换, 非业务错误包装为内部错误
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var bizErr *Error
	if errors.As(err, &bizErr) {
		return bizErr
	}
	return Wrap(ErrInternal, err)
}

// 通用错误码
var (
	ErrInternal       = NewWithStatus("INTERNAL_ERROR", "Error interno", http.StatusInternalServerError, codes.Internal)
	ErrInvalidRequest = NewWithStatus("INVALID_REQUEST", "Solicitud inválida", http.StatusBadRequest, codes.InvalidArgument)
	ErrNotFound       = NewWithStatus("NOT_FOUND", "Recurso no encontrado", http.StatusNotFound, codes.NotFound)
	ErrConflict       = NewWithStatus("CONFLICT", "Conflicto de recurso", http.StatusConflict, codes.AlreadyExists)
)

// 领取 / 分配相关
var (
	ErrCooldownActive          = NewWithStatus("COOLDOWN_ACTIVE", "Debes esperar 24 horas entre claims", http.StatusTooManyRequests, codes.FailedPrecondition)
	ErrInsufficientReputation  = NewWithStatus("INSUFFICIENT_REPUTATION", "Reputación insuficiente para reclamar UBI", http.StatusForbidden, codes.PermissionDenied)
	ErrCommunityNotConfigured  = NewWithStatus("COMMUNITY_NOT_CONFIGURED", "La comunidad no está configurada", http.StatusBadRequest, codes.FailedPrecondition)
	ErrNoEligibleMembers       = NewWithStatus("NO_ELIGIBLE_MEMBERS", "No hay miembros elegibles para la distribución", http.StatusBadRequest, codes.FailedPrecondition)
	ErrInsufficientPool        = NewWithStatus("INSUFFICIENT_POOL", "Fondo comunitario insuficiente", http.StatusBadRequest, codes.FailedPrecondition)
	ErrInvalidAmount           = NewWithStatus("INVALID_AMOUNT", "Monto inválido", http.StatusBadRequest, codes.InvalidArgument)
	ErrInvalidActivityData     = NewWithStatus("INVALID_ACTIVITY_DATA", "Datos de actividad inválidos", http.StatusBadRequest, codes.InvalidArgument)
	ErrUserNotFound            = NewWithStatus("USER_NOT_FOUND", "Usuario no encontrado", http.StatusNotFound, codes.NotFound)
	ErrCommunityNotFound       = NewWithStatus("COMMUNITY_NOT_FOUND", "Comunidad no encontrada", http.StatusNotFound, codes.NotFound)
	ErrClaimNotFound           = NewWithStatus("CLAIM_NOT_FOUND", "Claim no encontrado", http.StatusNotFound, codes.NotFound)
	ErrClaimInProgress         = NewWithStatus("CLAIM_IN_PROGRESS", "Ya hay un claim en proceso para este usuario", http.StatusConflict, codes.Aborted)
	ErrSettlementAlreadyStored = NewWithStatus("SETTLEMENT_ALREADY_STORED", "El claim ya tiene hash de liquidación", http.StatusConflict, codes.AlreadyExists)
)

// 计算任务相关
var (
	ErrComputationFailed  = NewWithStatus("COMPUTATION_FAILED", "La computación privada falló", http.StatusInternalServerError, codes.Internal)
	ErrComputationTimeout = NewWithStatus("COMPUTATION_TIMEOUT", "La computación privada excedió el tiempo límite", http.StatusGatewayTimeout, codes.DeadlineExceeded)
	ErrJobNotFound        = NewWithStatus("JOB_NOT_FOUND", "Trabajo de computación no encontrado", http.StatusNotFound, codes.NotFound)
	ErrUnsupportedJobType = NewWithStatus("UNSUPPORTED_JOB_TYPE", "Tipo de computación no soportado", http.StatusBadRequest, codes.InvalidArgument)
	ErrManagerClosed      = NewWithStatus("MANAGER_CLOSED", "El gestor de computación está cerrado", http.StatusServiceUnavailable, codes.Unavailable)
)

// ToGRPCError 转换为 gRPC 错误
func ToGRPCError(err error) error {
	if err == nil {
		return nil
	}
	var bizErr *Error
	if errors.As(err, &bizErr) {
		return status.Error(bizErr.GRPCCode, bizErr.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// ToHTTPStatus 获取 HTTP 状态码
func ToHTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var bizErr *Error
	if errors.As(err, &bizErr) && bizErr.HTTPStatus != 0 {
		return bizErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// Is 判断错误类型
func Is(err error, target *Error) bool {
	if err == nil || target == nil {
		return false
	}
	return errors.Is(err, target)
}

// GetCode 获取错误码
func GetCode(err error) string {
	if err == nil {
		return ""
	}
	var bizErr *Error
	if errors.As(err, &bizErr) {
		return bizErr.Code
	}
	return "UNKNOWN"
}

// GetMessage 获取用户可读的错误消息
func GetMessage(err error) string {
	if err == nil {
		return ""
	}
	var bizErr *Error
	if errors.As(err, &bizErr) {
		return bizErr.Message
	}
	return err.Error()
}

// IsRetryable 判断错误是否可重试
func IsRetryable(err error) bool {
	var bizErr *Error
	if errors.As(err, &bizErr) {
		switch bizErr.GRPCCode {
		case codes.Unavailable, codes.ResourceExhausted, codes.Aborted, codes.DeadlineExceeded:
			return true
		}
	}
	return false
}
