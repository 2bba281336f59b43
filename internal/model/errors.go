package model

import (
	"errors"
	"fmt"
)

// ErrorKind はエラーの種別を表す。呼び出し側は文言ではなく種別で分岐する。
type ErrorKind string

const (
	// KindValidation は必須項目の欠落・不正値を表す。
	KindValidation ErrorKind = "validation"
	// KindAuthorization は管理者以外による操作、または識別子の欠落を表す。
	KindAuthorization ErrorKind = "authorization"
	// KindNotFound は削除対象が存在しないことを表す。
	KindNotFound ErrorKind = "not_found"
	// KindStorage は永続化層の失敗を表す。リトライはしない。
	KindStorage ErrorKind = "storage"
)

// APIError は統一エラーフォーマットを表す。
// Message はレスポンスの error、Details は details として返される。
type APIError struct {
	Kind    ErrorKind
	Code    string // エラーコード
	Message string // 短いエラーメッセージ
	Details string // 人が読める詳細
	Err     error  // 元のエラー（ログ用）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は元のエラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeInvalidPassData    = "INVALID_PASS_DATA"
	ErrCodeTeacherRequired    = "TEACHER_REQUIRED"
	ErrCodePassIDRequired     = "PASS_ID_REQUIRED"
	ErrCodeMissingFields      = "MISSING_FIELDS"
	ErrCodeInvalidFilter      = "INVALID_FILTER"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeAdminEmailRequired = "ADMIN_EMAIL_REQUIRED"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodePassNotFound       = "PASS_NOT_FOUND"
	ErrCodeStorageFailure     = "STORAGE_FAILURE"
)

// NewInvalidPassDataError はパスの入力値不正エラーを生成する。
func NewInvalidPassDataError(reason string) *APIError {
	return &APIError{
		Kind:    KindValidation,
		Code:    ErrCodeInvalidPassData,
		Message: "Invalid pass data",
		Details: reason,
	}
}

// NewTeacherRequiredError は教員識別子の欠落エラーを生成する。
func NewTeacherRequiredError() *APIError {
	return &APIError{
		Kind:    KindValidation,
		Code:    ErrCodeTeacherRequired,
		Message: "Teacher identity is required",
	}
}

// NewPassIDRequiredError はパスIDの欠落エラーを生成する。
func NewPassIDRequiredError() *APIError {
	return &APIError{
		Kind:    KindValidation,
		Code:    ErrCodePassIDRequired,
		Message: "Pass ID is required",
	}
}

// NewMissingFieldsError は複数の必須項目の欠落エラーを生成する。
func NewMissingFieldsError(message string) *APIError {
	return &APIError{
		Kind:    KindValidation,
		Code:    ErrCodeMissingFields,
		Message: message,
	}
}

// NewInvalidFilterError はクエリ・フィルタ値の不正エラーを生成する。
func NewInvalidFilterError(field, value string) *APIError {
	return &APIError{
		Kind:    KindValidation,
		Code:    ErrCodeInvalidFilter,
		Message: "Invalid filter",
		Details: fmt.Sprintf("%s: %q", field, value),
	}
}

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError(err error) *APIError {
	return &APIError{
		Kind:    KindValidation,
		Code:    ErrCodeInvalidRequest,
		Message: "Invalid request body",
		Details: err.Error(),
		Err:     err,
	}
}

// NewAdminEmailRequiredError は管理者メールアドレスの欠落エラーを生成する。
func NewAdminEmailRequiredError() *APIError {
	return &APIError{
		Kind:    KindAuthorization,
		Code:    ErrCodeAdminEmailRequired,
		Message: "Admin email is required",
	}
}

// NewUnauthorizedError は管理者以外による操作のエラーを生成する。
func NewUnauthorizedError(operation string) *APIError {
	return &APIError{
		Kind:    KindAuthorization,
		Code:    ErrCodeUnauthorized,
		Message: "Unauthorized",
		Details: fmt.Sprintf("Only admin can %s", operation),
	}
}

// NewAdminOnlyError は管理者専用の閲覧操作に対する拒否エラーを生成する。
func NewAdminOnlyError() *APIError {
	return &APIError{
		Kind:    KindAuthorization,
		Code:    ErrCodeUnauthorized,
		Message: "Unauthorized - Admin access only",
	}
}

// NewPassNotFoundError はパス未検出エラーを生成する。
func NewPassNotFoundError(passID string) *APIError {
	return &APIError{
		Kind:    KindNotFound,
		Code:    ErrCodePassNotFound,
		Message: "Pass not found",
		Details: fmt.Sprintf("No pass found with id %s", passID),
	}
}

// NewStorageError は永続化層の失敗をラップする。
// message は "Failed to log pass" のような操作単位の文言。
func NewStorageError(message string, err error) *APIError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return &APIError{
		Kind:    KindStorage,
		Code:    ErrCodeStorageFailure,
		Message: message,
		Details: details,
		Err:     err,
	}
}

// IsKind はerrのチェーンに指定種別のAPIErrorが含まれるかを返す。
func IsKind(err error, kind ErrorKind) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind == kind
	}
	return false
}
