package errors

import (
	stdErrors "errors"
	"fmt"
	"maps"
)

// Code 表示 Agent 运行期间的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于告警和审计。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	CodeUnknown         Code = "UNKNOWN"
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeConfiguration   Code = "CONFIGURATION_ERROR"
	CodeExecution       Code = "EXECUTION_ERROR"
	CodeDeployment      Code = "DEPLOYMENT_ERROR"
	CodeTimeout         Code = "TIMEOUT"
	CodeStorageFailure  Code = "STORAGE_FAILURE"
	CodeSinkFailure     Code = "SINK_FAILURE"
)

// 哨兵错误，配合 errors.Is 按错误码匹配。
var (
	ErrConfiguration = &Error{code: CodeConfiguration}
	ErrExecution     = &Error{code: CodeExecution}
	ErrDeployment    = &Error{code: CodeDeployment}
)

// Attributes 描述错误码的默认行为。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
}

var defaults = map[Code]Attributes{
	CodeUnknown:         {Message: "unknown error", Severity: SeverityCritical, Alert: true},
	CodeInvalidArgument: {Message: "invalid argument", Severity: SeverityInfo},
	CodeConfiguration:   {Message: "agent configuration error", Severity: SeverityCritical},
	CodeExecution:       {Message: "action execution failed", Severity: SeverityWarning, Retryable: true, Alert: true},
	CodeDeployment:      {Message: "contract deployment failed", Severity: SeverityCritical, Alert: true},
	CodeTimeout:         {Message: "operation timed out", Severity: SeverityWarning, Retryable: true, Alert: true},
	CodeStorageFailure:  {Message: "journal storage failure", Severity: SeverityCritical, Retryable: true, Alert: true},
	CodeSinkFailure:     {Message: "event sink failure", Severity: SeverityWarning, Retryable: true},
}

// AttributesOf 返回错误码的默认属性，未知错误码按 UNKNOWN 处理。
func AttributesOf(code Code) Attributes {
	if attr, ok := defaults[code]; ok {
		return attr
	}
	return defaults[CodeUnknown]
}

// Error 携带错误码、原因以及告警所需的附加信息。
type Error struct {
	code     Code
	message  string
	cause    error
	attrs    Attributes
	metadata map[string]string
}

// Option 在构造时覆盖默认属性。
type Option func(*Error)

// WithMetadata 附加一条键值信息，例如交易哈希。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

func WithRetryable(retryable bool) Option {
	return func(e *Error) { e.attrs.Retryable = retryable }
}

func WithAlert(alert bool) Option {
	return func(e *Error) { e.attrs.Alert = alert }
}

func WithSeverity(sev Severity) Option {
	return func(e *Error) { e.attrs.Severity = sev }
}

// New 创建错误；message 为空时使用错误码的默认描述。
func New(code Code, message string, opts ...Option) *Error {
	attrs := AttributesOf(code)
	if message == "" {
		message = attrs.Message
	}
	e := &Error{code: code, message: message, attrs: attrs}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 以 code 包裹 cause，cause 仍可通过 errors.Is/As 访问。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause == nil {
		return fmt.Sprintf("[%s] %s", e.code, e.message)
	}
	return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 按错误码比较，使哨兵错误能匹配任意同码错误。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.code == t.code
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	return maps.Clone(e.metadata)
}

func (e *Error) Retryable() bool {
	return e != nil && e.attrs.Retryable
}

func (e *Error) ShouldAlert() bool {
	return e != nil && e.attrs.Alert
}

func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	return e.attrs.Severity
}

// From 从错误链中取出第一个 *Error。
func From(err error) (*Error, bool) {
	var target *Error
	if err != nil && stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误码，非统一错误返回 UNKNOWN。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// IsRetryable 判断任意 error 是否值得重试。
func IsRetryable(err error) bool {
	e, ok := From(err)
	return ok && e.Retryable()
}

// ShouldAlert 判断是否需要触发告警。
func ShouldAlert(err error) bool {
	e, ok := From(err)
	return ok && e.ShouldAlert()
}

// SeverityOf 返回错误严重程度，非统一错误按 UNKNOWN 处理。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}

func IsConfiguration(err error) bool { return CodeOf(err) == CodeConfiguration }

func IsExecution(err error) bool { return CodeOf(err) == CodeExecution }

func IsDeployment(err error) bool { return CodeOf(err) == CodeDeployment }
