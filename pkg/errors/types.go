package errors

import (
	stderrors "errors"
	"fmt"
)

// InsufficientCreditsError 预扣额度失败，携带所需与可用额度
type InsufficientCreditsError struct {
	Required  int64
	Available int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required=%d available=%d", e.Required, e.Available)
}

func (e *InsufficientCreditsError) Is(target error) bool {
	return CreditsInsufficient.Is(target)
}

// ProviderError 供应商或传输层失败，只影响单个接收人
type ProviderError struct {
	Def       Definition
	Provider  string
	Code      string // 供应商原始错误码
	Retryable bool
	Err       error
}

func (e *ProviderError) Error() string {
	msg := e.Def.Message
	if e.Code != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Code)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool { return e.Def.Is(target) }

// NewProviderError 构造可重试的供应商错误
func NewProviderError(def Definition, provider string, err error) *ProviderError {
	return &ProviderError{Def: def, Provider: provider, Retryable: true, Err: err}
}

// NewNonRetryableError 供应商明确拒绝（配置/号码问题），重试无意义
func NewNonRetryableError(provider, code, message string) *ProviderError {
	return &ProviderError{
		Def:      ProviderRejected.WithMessage(message),
		Provider: provider,
		Code:     code,
	}
}

// SkipMessageError 重复投递的消息，消费者应直接 ack
type SkipMessageError struct {
	Reason string
}

func (e *SkipMessageError) Error() string {
	return "skip message: " + e.Reason
}

func IsSkipMessageError(err error) bool {
	var skip *SkipMessageError
	return stderrors.As(err, &skip)
}

// KindOf 返回错误所属分类，未知错误视为 internal
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var credits *InsufficientCreditsError
	if stderrors.As(err, &credits) {
		return KindCredits
	}
	var provider *ProviderError
	if stderrors.As(err, &provider) {
		return KindProvider
	}
	var def Definition
	if stderrors.As(err, &def) && def.Kind != "" {
		return def.Kind
	}
	return KindInternal
}

// IsValidation 是否为校验类错误
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsNotFound 是否为资源不存在
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }
