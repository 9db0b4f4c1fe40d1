package response

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"

	"BulkSMS/pkg/errors"
)

// ErrorResponse 统一的错误响应格式
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Details map[string]interface{} `json:"details,omitempty"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
}

// SuccessResponse 统一的成功响应格式
type SuccessResponse struct {
	Data interface{}            `json:"data"`
	Meta map[string]interface{} `json:"meta,omitempty"`
}

// StatusFor 按错误分类映射 HTTP 状态码
func StatusFor(err error) int {
	switch errors.KindOf(err) {
	case errors.KindValidation:
		return http.StatusBadRequest
	case errors.KindNotFound:
		return http.StatusNotFound
	case errors.KindCredits:
		return http.StatusPaymentRequired
	case errors.KindConflict:
		return http.StatusConflict
	case errors.KindRateLimit:
		return http.StatusTooManyRequests
	case errors.KindProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// describe 提取错误码、对外信息与附加字段；内部错误不暴露原始信息
func describe(err error) (string, string, map[string]interface{}) {
	var credits *errors.InsufficientCreditsError
	if stderrors.As(err, &credits) {
		return errors.CreditsInsufficient.Code, errors.CreditsInsufficient.Message, map[string]interface{}{
			"required":  credits.Required,
			"available": credits.Available,
		}
	}

	var provider *errors.ProviderError
	if stderrors.As(err, &provider) {
		return provider.Def.Code, provider.Def.Message, map[string]interface{}{"retryable": provider.Retryable}
	}

	var def errors.Definition
	if stderrors.As(err, &def) && def.Code != "" {
		return def.Code, def.Message, nil
	}
	return "INTERNAL_ERROR", "Internal server error", nil
}

// Error 返回错误响应
func Error(ctx context.Context, c *app.RequestContext, err error) {
	code, message, details := describe(err)
	c.JSON(StatusFor(err), ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func ErrorWithDetails(ctx context.Context, c *app.RequestContext, err error, details map[string]interface{}) {
	code, message, extra := describe(err)
	for k, v := range extra {
		if details == nil {
			details = make(map[string]interface{}, len(extra))
		}
		details[k] = v
	}
	c.JSON(StatusFor(err), ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func Success(ctx context.Context, c *app.RequestContext, data interface{}) {
	c.JSON(http.StatusOK, SuccessResponse{
		Data: data,
	})
}

// Accepted 异步处理已受理
func Accepted(ctx context.Context, c *app.RequestContext, data interface{}) {
	c.JSON(http.StatusAccepted, SuccessResponse{
		Data: data,
	})
}

func SuccessWithMeta(ctx context.Context, c *app.RequestContext, data interface{}, meta map[string]interface{}) {
	c.JSON(http.StatusOK, SuccessResponse{
		Data: data,
		Meta: meta,
	})
}

func BindError(ctx context.Context, c *app.RequestContext, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: ErrorDetail{
			Code:    errors.InvalidRequest.Code,
			Message: err.Error(),
		},
	})
}
