package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	openapiutil "github.com/alibabacloud-go/openapi-util/service"
	util "github.com/alibabacloud-go/tea-utils/v2/service"
	"github.com/alibabacloud-go/tea/tea"
	credential "github.com/aliyun/credentials-go/credentials"
	"go.uber.org/zap"

	"BulkSMS/pkg/errors"
	"BulkSMS/pkg/logger"
)

const aliyunProvider = "aliyun"

// AliyunClient 通过 SendSms 发送自由文本，模板需包含 ${content}
// 阿里云消息 ID 为 BizId，查询详情还需要号码和发送日期，因此对外 ID 采用 bizId:phone:yyyyMMdd
type AliyunClient struct {
	client       *openapi.Client
	signName     string
	templateCode string
}

// NewAliyunClient 从环境变量读取 ALIBABA_CLOUD_ACCESS_KEY_ID / ALIBABA_CLOUD_ACCESS_KEY_SECRET
func NewAliyunClient(signName, templateCode string) (*AliyunClient, error) {
	if signName == "" || templateCode == "" {
		return nil, fmt.Errorf("aliyun sign name and template code are required")
	}

	cred, err := credential.NewCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create aliyun credential: %w", err)
	}

	client, err := openapi.NewClient(&openapi.Config{
		Credential: cred,
		Endpoint:   tea.String("dysmsapi.aliyuncs.com"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create aliyun client: %w", err)
	}

	return &AliyunClient{
		client:       client,
		signName:     signName,
		templateCode: templateCode,
	}, nil
}

func (c *AliyunClient) Name() string { return aliyunProvider }

func (c *AliyunClient) apiInfo(action string) *openapi.Params {
	return &openapi.Params{
		Action:      tea.String(action),
		Version:     tea.String("2017-05-25"),
		Protocol:    tea.String("HTTPS"),
		Method:      tea.String("POST"),
		AuthType:    tea.String("AK"),
		Style:       tea.String("RPC"),
		Pathname:    tea.String("/"),
		ReqBodyType: tea.String("json"),
		BodyType:    tea.String("json"),
	}
}

// Send senderID 为空时使用默认签名
func (c *AliyunClient) Send(ctx context.Context, to, body, senderID string) (*SendResponse, error) {
	signName := senderID
	if signName == "" {
		signName = c.signName
	}

	param, err := json.Marshal(map[string]string{"content": body})
	if err != nil {
		return nil, errors.NewNonRetryableError(aliyunProvider, "", err.Error())
	}

	phone := strings.TrimPrefix(to, "+")
	respBody, err := c.call(ctx, "SendSms", map[string]interface{}{
		"PhoneNumbers":  tea.String(phone),
		"SignName":      tea.String(signName),
		"TemplateCode":  tea.String(c.templateCode),
		"TemplateParam": tea.String(string(param)),
	})
	if err != nil {
		logger.Logger.Warn("Aliyun send failed",
			zap.String("to", maskPhone(to)),
			zap.Error(err),
		)
		return nil, err
	}

	bizID, _ := respBody["BizId"].(string)
	requestID, _ := respBody["RequestId"].(string)
	return &SendResponse{
		MessageID: composeAliyunID(bizID, phone, time.Now()),
		Status:    StatusSent,
		Provider:  aliyunProvider,
		RequestID: requestID,
	}, nil
}

func (c *AliyunClient) Status(ctx context.Context, externalID string) (*StatusResponse, error) {
	bizID, phone, date, ok := splitAliyunID(externalID)
	if !ok {
		return nil, errors.NewNonRetryableError(aliyunProvider, "", "malformed message id "+externalID)
	}

	respBody, err := c.call(ctx, "QuerySendDetails", map[string]interface{}{
		"PhoneNumber": tea.String(phone),
		"BizId":       tea.String(bizID),
		"SendDate":    tea.String(date),
		"PageSize":    tea.Int64(10),
		"CurrentPage": tea.Int64(1),
	})
	if err != nil {
		return nil, err
	}

	var details struct {
		SmsSendDetailDTOs struct {
			SmsSendDetailDTO []struct {
				SendStatus int64  `json:"SendStatus"`
				ErrCode    string `json:"ErrCode"`
			} `json:"SmsSendDetailDTO"`
		} `json:"SmsSendDetailDTOs"`
	}
	raw, _ := json.Marshal(respBody)
	if err := json.Unmarshal(raw, &details); err != nil {
		return nil, errors.NewProviderError(errors.ProviderUnavailable, aliyunProvider, err)
	}

	out := &StatusResponse{MessageID: externalID, Status: StatusSent}
	if rows := details.SmsSendDetailDTOs.SmsSendDetailDTO; len(rows) > 0 {
		out.Status = aliyunSendStatus(rows[0].SendStatus)
		out.ErrorCode = rows[0].ErrCode
		out.Raw = fmt.Sprintf("%d", rows[0].SendStatus)
	}
	return out, nil
}

// call 返回响应 body，业务 Code 非 OK 时转换为供应商错误
func (c *AliyunClient) call(ctx context.Context, action string, queries map[string]interface{}) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewProviderError(errors.ProviderTimeout, aliyunProvider, err)
	}

	resp, err := c.client.CallApi(c.apiInfo(action), &openapi.OpenApiRequest{
		Query: openapiutil.Query(queries),
	}, &util.RuntimeOptions{})
	if err != nil {
		return nil, errors.NewProviderError(errors.ProviderUnavailable, aliyunProvider, err)
	}

	if sc, ok := resp["statusCode"].(int); ok && sc != 200 {
		if sc >= 500 || sc == 429 {
			return nil, errors.NewProviderError(errors.ProviderUnavailable, aliyunProvider,
				fmt.Errorf("statusCode=%d", sc))
		}
		return nil, errors.NewNonRetryableError(aliyunProvider, fmt.Sprintf("%d", sc), "aliyun rejected request")
	}

	body, _ := resp["body"].(map[string]interface{})
	if code, ok := body["Code"].(string); ok && code != "OK" {
		message, _ := body["Message"].(string)
		if code == "isv.BUSINESS_LIMIT_CONTROL" || code == "Throttling.User" {
			pe := errors.NewProviderError(errors.ProviderUnavailable, aliyunProvider, fmt.Errorf("%s", message))
			pe.Code = code
			return nil, pe
		}
		return nil, errors.NewNonRetryableError(aliyunProvider, code, message)
	}
	return body, nil
}

func aliyunSendStatus(s int64) string {
	switch s {
	case 1:
		return StatusSent // 等待回执
	case 2:
		return StatusUndelivered
	case 3:
		return StatusDelivered
	default:
		return ""
	}
}

func composeAliyunID(bizID, phone string, at time.Time) string {
	return bizID + ":" + phone + ":" + at.Format("20060102")
}

func splitAliyunID(id string) (bizID, phone, date string, ok bool) {
	parts := strings.Split(id, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || len(parts[2]) != 8 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}
