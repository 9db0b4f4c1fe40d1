package sms

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app/client"
	"github.com/cloudwego/hertz/pkg/network/standard"
	"github.com/cloudwego/hertz/pkg/protocol"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"go.uber.org/zap"

	"BulkSMS/pkg/errors"
	"BulkSMS/pkg/logger"
)

const twilioProvider = "twilio"

type TwilioClient struct {
	http       *client.Client
	baseURL    string
	accountSID string
	authHeader string
}

// twilioMessage Messages 资源中用到的字段
type twilioMessage struct {
	SID          string  `json:"sid"`
	Status       string  `json:"status"`
	ErrorCode    *int    `json:"error_code"`
	ErrorMessage *string `json:"error_message"`
}

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func NewTwilioClient(baseURL, accountSID, authToken string, timeout time.Duration) (*TwilioClient, error) {
	if accountSID == "" || authToken == "" {
		return nil, fmt.Errorf("twilio account sid and auth token are required")
	}

	c, err := client.NewClient(
		client.WithDialer(standard.NewDialer()),
		client.WithTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}),
		client.WithDialTimeout(5*time.Second),
		client.WithClientReadTimeout(timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create twilio http client: %w", err)
	}

	return newTwilioClient(c, baseURL, accountSID, authToken), nil
}

func newTwilioClient(c *client.Client, baseURL, accountSID, authToken string) *TwilioClient {
	return &TwilioClient{
		http:       c,
		baseURL:    strings.TrimRight(baseURL, "/"),
		accountSID: accountSID,
		authHeader: "Basic " + base64.StdEncoding.EncodeToString([]byte(accountSID+":"+authToken)),
	}
}

func (c *TwilioClient) Name() string { return twilioProvider }

func (c *TwilioClient) messagesURL(parts ...string) string {
	u := c.baseURL + "/2010-04-01/Accounts/" + url.PathEscape(c.accountSID) + "/Messages"
	for _, p := range parts {
		u += "/" + url.PathEscape(p)
	}
	return u + ".json"
}

func (c *TwilioClient) Send(ctx context.Context, to, body, senderID string) (*SendResponse, error) {
	if senderID == "" {
		return nil, errors.NewNonRetryableError(twilioProvider, "", "sender id is required")
	}

	req := protocol.AcquireRequest()
	resp := protocol.AcquireResponse()
	defer protocol.ReleaseRequest(req)
	defer protocol.ReleaseResponse(resp)

	req.SetRequestURI(c.messagesURL())
	req.SetMethod(consts.MethodPost)
	req.SetHeader("Authorization", c.authHeader)
	req.SetFormData(map[string]string{
		"To":   to,
		"From": senderID,
		"Body": body,
	})

	var msg twilioMessage
	if err := c.do(ctx, req, resp, &msg); err != nil {
		logger.Logger.Warn("Twilio send failed",
			zap.String("to", maskPhone(to)),
			zap.Error(err),
		)
		return nil, err
	}

	return &SendResponse{
		MessageID: msg.SID,
		Status:    NormalizeStatus(msg.Status),
		Provider:  twilioProvider,
		RequestID: string(resp.Header.Peek("Twilio-Request-Id")),
	}, nil
}

func (c *TwilioClient) Status(ctx context.Context, externalID string) (*StatusResponse, error) {
	req := protocol.AcquireRequest()
	resp := protocol.AcquireResponse()
	defer protocol.ReleaseRequest(req)
	defer protocol.ReleaseResponse(resp)

	req.SetRequestURI(c.messagesURL(externalID))
	req.SetMethod(consts.MethodGet)
	req.SetHeader("Authorization", c.authHeader)

	var msg twilioMessage
	if err := c.do(ctx, req, resp, &msg); err != nil {
		return nil, err
	}

	out := &StatusResponse{
		MessageID: msg.SID,
		Status:    NormalizeStatus(msg.Status),
		Raw:       msg.Status,
	}
	if msg.ErrorCode != nil {
		out.ErrorCode = strconv.Itoa(*msg.ErrorCode)
	}
	return out, nil
}

// do 执行请求并解码；429 与 5xx 可重试，其余 4xx 视为拒绝
func (c *TwilioClient) do(ctx context.Context, req *protocol.Request, resp *protocol.Response, out interface{}) error {
	if err := c.http.Do(ctx, req, resp); err != nil {
		if ctx.Err() != nil {
			return errors.NewProviderError(errors.ProviderTimeout, twilioProvider, err)
		}
		return errors.NewProviderError(errors.ProviderUnavailable, twilioProvider, err)
	}

	status := resp.StatusCode()
	if status >= 200 && status < 300 {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return errors.NewProviderError(errors.ProviderUnavailable, twilioProvider,
				fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	var apiErr twilioError
	_ = json.Unmarshal(resp.Body(), &apiErr)
	code := ""
	if apiErr.Code != 0 {
		code = strconv.Itoa(apiErr.Code)
	}

	if status == consts.StatusTooManyRequests || status >= 500 {
		pe := errors.NewProviderError(errors.ProviderUnavailable, twilioProvider,
			fmt.Errorf("http %d: %s", status, apiErr.Message))
		pe.Code = code
		return pe
	}

	message := apiErr.Message
	if message == "" {
		message = fmt.Sprintf("http %d", status)
	}
	return errors.NewNonRetryableError(twilioProvider, code, message)
}

// maskPhone 日志中只保留末四位
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
