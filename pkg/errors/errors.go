package errors

func (d Definition) Error() string {
	return d.Message
}

// Is 按错误码比较，允许 WithMessage 派生的错误仍能被 errors.Is 识别
func (d Definition) Is(target error) bool {
	t, ok := target.(Definition)
	return ok && t.Code == d.Code
}

// WithMessage 复制一个携带自定义信息的同码错误
func (d Definition) WithMessage(message string) Definition {
	return Definition{Code: d.Code, Message: message, Kind: d.Kind}
}

// Kind 错误分类，决定上层的处理方式与 HTTP 状态码
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindCredits    Kind = "insufficient_credits"
	KindProvider   Kind = "provider"
	KindConflict   Kind = "conflict"
	KindRateLimit  Kind = "rate_limited"
	KindInternal   Kind = "internal"
)

// Definition 表示业务错误码及默认信息。
type Definition struct {
	Code    string
	Message string
	Kind    Kind
}

// 校验错误：同步返回，无副作用。
var (
	InvalidRequest       = Definition{Code: "INVALID_REQUEST", Message: "Invalid request", Kind: KindValidation}
	CampaignNotDraft     = Definition{Code: "CAMPAIGN_NOT_DRAFT", Message: "Campaign is not in draft status", Kind: KindValidation}
	CampaignNotEditable  = Definition{Code: "CAMPAIGN_NOT_EDITABLE", Message: "Campaign can no longer be modified", Kind: KindValidation}
	NoRecipients         = Definition{Code: "NO_RECIPIENTS", Message: "No recipients", Kind: KindValidation}
	MessageTooLong       = Definition{Code: "MESSAGE_TOO_LONG", Message: "Message too long", Kind: KindValidation}
	MessageEmpty         = Definition{Code: "MESSAGE_EMPTY", Message: "Message body is empty", Kind: KindValidation}
	SenderMissing        = Definition{Code: "SENDER_MISSING", Message: "Sender id is required", Kind: KindValidation}
	InvalidPhone         = Definition{Code: "INVALID_PHONE", Message: "Invalid phone number", Kind: KindValidation}
	InvalidSelector      = Definition{Code: "INVALID_SELECTOR", Message: "Invalid audience selector", Kind: KindValidation}
	InvalidAmount        = Definition{Code: "INVALID_AMOUNT", Message: "Amount must be positive", Kind: KindValidation}
	InvalidJobPayload    = Definition{Code: "INVALID_JOB_PAYLOAD", Message: "Invalid job payload", Kind: KindValidation}
	UnknownJobKind       = Definition{Code: "UNKNOWN_JOB_KIND", Message: "Unknown job kind", Kind: KindValidation}
	InvalidDeliveryState = Definition{Code: "INVALID_DELIVERY_STATE", Message: "Invalid delivery state", Kind: KindValidation}
	RefundExceedsReserve = Definition{Code: "REFUND_EXCEEDS_RESERVE", Message: "Refund exceeds the amount reserved under the reference", Kind: KindValidation}
)

// 资源不存在。
var (
	CampaignNotFound  = Definition{Code: "CAMPAIGN_NOT_FOUND", Message: "Campaign not found", Kind: KindNotFound}
	RecipientNotFound = Definition{Code: "RECIPIENT_NOT_FOUND", Message: "Recipient not found", Kind: KindNotFound}
	WalletNotFound    = Definition{Code: "WALLET_NOT_FOUND", Message: "Wallet not found", Kind: KindNotFound}
)

// 额度模块错误。
var (
	CreditsInsufficient = Definition{Code: "CREDITS_INSUFFICIENT", Message: "Insufficient credits", Kind: KindCredits}
)

// 冲突。
var (
	RefundAlreadyApplied  = Definition{Code: "REFUND_ALREADY_APPLIED", Message: "Reference already refunded", Kind: KindConflict}
	CampaignLocked        = Definition{Code: "CAMPAIGN_LOCKED", Message: "Campaign dispatch already in progress", Kind: KindConflict}
	CampaignStateConflict = Definition{Code: "CAMPAIGN_STATE_CONFLICT", Message: "Campaign status changed concurrently", Kind: KindConflict}
	TransactionDuplicate  = Definition{Code: "TRANSACTION_DUPLICATE", Message: "Transaction reference already recorded", Kind: KindConflict}
)

var (
	TooManyRequests = Definition{Code: "TOO_MANY_REQUESTS", Message: "Too many requests, please retry later", Kind: KindRateLimit}
)

// 供应商。
var (
	ProviderUnavailable = Definition{Code: "PROVIDER_UNAVAILABLE", Message: "SMS provider unavailable", Kind: KindProvider}
	ProviderTimeout     = Definition{Code: "PROVIDER_TIMEOUT", Message: "SMS provider timeout", Kind: KindProvider}
	ProviderRejected    = Definition{Code: "PROVIDER_REJECTED", Message: "SMS provider rejected the request", Kind: KindProvider}
)

// Lookup 提供错误码查询能力。
var Lookup = map[string]Definition{}

func init() {
	for _, def := range []Definition{
		InvalidRequest, CampaignNotDraft, CampaignNotEditable, NoRecipients, MessageTooLong,
		MessageEmpty, SenderMissing, InvalidPhone, InvalidSelector, InvalidAmount,
		InvalidJobPayload, UnknownJobKind, InvalidDeliveryState, RefundExceedsReserve,
		CampaignNotFound, RecipientNotFound, WalletNotFound,
		CreditsInsufficient,
		RefundAlreadyApplied, CampaignLocked, CampaignStateConflict, TransactionDuplicate,
		TooManyRequests,
		ProviderUnavailable, ProviderTimeout, ProviderRejected,
	} {
		Lookup[def.Code] = def
	}
}

// Get 根据错误码返回 Definition，若不存在则返回 INTERNAL 类 Definition。
func Get(code string) Definition {
	if def, ok := Lookup[code]; ok {
		return def
	}
	return Definition{Code: code, Message: "Unexpected error", Kind: KindInternal}
}
