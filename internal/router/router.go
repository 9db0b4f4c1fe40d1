package router

import (
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/route"

	"BulkSMS/internal/handler"
	"BulkSMS/internal/middleware"
)

func Register(h *server.Hertz, hs *handler.Handlers) {
	h.Use(middleware.RecoverMiddleware())
	h.Use(middleware.OpenTelemetryMiddleware())

	registerRoutes(h.Group("/v1"), hs, middleware.DispatchRateLimitMiddleware())
}

// registerRoutes limit 为 nil 时发送与重发不限流
func registerRoutes(v1 *route.RouterGroup, hs *handler.Handlers, limit app.HandlerFunc) {
	dispatch := func(h app.HandlerFunc) []app.HandlerFunc {
		if limit == nil {
			return []app.HandlerFunc{h}
		}
		return []app.HandlerFunc{limit, h}
	}

	campaigns := v1.Group("/stores/:store_id/campaigns/:campaign_id")
	{
		campaigns.GET("", hs.GetCampaign)
		campaigns.POST("/send", dispatch(hs.SendCampaign)...)
		campaigns.POST("/retry", dispatch(hs.RetryCampaign)...)
		campaigns.POST("/cancel", hs.CancelCampaign)
	}

	wallet := v1.Group("/stores/:store_id/wallet")
	{
		wallet.GET("", hs.GetWallet)
		wallet.GET("/verify", hs.VerifyWallet)
	}

	// 供应商回执
	webhooks := v1.Group("/webhooks")
	{
		webhooks.POST("/sms/status", hs.SMSStatusCallback)
	}
}
