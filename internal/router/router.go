package router

import (
	"context"
	"net/http"
	"time"

	"autotg/internal/health"
	"autotg/internal/middleware"
	"autotg/internal/model"
	"autotg/internal/queue"
	"autotg/internal/retrieval"
	rediskey "autotg/pkg/redis"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EventSink 接收新订单事件（outbox）。
type EventSink interface {
	Append(ctx context.Context, msg queue.OrderMessage) (string, error)
}

type CodeHandler interface {
	Handle(ctx context.Context, m retrieval.Message) error
}

type HealthReporter interface {
	Status(ctx context.Context) health.Status
}

type StatsReporter interface {
	Stats() queue.Stats
}

type OrderStates interface {
	State(ctx context.Context, orderID string) (rediskey.OrderState, bool, error)
}

type CredentialReader interface {
	CredentialsOf(buyerID string) ([]model.Credential, error)
}

// Deps 路由依赖。Redis 为空时不启用消息接口限流。
type Deps struct {
	Events      EventSink
	Codes       CodeHandler
	Health      HealthReporter
	Dispatcher  StatsReporter
	Orders      OrderStates
	Credentials CredentialReader
	Redis       *rd.Client
	RateLimit   int
	RateWindow  time.Duration
	// AdminToken 保护登记表查询，为空时该接口关闭。
	AdminToken  string
	Logger      *zap.SugaredLogger
}

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, d Deps) {
	if d.Logger == nil {
		d.Logger = zap.NewNop().Sugar()
	}
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})
	r.GET("/api/health", getHealth(d.Health, d.Dispatcher))
	r.POST("/api/events/order", postOrderEvent(d.Events, d.Logger))

	msgHandlers := []gin.HandlerFunc{}
	if d.Redis != nil && d.RateLimit > 0 {
		msgHandlers = append(msgHandlers, middleware.RedisRateLimit(d.Redis, d.RateLimit, d.RateWindow))
	}
	msgHandlers = append(msgHandlers, postMessageEvent(d.Codes, d.Logger))
	r.POST("/api/events/message", msgHandlers...)

	r.GET("/api/orders/:order_id", getOrderState(d.Orders))
	r.GET("/api/registry/:buyer_id", middleware.AdminToken(d.AdminToken), getRegistry(d.Credentials))
}

// postOrderEvent 接收市场推送的新订单，写入 outbox 后立即返回。
// 履约异步进行，结果通过 /api/orders/:order_id 查询。
func postOrderEvent(events EventSink, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			OrderID     string          `json:"order_id" binding:"required"`
			BuyerID     string          `json:"buyer_id" binding:"required"`
			ChatID      string          `json:"chat_id"`
			Description string          `json:"description"`
			Quantity    int             `json:"quantity" binding:"omitempty,min=1"`
			Price       decimal.Decimal `json:"price"`
			Status      string          `json:"status"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		if req.Quantity <= 0 {
			req.Quantity = 1
		}

		msg := queue.OrderMessage{
			EventID:     uuid.New().String(),
			OrderID:     req.OrderID,
			BuyerID:     req.BuyerID,
			ChatID:      req.ChatID,
			Description: req.Description,
			Quantity:    req.Quantity,
			Price:       req.Price,
			Status:      req.Status,
		}
		if err := msg.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		if _, err := events.Append(c.Request.Context(), msg); err != nil {
			log.Errorw("append order event failed", "order_id", msg.OrderID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": "enqueue failed: " + err.Error()})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"code": 0,
			"data": gin.H{
				"event_id": msg.EventID,
				"order_id": msg.OrderID,
				"status":   "queued",
			},
		})
	}
}

// postMessageEvent 买家聊天消息。取码指令在后台处理（含重试等待），接口立即返回。
func postMessageEvent(codes CodeHandler, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req retrieval.Message
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		if req.BuyerID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "buyer_id is required"})
			return
		}
		if retrieval.ParseCommand(req.Text).Kind == retrieval.CommandNone {
			c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"status": "ignored"}})
			return
		}

		ctx := context.WithoutCancel(c.Request.Context())
		go func() {
			if err := codes.Handle(ctx, req); err != nil {
				log.Infow("code request finished with error", "buyer_id", req.BuyerID, "error", err)
			}
		}()
		c.JSON(http.StatusAccepted, gin.H{"code": 0, "data": gin.H{"status": "accepted"}})
	}
}

func getHealth(h HealthReporter, d StatsReporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"code": 0,
			"data": gin.H{
				"exchange":   h.Status(c.Request.Context()),
				"dispatcher": d.Stats(),
			},
		})
	}
}

// getOrderState 查询订单处理状态。
func getOrderState(orders OrderStates) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("order_id")
		st, found, err := orders.State(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "order not processed yet"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"code": 0,
			"data": gin.H{
				"order_id":   st.OrderID,
				"status":     st.State,
				"reason":     st.Reason,
				"updated_at": st.UpdatedAt,
			},
		})
	}
}

func getRegistry(creds CredentialReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := creds.CredentialsOf(c.Param("buyer_id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		if list == nil {
			list = []model.Credential{}
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": list})
	}
}
