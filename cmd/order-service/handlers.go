package main

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MikeMC777/ordenes-pagos/internal/checkout"
	"github.com/MikeMC777/ordenes-pagos/internal/httpx"
	"github.com/MikeMC777/ordenes-pagos/internal/order"
	"github.com/MikeMC777/ordenes-pagos/internal/payment"
	"github.com/MikeMC777/ordenes-pagos/internal/reconcile"
)

const maxWebhookBody = 1 << 20

// createOrderHandler godoc
// @Summary      Create an order and start payment
// @Description  Items come from the body or, when omitted, from the caller's cart.
// @Tags         orders
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      order.CreateOrderRequest  true  "order"
// @Success      201   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]interface{}
// @Router       /orders [post]
func createOrderHandler(svc *checkout.Service, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req order.CreateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid json: " + err.Error()})
			return
		}
		res, err := svc.Checkout(c.Request.Context(), checkout.Input{Actor: httpx.ActorFrom(c), Request: req})
		if err != nil {
			httpx.Fail(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"success":     true,
			"order":       res.Order,
			"payment_id":  res.PaymentID,
			"paymentData": res.PaymentData,
		})
	}
}

// listMyOrdersHandler godoc
// @Summary   List the caller's orders
// @Tags      orders
// @Produce   json
// @Security  BearerAuth
// @Param     limit   query  int  false  "page size"  default(20)
// @Param     offset  query  int  false  "offset"     default(0)
// @Success   200  {object}  map[string]interface{}
// @Router    /orders/user/orders [get]
func listMyOrdersHandler(svc *checkout.Service, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		if limit <= 0 || limit > 100 {
			limit = 20
		}
		if offset < 0 {
			offset = 0
		}
		list, err := svc.ListMine(c.Request.Context(), httpx.ActorFrom(c), limit, offset)
		if err != nil {
			httpx.Fail(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "orders": list})
	}
}

// getOrderHandler godoc
// @Summary   Get an order
// @Tags      orders
// @Produce   json
// @Security  BearerAuth
// @Param     id   path      string  true  "order id"
// @Success   200  {object}  order.View
// @Failure   404  {object}  map[string]interface{}
// @Router    /orders/{id} [get]
func getOrderHandler(svc *checkout.Service, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, err := svc.Get(c.Request.Context(), httpx.ActorFrom(c), c.Param("id"))
		if err != nil {
			httpx.Fail(c, log, err)
			return
		}
		c.JSON(http.StatusOK, v)
	}
}

// paymentInstructionsHandler godoc
// @Summary      Issue payment instructions again
// @Description  Path suffix is one of khqr-payment, stripe-payment or paypal-payment.
// @Tags         payments
// @Produce      json
// @Security     BearerAuth
// @Param        id      path  string  true  "order id"
// @Param        method  path  string  true  "khqr-payment | stripe-payment | paypal-payment"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]interface{}
// @Failure      403  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}
// @Router       /orders/{id}/{method} [post]
func paymentInstructionsHandler(svc *checkout.Service, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tag, ok := strings.CutSuffix(c.Param("method"), "-payment")
		if !ok || tag == "" {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "route not found"})
			return
		}
		ins, err := svc.Instructions(c.Request.Context(), httpx.ActorFrom(c), c.Param("id"), tag)
		if err != nil {
			httpx.Fail(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "paymentData": ins})
	}
}

// verifyPaymentHandler godoc
// @Summary   Confirm a payment the client observed
// @Tags      payments
// @Accept    json
// @Produce   json
// @Security  BearerAuth
// @Param     id    path  string                        true  "order id"
// @Param     body  body  payment.VerifyPaymentRequest  true  "gateway confirmation"
// @Success   200  {object}  map[string]interface{}
// @Router    /orders/{id}/verify-payment [put]
func verifyPaymentHandler(svc *reconcile.Service, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req payment.VerifyPaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid json: " + err.Error()})
			return
		}
		v, _, err := svc.Verify(c.Request.Context(), httpx.ActorFrom(c), c.Param("id"), req)
		if err != nil {
			httpx.Fail(c, log, err)
			return
		}
		paid := v.PaymentStatus == order.PaymentPaid
		msg := "Payment verified successfully"
		if !paid {
			msg = "Payment was not completed"
		}
		c.JSON(http.StatusOK, gin.H{"success": paid, "message": msg, "order": v})
	}
}

// webhookHandler godoc
// @Summary      Gateway callback
// @Description  Authenticated by the gateway's signature header, not by a bearer token.
// @Tags         webhooks
// @Accept       json
// @Produce      json
// @Param        gateway  path  string  true  "stripe | paypal | khqr"
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]interface{}
// @Router       /orders/webhook/{gateway} [post]
func webhookHandler(svc *reconcile.Service, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"received": false, "message": "unreadable body"})
			return
		}
		out, err := svc.HandleWebhook(c.Request.Context(), c.Param("gateway"), c.Request.Header, body)
		if err != nil {
			log.Warn("[webhook] rejected",
				zap.String("gateway", c.Param("gateway")), zap.String("rid", httpx.RID(c)), zap.Error(err))
			httpx.Fail(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"received": true, "outcome": out})
	}
}

// refundHandler godoc
// @Summary   Refund a completed payment
// @Tags      payments
// @Accept    json
// @Produce   json
// @Security  BearerAuth
// @Param     paymentId  path  string                 true   "payment id"
// @Param     body       body  payment.RefundRequest  false  "reason"
// @Success   200  {object}  map[string]interface{}
// @Failure   400  {object}  map[string]interface{}
// @Failure   429  {object}  map[string]interface{}
// @Router    /payments/{paymentId}/refund [post]
func refundHandler(svc *reconcile.Service, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req payment.RefundRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid json: " + err.Error()})
			return
		}
		r, err := svc.Refund(c.Request.Context(), httpx.ActorFrom(c), c.Param("paymentId"), req.Reason)
		if err != nil {
			httpx.Fail(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "refund": r})
	}
}

// paymentStatusHandler godoc
// @Summary   Payment with its ledger rows
// @Tags      payments
// @Produce   json
// @Security  BearerAuth
// @Param     paymentId  path      string  true  "payment id"
// @Success   200        {object}  payment.View
// @Router    /payments/{paymentId}/status [get]
func paymentStatusHandler(svc *reconcile.Service, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, err := svc.PaymentStatus(c.Request.Context(), httpx.ActorFrom(c), c.Param("paymentId"))
		if err != nil {
			httpx.Fail(c, log, err)
			return
		}
		c.JSON(http.StatusOK, v)
	}
}
