package handler

import (
	"net/http"

	"deliveryerp/internal/middleware"
	"deliveryerp/internal/service"
	"deliveryerp/pkg/pagination"
	"deliveryerp/pkg/response"

	"github.com/gin-gonic/gin"
)

type OrderHandler struct {
	orderService service.OrderService
	idempotent   gin.HandlerFunc
}

// NewOrderHandler wires the order endpoints. idempotent guards order creation and may be nil.
func NewOrderHandler(orderService service.OrderService, idempotent gin.HandlerFunc) *OrderHandler {
	registerValidators()
	if idempotent == nil {
		idempotent = func(c *gin.Context) { c.Next() }
	}
	return &OrderHandler{orderService: orderService, idempotent: idempotent}
}

func (h *OrderHandler) RegisterRoutes(router *gin.RouterGroup) {
	writers := middleware.RequireRole(middleware.RoleDispatcher, middleware.RoleAdmin)
	readers := middleware.RequireRole(middleware.AllRoles...)

	orders := router.Group("/api/orders")
	{
		orders.POST("", writers, h.idempotent, h.CreateOrder)
		orders.POST("/estimate", readers, h.EstimateOrder)
		orders.GET("", readers, h.ListOrders)
		orders.GET("/history", readers, h.ListHistory)
		orders.GET("/:id", readers, h.GetOrder)
		orders.PATCH("/:id", writers, h.UpdateOrder)
		orders.POST("/:id/complete", writers, h.CompleteOrder)
		orders.POST("/:id/accounting-cash", middleware.RequireRole(middleware.RoleAccountant, middleware.RoleAdmin), h.MarkAccountingCashed)
	}
}

func writeOrderResult(c *gin.Context, status int, res service.OrderResult) {
	if len(res.Warnings) == 0 {
		c.JSON(status, response.Success(status, res.Order))
		return
	}
	c.JSON(status, response.SuccessWithWarnings(status, res.Order, res.Warnings))
}

// CreateOrder handles POST /api/orders
// @Summary      Create an order
// @Description  Computes the effective total, assigns an order_ref when none is given and applies the cash-out effect for go-to-market, prepaid or purchase orders. Cashbox failures come back as warnings; the order is still saved.
// @Tags         orders
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        Idempotency-Key  header    string                      false  "Replay protection key"
// @Param        payload          body      service.CreateOrderRequest  true   "Order"
// @Success      201              {object}  response.Response{data=service.OrderResponse,warnings=[]service.LedgerWarning}
// @Failure      400              {object}  response.Response
// @Failure      409              {object}  response.Response
// @Failure      422              {object}  response.Response
// @Router       /api/orders [post]
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c, err)
		return
	}

	res, err := h.orderService.CreateOrder(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOrderResult(c, http.StatusCreated, res)
}

// UpdateOrder handles PATCH /api/orders/:id
// @Summary      Update an order
// @Description  Applies the sent fields, validates the status transition and fires any cash effect that became due
// @Tags         orders
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                      true  "Order ID"
// @Param        payload  body      service.UpdateOrderRequest  true  "Fields to change"
// @Success      200      {object}  response.Response{data=service.OrderResponse,warnings=[]service.LedgerWarning}
// @Failure      400      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Failure      422      {object}  response.Response
// @Router       /api/orders/{id} [patch]
func (h *OrderHandler) UpdateOrder(c *gin.Context) {
	var req service.UpdateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c, err)
		return
	}

	res, err := h.orderService.UpdateOrder(c.Request.Context(), middleware.UserID(c), c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOrderResult(c, http.StatusOK, res)
}

// CompleteOrder handles POST /api/orders/:id/complete
// @Summary      Complete an order
// @Tags         orders
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Order ID"
// @Success      200  {object}  response.Response{data=service.OrderResponse}
// @Failure      404  {object}  response.Response
// @Failure      422  {object}  response.Response
// @Router       /api/orders/{id}/complete [post]
func (h *OrderHandler) CompleteOrder(c *gin.Context) {
	res, err := h.orderService.CompleteOrder(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeOrderResult(c, http.StatusOK, res)
}

// MarkAccountingCashed handles POST /api/orders/:id/accounting-cash
// @Summary      Mark an order as cashed by accounting
// @Description  Completed and paid orders move to history once accounting has cashed them
// @Tags         orders
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Order ID"
// @Success      200  {object}  response.Response{data=service.OrderResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/orders/{id}/accounting-cash [post]
func (h *OrderHandler) MarkAccountingCashed(c *gin.Context) {
	res, err := h.orderService.MarkAccountingCashed(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeOrderResult(c, http.StatusOK, res)
}

// GetOrder handles GET /api/orders/:id
// @Summary      Get an order
// @Tags         orders
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Order ID"
// @Success      200  {object}  response.Response{data=service.OrderResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/orders/{id} [get]
func (h *OrderHandler) GetOrder(c *gin.Context) {
	order, err := h.orderService.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, order))
}

// ListOrders handles GET /api/orders
// @Summary      List active orders
// @Tags         orders
// @Produce      json
// @Security     BearerAuth
// @Param        status     query     string  false  "Status filter"
// @Param        driver_id  query     string  false  "Driver filter"
// @Param        client_id  query     string  false  "Client filter"
// @Param        search     query     string  false  "Matches order_ref, customer name or phone"
// @Param        page       query     int     false  "Page number (default 1)"
// @Param        limit      query     int     false  "Items per page (default 20)"
// @Success      200        {object}  response.Response{data=[]service.OrderResponse}
// @Router       /api/orders [get]
func (h *OrderHandler) ListOrders(c *gin.Context) {
	p := pagination.Parse(c)
	orders, total, err := h.orderService.ListOrders(c.Request.Context(), service.OrderListQuery{
		Status:   c.Query("status"),
		DriverID: c.Query("driver_id"),
		ClientID: c.Query("client_id"),
		Search:   c.Query("search"),
		Page:     p.Page,
		Limit:    p.Limit,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p.Response(orders, total))
}

// ListHistory handles GET /api/orders/history
// @Summary      List archived orders
// @Tags         orders
// @Produce      json
// @Security     BearerAuth
// @Param        page   query     int  false  "Page number (default 1)"
// @Param        limit  query     int  false  "Items per page (default 20)"
// @Success      200    {object}  response.Response{data=[]service.OrderResponse}
// @Router       /api/orders/history [get]
func (h *OrderHandler) ListHistory(c *gin.Context) {
	p := pagination.Parse(c)
	orders, total, err := h.orderService.ListHistory(c.Request.Context(), p.Page, p.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p.Response(orders, total))
}

// EstimateOrder handles POST /api/orders/estimate
// @Summary      Estimate an order total
// @Description  Runs the amount computation without saving anything
// @Tags         orders
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.EstimateRequest  true  "Amounts"
// @Success      200      {object}  response.Response{data=money.Displayed}
// @Failure      400      {object}  response.Response
// @Router       /api/orders/estimate [post]
func (h *OrderHandler) EstimateOrder(c *gin.Context) {
	var req service.EstimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c, err)
		return
	}

	displayed, err := h.orderService.EstimateOrder(req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, displayed))
}
