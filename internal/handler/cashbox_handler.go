package handler

import (
	"net/http"
	"time"

	"deliveryerp/internal/middleware"
	"deliveryerp/internal/repository"
	"deliveryerp/internal/service"
	"deliveryerp/pkg/pagination"
	"deliveryerp/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const dateLayout = "2006-01-02"

type CashboxHandler struct {
	ledger     service.LedgerService
	idempotent gin.HandlerFunc
}

func NewCashboxHandler(ledger service.LedgerService, idempotent gin.HandlerFunc) *CashboxHandler {
	registerValidators()
	if idempotent == nil {
		idempotent = func(c *gin.Context) { c.Next() }
	}
	return &CashboxHandler{ledger: ledger, idempotent: idempotent}
}

func (h *CashboxHandler) RegisterRoutes(router *gin.RouterGroup) {
	cashbox := router.Group("/api/cashbox")
	cashbox.Use(middleware.RequireRole(middleware.RoleAccountant, middleware.RoleAdmin))
	{
		cashbox.GET("", h.GetCashbox)
		cashbox.GET("/entries", h.ListEntries)
		cashbox.POST("/income", h.idempotent, h.RecordIncome)
		cashbox.POST("/expense", h.idempotent, h.RecordExpense)
		cashbox.POST("/transfer", h.idempotent, h.Transfer)
		cashbox.PUT("/capital", middleware.RequireRole(middleware.RoleAdmin), h.SetCapital)
		cashbox.GET("/reconciliation", h.Reconcile)
		cashbox.GET("/report", h.Cashflow)
	}
}

// GetCashbox handles GET /api/cashbox
// @Summary      Current cashbox balances
// @Tags         cashbox
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  response.Response{data=model.Cashbox}
// @Router       /api/cashbox [get]
func (h *CashboxHandler) GetCashbox(c *gin.Context) {
	box, err := h.ledger.GetCashbox(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, box))
}

// ListEntries handles GET /api/cashbox/entries
// @Summary      List cashbox entries
// @Tags         cashbox
// @Produce      json
// @Security     BearerAuth
// @Param        type          query     string  false  "Entry type"
// @Param        account_type  query     string  false  "cash or wish"
// @Param        order_id      query     string  false  "Order ID"
// @Param        start_date    query     string  false  "YYYY-MM-DD"
// @Param        end_date      query     string  false  "YYYY-MM-DD, inclusive"
// @Param        page          query     int     false  "Page number (default 1)"
// @Param        limit         query     int     false  "Items per page (default 20)"
// @Success      200           {object}  response.Response{data=[]model.CashboxEntry}
// @Failure      400           {object}  response.Response
// @Router       /api/cashbox/entries [get]
func (h *CashboxHandler) ListEntries(c *gin.Context) {
	p := pagination.Parse(c)
	filter := repository.EntryFilter{
		Type:        c.Query("type"),
		AccountType: c.Query("account_type"),
		Page:        p.Page,
		Limit:       p.Limit,
	}

	if raw := c.Query("order_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid order_id"))
			return
		}
		filter.OrderID = &id
	}

	start, end, ok := dateRange(c)
	if !ok {
		return
	}
	if !start.IsZero() {
		filter.From = &start
	}
	if !end.IsZero() {
		filter.To = &end
	}

	entries, total, err := h.ledger.ListEntries(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p.Response(entries, total))
}

// dateRange reads start_date/end_date. end_date covers the whole day.
func dateRange(c *gin.Context) (time.Time, time.Time, bool) {
	var start, end time.Time
	var err error
	if raw := c.Query("start_date"); raw != "" {
		if start, err = time.Parse(dateLayout, raw); err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid start_date format, expected YYYY-MM-DD"))
			return start, end, false
		}
	}
	if raw := c.Query("end_date"); raw != "" {
		if end, err = time.Parse(dateLayout, raw); err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid end_date format, expected YYYY-MM-DD"))
			return start, end, false
		}
		end = end.Add(24*time.Hour - time.Nanosecond)
	}
	return start, end, true
}

// RecordIncome handles POST /api/cashbox/income
// @Summary      Record manual income
// @Tags         cashbox
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        Idempotency-Key  header    string                      false  "Replay protection key"
// @Param        payload          body      service.ManualEntryRequest  true   "Income"
// @Success      201              {object}  response.Response{data=service.LedgerResult}
// @Failure      400              {object}  response.Response
// @Router       /api/cashbox/income [post]
func (h *CashboxHandler) RecordIncome(c *gin.Context) {
	var req service.ManualEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c, err)
		return
	}

	res, err := h.ledger.RecordIncome(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, res))
}

// RecordExpense handles POST /api/cashbox/expense
// @Summary      Record manual expense
// @Description  Rejected with 422 when the account would go negative
// @Tags         cashbox
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        Idempotency-Key  header    string                      false  "Replay protection key"
// @Param        payload          body      service.ManualEntryRequest  true   "Expense"
// @Success      201              {object}  response.Response{data=service.LedgerResult}
// @Failure      400              {object}  response.Response
// @Failure      422              {object}  response.Response
// @Router       /api/cashbox/expense [post]
func (h *CashboxHandler) RecordExpense(c *gin.Context) {
	var req service.ManualEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c, err)
		return
	}

	res, err := h.ledger.RecordExpense(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, res))
}

// Transfer handles POST /api/cashbox/transfer
// @Summary      Move money between the cash and wish accounts
// @Tags         cashbox
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        Idempotency-Key  header    string                   false  "Replay protection key"
// @Param        payload          body      service.TransferRequest  true   "Transfer"
// @Success      201              {object}  response.Response{data=service.TransferResult}
// @Failure      400              {object}  response.Response
// @Failure      422              {object}  response.Response
// @Router       /api/cashbox/transfer [post]
func (h *CashboxHandler) Transfer(c *gin.Context) {
	var req service.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c, err)
		return
	}

	res, err := h.ledger.Transfer(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, res))
}

// SetCapital handles PUT /api/cashbox/capital
// @Summary      Set the opening capital
// @Description  The first call records capital_add; later calls record the difference as capital_edit
// @Tags         cashbox
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.SetCapitalRequest  true  "Capital"
// @Success      200      {object}  response.Response{data=service.LedgerResult}
// @Failure      400      {object}  response.Response
// @Router       /api/cashbox/capital [put]
func (h *CashboxHandler) SetCapital(c *gin.Context) {
	var req service.SetCapitalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c, err)
		return
	}

	res, err := h.ledger.SetCapital(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, res))
}

// Reconcile handles GET /api/cashbox/reconciliation
// @Summary      Compare balances with the entry trail
// @Tags         cashbox
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  response.Response{data=service.ReconciliationReport}
// @Router       /api/cashbox/reconciliation [get]
func (h *CashboxHandler) Reconcile(c *gin.Context) {
	report, err := h.ledger.Reconcile(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, report))
}

// Cashflow handles GET /api/cashbox/report
// @Summary      Cashflow report
// @Description  Inflow and outflow per period in both currencies. Transfers are left out.
// @Tags         cashbox
// @Produce      json
// @Security     BearerAuth
// @Param        group_by    query     string  false  "day, week or month (default day)"
// @Param        start_date  query     string  false  "YYYY-MM-DD (default 30 days ago)"
// @Param        end_date    query     string  false  "YYYY-MM-DD (default today)"
// @Success      200         {object}  response.Response{data=[]repository.CashflowRow}
// @Failure      400         {object}  response.Response
// @Router       /api/cashbox/report [get]
func (h *CashboxHandler) Cashflow(c *gin.Context) {
	start, end, ok := dateRange(c)
	if !ok {
		return
	}

	rows, err := h.ledger.Cashflow(c.Request.Context(), c.DefaultQuery("group_by", "day"), start, end)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, rows))
}
