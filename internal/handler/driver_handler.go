package handler

import (
	"net/http"

	"deliveryerp/internal/middleware"
	"deliveryerp/internal/service"
	"deliveryerp/pkg/pagination"
	"deliveryerp/pkg/response"

	"github.com/gin-gonic/gin"
)

type DriverHandler struct {
	driverService service.DriverService
}

func NewDriverHandler(driverService service.DriverService) *DriverHandler {
	registerValidators()
	return &DriverHandler{driverService: driverService}
}

func (h *DriverHandler) RegisterRoutes(router *gin.RouterGroup) {
	drivers := router.Group("/api/drivers")
	drivers.Use(middleware.RequireRole(middleware.RoleDispatcher, middleware.RoleAdmin))
	{
		drivers.GET("", h.GetDrivers)
		drivers.POST("", h.CreateDriver)
		drivers.PUT("/:id", h.UpdateDriver)
		drivers.DELETE("/:id", h.DeleteDriver)
	}
}

// GetDrivers handles GET /api/drivers
// @Summary      List drivers
// @Tags         drivers
// @Produce      json
// @Security     BearerAuth
// @Param        search  query     string  false  "Name or phone"
// @Param        active  query     bool    false  "Only active drivers"
// @Param        page    query     int     false  "Page number (default 1)"
// @Param        limit   query     int     false  "Items per page (default 20)"
// @Success      200     {object}  response.Response{data=[]service.DriverResponse}
// @Router       /api/drivers [get]
func (h *DriverHandler) GetDrivers(c *gin.Context) {
	p := pagination.Parse(c)
	drivers, total, err := h.driverService.GetDrivers(c.Request.Context(), c.Query("search"), c.Query("active") == "true", p.Page, p.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p.Response(drivers, total))
}

// CreateDriver handles POST /api/drivers
// @Summary      Create a driver
// @Tags         drivers
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.CreateDriverRequest  true  "Driver"
// @Success      201      {object}  response.Response{data=service.DriverResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/drivers [post]
func (h *DriverHandler) CreateDriver(c *gin.Context) {
	var req service.CreateDriverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c, err)
		return
	}

	driver, err := h.driverService.CreateDriver(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, driver))
}

// UpdateDriver handles PUT /api/drivers/:id
// @Summary      Update a driver
// @Tags         drivers
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                       true  "Driver ID"
// @Param        payload  body      service.UpdateDriverRequest  true  "Fields to change"
// @Success      200      {object}  response.Response{data=service.DriverResponse}
// @Failure      404      {object}  response.Response
// @Router       /api/drivers/{id} [put]
func (h *DriverHandler) UpdateDriver(c *gin.Context) {
	var req service.UpdateDriverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c, err)
		return
	}

	driver, err := h.driverService.UpdateDriver(c.Request.Context(), middleware.UserID(c), c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, driver))
}

// DeleteDriver handles DELETE /api/drivers/:id
// @Summary      Delete a driver
// @Tags         drivers
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Driver ID"
// @Success      200  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /api/drivers/{id} [delete]
func (h *DriverHandler) DeleteDriver(c *gin.Context) {
	if err := h.driverService.DeleteDriver(c.Request.Context(), middleware.UserID(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "Driver deleted"}))
}
