package handler

import (
	"errors"
	"net/http"
	"sync"

	"deliveryerp/internal/money"
	"deliveryerp/internal/service"
	"deliveryerp/internal/workflow"
	"deliveryerp/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	var ve *service.ValidationError
	var pe *money.ParseError
	switch {
	case errors.As(err, &ve), errors.As(err, &pe):
		return http.StatusBadRequest
	case errors.Is(err, workflow.ErrDriverRequired),
		errors.Is(err, workflow.ErrInvalidTransition),
		errors.Is(err, service.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		msg = "internal server error"
	}
	c.JSON(status, response.Error(status, msg))
}

func badPayload(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
}

var registerOnce sync.Once

// registerValidators adds the "decimal" tag to gin's validator: blank or a parseable amount.
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("decimal", func(fl validator.FieldLevel) bool {
			_, err := money.Parse(fl.Field().String())
			return err == nil
		})
	})
}
