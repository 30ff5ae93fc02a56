package gateway

import (
	"errors"
	"net/http"

	"github.com/example/stockkeeper/pkg/apperr"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Status  int         `json:"status"`
	Details interface{} `json:"details,omitempty"`
}

type stockDetails struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name,omitempty"`
	Available   int    `json:"available"`
	Requested   int    `json:"requested"`
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindConflict, apperr.KindInsufficientStock:
		return http.StatusConflict
	case apperr.KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (g *Gateway) writeError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	resp := errorResponse{Error: string(kind), Message: err.Error(), Status: status}

	var stockErr *apperr.InsufficientStockError
	if errors.As(err, &stockErr) {
		resp.Details = stockDetails{
			ProductID:   stockErr.ProductID,
			ProductName: stockErr.ProductName,
			Available:   stockErr.Available,
			Requested:   stockErr.Requested,
		}
	}

	if status >= http.StatusInternalServerError {
		g.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
		resp.Message = "the service is temporarily unavailable, retry later"
		if kind == apperr.KindUnknown {
			resp.Error = "internal"
			resp.Message = "internal error"
		}
	}

	c.JSON(status, resp)
}

func (g *Gateway) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errorResponse{
		Error:   string(apperr.KindValidation),
		Message: "invalid request body: " + err.Error(),
		Status:  http.StatusBadRequest,
	})
}
