package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/example/stockkeeper/pkg/clients"
	"github.com/example/stockkeeper/pkg/models"
	"github.com/example/stockkeeper/pkg/orders"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// createOrderRequest names an existing client by client_id or a new one in client.
type createOrderRequest struct {
	ClientID     string            `json:"client_id"`
	Client       *clientRequest    `json:"client"`
	Lines        []json.RawMessage `json:"lines"`
	ShippingCost decimal.Decimal   `json:"shipping_cost"`
	Notes        string            `json:"notes"`
}

// lineFields holds one line's fields undecoded so a bad field marks only that line invalid.
type lineFields struct {
	ProductID json.RawMessage `json:"product_id"`
	Quantity  json.RawMessage `json:"quantity"`
	UnitPrice json.RawMessage `json:"unit_price"`
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// parseLine decodes a line loosely. Quantity may be a JSON integer or a string holding one.
func parseLine(raw json.RawMessage) orders.LineRequest {
	var fields lineFields
	if err := json.Unmarshal(raw, &fields); err != nil {
		return orders.LineRequest{Invalid: "line must be an object"}
	}

	var line orders.LineRequest
	if present(fields.ProductID) {
		if err := json.Unmarshal(fields.ProductID, &line.ProductID); err != nil {
			line.Invalid = fmt.Sprintf("product_id must be a string, got %s", fields.ProductID)
			return line
		}
	}

	if present(fields.Quantity) {
		quantity, ok := parseQuantity(fields.Quantity)
		if !ok {
			line.Invalid = fmt.Sprintf("quantity must be a positive integer, got %s", fields.Quantity)
			return line
		}
		line.Quantity = quantity
	}

	if present(fields.UnitPrice) {
		var price decimal.Decimal
		if err := json.Unmarshal(fields.UnitPrice, &price); err != nil {
			line.Invalid = fmt.Sprintf("unit_price must be a decimal, got %s", fields.UnitPrice)
			return line
		}
		line.UnitPrice = &price
	}
	return line
}

func parseQuantity(raw json.RawMessage) (int, bool) {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return n, true
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

type orderView struct {
	*models.Order
	GrandTotal decimal.Decimal `json:"grand_total"`
}

func viewOrder(o *models.Order) orderView {
	return orderView{Order: o, GrandTotal: o.GrandTotal()}
}

func (g *Gateway) createOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		g.badRequest(c, err)
		return
	}

	var newClient clients.ClientInput
	if req.Client != nil {
		newClient = req.Client.input()
	}
	lines := make([]orders.LineRequest, 0, len(req.Lines))
	for _, raw := range req.Lines {
		lines = append(lines, parseLine(raw))
	}

	report, err := g.services.Orders.CreateOrder(c.Request.Context(), ownerFrom(c), orders.CreateOrderRequest{
		ClientID:     req.ClientID,
		NewClient:    newClient,
		Lines:        lines,
		ShippingCost: req.ShippingCost,
		Notes:        req.Notes,
	})
	if err != nil {
		g.writeError(c, err)
		return
	}

	skipped := report.Skipped
	if skipped == nil {
		skipped = []orders.SkippedLine{}
	}
	c.JSON(http.StatusCreated, gin.H{
		"order":          viewOrder(report.Order),
		"client_created": report.ClientCreated,
		"skipped_lines":  skipped,
	})
}

func (g *Gateway) listOrders(c *gin.Context) {
	view, err := orders.ParseListView(c.Query("view"))
	if err != nil {
		g.writeError(c, err)
		return
	}

	list, err := g.services.Orders.ListOrders(c.Request.Context(), ownerFrom(c), view)
	if err != nil {
		g.writeError(c, err)
		return
	}

	views := make([]orderView, 0, len(list))
	for i := range list {
		views = append(views, viewOrder(&list[i]))
	}
	c.JSON(http.StatusOK, gin.H{"orders": views, "total": len(views)})
}

func (g *Gateway) getOrder(c *gin.Context) {
	order, err := g.services.Orders.GetOrder(c.Request.Context(), ownerFrom(c), c.Param("id"))
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOrder(order))
}

func (g *Gateway) updateOrderStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		g.badRequest(c, err)
		return
	}

	order, err := g.services.Orders.SetOrderStatus(c.Request.Context(), ownerFrom(c), c.Param("id"), req.Status)
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOrder(order))
}

func (g *Gateway) deleteOrder(c *gin.Context) {
	if err := g.services.Orders.DeleteOrder(c.Request.Context(), ownerFrom(c), c.Param("id")); err != nil {
		g.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
