package gateway

import (
	"net/http"

	"github.com/example/stockkeeper/pkg/inventory"
	"github.com/example/stockkeeper/pkg/models"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type productRequest struct {
	Name      string          `json:"name" binding:"required"`
	Color     string          `json:"color"`
	Size      string          `json:"size"`
	Bought    int             `json:"bought" binding:"min=0"`
	BuyPrice  decimal.Decimal `json:"buy_price"`
	SellPrice decimal.Decimal `json:"sell_price"`
}

func (r productRequest) input() inventory.ProductInput {
	return inventory.ProductInput{
		Name:      r.Name,
		Color:     r.Color,
		Size:      r.Size,
		Bought:    r.Bought,
		BuyPrice:  r.BuyPrice,
		SellPrice: r.SellPrice,
	}
}

type restockRequest struct {
	Quantity int `json:"quantity" binding:"required,min=1"`
}

// productView adds the derived stock and money figures to a product.
type productView struct {
	*models.Product
	Left            int             `json:"left"`
	TotalBuyingCost decimal.Decimal `json:"total_buying_cost"`
	TotalRevenue    decimal.Decimal `json:"total_revenue"`
	Profit          decimal.Decimal `json:"profit"`
}

func viewProduct(p *models.Product) productView {
	return productView{
		Product:         p,
		Left:            p.Left(),
		TotalBuyingCost: p.TotalBuyingCost(),
		TotalRevenue:    p.TotalRevenue(),
		Profit:          p.Profit(),
	}
}

func (g *Gateway) createProduct(c *gin.Context) {
	var req productRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		g.badRequest(c, err)
		return
	}

	product, err := g.services.Products.CreateProduct(c.Request.Context(), ownerFrom(c), req.input())
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewProduct(product))
}

func (g *Gateway) listProducts(c *gin.Context) {
	inStock := c.Query("in_stock") == "true"

	products, err := g.services.Products.ListProducts(c.Request.Context(), ownerFrom(c), inStock)
	if err != nil {
		g.writeError(c, err)
		return
	}

	views := make([]productView, 0, len(products))
	for i := range products {
		views = append(views, viewProduct(&products[i]))
	}
	c.JSON(http.StatusOK, gin.H{"products": views, "total": len(views)})
}

func (g *Gateway) getProduct(c *gin.Context) {
	product, err := g.services.Products.GetProduct(c.Request.Context(), ownerFrom(c), c.Param("id"))
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewProduct(product))
}

func (g *Gateway) updateProduct(c *gin.Context) {
	var req productRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		g.badRequest(c, err)
		return
	}

	product, err := g.services.Products.UpdateProduct(c.Request.Context(), ownerFrom(c), c.Param("id"), req.input())
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewProduct(product))
}

func (g *Gateway) deleteProduct(c *gin.Context) {
	if err := g.services.Products.DeleteProduct(c.Request.Context(), ownerFrom(c), c.Param("id")); err != nil {
		g.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (g *Gateway) restockProduct(c *gin.Context) {
	var req restockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		g.badRequest(c, err)
		return
	}

	product, err := g.services.Products.Restock(c.Request.Context(), ownerFrom(c), c.Param("id"), req.Quantity)
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewProduct(product))
}

func (g *Gateway) productAvailability(c *gin.Context) {
	id := c.Param("id")
	available, err := g.services.Products.Availability(c.Request.Context(), ownerFrom(c), id)
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product_id": id, "available": available})
}
