// Package gateway exposes the inventory, client and order services over HTTP.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/example/stockkeeper/pkg/clients"
	"github.com/example/stockkeeper/pkg/config"
	"github.com/example/stockkeeper/pkg/inventory"
	"github.com/example/stockkeeper/pkg/models"
	"github.com/example/stockkeeper/pkg/orders"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	ownerHeader = "X-Owner-ID"
	ownerKey    = "owner_id"
)

type ProductService interface {
	CreateProduct(ctx context.Context, owner models.OwnerID, in inventory.ProductInput) (*models.Product, error)
	UpdateProduct(ctx context.Context, owner models.OwnerID, productID string, in inventory.ProductInput) (*models.Product, error)
	DeleteProduct(ctx context.Context, owner models.OwnerID, productID string) error
	GetProduct(ctx context.Context, owner models.OwnerID, productID string) (*models.Product, error)
	ListProducts(ctx context.Context, owner models.OwnerID, inStockOnly bool) ([]models.Product, error)
	Availability(ctx context.Context, owner models.OwnerID, productID string) (int, error)
	Restock(ctx context.Context, owner models.OwnerID, productID string, quantity int) (*models.Product, error)
}

type ClientService interface {
	CreateClient(ctx context.Context, owner models.OwnerID, in clients.ClientInput) (*models.Client, error)
	UpdateClient(ctx context.Context, owner models.OwnerID, clientID string, in clients.ClientInput) (*models.Client, error)
	DeleteClient(ctx context.Context, owner models.OwnerID, clientID string) error
	GetClient(ctx context.Context, owner models.OwnerID, clientID string) (*models.Client, error)
	ListClients(ctx context.Context, owner models.OwnerID) ([]models.Client, error)
	History(ctx context.Context, owner models.OwnerID, clientID string) (*models.ClientHistory, error)
}

type OrderService interface {
	CreateOrder(ctx context.Context, owner models.OwnerID, req orders.CreateOrderRequest) (*orders.AssemblyReport, error)
	SetOrderStatus(ctx context.Context, owner models.OwnerID, orderID, status string) (*models.Order, error)
	GetOrder(ctx context.Context, owner models.OwnerID, orderID string) (*models.Order, error)
	ListOrders(ctx context.Context, owner models.OwnerID, view orders.ListView) ([]models.Order, error)
	DeleteOrder(ctx context.Context, owner models.OwnerID, orderID string) error
}

// Services are the backends the gateway routes to. Ready, when set, backs /ready.
type Services struct {
	Products ProductService
	Clients  ClientService
	Orders   OrderService
	Ready    func(ctx context.Context) error
}

type Gateway struct {
	config   *config.GatewayConfig
	services Services
	logger   *zap.Logger
	router   *gin.Engine
}

func NewGateway(cfg *config.GatewayConfig, logger *zap.Logger, services Services) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggerMiddleware(logger))

	g := &Gateway{
		config:   cfg,
		services: services,
		logger:   logger.Named("gateway"),
		router:   router,
	}
	g.SetupRoutes()
	return g
}

func (g *Gateway) SetupRoutes() {
	g.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	g.router.GET("/ready", g.ready)

	v1 := g.router.Group("/api/v1", ownerMiddleware())
	{
		products := v1.Group("/products")
		{
			products.POST("", g.createProduct)
			products.GET("", g.listProducts)
			products.GET("/:id", g.getProduct)
			products.PUT("/:id", g.updateProduct)
			products.DELETE("/:id", g.deleteProduct)
			products.POST("/:id/restock", g.restockProduct)
			products.GET("/:id/availability", g.productAvailability)
		}

		clients := v1.Group("/clients")
		{
			clients.POST("", g.createClient)
			clients.GET("", g.listClients)
			clients.GET("/:id", g.getClient)
			clients.PUT("/:id", g.updateClient)
			clients.DELETE("/:id", g.deleteClient)
			clients.GET("/:id/history", g.clientHistory)
		}

		orders := v1.Group("/orders")
		{
			orders.POST("", g.createOrder)
			orders.GET("", g.listOrders)
			orders.GET("/:id", g.getOrder)
			orders.PUT("/:id/status", g.updateOrderStatus)
			orders.DELETE("/:id", g.deleteOrder)
		}
	}
}

func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Server returns an http.Server for the configured address. The caller owns its lifecycle.
func (g *Gateway) Server() *http.Server {
	return &http.Server{
		Addr:         g.config.Addr(),
		Handler:      g.router,
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}
}

func (g *Gateway) ready(c *gin.Context) {
	if g.services.Ready != nil {
		if err := g.services.Ready(c.Request.Context()); err != nil {
			g.logger.Warn("Readiness check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func ownerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := models.OwnerID(c.GetHeader(ownerHeader))
		if !owner.Valid() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{
				Error:   "unauthorized",
				Message: ownerHeader + " header is required",
				Status:  http.StatusUnauthorized,
			})
			return
		}
		c.Set(ownerKey, owner)
		c.Next()
	}
}

func ownerFrom(c *gin.Context) models.OwnerID {
	owner, _ := c.Get(ownerKey)
	id, _ := owner.(models.OwnerID)
	return id
}

func loggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.String("owner_id", c.GetHeader(ownerHeader)),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
