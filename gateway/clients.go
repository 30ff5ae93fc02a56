package gateway

import (
	"net/http"

	"github.com/example/stockkeeper/pkg/clients"
	"github.com/gin-gonic/gin"
)

type clientRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	Email   string `json:"email"`
}

func (r clientRequest) input() clients.ClientInput {
	return clients.ClientInput{Name: r.Name, Phone: r.Phone, Address: r.Address, Email: r.Email}
}

func (g *Gateway) createClient(c *gin.Context) {
	var req clientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		g.badRequest(c, err)
		return
	}

	client, err := g.services.Clients.CreateClient(c.Request.Context(), ownerFrom(c), req.input())
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, client)
}

func (g *Gateway) listClients(c *gin.Context) {
	list, err := g.services.Clients.ListClients(c.Request.Context(), ownerFrom(c))
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"clients": list, "total": len(list)})
}

func (g *Gateway) getClient(c *gin.Context) {
	client, err := g.services.Clients.GetClient(c.Request.Context(), ownerFrom(c), c.Param("id"))
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, client)
}

func (g *Gateway) updateClient(c *gin.Context) {
	var req clientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		g.badRequest(c, err)
		return
	}

	client, err := g.services.Clients.UpdateClient(c.Request.Context(), ownerFrom(c), c.Param("id"), req.input())
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, client)
}

func (g *Gateway) deleteClient(c *gin.Context) {
	if err := g.services.Clients.DeleteClient(c.Request.Context(), ownerFrom(c), c.Param("id")); err != nil {
		g.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (g *Gateway) clientHistory(c *gin.Context) {
	history, err := g.services.Clients.History(c.Request.Context(), ownerFrom(c), c.Param("id"))
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}
