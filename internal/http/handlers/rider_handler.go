// README: Rider handlers; registration, availability, position and incentives.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"dropoff/internal/http/middleware"
	"dropoff/internal/modules/incentive"
	"dropoff/internal/modules/location"
	"dropoff/internal/modules/order"
	"dropoff/internal/modules/rider"
	"dropoff/internal/types"
)

type RiderHandler struct {
	rider      *rider.Service
	incentives *incentive.Service
	orders     *order.Service
}

func NewRiderHandler(riderSvc *rider.Service, incentiveSvc *incentive.Service, orderSvc *order.Service) *RiderHandler {
	return &RiderHandler{rider: riderSvc, incentives: incentiveSvc, orders: orderSvc}
}

type registerRiderReq struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

func (h *RiderHandler) Register(c *gin.Context) {
	var req registerRiderReq
	if !bindJSON(c, &req) {
		return
	}
	r, err := h.rider.Register(c.Request.Context(), rider.RegisterCommand{Name: req.Name, Phone: req.Phone})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, r)
}

func (h *RiderHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	r, err := h.rider.Get(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

type statusReq struct {
	Status string `json:"status"`
}

func (h *RiderHandler) SetStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req statusReq
	if !bindJSON(c, &req) {
		return
	}
	r, err := h.rider.SetStatus(c.Request.Context(), id, rider.Status(strings.ToUpper(strings.TrimSpace(req.Status))))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

type locationReq struct {
	Location json.RawMessage `json:"location"`
}

func (h *RiderHandler) UpdateLocation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req locationReq
	if !bindJSON(c, &req) {
		return
	}
	p, err := location.Normalize(req.Location)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	r, err := h.rider.UpdateLocation(c.Request.Context(), id, p)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

type ratingReq struct {
	OrderID string `json:"orderId"`
	Rating  int    `json:"rating"`
}

func (h *RiderHandler) Rate(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req ratingReq
	if !bindJSON(c, &req) {
		return
	}
	cmd := order.RateCommand{OrderID: types.ID(req.OrderID), RiderID: id, Rating: req.Rating}
	if middleware.CallerRole(c) != middleware.RoleAdmin {
		cmd.UserID = types.ID(middleware.CallerUID(c))
	}
	r, points, err := h.orders.RateDelivery(c.Request.Context(), cmd)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"pointsAwarded": points,
		"currentPoints": r.Incentives.CurrentPoints,
		"tier":          r.Incentives.Tier,
	})
}

type redeemReq struct {
	Points int `json:"points"`
}

func (h *RiderHandler) Redeem(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req redeemReq
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.incentives.Redeem(c.Request.Context(), id, req.Points)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (h *RiderHandler) Incentives(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	sum, err := h.incentives.Summary(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, sum)
}
