package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mediaforge/studio/internal/catalog"
	"github.com/mediaforge/studio/internal/models"
	"github.com/mediaforge/studio/internal/services"
)

// CatalogHandler serves models, templates and cost estimates
type CatalogHandler struct {
	catalog *catalog.Catalog
	costs   *services.CostService
}

// NewCatalogHandler creates a new catalog handler
func NewCatalogHandler(cat *catalog.Catalog, costs *services.CostService) *CatalogHandler {
	return &CatalogHandler{catalog: cat, costs: costs}
}

type modelView struct {
	catalog.Model
	TimeoutSeconds int            `json:"timeout_seconds"`
	Rate           *services.Rate `json:"rate,omitempty"`
	DefaultCost    *services.Cost `json:"default_cost,omitempty"`
}

func (h *CatalogHandler) view(m catalog.Model) modelView {
	v := modelView{Model: m, TimeoutSeconds: m.TimeoutSeconds()}
	if rate, ok := h.costs.RateFor(m.Key); ok {
		v.Rate = &rate
	}
	if cost, err := h.costs.Estimate(m.Key, nil); err == nil {
		v.DefaultCost = &cost
	}
	return v
}

// ListModels returns the catalog, optionally filtered by ?type=
func (h *CatalogHandler) ListModels(c *gin.Context) {
	kind := models.Kind(c.Query("type"))
	if kind != "" && !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown type"})
		return
	}

	list := h.catalog.List()
	if kind != "" {
		list = h.catalog.ListKind(kind)
	}
	out := make([]modelView, 0, len(list))
	for _, m := range list {
		out = append(out, h.view(m))
	}
	c.JSON(http.StatusOK, gin.H{"models": out})
}

// GetModel returns one model with its parameter schema
func (h *CatalogHandler) GetModel(c *gin.Context) {
	m, err := h.catalog.Get(c.Param("key"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.view(m))
}

// Templates returns prompt templates, optionally filtered by ?kind=
func (h *CatalogHandler) Templates(c *gin.Context) {
	kind := models.Kind(c.Query("kind"))
	if kind != "" && !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown kind"})
		return
	}
	templates := catalog.Templates(kind)
	if templates == nil {
		templates = []catalog.Template{}
	}
	c.JSON(http.StatusOK, gin.H{"templates": templates})
}

// EstimateRequest asks for the price of a run
type EstimateRequest struct {
	Model  string         `json:"model" binding:"required"`
	Params map[string]any `json:"params"`
}

// EstimateCost prices a run before it is submitted
func (h *CatalogHandler) EstimateCost(c *gin.Context) {
	var req EstimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cost, err := h.costs.Estimate(req.Model, req.Params)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, cost)
}
