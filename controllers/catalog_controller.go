package controllers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"fulfillment-service/catalog"
	"fulfillment-service/models"
)

type ProductLister interface {
	ListProducts(ctx context.Context, activeOnly bool) ([]models.Product, error)
}

type CatalogSyncer interface {
	Sync(ctx context.Context) (catalog.Result, error)
}

type CatalogController struct {
	products ProductLister
	syncer   CatalogSyncer
	logger   *slog.Logger
}

func NewCatalogController(products ProductLister, syncer CatalogSyncer, logger *slog.Logger) *CatalogController {
	return &CatalogController{products: products, syncer: syncer, logger: logger.With("component", "catalog")}
}

// ListProducts 店铺商品列表, 只读本地数据
func (cc *CatalogController) ListProducts(c *gin.Context) {
	products, err := cc.products.ListProducts(c.Request.Context(), true)
	if err != nil {
		cc.logger.Error("list products", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	// 没有商品时返回 [] 而不是 null
	if products == nil {
		products = []models.Product{}
	}
	c.JSON(http.StatusOK, products)
}

func (cc *CatalogController) SyncCatalog(c *gin.Context) {
	res, err := cc.syncer.Sync(c.Request.Context())
	if err != nil {
		cc.logger.Error("catalog sync failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Catalog provider error"})
		return
	}
	c.JSON(http.StatusOK, res)
}
