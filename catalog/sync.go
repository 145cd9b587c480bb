// Package catalog 把供应商店铺商品同步为本地 Product, 下单定价和履约都基于本地数据
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fulfillment-service/middlewares"
	"fulfillment-service/models"
	"fulfillment-service/printful"
)

type Source interface {
	ListProducts(ctx context.Context) ([]printful.ProductSummary, error)
	GetProduct(ctx context.Context, id int64) (*printful.ProductDetail, error)
}

type ProductStore interface {
	UpsertProduct(ctx context.Context, p models.Product) (int64, error)
}

type Result struct {
	Listed           int `json:"listed"`
	ProductsUpserted int `json:"products_upserted"`
	Skipped          int `json:"skipped"`
}

type Synchronizer struct {
	source   Source
	store    ProductStore
	logger   *slog.Logger
	attempts int
	backoff  time.Duration
}

// NewSynchronizer 每个商品详情最多请求 attempts 次, 第 n 次失败后等待 backoff*n
func NewSynchronizer(source Source, store ProductStore, logger *slog.Logger, attempts int, backoff time.Duration) *Synchronizer {
	if attempts < 1 {
		attempts = 1
	}
	return &Synchronizer{
		source:   source,
		store:    store,
		logger:   logger.With("component", "catalog"),
		attempts: attempts,
		backoff:  backoff,
	}
}

// Sync 先拉列表再逐个拉详情并 upsert
// 只有列表失败会中止本次同步, 单个商品失败只记录日志并跳过
func (s *Synchronizer) Sync(ctx context.Context) (Result, error) {
	var res Result

	summaries, err := s.source.ListProducts(ctx)
	if err != nil {
		return res, fmt.Errorf("list catalog: %w", err)
	}
	res.Listed = len(summaries)

	for _, summary := range summaries {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		log := s.logger.With("catalog_product_id", summary.ID)

		detail, err := s.fetchDetail(ctx, summary.ID)
		if err != nil {
			log.Warn("skipping product: detail fetch failed", "attempts", s.attempts, "error", err)
			middlewares.RecordCatalogProduct("skipped_fetch")
			res.Skipped++
			continue
		}

		product, err := normalize(summary, detail)
		if err != nil {
			log.Warn("skipping product", "error", err)
			middlewares.RecordCatalogProduct("skipped_invalid")
			res.Skipped++
			continue
		}
		if primaryFallback(summary, detail) {
			log.Info("main variant not found, using first variant",
				"main_variant_id", summary.MainVariantID, "variant_id", product.ExternalCatalogID)
		}

		id, err := s.store.UpsertProduct(ctx, product)
		if err != nil {
			log.Error("skipping product: upsert failed", "error", err)
			middlewares.RecordCatalogProduct("failed_upsert")
			res.Skipped++
			continue
		}
		log.Debug("product upserted", "product_id", id, "external_catalog_id", product.ExternalCatalogID, "price_cents", product.PriceCents)
		middlewares.RecordCatalogProduct("upserted")
		res.ProductsUpserted++
	}

	s.logger.Info("catalog sync finished", "listed", res.Listed, "upserted", res.ProductsUpserted, "skipped", res.Skipped)
	return res, nil
}

func (s *Synchronizer) fetchDetail(ctx context.Context, id int64) (*printful.ProductDetail, error) {
	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		detail, err := s.source.GetProduct(ctx, id)
		if err == nil {
			return detail, nil
		}
		lastErr = err
		if attempt == s.attempts {
			break
		}
		s.logger.Debug("retrying product detail", "catalog_product_id", id, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return nil, errors.Join(lastErr, ctx.Err())
		case <-time.After(s.backoff * time.Duration(attempt)):
		}
	}
	return nil, lastErr
}

// primaryVariant 优先取 main_variant_id 对应的变体, 找不到时取第一个
func primaryVariant(summary printful.ProductSummary, detail *printful.ProductDetail) (printful.SyncVariant, bool) {
	if len(detail.Variants) == 0 {
		return printful.SyncVariant{}, false
	}
	for _, v := range detail.Variants {
		if v.ID == summary.MainVariantID {
			return v, true
		}
	}
	return detail.Variants[0], true
}

func primaryFallback(summary printful.ProductSummary, detail *printful.ProductDetail) bool {
	for _, v := range detail.Variants {
		if v.ID == summary.MainVariantID {
			return false
		}
	}
	return len(detail.Variants) > 0
}

func normalize(summary printful.ProductSummary, detail *printful.ProductDetail) (models.Product, error) {
	variant, ok := primaryVariant(summary, detail)
	if !ok {
		return models.Product{}, errors.New("product has no variants")
	}

	cents, err := PriceToCents(string(variant.RetailPrice))
	if err != nil {
		return models.Product{}, fmt.Errorf("variant %d: %w", variant.ID, err)
	}

	name := detail.Product.Name
	if name == "" {
		name = summary.Name
	}

	return models.Product{
		ExternalCatalogID: strconv.FormatInt(variant.ID, 10),
		Name:              name,
		Description:       detail.Product.Description,
		ImageURL:          imageURL(summary, detail, variant),
		PriceCents:        cents,
		Active:            !summary.IsIgnored,
	}, nil
}

func imageURL(summary printful.ProductSummary, detail *printful.ProductDetail, variant printful.SyncVariant) string {
	for _, f := range variant.Files {
		if f.PreviewURL != "" {
			return f.PreviewURL
		}
	}
	if detail.Product.ThumbnailURL != "" {
		return detail.Product.ThumbnailURL
	}
	return summary.ThumbnailURL
}

// PriceToCents 把十进制价格字符串转换为分, 四舍五入(远离零)
func PriceToCents(price string) (int64, error) {
	price = strings.TrimSpace(price)
	if price == "" {
		return 0, errors.New("missing price")
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q", price)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("negative price %q", price)
	}
	return d.Shift(2).Round(0).IntPart(), nil
}
