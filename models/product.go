package models

import "time"

// Product 对应供应商目录中的一个商品; ExternalCatalogID 为主变体 id, 履约时据此关联
type Product struct {
	ID                int64     `json:"id"`
	ExternalCatalogID string    `json:"external_catalog_id"`
	Name              string    `json:"name"`
	Description       string    `json:"description,omitempty"`
	ImageURL          string    `json:"image_url,omitempty"`
	PriceCents        int64     `json:"price_cents"`
	Active            bool      `json:"active"`
	UpdatedAt         time.Time `json:"updated_at"`
}
