package printful

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// ProductSummary 商品列表中的一项; 价格和图片只有详情接口返回
type ProductSummary struct {
	ID            int64  `json:"id"`
	ExternalID    string `json:"external_id"`
	Name          string `json:"name"`
	ThumbnailURL  string `json:"thumbnail_url"`
	MainVariantID int64  `json:"main_variant_id"`
	IsIgnored     bool   `json:"is_ignored"`
}

type ProductDetail struct {
	Product  SyncProduct   `json:"sync_product"`
	Variants []SyncVariant `json:"sync_variants"`
}

type SyncProduct struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	ThumbnailURL string `json:"thumbnail_url"`
}

type SyncVariant struct {
	ID          int64  `json:"id"`
	ExternalID  string `json:"external_id"`
	Name        string `json:"name"`
	RetailPrice Price  `json:"retail_price"`
	Files       []File `json:"files"`
}

type File struct {
	Type       string `json:"type"`
	PreviewURL string `json:"preview_url"`
}

// Price 供应商返回的十进制价格文本; 也接受不带引号的数字,
// 格式错误时只跳过该商品, 不影响整个响应的解析
type Price string

func (p *Price) UnmarshalJSON(b []byte) error {
	switch {
	case string(b) == "null":
		*p = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = Price(s)
	default:
		*p = Price(b)
	}
	return nil
}

// ListProducts 翻页读取全部店铺商品
func (c *Client) ListProducts(ctx context.Context) ([]ProductSummary, error) {
	var all []ProductSummary
	offset := 0
	for {
		path := fmt.Sprintf("/store/products?offset=%d&limit=%d", offset, listPageSize)
		env, err := c.do(ctx, "list products", http.MethodGet, path, nil)
		if err != nil {
			return nil, err
		}
		var page []ProductSummary
		if err := decodeResult("list products", env, &page); err != nil {
			return nil, err
		}
		all = append(all, page...)

		if env.Paging == nil || len(page) == 0 || offset+len(page) >= env.Paging.Total {
			return all, nil
		}
		offset += len(page)
	}
}

func (c *Client) GetProduct(ctx context.Context, id int64) (*ProductDetail, error) {
	env, err := c.do(ctx, "get product", http.MethodGet, fmt.Sprintf("/store/products/%d", id), nil)
	if err != nil {
		return nil, err
	}
	var detail ProductDetail
	if err := decodeResult("get product", env, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}
