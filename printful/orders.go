package printful

import (
	"context"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"fulfillment-service/models"
)

type orderRequest struct {
	ExternalID string      `json:"external_id"`
	Recipient  recipient   `json:"recipient"`
	Items      []orderItem `json:"items"`
}

type recipient struct {
	Name        string `json:"name"`
	Address1    string `json:"address1"`
	Address2    string `json:"address2,omitempty"`
	City        string `json:"city"`
	StateCode   string `json:"state_code,omitempty"`
	CountryCode string `json:"country_code"`
	Zip         string `json:"zip"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

// orderItem 商品 id 为数字时用 sync_variant_id, 否则用 external_variant_id
type orderItem struct {
	SyncVariantID     int64  `json:"sync_variant_id,omitempty"`
	ExternalVariantID string `json:"external_variant_id,omitempty"`
	Quantity          int    `json:"quantity"`
	RetailPrice       string `json:"retail_price"`
}

type orderResult struct {
	ID         int64  `json:"id"`
	ExternalID string `json:"external_id"`
	Status     string `json:"status"`
}

func newOrderRequest(p models.FulfillmentPayload) orderRequest {
	r := p.Recipient
	req := orderRequest{
		ExternalID: p.ExternalID,
		Recipient: recipient{
			Name:        r.Name,
			Address1:    r.Address1,
			Address2:    r.Address2,
			City:        r.City,
			StateCode:   r.StateCode,
			CountryCode: r.CountryCode,
			Zip:         r.Zip,
			Email:       r.Email,
			Phone:       r.Phone,
		},
		Items: make([]orderItem, 0, len(p.Items)),
	}
	for _, line := range p.Items {
		item := orderItem{
			Quantity:    line.Quantity,
			RetailPrice: decimal.New(line.RetailPriceCents, -2).StringFixed(2),
		}
		if id, err := strconv.ParseInt(line.ExternalCatalogID, 10, 64); err == nil {
			item.SyncVariantID = id
		} else {
			item.ExternalVariantID = line.ExternalCatalogID
		}
		req.Items = append(req.Items, item)
	}
	return req
}

// CreateOrder 提交履约订单, 返回 Printful 订单号
func (c *Client) CreateOrder(ctx context.Context, payload models.FulfillmentPayload) (string, error) {
	path := "/orders"
	if c.confirm {
		path += "?confirm=true"
	}
	env, err := c.do(ctx, "create order", http.MethodPost, path, newOrderRequest(payload))
	if err != nil {
		return "", err
	}
	var result orderResult
	if err := decodeResult("create order", env, &result); err != nil {
		return "", err
	}
	if result.ID == 0 {
		return "", &models.UpstreamError{Provider: providerName, Op: "create order", Body: "response has no order id"}
	}
	return strconv.FormatInt(result.ID, 10), nil
}
