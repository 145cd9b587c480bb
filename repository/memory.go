package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"fulfillment-service/models"
)

// MemoryGateway 内存实现, 条件更新规则与 MySQLGateway 相同, 仅供测试使用
type MemoryGateway struct {
	mu            sync.RWMutex
	orders        map[string]models.Order
	items         map[string][]models.OrderItem
	products      map[int64]models.Product
	productByExt  map[string]int64
	nextProductID int64
	nextItemID    int64
	now           func() time.Time
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		orders:       make(map[string]models.Order),
		items:        make(map[string][]models.OrderItem),
		products:     make(map[int64]models.Product),
		productByExt: make(map[string]int64),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (g *MemoryGateway) GetOrder(_ context.Context, id string) (*models.Order, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	o, ok := g.orders[id]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	return &o, nil
}

func (g *MemoryGateway) GetOrderByPaymentReference(_ context.Context, ref string) (*models.Order, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, o := range g.orders {
		if ref != "" && o.PaymentReference == ref {
			return &o, nil
		}
	}
	return nil, models.ErrOrderNotFound
}

func (g *MemoryGateway) GetOrderItems(_ context.Context, orderID string) ([]models.OrderItem, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]models.OrderItem(nil), g.items[orderID]...), nil
}

func (g *MemoryGateway) CreateOrder(_ context.Context, order *models.Order, items []models.OrderItem) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.orders[order.ID]; exists {
		return &models.ValidationError{Field: "id", Reason: "order already exists"}
	}
	if order.PaymentReference != "" && g.refTakenLocked(order.PaymentReference) {
		return &models.ValidationError{Field: "payment_reference", Reason: "already assigned to another order"}
	}
	for i := range items {
		if _, ok := g.products[items[i].ProductID]; !ok {
			return models.ErrProductNotFound
		}
	}
	stored := make([]models.OrderItem, len(items))
	for i := range items {
		g.nextItemID++
		items[i].ID = g.nextItemID
		items[i].OrderID = order.ID
		stored[i] = items[i]
	}
	g.orders[order.ID] = *order
	g.items[order.ID] = stored
	return nil
}

func (g *MemoryGateway) SetPaymentReference(_ context.Context, orderID, ref string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[orderID]
	if !ok || o.PaymentReference != "" || o.Status != models.StatusCreated {
		return models.ErrStatusConflict
	}
	if g.refTakenLocked(ref) {
		return &models.ValidationError{Field: "payment_reference", Reason: "already assigned to another order"}
	}
	o.PaymentReference = ref
	o.UpdatedAt = g.now()
	g.orders[orderID] = o
	return nil
}

func (g *MemoryGateway) refTakenLocked(ref string) bool {
	for _, o := range g.orders {
		if o.PaymentReference == ref {
			return true
		}
	}
	return false
}

func (g *MemoryGateway) GetProduct(_ context.Context, id int64) (*models.Product, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.products[id]
	if !ok {
		return nil, models.ErrProductNotFound
	}
	return &p, nil
}

func (g *MemoryGateway) ListProducts(_ context.Context, activeOnly bool) ([]models.Product, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []models.Product
	for _, p := range g.products {
		if activeOnly && !p.Active {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (g *MemoryGateway) UpsertProduct(_ context.Context, p models.Product) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id, ok := g.productByExt[p.ExternalCatalogID]; ok && p.ExternalCatalogID != "" {
		p.ID = id
	} else {
		g.nextProductID++
		p.ID = g.nextProductID
		if p.ExternalCatalogID != "" {
			g.productByExt[p.ExternalCatalogID] = p.ID
		}
	}
	p.UpdatedAt = g.now()
	g.products[p.ID] = p
	return p.ID, nil
}

func (g *MemoryGateway) TransitionStatus(_ context.Context, id string, from, to models.OrderStatus) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = g.now()
	g.orders[id] = o
	return true, nil
}

func (g *MemoryGateway) MarkPaymentFailed(_ context.Context, id, detail string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[id]
	if !ok || o.Status != models.StatusCreated {
		return false, nil
	}
	o.Status = models.StatusPaymentFailed
	o.FailureDetail = detail
	o.UpdatedAt = g.now()
	g.orders[id] = o
	return true, nil
}

func (g *MemoryGateway) MarkFulfillmentSubmitted(_ context.Context, id, externalID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[id]
	if !ok || o.Status != models.StatusPaymentSucceeded || o.ExternalFulfillmentID != "" {
		return models.ErrStatusConflict
	}
	o.Status = models.StatusFulfillmentSubmitted
	o.ExternalFulfillmentID = externalID
	o.FailureDetail = ""
	o.UpdatedAt = g.now()
	g.orders[id] = o
	return nil
}

func (g *MemoryGateway) MarkFulfillmentFailed(_ context.Context, id, detail string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[id]
	if !ok || o.Status != models.StatusPaymentSucceeded || o.ExternalFulfillmentID != "" {
		return false, nil
	}
	o.Status = models.StatusFulfillmentFailed
	o.FailureDetail = detail
	o.UpdatedAt = g.now()
	g.orders[id] = o
	return true, nil
}

var _ Gateway = (*MemoryGateway)(nil)
