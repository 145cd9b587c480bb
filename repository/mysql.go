package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"fulfillment-service/models"
)

const mysqlErrDuplicateEntry = 1062

type MySQLGateway struct {
	DB *sql.DB
}

func NewMySQLGateway(db *sql.DB) *MySQLGateway {
	return &MySQLGateway{DB: db}
}

const orderColumns = `id, status, COALESCE(payment_reference, ''), amount_cents, currency,
	shipping_name, shipping_address1, shipping_address2, shipping_city, shipping_state_code,
	shipping_country_code, shipping_zip, shipping_email, shipping_phone,
	COALESCE(external_fulfillment_id, ''), COALESCE(failure_detail, ''), created_at, updated_at`

func scanOrder(row *sql.Row) (*models.Order, error) {
	var o models.Order
	err := row.Scan(
		&o.ID, &o.Status, &o.PaymentReference, &o.AmountCents, &o.Currency,
		&o.Shipping.Name, &o.Shipping.Address1, &o.Shipping.Address2, &o.Shipping.City, &o.Shipping.StateCode,
		&o.Shipping.CountryCode, &o.Shipping.Zip, &o.Shipping.Email, &o.Shipping.Phone,
		&o.ExternalFulfillmentID, &o.FailureDetail, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (g *MySQLGateway) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	return scanOrder(g.DB.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
}

func (g *MySQLGateway) GetOrderByPaymentReference(ctx context.Context, ref string) (*models.Order, error) {
	return scanOrder(g.DB.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_reference = ?`, ref))
}

func (g *MySQLGateway) GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	rows, err := g.DB.QueryContext(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price_cents
		FROM order_items
		WHERE order_id = ?
		ORDER BY id ASC
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.UnitPriceCents); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (g *MySQLGateway) CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	tx, err := g.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var paymentRef any
	if order.PaymentReference != "" {
		paymentRef = order.PaymentReference
	}
	s := order.Shipping
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO orders (id, status, payment_reference, amount_cents, currency,
			shipping_name, shipping_address1, shipping_address2, shipping_city, shipping_state_code,
			shipping_country_code, shipping_zip, shipping_email, shipping_phone, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, order.ID, order.Status, paymentRef, order.AmountCents, order.Currency,
		s.Name, s.Address1, s.Address2, s.City, s.StateCode,
		s.CountryCode, s.Zip, s.Email, s.Phone, order.CreatedAt, order.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range items {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO order_items (order_id, product_id, quantity, unit_price_cents) VALUES (?, ?, ?, ?)",
			order.ID, items[i].ProductID, items[i].Quantity, items[i].UnitPriceCents,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
		if id, err := res.LastInsertId(); err == nil {
			items[i].ID = id
		}
		items[i].OrderID = order.ID
	}

	return tx.Commit()
}

func (g *MySQLGateway) SetPaymentReference(ctx context.Context, orderID, ref string) error {
	res, err := g.DB.ExecContext(ctx, `
		UPDATE orders SET payment_reference = ?, updated_at = UTC_TIMESTAMP()
		WHERE id = ? AND payment_reference IS NULL AND status = ?
	`, ref, orderID, models.StatusCreated)
	if err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == mysqlErrDuplicateEntry {
			return &models.ValidationError{Field: "payment_reference", Reason: "already assigned to another order"}
		}
		return err
	}
	return requireOneRow(res)
}

func (g *MySQLGateway) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var (
		p           models.Product
		description sql.NullString
		imageURL    sql.NullString
	)
	err := g.DB.QueryRowContext(ctx, `
		SELECT id, external_catalog_id, name, description, image_url, price_cents, active, updated_at
		FROM products WHERE id = ?
	`, id).Scan(&p.ID, &p.ExternalCatalogID, &p.Name, &description, &imageURL, &p.PriceCents, &p.Active, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Description = description.String
	p.ImageURL = imageURL.String
	return &p, nil
}

func (g *MySQLGateway) ListProducts(ctx context.Context, activeOnly bool) ([]models.Product, error) {
	query := `SELECT id, external_catalog_id, name, description, image_url, price_cents, active, updated_at FROM products`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY name ASC`

	rows, err := g.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		var (
			p           models.Product
			description sql.NullString
			imageURL    sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.ExternalCatalogID, &p.Name, &description, &imageURL, &p.PriceCents, &p.Active, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Description = description.String
		p.ImageURL = imageURL.String
		products = append(products, p)
	}
	return products, rows.Err()
}

// UpsertProduct 按 external_catalog_id 插入或更新, 原地更新保证本地 id 不变(order_items 外键依赖)
func (g *MySQLGateway) UpsertProduct(ctx context.Context, p models.Product) (int64, error) {
	res, err := g.DB.ExecContext(ctx, `
		INSERT INTO products (external_catalog_id, name, description, image_url, price_cents, active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			id = LAST_INSERT_ID(id),
			name = VALUES(name),
			description = VALUES(description),
			image_url = VALUES(image_url),
			price_cents = VALUES(price_cents),
			active = VALUES(active)
	`, p.ExternalCatalogID, p.Name, nullString(p.Description), nullString(p.ImageURL), p.PriceCents, p.Active)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (g *MySQLGateway) TransitionStatus(ctx context.Context, id string, from, to models.OrderStatus) (bool, error) {
	res, err := g.DB.ExecContext(ctx,
		"UPDATE orders SET status = ?, updated_at = UTC_TIMESTAMP() WHERE id = ? AND status = ?",
		to, id, from,
	)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (g *MySQLGateway) MarkPaymentFailed(ctx context.Context, id, detail string) (bool, error) {
	res, err := g.DB.ExecContext(ctx, `
		UPDATE orders SET status = ?, failure_detail = ?, updated_at = UTC_TIMESTAMP()
		WHERE id = ? AND status = ?
	`, models.StatusPaymentFailed, detail, id, models.StatusCreated)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (g *MySQLGateway) MarkFulfillmentSubmitted(ctx context.Context, id, externalID string) error {
	res, err := g.DB.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, external_fulfillment_id = ?, failure_detail = NULL, updated_at = UTC_TIMESTAMP()
		WHERE id = ? AND status = ? AND external_fulfillment_id IS NULL
	`, models.StatusFulfillmentSubmitted, externalID, id, models.StatusPaymentSucceeded)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

func (g *MySQLGateway) MarkFulfillmentFailed(ctx context.Context, id, detail string) (bool, error) {
	res, err := g.DB.ExecContext(ctx, `
		UPDATE orders SET status = ?, failure_detail = ?, updated_at = UTC_TIMESTAMP()
		WHERE id = ? AND status = ? AND external_fulfillment_id IS NULL
	`, models.StatusFulfillmentFailed, detail, id, models.StatusPaymentSucceeded)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func requireOneRow(res sql.Result) error {
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return models.ErrStatusConflict
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Gateway = (*MySQLGateway)(nil)
