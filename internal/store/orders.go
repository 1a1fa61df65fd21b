package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/harborfresh/orderflow/internal/database"
	"github.com/harborfresh/orderflow/internal/lifecycle"
	"github.com/harborfresh/orderflow/internal/models"
)

// maxNumberAttempts bounds regeneration when an order number collides
// with an existing one under concurrent creation.
const maxNumberAttempts = 5

type CreateOrderRequest struct {
	UserID          int64
	Items           []OrderItemInput
	ShippingCost    decimal.Decimal
	Tax             decimal.Decimal
	Discount        decimal.Decimal
	PaymentMethod   string
	ShippingAddress models.Address
	Notes           string
}

// OrderItemInput carries the product values captured at order time.
// Name and UnitPrice come from the catalog lookup, not from the caller.
type OrderItemInput struct {
	ProductID int64
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
}

type OrderStore struct {
	db           *sql.DB
	numberPrefix string
}

func NewOrderStore(db *sql.DB, numberPrefix string) *OrderStore {
	return &OrderStore{db: db, numberPrefix: numberPrefix}
}

func (s *OrderStore) generateOrderNumber(now time.Time) string {
	return fmt.Sprintf("%s-%s-%06d", s.numberPrefix, now.Format("20060102"), rand.Intn(1000000))
}

func generateTrackingCode() string {
	return fmt.Sprintf("TRK-%s", uuid.New().String()[:8])
}

// Create persists the order, its items, and the initial history entry in
// one transaction. Order numbers are reserved by the unique constraint;
// a collision regenerates the number and retries the whole transaction.
func (s *OrderStore) Create(ctx context.Context, req CreateOrderRequest) (*models.Order, error) {
	subtotal := decimal.Zero
	for _, item := range req.Items {
		subtotal = subtotal.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	total := subtotal.Add(req.Tax).Add(req.ShippingCost).Sub(req.Discount)

	var orderID int64
	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		orderNumber := s.generateOrderNumber(time.Now())
		trackingCode := generateTrackingCode()

		err := database.WithRetry(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
			err := tx.QueryRowContext(ctx,
				`INSERT INTO orders (
					order_number, user_id, status, subtotal, shipping_cost, tax, discount, total,
					payment_method, payment_status,
					street, city, state, postal_code, country, instructions,
					tracking_code, notes, created_at, updated_at, version
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, NOW(), NOW(), 1)
				RETURNING id`,
				orderNumber, req.UserID, models.OrderStatusPending,
				subtotal, req.ShippingCost, req.Tax, req.Discount, total,
				req.PaymentMethod, models.PaymentStatusPending,
				req.ShippingAddress.Street, req.ShippingAddress.City, req.ShippingAddress.State,
				req.ShippingAddress.PostalCode, req.ShippingAddress.Country, req.ShippingAddress.Instructions,
				trackingCode, req.Notes,
			).Scan(&orderID)
			if err != nil {
				return fmt.Errorf("create order: %w", err)
			}

			for _, item := range req.Items {
				lineSubtotal := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
				_, err = tx.ExecContext(ctx,
					`INSERT INTO order_items (order_id, product_id, name, quantity, unit_price, subtotal, created_at)
					 VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
					orderID, item.ProductID, item.Name, item.Quantity, item.UnitPrice, lineSubtotal)
				if err != nil {
					return fmt.Errorf("create order item: %w", err)
				}
			}

			_, err = tx.ExecContext(ctx,
				`INSERT INTO order_status_history (order_id, status, note, actor_id, created_at)
				 VALUES ($1, $2, $3, $4, NOW())`,
				orderID, models.OrderStatusPending, "Order created", nil)
			if err != nil {
				return fmt.Errorf("create history entry: %w", err)
			}

			return nil
		})
		if err != nil {
			if database.IsUniqueViolation(err, "orders_order_number_key") {
				continue
			}
			return nil, err
		}

		return s.GetByID(ctx, orderID)
	}

	return nil, fmt.Errorf("allocate order number: retries exhausted")
}

const orderColumns = `
	o.id, o.order_number, o.user_id, o.status,
	o.subtotal, o.shipping_cost, o.tax, o.discount, o.total,
	o.payment_method, o.payment_status,
	o.street, o.city, o.state, o.postal_code, o.country, o.instructions,
	o.driver_id, o.tracking_code, o.notes,
	o.estimated_delivery, o.actual_delivery, o.cancelled_at,
	o.created_at, o.updated_at, o.version,
	d.id, d.name, d.vehicle`

const orderFrom = ` FROM orders o LEFT JOIN drivers d ON o.driver_id = d.id`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	order := &models.Order{}
	var (
		driverID                          sql.NullInt64
		estimated, actual, cancelled      sql.NullTime
		profileID                         sql.NullInt64
		profileName, profileVehicle       sql.NullString
		instructions, trackingCode, notes sql.NullString
	)

	err := row.Scan(
		&order.ID, &order.OrderNumber, &order.UserID, &order.Status,
		&order.Subtotal, &order.ShippingCost, &order.Tax, &order.Discount, &order.Total,
		&order.PaymentMethod, &order.PaymentStatus,
		&order.ShippingAddress.Street, &order.ShippingAddress.City, &order.ShippingAddress.State,
		&order.ShippingAddress.PostalCode, &order.ShippingAddress.Country, &instructions,
		&driverID, &trackingCode, &notes,
		&estimated, &actual, &cancelled,
		&order.CreatedAt, &order.UpdatedAt, &order.Version,
		&profileID, &profileName, &profileVehicle,
	)
	if err != nil {
		return nil, err
	}

	order.ShippingAddress.Instructions = instructions.String
	order.TrackingCode = trackingCode.String
	order.Notes = notes.String
	if driverID.Valid {
		order.DriverID = &driverID.Int64
	}
	if estimated.Valid {
		t := estimated.Time
		order.EstimatedDelivery = &t
	}
	if actual.Valid {
		t := actual.Time
		order.ActualDelivery = &t
	}
	if cancelled.Valid {
		t := cancelled.Time
		order.CancelledAt = &t
	}
	if profileID.Valid {
		order.Driver = &models.DriverProfile{
			ID:      profileID.Int64,
			Name:    profileName.String,
			Vehicle: profileVehicle.String,
		}
	}

	return order, nil
}

// GetByID returns the order with items and status history eagerly
// loaded and the assigned driver resolved to its display projection.
func (s *OrderStore) GetByID(ctx context.Context, id int64) (*models.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+orderColumns+orderFrom+` WHERE o.id = $1`, id)

	order, err := scanOrder(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	if err := s.loadItems(ctx, order); err != nil {
		return nil, err
	}
	if err := s.loadHistory(ctx, order); err != nil {
		return nil, err
	}

	return order, nil
}

func (s *OrderStore) loadItems(ctx context.Context, order *models.Order) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, order_id, product_id, name, quantity, unit_price, subtotal, created_at
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY id`,
		order.ID)
	if err != nil {
		return fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Name,
			&item.Quantity,
			&item.UnitPrice,
			&item.Subtotal,
			&item.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}

	order.Items = items
	return nil
}

func (s *OrderStore) loadHistory(ctx context.Context, order *models.Order) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, order_id, status, note, actor_id, created_at
		 FROM order_status_history
		 WHERE order_id = $1
		 ORDER BY created_at, id`,
		order.ID)
	if err != nil {
		return fmt.Errorf("get status history: %w", err)
	}
	defer rows.Close()

	var history []models.StatusHistoryEntry
	for rows.Next() {
		var entry models.StatusHistoryEntry
		var note sql.NullString
		var actorID sql.NullInt64
		err := rows.Scan(&entry.ID, &entry.OrderID, &entry.Status, &note, &actorID, &entry.CreatedAt)
		if err != nil {
			return fmt.Errorf("scan history entry: %w", err)
		}
		entry.Note = note.String
		if actorID.Valid {
			entry.ActorID = &actorID.Int64
		}
		history = append(history, entry)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}

	order.History = history
	return nil
}

// ListByUser pages a user's orders newest first using a keyset cursor.
func (s *OrderStore) ListByUser(ctx context.Context, userID int64, filter ListFilter, cursor string) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	limit := filter.limit()

	query := `SELECT` + orderColumns + orderFrom + `
		WHERE o.user_id = $1
		  AND ($2 = '' OR o.status = $2)
		  AND (o.created_at, o.id) < ($3, $4)
		ORDER BY o.created_at DESC, o.id DESC
		LIMIT $5`

	rows, err := s.db.QueryContext(ctx, query, userID, string(filter.Status), cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders, err := collectOrders(rows)
	if err != nil {
		return nil, err
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// ListAll is the privileged listing across all users, offset-paged.
func (s *OrderStore) ListAll(ctx context.Context, filter ListFilter, page int) (*OffsetPage, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE ($1 = '' OR status = $1)`,
		string(filter.Status)).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}

	if page < 1 {
		page = 1
	}
	pageSize := filter.limit()
	offset := (page - 1) * pageSize

	query := `SELECT` + orderColumns + orderFrom + `
		WHERE ($1 = '' OR o.status = $1)
		ORDER BY o.created_at DESC, o.id DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.db.QueryContext(ctx, query, string(filter.Status), pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders, err := collectOrders(rows)
	if err != nil {
		return nil, err
	}

	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}

	return &OffsetPage{
		Items:      orders,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

func collectOrders(rows *sql.Rows) ([]models.Order, error) {
	var orders []models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return orders, nil
}

// ApplyChange persists a planned transition. The update is conditioned
// on the version the caller read; a lost race surfaces ErrConflict and
// writes nothing. The history entry lands in the same transaction as
// the status column, so neither can exist without the other. driverID,
// when non-nil, records a driver assignment alongside the transition.
func (s *OrderStore) ApplyChange(ctx context.Context, change lifecycle.Change, expectedVersion int, driverID *int64) (*models.Order, error) {
	err := database.WithTransaction(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE orders
			 SET status = $1,
			     updated_at = $2,
			     estimated_delivery = COALESCE($3, estimated_delivery),
			     actual_delivery = COALESCE($4, actual_delivery),
			     cancelled_at = COALESCE($5, cancelled_at),
			     driver_id = COALESCE($6, driver_id),
			     version = version + 1
			 WHERE id = $7 AND version = $8`,
			change.Status, change.UpdatedAt,
			change.EstimatedDelivery, change.ActualDelivery, change.CancelledAt,
			driverID, change.OrderID, expectedVersion)
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			var exists bool
			err := tx.QueryRowContext(ctx,
				"SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)",
				change.OrderID).Scan(&exists)
			if err != nil {
				return fmt.Errorf("check order exists: %w", err)
			}
			if !exists {
				return database.ErrOrderNotFound
			}
			return database.ErrConflict
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO order_status_history (order_id, status, note, actor_id, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			change.OrderID, change.History.Status, change.History.Note,
			change.History.ActorID, change.History.CreatedAt)
		if err != nil {
			return fmt.Errorf("append history entry: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.GetByID(ctx, change.OrderID)
}
