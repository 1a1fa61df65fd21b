package integration

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/harborfresh/orderflow/internal/database"
	"github.com/harborfresh/orderflow/internal/lifecycle"
	"github.com/harborfresh/orderflow/internal/models"
	"github.com/harborfresh/orderflow/internal/store"
)

func seedDriver(t *testing.T, db *sql.DB) int64 {
	t.Helper()
	drivers := store.NewDriverStore(db)
	driver, err := drivers.Create(context.Background(), "Nora", "+1-555-0101", "refrigerated van")
	if err != nil {
		t.Fatalf("Create driver: %v", err)
	}
	return driver.ID
}

func plan(t *testing.T, engine *lifecycle.Engine, order *models.Order, target models.OrderStatus) lifecycle.Change {
	t.Helper()
	change, err := engine.Plan(order, target, nil, "", time.Now())
	if err != nil {
		t.Fatalf("Plan %s -> %s: %v", order.Status, target, err)
	}
	return change
}

func TestTransitionAppendsHistoryAtomically(t *testing.T) {
	db := setupTestDB(t)

	ctx := context.Background()
	productID := seedCatalog(t, db)
	orders := store.NewOrderStore(db, "HF")
	engine := lifecycle.NewEngine(96 * time.Hour)

	order, err := orders.Create(ctx, createRequest(productID, 1))
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}

	change := plan(t, engine, order, models.OrderStatusConfirmed)
	updated, err := orders.ApplyChange(ctx, change, order.Version, nil)
	if err != nil {
		t.Fatalf("ApplyChange: %v", err)
	}

	if updated.Status != models.OrderStatusConfirmed {
		t.Errorf("Expected confirmed, got %s", updated.Status)
	}
	if updated.Version != order.Version+1 {
		t.Errorf("Expected version bump to %d, got %d", order.Version+1, updated.Version)
	}
	if len(updated.History) != 2 {
		t.Fatalf("Expected 2 history entries, got %d", len(updated.History))
	}
	last := updated.History[len(updated.History)-1]
	if last.Status != models.OrderStatusConfirmed {
		t.Errorf("Expected confirmed history entry, got %s", last.Status)
	}
	if last.CreatedAt.Before(updated.History[0].CreatedAt) {
		t.Error("History timestamps must be monotone")
	}
}

func TestConcurrentTransitionsOneWinner(t *testing.T) {
	db := setupTestDB(t)

	ctx := context.Background()
	productID := seedCatalog(t, db)
	orders := store.NewOrderStore(db, "HF")
	engine := lifecycle.NewEngine(96 * time.Hour)

	order, err := orders.Create(ctx, createRequest(productID, 1))
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}

	confirm := plan(t, engine, order, models.OrderStatusConfirmed)
	cancel := plan(t, engine, order, models.OrderStatusCancelled)

	results := make(chan error, 2)
	var g errgroup.Group
	g.Go(func() error {
		_, err := orders.ApplyChange(ctx, confirm, order.Version, nil)
		results <- err
		return nil
	})
	g.Go(func() error {
		_, err := orders.ApplyChange(ctx, cancel, order.Version, nil)
		results <- err
		return nil
	})
	_ = g.Wait()
	close(results)

	successes, conflicts := 0, 0
	for err := range results {
		switch err {
		case nil:
			successes++
		case database.ErrConflict:
			conflicts++
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}

	if successes != 1 || conflicts != 1 {
		t.Errorf("Expected exactly one winner and one conflict, got %d/%d", successes, conflicts)
	}

	final, err := orders.GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if final.Status != models.OrderStatusConfirmed && final.Status != models.OrderStatusCancelled {
		t.Errorf("Final status should match the winning transition, got %s", final.Status)
	}
	if len(final.History) != 2 {
		t.Errorf("The losing transition must not append history, got %d entries", len(final.History))
	}
}

func TestStaleVersionConflict(t *testing.T) {
	db := setupTestDB(t)

	ctx := context.Background()
	productID := seedCatalog(t, db)
	orders := store.NewOrderStore(db, "HF")
	engine := lifecycle.NewEngine(96 * time.Hour)

	order, err := orders.Create(ctx, createRequest(productID, 1))
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}

	change := plan(t, engine, order, models.OrderStatusConfirmed)
	if _, err := orders.ApplyChange(ctx, change, order.Version, nil); err != nil {
		t.Fatalf("First ApplyChange: %v", err)
	}

	// Replaying against the version read before the first write loses.
	retry := plan(t, engine, order, models.OrderStatusCancelled)
	if _, err := orders.ApplyChange(ctx, retry, order.Version, nil); err != database.ErrConflict {
		t.Errorf("Expected ErrConflict on stale version, got %v", err)
	}

	final, err := orders.GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if final.Status != models.OrderStatusConfirmed {
		t.Errorf("Lost race must leave no trace, got status %s", final.Status)
	}
}

func TestDriverAssignmentPersists(t *testing.T) {
	db := setupTestDB(t)

	ctx := context.Background()
	productID := seedCatalog(t, db)
	driverID := seedDriver(t, db)
	orders := store.NewOrderStore(db, "HF")
	engine := lifecycle.NewEngine(96 * time.Hour)

	order, err := orders.Create(ctx, createRequest(productID, 1))
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}

	confirm := plan(t, engine, order, models.OrderStatusConfirmed)
	confirmed, err := orders.ApplyChange(ctx, confirm, order.Version, nil)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	planned := *confirmed
	planned.DriverID = &driverID
	dispatch := plan(t, engine, &planned, models.OrderStatusShipped)

	shipped, err := orders.ApplyChange(ctx, dispatch, confirmed.Version, &driverID)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if shipped.Status != models.OrderStatusShipped {
		t.Errorf("Expected shipped, got %s", shipped.Status)
	}
	if shipped.DriverID == nil || *shipped.DriverID != driverID {
		t.Errorf("Expected driver %d recorded, got %v", driverID, shipped.DriverID)
	}
	if shipped.Driver == nil || shipped.Driver.Name != "Nora" {
		t.Errorf("Expected display projection of the driver, got %+v", shipped.Driver)
	}
	if shipped.EstimatedDelivery == nil {
		t.Error("Expected estimated delivery set on dispatch")
	}
}

func TestDriverLocationRoundTrip(t *testing.T) {
	db := setupTestDB(t)

	ctx := context.Background()
	driverID := seedDriver(t, db)
	drivers := store.NewDriverStore(db)

	if err := drivers.UpdateLocation(ctx, driverID, 43.66, -70.25); err != nil {
		t.Fatalf("UpdateLocation: %v", err)
	}

	driver, err := drivers.Get(ctx, driverID)
	if err != nil {
		t.Fatalf("Get driver: %v", err)
	}
	if driver.Lat != 43.66 || driver.Lng != -70.25 {
		t.Errorf("Expected location to persist, got %f/%f", driver.Lat, driver.Lng)
	}

	if err := drivers.UpdateLocation(ctx, 999, 0, 0); err != database.ErrDriverNotFound {
		t.Errorf("Expected ErrDriverNotFound, got %v", err)
	}
}
