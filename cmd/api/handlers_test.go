package main

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/harborfresh/orderflow/internal/database"
	"github.com/harborfresh/orderflow/internal/lifecycle"
	"github.com/harborfresh/orderflow/internal/models"
	"github.com/harborfresh/orderflow/internal/service"
	"github.com/harborfresh/orderflow/internal/store"
	"github.com/harborfresh/orderflow/internal/tracking"
)

var errNotUsed = errors.New("not used in this test")

// streamRepo serves a single canned order; the tracking stream only
// reads, so the write paths are dead ends.
type streamRepo struct {
	order *models.Order
}

func (r *streamRepo) Create(ctx context.Context, req store.CreateOrderRequest) (*models.Order, error) {
	return nil, errNotUsed
}

func (r *streamRepo) GetByID(ctx context.Context, id int64) (*models.Order, error) {
	if id != r.order.ID {
		return nil, database.ErrOrderNotFound
	}
	clone := *r.order
	return &clone, nil
}

func (r *streamRepo) ListByUser(ctx context.Context, userID int64, filter store.ListFilter, cursor string) (*store.CursorPage, error) {
	return nil, errNotUsed
}

func (r *streamRepo) ListAll(ctx context.Context, filter store.ListFilter, page int) (*store.OffsetPage, error) {
	return nil, errNotUsed
}

func (r *streamRepo) ApplyChange(ctx context.Context, change lifecycle.Change, expectedVersion int, driverID *int64) (*models.Order, error) {
	return nil, errNotUsed
}

type streamDrivers struct{}

func (streamDrivers) Get(ctx context.Context, id int64) (*models.Driver, error) {
	return nil, database.ErrDriverNotFound
}

func (streamDrivers) UpdateLocation(ctx context.Context, id int64, lat, lng float64) error {
	return errNotUsed
}

func (streamDrivers) SetAvailability(ctx context.Context, id int64, available bool) error {
	return errNotUsed
}

type streamCatalog struct{}

func (streamCatalog) GetPricing(ctx context.Context, productID int64) (*store.ProductPricing, error) {
	return nil, database.ErrProductNotFound
}

// A tracking stream must stay open past the server's write timeout and
// keep delivering events published after that deadline.
func TestTrackingStreamOutlivesWriteTimeout(t *testing.T) {
	hub := tracking.NewHub(8)
	repo := &streamRepo{order: &models.Order{
		ID:     1,
		UserID: 100,
		Status: models.OrderStatusShipped,
	}}
	svc := service.NewOrderService(
		repo, streamDrivers{}, streamCatalog{}, nil,
		lifecycle.NewEngine(96*time.Hour),
		hub, hub,
		service.NewRoleAuthorizer(),
	)
	h := newHandler(svc)

	router := chi.NewRouter()
	router.Use(actorFromHeaders)
	router.Get("/orders/{id}/tracking", h.streamTracking)

	srv := httptest.NewUnstartedServer(router)
	srv.Config.WriteTimeout = 500 * time.Millisecond
	srv.Start()
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/orders/1/tracking", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("X-User-ID", "100")

	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	waitUntil := time.Now().Add(2 * time.Second)
	for hub.Subscribers(1) == 0 {
		if time.Now().After(waitUntil) {
			t.Fatal("subscription never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Publish well after the server's write deadline would have fired.
	time.Sleep(2 * srv.Config.WriteTimeout)
	hub.PublishStatus(1, tracking.StatusUpdate{Status: "delivered", Timestamp: time.Now()})

	frames := make(chan string, 1)
	readErrs := make(chan error, 1)
	go func() {
		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				readErrs <- err
				return
			}
			if strings.HasPrefix(line, "event: ") {
				frames <- strings.TrimSpace(line)
				return
			}
		}
	}()

	select {
	case frame := <-frames:
		if frame != "event: status-update" {
			t.Errorf("frame = %q, want %q", frame, "event: status-update")
		}
	case err := <-readErrs:
		t.Fatalf("stream closed before the event arrived: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the event")
	}
}
