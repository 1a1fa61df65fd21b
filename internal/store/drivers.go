package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/harborfresh/orderflow/internal/database"
	"github.com/harborfresh/orderflow/internal/models"
)

// DriverStore is the read side of the driver-management collaborator:
// this core looks up identity and availability and pushes location
// updates coming from the driver feed, nothing more.
type DriverStore struct {
	db *sql.DB
}

func NewDriverStore(db *sql.DB) *DriverStore {
	return &DriverStore{db: db}
}

func (s *DriverStore) Get(ctx context.Context, id int64) (*models.Driver, error) {
	driver := &models.Driver{}

	query := `
		SELECT id, name, phone, vehicle, lat, lng, available, created_at, updated_at
		FROM drivers
		WHERE id = $1`

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&driver.ID,
		&driver.Name,
		&driver.Phone,
		&driver.Vehicle,
		&driver.Lat,
		&driver.Lng,
		&driver.Available,
		&driver.CreatedAt,
		&driver.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrDriverNotFound
		}
		return nil, fmt.Errorf("get driver: %w", err)
	}

	return driver, nil
}

func (s *DriverStore) Create(ctx context.Context, name, phone, vehicle string) (*models.Driver, error) {
	driver := &models.Driver{}

	query := `
		INSERT INTO drivers (name, phone, vehicle, lat, lng, available, created_at, updated_at)
		VALUES ($1, $2, $3, 0, 0, true, NOW(), NOW())
		RETURNING id, name, phone, vehicle, lat, lng, available, created_at, updated_at`

	err := s.db.QueryRowContext(ctx, query, name, phone, vehicle).Scan(
		&driver.ID,
		&driver.Name,
		&driver.Phone,
		&driver.Vehicle,
		&driver.Lat,
		&driver.Lng,
		&driver.Available,
		&driver.CreatedAt,
		&driver.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create driver: %w", err)
	}

	return driver, nil
}

func (s *DriverStore) UpdateLocation(ctx context.Context, id int64, lat, lng float64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE drivers
		 SET lat = $1, lng = $2, updated_at = NOW()
		 WHERE id = $3`,
		lat, lng, id)
	if err != nil {
		return fmt.Errorf("update driver location: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrDriverNotFound
	}

	return nil
}

func (s *DriverStore) SetAvailability(ctx context.Context, id int64, available bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE drivers
		 SET available = $1, updated_at = NOW()
		 WHERE id = $2`,
		available, id)
	if err != nil {
		return fmt.Errorf("set driver availability: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrDriverNotFound
	}

	return nil
}
