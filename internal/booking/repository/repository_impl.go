package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/compliancehub/internal/booking/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertService(ctx context.Context, db *gorm.DB, service *domain.Service) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO services (id, name, price_reference, building_type, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		service.ID,
		service.Name,
		service.PriceReference,
		service.BuildingType,
		service.CreatedAt,
	).Error
}

func (r *repo) InsertBooking(ctx context.Context, db *gorm.DB, booking *domain.Booking) error {
	contact := booking.ContactDetails
	if contact == nil {
		contact = datatypes.JSONMap{}
	}
	status := booking.Status
	if status == "" {
		status = "pending"
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO bookings (id, user_id, service_id, property_id, assessment_time, contact_details, building_type, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		booking.ID,
		booking.UserID,
		booking.ServiceID,
		booking.PropertyID,
		booking.AssessmentTime,
		contact,
		booking.BuildingType,
		status,
		booking.CreatedAt,
	).Error
}

func (r *repo) FindBillable(ctx context.Context, db *gorm.DB, userID snowflake.ID, ids []snowflake.ID) ([]domain.Billable, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []domain.Billable
	err := db.WithContext(ctx).Raw(
		`SELECT b.id AS booking_id, b.service_id, s.name AS service_name, s.price_reference
		 FROM bookings b
		 JOIN services s ON s.id = b.service_id
		 WHERE b.user_id = ? AND b.id IN ?`,
		userID,
		ids,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
