package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/schoolpay/backend/internal/models"
	"github.com/skip2/go-qrcode"
)

// QRService renders payment-instruction QR codes for printed fee statements.
// The code encodes the school's paybill and the student's admission number so
// a parent can key the payment without typos in the reference.
type QRService struct {
	db    *sql.DB
	redis *redis.Client
}

func NewQRService(db *sql.DB, redis *redis.Client) *QRService {
	return &QRService{
		db:    db,
		redis: redis,
	}
}

// GeneratePaymentQR returns the base64-encoded PNG for one student. Payment
// instructions only change when the school's paybill does, so renders are
// cached for a day.
func (s *QRService) GeneratePaymentQR(ctx context.Context, tenant *models.Tenant, studentID int) (string, error) {
	var admissionNumber, name string
	err := s.db.QueryRowContext(ctx, `
		SELECT admission_number, name FROM students WHERE id = $1 AND tenant_id = $2`,
		studentID, tenant.ID).Scan(&admissionNumber, &name)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("paymentqr:%d:%d", tenant.ID, studentID)
	if s.redis != nil {
		if cached, err := s.redis.Get(ctx, key).Result(); err == nil {
			return cached, nil
		}
	}

	payload := fmt.Sprintf("PAYBILL:%s;ACCOUNT:%s;NAME:%s;SCHOOL:%s",
		tenant.PaybillNumber, admissionNumber, name, tenant.Name)

	qr, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", err
	}

	qrImage := base64.StdEncoding.EncodeToString(buf.Bytes())

	if s.redis != nil {
		if err := s.redis.Set(ctx, key, qrImage, 24*time.Hour).Err(); err != nil {
			return qrImage, nil
		}
	}

	return qrImage, nil
}
