package services

import (
	"testing"
	"time"

	"github.com/schoolpay/backend/internal/config"
	"github.com/schoolpay/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func testPipelineConfig() *config.PipelineConfig {
	return &config.PipelineConfig{
		Currency:    "KES",
		PhonePrefix: "254",
		PhoneLength: 12,
		MaskMarker:  "*",
	}
}

func TestMpesaAdapter_Normalize(t *testing.T) {
	adapter := NewMpesaAdapter(testPipelineConfig())

	t.Run("full confirmation", func(t *testing.T) {
		payload := []byte(`{
			"TransactionType": "Pay Bill",
			"TransID": "RKT001ABC",
			"TransTime": "20260114153045",
			"TransAmount": "1500.00",
			"BusinessShortCode": "123456",
			"BillRefNumber": " adm001 ",
			"MSISDN": "254712345126",
			"FirstName": "Jane",
			"MiddleName": "",
			"LastName": "Wanjiku"
		}`)

		notice, err := adapter.Normalize(payload)
		assert.NoError(t, err)
		assert.Equal(t, models.SourceMpesa, notice.Source)
		assert.Equal(t, "RKT001ABC", notice.TransactionID)
		assert.Equal(t, 1500.0, notice.Amount)
		assert.Equal(t, "ADM001", notice.Reference)
		assert.Equal(t, "Jane Wanjiku", notice.PaidBy)
		assert.NotNil(t, notice.PhoneNumber)
		assert.Equal(t, "254712345126", *notice.PhoneNumber)
		assert.Equal(t, time.Date(2026, 1, 14, 15, 30, 45, 0, time.UTC), notice.OccurredAt)
	})

	t.Run("masked phone number becomes nil", func(t *testing.T) {
		payload := []byte(`{
			"TransID": "RKT002",
			"TransAmount": 500,
			"BillRefNumber": "ADM002",
			"MSISDN": "2547 ***** 126",
			"FirstName": "John"
		}`)

		notice, err := adapter.Normalize(payload)
		assert.NoError(t, err)
		assert.Nil(t, notice.PhoneNumber)
		assert.Equal(t, "John", notice.PaidBy)
	})

	t.Run("missing name falls back to Unknown", func(t *testing.T) {
		payload := []byte(`{"TransID": "RKT003", "TransAmount": 500, "BillRefNumber": "ADM003"}`)

		notice, err := adapter.Normalize(payload)
		assert.NoError(t, err)
		assert.Equal(t, "Unknown", notice.PaidBy)
	})

	t.Run("missing TransID is rejected", func(t *testing.T) {
		payload := []byte(`{"TransAmount": 500, "BillRefNumber": "ADM004"}`)

		_, err := adapter.Normalize(payload)
		assert.ErrorIs(t, err, ErrMalformedPayload)
	})

	t.Run("missing BillRefNumber is rejected", func(t *testing.T) {
		payload := []byte(`{"TransID": "RKT005", "TransAmount": 500}`)

		_, err := adapter.Normalize(payload)
		assert.ErrorIs(t, err, ErrMalformedPayload)
	})

	t.Run("non-numeric amount is rejected", func(t *testing.T) {
		payload := []byte(`{"TransID": "RKT006", "TransAmount": "abc", "BillRefNumber": "ADM006"}`)

		_, err := adapter.Normalize(payload)
		assert.ErrorIs(t, err, ErrMalformedPayload)
	})

	t.Run("zero amount is rejected", func(t *testing.T) {
		payload := []byte(`{"TransID": "RKT007", "TransAmount": 0, "BillRefNumber": "ADM007"}`)

		_, err := adapter.Normalize(payload)
		assert.ErrorIs(t, err, ErrMalformedPayload)
	})

	t.Run("garbled TransTime falls back to receipt time", func(t *testing.T) {
		payload := []byte(`{"TransID": "RKT008", "TransAmount": 500, "BillRefNumber": "ADM008", "TransTime": "not-a-time"}`)

		notice, err := adapter.Normalize(payload)
		assert.NoError(t, err)
		assert.WithinDuration(t, time.Now(), notice.OccurredAt, 5*time.Second)
	})
}

func TestNormalizePhone(t *testing.T) {
	cfg := testPipelineConfig()

	tests := []struct {
		name string
		raw  string
		want *string
	}{
		{"valid number", "254712345678", strPtr("254712345678")},
		{"valid with spaces", "2547 1234 5678", strPtr("254712345678")},
		{"masked", "2547 ***** 126", nil},
		{"wrong prefix", "07012345678", nil},
		{"too short", "2547123", nil},
		{"letters", "2547abc45678", nil},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizePhone(cfg, tt.raw)
			if tt.want == nil {
				assert.Nil(t, got)
			} else {
				assert.NotNil(t, got)
				assert.Equal(t, *tt.want, *got)
			}
		})
	}
}

func strPtr(s string) *string { return &s }
