package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/schoolpay/backend/internal/services"
)

type QRHandler struct {
	service *services.QRService
}

func NewQRHandler(service *services.QRService) *QRHandler {
	return &QRHandler{service: service}
}

// PaymentQR renders the payment-instructions QR for one student
// @Summary Student payment QR code
// @Description Generate the printable QR encoding the school paybill and the student's admission number
// @Tags QR
// @Produce json
// @Security BearerAuth
// @Param studentId path int true "Student ID"
// @Success 200 {object} object{qrImage=string}
// @Failure 404 {object} services.ErrorResponse
// @Router /students/{studentId}/payment-qr [get]
func (h *QRHandler) PaymentQR(w http.ResponseWriter, r *http.Request) {
	tenant, ok := services.TenantFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Tenant context required", http.StatusForbidden, nil)
		return
	}

	studentID, err := strconv.Atoi(chi.URLParam(r, "studentId"))
	if err != nil {
		services.SendErrorResponse(w, "Invalid student id", http.StatusBadRequest, nil)
		return
	}

	qrImage, err := h.service.GeneratePaymentQR(r.Context(), tenant, studentID)
	if err == sql.ErrNoRows {
		services.SendErrorResponse(w, "Student not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		services.SendErrorResponse(w, "Failed to generate QR code", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"qrImage": qrImage,
	})
}
