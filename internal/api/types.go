package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/dna-testing-scheduling/internal/appointment"
	"github.com/hackgods/dna-testing-scheduling/internal/kit"
	"github.com/hackgods/dna-testing-scheduling/internal/payment"
	"github.com/hackgods/dna-testing-scheduling/internal/reservation"
	"github.com/hackgods/dna-testing-scheduling/internal/sample"
	"github.com/hackgods/dna-testing-scheduling/internal/slot"
)

type CreateSlotRequest struct {
	StaffIDs         []string          `json:"staff_ids" validate:"required,min=1,dive,uuid"`
	ServiceID        string            `json:"service_id" validate:"required,uuid"`
	Windows          []slot.TimeWindow `json:"windows" validate:"required,min=1"`
	AppointmentLimit int               `json:"appointment_limit" validate:"required,min=1"`
}

type SlotStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=available unavailable"`
}

type SlotResponse struct {
	ID               uuid.UUID         `json:"id"`
	StaffIDs         []uuid.UUID       `json:"staff_ids"`
	ServiceID        uuid.UUID         `json:"service_id"`
	Windows          []slot.TimeWindow `json:"windows"`
	AppointmentLimit int               `json:"appointment_limit"`
	BookedCount      int               `json:"booked_count"`
	Remaining        int               `json:"remaining"`
	Status           string            `json:"status"`
	AppointmentID    *uuid.UUID        `json:"appointment_id,omitempty"`
}

func toSlotResponse(s slot.Slot) SlotResponse {
	return SlotResponse{
		ID:               s.ID,
		StaffIDs:         s.StaffIDs,
		ServiceID:        s.ServiceID,
		Windows:          s.Windows,
		AppointmentLimit: s.AppointmentLimit,
		BookedCount:      s.BookedCount,
		Remaining:        s.Remaining(),
		Status:           string(s.Status),
		AppointmentID:    s.AppointmentID,
	}
}

type CreateReservationRequest struct {
	CustomerID     string   `json:"customer_id" validate:"omitempty,uuid"`
	ServiceID      string   `json:"service_id" validate:"required,uuid"`
	TestingNeed    string   `json:"testing_need" validate:"max=500"`
	PreferredDate  string   `json:"preferred_date" validate:"omitempty,datetime=2006-01-02"`
	PreferredSlots []string `json:"preferred_slots" validate:"max=10"`
	SlotID         string   `json:"slot_id" validate:"omitempty,uuid"`
	TotalAmount    *int64   `json:"total_amount" validate:"omitempty,gte=0"`
	DepositAmount  *int64   `json:"deposit_amount" validate:"omitempty,gte=0"`
}

type ConvertReservationRequest struct {
	CollectionType    string  `json:"collection_type" validate:"omitempty,oneof=facility home"`
	CollectionAddress *string `json:"collection_address" validate:"omitempty,max=500"`
}

type ReservationResponse struct {
	ID                       uuid.UUID  `json:"id"`
	CustomerID               uuid.UUID  `json:"customer_id"`
	ServiceID                uuid.UUID  `json:"service_id"`
	TestingNeed              string     `json:"testing_need,omitempty"`
	PreferredDate            *time.Time `json:"preferred_date,omitempty"`
	PreferredSlots           []string   `json:"preferred_slots,omitempty"`
	SlotID                   *uuid.UUID `json:"slot_id,omitempty"`
	TotalAmount              int64      `json:"total_amount"`
	DepositAmount            int64      `json:"deposit_amount"`
	Status                   string     `json:"status"`
	PaymentStatus            string     `json:"payment_status"`
	ExpiresAt                time.Time  `json:"expires_at"`
	ConvertedToAppointmentID *uuid.UUID `json:"converted_to_appointment_id,omitempty"`
	CreatedAt                time.Time  `json:"created_at"`
}

func toReservationResponse(r reservation.Reservation) ReservationResponse {
	return ReservationResponse{
		ID:                       r.ID,
		CustomerID:               r.CustomerID,
		ServiceID:                r.ServiceID,
		TestingNeed:              r.TestingNeed,
		PreferredDate:            r.PreferredDate,
		PreferredSlots:           r.PreferredSlots,
		SlotID:                   r.SlotID,
		TotalAmount:              r.TotalAmount,
		DepositAmount:            r.DepositAmount,
		Status:                   string(r.Status),
		PaymentStatus:            string(r.PaymentStatus),
		ExpiresAt:                r.ExpiresAt,
		ConvertedToAppointmentID: r.ConvertedToAppointmentID,
		CreatedAt:                r.CreatedAt,
	}
}

type ConvertReservationResponse struct {
	Reservation ReservationResponse `json:"reservation"`
	Appointment AppointmentResponse `json:"appointment"`
}

type BookAppointmentRequest struct {
	CustomerID        string  `json:"customer_id" validate:"omitempty,uuid"`
	ServiceID         string  `json:"service_id" validate:"required,uuid"`
	SlotID            string  `json:"slot_id" validate:"required,uuid"`
	CollectionType    string  `json:"collection_type" validate:"omitempty,oneof=facility home"`
	CollectionAddress *string `json:"collection_address" validate:"omitempty,max=500"`
}

type CancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type AssignKitRequest struct {
	KitID string `json:"kit_id" validate:"required,uuid"`
}

type SampleRequest struct {
	SampleType string `json:"sample_type" validate:"required,max=100"`
	DonorName  string `json:"donor_name" validate:"max=200"`
}

type CollectSamplesRequest struct {
	Samples []SampleRequest `json:"samples" validate:"required,min=1,dive"`
}

type StartTestingRequest struct {
	SampleIDs []string `json:"sample_ids" validate:"required,min=1,dive,uuid"`
}

type RecordResultRequest struct {
	ResultRef string `json:"result_ref" validate:"required_without=Invalid,max=500"`
	Invalid   bool   `json:"invalid"`
}

type AppointmentResponse struct {
	ID                uuid.UUID  `json:"id"`
	CustomerID        uuid.UUID  `json:"customer_id"`
	ServiceID         uuid.UUID  `json:"service_id"`
	SlotID            *uuid.UUID `json:"slot_id,omitempty"`
	KitID             *uuid.UUID `json:"kit_id,omitempty"`
	Status            string     `json:"status"`
	TotalAmount       int64      `json:"total_amount"`
	DepositAmount     int64      `json:"deposit_amount"`
	AmountPaid        int64      `json:"amount_paid"`
	RemainingAmount   int64      `json:"remaining_amount"`
	CollectionType    string     `json:"collection_type"`
	CollectionAddress *string    `json:"collection_address,omitempty"`
	HoldExpiresAt     *time.Time `json:"hold_expires_at,omitempty"`
	CancelReason      *string    `json:"cancel_reason,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

func toAppointmentResponse(a appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                a.ID,
		CustomerID:        a.CustomerID,
		ServiceID:         a.ServiceID,
		SlotID:            a.SlotID,
		KitID:             a.KitID,
		Status:            string(a.Status),
		TotalAmount:       a.TotalAmount,
		DepositAmount:     a.DepositAmount,
		AmountPaid:        a.AmountPaid,
		RemainingAmount:   a.RemainingAmount(),
		CollectionType:    a.CollectionType,
		CollectionAddress: a.CollectionAddress,
		HoldExpiresAt:     a.HoldExpiresAt,
		CancelReason:      a.CancelReason,
		CreatedAt:         a.CreatedAt,
	}
}

type SampleResponse struct {
	ID            uuid.UUID  `json:"id"`
	AppointmentID uuid.UUID  `json:"appointment_id"`
	KitID         *uuid.UUID `json:"kit_id,omitempty"`
	SampleType    string     `json:"sample_type"`
	DonorName     string     `json:"donor_name,omitempty"`
	Status        string     `json:"status"`
	ResultRef     *string    `json:"result_ref,omitempty"`
	CollectedAt   *time.Time `json:"collected_at,omitempty"`
}

func toSampleResponse(s sample.Sample) SampleResponse {
	return SampleResponse{
		ID:            s.ID,
		AppointmentID: s.AppointmentID,
		KitID:         s.KitID,
		SampleType:    s.SampleType,
		DonorName:     s.DonorName,
		Status:        string(s.Status),
		ResultRef:     s.ResultRef,
		CollectedAt:   s.CollectedAt,
	}
}

type CollectSamplesResponse struct {
	Appointment AppointmentResponse `json:"appointment"`
	Samples     []SampleResponse    `json:"samples"`
}

type RequestPaymentRequest struct {
	Method string `json:"method" validate:"required,oneof=cash online"`
}

type PaymentResponse struct {
	ID                   uuid.UUID `json:"id"`
	PaymentNo            int64     `json:"payment_no"`
	AppointmentID        uuid.UUID `json:"appointment_id"`
	Amount               int64     `json:"amount"`
	Method               string    `json:"method"`
	Stage                string    `json:"stage"`
	Status               string    `json:"status"`
	CheckoutURL          *string   `json:"checkout_url,omitempty"`
	GatewayTransactionID *string   `json:"gateway_transaction_id,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

func toPaymentResponse(p payment.Payment) PaymentResponse {
	return PaymentResponse{
		ID:                   p.ID,
		PaymentNo:            p.PaymentNo,
		AppointmentID:        p.AppointmentID,
		Amount:               p.Amount,
		Method:               string(p.Method),
		Stage:                string(p.Stage),
		Status:               string(p.Status),
		CheckoutURL:          p.CheckoutURL,
		GatewayTransactionID: p.GatewayTransactionID,
		CreatedAt:            p.CreatedAt,
	}
}

type WebhookResponse struct {
	Status string `json:"status"`
}

type CreateKitRequest struct {
	Type        string `json:"type" validate:"required,oneof=regular administrative"`
	AdminCaseID string `json:"admin_case_id" validate:"omitempty,uuid"`
}

type AssignKitToUserRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
}

type ReturnKitRequest struct {
	Status string `json:"status" validate:"required,oneof=available used returned damaged"`
}

type KitResponse struct {
	ID          uuid.UUID  `json:"id"`
	Code        string     `json:"code"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	AssignedTo  *uuid.UUID `json:"assigned_to,omitempty"`
	AdminCaseID *uuid.UUID `json:"admin_case_id,omitempty"`
	AssignedAt  *time.Time `json:"assigned_at,omitempty"`
}

func toKitResponse(k kit.Kit) KitResponse {
	return KitResponse{
		ID:          k.ID,
		Code:        k.Code,
		Type:        string(k.Type),
		Status:      string(k.Status),
		AssignedTo:  k.AssignedTo,
		AdminCaseID: k.AdminCaseID,
		AssignedAt:  k.AssignedAt,
	}
}

func mapSlice[T, R any](in []T, fn func(T) R) []R {
	out := make([]R, len(in))
	for i, v := range in {
		out[i] = fn(v)
	}
	return out
}
