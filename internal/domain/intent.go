package domain

import (
	"time"
)

// Intent represents a payment request entering the pipeline.
// Immutable after creation except for Status.
type Intent struct {
	TransactionID string `json:"transactionId"`

	// Payment type (e.g., "payroll", "vendor_payment", "loan_disbursement")
	PaymentType string `json:"paymentType"`

	// Parties involved
	Sender   Party `json:"sender"`
	Receiver Party `json:"receiver"`

	// Financial details
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Purpose  string  `json:"purpose,omitempty"`

	// Temporal
	ScheduledAt time.Time `json:"scheduledAt"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	// Lifecycle
	Status IntentStatus `json:"status"`

	// Optional free-form fields (employee id, invoice number, ...)
	AdditionalFields map[string]interface{} `json:"additionalFields,omitempty"`
}

// Party represents a payment participant with bank particulars.
type Party struct {
	Name          string `json:"name"`
	AccountNumber string `json:"accountNumber"`
	BankCode      string `json:"bankCode"`
	BankName      string `json:"bankName,omitempty"`
}

// IntentStatus tracks the intent through the pipeline.
type IntentStatus string

const (
	IntentPending    IntentStatus = "PENDING"
	IntentProcessing IntentStatus = "PROCESSING"
	IntentCompleted  IntentStatus = "COMPLETED"
	IntentFailed     IntentStatus = "FAILED"
)

// IntentRequest is the API request payload for registering an intent.
type IntentRequest struct {
	TransactionID    string                 `json:"transactionId"`
	PaymentType      string                 `json:"paymentType"`
	Sender           Party                  `json:"sender"`
	Receiver         Party                  `json:"receiver"`
	Amount           float64                `json:"amount"`
	Currency         string                 `json:"currency"`
	Purpose          string                 `json:"purpose,omitempty"`
	ScheduledAt      time.Time              `json:"scheduledAt,omitempty"`
	AdditionalFields map[string]interface{} `json:"additionalFields,omitempty"`
}

// ToIntent converts a request to an Intent domain object.
func (r *IntentRequest) ToIntent() *Intent {
	now := time.Now().UTC()
	scheduled := r.ScheduledAt
	if scheduled.IsZero() {
		scheduled = now
	}
	return &Intent{
		TransactionID:    r.TransactionID,
		PaymentType:      r.PaymentType,
		Sender:           r.Sender,
		Receiver:         r.Receiver,
		Amount:           r.Amount,
		Currency:         r.Currency,
		Purpose:          r.Purpose,
		ScheduledAt:      scheduled,
		CreatedAt:        now,
		UpdatedAt:        now,
		Status:           IntentPending,
		AdditionalFields: r.AdditionalFields,
	}
}
