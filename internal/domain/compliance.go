package domain

import "time"

// ComplianceStatus is the outcome of the compliance screening stage.
type ComplianceStatus string

const (
	CompliancePass  ComplianceStatus = "PASS"
	ComplianceFail  ComplianceStatus = "FAIL"
	ComplianceError ComplianceStatus = "ERROR"
)

// ComplianceDecision is the screening result for a transaction.
// One-to-one with Intent; read-only input to routing.
type ComplianceDecision struct {
	TransactionID string           `json:"transactionId"`
	Decision      ComplianceStatus `json:"decision"`
	PolicyVersion string           `json:"policyVersion,omitempty"`

	// CompliancePenalty and RiskScore are in [0, 100].
	CompliancePenalty float64 `json:"compliancePenalty"`
	RiskScore         float64 `json:"riskScore"`

	ReasonCodes  []string  `json:"reasonCodes,omitempty"`
	EvidenceRefs []string  `json:"evidenceRefs,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Passed reports whether the compliance gate is open for routing.
func (d *ComplianceDecision) Passed() bool {
	return d != nil && d.Decision == CompliancePass
}
