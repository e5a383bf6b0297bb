// Package agent implements the outbound collections call agent: the
// per-call context, the lifecycle state machine, the capability toolset
// exposed to the turn provider, and the controller that ties them to the
// telephony platform.
package agent

import (
	"encoding/json"
	"fmt"
)

// Defaults applied when the job payload omits optional fields.
const (
	DefaultCustomerName      = "Valued Customer"
	DefaultAccountNumber     = "ABC123"
	DefaultOutstandingAmount = "1000"
	DefaultDueDate           = "September 15, 2025"
	DefaultCardType          = "Visa"
)

// CallContext is the identifying and billing data for one outbound call.
// It is immutable for the call's lifetime once parsed.
type CallContext struct {
	CustomerName        string `json:"customer_name"`
	AccountNumber       string `json:"account_number"`
	OutstandingAmount   string `json:"outstanding_amount"`
	DueDate             string `json:"due_date"`
	CardType            string `json:"card_type"`
	PhoneNumber         string `json:"phone_number"`
	ParticipantIdentity string `json:"participant_identity"`
}

// ParseJobMetadata builds a CallContext from an inbound job payload.
// phone_number is required; every other field has a default.
func ParseJobMetadata(raw []byte) (CallContext, error) {
	var payload struct {
		PhoneNumber       string `json:"phone_number"`
		CustomerName      string `json:"customer_name"`
		AccountNumber     string `json:"account_number"`
		OutstandingAmount string `json:"outstanding_amount"`
		DueDate           string `json:"due_date"`
		CardType          string `json:"card_type"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return CallContext{}, fmt.Errorf("parse job metadata: %w", err)
	}
	if payload.PhoneNumber == "" {
		return CallContext{}, fmt.Errorf("job metadata missing phone_number")
	}

	cc := CallContext{
		CustomerName:        payload.CustomerName,
		AccountNumber:       payload.AccountNumber,
		OutstandingAmount:   payload.OutstandingAmount,
		DueDate:             payload.DueDate,
		CardType:            payload.CardType,
		PhoneNumber:         payload.PhoneNumber,
		ParticipantIdentity: payload.PhoneNumber,
	}
	if cc.CustomerName == "" {
		cc.CustomerName = DefaultCustomerName
	}
	if cc.AccountNumber == "" {
		cc.AccountNumber = DefaultAccountNumber
	}
	if cc.OutstandingAmount == "" {
		cc.OutstandingAmount = DefaultOutstandingAmount
	}
	if cc.DueDate == "" {
		cc.DueDate = DefaultDueDate
	}
	if cc.CardType == "" {
		cc.CardType = DefaultCardType
	}
	return cc, nil
}
