// Package domain defines the core types and interfaces for Shrike.
package domain

import (
	"time"
)

// PaymentMethod identifies how a transaction was funded.
type PaymentMethod string

const (
	PaymentCard     PaymentMethod = "card"
	PaymentTransfer PaymentMethod = "transfer"
	PaymentWallet   PaymentMethod = "wallet"
	PaymentCrypto   PaymentMethod = "crypto"
)

// KnownPaymentMethods lists the accepted payment method values.
var KnownPaymentMethods = []PaymentMethod{
	PaymentCard, PaymentTransfer, PaymentWallet, PaymentCrypto,
}

// Valid reports whether m is one of the accepted payment methods.
func (m PaymentMethod) Valid() bool {
	for _, known := range KnownPaymentMethods {
		if m == known {
			return true
		}
	}
	return false
}

// Location is where a transaction originated. Coordinates are optional;
// a transaction may carry only a symbolic label (e.g. a city name).
type Location struct {
	Lat       float64 `json:"lat,omitempty"`
	Lon       float64 `json:"lon,omitempty"`
	Label     string  `json:"label,omitempty"`
	HasCoords bool    `json:"hasCoords"`
}

// Transaction is a normalized transaction event. Immutable once produced
// by the normalizer; shared freely across concurrent evaluators.
type Transaction struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`

	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`

	Timestamp time.Time `json:"timestamp"`

	Location Location `json:"location"`

	PaymentMethod     PaymentMethod `json:"paymentMethod"`
	DeviceFingerprint string        `json:"deviceFingerprint,omitempty"`
	MerchantID        string        `json:"merchantId,omitempty"`
	IP                string        `json:"ip,omitempty"`

	// CreatedAt is when the normalizer accepted the event.
	CreatedAt time.Time `json:"createdAt"`

	// Optional passthrough metadata from the ingestion transport.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// RawTransaction is the wire-shaped input accepted from the ingestion
// transport (HTTP body or bus message) before normalization.
type RawTransaction struct {
	ID                string                 `json:"id"`
	UserID            string                 `json:"userId"`
	Amount            *float64               `json:"amount"`
	Currency          string                 `json:"currency"`
	Timestamp         string                 `json:"timestamp"`
	Lat               *float64               `json:"lat,omitempty"`
	Lon               *float64               `json:"lon,omitempty"`
	LocationLabel     string                 `json:"location,omitempty"`
	PaymentMethod     string                 `json:"paymentMethod"`
	DeviceFingerprint string                 `json:"deviceFingerprint,omitempty"`
	MerchantID        string                 `json:"merchantId,omitempty"`
	IP                string                 `json:"ip,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}
