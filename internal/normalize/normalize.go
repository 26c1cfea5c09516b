// Package normalize validates and canonicalizes raw transaction input.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/shrike/internal/domain"
)

// MalformedError reports a raw transaction that failed validation, with
// field-level detail. Fraud is never a normalization failure: this error is
// only about shape, not risk.
type MalformedError struct {
	Field  string
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed transaction: %s: %s", e.Field, e.Reason)
}

// Normalizer converts raw events into immutable Transactions.
type Normalizer struct {
	clockSkew time.Duration

	// now is injectable for tests.
	now func() time.Time
}

// New creates a normalizer with the given clock-skew tolerance.
func New(cfg domain.IngestConfig) *Normalizer {
	return &Normalizer{
		clockSkew: cfg.ClockSkewTolerance,
		now:       time.Now,
	}
}

// Normalize validates the raw event and produces a Transaction, or a
// *MalformedError describing the first offending field. It has no side
// effects beyond assigning an id when the transport did not provide one.
func (n *Normalizer) Normalize(raw *domain.RawTransaction) (*domain.Transaction, error) {
	if raw == nil {
		return nil, &MalformedError{Field: "body", Reason: "is required"}
	}
	if raw.UserID == "" {
		return nil, &MalformedError{Field: "userId", Reason: "is required"}
	}
	if raw.Amount == nil {
		return nil, &MalformedError{Field: "amount", Reason: "is required"}
	}
	if *raw.Amount < 0 {
		return nil, &MalformedError{Field: "amount", Reason: "must not be negative"}
	}

	currency := strings.ToUpper(strings.TrimSpace(raw.Currency))
	if len(currency) != 3 {
		return nil, &MalformedError{Field: "currency", Reason: "must be a 3-letter code"}
	}

	if raw.Timestamp == "" {
		return nil, &MalformedError{Field: "timestamp", Reason: "is required"}
	}
	ts, err := time.Parse(time.RFC3339, raw.Timestamp)
	if err != nil {
		return nil, &MalformedError{Field: "timestamp", Reason: "must be RFC 3339"}
	}
	now := n.now().UTC()
	if ts.After(now.Add(n.clockSkew)) {
		return nil, &MalformedError{Field: "timestamp", Reason: "is in the future"}
	}

	method := domain.PaymentMethod(strings.ToLower(strings.TrimSpace(raw.PaymentMethod)))
	if !method.Valid() {
		return nil, &MalformedError{Field: "paymentMethod", Reason: fmt.Sprintf("unknown method %q", raw.PaymentMethod)}
	}

	loc, err := normalizeLocation(raw)
	if err != nil {
		return nil, err
	}

	id := raw.ID
	if id == "" {
		id = uuid.New().String()
	}

	return &domain.Transaction{
		ID:                id,
		UserID:            raw.UserID,
		Amount:            *raw.Amount,
		Currency:          currency,
		Timestamp:         ts.UTC(),
		Location:          loc,
		PaymentMethod:     method,
		DeviceFingerprint: raw.DeviceFingerprint,
		MerchantID:        raw.MerchantID,
		IP:                raw.IP,
		CreatedAt:         now,
		Metadata:          raw.Metadata,
	}, nil
}

func normalizeLocation(raw *domain.RawTransaction) (domain.Location, error) {
	loc := domain.Location{Label: raw.LocationLabel}

	if raw.Lat == nil && raw.Lon == nil {
		return loc, nil
	}
	if raw.Lat == nil || raw.Lon == nil {
		return loc, &MalformedError{Field: "lat/lon", Reason: "both coordinates are required"}
	}
	if *raw.Lat < -90 || *raw.Lat > 90 {
		return loc, &MalformedError{Field: "lat", Reason: "must be in [-90,90]"}
	}
	if *raw.Lon < -180 || *raw.Lon > 180 {
		return loc, &MalformedError{Field: "lon", Reason: "must be in [-180,180]"}
	}

	loc.Lat = *raw.Lat
	loc.Lon = *raw.Lon
	loc.HasCoords = true
	return loc, nil
}
