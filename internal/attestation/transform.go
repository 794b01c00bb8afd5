package attestation

import (
	"fmt"
	"net/http"
	"time"
)

// FieldMapping projects one source field into one payload field.
// Mappings are data, not code: the transform step is fully described by
// the descriptor that carries them.
type FieldMapping struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Required bool   `json:"required"`
}

// Descriptor declaratively describes one attestation fetch: where to
// call, how, and how to project the response into the fixed payload
// schema.
type Descriptor struct {
	Endpoint string            `json:"endpoint"`
	Method   string            `json:"method"`
	Headers  map[string]string `json:"headers,omitempty"`
	Mappings []FieldMapping    `json:"mappings"`
}

// DefaultMappings is the identity projection for the standard bureau
// response shape. Timestamp is optional: sources that omit it produce a
// zero timestamp rather than failing the request.
var DefaultMappings = []FieldMapping{
	{Source: "creditScore", Target: "creditScore", Required: true},
	{Source: "paymentHistory", Target: "paymentHistory", Required: true},
	{Source: "creditUtilization", Target: "creditUtilization", Required: true},
	{Source: "creditHistoryLength", Target: "creditHistoryLength", Required: true},
	{Source: "accountsOpen", Target: "accountsOpen", Required: true},
	{Source: "recentInquiries", Target: "recentInquiries", Required: true},
	{Source: "publicRecords", Target: "publicRecords", Required: true},
	{Source: "delinquencies", Target: "delinquencies", Required: true},
	{Source: "timestamp", Target: "timestamp", Required: false},
}

// NewDescriptor builds the standard bureau request descriptor for a subject.
func NewDescriptor(endpoint, apiKey, subject string) *Descriptor {
	headers := map[string]string{
		"Accept":       "application/json",
		"X-Subject-ID": subject,
	}
	if apiKey != "" {
		headers["Authorization"] = "Bearer " + apiKey
	}
	return &Descriptor{
		Endpoint: endpoint,
		Method:   http.MethodGet,
		Headers:  headers,
		Mappings: DefaultMappings,
	}
}

// Transform projects a parsed source document into the fixed payload
// schema. A required field that is absent or non-numeric fails with
// ErrSchemaMismatch naming the field.
func (d *Descriptor) Transform(doc map[string]any) (*Payload, error) {
	p := &Payload{}

	for _, m := range d.Mappings {
		raw, ok := doc[m.Source]
		if !ok {
			if m.Required {
				return nil, fmt.Errorf("%w: missing field %q", ErrSchemaMismatch, m.Source)
			}
			continue
		}

		if m.Target == "timestamp" {
			ts, err := coerceTime(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: field %q: %v", ErrSchemaMismatch, m.Source, err)
			}
			p.Timestamp = ts
			continue
		}

		v, err := coerceInt(raw)
		if err != nil {
			if m.Required {
				return nil, fmt.Errorf("%w: field %q: %v", ErrSchemaMismatch, m.Source, err)
			}
			continue
		}
		if err := p.set(m.Target, v); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// set assigns a payload field by name. Unknown targets indicate a
// malformed descriptor, not bad source data.
func (p *Payload) set(target string, v int64) error {
	switch target {
	case "creditScore":
		p.CreditScore = v
	case "paymentHistory":
		p.PaymentHistory = v
	case "creditUtilization":
		p.CreditUtilization = v
	case "creditHistoryLength":
		p.CreditHistoryLength = v
	case "accountsOpen":
		p.AccountsOpen = v
	case "recentInquiries":
		p.RecentInquiries = v
	case "publicRecords":
		p.PublicRecords = v
	case "delinquencies":
		p.Delinquencies = v
	default:
		return fmt.Errorf("attestation: descriptor maps unknown target field %q", target)
	}
	return nil
}

// coerceInt accepts the numeric shapes JSON decoding produces.
func coerceInt(raw any) (int64, error) {
	switch v := raw.(type) {
	case float64:
		return int64(v), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("expected number, got %T", raw)
	}
}

// coerceTime accepts unix seconds or an RFC 3339 string.
func coerceTime(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case float64:
		return time.Unix(int64(v), 0).UTC(), nil
	case string:
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("unparseable timestamp %q", v)
		}
		return ts.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("expected unix seconds or RFC 3339 string, got %T", raw)
	}
}
