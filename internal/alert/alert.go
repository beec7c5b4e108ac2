// Package alert models SIEM alerts as they arrive on the webhook.
//
// A Raw alert is the decoded JSON object forwarded by the Wazuh manager
// (including Suricata events relayed through it). The payload is kept
// opaque so it can be rendered into prompts unchanged; typed accessors
// expose the handful of nested fields the responder relies on.
package alert

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrMalformed is returned (wrapped in a *ValidationError) when an alert lacks
// fields required for classification.
var ErrMalformed = errors.New("malformed alert")

// ValidationError lists the missing or invalid fields of a malformed alert.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("malformed alert: missing or invalid %s", strings.Join(e.Fields, ", "))
}

// Unwrap lets errors.Is(err, ErrMalformed) match.
func (e *ValidationError) Unwrap() error { return ErrMalformed }

// Raw is an alert payload exactly as received. It must not be mutated after decoding.
type Raw map[string]any

// Envelope holds the fields every recognized alert must carry.
type Envelope struct {
	RuleID    string `json:"rule.id" validate:"required"`
	AgentName string `json:"agent.name" validate:"required"`
	AgentIP   string `json:"agent.ip" validate:"required,ip"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report fields by their dotted payload path
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Decode parses a webhook body into a Raw alert. Only non-empty JSON objects are accepted.
func Decode(body []byte) (Raw, error) {
	var raw Raw
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode alert: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("decode alert: trailing data after JSON object")
	}
	if len(raw) == 0 {
		return nil, errors.New("decode alert: empty or null JSON object")
	}
	return raw, nil
}

// RuleID returns rule.id.
func (r Raw) RuleID() (string, bool) { return r.stringAt("rule", "id") }

// AgentName returns agent.name.
func (r Raw) AgentName() (string, bool) { return r.stringAt("agent", "name") }

// AgentIP returns agent.ip.
func (r Raw) AgentIP() (string, bool) { return r.stringAt("agent", "ip") }

// SignatureID returns data.alert.signature_id, present on Suricata events.
func (r Raw) SignatureID() (string, bool) { return r.stringAt("data", "alert", "signature_id") }

// Envelope extracts and validates the required fields.
func (r Raw) Envelope() (*Envelope, error) {
	var env Envelope
	env.RuleID, _ = r.RuleID()
	env.AgentName, _ = r.AgentName()
	env.AgentIP, _ = r.AgentIP()

	if err := validate.Struct(&env); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field())
			}
			return nil, &ValidationError{Fields: fields}
		}
		return nil, fmt.Errorf("validate alert: %w", err)
	}
	return &env, nil
}

// RequireSignatureID returns data.alert.signature_id or a *ValidationError.
func (r Raw) RequireSignatureID() (string, error) {
	sig, _ := r.SignatureID()
	if err := validate.Var(sig, "required"); err != nil {
		return "", &ValidationError{Fields: []string{"data.alert.signature_id"}}
	}
	return sig, nil
}

func (r Raw) stringAt(path ...string) (string, bool) {
	var cur any = map[string]any(r)
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		cur, ok = m[key]
		if !ok {
			return "", false
		}
	}
	return scalarString(cur)
}

// scalarString normalizes ids that upstream may send as strings or numbers.
func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, t != ""
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	default:
		return "", false
	}
}
