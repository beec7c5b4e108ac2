package rules

import (
	"fmt"

	"github.com/linnemanlabs/aegis/internal/alert"
)

// Classification is the normalized identity of an alert. Two alerts are the
// same alert iff their classifications are equal; the struct is comparable
// and is used directly as a dedup key.
type Classification struct {
	Trigger     Trigger `json:"trigger"`
	RuleID      string  `json:"rule_id"`
	Type        string  `json:"type"`
	SignatureID string  `json:"signature_id,omitempty"`
	AgentIP     string  `json:"agent_ip"`
}

// Key is a stable string form of the classification, for external registries.
func (c Classification) Key() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s", c.Trigger, c.RuleID, c.Type, c.SignatureID, c.AgentIP)
}

// Classify resolves raw to a Classification.
//
// It returns ok=false with a nil error when the rule, or the signature of a
// signature-bearing rule, is not in the table. A recognized alert missing
// required nested fields yields an error wrapping alert.ErrMalformed.
func Classify(raw alert.Raw) (Classification, bool, error) {
	ruleID, ok := raw.RuleID()
	if !ok {
		return Classification{}, false, &alert.ValidationError{Fields: []string{"rule.id"}}
	}

	rule, ok := Lookup(ruleID)
	if !ok {
		return Classification{}, false, nil
	}

	env, err := raw.Envelope()
	if err != nil {
		return Classification{}, false, err
	}

	c := Classification{
		Trigger: rule.Trigger,
		RuleID:  ruleID,
		Type:    rule.Type,
		AgentIP: env.AgentIP,
	}

	if rule.HasSignatures() {
		sig, err := raw.RequireSignatureID()
		if err != nil {
			return Classification{}, false, err
		}
		t, ok := rule.Signature(sig)
		if !ok {
			return Classification{}, false, nil
		}
		c.SignatureID = sig
		c.Type = t
	}

	return c, true, nil
}
