// Package rules holds the static table of alerts the responder acts on and
// classifies raw alerts against it.
package rules

// Trigger names the detection engine that produced an alert.
type Trigger string

const (
	TriggerWazuh    Trigger = "Wazuh"
	TriggerSuricata Trigger = "Suricata"
)

// SuricataRuleID is the Wazuh rule that relays Suricata IDS events. Its alert
// type depends on the Suricata signature rather than on the rule itself.
const SuricataRuleID = "86682"

// Rule describes how alerts for one rule id are classified.
type Rule struct {
	Trigger Trigger
	// Type is empty for signature-bearing rules.
	Type string
	// Signatures maps signature id to alert type; nil when the rule carries none.
	Signatures map[string]string
}

// HasSignatures reports whether the alert type is resolved per signature.
func (r Rule) HasSignatures() bool { return r.Signatures != nil }

// Signature returns the alert type for a signature id.
func (r Rule) Signature(id string) (string, bool) {
	t, ok := r.Signatures[id]
	return t, ok
}

var table = map[string]Rule{
	"204": {
		Trigger: TriggerWazuh,
		Type:    "DoS",
	},
	"5763": {
		Trigger: TriggerWazuh,
		Type:    "SSH",
	},
	SuricataRuleID: {
		Trigger: TriggerSuricata,
		Signatures: map[string]string{
			"1000002": "DNS",
			"1000003": "DNS",
			"1000005": "C2",
			"1000006": "Network Scan",
		},
	},
}

// Lookup returns the rule registered for id.
func Lookup(id string) (Rule, bool) {
	r, ok := table[id]
	return r, ok
}

// IDs returns the recognized rule ids.
func IDs() []string {
	ids := make([]string, 0, len(table))
	for id := range table {
		ids = append(ids, id)
	}
	return ids
}
