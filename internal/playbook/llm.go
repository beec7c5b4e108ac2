package playbook

import "context"

// Provider is the interface for any LLM backend.
type Provider interface {
	Generate(ctx context.Context, req *GenerateRequest) (*Completion, error)
}

// GenerateRequest is a single-turn text generation request.
type GenerateRequest struct {
	System    string
	Prompt    string
	MaxTokens int
}

// Completion is the text the model produced and what it cost.
type Completion struct {
	Text         string
	Model        string
	StopReason   string
	InputTokens  int
	OutputTokens int
}

// systemPrompt frames the one-shot template for the model.
const systemPrompt = `You write Ansible playbooks that respond to network security alerts.
Answer with valid Ansible playbook YAML only.`
