package llm

// ToolSpec declares one action in a vendor-neutral JSON Schema form.
type ToolSpec struct {
	Name        ActionType
	Description string
	Parameters  map[string]any
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

// Tools returns the declarations of the action vocabulary.
func Tools() []ToolSpec {
	return []ToolSpec{
		{
			Name: ActionBrowserTask,
			Description: "Execute a high-level browser task. Describe WHAT you want to accomplish in natural " +
				"language; the browser automation system handles clicking, typing and navigation.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"task": stringProp("Natural language description of the browser task to perform"),
				},
				"required": []string{"task"},
			},
		},
		{
			Name:        ActionSendEmail,
			Description: "Send an email from the agent's own inbox.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"to":      stringProp("Recipient email address"),
					"subject": stringProp("Subject line"),
					"body":    stringProp("Plain text body"),
				},
				"required": []string{"to", "subject", "body"},
			},
		},
		{
			Name:        ActionPayToAddress,
			Description: "Send USDC from the agent's wallet to a wallet address.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"to_address": stringProp("Recipient wallet address (0x...)"),
					"amount":     map[string]any{"type": "number", "description": "Amount in USDC"},
					"memo":       stringProp("What the payment is for"),
				},
				"required": []string{"to_address", "amount", "memo"},
			},
		},
		{
			Name:        ActionPayToEmail,
			Description: "Send USDC to an email address; the recipient claims it by email.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"email":  stringProp("Recipient email address"),
					"amount": map[string]any{"type": "number", "description": "Amount in USDC"},
					"memo":   stringProp("What the payment is for"),
				},
				"required": []string{"email", "amount", "memo"},
			},
		},
		{
			Name: ActionFinishReasoning,
			Description: "Think through strategy without acting, or declare the goal complete by setting " +
				"should_stop.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reasoning":   stringProp("Reasoning about the current situation and strategy"),
					"should_stop": map[string]any{"type": "boolean", "description": "True when the goal has been achieved"},
				},
				"required": []string{"reasoning"},
			},
		},
	}
}
