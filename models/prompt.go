package models

// PromptBundle is the provider-agnostic output of the prompt assembler.
// Adapters format the system prompt, messages, and schemas into their own
// wire shapes.
type PromptBundle struct {
	SystemPrompt string
	Messages     []ChatTurn
	Schemas      []FunctionSchema
	Temperature  *float64
	MaxTokens    *int
}
