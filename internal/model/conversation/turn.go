package conversation

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of a session's conversation history.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserTurn builds a user turn.
func UserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content}
}

// AssistantTurn builds an assistant turn.
func AssistantTurn(content string) Turn {
	return Turn{Role: RoleAssistant, Content: content}
}
