// Package correlate normalizes agent-runtime event shapes into a closed
// set of UI-facing message variants and detects permission denials.
package correlate

// Message is one UI-facing record derived from runtime events. The variant
// set is closed; Kind returns the discriminator carried in the JSON "type"
// field.
type Message interface {
	Kind() string
}

type meta struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

// ChatMessage is free text from the user or the assistant.
type ChatMessage struct {
	meta
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (ChatMessage) Kind() string { return "chat" }

// ToolMessage is a tool invocation with its input arguments.
type ToolMessage struct {
	meta
	Type  string                 `json:"type"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input"`
}

func (ToolMessage) Kind() string { return "tool" }

// ToolResultMessage is a tool outcome correlated back to its invocation.
type ToolResultMessage struct {
	meta
	Type     string `json:"type"`
	ToolName string `json:"toolName"`
	Content  string `json:"content"`
	Summary  string `json:"summary"`
	IsError  bool   `json:"isError,omitempty"`
}

func (ToolResultMessage) Kind() string { return "tool_result" }

// ThinkingMessage is extended reasoning text.
type ThinkingMessage struct {
	meta
	Type    string `json:"type"`
	Content string `json:"content"`
}

func (ThinkingMessage) Kind() string { return "thinking" }

// TodoItem is one entry of a task-list snapshot.
type TodoItem struct {
	Content    string `json:"content"`
	Status     string `json:"status"`
	ActiveForm string `json:"activeForm,omitempty"`
}

// TodoMessage is a task-list snapshot.
type TodoMessage struct {
	meta
	Type  string     `json:"type"`
	Todos []TodoItem `json:"todos"`
}

func (TodoMessage) Kind() string { return "todo" }

// SystemInitMessage carries conversation initialization metadata.
type SystemInitMessage struct {
	meta
	Type      string   `json:"type"`
	Subtype   string   `json:"subtype"`
	Model     string   `json:"model"`
	SessionID string   `json:"sessionId"`
	Tools     []string `json:"tools"`
	Cwd       string   `json:"cwd"`
}

func (SystemInitMessage) Kind() string { return "system" }

// ResultMessage summarizes a finished invocation.
type ResultMessage struct {
	meta
	Type         string  `json:"type"`
	DurationMS   int64   `json:"durationMs"`
	TotalCostUSD float64 `json:"totalCostUsd"`
	Usage        Usage   `json:"usage"`
}

// Usage holds token counts for a result summary.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

func (ResultMessage) Kind() string { return "result" }

// ErrorMessage is a terminal stream failure.
type ErrorMessage struct {
	meta
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (ErrorMessage) Kind() string { return "error" }

// PermissionRequest is synthesized when a tool result reports a denied
// permission. Exactly one of FilePath and Command is set, by tool kind.
type PermissionRequest struct {
	meta
	Type        string `json:"type"`
	ToolName    string `json:"toolName"`
	ToolID      string `json:"toolId"`
	Description string `json:"description"`
	FilePath    string `json:"filePath,omitempty"`
	Command     string `json:"command,omitempty"`
}

func (PermissionRequest) Kind() string { return "permission_request" }
