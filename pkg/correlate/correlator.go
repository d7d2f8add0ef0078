package correlate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// fallbackToolName labels results whose invocation is absent from the cache.
const fallbackToolName = "Tool"

// ToolUse is a cached tool invocation awaiting its result.
type ToolUse struct {
	Name  string
	Input map[string]interface{}
}

// Correlator translates raw runtime events into UI message variants. It
// keeps a short-lived invocation cache so tool results can be attributed to
// the tool that produced them; the cache is cleared wholesale when a new or
// resumed conversation begins.
type Correlator struct {
	mu        sync.Mutex
	toolUses  map[string]ToolUse
	sessionID string
}

// New creates an empty correlator.
func New() *Correlator {
	return &Correlator{toolUses: make(map[string]ToolUse)}
}

// Reset clears the invocation cache and forgets the conversation id. Call
// it at the start of every new or resumed conversation to prevent
// cross-conversation misattribution.
func (c *Correlator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolUses = make(map[string]ToolUse)
	c.sessionID = ""
}

// SessionID returns the runtime conversation id seen so far, if any.
func (c *Correlator) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// ToolInfo returns the cached invocation for an id.
func (c *Correlator) ToolInfo(id string) (ToolUse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	use, ok := c.toolUses[id]
	return use, ok
}

// event mirrors the runtime's wire shapes; unknown fields are ignored.
type event struct {
	Type         string   `json:"type"`
	Subtype      string   `json:"subtype"`
	Model        string   `json:"model"`
	SessionID    string   `json:"session_id"`
	Tools        []string `json:"tools"`
	Cwd          string   `json:"cwd"`
	DurationMS   int64    `json:"duration_ms"`
	TotalCostUSD float64  `json:"total_cost_usd"`
	Usage        struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Message struct {
		Content []contentItem `json:"content"`
	} `json:"message"`
}

type contentItem struct {
	Type      string                 `json:"type"`
	Text      string                 `json:"text"`
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Input     map[string]interface{} `json:"input"`
	Thinking  string                 `json:"thinking"`
	ToolUseID string                 `json:"tool_use_id"`
	Content   interface{}            `json:"content"`
	IsError   bool                   `json:"is_error"`
}

// Process maps one raw runtime event to zero or more UI messages.
func (c *Correlator) Process(raw json.RawMessage, timestamp int64) []Message {
	var ev event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil
	}
	if ev.SessionID != "" {
		c.mu.Lock()
		c.sessionID = ev.SessionID
		c.mu.Unlock()
	}

	switch ev.Type {
	case "system":
		if ev.Subtype != "init" {
			return nil
		}
		model := ev.Model
		if model == "" {
			model = "unknown"
		}
		return []Message{SystemInitMessage{
			meta:      newMeta(timestamp),
			Type:      "system",
			Subtype:   "init",
			Model:     model,
			SessionID: ev.SessionID,
			Tools:     ev.Tools,
			Cwd:       ev.Cwd,
		}}

	case "assistant":
		var out []Message
		for _, item := range ev.Message.Content {
			switch item.Type {
			case "text":
				if item.Text == "" {
					continue
				}
				out = append(out, ChatMessage{
					meta:    newMeta(timestamp),
					Type:    "chat",
					Role:    "assistant",
					Content: item.Text,
				})
			case "tool_use":
				c.mu.Lock()
				c.toolUses[item.ID] = ToolUse{Name: item.Name, Input: item.Input}
				c.mu.Unlock()
				out = append(out, ToolMessage{
					meta:  newMeta(timestamp),
					Type:  "tool",
					Name:  item.Name,
					Input: nonNilInput(item.Input),
				})
				if todo := todoSnapshot(item, timestamp); todo != nil {
					out = append(out, *todo)
				}
			case "thinking":
				if item.Thinking == "" {
					continue
				}
				out = append(out, ThinkingMessage{
					meta:    newMeta(timestamp),
					Type:    "thinking",
					Content: item.Thinking,
				})
			}
		}
		return out

	case "user":
		var out []Message
		for _, item := range ev.Message.Content {
			if item.Type != "tool_result" {
				continue
			}
			cached, ok := c.ToolInfo(item.ToolUseID)
			toolName := fallbackToolName
			if ok {
				toolName = cached.Name
			}
			text := resultText(item.Content)
			out = append(out, ToolResultMessage{
				meta:     newMeta(timestamp),
				Type:     "tool_result",
				ToolName: toolName,
				Content:  text,
				Summary:  summarize(toolName, text),
				IsError:  item.IsError,
			})
			if item.IsError {
				if req := c.permissionRequest(text, toolName, item.ToolUseID, timestamp); req != nil {
					out = append(out, *req)
				}
			}
		}
		return out

	case "result":
		return []Message{ResultMessage{
			meta:         newMeta(timestamp),
			Type:         "result",
			DurationMS:   ev.DurationMS,
			TotalCostUSD: ev.TotalCostUSD,
			Usage: Usage{
				InputTokens:  ev.Usage.InputTokens,
				OutputTokens: ev.Usage.OutputTokens,
			},
		}}
	}

	return nil
}

func newMeta(timestamp int64) meta {
	return meta{ID: uuid.NewString(), Timestamp: timestamp}
}

func nonNilInput(input map[string]interface{}) map[string]interface{} {
	if input == nil {
		return map[string]interface{}{}
	}
	return input
}

// todoSnapshot lifts a task-list snapshot out of a TodoWrite invocation.
func todoSnapshot(item contentItem, timestamp int64) *TodoMessage {
	if item.Name != "TodoWrite" {
		return nil
	}
	rawTodos, ok := item.Input["todos"].([]interface{})
	if !ok {
		return nil
	}
	msg := TodoMessage{meta: newMeta(timestamp), Type: "todo"}
	for _, rawTodo := range rawTodos {
		fields, ok := rawTodo.(map[string]interface{})
		if !ok {
			continue
		}
		todo := TodoItem{}
		todo.Content, _ = fields["content"].(string)
		todo.Status, _ = fields["status"].(string)
		todo.ActiveForm, _ = fields["activeForm"].(string)
		msg.Todos = append(msg.Todos, todo)
	}
	if len(msg.Todos) == 0 {
		return nil
	}
	return &msg
}

func resultText(content interface{}) string {
	switch v := content.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		raw, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}

// summarize produces a short human summary for a tool result.
func summarize(toolName, content string) string {
	if content == "" {
		return "Completed"
	}
	lines := strings.Count(content, "\n") + 1
	chars := len(content)

	switch toolName {
	case "Read":
		return fmt.Sprintf("%d lines", lines)
	case "Write":
		return fmt.Sprintf("%d chars written", chars)
	case "Edit":
		return "File edited"
	case "Bash":
		trimmed := strings.TrimSpace(content)
		if chars < 50 {
			return trimmed
		}
		return strings.TrimSpace(content[:47]) + "..."
	case "Glob":
		return fmt.Sprintf("%d files", lines)
	case "Grep":
		return fmt.Sprintf("%d matches", lines)
	default:
		return "Completed"
	}
}

// The runtime reports denied permissions only as prose inside tool-result
// errors; there is no structured signal. These patterns track that prose
// and live behind permissionRequest so a structured protocol can replace
// them without touching the rest of the correlator.
var (
	permissionPattern  = regexp.MustCompile(`(?i)requested permissions? to (\w+)(?: to)? ([^,]+), but you haven't granted it yet`)
	bashCommandPattern = regexp.MustCompile(`(?i)command[:\s]+(.+?)(?:\n|$)`)
)

func (c *Correlator) permissionRequest(text, toolName, toolID string, timestamp int64) *PermissionRequest {
	if m := permissionPattern.FindStringSubmatch(text); m != nil {
		action := m[1]
		target := strings.TrimSpace(m[2])
		req := PermissionRequest{
			meta:        newMeta(timestamp),
			Type:        "permission_request",
			ToolName:    toolName,
			ToolID:      toolID,
			Description: fmt.Sprintf("The agent wants to %s %s", action, target),
		}
		if toolName == "Bash" {
			req.Command = c.cachedInput(toolID, "command", target)
		} else {
			req.FilePath = c.cachedInput(toolID, "file_path", target)
		}
		return &req
	}

	if toolName == "Bash" && strings.Contains(text, "hasn't been granted") {
		command := c.cachedInput(toolID, "command", "")
		if command == "" {
			if m := bashCommandPattern.FindStringSubmatch(text); m != nil {
				command = strings.TrimSpace(m[1])
			} else {
				command = "Unknown command"
			}
		}
		return &PermissionRequest{
			meta:        newMeta(timestamp),
			Type:        "permission_request",
			ToolName:    "Bash",
			ToolID:      toolID,
			Description: "The agent wants to run a command",
			Command:     command,
		}
	}

	return nil
}

// cachedInput prefers the originating invocation's recorded input over the
// target scraped from the error prose.
func (c *Correlator) cachedInput(toolID, key, fallback string) string {
	if cached, ok := c.ToolInfo(toolID); ok {
		if v, ok := cached.Input[key].(string); ok && v != "" {
			return v
		}
	}
	return fallback
}
