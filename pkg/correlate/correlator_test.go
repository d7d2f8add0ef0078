package correlate

import (
	"encoding/json"
	"testing"
)

const ts = int64(1700000000000)

func process(t *testing.T, c *Correlator, raw string) []Message {
	t.Helper()
	return c.Process(json.RawMessage(raw), ts)
}

func TestSystemInit(t *testing.T) {
	c := New()
	msgs := process(t, c, `{"type":"system","subtype":"init","model":"opus","session_id":"s-1","tools":["Read","Bash"],"cwd":"/work"}`)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	init, ok := msgs[0].(SystemInitMessage)
	if !ok {
		t.Fatalf("got %T", msgs[0])
	}
	if init.Model != "opus" || init.SessionID != "s-1" || len(init.Tools) != 2 {
		t.Errorf("unexpected init: %+v", init)
	}
	if c.SessionID() != "s-1" {
		t.Errorf("session id = %q", c.SessionID())
	}
}

func TestAssistantTextToolAndThinking(t *testing.T) {
	c := New()
	msgs := process(t, c, `{"type":"assistant","message":{"content":[
		{"type":"text","text":"On it."},
		{"type":"thinking","thinking":"planning"},
		{"type":"tool_use","id":"tu-1","name":"Read","input":{"file_path":"/work/post.md"}}
	]}}`)
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if chat, ok := msgs[0].(ChatMessage); !ok || chat.Role != "assistant" || chat.Content != "On it." {
		t.Errorf("chat = %+v", msgs[0])
	}
	if think, ok := msgs[1].(ThinkingMessage); !ok || think.Content != "planning" {
		t.Errorf("thinking = %+v", msgs[1])
	}
	if tool, ok := msgs[2].(ToolMessage); !ok || tool.Name != "Read" {
		t.Errorf("tool = %+v", msgs[2])
	}
	if use, ok := c.ToolInfo("tu-1"); !ok || use.Name != "Read" {
		t.Errorf("cache miss for tu-1: %+v ok=%v", use, ok)
	}
}

func TestToolResultCorrelation(t *testing.T) {
	c := New()
	process(t, c, `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"tu-1","name":"Read","input":{}}]}}`)

	msgs := process(t, c, `{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"tu-1","content":"line one\nline two\nline three"}]}}`)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	result := msgs[0].(ToolResultMessage)
	if result.ToolName != "Read" {
		t.Errorf("toolName = %q", result.ToolName)
	}
	if result.Summary != "3 lines" {
		t.Errorf("summary = %q", result.Summary)
	}
}

func TestToolResultFallbackLabel(t *testing.T) {
	c := New()
	msgs := process(t, c, `{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"unknown","content":"ok"}]}}`)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if result := msgs[0].(ToolResultMessage); result.ToolName != "Tool" {
		t.Errorf("toolName = %q, want generic fallback", result.ToolName)
	}
}

func TestResetClearsCache(t *testing.T) {
	c := New()
	process(t, c, `{"type":"assistant","session_id":"s-1","message":{"content":[{"type":"tool_use","id":"tu-1","name":"Write","input":{}}]}}`)
	c.Reset()
	if _, ok := c.ToolInfo("tu-1"); ok {
		t.Error("cache survived Reset")
	}
	if c.SessionID() != "" {
		t.Error("session id survived Reset")
	}
}

func TestResultSummary(t *testing.T) {
	c := New()
	msgs := process(t, c, `{"type":"result","duration_ms":1200,"total_cost_usd":0.05,"usage":{"input_tokens":100,"output_tokens":40}}`)
	result := msgs[0].(ResultMessage)
	if result.DurationMS != 1200 || result.Usage.OutputTokens != 40 {
		t.Errorf("result = %+v", result)
	}
}

func TestTodoSnapshot(t *testing.T) {
	c := New()
	msgs := process(t, c, `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"tu-9","name":"TodoWrite","input":{"todos":[{"content":"draft post","status":"pending"},{"content":"review","status":"in_progress","activeForm":"reviewing"}]}}]}}`)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want tool + todo", len(msgs))
	}
	todo, ok := msgs[1].(TodoMessage)
	if !ok {
		t.Fatalf("got %T, want TodoMessage", msgs[1])
	}
	if len(todo.Todos) != 2 || todo.Todos[1].ActiveForm != "reviewing" {
		t.Errorf("todos = %+v", todo.Todos)
	}
}

func TestPermissionRequestFilePath(t *testing.T) {
	c := New()
	process(t, c, `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"tu-1","name":"Write","input":{"file_path":"/work/post.md"}}]}}`)

	msgs := process(t, c, `{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"tu-1","is_error":true,"content":"The agent requested permissions to write to /work/post.md, but you haven't granted it yet."}]}}`)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want tool_result + permission_request", len(msgs))
	}
	req, ok := msgs[1].(PermissionRequest)
	if !ok {
		t.Fatalf("got %T", msgs[1])
	}
	if req.ToolName != "Write" || req.FilePath != "/work/post.md" || req.Command != "" {
		t.Errorf("request = %+v", req)
	}
}

func TestPermissionRequestBashCommand(t *testing.T) {
	c := New()
	process(t, c, `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"tu-2","name":"Bash","input":{"command":"rm -rf build"}}]}}`)

	msgs := process(t, c, `{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"tu-2","is_error":true,"content":"This command hasn't been granted.\ncommand: rm -rf build"}]}}`)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	req := msgs[1].(PermissionRequest)
	if req.Command != "rm -rf build" || req.FilePath != "" {
		t.Errorf("request = %+v", req)
	}
}

func TestSummaries(t *testing.T) {
	tests := []struct {
		tool, content, want string
	}{
		{"Read", "a\nb", "2 lines"},
		{"Write", "abcd", "4 chars written"},
		{"Edit", "anything", "File edited"},
		{"Bash", "ok", "ok"},
		{"Glob", "a.go\nb.go\nc.go", "3 files"},
		{"Grep", "m1\nm2", "2 matches"},
		{"Mystery", "whatever", "Completed"},
		{"Read", "", "Completed"},
	}
	for _, tt := range tests {
		if got := summarize(tt.tool, tt.content); got != tt.want {
			t.Errorf("summarize(%q, %q) = %q, want %q", tt.tool, tt.content, got, tt.want)
		}
	}
}

func TestHistory(t *testing.T) {
	h := NewHistory()
	h.Append("s-1", ChatMessage{Type: "chat", Role: "user", Content: "hi"})
	h.Append("s-1", ChatMessage{Type: "chat", Role: "assistant", Content: "hello"})
	h.Append("", ChatMessage{Type: "chat"})

	if got := h.Get("s-1"); len(got) != 2 {
		t.Fatalf("transcript has %d messages, want 2", len(got))
	}
	h.Clear("s-1")
	if got := h.Get("s-1"); len(got) != 0 {
		t.Errorf("transcript not cleared: %d messages", len(got))
	}
}

func TestMalformedEventIgnored(t *testing.T) {
	c := New()
	if msgs := c.Process(json.RawMessage(`{nope`), ts); msgs != nil {
		t.Errorf("malformed event produced %+v", msgs)
	}
}
