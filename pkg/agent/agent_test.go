package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestBuildArgs(t *testing.T) {
	r := NewCLIRuntime("claude")
	args := r.buildArgs(Request{
		Prompt:         "write a post",
		Resume:         "sess-1",
		AllowedTools:   []string{"Read", "Write"},
		PermissionMode: "acceptEdits",
	})
	joined := strings.Join(args, " ")
	for _, want := range []string{
		"-p write a post",
		"--output-format stream-json",
		"--resume sess-1",
		"--allowedTools Read,Write",
		"--permission-mode acceptEdits",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args %q missing %q", joined, want)
		}
	}
}

func TestBuildArgsMinimal(t *testing.T) {
	r := NewCLIRuntime("claude")
	joined := strings.Join(r.buildArgs(Request{Prompt: "hi"}), " ")
	for _, unwanted := range []string{"--resume", "--allowedTools", "--permission-mode"} {
		if strings.Contains(joined, unwanted) {
			t.Errorf("args %q carry unset option %q", joined, unwanted)
		}
	}
}

func TestStreamRequiresCommand(t *testing.T) {
	r := &CLIRuntime{}
	if _, err := r.Stream(context.Background(), Request{Prompt: "hi"}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestStreamSendAndClose(t *testing.T) {
	s := NewStream()
	ctx := context.Background()

	if !s.Send(ctx, json.RawMessage(`{"type":"system"}`)) {
		t.Fatal("Send failed with open consumer")
	}
	s.Close(nil)

	ev, ok := <-s.Events()
	if !ok {
		t.Fatal("event missing")
	}
	if string(ev) != `{"type":"system"}` {
		t.Errorf("event = %s", ev)
	}
	if _, ok := <-s.Events(); ok {
		t.Error("stream not closed")
	}
	if s.Err() != nil {
		t.Errorf("err = %v, want nil", s.Err())
	}
}

func TestStreamSendStopsOnCancel(t *testing.T) {
	s := NewStream()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Fill the buffer so Send must block, then observe cancellation.
	for i := 0; i < cap(s.events); i++ {
		s.events <- json.RawMessage(`{}`)
	}
	if s.Send(ctx, json.RawMessage(`{}`)) {
		t.Fatal("Send succeeded past a cancelled context on a full buffer")
	}
}

func TestTailBuffer(t *testing.T) {
	b := &tailBuffer{limit: 8}
	if _, err := b.Write([]byte("0123456789abcdef")); err != nil {
		t.Fatal(err)
	}
	if b.String() != "89abcdef" {
		t.Errorf("tail = %q", b.String())
	}
}
