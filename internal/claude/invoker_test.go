package claude

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name          string
		rawOutput     []byte
		wantContent   string
		wantSessionID string
		wantErr       bool
	}{
		{
			name:          "valid JSON with content field",
			rawOutput:     []byte(`{"content":"Hello World","error":"","session_id":"abc-123"}`),
			wantContent:   "Hello World",
			wantSessionID: "abc-123",
			wantErr:       false,
		},
		{
			name:          "valid JSON without session_id",
			rawOutput:     []byte(`{"content":"Task completed","error":""}`),
			wantContent:   "Task completed",
			wantSessionID: "",
			wantErr:       false,
		},
		{
			name:          "structured_output from --json-schema",
			rawOutput:     []byte(`{"type":"result","session_id":"test-123","structured_output":{"status":"success","summary":"Done"}}`),
			wantContent:   `{"status":"success","summary":"Done"}`,
			wantSessionID: "test-123",
			wantErr:       false,
		},
		{
			name:          "code-fenced JSON output - fallback extraction",
			rawOutput:     []byte("Here is the result:\n```json\n{\"status\":\"success\"}\n```\n"),
			wantContent:   `{"status":"success"}`,
			wantSessionID: "",
			wantErr:       false,
		},
		{
			name:          "mixed output with error prefix before JSON",
			rawOutput:     []byte("Error: some warning\n" + `{"content":"Result","session_id":"mixed-456"}`),
			wantContent:   "Result",
			wantSessionID: "mixed-456",
			wantErr:       false,
		},
		{
			name:          "plain text output without JSON",
			rawOutput:     []byte("Plain text output without JSON"),
			wantContent:   "", // No JSON braces found
			wantSessionID: "",
			wantErr:       false,
		},
		{
			name:          "empty output",
			rawOutput:     []byte(""),
			wantContent:   "",
			wantSessionID: "",
			wantErr:       false,
		},
		{
			name:          "raw JSON without wrapper - fallback extraction",
			rawOutput:     []byte(`{"status":"success","summary":"Task done","output":"Created file"}`),
			wantContent:   `{"status":"success","summary":"Task done","output":"Created file"}`,
			wantSessionID: "",
			wantErr:       false,
		},
		{
			name:          "JSON with prose before - fallback extraction",
			rawOutput:     []byte("Some prose before the JSON response\n{\"status\":\"success\"}"),
			wantContent:   `{"status":"success"}`,
			wantSessionID: "",
			wantErr:       false,
		},
		{
			name:          "structured_output null - falls through to content",
			rawOutput:     []byte(`{"type":"result","content":"Via content field","session_id":"test-789","structured_output":null}`),
			wantContent:   "Via content field",
			wantSessionID: "test-789",
			wantErr:       false,
		},
		{
			name:          "structured_output empty object - falls through to content",
			rawOutput:     []byte(`{"type":"result","content":"Via content field","session_id":"test-abc","structured_output":{}}`),
			wantContent:   "Via content field",
			wantSessionID: "test-abc",
			wantErr:       false,
		},
		{
			name:          "result field used by some agents",
			rawOutput:     []byte(`{"type":"result","result":"Agent response text","session_id":"result-123"}`),
			wantContent:   "Agent response text",
			wantSessionID: "result-123",
			wantErr:       false,
		},
		{
			name:          "malformed JSON without closing brace - returns empty",
			rawOutput:     []byte(`{"status":"success`),
			wantContent:   "", // No closing brace
			wantSessionID: "",
			wantErr:       false,
		},
		{
			name:          "only opening brace - no valid JSON",
			rawOutput:     []byte(`{`),
			wantContent:   "",
			wantSessionID: "",
			wantErr:       false,
		},
		{
			name:          "only closing brace - no valid JSON",
			rawOutput:     []byte(`}`),
			wantContent:   "",
			wantSessionID: "",
			wantErr:       false,
		},
		{
			name:          "nested JSON in content",
			rawOutput:     []byte(`{"content":"{\"nested\":\"value\"}","session_id":"nested-123"}`),
			wantContent:   `{"nested":"value"}`,
			wantSessionID: "nested-123",
			wantErr:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content, sessionID, err := ParseResponse(tt.rawOutput)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseResponse() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if content != tt.wantContent {
				t.Errorf("ParseResponse() content = %q, want %q", content, tt.wantContent)
			}
			if sessionID != tt.wantSessionID {
				t.Errorf("ParseResponse() sessionID = %q, want %q", sessionID, tt.wantSessionID)
			}
		})
	}
}

func TestNewInvoker(t *testing.T) {
	inv := NewInvoker()
	if inv == nil {
		t.Fatal("NewInvoker() returned nil")
	}
	if inv.ClaudePath != "claude" {
		t.Errorf("ClaudePath = %s, want 'claude'", inv.ClaudePath)
	}
	if inv.SystemPrompt != DefaultSystemPrompt {
		t.Errorf("SystemPrompt not set to DefaultSystemPrompt")
	}
	if inv.MaxRateLimitWait != DefaultMaxRateLimitWait {
		t.Errorf("MaxRateLimitWait = %v, want %v", inv.MaxRateLimitWait, DefaultMaxRateLimitWait)
	}
}

func TestDefaultSystemPrompt(t *testing.T) {
	if !strings.Contains(DefaultSystemPrompt, "JSON") {
		t.Error("DefaultSystemPrompt should mention JSON")
	}
	if !strings.Contains(DefaultSystemPrompt, "No markdown") {
		t.Error("DefaultSystemPrompt should prohibit markdown")
	}
}

func TestArgs(t *testing.T) {
	inv := &Invoker{}

	if _, err := inv.Args(Request{}); err == nil {
		t.Fatal("expected error for empty prompt")
	}

	args, err := inv.Args(Request{
		Prompt:      "do it",
		Schema:      `{"type":"object"}`,
		AgentJSON:   `{"analyst":{}}`,
		BypassPerms: true,
	})
	if err != nil {
		t.Fatalf("Args() error = %v", err)
	}

	joined := strings.Join(args, " ")
	for _, want := range []string{
		"--agents {\"analyst\":{}}",
		"--system-prompt " + DefaultSystemPrompt,
		"-p do it",
		"--json-schema {\"type\":\"object\"}",
		"--output-format json",
		"--permission-mode bypassPermissions",
		`--settings {"disableAllHooks": true}`,
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %v", want, args)
		}
	}
}

func TestInvokeUsesRunner(t *testing.T) {
	var gotPath string
	inv := &Invoker{
		ClaudePath: "/opt/claude",
		run: func(ctx context.Context, path string, args []string) ([]byte, error) {
			gotPath = path
			return []byte(`{"content":"ok"}`), nil
		},
	}

	resp, err := inv.Invoke(context.Background(), Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if gotPath != "/opt/claude" {
		t.Errorf("path = %q, want /opt/claude", gotPath)
	}
	if string(resp.RawOutput) != `{"content":"ok"}` {
		t.Errorf("RawOutput = %s", resp.RawOutput)
	}
}

type recordingWaitLogger struct {
	waits []time.Duration
}

func (r *recordingWaitLogger) LogRateLimitWait(remaining time.Duration) {
	r.waits = append(r.waits, remaining)
}

func TestInvokeRetriesOnceAfterRateLimit(t *testing.T) {
	defer func(orig time.Duration) { rateLimitSafetyBuffer = orig }(rateLimitSafetyBuffer)
	rateLimitSafetyBuffer = 10 * time.Millisecond

	calls := 0
	logger := &recordingWaitLogger{}
	inv := &Invoker{
		MaxRateLimitWait: time.Minute,
		Logger:           logger,
		run: func(ctx context.Context, path string, args []string) ([]byte, error) {
			calls++
			if calls == 1 {
				// Already-reset timestamp: only the safety buffer applies
				return []byte("Claude AI usage limit reached|1"), errors.New("exit status 1")
			}
			return []byte(`{"content":"after retry"}`), nil
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := inv.Invoke(ctx, Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if len(logger.waits) != 1 {
		t.Errorf("wait notifications = %d, want 1", len(logger.waits))
	}
	content, _, _ := ParseResponse(resp.RawOutput)
	if content != "after retry" {
		t.Errorf("content = %q", content)
	}
}

func TestInvokeDoesNotRetryPlainFailure(t *testing.T) {
	calls := 0
	inv := &Invoker{
		MaxRateLimitWait: time.Minute,
		run: func(ctx context.Context, path string, args []string) ([]byte, error) {
			calls++
			return []byte("segmentation fault"), errors.New("exit status 139")
		},
	}

	_, err := inv.Invoke(context.Background(), Request{Prompt: "p"})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !strings.Contains(err.Error(), "segmentation fault") {
		t.Errorf("error should carry CLI output: %v", err)
	}
}

func TestInvokeRateLimitBeyondMaxWait(t *testing.T) {
	calls := 0
	inv := &Invoker{
		MaxRateLimitWait: time.Second,
		run: func(ctx context.Context, path string, args []string) ([]byte, error) {
			calls++
			return []byte("rate limit: retry in 3600 seconds"), errors.New("exit status 1")
		},
	}

	if _, err := inv.Invoke(context.Background(), Request{Prompt: "p"}); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestInvokeRateLimitWaitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	inv := &Invoker{
		MaxRateLimitWait: time.Hour,
		run: func(ctx context.Context, path string, args []string) ([]byte, error) {
			cancel()
			return []byte("429 Too Many Requests, retry after 600s"), errors.New("exit status 1")
		},
	}

	_, err := inv.Invoke(ctx, Request{Prompt: "p"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestParseRateLimit(t *testing.T) {
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		output    string
		wantNil   bool
		wantReset time.Time
	}{
		{name: "empty", output: "", wantNil: true},
		{name: "unrelated error", output: "permission denied", wantNil: true},
		{name: "unix timestamp", output: "Claude AI usage limit reached|1767348000", wantReset: time.Unix(1767348000, 0)},
		{name: "retry seconds", output: "rate limited, retry in 120 seconds", wantReset: now.Add(120 * time.Second)},
		{name: "indicator only", output: "HTTP 429", wantReset: now.Add(DefaultRateLimitBackoff)},
		{name: "log prefix is not a limit", output: "[RATE LIMIT] waiting", wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := ParseRateLimit(tt.output, now)
			if tt.wantNil {
				if info != nil {
					t.Errorf("ParseRateLimit() = %+v, want nil", info)
				}
				return
			}
			if info == nil {
				t.Fatal("ParseRateLimit() = nil")
			}
			if !info.ResetAt.Equal(tt.wantReset) {
				t.Errorf("ResetAt = %v, want %v", info.ResetAt, tt.wantReset)
			}
		})
	}
}

func TestCleanEnv(t *testing.T) {
	if CleanTmpDir() == "" {
		t.Fatal("CleanTmpDir() is empty")
	}
}
