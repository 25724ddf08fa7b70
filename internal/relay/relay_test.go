package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/mattjoyce/tradestream/internal/chat"
	"github.com/mattjoyce/tradestream/internal/stream"
	"github.com/mattjoyce/tradestream/internal/view"
)

// scriptedStreamModel streams a fixed list of chunks, optionally ending in an
// error, and keeps the last input it saw.
type scriptedStreamModel struct {
	chunks []*schema.Message
	err    error
	tools  []*schema.ToolInfo
	input  []*schema.Message
}

func (m *scriptedStreamModel) Generate(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	return nil, errors.New("generate not implemented in scripted model")
}

func (m *scriptedStreamModel) Stream(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.input = input
	if m.err == nil {
		return schema.StreamReaderFromArray(m.chunks), nil
	}
	sr, sw := schema.Pipe[*schema.Message](len(m.chunks) + 1)
	go func() {
		defer sw.Close()
		for _, c := range m.chunks {
			sw.Send(c, nil)
		}
		sw.Send(nil, m.err)
	}()
	return sr, nil
}

func (m *scriptedStreamModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	m.tools = tools
	return m, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func intPtr(i int) *int { return &i }

// decodeAll feeds the relayed bytes back through the client read loop.
func decodeAll(t *testing.T, body string) (stream.Message, view.State) {
	t.Helper()
	store := view.NewStore()
	session := chat.NewSession(chat.NewSliceSource([]string{body}), view.NewDispatcher(store, testLogger()), testLogger())
	msg, err := session.Run(context.Background(), func(chat.Event) {})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return msg, store.Snapshot()
}

func TestRelayBindsShowPanel(t *testing.T) {
	m := &scriptedStreamModel{}
	if _, err := New(context.Background(), m, testLogger()); err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if len(m.tools) != 1 || m.tools[0].Name != "show_panel" {
		t.Fatalf("bound tools = %+v", m.tools)
	}
}

func TestRelayServeTextAndThinking(t *testing.T) {
	m := &scriptedStreamModel{chunks: []*schema.Message{
		{Role: schema.Assistant, ReasoningContent: "User wants a quote."},
		{Role: schema.Assistant, Content: "AAPL is "},
		{Role: schema.Assistant, Content: "at 150.", ResponseMeta: &schema.ResponseMeta{FinishReason: "end_turn"}},
	}}
	r, err := New(context.Background(), m, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var buf bytes.Buffer
	err = r.Serve(context.Background(), stream.NewEncoder(&buf), []*schema.Message{schema.UserMessage("quote aapl")}, Options{
		Thinking:    true,
		ViewContext: map[string]any{"activeSymbol": "AAPL"},
	})
	if err != nil {
		t.Fatalf("Serve() error = %v", err)
	}

	if !strings.HasSuffix(buf.String(), "d:{\"finishReason\":\"end_turn\"}\n") {
		t.Fatalf("body does not end with done frame: %q", buf.String())
	}
	msg, _ := decodeAll(t, buf.String())
	if msg.Content != "AAPL is at 150." {
		t.Fatalf("content = %q", msg.Content)
	}
	if msg.Thinking != "User wants a quote." {
		t.Fatalf("thinking = %q", msg.Thinking)
	}

	if len(m.input) != 2 || m.input[0].Role != schema.System {
		t.Fatalf("model input = %+v", m.input)
	}
	if !strings.Contains(m.input[0].Content, "activeSymbol: AAPL") {
		t.Fatalf("system prompt = %q", m.input[0].Content)
	}
}

func TestRelayServeOmitsThinkingWhenDisabled(t *testing.T) {
	m := &scriptedStreamModel{chunks: []*schema.Message{
		{Role: schema.Assistant, ReasoningContent: "hidden"},
		{Role: schema.Assistant, Content: "visible"},
	}}
	r, err := New(context.Background(), m, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	var buf bytes.Buffer
	if err := r.Serve(context.Background(), stream.NewEncoder(&buf), nil, Options{}); err != nil {
		t.Fatalf("Serve() error = %v", err)
	}
	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("thinking leaked into body: %q", buf.String())
	}
}

func TestRelayServeStreamedToolCall(t *testing.T) {
	m := &scriptedStreamModel{chunks: []*schema.Message{
		{Role: schema.Assistant, Content: "Opening your chart."},
		{Role: schema.Assistant, ToolCalls: []schema.ToolCall{{
			Index:    intPtr(0),
			ID:       "toolu_1",
			Function: schema.FunctionCall{Name: "show_panel", Arguments: `{"panel":"ch`},
		}}},
		{Role: schema.Assistant, ToolCalls: []schema.ToolCall{{
			Index:    intPtr(0),
			Function: schema.FunctionCall{Arguments: `art","symbol":"nvda"}`},
		}}},
		{Role: schema.Assistant, ToolCalls: []schema.ToolCall{{
			Index:    intPtr(1),
			ID:       "toolu_2",
			Function: schema.FunctionCall{Name: "get_quote", Arguments: `{"symbol":"NVDA"}`},
		}}},
	}}
	r, err := New(context.Background(), m, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var buf bytes.Buffer
	if err := r.Serve(context.Background(), stream.NewEncoder(&buf), nil, Options{}); err != nil {
		t.Fatalf("Serve() error = %v", err)
	}
	if !strings.Contains(buf.String(), `"state":"partial-call"`) {
		t.Fatalf("expected partial-call frames: %q", buf.String())
	}

	msg, st := decodeAll(t, buf.String())
	if len(msg.ToolInvocations) != 2 {
		t.Fatalf("invocations = %+v, want 2", msg.ToolInvocations)
	}
	panel := msg.ToolInvocations[0]
	if panel.ToolName != "show_panel" || panel.State != stream.ToolStateResulted {
		t.Fatalf("show_panel invocation = %+v", panel)
	}
	quote := msg.ToolInvocations[1]
	if quote.ToolName != "get_quote" || quote.State != stream.ToolStateCalled {
		t.Fatalf("get_quote invocation = %+v", quote)
	}
	want := view.State{ActivePanel: view.PanelChart, ActiveSymbol: "NVDA"}
	if st != want {
		t.Fatalf("view = %+v, want %+v", st, want)
	}
}

func TestRelayServeModelError(t *testing.T) {
	m := &scriptedStreamModel{
		chunks: []*schema.Message{{Role: schema.Assistant, Content: "Let me"}},
		err:    errors.New("overloaded_error"),
	}
	r, err := New(context.Background(), m, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var buf bytes.Buffer
	if err := r.Serve(context.Background(), stream.NewEncoder(&buf), nil, Options{}); err == nil {
		t.Fatal("Serve() error = nil, want model error")
	}
	body := buf.String()
	if !strings.Contains(body, "e:{\"message\":\"overloaded_error\"}\n") {
		t.Fatalf("body = %q, want error frame", body)
	}
	if strings.Contains(body, "d:") {
		t.Fatalf("body = %q, done frame written after failure", body)
	}
}

func TestShowPanelToolRequiresPanel(t *testing.T) {
	if _, err := (&ShowPanelTool{}).InvokableRun(context.Background(), `{"symbol":"AAPL"}`); err == nil {
		t.Fatal("expected error for missing panel")
	}
	out, err := (&ShowPanelTool{}).InvokableRun(context.Background(), `{"panel":"orders"}`)
	if err != nil {
		t.Fatalf("InvokableRun() error = %v", err)
	}
	if out != `{"action":"show_panel","panel":"orders"}` {
		t.Fatalf("output = %s", out)
	}
}
