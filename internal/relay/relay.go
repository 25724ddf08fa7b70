// Package relay turns a streaming chat model into the line-framed wire
// format the chat client decodes.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/mattjoyce/tradestream/internal/stream"
)

const defaultSystemPrompt = "You are a trading assistant. Answer concisely. " +
	"When the user would benefit from seeing a chart, portfolio, orders or another panel, call show_panel."

// Options tunes a single relayed turn.
type Options struct {
	// Thinking forwards the model's reasoning trace as thinking frames.
	Thinking bool
	// ViewContext describes what the client is showing; it is appended to the
	// system prompt.
	ViewContext map[string]any
}

// Relay streams a chat model and writes its output as frames. It runs only
// client-side tools (show_panel); other tool calls are forwarded as calls
// and left without a result.
type Relay struct {
	model        model.BaseChatModel
	tools        map[string]tool.InvokableTool
	systemPrompt string
	logger       *slog.Logger
}

// New binds the client tool catalog to chatModel.
func New(ctx context.Context, chatModel model.ToolCallingChatModel, logger *slog.Logger) (*Relay, error) {
	catalog := []tool.InvokableTool{&ShowPanelTool{}}

	infos := make([]*schema.ToolInfo, 0, len(catalog))
	byName := make(map[string]tool.InvokableTool, len(catalog))
	for _, t := range catalog {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool info: %w", err)
		}
		infos = append(infos, info)
		byName[info.Name] = t
	}

	bound, err := chatModel.WithTools(infos)
	if err != nil {
		return nil, fmt.Errorf("bind tools: %w", err)
	}
	return &Relay{
		model:        bound,
		tools:        byName,
		systemPrompt: defaultSystemPrompt,
		logger:       logger,
	}, nil
}

// Serve streams one turn into enc. A model failure is reported as an error
// frame and returned; the done frame is written only after a clean finish.
func (r *Relay) Serve(ctx context.Context, enc *stream.Encoder, history []*schema.Message, opts Options) error {
	input := make([]*schema.Message, 0, len(history)+1)
	input = append(input, schema.SystemMessage(r.prompt(opts.ViewContext)))
	input = append(input, history...)

	sr, err := r.model.Stream(ctx, input)
	if err != nil {
		_ = enc.Error(err.Error())
		return fmt.Errorf("start model stream: %w", err)
	}
	defer sr.Close()

	calls := &callBuffer{byKey: map[string]*pendingCall{}}
	finishReason := "stop"
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			_ = enc.Error(err.Error())
			return fmt.Errorf("receive model stream: %w", err)
		}

		if opts.Thinking && msg.ReasoningContent != "" {
			if err := enc.Thinking(msg.ReasoningContent); err != nil {
				return err
			}
		}
		if msg.Content != "" {
			if err := enc.Text(msg.Content); err != nil {
				return err
			}
		}
		for _, tc := range msg.ToolCalls {
			call := calls.add(tc)
			if call.name == "" {
				continue
			}
			if err := enc.ToolCall(call.frame(stream.WireStatePartialCall)); err != nil {
				return err
			}
		}
		if msg.ResponseMeta != nil && msg.ResponseMeta.FinishReason != "" {
			finishReason = msg.ResponseMeta.FinishReason
		}
	}

	for _, call := range calls.ordered() {
		if call.name == "" {
			r.logger.Warn("dropping tool call without a name", "tool_call_id", call.id)
			continue
		}
		if err := enc.ToolCall(call.frame(stream.WireStateCall)); err != nil {
			return err
		}
		if err := r.answer(ctx, enc, call); err != nil {
			return err
		}
	}

	return enc.Done(finishReason)
}

// answer writes the result of a client-side tool call, if the relay knows it.
func (r *Relay) answer(ctx context.Context, enc *stream.Encoder, call *pendingCall) error {
	t, ok := r.tools[call.name]
	if !ok {
		r.logger.Debug("forwarding tool call without result", "tool", call.name)
		return nil
	}
	out, err := t.InvokableRun(ctx, call.arguments())
	if err != nil {
		r.logger.Warn("client tool rejected arguments", "tool", call.name, "error", err)
		return enc.Error(err.Error())
	}
	return enc.ToolResult(stream.ToolResult{
		ToolCallID: call.id,
		ToolName:   call.name,
		Result:     json.RawMessage(out),
	})
}

func (r *Relay) prompt(viewContext map[string]any) string {
	if len(viewContext) == 0 {
		return r.systemPrompt
	}
	keys := make([]string, 0, len(viewContext))
	for k := range viewContext {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(r.systemPrompt)
	b.WriteString("\n\nThe user is currently looking at:")
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s: %v", k, viewContext[k])
	}
	return b.String()
}

// pendingCall accumulates the streamed deltas of one tool call.
type pendingCall struct {
	id   string
	name string
	args strings.Builder
	seq  int
}

func (c *pendingCall) arguments() string {
	if c.args.Len() == 0 {
		return "{}"
	}
	return c.args.String()
}

// frame renders the call. Arguments are only attached once they parse, which
// for a partial call usually means not at all.
func (c *pendingCall) frame(state string) stream.ToolCall {
	call := stream.ToolCall{ToolCallID: c.id, ToolName: c.name, State: state}
	if args := c.arguments(); json.Valid([]byte(args)) {
		call.Args = json.RawMessage(args)
	}
	return call
}

// callBuffer groups tool-call deltas by stream index, falling back to ID.
type callBuffer struct {
	byKey map[string]*pendingCall
	next  int
}

func (b *callBuffer) add(tc schema.ToolCall) *pendingCall {
	key := tc.ID
	if tc.Index != nil {
		key = fmt.Sprintf("#%d", *tc.Index)
	}
	if key == "" {
		key = fmt.Sprintf("seq%d", b.next)
	}

	call, ok := b.byKey[key]
	if !ok {
		call = &pendingCall{id: tc.ID, seq: b.next}
		if call.id == "" {
			call.id = "call_" + uuid.NewString()
		}
		b.next++
		b.byKey[key] = call
	}
	if tc.Function.Name != "" {
		call.name = tc.Function.Name
	}
	call.args.WriteString(tc.Function.Arguments)
	return call
}

func (b *callBuffer) ordered() []*pendingCall {
	out := make([]*pendingCall, 0, len(b.byKey))
	for _, c := range b.byKey {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
