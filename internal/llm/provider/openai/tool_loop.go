package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/canaryops/rollout-agent/internal/llm/types"
)

// RunToolLoop drives the multi-turn conversation: send the transcript,
// execute any requested tools, append their results, repeat until the
// model answers in plain text or the turn cap fires. At the cap the loop
// does not abort; it asks the model once more for a final answer using
// whatever context it has gathered.
func (c *Client) RunToolLoop(ctx context.Context, messages []types.Message, tools []types.Tool, executor types.ToolExecutor, cfg types.LoopConfig) (string, types.LoopStats, error) {
	if cfg.MaxTurns <= 0 {
		cfg = types.DefaultLoopConfig()
	}

	conv := make([]chatMessage, 0, len(messages)+cfg.MaxTurns*2)
	for _, m := range messages {
		conv = append(conv, chatMessage{Role: m.Role, Content: m.Content})
	}

	var stats types.LoopStats

	for turn := 0; turn < cfg.MaxTurns; turn++ {
		resp, err := c.timedComplete(ctx, conv, tools, &stats)
		if err != nil {
			return "", stats, err
		}

		if len(resp.ToolCalls) == 0 {
			return resp.Content, stats, nil
		}

		// Echo the assistant turn, tool calls included, then answer each call.
		assistant := chatMessage{Role: "assistant", Content: resp.Content}
		for _, tc := range resp.ToolCalls {
			wtc := wireToolCall{ID: tc.ID, Type: "function"}
			wtc.Function.Name = tc.Name
			wtc.Function.Arguments = tc.Arguments
			assistant.ToolCalls = append(assistant.ToolCalls, wtc)
		}
		conv = append(conv, assistant)

		for _, tc := range resp.ToolCalls {
			result := c.executeTool(ctx, executor, tc, &stats)
			conv = append(conv, chatMessage{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.ID,
				Name:       tc.Name,
			})
		}
	}

	// Turn cap reached: one final completion without tools on offer.
	conv = append(conv, chatMessage{
		Role:    "user",
		Content: "You have reached the tool call limit. Provide your final answer now based on the information gathered so far.",
	})
	resp, err := c.timedComplete(ctx, conv, nil, &stats)
	if err != nil {
		return "", stats, fmt.Errorf("final answer after turn limit: %w", err)
	}
	return resp.Content, stats, nil
}

func (c *Client) timedComplete(ctx context.Context, conv []chatMessage, tools []types.Tool, stats *types.LoopStats) (*types.ChatResponse, error) {
	start := time.Now()
	resp, err := c.complete(ctx, conv, tools)
	stats.ModelCalls++
	stats.ModelTime += time.Since(start)
	if err != nil {
		return nil, err
	}
	stats.AddUsage(resp.Usage)
	return resp, nil
}

func (c *Client) executeTool(ctx context.Context, executor types.ToolExecutor, tc types.ToolCall, stats *types.LoopStats) string {
	start := time.Now()
	result, err := executor.Execute(ctx, tc.Name, tc.Arguments)
	stats.ToolCalls++
	stats.ToolTime += time.Since(start)
	if err != nil {
		// Tool failures flow back to the model as content, not as loop errors.
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return result
}
