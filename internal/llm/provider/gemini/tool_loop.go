package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/canaryops/rollout-agent/internal/llm/types"
)

// RunToolLoop drives the multi-turn conversation in Gemini's native
// transcript shape. Function calls from the model are echoed back as
// model-role parts, and tool results are returned as functionResponse
// parts under the user role, which is the pairing Gemini requires.
func (c *Client) RunToolLoop(ctx context.Context, messages []types.Message, tools []types.Tool, executor types.ToolExecutor, cfg types.LoopConfig) (string, types.LoopStats, error) {
	if cfg.MaxTurns <= 0 {
		cfg = types.DefaultLoopConfig()
	}

	contents := toContents(messages)
	var stats types.LoopStats

	for turn := 0; turn < cfg.MaxTurns; turn++ {
		resp, err := c.timedGenerate(ctx, c.buildRequest(contents, tools), &stats)
		if err != nil {
			return "", stats, err
		}

		if len(resp.ToolCalls) == 0 {
			return resp.Content, stats, nil
		}

		modelTurn := content{Role: "model"}
		if resp.Content != "" {
			modelTurn.Parts = append(modelTurn.Parts, part{Text: resp.Content})
		}
		userTurn := content{Role: "user"}

		for _, tc := range resp.ToolCalls {
			var args map[string]interface{}
			if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
				args = map[string]interface{}{}
			}
			modelTurn.Parts = append(modelTurn.Parts, part{
				FunctionCall: &functionCall{Name: tc.Name, Args: args},
			})

			result := c.executeTool(ctx, executor, tc, &stats)
			userTurn.Parts = append(userTurn.Parts, part{
				FunctionResponse: &functionResponse{
					Name:     tc.Name,
					Response: result,
				},
			})
		}

		contents = append(contents, modelTurn, userTurn)
	}

	// Turn cap reached: one final completion without tools on offer.
	contents = append(contents, content{
		Role: "user",
		Parts: []part{{
			Text: "You have reached the tool call limit. Provide your final answer now based on the information gathered so far.",
		}},
	})
	resp, err := c.timedGenerate(ctx, c.buildRequest(contents, nil), &stats)
	if err != nil {
		return "", stats, fmt.Errorf("final answer after turn limit: %w", err)
	}
	return resp.Content, stats, nil
}

func (c *Client) timedGenerate(ctx context.Context, req generateRequest, stats *types.LoopStats) (*types.ChatResponse, error) {
	start := time.Now()
	resp, err := c.generate(ctx, req)
	stats.ModelCalls++
	stats.ModelTime += time.Since(start)
	if err != nil {
		return nil, err
	}
	stats.AddUsage(resp.Usage)
	return resp, nil
}

// executeTool runs one tool call and wraps the result for the
// functionResponse part. Gemini expects a JSON object, so plain string
// results are wrapped under a "result" key.
func (c *Client) executeTool(ctx context.Context, executor types.ToolExecutor, tc types.ToolCall, stats *types.LoopStats) map[string]interface{} {
	start := time.Now()
	result, err := executor.Execute(ctx, tc.Name, tc.Arguments)
	stats.ToolCalls++
	stats.ToolTime += time.Since(start)
	if err != nil {
		return map[string]interface{}{"error": err.Error()}
	}

	var obj map[string]interface{}
	if json.Unmarshal([]byte(result), &obj) == nil && obj != nil {
		return obj
	}
	return map[string]interface{}{"result": result}
}
