package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/taployalty/tapagent/internal/agent"
	tperrors "github.com/taployalty/tapagent/internal/errors"
	"github.com/taployalty/tapagent/internal/model"
	"github.com/taployalty/tapagent/internal/model/contract"
	"github.com/taployalty/tapagent/internal/upstream"
)

// ToolsLister resolves tool mentions against the tools listing endpoint.
type ToolsLister interface {
	List(ctx context.Context, merchantID, query string) ([]upstream.Tool, error)
}

// Planner turns a merchant's free-text instruction into a structured
// execution plan for a custom agent.
type Planner struct {
	router model.ModelRouter
	tools  ToolsLister
	model  string
}

func New(router model.ModelRouter, tools ToolsLister, modelName string) *Planner {
	return &Planner{router: router, tools: tools, model: modelName}
}

// Plan is the structured result of plan generation.
type Plan struct {
	PromptBody  string          `json:"promptBody"`
	Schedule    *agent.Schedule `json:"schedule,omitempty"`
	Description string          `json:"description,omitempty"`
	Tools       []upstream.Tool `json:"tools,omitempty"`
}

// Idea is one suggested agent a merchant could create.
type Idea struct {
	Title  string `json:"title"`
	Prompt string `json:"prompt"`
}

const planSystemPrompt = `You turn a merchant's instruction into an agent execution plan.
Respond with a single JSON object and nothing else:
{"promptBody": "<rewritten step-by-step instruction>", "schedule": {"frequency": "daily|weekly|monthly", "time": "HH:MM", "days": [], "selectedDay": ""}, "description": "<one sentence summary>"}
Omit "schedule" when the instruction names no cadence.`

const ideasSystemPrompt = `You suggest automation agents for a small merchant.
Respond with a single JSON object and nothing else:
{"ideas": [{"title": "<short name>", "prompt": "<instruction the merchant could use>"}]}
Return at most five ideas.`

// mentionPattern matches @tool references in the instruction body.
var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9][A-Za-z0-9_-]*(?:\s[A-Z][A-Za-z0-9_-]*)*)`)

// GeneratePlan asks the model for a structured plan and resolves any @tool
// mentions in the instruction against the tools listing.
func (p *Planner) GeneratePlan(ctx context.Context, merchantID, prompt string) (*Plan, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, tperrors.Validation("prompt is required")
	}

	resp, err := p.router.Route(ctx, p.model, contract.CompletionRequest{
		Model: p.model,
		Messages: []contract.Message{
			{Role: "system", Content: planSystemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return nil, tperrors.WrapWithCategory(err, "plan generation failed", tperrors.ErrUpstreamFunction)
	}

	var plan Plan
	if err := json.Unmarshal(extractJSON(resp.Content), &plan); err != nil {
		return nil, tperrors.UpstreamFunction(fmt.Sprintf("plan response is not valid JSON: %v", err))
	}
	if plan.PromptBody == "" {
		plan.PromptBody = prompt
	}

	plan.Tools = p.resolveMentions(ctx, merchantID, prompt)
	return &plan, nil
}

// GenerateIdeas asks the model for agent suggestions.
func (p *Planner) GenerateIdeas(ctx context.Context, merchantID string) ([]Idea, error) {
	resp, err := p.router.Route(ctx, p.model, contract.CompletionRequest{
		Model: p.model,
		Messages: []contract.Message{
			{Role: "system", Content: ideasSystemPrompt},
			{Role: "user", Content: "Suggest agents for my store."},
		},
	})
	if err != nil {
		return nil, tperrors.WrapWithCategory(err, "idea generation failed", tperrors.ErrUpstreamFunction)
	}

	var payload struct {
		Ideas []Idea `json:"ideas"`
	}
	if err := json.Unmarshal(extractJSON(resp.Content), &payload); err != nil {
		return nil, tperrors.UpstreamFunction(fmt.Sprintf("ideas response is not valid JSON: %v", err))
	}
	return payload.Ideas, nil
}

// ExtractMentions returns the @tool references found in an instruction.
func ExtractMentions(prompt string) []string {
	matches := mentionPattern.FindAllStringSubmatch(prompt, -1)
	mentions := make([]string, 0, len(matches))
	seen := map[string]struct{}{}
	for _, m := range matches {
		name := strings.TrimSpace(m[1])
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		mentions = append(mentions, name)
	}
	return mentions
}

func (p *Planner) resolveMentions(ctx context.Context, merchantID, prompt string) []upstream.Tool {
	if p.tools == nil {
		return nil
	}

	var resolved []upstream.Tool
	for _, mention := range ExtractMentions(prompt) {
		tools, err := p.tools.List(ctx, merchantID, mention)
		if err != nil {
			slog.Warn("Tool mention lookup failed", "mention", mention, "error", err)
			continue
		}
		if len(tools) == 0 {
			slog.Debug("Tool mention unresolved", "mention", mention)
			continue
		}
		resolved = append(resolved, tools[0])
	}
	return resolved
}

// extractJSON trims markdown fences models sometimes wrap around JSON.
func extractJSON(content string) []byte {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}
	return []byte(trimmed)
}
