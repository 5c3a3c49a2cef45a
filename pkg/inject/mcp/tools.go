package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/skillmesh/skillmesh/pkg/store"
)

var (
	readToolName    = "skill_read"
	readDescription = "Read the full instructions for a learned skill by id or name. Returns the markdown procedure, tool steps, and agent chain."

	searchToolName    = "skill_search"
	searchDescription = "Search learned skills by relevance to a query. Returns compact summaries; call skill_read for full instructions."
)

// ReadInput represents the input arguments for the skill_read tool.
type ReadInput struct {
	Skill     string `json:"skill" jsonschema:"the skill id or name to read"`
	AgentName string `json:"agent_name,omitempty" jsonschema:"the reading agent, used to disambiguate same-named skills"`
}

// ReadOutput wraps the skill read payload.
type ReadOutput struct {
	Skill json.RawMessage `json:"skill"`
}

func (s *Server) handleSkillRead(ctx context.Context, req *mcp.CallToolRequest, input ReadInput) (*mcp.CallToolResult, ReadOutput, error) {
	logger := s.config.Logger

	logger.Debug("MCP skill read", zap.String("skill", input.Skill))

	payload, err := s.config.Injector.SkillRead(ctx, input.Skill, input.AgentName)
	if err != nil {
		logger.Error("skill read failed", zap.Error(err))
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Failed to read skill: %v", err)},
			},
		}, ReadOutput{}, nil
	}

	output := ReadOutput{Skill: payload}

	// Serialize the structured output as JSON for the text field
	// Per MCP spec: tools returning structured content should also return
	// serialized JSON in a TextContent block for backwards compatibility
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(payload)},
		},
	}, output, nil
}

// SearchInput represents the input arguments for the skill_search tool.
type SearchInput struct {
	Query     string `json:"query" jsonschema:"the search query text to find relevant skills"`
	AgentName string `json:"agent_name,omitempty" jsonschema:"restrict to skills owned by this agent"`
	TopK      int    `json:"top_k,omitempty" jsonschema:"number of results to return (default: 5)"`
}

// SearchResult represents a single search result.
type SearchResult struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Category    string  `json:"category,omitempty"`
	Score       float64 `json:"score"`
}

// SearchOutput represents the output of the skill_search tool.
type SearchOutput struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
	Count   int            `json:"count"`
}

func (s *Server) handleSkillSearch(ctx context.Context, req *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	logger := s.config.Logger

	topK := input.TopK
	if topK <= 0 {
		topK = 5
	}

	logger.Debug("MCP skill search",
		zap.String("query", input.Query),
		zap.Int("topK", topK),
	)

	results, err := s.config.Service.SemanticSearch(ctx, input.Query, store.GroupFilter{
		AgentName: input.AgentName,
		Limit:     topK,
	}, topK, 0)
	if err != nil {
		logger.Error("skill search failed", zap.Error(err))
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Failed to search skills: %v", err)},
			},
		}, SearchOutput{}, nil
	}

	searchResults := make([]SearchResult, 0, len(results))
	for _, r := range results {
		searchResults = append(searchResults, SearchResult{
			ID:          r.Group.ID,
			Name:        r.Group.Name,
			Description: r.Group.Description,
			Category:    r.Group.Category,
			Score:       r.Score,
		})
	}

	output := SearchOutput{
		Query:   input.Query,
		Results: searchResults,
		Count:   len(searchResults),
	}

	jsonBytes, err := json.Marshal(output)
	if err != nil {
		logger.Error("failed to marshal search output", zap.Error(err))
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Failed to serialize results: %v", err)},
			},
		}, SearchOutput{}, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}, output, nil
}
