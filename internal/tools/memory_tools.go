package tools

import (
	"context"

	"github.com/MimeLyc/agentkit/internal/memory"
	"github.com/MimeLyc/agentkit/internal/schema"
)

const (
	MemoryStoreName = "memory_store"
	MemoryQueryName = "memory_query"

	defaultMemoryQueryResults = 5
)

type MemoryStoreInput struct {
	MemoryID        string         `json:"memory_id,omitempty" jsonschema:"description=Optional id. One is generated when omitted."`
	MemoryText      string         `json:"memory_text" jsonschema:"minLength=1,description=The fact or note to remember."`
	Metadata        map[string]any `json:"metadata,omitempty" jsonschema:"description=Optional flat key/value metadata."`
	ImportanceScore *float64       `json:"importance_score,omitempty" jsonschema:"minimum=0,maximum=1,description=Optional importance between 0 and 1."`
}

type MemoryStoreOutput struct {
	schema.ToolResult
	MemoryID string `json:"memory_id,omitempty"`
}

type MemoryQueryInput struct {
	QueryText   string         `json:"query_text" jsonschema:"minLength=1,description=Text to search memories for."`
	NResults    int            `json:"n_results,omitempty" jsonschema:"minimum=1,maximum=50,description=Maximum number of memories to return (default 5)."`
	WhereFilter map[string]any `json:"where_filter,omitempty" jsonschema:"description=Only return memories whose metadata matches every pair."`
}

type MemoryQueryOutput struct {
	schema.ToolResult
	Results []memory.QueryResult `json:"results"`
}

// NewMemoryStore returns a tool that lets the model save a memory.
func NewMemoryStore(m *memory.Manager) *TypedTool[MemoryStoreInput, MemoryStoreOutput] {
	return MustNew(MemoryStoreName,
		"Stores a piece of information in long-term memory so it can be recalled in later conversations.",
		func(ctx context.Context, in MemoryStoreInput) (MemoryStoreOutput, error) {
			id, err := m.Store(ctx, memory.Entry{
				ID:         in.MemoryID,
				Text:       in.MemoryText,
				Metadata:   in.Metadata,
				Importance: in.ImportanceScore,
			})
			if err != nil {
				return MemoryStoreOutput{ToolResult: schema.Failed("%s", err.Error())}, nil
			}
			return MemoryStoreOutput{ToolResult: schema.Succeeded(), MemoryID: id}, nil
		})
}

// NewMemoryQuery returns a tool that lets the model search its memories.
func NewMemoryQuery(m *memory.Manager) *TypedTool[MemoryQueryInput, MemoryQueryOutput] {
	return MustNew(MemoryQueryName,
		"Searches long-term memory for information relevant to a query.",
		func(ctx context.Context, in MemoryQueryInput) (MemoryQueryOutput, error) {
			n := in.NResults
			if n <= 0 {
				n = defaultMemoryQueryResults
			}
			results, err := m.Query(ctx, in.QueryText, n, in.WhereFilter)
			if err != nil {
				return MemoryQueryOutput{ToolResult: schema.Failed("%s", err.Error()), Results: []memory.QueryResult{}}, nil
			}
			return MemoryQueryOutput{ToolResult: schema.Succeeded(), Results: results}, nil
		})
}
