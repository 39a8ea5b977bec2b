package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/MimeLyc/agentkit/internal/agent"
	"github.com/MimeLyc/agentkit/internal/llm"
	"github.com/MimeLyc/agentkit/internal/memory"
	"github.com/MimeLyc/agentkit/internal/provider"
	"github.com/MimeLyc/agentkit/internal/schema"
	"github.com/MimeLyc/agentkit/pkg/log"
)

// turnRequest carries the raw agent input plus optional earlier messages.
// Input is validated against the agent's input schema, not here.
type turnRequest struct {
	Input   json.RawMessage `json:"input"`
	History []llm.Message   `json:"history,omitempty"`
	// Execute asks /api/dispatch to run the chosen tool.
	Execute bool `json:"execute,omitempty"`
}

type toolCallResponse struct {
	ID        string `json:"id"`
	ToolName  string `json:"tool_name"`
	Arguments string `json:"arguments"`
	Result    string `json:"result"`
	IsError   bool   `json:"is_error"`
}

type usageResponse struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type turnResponse[Out any] struct {
	Output        *Out               `json:"output,omitempty"`
	Error         *agent.Error       `json:"error,omitempty"`
	ToolCalls     []toolCallResponse `json:"tool_calls"`
	ProviderCalls int                `json:"provider_calls"`
	Usage         usageResponse      `json:"usage"`
}

type dispatchResponse struct {
	turnResponse[schema.DispatchOutput]
	ToolResult json.RawMessage `json:"tool_result,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	req, ok := s.decodeTurn(w, r)
	if !ok {
		return
	}

	res := s.app.Chat.RunJSON(r.Context(), req.Input, agent.WithHistory(req.History...))
	writeJSON(w, statusOf(res.Err), toTurnResponse(res))
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	req, ok := s.decodeTurn(w, r)
	if !ok {
		return
	}

	res := s.app.Dispatch.RunJSON(r.Context(), req.Input, agent.WithHistory(req.History...))
	resp := dispatchResponse{turnResponse: toTurnResponse(res)}
	if !res.OK() || !req.Execute || res.Output.Action != schema.ActionUseTool {
		writeJSON(w, statusOf(res.Err), resp)
		return
	}

	args := []byte(`{}`)
	if res.Output.ToolParameters != nil {
		data, err := json.Marshal(res.Output.ToolParameters)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		args = data
	}
	call := llm.ToolCall{
		ID:       "dispatch_" + uuid.NewString(),
		Type:     "function",
		Function: llm.FunctionCall{Name: res.Output.ToolName, Arguments: string(args)},
	}
	exec := s.app.Tools.Execute(r.Context(), call)
	log.Info("Dispatched tool %s over http: success=%v", call.Function.Name, exec.Success)

	resp.ToolResult = exec.Output
	resp.ToolCalls = append(resp.ToolCalls, toolCallResponse{
		ID:        call.ID,
		ToolName:  call.Function.Name,
		Arguments: call.Function.Arguments,
		Result:    string(exec.Output),
		IsError:   !exec.Success,
	})
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.app.Tools.Definitions())
}

type storeMemoryRequest struct {
	ID         string         `json:"id"`
	Text       string         `json:"text"`
	Metadata   map[string]any `json:"metadata"`
	Importance *float64       `json:"importance_score"`
}

func (s *Server) handleMemories(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		text := strings.TrimSpace(q.Get("q"))
		if text == "" {
			writeError(w, http.StatusBadRequest, "q is required")
			return
		}
		n := s.app.Config.Memory.QueryResults
		if raw := q.Get("n"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 {
				writeError(w, http.StatusBadRequest, "n must be a positive integer")
				return
			}
			n = parsed
		}
		var where map[string]any
		if raw := q.Get("where"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &where); err != nil {
				writeError(w, http.StatusBadRequest, "where must be a json object")
				return
			}
		}
		results, err := s.app.Memory.Query(r.Context(), text, n, where)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, results)
	case http.MethodPost:
		var req storeMemoryRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		id, err := s.app.Memory.Store(r.Context(), memory.Entry{
			ID:         req.ID,
			Text:       req.Text,
			Metadata:   req.Metadata,
			Importance: req.Importance,
		})
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, memory.ErrEmptyText) || errors.Is(err, memory.ErrInvalidEntry) {
				status = http.StatusBadRequest
			}
			writeError(w, status, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"id": id,
		})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleMemoryByID(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/memories/"), "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "memory id is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		record, err := s.app.Memory.Fetch(r.Context(), id)
		if errors.Is(err, memory.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("memory %s not found", id))
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, record)
	case http.MethodDelete:
		err := s.app.Memory.Remove(r.Context(), id)
		if errors.Is(err, memory.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("memory %s not found", id))
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"provider": s.app.Provider.Name(),
		"tools":    s.app.Tools.Names(),
	})
}

func (s *Server) decodeTurn(w http.ResponseWriter, r *http.Request) (turnRequest, bool) {
	var req turnRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return req, false
	}
	if len(req.Input) == 0 {
		writeError(w, http.StatusBadRequest, "input is required")
		return req, false
	}
	return req, true
}

// statusOf maps a turn failure to an HTTP status.
func statusOf(err *agent.Error) int {
	if err == nil {
		return http.StatusOK
	}
	switch err.Kind {
	case agent.KindInputValidation:
		return http.StatusBadRequest
	case agent.KindOutputValidation:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func toTurnResponse[Out any](res agent.Result[Out]) turnResponse[Out] {
	calls := make([]toolCallResponse, 0, len(res.ToolCalls))
	for _, c := range res.ToolCalls {
		calls = append(calls, toolCallResponse{
			ID:        c.ID,
			ToolName:  c.ToolName,
			Arguments: c.Arguments,
			Result:    c.Result,
			IsError:   c.IsError,
		})
	}
	return turnResponse[Out]{
		Output:        res.Output,
		Error:         res.Err,
		ToolCalls:     calls,
		ProviderCalls: res.ProviderCalls,
		Usage:         toUsage(res.Usage),
	}
}

func toUsage(u provider.Usage) usageResponse {
	return usageResponse{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
