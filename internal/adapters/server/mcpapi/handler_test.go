package mcpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	"github.com/hylla/patchroulette/internal/adapters/server/common"
	"github.com/mark3labs/mcp-go/mcp"
)

// stubWorkService provides deterministic work unit responses for MCP tool tests.
type stubWorkService struct {
	scopes     []string
	units      []common.WorkUnit
	unit       common.WorkUnit
	claim      common.ClaimResult
	stats      common.ScopeStats
	events     []common.ActivityEvent
	err        error
	lastList   common.ListUnitsRequest
	lastClaim  common.ClaimRequest
	lastAction string
	lastTarget common.TransitionRequest
	lastEvents common.ActivityRequest
}

func (s *stubWorkService) ListScopes(context.Context) ([]string, error) {
	return s.scopes, s.err
}

func (s *stubWorkService) ListUnits(_ context.Context, req common.ListUnitsRequest) ([]common.WorkUnit, error) {
	s.lastList = req
	return s.units, s.err
}

func (s *stubWorkService) PublishScope(_ context.Context, _ common.PublishRequest) ([]common.WorkUnit, error) {
	return s.units, s.err
}

func (s *stubWorkService) ClearScope(context.Context, string) error {
	return s.err
}

func (s *stubWorkService) GetUnit(_ context.Context, req common.TransitionRequest) (common.WorkUnit, error) {
	return s.transition("get", req)
}

func (s *stubWorkService) ClaimUnits(_ context.Context, req common.ClaimRequest) (common.ClaimResult, error) {
	s.lastClaim = req
	if s.err != nil {
		return common.ClaimResult{}, s.err
	}
	return s.claim, nil
}

func (s *stubWorkService) ReleaseUnit(_ context.Context, req common.TransitionRequest) (common.WorkUnit, error) {
	return s.transition("release", req)
}

func (s *stubWorkService) CompleteUnit(_ context.Context, req common.TransitionRequest) (common.WorkUnit, error) {
	return s.transition("complete", req)
}

func (s *stubWorkService) ReopenUnit(_ context.Context, req common.TransitionRequest) (common.WorkUnit, error) {
	return s.transition("reopen", req)
}

func (s *stubWorkService) transition(action string, req common.TransitionRequest) (common.WorkUnit, error) {
	s.lastAction = action
	s.lastTarget = req
	if s.err != nil {
		return common.WorkUnit{}, s.err
	}
	return s.unit, nil
}

func (s *stubWorkService) ScopeStats(context.Context, string) (common.ScopeStats, error) {
	return s.stats, s.err
}

func (s *stubWorkService) ListActivity(_ context.Context, req common.ActivityRequest) ([]common.ActivityEvent, error) {
	s.lastEvents = req
	return s.events, s.err
}

// jsonRPCResponse models minimal JSON-RPC response fields used in MCP adapter tests.
type jsonRPCResponse struct {
	ID     float64        `json:"id"`
	Result map[string]any `json:"result"`
}

// callToolRequest constructs one deterministic tools/call JSON-RPC request payload.
func callToolRequest(id int, toolName string, arguments map[string]any) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "tools/call",
		"params": map[string]any{
			"name":      toolName,
			"arguments": arguments,
		},
	}
}

// initializeRequest builds a deterministic MCP initialize request payload.
func initializeRequest() map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params": map[string]any{
			"protocolVersion": mcp.LATEST_PROTOCOL_VERSION,
			"clientInfo": map[string]any{
				"name":    "patchroulette-test",
				"version": "1.0.0",
			},
		},
	}
}

// postJSONRPC sends one JSON-RPC payload and decodes the response body.
func postJSONRPC(t *testing.T, client *http.Client, url string, payload any) (*http.Response, jsonRPCResponse) {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	var decoded jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if err := resp.Body.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return resp, decoded
}

// toolResultText decodes the first text entry from one tool-call result payload.
func toolResultText(t *testing.T, result map[string]any) string {
	t.Helper()
	contentRaw, ok := result["content"].([]any)
	if !ok || len(contentRaw) == 0 {
		t.Fatalf("content missing in tool result: %#v", result)
	}
	first, ok := contentRaw[0].(map[string]any)
	if !ok {
		t.Fatalf("first content entry has unexpected type: %#v", contentRaw[0])
	}
	text, ok := first["text"].(string)
	if !ok {
		t.Fatalf("content text missing in tool result: %#v", first)
	}
	return text
}

// startServer serves one MCP handler over stub and initializes the session.
func startServer(t *testing.T, stub *stubWorkService) *httptest.Server {
	t.Helper()
	handler, err := NewHandler(Config{}, stub)
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	_, _ = postJSONRPC(t, server.Client(), server.URL, initializeRequest())
	return server
}

// TestNewHandlerRequiresService verifies construction fails without a backing service.
func TestNewHandlerRequiresService(t *testing.T) {
	if _, err := NewHandler(Config{}, nil); err == nil {
		t.Fatal("NewHandler() error = nil, want error")
	}
}

// TestHandlerUsesStatelessTransport verifies MCP transport does not issue session ids.
func TestHandlerUsesStatelessTransport(t *testing.T) {
	handler, err := NewHandler(Config{}, &stubWorkService{})
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	server := httptest.NewServer(handler)
	defer server.Close()

	resp, decoded := postJSONRPC(t, server.Client(), server.URL, initializeRequest())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if decoded.ID != 1 {
		t.Fatalf("id = %v, want 1", decoded.ID)
	}
	if got := resp.Header.Get("Mcp-Session-Id"); got != "" {
		t.Fatalf("Mcp-Session-Id header = %q, want empty (stateless transport)", got)
	}
}

// TestHandlerRegistersWorkTools verifies tool discovery lists every work unit tool.
func TestHandlerRegistersWorkTools(t *testing.T) {
	server := startServer(t, &stubWorkService{})
	_, toolsResp := postJSONRPC(t, server.Client(), server.URL, map[string]any{
		"jsonrpc": "2.0",
		"id":      2,
		"method":  "tools/list",
	})

	toolsRaw, ok := toolsResp.Result["tools"].([]any)
	if !ok {
		t.Fatalf("tools list payload missing tools: %#v", toolsResp.Result)
	}
	toolNames := make([]string, 0, len(toolsRaw))
	for _, toolRaw := range toolsRaw {
		toolMap, ok := toolRaw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := toolMap["name"].(string)
		toolNames = append(toolNames, name)
	}
	for _, required := range []string{
		"patchroulette.list_scopes",
		"patchroulette.list_units",
		"patchroulette.get_unit",
		"patchroulette.claim_units",
		"patchroulette.release_unit",
		"patchroulette.complete_unit",
		"patchroulette.reopen_unit",
		"patchroulette.stats",
		"patchroulette.activity",
	} {
		if !slices.Contains(toolNames, required) {
			t.Fatalf("tool list missing %q: %#v", required, toolNames)
		}
	}
}

// TestClaimUnitsTool verifies argument mapping for batch claims.
func TestClaimUnitsTool(t *testing.T) {
	stub := &stubWorkService{claim: common.ClaimResult{Scope: "1.20", Contributor: "alice", Claimed: []string{"B.java"}}}
	server := startServer(t, stub)

	_, resp := postJSONRPC(t, server.Client(), server.URL, callToolRequest(3, "patchroulette.claim_units", map[string]any{
		"scope":       "1.20",
		"paths":       []string{"A.java", "B.java"},
		"contributor": "alice",
	}))
	if isError, _ := resp.Result["isError"].(bool); isError {
		t.Fatalf("unexpected tool error: %s", toolResultText(t, resp.Result))
	}
	if stub.lastClaim.Scope != "1.20" || stub.lastClaim.Contributor != "alice" || len(stub.lastClaim.Paths) != 2 {
		t.Fatalf("unexpected claim request %#v", stub.lastClaim)
	}
	var got common.ClaimResult
	if err := json.Unmarshal([]byte(toolResultText(t, resp.Result)), &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(got.Claimed) != 1 || got.Claimed[0] != "B.java" {
		t.Fatalf("unexpected claim result %#v", got)
	}
}

// TestGetUnitTool verifies single unit lookups and not-found mapping.
func TestGetUnitTool(t *testing.T) {
	stub := &stubWorkService{unit: common.WorkUnit{Scope: "1.20", Path: "A.java", Status: "in_progress", Owner: "alice"}}
	server := startServer(t, stub)

	_, resp := postJSONRPC(t, server.Client(), server.URL, callToolRequest(3, "patchroulette.get_unit", map[string]any{
		"scope": "1.20",
		"path":  "A.java",
	}))
	if isError, _ := resp.Result["isError"].(bool); isError {
		t.Fatalf("unexpected tool error: %s", toolResultText(t, resp.Result))
	}
	if stub.lastAction != "get" || stub.lastTarget.Path != "A.java" {
		t.Fatalf("unexpected lookup %q %#v", stub.lastAction, stub.lastTarget)
	}
	var got common.WorkUnit
	if err := json.Unmarshal([]byte(toolResultText(t, resp.Result)), &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.Owner != "alice" {
		t.Fatalf("unexpected unit %#v", got)
	}

	missing := &stubWorkService{err: fmt.Errorf("get unit: %w", common.ErrNotFound)}
	missingServer := startServer(t, missing)
	_, resp = postJSONRPC(t, missingServer.Client(), missingServer.URL, callToolRequest(4, "patchroulette.get_unit", map[string]any{
		"scope": "1.20",
		"path":  "Missing.java",
	}))
	if isError, _ := resp.Result["isError"].(bool); !isError {
		t.Fatalf("expected tool error, got %#v", resp.Result)
	}
	if text := toolResultText(t, resp.Result); !strings.Contains(text, "not_found") {
		t.Fatalf("expected not_found prefix, got %q", text)
	}
}

// TestTransitionTools verifies release, complete and reopen argument mapping.
func TestTransitionTools(t *testing.T) {
	cases := []struct {
		tool        string
		action      string
		contributor string
	}{
		{tool: "patchroulette.release_unit", action: "release"},
		{tool: "patchroulette.complete_unit", action: "complete", contributor: "alice"},
		{tool: "patchroulette.reopen_unit", action: "reopen", contributor: "bob"},
	}
	for i, tc := range cases {
		t.Run(tc.action, func(t *testing.T) {
			stub := &stubWorkService{unit: common.WorkUnit{Scope: "1.20", Path: "A.java", Status: "done"}}
			server := startServer(t, stub)
			args := map[string]any{"scope": "1.20", "path": "A.java"}
			if tc.contributor != "" {
				args["contributor"] = tc.contributor
			}
			_, resp := postJSONRPC(t, server.Client(), server.URL, callToolRequest(10+i, tc.tool, args))
			if isError, _ := resp.Result["isError"].(bool); isError {
				t.Fatalf("unexpected tool error: %s", toolResultText(t, resp.Result))
			}
			if stub.lastAction != tc.action || stub.lastTarget.Contributor != tc.contributor || stub.lastTarget.Path != "A.java" {
				t.Fatalf("unexpected transition %q %#v", stub.lastAction, stub.lastTarget)
			}
		})
	}
}

// TestCompleteUnitToolRequiresContributor verifies the contributor argument is mandatory.
func TestCompleteUnitToolRequiresContributor(t *testing.T) {
	stub := &stubWorkService{}
	server := startServer(t, stub)
	_, resp := postJSONRPC(t, server.Client(), server.URL, callToolRequest(4, "patchroulette.complete_unit", map[string]any{
		"scope": "1.20",
		"path":  "A.java",
	}))
	if isError, _ := resp.Result["isError"].(bool); !isError {
		t.Fatalf("expected tool error, got %#v", resp.Result)
	}
	if stub.lastAction != "" {
		t.Fatalf("service called without contributor: %q", stub.lastAction)
	}
}

// TestActivityToolPassesLimit verifies numeric argument mapping.
func TestActivityToolPassesLimit(t *testing.T) {
	stub := &stubWorkService{events: []common.ActivityEvent{{Scope: "1.20", Operation: "claim"}}}
	server := startServer(t, stub)
	_, resp := postJSONRPC(t, server.Client(), server.URL, callToolRequest(5, "patchroulette.activity", map[string]any{
		"scope": "1.20",
		"limit": 7,
	}))
	if isError, _ := resp.Result["isError"].(bool); isError {
		t.Fatalf("unexpected tool error: %s", toolResultText(t, resp.Result))
	}
	if stub.lastEvents.Limit != 7 || stub.lastEvents.Scope != "1.20" {
		t.Fatalf("unexpected activity request %#v", stub.lastEvents)
	}
}

// TestToolErrorPrefixes verifies service errors surface with stable prefixes.
func TestToolErrorPrefixes(t *testing.T) {
	cases := []struct {
		err    error
		prefix string
	}{
		{err: fmt.Errorf("claim units: %w", common.ErrConflict), prefix: "conflict: "},
		{err: fmt.Errorf("release unit: %w", common.ErrNotFound), prefix: "not_found: "},
		{err: fmt.Errorf("complete unit: %w", common.ErrInvalidRequest), prefix: "invalid_request: "},
		{err: errors.New("boom"), prefix: "internal_error: "},
	}
	for i, tc := range cases {
		stub := &stubWorkService{err: tc.err}
		server := startServer(t, stub)
		_, resp := postJSONRPC(t, server.Client(), server.URL, callToolRequest(20+i, "patchroulette.stats", map[string]any{"scope": "1.20"}))
		if isError, _ := resp.Result["isError"].(bool); !isError {
			t.Fatalf("expected tool error for %v", tc.err)
		}
		if text := toolResultText(t, resp.Result); !strings.HasPrefix(text, tc.prefix) {
			t.Fatalf("error text = %q, want prefix %q", text, tc.prefix)
		}
	}
}
