package mcpapi

import (
	"context"
	"fmt"

	"github.com/hylla/patchroulette/internal/adapters/server/common"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// registerScopeTools registers scope and unit listing plus claim tools.
func registerScopeTools(srv *mcpserver.MCPServer, work common.WorkService) {
	srv.AddTool(
		mcp.NewTool(
			"patchroulette.list_scopes",
			mcp.WithDescription("List every published scope (target version)."),
		),
		func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			scopes, err := work.ListScopes(ctx)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("list_scopes", map[string]any{"scopes": scopes})
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"patchroulette.list_units",
			mcp.WithDescription("List the work units of one scope, optionally filtered by status."),
			mcp.WithString("scope", mcp.Required(), mcp.Description("Scope identifier")),
			mcp.WithString("status", mcp.Description("Status filter"), mcp.Enum("available", "in_progress", "done")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			scope, err := req.RequireString("scope")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			units, err := work.ListUnits(ctx, common.ListUnitsRequest{
				Scope:  scope,
				Status: req.GetString("status", ""),
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("list_units", map[string]any{"units": units})
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"patchroulette.get_unit",
			mcp.WithDescription("Show one work unit: status, owner, last update and time spent."),
			mcp.WithString("scope", mcp.Required(), mcp.Description("Scope identifier")),
			mcp.WithString("path", mcp.Required(), mcp.Description("Work unit path")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			scope, err := req.RequireString("scope")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			path, err := req.RequireString("path")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			unit, err := work.GetUnit(ctx, common.TransitionRequest{Scope: scope, Path: path})
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("get_unit", unit)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"patchroulette.claim_units",
			mcp.WithDescription("Claim one or more available work units for a contributor. Units that are taken are skipped."),
			mcp.WithString("scope", mcp.Required(), mcp.Description("Scope identifier")),
			mcp.WithArray("paths", mcp.Required(), mcp.Description("Paths to claim"), mcp.WithStringItems()),
			mcp.WithString("contributor", mcp.Required(), mcp.Description("Claiming contributor")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			scope, err := req.RequireString("scope")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			paths, err := req.RequireStringSlice("paths")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			contributor, err := req.RequireString("contributor")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			result, err := work.ClaimUnits(ctx, common.ClaimRequest{
				Scope:       scope,
				Paths:       paths,
				Contributor: contributor,
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("claim_units", result)
		},
	)
}

// transitionTool describes one single-unit transition tool.
type transitionTool struct {
	name               string
	description        string
	requireContributor bool
	apply              func(context.Context, common.TransitionRequest) (common.WorkUnit, error)
}

// registerTransitionTools registers release, complete and reopen tools.
func registerTransitionTools(srv *mcpserver.MCPServer, work common.WorkService) {
	tools := []transitionTool{
		{
			name:        "patchroulette.release_unit",
			description: "Return an in-progress work unit to the pool, keeping the time spent on it.",
			apply:       work.ReleaseUnit,
		},
		{
			name:               "patchroulette.complete_unit",
			description:        "Mark an in-progress work unit done. Only its owner may complete it.",
			requireContributor: true,
			apply:              work.CompleteUnit,
		},
		{
			name:               "patchroulette.reopen_unit",
			description:        "Move a done work unit back into progress under a contributor.",
			requireContributor: true,
			apply:              work.ReopenUnit,
		},
	}
	for _, tool := range tools {
		opts := []mcp.ToolOption{
			mcp.WithDescription(tool.description),
			mcp.WithString("scope", mcp.Required(), mcp.Description("Scope identifier")),
			mcp.WithString("path", mcp.Required(), mcp.Description("Work unit path")),
		}
		if tool.requireContributor {
			opts = append(opts, mcp.WithString("contributor", mcp.Required(), mcp.Description("Acting contributor")))
		}
		srv.AddTool(mcp.NewTool(tool.name, opts...), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			scope, err := req.RequireString("scope")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			path, err := req.RequireString("path")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			in := common.TransitionRequest{Scope: scope, Path: path}
			if tool.requireContributor {
				contributor, err := req.RequireString("contributor")
				if err != nil {
					return mcp.NewToolResultError(err.Error()), nil
				}
				in.Contributor = contributor
			}
			unit, err := tool.apply(ctx, in)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult(tool.name, unit)
		})
	}
}

// registerReportTools registers stats and activity tools.
func registerReportTools(srv *mcpserver.MCPServer, work common.WorkService) {
	srv.AddTool(
		mcp.NewTool(
			"patchroulette.stats",
			mcp.WithDescription("Summarize one scope: counts by status and time spent per contributor."),
			mcp.WithString("scope", mcp.Required(), mcp.Description("Scope identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			scope, err := req.RequireString("scope")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			stats, err := work.ScopeStats(ctx, scope)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("stats", stats)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"patchroulette.activity",
			mcp.WithDescription("List recent activity for one scope, newest first."),
			mcp.WithString("scope", mcp.Required(), mcp.Description("Scope identifier")),
			mcp.WithNumber("limit", mcp.Description("Maximum rows to return")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			scope, err := req.RequireString("scope")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			events, err := work.ListActivity(ctx, common.ActivityRequest{
				Scope: scope,
				Limit: req.GetInt("limit", 0),
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("activity", map[string]any{"events": events})
		},
	)
}

// jsonResult encodes one structured tool result.
func jsonResult(tool string, payload any) (*mcp.CallToolResult, error) {
	result, err := mcp.NewToolResultJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s result: %w", tool, err)
	}
	return result, nil
}
