package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/iris-mcp/iris/internal/common/logger"
	"github.com/iris-mcp/iris/internal/orchestrator"
)

func registerTools(s *server.MCPServer, orch *orchestrator.Orchestrator, log *logger.Logger) {
	s.AddTool(
		mcp.NewTool("send_message",
			mcp.WithDescription("Send a message from one team to another. Spawns the receiving team's agent if it isn't already running. timeoutSeconds controls how long to wait for a reply: -1 returns immediately (async), 0 waits indefinitely, >0 waits up to that many seconds before returning mcp_timeout with the partial response."),
			mcp.WithString("fromTeam", mcp.Required(), mcp.Description("The sending team's name")),
			mcp.WithString("toTeam", mcp.Required(), mcp.Description("The receiving team's name")),
			mcp.WithString("message", mcp.Required(), mcp.Description("The message text")),
			mcp.WithNumber("timeoutSeconds", mcp.Description("Seconds to wait for a reply: -1 async, 0 wait indefinitely, >0 bounded wait (default 0)")),
		),
		sendMessageHandler(orch, log),
	)

	s.AddTool(
		mcp.NewTool("quick_message",
			mcp.WithDescription("Send a message and return immediately without waiting for a reply (hard-wired async, equivalent to send_message with timeoutSeconds=-1)."),
			mcp.WithString("fromTeam", mcp.Required(), mcp.Description("The sending team's name")),
			mcp.WithString("toTeam", mcp.Required(), mcp.Description("The receiving team's name")),
			mcp.WithString("message", mcp.Required(), mcp.Description("The message text")),
		),
		quickMessageHandler(orch, log),
	)

	s.AddTool(
		mcp.NewTool("ask_message",
			mcp.WithDescription("Send a message and wait indefinitely for the full reply (equivalent to send_message with timeoutSeconds=0)."),
			mcp.WithString("fromTeam", mcp.Required(), mcp.Description("The sending team's name")),
			mcp.WithString("toTeam", mcp.Required(), mcp.Description("The receiving team's name")),
			mcp.WithString("message", mcp.Required(), mcp.Description("The message text")),
		),
		askMessageHandler(orch, log),
	)

	s.AddTool(
		mcp.NewTool("session_reboot",
			mcp.WithDescription("Terminate the transport and delete the session between two teams, returning a fresh session id that will spawn lazily on the next message."),
			mcp.WithString("fromTeam", mcp.Required(), mcp.Description("The calling team's name")),
			mcp.WithString("toTeam", mcp.Required(), mcp.Description("The target team's name")),
		),
		sessionRebootHandler(orch, log),
	)

	s.AddTool(
		mcp.NewTool("session_delete",
			mcp.WithDescription("Terminate the transport and permanently delete the session and its on-disk artifacts between two teams."),
			mcp.WithString("fromTeam", mcp.Required(), mcp.Description("The calling team's name")),
			mcp.WithString("toTeam", mcp.Required(), mcp.Description("The target team's name")),
		),
		sessionDeleteHandler(orch, log),
	)

	s.AddTool(
		mcp.NewTool("session_fork",
			mcp.WithDescription("Return the shell command a human could run to open the same session in a new terminal."),
			mcp.WithString("fromTeam", mcp.Required(), mcp.Description("The calling team's name")),
			mcp.WithString("toTeam", mcp.Required(), mcp.Description("The target team's name")),
		),
		sessionForkHandler(orch, log),
	)

	s.AddTool(
		mcp.NewTool("session_report",
			mcp.WithDescription("Report a session's cache statistics and recent messages."),
			mcp.WithString("fromTeam", mcp.Required(), mcp.Description("The calling team's name")),
			mcp.WithString("toTeam", mcp.Required(), mcp.Description("The target team's name")),
			mcp.WithNumber("recent", mcp.Description("How many recent messages to include (default 20)")),
		),
		sessionReportHandler(orch, log),
	)

	s.AddTool(
		mcp.NewTool("session_cancel",
			mcp.WithDescription("Send a cancel (ESC) signal to the in-flight tell on this session's transport."),
			mcp.WithString("fromTeam", mcp.Required(), mcp.Description("The calling team's name")),
			mcp.WithString("toTeam", mcp.Required(), mcp.Description("The target team's name")),
		),
		sessionCancelHandler(orch, log),
	)

	s.AddTool(
		mcp.NewTool("team_status",
			mcp.WithDescription("Report whether a team's transport is currently awake and its status."),
			mcp.WithString("fromTeam", mcp.Required(), mcp.Description("The calling team's name")),
			mcp.WithString("toTeam", mcp.Required(), mcp.Description("The target team's name")),
		),
		teamStatusHandler(orch, log),
	)

	s.AddTool(
		mcp.NewTool("team_wake",
			mcp.WithDescription("Spawn a team's transport, if not already live, without dispatching a message."),
			mcp.WithString("fromTeam", mcp.Required(), mcp.Description("The calling team's name")),
			mcp.WithString("toTeam", mcp.Required(), mcp.Description("The target team's name")),
		),
		teamWakeHandler(orch, log),
	)

	s.AddTool(
		mcp.NewTool("team_sleep",
			mcp.WithDescription("Terminate a team's transport, if any."),
			mcp.WithString("fromTeam", mcp.Required(), mcp.Description("The calling team's name")),
			mcp.WithString("toTeam", mcp.Required(), mcp.Description("The target team's name")),
		),
		teamSleepHandler(orch, log),
	)

	s.AddTool(
		mcp.NewTool("team_wake_all",
			mcp.WithDescription("Wake every configured team's transport from the calling team."),
			mcp.WithString("fromTeam", mcp.Required(), mcp.Description("The calling team's name")),
		),
		teamWakeAllHandler(orch, log),
	)

	s.AddTool(
		mcp.NewTool("list_teams",
			mcp.WithDescription("List every team configured in the catalog."),
		),
		listTeamsHandler(orch, log),
	)

	s.AddTool(
		mcp.NewTool("permissions__approve",
			mcp.WithDescription("Resolve a pending 'ask' permission request raised by a tool_use frame."),
			mcp.WithString("requestId", mcp.Required(), mcp.Description("The permission request id from the permission.pending event")),
			mcp.WithBoolean("allow", mcp.Required(), mcp.Description("Whether to allow the tool call")),
		),
		permissionsApproveHandler(orch, log),
	)

	log.Info("registered MCP tools", zap.Int("count", 14))
}

func sendMessageHandler(orch *orchestrator.Orchestrator, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		from, err := req.RequireString("fromTeam")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		to, err := req.RequireString("toTeam")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		text, err := req.RequireString("message")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		timeoutSeconds := req.GetFloat("timeoutSeconds", 0)

		result, err := orch.SendMessage(ctx, from, to, text, secondsToDuration(timeoutSeconds))
		return toolResult(result, err, log)
	}
}

func quickMessageHandler(orch *orchestrator.Orchestrator, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		from, err := req.RequireString("fromTeam")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		to, err := req.RequireString("toTeam")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		text, err := req.RequireString("message")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		result, err := orch.SendMessage(ctx, from, to, text, secondsToDuration(-1))
		return toolResult(result, err, log)
	}
}

func askMessageHandler(orch *orchestrator.Orchestrator, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		from, err := req.RequireString("fromTeam")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		to, err := req.RequireString("toTeam")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		text, err := req.RequireString("message")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		result, err := orch.Ask(ctx, from, to, text)
		return toolResult(result, err, log)
	}
}

func sessionRebootHandler(orch *orchestrator.Orchestrator, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		from, to, err := fromTo(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		sess, err := orch.Reboot(ctx, from, to)
		if err != nil {
			return errResult(err, log)
		}
		return jsonResult(sess)
	}
}

func sessionDeleteHandler(orch *orchestrator.Orchestrator, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		from, to, err := fromTo(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := orch.DeleteSession(ctx, from, to); err != nil {
			return errResult(err, log)
		}
		return mcp.NewToolResultText("session deleted"), nil
	}
}

func sessionForkHandler(orch *orchestrator.Orchestrator, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		from, to, err := fromTo(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		cmd, err := orch.Fork(ctx, from, to)
		if err != nil {
			return errResult(err, log)
		}
		return mcp.NewToolResultText(cmd), nil
	}
}

func sessionReportHandler(orch *orchestrator.Orchestrator, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		from, to, err := fromTo(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		recent := int(req.GetFloat("recent", 20))
		report, err := orch.SessionReport(ctx, from, to, recent)
		if err != nil {
			return errResult(err, log)
		}
		return jsonResult(report)
	}
}

func sessionCancelHandler(orch *orchestrator.Orchestrator, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		from, to, err := fromTo(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := orch.SessionCancel(from, to); err != nil {
			return errResult(err, log)
		}
		return mcp.NewToolResultText("cancel signal sent"), nil
	}
}

func teamStatusHandler(orch *orchestrator.Orchestrator, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		from, to, err := fromTo(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		status, err := orch.TeamStatus(from, to)
		if err != nil {
			return errResult(err, log)
		}
		return jsonResult(status)
	}
}

func teamWakeHandler(orch *orchestrator.Orchestrator, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		from, to, err := fromTo(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := orch.TeamWake(ctx, from, to); err != nil {
			return errResult(err, log)
		}
		return mcp.NewToolResultText(fmt.Sprintf("%s is awake", to)), nil
	}
}

func teamSleepHandler(orch *orchestrator.Orchestrator, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		from, to, err := fromTo(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := orch.TeamSleep(ctx, from, to); err != nil {
			return errResult(err, log)
		}
		return mcp.NewToolResultText(fmt.Sprintf("%s is asleep", to)), nil
	}
}

func teamWakeAllHandler(orch *orchestrator.Orchestrator, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		from, err := req.RequireString("fromTeam")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		results := orch.TeamWakeAll(ctx, from)
		out := make(map[string]string, len(results))
		for team, err := range results {
			if err != nil {
				out[team] = err.Error()
			} else {
				out[team] = "awake"
			}
		}
		return jsonResult(out)
	}
}

func listTeamsHandler(orch *orchestrator.Orchestrator, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(orch.ListTeams())
	}
}

func permissionsApproveHandler(orch *orchestrator.Orchestrator, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		requestID, err := req.RequireString("requestId")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		allow, err := req.RequireBool("allow")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if !orch.ResolvePermission(requestID, allow) {
			return mcp.NewToolResultError(fmt.Sprintf("no pending permission request %q", requestID)), nil
		}
		return mcp.NewToolResultText("resolved"), nil
	}
}

func fromTo(req mcp.CallToolRequest) (string, string, error) {
	from, err := req.RequireString("fromTeam")
	if err != nil {
		return "", "", err
	}
	to, err := req.RequireString("toTeam")
	if err != nil {
		return "", "", err
	}
	return from, to, nil
}

func secondsToDuration(seconds float64) time.Duration {
	if seconds < 0 {
		return -1
	}
	return time.Duration(seconds * float64(time.Second))
}

// toolResult maps a SendResult onto the return shapes from spec §6: a
// bare string on success, a structured JSON payload for every other
// status.
func toolResult(result *orchestrator.SendResult, err error, log *logger.Logger) (*mcp.CallToolResult, error) {
	if err != nil {
		return errResult(err, log)
	}
	if result.Status == "" {
		return mcp.NewToolResultText(result.Text), nil
	}
	return jsonResult(result)
}

func errResult(err error, log *logger.Logger) (*mcp.CallToolResult, error) {
	log.Warn("mcp tool call failed", zap.Error(err))
	return mcp.NewToolResultError(err.Error()), nil
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
