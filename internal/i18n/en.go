package i18n

// EnMessages English message catalog
var EnMessages = map[string]string{
	// Session
	"session.greeting":         "Hi, I'm your workbench assistant. Tell me what you want to plan and I'll propose actions for you to approve.",
	"session.dispatch_failed":  "Sorry, I couldn't reach the planning backend (%s). Your message is kept; use retry when it's back.",
	"session.batch_summary":    "%d/%d succeeded",
	"session.batch_empty":      "No actions to execute",
	"session.nothing_to_retry": "Nothing to retry",

	// Planner
	"planner.default_reply":   "Suggestions ready.",
	"planner.default_input":   "Please give suggestions based on the current workbench data",
	"planner.local_reply":     "I read the current workbench data. You said \"%s\". There are %d pending todos and %d events today.",
	"planner.local_degraded":  " The model service is unavailable (%s); switched to local suggestion mode.",
	"planner.snapshot_title":  "Generate current snapshot",
	"planner.snapshot_reason": "Used for further planning and action confirmation",

	// Stage messages
	"stage.runtime_detect": "Detecting runtime",
	"stage.mcp_connect":    "Connecting to %s",
	"stage.exec_fallback":  "Structured channel unavailable, running %s",
	"stage.planning":       "Planning",
	"stage.executing":      "Executing %d/%d",
	"stage.fallback":       "Model unavailable, using local suggestions",
	"stage.completed":      "Completed",

	// Execution results
	"exec.todo_created":     "Todo created",
	"exec.todo_updated":     "Todo updated",
	"exec.todo_deleted":     "Todo deleted",
	"exec.project_created":  "Project created",
	"exec.project_progress": "Project progress updated",
	"exec.project_deleted":  "Project deleted",
	"exec.event_created":    "Event created",
	"exec.event_updated":    "Event updated",
	"exec.event_deleted":    "Event deleted",
	"exec.personal_created": "Personal task created",
	"exec.personal_updated": "Personal task updated",
	"exec.personal_deleted": "Personal task deleted",
	"exec.snapshot":         "Snapshot generated",

	// REPL
	"repl.welcome":     "Workbench agent. Type /help for commands.",
	"repl.pending":     "Pending actions",
	"repl.no_pending":  "No pending actions",
	"repl.audit":       "Audit log",
	"repl.no_audit":    "No audit records",
	"repl.confirm":     "Execute %s (%s)? [y/N] ",
	"repl.cancelled":   "Cancelled",
	"repl.cleared":     "Session cleared",
	"repl.prefer":      "Preferred channel: %s",
	"repl.reloaded":    "Reloaded: %d MCP servers, %d skills, %d commands",
	"repl.unknown_cmd": "Unknown command: %s (try /help)",
	"repl.usage":       "Usage: %s",
	"repl.health":      "Structured channel: %s  Process channel: %s",
	"repl.available":   "available",
	"repl.unavailable": "unavailable",

	"repl.detached":        "Stopped waiting; the run continues in the background.",
	"repl.background_done": "A background run finished:",
	"repl.timeout":         "Request timeout: %s",
	"repl.server":          "  %s  %s  %d tools",

	// Commands
	"cmd.approve":  "Execute one pending action, or all of them",
	"cmd.dismiss":  "Dismiss a pending action",
	"cmd.pending":  "List pending actions",
	"cmd.audit":    "Show the audit log",
	"cmd.retry":    "Retry the last input",
	"cmd.clear":    "Clear the conversation",
	"cmd.prefer":   "Choose the preferred channel",
	"cmd.status":   "Show channel health and run state",
	"cmd.tooling":  "Show tooling configuration",
	"cmd.reload":   "Reload tooling from disk",
	"cmd.commands": "List tooling commands",
	"cmd.skills":   "List skills",
	"cmd.help":     "Show available commands",
	"cmd.exit":     "Exit",

	// Terminal views
	"tui.mcp_servers":   "MCP servers",
	"tui.skills":        "Skills",
	"tui.commands":      "Commands",
	"tui.none":          "(none)",
	"tui.disabled":      "disabled",
	"tui.no_run":        "No run yet",
	"tui.run_line":      "%s  %s  %d%%",
	"tui.batch":         "batch %s",
	"tui.detach":        "ctrl+c to stop waiting",
	"tui.action_failed": "%s: %s",
}
