package i18n

// ZhCNMessages 简体中文消息目录
var ZhCNMessages = map[string]string{
	// 会话
	"session.greeting":         "你好，我是工作台助手。告诉我你想安排什么，我会提出可确认执行的动作。",
	"session.dispatch_failed":  "抱歉，暂时无法连接规划服务（%s）。你的消息已保留，恢复后可以重试。",
	"session.batch_summary":    "%d/%d 项成功",
	"session.batch_empty":      "没有可执行的动作",
	"session.nothing_to_retry": "没有可重试的输入",

	// 规划
	"planner.default_reply":   "已生成建议。",
	"planner.default_input":   "请根据当前工作台数据给出建议",
	"planner.local_reply":     "我已读取当前工作台数据。你刚才说的是“%s”。当前未完成待办 %d 项、今日日程 %d 项。",
	"planner.local_degraded":  " 模型服务暂不可用（%s），已切换为本地建议模式。",
	"planner.snapshot_title":  "生成当前快照",
	"planner.snapshot_reason": "用于后续进一步规划和动作确认",

	// 阶段
	"stage.runtime_detect": "检测运行时",
	"stage.mcp_connect":    "连接 %s",
	"stage.exec_fallback":  "结构化通道不可用，改用 %s",
	"stage.planning":       "规划中",
	"stage.executing":      "执行中 %d/%d",
	"stage.fallback":       "模型不可用，使用本地建议",
	"stage.completed":      "已完成",

	// 执行结果
	"exec.todo_created":     "待办已创建",
	"exec.todo_updated":     "待办已更新",
	"exec.todo_deleted":     "待办已删除",
	"exec.project_created":  "项目已创建",
	"exec.project_progress": "项目进度已更新",
	"exec.project_deleted":  "项目已删除",
	"exec.event_created":    "日程已创建",
	"exec.event_updated":    "日程已更新",
	"exec.event_deleted":    "日程已删除",
	"exec.personal_created": "个人事务已创建",
	"exec.personal_updated": "个人事务已更新",
	"exec.personal_deleted": "个人事务已删除",
	"exec.snapshot":         "当前快照已生成",

	// REPL
	"repl.welcome":     "工作台助手。输入 /help 查看命令。",
	"repl.pending":     "待确认动作",
	"repl.no_pending":  "没有待确认的动作",
	"repl.audit":       "审计日志",
	"repl.no_audit":    "暂无审计记录",
	"repl.confirm":     "执行 %s（%s）？[y/N] ",
	"repl.cancelled":   "已取消",
	"repl.cleared":     "会话已清空",
	"repl.prefer":      "首选通道：%s",
	"repl.reloaded":    "已重新加载：MCP 服务 %d 个，技能 %d 个，命令 %d 个",
	"repl.unknown_cmd": "未知命令：%s（输入 /help）",
	"repl.usage":       "用法：%s",
	"repl.health":      "结构化通道：%s  进程通道：%s",
	"repl.available":   "可用",
	"repl.unavailable": "不可用",

	"repl.detached":        "已停止等待，运行仍在后台继续。",
	"repl.background_done": "后台运行已结束：",
	"repl.timeout":         "请求超时：%s",
	"repl.server":          "  %s  %s  %d 个工具",

	// 命令
	"cmd.approve":  "执行一个或全部待确认动作",
	"cmd.dismiss":  "忽略一个待确认动作",
	"cmd.pending":  "列出待确认动作",
	"cmd.audit":    "查看审计日志",
	"cmd.retry":    "重试上一次输入",
	"cmd.clear":    "清空会话",
	"cmd.prefer":   "选择首选通道",
	"cmd.status":   "查看通道健康与运行状态",
	"cmd.tooling":  "查看工具配置",
	"cmd.reload":   "从磁盘重新加载工具",
	"cmd.commands": "列出工具命令",
	"cmd.skills":   "列出技能",
	"cmd.help":     "显示可用命令",
	"cmd.exit":     "退出",

	// 终端视图
	"tui.mcp_servers":   "MCP 服务",
	"tui.skills":        "技能",
	"tui.commands":      "命令",
	"tui.none":          "（无）",
	"tui.disabled":      "已停用",
	"tui.no_run":        "尚无运行",
	"tui.run_line":      "%s  %s  %d%%",
	"tui.batch":         "批次 %s",
	"tui.detach":        "ctrl+c 停止等待",
	"tui.action_failed": "%s：%s",
}
