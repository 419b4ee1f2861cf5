package config

const (
	DefaultProviderBaseURL   = "https://api.openai.com/v1"
	DefaultProviderModel     = "gpt-4o-mini"
	DefaultProviderTimeoutMS = 60000

	DefaultRequestTimeoutMS  = 120000
	DefaultMCPServer         = "workbench"
	DefaultOutputLimitBytes  = 1 << 20
	DefaultContextTokenLimit = 24000

	DefaultServerAddr = "127.0.0.1:7420"

	DefaultReminderLeadMinutes = 30
	DefaultReminderDailyDigest = "09:00"
)
