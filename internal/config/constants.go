package config

// Constants defining default values for application configuration
const (
	DefaultBaseDir    = "~/RSSKB"
	DefaultConfigPath = "~/.rsskb/config.yaml"

	DefaultLLMHost            = "https://api.z.ai/api/coding/paas/v4"
	DefaultLLMModels          = "glm-5,glm-4.7"
	DefaultMaxTokens          = 2048
	DefaultTemperature        = 0.3
	DefaultMaxContentChars    = 10000
	DefaultRequestDelaySecs   = 0.5
	DefaultLLMMaxRetries      = 5
	DefaultLLMTimeoutSecs     = 60
	DefaultBreakerFailures    = 5
	DefaultBreakerRecoverySec = 60
	DefaultBreakerSuccesses   = 2
	DefaultRateLimitRPM       = 60

	DefaultSystemPrompt = "You are a helpful assistant that summarizes articles concisely."
	DefaultUserPrompt   = "Summarize this article in 2-3 sentences, " +
		"in the same language as the article.\n\nTitle: {title}\n\n{content}"

	DefaultDownloadTimeoutSecs = 15
	DefaultConnectTimeoutSecs  = 5
	DefaultDownloadMaxRetries  = 3
	DefaultRetryDelaySecs      = 2
	DefaultConcurrentDownloads = 5
	DefaultConcurrentFeeds     = 3
	DefaultMaxRedirects        = 5
	DefaultETagMaxAgeDays      = 30
	DefaultDomainRatePerSec    = 1.0
	DefaultFeedRetryAfterHours = 24
	DefaultUserAgent           = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	DefaultSaveEvery = 20

	DefaultLogLevel = "info"

	DBFileName      = "rsskb.db"
	ArticlesDirName = "articles"
	CacheDirName    = ".llm_cache"
	OPMLFileName    = "subscriptions.opml"
)
