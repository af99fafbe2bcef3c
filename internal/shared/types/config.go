package types

// CheckerConf 控制批量检测的行为。
// 环境变量名由字段名拆词得到，如 INSPECTOR_CHECKER_TIMEOUT_SECONDS。
type CheckerConf struct {
	Concurrency      int    `ini:"concurrency_cap" split_words:"true"`
	TimeoutSeconds   int    `ini:"probe_timeout_seconds" split_words:"true"`
	ProbeURL         string `ini:"probe_url" split_words:"true"`
	GeoURL           string `ini:"geo_url" split_words:"true"`
	GeoRatePerMinute int    `ini:"geo_rate_per_minute" split_words:"true"`
}

// StoreConf 描述已验证节点的持久化后端。
// Backend: "file", "redis", "sqlite", "postgres"。
type StoreConf struct {
	Backend   string `ini:"backend" split_words:"true"`
	Path      string `ini:"path" split_words:"true"`
	RedisAddr string `ini:"redis_addr" split_words:"true"`
	RedisDB   int    `ini:"redis_db" split_words:"true"`
	RedisKey  string `ini:"redis_key" split_words:"true"`
	DSN       string `ini:"dsn" split_words:"true"`
}

// WebConf 包含 HTTP API 的监听与认证配置。WebPort 为 0 时不启动。
type WebConf struct {
	WebPort     int    `ini:"web_port" split_words:"true"`
	WebUser     string `ini:"web_user" split_words:"true"`
	WebPassword string `ini:"web_password" split_words:"true"`
}

// LogConf contains logging specific configuration
type LogConf struct {
	Level string `ini:"level" split_words:"true"`
	JSON  bool   `ini:"json" split_words:"true"`
}

// Config 是 inspector 的统一配置结构体，对应 inspector.ini。
type Config struct {
	CheckerConf `ini:"checker"`
	StoreConf   `ini:"store"`
	WebConf     `ini:"web"`
	LogConf     `ini:"log"`
}
