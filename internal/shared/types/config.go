package types

import "net"

// ServerConfig 描述一个 Clash 兼容控制端的完整记录。
// 运行时状态 (Status/Version/ServerType/ErrorMessage) 作为字段附着在记录上，随列表一起持久化。
type ServerConfig struct {
	// --- 身份与展示 ---
	ID   string `json:"id"`   // 唯一标识符 (UUID)
	Name string `json:"name"` // 用户备注, 为空时使用 host:port 展示

	// --- 连接参数 ---
	Host   string `json:"host"`
	Port   string `json:"port"` // 保持表单中输入的原始字符串
	Secret string `json:"secret"`
	UseSSL bool   `json:"useSSL"`

	// InsecureSkipVerify 为 true 时接受无法验证的服务端证书 (自签名等)。默认关闭。
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty"`

	IsQuickLaunch bool `json:"isQuickLaunch"`

	// --- 检查结果 ---
	Status       ServerStatus `json:"status"`
	Version      string       `json:"version,omitempty"`
	ServerType   ServerType   `json:"serverType,omitempty"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
}

// IsUsable reports whether host, port and secret are all filled in.
func (c ServerConfig) IsUsable() bool {
	return c.Host != "" && c.Port != "" && c.Secret != ""
}

// DisplayName returns the user label, falling back to host:port.
func (c ServerConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return net.JoinHostPort(c.Host, c.Port)
}

// ClientConf 控制 HTTP 控制客户端的行为
type ClientConf struct {
	RequestTimeout     int    `ini:"request_timeout"` // 单个请求超时 (秒)
	SessionTimeout     int    `ini:"session_timeout"` // 会话级超时 (秒)
	InsecureSkipVerify bool   `ini:"insecure_skip_verify"`
	Socks5             string `ini:"socks5"` // 可选: 经由 SOCKS5 代理访问控制端, host:port
}

// StoreConf 决定服务器列表的持久化后端
type StoreConf struct {
	Backend string `ini:"backend"` // file, sqlite, memory
	Path    string `ini:"path"`
	Watch   bool   `ini:"watch"` // file 后端: 监听外部修改并重新加载
}

// PollConf 定时检查配置
type PollConf struct {
	Schedule    string `ini:"schedule"`    // cron 表达式, 例如 "@every 30s"; 为空则不启动
	Concurrency int    `ini:"concurrency"` // <=1 时逐个检查
}

// WebConf 本地 Web API 配置
type WebConf struct {
	Port     int    `ini:"port"`
	User     string `ini:"user"`
	Password string `ini:"password"`
}

// LogConf contains logging specific configuration
type LogConf struct {
	Level  string `ini:"level"`
	Format string `ini:"format"` // console (默认) 或 json
}

// Config 是 clashdash.ini 的统一配置结构体
type Config struct {
	LogConf    `ini:"log"`
	ClientConf `ini:"client"`
	StoreConf  `ini:"store"`
	PollConf   `ini:"poll"`
	WebConf    `ini:"web"`
}

// DefaultConfig returns the values used when a key is absent from the ini file.
func DefaultConfig() *Config {
	return &Config{
		LogConf:    LogConf{Level: "info", Format: "console"},
		ClientConf: ClientConf{RequestTimeout: 10, SessionTimeout: 30},
		StoreConf:  StoreConf{Backend: "file", Path: "clashdash.json"},
		PollConf:   PollConf{Concurrency: 1},
	}
}
