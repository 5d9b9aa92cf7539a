package types

// ServerStatus 是一次状态检查的归类结果
type ServerStatus string

const (
	StatusUnknown      ServerStatus = "unknown" // Default value
	StatusOK           ServerStatus = "ok"
	StatusUnauthorized ServerStatus = "unauthorized"
	StatusError        ServerStatus = "error"
)

// Text returns the label shown next to a server row.
func (s ServerStatus) Text() string {
	switch s {
	case StatusOK:
		return "200 OK"
	case StatusUnauthorized:
		return "401 Unauthorized"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// ServerType 根据 /version 中的特性标志推断出的内核类型
type ServerType string

const (
	ServerTypeUnknown ServerType = "Unknown"
	ServerTypeMeta    ServerType = "Meta"
	ServerTypePremium ServerType = "Premium"
	ServerTypeSingBox ServerType = "Sing-Box"
)

// CheckResult 是对单个服务器执行一次 /version 检查后的结果。
// ServerType 为空表示本次检查无法推断类型, 应保留记录上原有的值。
type CheckResult struct {
	Status       ServerStatus `json:"status"`
	Version      string       `json:"version,omitempty"`
	ServerType   ServerType   `json:"serverType,omitempty"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
}

// Apply copies the result onto a server record.
func (r CheckResult) Apply(c *ServerConfig) {
	c.Status = r.Status
	if r.Version != "" {
		c.Version = r.Version
	}
	if r.ServerType != "" {
		c.ServerType = r.ServerType
	}
	c.ErrorMessage = r.ErrorMessage
}
