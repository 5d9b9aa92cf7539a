package normalize

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"clashdash/internal/shared/types"
)

// VersionInfo is the normalized /version payload.
type VersionInfo struct {
	Version string
	// Type is empty when the payload only matched the minimal schema and
	// carries no information about the server flavour.
	Type types.ServerType
}

// versionPrimary 是 Clash / Meta / sing-box 的完整 /version 结构。
type versionPrimary struct {
	Version *string `json:"version"`
	Meta    *bool   `json:"meta"`
	Premium *bool   `json:"premium"`
}

var errVersionMissing = errors.New("version field missing")

// ParseVersion decodes a /version body. It first tries the primary schema
// ({version, meta?, premium?}); if that fails it falls back to a bare
// {"version": string} object. A body matching neither yields a *ProtocolError.
func ParseVersion(body []byte) (VersionInfo, error) {
	info, primaryErr := parsePrimaryVersion(body)
	if primaryErr == nil {
		return info, nil
	}
	info, fallbackErr := parseMinimalVersion(body)
	if fallbackErr == nil {
		return info, nil
	}
	return VersionInfo{}, formatError(errors.Join(primaryErr, fallbackErr))
}

func parsePrimaryVersion(body []byte) (VersionInfo, error) {
	var v versionPrimary
	if err := json.Unmarshal(body, &v); err != nil {
		return VersionInfo{}, err
	}
	if v.Version == nil {
		return VersionInfo{}, errVersionMissing
	}
	return VersionInfo{
		Version: *v.Version,
		Type:    classifyServer(*v.Version, v.Premium != nil && *v.Premium, v.Meta != nil && *v.Meta),
	}, nil
}

func parseMinimalVersion(body []byte) (VersionInfo, error) {
	var m map[string]string
	if err := json.Unmarshal(body, &m); err != nil {
		return VersionInfo{}, err
	}
	version, ok := m["version"]
	if !ok {
		return VersionInfo{}, errVersionMissing
	}
	return VersionInfo{Version: version}, nil
}

// classifyServer: sing-box 通过版本字符串识别; 其余情况 premium 优先于 meta。
func classifyServer(version string, premium, meta bool) types.ServerType {
	switch {
	case strings.Contains(strings.ToLower(version), "sing-box"):
		return types.ServerTypeSingBox
	case premium:
		return types.ServerTypePremium
	case meta:
		return types.ServerTypeMeta
	default:
		return types.ServerTypeUnknown
	}
}

// CheckVersion classifies a /version response. It is a pure function of the
// status code and the body.
func CheckVersion(statusCode int, body []byte) types.CheckResult {
	if statusCode != http.StatusOK {
		perr := StatusError(statusCode)
		status := types.StatusError
		if statusCode == http.StatusUnauthorized {
			status = types.StatusUnauthorized
		}
		return types.CheckResult{Status: status, ErrorMessage: perr.Message}
	}

	info, err := ParseVersion(body)
	if err != nil {
		return types.CheckResult{Status: types.StatusError, ErrorMessage: MsgInvalidFormat}
	}
	return types.CheckResult{Status: types.StatusOK, Version: info.Version, ServerType: info.Type}
}
