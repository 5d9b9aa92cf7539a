package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	"clashdash/internal/shared/types"
)

// LoadIni 加载 clashdash.ini 行为配置文件。文件不存在时使用默认值。
func LoadIni(fileName string) (*types.Config, error) {
	cfg := types.DefaultConfig()
	if _, err := os.Stat(fileName); err != nil {
		if os.IsNotExist(err) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}
	iniFile, err := ini.Load(fileName)
	if err != nil {
		return nil, err
	}
	if err := iniFile.MapTo(cfg); err != nil {
		return nil, err
	}
	applyEnv(cfg)
	return cfg, nil
}

// ParseIni maps in-memory ini content (mobile clients pass the file body as a string).
func ParseIni(content string) (*types.Config, error) {
	cfg := types.DefaultConfig()
	if content == "" {
		return cfg, nil
	}
	iniFile, err := ini.Load([]byte(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ini content: %w", err)
	}
	if err := iniFile.MapTo(cfg); err != nil {
		return nil, fmt.Errorf("failed to map ini content to config struct: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *types.Config) {
	overrideFromEnvString(&cfg.StoreConf.Path, "CLASHDASH_STORE_PATH")
	overrideFromEnvString(&cfg.StoreConf.Backend, "CLASHDASH_STORE_BACKEND")
	overrideFromEnvInt(&cfg.WebConf.Port, "CLASHDASH_WEB_PORT")
	overrideFromEnvString(&cfg.LogConf.Level, "CLASHDASH_LOG_LEVEL")
	overrideFromEnvString(&cfg.LogConf.Format, "CLASHDASH_LOG_FORMAT")
}

// serverImport 是 YAML 导入文件中的单个条目
type serverImport struct {
	Name               string `yaml:"name"`
	Host               string `yaml:"host"`
	Port               string `yaml:"port"`
	Secret             string `yaml:"secret"`
	TLS                bool   `yaml:"tls"`
	InsecureSkipVerify bool   `yaml:"insecure-skip-verify"`
}

// LoadServersYAML 读取一个 YAML 服务器列表, 形如:
//
//	servers:
//	  - name: home
//	    host: 192.168.2.1
//	    port: "9090"
//	    secret: s3cret
func LoadServersYAML(fileName string) ([]types.ServerConfig, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to read servers file: %w", err)
	}
	var doc struct {
		Servers []serverImport `yaml:"servers"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", fileName, err)
	}

	out := make([]types.ServerConfig, 0, len(doc.Servers))
	for _, s := range doc.Servers {
		out = append(out, types.ServerConfig{
			Name:               s.Name,
			Host:               s.Host,
			Port:               s.Port,
			Secret:             s.Secret,
			UseSSL:             s.TLS,
			InsecureSkipVerify: s.InsecureSkipVerify,
			Status:             types.StatusUnknown,
		})
	}
	return out, nil
}

func overrideFromEnvString(target *string, envName string) {
	if v := os.Getenv(envName); v != "" {
		*target = v
	}
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}
