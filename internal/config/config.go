// Package config 负责集中式配置加载。
// 优先级: 环境变量 (HIVE_ 前缀) > 配置文件 (configs/config.yaml) > 内置默认值。
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 是进程的全量配置。
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Instance InstanceConfig `mapstructure:"instance"`
	Log      LogConfig      `mapstructure:"log"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Admin    AdminConfig    `mapstructure:"admin"`
}

// ServerConfig 是运维 HTTP 面的监听配置。
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// InstanceConfig 指定数据实例目录，主库与项目库都落在其下。
type InstanceConfig struct {
	Dir string `mapstructure:"dir"`
}

// LogConfig 控制结构化日志级别。
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// PoolConfig 控制连接池回收行为。
type PoolConfig struct {
	IdleTTL time.Duration `mapstructure:"idle_ttl"`
}

// AdminConfig 是默认管理员种子行的配置。密码为空时修复流程会生成
// 随机密码并打印到日志。
type AdminConfig struct {
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
}

// Load 加载配置。配置文件缺席不是错误，走默认值即可。
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("configs")
	v.AddConfigPath(".")

	v.SetDefault("server.port", 10311)
	v.SetDefault("instance.dir", "instance")
	v.SetDefault("log.level", "info")
	v.SetDefault("pool.idle_ttl", 5*time.Minute)
	v.SetDefault("admin.email", "admin@hivebase.local")
	v.SetDefault("admin.password", "")

	v.SetEnvPrefix("HIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		log.Println("信息: [Config] 未找到配置文件，使用默认值与环境变量。")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("非法的监听端口: %d", cfg.Server.Port)
	}
	return &cfg, nil
}
