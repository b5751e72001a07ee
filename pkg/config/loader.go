package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DirName 是本地工作目录 (配置、定位库、目录数据库)
const DirName = ".rawdat"

// Load 初始化 Viper 配置
// cfgFile: 可选，用户显式指定的配置文件路径
func Load(cfgFile string) error {
	// 1. 设置默认值 (Defaults)
	setDefaults()

	// 2. 配置搜索路径
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}

		// 搜索顺序：当前目录 -> ./.rawdat -> ~/.rawdat
		viper.AddConfigPath(".")
		viper.AddConfigPath(DirName)
		viper.AddConfigPath(filepath.Join(home, DirName))

		viper.SetConfigType("yaml")
		viper.SetConfigName("config") // 找 config.yaml
	}

	// 3. 读取环境变量 (RAWDAT_STORAGE_TYPE 等)
	viper.SetEnvPrefix("RAWDAT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 4. 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		// 没找到配置文件不算错：默认值和环境变量仍然有效
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("fatal error config file: %w", err)
		}
		slog.Debug("no config file found, using defaults and env vars")
	} else {
		slog.Debug("using config file", slog.String("path", viper.ConfigFileUsed()))
	}

	return nil
}

func setDefaults() {
	// 归档读取
	viper.SetDefault("archive.pool_buffers", 10)
	viper.SetDefault("archive.buffer_size", 4096)
	viper.SetDefault("archive.chained", false)

	// 存储默认值
	wd, _ := os.Getwd()
	viper.SetDefault("storage.type", "disk")
	viper.SetDefault("storage.path", filepath.Join(wd, DirName, "archives"))
	viper.SetDefault("storage.s3.region", "us-east-1")

	// 缓存 (redis_url 为空表示不启用)
	viper.SetDefault("cache.redis_url", "")
	viper.SetDefault("cache.ttl", 24*time.Hour)

	// 目录数据库
	viper.SetDefault("catalog.driver", "sqlite")
	viper.SetDefault("catalog.dsn", filepath.Join(wd, DirName, "catalog.db"))

	// 跨归档定位库 (为空表示只在内存中记录)
	viper.SetDefault("manager.locator_path", filepath.Join(wd, DirName, "locator"))

	viper.SetDefault("log.level", "info")
}

// LogLevel 解析 log.level ("debug", "info", "warn", "error")
func LogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log.level"))); err != nil {
		return slog.LevelInfo
	}
	return level
}
