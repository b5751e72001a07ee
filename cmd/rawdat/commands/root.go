package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"rawdat/pkg/app"
	"rawdat/pkg/config"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	// 全局应用实例，供子命令使用
	RD *app.App
	// logOutput 允许测试替换日志输出
	logOutput io.Writer
)

var rootCmd = &cobra.Command{
	Use:          "rawdat",
	Short:        "rawdat: inspect, build and distribute object data archives",
	SilenceUsage: true,
	// PersistentPreRunE 会在所有子命令执行前运行
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		slog.SetDefault(logger)

		// 测试可以预先注入 RD
		if RD != nil {
			return nil
		}
		var err error
		RD, err = app.NewApp(logger)
		if err != nil {
			return fmt.Errorf("failed to initialize rawdat: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if RD == nil {
			return nil
		}
		err := RD.Close()
		RD = nil
		return err
	},
}

// Execute 是入口
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	// 1. 全局参数 --config
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.rawdat/config.yaml)")

	// 2. 可以覆盖配置文件的参数，绑定到 Viper
	rootCmd.PersistentFlags().String("storage-path", "", "Directory of the disk archive store")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("chained", false, "Resolve nested links eagerly while loading")
	if err := bindFlags(); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to bind flag:", err)
		os.Exit(1)
	}
}

// flagKeys: 全局参数 -> Viper key
var flagKeys = map[string]string{
	"storage-path": "storage.path",
	"log-level":    "log.level",
	"chained":      "archive.chained",
}

// bindFlags 把全局参数绑定到对应的 Viper key (viper.Reset 之后需要重新绑定)
func bindFlags() error {
	for name, key := range flagKeys {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			return err
		}
	}
	return nil
}

// initConfig 读取配置文件和环境变量
func initConfig() {
	if err := config.Load(cfgFile); err != nil {
		fmt.Fprintln(os.Stderr, "Config error:", err)
		os.Exit(1)
	}
}

// newLogger 在终端上输出彩色日志，重定向时自动关闭颜色
func newLogger() *slog.Logger {
	out := logOutput
	noColor := true
	if out == nil {
		out = colorable.NewColorable(os.Stderr)
		noColor = !isatty.IsTerminal(os.Stderr.Fd())
	}
	return slog.New(tint.NewHandler(out, &tint.Options{
		Level:      config.LogLevel(),
		TimeFormat: "15:04:05.000",
		NoColor:    noColor,
	}))
}
