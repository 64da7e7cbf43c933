package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"headtrack-x/config"
	htlog "headtrack-x/log"
)

const Version = "1.0"

const defaultConfigPath = "configs/config.yaml"

func main() {
	var configPath string
	rootCmd := &cobra.Command{
		Use:   "headtrackd",
		Short: "头部姿态 UDP 遥测守护进程",
		Long: `headtrackd 以约 20Hz 向接收端发送头部姿态遥测，
通过子网广播自动发现接收端，并接收远端振动指令。

子命令 respond/send-command 用于在接收端一侧联调。`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config_path", defaultConfigPath, "配置文件路径（YAML）。如果是目录，则默认读取该目录下的 config.yaml")

	rootCmd.AddCommand(
		runCmd(&configPath),
		discoverCmd(&configPath),
		respondCmd(&configPath),
		sendCommandCmd(&configPath),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "输出版本并退出",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}

// loadConfig 读取配置并初始化日志。
// 默认路径不存在时使用内置默认配置；显式指定的路径不存在则报错。
func loadConfig(path string) (config.Config, error) {
	p := resolveConfigPath(path)
	cfg, err := config.Load(p)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) || path != defaultConfigPath {
			return config.Config{}, err
		}
		cfg = config.DefaultConfig()
	}
	if err := htlog.Init(cfg.Logging); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func resolveConfigPath(p string) string {
	if p == "" {
		return defaultConfigPath
	}
	st, err := os.Stat(p)
	if err != nil {
		return p
	}
	if st.IsDir() {
		return filepath.Join(p, "config.yaml")
	}
	return p
}

// signalContext 创建一个可被 SIGINT/SIGTERM 取消的 Context。
// 返回：
// - ctx: 监听信号并在收到信号时取消的上下文
// - cancel: 主动取消函数
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(ch)
	}()
	return ctx, cancel
}
