package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/stellarlinkco/shopclerk/internal/config"
	"github.com/stellarlinkco/shopclerk/internal/driver"
	"github.com/stellarlinkco/shopclerk/internal/engine"
	"github.com/stellarlinkco/shopclerk/internal/server"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "shopclerk",
	Short: "shopclerk - chat session tracking and auto-reply engine",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the engine and the control API",
	RunE:  runRun,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write default config and example rules",
	RunE:  runInit,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show shopclerk configuration",
	RunE:  runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("shopclerk", version)
	},
}

var configFlag string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "path to config file")
	rootCmd.AddCommand(runCmd, initCmd, statusCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newDriver builds the configured conversation driver.
func newDriver(cfg *config.Config) (driver.Driver, error) {
	switch cfg.Driver.Type {
	case "", "telegram":
		return driver.NewTelegram(cfg.Driver.Telegram)
	default:
		return nil, fmt.Errorf("unknown driver type %q", cfg.Driver.Type)
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFlag)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	drv, err := newDriver(cfg)
	if err != nil {
		return err
	}

	eng := engine.New(cfg, drv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	srv := server.New(cfg.Server, eng)
	if err := srv.Start(ctx); err != nil {
		_ = eng.Stop()
		return fmt.Errorf("start server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("shutting down...")
	if err := srv.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "stop server: %v\n", err)
	}
	if eng.IsRunning() {
		if err := eng.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "stop engine: %v\n", err)
		}
	}
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	cfgPath := configFlag
	if cfgPath == "" {
		cfgPath = config.ConfigPath()
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig(), cfgPath); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	rulesPath := filepath.Join(filepath.Dir(cfgPath), "rules.yaml")
	writeIfNotExists(rulesPath, defaultRulesYAML)

	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set the driver token\n", cfgPath)
	fmt.Printf("  2. Adjust auto-reply rules in %s\n", rulesPath)
	fmt.Println("  3. Run 'shopclerk run'")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFlag)
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Driver: %s\n", cfg.Driver.Type)
	if cfg.Driver.Telegram.Token != "" {
		fmt.Println("Telegram token: set")
	} else {
		fmt.Println("Telegram token: not set")
	}
	fmt.Printf("Check interval: %ds\n", cfg.Poller.CheckInterval)
	fmt.Printf("Retry: %d times, %ds delay\n", cfg.Message.RetryTimes, cfg.Message.RetryDelay)
	fmt.Printf("Inactive timeout: %ds\n", cfg.Session.InactiveTimeout)
	fmt.Printf("Auto-reply: enabled=%v rules=%s\n", cfg.AutoReply.Enabled, cfg.AutoReply.RulesFile)
	fmt.Printf("API: %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	return nil
}

func writeIfNotExists(path, content string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		_ = os.MkdirAll(filepath.Dir(path), 0755)
		_ = os.WriteFile(path, []byte(content), 0644)
		fmt.Printf("  Created: %s\n", path)
	}
}

const defaultRulesYAML = `rules:
  - keywords: ["价格", "多少钱"]
    reply: "您好，具体价格请查看商品详情页。"
  - keywords: ["发货", "物流"]
    reply: "您好，订单会在48小时内发出。"
  - keywords: ["hello", "hi"]
    reply: "Hello! A human will be with you shortly."
`
