package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"socks5_inspector/internal/app"
	"socks5_inspector/internal/shared/config"
	"socks5_inspector/internal/shared/logger"
	manager "socks5_inspector/proxypool"
	"socks5_inspector/proxypool/export"
	"socks5_inspector/proxypool/source"
)

func main() {
	configDir := flag.String("configdir", "configs", "Path to config directory")
	input := flag.String("input", "", "Proxy list file, one endpoint per line ('-' for stdin)")
	inputURL := flag.String("url", "", "Fetch the proxy list from a URL (plain text or HTML table)")
	out := flag.String("out", "", "Write the batch results as CSV to this path")
	successOnly := flag.Bool("success-only", false, "Only export successful records to -out")
	serve := flag.Bool("serve", false, "Run the HTTP API instead of a single batch")
	flag.Parse()

	iniPath := filepath.Join(*configDir, "inspector.ini")

	// 1. 加载 .ini 行为配置
	cfg, err := config.Load(iniPath)
	if err != nil {
		// Use standard fmt before logger is initialized.
		fmt.Fprintf(os.Stderr, "Fatal: Failed to load config file '%s': %v\n", iniPath, err)
		os.Exit(1)
	}

	// 1.1 初始化日志系统
	if err := logger.Init(cfg.LogConf); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. 组装并运行
	appServer, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize inspector")
	}

	if *serve {
		if err := appServer.Run(ctx); err != nil {
			logger.Fatal().Err(err).Msg("Server failed")
		}
		return
	}
	defer appServer.Stop()

	var src source.Source
	switch {
	case *inputURL != "":
		src = source.NewURLSource(*inputURL)
	case *input != "":
		src = source.NewFileSource(*input)
	default:
		src = source.NewFileSource(source.StdinPath)
	}

	report, err := appServer.CheckSource(ctx, src)
	if errors.Is(err, manager.ErrEmptyInput) {
		fmt.Fprintln(os.Stderr, "请输入至少一个代理地址")
		os.Exit(2)
	}
	if err != nil {
		logger.Error().Err(err).Msg("Batch failed")
		os.Exit(1)
	}

	printReport(os.Stdout, report)
	if report.PersistError != "" {
		fmt.Fprintf(os.Stderr, "警告: 保存结果失败: %s\n", report.PersistError)
	}

	if *out != "" {
		if err := writeCSV(*out, report, *successOnly); err != nil {
			logger.Error().Err(err).Str("path", *out).Msg("Failed to write CSV")
			os.Exit(1)
		}
		logger.Info().Str("path", *out).Msg("CSV written.")
	}
}

func printReport(w io.Writer, report *manager.Report) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "原始地址\t状态\t延迟\t出口 IP\t国家/地区\t运营商")
	for _, r := range report.Records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.Raw, r.Status.Label(), r.Latency, r.ExitIP, r.Region, r.ISP)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n检测完成: %d 个, 成功 %d 个, 已保存 %d 条 (batch %s)\n",
		report.Total, report.Succeeded, report.Persisted, report.BatchID)
}

func writeCSV(path string, report *manager.Report, successOnly bool) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := export.WriteCSV(f, report.Records, export.Options{SuccessOnly: successOnly}); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
