package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/media-hub/media-hub/internal/config"
	"github.com/media-hub/media-hub/internal/logging"
	"github.com/media-hub/media-hub/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	getURL      string
	materialize bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}
	if opts.materialize && opts.getURL == "" {
		fmt.Fprintln(stdErr, "--materialize 需要与 --get 一起使用")
		return 2
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["storage_path"] = cfg.Global.StoragePath
		fields["temp_dir"] = cfg.Global.TempDir
		fields["key_encoding"] = cfg.Global.KeyEncoding
		fields["kinds"] = config.KindNames(cfg.Kinds)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("config_check_passed")
		return 0
	}

	// 一次性取数时结果写到 stdout，日志改写到 stderr 以免混在一起。
	if opts.getURL != "" && cfg.Global.LogFilePath == "" {
		logger.SetOutput(stdErr)
	}

	// 启动顺序：配置 → 日志 → 缓存层 → 编排器 → 物化器 → sidecar，
	// 所有请求共享同一组缓存实例。
	comps, err := buildComponents(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化组件失败: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.getURL != "" {
		return runGet(ctx, comps, opts)
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage_path"] = cfg.Global.StoragePath
	fields["disk_enabled"] = comps.disk.Err() == nil
	fields["kinds"] = comps.kinds.Names()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("startup_complete")

	if err := serve(ctx, cfg, comps, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// runGet 解析单个标识符并打印缓存键、命中层级与大小；--materialize 时额外输出文件路径。
func runGet(ctx context.Context, comps *components, opts cliOptions) int {
	result, err := comps.orchestrator.Resolve(ctx, opts.getURL)
	if err != nil {
		fmt.Fprintf(stdErr, "获取失败: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdOut, "key=%s source=%s size=%d\n", result.Key, result.Source, len(result.Data))

	if opts.materialize {
		path, err := comps.artifacts.Materialize(result.Data, comps.kinds.ArtifactExt(opts.getURL))
		if err != nil {
			fmt.Fprintf(stdErr, "物化失败: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdOut, "path=%s\n", path)
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("media-hub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag  string
		checkOnly   bool
		showVer     bool
		getURL      string
		materialize bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（可被 MEDIA_HUB_CONFIG 提供；均为空时使用内置默认值）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")
	fs.StringVar(&getURL, "get", "", "获取单个媒体地址并输出缓存信息")
	fs.BoolVar(&materialize, "materialize", false, "与 --get 搭配，将内容写成临时文件并输出路径")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return cliOptions{}, errors.New("用法: media-hub [--config path] [--check-config] [--version] [--get url [--materialize]]")
		}
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("MEDIA_HUB_CONFIG")
	if configFlag != "" {
		path = configFlag
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
		getURL:      getURL,
		materialize: materialize,
	}, nil
}

func serve(ctx context.Context, cfg *config.Config, comps *components, logger *logrus.Logger) error {
	app, err := comps.newApp(cfg, logger)
	if err != nil {
		return err
	}

	go comps.runJanitor(ctx, cfg, logger)
	go func() {
		<-ctx.Done()
		if err := app.Shutdown(); err != nil {
			logger.WithError(err).Warn("shutdown_failed")
		}
	}()

	port := cfg.Global.ListenPort
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("sidecar_listening")

	err = app.Listen(fmt.Sprintf(":%d", port))
	if closeErr := comps.artifacts.Close(); closeErr != nil {
		logger.WithError(closeErr).Warn("artifact_cleanup_failed")
	}
	return err
}
