// Warden - GPU 集群基础设施守护程序
// 这是主程序入口文件
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/warden-project/warden/internal/allocator"
	"github.com/warden-project/warden/internal/config"
	"github.com/warden-project/warden/internal/emergency"
	"github.com/warden-project/warden/internal/hostmetrics"
	"github.com/warden-project/warden/internal/journal"
	"github.com/warden-project/warden/internal/logger"
	"github.com/warden-project/warden/internal/server"
	"github.com/warden-project/warden/internal/shutdown"
	"github.com/warden-project/warden/internal/supervisor"
	"github.com/warden-project/warden/internal/telemetry"
	"github.com/warden-project/warden/internal/version"
	"github.com/warden-project/warden/internal/workload"
	"github.com/warden-project/warden/internal/ws"
)

func main() {
	// 命令行参数
	configPath := flag.String("config", "", "配置文件路径")
	showVersion := flag.Bool("version", false, "显示版本信息")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetVersionInfo().FullString())
		os.Exit(0)
	}

	// 加载配置
	var configMgr *config.Manager
	if *configPath != "" {
		configMgr = config.NewManagerWithPath(*configPath)
	} else {
		configMgr = config.NewManager()
	}
	cfg, err := configMgr.Load()
	if err != nil {
		fmt.Printf("警告: 无法加载配置文件，使用默认配置: %v\n", err)
		cfg = config.DefaultConfig()
	}

	// 初始化日志系统
	if err := logger.InitLogger(&cfg.Log); err != nil {
		fmt.Printf("警告: 无法初始化日志系统: %v\n", err)
	}

	logger.Info("Warden 正在启动...")
	logger.Infof("版本: %s", version.Version)
	logger.Infof("配置文件: %s", configMgr.GetConfigPath())

	// 遥测提供者：NVML 优先，nvidia-smi 兜底
	gpus := telemetry.NewProvider(&telemetry.Config{
		SMIPath:      cfg.Telemetry.SMIPath,
		QueryTimeout: time.Duration(cfg.Telemetry.QueryTimeout) * time.Second,
		Logger:       logger.GetLogger(),
	})
	host := hostmetrics.NewSampler(time.Duration(cfg.Telemetry.CPUSampleWindow) * time.Millisecond)

	// 分配日志
	jrnl, err := journal.New(&cfg.Journal)
	if err != nil {
		logger.Fatalf("无法初始化 journal: %v", err)
	}

	alloc := allocator.New(cfg.Safety, gpus, host, jrnl)
	workloads := workload.NewManager(5 * time.Second)

	hub := ws.NewHub()
	hub.Start()

	cooldown := time.Duration(cfg.Monitor.CooldownSeconds) * time.Second
	protocol := emergency.NewProtocol(cooldown, alloc, gpus, host, workloads, jrnl, hub)

	interval := time.Duration(cfg.Monitor.IntervalSeconds) * time.Second
	sup := supervisor.New(interval, gpus, host, alloc, protocol, hub)
	sup.Start()

	srv := server.NewServer(cfg.Server, server.Deps{
		GPUs:      gpus,
		Host:      host,
		Allocator: alloc,
		Workloads: workloads,
		Protocol:  protocol,
		Sup:       sup,
		Journal:   jrnl,
		Hub:       hub,
	})
	if err := srv.Start(); err != nil {
		logger.Fatalf("无法启动 HTTP 服务器: %v", err)
	}

	// 注册关闭钩子
	shutdownMgr := shutdown.NewManager(30 * time.Second)
	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		return srv.Shutdown(ctx)
	}, shutdown.PriorityCritical)
	shutdownMgr.Register("supervisor", func(ctx context.Context) error {
		sup.Stop()
		return nil
	}, shutdown.PriorityHigh)
	shutdownMgr.Register("websocket-hub", func(ctx context.Context) error {
		hub.Stop()
		return nil
	}, shutdown.PriorityHigh)
	shutdownMgr.Register("journal", func(ctx context.Context) error {
		return jrnl.Close()
	}, shutdown.PriorityLow)
	shutdownMgr.Register("logger", func(ctx context.Context) error {
		return logger.GetLogger().Close()
	}, shutdown.PriorityLow)

	shutdownMgr.Start()
	logger.Infof("Warden 已就绪，监听 %s:%d", cfg.Server.Host, cfg.Server.Port)

	// 等待关闭信号
	<-shutdownMgr.Done()
	shutdownMgr.Wait()
}
