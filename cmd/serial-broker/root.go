package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/linjuya-lu/serial_broker_go/internal/broker"
	"github.com/linjuya-lu/serial_broker_go/internal/config"
	"github.com/linjuya-lu/serial_broker_go/internal/mqtt"
	"github.com/linjuya-lu/serial_broker_go/internal/protocol"
	"github.com/linjuya-lu/serial_broker_go/internal/race"
)

const serviceName = "serial-broker"

// shutdownGrace 是关闭 HTTP 服务时等待连接结束的时长
const shutdownGrace = 2 * time.Second

type rootCmd struct {
	cmd      *cobra.Command
	exitCode int
}

func newRootCmd() *rootCmd {
	r := &rootCmd{}
	r.cmd = &cobra.Command{
		Use:   serviceName,
		Short: "Own the serial ports of this host and serve them to clients",
		Long: `serial-broker opens serial ports and Modbus RTU slaves on behalf of its clients.

Clients connect over WebSocket (ws://<listen>/ws) or, when enabled, over MQTT and
address every binding by tag. The process exits with code 0 after the idle timeout
passes without WebSocket clients, and with code 10 on kill-process.

Example usage:
  serial-broker --config ./res/serial-broker.yaml
  serial-broker --listen 0.0.0.0:3000`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			code, err := serve(cmd.Context(), cfg)
			r.exitCode = code
			return err
		},
	}
	r.cmd.Flags().StringP("config", "c", "", "path to the YAML configuration file")
	r.cmd.Flags().StringP("listen", "l", "", "listen address, overrides Broker.ListenAddr")
	r.cmd.Flags().String("log-level", "", "log level, overrides Broker.LogLevel")
	return r
}

func (r *rootCmd) execute() (int, error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := r.cmd.ExecuteContext(ctx); err != nil {
		return 1, err
	}
	return r.exitCode, nil
}

// loadConfig 读取 --config 指定的文件（未指定时使用默认值），命令行参数覆盖文件中的值
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cfg, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Broker.ListenAddr = listen
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Broker.LogLevel = level
	}
	return cfg, nil
}

// serve 运行 broker 直到收到信号、空闲超时或 kill-process，返回进程退出码
func serve(parent context.Context, cfg config.Config) (int, error) {
	lc := logger.NewClient(serviceName, cfg.Broker.LogLevel)

	pool, err := race.NewPool(cfg.Broker.HardwareWorkers)
	if err != nil {
		return 1, fmt.Errorf("create hardware pool: %w", err)
	}
	defer pool.Release()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var (
		exitMu   sync.Mutex
		exitCode int
	)
	exitWith := func(code int) {
		exitMu.Lock()
		exitCode = code
		exitMu.Unlock()
		cancel()
	}

	b := broker.New(broker.Options{
		Hardware: broker.DefaultHardware(cfg.Broker.DEPins()),
		Executor: broker.ExecutorConfig{
			Pool:           pool,
			Timeout:        cfg.Broker.ModbusTimeout,
			CriticalErrors: cfg.Broker.CriticalErrors,
			Alerter:        &broker.BannerAlerter{W: os.Stderr, LC: lc},
		},
		OnKill: func() {
			lc.Warn("kill-process received, exiting")
			exitWith(protocol.KillExitCode)
		},
	}, lc)
	ws := broker.NewWSServer(b, lc)
	srv := &http.Server{Addr: cfg.Broker.ListenAddr, Handler: ws.Handler(), ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.Run(gctx) })
	g.Go(func() error {
		lc.Infof("serial broker listening on %s%s", cfg.Broker.ListenAddr, broker.WSPath)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on %s: %w", cfg.Broker.ListenAddr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer scancel()
		return srv.Shutdown(sctx)
	})

	if cfg.Broker.MQTT.Enabled {
		mc, err := mqtt.NewClient(cfg.Broker.MQTT.ClientOptions())
		if err != nil {
			cancel()
			_ = g.Wait()
			return 1, fmt.Errorf("connect mqtt %s: %w", cfg.Broker.MQTT.Broker, err)
		}
		defer mc.Disconnect(250)
		if err := broker.NewMQTTBinding(b, mc, cfg.Broker.MQTT.Topic, lc).Start(gctx); err != nil {
			cancel()
			_ = g.Wait()
			return 1, fmt.Errorf("subscribe %s: %w", mqtt.RequestTopic(cfg.Broker.MQTT.Topic), err)
		}
		lc.Infof("serial broker serving mqtt on %s", mqtt.RequestTopic(cfg.Broker.MQTT.Topic))
	}

	// MQTT 客户端没有连接数可统计，启用 MQTT 时不做空闲退出
	if cfg.Broker.IdleTimeout > 0 && !cfg.Broker.MQTT.Enabled {
		g.Go(func() error {
			if broker.WatchIdle(gctx, ws.Clients, cfg.Broker.IdleTimeout, cfg.Broker.PollInterval) {
				lc.Infof("no clients for %s, exiting", cfg.Broker.IdleTimeout)
				exitWith(0)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		lc.Errorf("serial broker stopped: %v", err)
		return 1, err
	}
	exitMu.Lock()
	defer exitMu.Unlock()
	return exitCode, nil
}
