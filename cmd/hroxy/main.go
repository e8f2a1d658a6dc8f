// Package main is an application entrypoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/Semior001/hroxy/pkg/admin"
	"github.com/Semior001/hroxy/pkg/discovery"
	"github.com/Semior001/hroxy/pkg/discovery/consulprovider"
	"github.com/Semior001/hroxy/pkg/discovery/fileprovider"
	"github.com/Semior001/hroxy/pkg/proxy"
	"github.com/cappuccinotm/slogx"
	"github.com/cappuccinotm/slogx/slogm"
	consulapi "github.com/hashicorp/consul/api"
	"github.com/jessevdk/go-flags"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

var opts struct {
	Addr    string        `short:"a" long:"addr"    env:"ADDR"    default:":8080" description:"Address to listen on"`
	Timeout time.Duration `short:"t" long:"timeout" env:"TIMEOUT" default:"30s"   description:"Default forwarding deadline, 0 to disable"`
	File    struct {
		Name  string        `long:"name"  env:"NAME"  default:"hroxy.yml" description:"Config file name"`
		Delay time.Duration `long:"delay" env:"DELAY" default:"500ms"     description:"Delay before applying the changes"`
	} `group:"file" namespace:"file" env-namespace:"FILE"`
	Stdin  bool `long:"stdin" env:"STDIN" description:"Read the config from stdin instead of the file"`
	Consul struct {
		Addr string        `long:"addr" env:"ADDR" default:"127.0.0.1:8500" description:"Consul agent address"`
		Key  string        `long:"key"  env:"KEY"                           description:"KV key with the config, enables the consul provider"`
		Wait time.Duration `long:"wait" env:"WAIT" default:"5m"             description:"Maximum duration of a blocking query"`
	} `group:"consul" namespace:"consul" env-namespace:"CONSUL"`
	Admin struct {
		Addr string `long:"addr" env:"ADDR" description:"Address of the admin server with metrics and health, disabled if empty"`
	} `group:"admin" namespace:"admin" env-namespace:"ADMIN"`
	Debug bool `long:"debug" env:"DEBUG" description:"Enable debug mode"`
}

var version = "unknown"

func getVersion() string {
	bi, ok := debug.ReadBuildInfo()
	if ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		return bi.Main.Version
	}
	return version
}

func main() {
	_, _ = fmt.Fprintf(os.Stderr, "hroxy %s\n", getVersion())

	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}

	setupLog(opts.Debug)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { // catch signal and invoke graceful termination
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		sig := <-stop
		slog.Warn("caught signal", slog.Any("signal", sig))
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("failed to start hroxy", slogx.Error(err))
		os.Exit(1)
	}
}

func setupLog(debug bool) {
	defer slog.Info("prepared logger", slog.Bool("debug", debug))
	handlerOpts := &slog.HandlerOptions{Level: slog.LevelInfo}
	handler := slog.Handler(slog.NewJSONHandler(os.Stderr, handlerOpts))

	if debug {
		handlerOpts.Level = slog.LevelDebug
		handlerOpts.AddSource = true
		handlerOpts.ReplaceAttr = func(_ []string, a slog.Attr) slog.Attr {
			// shorten source to just file:line
			if a.Key == slog.SourceKey {
				src := a.Value.Any().(*slog.Source)
				file := src.File[strings.LastIndex(src.File, "/")+1:]
				return slog.String("s", fmt.Sprintf("%s:%d", file, src.Line))
			}
			return a
		}
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)

		if isatty.IsTerminal(os.Stderr.Fd()) {
			handler = tint.NewHandler(os.Stderr, &tint.Options{
				Level:       handlerOpts.Level,
				AddSource:   true,
				TimeFormat:  time.TimeOnly,
				ReplaceAttr: handlerOpts.ReplaceAttr,
			})
		}
	}

	handler = slogx.NewChain(handler,
		slogm.RequestID(),
		slogm.StacktraceOnError(),
		slogm.TrimAttrs(1024), // 1Kb
	)

	slog.SetDefault(slog.New(handler))
}

func run(ctx context.Context) error {
	providers, err := makeProviders()
	if err != nil {
		return fmt.Errorf("make providers: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	dsvc := &discovery.Service{Providers: providers, Metrics: discovery.NewMetrics(reg)}
	if err = dsvc.Load(ctx); err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	popts := []proxy.Option{
		proxy.Version(getVersion()),
		proxy.Timeout(opts.Timeout),
		proxy.WithMetrics(proxy.NewMetrics(reg)),
	}
	if opts.Debug {
		popts = append(popts, proxy.Debug())
	}
	srv := proxy.NewServer(dsvc, popts...)

	ewg, ctx := errgroup.WithContext(ctx)
	ewg.Go(func() error {
		if err := dsvc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("discovery service: %w", err)
		}
		return nil
	})
	ewg.Go(func() error {
		if err := srv.Listen(opts.Addr); err != nil {
			return fmt.Errorf("proxy server: %w", err)
		}
		return nil
	})
	ewg.Go(func() error {
		<-ctx.Done()
		srv.Close()
		return nil
	})

	if opts.Admin.Addr != "" {
		aopts := []admin.Option{admin.Version(getVersion()), admin.WithGatherer(reg)}
		if opts.Debug {
			aopts = append(aopts, admin.Debug())
		}
		asrv := admin.NewServer(dsvc, aopts...)

		ewg.Go(func() error {
			if err := asrv.Listen(opts.Admin.Addr); err != nil {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
		ewg.Go(func() error {
			<-ctx.Done()
			asrv.Close()
			return nil
		})
	}

	if err := ewg.Wait(); err != nil {
		return err
	}

	return nil
}

func makeProviders() ([]discovery.Provider, error) {
	var res []discovery.Provider

	if opts.Consul.Key != "" {
		cfg := consulapi.DefaultConfig()
		cfg.Address = opts.Consul.Addr

		cl, err := consulapi.NewClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("make consul client: %w", err)
		}

		res = append(res, &consulprovider.Consul{
			Client:   cl,
			Key:      opts.Consul.Key,
			WaitTime: opts.Consul.Wait,
		})
	}

	if opts.Stdin {
		res = append(res, &fileprovider.Stdin{})
	}

	if len(res) == 0 {
		res = append(res, &fileprovider.File{
			FileName: opts.File.Name,
			Delay:    opts.File.Delay,
		})
	}

	return res, nil
}
