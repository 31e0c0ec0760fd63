package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/tusharrohilla/ppdbg"
)

func newWatchCmd(g *globalFlags) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:     "watch <topic> [topic ...]",
		Short:   "Print every message of the given topics until interrupted",
		Example: `  ppdbg watch log cpu.stepping game.start game.quit`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			closed := make(chan error, 1)
			opts := []ppdbg.Option{ppdbg.WithOnClose(func(err error) {
				select {
				case closed <- err:
				default:
				}
			})}
			if metricsAddr != "" {
				reg := prometheus.NewRegistry()
				m, err := ppdbg.NewMetrics(reg)
				if err != nil {
					return err
				}
				stop := serveMetrics(metricsAddr, reg)
				defer stop()
				opts = append(opts, ppdbg.WithMetrics(m))
			}
			client, logger, err := g.connect(cmd.Context(), opts...)
			if err != nil {
				return err
			}
			defer client.Close()
			g.followConfig(cmd.Context(), logger)

			handlers := make(map[string]ppdbg.Handler, len(args))
			for _, topic := range args {
				topic := topic
				handlers[topic] = func(payload ppdbg.Message) { printEvent(topic, payload) }
			}
			token := client.Listen(handlers)
			defer client.Forget(token)

			select {
			case <-cmd.Context().Done():
				return nil
			case err := <-closed:
				if err != nil {
					pterm.Warning.Printfln("Debugger disconnected: %v", err)
				} else {
					pterm.Info.Println("Debugger disconnected")
				}
				return nil
			}
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	return cmd
}

// serveMetrics exposes reg on addr/metrics until the returned func is called.
func serveMetrics(addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			pterm.Warning.Printfln("metrics server: %v", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func printEvent(topic string, payload ppdbg.Message) {
	body, err := json.Marshal(payload)
	if err != nil {
		body = []byte(err.Error())
	}
	pterm.Printfln("%s %s %s",
		pterm.Gray(time.Now().Format("15:04:05.000")),
		pterm.Cyan(topic),
		string(body))
}
