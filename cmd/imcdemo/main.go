// Command imcdemo wires together the IMC runtime's packages the way a host
// application attaching plug-ins would: it builds a Bus and an API
// dispatch Table, bootstraps the core API set, attaches a demo plug-in
// through the entrypoint contract, runs a pub/sub round-trip and an RPC
// echo, and serves the read-only diagnostics HTTP surface.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/coremodular/imc/apiregistry"
	"github.com/coremodular/imc/bus"
	"github.com/coremodular/imc/diagnostics"
	"github.com/coremodular/imc/imclog"
	"github.com/coremodular/imc/payload"
	"github.com/coremodular/imc/plugin"
)

func main() {
	addr := flag.String("addr", ":8089", "diagnostics HTTP listen address")
	flag.Parse()

	logger := imclog.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stdout, nil)))
	b := bus.New(bus.DefaultConfig())
	table := apiregistry.New()
	registerCoreAPIs(table, b)

	runtime := plugin.NewRuntime(table)
	if _, err := runtime.Attach("imcdemo.echo", echoEntrypoint); err != nil {
		logger.Error("plugin attach failed", "error", err)
		os.Exit(1)
	}
	defer runtime.DetachAll()

	received := make([][]byte, 0, 10)
	sub, err := b.Subscribe("bench.pubsub", func(env *bus.Envelope) error {
		received = append(received, env.Payload.Bytes())
		return nil
	})
	if err != nil {
		logger.Error("subscribe failed", "error", err)
		os.Exit(1)
	}
	defer b.Unsubscribe(sub)

	for i := 0; i < 10; i++ {
		if _, err := b.Publish("bench.pubsub", []byte{byte(i)}); err != nil {
			logger.Error("publish failed", "error", err)
		}
	}
	b.Pump(0, bus.DefaultPanicLogger(logger))
	logger.Info("pub/sub demo complete", "delivered", len(received))

	echoID, err := b.RegisterRpc("svc.echo", echoRPC, nil)
	if err != nil {
		logger.Error("rpc register failed", "error", err)
		os.Exit(1)
	}
	fut, err := b.CallRpc(context.Background(), echoID, payload.NewCopy([]byte("hi")))
	if err != nil {
		logger.Error("rpc call failed", "error", err)
	} else {
		result, _ := fut.GetResult()
		logger.Info("rpc echo complete", "response", string(result.Bytes()))
		fut.Release()
	}

	srv := diagnostics.NewServer(b, table, []string{"bench.pubsub"})
	snapshotter := diagnostics.NewStatsSnapshotter(b, logger)
	if err := snapshotter.Start("@every 30s"); err != nil {
		logger.Error("snapshotter start failed", "error", err)
	}
	defer snapshotter.Stop()

	logger.Info("serving diagnostics", "addr", *addr)
	httpServer := &http.Server{Addr: *addr, Handler: srv, ReadHeaderTimeout: 5 * time.Second}
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("http server stopped", "error", err)
		os.Exit(1)
	}
}

func echoRPC(ctx context.Context, id uint32, request *payload.Payload, userData any) (*payload.Payload, error) {
	return payload.NewCopy(request.Bytes()), nil
}

// echoEntrypoint satisfies plugin.Entrypoint to demonstrate the
// attach/detach contract: on attach it looks up "svc.echo" through the
// GetAPIID resolver and discards the result (svc.echo is a bus RPC, not a
// dispatch-table entry, so the lookup reports not found), and it does
// nothing on detach, since it holds no resources of its own.
func echoEntrypoint(op plugin.Op, args any) error {
	switch op {
	case plugin.Attach:
		attachArgs := args.(*plugin.AttachArgs)
		_, _ = attachArgs.GetAPIID("svc.echo")
	case plugin.Detach:
	}
	return nil
}

func registerCoreAPIs(table *apiregistry.Table, b *bus.Bus) {
	descriptors := []apiregistry.CoreAPIDescriptor{
		{
			Name: "imc.publish",
			Register: func(t *apiregistry.Table) error {
				return t.Register(apiregistry.RangeIMCStart, "imc.publish", b.Publish, apiregistry.CapPriorityFairness)
			},
		},
		{
			Name:         "imc.subscribe",
			Dependencies: []string{"imc.publish"},
			Register: func(t *apiregistry.Table) error {
				return t.Register(apiregistry.RangeIMCStart+1, "imc.subscribe", b.Subscribe, apiregistry.CapSharedExternalPayload)
			},
		},
		{
			Name:         "imc.call_rpc",
			Dependencies: []string{"imc.subscribe"},
			Register: func(t *apiregistry.Table) error {
				return t.Register(apiregistry.RangeIMCStart+2, "imc.call_rpc", b.CallRpc, apiregistry.CapSynchronousFutureCallbacks)
			},
		},
	}
	if err := apiregistry.Bootstrap(table, descriptors); err != nil {
		slog.Error("core api bootstrap failed", "error", err)
		os.Exit(1)
	}
}
