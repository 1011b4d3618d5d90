// Command ordersrv is the process-level entrypoint: it wires config,
// recovery, the gateway, and the publisher under a supervised goroutine
// tree with signal-based shutdown. Grounded on the teacher's
// cmd/server/server.go, the newer of its two near-duplicate mains — it
// wires the engine to its reporter before running, closer to this
// design's engine/publisher separation than cmd/main.go's construction
// order (which passes an unbuilt server into engine.New).
package main

import (
	"context"
	"flag"
	"os/signal"
	"runtime"
	"syscall"

	"fenrir/internal/config"
	"fenrir/internal/domain"
	"fenrir/internal/gateway"
	"fenrir/internal/recovery"
	"fenrir/internal/ring"
	"fenrir/internal/snapshot"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (defaults used if omitted)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *configPath).Msg("ordersrv: failed to load config")
		}
		cfg = loaded
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	rec, err := recovery.Recover(cfg.DataDir, cfg.ArenaCapacity)
	if err != nil {
		log.Fatal().Err(err).Msg("ordersrv: recovery failed")
	}
	defer rec.Wal.Close()

	publisher, err := gateway.NewPublisher(cfg.MulticastAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("ordersrv: failed to open multicast publisher")
	}
	defer publisher.Close()

	producer, consumer := ring.New[domain.EngineCommand](cfg.RingCapacity)
	gw := gateway.New(cfg.ListenAddr, producer, cfg.WorkerPoolSize)

	t, ctx := tomb.WithContext(ctx)

	t.Go(func() error {
		return gw.Run(ctx)
	})

	t.Go(func() error {
		runMatcher(t, rec, consumer, publisher, cfg.SnapshotInterval, cfg.DataDir, gw)
		return nil
	})

	log.Info().
		Str("listenAddr", cfg.ListenAddr).
		Str("multicastAddr", cfg.MulticastAddr).
		Str("dataDir", cfg.DataDir).
		Msg("ordersrv: running")

	<-ctx.Done()
	gw.RequestShutdown()

	if err := t.Wait(); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("ordersrv: supervisor exited with error")
	}
	log.Info().Msg("ordersrv: shut down")
}

// runMatcher is the matcher goroutine: it spins on the ring consumer,
// appending every popped command to the WAL before applying it to the
// engine, publishing one execution report per fill, and periodically
// snapshotting book state. It never blocks; it cooperatively yields
// while the ring is empty and exits once the gateway signals shutdown
// and the ring has been fully drained.
func runMatcher(
	t *tomb.Tomb,
	rec *recovery.Result,
	consumer *ring.Consumer[domain.EngineCommand],
	publisher *gateway.Publisher,
	snapshotInterval uint64,
	dataDir string,
	gw *gateway.Gateway,
) {
	snapDir := dataDir + "/" + recovery.SnapshotDirName

	for {
		cmd, err := consumer.Pop()
		if err != nil {
			if gw.ShuttingDown() {
				log.Info().Msg("ordersrv: matcher drained ring, exiting")
				return
			}
			select {
			case <-t.Dying():
				return
			default:
			}
			yield()
			continue
		}

		if _, err := rec.Wal.Append(cmd); err != nil {
			log.Error().Err(err).Msg("ordersrv: wal append failed, halting matcher")
			return
		}

		result, err := rec.Engine.Apply(cmd)
		if err != nil {
			log.Warn().Err(err).Msg("ordersrv: engine rejected command")
			continue
		}

		if newOrder, ok := cmd.(domain.NewOrderCommand); ok {
			for _, fill := range result.Fills {
				if err := publisher.PublishFill(
					fill.TakerOrderID,
					fill.MakerOrderID,
					fill.Price,
					fill.Quantity,
					newOrder.Order.Timestamp,
				); err != nil {
					log.Error().Err(err).Msg("ordersrv: failed to publish execution report")
				}
			}
		}

		if snapshotInterval > 0 && rec.Wal.RecordCount()%snapshotInterval == 0 {
			snap := snapshot.Capture(rec.Engine, rec.Wal.RecordCount())
			if path, err := snap.Save(snapDir); err != nil {
				log.Error().Err(err).Msg("ordersrv: snapshot save failed")
			} else {
				log.Info().Str("path", path).Uint64("walRecordCount", snap.WalRecordCount).Msg("ordersrv: snapshot captured")
			}
			if err := rec.Wal.FlushAsync(); err != nil {
				log.Error().Err(err).Msg("ordersrv: wal flush failed")
			}
		}
	}
}

func yield() {
	// runtime.Gosched lets the gateway's goroutines run before the
	// matcher polls the ring again, without parking the matcher on a
	// timer. (time.Sleep(0) would return at once without yielding.)
	runtime.Gosched()
}
