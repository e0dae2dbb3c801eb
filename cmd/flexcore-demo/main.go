// Command flexcore-demo discovers a radio on the local network, opens
// a session over a WebSocket transport, and prints slice status
// updates until interrupted. It exists to exercise the library end to
// end, in the same spirit as the teacher's bridge command: flag-driven
// configuration and signal-based graceful shutdown, retargeted from
// running a server to driving a client session.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/pflag"

	"github.com/flexradio/flexcore/discovery"
	"github.com/flexradio/flexcore/internal/config"
	"github.com/flexradio/flexcore/internal/logging"
	"github.com/flexradio/flexcore/session"
	"github.com/flexradio/flexcore/store"
	"github.com/flexradio/flexcore/transport/wsconn"
)

func main() {
	fs := pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
	wsURL := fs.String("ws-url", "", "WebSocket URL of the radio's control/data endpoint (skips discovery when set)")

	log := logging.New("flexcore-demo", logging.LevelInfo, os.Stderr)

	opt, err := config.Load(fs)
	if err != nil {
		log.Errorf("config: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	target := *wsURL
	if target == "" {
		desc, err := awaitFirstBeacon(ctx, opt.DiscoveryPort)
		if err != nil {
			log.Errorf("discovery: %v", err)
			os.Exit(1)
		}
		target = fmt.Sprintf("ws://%s:%d/ws", desc.IP, desc.Port)
		log.Infof("discovered %s at %s", desc.Model, desc.IP)
	}

	var wireLog *session.WireLog
	if opt.WireLogFile != "" {
		wireLog, err = session.NewWireLog(opt.WireLogFile)
		if err != nil {
			log.Errorf("wire log: %v", err)
			os.Exit(1)
		}
		defer wireLog.Close()
	}

	conn, err := wsconn.Dial(ctx, target, wsconn.Options{})
	if err != nil {
		log.Errorf("dial: %v", err)
		os.Exit(1)
	}

	sess := session.New(conn, conn, session.Options{
		CommandTimeout: time.Duration(opt.CommandTimeout) * time.Millisecond,
		Log:            log,
		WireLog:        wireLog,
	})

	sub := sess.Store().Subscribe(store.KindSlice, "", func(ch store.StateChange) {
		if ch.Removed {
			fmt.Printf("slice %s removed\n", ch.Key)
			return
		}
		fmt.Printf("slice %s: %v\n", ch.Key, ch.Changed)
	})
	defer sub.Unsubscribe()

	go func() {
		if err := sess.Run(ctx); err != nil && ctx.Err() == nil {
			log.Errorf("session ended: %v", err)
		}
	}()

	<-ctx.Done()
	_ = sess.Close()
}

func awaitFirstBeacon(ctx context.Context, port int) (session.DiscoveryDescriptor, error) {
	listener := discovery.New(discovery.Options{Port: port})
	beacons := listener.Beacons()
	defer listener.Unsubscribe(beacons)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = listener.Run(runCtx) }()

	select {
	case b := <-beacons:
		return b.Descriptor, nil
	case <-ctx.Done():
		return session.DiscoveryDescriptor{}, ctx.Err()
	}
}
