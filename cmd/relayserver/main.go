// Command relayserver is the reference server-side counterpart to the
// liveblocks client library: it authenticates rooms, relays presence,
// broadcast, and storage frames between connected actors, and
// optionally persists to Postgres and fans out across processes over
// Redis. It is ambient infrastructure for exercising the client
// against something real, not a module the core library spec covers.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"

	"github.com/M-Faheem-Khan/liveblocks/internal/relay"
)

const relayServerVersion = "0.1.0"

func main() {
	usage := `relayserver: realtime collaboration relay.

Usage:
    relayserver serve [--addr=<addr>] [--redis_addr=<redis_addr>]
        [--database_url=<database_url>] --signing_key=<signing_key>
        [--token_ttl=<token_ttl>]

Options:
    -h --help                      Show this screen.
    --version                      Show version.
    --addr=<addr>                  Listen address [default: :8081].
    --redis_addr=<redis_addr>      Redis address for cross-process fanout. If
                                    omitted, a single process serves every
                                    room from memory.
    --database_url=<database_url>  Postgres connection string for durable
                                    op logs and snapshots. If omitted, state
                                    lives only in process memory.
    --signing_key=<signing_key>    HMAC key session tokens are signed with.
    --token_ttl=<token_ttl>        Token lifetime, a Go duration [default: 1h].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], relayServerVersion)
	if err != nil {
		glog.Exitf("argument parsing failed: %v", err)
	}

	flag.Parse() // glog's own -v/-logtostderr flags, parsed alongside docopt's
	defer glog.Flush()

	serve(opts)
}

func serve(opts docopt.Opts) {
	ctx := context.Background()

	addr, _ := opts.String("--addr")
	signingKey, _ := opts.String("--signing_key")
	ttlStr, _ := opts.String("--token_ttl")
	ttl, err := time.ParseDuration(ttlStr)
	if err != nil {
		glog.Exitf("invalid --token_ttl %q: %v", ttlStr, err)
	}

	logger := relay.Logger(func(format string, args ...any) { glog.Infof(format, args...) })

	var broker relay.Broker
	if redisAddr, _ := opts.String("--redis_addr"); redisAddr != "" {
		broker, err = relay.NewRedisBroker(ctx, redisAddr)
		if err != nil {
			glog.Exitf("could not connect to redis at %s: %v", redisAddr, err)
		}
		glog.Infof("fanning rooms out over redis at %s", redisAddr)
	}

	var store relay.Store
	if dbURL, _ := opts.String("--database_url"); dbURL != "" {
		pg, err := relay.NewPostgresStore(ctx, dbURL)
		if err != nil {
			glog.Exitf("could not connect to postgres: %v", err)
		}
		defer pg.Close()
		store = pg
		glog.Info("durable op log and snapshots backed by postgres")
	}

	hub := relay.NewHub(broker, store, logger)
	auth := relay.NewAuthenticator([]byte(signingKey), ttl)
	router := relay.NewServer(hub, auth)

	glog.Infof("relayserver listening on %s", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		glog.Exitf("relayserver exited: %v", err)
	}
}
