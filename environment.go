package liveblocks

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/grandcat/zeroconf"
)

// Environment abstracts the two host signals the connection machine
// reacts to (design note §9): online/offline and visibility. A host
// application on a real browser wires these to navigator.onLine and
// document.visibilitychange; a Go host has neither, so the default
// implementation below stands in with LAN reachability, and tests
// inject a deterministic fake.
type Environment interface {
	// SubscribeOnline registers fn to be called with true when the signal
	// transitions offline->online, and with false on online->offline.
	// It returns an unsubscribe func.
	SubscribeOnline(fn func(online bool)) (unsubscribe func())

	// SubscribeVisible registers fn to be called when the host becomes
	// visible again (spec.md §4.1 "Visibility").
	SubscribeVisible(fn func()) (unsubscribe func())
}

// zeroconfEnvironment treats LAN mDNS reachability as a proxy for
// "online", the way sumanthd032-CollabText/agent's startDiscovery
// registers and browses the local segment. It has no visibility
// concept (no host window system), so SubscribeVisible's callback is
// simply never invoked.
type zeroconfEnvironment struct {
	serviceName string
	port        int
}

// NewZeroconfEnvironment builds the default Environment: a service is
// registered under serviceName, and its presence among peers
// discovered via mDNS browsing is treated as "online". This mirrors
// the teacher's own LAN-discovery wiring rather than inventing a new
// connectivity probe.
func NewZeroconfEnvironment(serviceName string, port int) Environment {
	return &zeroconfEnvironment{serviceName: serviceName, port: port}
}

func (e *zeroconfEnvironment) SubscribeOnline(fn func(online bool)) func() {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		host, _ := os.Hostname()
		server, err := zeroconf.Register(
			fmt.Sprintf("liveblocks-%s", host),
			e.serviceName,
			"local.",
			e.port,
			[]string{"txtv=0"},
			nil,
		)
		if err != nil {
			fn(false)
			return
		}
		defer server.Shutdown()

		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			fn(false)
			return
		}

		wasOnline := false
		for {
			entries := make(chan *zeroconf.ServiceEntry, 4)
			browseCtx, cancelBrowse := context.WithTimeout(ctx, 10*time.Second)
			go func() {
				_ = resolver.Browse(browseCtx, e.serviceName, "local.", entries)
			}()

			seen := false
			for range entries {
				seen = true
			}
			cancelBrowse()

			if seen != wasOnline {
				wasOnline = seen
				fn(seen)
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Second):
			}
		}
	}()

	return cancel
}

func (e *zeroconfEnvironment) SubscribeVisible(fn func()) func() {
	return func() {}
}

// defaultZeroconfService is the mDNS service type NewZeroconfEnvironment
// registers under when a Room has no Environment configured explicitly.
const defaultZeroconfService = "_liveblocks._tcp"

// staticEnvironment is injected explicitly by hosts and tests that want
// zeroconf registration skipped entirely (the default when Environment
// is left nil is NewZeroconfEnvironment, not this): it never fires
// either signal.
type staticEnvironment struct{}

func (staticEnvironment) SubscribeOnline(fn func(online bool)) func() { return func() {} }
func (staticEnvironment) SubscribeVisible(fn func()) func()           { return func() {} }
