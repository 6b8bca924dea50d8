// Command ninepd is the 9P2000 file-service daemon: it wires the union
// of an in-memory tree, a host passthrough tree, a dynamic status-file
// tree, and the service registry into one backend, then serves it over
// TCP to a bounded pool of connections (sections 4.8-4.11).
package main

import (
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/sandia-minimega/ninepd/internal/ninepd"
	"github.com/sandia-minimega/ninepd/internal/transport"
	log "github.com/sandia-minimega/ninepd/pkg/ninelog"
	"github.com/sandia-minimega/ninepd/pkg/ninefs/dynfs"
	"github.com/sandia-minimega/ninepd/pkg/ninefs/hostfs"
	"github.com/sandia-minimega/ninepd/pkg/ninefs/memfs"
	"github.com/sandia-minimega/ninepd/pkg/ninefs/srv"
	"github.com/sandia-minimega/ninepd/pkg/ninefs/unionfs"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ninepd",
		Short: "9P2000 file-service daemon",
	}
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var (
		listenAddr string
		hostRoot   string
		maxConns   int
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "accept connections and serve the union filesystem",
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := log.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			log.Default(level)

			root := buildRoot(hostRoot)
			pool := ninepd.NewPool(maxConns)

			ln, err := net.Listen("tcp", listenAddr)
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}
			defer ln.Close()
			log.Info("ninepd listening on %s (max %d sessions)", listenAddr, maxConns)

			return acceptLoop(ln, pool, root)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", ":5640", "address to accept 9P connections on")
	cmd.Flags().StringVar(&hostRoot, "host-root", "", "if set, mount this host directory read/write under /host")
	cmd.Flags().IntVar(&maxConns, "max-sessions", 64, "bound on concurrent connections")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "debug|info|warn|error|fatal")

	return cmd
}

// buildRoot assembles the union backend every attach resolves to: an
// in-memory tree at the synthetic root, a dynamic status-file tree under
// "proc", an empty service registry under "srv" that remote attaches can
// populate later, and optionally a host passthrough under "host".
func buildRoot(hostRoot string) *unionfs.Backend {
	u := unionfs.New()
	u.AddMount("", memfs.New())

	dyn := dynfs.New()
	dyn.Register(dynfs.LoadAvgEntry("loadavg"))
	u.AddMount("proc", dyn)

	u.AddMount("srv", srv.New())

	if hostRoot != "" {
		u.AddMount("host", hostfs.New(hostRoot))
	}

	return u
}

func acceptLoop(ln net.Listener, pool *ninepd.Pool, root *unionfs.Backend) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}

		slot, ok := pool.Alloc()
		if !ok {
			log.Warn("session pool exhausted, rejecting connection from %s", conn.RemoteAddr())
			conn.Close()
			continue
		}

		tr := transport.NewStreamTransport(conn, 0)
		c := ninepd.NewConn(ninepd.Config{Root: root}, tr)
		pool.Connected(slot, tr, c)

		go func(slot int) {
			defer pool.Free(slot)
			if err := c.Serve(); err != nil {
				log.Warn("session %d: serve: %v", slot, err)
			}
		}(slot)
	}
}
