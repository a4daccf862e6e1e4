package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/oletizi/midimesh/pkg/meshnode"
	"github.com/spf13/cobra"
)

var useMulticast bool

var nodeCmd = &cobra.Command{
	Use:   "node [http_port]",
	Short: "Start a midimesh node",
	Long: `Start a midimesh node that advertises itself on the local network,
discovers peers via mDNS (or UDP multicast with --multicast), and bridges
local MIDI devices onto the mesh.

http_port is the port the node's HTTP surface binds to; 0 (the default)
requests an OS-assigned port, printed on startup.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runNode,
}

func init() {
	nodeCmd.Flags().BoolVar(&useMulticast, "multicast", false, "use UDP multicast discovery instead of mDNS")
}

func runNode(cmd *cobra.Command, args []string) error {
	httpPort := 0
	if len(args) == 1 {
		p, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid http_port %q: %w", args[0], err)
		}
		httpPort = p
	}

	n, err := meshnode.New(meshnode.Config{
		HTTPPort:             httpPort,
		UseMulticastFallback: useMulticast,
	})
	if err != nil {
		return err
	}

	if err := n.Start(); err != nil {
		return err
	}

	fmt.Printf("midimesh node %s (%s) — http :%d  udp :%d\n",
		n.Identity.UUID(), n.Identity.Name(), n.HTTPPort(), n.Transport.LocalPort())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	return n.Shutdown(ctx)
}
