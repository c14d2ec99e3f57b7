// Command dht-bootstrap demonstrates wiring the dht package's core across a
// real UDP socket: it opens a conn, builds an Engine, Registry,
// Demultiplexer, and RoutingTable, and pings a handful of well-known
// routers to seed the table. It is not a crawler: it performs one
// bootstrap pass and prints what it learned.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/5l1v3r1/dht-crawler/dht"
)

var defaultRouters = []string{
	"router.bittorrent.com:6881",
	"router.utorrent.com:6881",
	"dht.transmissionbt.com:6881",
}

func usage() {
	fmt.Printf(`%s [options]

    -snapshot path     Optional: load/save a routing table snapshot at path.
    -timeout duration  Per-request timeout (default 5s).
`, os.Args[0])
	os.Exit(2)
}

func main() {
	var snapshotPath string
	var timeout time.Duration
	flag.Usage = usage
	flag.StringVar(&snapshotPath, "snapshot", "", "")
	flag.DurationVar(&timeout, "timeout", dht.DefaultTimeout, "")
	flag.Parse()

	if err := run(snapshotPath, timeout); err != nil {
		log.Fatalf("dht-bootstrap: %v", err)
	}
}

func run(snapshotPath string, timeout time.Duration) error {
	selfID, err := dht.NewNodeID()
	if err != nil {
		return fmt.Errorf("generate local id: %w", err)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		return fmt.Errorf("open udp socket: %w", err)
	}
	defer conn.Close()

	registry := dht.NewRegistry()
	engine := dht.NewEngine(conn, registry).WithTimeout(timeout)
	demux := dht.NewDemultiplexer(registry)
	table := dht.NewRoutingTable(selfID)

	if snapshotPath != "" {
		if err := dht.LoadSnapshot(table, snapshotPath); err != nil {
			log.Printf("dht-bootstrap: load snapshot: %v", err)
		} else {
			log.Printf("dht-bootstrap: loaded %d nodes from %s", table.Size(), snapshotPath)
		}
	}

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		buf := make([]byte, 4096)
		for {
			n, addr, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			datagram := make([]byte, n)
			copy(datagram, buf[:n])
			demux.HandleDatagram(datagram, addr)
		}
	}()

	// No deadline here: each request gets the engine's per-request timeout.
	ctx := context.Background()

	for _, router := range defaultRouters {
		addr, err := net.ResolveUDPAddr("udp4", router)
		if err != nil {
			log.Printf("dht-bootstrap: resolve %s: %v", router, err)
			continue
		}

		id, err := engine.Ping(ctx, selfID, addr)
		if err != nil {
			log.Printf("dht-bootstrap: ping %s: %v", router, err)
			continue
		}

		pa, err := dht.NewPeerAddress(addr)
		if err != nil {
			log.Printf("dht-bootstrap: %s is not a usable address: %v", router, err)
			continue
		}
		table.Insert(dht.NodeInfo{ID: id, Addr: pa})

		outcome, err := engine.FindNode(ctx, selfID, addr, selfID)
		if err != nil {
			log.Printf("dht-bootstrap: find_node %s: %v", router, err)
			continue
		}
		for _, cand := range outcome.Candidates {
			table.Insert(cand)
		}
	}

	conn.Close()
	<-readDone

	fmt.Printf("routing table seeded with %d nodes across %d buckets\n", table.Size(), table.BucketCount())

	if snapshotPath != "" {
		if err := dht.SaveSnapshot(table, snapshotPath); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
		log.Printf("dht-bootstrap: saved snapshot to %s", snapshotPath)
	}

	return nil
}
