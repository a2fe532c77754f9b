package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ZentaChain/echo-node/pkg/api"
	"github.com/ZentaChain/echo-node/pkg/identity"
	"github.com/ZentaChain/echo-node/pkg/node"
	"github.com/ZentaChain/echo-node/pkg/storage"
	"github.com/ZentaChain/echo-node/pkg/transfer"
	"github.com/ZentaChain/echo-node/pkg/transport/lan"
)

const heartbeatInterval = 5 * time.Minute

var (
	dataDir       = flag.String("data", "./data", "Directory for identity, journal and downloads")
	username      = flag.String("name", "", "Override the stored username")
	discoveryPort = flag.Int("discovery-port", 48270, "UDP presence port (0 disables discovery)")
	tcpPort       = flag.Int("tcp-port", 48271, "TCP message port")
	broadcastAddr = flag.String("broadcast", "255.255.255.255", "Presence broadcast address")
	retention     = flag.Duration("retention", storage.DefaultRetention, "How long journal rows are kept")
	enableAPI     = flag.Bool("api", true, "Serve the HTTP API")
	apiHost       = flag.String("api-host", "127.0.0.1", "HTTP API bind address")
	apiPort       = flag.Int("api-port", 8480, "HTTP API port")
	verbose       = flag.Bool("verbose", false, "Log every frame")
)

func main() {
	flag.Parse()

	printBanner()

	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	id, created, err := identity.LoadOrCreate(filepath.Join(*dataDir, "identity.json"))
	if err != nil {
		log.Fatalf("Failed to load identity: %v", err)
	}
	if created {
		log.Printf("✓ New identity created: %s", id.Username)
	} else {
		log.Printf("✓ Identity loaded: %s", id.Username)
	}
	if *username != "" {
		id.Username = *username
	}

	journalPath := filepath.Join(*dataDir, "journal.db")
	journal, err := storage.OpenJournal(journalPath, *retention)
	if err != nil {
		log.Fatalf("Failed to open journal: %v", err)
	}
	log.Printf("📬 Journal at %s (retention %s)", journalPath, *retention)

	lanConfig := lan.DefaultConfig()
	lanConfig.Username = id.Username
	lanConfig.Fingerprint = id.Fingerprint
	lanConfig.DiscoveryPort = *discoveryPort
	lanConfig.TCPPort = *tcpPort
	lanConfig.BroadcastAddr = *broadcastAddr
	lanConfig.Verbose = *verbose
	lanTransport := lan.New(lanConfig)

	transferConfig := transfer.DefaultConfig()
	transferConfig.DownloadDir = filepath.Join(*dataDir, "downloads")

	nodeConfig := node.DefaultConfig()
	nodeConfig.Username = id.Username
	nodeConfig.Fingerprint = id.Fingerprint
	nodeConfig.Transfer = transferConfig
	nodeConfig.Verbose = *verbose

	n := node.New(nodeConfig, journal, lanTransport)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var server *api.Server
	if *enableAPI {
		apiConfig := api.DefaultConfig()
		apiConfig.Host = *apiHost
		apiConfig.Port = *apiPort
		server = api.NewServer(n, apiConfig)
		n.SetEventHandler(server.Events().Publish)
	}

	if err := n.Start(ctx); err != nil {
		log.Fatalf("Failed to start node: %v", err)
	}

	apiErr := make(chan error, 1)
	if server != nil {
		go func() { apiErr <- server.Start(ctx) }()
	}

	go heartbeatLoop(ctx, n)

	printStatus(n, lanTransport)

	select {
	case <-ctx.Done():
	case err := <-apiErr:
		if err != nil {
			log.Printf("❌ %v", err)
		}
	}

	fmt.Println()
	log.Println("Shutting down gracefully...")

	if server != nil {
		if err := server.Stop(); err != nil {
			log.Printf("Error stopping API: %v", err)
		}
	}
	if err := n.Close(); err != nil {
		log.Printf("Error stopping node: %v", err)
	}
	if err := journal.Close(); err != nil {
		log.Printf("Error closing journal: %v", err)
	}

	log.Println("Goodbye! 👋")
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════════╗")
	fmt.Println("║                 Echo Mesh Node                    ║")
	fmt.Println("║        Serverless chat over LAN and radio         ║")
	fmt.Println("╚═══════════════════════════════════════════════════╝")
	fmt.Println()
}

func heartbeatLoop(ctx context.Context, n *node.Node) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := n.Stats()
			log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
			log.Println("💓 Heartbeat")
			log.Printf("   Active peers: %d/%d", stats.ActivePeers, stats.KnownPeers)
			log.Printf("   Delivered: %d  Duplicates: %d  Forwarded: %d",
				stats.Router.Delivered, stats.Router.Duplicates, stats.Router.Forwarded)
			log.Printf("   Decode errors: %d  Send failures: %d", stats.DecodeErrors, stats.SendFailures)
			log.Printf("   Transfers: %d in, %d out", stats.ActiveReceives, stats.ActiveSends)
			log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		}
	}
}

func printStatus(n *node.Node, t *lan.Transport) {
	fmt.Println()
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("🚀 Node Status")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("   Username: %s\n", n.Username())
	fmt.Printf("   Fingerprint: %s\n", n.Fingerprint())
	fmt.Printf("   TCP port: %d\n", t.TCPPort())
	if *discoveryPort > 0 {
		fmt.Printf("   Discovery: ✅ UDP %d\n", *discoveryPort)
	} else {
		fmt.Printf("   Discovery: ⚠️  DISABLED\n")
	}
	if *enableAPI {
		fmt.Printf("   API: http://%s:%d/api/v1\n", *apiHost, *apiPort)
	}
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()
}
