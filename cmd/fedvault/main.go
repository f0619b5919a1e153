package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"

	"github.com/ovnet/fedvault/internal/cachingvault"
	"github.com/ovnet/fedvault/internal/config"
	"github.com/ovnet/fedvault/internal/federation"
	"github.com/ovnet/fedvault/internal/fuseadapter"
	"github.com/ovnet/fedvault/internal/localvault"
	"github.com/ovnet/fedvault/internal/oplog"
	"github.com/ovnet/fedvault/internal/remotevault"
	"github.com/ovnet/fedvault/internal/replayer"
	"github.com/ovnet/fedvault/internal/vaultserver"
	"github.com/ovnet/fedvault/logging"
)

const version = "0.1.0"

func usage() {
	fmt.Printf(`fedvault - a federated network filesystem.

Mounts a virtual directory that transparently federates this host's own
vault with every configured peer's vault behind a single namespace, serving
the host's own vault to peers over RPC and optionally caching peer content
locally with disconnected-operation support.

Usage: fedvault [options]

Valid options:
`)
	flag.PrintDefaults()
}

func main() {
	logging.Init(zerolog.InfoLevel, os.Stderr)

	configPath := flag.StringP("config", "f", config.DefaultConfigPath(),
		"A YAML-formatted configuration file used by fedvault.")
	mount := flag.String("mount", "", "Directory the federated view is mounted under.")
	address := flag.String("address", "", "Bind address for this host's own RPC server.")
	dbPath := flag.String("db-path", "", "Persistent store root.")
	vaultName := flag.String("vault-name", "", "Name of this host's own vault.")
	caching := flag.Bool("caching", false, "Wrap each peer with a Caching Vault.")
	share := flag.Bool("share", false, "Start the RPC server for this host's own vault.")
	logLevel := flag.StringP("log-level", "l", "", "Logging level: trace, debug, info, warn, error, fatal.")
	allowDisconnectedDelete := flag.Bool("allow-disconnected-delete", false, "Allow delete while the remote is unreachable.")
	allowDisconnectedCreate := flag.Bool("allow-disconnected-create", false, "Allow create while the remote is unreachable (still rejected in v1, see DESIGN.md).")
	replayInterval := flag.Int("replay-interval", 0, "Background Replayer poll period, in seconds.")
	debugFuse := flag.Bool("debug", false, "Enable FUSE debug logging.")
	versionFlag := flag.BoolP("version", "v", false, "Display program version.")
	help := flag.BoolP("help", "h", false, "Display this help message.")
	flag.Usage = usage
	flag.Parse()

	if *help {
		flag.Usage()
		os.Exit(0)
	}
	if *versionFlag {
		fmt.Println("fedvault", version)
		os.Exit(0)
	}

	cfg := config.Load(*configPath)
	if *mount != "" {
		cfg.MountPoint = *mount
	}
	if *address != "" {
		cfg.MyAddress = *address
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *vaultName != "" {
		cfg.LocalVaultName = *vaultName
	}
	if *caching {
		cfg.Caching = true
	}
	if *share {
		cfg.ShareLocalVault = true
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *allowDisconnectedDelete {
		cfg.AllowDisconnectedDelete = true
	}
	if *allowDisconnectedCreate {
		cfg.AllowDisconnectedCreate = true
	}
	if *replayInterval > 0 {
		cfg.BackgroundUpdateInterval = *replayInterval
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	zerolog.SetGlobalLevel(logging.StringToLevel(cfg.LogLevel))

	ctx := context.Background()
	d, err := newDaemon(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("could not start fedvault")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("shutting down")
		d.Shutdown(ctx)
	}()

	if err := os.MkdirAll(cfg.MountPoint, 0755); err != nil {
		log.Fatal().Err(err).Str("mount_point", cfg.MountPoint).Msg("could not create mount point")
	}

	server, err := fs.Mount(cfg.MountPoint, fuseadapter.Root(d.layer), &fs.Options{
		MountOptions: fuseMountOptions(*debugFuse),
	})
	if err != nil {
		log.Fatal().Err(err).Str("mount_point", cfg.MountPoint).Msg("mount failed")
	}
	d.fuseServer = server

	log.Info().Str("mount_point", cfg.MountPoint).Str("vault", cfg.LocalVaultName).Msg("serving federated filesystem")
	server.Wait()
}

func fuseMountOptions(debug bool) fuse.MountOptions {
	return fuse.MountOptions{
		Name:          "fedvault",
		FsName:        "fedvault",
		DisableXAttrs: true,
		MaxBackground: 1024,
		Debug:         debug,
	}
}

func listen(address string) (net.Listener, error) {
	return net.Listen("tcp", address)
}

// daemon owns every long-lived component one process hosts: the local
// vault, one Caching Vault (and Replayer) per caching-enabled peer, the
// Federation Layer dispatching across all of them, and (if configured) the
// RPC server exposing this host's own vault and its cached mirrors to peers.
type daemon struct {
	layer      *federation.Layer
	replayers  []*replayer.Replayer
	grpcServer interface{ GracefulStop() }
	fuseServer interface{ Unmount() error }
}

func newDaemon(ctx context.Context, cfg *config.Config) (*daemon, error) {
	names := make([]string, 0, len(cfg.Peers)+1)
	names = append(names, cfg.LocalVaultName)
	for peer := range cfg.Peers {
		names = append(names, peer)
	}
	layer := federation.New(names)

	local, err := localvault.Open(cfg.LocalVaultName, filepath.Join(cfg.DBPath, cfg.LocalVaultName, "meta.db"), filepath.Join(cfg.DBPath, cfg.LocalVaultName, "data"), logging.WithVault(cfg.LocalVaultName))
	if err != nil {
		return nil, fmt.Errorf("opening local vault %q: %w", cfg.LocalVaultName, err)
	}
	if err := layer.Bind(cfg.LocalVaultName, local); err != nil {
		return nil, err
	}

	var srv *vaultserver.Server
	if cfg.ShareLocalVault {
		srv = vaultserver.New(local, 0, logging.WithVault(cfg.LocalVaultName))
	}

	d := &daemon{layer: layer}

	interval := time.Duration(cfg.BackgroundUpdateInterval) * time.Second
	graveyard := filepath.Join(cfg.DBPath, "graveyard")
	if err := os.MkdirAll(graveyard, 0755); err != nil {
		return nil, fmt.Errorf("creating graveyard dir: %w", err)
	}

	clients := make(map[string]*remotevault.Client, len(cfg.Peers))
	for peer, pc := range cfg.Peers {
		clients[peer] = remotevault.New(peer, pc.Address, 0, logging.WithVault(peer))
	}

	for peer := range cfg.Peers {
		client := clients[peer]
		if !cfg.Caching {
			if err := layer.Bind(peer, client); err != nil {
				return nil, err
			}
			continue
		}

		mirror, err := localvault.Open(peer, filepath.Join(cfg.DBPath, "mirrors", peer, "meta.db"), filepath.Join(cfg.DBPath, "mirrors", peer, "data"), logging.WithVault(peer))
		if err != nil {
			return nil, fmt.Errorf("opening mirror for peer %q: %w", peer, err)
		}
		opLog := oplog.New()
		cv := cachingvault.New(peer, mirror, client, opLog, cfg.AllowDisconnectedDelete, cfg.AllowDisconnectedCreate, logging.WithVault(peer))
		cv.SetGraveyard(graveyard)

		// Savage peers must be the same shared *remotevault.Client instances
		// used elsewhere (spec §3: "Remote Vault Clients are shared
		// (read-only references) across Caching Vaults"), not freshly
		// dialed duplicates with their own independent connection state.
		peerSet := make(map[string]*remotevault.Client, len(clients)-1)
		for otherName, otherClient := range clients {
			if otherName == peer {
				continue
			}
			peerSet[otherName] = otherClient
		}
		cv.SetPeers(peerSet)

		if err := layer.Bind(peer, cv); err != nil {
			return nil, err
		}
		if srv != nil {
			srv.RegisterSavager(peer, cv)
		}

		r := replayer.New(peer, opLog, client, mirror, graveyard, interval, logging.WithVault(peer))
		go r.Run(ctx)
		d.replayers = append(d.replayers, r)
	}

	if srv != nil {
		lis, err := listen(cfg.MyAddress)
		if err != nil {
			return nil, fmt.Errorf("listening on %q: %w", cfg.MyAddress, err)
		}
		grpcServer, err := vaultserver.Serve(lis, srv)
		if err != nil {
			return nil, err
		}
		d.grpcServer = grpcServer
		log.Info().Str("address", cfg.MyAddress).Msg("rpc server listening")
	}

	return d, nil
}

// Shutdown drains every replayer, tears down the Federation Layer (which
// tears down every bound vault in turn), stops the RPC server, and unmounts
// the filesystem - in that order, so nothing still mid-upload gets cut off.
func (d *daemon) Shutdown(ctx context.Context) {
	for _, r := range d.replayers {
		r.Shutdown()
	}
	if err := d.layer.TearDown(ctx); err != nil {
		log.Error().Err(err).Msg("error tearing down federation layer")
	}
	if d.grpcServer != nil {
		d.grpcServer.GracefulStop()
	}
	if d.fuseServer != nil {
		if err := d.fuseServer.Unmount(); err != nil {
			log.Error().Err(err).Msg("error unmounting")
		}
	}
}
