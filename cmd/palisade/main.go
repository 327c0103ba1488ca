package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/palisade/pkg/api"
	"github.com/cuemby/palisade/pkg/auth"
	"github.com/cuemby/palisade/pkg/cluster"
	"github.com/cuemby/palisade/pkg/config"
	"github.com/cuemby/palisade/pkg/events"
	"github.com/cuemby/palisade/pkg/log"
	"github.com/cuemby/palisade/pkg/rbac"
	"github.com/cuemby/palisade/pkg/security"
	"github.com/cuemby/palisade/pkg/storage"
	"github.com/cuemby/palisade/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "palisade",
	Short: "Palisade - cluster-attached security layer",
	Long: `Palisade is the authentication and authorization layer for a cluster.
It stores versioned security configuration, replicates it to every node,
and enforces certificate, password and role based access on each request.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Palisade version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(certsCmd)
}

// Node commands

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run and manage cluster nodes",
}

var nodeInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new cluster with this node as the first member",
	Long: `Initialize a new cluster with this node as the first member.

The node generates the cluster certificate authority, optionally seeds the
security configuration from a directory of YAML documents, and serves the
API. Additional nodes join with 'palisade node join'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNode(cmd, "")
	},
}

var nodeJoinCmd = &cobra.Command{
	Use:   "join LEADER_API_ADDR",
	Short: "Join this node to an existing cluster",
	Long: `Join this node to an existing cluster.

Joining requires a node certificate issued on an existing member with
'palisade certs node' and copied to this machine; pass its directory with
--cert-dir. The replicated state, the CA included, arrives through raft
once the leader admits the node.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNode(cmd, args[0])
	},
}

func init() {
	nodeCmd.AddCommand(nodeInitCmd)
	nodeCmd.AddCommand(nodeJoinCmd)

	for _, c := range []*cobra.Command{nodeInitCmd, nodeJoinCmd} {
		c.Flags().String("node-id", "node-1", "Unique node ID")
		c.Flags().String("bind-addr", "127.0.0.1:7700", "Address for raft communication")
		c.Flags().String("api-addr", "127.0.0.1:9700", "Address for the HTTPS API")
		c.Flags().String("data-dir", "./palisade-data", "Data directory for cluster state")
		c.Flags().String("cluster-id", "palisade", "Cluster identifier; derives the at-rest encryption key")
		c.Flags().StringSlice("admin-dn", nil, "Admin certificate subject DN (repeatable)")
		c.Flags().StringSlice("node-dn", []string{"CN=*,OU=node,O=Palisade Cluster"}, "Node certificate DN pattern (repeatable)")
		c.Flags().StringSlice("bootstrap-types", nil, "Config types an admin cert may write pre-init (default: all)")
		c.Flags().Bool("disable-security", false, "Pass all requests through unauthenticated (development only)")
		c.Flags().Bool("inject-user", false, "Enable the injected-identity header for trusted automation")
		c.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
		c.Flags().Bool("log-json", false, "Emit JSON logs")
	}

	nodeInitCmd.Flags().Bool("allow-default-init", false, "Seed configuration from --default-dir when the store is empty")
	nodeInitCmd.Flags().String("default-dir", "", "Directory holding the six default YAML documents")
	nodeJoinCmd.Flags().String("cert-dir", "", "Directory with this node's certificate and the cluster CA")
}

func runNode(cmd *cobra.Command, joinAddr string) error {
	nodeID, _ := cmd.Flags().GetString("node-id")
	bindAddr, _ := cmd.Flags().GetString("bind-addr")
	apiAddr, _ := cmd.Flags().GetString("api-addr")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	clusterID, _ := cmd.Flags().GetString("cluster-id")
	adminDNs, _ := cmd.Flags().GetStringSlice("admin-dn")
	nodeDNs, _ := cmd.Flags().GetStringSlice("node-dn")
	bootstrapNames, _ := cmd.Flags().GetStringSlice("bootstrap-types")
	disableSecurity, _ := cmd.Flags().GetBool("disable-security")
	injectUser, _ := cmd.Flags().GetBool("inject-user")
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")

	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
	logger := log.WithComponent("main")

	bootstrapTypes := types.AllConfigTypes()
	if len(bootstrapNames) > 0 {
		parsed, err := types.ParseConfigTypes(bootstrapNames)
		if err != nil {
			return err
		}
		bootstrapTypes = parsed
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	if err := security.SetClusterEncryptionKey(security.DeriveKeyFromClusterID(clusterID)); err != nil {
		return err
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	go logEvents(broker.Subscribe())

	registry := config.NewRegistry(store, broker)

	clusterNode := cluster.NewNode(&cluster.Config{
		NodeID:   nodeID,
		BindAddr: bindAddr,
		APIAddr:  apiAddr,
		DataDir:  dataDir,
	}, store, broker)

	ca := security.NewCertAuthority(store)

	var nodeCert *tls.Certificate
	var caPool *x509.CertPool

	if joinAddr == "" {
		// First member: own the CA, optionally seed configuration
		allowDefault, _ := cmd.Flags().GetBool("allow-default-init")
		defaultDir, _ := cmd.Flags().GetString("default-dir")
		if allowDefault && defaultDir != "" {
			if err := config.SeedFromDirectory(store, defaultDir); err != nil {
				logger.Warn().Err(err).Msg("Default configuration not seeded")
			} else {
				logger.Info().Str("dir", defaultDir).Msg("Seeded configuration from default directory")
			}
		}

		if err := ca.LoadFromStore(); err != nil {
			logger.Info().Msg("Generating cluster certificate authority")
			if err := ca.Initialize(); err != nil {
				return err
			}
			if err := ca.SaveToStore(); err != nil {
				return err
			}
		}

		if err := clusterNode.Bootstrap(); err != nil {
			return fmt.Errorf("failed to bootstrap cluster: %w", err)
		}

		// Replicate the CA so future members can load it from their
		// own store
		caData, err := store.GetCA()
		if err != nil {
			return err
		}
		if err := clusterNode.SaveCA(caData); err != nil {
			return err
		}

		nodeCert, err = serveCertificate(ca, nodeID, apiAddr)
		if err != nil {
			return err
		}
		caPool = ca.CertPool()
	} else {
		// Joiner: credentials come from files issued on a member
		certDir, _ := cmd.Flags().GetString("cert-dir")
		if certDir == "" {
			return fmt.Errorf("--cert-dir is required to join; issue one with 'palisade certs node'")
		}

		nodeCert, err = security.LoadCertFromFile(certDir)
		if err != nil {
			return err
		}
		caCert, err := security.LoadCACertFromFile(certDir)
		if err != nil {
			return err
		}
		if err := security.ValidateCertChain(nodeCert.Leaf, caCert); err != nil {
			return fmt.Errorf("certificate in %s was not issued by this cluster: %w", certDir, err)
		}
		caPool = x509.NewCertPool()
		caPool.AddCert(caCert)

		joinTLS := security.ClientTLSConfig(nodeCert, caPool)
		if err := clusterNode.Join(joinAddr, joinTLS); err != nil {
			return fmt.Errorf("failed to join cluster: %w", err)
		}

		// Replicated CA shows up once the leader's log catches us up
		if err := waitForCA(ca, 30*time.Second); err != nil {
			logger.Warn().Err(err).Msg("CA not yet replicated; certificate issuance unavailable on this node")
		}
	}
	defer clusterNode.Shutdown()

	serverTLS := security.ServerTLSConfig(nodeCert, caPool)
	clientTLS := security.ClientTLSConfig(nodeCert, caPool)

	// Load whatever configuration already exists; an unseeded node serves
	// 503 until an admin writes the documents and broadcasts an update
	if err := registry.Reload(context.Background(), types.AllConfigTypes()); err != nil {
		logger.Warn().Err(err).Msg("Security configuration not loaded; gate stays closed")
	}

	identity := auth.NewResolver(auth.Options{
		AdminDNs:            adminDNs,
		NodeDNPatterns:      nodeDNs,
		InjectedUserEnabled: injectUser,
	})

	broadcaster := cluster.NewBroadcaster(clusterNode, registry, clientTLS)

	apiServer := api.NewServer(api.Config{
		Addr:            apiAddr,
		DisableSecurity: disableSecurity,
		BootstrapTypes:  bootstrapTypes,
		TLS:             serverTLS,
	}, registry, identity, rbac.NewResolver(), store, clusterNode, broadcaster)

	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start()
	}()

	logger.Info().
		Str("node_id", nodeID).
		Str("api_addr", apiAddr).
		Bool("security_disabled", disableSecurity).
		Msg("Node is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("Shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("API server stopped")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return apiServer.Shutdown(shutdownCtx)
}

// issueServingCert issues this node's TLS certificate for the API address
func issueServingCert(ca *security.CertAuthority, nodeID, apiAddr string) (*tls.Certificate, error) {
	host, _, err := net.SplitHostPort(apiAddr)
	if err != nil {
		host = apiAddr
	}

	dnsNames := []string{"localhost"}
	var ips []net.IP
	if ip := net.ParseIP(host); ip != nil {
		ips = append(ips, ip)
	} else {
		dnsNames = append(dnsNames, host)
	}

	cert, err := ca.IssueNodeCertificate(nodeID, dnsNames, ips)
	if err != nil {
		return nil, fmt.Errorf("failed to issue node certificate: %w", err)
	}
	return cert, nil
}

// serveCertificate reuses this node's persisted serving certificate when it
// still verifies against the CA and is not close to expiry; otherwise it
// issues a fresh one and persists it for the next start.
func serveCertificate(ca *security.CertAuthority, nodeID, apiAddr string) (*tls.Certificate, error) {
	logger := log.WithComponent("certs")

	certDir, err := security.GetCertDir(nodeID)
	if err != nil {
		return nil, err
	}

	if security.CertExists(certDir) {
		cert, err := security.LoadCertFromFile(certDir)
		if err == nil && !security.CertNeedsRotation(cert.Leaf) && ca.VerifyCertificate(cert.Leaf) == nil {
			logger.Info().Str("dir", certDir).Msg("Reusing persisted serving certificate")
			return cert, nil
		}
		logger.Info().Str("dir", certDir).Msg("Persisted serving certificate is stale; reissuing")
		if err := security.RemoveCerts(certDir); err != nil {
			return nil, err
		}
	}

	cert, err := issueServingCert(ca, nodeID, apiAddr)
	if err != nil {
		return nil, err
	}
	if err := security.SaveCertToFile(cert, certDir); err != nil {
		return nil, err
	}
	if err := security.SaveCACertToFile(ca.GetRootCACert(), certDir); err != nil {
		return nil, err
	}
	return cert, nil
}

// waitForCA polls until the replicated CA material lands in the local store
func waitForCA(ca *security.CertAuthority, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if err := ca.LoadFromStore(); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for CA replication")
		}
		time.Sleep(250 * time.Millisecond)
	}
}

// logEvents drains a broker subscription into the structured log
func logEvents(sub events.Subscriber) {
	logger := log.WithComponent("events")
	for ev := range sub {
		logger.Info().
			Str("type", string(ev.Type)).
			Interface("metadata", ev.Metadata).
			Msg(ev.Message)
	}
}

// Certificate commands

var certsCmd = &cobra.Command{
	Use:   "certs",
	Short: "Issue certificates from the cluster CA",
	Long: `Issue certificates from the cluster CA.

These commands open the node's data directory directly, so run them on a
stopped cluster member. The issued certificate, its key and the CA
certificate are written as PEM files.`,
}

var certsAdminCmd = &cobra.Command{
	Use:   "admin NAME",
	Short: "Issue an admin certificate",
	Long: `Issue an admin certificate.

The printed subject DN must be listed in --admin-dn on every node for the
certificate to carry admin rights.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ca, err := openCA(cmd)
		if err != nil {
			return err
		}

		cert, err := ca.IssueAdminCertificate(args[0])
		if err != nil {
			return err
		}
		dir, err := security.GetAdminCertDir(args[0])
		if err != nil {
			return err
		}
		return writeIssued(cmd, ca, cert, dir)
	},
}

var certsClientCmd = &cobra.Command{
	Use:   "client NAME",
	Short: "Issue a client certificate",
	Long: `Issue a client certificate.

Organizational units given with --ou become the holder's backend roles when
it authenticates.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ca, err := openCA(cmd)
		if err != nil {
			return err
		}

		ous, _ := cmd.Flags().GetStringSlice("ou")
		cert, err := ca.IssueClientCertificate(args[0], ous)
		if err != nil {
			return err
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		return writeIssued(cmd, ca, cert, filepath.Join(home, ".palisade", "certs", "client-"+args[0]))
	},
}

var certsNodeCmd = &cobra.Command{
	Use:   "node NODE_ID",
	Short: "Issue a node certificate for a joining member",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ca, err := openCA(cmd)
		if err != nil {
			return err
		}

		hosts, _ := cmd.Flags().GetStringSlice("host")
		dnsNames := []string{"localhost"}
		var ips []net.IP
		for _, h := range hosts {
			if ip := net.ParseIP(h); ip != nil {
				ips = append(ips, ip)
			} else {
				dnsNames = append(dnsNames, h)
			}
		}

		cert, err := ca.IssueNodeCertificate(args[0], dnsNames, ips)
		if err != nil {
			return err
		}
		dir, err := security.GetCertDir(args[0])
		if err != nil {
			return err
		}
		return writeIssued(cmd, ca, cert, dir)
	},
}

func init() {
	certsCmd.AddCommand(certsAdminCmd)
	certsCmd.AddCommand(certsClientCmd)
	certsCmd.AddCommand(certsNodeCmd)

	for _, c := range []*cobra.Command{certsAdminCmd, certsClientCmd, certsNodeCmd} {
		c.Flags().String("data-dir", "./palisade-data", "Data directory of a cluster member")
		c.Flags().String("cluster-id", "palisade", "Cluster identifier; derives the at-rest encryption key")
		c.Flags().String("out", "", "Output directory (default: ~/.palisade/certs/<name>)")
	}
	certsClientCmd.Flags().StringSlice("ou", nil, "Organizational unit / backend role (repeatable)")
	certsNodeCmd.Flags().StringSlice("host", nil, "Hostname or IP the node serves on (repeatable)")
}

func openCA(cmd *cobra.Command) (*security.CertAuthority, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	clusterID, _ := cmd.Flags().GetString("cluster-id")

	if err := security.SetClusterEncryptionKey(security.DeriveKeyFromClusterID(clusterID)); err != nil {
		return nil, err
	}

	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open store (is the node stopped?): %w", err)
	}

	ca := security.NewCertAuthority(store)
	if err := ca.LoadFromStore(); err != nil {
		return nil, fmt.Errorf("failed to load cluster CA: %w", err)
	}
	return ca, nil
}

func writeIssued(cmd *cobra.Command, ca *security.CertAuthority, cert *tls.Certificate, defaultDir string) error {
	out, _ := cmd.Flags().GetString("out")
	if out == "" {
		out = defaultDir
	}

	if err := security.SaveCertToFile(cert, out); err != nil {
		return err
	}
	if err := security.SaveCACertToFile(ca.GetRootCACert(), out); err != nil {
		return err
	}

	info := security.GetCertInfo(cert.Leaf)
	fmt.Printf("Certificate written to %s\n", out)
	fmt.Printf("Subject DN: %s\n", info["subject"])
	fmt.Printf("Valid until: %s\n", info["not_after"])
	return nil
}
