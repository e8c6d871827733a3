package serve

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/VictoriaMetrics/metrics"
	cmdUtil "github.com/cachekit/stripekv/cmd/util"
	"github.com/cachekit/stripekv/lib/store"
	"github.com/cachekit/stripekv/lib/store/lockstore"
	"github.com/cachekit/stripekv/lib/store/rsm"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/config"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/zeebo/xxh3"
)

// Dragonboat uses RTT (Round Trip Time) to determine the timing of elections and heartbeats.
// These default values are selected according to the RAFT paper
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// serverConfig holds all configuration parameters for a replica node
type serverConfig struct {
	ShardID            uint64
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	DataDir            string
	ReplicaID          uint64
	ClusterMembers     map[uint64]string
	MetricsEndpoint    string
	LogLevel           string
}

var (
	serveCmdConfig = &serverConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start a stripekv replica node",
		Long:    `Start a stripekv replica node with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is SKV_<flag> (e.g. SKV_DATA_DIR=/var/lib/stripekv)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// add flags
	key := "shard"
	ServeCmd.PersistentFlags().Uint64(key, 100, cmdUtil.WrapString("The shard ID this node serves"))

	key = "rtt-millisecond"
	ServeCmd.PersistentFlags().Int(key, 100, cmdUtil.WrapString("RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two NodeHost instances. Other raft configuration parameters (ElectionRTT, HeartbeatRTT) are derived from this value"))

	key = "snapshot-entries"
	ServeCmd.PersistentFlags().Int(key, 10, cmdUtil.WrapString("SnapshotEntries defines how often the state machine should be snapshotted automatically. It is defined in terms of the number of applied Raft log entries. SnapshotEntries can be set to 0 to disable such automatic snapshotting (not recommended)"))

	key = "compaction-overhead"
	ServeCmd.PersistentFlags().Int(key, 5, cmdUtil.WrapString("CompactionOverhead defines the number of snapshots that should be retained in the system. Recommended value is about 1/2 of SnapshotEntries"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("DataDir is the directory used for storing the raft log and snapshots"))

	key = "replica-id"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("ReplicaID is the unique identifier for this NodeHost instance (e.g. 'node-1')"))

	key = "cluster-members"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("ClusterMembers is a comma-separated list of NodeHost addresses in the format 'node-1=localhost:63001,node-2=localhost:63002,...'"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Optional address to expose prometheus metrics on (e.g. 0.0.0.0:9090, empty = disabled)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	// store construction flags (backend, stripes, timeouts)
	cmdUtil.SetupStoreFlags(ServeCmd)
}

// processConfig reads the configuration from the command line flags and environment variables and converts it to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.ShardID = viper.GetUint64("shard")
	serveCmdConfig.RTTMillisecond = viper.GetUint64("rtt-millisecond")
	serveCmdConfig.SnapshotEntries = viper.GetUint64("snapshot-entries")
	serveCmdConfig.CompactionOverhead = viper.GetUint64("compaction-overhead")
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	// parse replica id
	id := viper.GetString("replica-id")
	if id == "" {
		return fmt.Errorf("replica-id is required")
	}
	serveCmdConfig.ReplicaID = xxh3.HashString(id)

	// parse cluster members
	clusterMembers := viper.GetString("cluster-members")
	if clusterMembers == "" {
		return fmt.Errorf("cluster-members is required")
	}
	serveCmdConfig.ClusterMembers = make(map[uint64]string)
	for _, member := range strings.Split(clusterMembers, ",") {
		parts := strings.Split(member, "=")
		if len(parts) != 2 {
			return fmt.Errorf("invalid cluster member format: %s (expected ID=address)", member)
		}
		serveCmdConfig.ClusterMembers[xxh3.HashString(strings.TrimSpace(parts[0]))] = strings.TrimSpace(parts[1])
	}

	// test if the replica id is in the cluster members
	if _, ok := serveCmdConfig.ClusterMembers[serveCmdConfig.ReplicaID]; !ok {
		return fmt.Errorf("no address found for replica ID %s in cluster members", id)
	}

	return setLogLevel(serveCmdConfig.LogLevel)
}

// run starts the replica node and blocks until it is terminated
func run(_ *cobra.Command, _ []string) error {

	fmt.Println(serveCmdConfig.String())

	// Create the Dragonboat NodeHost
	nodeHost, err := dragonboat.NewNodeHost(serveCmdConfig.toNodeHostConfig())
	if err != nil {
		return fmt.Errorf("failed to create node host: %w", err)
	}
	defer nodeHost.Close()

	// Each replica applies the raft log to its own lockstore
	cfg := cmdUtil.GetStoreConfig()
	storeFactory := func() store.IStore {
		backend, err := cmdUtil.NewBackend()
		if err != nil {
			panic(err)
		}
		s, err := lockstore.New(cfg, backend)
		if err != nil {
			panic(err)
		}
		return s
	}

	// Start Raft for the shard
	if err := nodeHost.StartConcurrentReplica(
		serveCmdConfig.ClusterMembers,
		false,
		rsm.CreateStateMachineFactory(storeFactory),
		serveCmdConfig.toDragonboatConfig(),
	); err != nil {
		return fmt.Errorf("failed to start shard %d: %w", serveCmdConfig.ShardID, err)
	}

	// Optionally expose prometheus metrics
	if serveCmdConfig.MetricsEndpoint != "" {
		go func() {
			mux := http.NewServeMux()
			mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
				metrics.WritePrometheus(w, true)
			})
			if err := http.ListenAndServe(serveCmdConfig.MetricsEndpoint, mux); err != nil {
				fmt.Printf("metrics endpoint failed: %v\n", err)
			}
		}()
	}

	// Block until terminated
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	fmt.Println("shutting down...")
	return nil
}

// setLogLevel applies the configured log level to all loggers
func setLogLevel(level string) error {
	var l logger.LogLevel
	switch level {
	case "debug":
		l = logger.DEBUG
	case "info":
		l = logger.INFO
	case "warn":
		l = logger.WARNING
	case "error":
		l = logger.ERROR
	default:
		return fmt.Errorf("invalid log level %s (expected one of: debug, info, warn, error)", level)
	}

	for _, pkg := range []string{"rsm", "lockstore", "raft", "raftpb", "logdb", "transport", "nodehost"} {
		logger.GetLogger(pkg).SetLevel(l)
	}
	return nil
}

// --------------------------------------------------------------------------
// Dragonboat configuration helpers
// --------------------------------------------------------------------------

// toDragonboatConfig converts the serverConfig to a Dragonboat replica config
func (c *serverConfig) toDragonboatConfig() config.Config {
	return config.Config{
		ReplicaID:          c.ReplicaID,
		ShardID:            c.ShardID,
		ElectionRTT:        electionRTTFactor,
		HeartbeatRTT:       heartbeatRTTFactor,
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
		MaxInMemLogSize:    0,
	}
}

// toNodeHostConfig creates a NodeHostConfig for Dragonboat
func (c *serverConfig) toNodeHostConfig() config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:         c.DataDir,
		NodeHostDir:    c.DataDir,
		RTTMillisecond: c.RTTMillisecond,
		RaftAddress:    c.ClusterMembers[c.ReplicaID],
	}
}

// String returns a formatted string representation of the configuration
func (c *serverConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Node Identity")
	addField("RAFT Address", c.ClusterMembers[c.ReplicaID])
	addField("Node ID", strconv.FormatUint(c.ReplicaID, 10))
	addField("Shard ID", strconv.FormatUint(c.ShardID, 10))

	addSection("RAFT Parameters")
	addField("Round Trip Time (ms)", fmt.Sprintf("%d ms", c.RTTMillisecond))
	addField("Election RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*electionRTTFactor))
	addField("Heartbeat RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*heartbeatRTTFactor))
	addField("Snapshot Entries", fmt.Sprintf("%d", c.SnapshotEntries))
	addField("Compaction Overhead", fmt.Sprintf("%d", c.CompactionOverhead))

	addSection("Storage")
	addField("Data Directory", c.DataDir)
	addField("Backend", viper.GetString("backend"))
	addField("Lock Stripes", strconv.Itoa(viper.GetInt("stripes")))

	addSection("Logging")
	addField("Log Level", c.LogLevel)
	if c.MetricsEndpoint != "" {
		addField("Metrics Endpoint", c.MetricsEndpoint)
	}

	addSection("Cluster")
	sb.WriteString("  Initial Cluster Members:\n")

	// Sort keys for consistent output
	var keys []uint64
	for k := range c.ClusterMembers {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("    Node %d: %s\n", k, c.ClusterMembers[k]))
	}

	return sb.String()
}
