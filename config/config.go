// Package config provides configuration management for Goclaw.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kestrel-run/kestrel/pkg/domain"
)

// Config is the global configuration for Goclaw.
type Config struct {
	// App is the application configuration.
	App AppConfig `mapstructure:"app" validate:"required"`

	// Server is the server configuration.
	Server ServerConfig `mapstructure:"server" validate:"required"`

	// Log is the logging configuration.
	Log LogConfig `mapstructure:"log" validate:"required"`

	// Orchestration is the workflow orchestration configuration.
	Orchestration OrchestrationConfig `mapstructure:"orchestration"`

	// Cluster is the distributed cluster configuration (Phase 2).
	Cluster ClusterConfig `mapstructure:"cluster"`

	// Storage is the persistence configuration.
	Storage StorageConfig `mapstructure:"storage"`

	// Metrics is the observability configuration.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Tracing is the distributed tracing configuration (Phase 3).
	Tracing TracingConfig `mapstructure:"tracing"`

	// Memory is the hybrid memory search and decay configuration.
	Memory MemoryConfig `mapstructure:"memory"`

	// LLM is the model router configuration.
	LLM LLMConfig `mapstructure:"llm"`

	// Agents lists the agents this host runs, each with its own bindings.
	Agents []AgentConfig `mapstructure:"agents"`

	// Bindings maps inbound platform identities to the agent that owns
	// them (spec.md §3 "Binding"). Evaluated first-match-wins, so list
	// exact-sender bindings before wildcard, platform-only ones.
	Bindings []domain.Binding `mapstructure:"bindings"`
}

// AppConfig holds application metadata and settings.
type AppConfig struct {
	// Name is the application name.
	Name string `mapstructure:"name" validate:"required"`

	// Version is the application version.
	Version string `mapstructure:"version"`

	// Environment is the runtime environment (development, staging, production).
	Environment string `mapstructure:"environment" validate:"oneof=development staging production"`

	// Debug enables debug mode with verbose logging.
	Debug bool `mapstructure:"debug"`
}

// ServerConfig holds the HTTP/gRPC server configuration.
type ServerConfig struct {
	// Host is the bind address.
	Host string `mapstructure:"host"`

	// Port is the HTTP API port.
	Port int `mapstructure:"port" validate:"required,min=1,max=65535"`

	// GRPC is the gRPC server configuration.
	GRPC GRPCConfig `mapstructure:"grpc"`

	// HTTP is the HTTP server configuration.
	HTTP HTTPConfig `mapstructure:"http"`

	// CORS is the CORS configuration.
	CORS CORSConfig `mapstructure:"cors"`
}

// GRPCConfig holds gRPC-specific settings.
type GRPCConfig struct {
	// Enabled enables the gRPC server.
	Enabled bool `mapstructure:"enabled"`

	// Port is the gRPC server port.
	Port int `mapstructure:"port" validate:"min=1,max=65535"`

	// MaxConnections is the maximum number of concurrent connections.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	// MaxRecvMsgSize is the maximum message size the server can receive (bytes).
	MaxRecvMsgSize int `mapstructure:"max_recv_msg_size" validate:"min=0"`

	// MaxSendMsgSize is the maximum message size the server can send (bytes).
	MaxSendMsgSize int `mapstructure:"max_send_msg_size" validate:"min=0"`

	// EnableReflection enables gRPC server reflection for debugging.
	EnableReflection bool `mapstructure:"enable_reflection"`

	// EnableHealthCheck enables gRPC health check service.
	EnableHealthCheck bool `mapstructure:"enable_health_check"`

	// TLS is the TLS/mTLS configuration.
	TLS GRPCTLSConfig `mapstructure:"tls"`

	// Keepalive is the keepalive configuration.
	Keepalive GRPCKeepaliveConfig `mapstructure:"keepalive"`
}

// GRPCTLSConfig holds gRPC TLS/mTLS settings.
type GRPCTLSConfig struct {
	// Enabled indicates whether TLS is enabled.
	Enabled bool `mapstructure:"enabled"`

	// CertFile is the path to the server certificate file.
	CertFile string `mapstructure:"cert_file"`

	// KeyFile is the path to the server private key file.
	KeyFile string `mapstructure:"key_file"`

	// CAFile is the path to the CA certificate file for mTLS.
	CAFile string `mapstructure:"ca_file"`

	// ClientAuth indicates whether to require client certificates (mTLS).
	ClientAuth bool `mapstructure:"client_auth"`
}

// GRPCKeepaliveConfig holds gRPC keepalive settings.
type GRPCKeepaliveConfig struct {
	// MaxIdleSeconds is the maximum idle time before closing connection.
	MaxIdleSeconds int `mapstructure:"max_idle_seconds" validate:"min=0"`

	// MaxAgeSeconds is the maximum connection age.
	MaxAgeSeconds int `mapstructure:"max_age_seconds" validate:"min=0"`

	// MaxAgeGraceSeconds is the grace period for closing connections.
	MaxAgeGraceSeconds int `mapstructure:"max_age_grace_seconds" validate:"min=0"`

	// TimeSeconds is the keepalive ping interval.
	TimeSeconds int `mapstructure:"time_seconds" validate:"min=0"`

	// TimeoutSeconds is the keepalive ping timeout.
	TimeoutSeconds int `mapstructure:"timeout_seconds" validate:"min=0"`

	// MinTimeSeconds is the minimum time between client pings.
	MinTimeSeconds int `mapstructure:"min_time_seconds" validate:"min=0"`

	// PermitWithoutStream allows pings without active streams.
	PermitWithoutStream bool `mapstructure:"permit_without_stream"`
}

// HTTPConfig holds HTTP-specific settings.
type HTTPConfig struct {
	// Enabled enables the HTTP server.
	Enabled bool `mapstructure:"enabled"`

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// MaxHeaderBytes limits the size of request headers.
	MaxHeaderBytes int `mapstructure:"max_header_bytes"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	// Enabled enables CORS support.
	Enabled bool `mapstructure:"enabled"`

	// AllowedOrigins is the list of allowed origins.
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// AllowedMethods is the list of allowed HTTP methods.
	AllowedMethods []string `mapstructure:"allowed_methods"`

	// AllowedHeaders is the list of allowed headers.
	AllowedHeaders []string `mapstructure:"allowed_headers"`

	// ExposedHeaders is the list of headers exposed to the client.
	ExposedHeaders []string `mapstructure:"exposed_headers"`

	// AllowCredentials indicates whether credentials are allowed.
	AllowCredentials bool `mapstructure:"allow_credentials"`

	// MaxAge is the maximum age of CORS preflight cache in seconds.
	MaxAge int `mapstructure:"max_age"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`

	// Format is the output format (json, text).
	Format string `mapstructure:"format" validate:"oneof=json text"`

	// Output is the output destination (stdout, stderr, or file path).
	Output string `mapstructure:"output"`
}

// OrchestrationConfig holds workflow engine settings.
type OrchestrationConfig struct {
	// MaxAgents is the maximum number of concurrent agents.
	MaxAgents int `mapstructure:"max_agents" validate:"min=1"`

	// Queue is the task queue configuration.
	Queue QueueConfig `mapstructure:"queue"`

	// Scheduler is the task scheduler configuration.
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// QueueConfig holds task queue settings.
type QueueConfig struct {
	// Type is the queue implementation (memory, redis).
	Type string `mapstructure:"type" validate:"oneof=memory redis"`

	// Size is the maximum queue size.
	Size int `mapstructure:"size" validate:"min=1"`
}

// SchedulerConfig holds scheduler settings.
type SchedulerConfig struct {
	// Type is the scheduling algorithm (round_robin, priority, load_balanced).
	Type string `mapstructure:"type" validate:"oneof=round_robin priority load_balanced"`

	// CheckInterval is how often to check for new tasks.
	CheckInterval time.Duration `mapstructure:"check_interval"`
}

// ClusterConfig holds distributed mode settings (Phase 2).
type ClusterConfig struct {
	// Enabled enables distributed mode.
	Enabled bool `mapstructure:"enabled"`

	// NodeID is the unique identifier for this node.
	NodeID string `mapstructure:"node_id"`

	// Discovery is the service discovery configuration.
	Discovery DiscoveryConfig `mapstructure:"discovery"`

	// Gossip is the gossip protocol configuration.
	Gossip GossipConfig `mapstructure:"gossip"`
}

// DiscoveryConfig holds service discovery settings.
type DiscoveryConfig struct {
	// Type is the discovery provider (consul, etcd, kubernetes).
	Type string `mapstructure:"type" validate:"oneof=consul etcd kubernetes"`

	// Address is the discovery service endpoint.
	Address string `mapstructure:"address"`
}

// GossipConfig holds gossip protocol settings.
type GossipConfig struct {
	// BindPort is the port to bind for gossip.
	BindPort int `mapstructure:"bind_port" validate:"min=1,max=65535"`

	// AdvertiseAddr is the address to advertise to other nodes.
	AdvertiseAddr string `mapstructure:"advertise_addr"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// Type is the storage backend (memory, badger, redis, mysql, sqlite).
	Type string `mapstructure:"type" validate:"oneof=memory badger redis mysql sqlite"`

	// Badger is the BadgerDB configuration.
	Badger BadgerConfig `mapstructure:"badger"`

	// Redis is the Redis configuration.
	Redis RedisConfig `mapstructure:"redis"`

	// MySQL is the gorm/MySQL configuration, used when Type is "mysql".
	MySQL SQLConfig `mapstructure:"mysql"`

	// SQLite is the embedded modernc.org/sqlite configuration, used when
	// Type is "sqlite".
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

// SQLConfig holds settings for a gorm-backed relational store.
type SQLConfig struct {
	// DSN is the driver-specific data source name, e.g.
	// "user:pass@tcp(host:3306)/kestrel?parseTime=true".
	DSN string `mapstructure:"dsn"`

	// MaxOpenConns caps the underlying connection pool. Zero means
	// database/sql's default.
	MaxOpenConns int `mapstructure:"max_open_conns"`
}

// SQLiteConfig holds settings for the embedded sqlite store.
type SQLiteConfig struct {
	// Path is the database file path, or ":memory:" for an ephemeral store.
	Path string `mapstructure:"path"`
}

// BadgerConfig holds BadgerDB-specific settings.
type BadgerConfig struct {
	// Path is the database directory path.
	Path string `mapstructure:"path"`

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool `mapstructure:"sync_writes"`

	// ValueLogFileSize is the maximum size of value log files in bytes.
	ValueLogFileSize int64 `mapstructure:"value_log_file_size"`

	// NumVersionsToKeep is the number of versions to keep per key.
	NumVersionsToKeep int `mapstructure:"num_versions_to_keep"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	// Address is the Redis server address.
	Address string `mapstructure:"address"`

	// Password is the Redis password.
	Password string `mapstructure:"password"`

	// DB is the Redis database number.
	DB int `mapstructure:"db"`
}

// MetricsConfig holds observability settings.
type MetricsConfig struct {
	// Enabled enables metrics collection.
	Enabled bool `mapstructure:"enabled"`

	// Path is the metrics endpoint path.
	Path string `mapstructure:"path"`

	// Port is the metrics server port.
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
}

// TracingConfig holds distributed tracing settings (Phase 3).
type TracingConfig struct {
	// Enabled enables distributed tracing.
	Enabled bool `mapstructure:"enabled"`

	// Type is the legacy tracing backend name (jaeger, zipkin). Validate
	// normalizes it into Exporter when Exporter is left blank.
	Type string `mapstructure:"type"`

	// Exporter is the OTLP exporter kind (otlpgrpc, otlphttp).
	Exporter string `mapstructure:"exporter" validate:"omitempty,oneof=otlpgrpc otlphttp"`

	// Endpoint is the collector endpoint.
	Endpoint string `mapstructure:"endpoint"`

	// Timeout bounds span export calls.
	Timeout time.Duration `mapstructure:"timeout"`

	// Headers are extra OTLP exporter headers (e.g. collector auth).
	Headers map[string]string `mapstructure:"headers"`

	// Sampler selects the OTel sampler (always_on, always_off, parentbased_traceidratio).
	Sampler string `mapstructure:"sampler"`

	// SampleRate is the fraction of traces to sample (0.0-1.0).
	SampleRate float64 `mapstructure:"sample_rate" validate:"min=0,max=1"`
}

// MemoryConfig holds hybrid memory search and maintenance settings.
type MemoryConfig struct {
	// Enabled turns the memory subsystem on for an agent.
	Enabled bool `mapstructure:"enabled"`

	// VectorDimension is the embedding dimensionality indexed for dense search.
	VectorDimension int `mapstructure:"vector_dimension" validate:"min=1"`

	// VectorWeight and BM25Weight are legacy two-source fusion weights,
	// superseded by DenseWeight/LexicalWeight/GraphWeight below but kept
	// for backward-compatible config files.
	VectorWeight float64 `mapstructure:"vector_weight"`
	BM25Weight   float64 `mapstructure:"bm25_weight"`

	// DenseWeight, LexicalWeight, GraphWeight are the three-source RRF
	// fusion weights (dense:1.0, lexical:1.0, graph:0.5 by default).
	DenseWeight   float64 `mapstructure:"dense_weight"`
	LexicalWeight float64 `mapstructure:"lexical_weight"`
	GraphWeight   float64 `mapstructure:"graph_weight"`

	// RRFK is the reciprocal-rank-fusion constant (default 60).
	RRFK float64 `mapstructure:"rrf_k"`

	// GraphDepth bounds BFS association expansion (default 2).
	GraphDepth int `mapstructure:"graph_depth" validate:"min=0"`

	// L1CacheSize bounds the hot-path LRU cache in front of the structured store.
	L1CacheSize int `mapstructure:"l1_cache_size" validate:"min=0"`

	// ForgetThreshold / PruneThreshold gate maintenance deletion.
	ForgetThreshold float64 `mapstructure:"forget_threshold"`
	PruneThreshold  float64 `mapstructure:"prune_threshold"`

	// MergeThreshold is the cosine similarity above which two memories are
	// considered duplicates and merged.
	MergeThreshold float64 `mapstructure:"merge_threshold"`

	// ImportanceFloor is the minimum importance decay can reach.
	ImportanceFloor float64 `mapstructure:"importance_floor"`

	// DecayLambda is the exponential decay rate applied per day elapsed
	// since last access.
	DecayLambda float64 `mapstructure:"decay_lambda"`

	// DecayInterval is the cadence of the decay/prune/merge maintenance loop.
	DecayInterval time.Duration `mapstructure:"decay_interval"`

	// DefaultStability is retained from the teacher's FSRS model for memories
	// that do not yet have an importance-decay history.
	DefaultStability float64 `mapstructure:"default_stability"`

	// BM25 holds the lexical scoring parameters.
	BM25 BM25Config `mapstructure:"bm25"`

	// HNSW configures an optional approximate nearest-neighbor backend
	// (unused by the brute-force VectorIndex, consumed by qdrant_index.go).
	HNSW HNSWConfig `mapstructure:"hnsw"`

	// StoragePath is where the vector index snapshot is saved/loaded from.
	StoragePath string `mapstructure:"storage_path"`

	// Qdrant configures the optional external vector backend.
	Qdrant QdrantConfig `mapstructure:"qdrant"`
}

// BM25Config holds lexical scoring parameters.
type BM25Config struct {
	K1 float64 `mapstructure:"k1"`
	B  float64 `mapstructure:"b"`
}

// HNSWConfig configures an external approximate nearest-neighbor index.
type HNSWConfig struct {
	M              int `mapstructure:"m"`
	EfConstruction int `mapstructure:"ef_construction"`
	EfSearch       int `mapstructure:"ef_search"`
}

// QdrantConfig configures the optional Qdrant-backed vector index.
type QdrantConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Address    string `mapstructure:"address"`
	Collection string `mapstructure:"collection"`
}

// LLMConfig holds the model router's provider and policy settings.
type LLMConfig struct {
	// DefaultModel is used when no task-type override or classifier result applies.
	DefaultModel string `mapstructure:"default_model"`

	// ProcessDefaults maps a process kind (channel, branch, worker, compactor,
	// cortex) to its default model.
	ProcessDefaults map[string]string `mapstructure:"process_defaults"`

	// TaskTypeOverrides maps a worker task_type to a forced model.
	TaskTypeOverrides map[string]string `mapstructure:"task_type_overrides"`

	// FallbackChain lists models tried in order after a retriable failure.
	FallbackChain []string `mapstructure:"fallback_chain"`

	// MaxFallbackAttempts bounds how many models the router tries.
	MaxFallbackAttempts int `mapstructure:"max_fallback_attempts" validate:"min=1"`

	// CooldownDuration is how long a rate-limited model is skipped.
	CooldownDuration time.Duration `mapstructure:"cooldown_duration"`

	// RequestsPerMinute bounds the token-bucket rate limiter per model.
	RequestsPerMinute float64 `mapstructure:"requests_per_minute"`

	// Providers maps a provider name (e.g. "openai") to its API settings.
	Providers map[string]ProviderConfig `mapstructure:"providers"`
}

// ProviderConfig holds one LLM provider's connection settings.
type ProviderConfig struct {
	APIKeyEnv string `mapstructure:"api_key_env"`
	BaseURL   string `mapstructure:"base_url"`
}

// AgentConfig identifies one agent this host runs and how inbound traffic
// is bound to it.
type AgentConfig struct {
	ID           string   `mapstructure:"id" validate:"required"`
	Name         string   `mapstructure:"name"`
	DataDir      string   `mapstructure:"data_dir"`
	SystemPrompt string   `mapstructure:"system_prompt"`
	Tools        []string `mapstructure:"tools"`

	// SearchEndpoint is the base URL a Worker's web_search tool queries
	// (e.g. a SearXNG or internal search gateway). Empty disables it.
	SearchEndpoint string `mapstructure:"search_endpoint"`

	// CronTickEvery is the heartbeat scheduler's polling interval.
	// Defaults to one minute when zero.
	CronTickEvery time.Duration `mapstructure:"cron_tick_every"`

	// CortexCadence is how often this agent's Cortex flushes its
	// buffered observations to memory. Defaults to process.DefaultCortexCadence when zero.
	CortexCadence time.Duration `mapstructure:"cortex_cadence"`

	// MaxConcurrentBranches caps this agent's supervisor's live Branch
	// count. Defaults to supervisor.DefaultMaxConcurrentBranches when zero.
	MaxConcurrentBranches int `mapstructure:"max_concurrent_branches"`
}

// Validate performs validation on the configuration.
func (c *Config) Validate() error {
	c.normalizeTracing()
	if c.Tracing.Enabled && strings.TrimSpace(c.Tracing.Endpoint) == "" {
		return fmt.Errorf("config validation failed: tracing.endpoint is required when tracing.enabled is true")
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// normalizeTracing maps the legacy tracing.type field (jaeger, zipkin) onto
// the OTLP exporter kind when tracing.exporter is left unset.
func (c *Config) normalizeTracing() {
	if strings.TrimSpace(c.Tracing.Exporter) != "" {
		return
	}
	switch strings.ToLower(strings.TrimSpace(c.Tracing.Type)) {
	case "jaeger", "zipkin", "otlp", "":
		c.Tracing.Exporter = "otlpgrpc"
	default:
		c.Tracing.Exporter = c.Tracing.Type
	}
}

// String returns a string representation of the configuration (without sensitive data).
func (c *Config) String() string {
	return fmt.Sprintf("Config{App: %s, Server: :%d, Env: %s}",
		c.App.Name, c.Server.Port, c.App.Environment)
}
