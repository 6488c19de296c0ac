package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Log configures the zap logger.
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Server configures the inbound HTTP listener and its bounded handler pool.
type Server struct {
	Addr               string        `mapstructure:"addr"`
	InboundConcurrency int           `mapstructure:"inbound_concurrency"`
	BacklogTimeout     time.Duration `mapstructure:"backlog_timeout"`
	ShutdownGrace      time.Duration `mapstructure:"shutdown_grace"`
}

// Outbound configures the coordinator's remote node channel.
type Outbound struct {
	Concurrency    int           `mapstructure:"concurrency"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	CallTimeout    time.Duration `mapstructure:"call_timeout"`
}

// Partitioning configures account-to-partition routing.
type Partitioning struct {
	Prefix      string `mapstructure:"prefix"`
	Count       int    `mapstructure:"count"`
	MinReplicas int    `mapstructure:"min_replicas"`
}

// NodeEntry is one bootstrap registration: a worker and the partitions it serves.
type NodeEntry struct {
	ID         string   `mapstructure:"id"`
	Address    string   `mapstructure:"address"`
	Partitions []string `mapstructure:"partitions"`
}

// Coordinator is the central node's configuration.
type Coordinator struct {
	Log            Log           `mapstructure:"log"`
	Server         Server        `mapstructure:"server"`
	Outbound       Outbound      `mapstructure:"outbound"`
	Partitioning   Partitioning  `mapstructure:"partitioning"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
	Nodes          []NodeEntry   `mapstructure:"nodes"`
	// NodeList is the env-friendly form of Nodes: "id|address|P1,P2;id2|...".
	NodeList string `mapstructure:"node_list"`
}

// Database holds Postgres connection settings for a worker.
type Database struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Name           string        `mapstructure:"name"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	SSLMode        string        `mapstructure:"sslmode"`
	MaxOpenConns   int           `mapstructure:"max_open_conns"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// DSN renders the lib/pq key=value connection string.
func (d Database) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s connect_timeout=%d",
		d.Host, d.Port, d.Name, d.User, d.Password, d.SSLMode, int(d.ConnectTimeout.Seconds()))
}

// Ledger selects the worker's ledger store.
type Ledger struct {
	Driver       string            `mapstructure:"driver"`
	EnsureSchema bool              `mapstructure:"ensure_schema"`
	Seed         map[string]string `mapstructure:"seed"`
}

// Node is a worker node's configuration.
type Node struct {
	ID       string   `mapstructure:"id"`
	Log      Log      `mapstructure:"log"`
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
	Ledger   Ledger   `mapstructure:"ledger"`
}

func newViper(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.inbound_concurrency", 64)
	v.SetDefault("server.backlog_timeout", "5s")
	v.SetDefault("server.shutdown_grace", "10s")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	}
	return v, nil
}

// LoadCoordinator reads defaults, the optional YAML file and LEDGER_* env vars.
func LoadCoordinator(cfgFile string) (Coordinator, error) {
	v, err := newViper(cfgFile)
	if err != nil {
		return Coordinator{}, err
	}
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("outbound.concurrency", 32)
	v.SetDefault("outbound.connect_timeout", "5s")
	v.SetDefault("outbound.call_timeout", "10s")
	v.SetDefault("partitioning.prefix", "Cuenta-P")
	v.SetDefault("partitioning.count", 2)
	v.SetDefault("partitioning.min_replicas", 3)
	v.SetDefault("health_interval", "5s")
	v.SetDefault("node_list", "")

	var cfg Coordinator
	if err := v.Unmarshal(&cfg); err != nil {
		return Coordinator{}, fmt.Errorf("decode coordinator config: %w", err)
	}
	if cfg.NodeList != "" {
		entries, err := ParseNodeList(cfg.NodeList)
		if err != nil {
			return Coordinator{}, err
		}
		cfg.Nodes = append(cfg.Nodes, entries...)
	}
	if cfg.Partitioning.Count <= 0 {
		return Coordinator{}, fmt.Errorf("partitioning.count must be positive, got %d", cfg.Partitioning.Count)
	}
	if cfg.Outbound.Concurrency <= 0 || cfg.Server.InboundConcurrency <= 0 {
		return Coordinator{}, fmt.Errorf("pool sizes must be positive")
	}
	return cfg, nil
}

// LoadNode reads a worker's configuration. The legacy variables WORKER_ID,
// WORKER_PORT and DB_* are honored alongside their LEDGER_* forms.
func LoadNode(cfgFile string) (Node, error) {
	v, err := newViper(cfgFile)
	if err != nil {
		return Node{}, err
	}
	v.SetDefault("id", "")
	v.SetDefault("server.addr", ":8081")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "banco")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 16)
	v.SetDefault("database.connect_timeout", "5s")
	v.SetDefault("ledger.driver", "postgres")
	v.SetDefault("ledger.ensure_schema", false)

	for key, legacy := range map[string]string{
		"id":                "WORKER_ID",
		"database.host":     "DB_HOST",
		"database.port":     "DB_PORT",
		"database.name":     "DB_NAME",
		"database.user":     "DB_USER",
		"database.password": "DB_PASSWORD",
	} {
		envKey := "LEDGER_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return Node{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.BindEnv("worker_port", "WORKER_PORT"); err != nil {
		return Node{}, fmt.Errorf("bind env worker_port: %w", err)
	}

	var cfg Node
	if err := v.Unmarshal(&cfg); err != nil {
		return Node{}, fmt.Errorf("decode node config: %w", err)
	}
	if port := v.GetString("worker_port"); port != "" {
		cfg.Server.Addr = ":" + port
	}
	if cfg.ID == "" {
		return Node{}, fmt.Errorf("node id is required (LEDGER_ID or WORKER_ID)")
	}
	switch cfg.Ledger.Driver {
	case "postgres", "memory":
	default:
		return Node{}, fmt.Errorf("unknown ledger driver %q", cfg.Ledger.Driver)
	}
	return cfg, nil
}

// ParseNodeList parses "id|address|P1,P2;id2|address2|P1".
func ParseNodeList(s string) ([]NodeEntry, error) {
	var entries []NodeEntry
	for _, raw := range strings.Split(s, ";") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		fields := strings.Split(raw, "|")
		if len(fields) != 3 {
			return nil, fmt.Errorf("node entry %q: want id|address|partitions", raw)
		}
		entry := NodeEntry{ID: strings.TrimSpace(fields[0]), Address: strings.TrimSpace(fields[1])}
		for _, p := range strings.Split(fields[2], ",") {
			if p = strings.TrimSpace(p); p != "" {
				entry.Partitions = append(entry.Partitions, p)
			}
		}
		if entry.ID == "" || entry.Address == "" || len(entry.Partitions) == 0 {
			return nil, fmt.Errorf("node entry %q: id, address and at least one partition are required", raw)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
