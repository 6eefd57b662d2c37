package params

import (
	"math/big"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/uhyunpark/custodex/pkg/app/core/transaction"
	"github.com/uhyunpark/custodex/pkg/app/dex"
	"github.com/uhyunpark/custodex/pkg/crypto"
	"github.com/uhyunpark/custodex/pkg/p2p"
)

// EnvPrefix prefixes every environment override, e.g. CUSTODEX_NODE_API_ADDR
const EnvPrefix = "CUSTODEX"

const (
	RolePrimary  = "primary"
	RoleFollower = "follower"
)

type Exchange struct {
	FeeAccount string `mapstructure:"fee_account"`
	FeePercent uint64 `mapstructure:"fee_percent"`
	// Address overrides the custody address derived from the deployer
	Address string `mapstructure:"address"`
}

type Node struct {
	Role     string `mapstructure:"role"`
	DataDir  string `mapstructure:"data_dir"` // empty keeps state in memory
	APIAddr  string `mapstructure:"api_addr"`
	LogFile  string `mapstructure:"log_file"`
	LogLevel string `mapstructure:"log_level"`
	// JournalPath appends every committed event as a JSON line when set
	JournalPath    string   `mapstructure:"journal_path"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type Domain struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
	ChainID int64  `mapstructure:"chain_id"`
}

type Genesis struct {
	// DeployerKey owns the genesis supply. Empty generates a throwaway key.
	DeployerKey string             `mapstructure:"deployer_key"`
	Tokens      []dex.GenesisToken `mapstructure:"tokens"`
}

type Requests struct {
	ReplayCacheSize int           `mapstructure:"replay_cache_size"`
	MaxTTL          time.Duration `mapstructure:"max_ttl"`
	QueueSize       int           `mapstructure:"queue_size"`
	BatchSize       int           `mapstructure:"batch_size"`
}

type Kafka struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

type P2P struct {
	Enabled    bool     `mapstructure:"enabled"`
	ListenAddr string   `mapstructure:"listen_addr"`
	Bootstrap  []string `mapstructure:"bootstrap"`
	Topic      string   `mapstructure:"topic"`
	// PrimaryAPI is where a follower backfills missed events
	PrimaryAPI string `mapstructure:"primary_api"`
}

type Seed struct {
	// User2Key is the second trader of the seeded scenario; the deployer is
	// the first. Empty generates a throwaway key.
	User2Key string `mapstructure:"user2_key"`
}

type Config struct {
	Exchange Exchange `mapstructure:"exchange"`
	Node     Node     `mapstructure:"node"`
	Domain   Domain   `mapstructure:"domain"`
	Genesis  Genesis  `mapstructure:"genesis"`
	Requests Requests `mapstructure:"requests"`
	Kafka    Kafka    `mapstructure:"kafka"`
	P2P      P2P      `mapstructure:"p2p"`
	Seed     Seed     `mapstructure:"seed"`
}

func Default() Config {
	d := crypto.DefaultDomain()
	return Config{
		Exchange: Exchange{
			FeeAccount: "0xFEE0000000000000000000000000000000000002",
			FeePercent: 10,
		},
		Node: Node{
			Role:           RolePrimary,
			DataDir:        "data/pebble",
			APIAddr:        ":8080",
			LogFile:        "data/node.log",
			LogLevel:       "info",
			AllowedOrigins: []string{"*"},
		},
		Domain: Domain{Name: d.Name, Version: d.Version, ChainID: d.ChainID.Int64()},
		Genesis: Genesis{
			Tokens: dex.DefaultGenesis(),
		},
		Requests: Requests{
			ReplayCacheSize: transaction.DefaultReplayCacheSize,
			MaxTTL:          transaction.DefaultMaxTTL,
			QueueSize:       dex.DefaultQueueSize,
			BatchSize:       dex.DefaultBatchSize,
		},
		Kafka: Kafka{
			Topic:        "custodex-events",
			BatchTimeout: 50 * time.Millisecond,
		},
		P2P: P2P{
			ListenAddr: "/ip4/0.0.0.0/tcp/9000",
			Topic:      p2p.DefaultTopic,
		},
	}
}

// Load builds the configuration. Priority: ENV > .env file > config file >
// defaults. Both paths are optional; an empty envPath tries ./.env.
func Load(configPath, envPath string) (Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			return Config{}, errors.Wrapf(err, "load env file %s", envPath)
		}
	} else {
		// godotenv never overrides variables already set
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v, Default())

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", configPath)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every leaf key so AutomaticEnv can override it
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("exchange.fee_account", d.Exchange.FeeAccount)
	v.SetDefault("exchange.fee_percent", d.Exchange.FeePercent)
	v.SetDefault("exchange.address", d.Exchange.Address)

	v.SetDefault("node.role", d.Node.Role)
	v.SetDefault("node.data_dir", d.Node.DataDir)
	v.SetDefault("node.api_addr", d.Node.APIAddr)
	v.SetDefault("node.log_file", d.Node.LogFile)
	v.SetDefault("node.log_level", d.Node.LogLevel)
	v.SetDefault("node.journal_path", d.Node.JournalPath)
	v.SetDefault("node.allowed_origins", d.Node.AllowedOrigins)

	v.SetDefault("domain.name", d.Domain.Name)
	v.SetDefault("domain.version", d.Domain.Version)
	v.SetDefault("domain.chain_id", d.Domain.ChainID)

	v.SetDefault("genesis.deployer_key", d.Genesis.DeployerKey)
	v.SetDefault("genesis.tokens", d.Genesis.Tokens)

	v.SetDefault("requests.replay_cache_size", d.Requests.ReplayCacheSize)
	v.SetDefault("requests.max_ttl", d.Requests.MaxTTL)
	v.SetDefault("requests.queue_size", d.Requests.QueueSize)
	v.SetDefault("requests.batch_size", d.Requests.BatchSize)

	v.SetDefault("kafka.enabled", d.Kafka.Enabled)
	v.SetDefault("kafka.brokers", d.Kafka.Brokers)
	v.SetDefault("kafka.topic", d.Kafka.Topic)
	v.SetDefault("kafka.batch_timeout", d.Kafka.BatchTimeout)

	v.SetDefault("p2p.enabled", d.P2P.Enabled)
	v.SetDefault("p2p.listen_addr", d.P2P.ListenAddr)
	v.SetDefault("p2p.bootstrap", d.P2P.Bootstrap)
	v.SetDefault("p2p.topic", d.P2P.Topic)
	v.SetDefault("p2p.primary_api", d.P2P.PrimaryAPI)

	v.SetDefault("seed.user2_key", d.Seed.User2Key)
}

func (c Config) Validate() error {
	if !common.IsHexAddress(c.Exchange.FeeAccount) {
		return errors.Newf("exchange.fee_account %q is not an address", c.Exchange.FeeAccount)
	}
	if c.Exchange.Address != "" && !common.IsHexAddress(c.Exchange.Address) {
		return errors.Newf("exchange.address %q is not an address", c.Exchange.Address)
	}
	switch c.Node.Role {
	case RolePrimary:
	case RoleFollower:
		if !c.P2P.Enabled {
			return errors.New("a follower needs p2p.enabled")
		}
		if c.Exchange.Address == "" {
			return errors.New("a follower needs exchange.address of its primary")
		}
	default:
		return errors.Newf("node.role must be %q or %q, got %q", RolePrimary, RoleFollower, c.Node.Role)
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return errors.New("kafka.enabled needs kafka.brokers and kafka.topic")
	}
	if c.Domain.ChainID <= 0 {
		return errors.Newf("domain.chain_id must be positive, got %d", c.Domain.ChainID)
	}
	return nil
}

// EIP712Domain is the signing domain; VerifyingContract is filled in by the
// node once the exchange address is known.
func (c Config) EIP712Domain() crypto.EIP712Domain {
	return crypto.EIP712Domain{
		Name:    c.Domain.Name,
		Version: c.Domain.Version,
		ChainID: big.NewInt(c.Domain.ChainID),
	}
}

// VerifierOptions maps the request limits onto the verifier
func (c Config) VerifierOptions() transaction.VerifierOptions {
	return transaction.VerifierOptions{
		ReplayCacheSize: c.Requests.ReplayCacheSize,
		MaxTTL:          c.Requests.MaxTTL,
	}
}
