package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Store      StoreConfig      `mapstructure:"store"`
	Cassandra  CassandraConfig  `mapstructure:"cassandra"`
	Mongo      MongoConfig      `mapstructure:"mongo"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Sync       SyncConfig       `mapstructure:"sync"`
	WorkerPool WorkerPoolConfig `mapstructure:"worker_pool"`
	Batch      BatchConfig      `mapstructure:"batch"`
	Unread     UnreadConfig     `mapstructure:"unread"`
	Snowflake  SnowflakeConfig  `mapstructure:"snowflake"`
	Subscriber SubscriberConfig `mapstructure:"subscriber"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
}

type HTTPConfig struct {
	Addr       string `mapstructure:"addr"`
	HealthAddr string `mapstructure:"health_addr"`
	Mode       string `mapstructure:"mode"`
}

// AuthConfig 用户身份来源
// mode=jwt 时校验网关签发的 access token；mode=header 时信任网关注入的 X-User-Id
type AuthConfig struct {
	Mode      string `mapstructure:"mode"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// StoreConfig 消息存储后端: cassandra | mongo | memory
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
}

type CassandraConfig struct {
	Hosts        []string      `mapstructure:"hosts"`
	Keyspace     string        `mapstructure:"keyspace"`
	Consistency  string        `mapstructure:"consistency"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	Timeout      time.Duration `mapstructure:"timeout"`
	NumConns     int           `mapstructure:"num_conns"`
	CreateSchema bool          `mapstructure:"create_schema"`
}

type MongoConfig struct {
	URI         string        `mapstructure:"uri"`
	Database    string        `mapstructure:"database"`
	Collection  string        `mapstructure:"collection"`
	MaxPoolSize uint64        `mapstructure:"max_pool_size"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// SyncConfig 搜索索引同步事件
type SyncConfig struct {
	SubjectPrefix  string        `mapstructure:"subject_prefix"`
	Partitions     int           `mapstructure:"partitions"`
	BufferSize     int           `mapstructure:"buffer_size"`
	EnqueueTimeout time.Duration `mapstructure:"enqueue_timeout"`
}

type WorkerPoolConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

// BatchConfig 批量查询最后一条消息的分档参数
type BatchConfig struct {
	SequentialMax     int           `mapstructure:"sequential_max"`
	PooledMax         int           `mapstructure:"pooled_max"`
	ChunkSize         int           `mapstructure:"chunk_size"`
	MaxParallelChunks int           `mapstructure:"max_parallel_chunks"`
	ItemTimeout       time.Duration `mapstructure:"item_timeout"`
}

type UnreadConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type SnowflakeConfig struct {
	NodeID int64 `mapstructure:"node_id"`
}

// SubscriberConfig 上游消息订阅
type SubscriberConfig struct {
	Subject     string `mapstructure:"subject"`
	QueueGroup  string `mapstructure:"queue_group"`
	WorkerCount int    `mapstructure:"worker_count"`
	BufferSize  int    `mapstructure:"buffer_size"`
}

// Load 从指定路径加载配置，环境变量 IM_<SECTION>_<KEY> 可覆盖文件中的值
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("IM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "im-message")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("http.addr", ":8090")
	v.SetDefault("http.health_addr", ":8091")
	v.SetDefault("http.mode", "release")

	v.SetDefault("auth.mode", "jwt")

	v.SetDefault("store.backend", "memory")

	v.SetDefault("cassandra.hosts", []string{"127.0.0.1"})
	v.SetDefault("cassandra.keyspace", "im")
	v.SetDefault("cassandra.consistency", "LOCAL_QUORUM")
	v.SetDefault("cassandra.timeout", 5*time.Second)
	v.SetDefault("cassandra.num_conns", 2)

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "im")
	v.SetDefault("mongo.collection", "messages")
	v.SetDefault("mongo.max_pool_size", 100)
	v.SetDefault("mongo.timeout", 5*time.Second)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.max_reconnects", 60)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)

	v.SetDefault("sync.subject_prefix", "im.sync.message")
	v.SetDefault("sync.partitions", 16)
	v.SetDefault("sync.buffer_size", 10000)
	v.SetDefault("sync.enqueue_timeout", 50*time.Millisecond)

	v.SetDefault("worker_pool.workers", 64)
	v.SetDefault("worker_pool.queue_size", 1024)

	v.SetDefault("batch.sequential_max", 5)
	v.SetDefault("batch.pooled_max", 50)
	v.SetDefault("batch.chunk_size", 20)
	v.SetDefault("batch.max_parallel_chunks", 16)
	v.SetDefault("batch.item_timeout", 0)

	v.SetDefault("unread.ttl", 30*24*time.Hour)

	v.SetDefault("subscriber.subject", "im.message.inbound")
	v.SetDefault("subscriber.queue_group", "im-message")
	v.SetDefault("subscriber.worker_count", 32)
	v.SetDefault("subscriber.buffer_size", 10000)
}
