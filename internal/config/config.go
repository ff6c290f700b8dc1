package config

import (
	"fmt"
	"net"
	"net/url"

	"github.com/cockroachdb/errors"
	"github.com/kelseyhightower/envconfig"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Хранилище: Postgres для клиентов и счетов, MongoDB для правил.
// FUEL_STORAGE=memory - все в памяти, без внешних баз.
type Storage struct {
	Mode     string `envconfig:"FUEL_STORAGE" default:"postgres"`
	Postgres Postgres
	Mongo    Mongo
}

type Postgres struct {
	Host     string `envconfig:"FUEL_DB" default:"localhost"`
	Port     string `envconfig:"FUEL_DB_PORT" default:"5432"`
	User     string `envconfig:"FUEL_DB_USER"`
	Password string `envconfig:"FUEL_DB_PASSWORD"`
	Database string `envconfig:"FUEL_DB_BASE" default:"fuel"`
	SSLMode  string `envconfig:"FUEL_DB_SSL_MODE" default:"disable"`
	Migrate  bool   `envconfig:"FUEL_DB_MIGRATE" default:"true"`
}

type Mongo struct {
	URI      string `envconfig:"FUEL_MONGO"`
	Database string `envconfig:"FUEL_MONGO_BASE" default:"fuel"`
}

// Redis. Пустой адрес - без кэша.
type Cache struct {
	Addr     string `envconfig:"FUEL_CACHE_URL"`
	User     string `envconfig:"FUEL_CACHE_USER"`
	Password string `envconfig:"FUEL_CACHE_PWD"`
	DB       int    `envconfig:"FUEL_CACHE_DB" default:"0"`
}

// Kafka. Пустой список брокеров - без уведомлений.
type Kafka struct {
	Brokers []string `envconfig:"KAFKA_FUEL_URL"`
	Topic   string   `envconfig:"KAFKA_FUEL_TOPIC" default:"fuel_transactions"`
	Group   string   `envconfig:"KAFKA_FUEL_GROUP" default:"fuel-reports"`
}

type Rabbit struct {
	Host         string `envconfig:"RABBIT_URL" default:"localhost"`
	Port         string `envconfig:"RABBIT_PORT" default:"5672"`
	User         string `envconfig:"RABBIT_USER" default:"guest"`
	Password     string `envconfig:"RABBIT_PASSWORD" default:"guest"`
	Queue        string `envconfig:"RABBIT_SETTLEMENTS_QUEUE" default:"settlements"`
	ConfirmQueue string `envconfig:"RABBIT_CONFIRMS_QUEUE" default:"settlement_confirms"`
}

// OTLP. Пустой endpoint - без трассировки.
type Tracing struct {
	Endpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Service  string `envconfig:"OTEL_SERVICE_NAME" default:"fuel"`
}

// HTTP API
type Server struct {
	Port    string `envconfig:"FUEL_HTTP_PORT" required:"true"`
	Storage Storage
	Cache   Cache
	Kafka   Kafka
	Tracing Tracing
}

// gRPC баланс
type Balance struct {
	Port    string `envconfig:"FUEL_GRPC_PORT" required:"true"`
	Storage Storage
	Cache   Cache
}

// Обработчик запросов терминалов из RabbitMQ
type Settlements struct {
	Workers int `envconfig:"FUEL_SETTLEMENT_COUNT" default:"4"`
	Storage Storage
	Cache   Cache
	Kafka   Kafka
	Rabbit  Rabbit
	Tracing Tracing
}

// Обработчик ленты изменений
type Reports struct {
	Cache Cache
	Kafka Kafka
}

func (p Postgres) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     net.JoinHostPort(p.Host, p.Port),
		Path:     p.Database,
		RawQuery: "sslmode=" + url.QueryEscape(p.SSLMode),
	}
	return u.String()
}

func (r Rabbit) URL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(r.User, r.Password),
		Host:   net.JoinHostPort(r.Host, r.Port),
		Path:   "/",
	}
	return u.String()
}

func (s Storage) Validate() error {
	switch s.Mode {
	case StorageMemory:
		return nil
	case StoragePostgres:
		if s.Postgres.User == "" {
			return errors.New("env FUEL_DB_USER is not set")
		}
		if s.Mongo.URI == "" {
			return errors.New("env FUEL_MONGO is not set")
		}
		return nil
	}
	return errors.Newf("unknown storage %q", s.Mode)
}

func load(cfg any) error {
	err := envconfig.Process("", cfg)
	if err != nil {
		return errors.Wrap(err, "failed to process env config")
	}
	return nil
}

func LoadServer() (cfg Server, err error) {
	if err = load(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Storage.Validate()
}

func LoadBalance() (cfg Balance, err error) {
	if err = load(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Storage.Validate()
}

func LoadSettlements() (cfg Settlements, err error) {
	if err = load(&cfg); err != nil {
		return cfg, err
	}
	if cfg.Workers <= 0 {
		return cfg, errors.Newf("env FUEL_SETTLEMENT_COUNT must be positive, got %d", cfg.Workers)
	}
	return cfg, cfg.Storage.Validate()
}

func LoadReports() (cfg Reports, err error) {
	if err = load(&cfg); err != nil {
		return cfg, err
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return cfg, errors.New("env KAFKA_FUEL_URL is not set")
	}
	if cfg.Cache.Addr == "" {
		return cfg, errors.New("env FUEL_CACHE_URL is not set")
	}
	return cfg, nil
}

func (s Server) Addr() string {
	return fmt.Sprintf("0.0.0.0:%s", s.Port)
}

func (b Balance) Addr() string {
	return fmt.Sprintf("0.0.0.0:%s", b.Port)
}
