package common

import (
	"os"
	"strconv"
	"strings"
	"time"

	"ChunkVault/pkg/meta"
	"ChunkVault/pkg/objstore"

	units "github.com/docker/go-units"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const DefaultConfigPath = "chunkvault.yaml"

type Config struct {
	// ChunkSize is a human size ("4MiB", "512k"). A bare number is MiB.
	ChunkSize    string        `yaml:"chunk_size"`
	OutputDir    string        `yaml:"output_dir"`
	ProbeWindow  int           `yaml:"probe_window"`
	PendingGrace time.Duration `yaml:"pending_grace"`
	LogLevel     string        `yaml:"log_level"`

	Meta       MetaConfig        `yaml:"meta"`
	Store      StoreConfig       `yaml:"store"`
	Containers []objstore.Target `yaml:"containers"`
	Gateway    GatewayConfig     `yaml:"gateway"`
}

type MetaConfig struct {
	Backend string   `yaml:"backend"` // file | etcd
	Path    string   `yaml:"path"`
	Etcd    []string `yaml:"etcd"`
	Prefix  string   `yaml:"prefix"`
}

type StoreConfig struct {
	Backend     string      `yaml:"backend"` // local | redis | mem
	Root        string      `yaml:"root"`
	Parallelism int         `yaml:"parallelism"`
	Redis       RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type GatewayConfig struct {
	Addr        string `yaml:"addr"`
	MaxBodySize string `yaml:"max_body_size"`
}

func Default() *Config {
	return &Config{
		ChunkSize:    "4MiB",
		OutputDir:    "uploads",
		ProbeWindow:  64,
		PendingGrace: time.Hour,
		LogLevel:     "info",
		Meta:         MetaConfig{Backend: "file", Path: "metadata.json", Prefix: "/chunkvault"},
		Store:        StoreConfig{Backend: "local", Root: "data", Redis: RedisConfig{Addr: "127.0.0.1:6379"}},
		Containers:   []objstore.Target{{Pool: "pool0", Container: "kvstore", Targets: 1}},
		Gateway:      GatewayConfig{Addr: ":8080", MaxBodySize: "1GiB"},
	}
}

// Load reads path over the defaults, then applies CHUNKVAULT_* environment
// overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read config file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config file %s", path)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from CHUNKVAULT_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"CHUNKVAULT_CHUNK_SIZE":      &c.ChunkSize,
		"CHUNKVAULT_OUTPUT_DIR":      &c.OutputDir,
		"CHUNKVAULT_LOG_LEVEL":       &c.LogLevel,
		"CHUNKVAULT_META_BACKEND":    &c.Meta.Backend,
		"CHUNKVAULT_META_PATH":       &c.Meta.Path,
		"CHUNKVAULT_META_PREFIX":     &c.Meta.Prefix,
		"CHUNKVAULT_STORE_BACKEND":   &c.Store.Backend,
		"CHUNKVAULT_STORE_ROOT":      &c.Store.Root,
		"CHUNKVAULT_REDIS_ADDR":      &c.Store.Redis.Addr,
		"CHUNKVAULT_REDIS_PASSWORD":  &c.Store.Redis.Password,
		"CHUNKVAULT_GATEWAY_ADDR":    &c.Gateway.Addr,
		"CHUNKVAULT_GATEWAY_MAXBODY": &c.Gateway.MaxBodySize,
	}
	for name, dst := range str {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	if v, ok := lookup("CHUNKVAULT_ETCD_ENDPOINTS"); ok {
		c.Meta.Etcd = splitList(v)
	}
	if v, ok := lookup("CHUNKVAULT_REDIS_DB"); ok {
		db, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, "CHUNKVAULT_REDIS_DB")
		}
		c.Store.Redis.DB = db
	}
	if v, ok := lookup("CHUNKVAULT_PENDING_GRACE"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrap(err, "CHUNKVAULT_PENDING_GRACE")
		}
		c.PendingGrace = d
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseChunkSize accepts sizes like "4MiB", "4MB" or "512k", all binary
// multiples. A bare number is taken as MiB.
func ParseChunkSize(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("chunk size is empty")
	}
	var n int64
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		n = int64(f * units.MiB)
	} else {
		n, err = units.RAMInBytes(s)
		if err != nil {
			return 0, errors.Wrapf(err, "chunk size %q", s)
		}
	}
	if n <= 0 {
		return 0, errors.Errorf("chunk size %q must be positive", s)
	}
	if n > units.GiB {
		return 0, errors.Errorf("chunk size %q is larger than %s", s, units.BytesSize(units.GiB))
	}
	return int(n), nil
}

func (c *Config) ChunkSizeBytes() (int, error) { return ParseChunkSize(c.ChunkSize) }

func (c *Config) MaxBodyBytes() (int64, error) {
	n, err := units.RAMInBytes(c.Gateway.MaxBodySize)
	if err != nil {
		return 0, errors.Wrapf(err, "max body size %q", c.Gateway.MaxBodySize)
	}
	return n, nil
}

func (c *Config) Validate() error {
	if _, err := c.ChunkSizeBytes(); err != nil {
		return err
	}
	switch c.Meta.Backend {
	case "file":
		if c.Meta.Path == "" {
			return errors.New("meta.path is required for the file backend")
		}
	case "etcd":
		if len(c.Meta.Etcd) == 0 {
			return errors.New("meta.etcd needs at least one endpoint")
		}
	default:
		return errors.Errorf("unknown meta backend %q", c.Meta.Backend)
	}
	switch c.Store.Backend {
	case "local":
		if c.Store.Root == "" {
			return errors.New("store.root is required for the local backend")
		}
	case "redis":
		if c.Store.Redis.Addr == "" {
			return errors.New("store.redis.addr is required for the redis backend")
		}
	case "mem":
	default:
		return errors.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if len(c.Containers) == 0 {
		return errors.New("no containers configured")
	}
	seen := make(map[string]bool, len(c.Containers))
	for _, t := range c.Containers {
		if t.Pool == "" || t.Container == "" {
			return errors.Errorf("container %q in pool %q: pool and container are required", t.Container, t.Pool)
		}
		if seen[t.ID()] {
			return errors.Errorf("container %s listed twice", t.ID())
		}
		seen[t.ID()] = true
	}
	if _, err := c.MaxBodyBytes(); err != nil {
		return err
	}
	return nil
}

// OpenMeta opens the configured metadata store.
func (c *Config) OpenMeta(logger zerolog.Logger) (meta.Store, error) {
	switch c.Meta.Backend {
	case "etcd":
		return meta.NewEtcd(c.Meta.Etcd, c.Meta.Prefix)
	default:
		s, err := meta.OpenFile(c.Meta.Path)
		if err != nil {
			return nil, err
		}
		s.SetLogger(logger)
		return s, nil
	}
}

// Resolver builds the container resolver. The returned close func releases
// the opened containers and any backend client.
func (c *Config) Resolver(logger zerolog.Logger) (*objstore.Resolver, func() error) {
	var (
		open    objstore.Opener
		closeFn = func() error { return nil }
	)
	switch c.Store.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     c.Store.Redis.Addr,
			Password: c.Store.Redis.Password,
			DB:       c.Store.Redis.DB,
		})
		open = objstore.RedisOpener(client)
		closeFn = client.Close
	case "mem":
		open = objstore.MemOpener()
	default:
		opts := []objstore.LocalOption{objstore.WithLogger(logger)}
		if c.Store.Parallelism > 0 {
			opts = append(opts, objstore.WithParallelism(c.Store.Parallelism))
		}
		open = objstore.LocalOpener(c.Store.Root, opts...)
	}
	res := objstore.NewResolver(c.Containers, open)
	res.SetLogger(logger)
	return res, func() error {
		err := res.Close()
		if cerr := closeFn(); err == nil {
			err = cerr
		}
		return err
	}
}
