package config

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ryandielhenn/rackmap/pkg/registry"
)

const (
	EnvPrefix = "rackmap"

	// unitEnv is set by the agent that runs our hooks.
	unitEnv = "JUJU_UNIT_NAME"

	defaultEtcdPort = "2379"
)

type Config struct {
	LogLevel  string `mapstructure:"log-level"`
	LogFormat string `mapstructure:"log-format"`

	Unit       string `mapstructure:"unit"`
	Controller string `mapstructure:"controller"`
	NumUnits   int    `mapstructure:"num-units"`

	Directory       string        `mapstructure:"directory"`
	DirectoryPath   string        `mapstructure:"directory-path"`
	EtcdEndpoints   []string      `mapstructure:"etcd-endpoints"`
	EtcdPrefix      string        `mapstructure:"etcd-prefix"`
	EtcdDialTimeout time.Duration `mapstructure:"etcd-dial-timeout"`
	EtcdLeaseTTL    time.Duration `mapstructure:"etcd-lease-ttl"`

	PrivateAddress string        `mapstructure:"private-address"`
	Interfaces     []string      `mapstructure:"interfaces"`
	ReceiveWindow  time.Duration `mapstructure:"receive-window"`
	Ceiling        time.Duration `mapstructure:"ceiling"`
	Retries        int           `mapstructure:"retries"`
	RetryInterval  time.Duration `mapstructure:"retry-interval"`

	CurrentMap         string `mapstructure:"current-map"`
	OutputMap          string `mapstructure:"output-map"`
	GetCrushmapCommand string `mapstructure:"getcrushmap-command"`
	LabelPrefix        string `mapstructure:"label-prefix"`
	FailureDomain      string `mapstructure:"failure-domain"`

	MetricsTextfile string `mapstructure:"metrics-textfile"`
}

// Flags returns a flag set holding every config key with its default.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("config", pflag.ContinueOnError)
	fs.String("log-level", "info", "the log level to run at")
	fs.String("log-format", "json", "log encoding: json or console")
	fs.String("unit", "", "this unit's name/number identifier (default $"+unitEnv+")")
	fs.String("controller", "", "unit identifier of the controller")
	fs.Int("num-units", 0, "number of agent units expected to register")
	fs.String("directory", "file", "directory backend: etcd or file")
	fs.String("directory-path", "/var/lib/rackmap/directory", "root of the file directory backend")
	fs.StringSlice("etcd-endpoints", []string{"localhost:" + defaultEtcdPort}, "etcd endpoints")
	fs.String("etcd-prefix", "/rackmap", "key prefix in etcd")
	fs.Duration("etcd-dial-timeout", 5*time.Second, "etcd dial timeout")
	fs.Duration("etcd-lease-ttl", 0, "bind membership to an etcd lease of this ttl (0 disables)")
	fs.String("private-address", "", "IPv4 address peers probe this unit at (default first interface address)")
	fs.StringSlice("interfaces", nil, "interfaces to probe from (default all)")
	fs.Duration("receive-window", 5*time.Second, "how long to wait for the next ARP reply")
	fs.Duration("ceiling", 15*time.Second, "upper bound on one discovery round")
	fs.Int("retries", 10, "times the published neighbor list is read back before giving up")
	fs.Duration("retry-interval", 5*time.Second, "pause between publication checks")
	fs.String("current-map", "/tmp/currentmap", "CRUSH map dumped from the cluster")
	fs.String("output-map", "/tmp/dct_crushmap", "where to write the generated CRUSH map")
	fs.String("getcrushmap-command", "ceph osd getcrushmap -o /tmp/currentmap", "command that dumps the current CRUSH map")
	fs.String("label-prefix", "", "prefix for generated rack names")
	fs.String("failure-domain", "rack", "bucket type replicas are spread across")
	fs.String("metrics-textfile", "", "write metrics here for a node_exporter textfile collector")
	return fs
}

// Bind wires fs and RACKMAP_* environment variables into v.
func Bind(v *viper.Viper, fs *pflag.FlagSet) error {
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	return v.BindPFlags(fs)
}

// Load reads the bound settings out of v and checks them.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if cfg.Unit == "" {
		cfg.Unit = os.Getenv(unitEnv)
	}
	if cfg.Unit == "" {
		return nil, fmt.Errorf("config: unit is not set and $%s is empty", unitEnv)
	}
	if _, err := registry.ParseUnit(cfg.Unit); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.Controller != "" {
		if _, err := registry.ParseUnit(cfg.Controller); err != nil {
			return nil, fmt.Errorf("config: controller: %w", err)
		}
	}

	switch cfg.LogFormat {
	case "json", "console":
	default:
		return nil, fmt.Errorf("config: unknown log format %q", cfg.LogFormat)
	}

	switch cfg.Directory {
	case "file":
		if cfg.DirectoryPath == "" {
			return nil, fmt.Errorf("config: directory-path is required for the file directory")
		}
	case "etcd":
		if len(cfg.EtcdEndpoints) == 0 {
			return nil, fmt.Errorf("config: etcd-endpoints is required for the etcd directory")
		}
	default:
		return nil, fmt.Errorf("config: unknown directory %q", cfg.Directory)
	}
	for i, ep := range cfg.EtcdEndpoints {
		cfg.EtcdEndpoints[i] = NormalizeEndpoint(strings.TrimSpace(ep), defaultEtcdPort)
	}

	if cfg.PrivateAddress != "" {
		if addr, err := netip.ParseAddr(cfg.PrivateAddress); err != nil || !addr.Is4() {
			return nil, fmt.Errorf("config: private-address %q is not an IPv4 address", cfg.PrivateAddress)
		}
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("config: retries must not be negative")
	}
	return cfg, nil
}

// NormalizeEndpoint strips an http:// or https:// scheme and adds defPort
// when addr carries no port.
func NormalizeEndpoint(addr, defPort string) string {
	if rest, ok := strings.CutPrefix(addr, "http://"); ok {
		addr = rest
	} else if rest, ok := strings.CutPrefix(addr, "https://"); ok {
		addr = rest
	}
	addr = strings.TrimSuffix(addr, "/")

	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(strings.Trim(addr, "[]"), defPort)
}
