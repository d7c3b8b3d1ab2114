package node

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robotalks/lightnode.go/pkg/mdns"
)

// Version is reported by ?version# and the MQTT meta.
var Version = "1.0.0"

// Config provides the options of a node.
type Config struct {
	// Name is the service instance name, defaults to the host name.
	Name string
	// Hostname is published as <Hostname>.local.
	Hostname string
	// Interface restricts the node to one network interface.
	Interface string
	// NodeType is reported by ?list#.
	NodeType string

	// TFTPRoot is the directory served by the TFTP server.
	TFTPRoot string
	// TFTPEnabled starts the TFTP server at startup.
	TFTPEnabled bool
	// TFTPIdleTimeout abandons stalled transfers, 0 disables it.
	TFTPIdleTimeout time.Duration
	// TFTPOverwrite allows uploads to replace files.
	TFTPOverwrite bool
	// TFTPMaxFileSize limits uploads, 0 means unlimited.
	TFTPMaxFileSize int64

	// RemotePort is the port of the remote config daemon.
	RemotePort uint16
	// Services are advertised in addition to Config and TFTP.
	Services ServiceList

	// MQTTBrokerURL enables the MQTT reporter,
	// e.g. mqtt://host:port/topic-prefix
	MQTTBrokerURL string
}

var defaultConfig = Config{
	NodeType:        "Lightnode",
	TFTPRoot:        "tftpboot",
	TFTPIdleTimeout: 5 * time.Second,
	TFTPOverwrite:   true,
	RemotePort:      10501,
}

func init() {
	defaultConfig.Hostname = DefaultHostname()
	if val := os.Getenv("LIGHTNODE_NAME"); val != "" {
		defaultConfig.Name = val
	}
	if val := os.Getenv("LIGHTNODE_HOSTNAME"); val != "" {
		defaultConfig.Hostname = val
	}
	if val := os.Getenv("LIGHTNODE_IFACE"); val != "" {
		defaultConfig.Interface = val
	}
	if val := os.Getenv("LIGHTNODE_TFTP_ROOT"); val != "" {
		defaultConfig.TFTPRoot = val
	}
	if val, err := strconv.ParseBool(os.Getenv("LIGHTNODE_TFTP")); err == nil {
		defaultConfig.TFTPEnabled = val
	}
	if val := os.Getenv("LIGHTNODE_MQTT_URL"); val != "" {
		defaultConfig.MQTTBrokerURL = val
	}
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.Name, "name", defaultConfig.Name, "Service instance name")
	flag.StringVar(&defaultConfig.Hostname, "hostname", defaultConfig.Hostname, "mDNS host name")
	flag.StringVar(&defaultConfig.Interface, "iface", defaultConfig.Interface, "Network interface")
	flag.StringVar(&defaultConfig.NodeType, "type", defaultConfig.NodeType, "Node type")
	flag.StringVar(&defaultConfig.TFTPRoot, "tftp-root", defaultConfig.TFTPRoot, "TFTP root directory")
	flag.BoolVar(&defaultConfig.TFTPEnabled, "tftp", defaultConfig.TFTPEnabled, "Start TFTP server")
	flag.DurationVar(&defaultConfig.TFTPIdleTimeout, "tftp-idle-timeout", defaultConfig.TFTPIdleTimeout, "Abandon stalled TFTP transfers")
	flag.BoolVar(&defaultConfig.TFTPOverwrite, "tftp-overwrite", defaultConfig.TFTPOverwrite, "Allow TFTP uploads to replace files")
	flag.Int64Var(&defaultConfig.TFTPMaxFileSize, "tftp-max-size", defaultConfig.TFTPMaxFileSize, "Maximum TFTP upload size")
	flag.Var(&defaultConfig.Services, "service", "Advertise service KIND[:PORT], repeatable")
	flag.StringVar(&defaultConfig.MQTTBrokerURL, "mqtt", defaultConfig.MQTTBrokerURL, "MQTT broker URL")
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	conf.Services = append(ServiceList(nil), defaultConfig.Services...)
	return &conf
}

// Service is an additionally advertised service.
type Service struct {
	Kind mdns.ServiceKind
	Port uint16
}

// ServiceList implements flag.Value for -service.
type ServiceList []Service

func (l *ServiceList) String() string {
	if l == nil {
		return ""
	}
	strs := make([]string, len(*l))
	for n, svc := range *l {
		strs[n] = svc.Kind.String()
		if svc.Port != 0 {
			strs[n] += ":" + strconv.Itoa(int(svc.Port))
		}
	}
	return strings.Join(strs, ",")
}

// Set parses KIND[:PORT].
func (l *ServiceList) Set(val string) error {
	name, portStr, hasPort := strings.Cut(val, ":")
	kind, err := mdns.ParseServiceKind(name)
	if err != nil {
		return err
	}
	if kind == mdns.ServiceConfig || kind == mdns.ServiceTFTP {
		return fmt.Errorf("%s is always advertised", kind)
	}
	svc := Service{Kind: kind}
	if hasPort {
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", portStr, err)
		}
		svc.Port = uint16(port)
	}
	*l = append(*l, svc)
	return nil
}
