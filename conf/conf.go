// Package conf exposes the typed configuration surface for the renderer
// control plane, loaded with viper from environment variables (prefixed
// ND_), an optional config file, and command-line flags bound in cmd/.
package conf

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Renderer holds every configuration item of the Device Session / Playlist
// Controller / Session Registry surface.
type Renderer struct {
	CommunicationTimeout       time.Duration
	DevicePollingInterval      time.Duration
	QueueProcessingInterval    time.Duration
	ClientDiscoveryInitial     time.Duration
	ClientDiscoveryInterval    time.Duration
	PhotoTransitionalTimeout   time.Duration
	MaxResumePct               float64
	UserAgent                  string
	FriendlyName               string
	UDPPortRange               string
	StaticDevices              []string
	EnableSSDPTracing          bool
	SSDPTracingFilter          string
	EnablePlayToDebug          bool
	BaseURL                    string
}

// Server is the process-wide configuration, mirroring the fleet's single
// exported conf.Server value pattern.
var Server = &struct {
	Address      string
	Port         int
	LogLevel     string
	DevicePairDB string
	Renderer     Renderer
}{}

func init() {
	setDefaults()
}

func setDefaults() {
	v := viper.GetViper()
	v.SetDefault("address", "0.0.0.0")
	v.SetDefault("port", 4533)
	v.SetDefault("loglevel", "info")
	v.SetDefault("devicepairdb", "renderer.db")
	v.SetDefault("renderer.communicationtimeout", 8*time.Second)
	v.SetDefault("renderer.devicepollinginterval", 30*time.Second)
	v.SetDefault("renderer.queueprocessinginterval", time.Second)
	v.SetDefault("renderer.clientdiscoveryinitial", 5*time.Second)
	v.SetDefault("renderer.clientdiscoveryinterval", 1800*time.Second)
	v.SetDefault("renderer.phototransitionaltimeout", 5*time.Second)
	v.SetDefault("renderer.maxresumepct", 2.0)
	v.SetDefault("renderer.useragent", "DLNACastEngine/1.0")
	v.SetDefault("renderer.friendlyname", "Cast Engine")
	v.SetDefault("renderer.udpportrange", "49152-65535")
}

// BindFlags wires pflag-defined CLI flags (set up in cmd/) into viper so
// flags override environment which overrides file which overrides defaults.
func BindFlags(flags *pflag.FlagSet) error {
	return viper.BindPFlags(flags)
}

// Load reads environment variables (prefix ND_) and, if present, a config
// file at path, then materializes the Server struct.
func Load(path string) error {
	v := viper.GetViper()
	v.SetEnvPrefix("ND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	}

	Server.Address = v.GetString("address")
	Server.Port = v.GetInt("port")
	Server.LogLevel = v.GetString("loglevel")
	Server.DevicePairDB = v.GetString("devicepairdb")

	r := &Server.Renderer
	r.CommunicationTimeout = v.GetDuration("renderer.communicationtimeout")
	r.DevicePollingInterval = v.GetDuration("renderer.devicepollinginterval")
	r.QueueProcessingInterval = v.GetDuration("renderer.queueprocessinginterval")
	r.ClientDiscoveryInitial = v.GetDuration("renderer.clientdiscoveryinitial")
	r.ClientDiscoveryInterval = v.GetDuration("renderer.clientdiscoveryinterval")
	r.PhotoTransitionalTimeout = v.GetDuration("renderer.phototransitionaltimeout")
	r.MaxResumePct = v.GetFloat64("renderer.maxresumepct")
	r.UserAgent = v.GetString("renderer.useragent")
	r.FriendlyName = v.GetString("renderer.friendlyname")
	r.UDPPortRange = v.GetString("renderer.udpportrange")
	r.StaticDevices = v.GetStringSlice("renderer.staticdevices")
	r.EnableSSDPTracing = v.GetBool("renderer.enablessdptracing")
	r.SSDPTracingFilter = v.GetString("renderer.ssdptracingfilter")
	r.EnablePlayToDebug = v.GetBool("renderer.enableplaytodebug")
	r.BaseURL = v.GetString("baseurl")

	return nil
}
