// Package config loads bike-bridge options from flags, environment
// variables and an optional config file.
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/lowaak/smart-trainer/bike-bridge/internal/ant"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/app"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/bikes"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/bt"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/cycling"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/gatt"
	"github.com/lowaak/smart-trainer/bike-bridge/internal/timer"
)

// EnvPrefix is prepended to every environment variable, so
// --bike-adapter is also read from BIKE_BRIDGE_BIKE_ADAPTER.
const EnvPrefix = "BIKE_BRIDGE"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the flat option set. Durations are in seconds.
type Config struct {
	Bike               string  `mapstructure:"bike"`
	BikeReceiveTimeout float64 `mapstructure:"bike-receive-timeout"`
	BikeConnectTimeout float64 `mapstructure:"bike-connect-timeout"`
	BikeAdapter        string  `mapstructure:"bike-adapter"`

	FlywheelAddress string `mapstructure:"flywheel-address"`
	FlywheelName    string `mapstructure:"flywheel-name"`
	IC4Address      string `mapstructure:"ic4-address"`
	EchelonAddress  string `mapstructure:"echelon-address"`
	KeiserAddress   string `mapstructure:"keiser-address"`

	PelotonPath           string `mapstructure:"peloton-path"`
	PelotonReceiveTrigger string `mapstructure:"peloton-receive-trigger"`

	BotPower   float64 `mapstructure:"bot-power"`
	BotCadence float64 `mapstructure:"bot-cadence"`
	BotSpeed   float64 `mapstructure:"bot-speed"`
	BotHost    string  `mapstructure:"bot-host"`
	BotPort    int     `mapstructure:"bot-port"`

	ServerAdapter      string  `mapstructure:"server-adapter"`
	ServerName         string  `mapstructure:"server-name"`
	ServerPingInterval float64 `mapstructure:"server-ping-interval"`

	ANTDeviceID     int    `mapstructure:"ant-device-id"`
	ANTSpeedProfile string `mapstructure:"ant-speed-profile"`

	PowerScale  float64 `mapstructure:"power-scale"`
	PowerOffset float64 `mapstructure:"power-offset"`

	LogFile       string `mapstructure:"log-file"`
	Debug         bool   `mapstructure:"debug"`
	StatusAddress string `mapstructure:"status-address"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Bike:                  string(bikes.KindAutodetect),
		BikeReceiveTimeout:    4,
		BikeConnectTimeout:    0,
		BikeAdapter:           "hci0",
		FlywheelName:          bikes.FlywheelLocalName,
		PelotonPath:           "/dev/ttyUSB0",
		PelotonReceiveTrigger: string(bikes.PelotonTriggerEvent),
		BotHost:               "0.0.0.0",
		BotPort:               3000,
		ServerAdapter:         "hci0",
		ServerName:            gatt.DefaultName,
		ServerPingInterval:    1,
		ANTDeviceID:           ant.DefaultDeviceID,
		ANTSpeedProfile:       string(ant.SpeedProfileCombined),
		PowerScale:            1,
		PowerOffset:           0,
	}
}

// NewFlagSet declares every option with its default.
func NewFlagSet(name string) *pflag.FlagSet {
	d := Defaults()
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false

	fs.String("config", "", "load options from a JSON, YAML or TOML `file`")

	fs.String("bike", d.Bike, "bike `type`: "+kindList())
	fs.Float64("bike-receive-timeout", d.BikeReceiveTimeout, "`seconds` without stats before exiting (0 disables)")
	fs.Float64("bike-connect-timeout", d.BikeConnectTimeout, "`seconds` to wait for the bike connection (0 waits forever)")
	fs.String("bike-adapter", d.BikeAdapter, "bluetooth adapter `name` for the bike connection")

	fs.String("flywheel-address", "", "flywheel bike `macaddr`")
	fs.String("flywheel-name", d.FlywheelName, "flywheel bike `name`")
	fs.String("ic4-address", "", "IC4 bike `macaddr`")
	fs.String("echelon-address", "", "echelon bike `macaddr`")
	fs.String("keiser-address", "", "keiser bike `macaddr`")

	fs.String("peloton-path", d.PelotonPath, "usb serial device `path` of the peloton bike")
	fs.String("peloton-receive-trigger", d.PelotonReceiveTrigger, "peloton `trigger`: event (head unit polls) or poll")

	fs.Float64("bot-power", d.BotPower, "initial bot power in `watts`")
	fs.Float64("bot-cadence", d.BotCadence, "initial bot cadence in `rpm`")
	fs.Float64("bot-speed", d.BotSpeed, "initial bot speed in `km/h`")
	fs.String("bot-host", d.BotHost, "`host` for bot power/cadence control over udp")
	fs.Int("bot-port", d.BotPort, "`port` for bot power/cadence control over udp")

	fs.String("server-adapter", d.ServerAdapter, "bluetooth adapter `name` for app connections")
	fs.String("server-name", d.ServerName, "`name` used for the bluetooth advertisement")
	fs.Float64("server-ping-interval", d.ServerPingInterval, "`seconds` between measurements when not pedaling")

	fs.Int("ant-device-id", d.ANTDeviceID, "ANT+ power meter device `id`; speed/cadence uses id+1")
	fs.String("ant-speed-profile", d.ANTSpeedProfile, "ANT+ second channel `profile`: combined or speed")

	fs.Float64("power-scale", d.PowerScale, "scale watts by this `multiplier`")
	fs.Float64("power-offset", d.PowerOffset, "add this `value` to watts")

	fs.String("log-file", d.LogFile, "also write logs to this rotated `file`")
	fs.Bool("debug", d.Debug, "log every packet")
	fs.String("status-address", d.StatusAddress, "serve the status feed on this `host:port`")
	return fs
}

func kindList() string {
	names := make([]string, len(bikes.Kinds))
	for i, k := range bikes.Kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

// Load parses args and merges, from highest precedence: flags set on the
// command line, BIKE_BRIDGE_* environment variables, the --config file,
// flag defaults. The result is validated.
func Load(args []string) (Config, error) {
	fs := NewFlagSet("bike-bridge")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return FromFlags(fs)
}

// FromFlags builds a Config from a parsed flag set.
func FromFlags(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks every option and normalizes MAC addresses in place.
func (c *Config) Validate() error {
	if _, err := bikes.ParseKind(c.Bike); err != nil {
		return invalid("bike", err)
	}
	if _, err := bikes.ParsePelotonTrigger(c.PelotonReceiveTrigger); err != nil {
		return invalid("peloton-receive-trigger", err)
	}
	if _, err := ant.ParseSpeedProfile(c.ANTSpeedProfile); err != nil {
		return invalid("ant-speed-profile", err)
	}

	for name, v := range map[string]float64{
		"bike-receive-timeout": c.BikeReceiveTimeout,
		"bike-connect-timeout": c.BikeConnectTimeout,
		"server-ping-interval": c.ServerPingInterval,
		"bot-power":            c.BotPower,
		"bot-cadence":          c.BotCadence,
		"bot-speed":            c.BotSpeed,
	} {
		if math.IsNaN(v) || v < 0 {
			return invalid(name, fmt.Errorf("%v must not be negative", v))
		}
	}
	if math.IsNaN(c.PowerScale) || math.IsInf(c.PowerScale, 0) || c.PowerScale < 0 {
		return invalid("power-scale", fmt.Errorf("%v is not a usable multiplier", c.PowerScale))
	}
	if math.IsNaN(c.PowerOffset) || math.IsInf(c.PowerOffset, 0) {
		return invalid("power-offset", fmt.Errorf("%v is not a number", c.PowerOffset))
	}
	if c.BotPort < 0 || c.BotPort > math.MaxUint16 {
		return invalid("bot-port", fmt.Errorf("%d is out of range", c.BotPort))
	}
	if c.ANTDeviceID < 1 || c.ANTDeviceID >= math.MaxUint16 {
		return invalid("ant-device-id", fmt.Errorf("%d is out of range", c.ANTDeviceID))
	}
	if c.BikeAdapter == "" || c.ServerAdapter == "" {
		return invalid("bike-adapter/server-adapter", errors.New("adapter name must not be empty"))
	}
	if c.ServerName == "" {
		return invalid("server-name", errors.New("must not be empty"))
	}

	for name, addr := range map[string]*string{
		"flywheel-address": &c.FlywheelAddress,
		"ic4-address":      &c.IC4Address,
		"echelon-address":  &c.EchelonAddress,
		"keiser-address":   &c.KeiserAddress,
	} {
		if *addr == "" {
			continue
		}
		mac, err := bt.NormalizeMAC(*addr)
		if err != nil {
			return invalid(name, err)
		}
		*addr = mac
	}
	return nil
}

func invalid(option string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, option, err)
}

// Kind returns the selected bike type.
func (c Config) Kind() bikes.Kind {
	k, _ := bikes.ParseKind(c.Bike)
	return k
}

// Adapters returns the bluetooth controller selection.
func (c Config) Adapters() bt.AdapterConfig {
	return bt.AdapterConfig{Bike: c.BikeAdapter, Server: c.ServerAdapter}
}

// BikeOptions returns the per-bike client settings.
func (c Config) BikeOptions() bikes.Options {
	trigger, _ := bikes.ParsePelotonTrigger(c.PelotonReceiveTrigger)
	return bikes.Options{
		Flywheel: bikes.BLEOptions{Name: c.FlywheelName, Address: c.FlywheelAddress},
		IC4:      bikes.BLEOptions{Address: c.IC4Address},
		Echelon:  bikes.BLEOptions{Address: c.EchelonAddress},
		Keiser:   bikes.BLEOptions{Address: c.KeiserAddress},
		Peloton:  bikes.PelotonOptions{Path: c.PelotonPath, Trigger: trigger},
		Bot: bikes.BotOptions{
			Initial: cycling.Reading{
				Power:    int32(math.Round(c.BotPower)),
				Cadence:  uint32(math.Round(c.BotCadence)),
				Speed:    c.BotSpeed,
				HasSpeed: true,
			},
			Host: c.BotHost,
			Port: c.BotPort,
		},
	}
}

// ANTOptions returns the ANT+ server settings.
func (c Config) ANTOptions() ant.Options {
	profile, _ := ant.ParseSpeedProfile(c.ANTSpeedProfile)
	return ant.Options{DeviceID: uint16(c.ANTDeviceID), SpeedProfile: profile}
}

// AppOptions returns the timer and power adjustment settings.
func (c Config) AppOptions() app.Options {
	return app.Options{
		ConnectTimeout: timer.Seconds(c.BikeConnectTimeout),
		StatsTimeout:   timer.Seconds(c.BikeReceiveTimeout),
		PingInterval:   timer.Seconds(c.ServerPingInterval),
		PowerScale:     c.PowerScale,
		PowerOffset:    c.PowerOffset,
	}
}
