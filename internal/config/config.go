// Package config loads process configuration with viper: SetDefault for
// every tunable, an optional YAML file, environment override.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Sensor configures the EVB sensor transport.
type Sensor struct {
	Host    string        `mapstructure:"host"`
	Port    uint16        `mapstructure:"port"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Motorbus configures the RS-485 Modbus-RTU transport, kept as its own
// section since it isn't really a motion-supervisor tunable.
type Motorbus struct {
	SerialPort      string        `mapstructure:"serial_port"`
	BaudRate        int           `mapstructure:"baud_rate"`
	Timeout         time.Duration `mapstructure:"timeout"`
	Settle          time.Duration `mapstructure:"settle"`
	RS485DirControl bool          `mapstructure:"rs485_dir_control"`
}

// Motion configures the motion supervisor and sensor poller under the
// motion.* prefix.
type Motion struct {
	WinchIDs       []int          `mapstructure:"winch_ids"`
	HallThreshold  uint16         `mapstructure:"hall_threshold"`
	HallMax        uint16         `mapstructure:"hall_max"`
	HallRPMMax     uint16         `mapstructure:"hall_rpm_max"`
	HallRPMMin     uint16         `mapstructure:"hall_rpm_min"`
	PollInterval   time.Duration  `mapstructure:"poll_interval"`
	StaleTimeout   time.Duration  `mapstructure:"stale_timeout"`
	BackoffInitial time.Duration  `mapstructure:"evb_backoff_initial"`
	BackoffMax     time.Duration  `mapstructure:"evb_backoff_max"`
	BackoffFactor  float64        `mapstructure:"evb_backoff_factor"`
	UseBundle      bool           `mapstructure:"use_bundle"`
	UsePower       bool           `mapstructure:"use_power"`
	UseIMU         bool           `mapstructure:"use_imu"`
	ModbusSlaves   map[string]int `mapstructure:"modbus_addresses"`
	DefaultSlave   int            `mapstructure:"default_slave"`
}

// HTTP configures the external HTTP/SSE adapter's listener.
type HTTP struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// MQTT configures the optional telemetry publisher.
type MQTT struct {
	Enabled   bool   `mapstructure:"enabled"`
	BrokerURL string `mapstructure:"broker_url"`
	Site      string `mapstructure:"site"`
	Device    string `mapstructure:"device"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

// Configuration is the full process configuration tree.
type Configuration struct {
	Sensor   Sensor   `mapstructure:"sensor"`
	Motorbus Motorbus `mapstructure:"motorbus"`
	Motion   Motion   `mapstructure:"motion"`
	HTTP     HTTP     `mapstructure:"http"`
	MQTT     MQTT     `mapstructure:"mqtt"`
}

// NewConfig builds the viper instance, applies defaults, optionally reads
// arachno.yaml from the working directory or $HOME, and allows env override
// (ARACHNO_SENSOR_HOST, etc.) before unmarshalling into Configuration.
func NewConfig() (*Configuration, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigName("arachno")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/")
	v.SetEnvPrefix("ARACHNO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("sensor.host", "192.168.2.123")
	v.SetDefault("sensor.port", 5000)
	v.SetDefault("sensor.timeout", 2*time.Second)

	v.SetDefault("motorbus.serial_port", "/dev/ttyUSB0")
	v.SetDefault("motorbus.baud_rate", 9600)
	v.SetDefault("motorbus.timeout", time.Second)
	v.SetDefault("motorbus.settle", 100*time.Millisecond)
	v.SetDefault("motorbus.rs485_dir_control", false)

	v.SetDefault("motion.winch_ids", []int{1, 2, 3, 4})
	v.SetDefault("motion.hall_threshold", 1500)
	v.SetDefault("motion.hall_max", 2800)
	v.SetDefault("motion.hall_rpm_max", 1500)
	v.SetDefault("motion.hall_rpm_min", 200)
	v.SetDefault("motion.poll_interval", 50*time.Millisecond)
	v.SetDefault("motion.stale_timeout", 1500*time.Millisecond)
	v.SetDefault("motion.evb_backoff_initial", 200*time.Millisecond)
	v.SetDefault("motion.evb_backoff_max", 2*time.Second)
	v.SetDefault("motion.evb_backoff_factor", 1.5)
	v.SetDefault("motion.use_bundle", true)
	v.SetDefault("motion.use_power", true)
	v.SetDefault("motion.use_imu", true)
	v.SetDefault("motion.default_slave", 1)

	v.SetDefault("http.listen_addr", ":8090")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker_url", "tcp://127.0.0.1:1883")
	v.SetDefault("mqtt.site", "shop")
	v.SetDefault("mqtt.device", "motion-supervisor")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: cannot parse arachno.yaml: %w", err)
		}
	}

	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: cannot unmarshal: %w", err)
	}
	return &cfg, nil
}
