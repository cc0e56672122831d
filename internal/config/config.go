package config

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/viper"
)

type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type HTTPConfig struct {
	Addr string
}

type SlackConfig struct {
	BotToken  string
	ChannelID string
}

type Config struct {
	MQTT     MQTTConfig
	Database DatabaseConfig
	HTTP     HTTPConfig
	Slack    SlackConfig
}

// LoadConfig reads settings from the environment, falling back to a
// .env.local file when APP_ENV is "local" (or unset).
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.sslmode", "DB_SSLMODE")

	v.BindEnv("mqtt.broker", "MQTT_BROKER")
	v.BindEnv("mqtt.clientid", "MQTT_CLIENT_ID")
	v.BindEnv("mqtt.username", "MQTT_USERNAME")
	v.BindEnv("mqtt.password", "MQTT_PASSWORD")
	v.BindEnv("mqtt.topicprefix", "MQTT_TOPIC_PREFIX")

	v.BindEnv("http.addr", "HTTP_ADDR")

	v.BindEnv("slack.bottoken", "SLACK_BOT_TOKEN")
	v.BindEnv("slack.channelid", "SLACK_CHANNEL_ID")

	v.SetDefault("mqtt.clientid", "tankhub-server")
	v.SetDefault("mqtt.topicprefix", "mynode")
	v.SetDefault("http.addr", ":3005")
	v.SetDefault("database.sslmode", "disable")

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "local"
	}

	if env == "local" {
		v.SetConfigFile(".env.local")
		v.SetConfigType("env")

		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				if _, statErr := os.Stat(".env.local"); statErr == nil {
					return nil, fmt.Errorf("error reading config file .env.local: %w", err)
				}
			}
			log.Println("[CONFIG] .env.local not found, relying on environment variables")
		} else {
			log.Printf("[CONFIG] Loaded configuration from %s", v.ConfigFileUsed())
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// DSN returns the PostgreSQL connection string.
func (cfg *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		cfg.Database.Host,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.DBName,
		cfg.Database.Port,
		cfg.Database.SSLMode,
	)
}
