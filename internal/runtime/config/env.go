package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable read by FromEnv.
const EnvPrefix = "ONESIDED_"

// FromEnv loads the given .env files, if any, and builds a Config from
// ONESIDED_* variables. Variables already set in the environment win over
// the files. Missing files are an error; pass none to read the environment only.
func FromEnv(files ...string) (Config, error) {
	if len(files) > 0 {
		if err := godotenv.Load(files...); err != nil {
			return Config{}, fmt.Errorf("load env files: %w", err)
		}
	}
	return fromLookup(os.LookupEnv)
}

// FromMap builds a Config from ONESIDED_* keys of m, as read by
// godotenv.Read or godotenv.Parse.
func FromMap(m map[string]string) (Config, error) {
	return fromLookup(func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	})
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []string
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	r := &envReader{lookup: lookup}
	cfg := Config{
		World:        r.str("WORLD"),
		Rank:         r.int("RANK"),
		Size:         r.int("SIZE"),
		PubSubSystem: r.str("PUBSUB_SYSTEM"),

		KafkaBrokers:       r.list("KAFKA_BROKERS"),
		KafkaConsumerGroup: r.str("KAFKA_CONSUMER_GROUP"),
		RabbitMQURL:        r.str("RABBITMQ_URL"),
		NATSURL:            r.str("NATS_URL"),
		HTTPServerAddress:  r.str("HTTP_SERVER_ADDRESS"),
		HTTPPeerURLs:       r.list("HTTP_PEER_URLS"),
		IOFile:             r.str("IO_FILE"),
		SQLiteFile:         r.str("SQLITE_FILE"),
		PostgresURL:        r.str("POSTGRES_URL"),

		AWSRegion:          r.str("AWS_REGION"),
		AWSAccountID:       r.str("AWS_ACCOUNT_ID"),
		AWSAccessKeyID:     r.str("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey: r.str("AWS_SECRET_ACCESS_KEY"),
		AWSEndpoint:        r.str("AWS_ENDPOINT"),

		WindowWords:  r.int("WINDOW_WORDS"),
		MaxMessages:  r.int("MAX_MESSAGES"),
		ReceiveWords: r.int("RECEIVE_WORDS"),
		Discovery:    r.str("DISCOVERY"),

		HandshakeInterval: r.duration("HANDSHAKE_INTERVAL"),
		HandshakeTimeout:  r.duration("HANDSHAKE_TIMEOUT"),
		OperationTimeout:  r.duration("OPERATION_TIMEOUT"),
		LogLevel:          r.str("LOG_LEVEL"),

		MetricsEnabled:          r.bool("METRICS_ENABLED"),
		MetricsPort:             r.int("METRICS_PORT"),
		WebUIEnabled:            r.bool("WEBUI_ENABLED"),
		WebUIPort:               r.int("WEBUI_PORT"),
		WebUICORSAllowedOrigins: r.list("WEBUI_CORS_ALLOWED_ORIGINS"),
		RecordingFile:           r.str("RECORDING_FILE"),
	}
	if len(r.errs) > 0 {
		return cfg, fmt.Errorf("environment: %s", strings.Join(r.errs, "; "))
	}
	return cfg, nil
}

func (r *envReader) str(name string) string {
	v, _ := r.lookup(EnvPrefix + name)
	return strings.TrimSpace(v)
}

func (r *envReader) list(name string) []string {
	v := r.str(name)
	if v == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (r *envReader) int(name string) int {
	v := r.str(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("%s%s: %v", EnvPrefix, name, err))
	}
	return n
}

func (r *envReader) bool(name string) bool {
	v := r.str(name)
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("%s%s: %v", EnvPrefix, name, err))
	}
	return b
}

func (r *envReader) duration(name string) time.Duration {
	v := r.str(name)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("%s%s: %v", EnvPrefix, name, err))
	}
	return d
}
