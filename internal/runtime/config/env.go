package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// FromEnv reads the configuration from environment variables named
// prefix + "_" + key, for example SYNCFLOW_RABBITMQ_URL. Unset variables
// leave the field at its zero value. Malformed numbers, durations and
// booleans are reported together.
func FromEnv(prefix string) (Config, error) {
	return fromLookup(prefix, os.LookupEnv)
}

type envReader struct {
	prefix string
	lookup func(string) (string, bool)
	errs   []error
}

func fromLookup(prefix string, lookup func(string) (string, bool)) (Config, error) {
	r := &envReader{prefix: strings.TrimSuffix(prefix, "_"), lookup: lookup}
	cfg := Config{
		PubSubSystem:         r.str("PUBSUB_SYSTEM"),
		RabbitMQURL:          r.str("RABBITMQ_URL"),
		Exchange:             r.str("EXCHANGE"),
		ServiceName:          r.str("SERVICE_NAME"),
		Services:             r.list("SERVICES"),
		DeadLetterQueue:      r.str("DEAD_LETTER_QUEUE"),
		IdentityServiceURL:   r.str("IDENTITY_SERVICE_URL"),
		IdentityTimeout:      r.duration("IDENTITY_TIMEOUT"),
		SourceBaseURL:        r.str("SOURCE_BASE_URL"),
		SourceTokenURL:       r.str("SOURCE_TOKEN_URL"),
		SourceClientID:       r.str("SOURCE_CLIENT_ID"),
		SourceSubject:        r.str("SOURCE_SUBJECT"),
		SourceAudience:       r.str("SOURCE_AUDIENCE"),
		SourcePrivateKeyFile: r.str("SOURCE_PRIVATE_KEY_FILE"),
		ChangeLogBackend:     r.str("CHANGE_LOG_BACKEND"),
		PostgresURL:          r.str("POSTGRES_URL"),
		PollInterval:         r.duration("POLL_INTERVAL"),
		PollBatchSize:        r.int("POLL_BATCH_SIZE"),
		SchemaDir:            r.str("SCHEMA_DIR"),
		HeartbeatEnabled:     r.bool("HEARTBEAT_ENABLED"),
		HeartbeatQueue:       r.str("HEARTBEAT_QUEUE"),
		HeartbeatInterval:    r.duration("HEARTBEAT_INTERVAL"),
		LogRoutingKey:        r.str("LOG_ROUTING_KEY"),
		ShipLogs:             r.bool("SHIP_LOGS"),
		ShipSuccessLogs:      r.bool("SHIP_SUCCESS_LOGS"),
		LogLevel:             r.str("LOG_LEVEL"),
		MetricsEnabled:       r.bool("METRICS_ENABLED"),
		MetricsPort:          r.int("METRICS_PORT"),
		WebUIEnabled:         r.bool("WEBUI_ENABLED"),
		WebUIPort:            r.int("WEBUI_PORT"),
	}
	return cfg, errors.Join(r.errs...)
}

func (r *envReader) name(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + "_" + key
}

func (r *envReader) str(key string) string {
	v, _ := r.lookup(r.name(key))
	return strings.TrimSpace(v)
}

func (r *envReader) list(key string) []string {
	var out []string
	for _, v := range strings.Split(r.str(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (r *envReader) int(key string) int {
	raw := r.str(key)
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", r.name(key), err))
	}
	return v
}

func (r *envReader) duration(key string) time.Duration {
	raw := r.str(key)
	if raw == "" {
		return 0
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", r.name(key), err))
	}
	return v
}

func (r *envReader) bool(key string) bool {
	switch raw := strings.ToLower(r.str(key)); raw {
	case "", "0", "false", "f", "no", "n", "off":
		return false
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		r.errs = append(r.errs, fmt.Errorf("%s: invalid boolean %q", r.name(key), raw))
		return false
	}
}
