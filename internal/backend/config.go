package backend

import (
	"fmt"

	"counters/internal/config"
)

// FromAppConfig converts the application config to backend config. queue
// overrides AMQP_QUEUE: web instances pass "" for a private queue.
func FromAppConfig(appConfig *config.Config, origin, queue string) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.DataBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.DataBackend)
	}

	return Config{
		Type: backendType,

		MemorySeedFile: appConfig.MemorySeedFile,
		SQLiteDBPath:   appConfig.SQLiteDBPath,

		SupabaseURL:      appConfig.SupabaseURL,
		SupabaseAnonKey:  appConfig.SupabaseAnonKey,
		SupabaseRealtime: appConfig.SupabaseRealtime,
		StoreTimeout:     appConfig.StoreTimeout,

		AMQPURL:      appConfig.AMQPURL,
		AMQPExchange: appConfig.AMQPExchange,
		AMQPQueue:    queue,

		Origin:   origin,
		Location: appConfig.Location(),
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}

	switch c.Type {
	case SQLiteBackend:
		if c.SQLiteDBPath == "" {
			return fmt.Errorf("SQLite database path is required for sqlite backend")
		}
	case PostgRESTBackend:
		if c.SupabaseURL == "" || c.SupabaseAnonKey == "" {
			return fmt.Errorf("Supabase URL and anon key are required for postgrest backend")
		}
	case MemoryBackend:
		// A missing seed file yields an empty store.
	}

	if c.AMQPURL != "" && c.AMQPExchange == "" {
		return fmt.Errorf("AMQP exchange is required when AMQP URL is set")
	}
	return nil
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []BackendType {
	return []BackendType{MemoryBackend, SQLiteBackend, PostgRESTBackend}
}
