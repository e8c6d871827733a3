package util

import (
	"fmt"
	"strings"
	"time"

	"github.com/cachekit/stripekv/lib/backend/memory"
	"github.com/cachekit/stripekv/lib/backend/redisstore"
	"github.com/cachekit/stripekv/lib/store"
	"github.com/cachekit/stripekv/lib/store/lockstore"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig initializes configuration from environment variables.
// The format of the environment variables is SKV_<flag> (e.g. SKV_BACKEND=redis)
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("skv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// SetupStoreFlags adds the common store construction flags to a command
func SetupStoreFlags(cmd *cobra.Command) {
	key := "backend"
	cmd.PersistentFlags().String(key, "memory", WrapString("The backend to store entries in (memory, redis)"))

	key = "redis-addr"
	cmd.PersistentFlags().String(key, "localhost:6379", WrapString("The address of the redis server (only for the redis backend)"))

	key = "stripes"
	cmd.PersistentFlags().Int(key, store.DefaultConfig().Concurrency, WrapString("Number of lock stripes. More stripes allow more concurrent writers at the cost of a slower global lock"))

	key = "global-lock-timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("Per-stripe timeout in seconds when acquiring the global lock for aggregate operations"))
}

// GetStoreConfig reads the store configuration from viper
func GetStoreConfig() store.Config {
	return store.Config{
		Concurrency:       viper.GetInt("stripes"),
		GlobalLockTimeout: time.Duration(viper.GetInt("global-lock-timeout")) * time.Second,
	}
}

// NewBackend creates a backend based on configuration
func NewBackend() (store.Backend, error) {
	switch viper.GetString("backend") {
	case "memory":
		return memory.New(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr: viper.GetString("redis-addr"),
		})
		return redisstore.New(client), nil
	default:
		return nil, fmt.Errorf("invalid backend %s", viper.GetString("backend"))
	}
}

// NewLocalStore creates a lockstore over the configured backend
func NewLocalStore() (store.IStore, error) {
	backend, err := NewBackend()
	if err != nil {
		return nil, err
	}
	return lockstore.New(GetStoreConfig(), backend)
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
