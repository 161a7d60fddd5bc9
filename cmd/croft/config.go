package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"croft/pkg/logging"
	"croft/pkg/supervisor"
	"croft/pkg/worker"

	"github.com/spf13/viper"
)

const (
	configName = "croft"
	configType = "toml"
	envPrefix  = "CROFT"
)

// Config keys.
const (
	keyLogLevel          = "log.level"
	keyCallTimeout       = "supervisor.call_timeout"
	keyStopGrace         = "supervisor.stop_grace"
	keyShutdownTimeout   = "supervisor.shutdown_timeout"
	keyOfflineThreshold  = "supervisor.offline_threshold"
	keyAutostart         = "supervisor.autostart"
	keyInboxPoll         = "supervisor.inbox_poll"
	keyGlobalLogCapacity = "logs.global_capacity"
	keyWorkerLogCapacity = "logs.worker_capacity"
	keyAuditCapacity     = "logs.audit_capacity"
	keyPollInterval      = "worker.poll_interval"
	keyStatusInterval    = "worker.status_interval"
	keyStatusCeiling     = "worker.status_ceiling"
)

// appConfig is the resolved content of $CROFT_HOME/croft.toml with CROFT_*
// environment overrides applied.
type appConfig struct {
	LogLevel   string
	Supervisor supervisor.Config
	Worker     worker.Config
}

func setDefaults(v *viper.Viper) {
	wd := worker.DefaultConfig()
	v.SetDefault(keyLogLevel, "info")
	v.SetDefault(keyCallTimeout, 10*time.Second)
	v.SetDefault(keyStopGrace, time.Second)
	v.SetDefault(keyShutdownTimeout, 5*time.Second)
	v.SetDefault(keyOfflineThreshold, 5*time.Minute)
	v.SetDefault(keyAutostart, true)
	v.SetDefault(keyInboxPoll, 60*time.Second)
	v.SetDefault(keyGlobalLogCapacity, 200)
	v.SetDefault(keyWorkerLogCapacity, 200)
	v.SetDefault(keyAuditCapacity, 300)
	v.SetDefault(keyPollInterval, wd.PollInterval)
	v.SetDefault(keyStatusInterval, wd.StatusInterval)
	v.SetDefault(keyStatusCeiling, wd.StatusCeiling)
}

// loadConfig reads the optional config file under paths.Home. A missing
// file is not an error.
func loadConfig(v *viper.Viper, paths *Paths) (*appConfig, error) {
	if v == nil {
		v = viper.New()
	}
	setDefaults(v)

	v.SetConfigName(configName)
	v.SetConfigType(configType)
	v.AddConfigPath(paths.Home)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	wcfg := worker.DefaultConfig()
	wcfg.PollInterval = v.GetDuration(keyPollInterval)
	wcfg.StatusInterval = v.GetDuration(keyStatusInterval)
	wcfg.StatusCeiling = v.GetDuration(keyStatusCeiling)
	wcfg.LogLevel = logging.LevelFromString(v.GetString(keyLogLevel))
	if wcfg.PollInterval <= 0 || wcfg.StatusInterval <= 0 || wcfg.StatusCeiling < wcfg.StatusInterval {
		return nil, fmt.Errorf("invalid worker timings: poll=%s status=%s ceiling=%s",
			wcfg.PollInterval, wcfg.StatusInterval, wcfg.StatusCeiling)
	}

	return &appConfig{
		LogLevel: v.GetString(keyLogLevel),
		Supervisor: supervisor.Config{
			SocketPath:        paths.SocketPath,
			InboxDir:          paths.InboxDir,
			CallTimeout:       v.GetDuration(keyCallTimeout),
			StopGrace:         v.GetDuration(keyStopGrace),
			ShutdownTimeout:   v.GetDuration(keyShutdownTimeout),
			OfflineThreshold:  v.GetDuration(keyOfflineThreshold),
			InboxPoll:         v.GetDuration(keyInboxPoll),
			Autostart:         v.GetBool(keyAutostart),
			GlobalLogCapacity: v.GetInt(keyGlobalLogCapacity),
			WorkerLogCapacity: v.GetInt(keyWorkerLogCapacity),
			AuditCapacity:     v.GetInt(keyAuditCapacity),
		},
		Worker: wcfg,
	}, nil
}
