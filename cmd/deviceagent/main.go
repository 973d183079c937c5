// Gray Logic Device Agent
//
// This is the main entry point for the simulated thermostat agent. The
// agent registers with the provisioning service, connects to its
// assigned hub, streams telemetry, keeps the device twin in sync and
// answers direct methods. A local status API mirrors what it does.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/nerrad567/gray-logic-agent/internal/agent"
	"github.com/nerrad567/gray-logic-agent/internal/api"
	"github.com/nerrad567/gray-logic-agent/internal/audit"
	"github.com/nerrad567/gray-logic-agent/internal/auth"
	"github.com/nerrad567/gray-logic-agent/internal/clock"
	"github.com/nerrad567/gray-logic-agent/internal/device"
	"github.com/nerrad567/gray-logic-agent/internal/identity"
	"github.com/nerrad567/gray-logic-agent/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-agent/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-agent/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-agent/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-agent/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-agent/internal/provisioning"
	"github.com/nerrad567/gray-logic-agent/internal/session"
	"github.com/nerrad567/gray-logic-agent/internal/telemetry"
	"github.com/nerrad567/gray-logic-agent/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	defaultConfigPath = "configs/agent.yaml"
	configEnvVar      = "GRAYLOGIC_AGENT_CONFIG"
)

// flags holds the parsed command line.
type flags struct {
	configPath string
	issueToken string
	role       string
	ttl        time.Duration
	version    bool
}

func main() {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if f.version {
		fmt.Printf("deviceagent %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	if f.issueToken != "" {
		if err := issueToken(os.Stdout, f); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Cancel on Ctrl+C or SIGTERM so the agent can shut down gracefully.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, f.configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags reads the command line. An empty --config falls back to
// the environment, then the default path.
func parseFlags(args []string) (flags, error) {
	var f flags
	fs := pflag.NewFlagSet("deviceagent", pflag.ContinueOnError)
	fs.StringVarP(&f.configPath, "config", "c", "", "path to the YAML configuration file (env "+configEnvVar+")")
	fs.StringVar(&f.issueToken, "issue-token", "", "print a local API token for this subject and exit")
	fs.StringVar(&f.role, "role", string(auth.RoleViewer), "role embedded in an issued token (viewer or operator)")
	fs.DurationVar(&f.ttl, "ttl", auth.DefaultTokenTTL, "lifetime of an issued token")
	fs.BoolVarP(&f.version, "version", "v", false, "print version information and exit")

	if err := fs.Parse(args); err != nil {
		return flags{}, err
	}
	if f.configPath == "" {
		f.configPath = getConfigPath()
	}
	return f, nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_AGENT_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}

// issueToken prints a signed token for the local API.
func issueToken(w io.StringWriter, f flags) error {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Security.JWT.Secret == "" {
		return auth.ErrNoSecret
	}
	role, err := auth.ParseRole(f.role)
	if err != nil {
		return err
	}
	token, err := auth.GenerateAccessToken(f.issueToken, role, cfg.Security.JWT.Secret, f.ttl)
	if err != nil {
		return fmt.Errorf("signing token: %w", err)
	}
	_, err = w.WriteString(token + "\n")
	return err
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: YAML configuration file
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic device agent",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	checks := make(map[string]api.HealthChecker)

	// Command log (optional)
	var commandLog audit.Repository
	if cfg.Database.Enabled {
		db, dbErr := database.Open(database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if dbErr != nil {
			return fmt.Errorf("opening database: %w", dbErr)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()

		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database ready", "path", db.Path())

		commandLog = audit.NewSQLiteRepository(db.DB)
		checks["database"] = db
	}

	// Telemetry mirror (optional)
	var sinks []telemetry.Sink
	influxClient, err := influxdb.Connect(cfg.InfluxDB, map[string]string{
		"device_id": cfg.Device.RegistrationID,
	})
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("influxdb disabled")
	case err != nil:
		// The mirror is not needed to serve the hub.
		log.Warn("influxdb unavailable, continuing without telemetry mirror", "error", err)
	default:
		defer func() {
			log.Info("closing influxdb connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing influxdb", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(writeErr error) {
			log.Warn("influxdb write failed", "error", writeErr)
		})
		sinks = append(sinks, influxClient)
		checks["influxdb"] = influxClient
		log.Info("influxdb connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	clk := clock.Real()
	qos := byte(cfg.MQTT.QoS) //nolint:gosec // validated to 0 or 1

	provisioner := provisioning.NewClient(provisioning.Options{
		Dialer:         provisioningDialer(log),
		Host:           cfg.Device.ProvisioningHost,
		Port:           cfg.MQTT.Port,
		TLS:            cfg.MQTT.TLS,
		IDScope:        cfg.Device.IDScope,
		APIVersion:     cfg.Device.ProvisioningAPIVersion,
		QoS:            qos,
		Timeout:        seconds(cfg.Device.ProvisioningTimeout),
		TokenTTL:       seconds(cfg.Device.TokenTTL),
		KeepAlive:      seconds(cfg.MQTT.KeepAlive),
		ConnectTimeout: seconds(cfg.MQTT.ConnectTimeout),
		Clock:          clk,
		Logger:         log.Component("provisioning"),
	})

	sessions := session.NewManager(session.Options{
		Dialer:         sessionDialer(log),
		Port:           cfg.MQTT.Port,
		TLS:            cfg.MQTT.TLS,
		QoS:            qos,
		APIVersion:     cfg.Device.HubAPIVersion,
		TokenTTL:       seconds(cfg.Device.TokenTTL),
		RequestTimeout: seconds(cfg.Twin.RequestTimeout),
		KeepAlive:      seconds(cfg.MQTT.KeepAlive),
		ConnectTimeout: seconds(cfg.MQTT.ConnectTimeout),
		PublishTimeout: seconds(cfg.MQTT.PublishTimeout),
		Clock:          clk,
		Logger:         log.Component("session"),
	})

	validator, err := device.NewValidator()
	if err != nil {
		return fmt.Errorf("loading property schemas: %w", err)
	}
	controller, err := device.NewController(device.Options{
		Clock:     clk,
		Validator: validator,
		Logger:    log.Component("device"),
	})
	if err != nil {
		return fmt.Errorf("creating device controller: %w", err)
	}

	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))

	opts := agent.Options{
		Identity: identity.New(identity.Credentials{
			RegistrationID: cfg.Device.RegistrationID,
			SymmetricKey:   cfg.Device.SymmetricKey,
		}),
		Provisioner:         provisioner,
		Open:                openSession(sessions),
		Controller:          controller,
		TelemetryInterval:   cfg.TelemetryInterval(),
		Sampler:             telemetry.NewSampler(cfg.Telemetry.TargetTemperature, nil),
		Sinks:               sinks,
		DiagnosticsTicks:    cfg.Diagnostics.Ticks,
		DiagnosticsInterval: cfg.DiagnosticsInterval(),
		Recorder:            commandLog,
		Events:              hub,
		Clock:               clk,
		Logger:              log.Component("agent"),
	}

	a, err := agent.New(opts)
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}

	// Local status API (optional)
	if cfg.API.Enabled {
		srv, apiErr := api.New(api.Deps{
			Config:     cfg.API,
			Security:   cfg.Security,
			Logger:     log.Component("api"),
			Status:     a,
			Hub:        hub,
			CommandLog: commandLog,
			Checks:     checks,
			Version:    version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
		log.Info("API server listening", "addr", srv.Addr())
	}

	if runErr := a.Run(ctx); runErr != nil {
		return runErr
	}

	log.Info("Gray Logic device agent stopped")
	return nil
}

// provisioningDialer opens broker connections for registrations.
func provisioningDialer(log *logging.Logger) provisioning.Dialer {
	return func(opts mqtt.Options) (provisioning.Conn, error) {
		c, err := dial(opts, log)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// sessionDialer opens broker connections for hub sessions.
func sessionDialer(log *logging.Logger) session.Dialer {
	return func(opts mqtt.Options) (session.Conn, error) {
		c, err := dial(opts, log)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

func dial(opts mqtt.Options, log *logging.Logger) (*mqtt.Client, error) {
	c, err := mqtt.Connect(opts)
	if err != nil {
		return nil, err
	}
	c.SetLogger(log.Component("mqtt"))
	return c, nil
}

// openSession adapts the session manager to the agent.
func openSession(m *session.Manager) agent.OpenFunc {
	return func(ctx context.Context, descriptor string) (agent.Session, error) {
		s, err := m.Open(ctx, descriptor)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
