package config

// this holds the resolved configuration values from CLI
//
//nolint:lll // readablity
var (
	DB                    string // connection string for the database
	NatsURL               string // URL of the NATS server
	NatsSubjectPrefix     string // prefix for all NATS subjects
	EventID               int    // id of the event to process
	WaitForServices       string // duration to wait for other services to be ready
	LogLevel              string // sets the log level (zap log level values)
	SQLLogLevel           string // sets the log level for sql subsystem
	LogFormat             string // text vs json
	LogConfig             string // path to log config file
	EnableTelemetry       bool   // enable telemetry
	TelemetryEndpoint     string // endpoint for telemetry
	ProfilingPort         int    // port for profiling
	StaleDuration         string // duration after which a car is considered stale
	CheckInterval         string // interval between consistency checks
	RecheckInterval       string // check interval while state is inconsistent
	MaxConsistencyErrors  int    // consecutive failures before a reset is requested
	ForceResetWindow      string // window after a reset in which the next reset is forced
	MinForceResetInterval string // minimum distance between forced resets
)
