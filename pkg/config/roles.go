package config

import "time"

// APIConfig holds runtime configuration for the front-end trigger service.
type APIConfig struct {
	Environment   string
	Addr          string
	LogLevel      string
	DatabaseURL   string
	MigrationsDir string
	AutoMigrate   bool
	AuthSecret    string
	Bus           BusConfig
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:   GetString("APP_ENV", "development"),
		Addr:          GetString("API_ADDR", ":4000"),
		LogLevel:      GetString("LOG_LEVEL", "info"),
		DatabaseURL:   GetString("DATABASE_URL", "postgres://conveyor:conveyor@db:5432/conveyor?sslmode=disable"),
		MigrationsDir: GetString("DB_MIGRATIONS_DIR", ""),
		AutoMigrate:   GetBool("DB_AUTO_MIGRATE", true),
		AuthSecret:    GetString("API_AUTH_SECRET", ""),
		Bus:           LoadBusConfig(),
	}
}

// WorkerConfig holds runtime configuration for the build worker.
type WorkerConfig struct {
	Environment  string
	Addr         string
	LogLevel     string
	Handler      string
	DatabaseURL  string
	ScriptDir    string
	Workdir      string
	BuildTimeout time.Duration
	Bus          BusConfig
	Logs         LogConfig
}

// LoadWorkerConfig constructs a WorkerConfig from environment variables.
func LoadWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Environment:  GetString("APP_ENV", "development"),
		Addr:         GetString("WORKER_ADDR", ":5001"),
		LogLevel:     GetString("LOG_LEVEL", "info"),
		Handler:      GetString("WORKER_HANDLER", "shell"),
		DatabaseURL:  GetString("DATABASE_URL", "postgres://conveyor:conveyor@db:5432/conveyor?sslmode=disable"),
		ScriptDir:    GetString("BUILD_SCRIPT_DIR", "/opt/conveyor/contrib"),
		Workdir:      GetString("WORKER_WORKDIR", "/tmp/conveyor"),
		BuildTimeout: GetSeconds("BUILD_TIMEOUT_SECONDS", 1800),
		Bus:          LoadBusConfig(),
		Logs:         LoadLogConfig(),
	}
}

// ConductorConfig holds runtime configuration for the state writer.
type ConductorConfig struct {
	Environment string
	Addr        string
	LogLevel    string
	DatabaseURL string
	Bus         BusConfig
}

// LoadConductorConfig constructs a ConductorConfig from environment variables.
func LoadConductorConfig() ConductorConfig {
	return ConductorConfig{
		Environment: GetString("APP_ENV", "development"),
		Addr:        GetString("CONDUCTOR_ADDR", ":5002"),
		LogLevel:    GetString("LOG_LEVEL", "info"),
		DatabaseURL: GetString("DATABASE_URL", "postgres://conveyor:conveyor@db:5432/conveyor?sslmode=disable"),
		Bus:         LoadBusConfig(),
	}
}

// DeployerConfig holds runtime configuration for the deployer.
type DeployerConfig struct {
	Environment    string
	Addr           string
	LogLevel       string
	Handler        string
	DatabaseURL    string
	TemplateDir    string
	Template       string
	PublicNetwork  string
	PrivateNetwork string
	StackTimeout   int
	DockerHost     string
	DockerPublicIP string
	Bus            BusConfig
	OpenStack      OpenStackConfig
}

// LoadDeployerConfig constructs a DeployerConfig from environment variables.
func LoadDeployerConfig() DeployerConfig {
	return DeployerConfig{
		Environment:    GetString("APP_ENV", "development"),
		Addr:           GetString("DEPLOYER_ADDR", ":5003"),
		LogLevel:       GetString("LOG_LEVEL", "info"),
		Handler:        GetString("DEPLOYER_HANDLER", "heat"),
		DatabaseURL:    GetString("DATABASE_URL", "postgres://conveyor:conveyor@db:5432/conveyor?sslmode=disable"),
		TemplateDir:    GetString("HEAT_TEMPLATE_DIR", "/etc/conveyor/templates"),
		Template:       GetString("HEAT_TEMPLATE", "basic.yaml"),
		PublicNetwork:  GetString("PUBLIC_NETWORK_NAME", "public"),
		PrivateNetwork: GetString("PRIVATE_NETWORK_NAME", "private"),
		StackTimeout:   GetInt("HEAT_STACK_TIMEOUT_MINUTES", 60),
		DockerHost:     GetString("DOCKER_HOST", "unix:///var/run/docker.sock"),
		DockerPublicIP: GetString("DOCKER_PUBLIC_IP", "127.0.0.1"),
		Bus:            LoadBusConfig(),
		OpenStack:      LoadOpenStackConfig(),
	}
}
