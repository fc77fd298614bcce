package config

import "time"

// BusConfig describes the message transport shared by every role.
type BusConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
	ContextSecret string
	ContextTTL    time.Duration
	Consumers     int
	CallTimeout   time.Duration
}

// LoadBusConfig constructs a BusConfig from environment variables.
func LoadBusConfig() BusConfig {
	return BusConfig{
		Backend:       GetString("BUS_BACKEND", "redis"),
		RedisAddr:     GetString("BUS_REDIS_ADDR", "redis:6379"),
		RedisPassword: GetString("BUS_REDIS_PASSWORD", ""),
		RedisDB:       GetInt("BUS_REDIS_DB", 0),
		KeyPrefix:     GetString("BUS_KEY_PREFIX", "conveyor:bus:"),
		ContextSecret: GetString("BUS_CONTEXT_SECRET", ""),
		ContextTTL:    GetSeconds("BUS_CONTEXT_TTL_SECONDS", 3600),
		Consumers:     GetInt("BUS_CONSUMERS", 4),
		CallTimeout:   GetSeconds("BUS_CALL_TIMEOUT_SECONDS", 60),
	}
}

// OpenStackConfig holds credentials for the infrastructure and object-store APIs.
type OpenStackConfig struct {
	AuthURL     string
	Username    string
	Password    string
	ProjectName string
	DomainName  string
	Region      string
}

// LoadOpenStackConfig constructs an OpenStackConfig from environment variables.
func LoadOpenStackConfig() OpenStackConfig {
	return OpenStackConfig{
		AuthURL:     GetString("OS_AUTH_URL", ""),
		Username:    GetString("OS_USERNAME", ""),
		Password:    GetString("OS_PASSWORD", ""),
		ProjectName: GetString("OS_PROJECT_NAME", ""),
		DomainName:  GetString("OS_USER_DOMAIN_NAME", "Default"),
		Region:      GetString("OS_REGION_NAME", ""),
	}
}

// LogConfig selects and configures the user log upload strategy.
type LogConfig struct {
	Strategy       string
	LocalDir       string
	SwiftContainer string
	SwiftMaxObject int64
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3Bucket       string
	S3Region       string
	S3UseSSL       bool
	RetryDelay     time.Duration
	OpenStack      OpenStackConfig
}

// LoadLogConfig constructs a LogConfig from environment variables.
func LoadLogConfig() LogConfig {
	return LogConfig{
		Strategy:       GetString("LOG_UPLOAD_STRATEGY", "local"),
		LocalDir:       GetString("LOG_LOCAL_DIR", "/var/log/conveyor"),
		SwiftContainer: GetString("SWIFT_CONTAINER", "conveyor-logs"),
		SwiftMaxObject: GetInt64("SWIFT_MAX_OBJECT_SIZE", 5*1024*1024*1024),
		S3Endpoint:     GetString("S3_ENDPOINT", ""),
		S3AccessKey:    GetString("S3_ACCESS_KEY", ""),
		S3SecretKey:    GetString("S3_SECRET_KEY", ""),
		S3Bucket:       GetString("S3_BUCKET", "conveyor-logs"),
		S3Region:       GetString("S3_REGION", ""),
		S3UseSSL:       GetBool("S3_USE_SSL", true),
		RetryDelay:     GetSeconds("LOG_UPLOAD_RETRY_SECONDS", 2),
		OpenStack:      LoadOpenStackConfig(),
	}
}
