package core

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Debug        bool
	TestMode     bool
	Env          string
	Build        string
	AppName      string
	RollbarToken string
	LogLevel     string

	API struct {
		BaseURL string
	}

	Server struct {
		Address         string
		Host            string
		ShutdownTimeout time.Duration
		SecureCookies   bool
		CookieMaxAge    time.Duration
		Store           string // cookie | redis
	}

	Redis struct {
		Address  string
		Password string
		DB       int
		TTL      time.Duration
	}

	CLI struct {
		TokenFile string
	}
}

// NewConfig loads the configuration from defaults, an optional `config/.env.<env>` file and the environment.
// ENV selects the environment: DEV (local; default), TEST, QA, PROD.
func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("appName", "ChitterChatter")
	v.SetDefault("build", "develop")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("api.baseURL", "http://localhost:5000")
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.secureCookies", false)
	v.SetDefault("server.cookieMaxAge", 7*24*time.Hour)
	v.SetDefault("server.store", "cookie")
	v.SetDefault("redis.address", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 7*24*time.Hour)
	v.SetDefault("cli.tokenFile", defaultTokenFile())

	env := strings.ToUpper(os.Getenv("ENV"))
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(configDir(), ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	conf := new(Config)
	conf.Env = env
	conf.Debug = v.GetBool("debug")
	conf.TestMode = v.GetBool("testMode")
	conf.Build = v.GetString("build")
	conf.AppName = v.GetString("appName")
	conf.RollbarToken = v.GetString("rollbarToken")
	conf.LogLevel = v.GetString("log.level")
	conf.API.BaseURL = strings.TrimRight(v.GetString("api.baseURL"), "/")
	conf.Server.Address = v.GetString("server.address")
	conf.Server.Host = v.GetString("server.host")
	conf.Server.ShutdownTimeout = v.GetDuration("server.shutdownTimeout")
	conf.Server.SecureCookies = v.GetBool("server.secureCookies")
	conf.Server.CookieMaxAge = v.GetDuration("server.cookieMaxAge")
	conf.Server.Store = strings.ToLower(v.GetString("server.store"))
	conf.Redis.Address = v.GetString("redis.address")
	conf.Redis.Password = v.GetString("redis.password")
	conf.Redis.DB = v.GetInt("redis.db")
	conf.Redis.TTL = v.GetDuration("redis.ttl")
	conf.CLI.TokenFile = v.GetString("cli.tokenFile")
	return conf
}

func configDir() string {
	if dir := os.Getenv("CONFIG_DIR"); dir != "" {
		return dir
	}
	return "config"
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "chitterchatter", "session.json")
}
