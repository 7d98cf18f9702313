package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env        string `yaml:"env" env:"ENV" env-default:"local"`
	Tokens     `yaml:"tokens"`
	Postgres   `yaml:"postgres"`
	HTTPServer `yaml:"http_server"`
	OAuth      `yaml:"oauth"`
}

type HTTPServer struct {
	Address     string        `yaml:"address" env-default:"localhost:8080"`
	Timeout     time.Duration `yaml:"timeout" env-default:"4s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

type Postgres struct {
	Host     string `yaml:"host" env-default:"postgres"`
	Port     int    `yaml:"port" env-default:"5432"`
	User     string `yaml:"user" env-required:"true"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD" env-required:"true"`
	DBName   string `yaml:"dbname" env-required:"true"`
	SSLMode  string `yaml:"sslmode" env-default:"disable"`
}

type Tokens struct {
	SigningSecret   string        `yaml:"signing_secret" env:"JWT_SECRET" env-required:"true"`
	Algorithm       string        `yaml:"algorithm" env-default:"HS256"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl" env-default:"30m"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl" env-default:"168h"`
}

type OAuth struct {
	Google   OAuthProvider `yaml:"google" env-prefix:"GOOGLE_"`
	Facebook OAuthProvider `yaml:"facebook" env-prefix:"FACEBOOK_"`
	GitHub   OAuthProvider `yaml:"github" env-prefix:"GITHUB_"`
}

type OAuthProvider struct {
	ClientID     string `yaml:"client_id" env:"CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"CLIENT_SECRET"`
	RedirectURL  string `yaml:"redirect_url" env:"REDIRECT_URL"`
}

// minSecretLen guards against HMAC keys weaker than the hash output.
const minSecretLen = 32

func MustLoad(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("Config file does not exist" + configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("Failed to read config" + err.Error())
	}

	if len(cfg.Tokens.SigningSecret) < minSecretLen {
		panic(fmt.Sprintf("signing secret must be at least %d bytes", minSecretLen))
	}

	return &cfg
}

// IsProd reports whether the service runs with production hardening, which
// currently only affects the Secure flag on the refresh cookie.
func (c *Config) IsProd() bool {
	return c.Env == "prod"
}
