package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const defaultSecret = "dev-secret-key"

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Session   SessionConfig
	Discord   DiscordConfig
	Roles     RoleConfig
	Store     StoreConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
	Live      LiveConfig
}

type ServerConfig struct {
	Port        string
	Host        string
	Environment string
	FrontendURL string
}

type SessionConfig struct {
	Secret     string
	Expiration time.Duration
	CookieName string
	Secure     bool
}

// DiscordConfig covers the OAuth application, the bot used for guild
// member lookups and the channel that receives ping notifications.
type DiscordConfig struct {
	ClientID        string
	ClientSecret    string
	RedirectURI     string
	GuildID         string
	BotToken        string
	NotifyChannelID string
	APIBase         string
	Timeout         time.Duration
	Retries         int
}

// RoleConfig lists the guild role ids that grant each capability.
type RoleConfig struct {
	TesterRoles   []string
	AnyTesterRole string
	EditorRoles   []string
	RadioRole     string
	MDTRole       string
}

type StoreConfig struct {
	Backend         string
	FilePath        string
	ProjectID       string
	CredentialsPath string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	// TrustedProxies are peer addresses whose X-Forwarded-For is honoured.
	TrustedProxies []string
}

type LoggingConfig struct {
	Level string
}

// LiveConfig tunes the duty registry and the event stream.
type LiveConfig struct {
	DutyTTL           time.Duration
	SweepInterval     time.Duration
	StreamIdleTimeout time.Duration
	KeepAlive         time.Duration
	ClientBuffer      int
}

var defaults = map[string]string{
	"PORT":                "8080",
	"HOST":                "0.0.0.0",
	"ENVIRONMENT":         "development",
	"FRONTEND_URL":        "http://localhost:5173",
	"SESSION_SECRET":      defaultSecret,
	"SESSION_EXPIRATION":  "12h",
	"SESSION_COOKIE":      "dutydesk_session",
	"SESSION_SECURE":      "false",
	"DISCORD_API_BASE":    "https://discord.com/api/v10",
	"DISCORD_TIMEOUT":     "10s",
	"DISCORD_RETRIES":     "3",
	"STORE_BACKEND":       "file",
	"STORE_FILE":          "./data/db.json",
	"RATE_LIMIT_REQUESTS": "100",
	"RATE_LIMIT_WINDOW":   "60",
	"LOG_LEVEL":           "info",
	"DUTY_TTL":            "12h",
	"DUTY_SWEEP_INTERVAL": "5m",
	"STREAM_IDLE_TIMEOUT": "2h",
	"STREAM_KEEPALIVE":    "25s",
	"STREAM_BUFFER":       "16",
}

// Load reads configuration from environment variables
func Load() *Config {
	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) *Config {
	frontend := v.GetString("FRONTEND_URL")
	origins := v.GetString("ALLOWED_ORIGINS")
	if origins == "" {
		origins = frontend
	}

	return &Config{
		Server: ServerConfig{
			Port:        v.GetString("PORT"),
			Host:        v.GetString("HOST"),
			Environment: v.GetString("ENVIRONMENT"),
			FrontendURL: strings.TrimRight(frontend, "/"),
		},
		Session: SessionConfig{
			Secret:     v.GetString("SESSION_SECRET"),
			Expiration: parseDuration(v.GetString("SESSION_EXPIRATION"), 12*time.Hour),
			CookieName: v.GetString("SESSION_COOKIE"),
			Secure:     v.GetBool("SESSION_SECURE"),
		},
		Discord: DiscordConfig{
			ClientID:        v.GetString("DISCORD_CLIENT_ID"),
			ClientSecret:    v.GetString("DISCORD_CLIENT_SECRET"),
			RedirectURI:     v.GetString("DISCORD_REDIRECT_URI"),
			GuildID:         v.GetString("DISCORD_GUILD_ID"),
			BotToken:        v.GetString("DISCORD_BOT_TOKEN"),
			NotifyChannelID: v.GetString("DISCORD_NOTIFY_CHANNEL_ID"),
			APIBase:         strings.TrimRight(v.GetString("DISCORD_API_BASE"), "/"),
			Timeout:         parseDuration(v.GetString("DISCORD_TIMEOUT"), 10*time.Second),
			Retries:         parseInt(v.GetString("DISCORD_RETRIES"), 3),
		},
		Roles: RoleConfig{
			TesterRoles:   parseStringSlice(v.GetString("TESTER_ROLE_IDS")),
			AnyTesterRole: v.GetString("ANY_TESTER_ROLE_ID"),
			EditorRoles:   parseStringSlice(v.GetString("EDITOR_ROLE_IDS")),
			RadioRole:     v.GetString("RADIO_ROLE_ID"),
			MDTRole:       v.GetString("MDT_ROLE_ID"),
		},
		Store: StoreConfig{
			Backend:         strings.ToLower(v.GetString("STORE_BACKEND")),
			FilePath:        v.GetString("STORE_FILE"),
			ProjectID:       v.GetString("FIREBASE_PROJECT_ID"),
			CredentialsPath: v.GetString("FIREBASE_CREDENTIALS_PATH"),
		},
		CORS: CORSConfig{
			AllowedOrigins: parseStringSlice(origins),
		},
		RateLimit: RateLimitConfig{
			Requests:       parseInt(v.GetString("RATE_LIMIT_REQUESTS"), 100),
			Window:         parseDuration(v.GetString("RATE_LIMIT_WINDOW"), 60*time.Second),
			TrustedProxies: parseStringSlice(v.GetString("RATE_LIMIT_TRUSTED_PROXIES")),
		},
		Logging: LoggingConfig{
			Level: strings.ToLower(v.GetString("LOG_LEVEL")),
		},
		Live: LiveConfig{
			DutyTTL:           parseDuration(v.GetString("DUTY_TTL"), 12*time.Hour),
			SweepInterval:     parseDuration(v.GetString("DUTY_SWEEP_INTERVAL"), 5*time.Minute),
			StreamIdleTimeout: parseDuration(v.GetString("STREAM_IDLE_TIMEOUT"), 2*time.Hour),
			KeepAlive:         parseDuration(v.GetString("STREAM_KEEPALIVE"), 25*time.Second),
			ClientBuffer:      parseInt(v.GetString("STREAM_BUFFER"), 16),
		},
	}
}

func parseInt(s string, defaultValue int) int {
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	return defaultValue
}

func parseDuration(s string, defaultValue time.Duration) time.Duration {
	// Handle simple formats like "30m", "7d", "60"
	if strings.HasSuffix(s, "d") {
		if days, err := strconv.Atoi(strings.TrimSuffix(s, "d")); err == nil {
			return time.Duration(days) * 24 * time.Hour
		}
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	// If it's just a number, assume seconds
	if i, err := strconv.Atoi(s); err == nil {
		return time.Duration(i) * time.Second
	}
	return defaultValue
}

func parseStringSlice(s string) []string {
	result := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == "development"
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var errs []error
	if c.Session.Secret == defaultSecret && c.IsProduction() {
		errs = append(errs, errors.New("SESSION_SECRET must be set in production"))
	}
	if c.Discord.ClientID == "" || c.Discord.ClientSecret == "" || c.Discord.RedirectURI == "" {
		errs = append(errs, errors.New("DISCORD_CLIENT_ID, DISCORD_CLIENT_SECRET and DISCORD_REDIRECT_URI must be set"))
	}
	if c.Discord.GuildID == "" || c.Discord.BotToken == "" {
		errs = append(errs, errors.New("DISCORD_GUILD_ID and DISCORD_BOT_TOKEN must be set"))
	}
	switch c.Store.Backend {
	case "file":
		if c.Store.FilePath == "" {
			errs = append(errs, errors.New("STORE_FILE must be set for the file backend"))
		}
	case "firestore":
		if c.Store.ProjectID == "" {
			errs = append(errs, errors.New("FIREBASE_PROJECT_ID must be set for the firestore backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend))
	}
	if c.Live.ClientBuffer < 1 {
		errs = append(errs, errors.New("STREAM_BUFFER must be at least 1"))
	}
	return errors.Join(errs...)
}
