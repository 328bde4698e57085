package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App      AppConfig      `json:"app"`
	Store    StoreConfig    `json:"store"`
	MySQL    MySQLConfig    `json:"mysql"`
	Mongo    MongoConfig    `json:"mongo"`
	Redis    RedisConfig    `json:"redis"`
	Email    EmailConfig    `json:"email"`
	Security SecurityConfig `json:"security"`
	Google   GoogleConfig   `json:"google"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env         string  `json:"env"`          // 运行环境: local / production
	LogLevel    string  `json:"log_level"`    // 日志级别: debug / info / warn / error
	HTTPAddr    string  `json:"http_addr"`    // API 服务监听地址
	PublicURL   string  `json:"public_url"`   // 本服务对外地址（OAuth 回调、激活链接）
	FrontendURL string  `json:"frontend_url"` // 前端地址（第三方登录完成后跳转）
	RateLimit   float64 `json:"rate_limit"`   // 限流速率（token/s）
	RateBurst   float64 `json:"rate_burst"`   // 限流桶容量
}

// StoreConfig 用户存储后端选择。
type StoreConfig struct {
	Driver string `json:"driver"` // mysql / mongo
}

// MySQLConfig MySQL 数据库配置。
type MySQLConfig struct {
	DSN string `json:"dsn"` // 数据库连接字符串
}

// MongoConfig MongoDB 配置。
type MongoConfig struct {
	URI      string `json:"uri"`
	Database string `json:"database"`
}

// RedisConfig Redis 缓存配置。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
}

// EmailConfig 邮件发送配置。
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	FromEmail string `json:"from_email"`
}

// SecurityConfig 安全相关配置。
type SecurityConfig struct {
	JWTSecret     string        `json:"jwt_secret"`     // JWT 签名密钥
	JWTTTL        time.Duration `json:"jwt_ttl"`        // 令牌有效期
	CookieTTL     time.Duration `json:"cookie_ttl"`     // 会话 Cookie 有效期
	ActivationTTL time.Duration `json:"activation_ttl"` // 激活链接有效期（0 表示不过期）
	AdminEmail    string        `json:"admin_email"`    // 启动时确保存在的管理员账户
	AdminPassword string        `json:"admin_password"`
}

// GoogleConfig Google OAuth 客户端配置。
type GoogleConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// IsProduction 判断是否运行在生产环境。
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.App.Env, "production")
}

// GoogleRedirectURL 返回注册在 Google 的回调地址。
func (c *Config) GoogleRedirectURL() string {
	return strings.TrimRight(c.App.PublicURL, "/") + "/api/v1/users/login/google"
}

// Load 从 JSON 文件加载配置。
//
// 它会先尝试加载 config.env / .env 到进程环境，再读取 configs/config.json，
// 文件不存在时使用默认值。环境变量始终优先。
func Load(configPath ...string) (*Config, error) {
	_ = godotenv.Load("config.env")
	_ = godotenv.Load()

	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// DevJWTSecret 是本地开发用的默认签名密钥，生产环境禁止使用。
const DevJWTSecret = "dev_secret_change_me"

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:         "local",
			LogLevel:    "info",
			HTTPAddr:    ":3000",
			PublicURL:   "http://localhost:3000",
			FrontendURL: "http://localhost:5173",
			// 250 次/小时
			RateLimit: 250.0 / 3600.0,
			RateBurst: 250,
		},
		Store: StoreConfig{
			Driver: "mysql",
		},
		MySQL: MySQLConfig{
			DSN: "root:password@tcp(localhost:3306)/paperscape?parseTime=true&loc=Local",
		},
		Mongo: MongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "paperscape",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
		},
		Email: EmailConfig{
			SMTPHost:  "smtp.gmail.com",
			SMTPPort:  587,
			SMTPUser:  "",
			SMTPPass:  "",
			FromEmail: "",
		},
		Security: SecurityConfig{
			JWTSecret:     DevJWTSecret,
			JWTTTL:        90 * 24 * time.Hour,
			CookieTTL:     90 * 24 * time.Hour,
			ActivationTTL: 0,
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.PublicURL == "" {
		cfg.App.PublicURL = defaults.App.PublicURL
	}
	if cfg.App.FrontendURL == "" {
		cfg.App.FrontendURL = defaults.App.FrontendURL
	}
	if cfg.App.RateLimit == 0 {
		cfg.App.RateLimit = defaults.App.RateLimit
	}
	if cfg.App.RateBurst == 0 {
		cfg.App.RateBurst = defaults.App.RateBurst
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = defaults.Store.Driver
	}
	if cfg.MySQL.DSN == "" {
		cfg.MySQL.DSN = defaults.MySQL.DSN
	}
	if cfg.Mongo.URI == "" {
		cfg.Mongo.URI = defaults.Mongo.URI
	}
	if cfg.Mongo.Database == "" {
		cfg.Mongo.Database = defaults.Mongo.Database
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = defaults.Redis.Addr
	}
	if cfg.Email.SMTPHost == "" {
		cfg.Email.SMTPHost = defaults.Email.SMTPHost
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
	if cfg.Security.JWTSecret == "" {
		cfg.Security.JWTSecret = defaults.Security.JWTSecret
	}
	if cfg.Security.JWTTTL == 0 {
		cfg.Security.JWTTTL = defaults.Security.JWTTTL
	}
	if cfg.Security.CookieTTL == 0 {
		cfg.Security.CookieTTL = defaults.Security.CookieTTL
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("db_host", "DB_HOST")
	_ = viper.BindEnv("db_password", "DB_PASSWORD")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("smtp_pass", "SMTP_PASS")
	_ = viper.BindEnv("jwt_secret", "JWT_SECRET")
	_ = viper.BindEnv("google_client_secret", "GOOGLE_CLIENT_SECRET")
	_ = viper.BindEnv("admin_password", "ADMIN_PASSWORD")

	if v := firstEnv("APP_ENV", "NODE_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	} else if v := os.Getenv("PORT"); v != "" {
		cfg.App.HTTPAddr = ":" + v
	}
	if v := firstEnv("APP_PUBLIC_URL", "URL"); v != "" {
		cfg.App.PublicURL = v
	}
	if v := firstEnv("APP_FRONTEND_URL", "ORIGIN"); v != "" {
		cfg.App.FrontendURL = v
	}
	if v := os.Getenv("APP_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.RateLimit = f
		}
	}
	if v := os.Getenv("APP_RATE_BURST"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.RateBurst = f
		}
	}

	if v := os.Getenv("STORE_DRIVER"); v != "" {
		cfg.Store.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("MONGO_URI"); v != "" {
		cfg.Mongo.URI = v
	}
	if v := os.Getenv("MONGO_DATABASE"); v != "" {
		cfg.Mongo.Database = v
	}

	if v := viper.GetString("jwt_secret"); v != "" {
		cfg.Security.JWTSecret = v
	}
	if v := os.Getenv("JWT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Security.JWTTTL = d
		}
	}
	if v := os.Getenv("JWT_COOKIE_EXPIRES_IN"); v != "" {
		if days, err := strconv.Atoi(v); err == nil {
			cfg.Security.CookieTTL = time.Duration(days) * 24 * time.Hour
		}
	}
	if v := os.Getenv("ACTIVATION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Security.ActivationTTL = d
		}
	}
	if v := os.Getenv("ADMIN_EMAIL"); v != "" {
		cfg.Security.AdminEmail = v
	}
	if v := viper.GetString("admin_password"); v != "" {
		cfg.Security.AdminPassword = v
	}

	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.Google.ClientID = v
	}
	if v := viper.GetString("google_client_secret"); v != "" {
		cfg.Google.ClientSecret = v
	}

	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.MySQL.DSN = v
	} else if hasAnyEnv("DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME") || viper.GetString("db_host") != "" || viper.GetString("db_password") != "" {
		parsed := parseMySQLDSN(cfg.MySQL.DSN)
		if v := viper.GetString("db_host"); v != "" {
			port := getenvDefault("DB_PORT", parsed.Addr, "3306")
			parsed.Addr = v + ":" + port
		} else if v := os.Getenv("DB_PORT"); v != "" {
			host := parsed.Addr
			if strings.Contains(host, ":") {
				host = strings.Split(host, ":")[0]
			}
			parsed.Addr = host + ":" + v
		}
		if v := os.Getenv("DB_USER"); v != "" {
			parsed.User = v
		}
		if v := viper.GetString("db_password"); v != "" {
			parsed.Passwd = v
		}
		if v := os.Getenv("DB_NAME"); v != "" {
			parsed.DBName = v
		}
		cfg.MySQL.DSN = parsed.FormatDSN()
	}

	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Email.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Email.SMTPPort = i
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Email.SMTPUser = v
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.Email.FromEmail = v
	}
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

func hasAnyEnv(keys ...string) bool {
	return firstEnv(keys...) != ""
}

func getenvDefault(envKey, fallbackAddr, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if fallbackAddr == "" {
		return defaultValue
	}
	if strings.Contains(fallbackAddr, ":") {
		parts := strings.Split(fallbackAddr, ":")
		if len(parts) == 2 && parts[1] != "" {
			return parts[1]
		}
	}
	return defaultValue
}

func parseMySQLDSN(dsn string) *mysql.Config {
	fallback := func() *mysql.Config {
		c := mysql.NewConfig()
		c.User = "root"
		c.Net = "tcp"
		c.Addr = "localhost:3306"
		c.DBName = "paperscape"
		c.ParseTime = true
		return c
	}
	if dsn == "" {
		return fallback()
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return fallback()
	}
	return parsed
}

// UnmarshalJSON 自定义 JSON 解析，支持时间 Duration 字符串。
func (s *SecurityConfig) UnmarshalJSON(data []byte) error {
	type Alias SecurityConfig
	aux := &struct {
		JWTTTL        string `json:"jwt_ttl"`
		CookieTTL     string `json:"cookie_ttl"`
		ActivationTTL string `json:"activation_ttl"`
		*Alias
	}{
		Alias: (*Alias)(s),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"jwt_ttl", aux.JWTTTL, &s.JWTTTL},
		{"cookie_ttl", aux.CookieTTL, &s.CookieTTL},
		{"activation_ttl", aux.ActivationTTL, &s.ActivationTTL},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("invalid %s format: %w", f.name, err)
		}
		*f.dst = d
	}
	return nil
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (s SecurityConfig) MarshalJSON() ([]byte, error) {
	type Alias SecurityConfig
	return json.Marshal(&struct {
		JWTTTL        string `json:"jwt_ttl"`
		CookieTTL     string `json:"cookie_ttl"`
		ActivationTTL string `json:"activation_ttl"`
		*Alias
	}{
		JWTTTL:        s.JWTTTL.String(),
		CookieTTL:     s.CookieTTL.String(),
		ActivationTTL: s.ActivationTTL.String(),
		Alias:         (*Alias)(&s),
	})
}
