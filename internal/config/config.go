package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App        AppConfig        `json:"app"`
	Database   DatabaseConfig   `json:"database"`
	Redis      RedisConfig      `json:"redis"`
	Email      EmailConfig      `json:"email"`
	Security   SecurityConfig   `json:"security"`
	Pagination PaginationConfig `json:"pagination"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env                string        `json:"env"`                  // 运行环境: local / prod
	LogLevel           string        `json:"log_level"`            // 日志级别: debug / info / warn / error
	HTTPAddr           string        `json:"http_addr"`            // HTTP 监听地址
	BaseURL            string        `json:"base_url"`             // 外部访问地址，用于邮件中的链接
	SlowQueryThreshold time.Duration `json:"slow_query_threshold"` // 慢查询阈值（如 "500ms"）
	MailWorkers        int           `json:"mail_workers"`         // 邮件发送 worker 数
	MailQueueCapacity  int           `json:"mail_queue_capacity"`  // 邮件队列容量
	WriteRateLimit     float64       `json:"write_rate_limit"`     // 发帖限流速率（次/秒，按 IP），0 取默认值，负数关闭限流
	WriteRateBurst     int           `json:"write_rate_burst"`     // 发帖限流桶容量
	CORSOrigin         string        `json:"cors_origin"`          // JSON API 允许的来源
}

// DatabaseConfig 数据库配置。
//
// DSN 以 mysql:// / postgres:// / sqlite:// 前缀区分驱动。
type DatabaseConfig struct {
	DSN          string `json:"dsn"`
	MaxIdleConns int    `json:"max_idle_conns"`
	MaxOpenConns int    `json:"max_open_conns"`
}

// RedisConfig Redis 配置（会话与频控）。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
}

// EmailConfig 邮件配置。
type EmailConfig struct {
	SMTPHost      string `json:"smtp_host"`
	SMTPPort      int    `json:"smtp_port"`
	SMTPUser      string `json:"smtp_user"`
	SMTPPass      string `json:"smtp_pass"`
	FromEmail     string `json:"from_email"`     // 发件人
	AdminEmail    string `json:"admin_email"`    // 管理员邮箱，注册时自动获得管理员角色
	SubjectPrefix string `json:"subject_prefix"` // 邮件主题前缀

	// 所有实例共享的 SMTP 发送速率（封/秒）与桶容量，为 0 时取默认值，负数表示不限
	SendRate  float64 `json:"send_rate"`
	SendBurst float64 `json:"send_burst"`
}

// SecurityConfig 安全相关配置。
type SecurityConfig struct {
	SecretKey        string        `json:"secret_key"`        // 令牌签名密钥
	SessionLifetime  time.Duration `json:"session_lifetime"`  // 普通会话有效期
	RememberLifetime time.Duration `json:"remember_lifetime"` // "保持登录" 会话有效期
	ConfirmTokenTTL  time.Duration `json:"confirm_token_ttl"` // 确认/重置令牌有效期
	APITokenTTL      time.Duration `json:"api_token_ttl"`     // API 令牌有效期
	ResendCooldown   time.Duration `json:"resend_cooldown"`   // 重发确认邮件的最小间隔
	CookieSecure     bool          `json:"cookie_secure"`     // 会话 Cookie 是否仅 HTTPS
}

// PaginationConfig 各列表的分页大小。
type PaginationConfig struct {
	Feed         int `json:"feed"`
	Followers    int `json:"followers"`
	Comments     int `json:"comments"`
	Answers      int `json:"answers"`
	APIQuestions int `json:"api_questions"`
}

// Load 从 JSON 文件加载配置。
//
// 它会尝试读取 configs/config.json 文件，如果不存在则使用默认值。
// 环境变量始终覆盖文件中的值。
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
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

// Default 返回默认配置。
func Default() *Config {
	return &Config{
		App: AppConfig{
			Env:                "local",
			LogLevel:           "info",
			HTTPAddr:           ":8080",
			BaseURL:            "http://localhost:8080",
			SlowQueryThreshold: 500 * time.Millisecond,
			MailWorkers:        2,
			MailQueueCapacity:  100,
			WriteRateLimit:     0.5,
			WriteRateBurst:     5,
			CORSOrigin:         "*",
		},
		Database: DatabaseConfig{
			DSN:          "sqlite://askhub.db",
			MaxIdleConns: 10,
			MaxOpenConns: 100,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
		},
		Email: EmailConfig{
			SMTPHost:      "smtp.qq.com",
			SMTPPort:      465,
			SubjectPrefix: "[askhub]",
			SendRate:      1,
			SendBurst:     5,
		},
		Security: SecurityConfig{
			SecretKey:        "hard to guess string",
			SessionLifetime:  24 * time.Hour,
			RememberLifetime: 30 * 24 * time.Hour,
			ConfirmTokenTTL:  time.Hour,
			APITokenTTL:      time.Hour,
			ResendCooldown:   60 * time.Second,
		},
		Pagination: PaginationConfig{
			Feed:         20,
			Followers:    20,
			Comments:     20,
			Answers:      20,
			APIQuestions: 2,
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := Default()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.BaseURL == "" {
		cfg.App.BaseURL = defaults.App.BaseURL
	}
	if cfg.App.SlowQueryThreshold == 0 {
		cfg.App.SlowQueryThreshold = defaults.App.SlowQueryThreshold
	}
	if cfg.App.MailWorkers == 0 {
		cfg.App.MailWorkers = defaults.App.MailWorkers
	}
	if cfg.App.MailQueueCapacity == 0 {
		cfg.App.MailQueueCapacity = defaults.App.MailQueueCapacity
	}
	if cfg.App.WriteRateLimit == 0 {
		cfg.App.WriteRateLimit = defaults.App.WriteRateLimit
	}
	if cfg.App.WriteRateBurst == 0 {
		cfg.App.WriteRateBurst = defaults.App.WriteRateBurst
	}
	if cfg.App.CORSOrigin == "" {
		cfg.App.CORSOrigin = defaults.App.CORSOrigin
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = defaults.Database.DSN
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = defaults.Database.MaxIdleConns
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = defaults.Database.MaxOpenConns
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
	if cfg.Email.SubjectPrefix == "" {
		cfg.Email.SubjectPrefix = defaults.Email.SubjectPrefix
	}
	if cfg.Email.SendRate == 0 {
		cfg.Email.SendRate = defaults.Email.SendRate
	}
	if cfg.Email.SendBurst == 0 {
		cfg.Email.SendBurst = defaults.Email.SendBurst
	}
	if cfg.Security.SecretKey == "" {
		cfg.Security.SecretKey = defaults.Security.SecretKey
	}
	if cfg.Security.SessionLifetime == 0 {
		cfg.Security.SessionLifetime = defaults.Security.SessionLifetime
	}
	if cfg.Security.RememberLifetime == 0 {
		cfg.Security.RememberLifetime = defaults.Security.RememberLifetime
	}
	if cfg.Security.ConfirmTokenTTL == 0 {
		cfg.Security.ConfirmTokenTTL = defaults.Security.ConfirmTokenTTL
	}
	if cfg.Security.APITokenTTL == 0 {
		cfg.Security.APITokenTTL = defaults.Security.APITokenTTL
	}
	if cfg.Security.ResendCooldown == 0 {
		cfg.Security.ResendCooldown = defaults.Security.ResendCooldown
	}
	if cfg.Pagination.Feed == 0 {
		cfg.Pagination.Feed = defaults.Pagination.Feed
	}
	if cfg.Pagination.Followers == 0 {
		cfg.Pagination.Followers = defaults.Pagination.Followers
	}
	if cfg.Pagination.Comments == 0 {
		cfg.Pagination.Comments = defaults.Pagination.Comments
	}
	if cfg.Pagination.Answers == 0 {
		cfg.Pagination.Answers = defaults.Pagination.Answers
	}
	if cfg.Pagination.APIQuestions == 0 {
		cfg.Pagination.APIQuestions = defaults.Pagination.APIQuestions
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("db_host", "DB_HOST")
	_ = viper.BindEnv("db_password", "DB_PASSWORD")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("smtp_pass", "MAIL_PASSWORD")
	_ = viper.BindEnv("secret_key", "SECRET_KEY")
	_ = viper.BindEnv("admin_email", "ASKHUB_ADMIN")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	}
	if v := os.Getenv("APP_BASE_URL"); v != "" {
		cfg.App.BaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("APP_SLOW_QUERY_THRESHOLD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.SlowQueryThreshold = d
		}
	}
	if v := os.Getenv("APP_MAIL_WORKERS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.MailWorkers = i
		}
	}
	if v := os.Getenv("APP_WRITE_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.WriteRateLimit = f
		}
	}
	if v := os.Getenv("APP_WRITE_RATE_BURST"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.WriteRateBurst = i
		}
	}
	if v := os.Getenv("CORS_ORIGIN"); v != "" {
		cfg.App.CORSOrigin = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
	} else if strings.HasPrefix(cfg.Database.DSN, "mysql://") &&
		(hasAnyEnv("DB_PORT", "DB_USER", "DB_NAME") || viper.GetString("db_host") != "" || viper.GetString("db_password") != "") {
		parsed := parseMySQLDSN(strings.TrimPrefix(cfg.Database.DSN, "mysql://"))
		if v := viper.GetString("db_host"); v != "" {
			parsed.Addr = v + ":" + getenvDefault("DB_PORT", parsed.Addr, "3306")
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
		cfg.Database.DSN = "mysql://" + parsed.FormatDSN()
	}

	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("MAIL_SERVER"); v != "" {
		cfg.Email.SMTPHost = v
	}
	if v := os.Getenv("MAIL_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Email.SMTPPort = i
		}
	}
	if v := os.Getenv("MAIL_USERNAME"); v != "" {
		cfg.Email.SMTPUser = v
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := os.Getenv("MAIL_SENDER"); v != "" {
		cfg.Email.FromEmail = v
	}
	if v := os.Getenv("MAIL_SEND_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Email.SendRate = f
		}
	}
	if v := os.Getenv("MAIL_SEND_BURST"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Email.SendBurst = f
		}
	}
	if v := viper.GetString("admin_email"); v != "" {
		cfg.Email.AdminEmail = v
	}

	if v := viper.GetString("secret_key"); v != "" {
		cfg.Security.SecretKey = v
	}
	if v := os.Getenv("COOKIE_SECURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Security.CookieSecure = b
		}
	}
}

func hasAnyEnv(keys ...string) bool {
	for _, key := range keys {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func getenvDefault(envKey, fallbackAddr, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
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
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil || dsn == "" {
		fallback := mysql.NewConfig()
		fallback.User = "root"
		fallback.Net = "tcp"
		fallback.Addr = "localhost:3306"
		fallback.DBName = "askhub"
		fallback.ParseTime = true
		return fallback
	}
	return parsed
}

// UnmarshalJSON 自定义 JSON 解析，支持时间Duration字符串。
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		SlowQueryThreshold string `json:"slow_query_threshold"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.SlowQueryThreshold != "" {
		d, err := time.ParseDuration(aux.SlowQueryThreshold)
		if err != nil {
			return fmt.Errorf("invalid slow_query_threshold format: %w", err)
		}
		a.SlowQueryThreshold = d
	}
	return nil
}

// UnmarshalJSON 自定义 JSON 解析，支持时间Duration字符串。
func (s *SecurityConfig) UnmarshalJSON(data []byte) error {
	type Alias SecurityConfig
	aux := &struct {
		SessionLifetime  string `json:"session_lifetime"`
		RememberLifetime string `json:"remember_lifetime"`
		ConfirmTokenTTL  string `json:"confirm_token_ttl"`
		APITokenTTL      string `json:"api_token_ttl"`
		ResendCooldown   string `json:"resend_cooldown"`
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
		{"session_lifetime", aux.SessionLifetime, &s.SessionLifetime},
		{"remember_lifetime", aux.RememberLifetime, &s.RememberLifetime},
		{"confirm_token_ttl", aux.ConfirmTokenTTL, &s.ConfirmTokenTTL},
		{"api_token_ttl", aux.APITokenTTL, &s.APITokenTTL},
		{"resend_cooldown", aux.ResendCooldown, &s.ResendCooldown},
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
