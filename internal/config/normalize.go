package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Normalize expands paths and fills derived defaults. Load calls it; tests
// that build a Config by hand call it directly.
func (c *Config) Normalize() error {
	return c.normalize()
}

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAPI()
	c.normalizeLogging()
	c.normalizeProviders()
	c.normalizeCapabilities()
	c.normalizeHumanize()
	c.normalizeKnowledge()
	c.normalizeNotifications()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ArtifactDir) == "" {
		c.Paths.ArtifactDir = filepath.Join(c.Paths.DataDir, "artifacts")
	}
	if c.Paths.ArtifactDir, err = expandPath(c.Paths.ArtifactDir); err != nil {
		return fmt.Errorf("paths.artifact_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.DatabasePath) == "" {
		c.Paths.DatabasePath = filepath.Join(c.Paths.DataDir, defaultDatabaseName)
	}
	if c.Paths.DatabasePath, err = expandPath(c.Paths.DatabasePath); err != nil {
		return fmt.Errorf("paths.database_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
	if c.API.Token == "" {
		if value, ok := os.LookupEnv("OMNIREEL_API_TOKEN"); ok {
			c.API.Token = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func (c *Config) normalizeProviders() {
	for i := range c.Providers {
		p := &c.Providers[i]
		p.Name = strings.TrimSpace(p.Name)
		p.Kind = strings.ToLower(strings.TrimSpace(p.Kind))
		if p.Kind == "" {
			p.Kind = "chat"
		}
		p.BaseURL = strings.TrimSpace(p.BaseURL)
		if p.BaseURL == "" && p.Kind == "chat" {
			p.BaseURL = defaultChatBaseURL
		}
		p.Model = strings.TrimSpace(p.Model)
		p.Referer = strings.TrimSpace(p.Referer)
		if p.Referer == "" && p.Kind == "chat" {
			p.Referer = defaultChatReferer
		}
		p.Title = strings.TrimSpace(p.Title)
		if p.Title == "" && p.Kind == "chat" {
			p.Title = defaultChatTitle
		}
		if p.TimeoutSeconds <= 0 {
			p.TimeoutSeconds = defaultProviderTimeoutSeconds
		}
		if p.QuotaResetSeconds <= 0 {
			p.QuotaResetSeconds = c.Retry.DefaultQuotaReset
		}
		p.APIKey = strings.TrimSpace(p.APIKey)
		if p.APIKey == "" && p.Name != "" {
			if value, ok := os.LookupEnv(ProviderKeyEnv(p.Name)); ok {
				p.APIKey = strings.TrimSpace(value)
			}
		}
	}
}

// ProviderKeyEnv maps "gemini-flash" to OMNIREEL_GEMINI_FLASH_API_KEY.
func ProviderKeyEnv(name string) string {
	upper := strings.ToUpper(name)
	upper = strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, upper)
	return "OMNIREEL_" + upper + "_API_KEY"
}

func (c *Config) normalizeCapabilities() {
	if c.Capabilities == nil {
		c.Capabilities = map[string][]string{}
	}
	for capability, names := range c.Capabilities {
		cleaned := make([]string, 0, len(names))
		seen := make(map[string]struct{}, len(names))
		for _, name := range names {
			trimmed := strings.TrimSpace(name)
			if trimmed == "" {
				continue
			}
			if _, dup := seen[trimmed]; dup {
				continue
			}
			seen[trimmed] = struct{}{}
			cleaned = append(cleaned, trimmed)
		}
		c.Capabilities[capability] = cleaned
	}
}

func (c *Config) normalizeHumanize() {
	c.Humanize.VisualDistribution = strings.ToLower(strings.TrimSpace(c.Humanize.VisualDistribution))
	if c.Humanize.VisualDistribution == "" {
		c.Humanize.VisualDistribution = defaultVisualDistribution
	}
}

func (c *Config) normalizeKnowledge() {
	c.Knowledge.Driver = strings.ToLower(strings.TrimSpace(c.Knowledge.Driver))
	if c.Knowledge.Driver == "" {
		c.Knowledge.Driver = defaultKnowledgeDriver
	}
	c.Knowledge.DSN = strings.TrimSpace(c.Knowledge.DSN)
	if c.Knowledge.DSN == "" {
		if value, ok := os.LookupEnv("OMNIREEL_KNOWLEDGE_DSN"); ok {
			c.Knowledge.DSN = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("OMNIREEL_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNtfyRequestTimeout
	}
}
