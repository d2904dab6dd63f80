package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the server configuration: yaml file with defaults, environment
// overrides on top.
type Config struct {
	Addr              string `yaml:"addr"`
	DBPath            string `yaml:"db_path"`
	JWTSecret         string `yaml:"jwt_secret"`
	AdminPasscodeHash string `yaml:"admin_passcode_hash"`

	Day struct {
		// CutoffHour is when the service day rolls over, in the reference
		// timezone. 5 means an evening running past midnight stays on one
		// assignment.
		CutoffHour     int `yaml:"cutoff_hour"`
		UTCOffsetHours int `yaml:"utc_offset_hours"`
	} `yaml:"day"`

	Share struct {
		InviteTTLHours int `yaml:"invite_ttl_hours"`
		AnswerTTLHours int `yaml:"answer_ttl_hours"`
	} `yaml:"share"`
}

func Default() Config {
	var c Config
	c.Addr = ":8080"
	c.DBPath = "dearq.db"
	c.JWTSecret = "dearq-dev-secret"
	c.Day.CutoffHour = 5
	c.Day.UTCOffsetHours = 9
	c.Share.InviteTTLHours = 24
	c.Share.AnswerTTLHours = 7 * 24
	return c
}

// Load reads the yaml file at path (missing file is fine) and applies env
// overrides.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &c); err != nil {
				return c, fmt.Errorf("parse config %s: %w", path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return c, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	applyEnv(&c)
	if c.Day.CutoffHour < 0 || c.Day.CutoffHour > 23 {
		return c, fmt.Errorf("day.cutoff_hour out of range: %d", c.Day.CutoffHour)
	}
	return c, nil
}

func applyEnv(c *Config) {
	if v := os.Getenv("DEARQ_ADDR"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv("DEARQ_DB"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("DEARQ_JWT_SECRET"); v != "" {
		c.JWTSecret = v
	}
	if v := os.Getenv("DEARQ_ADMIN_PASSCODE_HASH"); v != "" {
		c.AdminPasscodeHash = v
	}
}
