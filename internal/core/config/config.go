package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Stage names of the promotion pipeline, in promotion order.
const (
	StageLocal       = "local"
	StageDevelopment = "development"
	StageTest        = "test"
	StageProduction  = "production"
)

var Stages = []string{StageLocal, StageDevelopment, StageTest, StageProduction}

type Config struct {
	Version       int           `toml:"version"`
	Database      Database      `toml:"database"`
	Migrations    Migrations    `toml:"migrations"`
	Schemas       Schemas       `toml:"schemas"`
	Run           Run           `toml:"run"`
	Watch         Watch         `toml:"watch"`
	History       History       `toml:"history"`
	Protected     Protected     `toml:"protected"`
	Observability Observability `toml:"observability"`
}

type Database struct {
	URL            string        `toml:"url"`
	Host           string        `toml:"host"`
	Port           int           `toml:"port"`
	User           string        `toml:"user"`
	Password       string        `toml:"password"`
	Name           string        `toml:"name"`
	SSLMode        string        `toml:"sslmode"`
	ConnectTimeout time.Duration `toml:"connect_timeout"`
	MaxConns       int32         `toml:"max_conns"`
}

type Migrations struct {
	Path    string `toml:"path"`
	Include string `toml:"include"`
}

type Schemas struct {
	Local       string `toml:"local"`
	Development string `toml:"development"`
	Test        string `toml:"test"`
	Production  string `toml:"production"`
}

type Run struct {
	Debug bool `toml:"debug"`
}

type Watch struct {
	Enabled     *bool         `toml:"enabled"`
	Debounce    time.Duration `toml:"debounce"`
	ReloadRate  float64       `toml:"reload_rate"`
	ReloadBurst int           `toml:"reload_burst"`
}

type History struct {
	Enabled *bool  `toml:"enabled"`
	Path    string `toml:"path"`
}

type Protected struct {
	Stages []string          `toml:"stages"`
	Names  map[string]string `toml:"names"`
}

type Observability struct {
	Enabled      bool   `toml:"enabled"`
	Address      string `toml:"address"`
	OTLPEndpoint string `toml:"otlp_endpoint"`
	ServiceName  string `toml:"service_name"`
}

func (w Watch) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

func (h History) IsEnabled() bool {
	return h.Enabled == nil || *h.Enabled
}

// ForStage maps a pipeline stage to its database schema name.
func (s Schemas) ForStage(stage string) (string, error) {
	switch stage {
	case StageLocal:
		return s.Local, nil
	case StageDevelopment:
		return s.Development, nil
	case StageTest:
		return s.Test, nil
	case StageProduction:
		return s.Production, nil
	}
	return "", fmt.Errorf("unknown stage %q", stage)
}

// IsProtected reports whether actions on stage need a typed confirmation.
func (p Protected) IsProtected(stage string) bool {
	for _, s := range p.Stages {
		if strings.EqualFold(strings.TrimSpace(s), stage) {
			return true
		}
	}
	return false
}

// ConfirmName is the text a user has to type to act on a protected stage.
func (p Protected) ConfirmName(stage string) string {
	if name := strings.TrimSpace(p.Names[stage]); name != "" {
		return name
	}
	return stage + "-db"
}

// DSN returns the connection string, preferring an explicit URL.
func (d Database) DSN() string {
	if strings.TrimSpace(d.URL) != "" {
		return d.URL
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.Name,
	}
	if d.User != "" {
		if d.Password != "" {
			u.User = url.UserPassword(d.User, d.Password)
		} else {
			u.User = url.User(d.User)
		}
	}

	q := url.Values{}
	if d.SSLMode != "" {
		q.Set("sslmode", d.SSLMode)
	}
	if d.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(d.ConnectTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// DisplayName is a password-free label for logs and prompts.
func (d Database) DisplayName() string {
	if strings.TrimSpace(d.URL) != "" {
		if u, err := url.Parse(d.URL); err == nil {
			return u.Redacted()
		}
		return "database"
	}
	return fmt.Sprintf("%s@%s:%d/%s", d.User, d.Host, d.Port, d.Name)
}
