package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	mailhoard_errors "github.com/mailhoard/mailhoard/errors"
	"github.com/mailhoard/mailhoard/internal/enum"
)

// Filter is the address selection for an account. Addresses and
// domains match TO/FROM/CC; the from_* fields match FROM only.
type Filter struct {
	Addresses     []string `yaml:"addresses,omitempty"`
	Domains       []string `yaml:"domains,omitempty"`
	FromAddresses []string `yaml:"from_addresses,omitempty"`
	FromDomains   []string `yaml:"from_domains,omitempty"`
}

func (f *Filter) Empty() bool {
	if f == nil {
		return true
	}
	return len(f.Addresses) == 0 && len(f.Domains) == 0 &&
		len(f.FromAddresses) == 0 && len(f.FromDomains) == 0
}

// Account is one logical IMAP endpoint, immutable during a sync run.
type Account struct {
	Name     string           `yaml:"name"`
	Type     enum.AccountType `yaml:"type"`
	User     string           `yaml:"user"`
	Password string           `yaml:"password"`
	Host     string           `yaml:"host,omitempty"`
	Port     int              `yaml:"port,omitempty"`
	Folder   string           `yaml:"folder,omitempty"`
	Filter   *Filter          `yaml:"filter,omitempty"`
}

// ImapHost resolves the profile host: gmail and zoho are fixed,
// generic requires an explicit host.
func (a *Account) ImapHost() (string, error) {
	switch a.Type {
	case enum.AccountGmail:
		return "imap.gmail.com", nil
	case enum.AccountZoho:
		return "imap.zoho.com", nil
	default:
		if a.Host == "" {
			return "", mailhoard_errors.NewConfigError(
				fmt.Sprintf("account %s: generic accounts need a host", a.Name), nil)
		}
		return a.Host, nil
	}
}

func (a *Account) ImapPort() int {
	if a.Port != 0 {
		return a.Port
	}
	return 993
}

// DefaultFolder is the source folder used when none is given.
func (a *Account) DefaultFolder() string {
	if a.Folder != "" {
		return a.Folder
	}
	if a.Type == enum.AccountGmail {
		return "[Gmail]/All Mail"
	}
	return "INBOX"
}

// TreeConfig is the persisted per-working-tree configuration.
type TreeConfig struct {
	Layout   string    `yaml:"layout,omitempty"`
	Accounts []Account `yaml:"accounts"`
}

// LoadTreeConfig reads .eml/config.yaml. A missing file yields an
// empty config, not an error.
func LoadTreeConfig(paths Paths) (*TreeConfig, error) {
	data, err := os.ReadFile(paths.ConfigYAML())
	if err != nil {
		if os.IsNotExist(err) {
			return &TreeConfig{}, nil
		}
		return nil, mailhoard_errors.NewConfigError("read config.yaml", err)
	}

	var cfg TreeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, mailhoard_errors.NewConfigError("parse config.yaml", err)
	}
	return &cfg, nil
}

// SaveTreeConfig writes .eml/config.yaml atomically.
func SaveTreeConfig(paths Paths, cfg *TreeConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return mailhoard_errors.NewConfigError("marshal config.yaml", err)
	}
	tmp := paths.ConfigYAML() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return mailhoard_errors.NewConfigError("write config.yaml", err)
	}
	return os.Rename(tmp, paths.ConfigYAML())
}

// Account resolves a configured account by name.
func (c *TreeConfig) Account(name string) (*Account, error) {
	for i := range c.Accounts {
		if c.Accounts[i].Name == name {
			a := &c.Accounts[i]
			if a.User == "" || a.Password == "" {
				return nil, mailhoard_errors.NewConfigError(
					fmt.Sprintf("account %s", name), mailhoard_errors.ErrNoCredentials)
			}
			return a, nil
		}
	}
	return nil, mailhoard_errors.NewConfigError(name, mailhoard_errors.ErrUnknownAccount)
}
