package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models protocolo.yml. Allow-lists are injected here instead of
// living in process-wide mutable state so tests can build their own.
type Config struct {
	Organizacao struct {
		Dominio string `yaml:"dominio"`
	} `yaml:"organizacao"`
	Acesso struct {
		Admins        []string `yaml:"admins"`
		Colaboradores []string `yaml:"colaboradores"`
		Clientes      []string `yaml:"clientes"`
	} `yaml:"acesso"`
	Numeracao struct {
		Prefixo string `yaml:"prefixo"`
	} `yaml:"numeracao"`
	Secretarias []string `yaml:"secretarias"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it or run with defaults", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Organizacao.Dominio == "" {
		return fmt.Errorf("config.organizacao.dominio is required")
	}
	if strings.HasPrefix(c.Organizacao.Dominio, "@") {
		return fmt.Errorf("config.organizacao.dominio must not start with '@'")
	}
	if c.Numeracao.Prefixo == "" {
		return fmt.Errorf("config.numeracao.prefixo is required")
	}
	for _, list := range [][]string{c.Acesso.Admins, c.Acesso.Colaboradores, c.Acesso.Clientes} {
		for _, email := range list {
			if !strings.Contains(email, "@") {
				return fmt.Errorf("allow-list entry %q is not an email", email)
			}
		}
	}
	for _, s := range c.Secretarias {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("config.secretarias contains an empty name")
		}
	}
	return nil
}

// SecretariaConhecida reports whether name is in the department catalog.
// An empty catalog accepts any name.
func (c *Config) SecretariaConhecida(name string) bool {
	if len(c.Secretarias) == 0 {
		return true
	}
	for _, s := range c.Secretarias {
		if s == name {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "protocolo.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `organizacao:
  dominio: example.com.br

acesso:
  admins: []
  colaboradores: []
  clientes: []

numeracao:
  prefixo: SIS

secretarias:
  - Atendimento
  - Financeiro
  - Jurídico
  - Regulação
`
