package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/civil"
	"dario.cat/mergo"
	"github.com/Shopify/ejson"
	"github.com/bcaldwell/plaid2qfx/pkg/statement"
	"github.com/caarlos0/env/v6"
	"github.com/ghodss/yaml"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"k8s.io/klog"
)

const (
	ConfigEnvVar       = "PLAID2QFX_CONFIG"
	EjsonKeyEnvVar     = "PLAID2QFX_EJSON_SECRET_KEY"
	EjsonKeyDirEnvVar  = "EJSON_KEYDIR"
	defaultEjsonKeyDir = "/opt/ejson/keys"
	dotEnvFile         = ".env"
)

var ErrConfig = errors.New("invalid configuration")

var environments = map[string]bool{"sandbox": true, "development": true, "production": true}

var config Config
var secrets Secrets

func ReadConfig(configFile, secretsFile string) error {
	c, err := readConfig(ConfigEnvVar, configFile)
	if err != nil {
		return fmt.Errorf("%w: reading %s: %v", ErrConfig, configFile, err)
	}
	config = *c

	s, err := readSecrets(secretsFile)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	secrets = *s

	return nil
}

func CurrentConfig() *Config {
	return &config
}

func CurrentSecrets() *Secrets {
	return &secrets
}

func readConfig(envName, filename string) (*Config, error) {
	var raw []byte
	var err error

	rawEnv := os.Getenv(envName)
	if rawEnv != "" {
		klog.Infof("Reading config from environment variable %s\n", envName)
		raw = []byte(rawEnv)
	} else {
		raw, err = os.ReadFile(filename)
		if errors.Is(err, os.ErrNotExist) {
			klog.Infof("No config file at %s, starting with defaults\n", filename)
			raw = []byte{}
		} else if err != nil {
			return nil, err
		}
	}

	c := Config{}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, err
	}

	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.OutputDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.OutputDir = home
		}
	}
	if c.Environment == "" {
		c.Environment = "production"
	}
	if c.ClientName == "" {
		c.ClientName = "plaid2qfx"
	}
	if c.ClientUserID == "" {
		// only identifies users of multi user apps, any stable value works
		c.ClientUserID = uuid.NewString()
	}
	if len(c.CountryCodes) == 0 {
		c.CountryCodes = []string{"US"}
	}
	if c.DefaultCurrency == "" {
		c.DefaultCurrency = statement.DefaultCurrency
	}
	if c.DefaultTime == "" {
		c.DefaultTime = "12:00:00"
	}
	if c.TimeZone == "" {
		c.TimeZone = "UTC"
	}
	if c.Schedule == "" {
		c.Schedule = "@daily"
	}
	if c.StateFile == "" {
		c.StateFile = "./plaid2qfx.state.yml"
	}
	if c.SQL.Database == "" {
		c.SQL.Database = "plaid2qfx"
	}
	if c.SQL.CursorTable == "" {
		c.SQL.CursorTable = "cursors"
	}
	if c.Influx.Database == "" {
		c.Influx.Database = "plaid2qfx"
	}
	if c.Influx.Measurement == "" {
		c.Influx.Measurement = "statements"
	}
}

func (c *Config) Validate() error {
	if !environments[c.Environment] {
		return fmt.Errorf("unknown plaid environment %q", c.Environment)
	}

	if _, err := civil.ParseTime(c.DefaultTime); err != nil {
		return fmt.Errorf("invalid defaultTime %q: %w", c.DefaultTime, err)
	}

	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		return fmt.Errorf("invalid timeZone %q: %w", c.TimeZone, err)
	}

	seen := map[string]bool{}
	for _, item := range c.Items {
		if item.Name == "" {
			return errors.New("linked item without a name")
		}
		if seen[item.Name] {
			return fmt.Errorf("linked item %s is configured twice", item.Name)
		}
		seen[item.Name] = true
	}

	return nil
}

// BindOptions converts the normalization settings for the statement package.
func (c *Config) BindOptions() (statement.BindOptions, error) {
	t, err := civil.ParseTime(c.DefaultTime)
	if err != nil {
		return statement.BindOptions{}, fmt.Errorf("%w: defaultTime: %v", ErrConfig, err)
	}

	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return statement.BindOptions{}, fmt.Errorf("%w: timeZone: %v", ErrConfig, err)
	}

	return statement.BindOptions{
		FallbackCurrency: c.DefaultCurrency,
		DefaultTime:      t,
		Location:         loc,
	}, nil
}

func (c *Config) Item(name string) (*Item, bool) {
	for i := range c.Items {
		if c.Items[i].Name == name {
			return &c.Items[i], true
		}
	}
	return nil, false
}

// WriteConfig saves the config back as yaml.
func WriteConfig(filename string, c *Config) error {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(filename, raw, 0o600)
}

func readSecrets(filename string) (*Secrets, error) {
	ejsonSecrets, ejsonErr := readEjsonSecrets(filename)

	envSecrets, envErr := readEnvSecrets()

	var s *Secrets
	if ejsonErr == nil && envErr == nil {
		// values set in the environment win over the ejson file
		if err := mergo.Merge(envSecrets, *ejsonSecrets); err != nil {
			return nil, fmt.Errorf("failed to merge secrets: %w", err)
		}
		s = envSecrets
	} else if ejsonErr != nil && envErr == nil {
		klog.Warningf("Failed to parse ejson secrets, using environment only: %v\n", ejsonErr)
		s = envSecrets
	} else if ejsonErr == nil && envErr != nil {
		klog.Warningf("Failed to parse env secrets, using ejson only: %v\n", envErr)
		s = ejsonSecrets
	} else {
		return nil, fmt.Errorf("failed to parse secrets. Ejson error: %v. Env error: %v", ejsonErr, envErr)
	}

	if s.AccessTokens == nil {
		s.AccessTokens = map[string]string{}
	}

	return s, nil
}

func readEjsonSecrets(filename string) (*Secrets, error) {
	ejsonSecrets := Secrets{}
	ejsonKey := []byte{}
	var err error

	if ejsonKeyFile := os.Getenv(EjsonKeyEnvVar); ejsonKeyFile != "" {
		ejsonKey, err = os.ReadFile(ejsonKeyFile)
		if err != nil {
			return nil, err
		}
	}

	keyDir := os.Getenv(EjsonKeyDirEnvVar)
	if keyDir == "" {
		keyDir = defaultEjsonKeyDir
	}

	raw, err := ejson.DecryptFile(filename, keyDir, string(ejsonKey))
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(raw, &ejsonSecrets)
	return &ejsonSecrets, err
}

func readEnvSecrets() (*Secrets, error) {
	if _, err := os.Stat(dotEnvFile); err == nil {
		if err := godotenv.Load(dotEnvFile); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", dotEnvFile, err)
		}
	}

	envSecrets := Secrets{}
	err := env.Parse(&envSecrets)
	return &envSecrets, err
}

// StoreAccessToken adds an access token to the ejson secrets file and
// encrypts it in place. The file must already carry an ejson public key.
func StoreAccessToken(filename, name, token string) error {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	doc := map[string]interface{}{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filename, err)
	}

	tokens, _ := doc["accessTokens"].(map[string]interface{})
	if tokens == nil {
		tokens = map[string]interface{}{}
	}
	tokens[name] = token
	doc["accessTokens"] = tokens

	raw, err = json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filename, raw, 0o600); err != nil {
		return err
	}

	if _, err := ejson.EncryptFileInPlace(filename); err != nil {
		return fmt.Errorf("failed to encrypt %s: %w", filename, err)
	}

	if secrets.AccessTokens == nil {
		secrets.AccessTokens = map[string]string{}
	}
	secrets.AccessTokens[name] = token
	return nil
}
