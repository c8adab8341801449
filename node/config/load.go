package config

import (
	"bytes"
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"github.com/mitchellh/go-homedir"
	"golang.org/x/xerrors"
)

const EnvPrefix = "AACHAN"

// FromFile loads config from a specified file over the defaults. A missing
// file leaves the defaults. Environment variables are applied last.
func FromFile(path string) (*Config, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, xerrors.Errorf("expanding config path: %w", err)
	}

	file, err := os.Open(path)
	switch {
	case os.IsNotExist(err):
		return FromReader(bytes.NewReader(nil))
	case err != nil:
		return nil, err
	}

	defer file.Close() //nolint:errcheck // The file is RO
	return FromReader(file)
}

// FromReader loads config from a reader instance.
func FromReader(reader io.Reader) (*Config, error) {
	cfg := Default()
	md, err := toml.NewDecoder(reader).Decode(cfg)
	if err != nil {
		return nil, xerrors.Errorf("decoding config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, xerrors.Errorf("unknown config keys: %v", undecoded)
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, xerrors.Errorf("processing env vars: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings that cannot work together.
func (c *Config) Validate() error {
	if c.HighAvailability.Enabled && c.Datastore.Backend != "postgres" {
		return xerrors.Errorf("high availability needs a datastore shared by all daemons, backend %q is local", c.Datastore.Backend)
	}
	if c.Datastore.Backend == "postgres" && c.Datastore.URL == "" {
		return xerrors.New("postgres datastore needs a URL")
	}
	return nil
}

// ConfigComment renders t as TOML with every value commented out, for
// writing a starting config file.
func ConfigComment(t interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	_, _ = buf.WriteString("# Default config:\n")
	e := toml.NewEncoder(buf)
	if err := e.Encode(t); err != nil {
		return nil, xerrors.Errorf("encoding config: %w", err)
	}
	b := buf.Bytes()
	b = bytes.ReplaceAll(b, []byte("\n"), []byte("\n#"))
	b = bytes.ReplaceAll(b, []byte("#["), []byte("["))
	return b, nil
}
