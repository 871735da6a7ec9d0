package elarasign

import (
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the deployment configuration, loaded from an optional
// elarasign.yaml and ELARASIGN_* environment variables.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Forensic ForensicConfig `mapstructure:"forensic"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Verify   VerifyConfig   `mapstructure:"verify"`
}

// LogConfig selects the logger built by NewLogger.
type LogConfig struct {
	Env string `mapstructure:"env"` // development | production
}

// ForensicConfig holds the master key. The key is generated once per
// deployment; losing it orphans every sealed record.
type ForensicConfig struct {
	MasterKey string `mapstructure:"master_key"` // 64 hex characters, empty disables sealing
	Salt      string `mapstructure:"salt"`
}

// LedgerConfig picks the issuance ledger backend and where it lives.
type LedgerConfig struct {
	Backend string `mapstructure:"backend"` // sqlite | file | none
	Path    string `mapstructure:"path"`    // database file or directory
}

// VerifyConfig controls the service Verifier.
type VerifyConfig struct {
	Parallel bool `mapstructure:"parallel"`
}

// LoadConfig reads configuration. Each path is searched for elarasign.yaml;
// a missing file is not an error.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()

	v.SetDefault("log.env", "development")
	v.SetDefault("forensic.master_key", "")
	v.SetDefault("forensic.salt", "elarasign")
	v.SetDefault("ledger.backend", "none")
	v.SetDefault("ledger.path", "./data/ledger")
	v.SetDefault("verify.parallel", true)

	v.SetConfigName("elarasign")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "config: read file")
		}
	}

	v.SetEnvPrefix("ELARASIGN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

// MasterKey validates and decodes the configured key.
func (c *Config) MasterKey() (MasterKey, error) {
	return ParseMasterKey(c.Forensic.MasterKey)
}

// Service bundles the components built from a Config.
type Service struct {
	Logger   *zap.Logger
	Cipher   *ForensicCipher // nil when no master key is configured
	Ledger   *Ledger         // nil when the ledger backend is "none"
	Signer   *Signer
	Verifier *Verifier
}

// Open builds the logger, cipher, ledger, signer and verifier.
func (c *Config) Open() (*Service, error) {
	log, err := NewLogger(c.Log.Env)
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	return c.OpenWithLogger(log)
}

// OpenWithLogger is Open with a caller-supplied logger.
func (c *Config) OpenWithLogger(log *zap.Logger) (*Service, error) {
	svc := &Service{Logger: log}

	if c.Forensic.MasterKey != "" {
		cipher, err := NewForensicCipherHex(c.Forensic.MasterKey, c.Forensic.Salt)
		if err != nil {
			return nil, err
		}
		svc.Cipher = cipher
	} else {
		log.Warn("no forensic master key configured, accountability sealing disabled")
	}

	var store LedgerStore
	var err error
	switch strings.ToLower(c.Ledger.Backend) {
	case "", "none":
	case "sqlite":
		store, err = OpenSQLiteStore(c.Ledger.Path)
	case "file":
		store, err = OpenFileStore(c.Ledger.Path)
	default:
		return nil, errors.WithHint(errors.Newf("unknown ledger backend %q", c.Ledger.Backend),
			"use one of: sqlite, file, none")
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open %s ledger at %s", c.Ledger.Backend, filepath.Clean(c.Ledger.Path))
	}
	if store != nil {
		ledger, err := OpenLedger(store, log)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		svc.Ledger = ledger
	}

	svc.Signer = NewSigner(SignerConfig{Logger: log, Cipher: svc.Cipher, Ledger: svc.Ledger})
	svc.Verifier = NewVerifier(VerifierConfig{Logger: log, Parallel: c.Verify.Parallel})
	return svc, nil
}

// Close releases the ledger and flushes the logger.
func (s *Service) Close() error {
	var err error
	if s.Ledger != nil {
		err = s.Ledger.Close()
	}
	_ = s.Logger.Sync()
	return err
}
