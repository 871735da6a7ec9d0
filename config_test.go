package elarasign

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Log.Env)
	assert.Equal(t, "elarasign", cfg.Forensic.Salt)
	assert.Equal(t, "none", cfg.Ledger.Backend)
	assert.True(t, cfg.Verify.Parallel)

	_, err = cfg.MasterKey()
	assert.True(t, errors.Is(err, ErrInvalidMasterKey))
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := "log:\n  env: production\nledger:\n  backend: file\n  path: " + filepath.Join(dir, "ledger") +
		"\nverify:\n  parallel: false\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "elarasign.yaml"), []byte(yaml), 0600))

	t.Setenv("ELARASIGN_FORENSIC_MASTER_KEY", testKeyHex)
	t.Setenv("ELARASIGN_FORENSIC_SALT", "env-salt")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Log.Env)
	assert.Equal(t, "file", cfg.Ledger.Backend)
	assert.False(t, cfg.Verify.Parallel)
	assert.Equal(t, "env-salt", cfg.Forensic.Salt)

	k, err := cfg.MasterKey()
	require.NoError(t, err)
	assert.Equal(t, byte(0x1f), k[31])
}

func TestServiceSignAndVerify(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ELARASIGN_FORENSIC_MASTER_KEY", testKeyHex)
	t.Setenv("ELARASIGN_LEDGER_BACKEND", "sqlite")
	t.Setenv("ELARASIGN_LEDGER_PATH", filepath.Join(dir, "ledger.db"))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	svc, err := cfg.OpenWithLogger(zap.NewNop())
	require.NoError(t, err)
	defer svc.Close()

	require.NotNil(t, svc.Cipher)
	require.NotNil(t, svc.Ledger)

	buf := randomBuffer(t, 200, 200, 5)
	acct := NewAccountabilityRecord(time.Now(), "user", "192.0.2.1", "cli")
	_, res, err := svc.Signer.Sign(buf, testMetadata("m"), []byte("c"), &acct)
	require.NoError(t, err)

	vr := svc.Verifier.Verify(buf, &res.Metadata)
	require.True(t, vr.IsValid)
	fr := svc.Cipher.Decrypt(res.Forensic, SignatureHint(*vr.Best))
	require.True(t, fr.Valid)
	assert.Equal(t, "cli", fr.Platform)

	entries, err := svc.Ledger.Lookup(res.ContentHash)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestOpenErrors(t *testing.T) {
	cfg := &Config{Forensic: ForensicConfig{MasterKey: "nope"}}
	_, err := cfg.OpenWithLogger(zap.NewNop())
	assert.True(t, errors.Is(err, ErrInvalidMasterKey))

	cfg = &Config{Ledger: LedgerConfig{Backend: "postgres"}}
	_, err = cfg.OpenWithLogger(zap.NewNop())
	require.Error(t, err)
	assert.NotEmpty(t, errors.GetAllHints(err))

	cfg = &Config{Ledger: LedgerConfig{Backend: "none"}}
	svc, err := cfg.OpenWithLogger(zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, svc.Ledger)
	assert.Nil(t, svc.Cipher)
	require.NoError(t, svc.Close())
}

func TestNewLogger(t *testing.T) {
	for _, env := range []string{"production", "development", ""} {
		log, err := NewLogger(env)
		require.NoError(t, err)
		assert.NotNil(t, log)
	}
}
