// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/siderolabs/go-dvr-recover/config"
)

type memSettings map[string]string

func (m memSettings) Settings() (map[string]string, error) {
	return m, nil
}

func (m memSettings) SetSetting(key, value string) error {
	m[key] = value

	return nil
}

func (m memSettings) DeleteSetting(key string) error {
	delete(m, key)

	return nil
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(memSettings{})
	require.NoError(t, err)

	assert.Equal(t, config.Defaults(), cfg)
	assert.Equal(t, 2048, cfg.BlockSize)
	assert.EqualValues(t, 25600, cfg.MinChunkSize)
	assert.EqualValues(t, 90000, cfg.MaxCreateGap)
	assert.EqualValues(t, 90000, cfg.MaxSortGap)
	assert.Equal(t, 30*time.Second, cfg.CheckpointInterval)
	assert.Empty(t, cfg.Inputs)
	assert.Empty(t, cfg.ExportDir)
}

func TestSetAndLoad(t *testing.T) {
	t.Parallel()

	settings := memSettings{}

	require.NoError(t, config.Set(settings, config.KeyBlockSize, "4096"))
	require.NoError(t, config.Set(settings, config.KeyMinChunkSize, "10"))
	require.NoError(t, config.Set(settings, config.KeyMaxCreateGap, "180000"))
	require.NoError(t, config.Set(settings, config.KeyMaxSortGap, "45000"))
	require.NoError(t, config.Set(settings, config.KeyExportDir, "/srv/export"))
	require.NoError(t, config.Set(settings, config.KeyCheckpointInterval, "1m"))
	require.NoError(t, config.SetInputs(settings, []string{"/dev/sdb", "disk.img"}))

	// settings written by other versions are ignored
	settings["legacy"] = "1"

	cfg, err := config.Load(settings)
	require.NoError(t, err)

	assert.Equal(t, config.Config{
		Inputs:             []string{"/dev/sdb", "disk.img"},
		ExportDir:          "/srv/export",
		BlockSize:          4096,
		MinChunkSize:       10,
		MaxCreateGap:       180000,
		MaxSortGap:         45000,
		CheckpointInterval: time.Minute,
	}, cfg)

	value, err := cfg.Value(config.KeyCheckpointInterval)
	require.NoError(t, err)
	assert.Equal(t, "1m0s", value)

	require.NoError(t, config.Unset(settings, config.KeyBlockSize))

	cfg, err = config.Load(settings)
	require.NoError(t, err)
	assert.Equal(t, 2048, cfg.BlockSize)

	require.NoError(t, config.Reset(settings))
	assert.Equal(t, memSettings{"legacy": "1"}, settings)
}

func TestSetInvalid(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		key   string
		value string

		expectedErr error
	}{
		{key: "unknown", value: "1", expectedErr: config.ErrUnknownKey},
		{key: config.KeyBlockSize, value: "abc", expectedErr: config.ErrInvalidValue},
		{key: config.KeyBlockSize, value: "8", expectedErr: config.ErrInvalidValue},
		{key: config.KeyMinChunkSize, value: "-1", expectedErr: config.ErrInvalidValue},
		{key: config.KeyMaxCreateGap, value: "-5", expectedErr: config.ErrInvalidValue},
		{key: config.KeyMaxSortGap, value: "1.5", expectedErr: config.ErrInvalidValue},
		{key: config.KeyCheckpointInterval, value: "0s", expectedErr: config.ErrInvalidValue},
		{key: config.KeyCheckpointInterval, value: "soon", expectedErr: config.ErrInvalidValue},
	} {
		t.Run(test.key+"="+test.value, func(t *testing.T) {
			t.Parallel()

			settings := memSettings{}

			require.ErrorIs(t, config.Set(settings, test.key, test.value), test.expectedErr)
			assert.Empty(t, settings)
		})
	}
}

func TestLoadInvalidStored(t *testing.T) {
	t.Parallel()

	_, err := config.Load(memSettings{config.KeyBlockSize: "many"})
	require.ErrorIs(t, err, config.ErrInvalidValue)
}

func TestInputs(t *testing.T) {
	t.Parallel()

	settings := memSettings{}

	require.ErrorIs(t, config.SetInputs(settings, []string{""}), config.ErrInvalidValue)
	require.ErrorIs(t, config.SetInputs(settings, []string{"a\x00b"}), config.ErrInvalidValue)

	require.NoError(t, config.SetInputs(settings, []string{"a"}))
	assert.Contains(t, settings, config.KeyInputs)

	require.NoError(t, config.SetInputs(settings, nil))
	assert.NotContains(t, settings, config.KeyInputs)
}

func TestValidateScan(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	image := filepath.Join(dir, "disk.img")

	require.NoError(t, os.WriteFile(image, make([]byte, 4096), 0o644))

	cfg := config.Defaults()
	require.ErrorIs(t, cfg.ValidateScan(), config.ErrNoInputs)

	cfg.Inputs = []string{image}
	require.NoError(t, cfg.ValidateScan())

	cfg.Inputs = []string{image, filepath.Join(dir, "missing.img")}
	require.ErrorIs(t, cfg.ValidateScan(), config.ErrInvalidValue)
}

func TestValidateExport(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "file")

	require.NoError(t, os.WriteFile(file, nil, 0o644))

	for _, test := range []struct {
		name      string
		exportDir string

		ok bool
	}{
		{name: "unset"},
		{name: "missing", exportDir: filepath.Join(dir, "missing")},
		{name: "file", exportDir: file},
		{name: "directory", exportDir: dir, ok: true},
	} {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.Defaults()
			cfg.ExportDir = test.exportDir

			if test.ok {
				require.NoError(t, cfg.ValidateExport())
			} else {
				require.ErrorIs(t, cfg.ValidateExport(), config.ErrExportDir)
			}
		})
	}
}

func TestKeys(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults()

	for _, key := range config.Keys() {
		_, err := cfg.Value(key)
		require.NoError(t, err)
	}

	_, err := cfg.Value("nope")
	require.ErrorIs(t, err, config.ErrUnknownKey)
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
