package archive

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nam-edi/playwright-analyst/pkg/config"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

func TestLocalWriter(t *testing.T) {
	dir := t.TempDir()

	w, err := newLocalWriter(testLogger(), &config.LocalArchiveConfig{
		Enabled: true,
		Dir:     dir,
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, w.Preflight(ctx))
	require.NoError(t, w.Write(ctx, 3, 17, []byte(`{"suites":[]}`)))

	data, err := os.ReadFile(filepath.Join(dir, "3", "17.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"suites":[]}`, string(data))

	// The preflight probe does not linger.
	_, err = os.Stat(filepath.Join(dir, ".write-test"))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalWriterMissingDir(t *testing.T) {
	_, err := newLocalWriter(testLogger(), &config.LocalArchiveConfig{Enabled: true})
	assert.Error(t, err)
}

func TestNewDisabled(t *testing.T) {
	w, err := New(testLogger(), nil)
	require.NoError(t, err)
	assert.Nil(t, w)

	w, err = New(testLogger(), &config.ArchiveConfig{})
	require.NoError(t, err)
	assert.Nil(t, w)
}

func TestNewSelectsLocal(t *testing.T) {
	w, err := New(testLogger(), &config.ArchiveConfig{
		Local: &config.LocalArchiveConfig{Enabled: true, Dir: t.TempDir()},
	})
	require.NoError(t, err)
	require.NotNil(t, w)

	_, ok := w.(*localWriter)
	assert.True(t, ok)
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "3/17.json", objectKey(3, 17))
}
