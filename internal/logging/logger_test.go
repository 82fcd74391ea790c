package logging

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("WARN"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("chatty"))
}

func TestInitialize_SilentByDefault(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "")
	require.NoError(t, InitializeFromEnv())
	assert.False(t, GetLogger().Core().Enabled(zapcore.ErrorLevel))
}

func TestInitialize_FromEnv(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "debug")
	t.Setenv(LogFormatEnvVar, "json")
	require.NoError(t, InitializeFromEnv())
	assert.True(t, GetLogger().Core().Enabled(zapcore.DebugLevel))
	SetLogger(nil)
}

func TestLogToolInvocation(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	LogToolInvocation("objdump", time.Second, nil)
	LogToolInvocation("objdump", time.Second, errors.New("exit status 1"))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "objdump", entries[1].ContextMap()["tool"])
}

func TestLogRawBytes(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	LogRawBytes("search request", []byte{0x01, 'A', 0xff})

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "0141ff", fields["hex"])
	assert.Equal(t, ".A.", fields["ascii"])
}

func TestDumpsTruncate(t *testing.T) {
	data := make([]byte, 300)
	assert.True(t, strings.HasSuffix(hexDump(data), "..."))
	assert.Len(t, asciiDump(data), 256)
	assert.Equal(t, "", hexDump(nil))
	assert.Equal(t, "abc", truncate("abc", 5))
}
