package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("trace")
	require.NoError(t, err)
	assert.Equal(t, LevelTrace, lvl)

	lvl, err = ParseLevel("Warning")
	require.NoError(t, err)
	assert.Equal(t, LevelWarn, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestModuleFilter(t *testing.T) {
	var buf bytes.Buffer
	prev := Root()
	defer SetDefault(prev)
	SetDefault(NewLogger(NewTerminalHandlerWithLevel(&buf, LevelTrace, false)))

	DisableModule(AllocMonitoring)
	Debug(AllocMonitoring, "hidden")
	assert.Empty(t, buf.String())

	EnableModules("all")
	defer DisableModule(AllocMonitoring)
	Debug(AllocMonitoring, "picked", "reg", "ymm10")
	out := buf.String()
	assert.Contains(t, out, "picked")
	assert.Contains(t, out, "module=alloc_mod")
	assert.Contains(t, out, "reg=ymm10")
	assert.Contains(t, out, "DEBUG")

	buf.Reset()
	Warn("", "always shown")
	assert.True(t, strings.Contains(buf.String(), "WARN"))
}

func TestRewriteRecordOrder(t *testing.T) {
	var buf bytes.Buffer
	w := NewRecordWriter(&buf)
	require.NoError(t, w.Emit(RewriteRecord{
		Time:     time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Addr:     0x401000,
		Opcode:   "vpaddd",
		Case:     "1",
		ChainLen: 4,
	}))
	line := strings.TrimSpace(buf.String())
	assert.Equal(t, `{"time":"2024-01-02T03:04:05Z","addr":"0x401000","opcode":"vpaddd","case":"1","chain_len":4}`, line)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &m))
	assert.NotContains(t, m, "error")
}

func TestLevelNames(t *testing.T) {
	assert.Equal(t, "INFO ", LevelAlignedString(LevelInfo))
	assert.Equal(t, "TRACE", LevelAlignedString(LevelTrace))
	assert.Equal(t, "crit", LevelString(LevelCrit))
	assert.Equal(t, "unknown level", LevelAlignedString(LevelInfo+1))

	lvl, err := ParseLevel(" CRITICAL ")
	require.NoError(t, err)
	assert.Equal(t, LevelCrit, lvl)
}

func TestCritDoesNotExit(t *testing.T) {
	var buf bytes.Buffer
	prev := Root()
	defer SetDefault(prev)
	SetDefault(NewLogger(NewTerminalHandlerWithLevel(&buf, LevelInfo, false)))

	Crit(RewriteMonitoring, "allocation failed", "err", "R3")
	New("block", "0x401000").Info(RewriteMonitoring, "still running")
	out := buf.String()
	assert.Contains(t, out, `level="CRIT "`)
	assert.Contains(t, out, "block=0x401000")
	assert.Contains(t, out, "still running")
}
