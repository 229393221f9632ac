package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weeklycal/internal/config"
	appLog "weeklycal/internal/log"
)

const daily = `{
	"meta": {"title": "Daily"},
	"zones": {"UTC": {"r": [{"o": 0}]}},
	"events": [{"name": "Standup", "start": 600, "tz": "UTC",
		"sunday": {}, "monday": {}, "tuesday": {}, "wednesday": {},
		"thursday": {}, "friday": {}, "saturday": {}}]
}`

func TestMain(m *testing.M) {
	appLog.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func writeInput(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calendar.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRunOnceJSON(t *testing.T) {
	conf := config.DefaultConfig()
	conf.Timezone = "UTC"

	var out bytes.Buffer
	err := runOnce(context.Background(), conf, flagConfig{input: writeInput(t, daily)}, &out)
	require.NoError(t, err)

	var slots []struct {
		Time int `json:"time"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &slots))
	require.Len(t, slots, 1)
	assert.Equal(t, 600, slots[0].Time)
}

func TestRunOnceICS(t *testing.T) {
	conf := config.DefaultConfig()
	conf.Timezone = "UTC"

	var out bytes.Buffer
	err := runOnce(context.Background(), conf, flagConfig{input: writeInput(t, daily), format: "ics"}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "X-WR-CALNAME:Daily")
	assert.Equal(t, 7, strings.Count(out.String(), "SUMMARY:Standup"))
}

func TestRunOnceErrors(t *testing.T) {
	conf := config.DefaultConfig()
	conf.Timezone = "UTC"
	ctx := context.Background()

	var out bytes.Buffer
	assert.Error(t, runOnce(ctx, conf, flagConfig{input: writeInput(t, daily), format: "xml"}, &out))
	assert.Error(t, runOnce(ctx, conf, flagConfig{input: writeInput(t, `{"meta": {}}`)}, &out))
	assert.Error(t, runOnce(ctx, conf, flagConfig{input: filepath.Join(t.TempDir(), "missing.json")}, &out))

	conf.Source.Path = ""
	conf.Source.URL = ""
	assert.Error(t, runOnce(ctx, conf, flagConfig{}, &out))

	assert.Empty(t, out.String())
}

func TestRunOnceUnknownDisplayZone(t *testing.T) {
	conf := config.DefaultConfig()
	conf.Timezone = "Mars/Base"

	var out bytes.Buffer
	require.NoError(t, runOnce(context.Background(), conf, flagConfig{input: writeInput(t, daily)}, &out))
	assert.Equal(t, "[]", out.String())

	out.Reset()
	require.NoError(t, runOnce(context.Background(), conf, flagConfig{input: writeInput(t, daily), format: "ics"}, &out))
	assert.Contains(t, out.String(), "BEGIN:VCALENDAR")
	assert.NotContains(t, out.String(), "BEGIN:VEVENT")
}

func TestApplyFlags(t *testing.T) {
	conf := config.DefaultConfig()
	applyFlags(conf, flagConfig{listen: ":9000", tz: "Asia/Tokyo", lang: "ja", logLevel: "debug"})
	assert.Equal(t, ":9000", conf.Listen)
	assert.Equal(t, "Asia/Tokyo", conf.Timezone)
	assert.Equal(t, "ja", conf.Language)
	assert.Equal(t, "debug", conf.LogLevel)

	applyFlags(conf, flagConfig{})
	assert.Equal(t, ":9000", conf.Listen)
}

func TestLocalURL(t *testing.T) {
	cases := map[string]string{
		"127.0.0.1:8080": "http://127.0.0.1:8080",
		":8080":          "http://127.0.0.1:8080",
		"0.0.0.0:80":     "http://127.0.0.1:80",
		"[::]:8080":      "http://127.0.0.1:8080",
		"display.lan:81": "http://display.lan:81",
	}
	for listen, want := range cases {
		conf := &config.Config{Listen: listen}
		assert.Equal(t, want, localURL(conf), listen)
	}
}
