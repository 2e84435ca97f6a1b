package scanner

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhaiiker/mcscan/internal/config"
	"github.com/zhaiiker/mcscan/internal/enrich"
	"github.com/zhaiiker/mcscan/internal/slp"
	"github.com/zhaiiker/mcscan/internal/statedir"
)

func listenerPort(t *testing.T, ln net.Listener) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}

func fakeServer(t *testing.T, payload []byte) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				var buf []byte
				buf = slp.PutVarInt(buf, 0x00)
				buf = slp.PutVarInt(buf, int32(len(payload)))
				buf = append(buf, payload...)
				framed := slp.PutVarInt(nil, int32(len(buf)))
				framed = append(framed, buf...)
				conn.Write(framed)
			}()
		}
	}()
	return ln
}

func testStateDir(t *testing.T) statedir.Dir {
	t.Helper()
	root := t.TempDir()
	t.Setenv(statedir.EnvOverride, root)
	d, err := statedir.Ensure()
	require.NoError(t, err)
	return d
}

func TestScannerRunDiscoversServerAndPersistsSession(t *testing.T) {
	payload := []byte(`{"version":{"name":"1.20.1","protocol":763},"players":{"online":4,"max":20},"description":"Hello"}`)
	ln := fakeServer(t, payload)
	defer ln.Close()

	state := testStateDir(t)

	one := int64(1)
	cfg := config.DefaultConfig()
	cfg.Port = listenerPort(t, ln)
	cfg.ScanMode = "targeted"
	cfg.IPRanges = []string{"127.0.0.1/32"}
	cfg.MaxScans = &one
	cfg.ExportFormats = []string{"txt", "json", "csv"}
	cfg.OutputFile = "discovered-servers.txt"
	cfg.SaveIntervalMS = 0
	cfg.StatsIntervalMS = 0
	cfg.GCIntervalMS = 0

	s, err := New(cfg, state)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err = s.Run(ctx)
	require.NoError(t, err)

	data, err := os.ReadFile(state.SessionStatsPath())
	require.NoError(t, err)

	var doc sessionStatsDoc
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Equal(t, int64(1), doc.TotalFound)
	require.NotNil(t, doc.BestServer)

	_, err = os.Stat(state.ConfigPath())
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(state.Exports, "discovered-servers.json"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(state.Exports, "discovered-servers.csv"))
	require.NoError(t, err)
}

func TestScannerSaveProgressWritesKVPairs(t *testing.T) {
	state := testStateDir(t)

	cfg := config.DefaultConfig()
	cfg.ScanMode = "targeted"
	cfg.IPRanges = []string{"10.0.0.0/30"}
	cfg.OutputFile = "discovered-servers.txt"

	s, err := New(cfg, state)
	require.NoError(t, err)
	defer s.Close()

	s.aggregator.RecordScan()
	s.aggregator.RecordServer(enrich.Server{Version: "1.20.4", Country: "Germany", MOTD: "Hello"})

	require.NoError(t, s.SaveProgress())

	data, err := os.ReadFile(state.SessionStatsPath())
	require.NoError(t, err)
	require.Contains(t, string(data), `"key"`)
	require.Contains(t, string(data), `"value"`)
}

func TestResolveCatalogPathsHonorsExportFormats(t *testing.T) {
	state := testStateDir(t)

	cfg := config.DefaultConfig()
	cfg.OutputFile = "servers.txt"
	cfg.ExportFormats = []string{"txt"}

	paths := resolveCatalogPaths(cfg, state)
	require.Equal(t, filepath.Join(state.Exports, "servers.txt"), paths.text)
	require.Empty(t, paths.json)
	require.Empty(t, paths.csv)

	cfg.ExportFormats = []string{"txt", "json", "csv"}
	paths = resolveCatalogPaths(cfg, state)
	require.Equal(t, filepath.Join(state.Exports, "servers.json"), paths.json)
	require.Equal(t, filepath.Join(state.Exports, "servers.csv"), paths.csv)

	cfg.ExportFormats = []string{"txt", "json-monolithic"}
	paths = resolveCatalogPaths(cfg, state)
	require.Equal(t, filepath.Join(state.Exports, "servers.json"), paths.json)
}

func TestScannerWritesShutdownSummary(t *testing.T) {
	payload := []byte(`{"version":{"name":"1.20.1","protocol":763},"players":{"online":4,"max":20},"description":"Hello"}`)
	ln := fakeServer(t, payload)
	defer ln.Close()

	state := testStateDir(t)

	one := int64(1)
	cfg := config.DefaultConfig()
	cfg.Port = listenerPort(t, ln)
	cfg.ScanMode = "targeted"
	cfg.IPRanges = []string{"127.0.0.1/32"}
	cfg.MaxScans = &one
	cfg.OutputFile = "discovered-servers.txt"
	cfg.SaveIntervalMS = 0
	cfg.StatsIntervalMS = 0
	cfg.GCIntervalMS = 0

	s, err := New(cfg, state)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	entries, err := os.ReadDir(state.Exports)
	require.NoError(t, err)

	var summaryJSON, summaryCSV string
	for _, e := range entries {
		switch {
		case strings.HasPrefix(e.Name(), "summary-") && strings.HasSuffix(e.Name(), ".json"):
			summaryJSON = filepath.Join(state.Exports, e.Name())
		case strings.HasPrefix(e.Name(), "summary-") && strings.HasSuffix(e.Name(), ".csv"):
			summaryCSV = filepath.Join(state.Exports, e.Name())
		}
	}
	require.NotEmpty(t, summaryJSON, "expected a timestamped summary json file")
	require.NotEmpty(t, summaryCSV, "expected a timestamped summary csv file")

	data, err := os.ReadFile(summaryJSON)
	require.NoError(t, err)

	var doc shutdownSummaryDoc
	require.NoError(t, json.Unmarshal(data, &doc))
	require.NotNil(t, doc.BestServer)
	require.Equal(t, int64(1), doc.TotalFound)
	require.NotEmpty(t, doc.TopVersions)
	require.Equal(t, "1.20.1", doc.TopVersions[0].Key)

	csvData, err := os.ReadFile(summaryCSV)
	require.NoError(t, err)
	require.Contains(t, string(csvData), "1.20.1")
}

func TestTopNKVsRanksByValueThenKey(t *testing.T) {
	m := map[string]int64{"a": 3, "b": 5, "c": 5, "d": 1}
	top := topNKVs(m, 2)
	require.Equal(t, []kv{{Key: "b", Value: 5}, {Key: "c", Value: 5}}, top)

	require.Len(t, topNKVs(m, 10), 4)
}

func TestScannerUsesMonolithicJSONWhenConfigured(t *testing.T) {
	payload := []byte(`{"version":{"name":"1.20.1","protocol":763},"players":{"online":4,"max":20},"description":"Hello"}`)
	ln := fakeServer(t, payload)
	defer ln.Close()

	state := testStateDir(t)

	one := int64(1)
	cfg := config.DefaultConfig()
	cfg.Port = listenerPort(t, ln)
	cfg.ScanMode = "targeted"
	cfg.IPRanges = []string{"127.0.0.1/32"}
	cfg.MaxScans = &one
	cfg.ExportFormats = []string{"txt", "json-monolithic"}
	cfg.OutputFile = "discovered-servers.txt"
	cfg.SaveIntervalMS = 0
	cfg.StatsIntervalMS = 0
	cfg.GCIntervalMS = 0

	s, err := New(cfg, state)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	data, err := os.ReadFile(filepath.Join(state.Exports, "discovered-servers.json"))
	require.NoError(t, err)

	var doc struct {
		Servers     []json.RawMessage `json:"servers"`
		LastUpdated time.Time         `json:"lastUpdated"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc.Servers, 1)
}
