package stats

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhaiiker/mcscan/internal/addrgen"
	"github.com/zhaiiker/mcscan/internal/enrich"
)

func server(quality int, online int, version, country, motd string) enrich.Server {
	return enrich.Server{
		Address:       addrgen.Address{1, 2, 3, 4},
		Version:       version,
		Country:       country,
		MOTD:          motd,
		PlayersOnline: online,
		QualityScore:  quality,
	}
}

func TestRecordResponseTimeEMA(t *testing.T) {
	a := New()
	a.RecordResponseTime(100)
	require.Equal(t, 100.0, a.Snapshot().AvgResponseTimeMS)

	a.RecordResponseTime(200)
	require.InDelta(t, 0.9*100+0.1*200, a.Snapshot().AvgResponseTimeMS, 0.001)
}

func TestRecordServerUpdatesTopKAndBest(t *testing.T) {
	a := New()
	a.RecordServer(server(50, 5, "1.20.4", "Germany", "hi"))
	a.RecordServer(server(80, 60, "1.19.2", "France", "hello"))

	snap := a.Snapshot()
	require.EqualValues(t, 2, snap.TotalFound)
	require.EqualValues(t, 1, snap.ServersByVersion["1.20.4"])
	require.EqualValues(t, 1, snap.ServersByCountry["France"])
	require.Equal(t, 80, snap.BestServer.QualityScore)
	require.Equal(t, "France", snap.LastFoundServer.Country)
}

func TestPlayerCountBuckets(t *testing.T) {
	a := New()
	a.RecordServer(server(0, 0, "v", "c", "m"))
	a.RecordServer(server(0, 3, "v", "c", "m"))
	a.RecordServer(server(0, 15, "v", "c", "m"))
	a.RecordServer(server(0, 30, "v", "c", "m"))
	a.RecordServer(server(0, 75, "v", "c", "m"))
	a.RecordServer(server(0, 500, "v", "c", "m"))

	snap := a.Snapshot()
	require.EqualValues(t, 1, snap.ServersByPlayerCnt["0"])
	require.EqualValues(t, 1, snap.ServersByPlayerCnt["1-5"])
	require.EqualValues(t, 1, snap.ServersByPlayerCnt["6-20"])
	require.EqualValues(t, 1, snap.ServersByPlayerCnt["21-50"])
	require.EqualValues(t, 1, snap.ServersByPlayerCnt["51-100"])
	require.EqualValues(t, 1, snap.ServersByPlayerCnt["100+"])
}

func TestPopularMOTDsCapsPerEntryCount(t *testing.T) {
	a := New()
	for i := 0; i < 20; i++ {
		a.RecordServer(server(0, 0, "v", "c", "Same MOTD"))
	}
	snap := a.Snapshot()
	require.EqualValues(t, popularMOTDEntryCap, snap.PopularMOTDs["Same MOTD"])
}

func TestPopularMOTDsCapsDistinctEntries(t *testing.T) {
	a := New()
	for i := 0; i < popularMOTDCap+10; i++ {
		a.RecordServer(server(0, 0, "v", "c", motdFor(i)))
	}
	snap := a.Snapshot()
	require.LessOrEqual(t, len(snap.PopularMOTDs), popularMOTDCap)
}

func motdFor(i int) string {
	return "motd-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
}

func TestResetPreservesTotalFoundAndTopK(t *testing.T) {
	a := New()
	a.RecordServer(server(10, 1, "1.20.4", "Germany", "m"))
	a.RecordScan()
	a.RecordError()

	a.Reset()
	snap := a.Snapshot()

	require.EqualValues(t, 1, snap.TotalFound)
	require.EqualValues(t, 1, snap.ServersByVersion["1.20.4"])
	require.EqualValues(t, 1, snap.ServersByCountry["Germany"])
	require.EqualValues(t, 0, snap.TotalScanned)
	require.EqualValues(t, 0, snap.Errors)
}

func TestActiveConnectionsGauge(t *testing.T) {
	a := New()
	a.AdjustActiveConnections(5)
	a.AdjustActiveConnections(-2)
	require.EqualValues(t, 3, a.Snapshot().ActiveConnections)
}
