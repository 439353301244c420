// Package telemetry is C8: the append-only balance-snapshot CSV, the
// kill-switch file poller, and Prometheus gauges, grounded on
// binance_bmt_trade.py's record_information.
package telemetry

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Snapshot is one row of the balance-history table (spec §6 "Telemetry
// output"): timestamp, ISO time, btc_balance, usdt_balance[, leverage].
type Snapshot struct {
	Timestamp   time.Time
	BTCBalance  float64
	USDTBalance float64
	Leverage    int // 0 when not applicable (spot strategies)
}

// Recorder appends Snapshot rows to data/<exchange>/<strategy>/bot_data_history.csv,
// one writer per strategy, matching "different CSV paths per strategy / single
// writer per strategy" (spec §5 shared-resource policy).
type Recorder struct {
	path string
}

func NewRecorder(exchangeName, strategyName string) *Recorder {
	dir := filepath.Join("data", exchangeName, strategyName)
	return &Recorder{path: filepath.Join(dir, "bot_data_history.csv")}
}

// Record appends snap to the strategy's CSV, creating the header row and
// parent directories on first use.
func (r *Recorder) Record(ctx context.Context, snap Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("telemetry: create data dir: %w", err)
	}
	_, statErr := os.Stat(r.path)
	needsHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("telemetry: open %s: %w", r.path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if needsHeader {
		if err := w.Write([]string{"timestamp", "time", "btc_balance", "usdt_balance", "leverage"}); err != nil {
			return err
		}
	}
	row := []string{
		strconv.FormatInt(snap.Timestamp.Unix(), 10),
		snap.Timestamp.UTC().Format(time.RFC3339),
		strconv.FormatFloat(snap.BTCBalance, 'f', 3, 64),
		strconv.FormatFloat(snap.USDTBalance, 'f', 2, 64),
		strconv.Itoa(snap.Leverage),
	}
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// BuildSnapshot implements record_information's balance arithmetic: values
// the book in both BTC and USDT by summing free+used of every held asset
// (including in-flight positions the caller passes as extraUSDT/extraBTC)
// converted through the live BTC/USDT price.
func BuildSnapshot(now time.Time, btcPrice, freeBTC, freeUSDT, extraBTC, extraUSDT float64, leverage int) Snapshot {
	totalBTC := freeBTC + extraBTC
	totalUSDT := freeUSDT + extraUSDT
	usdtBalance := totalBTC*btcPrice + totalUSDT
	btcBalance := 0.0
	if btcPrice > 0 {
		btcBalance = round3(usdtBalance / btcPrice)
	}
	return Snapshot{Timestamp: now, BTCBalance: btcBalance, USDTBalance: usdtBalance, Leverage: leverage}
}

func round3(x float64) float64 {
	return float64(int64(x*1000+0.5)) / 1000
}
