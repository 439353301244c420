package config

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// CoinData is ADT's stable/option universe filter, reloaded once per day
// from a CSV with columns stable_list and option_list (spec §6).
type CoinData struct {
	StableList []string
	OptionList []string
}

// CoinDataSource reloads CoinData from disk at most once per 24h, caching
// the previous read in between (Design Note-adjacent: ADT reads this every
// hourly tick but the source file only changes daily).
type CoinDataSource struct {
	path string

	mu       sync.Mutex
	cached   CoinData
	loadedAt time.Time
}

func NewCoinDataSource(path string) *CoinDataSource {
	return &CoinDataSource{path: path}
}

const coinDataReloadInterval = 24 * time.Hour

// Get returns the cached CoinData, reloading from disk if more than 24h
// have elapsed since the last load.
func (s *CoinDataSource) Get(now time.Time) (CoinData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadedAt.IsZero() || now.Sub(s.loadedAt) >= coinDataReloadInterval {
		data, err := loadCoinData(s.path)
		if err != nil {
			return CoinData{}, err
		}
		s.cached = data
		s.loadedAt = now
	}
	return s.cached, nil
}

func loadCoinData(path string) (CoinData, error) {
	f, err := os.Open(path)
	if err != nil {
		return CoinData{}, fmt.Errorf("config: read coin-data csv %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return CoinData{}, fmt.Errorf("config: coin-data csv %s has no header: %w", path, err)
	}
	stableCol, optionCol := -1, -1
	for i, col := range header {
		switch strings.TrimSpace(col) {
		case "stable_list":
			stableCol = i
		case "option_list":
			optionCol = i
		}
	}
	if stableCol == -1 || optionCol == -1 {
		return CoinData{}, fmt.Errorf("config: coin-data csv %s missing stable_list/option_list columns", path)
	}

	var data CoinData
	for {
		row, err := r.Read()
		if err != nil {
			break
		}
		if stable := strings.TrimSpace(valueAt(row, stableCol)); stable != "" {
			data.StableList = append(data.StableList, stable)
		}
		if option := strings.TrimSpace(valueAt(row, optionCol)); option != "" {
			data.OptionList = append(data.OptionList, option)
		}
	}
	return data, nil
}

func valueAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}
