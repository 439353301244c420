package pivot

import "github.com/nshin-labs/pivottrader/internal/model"

// Aggregate buckets a sequence of native 1h candles (oldest first) into
// N-hour bars aligned to UTC midnight, for anchor periods the adapter has
// no native interval for (Design Note "OHLCV anchor alignment"; BFHT uses
// this for its N-hour pivot instead of a native exchange interval).
func Aggregate(hourly []model.Candle, bucketHours int) []model.Candle {
	if bucketHours <= 1 || len(hourly) == 0 {
		return hourly
	}
	var out []model.Candle
	var cur model.Candle
	open := false
	for _, c := range hourly {
		bucketIndex := c.Timestamp.Unix() / (int64(bucketHours) * 3600)
		curIndex := cur.Timestamp.Unix() / (int64(bucketHours) * 3600)
		if !open || bucketIndex != curIndex {
			if open {
				out = append(out, cur)
			}
			cur = c
			open = true
			continue
		}
		if c.High > cur.High {
			cur.High = c.High
		}
		if c.Low < cur.Low {
			cur.Low = c.Low
		}
		cur.Close = c.Close
		cur.Volume += c.Volume
	}
	if open {
		out = append(out, cur)
	}
	return out
}
