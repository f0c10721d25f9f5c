package bridge

import (
	"errors"
	"math/big"
	"time"
)

// ErrDailyCapExceeded rejects transfers that would push the UTC-day bucket
// over the configured cap.
var ErrDailyCapExceeded = errors.New("bridge: daily volume cap exceeded")

const volumePrefix = "bridge/volume/"

type storedVolume struct {
	Total string
}

// volumeKey buckets outbound volume per source token per UTC day.
func volumeKey(token string, day time.Time) []byte {
	date := day.UTC().Format("2006-01-02")
	buf := make([]byte, 0, len(volumePrefix)+len(token)+1+len(date))
	buf = append(buf, volumePrefix...)
	buf = append(buf, token...)
	buf = append(buf, '/')
	buf = append(buf, date...)
	return buf
}

func (e *Engine) dayVolume(token string, day time.Time) (*big.Int, error) {
	var stored storedVolume
	ok, err := e.store.KVGet(volumeKey(token, day), &stored)
	if err != nil {
		return nil, err
	}
	if !ok || stored.Total == "" {
		return big.NewInt(0), nil
	}
	total, valid := new(big.Int).SetString(stored.Total, 10)
	if !valid {
		return nil, errors.New("bridge: corrupted volume record")
	}
	return total, nil
}

// consumeDailyCap folds amount into today's bucket, failing closed when the
// cap would be breached. A nil or zero cap disables the check but still
// records throughput.
func (e *Engine) consumeDailyCap(token string, amount *big.Int, now time.Time) error {
	total, err := e.dayVolume(token, now)
	if err != nil {
		return err
	}
	total = new(big.Int).Add(total, amount)
	if e.params.DailyCap != nil && e.params.DailyCap.Sign() > 0 && total.Cmp(e.params.DailyCap) > 0 {
		return ErrDailyCapExceeded
	}
	return e.store.KVPut(volumeKey(token, now), storedVolume{Total: total.String()})
}
