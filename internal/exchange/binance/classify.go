// Package binance adapts adshao/go-binance/v2 (spot and futures) to the
// exchange.Exchange / exchange.FuturesExchange contracts, grounded on
// yohannesjx-sniperterminal's ExecutionService client usage.
package binance

import (
	"errors"
	"net"

	"github.com/adshao/go-binance/v2/common"
	"github.com/nshin-labs/pivottrader/internal/kernel"
)

// Classify maps a go-binance error (typically *common.APIError, or a plain
// network error) to the kernel's closed taxonomy, replacing the original's
// ccxt exception hierarchy (InsufficientFunds/InvalidOrder/RateLimitExceeded/
// NetworkError/BaseError/UnexpectedError).
func Classify(err error) kernel.ErrorKind {
	if err == nil {
		return kernel.KindNone
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return kernel.KindNetwork
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -2010, -2018, -2019:
			return kernel.KindInsufficientFunds
		case -1013, -2011, -1106, -1111, -1121:
			return kernel.KindInvalidOrder
		case -1003:
			return kernel.KindRateLimit
		default:
			return kernel.KindBase
		}
	}
	return kernel.KindUnexpected
}

type classifier struct{}

func (classifier) Classify(err error) kernel.ErrorKind { return Classify(err) }

// thunk adapts a (value, error) call result into the (value, ErrorKind,
// error) shape kernel.Invoke expects, used by every adapter method below.
func thunk[T any](v T, err error) (T, kernel.ErrorKind, error) {
	return v, Classify(err), err
}
