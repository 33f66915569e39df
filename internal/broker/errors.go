package broker

import (
	stderrors "errors"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"

	"github.com/linjuya-lu/serial_broker_go/internal/race"
)

// classify 把硬件调用产生的错误映射为 EdgeX 错误类别
func classify(msg string, err error) errors.EdgeX {
	switch {
	case stderrors.Is(err, race.ErrTimeout):
		return errors.NewCommonEdgeX(errors.KindServiceUnavailable, msg, err)
	default:
		return errors.NewCommonEdgeX(errors.KindIOError, msg, err)
	}
}

func notFound(msg string) errors.EdgeX {
	return errors.NewCommonEdgeX(errors.KindEntityDoesNotExist, msg, nil)
}

func invalid(msg string, err error) errors.EdgeX {
	return errors.NewCommonEdgeX(errors.KindContractInvalid, msg, err)
}
