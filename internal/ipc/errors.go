package ipc

import (
	"errors"
	"net/rpc"
	"strings"

	"bindery/internal/services"
)

var markers = map[string]error{
	"conflict":      services.ErrConflict,
	"not_found":     services.ErrNotFound,
	"validation":    services.ErrValidation,
	"configuration": services.ErrConfiguration,
	"timeout":       services.ErrTimeout,
	"prepare":       services.ErrPrepare,
	"encode":        services.ErrEncode,
	"merge":         services.ErrMerge,
	"storage":       services.ErrStorage,
	"external_tool": services.ErrExternalTool,
}

// encodeError flattens err for the wire.
func encodeError(err error) error {
	if err == nil {
		return nil
	}
	return errors.New(services.KindOf(err) + ": " + services.Message(err))
}

// decodeError restores the marker of a server error.
func decodeError(err error) error {
	var serverErr rpc.ServerError
	if !errors.As(err, &serverErr) {
		return err
	}
	kind, message, ok := strings.Cut(string(serverErr), ": ")
	if !ok {
		return errors.New(string(serverErr))
	}
	marker, known := markers[kind]
	if !known {
		return errors.New(message)
	}
	return services.Detailed(marker, "%s", message)
}
