package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/ent0n29/phonebridge/internal/reliability"
)

var (
	ErrUnsupportedEvent = errors.New("unsupported telephony event")
	ErrUnsupportedType  = errors.New("unsupported ai message type")
)

// Source identifies who produced a transcript line.
type Source string

const (
	SourceAgent  Source = "agent"
	SourceHuman  Source = "human"
	SourceSystem Source = "system"
)

// Encode marshals an outbound wire message.
func Encode(msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, reliability.Protocol("encode message", err)
	}
	return data, nil
}

func invalid(op, format string, args ...any) error {
	return reliability.Protocol(op, fmt.Errorf(format, args...))
}

func stringifyParams(in map[string]any) map[string]string {
	if len(in) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch t := v.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = t
		case float64:
			out[k] = strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(t)
		default:
			b, err := json.Marshal(t)
			if err != nil {
				continue
			}
			out[k] = string(b)
		}
	}
	return out
}
