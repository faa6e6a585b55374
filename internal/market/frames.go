package market

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"
)

// Outbound control frames.

type authFrame struct {
	Username string `json:"username"`
	Password string `json:"password"`
	APIKey   string `json:"apikey,omitempty"`
}

type subscribeFrame struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

const (
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"

	heartbeatSentinel = "heartbeat"
)

// wireNumber is a decimal that tolerates both encodings venues send for
// numeric fields: quoted decimal strings and bare JSON numbers.
type wireNumber decimal.Decimal

func (n *wireNumber) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*n = ""
		return nil
	}
	d, err := decimal.New(s)
	if err != nil {
		return err
	}
	*n = wireNumber(d)
	return nil
}

// inboundFrame covers every frame class the stream sends. Extra fields are
// ignored.
type inboundFrame struct {
	Type          string     `json:"type"`
	Message       string     `json:"message"`
	Status        string     `json:"status"`
	Symbol        string     `json:"symbol"`
	Timestamp     int64      `json:"timestamp"`
	LastPrice     wireNumber `json:"ltp"`
	Volume        int64      `json:"volume"`
	High          wireNumber `json:"high"`
	Low           wireNumber `json:"low"`
	ChangePercent wireNumber `json:"changePercent"`
}

type frameKind uint8

const (
	frameKindUnknown frameKind = iota
	frameKindHeartbeat
	frameKindTick
	frameKindError
)

var errMissingTickFields = errors.New("market: tick frame missing symbol or price")

func parseFrame(data []byte) (inboundFrame, frameKind, error) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return inboundFrame{}, frameKindUnknown, errors.Wrap(err, "unmarshal stream frame")
	}
	switch {
	case frame.Message == heartbeatSentinel:
		return frame, frameKindHeartbeat, nil
	case frame.Type == "error" || frame.Status == "error":
		return frame, frameKindError, nil
	case frame.Symbol != "":
		return frame, frameKindTick, nil
	default:
		return frame, frameKindUnknown, nil
	}
}

// tick converts a tick frame into the cache representation.
func (f inboundFrame) tick() (Tick, error) {
	price := toFloat(f.LastPrice)
	if f.Symbol == "" || price <= 0 {
		return Tick{}, errMissingTickFields
	}
	observed := time.UnixMilli(f.Timestamp)
	if f.Timestamp == 0 {
		observed = time.Now()
	}
	return Tick{
		Symbol:        f.Symbol,
		LastPrice:     price,
		Volume:        f.Volume,
		High:          toFloat(f.High),
		Low:           toFloat(f.Low),
		ChangePercent: toFloat(f.ChangePercent),
		ObservedAt:    observed,
	}, nil
}

func toFloat(n wireNumber) float64 {
	s := decimal.Decimal(n).String()
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
