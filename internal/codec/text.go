package codec

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"

	"marketfeed/internal/model"
	"marketfeed/internal/model/enum"
	"marketfeed/pkg/scanner"
)

var (
	keyStream = []byte(`"stream"`)
	keyData   = []byte(`"data"`)
	keyEvent  = []byte(`"e"`)
	keyArg    = []byte(`"arg"`)
	keyTopic  = []byte(`"topic"`)
	keyResult = []byte(`"result"`)
	keyID     = []byte(`"id"`)
	keyOKXEvt = []byte(`"event"`)
	keyOp     = []byte(`"op"`)
	keySymbol = []byte(`"symbol"`)
	keyPrice  = []byte(`"price"`)

	binanceAggTrade = []byte("aggTrade")
	binanceTradeEvt = []byte("trade")
	bybitTradeTopic = []byte("publicTrade.")
	okxTradeChannel = "trades"
	pong            = []byte("pong")
)

// textDecoder normalizes JSON trade messages into frames. Symbol names are
// resolved through the table; names it does not know map to id 0.
type textDecoder struct {
	symbols *SymbolTable
}

func (textDecoder) Name() string { return "text" }

func (d textDecoder) Decode(dst []model.TradeFrame, src []byte) ([]model.TradeFrame, bool) {
	trimmed := scanner.Trim(src)
	if bytes.EqualFold(trimmed, pong) {
		return dst, true
	}
	if first, ok := scanner.FirstByte(trimmed); !ok || first != '{' {
		return dst, false
	}

	switch {
	case scanner.HasKey(trimmed, keyStream) && scanner.HasKey(trimmed, keyData):
		return d.decodeBinanceCombined(dst, trimmed)
	case scanner.HasKey(trimmed, keyEvent):
		event, ok := scanner.StringField(trimmed, keyEvent)
		if !ok || !(bytes.Equal(event, binanceAggTrade) || bytes.Equal(event, binanceTradeEvt)) {
			return dst, false
		}
		return d.decodeBinance(dst, trimmed)
	case scanner.HasKey(trimmed, keyArg) && scanner.HasKey(trimmed, keyData):
		return d.decodeOKX(dst, trimmed)
	case scanner.HasKey(trimmed, keyTopic):
		topic, ok := scanner.StringField(trimmed, keyTopic)
		if !ok || !bytes.HasPrefix(topic, bybitTradeTopic) {
			return dst, false
		}
		return d.decodeBybit(dst, trimmed)
	case scanner.HasKey(trimmed, keyResult) && scanner.HasKey(trimmed, keyID):
		// binance subscribe response carries the numeric request id
		_, ok := scanner.UintField(trimmed, keyID)
		return dst, ok
	case scanner.HasKey(trimmed, keyOKXEvt) || scanner.HasKey(trimmed, keyOp):
		// okx event / bybit op acknowledgements
		return dst, true
	case scanner.HasKey(trimmed, keySymbol) && scanner.HasKey(trimmed, keyPrice):
		return d.decodeGeneric(dst, trimmed)
	}
	return dst, false
}

// genericTrade is the internal JSON shape producers use when they cannot
// emit binary frames. Timestamp passes through float64 on purpose: it
// matches what JavaScript producers can represent.
type genericTrade struct {
	Type      uint8   `json:"type"`
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Volume    float64 `json:"volume"`
	Timestamp float64 `json:"timestamp"`
	Side      uint8   `json:"side"`
}

func (d textDecoder) decodeGeneric(dst []model.TradeFrame, src []byte) ([]model.TradeFrame, bool) {
	var msg genericTrade
	if err := sonic.Unmarshal(src, &msg); err != nil {
		return dst, false
	}
	typ, side := enum.FrameType(msg.Type), enum.Side(msg.Side)
	if !typ.IsAvailable() || !side.IsAvailable() || msg.Timestamp < 0 {
		return dst, false
	}
	id, _ := d.symbols.ID(msg.Symbol)
	return append(dst, model.TradeFrame{
		Type:      typ,
		SymbolID:  id,
		Price:     msg.Price,
		Volume:    msg.Volume,
		Timestamp: uint64(msg.Timestamp),
		Side:      side,
	}), true
}

// binanceTrade covers both aggTrade and trade streams. Every single-letter key
// is declared so case-insensitive matching cannot cross fields ("e" vs "E").
type binanceTrade struct {
	Event      string `json:"e"`
	EventTime  uint64 `json:"E"`
	Symbol     string `json:"s"`
	Price      string `json:"p"`
	Quantity   string `json:"q"`
	TradeID    uint64 `json:"t"`
	TradeTime  uint64 `json:"T"`
	BuyerMaker bool   `json:"m"`
	Ignore     bool   `json:"M"`
}

type binanceCombined struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

func (d textDecoder) decodeBinanceCombined(dst []model.TradeFrame, src []byte) ([]model.TradeFrame, bool) {
	var msg binanceCombined
	if err := sonic.Unmarshal(src, &msg); err != nil || len(msg.Data) == 0 {
		return dst, false
	}
	return d.decodeBinance(dst, msg.Data)
}

func (d textDecoder) decodeBinance(dst []model.TradeFrame, src []byte) ([]model.TradeFrame, bool) {
	var msg binanceTrade
	if err := sonic.Unmarshal(src, &msg); err != nil {
		return dst, false
	}
	if msg.Event != "aggTrade" && msg.Event != "trade" {
		return dst, false
	}
	price, volume, ok := parsePair(msg.Price, msg.Quantity)
	if !ok {
		return dst, false
	}

	// buyer is maker: the aggressor sold.
	side := enum.SideBuy
	if msg.BuyerMaker {
		side = enum.SideSell
	}
	ts := msg.TradeTime
	if ts == 0 {
		ts = msg.EventTime
	}
	id, _ := d.symbols.ID(msg.Symbol)
	return append(dst, model.TradeFrame{
		Type:      enum.FrameTrade,
		SymbolID:  id,
		Price:     price,
		Volume:    volume,
		Timestamp: ts,
		Side:      side,
	}), true
}

type okxTrades struct {
	Arg struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data []struct {
		InstID string `json:"instId"`
		Price  string `json:"px"`
		Size   string `json:"sz"`
		Side   string `json:"side"`
		Ts     string `json:"ts"`
	} `json:"data"`
}

func (d textDecoder) decodeOKX(dst []model.TradeFrame, src []byte) ([]model.TradeFrame, bool) {
	var msg okxTrades
	if err := sonic.Unmarshal(src, &msg); err != nil {
		return dst, false
	}
	if msg.Arg.Channel != okxTradeChannel {
		return dst, false
	}

	start := len(dst)
	for _, t := range msg.Data {
		price, volume, ok := parsePair(t.Price, t.Size)
		if !ok {
			return dst[:start], false
		}
		ts, err := strconv.ParseUint(t.Ts, 10, 64)
		if err != nil {
			return dst[:start], false
		}
		side, ok := parseSide(t.Side)
		if !ok {
			return dst[:start], false
		}
		inst := t.InstID
		if inst == "" {
			inst = msg.Arg.InstID
		}
		id, _ := d.symbols.ID(inst)
		dst = append(dst, model.TradeFrame{
			Type:      enum.FrameTrade,
			SymbolID:  id,
			Price:     price,
			Volume:    volume,
			Timestamp: ts,
			Side:      side,
		})
	}
	return dst, true
}

// bybitTrades declares both "s" and "S" for the same reason as binanceTrade.
type bybitTrades struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
	Ts    uint64 `json:"ts"`
	Data  []struct {
		Time   uint64 `json:"T"`
		Symbol string `json:"s"`
		Side   string `json:"S"`
		Volume string `json:"v"`
		Price  string `json:"p"`
		Tick   string `json:"L"`
		ID     string `json:"i"`
		Block  bool   `json:"BT"`
	} `json:"data"`
}

func (d textDecoder) decodeBybit(dst []model.TradeFrame, src []byte) ([]model.TradeFrame, bool) {
	var msg bybitTrades
	if err := sonic.Unmarshal(src, &msg); err != nil {
		return dst, false
	}
	if !strings.HasPrefix(msg.Topic, string(bybitTradeTopic)) {
		return dst, false
	}

	start := len(dst)
	for _, t := range msg.Data {
		price, volume, ok := parsePair(t.Price, t.Volume)
		if !ok {
			return dst[:start], false
		}
		side, ok := parseSide(t.Side)
		if !ok {
			return dst[:start], false
		}
		sym := t.Symbol
		if sym == "" {
			sym = strings.TrimPrefix(msg.Topic, string(bybitTradeTopic))
		}
		id, _ := d.symbols.ID(sym)
		dst = append(dst, model.TradeFrame{
			Type:      enum.FrameTrade,
			SymbolID:  id,
			Price:     price,
			Volume:    volume,
			Timestamp: t.Time,
			Side:      side,
		})
	}
	return dst, true
}

func parsePair(price, volume string) (float64, float64, bool) {
	p, err := strconv.ParseFloat(price, 64)
	if err != nil {
		return 0, 0, false
	}
	v, err := strconv.ParseFloat(volume, 64)
	if err != nil {
		return 0, 0, false
	}
	return p, v, true
}

func parseSide(s string) (enum.Side, bool) {
	switch strings.ToLower(s) {
	case "buy":
		return enum.SideBuy, true
	case "sell":
		return enum.SideSell, true
	default:
		return 0, false
	}
}
