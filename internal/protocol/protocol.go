// Package protocol implements the little-endian, fixed-size wire codec
// for New Order, Cancel Order, and Execution Report frames. Byte offsets
// are grounded on original_source/src/protocol.rs; the general shape of
// the file (header-length constants, decode/encode function pairs,
// sentinel errors for short buffers and unknown types) follows the
// teacher's internal/net/messages.go, though that file uses big-endian
// variable-length frames and this one is little-endian fixed-size per
// the wire format this engine actually implements.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"fenrir/internal/domain"
)

// Message type tags.
const (
	MsgNewOrder         byte = 0x01
	MsgCancelOrder      byte = 0x02
	MsgExecutionReport  byte = 0x03
)

// Frame sizes, in bytes.
const (
	NewOrderSize        = 40
	CancelOrderSize     = 16
	ExecutionReportSize = 48
)

var (
	ErrBufferTooShort  = errors.New("protocol: buffer too short")
	ErrUnknownMsgType  = errors.New("protocol: unknown message type")
	ErrInvalidSide     = errors.New("protocol: invalid side byte")
)

// UnknownMessageTypeError carries the offending byte for logging.
type UnknownMessageTypeError struct {
	Type byte
}

func (e *UnknownMessageTypeError) Error() string {
	return fmt.Sprintf("protocol: unknown message type 0x%02x", e.Type)
}

func (e *UnknownMessageTypeError) Is(target error) bool {
	return target == ErrUnknownMsgType
}

// MessageSize returns the expected total frame size for a message type
// byte, or an UnknownMessageTypeError.
func MessageSize(msgType byte) (int, error) {
	switch msgType {
	case MsgNewOrder:
		return NewOrderSize, nil
	case MsgCancelOrder:
		return CancelOrderSize, nil
	case MsgExecutionReport:
		return ExecutionReportSize, nil
	default:
		return 0, &UnknownMessageTypeError{Type: msgType}
	}
}

func decodeSide(b byte) (domain.Side, error) {
	switch b {
	case 0:
		return domain.Bid, nil
	case 1:
		return domain.Ask, nil
	default:
		return 0, ErrInvalidSide
	}
}

func encodeSide(s domain.Side) byte {
	if s == domain.Bid {
		return 0
	}
	return 1
}

// DecodeNewOrder decodes a 40-byte New Order frame. The wire format never
// carries a timestamp; callers (ingress) assign Order.Timestamp
// themselves after decode.
func DecodeNewOrder(buf []byte) (domain.Order, error) {
	if len(buf) < NewOrderSize {
		return domain.Order{}, ErrBufferTooShort
	}
	if buf[0] != MsgNewOrder {
		return domain.Order{}, &UnknownMessageTypeError{Type: buf[0]}
	}

	side, err := decodeSide(buf[1])
	if err != nil {
		return domain.Order{}, err
	}

	id := binary.LittleEndian.Uint64(buf[8:16])
	traderID := binary.LittleEndian.Uint64(buf[16:24])
	price := int64(binary.LittleEndian.Uint64(buf[24:32]))
	quantity := binary.LittleEndian.Uint64(buf[32:40])

	if quantity == 0 {
		return domain.Order{}, domain.ErrZeroQuantity
	}

	return domain.Order{
		ID:       id,
		TraderID: traderID,
		Side:     side,
		Price:    price,
		Quantity: quantity,
	}, nil
}

// EncodeNewOrder encodes order into buf, which must be at least
// NewOrderSize bytes. The timestamp field is not part of the wire
// format and is not written.
func EncodeNewOrder(buf []byte, order domain.Order) error {
	if len(buf) < NewOrderSize {
		return ErrBufferTooShort
	}
	for i := range buf[:NewOrderSize] {
		buf[i] = 0
	}
	buf[0] = MsgNewOrder
	buf[1] = encodeSide(order.Side)
	binary.LittleEndian.PutUint64(buf[8:16], order.ID)
	binary.LittleEndian.PutUint64(buf[16:24], order.TraderID)
	binary.LittleEndian.PutUint64(buf[24:32], uint64(order.Price))
	binary.LittleEndian.PutUint64(buf[32:40], order.Quantity)
	return nil
}

// DecodeCancelOrder decodes a 16-byte Cancel Order frame.
func DecodeCancelOrder(buf []byte) (domain.CancelOrderCommand, error) {
	if len(buf) < CancelOrderSize {
		return domain.CancelOrderCommand{}, ErrBufferTooShort
	}
	if buf[0] != MsgCancelOrder {
		return domain.CancelOrderCommand{}, &UnknownMessageTypeError{Type: buf[0]}
	}
	return domain.CancelOrderCommand{
		OrderID: binary.LittleEndian.Uint64(buf[8:16]),
	}, nil
}

// EncodeCancelOrder encodes a cancel-order command into buf, which must
// be at least CancelOrderSize bytes.
func EncodeCancelOrder(buf []byte, orderID uint64) error {
	if len(buf) < CancelOrderSize {
		return ErrBufferTooShort
	}
	for i := range buf[:CancelOrderSize] {
		buf[i] = 0
	}
	buf[0] = MsgCancelOrder
	binary.LittleEndian.PutUint64(buf[8:16], orderID)
	return nil
}

// DecodeMessage dispatches on buf's first byte to the matching decoder,
// returning a domain.EngineCommand.
func DecodeMessage(buf []byte) (domain.EngineCommand, error) {
	if len(buf) < 1 {
		return nil, ErrBufferTooShort
	}
	switch buf[0] {
	case MsgNewOrder:
		order, err := DecodeNewOrder(buf)
		if err != nil {
			return nil, err
		}
		return domain.NewOrderCommand{Order: order}, nil
	case MsgCancelOrder:
		return DecodeCancelOrder(buf)
	default:
		return nil, &UnknownMessageTypeError{Type: buf[0]}
	}
}

// ExecutionReport is the wire form of a fill notification.
type ExecutionReport struct {
	SeqNum       uint32
	TakerOrderID uint64
	MakerOrderID uint64
	Price        int64
	Quantity     uint64
	Timestamp    uint64
}

// EncodeExecutionReport encodes report into buf, which must be at least
// ExecutionReportSize bytes.
func EncodeExecutionReport(buf []byte, report ExecutionReport) error {
	if len(buf) < ExecutionReportSize {
		return ErrBufferTooShort
	}
	for i := range buf[:ExecutionReportSize] {
		buf[i] = 0
	}
	buf[0] = MsgExecutionReport
	binary.LittleEndian.PutUint32(buf[4:8], report.SeqNum)
	binary.LittleEndian.PutUint64(buf[8:16], report.TakerOrderID)
	binary.LittleEndian.PutUint64(buf[16:24], report.MakerOrderID)
	binary.LittleEndian.PutUint64(buf[24:32], uint64(report.Price))
	binary.LittleEndian.PutUint64(buf[32:40], report.Quantity)
	binary.LittleEndian.PutUint64(buf[40:48], report.Timestamp)
	return nil
}

// DecodeExecutionReport decodes a 48-byte Execution Report frame.
func DecodeExecutionReport(buf []byte) (ExecutionReport, error) {
	if len(buf) < ExecutionReportSize {
		return ExecutionReport{}, ErrBufferTooShort
	}
	if buf[0] != MsgExecutionReport {
		return ExecutionReport{}, &UnknownMessageTypeError{Type: buf[0]}
	}
	return ExecutionReport{
		SeqNum:       binary.LittleEndian.Uint32(buf[4:8]),
		TakerOrderID: binary.LittleEndian.Uint64(buf[8:16]),
		MakerOrderID: binary.LittleEndian.Uint64(buf[16:24]),
		Price:        int64(binary.LittleEndian.Uint64(buf[24:32])),
		Quantity:     binary.LittleEndian.Uint64(buf[32:40]),
		Timestamp:    binary.LittleEndian.Uint64(buf[40:48]),
	}, nil
}
