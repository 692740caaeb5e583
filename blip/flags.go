package blip

// Flags is the one-byte wire flag field of a BLIP frame (spec §3).
type Flags uint8

// MessageType identifies the frame's type, carried in Flags bits 0-2.
type MessageType uint8

// Message types per spec §3.
const (
	TypeMSG     MessageType = 0 // request
	TypeRPY     MessageType = 1 // reply
	TypeERR     MessageType = 2 // error reply
	TypeAckMSG  MessageType = 4 // flow-control ack for a MSG
	TypeAckRPY  MessageType = 5 // flow-control ack for a RPY/ERR
)

// Flag bits per spec §3.
const (
	typeMask     Flags = 0x07 // bits 0-2
	FlagCompressed Flags = 1 << 3
	FlagUrgent     Flags = 1 << 4
	FlagNoReply    Flags = 1 << 5
	FlagMoreComing Flags = 1 << 6
	FlagMeta       Flags = 1 << 7
)

// Type extracts the message type from the type bits (0-2).
func (f Flags) Type() MessageType {
	return MessageType(f & typeMask)
}

// withType returns a copy of f with the type bits replaced by t.
func (f Flags) withType(t MessageType) Flags {
	return (f &^ typeMask) | Flags(t)&typeMask
}

// Has reports whether all bits in mask are set.
func (f Flags) Has(mask Flags) bool {
	return f&mask == mask
}

// set returns a copy of f with mask set to value.
func (f Flags) set(mask Flags, value bool) Flags {
	if value {
		return f | mask
	}
	return f &^ mask
}

// isAck reports whether t is one of the two ACK types.
func (t MessageType) isAck() bool {
	return t == TypeAckMSG || t == TypeAckRPY
}

// isReply reports whether t is RPY or ERR.
func (t MessageType) isReply() bool {
	return t == TypeRPY || t == TypeERR
}

// String renders a MessageType for logs and errors.
func (t MessageType) String() string {
	switch t {
	case TypeMSG:
		return "MSG"
	case TypeRPY:
		return "RPY"
	case TypeERR:
		return "ERR"
	case TypeAckMSG:
		return "ACK-MSG"
	case TypeAckRPY:
		return "ACK-RPY"
	default:
		return "?"
	}
}
