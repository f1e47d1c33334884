package blockcodec

import "fmt"

// Command is the one-byte tag exchanged as a bare control byte or as the first
// byte of a block. Values outside the known set are legal on the wire.
type Command byte

const (
	OK             Command = 1
	Password       Command = 2
	BinHeader      Command = 3
	Error          Command = 51
	UnknownCommand Command = 52
	WrongPassword  Command = 53
	ConnLimit      Command = 54
)

// Known reports whether c is one of the protocol's defined commands.
func (c Command) Known() bool {
	switch c {
	case OK, Password, BinHeader, Error, UnknownCommand, WrongPassword, ConnLimit:
		return true
	default:
		return false
	}
}

// String returns the protocol name of the command, or UNKNOWN(n).
func (c Command) String() string {
	switch c {
	case OK:
		return "OK"
	case Password:
		return "PASSWORD"
	case BinHeader:
		return "BIN_HEADER"
	case Error:
		return "ERROR"
	case UnknownCommand:
		return "UNKNOWN_COMMAND"
	case WrongPassword:
		return "WRONG_PASSWORD"
	case ConnLimit:
		return "CONN_LIMIT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", byte(c))
	}
}
