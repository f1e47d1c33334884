package handshake

import (
	"fmt"

	"github.com/cyberinferno/go-ccstream/blockcodec"
	"github.com/cyberinferno/go-ccstream/logger"
	"github.com/cyberinferno/go-ccstream/passwordprompt"
)

// DefaultPrompt is shown when the server asks for a password.
const DefaultPrompt = "Enter password: "

// Client drives the client side of the handshake.
type Client struct {
	// Passwords is asked whenever the server challenges; may be nil for
	// servers without a password.
	Passwords passwordprompt.Reader
	// Prompt defaults to DefaultPrompt.
	Prompt string
	Logger logger.Logger
}

// Authenticate reads the server's greeting and answers password challenges
// until the server accepts or refuses the connection.
//
// Both WRONG_PASSWORD and UNKNOWN_COMMAND after a password block mean the
// password was wrong; the client then waits for the next challenge. Control
// bytes it does not recognize are skipped.
//
// Parameters:
//   - c: Codec of the connection to the server
//
// Returns:
//   - The Result; Outcome is OutcomeAccepted exactly when the error is nil
//   - ErrServerBusy on CONN_LIMIT, ErrServerError on ERROR, or the
//     connection or password input error
func (cl *Client) Authenticate(c *blockcodec.Codec) (Result, error) {
	log := cl.logger()
	res := Result{State: AwaitGreeting}

	for {
		cmd, err := c.ReadCommand()
		if err != nil {
			return res.failed("read greeting", err)
		}

		switch cmd {
		case blockcodec.OK:
			return res.accepted()
		case blockcodec.ConnLimit:
			log.Error("too many connections to the server, try later")
			return res.rejected(ErrServerBusy)
		case blockcodec.Error:
			log.Error("internal server error")
			return res.rejected(ErrServerError)
		case blockcodec.Password:
			res.State = PasswordChallenge
			reply, err := cl.answer(c, &res)
			if err != nil {
				return res.failed("answer challenge", err)
			}

			switch reply {
			case blockcodec.OK:
				return res.accepted()
			case blockcodec.WrongPassword, blockcodec.UnknownCommand:
				log.Warn("wrong password", logger.Field{Key: "attempt", Value: res.Attempts})
			case blockcodec.Error:
				log.Error("internal server error")
				return res.rejected(ErrServerError)
			}

			res.State = AwaitGreeting
		default:
			if !cmd.Known() {
				log.Warn("ignoring unknown control byte", logger.Field{Key: "command", Value: cmd.String()})
				continue
			}

			log.Debug("ignoring control byte", logger.Field{Key: "command", Value: cmd.String()})
		}
	}
}

// AnnounceHeader tells the server a binary header follows and waits for its
// acknowledgment. The caller streams header and payload bytes afterwards.
//
// Returns:
//   - ErrServerError on ERROR, ErrProtocolViolation on any other reply, or
//     the connection error
func (cl *Client) AnnounceHeader(c *blockcodec.Codec) error {
	if err := c.WriteCommand(blockcodec.BinHeader); err != nil {
		return fmt.Errorf("handshake: announce header: %w", err)
	}

	reply, err := c.ReadCommand()
	if err != nil {
		return fmt.Errorf("handshake: await header ack: %w", err)
	}

	switch reply {
	case blockcodec.OK:
		return nil
	case blockcodec.Error:
		cl.logger().Error("internal server error")
		return ErrServerError
	default:
		return fmt.Errorf("%w: header answered with %s", ErrProtocolViolation, reply)
	}
}

// answer asks for a password, sends it and returns the server's reply byte.
func (cl *Client) answer(c *blockcodec.Codec, res *Result) (blockcodec.Command, error) {
	if cl.Passwords == nil {
		return 0, ErrNoPasswordReader
	}

	prompt := cl.Prompt
	if prompt == "" {
		prompt = DefaultPrompt
	}

	var password string
	for password == "" {
		pw, err := cl.Passwords.ReadPassword(prompt)
		if err != nil {
			return 0, err
		}

		password = passwordprompt.TrimNewline(pw)
		if password == "" {
			cl.logger().Warn("password must not be empty")
		}
	}

	if err := c.Send(blockcodec.Password, []byte(password)); err != nil {
		return 0, err
	}

	res.State = PasswordSent
	res.Attempts++

	return c.ReadCommand()
}

func (cl *Client) logger() logger.Logger {
	if cl.Logger == nil {
		return logger.NewNopLogger()
	}

	return cl.Logger
}
