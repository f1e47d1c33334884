// Command ccstream-client streams a binary header and caption data to a
// ccstream server.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cyberinferno/go-ccstream/config"
	"github.com/cyberinferno/go-ccstream/logger"
	"github.com/cyberinferno/go-ccstream/passwordprompt"
	"github.com/cyberinferno/go-ccstream/streamclient"
)

const serviceName = "ccstream-client"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}

type clientFlags struct {
	configPath     string
	host           string
	port           string
	headerPath     string
	password       string
	connectTimeout time.Duration
	pacingDelay    time.Duration
	logLevel       string
}

func newRootCmd() *cobra.Command {
	var f clientFlags

	cmd := &cobra.Command{
		Use:   serviceName + " [INPUT]",
		Short: "Send a caption stream to a ccstream server",
		Long: `ccstream-client connects to --host, answers the server's password
challenge, announces the binary header read from --header and then streams
INPUT (standard input when omitted or "-") to the server.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadClientConfig(f.configPath)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("host") {
				cfg.Host = f.host
			}
			if flags.Changed("port") {
				cfg.Port = f.port
			}
			if flags.Changed("connect-timeout") {
				cfg.ConnectTimeout = f.connectTimeout
			}
			if flags.Changed("pacing-delay") {
				cfg.PacingDelay = f.pacingDelay
			}
			if flags.Changed("log-level") {
				cfg.Log.Level = f.logLevel
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			input := "-"
			if len(args) == 1 {
				input = args[0]
			}

			password, hasPassword := os.LookupEnv(config.EnvPassword)
			if flags.Changed("password") {
				password, hasPassword = f.password, true
			}

			var passwords passwordprompt.Reader
			if hasPassword {
				passwords = passwordprompt.NewSequenceReader(password)
			} else {
				passwords = terminalPrompt(input)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, f.headerPath, input, passwords)
		},
	}

	cmd.Flags().StringVar(&f.configPath, "config", "", "TOML config file")
	cmd.Flags().StringVarP(&f.host, "host", "H", "", "server hostname or address")
	cmd.Flags().StringVarP(&f.port, "port", "p", "", "server port (default 2048)")
	cmd.Flags().StringVar(&f.headerPath, "header", "", "file holding the binary header sent before the stream")
	cmd.Flags().StringVar(&f.password, "password", "", "password to answer the challenge with (env "+config.EnvPassword+"); prompts when unset")
	cmd.Flags().DurationVar(&f.connectTimeout, "connect-timeout", 0, "timeout per connect attempt, 0 for none")
	cmd.Flags().DurationVar(&f.pacingDelay, "pacing-delay", 100*time.Millisecond, "pause after each payload write")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "debug, info, warn, error or disabled")

	return cmd
}

func run(ctx context.Context, cfg config.ClientConfig, headerPath, input string, passwords passwordprompt.Reader) error {
	log, err := logger.New(cfg.Log, serviceName)
	if err != nil {
		return err
	}
	defer log.Close()

	var header []byte
	if headerPath != "" {
		header, err = os.ReadFile(headerPath)
		if err != nil {
			return fmt.Errorf("read header: %w", err)
		}
	}

	var in io.Reader = os.Stdin
	if input != "-" {
		f, err := os.Open(input)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	client := streamclient.New(cfg.StreamClient(), log, passwords)
	defer client.Close()

	// Unblocks a handshake or stream stuck on the network on shutdown.
	stopClose := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stopClose()

	if _, err := client.Connect(ctx); err != nil {
		return err
	}

	if err := client.SendHeader(header); err != nil {
		return err
	}

	sent, err := client.Stream(in)
	log.Info("stream finished", logger.Field{Key: "bytes", Value: sent})

	return err
}

// terminalPrompt asks on the controlling terminal when the stream comes
// from standard input, so typed passwords do not consume stream bytes.
func terminalPrompt(input string) passwordprompt.Reader {
	if input == "-" {
		if tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0); err == nil {
			return &passwordprompt.TerminalReader{In: tty, Out: tty}
		}
	}

	return &passwordprompt.TerminalReader{In: os.Stdin, Out: os.Stderr}
}
