// Command sockoptctl sends one SET or GET to a data-plane daemon's control socket.
//
//	sockoptctl [--config f] [--socket p] [--timeout d] [--json|--raw] set CMD [HEX|@file]
//	sockoptctl [--config f] [--socket p] [--timeout d] [--json|--raw] get CMD [HEX|@file]
//
// Exit status is 0 on success, 1 on local, i/o or version errors, 2 when the
// daemon answered with an error code.
package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli"
	"go.uber.org/zap"

	"sockopt/client"
	"sockopt/config"
	"sockopt/logging"
	"sockopt/protocol"
)

const name = "sockoptctl"

const (
	exitOK          = 0
	exitFailure     = 1
	exitServerError = 2
)

type result struct {
	Op      string `json:"op"`
	Cmd     int32  `json:"cmd"`
	Code    int32  `json:"code"`
	Error   string `json:"error,omitempty"`
	BodyLen int    `json:"body_len"`
	Body    string `json:"body,omitempty"` // hex
}

var globalFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "config",
		Usage: "TOML config file",
	},
	cli.StringFlag{
		Name:  "socket",
		Usage: "control socket path (overrides config and registry)",
	},
	cli.DurationFlag{
		Name:  "timeout",
		Usage: "transaction timeout, 0 waits forever (overrides config)",
	},
	cli.BoolFlag{
		Name:  "json",
		Usage: "print the result as JSON",
	},
	cli.BoolFlag{
		Name:  "raw",
		Usage: "write the reply body to stdout unencoded",
	},
	cli.BoolFlag{
		Name:  "debug",
		Usage: "enable debug logging",
	},
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func newApp(stdout, stderr io.Writer) *cli.App {
	app := cli.NewApp()
	app.Name = name
	app.Usage = "send one sockopt SET or GET to a control socket"
	app.Writer = stdout
	app.ErrWriter = stderr
	app.Flags = globalFlags
	app.HideVersion = true
	// Exit codes are returned from run, not taken by os.Exit inside the library.
	app.ExitErrHandler = func(*cli.Context, error) {}
	app.Action = func(c *cli.Context) error {
		cli.ShowAppHelp(c)
		if c.NArg() > 0 {
			return cli.NewExitError(fmt.Sprintf("%s: unknown operation %q (supported: set, get)", name, c.Args().First()), exitFailure)
		}
		return cli.NewExitError("", exitFailure)
	}
	app.Commands = []cli.Command{
		{
			Name:      "set",
			Usage:     "configure: send CMD with an optional body",
			ArgsUsage: "CMD [HEX|@file]",
			Action:    func(c *cli.Context) error { return call(c, protocol.OpSet) },
		},
		{
			Name:      "get",
			Usage:     "query: send CMD and print the reply body",
			ArgsUsage: "CMD [HEX|@file]",
			Action:    func(c *cli.Context) error { return call(c, protocol.OpGet) },
		},
	}
	return app
}

func run(args []string, stdout, stderr io.Writer) int {
	err := newApp(stdout, stderr).Run(append([]string{name}, args...))
	if err == nil {
		return exitOK
	}
	var coder cli.ExitCoder
	if errors.As(err, &coder) {
		if msg := coder.Error(); msg != "" {
			fmt.Fprintln(stderr, msg)
		}
		return coder.ExitCode()
	}
	fmt.Fprintf(stderr, "%s: %v\n", name, err)
	return exitFailure
}

func fail(format string, args ...any) error {
	return cli.NewExitError(fmt.Sprintf(name+": "+format, args...), exitFailure)
}

func call(c *cli.Context, kind protocol.OpKind) error {
	asJSON, raw := c.GlobalBool("json"), c.GlobalBool("raw")
	if asJSON && raw {
		return fail("--json and --raw are exclusive")
	}
	if c.NArg() < 1 || c.NArg() > 2 {
		cli.ShowCommandHelp(c, c.Command.Name)
		return fail("%s needs CMD and at most one body argument", c.Command.Name)
	}
	cmd, err := strconv.ParseInt(c.Args().Get(0), 0, 32)
	if err != nil {
		return fail("bad command id %q: %v", c.Args().Get(0), err)
	}
	var in []byte
	if c.NArg() == 2 {
		if in, err = parseBody(c.Args().Get(1)); err != nil {
			return fail("%v", err)
		}
	}

	cfg, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return fail("%v", err)
	}
	if p := c.GlobalString("socket"); p != "" {
		cfg.SocketPath = p
		cfg.Registry.Endpoints = nil
	}
	if c.GlobalIsSet("timeout") {
		cfg.Timeout = c.GlobalDuration("timeout")
	}
	if c.GlobalBool("debug") {
		cfg.Log.Level = "debug"
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fail("%v", err)
	}
	defer logger.Sync()

	ctl, closeClient, err := client.NewFromConfig(cfg, logger)
	if err != nil {
		return fail("%v", err)
	}
	defer closeClient()

	res := result{Op: strings.ToLower(kind.String()), Cmd: int32(cmd)}
	var body []byte
	if kind == protocol.OpSet {
		err = ctl.Set(int32(cmd), in)
	} else {
		buf, gerr := ctl.Get(int32(cmd), in)
		err = gerr
		body = buf.Take()
	}
	if err != nil {
		res.Code = protocol.Code(err)
		res.Error = err.Error()
		if _, msg, ok := protocol.AsServerError(err); ok {
			res.Error = msg
		}
		logger.Debug("sockopt call failed", zap.Stringer("kind", kind), zap.Int64("cmd", cmd), zap.Error(err))
		report(c.App.Writer, c.App.ErrWriter, asJSON, res)
		if errors.Is(err, protocol.ErrServer) {
			return cli.NewExitError("", exitServerError)
		}
		return cli.NewExitError("", exitFailure)
	}

	res.BodyLen = len(body)
	if raw {
		if _, err := c.App.Writer.Write(body); err != nil {
			return fail("write body: %v", err)
		}
		return nil
	}
	res.Body = hex.EncodeToString(body)
	report(c.App.Writer, c.App.ErrWriter, asJSON, res)
	return nil
}

func report(stdout, stderr io.Writer, asJSON bool, res result) {
	if asJSON {
		json.NewEncoder(stdout).Encode(res)
		return
	}
	if res.Code != protocol.CodeOK {
		fmt.Fprintf(stderr, "%s: %s %d: %s (%s, code %d)\n",
			name, res.Op, res.Cmd, res.Error, protocol.CodeText(res.Code), res.Code)
		return
	}
	if res.Body != "" {
		fmt.Fprintln(stdout, res.Body)
	}
}

// parseBody reads "@path" as a file and anything else as hex, with optional
// 0x prefix and separators.
func parseBody(arg string) ([]byte, error) {
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		return data, nil
	}
	cleaned := strings.NewReplacer(" ", "", ":", "", "-", "").Replace(strings.TrimPrefix(strings.ToLower(arg), "0x"))
	data, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("body is not hex: %w", err)
	}
	return data, nil
}
