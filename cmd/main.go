package cmd

import (
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"
	"github.com/zhengshuai-xiao/RelayS/internal"
)

var logger = internal.GetLogger("relays_cmd")

func Main(args []string) error {
	cli.VersionFlag = &cli.BoolFlag{
		Name: "version", Aliases: []string{"V"},
		Usage: "print version only",
	}
	app := &cli.App{
		Name:                 "relays",
		Usage:                "Relay instrument files between sites and S3-compatible storage.",
		Version:              internal.Version(),
		Copyright:            "Apache License 2.0",
		HideHelpCommand:      true,
		EnableBashCompletion: true,
		Flags:                globalFlags(),
		Commands: []*cli.Command{
			cmdServe(),
			cmdUpload(),
		},
	}

	err := app.Run(reorderOptions(app, args))
	if errno, ok := err.(syscall.Errno); ok && errno == 0 {
		err = nil
	}

	return err
}

// reorderOptions moves global options in front of the command and the
// command's options in front of its arguments, so "relays serve -v" and
// "relays upload a.nc --site x" parse as expected.
func reorderOptions(app *cli.App, args []string) []string {
	globals := append(append([]cli.Flag(nil), app.Flags...), cli.VersionFlag)
	opts, rest := splitOptions(globals, args[1:], false)
	out := append([]string{args[0]}, opts...)
	if len(rest) == 0 {
		return out
	}
	cmd := app.Command(rest[0])
	if cmd == nil {
		return append(out, rest...)
	}
	// -h is valid for all the commands
	cmdFlags := append(append([]cli.Flag(nil), cmd.Flags...), cli.HelpFlag)
	opts, operands := splitOptions(cmdFlags, rest[1:], true)
	out = append(out, rest[0])
	out = append(out, opts...)
	return append(out, operands...)
}

// splitOptions separates the options of flags, with their values, from the
// other arguments. A command (strict) rejects options it does not know.
func splitOptions(flags []cli.Flag, args []string, strict bool) (opts, others []string) {
	completing := internal.StringContains(args, "--generate-bash-completion")
	for i := 0; i < len(args); i++ {
		arg := args[i]
		known, hasValue := isFlag(flags, arg)
		if !known {
			if strict && !completing && strings.HasPrefix(arg, "-") {
				logger.Fatalf("unknown option: %s", arg)
			}
			others = append(others, arg)
			continue
		}
		opts = append(opts, arg)
		if !hasValue {
			continue
		}
		if i+1 < len(args) {
			i++
			opts = append(opts, args[i])
		} else if !strict {
			logger.Fatalf("option %s requires value", arg)
		}
	}
	return opts, others
}

func isFlag(flags []cli.Flag, option string) (bool, bool) {
	if !strings.HasPrefix(option, "-") {
		return false, false
	}
	option = strings.TrimLeft(option, "-")
	for _, flag := range flags {
		_, isBool := flag.(*cli.BoolFlag)
		for _, name := range flag.Names() {
			if option == name || strings.HasPrefix(option, name+"=") {
				return true, !isBool && !strings.Contains(option, "=")
			}
		}
	}
	return false, false
}
