// Command akrelay is the interactive shell around the relay core: a cobra
// command tree re-executed one line at a time against a persistent
// supervisor, config, and transcript sink.
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/akrelay/akrelay/internal/config"
	"github.com/akrelay/akrelay/internal/delim"
	"github.com/akrelay/akrelay/internal/direction"
	"github.com/akrelay/akrelay/internal/hexcodec"
	"github.com/akrelay/akrelay/internal/replay"
	"github.com/akrelay/akrelay/internal/rewrite"
	"github.com/akrelay/akrelay/internal/supervisor"
)

// version is overridden at build time via -ldflags.
var version = "dev"

const configFileName = "akrelay.yaml"

func main() {
	logger := log.New(os.Stderr)
	sup := supervisor.New(logger)
	v := config.New()

	if err := applyPersistedConfig(sup, v); err != nil {
		logger.Warn("could not load config", "err", err)
	}

	root := newRootCmd(sup, v, logger)

	if len(os.Args) > 1 {
		root.SetArgs(os.Args[1:])
		if err := root.Execute(); err != nil {
			os.Exit(1)
		}
		return
	}

	repl(root, logger)
}

func applyPersistedConfig(sup *supervisor.Supervisor, v *viper.Viper) error {
	f, err := config.Load(v)
	if err != nil {
		return err
	}
	if f.PortA.Device != "" {
		if err := sup.SetPort(direction.A, f.PortA.Device, f.PortA.Baud); err != nil {
			return err
		}
	}
	if f.PortB.Device != "" {
		if err := sup.SetPort(direction.B, f.PortB.Device, f.PortB.Baud); err != nil {
			return err
		}
	}
	start, err := config.DelimiterSet(f.StartDelimiters)
	if err != nil {
		return err
	}
	end, err := config.DelimiterSet(f.EndDelimiters)
	if err != nil {
		return err
	}
	if len(start) > 0 || len(end) > 0 {
		if err := sup.SetDelimiters(start, end); err != nil {
			return err
		}
	}
	for _, dir := range []direction.Direction{direction.A, direction.B} {
		dc := f.A
		if dir == direction.B {
			dc = f.B
		}
		table, err := config.SubstitutionTable(dc.Substitution)
		if err != nil {
			return err
		}
		if len(table) > 0 {
			sup.SetSubstitution(dir, table)
		}
		if dc.Checksum != "" {
			method, err := config.ChecksumFromName(dc.Checksum)
			if err != nil {
				return err
			}
			sup.SetChecksum(dir, method)
		}
	}
	return nil
}

// repl reads commands line by line and re-executes the cobra tree for each,
// mirroring the original's interactive shell. Parsing errors print usage
// and return to the prompt rather than exiting the process.
func repl(root *cobra.Command, logger *log.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Fprint(os.Stdout, "akrelay> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "exit" || line == "quit" {
			return
		}
		if line != "" {
			args := strings.Fields(line)
			root.SetArgs(args)
			if err := root.Execute(); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
		}
		fmt.Fprint(os.Stdout, "akrelay> ")
	}
}

func newRootCmd(sup *supervisor.Supervisor, v *viper.Viper, logger *log.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "akrelay",
		Short:         "bidirectional serial relay and protocol inspector",
		SilenceUsage:  false,
		SilenceErrors: false,
	}

	root.AddCommand(
		listCmd(),
		portGetCmd(sup),
		portSetCmd(sup, v),
		delimGetCmd(sup),
		delimSetCmd(sup, v),
		replaceGetCmd(sup),
		replaceSetCmd(sup, v),
		checksumGetCmd(sup),
		checksumSetCmd(sup, v),
		captureStartCmd(sup),
		captureStopCmd(sup),
		captureDumpCmd(),
		startCmd(sup),
		stopCmd(sup),
		watchCmd(sup),
		replayCmd(sup),
		versionCmd(),
		exitCmd(),
	)
	return root
}

func listCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "enumerate candidate serial devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			// No portable port-enumeration library is wired in, so this
			// walks the conventional Linux tty device globs directly.
			var matches []string
			for _, pattern := range []string{"/dev/ttyUSB*", "/dev/ttyACM*", "/dev/ttyS*"} {
				m, _ := filepath.Glob(pattern)
				matches = append(matches, m...)
			}
			for _, m := range matches {
				if verbose {
					fmt.Fprintln(cmd.OutOrStdout(), m)
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), filepath.Base(m))
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print full device paths")
	return cmd
}

func parseDirArg(s string) (direction.Direction, error) {
	switch strings.ToUpper(s) {
	case "A":
		return direction.A, nil
	case "B":
		return direction.B, nil
	default:
		return 0, fmt.Errorf("direction must be A or B, got %q", s)
	}
}

func portGetCmd(sup *supervisor.Supervisor) *cobra.Command {
	return &cobra.Command{
		Use:   "portget",
		Short: "print configured ports",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := sup.Port(direction.A)
			b := sup.Port(direction.B)
			fmt.Fprintf(cmd.OutOrStdout(), "A: %s @ %d\n", a.Device, a.Baud)
			fmt.Fprintf(cmd.OutOrStdout(), "B: %s @ %d\n", b.Device, b.Baud)
			return nil
		},
	}
}

func portSetCmd(sup *supervisor.Supervisor, v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "portset <A|B> <device> <baud>",
		Short: "configure one side's device and baud rate",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := parseDirArg(args[0])
			if err != nil {
				return err
			}
			baud, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("bad baud rate %q", args[2])
			}
			if err := sup.SetPort(dir, args[1], baud); err != nil {
				return err
			}
			return persist(sup, v)
		},
	}
}

func delimGetCmd(sup *supervisor.Supervisor) *cobra.Command {
	return &cobra.Command{
		Use:   "delimget",
		Short: "print configured start/end delimiters",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end := sup.Delimiters()
			fmt.Fprintf(cmd.OutOrStdout(), "start: %s\n", formatDelimiters(start))
			fmt.Fprintf(cmd.OutOrStdout(), "end: %s\n", formatDelimiters(end))
			return nil
		},
	}
}

func formatDelimiters(ds []delim.Delimiter) string {
	parts := make([]string, len(ds))
	for i, d := range ds {
		parts[i] = hexcodec.FormatBytes(d)
	}
	return strings.Join(parts, ", ")
}

func delimSetCmd(sup *supervisor.Supervisor, v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "delimset <start|end> <hex…>[,<hex…>…]",
		Short: "configure the start or end delimiter set",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := hexcodec.ParseDelimiterSet(strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			start, end := sup.Delimiters()
			switch strings.ToLower(args[0]) {
			case "start":
				start = toDelimSlice(raw)
			case "end":
				end = toDelimSlice(raw)
			default:
				return fmt.Errorf("expected start or end, got %q", args[0])
			}
			if err := sup.SetDelimiters(start, end); err != nil {
				return err
			}
			return persist(sup, v)
		},
	}
}

func replaceGetCmd(sup *supervisor.Supervisor) *cobra.Command {
	return &cobra.Command{
		Use:   "replaceget <A|B>",
		Short: "print the substitution table for a source direction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := parseDirArg(args[0])
			if err != nil {
				return err
			}
			for _, p := range sup.Substitution(dir) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", hexcodec.FormatBytes(p.Match), hexcodec.FormatBytes(p.Replace))
			}
			return nil
		},
	}
}

func replaceSetCmd(sup *supervisor.Supervisor, v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "replaceset <A|B> <hex…> -> <hex…>",
		Short: "append a pattern substitution for a source direction",
		Args:  cobra.MinimumNArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := parseDirArg(args[0])
			if err != nil {
				return err
			}
			joined := strings.Join(args[1:], " ")
			parts := strings.SplitN(joined, "->", 2)
			if len(parts) != 2 {
				return fmt.Errorf("expected '<hex…> -> <hex…>'")
			}
			match, err := hexcodec.ParseBytes(parts[0])
			if err != nil {
				return err
			}
			replaceBytes, err := hexcodec.ParseBytes(parts[1])
			if err != nil {
				return err
			}
			table := append(sup.Substitution(dir), rewrite.Pattern{Match: match, Replace: replaceBytes})
			sup.SetSubstitution(dir, table)
			return persist(sup, v)
		},
	}
}

func checksumGetCmd(sup *supervisor.Supervisor) *cobra.Command {
	return &cobra.Command{
		Use:   "checksumget <A|B>",
		Short: "print the checksum method for a source direction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := parseDirArg(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sup.Checksum(dir).String())
			return nil
		},
	}
}

func checksumSetCmd(sup *supervisor.Supervisor, v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "checksumset <A|B> <name>",
		Short: "set the checksum method for a source direction",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := parseDirArg(args[0])
			if err != nil {
				return err
			}
			method, err := config.ChecksumFromName(args[1])
			if err != nil {
				return err
			}
			sup.SetChecksum(dir, method)
			return persist(sup, v)
		},
	}
}

func captureStartCmd(sup *supervisor.Supervisor) *cobra.Command {
	return &cobra.Command{
		Use:   "capturestart <file>",
		Short: "start writing the transcript to file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := sup.Sink().OpenCapture(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "capture session %s\n", id)
			return nil
		},
	}
}

func captureStopCmd(sup *supervisor.Supervisor) *cobra.Command {
	return &cobra.Command{
		Use:   "capturestop",
		Short: "stop the running capture, if any",
		RunE: func(cmd *cobra.Command, args []string) error {
			return sup.Sink().CloseCapture()
		},
	}
}

func captureDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "capturedump <file>",
		Short: "print a capture file with line numbers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return replay.DumpCapture(args[0], cmd.OutOrStdout())
		},
	}
}

func startCmd(sup *supervisor.Supervisor) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "open both ports and begin relaying",
		RunE: func(cmd *cobra.Command, args []string) error {
			return sup.Start()
		},
	}
}

func stopCmd(sup *supervisor.Supervisor) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "stop relaying and close both ports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return sup.Stop()
		},
	}
}

func watchCmd(sup *supervisor.Supervisor) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "toggle the live transcript display",
		RunE: func(cmd *cobra.Command, args []string) error {
			sup.Sink().SetWatching(!sup.Sink().Watching())
			fmt.Fprintf(cmd.OutOrStdout(), "watch: %v\n", sup.Sink().Watching())
			return nil
		},
	}
}

func replayCmd(sup *supervisor.Supervisor) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <file> [lines]",
		Short: "replay a captured file's selected lines into the relay",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			selector := ""
			if len(args) == 2 {
				selector = args[1]
			}
			return sup.Replay().Run(args[0], selector)
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the akrelay version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

func exitCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "exit",
		Aliases: []string{"quit"},
		Short:   "exit the shell",
		RunE: func(cmd *cobra.Command, args []string) error {
			os.Exit(0)
			return nil
		},
	}
}

func toDelimSlice(raw [][]byte) []delim.Delimiter {
	out := make([]delim.Delimiter, len(raw))
	for i, r := range raw {
		out[i] = delim.Delimiter(r)
	}
	return out
}

func persist(sup *supervisor.Supervisor, v *viper.Viper) error {
	path := configFileName
	f := config.File{
		PortA: config.Port{Device: sup.Port(direction.A).Device, Baud: sup.Port(direction.A).Baud},
		PortB: config.Port{Device: sup.Port(direction.B).Device, Baud: sup.Port(direction.B).Baud},
	}
	start, end := sup.Delimiters()
	for _, d := range start {
		f.StartDelimiters = append(f.StartDelimiters, hexcodec.FormatBytes(d))
	}
	for _, d := range end {
		f.EndDelimiters = append(f.EndDelimiters, hexcodec.FormatBytes(d))
	}
	f.A = toDirectionConfig(sup, direction.A)
	f.B = toDirectionConfig(sup, direction.B)
	return config.Save(v, f, path)
}

func toDirectionConfig(sup *supervisor.Supervisor, dir direction.Direction) config.DirectionConfig {
	var dc config.DirectionConfig
	for _, p := range sup.Substitution(dir) {
		dc.Substitution = append(dc.Substitution, config.Pattern{
			Match:   hexcodec.FormatBytes(p.Match),
			Replace: hexcodec.FormatBytes(p.Replace),
		})
	}
	dc.Checksum = sup.Checksum(dir).String()
	return dc
}
