// Command ninepctl manipulates a local namespace facade (section 4.13):
// one-shot subcommands for mount/ls/cat/write, plus an interactive shell
// for driving several operations against the same facade in one
// process, the local equivalent of attaching once and issuing many
// walks.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/sandia-minimega/ninepd/pkg/ninefs/hostfs"
	"github.com/sandia-minimega/ninepd/pkg/ninewire"
	"github.com/sandia-minimega/ninepd/pkg/nsfacade"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var uname string
	facade := nsfacade.New("")

	root := &cobra.Command{
		Use:   "ninepctl",
		Short: "inspect and manipulate a local 9P namespace",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			facade.Uname = uname
		},
	}
	root.PersistentFlags().StringVar(&uname, "uname", os.Getenv("USER"), "identity to present for create/write")

	root.AddCommand(newMountCmd(facade))
	root.AddCommand(newLsCmd(facade))
	root.AddCommand(newCatCmd(facade))
	root.AddCommand(newWriteCmd(facade))
	root.AddCommand(newShellCmd(facade))
	return root
}

func newMountCmd(facade *nsfacade.Facade) *cobra.Command {
	return &cobra.Command{
		Use:   "mount <prefix> <host-dir>",
		Short: "mount a host directory under a logical prefix",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			facade.Mount(args[0], hostfs.New(args[1]))
			return nil
		},
	}
}

func newLsCmd(facade *nsfacade.Facade) *cobra.Command {
	return &cobra.Command{
		Use:   "ls <path>",
		Short: "list a directory's entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLs(context.Background(), facade, args[0], cmd.OutOrStdout())
		},
	}
}

func newCatCmd(facade *nsfacade.Facade) *cobra.Command {
	return &cobra.Command{
		Use:   "cat <path>",
		Short: "print a file's contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCat(context.Background(), facade, args[0], cmd.OutOrStdout())
		},
	}
}

func newWriteCmd(facade *nsfacade.Facade) *cobra.Command {
	return &cobra.Command{
		Use:   "write <path> <text>",
		Short: "create (if needed) and write text to a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(context.Background(), facade, args[0], args[1])
		},
	}
}

func newShellCmd(facade *nsfacade.Facade) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "interactive namespace shell",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(facade)
		},
	}
}

// runLs opens path and decodes the directory's consecutive Stat records,
// reading in 8192-byte chunks until a read returns no bytes (the
// directory-read-as-pure-function-of-offset convention every backend in
// pkg/ninefs follows).
func runLs(ctx context.Context, facade *nsfacade.Facade, path string, out io.Writer) error {
	h, err := facade.Open(ctx, path, ninewire.OREAD)
	if err != nil {
		return err
	}
	defer h.Close(ctx)

	buf := make([]byte, 8192)
	for {
		n, err := h.Read(ctx, buf)
		if n == 0 && err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		off := 0
		for off < n {
			st, consumed, derr := ninewire.DecodeStat(buf[off:n])
			if derr != nil {
				return derr
			}
			kind := "-"
			if st.Mode&ninewire.DMDIR != 0 {
				kind = "d"
			}
			fmt.Fprintf(out, "%s %8d %s\n", kind, st.Length, st.Name)
			off += consumed
		}
		if n == 0 {
			return nil
		}
	}
}

func runCat(ctx context.Context, facade *nsfacade.Facade, path string, out io.Writer) error {
	h, err := facade.Open(ctx, path, ninewire.OREAD)
	if err != nil {
		return err
	}
	defer h.Close(ctx)

	buf := make([]byte, 8192)
	for {
		n, err := h.Read(ctx, buf)
		if n > 0 {
			out.Write(buf[:n])
		}
		if err != nil || n == 0 {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

func runWrite(ctx context.Context, facade *nsfacade.Facade, path, text string) error {
	dir := "/"
	name := path
	if i := strings.LastIndex(path, "/"); i >= 0 {
		dir = path[:i]
		name = path[i+1:]
	}

	h, err := facade.Create(ctx, dir, name, 0644, ninewire.OWRITE)
	if err != nil {
		return err
	}
	defer h.Close(ctx)

	_, err = h.Write(ctx, []byte(text))
	return err
}

// runShell drives the same subcommands interactively over a liner
// readline session, so a user can mount several trees and poke around
// without re-invoking the binary each time.
func runShell(facade *nsfacade.Facade) error {
	ctx := context.Background()
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	for {
		input, err := line.Prompt("ninepctl> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				return nil
			}
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		fields := strings.Fields(input)
		if err := dispatchShellLine(ctx, facade, fields); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

func dispatchShellLine(ctx context.Context, facade *nsfacade.Facade, fields []string) error {
	if len(fields) == 0 {
		return nil
	}
	switch fields[0] {
	case "mount":
		if len(fields) != 3 {
			return fmt.Errorf("usage: mount <prefix> <host-dir>")
		}
		facade.Mount(fields[1], hostfs.New(fields[2]))
		return nil
	case "unmount":
		if len(fields) != 2 {
			return fmt.Errorf("usage: unmount <prefix>")
		}
		facade.Unmount(fields[1])
		return nil
	case "ls":
		if len(fields) != 2 {
			return fmt.Errorf("usage: ls <path>")
		}
		return runLs(ctx, facade, fields[1], os.Stdout)
	case "cat":
		if len(fields) != 2 {
			return fmt.Errorf("usage: cat <path>")
		}
		return runCat(ctx, facade, fields[1], os.Stdout)
	case "write":
		if len(fields) < 3 {
			return fmt.Errorf("usage: write <path> <text...>")
		}
		return runWrite(ctx, facade, fields[1], strings.Join(fields[2:], " "))
	case "exit", "quit":
		os.Exit(0)
		return nil
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}
