package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"ChunkVault/pkg/transfer"

	"github.com/spf13/cobra"
)

func shellCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive prompt: read, upload, delete and list keys.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.shell(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, "?\t- Print this help")
	fmt.Fprintln(w, "r\t- Read a key")
	fmt.Fprintln(w, "u\t- Upload file for a new key")
	fmt.Fprintln(w, "p\t- Delete a key")
	fmt.Fprintln(w, "d\t- Display keys")
	fmt.Fprintln(w, "q\t- Quit")
}

// shell runs the command loop until q or end of input. Operation errors are
// printed and the loop continues.
func (a *app) shell(ctx context.Context, in io.Reader, w io.Writer) error {
	sc := bufio.NewScanner(in)
	prompt := func(msg string) (string, bool) {
		fmt.Fprint(w, msg)
		if !sc.Scan() {
			return "", false
		}
		return strings.TrimSpace(sc.Text()), true
	}

	fmt.Fprintf(w, "Chunk size: %d bytes\n", a.orch.ChunkSize())
	for {
		if ctx.Err() != nil {
			break
		}
		fmt.Fprintln(w, "\nCommands:")
		printHelp(w)
		choice, ok := prompt("Enter command (? for help): ")
		if !ok || choice == "q" {
			break
		}
		switch choice {
		case "?":
			printHelp(w)
		case "r":
			key, ok := prompt("Enter key to read: ")
			if !ok {
				break
			}
			if err := a.read(ctx, w, key, transfer.ReadOptions{}); err != nil {
				fmt.Fprintln(w, describe("reading", key, err))
			}
		case "u":
			key, ok := prompt("Enter new key: ")
			if !ok {
				break
			}
			path, ok := prompt("Enter path to file: ")
			if !ok {
				break
			}
			if err := a.upload(ctx, w, key, path); err != nil {
				fmt.Fprintln(w, describe("uploading", key, err))
			}
		case "p":
			key, ok := prompt("Enter key to delete: ")
			if !ok {
				break
			}
			if err := a.delete(ctx, w, key); err != nil {
				fmt.Fprintln(w, describe("deleting", key, err))
			}
		case "d":
			if err := a.listKeys(ctx, w); err != nil {
				fmt.Fprintln(w, describe("listing", "", err))
			}
		default:
			fmt.Fprintln(w, "Invalid command. Enter '?' for help.")
		}
	}
	fmt.Fprintln(w, "Program ended.")
	return sc.Err()
}
