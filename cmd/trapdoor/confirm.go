package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// confirmFullAccess requires an explicit "yes" before the gateway starts
// with delete and exec enabled. Anything else, including EOF from a
// non-interactive stdin, aborts.
func confirmFullAccess(in io.Reader, out io.Writer) bool {
	fmt.Fprint(out, `
WARNING: full access lets a remote caller

  - delete any file or directory your user can delete
  - run any command your user can run

on this machine. Only continue if you trust the party holding the token.

Type 'yes' to continue: `)

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	return strings.TrimSpace(line) == "yes"
}
