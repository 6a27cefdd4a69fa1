// quill-hash derives or checks a stored credential with the same hasher the API uses.
//
//	quill-hash                     # prompt, print stored value
//	quill-hash -verify '<stored>'  # prompt, report match
//
// When stdin is not a terminal the password is read from its first line.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/MGallo-Code/quill/internal/password"
	"golang.org/x/term"
)

// Test seams for the terminal.
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

// errMismatch makes the process exit 1 without an extra message.
var errMismatch = errors.New("password does not match")

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errMismatch) {
			fmt.Fprintln(os.Stderr, "quill-hash:", err)
		}
		os.Exit(1)
	}
}

func run(args []string, stdin *os.File, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("quill-hash", flag.ContinueOnError)
	fs.SetOutput(stderr)
	iterations := fs.Int("iterations", defaultIterations(), "PBKDF2 iterations for new hashes (env PBKDF2_ITERATIONS)")
	verify := fs.String("verify", "", "stored value to check the password against")
	if err := fs.Parse(args); err != nil {
		return err
	}

	hasher, err := password.New(*iterations)
	if err != nil {
		return err
	}

	pw, err := readSecret(stdin, stderr)
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}
	if pw == "" {
		return errors.New("empty password")
	}

	if *verify != "" {
		if !hasher.Verify(pw, *verify) {
			fmt.Fprintln(stdout, "mismatch")
			return errMismatch
		}
		fmt.Fprintln(stdout, "match")
		if hasher.NeedsRehash(*verify) {
			fmt.Fprintf(stdout, "note: stored at a different cost than %d; rehashed on next sign-in\n", *iterations)
		}
		return nil
	}

	stored, err := hasher.Hash(pw)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, stored)
	return nil
}

// readSecret prompts without echo on a terminal, otherwise reads one line.
func readSecret(stdin *os.File, prompt io.Writer) (string, error) {
	fd := int(stdin.Fd())
	if isTerminal(fd) {
		fmt.Fprint(prompt, "Password: ")
		b, err := readPassword(fd)
		fmt.Fprintln(prompt)
		return string(b), err
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func defaultIterations() int {
	if v, err := strconv.Atoi(os.Getenv("PBKDF2_ITERATIONS")); err == nil && v > 0 {
		return v
	}
	return password.LegacyIterations
}
