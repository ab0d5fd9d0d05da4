package cli

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/platinummonkey/gatekeeper/pkg/auth"
	"golang.org/x/crypto/bcrypt"
)

// stdin is where "-" secrets are read from
var stdin io.Reader = os.Stdin

func newHashPasswordCommand() *Command {
	return &Command{
		Name:        "hash-password",
		Description: "Print the bcrypt hash of a password",
		Flags:       flag.NewFlagSet("hash-password", flag.ContinueOnError),
		Run:         runHashPassword,
	}
}

func runHashPassword(args []string) error {
	flags := flag.NewFlagSet("hash-password", flag.ContinueOnError)
	password := flags.String("password", "-", "Password to hash, or - to read one line from stdin")
	cost := flags.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	if err := flags.Parse(args); err != nil {
		return err
	}

	secret, err := readSecret(*password)
	if err != nil {
		return err
	}
	hash, err := auth.HashPasswordWithCost(secret, *cost)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, hash)
	return nil
}

// readSecret returns value, or the first line of stdin when value is "-"
func readSecret(value string) (string, error) {
	if value != "-" {
		return value, nil
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read from stdin: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", fmt.Errorf("empty password")
	}
	return line, nil
}
