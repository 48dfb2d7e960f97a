package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"searchchat/internal/infra/config"
)

// runEncrypt prints the "enc:" form of a secret for use in config.yaml. The
// secret comes from the first argument, or from the first line of in.
func runEncrypt(args []string, in io.Reader, out io.Writer) error {
	passphrase := os.Getenv("SEARCHCHAT_CONFIG_KEY")
	if passphrase == "" {
		return errors.New("SEARCHCHAT_CONFIG_KEY is not set")
	}

	var secret string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		secret = args[0]
	} else {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read secret: %w", err)
		}
		secret = strings.TrimRight(line, "\r\n")
	}
	if secret == "" {
		return errors.New("no secret given")
	}

	enc, err := config.EncryptValue(secret, passphrase)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "enc:%s\n", enc)
	return err
}
