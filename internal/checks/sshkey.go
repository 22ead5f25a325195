package checks

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"
)

// ValidateSSHKey verifies that path holds a parseable SSH private key, so a
// typo in REPOSITORY_<n>_SSH_KEY surfaces before the run instead of as a
// cryptic borg transport failure. Passphrase-protected keys are accepted;
// ssh-agent will handle those at connect time.
func ValidateSSHKey(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cannot read SSH key %s: %w", path, err)
	}

	if _, err := ssh.ParsePrivateKey(data); err != nil {
		var passphraseErr *ssh.PassphraseMissingError
		if errors.As(err, &passphraseErr) {
			return nil
		}
		return fmt.Errorf("invalid SSH key %s: %w", path, err)
	}
	return nil
}
