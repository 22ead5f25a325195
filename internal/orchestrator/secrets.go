package orchestrator

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"

	"github.com/borgsave/borgsave/internal/config"
	"github.com/borgsave/borgsave/internal/logging"
)

// sealedExtension marks passphrase files encrypted with the master key.
const sealedExtension = ".age"

// ResolveSecrets fills in the passphrase for every repository configured
// with a passphrase file. Plain files are read as-is; files with the .age
// extension are decrypted with the master passphrase from MASTER_KEY_FILE.
// Runs before the lock is taken, so a missing or wrong key aborts the run
// without side effects.
func ResolveSecrets(cfg *config.Config, logger *logging.Logger) error {
	var masterPassphrase string

	for i := range cfg.Repositories {
		repo := &cfg.Repositories[i]
		if repo.PassphraseFile == "" {
			continue
		}

		if !strings.HasSuffix(repo.PassphraseFile, sealedExtension) {
			data, err := os.ReadFile(repo.PassphraseFile)
			if err != nil {
				return fmt.Errorf("cannot read passphrase file for %s: %w", repo.URL, err)
			}
			repo.Passphrase = strings.TrimSpace(string(data))
			continue
		}

		if masterPassphrase == "" {
			var err error
			if masterPassphrase, err = readMasterPassphrase(cfg.MasterKeyFile); err != nil {
				return err
			}
		}

		passphrase, err := UnsealFile(repo.PassphraseFile, masterPassphrase)
		if err != nil {
			return fmt.Errorf("cannot unseal passphrase for %s: %w", repo.URL, err)
		}
		repo.Passphrase = passphrase
		logger.Debug("Unsealed passphrase file %s", repo.PassphraseFile)
	}
	return nil
}

func readMasterPassphrase(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("sealed passphrase files require MASTER_KEY_FILE")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("cannot read MASTER_KEY_FILE: %w", err)
	}
	passphrase := strings.TrimSpace(string(data))
	if passphrase == "" {
		return "", fmt.Errorf("MASTER_KEY_FILE %s is empty", path)
	}
	return passphrase, nil
}

// UnsealFile decrypts an age-sealed passphrase file with the master
// passphrase and returns its trimmed content.
func UnsealFile(path, masterPassphrase string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	identity, err := age.NewScryptIdentity(masterPassphrase)
	if err != nil {
		return "", err
	}
	reader, err := age.Decrypt(file, identity)
	if err != nil {
		return "", err
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(plaintext)), nil
}

// SealSecret encrypts a secret to the master passphrase and writes it to
// path with 0600 permissions. Used by --protect-secrets to convert plain
// passphrase files into sealed ones.
func SealSecret(path, secret, masterPassphrase string) error {
	recipient, err := age.NewScryptRecipient(masterPassphrase)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	writer, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(writer, secret); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0600)
}
