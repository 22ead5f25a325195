package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"github.com/borgsave/borgsave/internal/config"
	"github.com/borgsave/borgsave/internal/input"
	"github.com/borgsave/borgsave/internal/logging"
	"github.com/borgsave/borgsave/internal/orchestrator"
	"github.com/borgsave/borgsave/pkg/utils"
)

// protectSecrets seals every inline or plain-file repository passphrase
// into an age-encrypted file next to the configuration and writes an
// updated copy of backup.env as backup.env.sealed. The original config is
// never touched; the operator reviews and moves the sealed copy into place.
func protectSecrets(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	masterPassphrase, err := masterPassphraseForSealing(ctx, cfg)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("cannot read config %s: %w", cfg.ConfigPath, err)
	}
	rendered := string(raw)

	configDir := filepath.Dir(cfg.ConfigPath)
	sealed := 0

	for i := range cfg.Repositories {
		repo := &cfg.Repositories[i]
		n := i + 1

		var secret string
		switch {
		case repo.Passphrase != "":
			secret = repo.Passphrase
		case repo.PassphraseFile != "" && !strings.HasSuffix(repo.PassphraseFile, ".age"):
			data, err := os.ReadFile(repo.PassphraseFile)
			if err != nil {
				return fmt.Errorf("repository %d: cannot read %s: %w", n, repo.PassphraseFile, err)
			}
			secret = strings.TrimSpace(string(data))
		default:
			logger.Skip("Repository %d (%s): nothing to seal", n, repo.URL)
			continue
		}

		target := filepath.Join(configDir, fmt.Sprintf("repo%d.age", n))
		if err := orchestrator.SealSecret(target, secret, masterPassphrase); err != nil {
			return fmt.Errorf("repository %d: %w", n, err)
		}
		logger.Info("Sealed passphrase for repository %d into %s", n, target)
		rendered = utils.SetEnvValue(rendered, fmt.Sprintf("REPOSITORY_%d_PASSPHRASE_FILE", n), target)
		if repo.Passphrase != "" {
			rendered = utils.SetEnvValue(rendered, fmt.Sprintf("REPOSITORY_%d_PASSPHRASE", n), "")
		}
		sealed++
	}

	if sealed == 0 {
		logger.Warning("No repository passphrases found to seal")
		return nil
	}

	sealedPath := cfg.ConfigPath + ".sealed"
	if err := os.WriteFile(sealedPath, []byte(rendered), 0600); err != nil {
		return fmt.Errorf("cannot write %s: %w", sealedPath, err)
	}
	logger.Info("Sealed %d passphrase(s). Review %s and move it over %s.",
		sealed, sealedPath, cfg.ConfigPath)
	return nil
}

// masterPassphraseForSealing takes the master passphrase from
// MASTER_KEY_FILE when configured, otherwise prompts for it twice.
func masterPassphraseForSealing(ctx context.Context, cfg *config.Config) (string, error) {
	if cfg.MasterKeyFile != "" {
		data, err := os.ReadFile(cfg.MasterKeyFile)
		if err != nil {
			return "", fmt.Errorf("cannot read MASTER_KEY_FILE: %w", err)
		}
		passphrase := strings.TrimSpace(string(data))
		if passphrase == "" {
			return "", fmt.Errorf("MASTER_KEY_FILE %s is empty", cfg.MasterKeyFile)
		}
		return passphrase, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no MASTER_KEY_FILE configured and stdin is not a terminal")
	}

	fmt.Print("Master passphrase: ")
	first, err := input.ReadPasswordWithContext(ctx, term.ReadPassword, fd)
	fmt.Println()
	if err != nil {
		return "", err
	}
	fmt.Print("Repeat master passphrase: ")
	second, err := input.ReadPasswordWithContext(ctx, term.ReadPassword, fd)
	fmt.Println()
	if err != nil {
		return "", err
	}

	if string(first) != string(second) {
		return "", fmt.Errorf("passphrases do not match")
	}
	if len(first) == 0 {
		return "", fmt.Errorf("master passphrase must not be empty")
	}
	return string(first), nil
}
