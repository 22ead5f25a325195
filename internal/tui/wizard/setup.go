// Package wizard implements the interactive --setup flow that generates a
// backup.env configuration file.
package wizard

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rivo/tview"

	"github.com/borgsave/borgsave/internal/tui"
	"github.com/borgsave/borgsave/internal/tui/components"
)

// Form field labels double as the keys of the values map.
const (
	FieldPrefix      = "Backup name prefix"
	FieldWorkspace   = "Workspace path"
	FieldPools       = "ZFS pools (comma separated)"
	FieldDirectories = "Directories (comma separated)"
	FieldRepoURL     = "Repository URL"
	FieldPassphrase  = "Repository passphrase"
	FieldKeepDaily   = "Keep daily"
	FieldKeepWeekly  = "Keep weekly"
	FieldKeepMonthly = "Keep monthly"
	FieldKeepYearly  = "Keep yearly"
	FieldCompact     = "Run borg compact"
	FieldVerifyData  = "Verify data on check"
	FieldEmail       = "Email recipients (comma separated)"
	FieldDelivery    = "Email delivery"
)

// ValidateRequired rejects blank values.
func ValidateRequired(label string) components.ValidatorFunc {
	return func(value string) error {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s must not be empty", label)
		}
		return nil
	}
}

// ValidateNonNegativeInt rejects values that are not integers >= 0.
func ValidateNonNegativeInt(label string) components.ValidatorFunc {
	return func(value string) error {
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return fmt.Errorf("%s must be a non-negative number", label)
		}
		return nil
	}
}

// RunSetupWizard shows the configuration form and writes backup.env to
// configPath on submit. Cancel leaves the file untouched.
func RunSetupWizard(ctx context.Context, configPath string) error {
	tui.SetAbortContext(ctx)
	app := tui.NewApp()

	var submitted bool

	status := tview.NewTextView().SetDynamicColors(false)

	form := components.NewForm(app).
		AddInputFieldWithValidation(FieldPrefix, "linux-backup", 40, ValidateRequired(FieldPrefix)).
		AddInputFieldWithValidation(FieldWorkspace, "/tmp/borgsave", 40, ValidateRequired(FieldWorkspace)).
		AddInputFieldWithValidation(FieldPools, "", 40).
		AddInputFieldWithValidation(FieldDirectories, "", 40).
		AddInputFieldWithValidation(FieldRepoURL, "", 40, ValidateRequired(FieldRepoURL)).
		AddPasswordField(FieldPassphrase, 40).
		AddInputFieldWithValidation(FieldKeepDaily, "7", 6, ValidateNonNegativeInt(FieldKeepDaily)).
		AddInputFieldWithValidation(FieldKeepWeekly, "4", 6, ValidateNonNegativeInt(FieldKeepWeekly)).
		AddInputFieldWithValidation(FieldKeepMonthly, "6", 6, ValidateNonNegativeInt(FieldKeepMonthly)).
		AddInputFieldWithValidation(FieldKeepYearly, "2", 6, ValidateNonNegativeInt(FieldKeepYearly)).
		AddInputFieldWithValidation(FieldEmail, "", 40).
		SetStatusView(status)

	form.AddCheckbox(FieldCompact, true, nil)
	form.AddCheckbox(FieldVerifyData, true, nil)
	form.AddDropDown(FieldDelivery, []string{"sendmail", "smtp"}, 0, nil)

	form.SetOnSubmit(func(values map[string]string) error {
		if err := writeEnvFile(configPath, RenderEnv(values)); err != nil {
			return err
		}
		submitted = true
		return nil
	}).
		AddSubmitButton("Save").
		AddCancelButton("Cancel").
		SetBorderWithTitle("borgsave setup")

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(form, 0, 1, true).
		AddItem(status, 1, 0, false)

	app.SetRoot(layout, true)
	if err := app.Run(); err != nil {
		return fmt.Errorf("setup wizard: %w", err)
	}
	if !submitted {
		return fmt.Errorf("setup cancelled, %s not written", configPath)
	}
	return nil
}

// RenderEnv converts the wizard's values into backup.env content.
func RenderEnv(values map[string]string) string {
	var b strings.Builder

	b.WriteString("# borgsave configuration generated by --setup\n\n")
	fmt.Fprintf(&b, "BACKUP_NAME_PREFIX=%s\n", strings.TrimSpace(values[FieldPrefix]))
	fmt.Fprintf(&b, "WORKSPACE_PATH=%s\n", strings.TrimSpace(values[FieldWorkspace]))
	b.WriteString("\n")

	for _, dir := range splitList(values[FieldDirectories]) {
		fmt.Fprintf(&b, "BACKUP_DIRECTORIES=%s\n", dir)
	}
	for _, pool := range splitList(values[FieldPools]) {
		fmt.Fprintf(&b, "ZFS_POOLS=%s\n", pool)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "REPOSITORY_1_URL=%s\n", strings.TrimSpace(values[FieldRepoURL]))
	if passphrase := values[FieldPassphrase]; passphrase != "" {
		b.WriteString("REPOSITORY_1_ENCRYPTION=repokey\n")
		fmt.Fprintf(&b, "REPOSITORY_1_PASSPHRASE=%s\n", passphrase)
	} else {
		b.WriteString("REPOSITORY_1_ENCRYPTION=none\n")
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "PRUNE_KEEP_DAILY=%s\n", strings.TrimSpace(values[FieldKeepDaily]))
	fmt.Fprintf(&b, "PRUNE_KEEP_WEEKLY=%s\n", strings.TrimSpace(values[FieldKeepWeekly]))
	fmt.Fprintf(&b, "PRUNE_KEEP_MONTHLY=%s\n", strings.TrimSpace(values[FieldKeepMonthly]))
	fmt.Fprintf(&b, "PRUNE_KEEP_YEARLY=%s\n", strings.TrimSpace(values[FieldKeepYearly]))
	fmt.Fprintf(&b, "ENABLE_COMPACT=%s\n", values[FieldCompact])
	fmt.Fprintf(&b, "CHECK_VERIFY_DATA=%s\n", values[FieldVerifyData])
	b.WriteString("\n")

	recipients := splitList(values[FieldEmail])
	if len(recipients) == 0 {
		b.WriteString("EMAIL_ENABLED=false\n")
	} else {
		b.WriteString("EMAIL_ENABLED=true\n")
		for _, recipient := range recipients {
			fmt.Fprintf(&b, "EMAIL_RECIPIENTS=%s\n", recipient)
		}
		delivery := values[FieldDelivery]
		if delivery == "" {
			delivery = "sendmail"
		}
		fmt.Fprintf(&b, "EMAIL_DELIVERY_METHOD=%s\n", delivery)
	}
	return b.String()
}

func splitList(value string) []string {
	var result []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}

func writeEnvFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	// The file may hold passphrases.
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	return nil
}
