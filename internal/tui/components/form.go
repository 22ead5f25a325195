// Package components provides reusable widgets built on tview.
package components

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/borgsave/borgsave/internal/tui"
)

// ValidatorFunc validates one input value.
type ValidatorFunc func(value string) error

// Form wraps tview.Form with borgsave styling, per-field validation and an
// inline status line for errors.
type Form struct {
	*tview.Form
	app        *tui.App
	validators map[string][]ValidatorFunc
	onSubmit   func(values map[string]string) error
	onCancel   func()
	status     *tview.TextView
}

// NewForm creates a styled form.
func NewForm(app *tui.App) *Form {
	form := tview.NewForm().
		SetButtonsAlign(tview.AlignCenter).
		SetButtonBackgroundColor(tui.AccentGreen).
		SetButtonTextColor(tcell.ColorWhite).
		SetLabelColor(tui.Light).
		SetFieldBackgroundColor(tui.Dark).
		SetFieldTextColor(tcell.ColorWhite)

	return &Form{
		Form:       form,
		app:        app,
		validators: make(map[string][]ValidatorFunc),
	}
}

// AddInputFieldWithValidation adds an input field with validators.
func (f *Form) AddInputFieldWithValidation(label, value string, fieldWidth int, validators ...ValidatorFunc) *Form {
	f.validators[label] = validators
	f.Form.AddInputField(label, value, fieldWidth, nil, nil)
	return f
}

// AddPasswordField adds a masked input field.
func (f *Form) AddPasswordField(label string, fieldWidth int, validators ...ValidatorFunc) *Form {
	f.validators[label] = validators
	f.Form.AddPasswordField(label, "", fieldWidth, '*', nil)
	return f
}

// SetOnSubmit sets the submit handler. Returning an error keeps the form
// open and shows the error in the status line.
func (f *Form) SetOnSubmit(handler func(values map[string]string) error) *Form {
	f.onSubmit = handler
	return f
}

// SetOnCancel sets the cancel handler.
func (f *Form) SetOnCancel(handler func()) *Form {
	f.onCancel = handler
	return f
}

// SetStatusView attaches a text view used for inline error display.
func (f *Form) SetStatusView(status *tview.TextView) *Form {
	f.status = status
	return f
}

func (f *Form) showError(message string) {
	if f.status != nil {
		f.status.SetTextColor(tui.ErrorRed)
		f.status.SetText(tui.SymbolError + " " + message)
	}
}

// AddSubmitButton adds the submit button wired to validation.
func (f *Form) AddSubmitButton(label string) *Form {
	f.Form.AddButton(label, func() {
		values := f.GetFormValues()
		if err := f.ValidateAll(values); err != nil {
			f.showError(err.Error())
			return
		}
		if f.onSubmit != nil {
			if err := f.onSubmit(values); err != nil {
				f.showError(err.Error())
				return
			}
		}
		f.app.Stop()
	})
	return f
}

// AddCancelButton adds the cancel button.
func (f *Form) AddCancelButton(label string) *Form {
	f.Form.AddButton(label, func() {
		if f.onCancel != nil {
			f.onCancel()
		}
		f.app.Stop()
	})
	return f
}

// GetFormValues extracts all form values keyed by field label.
func (f *Form) GetFormValues() map[string]string {
	values := make(map[string]string)
	for i := 0; i < f.Form.GetFormItemCount(); i++ {
		switch item := f.Form.GetFormItem(i).(type) {
		case *tview.InputField:
			values[item.GetLabel()] = item.GetText()
		case *tview.Checkbox:
			if item.IsChecked() {
				values[item.GetLabel()] = "true"
			} else {
				values[item.GetLabel()] = "false"
			}
		case *tview.DropDown:
			_, option := item.GetCurrentOption()
			values[item.GetLabel()] = option
		}
	}
	return values
}

// ValidateAll runs every registered validator.
func (f *Form) ValidateAll(values map[string]string) error {
	for label, validators := range f.validators {
		for _, validator := range validators {
			if err := validator(values[label]); err != nil {
				return err
			}
		}
	}
	return nil
}

// SetBorderWithTitle sets border and title with borgsave styling.
func (f *Form) SetBorderWithTitle(title string) *Form {
	f.Form.SetBorder(true).
		SetTitle(" " + title + " ").
		SetTitleAlign(tview.AlignCenter).
		SetTitleColor(tui.AccentGreen).
		SetBorderColor(tui.AccentGreen)
	return f
}
