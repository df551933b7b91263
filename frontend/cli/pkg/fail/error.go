package fail

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/furisto/cadence/backend/budget"
	"github.com/furisto/cadence/backend/checkpoint"
	"github.com/furisto/cadence/backend/env"
	"github.com/furisto/cadence/backend/model"
	"github.com/furisto/cadence/frontend/cli/pkg/terminal"
	"github.com/furisto/cadence/shared"
	"github.com/furisto/cadence/shared/keyring"
)

type UserError struct {
	Cause       error
	UserMessage string
	Solutions   []string
	TechDetails string
}

func (e *UserError) Error() string {
	var msg strings.Builder

	msg.WriteString(fmt.Sprintf("%s %s\n\n", terminal.ErrorSymbol, terminal.Bold(e.UserMessage)))

	if len(e.Solutions) > 0 {
		msg.WriteString(fmt.Sprintf("%s Try these solutions:\n", terminal.InfoSymbol))
		for i, solution := range e.Solutions {
			msg.WriteString(fmt.Sprintf("  %d. %s\n", i+1, solution))
		}
		msg.WriteString("\n")
	}

	if e.TechDetails != "" {
		msg.WriteString(fmt.Sprintf("Technical details: %s\n", e.TechDetails))
	}

	return msg.String()
}

func (e *UserError) Unwrap() error {
	return e.Cause
}

func NewPermissionError(path string, err error) *UserError {
	return &UserError{
		Cause:       err,
		UserMessage: fmt.Sprintf("Permission denied accessing %s", path),
		Solutions: []string{
			"Check file permissions and ownership",
			"Ensure you have write access to the log directory",
		},
		TechDetails: err.Error(),
	}
}

func NewBudgetError(err error) *UserError {
	return &UserError{
		Cause:       err,
		UserMessage: "The budget settings do not fit the agent mode",
		Solutions: []string{
			"Planning agents need --internal 0",
			"Agile and reactive agents need an internal budget above 0",
			"The internal budget may not exceed the per-tick budget",
		},
		TechDetails: err.Error(),
	}
}

func NewDesyncError(err error) *UserError {
	return &UserError{
		Cause:       err,
		UserMessage: "The checkpoint does not replay to the logged episode",
		Solutions: []string{
			"Resume with the same game, cognitive load and seeds as the checkpoint run",
			"Make sure the checkpoint directory belongs to the setting being resumed",
		},
		TechDetails: err.Error(),
	}
}

func NewAuthenticationError(err error) *UserError {
	return &UserError{
		Cause:       err,
		UserMessage: "The model provider rejected the API key",
		Solutions: []string{
			"Export the provider's API key, e.g. DEEPSEEK_API_KEY",
			"Set api_key_env in the config to the variable holding the key",
			"Store the key in the system keyring under the provider name",
		},
		TechDetails: err.Error(),
	}
}

// EnhanceError turns known failures into UserErrors; anything else is
// returned unchanged.
func EnhanceError(err error) error {
	if err == nil {
		return nil
	}

	var userErr *UserError
	if errors.As(err, &userErr) {
		return err
	}

	switch {
	case errors.Is(err, budget.ErrInternalExceedsBudget),
		errors.Is(err, budget.ErrPlanningInternalBudget),
		errors.Is(err, budget.ErrMissingInternalBudget),
		errors.Is(err, budget.ErrNonPositiveBudget):
		return NewBudgetError(err)
	case errors.Is(err, checkpoint.ErrDesync):
		return NewDesyncError(err)
	case errors.Is(err, env.ErrUnknownEnvironment):
		return &UserError{
			Cause:       err,
			UserMessage: "Unknown game",
			Solutions:   []string{"Run 'cadence envs' to list the available games"},
			TechDetails: err.Error(),
		}
	case errors.Is(err, &keyring.ErrSecretTooLarge{}):
		return &UserError{
			Cause:       err,
			UserMessage: "The API key is too large for the system keyring",
			Solutions:   []string{"Export the key in the provider's environment variable instead"},
			TechDetails: err.Error(),
		}
	case errors.Is(err, &keyring.ErrSecretNotFound{}):
		return &UserError{
			Cause:       err,
			UserMessage: "No API key is stored for this provider",
			Solutions:   []string{"Store one with 'cadence config set-key <provider>'"},
			TechDetails: err.Error(),
		}
	case errors.Is(err, os.ErrPermission):
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			return NewPermissionError(pathErr.Path, err)
		}
	}

	var providerErr *model.ProviderError
	if errors.As(err, &providerErr) && providerErr.Kind == model.ProviderErrorKindAuthentication {
		return NewAuthenticationError(err)
	}

	if shared.SourceOf(err) == shared.ErrorSourceConfig {
		return &UserError{
			Cause:       err,
			UserMessage: "The configuration is invalid",
			Solutions: []string{
				"Run 'cadence config show' to inspect the effective configuration",
				"Run 'cadence config validate' after editing it",
			},
			TechDetails: err.Error(),
		}
	}
	return err
}
