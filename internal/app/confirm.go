package app

import (
	"fmt"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/fatih/color"

	"disksanitizer/internal/system"
)

// Confirmer asks the operator to approve the destructive stage.
type Confirmer func(dev system.Device) (bool, error)

// SurveyConfirm asks a yes/no question and then requires the device path to
// be typed back.
func SurveyConfirm(dev system.Device) (bool, error) {
	color.Red("\nWARNING: every byte on %s (%s %s, %s) will be destroyed",
		dev.Path, dev.Model, dev.Serial, humanBytes(dev.SizeBytes))

	proceed := false
	if err := survey.AskOne(&survey.Confirm{Message: "Erase this device?", Default: false}, &proceed); err != nil {
		return false, err
	}
	if !proceed {
		return false, nil
	}

	typed := ""
	prompt := &survey.Input{Message: fmt.Sprintf("Type %s to confirm:", dev.Path)}
	if err := survey.AskOne(prompt, &typed); err != nil {
		return false, err
	}
	return strings.TrimSpace(typed) == dev.Path, nil
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
