package cmd

import (
	"fmt"

	"github.com/fatih/color"

	"github.com/JakeFAU/savecodenow/internal/savecode"
)

func colorTaskStatus(s savecode.TaskStatus) string {
	label := fmt.Sprintf("%-17s", s)
	switch s {
	case savecode.TaskSucceeded:
		return color.New(color.FgGreen).Sprint(label)
	case savecode.TaskFailed:
		return color.New(color.FgRed).Sprint(label)
	case savecode.TaskRunning, savecode.TaskScheduled:
		return color.New(color.FgBlue).Sprint(label)
	default:
		return color.New(color.FgYellow).Sprint(label)
	}
}

func colorRequestStatus(s savecode.RequestStatus) string {
	label := fmt.Sprintf("%-8s", s)
	switch s {
	case savecode.RequestAccepted:
		return color.New(color.FgGreen).Sprint(label)
	case savecode.RequestRejected:
		return color.New(color.FgRed).Sprint(label)
	default:
		return color.New(color.FgYellow).Sprint(label)
	}
}
