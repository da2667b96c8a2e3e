package cli

import (
	"fmt"

	"github.com/fatih/color"

	"github.com/synod/synod/internal/health"
)

func printHeader(title string) {
	fmt.Println(color.CyanString(logo))
	if title != "" {
		fmt.Println(title)
		fmt.Println("─────────────────────")
	}
}

func circuitString(c health.Circuit) string {
	if c == health.CircuitClosed {
		return color.GreenString("up")
	}
	return color.RedString("down")
}
