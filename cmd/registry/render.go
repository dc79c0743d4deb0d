package main

import (
	"fmt"
	"strings"
	"time"

	"federegistry/pkg/auth"
	"federegistry/pkg/types"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	primaryColor   = lipgloss.Color("#FF79C6") // Pink
	secondaryColor = lipgloss.Color("#8BE9FD") // Cyan
	accentColor    = lipgloss.Color("#50FA7B") // Green
	dangerColor    = lipgloss.Color("#FF5555") // Red
	mutedColor     = lipgloss.Color("#6272A4")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(14)

	valueStyle = lipgloss.NewStyle().
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(accentColor).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(1, 2)
)

func field(label, value string) string {
	return labelStyle.Render(label) + valueStyle.Render(value)
}

func renderRecord(record types.UserRecord) string {
	lines := []string{
		titleStyle.Render("User " + string(record.UserID)),
		field("Core address", record.CoreAddr),
		field("Credential", credentialSummary(record.GuestJWT)),
	}
	return panelStyle.Render(strings.Join(lines, "\n"))
}

func renderRegistryOffer(user types.UserID, address, jwt string, validity time.Duration) string {
	lines := []string{
		titleStyle.Render("Registry " + string(user)),
		field("Address", address),
		field("Valid for", validity.String()),
		"",
		mutedStyle.Render("Add to a directory with:"),
		fmt.Sprintf("--registry %s=%s", address, jwt),
	}
	return panelStyle.Render(strings.Join(lines, "\n"))
}

// renderDirectory lists regs in order. The registry whose credential names
// self is marked as the node itself.
func renderDirectory(self types.UserID, regs types.Registries) string {
	if regs.Len() == 0 {
		return mutedStyle.Render("Directory is empty")
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#7571f9"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == 0:
				return lipgloss.NewStyle().
					Foreground(secondaryColor).
					Bold(true).
					Padding(0, 1)
			default:
				return lipgloss.NewStyle().
					Padding(0, 1)
			}
		}).
		Headers("#", "REGISTRY", "ADDRESS", "KIND", "CREDENTIAL")

	for i, reg := range regs.Registries {
		id, err := auth.DeriveIdentity(reg.GuestJWT)
		name := string(id)
		kind := "REMOTE"
		if err != nil {
			name = lipgloss.NewStyle().Foreground(dangerColor).Render("unreadable")
			kind = "-"
		} else if id == self {
			kind = lipgloss.NewStyle().Foreground(accentColor).Bold(true).Render("SELF")
		}
		t.Row(fmt.Sprintf("%d", i+1), name, reg.Address, kind, credentialSummary(reg.GuestJWT))
	}

	return titleStyle.Render(fmt.Sprintf("Directory of %s", self)) + "\n" + t.String()
}

// credentialSummary describes a guest credential without printing it.
func credentialSummary(jwt string) string {
	claims, err := auth.DecodeUnverified(jwt)
	if err != nil {
		return lipgloss.NewStyle().Foreground(dangerColor).Render("invalid")
	}
	if claims.ExpiresAt == nil {
		return "never expires"
	}
	expires := claims.ExpiresAt.Time
	if time.Now().After(expires) {
		return lipgloss.NewStyle().Foreground(dangerColor).Render("expired " + expires.Format(time.DateOnly))
	}
	return "expires " + expires.Format(time.DateOnly)
}
