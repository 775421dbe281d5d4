package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/suPer8Hu/shoshchat-widget/internal/chat"
)

var (
	timeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	userStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	botStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Italic(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func printHistory(out io.Writer, conv chat.Conversation) {
	if len(conv.Messages) == 0 {
		fmt.Fprintln(out, timeStyle.Render("(no messages)"))
		return
	}
	for _, m := range conv.Messages {
		printMessage(out, m)
	}
}

func printLast(out io.Writer, conv chat.Conversation) {
	if n := len(conv.Messages); n > 0 {
		printMessage(out, conv.Messages[n-1])
	}
	if conv.Error != "" {
		fmt.Fprintln(out, errorStyle.Render("! "+conv.Error))
	}
}

func printMessage(out io.Writer, m chat.Message) {
	fmt.Fprintln(out, renderMessage(m))
}

func renderMessage(m chat.Message) string {
	who := botStyle.Render(fmt.Sprintf("%-4s", m.Role))
	if m.Role == chat.RoleUser {
		who = userStyle.Render(fmt.Sprintf("%-4s", m.Role))
	}
	content := m.Content
	switch m.Status {
	case chat.StatusPending:
		content = pendingStyle.Render(content)
	case chat.StatusError:
		content = errorStyle.Render(content + " (error)")
	}
	return timeStyle.Render(m.CreatedAt.Local().Format("15:04:05")) + " " + who + ": " + content
}
