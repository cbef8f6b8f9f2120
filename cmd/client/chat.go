package main

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Avicted/roomchat/internal/identity"
	"github.com/Avicted/roomchat/internal/message"
	"github.com/Avicted/roomchat/internal/notify"
)

const (
	sendTimeout    = 10 * time.Second
	noticeLifetime = 4 * time.Second
	statusInterval = time.Second
)

type chatModel struct {
	app       *chatApp
	principal identity.Principal
	messages  []message.Message
	viewport  viewport.Model
	input     textinput.Model
	live      bool
	notice    *noticeMsg
	noticeSeq int
	// sending guards against a second Enter while a send is in flight.
	sending    bool
	loggingOut bool
	width      int
	height     int
}

type sendResultMsg struct {
	err error
}

type clearNoticeMsg struct {
	seq int
}

type statusTickMsg struct{}

func newChatModel(app *chatApp, principal identity.Principal, width, height int) chatModel {
	input := textinput.New()
	input.Placeholder = "type a message..."
	input.CharLimit = message.MaxBodyLength
	input.Width = clampMin(width-16, 20)
	input.Focus()

	vp := viewport.New(clampMin(width-4, 10), clampMin(height-7, 1))

	return chatModel{
		app:       app,
		principal: principal,
		viewport:  vp,
		input:     input,
		width:     width,
		height:    height,
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.scheduleStatusTick())
}

func (m chatModel) Update(msg tea.Msg) (chatModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateLayout()
		m.refreshViewport()
		return m, nil

	case messagesMsg:
		m.setMessages(msg)
		return m, nil

	case noticeMsg:
		cmd := m.showNotice(msg)
		return m, cmd

	case sendResultMsg:
		m.sending = false
		if msg.err != nil {
			level, text := sendFailureText(msg.err)
			cmd := m.showNotice(noticeMsg{level: level, text: text})
			return m, cmd
		}
		m.input.Reset()
		return m, nil

	case clearNoticeMsg:
		if msg.seq == m.noticeSeq {
			m.notice = nil
		}
		return m, nil

	case statusTickMsg:
		m.live = m.app.engine.Live()
		return m, m.scheduleStatusTick()

	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			cmd := m.sendCurrentMessage()
			return m, cmd

		case "ctrl+r":
			return m, m.reload()

		case "ctrl+l":
			m.loggingOut = true
			return m, nil

		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *chatModel) setMessages(msgs []message.Message) {
	m.messages = msgs
	m.refreshViewport()
}

func (m *chatModel) sendCurrentMessage() tea.Cmd {
	if m.sending {
		return nil
	}
	if _, ok := m.app.principal(); !ok {
		return m.showNotice(noticeMsg{level: notify.Error, text: "You must be signed in to send messages"})
	}
	body := m.input.Value()
	if strings.TrimSpace(body) == "" {
		return nil
	}
	m.sending = true
	app := m.app
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		return sendResultMsg{err: app.send(ctx, body)}
	}
}

func (m *chatModel) reload() tea.Cmd {
	app := m.app
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := app.reload(ctx); err != nil {
			// The engine already raised a notice for the failed fetch.
			return nil
		}
		return noticeMsg{level: notify.Info, text: "Messages reloaded"}
	}
}

func (m *chatModel) showNotice(n noticeMsg) tea.Cmd {
	m.noticeSeq++
	m.notice = &n
	seq := m.noticeSeq
	return tea.Tick(noticeLifetime, func(time.Time) tea.Msg {
		return clearNoticeMsg{seq: seq}
	})
}

func (m chatModel) scheduleStatusTick() tea.Cmd {
	return tea.Tick(statusInterval, func(time.Time) tea.Msg {
		return statusTickMsg{}
	})
}

func (m *chatModel) isMyMessage(msg message.Message) bool {
	return m.principal.UserID != "" && msg.AuthorID == m.principal.UserID
}

func (m *chatModel) refreshViewport() {
	m.viewport.SetContent(m.renderMessages())
	m.viewport.GotoBottom()
}

func (m *chatModel) updateLayout() {
	m.viewport.Width = clampMin(m.width-4, 10)
	m.viewport.Height = clampMin(m.height-7, 1)
	m.input.Width = clampMin(m.width-16, 20)
}

func (m *chatModel) renderMessages() string {
	if len(m.messages) == 0 {
		return labelStyle.Render("  No messages yet. Send one to start chatting!")
	}

	var b strings.Builder
	for _, msg := range m.messages {
		style := recvMsgStyle
		if m.isMyMessage(msg) {
			style = sentMsgStyle
		}
		lines := formatMessageLines(formatTime(msg.CreatedAt), msg.AuthorLabel, msg.Body, m.viewport.Width)
		for _, line := range lines {
			b.WriteString(style.Render(line))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m chatModel) View() string {
	var b strings.Builder

	header := fmt.Sprintf(
		"  %s  %s",
		appNameStyle.Render("#  roomchat"),
		headerStyle.Render(m.principal.Email),
	)
	status := connectedStyle.Render("live")
	if !m.live {
		status = disconnectedStyle.Render("offline")
	}
	gap := max(1, m.width-lipgloss.Width(header)-lipgloss.Width(status)-2)
	b.WriteString(header + strings.Repeat(" ", gap) + status)
	b.WriteString("\n")

	b.WriteString(separator(m.width))
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(separator(m.width))
	b.WriteString("\n")

	counter := labelStyle.Render(fmt.Sprintf(" %d/%d", utf8.RuneCountInString(m.input.Value()), message.MaxBodyLength))
	b.WriteString(activeInputStyle.Render("  > ") + m.input.View() + counter)
	b.WriteString("\n")

	if m.notice != nil {
		b.WriteString(noticeStyle(m.notice.level).Render("  " + noticeIcon(m.notice.level) + " " + m.notice.text))
	} else {
		b.WriteString(helpStyle.Render("  enter: send - ctrl+r: reload - ctrl+l: sign out - pgup/pgdn: scroll - ctrl+q: quit"))
	}

	return b.String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "--:--"
	}
	return t.Local().Format("15:04")
}

func clampMin(v, minimum int) int {
	if v < minimum {
		return minimum
	}
	return v
}

func trimLine(line string, max int) string {
	if max <= 0 || len(line) <= max {
		return line
	}
	if max <= 3 {
		return line[:max]
	}
	return line[:max-3] + "..."
}

func formatMessageLines(ts, sender, body string, width int) []string {
	prefix := fmt.Sprintf("  [%s] %s: ", ts, trimLine(sender, 24))
	contPrefix := strings.Repeat(" ", len(prefix))
	available := width - len(prefix)
	if available < 10 {
		available = 10
	}

	var out []string
	for i, line := range strings.Split(body, "\n") {
		for j, part := range wrapText(line, available) {
			if i == 0 && j == 0 {
				out = append(out, prefix+part)
				continue
			}
			out = append(out, contPrefix+part)
		}
	}
	return out
}

func wrapText(text string, width int) []string {
	if width <= 0 {
		return []string{text}
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{""}
	}
	var lines []string
	current := words[0]
	for _, word := range words[1:] {
		if len(current)+1+len(word) <= width {
			current = current + " " + word
			continue
		}
		lines = append(lines, current)
		current = word
	}
	lines = append(lines, current)
	return lines
}
