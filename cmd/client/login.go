package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Avicted/roomchat/internal/auth"
)

type loginModel struct {
	serverURL     string
	emailInput    textinput.Model
	passwordInput textinput.Model
	confirmInput  textinput.Model
	focusIdx      int
	isRegister    bool
	submitting    bool
	errMsg        string
	loading       bool
	width         int
	height        int
}

func newLoginModel(serverURL, email string) loginModel {
	emailIn := textinput.New()
	emailIn.Placeholder = "you@example.com"
	emailIn.CharLimit = 254
	emailIn.Width = 40
	emailIn.SetValue(strings.TrimSpace(email))
	emailIn.Focus()

	password := textinput.New()
	password.Placeholder = fmt.Sprintf("password (min %d chars)", auth.MinPasswordLength)
	password.EchoMode = textinput.EchoPassword
	password.EchoCharacter = '*'
	password.CharLimit = 128
	password.Width = 40

	confirm := textinput.New()
	confirm.Placeholder = "confirm password"
	confirm.EchoMode = textinput.EchoPassword
	confirm.EchoCharacter = '*'
	confirm.CharLimit = 128
	confirm.Width = 40

	m := loginModel{
		serverURL:     serverURL,
		emailInput:    emailIn,
		passwordInput: password,
		confirmInput:  confirm,
	}
	if emailIn.Value() != "" {
		m.focusIdx = 1
		m.applyFocus()
	}
	return m
}

func (m loginModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m loginModel) email() string           { return strings.TrimSpace(m.emailInput.Value()) }
func (m loginModel) password() string        { return m.passwordInput.Value() }
func (m loginModel) confirmPassword() string { return m.confirmInput.Value() }

// reset clears secrets and keeps the email for the next sign in.
func (m loginModel) reset() loginModel {
	next := newLoginModel(m.serverURL, m.email())
	next.width = m.width
	next.height = m.height
	return next
}

func (m loginModel) inputCount() int {
	if m.isRegister {
		return 3
	}
	return 2
}

func (m loginModel) Update(msg tea.Msg) (loginModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case authErrorMsg:
		m.loading = false
		m.errMsg = msg.err.Error()
		return m, nil

	case tea.KeyMsg:
		m.errMsg = ""
		switch msg.String() {
		case "tab", "shift+tab", "down", "up":
			dir := 1
			if msg.String() == "up" || msg.String() == "shift+tab" {
				dir = -1
			}
			m.moveFocus(dir)
			return m, nil

		case "ctrl+r":
			m.isRegister = !m.isRegister
			m.ensureFocusIndex()
			return m, nil

		case "enter":
			if m.loading {
				return m, nil
			}
			if errMsg := m.validateSubmit(); errMsg != "" {
				m.errMsg = errMsg
				return m, nil
			}
			m.loading = true
			m.submitting = true
			return m, nil
		}
	}

	var cmd tea.Cmd
	switch m.focusIdx {
	case 1:
		m.passwordInput, cmd = m.passwordInput.Update(msg)
	case 2:
		m.confirmInput, cmd = m.confirmInput.Update(msg)
	default:
		m.emailInput, cmd = m.emailInput.Update(msg)
	}
	return m, cmd
}

func (m *loginModel) applyFocus() {
	m.emailInput.Blur()
	m.passwordInput.Blur()
	m.confirmInput.Blur()

	switch m.focusIdx {
	case 1:
		m.passwordInput.Focus()
	case 2:
		m.confirmInput.Focus()
	default:
		m.emailInput.Focus()
	}
}

func (m loginModel) View() string {
	var b strings.Builder

	topPad := 0
	if m.height > 14 {
		topPad = (m.height - 14) / 3
	}
	b.WriteString(strings.Repeat("\n", topPad))

	b.WriteString(centerText(appNameStyle.Render("#  roomchat"), m.width))
	b.WriteString("\n")
	b.WriteString(centerText(subtitleStyle.Render(m.serverURL), m.width))
	b.WriteString("\n\n")

	mode := "Sign in"
	if m.isRegister {
		mode = "Register"
	}
	b.WriteString(centerText(headerStyle.Render(fmt.Sprintf("[ %s ]", mode)), m.width))
	b.WriteString("\n\n")

	labels := []string{"Email", "Password"}
	inputs := []textinput.Model{m.emailInput, m.passwordInput}
	if m.isRegister {
		labels = append(labels, "Confirm Password")
		inputs = append(inputs, m.confirmInput)
	}
	maxLabel := 0
	for _, label := range labels {
		maxLabel = max(maxLabel, len(label))
	}
	for i, input := range inputs {
		line := labelStyle.Render(fmt.Sprintf("  %-*s: ", maxLabel, labels[i])) + input.View()
		b.WriteString(centerText(line, m.width))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if m.errMsg != "" {
		b.WriteString(centerText(errorStyle.Render("  x "+m.errMsg), m.width))
		b.WriteString("\n\n")
	}

	if m.loading {
		b.WriteString(centerText(labelStyle.Render("  signing in..."), m.width))
		b.WriteString("\n\n")
	}

	b.WriteString(centerText(helpStyle.Render("tab: switch field - ctrl+r: register/sign in - enter: submit - ctrl+q: quit"), m.width))

	return b.String()
}

func (m loginModel) validateSubmit() string {
	email := m.email()
	if email == "" || m.password() == "" {
		return "email and password are required"
	}
	if !strings.Contains(email, "@") {
		return "email must contain @"
	}
	if len(m.password()) < auth.MinPasswordLength {
		return fmt.Sprintf("password must be at least %d characters", auth.MinPasswordLength)
	}
	if m.isRegister && m.password() != m.confirmPassword() {
		return "passwords do not match"
	}
	return ""
}

func (m *loginModel) moveFocus(dir int) {
	count := m.inputCount()
	m.focusIdx = (m.focusIdx + dir + count) % count
	m.applyFocus()
}

func (m *loginModel) ensureFocusIndex() {
	if m.focusIdx >= m.inputCount() {
		m.focusIdx = m.inputCount() - 1
	}
	m.applyFocus()
}
