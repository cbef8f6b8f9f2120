package main

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Avicted/roomchat/internal/remote"
)

const authTimeout = 15 * time.Second

type appState int

const (
	stateLogin appState = iota
	stateChat
)

type rootModel struct {
	app    *chatApp
	state  appState
	login  loginModel
	chat   chatModel
	width  int
	height int

	// autoPassword signs in on start when set from the environment.
	autoPassword string
}

type authSuccessMsg struct {
	session remote.Session
}

type authErrorMsg struct {
	err error
}

type loggedOutMsg struct{}

func newRootModel(app *chatApp, serverURL, email, password string) rootModel {
	m := rootModel{
		app:   app,
		state: stateLogin,
		login: newLoginModel(serverURL, email),
	}
	if password != "" && m.login.email() != "" {
		m.autoPassword = password
		m.login.loading = true
	}
	return m
}

func (m rootModel) Init() tea.Cmd {
	cmds := []tea.Cmd{m.login.Init(), m.app.waitForEvent()}
	if m.autoPassword != "" {
		cmds = append(cmds, m.doAuth(false, m.login.email(), m.autoPassword))
	}
	return tea.Batch(cmds...)
}

func (m rootModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		if msg.String() == "ctrl+q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

	case authSuccessMsg:
		m.state = stateChat
		m.login.loading = false
		m.chat = newChatModel(m.app, msg.session.Principal(), m.width, m.height)
		m.chat.setMessages(m.app.messages())
		return m, m.chat.Init()

	case loggedOutMsg:
		m.state = stateLogin
		m.login = m.login.reset()
		return m, m.login.Init()

	case noticeMsg, messagesMsg:
		// Events keep flowing on the login screen too; the chat keeps the
		// latest snapshot for when it opens.
		var cmd tea.Cmd
		if m.state == stateChat {
			m.chat, cmd = m.chat.Update(msg)
		} else if n, ok := msg.(noticeMsg); ok {
			m.login.errMsg = n.text
		}
		return m, tea.Batch(cmd, m.app.waitForEvent())
	}

	switch m.state {
	case stateLogin:
		var cmd tea.Cmd
		m.login, cmd = m.login.Update(msg)
		if m.login.submitting {
			m.login.submitting = false
			return m, tea.Batch(cmd, m.doAuth(m.login.isRegister, m.login.email(), m.login.password()))
		}
		return m, cmd

	case stateChat:
		var cmd tea.Cmd
		m.chat, cmd = m.chat.Update(msg)
		if m.chat.loggingOut {
			m.chat.loggingOut = false
			return m, tea.Batch(cmd, m.doLogout())
		}
		return m, cmd
	}

	return m, nil
}

func (m rootModel) View() string {
	switch m.state {
	case stateLogin:
		return m.login.View()
	case stateChat:
		return m.chat.View()
	}
	return ""
}

func (m rootModel) doAuth(register bool, email, password string) tea.Cmd {
	app := m.app
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), authTimeout)
		defer cancel()
		session, err := app.authenticate(ctx, register, email, password)
		if err != nil {
			return authErrorMsg{err: err}
		}
		return authSuccessMsg{session: session}
	}
}

func (m rootModel) doLogout() tea.Cmd {
	app := m.app
	return func() tea.Msg {
		app.logout()
		return loggedOutMsg{}
	}
}
