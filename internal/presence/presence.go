// Package presence renders session status, chat and the user list.
package presence

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// UI receives human-facing session events.
type UI interface {
	StatusMessage(msg string)
	ErrorMessage(msg string)
	ChatMessage(username, text string, at time.Time)
	AddUser(userID int, username, client string)
	RemoveUser(userID int, username string)
	ClearUsers()
}

// Nop discards every event.
type Nop struct{}

func (Nop) StatusMessage(string) {}
func (Nop) ErrorMessage(string) {}
func (Nop) ChatMessage(string, string, time.Time) {}
func (Nop) AddUser(int, string, string) {}
func (Nop) RemoveUser(int, string) {}
func (Nop) ClearUsers() {}

// Theme holds the console colors.
type Theme struct {
	Status   lipgloss.Color
	Error    lipgloss.Color
	Username lipgloss.Color
	Faint    lipgloss.Color
}

// DefaultTheme uses the 256-color palette.
var DefaultTheme = Theme{
	Status:   lipgloss.Color("39"),
	Error:    lipgloss.Color("196"),
	Username: lipgloss.Color("214"),
	Faint:    lipgloss.Color("244"),
}

type user struct {
	username string
	client   string
}

// Console writes styled lines to an io.Writer.
type Console struct {
	mu    sync.Mutex
	out   io.Writer
	theme Theme
	users map[int]user
	now   func() time.Time
}

// NewConsole returns a console writing to out.
func NewConsole(out io.Writer, theme Theme) *Console {
	return &Console{
		out:   out,
		theme: theme,
		users: make(map[int]user),
		now:   time.Now,
	}
}

func (c *Console) stamp() string {
	return lipgloss.NewStyle().Foreground(c.theme.Faint).Render(c.now().Format("15:04:05"))
}

func (c *Console) println(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, line)
}

// StatusMessage prints an informational line.
func (c *Console) StatusMessage(msg string) {
	style := lipgloss.NewStyle().Foreground(c.theme.Status)
	c.println(c.stamp() + " " + style.Render(msg))
}

// ErrorMessage prints an error line.
func (c *Console) ErrorMessage(msg string) {
	style := lipgloss.NewStyle().Foreground(c.theme.Error).Bold(true)
	c.println(c.stamp() + " " + style.Render(msg))
}

// ChatMessage prints a chat line.
func (c *Console) ChatMessage(username, text string, at time.Time) {
	if at.IsZero() {
		at = c.now()
	}
	ts := lipgloss.NewStyle().Foreground(c.theme.Faint).Render(at.Format("15:04:05"))
	name := lipgloss.NewStyle().Foreground(c.theme.Username).Bold(true).Render(username + ":")
	c.println(ts + " " + name + " " + text)
}

// AddUser records a user and announces the join.
func (c *Console) AddUser(userID int, username, client string) {
	c.mu.Lock()
	c.users[userID] = user{username: username, client: client}
	c.mu.Unlock()

	label := username
	if client != "" {
		label += " (" + client + ")"
	}
	c.StatusMessage(label + " joined the workspace")
}

// RemoveUser forgets a user and announces the part.
func (c *Console) RemoveUser(userID int, username string) {
	c.mu.Lock()
	delete(c.users, userID)
	c.mu.Unlock()
	c.StatusMessage(username + " left the workspace")
}

// ClearUsers forgets every user.
func (c *Console) ClearUsers() {
	c.mu.Lock()
	c.users = make(map[int]user)
	c.mu.Unlock()
}

// Who renders the connected users, one per line, ordered by name.
func (c *Console) Who() string {
	c.mu.Lock()
	names := make([]string, 0, len(c.users))
	for _, u := range c.users {
		line := u.username
		if u.client != "" {
			line += lipgloss.NewStyle().Foreground(c.theme.Faint).Render(" " + u.client)
		}
		names = append(names, line)
	}
	c.mu.Unlock()

	sort.Strings(names)
	return strings.Join(names, "\n")
}
