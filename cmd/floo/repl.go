package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dshills/floo/internal/host"
	"github.com/dshills/floo/internal/protocol"
	"github.com/dshills/floo/internal/workspace"
)

// actions are the user actions a session accepts from the command loop.
type actions interface {
	Follow() bool
	Summon(abs string, offset int)
	Kick(userID int) bool
	SetPerms(userID int, perms []string) bool
	RequestEdit()
	Upload(path string)
	UploadDir(dir string) int
	Message(text string)
	ClearHighlights()
}

// repl runs chat lines and slash commands typed on stdin.
type repl struct {
	actions actions
	users   func() []protocol.User
	who     func() string
	run     host.Executor
	root    *workspace.Root
	out     io.Writer
}

const replHelp = `Commands:
  /follow                 toggle following other users' highlights
  /summon <path> [offset] bring everyone to a file
  /kick <user>            disconnect a user
  /perms <user> <perms>   set a user's permissions (comma separated)
  /request-edit           ask the owner for edit permission
  /upload [path]          share a file or directory
  /clear                  remove remote highlights
  /who                    list connected users
  /quit                   leave the workspace
Anything else is sent as a chat message.
`

// parseLine splits a command line into a command name and its arguments.
// Lines not starting with a slash are chat and have an empty name.
func parseLine(line string) (string, []string) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return "", nil
	}
	fields := strings.Fields(line[1:])
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(fields[0]), fields[1:]
}

func (r *repl) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

// userByName returns the id of a connected user.
func (r *repl) userByName(name string) (int, bool) {
	for _, u := range r.users() {
		if u.Username == name {
			return u.UserID, true
		}
	}
	if id, err := strconv.Atoi(name); err == nil {
		return id, true
	}
	return 0, false
}

// exec runs one line and reports whether the user asked to quit.
func (r *repl) exec(line string) bool {
	name, args := parseLine(line)
	text := strings.TrimSpace(line)
	if name == "" {
		if text != "" && !strings.HasPrefix(text, "/") {
			r.run.Submit(func() { r.actions.Message(text) })
		}
		return false
	}

	switch name {
	case "quit", "q":
		return true
	case "help":
		r.printf("%s", replHelp)
	case "who":
		r.printf("%s\n", r.who())
	case "follow":
		r.run.Submit(func() {
			if r.actions.Follow() {
				r.printf("Following changes.\n")
			} else {
				r.printf("Stopped following changes.\n")
			}
		})
	case "summon":
		if len(args) == 0 {
			r.printf("usage: /summon <path> [offset]\n")
			return false
		}
		abs, err := r.root.Abs(args[0])
		if err != nil {
			r.printf("%s is not in the workspace\n", args[0])
			return false
		}
		offset := 0
		if len(args) > 1 {
			offset, _ = strconv.Atoi(args[1])
		}
		r.run.Submit(func() { r.actions.Summon(abs, offset) })
	case "kick":
		if len(args) != 1 {
			r.printf("usage: /kick <user>\n")
			return false
		}
		id, ok := r.userByName(args[0])
		if !ok {
			r.printf("no user %s\n", args[0])
			return false
		}
		r.run.Submit(func() {
			if !r.actions.Kick(id) {
				r.printf("You don't have permission to kick users.\n")
			}
		})
	case "perms":
		if len(args) != 2 {
			r.printf("usage: /perms <user> <perm,...>\n")
			return false
		}
		id, ok := r.userByName(args[0])
		if !ok {
			r.printf("no user %s\n", args[0])
			return false
		}
		perms := strings.Split(args[1], ",")
		r.run.Submit(func() {
			if !r.actions.SetPerms(id, perms) {
				r.printf("You don't have permission to change permissions.\n")
			}
		})
	case "request-edit":
		r.run.Submit(r.actions.RequestEdit)
	case "clear":
		r.run.Submit(r.actions.ClearHighlights)
	case "upload":
		target := r.root.Dir()
		if len(args) > 0 {
			abs, err := r.root.Abs(args[0])
			if err != nil {
				r.printf("%s is not in the workspace\n", args[0])
				return false
			}
			target = abs
		}
		if info, err := os.Stat(target); err == nil && info.IsDir() {
			r.run.Submit(func() { r.printf("Uploaded %d files.\n", r.actions.UploadDir(target)) })
		} else {
			r.run.Submit(func() { r.actions.Upload(target) })
		}
	default:
		r.printf("unknown command /%s, try /help\n", name)
	}
	return false
}
