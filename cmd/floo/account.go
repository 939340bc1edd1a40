package main

import (
	"context"
	"fmt"

	"github.com/golang/glog"

	"github.com/dshills/floo/internal/api"
	"github.com/dshills/floo/internal/registry"
)

type userFetcher interface {
	User(ctx context.Context, host string) (api.UserDetail, error)
}

type statusUI interface {
	StatusMessage(msg string)
}

// checkAccount re-checks an account that was created on the user's behalf.
// Once the server reports the sign-up complete the registry flag is cleared,
// otherwise the user is pointed at the page that finishes it.
func checkAccount(ctx context.Context, reg *registry.Registry, users userFetcher, host, username string, ui statusUI) {
	if reg == nil || !reg.AutoGeneratedAccount() {
		return
	}
	user, err := users.User(ctx, host)
	if err != nil {
		glog.V(1).Infof("[floo]fetching user error = %s\n", err)
	} else if !user.AutoCreated {
		reg.SetAutoGeneratedAccount(false)
		if err := reg.Save(); err != nil {
			glog.Warningf("[floo]saving registry error = %s\n", err)
		}
		return
	}
	ui.StatusMessage(fmt.Sprintf("Your account was created automatically. Finish signing up at https://%s/%s/settings to keep access to it.", host, username))
}
