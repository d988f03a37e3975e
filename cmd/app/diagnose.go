package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v2"

	apperrors "bundlealert-miniapp/internal/common/errors"
)

type check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
	Hint   string `json:"hint,omitempty"`
}

var diagnoseCmd = &cli.Command{
	Name:  "diagnose",
	Usage: "check host data, configuration and backend reachability",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "json", Usage: "print the report as JSON"},
	},
	Action: func(cctx *cli.Context) error {
		d, err := loadDeps(cctx, io.Discard, headlessBridge)
		if err != nil {
			return err
		}
		defer d.Close()

		checks := d.diagnose(cctx.Context)
		if cctx.Bool("json") {
			return printJSON(cctx.App.Writer, checks)
		}
		failed := 0
		for _, c := range checks {
			mark := "ok  "
			if !c.OK {
				mark = "FAIL"
				failed++
			}
			fmt.Fprintf(cctx.App.Writer, "[%s] %-14s %s\n", mark, c.Name, c.Detail)
			if !c.OK && c.Hint != "" {
				fmt.Fprintf(cctx.App.Writer, "       hint: %s\n", c.Hint)
			}
		}
		if failed > 0 {
			return cli.Exit(fmt.Sprintf("%d check(s) failed", failed), 1)
		}
		return nil
	},
}

func (d *deps) diagnose(ctx context.Context) []check {
	var checks []check

	if d.webapp.Available() {
		detail := "init data present"
		if u, ok := d.bridge.User(); ok {
			detail = fmt.Sprintf("user %d (%s)", u.ID, u.DisplayName())
		}
		checks = append(checks, check{Name: "host", OK: true, Detail: detail})
	} else {
		checks = append(checks, check{
			Name:   "host",
			Detail: "no Telegram init data",
			Hint:   "set TELEGRAM_INIT_DATA or mint one with the initdata command",
		})
	}

	missing := d.cfg.MissingRequired()
	checks = append(checks, check{
		Name:   "environment",
		OK:     len(missing) == 0,
		Detail: strings.Join(missing, ", "),
		Hint:   "the relay wallet needs WALLETCONNECT_PROJECT_ID and RELAY_URL",
	})

	checks = append(checks, check{
		Name:   "session token",
		OK:     d.api.Token(ctx) != "",
		Detail: "stored bearer token",
		Hint:   "a token is fetched on the first authenticated call",
	})

	healthy := d.api.HealthCheck(ctx)
	checks = append(checks, check{
		Name:   "health",
		OK:     healthy,
		Detail: d.cfg.API.BaseURL,
		Hint:   "check BOT_API_URL and your network",
	})

	authCheck := check{Name: "auth endpoint", Hint: "init data may be expired or signed for another bot"}
	if _, err := d.api.AuthenticateTelegram(ctx); err != nil {
		authCheck.Detail = apperrors.UserMessage(err)
	} else {
		authCheck.OK = true
		authCheck.Detail = "token issued"
	}
	checks = append(checks, authCheck)

	statusCheck := check{Name: "status endpoint", Hint: "authentication must pass first"}
	if st, err := d.tracker.Refresh(ctx); err != nil {
		statusCheck.Detail = apperrors.UserMessage(err)
	} else {
		statusCheck.OK = true
		statusCheck.Detail = "tier " + st.CurrentState.CurrentTier
	}
	checks = append(checks, statusCheck)

	return checks
}
