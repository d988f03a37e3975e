package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"bundlealert-miniapp/internal/common/constants"
	apperrors "bundlealert-miniapp/internal/common/errors"
	"bundlealert-miniapp/internal/common/format"
	"bundlealert-miniapp/internal/common/validation"
	"bundlealert-miniapp/internal/features/verification/models"
	verification "bundlealert-miniapp/internal/features/verification/service"
	walletmodels "bundlealert-miniapp/internal/features/wallet/models"
	"bundlealert-miniapp/internal/platform/botapi"
	"bundlealert-miniapp/internal/platform/telegram"
	"bundlealert-miniapp/internal/ui"
)

// headless commands do not wait for a host that is not coming
var headlessBridge = telegram.WithPolling(100*time.Millisecond, 1)

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "start the terminal mini-app",
	Action: func(cctx *cli.Context) error {
		d, err := loadDeps(cctx, nil)
		if err != nil {
			return err
		}
		defer d.Close()

		ctx, stop := signal.NotifyContext(cctx.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		notifier := ui.NewNotifier()
		flow := d.controller(notifier)
		err = ui.Run(ctx, flow, notifier, ui.Options{
			RequireTelegram: d.cfg.RequireTelegram,
			IsTelegram:      d.webapp.Available(),
			Host:            d.webapp,
			Reset:           d.resetLocalState,
			Log:             d.log,
		})
		flow.Wait()
		return err
	},
}

var verifyCmd = &cli.Command{
	Name:  "verify",
	Usage: "connect a wallet, sign the verification message and submit it",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "wallet",
			Usage: "wallet kind: injected, relay, metamask, walletconnect or coinbase",
			Value: string(walletmodels.KindInjected),
		},
	},
	Action: func(cctx *cli.Context) error {
		kind, ok := walletmodels.ParseKind(cctx.String("wallet"))
		if !ok {
			return apperrors.NewValidationError("wallet", "unknown wallet kind: "+cctx.String("wallet"))
		}
		d, err := loadDeps(cctx, os.Stderr, headlessBridge)
		if err != nil {
			return err
		}
		defer d.Close()

		out := cctx.App.ErrWriter
		flow := d.controller(verification.NotifierFunc(func(t models.Toast) {
			fmt.Fprintf(out, "[%s] %s\n", t.Kind, t.Message)
		}))
		if err := flow.Start(cctx.Context); err != nil {
			return err
		}
		result, err := flow.Connect(cctx.Context, kind)
		if err != nil {
			return err
		}
		flow.Wait()
		return printJSON(cctx.App.Writer, struct {
			Result *botapi.VerificationResult `json:"result"`
			Status *botapi.UserStatus         `json:"status,omitempty"`
		}{result, flow.Snapshot().Status})
	},
}

var statusCmd = &cli.Command{
	Name:  "status",
	Usage: "print the comprehensive user status",
	Action: func(cctx *cli.Context) error {
		d, err := loadDeps(cctx, os.Stderr, headlessBridge)
		if err != nil {
			return err
		}
		defer d.Close()

		if err := d.ensureToken(cctx.Context); err != nil {
			return err
		}
		st, err := d.tracker.Refresh(cctx.Context)
		if err != nil {
			return err
		}
		return printJSON(cctx.App.Writer, st)
	},
}

var disconnectCmd = &cli.Command{
	Name:  "disconnect",
	Usage: "disconnect one wallet or all wallets on the backend",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "address", Usage: "wallet address to disconnect"},
		&cli.BoolFlag{Name: "all", Usage: "disconnect every wallet"},
	},
	Action: func(cctx *cli.Context) error {
		address, all := cctx.String("address"), cctx.Bool("all")
		if address == "" && !all {
			return apperrors.NewValidationError("address", "pass --address or --all")
		}
		if address != "" && !validation.IsValidAddress(address) {
			return apperrors.NewValidationError("address", "Invalid wallet address format")
		}
		d, err := loadDeps(cctx, os.Stderr, headlessBridge)
		if err != nil {
			return err
		}
		defer d.Close()

		d.wallet.Disconnect(cctx.Context)
		if err := d.ensureToken(cctx.Context); err != nil {
			return err
		}
		var target *string
		if !all {
			target = &address
		}
		resp, err := d.api.DisconnectWallet(cctx.Context, target, all)
		if err != nil {
			return err
		}
		return printJSON(cctx.App.Writer, resp)
	},
}

var cleanupCmd = &cli.Command{
	Name:  "cleanup",
	Usage: "remove wallet sessions, the session token and cached state from local storage",
	Action: func(cctx *cli.Context) error {
		d, err := loadDeps(cctx, os.Stderr, headlessBridge)
		if err != nil {
			return err
		}
		defer d.Close()

		d.resetLocalState(cctx.Context)
		fmt.Fprintln(cctx.App.Writer, constants.MsgSessionCleared)
		return nil
	},
}

var tokensCmd = &cli.Command{
	Name:  "tokens",
	Usage: "list the tokens that count towards tiers",
	Action: func(cctx *cli.Context) error {
		d, err := loadDeps(cctx, os.Stderr, headlessBridge)
		if err != nil {
			return err
		}
		defer d.Close()

		if err := d.ensureToken(cctx.Context); err != nil {
			return err
		}
		tokens, err := d.api.GetSupportedTokens(cctx.Context)
		if err != nil {
			return err
		}
		return printJSON(cctx.App.Writer, tokens)
	},
}

var balanceCmd = &cli.Command{
	Name:  "balance",
	Usage: "print a token balance as seen by the backend",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "address", Required: true},
		&cli.StringFlag{Name: "token", Usage: "token contract address", Required: true},
	},
	Action: func(cctx *cli.Context) error {
		d, err := loadDeps(cctx, os.Stderr, headlessBridge)
		if err != nil {
			return err
		}
		defer d.Close()

		if err := d.ensureToken(cctx.Context); err != nil {
			return err
		}
		bal, err := d.api.GetTokenBalance(cctx.Context, cctx.String("address"), cctx.String("token"))
		if err != nil {
			return err
		}
		fmt.Fprintln(cctx.App.Writer, format.FormatTokenBalance(bal.Balance, bal.Decimals, bal.Symbol))
		return nil
	},
}

var feedbackCmd = &cli.Command{
	Name:  "feedback",
	Usage: "send feedback to the bot team",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "message", Required: true},
		&cli.StringFlag{Name: "type", Value: "general"},
		&cli.IntFlag{Name: "rating"},
	},
	Action: func(cctx *cli.Context) error {
		d, err := loadDeps(cctx, os.Stderr, headlessBridge)
		if err != nil {
			return err
		}
		defer d.Close()

		if err := d.ensureToken(cctx.Context); err != nil {
			return err
		}
		d.api.SubmitFeedback(cctx.Context, botapi.Feedback{
			Type:    cctx.String("type"),
			Message: cctx.String("message"),
			Rating:  cctx.Int("rating"),
			Metadata: map[string]string{
				"client":  serviceName,
				"version": version,
			},
		})
		fmt.Fprintln(cctx.App.Writer, "Thanks for the feedback!")
		return nil
	},
}

var initDataCmd = &cli.Command{
	Name:  "initdata",
	Usage: "mint signed Telegram init data for local development",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "bot-token", EnvVars: []string{"BOT_TOKEN"}, Required: true},
		&cli.Int64Flag{Name: "user-id", Required: true},
		&cli.StringFlag{Name: "first-name", Value: "Dev"},
		&cli.StringFlag{Name: "username"},
	},
	Action: func(cctx *cli.Context) error {
		uid := strconv.FormatInt(cctx.Int64("user-id"), 10)
		if !validation.IsValidUserID(uid) {
			return apperrors.NewValidationError("user_id", "Invalid user ID")
		}
		raw, err := telegram.SignInitData(telegram.User{
			ID:        cctx.Int64("user-id"),
			FirstName: cctx.String("first-name"),
			Username:  cctx.String("username"),
		}, cctx.String("bot-token"), time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintln(cctx.App.Writer, raw)
		return nil
	},
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
