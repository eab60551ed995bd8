package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/nkiryanov/storefront/internal/apperrors"
	"github.com/nkiryanov/storefront/internal/models"
	"github.com/nkiryanov/storefront/internal/service/auth"
	"github.com/nkiryanov/storefront/internal/session"
)

const usage = `usage: storefront [flags] <command> [args]

commands:
  login --email EMAIL --password PASSWORD
  register --name NAME --email EMAIL [--phone PHONE] --password PASSWORD
  logout
  me
  status
  favorites list
  favorites add ID...
  favorites remove ID...
  favorites check ID...
  watch`

var errUsage = errors.New(usage)

// Exec runs command and writes its result to out
func (a *App) Exec(ctx context.Context, out io.Writer, cmd string, args []string) error {
	switch cmd {
	case "login":
		return a.login(ctx, out, args)
	case "register":
		return a.register(ctx, out, args)
	case "logout":
		return a.logout(ctx, out)
	case "me":
		return a.me(ctx, out)
	case "status":
		return a.status(out)
	case "favorites":
		return a.execFavorites(ctx, out, args)
	case "watch":
		return a.watch(ctx, out)
	default:
		return fmt.Errorf("unknown command %q\n%w", cmd, errUsage)
	}
}

func (a *App) login(ctx context.Context, out io.Writer, args []string) error {
	var email, password string

	fs := pflag.NewFlagSet("login", pflag.ContinueOnError)
	fs.StringVar(&email, "email", "", "User email")
	fs.StringVar(&password, "password", "", "User password")
	if err := fs.Parse(args); err != nil {
		return err
	}

	sess, err := a.manager.Login(ctx, email, password)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(out, "Logged in as %s\n", formatUser(sess.User))
	return err
}

func (a *App) register(ctx context.Context, out io.Writer, args []string) error {
	var in auth.RegisterInput

	fs := pflag.NewFlagSet("register", pflag.ContinueOnError)
	fs.StringVar(&in.Name, "name", "", "User name")
	fs.StringVar(&in.Email, "email", "", "User email")
	fs.StringVar(&in.Phone, "phone", "", "User phone")
	fs.StringVar(&in.Password, "password", "", "User password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	in.PasswordConfirmation = in.Password

	sess, err := a.manager.Register(ctx, in)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(out, "Registered %s\n", formatUser(sess.User))
	return err
}

func (a *App) logout(ctx context.Context, out io.Writer) error {
	if err := a.manager.Logout(ctx); err != nil {
		return err
	}
	_, err := fmt.Fprintln(out, "Logged out")
	return err
}

func (a *App) me(ctx context.Context, out io.Writer) error {
	if err := a.restore(ctx); err != nil {
		return err
	}

	// Restore fetched the user already
	user := a.sessions.Session().User

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "id:\t%d\n", user.ID)       // nolint:errcheck
	fmt.Fprintf(tw, "name:\t%s\n", user.Name)   // nolint:errcheck
	fmt.Fprintf(tw, "email:\t%s\n", user.Email) // nolint:errcheck
	if user.Phone != "" {
		fmt.Fprintf(tw, "phone:\t%s\n", user.Phone) // nolint:errcheck
	}
	return tw.Flush()
}

// status prints local session without calling the API
func (a *App) status(out io.Writer) error {
	sess := a.sessions.Session()

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "session:\t%s\n", a.SessionFile) // nolint:errcheck

	if !sess.Authenticated() {
		fmt.Fprintln(tw, "authenticated:\tno") // nolint:errcheck
		return tw.Flush()
	}

	fmt.Fprintln(tw, "authenticated:\tyes")               // nolint:errcheck
	fmt.Fprintf(tw, "user:\t%s\n", formatUser(sess.User)) // nolint:errcheck

	if exp, ok := session.TokenExpiry(sess.AccessToken); ok {
		state := "valid"
		if time.Now().After(exp) {
			state = "expired"
		}
		fmt.Fprintf(tw, "access token:\t%s until %s\n", state, exp.Local().Format(time.RFC3339)) // nolint:errcheck
	} else {
		fmt.Fprintln(tw, "access token:\topaque") // nolint:errcheck
	}

	refresh := "no"
	if sess.RefreshToken != "" {
		refresh = "yes"
	}
	fmt.Fprintf(tw, "refresh token:\t%s\n", refresh) // nolint:errcheck

	return tw.Flush()
}

func (a *App) execFavorites(ctx context.Context, out io.Writer, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	if err := a.restore(ctx); err != nil {
		return err
	}

	sub, rest := args[0], args[1:]
	if sub == "list" {
		return a.listFavorites(ctx, out)
	}

	ids, err := parseIDs(rest)
	if err != nil {
		return err
	}

	switch sub {
	case "add":
		return a.eachItem(ctx, ids, a.favorites.Add, func(id int64) error {
			_, err := fmt.Fprintf(out, "%d added\n", id)
			return err
		})
	case "remove":
		return a.eachItem(ctx, ids, a.favorites.Remove, func(id int64) error {
			_, err := fmt.Fprintf(out, "%d removed\n", id)
			return err
		})
	case "check":
		if err := a.favorites.Refresh(ctx); err != nil {
			return err
		}
		for _, id := range ids {
			if _, err := fmt.Fprintf(out, "%d\t%t\n", id, a.favorites.IsFavorite(id)); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown favorites command %q\n%w", sub, errUsage)
	}
}

func (a *App) listFavorites(ctx context.Context, out io.Writer) error {
	if err := a.favorites.Refresh(ctx); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, f := range a.favorites.Items() {
		var title, price string
		if f.Item != nil {
			title, price = f.Item.Title, f.Item.Price.StringFixed(2)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", f.ItemID, title, price) // nolint:errcheck
	}
	return tw.Flush()
}

// eachItem runs op for every item concurrently
// Requests failing with 401 together share a single token refresh
func (a *App) eachItem(ctx context.Context, ids []int64, op func(context.Context, int64) error, done func(int64) error) error {
	results := make([]error, len(ids))

	g, gCtx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			results[i] = op(gCtx, id)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for i, id := range ids {
		if results[i] != nil {
			errs = append(errs, results[i])
			continue
		}
		if err := done(id); err != nil {
			return err
		}
	}

	return errors.Join(errs...)
}

// watch follows session changes made by other processes until ctx is done
func (a *App) watch(ctx context.Context, out io.Writer) error {
	w, err := session.NewWatcher(a.SessionFile, a.sessions, a.logger)
	if err != nil {
		return err
	}

	unsubscribe := a.sessions.Subscribe(func(sess models.Session) {
		if sess.Authenticated() {
			fmt.Fprintf(out, "session changed: logged in as %s\n", formatUser(sess.User)) // nolint:errcheck
			return
		}
		fmt.Fprintln(out, "session changed: logged out") // nolint:errcheck
	})
	defer unsubscribe()

	return w.Watch(ctx, nil)
}

// restore checks stored session against the API before commands that need it
// Session the API rejects is cleared
func (a *App) restore(ctx context.Context) error {
	if !a.sessions.IsAuthenticated() {
		return fmt.Errorf("%w: run 'storefront login' first", apperrors.ErrNotAuthenticated)
	}
	if err := a.manager.Restore(ctx); err != nil {
		return fmt.Errorf("%w: run 'storefront login' again", err)
	}
	return nil
}

func parseIDs(args []string) ([]int64, error) {
	if len(args) == 0 {
		return nil, errors.New("at least one item id required")
	}

	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid item id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func formatUser(u *models.User) string {
	if u == nil {
		return "unknown user"
	}
	return fmt.Sprintf("%s <%s>", u.Name, u.Email)
}
