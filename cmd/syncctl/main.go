// Command syncctl is a CLI client for the sync engine: it keeps its
// records in JSONL files under a data directory and syncs them against a
// row-store service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/timewell/syncengine/internal/engine"
	"github.com/timewell/syncengine/internal/engine/settings"
	"github.com/timewell/syncengine/internal/engine/streams"
	"github.com/timewell/syncengine/internal/errs"
	"github.com/timewell/syncengine/internal/jsonlstore"
	"github.com/timewell/syncengine/internal/model"
	"github.com/timewell/syncengine/internal/remote"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func dataDir() string {
	if v := os.Getenv("XDG_DATA_HOME"); v != "" {
		return filepath.Join(v, "timewell")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "timewell")
}

func usage() {
	fmt.Fprintf(os.Stderr, `syncctl
Usage:
  syncctl -server URL [-data dir] <cmd> [args]

Commands:
  version
  login                                        (opens hosted sign-in)
  logout
  status
  sync
  reset
  device     -name <display name>
  earn       -min <minutes> [-note text]
  spend      -min <minutes> [-note text]
  save       -url <link> [-title t] [-price minutes]
  consume    -ref <sync_id> -sec <seconds> | -emergency -sec <seconds>
  track      -cat <category> -sec <seconds>
  achieve    -code <code>
  handle     <handle>                          (claim profile handle)
  whois      <handle>
  befriend   <handle>
  requests
  accept     <request id>
  decline    <request id>
  cancel     <request id>
  friends
  summaries  [-hours 24]
  timeline   -user <uuid> [-hours 24]
`)
	os.Exit(2)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

// main dispatches subcommands against a freshly built engine.
func main() {
	server := flag.String("server", os.Getenv("SYNCCTL_SERVER"), "row-store base URL")
	dir := flag.String("data", dataDir(), "data directory")
	callbackPort := flag.Int("callback-port", 48219, "loopback port for the sign-in callback")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	log := zap.NewNop()
	if *verbose {
		log, _ = zap.NewDevelopment()
	}

	st, err := settings.NewFileStore(filepath.Join(*dir, "settings.json"))
	if err != nil {
		fatal(err)
	}
	files := jsonlstore.Open(*dir)

	eng, err := engine.New(engine.Options{
		Remote: remote.Config{
			BaseURL:     *server,
			CallbackURL: fmt.Sprintf("http://127.0.0.1:%d/callback", *callbackPort),
		},
		Settings: st,
		Stores: streams.Stores{
			Ledger:       files.Ledger,
			Library:      files.Library,
			Consumption:  files.Consumption,
			Rollups:      files.Rollups,
			Achievements: files.Achievements,
		},
		Logger: log,
	})
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	switch cmd {
	case "version":
		fmt.Printf("syncctl %s (%s)\n", version, buildDate)

	case "login":
		if eng.Auth() == nil {
			fatal(errs.ErrNotConfigured)
		}
		if err := runLogin(ctx, eng, *callbackPort); err != nil {
			fatal(err)
		}

	case "logout":
		if eng.Auth() == nil {
			fatal(errs.ErrNotConfigured)
		}
		if err := eng.Auth().SignOut(ctx); err != nil {
			fatal(err)
		}
		fmt.Println("signed out")

	case "status":
		printJSON(eng.Status())

	case "sync":
		printJSON(eng.SyncNow(ctx))

	case "reset":
		if err := eng.Reset(); err != nil {
			fatal(err)
		}
		fmt.Println("cursors cleared; next sync replays full history")

	case "device":
		fs := flag.NewFlagSet("device", flag.ExitOnError)
		name := fs.String("name", "", "display name")
		_ = fs.Parse(args)
		if *name == "" {
			dev, err := eng.Devices().Local()
			if err != nil {
				fatal(err)
			}
			printJSON(dev)
			return
		}
		if err := eng.Devices().Rename(*name); err != nil {
			fatal(err)
		}

	case "earn", "spend":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		minutes := fs.Int64("min", 0, "minutes")
		note := fs.String("note", "", "note")
		_ = fs.Parse(args)
		if *minutes <= 0 {
			fatal(errors.New("-min must be positive"))
		}
		amount := *minutes
		if cmd == "spend" {
			amount = -amount
		}
		rec := model.LedgerEntry{
			SyncID:     mustUUID(),
			Kind:       cmd,
			Amount:     amount,
			Note:       *note,
			OccurredAt: time.Now().UTC(),
		}
		if err := files.Ledger.Add(rec); err != nil {
			fatal(err)
		}
		printJSON(rec)

	case "save":
		fs := flag.NewFlagSet("save", flag.ExitOnError)
		link := fs.String("url", "", "link")
		title := fs.String("title", "", "title")
		price := fs.Int64("price", 0, "price in minutes")
		_ = fs.Parse(args)
		if *link == "" {
			fatal(errors.New("-url is required"))
		}
		now := time.Now().UTC()
		rec := model.LibraryItem{
			SyncID:    mustUUID(),
			URL:       *link,
			Title:     *title,
			Price:     *price,
			SavedAt:   now,
			UpdatedAt: now,
		}
		if err := files.Library.Add(rec); err != nil {
			fatal(err)
		}
		printJSON(rec)

	case "consume":
		fs := flag.NewFlagSet("consume", flag.ExitOnError)
		ref := fs.String("ref", "", "library item sync id")
		emergency := fs.Bool("emergency", false, "emergency session")
		sec := fs.Int64("sec", 0, "duration seconds")
		_ = fs.Parse(args)
		if *sec <= 0 {
			fatal(errors.New("-sec must be positive"))
		}
		rec := model.ConsumptionEntry{
			SyncID:      mustUUID(),
			Kind:        model.ConsumptionLibraryItem,
			DurationSec: *sec,
			OccurredAt:  time.Now().UTC(),
		}
		if *emergency {
			rec.Kind = model.ConsumptionEmergencySession
		} else {
			if *ref == "" {
				fatal(errors.New("-ref or -emergency is required"))
			}
			id, err := uuid.FromString(*ref)
			if err != nil {
				fatal(err)
			}
			rec.RefSyncID = &id
		}
		if err := files.Consumption.Add(rec); err != nil {
			fatal(err)
		}
		printJSON(rec)

	case "track":
		fs := flag.NewFlagSet("track", flag.ExitOnError)
		cat := fs.String("cat", "", "category: productive|neutral|frivolity|idle")
		sec := fs.Int64("sec", 0, "seconds")
		_ = fs.Parse(args)
		if *sec <= 0 {
			fatal(errors.New("-sec must be positive"))
		}
		dev, err := eng.Devices().Local()
		if err != nil {
			fatal(err)
		}
		if err := files.Rollups.Track(dev.ID, time.Now(), *cat, *sec); err != nil {
			fatal(err)
		}

	case "achieve":
		fs := flag.NewFlagSet("achieve", flag.ExitOnError)
		code := fs.String("code", "", "achievement code")
		_ = fs.Parse(args)
		if *code == "" {
			fatal(errors.New("-code is required"))
		}
		rec := model.Achievement{
			SyncID:   mustUUID(),
			Code:     *code,
			EarnedAt: time.Now().UTC(),
		}
		if err := files.Achievements.Add(rec); err != nil {
			fatal(err)
		}
		printJSON(rec)

	case "handle":
		if len(args) != 1 {
			usage()
		}
		if err := eng.Social().ClaimHandle(ctx, args[0]); err != nil {
			fatal(err)
		}
		fmt.Println("handle claimed")

	case "whois":
		if len(args) != 1 {
			usage()
		}
		p, err := eng.Social().ResolveHandle(ctx, args[0])
		if err != nil {
			fatal(err)
		}
		printJSON(p)

	case "befriend":
		if len(args) != 1 {
			usage()
		}
		req, err := eng.Social().RequestFriend(ctx, args[0])
		if err != nil {
			fatal(err)
		}
		printJSON(req)

	case "requests":
		in, out, err := eng.Social().ListRequests(ctx)
		if err != nil {
			fatal(err)
		}
		printJSON(map[string]any{"incoming": in, "outgoing": out})

	case "accept", "decline", "cancel":
		if len(args) != 1 {
			usage()
		}
		id, err := uuid.FromString(args[0])
		if err != nil {
			fatal(err)
		}
		switch cmd {
		case "accept":
			err = eng.Social().AcceptRequest(ctx, id)
		case "decline":
			err = eng.Social().DeclineRequest(ctx, id)
		default:
			err = eng.Social().CancelRequest(ctx, id)
		}
		if err != nil {
			fatal(err)
		}

	case "friends":
		friends, err := eng.Social().ListFriends(ctx)
		if err != nil {
			fatal(err)
		}
		printJSON(friends)

	case "summaries":
		fs := flag.NewFlagSet("summaries", flag.ExitOnError)
		hours := fs.Int("hours", 24, "window hours")
		_ = fs.Parse(args)
		sums, err := eng.Social().FriendSummaries(ctx, *hours)
		if err != nil {
			fatal(err)
		}
		printJSON(sums)

	case "timeline":
		fs := flag.NewFlagSet("timeline", flag.ExitOnError)
		user := fs.String("user", "", "friend user id")
		hours := fs.Int("hours", 24, "window hours")
		_ = fs.Parse(args)
		id, err := uuid.FromString(*user)
		if err != nil {
			fatal(err)
		}
		slots, err := eng.Social().FriendTimeline(ctx, id, *hours)
		if err != nil {
			fatal(err)
		}
		printJSON(slots)

	default:
		usage()
	}
}

// runLogin opens the hosted sign-in flow: prints the URL, waits for the
// browser redirect on the loopback callback, exchanges the code.
func runLogin(ctx context.Context, eng *engine.Engine, port int) error {
	signIn, err := eng.Auth().SignInURL()
	if err != nil {
		return err
	}
	fmt.Println("open this URL in your browser:")
	fmt.Println("  " + signIn)

	lis, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return err
	}
	defer lis.Close()

	codeCh := make(chan string, 1)
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "Signed in. You can close this tab.")
		codeCh <- code
	})}
	go func() { _ = srv.Serve(lis) }()
	defer srv.Close()

	select {
	case code := <-codeCh:
		sess, err := eng.Auth().ExchangeCode(ctx, code)
		if err != nil {
			return err
		}
		fmt.Println("signed in as", sess.Email)
		return nil
	case <-ctx.Done():
		return errors.New("timed out waiting for the sign-in callback")
	}
}

func mustUUID() uuid.UUID {
	id, err := uuid.NewV4()
	if err != nil {
		panic(err)
	}
	return id
}
