package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"wevote/internal/config"
	"wevote/internal/directory"
	"wevote/internal/metrics"
	"wevote/internal/pushchan"
	"wevote/internal/syncctl"
)

type command struct {
	kind  string
	score float64
}

var errUnknownCommand = errors.New("unknown command")

func parseCommand(line string, deck []float64) (command, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return command{}, errUnknownCommand
	}
	switch fields[0] {
	case "lock", "restart":
		return command{kind: fields[0]}, nil
	case "q", "quit", "exit":
		return command{kind: "quit"}, nil
	case "vote":
		if len(fields) != 2 {
			return command{}, errors.New("usage: vote <card>")
		}
		fields = fields[1:]
	}

	score, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return command{}, fmt.Errorf("%w: %q", errUnknownCommand, line)
	}
	if !slices.Contains(deck, score) {
		return command{}, fmt.Errorf("%s is not in the deck", fields[0])
	}
	return command{kind: "vote", score: score}, nil
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.LoadClient(opts.ConfigPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if opts.ServerURL != "" {
		cfg.ServerURL = opts.ServerURL
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.MetricsAddr != "" {
		go serveMetrics(opts.MetricsAddr)
	}

	if err := run(ctx, cfg, opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Client, opts options) error {
	dir := directory.NewClient(cfg.ServerURL)
	dir.SetTimeout(cfg.RequestTimeout)

	roomID := opts.RoomID
	host := opts.Create
	if host {
		id, err := dir.CreateRoom(ctx, opts.Name)
		if err != nil {
			return err
		}
		roomID = id
		fmt.Printf("Room %s created. Invite others with: voter -r %s -n <name>\n", roomID, roomID)
	} else {
		err := dir.JoinRoom(ctx, roomID, opts.Name)
		switch {
		case errors.Is(err, directory.ErrNameTaken):
			return fmt.Errorf("the name %q is already used in room %s", opts.Name, roomID)
		case errors.Is(err, directory.ErrRoomNotFound):
			return fmt.Errorf("room %s does not exist", roomID)
		case err != nil:
			return err
		}
	}

	ctrl := syncctl.New(dir,
		pushchan.NewWSDialer(cfg.ServerURL, nil),
		pushchan.Options{ReconnectDelay: cfg.ReconnectDelay, DialTimeout: cfg.DialTimeout},
		syncctl.WithRequestTimeout(cfg.RequestTimeout),
		syncctl.WithNotifier(syncctl.NotifierFunc(func(n syncctl.Notice) {
			fmt.Printf("! %s failed: %v (try again)\n", n.Op, n.Err)
		})),
	)
	defer ctrl.Close()

	if err := ctrl.Start(roomID, opts.Name, host); err != nil {
		return err
	}

	go func() {
		model := ctrl.View()
		for {
			select {
			case <-ctx.Done():
				return
			case <-model.Changes():
				render(os.Stdout, roomID, opts.Name, host, cfg.Deck, model.View())
			}
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			cmd, err := parseCommand(line, cfg.Deck)
			if err != nil {
				fmt.Println(err)
				continue
			}
			if cmd.kind == "quit" {
				return nil
			}
			if err := dispatch(ctx, ctrl, cmd); err != nil {
				switch {
				case errors.Is(err, syncctl.ErrNotHost):
					fmt.Println("only the host can do that")
				case errors.Is(err, syncctl.ErrLocked):
					fmt.Println("voting is locked, wait for the host to restart")
				}
			}
		}
	}
}

// dispatch sends one command. Request failures are already reported by the
// controller's notifier.
func dispatch(ctx context.Context, ctrl *syncctl.Controller, cmd command) error {
	switch cmd.kind {
	case "vote":
		return ctrl.SubmitVote(ctx, cmd.score)
	case "lock":
		return ctrl.LockRoom(ctx)
	case "restart":
		return ctrl.RestartRoom(ctx)
	}
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler())
	log.Info().Str("addr", addr).Msg("serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
	}
}
