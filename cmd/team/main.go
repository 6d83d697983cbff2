package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/timigs/teamsync/internal/adapters/profilestore"
	"github.com/timigs/teamsync/internal/adapters/webrtcprov"
	"github.com/timigs/teamsync/internal/config"
	"github.com/timigs/teamsync/internal/domain"
	"github.com/timigs/teamsync/internal/session"
)

func main() {
	create := flag.Bool("create", false, "create a new team and become its leader")
	join := flag.String("join", "", "join the team with the given leader id")
	name := flag.String("name", "", "display name (persisted)")
	email := flag.String("email", "", "email (persisted, optional)")
	flag.Parse()

	if !*create && *join == "" {
		fmt.Println("usage: team -create | -join <leader-id> [-name <name>] [-email <email>]")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	store, err := profilestore.Open(cfg.ProfileDB)
	if err != nil {
		log.Fatal().Err(err).Msg("open profile store")
	}
	defer store.Close()

	savedName, savedEmail, err := store.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load profile")
	}
	if *name != "" {
		savedName, savedEmail = *name, *email
		if err := store.Save(savedName, savedEmail); err != nil {
			log.Fatal().Err(err).Msg("save profile")
		}
	}

	profile, err := domain.NewProfile(savedName, savedEmail)
	if err != nil {
		log.Fatal().Err(err).Msg("profile invalid; pass -name")
	}

	provider := webrtcprov.New(cfg.RendezvousURL, cfg.STUNServers)
	defer provider.Close()
	devices := webrtcprov.NewDevices(webrtcprov.StaticTrackFactory, webrtcprov.StaticScreenFactory(nil))

	sess := session.New(provider, devices, *profile)
	sess.OnMessage(func(m domain.ChatMessage) {
		fmt.Printf("[%s] %s\n", m.SenderName, m.Text)
	})

	switch {
	case *create:
		if err := sess.CreateTeam(ctx); err != nil {
			log.Fatal().Err(err).Msg("create team")
		}
		fmt.Printf("team created; share this id: %s\n", sess.TeamID())
	case *join != "":
		if err := sess.JoinTeam(ctx, *join); err != nil {
			log.Fatal().Err(err).Msg("join team")
		}
		fmt.Printf("joined team %s\n", sess.TeamID())
	}
	defer sess.LeaveTeam()

	go func() {
		<-ctx.Done()
		os.Stdin.Close()
	}()
	repl(ctx, sess)
}

// repl reads chat lines and slash commands from stdin until EOF or signal.
func repl(ctx context.Context, sess *session.Session) {
	fmt.Println("commands: /goal <app> <seconds> | /progress <seconds> <app> | /voice | /camera | /screen | /members | /leave")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			if _, err := sess.SendMessage(line); err != nil {
				log.Error().Err(err).Msg("send message")
			}
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "/goal":
			if len(fields) != 3 {
				fmt.Println("usage: /goal <app> <seconds>")
				continue
			}
			seconds, err := strconv.Atoi(fields[2])
			if err != nil {
				fmt.Println("seconds must be a number")
				continue
			}
			if err := sess.SetGoal(fields[1], seconds); err != nil {
				log.Error().Err(err).Msg("set goal")
			}
		case "/progress":
			if len(fields) != 3 {
				fmt.Println("usage: /progress <seconds> <app>")
				continue
			}
			seconds, err := strconv.Atoi(fields[1])
			if err != nil {
				fmt.Println("seconds must be a number")
				continue
			}
			sess.SendProgress(seconds, fields[2])
		case "/voice":
			if sess.Media().Active() {
				sess.LeaveVoice()
			} else if err := sess.JoinVoice(ctx, false); err != nil {
				log.Error().Err(err).Msg("join voice")
			}
		case "/camera":
			if err := sess.ToggleCamera(ctx); err != nil {
				log.Error().Err(err).Msg("toggle camera")
			}
		case "/screen":
			if sess.Media().Sharing() {
				sess.StopScreenShare()
			} else if err := sess.ShareScreen(ctx); err != nil {
				log.Error().Err(err).Msg("share screen")
			}
		case "/members":
			for _, m := range sess.Members() {
				line := fmt.Sprintf("%s (%s) %s", m.DisplayName, m.ID, m.Status)
				if m.IsLeader {
					line += " [leader]"
				}
				if m.Progress != nil {
					line += fmt.Sprintf(" %d%% of %s", m.Progress.Percentage, m.Progress.AppName)
				}
				fmt.Println(line)
			}
		case "/leave":
			sess.LeaveTeam()
			return
		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
}
