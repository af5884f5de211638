package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/casualhall/gameroom/internal/channel"
	"github.com/casualhall/gameroom/internal/chat"
	"github.com/casualhall/gameroom/internal/config"
	"github.com/casualhall/gameroom/internal/directory"
	"github.com/casualhall/gameroom/internal/engine"
	"github.com/casualhall/gameroom/internal/localgame"
	"github.com/casualhall/gameroom/internal/match"
	"github.com/casualhall/gameroom/internal/session"
	"github.com/casualhall/gameroom/pkg/wire"
)

func main() {
	log, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg := config.Load(log)
	name := cfg.DisplayName
	if name == "" {
		name = session.RandomName()
	}

	games := channel.New(cfg.GamesEndpoint(), log.Named("games"))
	if err := games.Open(wire.PlayerIdentity{DisplayName: name}); err != nil {
		log.Fatal("open games channel", zap.Error(err))
	}
	defer games.Close()

	chatCh := channel.New(cfg.ChatEndpoint(), log.Named("chat"))
	if err := chatCh.Open(wire.PlayerIdentity{DisplayName: name}); err != nil {
		log.Fatal("open chat channel", zap.Error(err))
	}
	defer chatCh.Close()

	waitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := games.WaitConnected(waitCtx); err != nil {
		cancel()
		log.Fatal("connect", zap.Error(err))
	}
	cancel()

	dir := directory.New(games, log)
	defer dir.Close()
	sess := session.New(games, dir, engine.ConnectFour, log)
	defer sess.Close()

	room := chat.New(chatCh, log)
	defer room.Close()
	incoming := make(chan wire.ChatMessage, 16)
	room.Watch(incoming)
	go func() {
		for m := range incoming {
			if m.System {
				fmt.Printf("\n* %s\n> ", m.Text)
			} else {
				fmt.Printf("\n<%s> %s\n> ", m.Username, m.Text)
			}
		}
	}()

	fmt.Printf("connected as %s\n", games.Identity().DisplayName)
	fmt.Println("commands: rooms, create, join <id>, move <col>, board, say <text>, name <name>, local, quit")

	var m *match.Match
	defer func() {
		if m != nil {
			m.Close()
		}
	}()

	sc := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		fields := strings.Fields(line)
		if len(fields) == 0 {
			fmt.Print("> ")
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)

		switch fields[0] {
		case "rooms":
			rooms, err := dir.Refresh(ctx)
			if err != nil {
				fmt.Println("error:", err)
				break
			}
			if len(rooms) == 0 {
				fmt.Println("no open rooms")
			}
			for _, r := range rooms {
				names := make([]string, len(r.Players))
				for i, p := range r.Players {
					names[i] = p.DisplayName
				}
				status := "open"
				if r.IsFull {
					status = "full"
				}
				fmt.Printf("  %s [%s] %s\n", r.RoomID, status, strings.Join(names, " vs "))
			}

		case "create":
			roomID, err := sess.CreateRoom(ctx)
			if err != nil {
				fmt.Println("error:", sess.Err())
				break
			}
			fmt.Println("room created:", roomID, "- waiting for an opponent")
			m = startMatch(m, games, sess, roomID, log)

		case "join":
			if len(fields) < 2 {
				fmt.Println("usage: join <roomId>")
				break
			}
			// The match must be listening before the join goes out: the
			// game-started broadcast can beat the join ack.
			m = startMatch(m, games, sess, fields[1], log)
			if err := sess.JoinRoom(ctx, fields[1]); err != nil {
				fmt.Println("error:", sess.Err())
				m.Close()
				m = nil
				break
			}
			fmt.Println("joined", fields[1])

		case "move":
			if m == nil {
				fmt.Println("no active match")
				break
			}
			if len(fields) < 2 {
				fmt.Println("usage: move <column>")
				break
			}
			col, err := strconv.Atoi(fields[1])
			if err != nil {
				fmt.Println("usage: move <column>")
				break
			}
			m.SubmitMove(col)

		case "board":
			if m == nil {
				fmt.Println("no active match")
				break
			}
			printView(m.View())

		case "say":
			if len(fields) < 2 {
				break
			}
			if err := room.Send(ctx, strings.TrimPrefix(line, "say ")); err != nil {
				fmt.Println("error:", err)
			}

		case "name":
			if len(fields) < 2 {
				fmt.Println("usage: name <displayName>")
				break
			}
			if err := sess.SetDisplayName(fields[1]); err != nil {
				fmt.Println("error:", err)
			}

		case "local":
			playLocal(sc)

		case "quit":
			cancel()
			return

		default:
			fmt.Println("unknown command")
		}
		cancel()
		fmt.Print("> ")
	}
}

func startMatch(old *match.Match, games *channel.Channel, sess *session.Session, roomID string, log *zap.Logger) *match.Match {
	if old != nil {
		old.Close()
	}
	m := match.New(context.Background(), games, sess, engine.ConnectFour, roomID, log)
	views := make(chan match.View, 8)
	m.Watch("screen", views)
	go func() {
		for v := range views {
			if v.Status == match.StatusPlaying || v.Status == match.StatusFinished {
				fmt.Println()
				printView(v)
				fmt.Print("> ")
			}
		}
	}()
	return m
}

func printView(v match.View) {
	printBoard(v.Board)
	switch {
	case v.Result != nil && v.Result.Winner == nil:
		fmt.Println("draw!")
	case v.Result != nil:
		fmt.Printf("%s wins!\n", v.Result.Winner.DisplayName)
	case v.Status == match.StatusPlaying && v.Current >= 0 && v.Current < len(v.Players):
		fmt.Printf("turn: %s\n", v.Players[v.Current].DisplayName)
	}
}

func printBoard(b engine.Board) {
	if b == nil {
		return
	}
	for _, row := range b {
		line := make([]string, len(row))
		for i, c := range row {
			line[i] = c.String()
		}
		fmt.Println(strings.Join(line, " "))
	}
}

func playLocal(sc *bufio.Scanner) {
	g := localgame.New(engine.ConnectFour)
	fmt.Println("local game: enter a column 0-6, r resets, q returns")
	printBoard(g.Board())
	fmt.Print("col> ")
	for sc.Scan() {
		in := strings.TrimSpace(sc.Text())
		switch in {
		case "q":
			return
		case "r":
			g.Reset()
			printBoard(g.Board())
		default:
			col, err := strconv.Atoi(in)
			if err != nil {
				fmt.Println("enter a column number")
				break
			}
			pl, err := g.Play(col)
			if err != nil {
				fmt.Println("illegal move:", err)
				break
			}
			printBoard(g.Board())
			if pl.Result.Over {
				if pl.Result.Winner == engine.Empty {
					fmt.Println("draw!")
				} else {
					fmt.Printf("%s wins!\n", pl.Result.Winner)
				}
				fmt.Println("r to play again, q to return")
			}
		}
		fmt.Print("col> ")
	}
}
