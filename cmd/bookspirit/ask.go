package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashureev/bookspirit/internal/dialog"
	"github.com/ashureev/bookspirit/internal/domain"
	"github.com/ashureev/bookspirit/internal/identity"
	"github.com/ashureev/bookspirit/internal/rpc"
)

const maxAskHistory = 40

var (
	askUserID  string
	askBook    string
	askChapter string
	askAddr    string
	askJSON    bool
)

var askCmd = &cobra.Command{
	Use:   "ask [message]",
	Short: "Talk to the book spirit from the terminal",
	Long: `Send a message to the book spirit and print its reply.

With a message argument, one exchange is made. Without one, lines are read
from stdin and the conversation history is kept between them.

By default a local engine is built from the environment. With --addr the
message is sent to a running server over gRPC.`,
	Example: `  bookspirit ask --user demo "我的计划是什么"
  bookspirit ask --user demo --book 西游记 --chapter 第五回
  bookspirit ask --addr localhost:9090 "给我推荐几本书"`,
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askUserID, "user", "", "Reader ID (default: new anonymous ID)")
	askCmd.Flags().StringVar(&askBook, "book", "", "Book being read")
	askCmd.Flags().StringVar(&askChapter, "chapter", "", "Current chapter")
	askCmd.Flags().StringVar(&askAddr, "addr", "", "gRPC address of a running server")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "Print replies as JSON")
	rootCmd.AddCommand(askCmd)
}

// sender sends one message and returns the reply.
type sender func(ctx context.Context, req dialog.Request) (dialog.Reply, error)

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := slog.Default()

	userID := askUserID
	if userID == "" {
		userID = identity.NewAnonID()
	} else if !identity.ValidUserID(userID) {
		return fmt.Errorf("invalid user ID %q", userID)
	}

	send, closeFn, err := newSender(ctx, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	out := cmd.OutOrStdout()
	if len(args) > 0 {
		return askOnce(ctx, out, send, userID, strings.Join(args, " "))
	}

	var history []domain.HistoryMessage
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		reply, err := send(ctx, request(userID, line, history))
		if err != nil {
			printError(cmd.ErrOrStderr(), "%v", err)
			continue
		}
		if err := printReply(out, reply); err != nil {
			return err
		}
		history = append(history,
			domain.HistoryMessage{Role: "user", Content: line},
			domain.HistoryMessage{Role: "assistant", Content: reply.Reply},
		)
		if len(history) > maxAskHistory {
			history = history[len(history)-maxAskHistory:]
		}
	}
	return scanner.Err()
}

func newSender(ctx context.Context, logger *slog.Logger) (sender, func(), error) {
	if askAddr != "" {
		client, err := rpc.NewClient(rpc.DefaultClientConfig(askAddr), logger)
		if err != nil {
			return nil, nil, err
		}
		return client.HandleMessage, client.Close, nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	send := func(ctx context.Context, req dialog.Request) (dialog.Reply, error) {
		return a.engine.HandleMessage(ctx, req), nil
	}
	return send, a.Close, nil
}

func request(userID, message string, history []domain.HistoryMessage) dialog.Request {
	return dialog.Request{
		UserID:   userID,
		Message:  message,
		History:  history,
		BookName: askBook,
		Chapter:  askChapter,
	}
}

func askOnce(ctx context.Context, out io.Writer, send sender, userID, message string) error {
	reply, err := send(ctx, request(userID, message, nil))
	if err != nil {
		return err
	}
	return printReply(out, reply)
}

func printReply(w io.Writer, reply dialog.Reply) error {
	if askJSON {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		return enc.Encode(reply)
	}
	fmt.Fprintln(w, spiritStyle.Render(iconSpirit+" 书灵"))
	fmt.Fprintln(w, replyStyle.Render(reply.Reply))
	meta := fmt.Sprintf("  %s · %.2f · %s", reply.Intent, reply.Confidence, reply.Source)
	if reply.Fallback {
		meta += " · fallback"
	}
	printMuted(w, "%s", meta)
	return nil
}
