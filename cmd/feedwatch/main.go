// Command feedwatch follows the realtime change feed as a given portal user
// and prints notifications as they arrive.
package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/dwusrc/dwu-src-web-application-sub001/internal/config"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/observability"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/realtime"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	opts, err := parseOptions(os.Args[1:], os.Getenv("FEEDWATCH_TOKEN"))
	if err != nil {
		log.Fatal(err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	dialer := &realtime.WebsocketDialer{
		URL:      opts.URL,
		Token:    opts.Token,
		PongWait: 2 * cfg.Realtime.HeartbeatInterval(),
		Logger:   logger,
	}
	notifier := realtime.NewNotifier(dialer, opts.Actor, realtime.NotifierConfig{
		FeedCapacity: cfg.Realtime.FeedCapacity,
		Manager: realtime.ManagerConfig{
			BaseDelay:         cfg.Realtime.BaseDelay(),
			MaxRetries:        cfg.Realtime.MaxRetries,
			HeartbeatInterval: cfg.Realtime.HeartbeatInterval(),
			Logger:            logger,
			OnStateChange: func(state realtime.ConnState) {
				fmt.Printf("-- %s\n", state)
				if state == realtime.StateDisconnected {
					fmt.Println("-- retries exhausted; press enter to reconnect")
				}
			},
			OnReconnect: func() {
				logger.Info("reconnected; earlier changes may have been missed")
			},
		},
		OnNotify: func(n realtime.Notification) {
			fmt.Printf("%s  %-7s %-16s %s by %s", n.Timestamp.Format("15:04:05"), n.EntityType, n.ChangeKind, n.Ref, n.ActorID)
			if n.Excerpt != "" {
				fmt.Printf(": %s", n.Excerpt)
			}
			fmt.Println()
		},
	})

	if err := notifier.Start(); err != nil {
		logger.Fatal("start notifier", zap.Error(err))
	}
	defer notifier.Close()

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			switch strings.TrimSpace(scanner.Text()) {
			case "", "retry":
				if err := notifier.Retry(); err != nil {
					logger.Warn("retry failed", zap.Error(err))
				}
			case "read":
				notifier.Feed().MarkAllRead()
				fmt.Println("-- unread: 0")
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	fmt.Printf("-- %d unread of %d held\n", notifier.Feed().Unread(), notifier.Feed().Len())
}
