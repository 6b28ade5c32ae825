package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/botconsole/messaging/internal/cache"
	"github.com/botconsole/messaging/internal/config"
	"github.com/botconsole/messaging/internal/model"
	"github.com/botconsole/messaging/internal/query"
	"github.com/botconsole/messaging/internal/repo"
	"github.com/botconsole/messaging/internal/service"
	"github.com/botconsole/messaging/internal/transport"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		log.Fatal(err)
	}

	client := transport.NewClient(cfg.API.BaseURL,
		transport.WithToken(cfg.API.Token),
		transport.WithTimeout(cfg.API.Timeout),
		transport.WithRetry(cfg.API.RetryAttempts, cfg.API.RetryBase, cfg.API.RetryCap),
	)

	var qc cache.QueryCache = cache.NewMemoryCache()
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		qc = cache.NewRedisCache(rdb)
	}

	messages := repo.NewHTTPMessageRepo(client)
	svc := service.NewMessageService(messages, qc, cfg.Cache.TTL)

	if err := run(svc, cfg, os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(svc *service.MessageService, cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: console <send|list|stats|watch> [args]")
	}

	ctx := context.Background()

	switch args[0] {
	case "send":
		if len(args) < 3 {
			return fmt.Errorf("usage: console send <to> <content>")
		}
		msg, err := svc.SendMessage(ctx, model.SendMessageData{
			To:      args[1],
			Content: strings.Join(args[2:], " "),
		})
		if err != nil {
			return err
		}
		fmt.Println(formatMessage(msg))
		return nil

	case "list":
		if len(args) > 1 {
			status := model.Status(args[1])
			if !status.Valid() {
				return fmt.Errorf("unknown status %q", args[1])
			}
			if err := svc.UpdateFilters(ctx, query.FilterPatch{Status: &status}); err != nil {
				return err
			}
		} else if err := svc.RefreshMessages(ctx); err != nil {
			return err
		}
		for _, m := range svc.Messages() {
			fmt.Println(formatMessage(&m))
		}
		return nil

	case "stats":
		if err := svc.RefreshStats(ctx); err != nil {
			return err
		}
		fmt.Println(formatStats(svc.Stats()))
		return nil

	case "watch":
		poller, err := service.NewStatsPoller(cfg.Stats.PollInterval, func(ctx context.Context) error {
			if err := svc.RefreshStats(ctx); err != nil {
				return err
			}
			fmt.Println(formatStats(svc.Stats()))
			return nil
		})
		if err != nil {
			return err
		}

		poller.Start()
		defer poller.Stop()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		return nil

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func formatMessage(m *model.Message) string {
	to := "-"
	if m.ToNumber != nil {
		to = *m.ToNumber
	}
	line := fmt.Sprintf("%s  %-9s  %-8s  to=%s  %q", m.ID, m.Status, m.Type, to, m.Content)
	if m.ErrorMessage != nil {
		line += "  error=" + *m.ErrorMessage
	}
	return line
}

func formatStats(s *model.MessageStats) string {
	if s == nil {
		return "stats: (loading)"
	}
	return fmt.Sprintf(
		"total=%d pending=%d sent=%d delivered=%d failed=%d | text=%d media=%d template=%d",
		s.Total, s.Pending, s.Sent, s.Delivered, s.Failed,
		s.TextMessages, s.MediaMessages, s.TemplateMessages,
	)
}
