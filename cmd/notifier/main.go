package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pujaseva/puja-bookings-and-settlements/internal/adapters/rabbit"
	"github.com/pujaseva/puja-bookings-and-settlements/internal/config"
	"github.com/pujaseva/puja-bookings-and-settlements/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
)

// The notifier consumes booking lifecycle events and records the
// notifications that would be sent to customers and pandits. Actual
// SMS/email delivery hangs off this consumer.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := observability.NewLogger()

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()

	consumer, err := rabbit.NewConsumer(conn, "notifications", "booking.#")
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		log.Fatalf("failed to consume: %v", err)
	}

	go func() {
		for d := range deliveries {
			var payload map[string]interface{}
			if err := json.Unmarshal(d.Body, &payload); err != nil {
				logger.Error("failed to decode event payload", err)
				_ = d.Nack(false, false)
				continue
			}
			logger.WithField("routing_key", d.RoutingKey).
				WithField("booking_id", payload["booking_id"]).
				Info("booking event received")
			if err := d.Ack(false); err != nil {
				logger.Error("failed to ack delivery", err)
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown notifier")
}
