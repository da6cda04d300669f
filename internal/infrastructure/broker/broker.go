package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"rulebot/internal/application/service/execution"
	"rulebot/internal/application/service/subscriptions"
	"rulebot/internal/config"
	interfaces "rulebot/internal/domain/interfaces"
)

// Consumer subscribes to the snapshot topic exchange and fans deliveries out
// to the execution controller, one unit of work per (bot, action, snapshot).
// Queue bindings follow the subscription registry's pair set; the compiled
// filter descriptors drop snapshots a query can never match before the full
// evaluator runs.
type Consumer struct {
	cfg        config.RabbitMQConfig
	controller *execution.Controller
	registry   subscriptions.Registry
	reconciler *subscriptions.Reconciler
	botRepo    interfaces.BotRepository
	logger     *logrus.Logger

	conn     *amqp.Connection
	channels []*amqp.Channel
	wg       sync.WaitGroup
	batcher  *TickBatcher

	mu         sync.Mutex
	snapshotCh *amqp.Channel
	queueName  string
	bound      map[string]struct{}
}

// NewConsumer prepares a consumer for the given configuration.
func NewConsumer(cfg config.RabbitMQConfig, controller *execution.Controller, registry subscriptions.Registry, reconciler *subscriptions.Reconciler, botRepo interfaces.BotRepository, ticksRepo interfaces.TickRepository, logger *logrus.Logger) (*Consumer, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	batchCfg := BatchConfig{
		Size:    cfg.BatchSize,
		Timeout: cfg.BatchTimeout,
	}
	return &Consumer{
		cfg:        cfg,
		controller: controller,
		registry:   registry,
		reconciler: reconciler,
		botRepo:    botRepo,
		logger:     logger,
		batcher:    NewTickBatcher(batchCfg, ticksRepo, logger),
		bound:      make(map[string]struct{}),
	}, nil
}

// Start establishes the AMQP connection, seeds the routing table from the
// currently active bots, and begins consuming snapshots and lifecycle
// events.
func (c *Consumer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}
	c.conn = conn
	c.batcher.Run(ctx)

	active, err := c.botRepo.ListActive(ctx)
	if err != nil {
		c.Close(ctx)
		return fmt.Errorf("load active bots: %w", err)
	}
	for i := range active {
		c.reconciler.BotChanged(&active[i])
	}

	if err := c.startSnapshots(ctx); err != nil {
		c.Close(ctx)
		return err
	}
	if err := c.startLifecycle(ctx); err != nil {
		c.Close(ctx)
		return err
	}

	c.logger.Infof("broker consumer started: snapshots=%s lifecycle=%s pairs=%d",
		c.cfg.SnapshotExchange, c.cfg.LifecycleExchange, len(c.registry.Pairs()))
	return nil
}

// Close stops consumption, flushes pending tick batches, and releases
// resources.
func (c *Consumer) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for _, ch := range c.channels {
		_ = ch.Close()
	}
	c.channels = nil
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.wg.Wait()
	if c.batcher == nil {
		return nil
	}
	return c.batcher.Stop(ctx)
}

func (c *Consumer) startSnapshots(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open snapshot channel: %w", err)
	}
	if err := ch.ExchangeDeclare(c.cfg.SnapshotExchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("declare exchange %s: %w", c.cfg.SnapshotExchange, err)
	}
	queue, err := ch.QueueDeclare(c.cfg.SnapshotQueue, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("declare snapshot queue: %w", err)
	}
	prefetch := c.cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("set qos: %w", err)
	}

	c.mu.Lock()
	c.snapshotCh = ch
	c.queueName = queue.Name
	c.mu.Unlock()
	if err := c.syncBindings(); err != nil {
		ch.Close()
		return err
	}

	deliveries, err := ch.Consume(queue.Name, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("start consume snapshots: %w", err)
	}
	c.channels = append(c.channels, ch)
	c.wg.Add(1)
	go c.consumeSnapshots(ctx, deliveries)
	return nil
}

// syncBindings converges the snapshot queue's routing-key bindings with the
// registry's current pair set.
func (c *Consumer) syncBindings() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshotCh == nil {
		return nil
	}
	wanted := make(map[string]struct{})
	for _, pair := range c.registry.Pairs() {
		wanted[pair] = struct{}{}
	}
	for pair := range wanted {
		if _, ok := c.bound[pair]; ok {
			continue
		}
		if err := c.snapshotCh.QueueBind(c.queueName, pair, c.cfg.SnapshotExchange, false, nil); err != nil {
			return fmt.Errorf("bind pair %s: %w", pair, err)
		}
		c.bound[pair] = struct{}{}
	}
	for pair := range c.bound {
		if _, ok := wanted[pair]; ok {
			continue
		}
		if err := c.snapshotCh.QueueUnbind(c.queueName, pair, c.cfg.SnapshotExchange, nil); err != nil {
			return fmt.Errorf("unbind pair %s: %w", pair, err)
		}
		delete(c.bound, pair)
	}
	return nil
}

func (c *Consumer) consumeSnapshots(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer c.wg.Done()
	log := c.logger.WithField("stream", "snapshots")
	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				return
			}
			if err := c.handleSnapshot(ctx, &delivery); err != nil {
				// Malformed payloads cannot be fixed by redelivery;
				// drop them instead of looping.
				log.WithError(err).Warn("dropping snapshot message")
			}
			if err := delivery.Ack(false); err != nil {
				log.WithError(err).Warn("failed to ack delivery")
			}
		}
	}
}

// handleSnapshot persists the tick and dispatches it to every subscription
// routed to the pair. Per-bot failures are logged inside the controller and
// never abort sibling bots; an error returned here means the message itself
// was unusable.
func (c *Consumer) handleSnapshot(ctx context.Context, delivery *amqp.Delivery) error {
	var payload SnapshotMessage
	if err := json.Unmarshal(delivery.Body, &payload); err != nil {
		return fmt.Errorf("decode snapshot payload: %w", err)
	}
	tick := payload.Tick
	if tick.Pair == "" {
		tick.Pair = delivery.RoutingKey
	}
	if err := c.batcher.Add(&tick); err != nil {
		c.logger.WithError(err).Warn("tick persistence enqueue failed")
	}

	subs := c.registry.ForPair(tick.Pair)
	if len(subs) == 0 {
		return nil
	}

	limit := c.cfg.MaxConcurrency
	if limit <= 0 {
		limit = 1
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(limit)
	for _, sub := range subs {
		if !sub.Descriptor.Matches(&tick.Snapshot) {
			continue
		}
		sub := sub
		group.Go(func() error {
			if err := c.controller.ProcessAction(groupCtx, &sub.Bot, sub.Action, &tick); err != nil {
				c.logger.WithError(err).WithFields(logrus.Fields{
					"bot":    sub.Bot.ID,
					"action": sub.Action,
				}).Error("bot evaluation failed")
			}
			// Errors stay local to the bot; never cancel siblings.
			return nil
		})
	}
	return group.Wait()
}

func (c *Consumer) startLifecycle(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open lifecycle channel: %w", err)
	}
	if err := ch.ExchangeDeclare(c.cfg.LifecycleExchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("declare exchange %s: %w", c.cfg.LifecycleExchange, err)
	}
	queue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("declare lifecycle queue: %w", err)
	}
	if err := ch.QueueBind(queue.Name, "", c.cfg.LifecycleExchange, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("bind lifecycle queue: %w", err)
	}
	deliveries, err := ch.Consume(queue.Name, "", false, true, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("start consume lifecycle: %w", err)
	}
	c.channels = append(c.channels, ch)
	c.wg.Add(1)
	go c.consumeLifecycle(ctx, deliveries)
	return nil
}

func (c *Consumer) consumeLifecycle(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer c.wg.Done()
	log := c.logger.WithField("stream", "lifecycle")
	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				return
			}
			if err := c.handleLifecycle(ctx, &delivery); err != nil {
				log.WithError(err).Warn("failed to process lifecycle event")
				_ = delivery.Nack(false, true)
				continue
			}
			if err := delivery.Ack(false); err != nil {
				log.WithError(err).Warn("failed to ack delivery")
			}
		}
	}
}

func (c *Consumer) handleLifecycle(ctx context.Context, delivery *amqp.Delivery) error {
	var payload LifecycleMessage
	if err := json.Unmarshal(delivery.Body, &payload); err != nil {
		return fmt.Errorf("decode lifecycle payload: %w", err)
	}
	switch payload.Type {
	case EventBotDeleted:
		c.reconciler.BotDeleted(payload.BotID)
	case EventBotCreated, EventBotUpdated:
		bot, err := c.botRepo.Get(ctx, payload.BotID)
		if err != nil {
			return fmt.Errorf("load bot %s: %w", payload.BotID, err)
		}
		c.reconciler.BotChanged(bot)
	default:
		return fmt.Errorf("unsupported lifecycle event %q", payload.Type)
	}
	return c.syncBindings()
}
