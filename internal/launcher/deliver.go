package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"padbridge/internal/config"
	"padbridge/internal/exchange"
	"padbridge/internal/ipc"
	"padbridge/internal/locator"
	"padbridge/internal/logging"
	"padbridge/internal/namedobj"
)

// ErrDropped reports that the primary received a query but did not process it.
var ErrDropped = errors.New("primary dropped the command")

// Delivery describes the outcome of one delivered command.
type Delivery struct {
	Command ipc.Command
	// Processed is false when the primary received but dropped the payload.
	Processed bool
	// Answer is the query result; empty for generic commands.
	Answer string
	// Abandoned is set when the query recovered an abandoned result mutex.
	Abandoned bool
}

// Client delivers commands from a non-primary invocation.
type Client struct {
	cfg      *config.Config
	ns       *namedobj.Namespace
	logger   *slog.Logger
	sender   *ipc.Sender
	exchange *exchange.Client
}

// NewClient prepares a command client over the configured namespace.
func NewClient(cfg *config.Config, ns *namedobj.Namespace, logger *slog.Logger) *Client {
	c := &Client{
		cfg:    cfg,
		ns:     ns,
		logger: logging.NewComponentLogger(logger, "launcher"),
		sender: ipc.NewSender(cfg.IPC.MaxCommandLength, cfg.DialTimeout()),
	}
	c.exchange = exchange.NewClient(ns, exchange.SenderFunc(c.sendQuery), exchange.Options{
		ExclusionTimeout: cfg.ExclusionTimeout(),
		NotifyTimeout:    cfg.NotifyTimeout(),
	}, logger)
	return c
}

// Send resolves the primary and delivers one command payload within the
// delivery timeout, or sooner when ctx carries an earlier deadline (queries
// pass their notification budget). The caller decides what a missing primary
// (locator.ErrNoPrimary) means.
func (c *Client) Send(ctx context.Context, command string) (bool, error) {
	endpoint, err := locator.Resolve(c.ns, c.cfg.IPC.DisplayLabel)
	if err != nil {
		return false, err
	}
	sendCtx, cancel := context.WithTimeout(ctx, c.cfg.DeliveryTimeout())
	defer cancel()
	processed, err := c.sender.Send(sendCtx, endpoint.Path, command)
	if err != nil {
		return false, err
	}
	c.logger.Debug("command delivered",
		logging.String(logging.FieldCommand, command),
		logging.Bool("processed", processed),
		logging.String("endpoint", endpoint.Token))
	return processed, nil
}

func (c *Client) sendQuery(ctx context.Context, command string) error {
	processed, err := c.Send(ctx, command)
	if err != nil {
		return err
	}
	if !processed {
		return ErrDropped
	}
	return nil
}

// Deliver parses command and routes it: queries go through the result
// exchange, everything else is a one-shot send. Malformed commands are
// rejected locally before any connection is made.
func (c *Client) Deliver(ctx context.Context, command string) (Delivery, error) {
	cmd, err := ipc.Parse(command, c.cfg.IPC.MaxCommandLength)
	if err != nil {
		return Delivery{}, err
	}
	if cmd.Kind == ipc.KindQuery {
		return c.Query(ctx, cmd.Resource)
	}
	processed, err := c.Send(ctx, cmd.Raw)
	if err != nil {
		return Delivery{Command: cmd}, err
	}
	return Delivery{Command: cmd, Processed: processed}, nil
}

// Query runs one query round trip. The answer is "" on any failure, and err
// says why.
func (c *Client) Query(ctx context.Context, resource string) (Delivery, error) {
	cmd := ipc.Command{Kind: ipc.KindQuery, Verb: "query", Resource: resource, Raw: ipc.QueryPrefix + resource}
	res, err := c.exchange.Ask(ctx, resource)
	if err != nil {
		return Delivery{Command: cmd}, fmt.Errorf("query %s: %w", resource, err)
	}
	return Delivery{Command: cmd, Processed: true, Answer: res.Answer, Abandoned: res.Abandoned}, nil
}
