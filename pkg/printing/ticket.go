// Package printing turns new orders into kitchen tickets.
package printing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/carverauto/posedge/pkg/escpos"
	"github.com/carverauto/posedge/pkg/events"
	"github.com/carverauto/posedge/pkg/logger"
	"github.com/carverauto/posedge/pkg/models"
	"github.com/carverauto/posedge/pkg/scheduler"
)

const (
	defaultRole            = "kitchen"
	defaultCatchUpInterval = 2 * time.Minute
	ticketFeed             = 3
)

var errNoPrinters = errors.New("no enabled printer serves the configured roles")

type Config struct {
	Roles  []string `json:"roles"`
	Header string   `json:"header"`
	// CatchUpInterval is how often unacknowledged orders are reprinted,
	// covering new-order events the bus dropped and printers that were down.
	CatchUpInterval models.Duration `json:"catch_up_interval"`
}

func (c *Config) Validate() error {
	if len(c.Roles) == 0 {
		c.Roles = []string{defaultRole}
	}

	if c.CatchUpInterval <= 0 {
		c.CatchUpInterval = models.Duration(defaultCatchUpInterval)
	}

	return nil
}

// Devices lists the registered printers.
type Devices interface {
	ListDevices(ctx context.Context) ([]models.DeviceProfile, error)
}

// Printer delivers a command buffer to a device.
type Printer interface {
	Print(ctx context.Context, device *models.DeviceProfile, payload []byte) error
}

// Orders is the local order store as seen by the printer.
type Orders interface {
	GetOrder(ctx context.Context, id string) (models.Order, bool, error)
	UnacknowledgedOrders(ctx context.Context) ([]models.Order, error)
	MarkAcknowledged(ctx context.Context, id string) (bool, error)
}

// Subscriber is the subscription side of events.Bus.
type Subscriber interface {
	Subscribe(name string, handler events.Handler, types ...events.Type) func()
}

// TicketPrinter prints each new order on every enabled device that serves
// one of the configured roles. Orders still unacknowledged are retried by
// a periodic catch-up pass.
type TicketPrinter struct {
	cfg     Config
	devices Devices
	printer Printer
	orders  Orders
	logger  logger.Logger
	task    *scheduler.Task

	mu      sync.Mutex
	claimed map[string]struct{}
}

func NewTicketPrinter(
	cfg *Config,
	devices Devices,
	printer Printer,
	orders Orders,
	clock scheduler.Clock,
	log logger.Logger,
) (*TicketPrinter, error) {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	p := &TicketPrinter{
		cfg:     c,
		devices: devices,
		printer: printer,
		orders:  orders,
		logger:  log,
		claimed: make(map[string]struct{}),
	}

	task, err := scheduler.New(scheduler.Config{
		Name:       "tickets",
		Interval:   time.Duration(c.CatchUpInterval),
		RunOnStart: true,
	}, p.tick, clock, log)
	if err != nil {
		return nil, err
	}

	p.task = task

	return p, nil
}

// Start begins the catch-up loop, which also runs once immediately.
func (p *TicketPrinter) Start(ctx context.Context) error { return p.task.Start(ctx) }

func (p *TicketPrinter) Stop() { p.task.Stop() }

func (p *TicketPrinter) RunNow(ctx context.Context) scheduler.RunResult { return p.task.RunNow(ctx) }

func (p *TicketPrinter) TaskStats() scheduler.Stats { return p.task.Stats() }

func (p *TicketPrinter) tick(ctx context.Context) error {
	p.CatchUp(ctx)
	return nil
}

// Attach subscribes to new-order events. Prints run on the subscription's
// goroutine under ctx. The returned func unsubscribes.
func (p *TicketPrinter) Attach(ctx context.Context, sub Subscriber) func() {
	return sub.Subscribe("ticket-printer", func(e events.Event) {
		data, ok := e.Data.(events.OrderNew)
		if !ok {
			return
		}

		if _, err := p.printOnce(ctx, &data.Order); err != nil {
			p.logger.Warn().Err(err).Str("order_id", data.Order.ID).Msg("Kitchen ticket not fully printed")
		}
	}, events.TypeOrderNew)
}

// CatchUp prints every order still waiting for an acknowledgement and
// returns how many were printed.
func (p *TicketPrinter) CatchUp(ctx context.Context) int {
	waiting, err := p.orders.UnacknowledgedOrders(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to list unacknowledged orders")
		return 0
	}

	printed := 0

	for i := range waiting {
		n, err := p.printOnce(ctx, &waiting[i])
		if errors.Is(err, errNoPrinters) {
			p.logger.Debug().Int("waiting", len(waiting)).Msg("No printer for unacknowledged orders")
			break
		}

		if err != nil {
			p.logger.Warn().Err(err).Str("order_id", waiting[i].ID).Msg("Catch-up ticket not fully printed")
		}

		if n > 0 {
			printed++
		}
	}

	if printed > 0 {
		p.logger.Info().Int("orders", printed).Msg("Reprinted unacknowledged orders")
	}

	return printed
}

// printOnce prints o unless another pass is printing it or it has been
// acknowledged since o was read.
func (p *TicketPrinter) printOnce(ctx context.Context, o *models.Order) (int, error) {
	if !p.claim(o.ID) {
		return 0, nil
	}
	defer p.release(o.ID)

	current, found, err := p.orders.GetOrder(ctx, o.ID)
	if err != nil {
		p.logger.Debug().Err(err).Str("order_id", o.ID).Msg("Order lookup failed, printing as received")
	} else if found {
		if current.Acknowledged {
			return 0, nil
		}

		o = &current
	}

	return p.PrintOrder(ctx, o)
}

func (p *TicketPrinter) claim(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, busy := p.claimed[id]; busy {
		return false
	}

	p.claimed[id] = struct{}{}

	return true
}

func (p *TicketPrinter) release(id string) {
	p.mu.Lock()
	delete(p.claimed, id)
	p.mu.Unlock()
}

// PrintOrder sends the ticket to every matching printer and acknowledges
// the order once at least one accepted it. It returns how many printed.
func (p *TicketPrinter) PrintOrder(ctx context.Context, o *models.Order) (int, error) {
	devices, err := p.devices.ListDevices(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list printers: %w", err)
	}

	printed := 0
	targets := 0

	var errs []error

	for i := range devices {
		d := &devices[i]
		if !d.Enabled || !p.serves(d) {
			continue
		}

		targets++

		if err := p.printer.Print(ctx, d, Ticket(o, d, p.cfg.Header)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.ID, err))
			continue
		}

		printed++
	}

	if targets == 0 {
		return 0, errNoPrinters
	}

	if printed > 0 {
		if _, err := p.orders.MarkAcknowledged(ctx, o.ID); err != nil {
			errs = append(errs, fmt.Errorf("failed to acknowledge order %s: %w", o.ID, err))
		}

		p.logger.Info().
			Str("order_id", o.ID).
			Int("printers", printed).
			Msg("Kitchen ticket printed")
	}

	return printed, errors.Join(errs...)
}

func (p *TicketPrinter) serves(d *models.DeviceProfile) bool {
	for _, role := range p.cfg.Roles {
		if d.HasRole(role) {
			return true
		}
	}

	return false
}

// Ticket renders o for device d.
func Ticket(o *models.Order, d *models.DeviceProfile, header string) []byte {
	b := escpos.ForDevice(d).Initialize().SetAlign(escpos.AlignCenter)

	if header != "" {
		b.PrintLine(header)
	}

	ref := o.Reference
	if ref == "" {
		ref = o.ID
	}

	b.SetBold(true).
		SetFontSize(2, 2).
		PrintLine("#" + ref).
		SetFontSize(1, 1).
		PrintLine(strings.ToUpper(o.Type.String())).
		SetBold(false)

	if !o.CreatedAt.IsZero() {
		b.PrintLine(o.CreatedAt.Local().Format("2006-01-02 15:04"))
	}

	if o.CustomerName != "" {
		b.PrintLine(o.CustomerName)
	}

	b.SetAlign(escpos.AlignLeft).Separator('-')

	for _, it := range o.Items {
		b.PrintColumns(fmt.Sprintf("%dx %s", it.Quantity, it.Name), money(it.PriceCents*int64(it.Quantity)))

		if it.Notes != "" {
			b.PrintLine("   > " + it.Notes)
		}
	}

	b.Separator('-').
		SetBold(true).
		PrintColumns("TOTAL", money(o.TotalCents)).
		SetBold(false)

	if o.Notes != "" {
		b.FeedLines(1).PrintLine("Notes: " + o.Notes)
	}

	b.FeedLines(ticketFeed).Cut(true)

	if d.HasBuzzer {
		b.Buzz(false)
	}

	return b.Build()
}

func money(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}

	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
