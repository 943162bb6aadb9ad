package transport

import (
	"context"
	"time"

	"github.com/carverauto/posedge/pkg/escpos"
	"github.com/carverauto/posedge/pkg/models"
)

// Real-time status bits. Bits 1 and 4 are always set and bits 0 and 7
// always clear in a well-formed reply.
const (
	statusFixedMask  = 0x93
	statusFixedValue = 0x12

	generalDrawerHigh = 0x04
	generalOffline    = 0x08

	offlineCoverOpen  = 0x04
	offlineFeedButton = 0x08
	offlinePaperStop  = 0x20
	offlineError      = 0x40

	errorCutter          = 0x08
	errorUnrecoverable   = 0x20
	errorAutoRecoverable = 0x40

	paperNearEnd = 0x0C
	paperEnd     = 0x60
)

// Status is one decoded real-time status reply. Only the flags belonging
// to Kind are meaningful.
type Status struct {
	Kind escpos.StatusKind
	Raw  byte

	Offline    bool
	DrawerHigh bool

	CoverOpen     bool
	FeedButton    bool
	PaperStop     bool
	ErrorOccurred bool

	CutterError          bool
	UnrecoverableError   bool
	AutoRecoverableError bool

	PaperNearEnd bool
	PaperEnd     bool
}

// DecodeStatus interprets a reply byte for the given request kind.
func DecodeStatus(kind escpos.StatusKind, raw byte) Status {
	s := Status{Kind: kind, Raw: raw}

	switch kind {
	case escpos.StatusGeneral:
		s.Offline = raw&generalOffline != 0
		s.DrawerHigh = raw&generalDrawerHigh != 0
	case escpos.StatusOfflineCause:
		s.CoverOpen = raw&offlineCoverOpen != 0
		s.FeedButton = raw&offlineFeedButton != 0
		s.PaperStop = raw&offlinePaperStop != 0
		s.ErrorOccurred = raw&offlineError != 0
	case escpos.StatusErrorCause:
		s.CutterError = raw&errorCutter != 0
		s.UnrecoverableError = raw&errorUnrecoverable != 0
		s.AutoRecoverableError = raw&errorAutoRecoverable != 0
	case escpos.StatusPaper:
		s.PaperNearEnd = raw&paperNearEnd != 0
		s.PaperEnd = raw&paperEnd != 0
	}

	return s
}

// QueryStatus sends one DLE EOT request and decodes the reply. A device
// that stays silent for the grace window yields ErrNoStatusResponse.
func (c *Client) QueryStatus(ctx context.Context, ep models.Endpoint, kind escpos.StatusKind, timeout time.Duration) (Status, error) {
	if timeout <= 0 {
		timeout = time.Duration(c.cfg.ProbeTimeout)
	}

	l, err := c.open(ctx, "status", ep, timeout)
	if err != nil {
		return Status{}, err
	}
	defer c.closeQuietly(l)

	if err := l.setWriteDeadline(time.Now().Add(timeout)); err != nil {
		return Status{}, newError("status", ep.Address(), classify(err), err)
	}

	request := escpos.New(models.DialectFull, models.PaperWide).RequestStatus(kind).Build()
	if err := writeAll(l, request); err != nil {
		return Status{}, newError("status", ep.Address(), classify(err), err)
	}

	var reply [1]byte

	n, err := l.readWithin(reply[:], c.grace(timeout))
	if err != nil {
		return Status{}, newError("status", ep.Address(), classify(err), err)
	}

	if n == 0 || reply[0]&statusFixedMask != statusFixedValue {
		return Status{}, newError("status", ep.Address(), KindOther, ErrNoStatusResponse)
	}

	return DecodeStatus(kind, reply[0]), nil
}
