package engine

import (
	"context"
	"time"

	"github.com/marketsim/engine/pkg/market"
)

// Mailbox serializes order submissions and round triggers through a single
// worker, so admission and matching happen on the same unit of mutation and
// no staging area is needed. Orders are admitted into the book at submission
// time; an order submitted before a round trigger is eligible in that round,
// one submitted after is deferred to the next.
type Mailbox struct {
	e      *Engine
	inbox  chan mailboxMsg
	cancel context.CancelFunc
	done   chan struct{}
}

type mailboxMsg interface{ isMailboxMsg() }

type submitSellMsg struct {
	sellerName string
	productID  string
	quantity   int
	askPrice   float64
	id         int
	reply      chan sellReply
}

type submitBuyMsg struct {
	buyerName string
	productID string
	quantity  int
	id        int
	reply     chan buyReply
}

type runMsg struct {
	// reply is nil for self-enqueued continuation triggers.
	reply chan []*market.Trade
}

type sellReply struct {
	order *market.SellOrder
	err   error
}

type buyReply struct {
	order *market.BuyOrder
	err   error
}

func (submitSellMsg) isMailboxMsg() {}
func (submitBuyMsg) isMailboxMsg()  {}
func (runMsg) isMailboxMsg()        {}

// NewMailbox wraps an engine in a serialized mailbox and starts its worker.
// The engine must not also be started in continuous mode.
func NewMailbox(e *Engine) *Mailbox {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Mailbox{
		e:      e,
		inbox:  make(chan mailboxMsg, 1024),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go m.worker(ctx)
	return m
}

// SubmitSell admits a sell order through the mailbox and returns its handle.
func (m *Mailbox) SubmitSell(sellerName, productID string, quantity int, askPrice float64, id int) (*market.SellOrder, error) {
	reply := make(chan sellReply, 1)
	m.inbox <- submitSellMsg{
		sellerName: sellerName,
		productID:  productID,
		quantity:   quantity,
		askPrice:   askPrice,
		id:         id,
		reply:      reply,
	}
	r := <-reply
	return r.order, r.err
}

// SubmitBuy admits a buy order through the mailbox and returns its handle.
func (m *Mailbox) SubmitBuy(buyerName, productID string, quantity int, id int) (*market.BuyOrder, error) {
	reply := make(chan buyReply, 1)
	m.inbox <- submitBuyMsg{
		buyerName: buyerName,
		productID: productID,
		quantity:  quantity,
		id:        id,
		reply:     reply,
	}
	r := <-reply
	return r.order, r.err
}

// RunOnce triggers one round and returns its trades once it completed.
func (m *Mailbox) RunOnce() []*market.Trade {
	reply := make(chan []*market.Trade, 1)
	m.inbox <- runMsg{reply: reply}
	return <-reply
}

// RunContinuously triggers a round now; after each round the worker
// re-enqueues its own trigger once the configured delay elapsed, giving
// looping semantics without a long-lived blocking thread.
func (m *Mailbox) RunContinuously() {
	m.inbox <- runMsg{}
}

// Close stops the worker. Takes effect at the next message boundary; an
// in-flight round always completes.
func (m *Mailbox) Close() {
	m.cancel()
	<-m.done
}

func (m *Mailbox) worker(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			m.e.notify(m.e.listener, market.Event{Type: market.EventStopped})
			return
		case msg := <-m.inbox:
			m.handle(ctx, msg)
		}
	}
}

func (m *Mailbox) handle(ctx context.Context, msg mailboxMsg) {
	switch msg := msg.(type) {
	case submitSellMsg:
		if msg.quantity <= 0 {
			msg.reply <- sellReply{err: market.ErrInvalidQuantity}
			return
		}
		if msg.askPrice <= 0 {
			msg.reply <- sellReply{err: market.ErrInvalidPrice}
			return
		}
		order := &market.SellOrder{
			ID:                msg.id,
			ProductID:         msg.productID,
			Quantity:          msg.quantity,
			RemainingQuantity: msg.quantity,
			AskPrice:          msg.askPrice,
		}
		m.e.admitSell(msg.sellerName, order, m.e.clock())
		if m.e.met != nil {
			m.e.met.OrderSubmitted("sell")
		}
		msg.reply <- sellReply{order: order}

	case submitBuyMsg:
		if msg.quantity <= 0 {
			msg.reply <- buyReply{err: market.ErrInvalidQuantity}
			return
		}
		order := &market.BuyOrder{
			ID:                msg.id,
			ProductID:         msg.productID,
			Quantity:          msg.quantity,
			RemainingQuantity: msg.quantity,
		}
		m.e.admitBuy(msg.buyerName, order, m.e.clock())
		if m.e.met != nil {
			m.e.met.OrderSubmitted("buy")
		}
		msg.reply <- buyReply{order: order}

	case runMsg:
		// Orders were admitted at submission; nothing to merge.
		trades := m.e.runRound(ctx, false)
		if msg.reply != nil {
			msg.reply <- trades
			return
		}
		// Continuation trigger: re-enqueue after the inter-round delay.
		time.AfterFunc(m.e.cfg.Delay, func() {
			select {
			case <-ctx.Done():
			case m.inbox <- runMsg{}:
			}
		})
	}
}
