// Package judge holds the two judge implementations that reach the ledger
// through the sequencer: a signing client for any judge key, and the price
// oracle built on top of it.
package judge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kimpers/betchya/internal/crypto"
	"github.com/kimpers/betchya/internal/domain"
	"github.com/kimpers/betchya/internal/service"
)

// Submitter is the part of service.LedgerService the client needs.
type Submitter interface {
	Submit(ctx context.Context, stx domain.SignedTx) (service.Receipt, error)
	Nonce(addr domain.Address) uint64
}

// nonceRetries bounds resubmission when another writer using the same key
// took the nonce first.
const nonceRetries = 3

// Client is a domain.JudgeCapability that signs each call with the judge's
// key and submits it through the sequencer.
type Client struct {
	mu     sync.Mutex
	signer *crypto.Signer
	sub    Submitter
}

func NewClient(signer *crypto.Signer, sub Submitter) *Client {
	return &Client{signer: signer, sub: sub}
}

// Address is the judge address the client acts as.
func (c *Client) Address() domain.Address { return c.signer.Address() }

func (c *Client) ConfirmJudge(ctx context.Context, betIndex uint64) error {
	_, err := c.submit(ctx, domain.Tx{Op: domain.OpConfirmJudge, BetIndex: betIndex})
	return err
}

func (c *Client) SettleBet(ctx context.Context, betIndex uint64, result domain.Result) error {
	_, err := c.submit(ctx, domain.Tx{Op: domain.OpSettleBet, BetIndex: betIndex, Result: result})
	return err
}

func (c *Client) submit(ctx context.Context, tx domain.Tx) (service.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < nonceRetries; attempt++ {
		tx.Nonce = c.sub.Nonce(c.signer.Address())
		sig, err := c.signer.SignTx(&tx)
		if err != nil {
			return service.Receipt{}, fmt.Errorf("judge: sign %s: %w", tx.Op, err)
		}
		r, err := c.sub.Submit(ctx, domain.SignedTx{Tx: tx, Signature: sig})
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, domain.ErrBadNonce) {
			return service.Receipt{}, fmt.Errorf("judge: %s bet %d: %w", tx.Op, tx.BetIndex, err)
		}
		lastErr = err
	}
	return service.Receipt{}, fmt.Errorf("judge: %s bet %d: %w", tx.Op, tx.BetIndex, lastErr)
}

var _ domain.JudgeCapability = (*Client)(nil)
