package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/wainbox/wainbox/internal/config"
	"github.com/wainbox/wainbox/internal/gateway"
	"github.com/wainbox/wainbox/internal/inbox"
	"github.com/wainbox/wainbox/internal/store"
	"github.com/wainbox/wainbox/internal/store/pgstore"
	"github.com/wainbox/wainbox/internal/store/wsfeed"
)

// openStore builds the document store backend from account settings.
// Package-level so tests can swap in an in-memory store.
var openStore = func(account config.Account) (store.Store, error) {
	return pgstore.New(account.StoreURL)
}

// openFeed builds the realtime change feed. The relay authenticates with
// the store token.
var openFeed = func(account config.Account) (store.ChangeFeed, error) {
	if account.RealtimeURL == "" {
		return nil, fmt.Errorf("realtime URL not configured - run 'wainbox auth login' with --realtime-url")
	}
	return wsfeed.New(account.RealtimeURL, account.StoreToken), nil
}

// unconfiguredSender rejects every delivery until a gateway is configured.
type unconfiguredSender struct{}

func (unconfiguredSender) SendMessage(context.Context, gateway.Request) (*gateway.Result, error) {
	return nil, errors.New("gateway not configured - run 'wainbox auth login' with --gateway-url")
}

func newSender(account config.Account) inbox.Sender {
	if account.GatewayURL == "" {
		return unconfiguredSender{}
	}
	return gateway.New(account.GatewayURL, account.GatewayToken)
}

// buildSession loads the account, opens the store, and bootstraps a
// session for the acting agent. The caller must Close the session.
func buildSession(ctx context.Context) (*inbox.Session, config.Account, error) {
	account, err := config.LoadAccount()
	if err != nil {
		return nil, config.Account{}, err
	}

	st, err := openStore(account)
	if err != nil {
		return nil, config.Account{}, fmt.Errorf("open store: %w", err)
	}

	sess := inbox.NewSession(st, inbox.NewOutbound(newSender(account)), inbox.Agent{ID: account.AgentID})
	if err := sess.Bootstrap(ctx); err != nil {
		sess.Close()
		return nil, config.Account{}, err
	}
	return sess, account, nil
}
