// Package notify publishes issued card and stamp codes to a Redis channel so
// an external messaging service can deliver them to customers. The service
// only produces code strings; delivery is someone else's job.
package notify

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/restobites/loyalty-ledger/internal/config"
)

// defaultChannel is used when the config does not name one.
const defaultChannel = "loyalty.codes"

// publishTimeout bounds each publish call.
const publishTimeout = 2 * time.Second

// Publisher publishes code events. A nil or unconfigured Publisher is a
// no-op, so callers never need to branch on whether notification is enabled.
type Publisher struct {
	client  *redis.Client
	channel string
}

// New creates a Publisher from config. An empty Redis address yields a no-op
// publisher.
func New(cfg config.RedisConfig) *Publisher {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return &Publisher{}
	}
	channel := strings.TrimSpace(cfg.Channel)
	if channel == "" {
		channel = defaultChannel
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Publisher{client: client, channel: channel}
}

// codeEvent is the published payload.
type codeEvent struct {
	Event    string `json:"event"`               // cards_issued or stamp_issued.
	CardType string `json:"card_type,omitempty"` // Card type for issuance events.
	CardCode string `json:"card_code,omitempty"` // Owning card code for stamp events.
	Code     string `json:"code,omitempty"`      // Single issued code.
	Codes    []string `json:"codes,omitempty"`   // Batch of issued codes.
}

// CardsIssued publishes the codes of a freshly created card batch.
func (p *Publisher) CardsIssued(ctx context.Context, cardType string, codes []string) {
	p.publish(ctx, codeEvent{Event: "cards_issued", CardType: cardType, Codes: codes})
}

// StampIssued publishes a stamp code handed out for a card.
func (p *Publisher) StampIssued(ctx context.Context, cardCode, stampCode string) {
	p.publish(ctx, codeEvent{Event: "stamp_issued", CardCode: cardCode, Code: stampCode})
}

func (p *Publisher) publish(ctx context.Context, event codeEvent) {
	if p == nil || p.client == nil {
		return
	}
	payload, errEncode := json.Marshal(event)
	if errEncode != nil {
		log.Warnf("notify: encode %s event: %v", event.Event, errEncode)
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if errPub := p.client.Publish(pubCtx, p.channel, payload).Err(); errPub != nil {
		log.Warnf("notify: publish %s event: %v", event.Event, errPub)
	}
}

// Close releases the Redis connection, if any.
func (p *Publisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
