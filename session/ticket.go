package session

import (
	"context"
	"fmt"
	"time"
)

func (s *Store) ticketKey(ticketID string) string {
	return s.prefix + ":t:" + ticketID
}

// RedeemTicket marks a single-use ticket as spent and reports whether this
// call did it. The marker expires after ttl, which must cover the rest of
// the ticket's lifetime.
//
//	Performance: 1 SET NX.
func (s *Store) RedeemTicket(ctx context.Context, ticketID string, ttl time.Duration) (bool, error) {
	if ticketID == "" {
		return false, nil
	}
	ok, err := s.redis.SetNX(ctx, s.ticketKey(ticketID), s.now().UnixMilli(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ok, nil
}

// TicketRedeemed reports whether RedeemTicket already succeeded for
// ticketID.
func (s *Store) TicketRedeemed(ctx context.Context, ticketID string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.ticketKey(ticketID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n == 1, nil
}
