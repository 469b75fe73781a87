package cart

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"storefront/internal/api"
	"storefront/internal/domain/cart"
)

// Remote is the slice of the commerce API the cart needs. Satisfied by
// *api.Client.
type Remote interface {
	GetCart(ctx context.Context, userID string) (cart.Cart, error)
	AddToCart(ctx context.Context, userID string, productID int64, quantity int) error
	RemoveFromCart(ctx context.Context, userID string, productID int64) error
	ClearCart(ctx context.Context, userID string) error
}

// Session exposes the active identity the cart belongs to.
type Session interface {
	UserID() (string, bool)
}

// Store mirrors the remote cart for the active identity. The remote
// service is the sole source of truth: every mutation is confirmed by
// a full reload, never applied optimistically, because the service
// independently enforces stock limits.
//
// opMu serializes mutation-and-reload sequences per store. The
// decrease path in SetQuantity is remove-then-re-add; a Load that
// interleaved between those steps would observe (and publish) the
// transient empty line, so the whole sequence holds opMu.
type Store struct {
	remote Remote
	sess   Session
	log    zerolog.Logger

	opMu sync.Mutex

	mu    sync.RWMutex
	lines []cart.Line
}

// NewStore builds a cart mirror. Wire identity changes with
// mgr.OnIdentityChange(store.OnIdentity).
func NewStore(remote Remote, sess Session, log zerolog.Logger) *Store {
	return &Store{remote: remote, sess: sess, log: log}
}

// OnIdentity is the identity-change listener. Identity loss clears the
// mirror locally, with no remote call: there is no longer a cart to
// clear. A new identity reloads from scratch; lines are never merged
// across users.
func (s *Store) OnIdentity(userID string) {
	s.mu.Lock()
	s.lines = nil
	s.mu.Unlock()

	if userID == "" {
		return
	}
	if err := s.Load(context.Background()); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("cart load on identity change failed")
	}
}

// Load fetches the full remote cart and replaces local state
// wholesale. Idempotent; safe to call repeatedly.
func (s *Store) Load(ctx context.Context) error {
	uid, err := s.requireUser()
	if err != nil {
		return err
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.reload(ctx, uid)
}

// Add asks the service for quantity more units of a product, then
// reloads the authoritative state. The service may reject or clamp
// (stock limits); the reload is what the caller sees.
func (s *Store) Add(ctx context.Context, productID int64, quantity int) error {
	if quantity < 1 {
		return &api.Error{Kind: api.ErrValidation, Message: "quantity must be at least 1"}
	}
	uid, err := s.requireUser()
	if err != nil {
		return err
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.remote.AddToCart(ctx, uid, productID, quantity); err != nil {
		return fmt.Errorf("add product %d: %w", productID, err)
	}
	return s.reload(ctx, uid)
}

// Remove deletes the entire line for a product, then reloads.
func (s *Store) Remove(ctx context.Context, productID int64) error {
	uid, err := s.requireUser()
	if err != nil {
		return err
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.remote.RemoveFromCart(ctx, uid, productID); err != nil {
		return fmt.Errorf("remove product %d: %w", productID, err)
	}
	return s.reload(ctx, uid)
}

// SetQuantity reconciles a line to an exact target. The backend only
// offers "add K units" and "remove entirely", so:
//
//	target <= 0        remove
//	delta > 0          add the difference
//	delta < 0          remove, then re-add the target amount
//	delta == 0         no-op
//
// The decrease is realized as remove-then-re-add because the only
// decrement primitive is full removal; a crash between the two steps
// leaves the line absent rather than at target. That window is a known
// property of the remote contract, not something the client can close.
func (s *Store) SetQuantity(ctx context.Context, productID int64, target int) error {
	if target <= 0 {
		return s.Remove(ctx, productID)
	}
	uid, err := s.requireUser()
	if err != nil {
		return err
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	delta := target - s.quantityOf(productID)
	switch {
	case delta == 0:
		return nil
	case delta > 0:
		if err := s.remote.AddToCart(ctx, uid, productID, delta); err != nil {
			return fmt.Errorf("adjust product %d: %w", productID, err)
		}
	default:
		if err := s.remote.RemoveFromCart(ctx, uid, productID); err != nil {
			return fmt.Errorf("adjust product %d: %w", productID, err)
		}
		if err := s.remote.AddToCart(ctx, uid, productID, target); err != nil {
			return fmt.Errorf("adjust product %d: %w", productID, err)
		}
	}
	return s.reload(ctx, uid)
}

// Clear empties the remote cart for the active identity, then reloads.
func (s *Store) Clear(ctx context.Context) error {
	uid, err := s.requireUser()
	if err != nil {
		return err
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.remote.ClearCart(ctx, uid); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return s.reload(ctx, uid)
}

// Lines returns a copy of the current mirror.
func (s *Store) Lines() []cart.Line {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]cart.Line, len(s.lines))
	copy(out, s.lines)
	return out
}

// Total is the sum of line subtotals, computed on read.
func (s *Store) Total() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var t float64
	for _, l := range s.lines {
		t += l.Subtotal
	}
	return t
}

// ItemCount is the sum of quantities, computed on read.
func (s *Store) ItemCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	for _, l := range s.lines {
		n += l.Quantity
	}
	return n
}

// reload replaces local state with the server's view, unless the
// identity the request was issued under is gone by the time the
// response arrives; a logout mid-flight must not repopulate a cleared
// cart. The identity check and the write share one critical section
// with the OnIdentity clear, so a logout racing this response either
// fails the check or clears after the write and lands last.
func (s *Store) reload(ctx context.Context, uid string) error {
	remote, err := s.remote.GetCart(ctx, uid)
	if err != nil {
		return fmt.Errorf("load cart: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.sess.UserID(); !ok || cur != uid {
		s.log.Debug().Str("user_id", uid).Msg("discarding cart response for stale identity")
		return nil
	}
	s.lines = remote.Items
	return nil
}

func (s *Store) quantityOf(productID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.lines {
		if l.ProductID == productID {
			return l.Quantity
		}
	}
	return 0
}

func (s *Store) requireUser() (string, error) {
	uid, ok := s.sess.UserID()
	if !ok {
		return "", &api.Error{Kind: api.ErrRequiresAuth, Message: "no active session"}
	}
	return uid, nil
}
