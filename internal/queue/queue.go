// Package queue picks the next chat card to work on from an agent console list
// and clears closed cards out of the way.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/colorsRGB/AutomationScripts/internal/surface"
	"github.com/colorsRGB/AutomationScripts/internal/uistate"
	"github.com/colorsRGB/AutomationScripts/internal/wait"
)

// ErrExhausted means no eligible card is left. It ends a processing loop cleanly.
var ErrExhausted = errors.New("queue: no eligible chat card")

// Card is a view over one list row. It is rebuilt on every fetch and must not be
// kept across any action that can re-render the list.
type Card struct {
	Element  surface.Element
	Index    int
	Label    string
	Selected bool
	Closed   bool
	Grey     bool
}

// Eligible reports whether the card may be opened.
func (c Card) Eligible() bool {
	return !c.Selected && !c.Closed && !c.Grey
}

// FromSnapshot derives card flags from a snapshot.
func FromSnapshot(el surface.Element, index int, snap uistate.Snapshot) Card {
	return Card{
		Element:  el,
		Index:    index,
		Label:    snap.Text(),
		Selected: uistate.IsSelectedCard(snap),
		Closed:   uistate.IsClosedCard(snap),
		Grey:     uistate.IsGreyCard(snap),
	}
}

// Pick returns the first eligible card in document order.
func Pick(cards []Card) (Card, bool) {
	for _, c := range cards {
		if c.Eligible() {
			return c, true
		}
	}
	return Card{}, false
}

// Config locates the card list.
type Config struct {
	Cards        surface.Locator
	DismissCSS   string
	RecheckPause time.Duration
	Clock        wait.Clock
}

// Selector reads the card list from a surface and chooses what to open next.
type Selector struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	skipped map[string]struct{}
}

// NewSelector builds a Selector.
func NewSelector(cfg Config, logger *zap.Logger) *Selector {
	if cfg.Clock == nil {
		cfg.Clock = wait.RealClock{}
	}
	return &Selector{cfg: cfg, logger: logger.Named("queue"), skipped: make(map[string]struct{})}
}

// Skip excludes cards with label from every later Next. Chats left open after
// a failed run stay eligible in the list, so without this two of them would be
// picked in turn forever.
func (s *Selector) Skip(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipped[label] = struct{}{}
}

// pick is Pick without the skipped cards.
func (s *Selector) pick(cards []Card) (Card, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cards {
		if _, skip := s.skipped[c.Label]; c.Eligible() && !skip {
			return c, true
		}
	}
	return Card{}, false
}

// Fetch re-reads every card. Rows that vanish while being read are skipped.
func (s *Selector) Fetch(ctx context.Context, sf surface.Surface) ([]Card, error) {
	els, err := sf.FindAll(ctx, s.cfg.Cards)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat cards: %w", err)
	}
	cards := make([]Card, 0, len(els))
	for i, el := range els {
		snap, err := uistate.Capture(ctx, sf, el)
		if err != nil {
			s.logger.Debug("Skipping card that could not be read.", zap.Int("index", i), zap.Error(err))
			continue
		}
		cards = append(cards, FromSnapshot(el, i, snap))
	}
	return cards, nil
}

// Next returns the next eligible card that was not skipped. Closed cards in the list are dismissed first
// and the list is re-read once; if nothing is eligible after that, ErrExhausted.
func (s *Selector) Next(ctx context.Context, sf surface.Surface) (Card, error) {
	cards, err := s.Fetch(ctx, sf)
	if err != nil {
		return Card{}, err
	}

	closed := 0
	for _, c := range cards {
		if c.Closed || c.Grey {
			closed++
		}
	}
	if closed > 0 {
		evicted := 0
		for _, c := range cards {
			if (c.Closed || c.Grey) && s.Evict(ctx, sf, c) {
				evicted++
			}
		}
		s.logger.Debug("Dismissed closed cards.", zap.Int("closed", closed), zap.Int("evicted", evicted))
	} else if c, ok := s.pick(cards); ok {
		return c, nil
	}

	// The list may still be re-rendering; handles from the first read are now unusable.
	if err := wait.Sleep(ctx, s.cfg.Clock, s.cfg.RecheckPause); err != nil {
		return Card{}, err
	}
	cards, err = s.Fetch(ctx, sf)
	if err != nil {
		return Card{}, err
	}
	if c, ok := s.pick(cards); ok {
		return c, nil
	}
	return Card{}, ErrExhausted
}

// Evict clicks a closed card's dismiss icon. It reports whether a click landed.
func (s *Selector) Evict(ctx context.Context, sf surface.Surface, c Card) bool {
	if s.cfg.DismissCSS == "" {
		return false
	}
	icons, err := sf.FindWithin(ctx, c.Element, s.cfg.DismissCSS)
	if err != nil || len(icons) == 0 {
		return false
	}
	_ = sf.ScrollIntoView(ctx, icons[0])
	if err := wait.Click(ctx, sf, icons[0]); err != nil {
		s.logger.Debug("Failed to dismiss closed card.", zap.Int("index", c.Index), zap.Error(err))
		return false
	}
	return true
}

// Selected returns the card currently opened in the console, if any.
func (s *Selector) Selected(ctx context.Context, sf surface.Surface) (Card, bool) {
	cards, err := s.Fetch(ctx, sf)
	if err != nil {
		return Card{}, false
	}
	for _, c := range cards {
		if c.Selected {
			return c, true
		}
	}
	return Card{}, false
}
