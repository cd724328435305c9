package aggregator

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"go-subband-ingest/internal/model"
	"go-subband-ingest/internal/store"
)

// event is either an arrival or a timeout sweep. Both kinds flow through
// one channel so every Collecting-state mutation happens on the run
// goroutine, with no locking.
type event struct {
	member *model.Member
	sweep  bool
}

// entry pairs a collecting group with its first-seen instant. firstSeen
// carries Go's monotonic reading, so ages survive wall-clock adjustments;
// for groups recovered from the store it is backdated by the wall-clock age.
type entry struct {
	group     *model.Group
	firstSeen time.Time
}

// Aggregator owns the in-memory view of all Collecting groups and drives
// their state machine. Each transition is persisted before anything
// downstream can observe it: the dispatcher only sees Pending rows that are
// already durable.
type Aggregator struct {
	store  *store.Store
	cfg    model.Config
	log    *logrus.Entry
	events chan event

	groups map[string]*entry
}

func New(st *store.Store, cfg model.Config, log *logrus.Logger) *Aggregator {
	return &Aggregator{
		store:  st,
		cfg:    cfg,
		log:    log.WithField("component", "aggregator"),
		events: make(chan event, 256),
		groups: make(map[string]*entry),
	}
}

// Offer hands one arrival to the aggregator. Called by the watcher only;
// a single producer keeps per-group arrival order intact.
func (a *Aggregator) Offer(m model.Member) {
	a.events <- event{member: &m}
}

// Sweep asks the aggregator to evaluate its timeout branches. Called by the
// monitor on its interval.
func (a *Aggregator) Sweep() {
	select {
	case a.events <- event{sweep: true}:
	default:
		// a sweep is already queued; skipping one is harmless
	}
}

// Run processes events until ctx is cancelled. It first reloads Collecting
// groups left behind by a previous run so arrivals keep accumulating onto
// them. Fatal store errors abort the loop.
func (a *Aggregator) Run(ctx context.Context) error {
	if err := a.reload(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-a.events:
			var err error
			if ev.sweep {
				err = a.handleSweep(time.Now())
			} else {
				err = a.handleArrival(*ev.member)
			}
			if errors.Is(err, model.ErrStoreFatal) {
				return err
			}
			if err != nil {
				a.log.WithError(err).Error("event handling failed")
			}
		}
	}
}

func (a *Aggregator) reload() error {
	collecting, err := a.store.ListByState(model.StateCollecting)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, g := range collecting {
		age := now.UTC().Sub(g.CreatedAt)
		a.groups[g.Key] = &entry{group: g, firstSeen: now.Add(-age)}
	}
	if len(collecting) > 0 {
		a.log.WithField("groups", len(collecting)).Info("resumed collecting groups")
	}
	return nil
}

func (a *Aggregator) handleArrival(m model.Member) error {
	ent, ok := a.groups[m.GroupKey]
	if !ok {
		// unknown in memory; the group may already be past collecting
		existing, found, err := a.store.Get(m.GroupKey)
		if err != nil {
			return err
		}
		if found && existing.State != model.StateCollecting {
			a.log.WithFields(logrus.Fields{
				"group": m.GroupKey,
				"state": existing.State,
				"path":  m.Path,
			}).Debug("late arrival for settled group, ignoring")
			return nil
		}

		now := time.Now()
		g := model.NewGroup(m.GroupKey, a.cfg.ExpectedCount, now.UTC())
		ent = &entry{group: g, firstSeen: now}
		a.groups[m.GroupKey] = ent
		a.log.WithField("group", m.GroupKey).Info("new observation group")
	}

	g := ent.group
	if g.AddMember(m) {
		g.LastUpdateAt = time.Now().UTC()
	}

	if g.Complete() {
		return a.promote(g, false)
	}
	return a.store.Upsert(g)
}

// handleSweep applies the two timeout branches to every collecting group.
func (a *Aggregator) handleSweep(now time.Time) error {
	for key, ent := range a.groups {
		g := ent.group
		age := now.Sub(ent.firstSeen)

		switch {
		case age > a.cfg.AbandonTimeout && len(g.Members) < a.cfg.MinAcceptable:
			g.State = model.StateFailed
			g.LastError = model.ErrIncompleteGroup.Error()
			g.LastUpdateAt = time.Now().UTC()
			if err := a.store.Upsert(g); err != nil {
				return err
			}
			delete(a.groups, key)
			a.log.WithFields(logrus.Fields{
				"group":   key,
				"members": len(g.Members),
				"age":     age.Round(time.Second),
			}).Warn("abandoned incomplete group")

		case age > a.cfg.CompleteTimeout && len(g.Members) >= a.cfg.MinAcceptable:
			if err := a.promote(g, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// promote moves a collecting group to pending, persisting before the group
// leaves the aggregator's hands.
func (a *Aggregator) promote(g *model.Group, partial bool) error {
	g.State = model.StatePending
	g.Partial = partial
	g.LastUpdateAt = time.Now().UTC()
	if err := a.store.Upsert(g); err != nil {
		return err
	}
	delete(a.groups, g.Key)
	a.log.WithFields(logrus.Fields{
		"group":   g.Key,
		"members": len(g.Members),
		"partial": partial,
	}).Info("group ready for conversion")
	return nil
}
