// Package router turns inbound frames into bus events.
//
// Every well-formed message is published under its own event name. Messages
// named by a rule are additionally published under the rule's aggregate
// name, exactly once per message.
//
// The one exception is a frame whose event name is also a local bus name:
// connected, disconnected, connection-error, reload-candidate,
// reload-advisory, reinitialized, login, logout and desks-loaded. Such
// frames are dropped with a warning and never published, so the server
// cannot fake a lifecycle or session signal.
package router

import (
	"github.com/deskpulse/deskpulse/internal/bus"
	"github.com/deskpulse/deskpulse/internal/notify"
	"go.uber.org/zap"
)

// Rule republishes the listed events under Aggregate.
type Rule struct {
	Aggregate string
	Events    []string
}

// ReloadRule routes the events that may leave session, permission or desk
// state stale to the reload policy.
var ReloadRule = Rule{
	Aggregate: bus.ReloadCandidate,
	Events: []string{
		notify.EventUserDisabled,
		notify.EventUserInactivated,
		notify.EventUserRoleChanged,
		notify.EventUserTypeChanged,
		notify.EventUserPrivilegesRevoked,
		notify.EventRolePrivilegesRevoked,
		notify.EventDeskMembershipRevoked,
		notify.EventDesk,
		notify.EventStage,
		notify.EventStageVisibilityUpdated,
	},
}

// reserved names belong to local components; a server frame using one is
// dropped rather than impersonating a local signal.
var reserved = map[string]bool{
	bus.Connected:       true,
	bus.Disconnected:    true,
	bus.ConnectionError: true,
	bus.ReloadCandidate: true,
	bus.ReloadAdvisory:  true,
	bus.Reinitialized:   true,
	bus.Login:           true,
	bus.Logout:          true,
	bus.DesksLoaded:     true,
}

// Router implements conn.MessageHandler.
type Router struct {
	bus        *bus.Bus
	log        *zap.Logger
	aggregates map[string][]string
}

// New creates a router publishing on b. With no rules it uses ReloadRule.
func New(b *bus.Bus, logger *zap.Logger, rules ...Rule) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(rules) == 0 {
		rules = []Rule{ReloadRule}
	}
	r := &Router{bus: b, log: logger, aggregates: make(map[string][]string)}
	for _, rule := range rules {
		for _, ev := range rule.Events {
			if !contains(r.aggregates[ev], rule.Aggregate) {
				r.aggregates[ev] = append(r.aggregates[ev], rule.Aggregate)
			}
		}
	}
	return r
}

// OnMessage parses raw and publishes it. Malformed frames are logged and
// dropped.
func (r *Router) OnMessage(raw []byte) {
	msg, err := notify.Parse(raw)
	if err != nil {
		r.log.Warn("dropping malformed message", zap.Error(err), zap.Int("bytes", len(raw)))
		return
	}
	if reserved[msg.Event] {
		r.log.Warn("dropping message with reserved event name", zap.String("event", msg.Event))
		return
	}

	r.log.Debug("message", zap.String("event", msg.Event))
	r.bus.Publish(msg.Event, msg)
	for _, agg := range r.aggregates[msg.Event] {
		r.bus.Publish(agg, msg)
	}
}

// Routes reports whether event is republished under aggregate.
func (r *Router) Routes(event, aggregate string) bool {
	return contains(r.aggregates[event], aggregate)
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
