// Package policy decides whether a reload-class notification makes the
// client's in-memory state stale enough to require a full reset.
package policy

import (
	"github.com/deskpulse/deskpulse/internal/notify"
	"github.com/deskpulse/deskpulse/internal/session"
	"github.com/deskpulse/deskpulse/internal/surface"
	"go.uber.org/zap"
)

// Category groups reload-class events by what they invalidate.
type Category int

const (
	Unclassified Category = iota
	User
	Role
	Desk
	StageVisibility
	Stage
)

func (c Category) String() string {
	switch c {
	case User:
		return "user"
	case Role:
		return "role"
	case Desk:
		return "desk"
	case StageVisibility:
		return "stage-visibility"
	case Stage:
		return "stage"
	default:
		return "unclassified"
	}
}

// ReadsDesks reports whether evaluating the category consults desk
// membership or the active desk.
func (c Category) ReadsDesks() bool {
	return c == Desk || c == StageVisibility || c == Stage
}

// Result is the outcome of evaluating one message.
type Result struct {
	Reload bool
	Reason string
}

// IdentitySource is the read side of session.Context.
type IdentitySource interface {
	Identity() session.Identity
}

// DeskSource is the read side of desks.Registry.
type DeskSource interface {
	IsMember(id string) bool
	Active() string
	Loaded() bool
}

// ViewSource reports which screen the client is showing.
type ViewSource interface {
	View() surface.View
}

// snapshot is the context a single evaluation reads.
type snapshot struct {
	identity session.Identity
	desks    DeskSource
	view     surface.View
}

type rule struct {
	category Category
	reasons  map[string]string
	eligible func(s snapshot, f notify.Fields) bool
}

// rules is evaluated in order; the first rule naming the event decides.
var rules = []rule{
	{
		category: User,
		reasons: map[string]string{
			notify.EventUserDisabled:          "User is disabled",
			notify.EventUserInactivated:       "User is inactivated",
			notify.EventUserRoleChanged:       "User role is changed",
			notify.EventUserTypeChanged:       "User type is changed",
			notify.EventUserPrivilegesRevoked: "User privileges are revoked",
		},
		eligible: func(s snapshot, f notify.Fields) bool {
			return f.UserID.Contains(s.identity.UserID)
		},
	},
	{
		category: Role,
		reasons: map[string]string{
			notify.EventRolePrivilegesRevoked: "Role privileges are revoked",
		},
		eligible: func(s snapshot, f notify.Fields) bool {
			return f.RoleID.Contains(s.identity.RoleID)
		},
	},
	{
		category: Desk,
		reasons: map[string]string{
			notify.EventDeskMembershipRevoked: "User removed from desk",
			notify.EventDesk:                  "Desk is deleted/updated",
		},
		eligible: func(s snapshot, f notify.Fields) bool {
			return s.desks.IsMember(f.DeskID) && f.UserIDs.Contains(s.identity.UserID)
		},
	},
	{
		category: StageVisibility,
		reasons: map[string]string{
			notify.EventStageVisibilityUpdated: "Stage visibility change",
		},
		eligible: func(s snapshot, f notify.Fields) bool {
			if s.desks.IsMember(f.DeskID) {
				return false
			}
			return s.view == surface.ViewSearch || s.view == surface.ViewAuthoring
		},
	},
	{
		category: Stage,
		reasons: map[string]string{
			notify.EventStage: "Stage is created/updated/deleted",
		},
		eligible: func(s snapshot, f notify.Fields) bool {
			return s.desks.IsMember(f.DeskID) && s.desks.Active() == f.DeskID
		},
	},
}

// Classify returns the category of an event name.
func Classify(event string) Category {
	if r := lookup(event); r != nil {
		return r.category
	}
	return Unclassified
}

func lookup(event string) *rule {
	for i := range rules {
		if _, ok := rules[i].reasons[event]; ok {
			return &rules[i]
		}
	}
	return nil
}

// Engine evaluates messages against the live session, desk and view state.
// It holds no state between evaluations.
type Engine struct {
	identity IdentitySource
	desks    DeskSource
	views    ViewSource
	log      *zap.Logger
}

// NewEngine returns an engine reading from the given sources.
func NewEngine(identity IdentitySource, desks DeskSource, views ViewSource, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{identity: identity, desks: desks, views: views, log: logger}
}

// Evaluate classifies msg and checks its predicate. It never fails: an
// unknown event or undecodable extra yields no reload.
func (e *Engine) Evaluate(msg notify.Message) Result {
	r := lookup(msg.Event)
	if r == nil {
		return Result{}
	}
	fields, err := msg.Fields()
	if err != nil {
		e.log.Warn("ignoring notification with undecodable extra",
			zap.String("event", msg.Event), zap.Error(err))
		return Result{}
	}
	s := snapshot{identity: e.identity.Identity(), desks: e.desks, view: e.views.View()}
	if !r.eligible(s, fields) {
		e.log.Debug("notification does not affect session",
			zap.String("event", msg.Event), zap.Stringer("category", r.category))
		return Result{}
	}
	reason := r.reasons[msg.Event]
	e.log.Info("reload required",
		zap.String("event", msg.Event),
		zap.Stringer("category", r.category),
		zap.String("reason", reason))
	return Result{Reload: true, Reason: reason}
}
