// Package bot implements the conversation state machine that authenticates a
// chat contact against a tenant backend and exchanges attendance reports.
package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/parusinf/timesheets-parus-bot/internal/archive"
	"github.com/parusinf/timesheets-parus-bot/internal/directory"
	"github.com/parusinf/timesheets-parus-bot/internal/models"
	"github.com/parusinf/timesheets-parus-bot/internal/resolver"
	"github.com/parusinf/timesheets-parus-bot/internal/store"
	"github.com/parusinf/timesheets-parus-bot/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"
)

// Sentinel errors for malformed events
var (
	ErrMissingContact   = errors.New("event has no contact id")
	ErrUnsupportedEvent = errors.New("unsupported event kind")
)

// Stores groups the identity cache and the session store.
type Stores struct {
	Organizations store.OrganizationStore
	Users         store.UserStore
	Sessions      store.SessionStore
}

// Config holds the orchestrator settings.
type Config struct {
	SupportContact string // named in every "contact support" reply
	Developer      string // shown by /help
	Clock          func() time.Time

	// Archive receives a copy of every delivered and submitted report.
	// Optional; archive failures never affect the conversation.
	Archive archive.Archive
}

// Orchestrator handles inbound events one turn at a time per identity.
type Orchestrator struct {
	users    store.UserStore
	sessions store.SessionStore
	resolver *resolver.Resolver
	remote   directory.Client
	cfg      Config
	locks    *identityLocks
}

// New creates an orchestrator.
func New(stores Stores, remote directory.Client, cfg Config) *Orchestrator {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Orchestrator{
		users:    stores.Users,
		sessions: stores.Sessions,
		resolver: resolver.New(stores.Organizations, remote),
		remote:   remote,
		cfg:      cfg,
		locks:    newIdentityLocks(),
	}
}

// turn is the working copy of one identity's state while an event is handled.
// Nothing reaches the stores until commit.
type turn struct {
	event Event
	sess  *models.Session
	from  models.State

	userDirty   bool
	userDeleted bool
	readOnly    bool

	replies []Reply
}

func (t *turn) user() *models.User { return t.sess.User }

func (t *turn) setUser(u *models.User) {
	t.sess.User = u
	t.userDirty = true
	t.userDeleted = false
}

func (t *turn) touchUser() { t.userDirty = true }

func (t *turn) deleteUser() {
	t.sess.User = nil
	t.sess.Org = nil
	t.userDirty = false
	t.userDeleted = true
}

// finish ends the flow: back to Unauthenticated, pending upload dropped.
func (t *turn) finish() {
	t.sess.State = models.StateUnauthenticated
	t.sess.Pending = nil
}

func (t *turn) reply(r Reply) { t.replies = append(t.replies, r) }

func (t *turn) say(format string, args ...any) {
	t.reply(Reply{Text: fmt.Sprintf(format, args...)})
}

// Handle processes one inbound event and returns the replies for the contact.
// Remote failures on tenant-scoped lookups abort the turn without writing
// anything and degrade to a generic reply; store failures are returned.
func (o *Orchestrator) Handle(ctx context.Context, ev Event) ([]Reply, error) {
	if ev.Contact.ID == 0 {
		return nil, ErrMissingContact
	}

	unlock := o.locks.Lock(ev.Contact.ID)
	defer unlock()

	turnID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate turn id: %w", err)
	}

	logger := zerolog.Ctx(ctx).With().
		Int64("identity_id", ev.Contact.ID).
		Str("turn_id", turnID.String()).
		Str("kind", string(ev.Kind)).
		Logger()
	ctx = logger.WithContext(ctx)

	m := telemetry.GetMetrics()
	cmd, _ := normalizeCommand(ev)
	attrs := metric.WithAttributes(
		telemetry.AttrKind.String(string(ev.Kind)),
		telemetry.AttrCommand.String(cmd),
	)
	started := time.Now()
	defer func() {
		m.TurnsTotal.Add(ctx, 1, attrs)
		m.TurnDuration.Record(ctx, float64(time.Since(started).Milliseconds()), attrs)
	}()

	t, err := o.load(ctx, ev)
	if err != nil {
		m.TurnErrorsTotal.Add(ctx, 1, attrs)
		return nil, err
	}

	if err := o.dispatch(ctx, t); err != nil {
		m.TurnErrorsTotal.Add(ctx, 1, attrs)
		if !isRemoteFailure(err) {
			return nil, err
		}
		logger.Error().Err(err).Str("state", string(t.from)).Msg("Remote call failed, turn aborted")
		return []Reply{{Text: msgRemoteFailure, RemoveKeyboard: true}}, nil
	}

	if !t.readOnly {
		if err := o.commit(ctx, t); err != nil {
			m.TurnErrorsTotal.Add(ctx, 1, attrs)
			return nil, err
		}
	}

	if t.sess.State != t.from {
		m.TransitionsTotal.Add(ctx, 1, metric.WithAttributes(telemetry.AttrState.String(string(t.sess.State))))
	}

	logger.Debug().
		Str("from", string(t.from)).
		Str("to", string(t.sess.State)).
		Int("replies", len(t.replies)).
		Msg("Turn handled")

	return t.replies, nil
}

// load reads the session, falling back to the identity cache when the
// session is gone (new process, expiry, finished flow).
func (o *Orchestrator) load(ctx context.Context, ev Event) (*turn, error) {
	id := ev.Contact.ID

	sess, err := o.sessions.Get(ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrSessionNotFound), errors.Is(err, store.ErrSessionExpired):
		sess = &models.Session{IdentityID: id, State: models.StateUnauthenticated}
	default:
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if sess.User == nil {
		user, err := o.users.Get(ctx, id)
		switch {
		case err == nil:
			sess.User = user
		case errors.Is(err, store.ErrUserNotFound):
		default:
			return nil, fmt.Errorf("failed to load user: %w", err)
		}
	}

	if sess.State == "" {
		sess.State = models.StateUnauthenticated
	}

	return &turn{event: ev, sess: sess, from: sess.State}, nil
}

// commit writes the cache first, then the session. A failed cache write
// leaves the previous session in place.
func (o *Orchestrator) commit(ctx context.Context, t *turn) error {
	id := t.sess.IdentityID

	switch {
	case t.userDeleted:
		if err := o.users.Delete(ctx, id); err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}
	case t.userDirty && t.sess.User != nil:
		if err := o.users.Put(ctx, t.sess.User); err != nil {
			return fmt.Errorf("failed to save user: %w", err)
		}
	}

	if t.sess.State == models.StateUnauthenticated && t.sess.Pending == nil {
		if err := o.sessions.Delete(ctx, id); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		return nil
	}

	if err := o.sessions.Save(ctx, t.sess); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (o *Orchestrator) dispatch(ctx context.Context, t *turn) error {
	if cmd, ok := normalizeCommand(t.event); ok {
		return o.command(ctx, t, cmd)
	}

	switch t.event.Kind {
	case KindDocument:
		return o.upload(ctx, t)
	case KindText:
		return o.text(ctx, t)
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedEvent, t.event.Kind)
}

func (o *Orchestrator) command(ctx context.Context, t *turn, cmd string) error {
	switch cmd {
	case CommandStart:
		return o.start(ctx, t)

	case CommandGroup:
		return o.changeGroup(ctx, t)

	case CommandOrg:
		t.deleteUser()
		t.finish()
		return o.start(ctx, t)

	case CommandCancel:
		t.finish()
		t.reply(Reply{Text: msgCancelled, RemoveKeyboard: true})

	case CommandReset:
		t.deleteUser()
		t.finish()
		t.reply(Reply{Text: msgResetDone, RemoveKeyboard: true})

	case CommandPing:
		t.readOnly = true
		t.say(msgPong)

	case CommandHelp:
		t.readOnly = true
		t.reply(Reply{
			Text:           helpText(o.cfg.Developer, o.cfg.SupportContact),
			Markdown:       true,
			RemoveKeyboard: true,
		})

	default:
		t.readOnly = true
		t.say(msgUnknownCommand)
	}
	return nil
}

func (o *Orchestrator) text(ctx context.Context, t *turn) error {
	switch t.sess.State {
	case models.StateAwaitingTaxID:
		return o.acceptTaxID(ctx, t)
	case models.StateAwaitingOrgChoice:
		return o.acceptOrgChoice(ctx, t)
	case models.StateAwaitingFullName:
		return o.acceptFullName(ctx, t)
	case models.StateAwaitingGroupChoice:
		return o.acceptGroup(ctx, t)
	default:
		t.readOnly = true
		t.say(msgStartHint)
		return nil
	}
}

func (o *Orchestrator) now() time.Time {
	return o.cfg.Clock()
}

func isRemoteFailure(err error) bool {
	return errors.Is(err, directory.ErrRemoteUnavailable) ||
		errors.Is(err, directory.ErrUnknownTenant) ||
		errors.Is(err, directory.ErrMalformedResponse) ||
		errors.Is(err, directory.ErrTransfer)
}

// failureReason renders a remote error for the contact without internals.
func failureReason(err error) string {
	switch {
	case errors.Is(err, directory.ErrRemoteUnavailable):
		return "Парус недоступен"
	case errors.Is(err, directory.ErrUnknownTenant):
		return "база данных учреждения не подключена"
	case errors.Is(err, directory.ErrMalformedResponse):
		return "некорректный ответ Паруса"
	case errors.Is(err, directory.ErrTransfer):
		return "ошибка передачи файла"
	default:
		return "внутренняя ошибка"
	}
}
