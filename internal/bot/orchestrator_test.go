package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/parusinf/timesheets-parus-bot/internal/archive"
	"github.com/parusinf/timesheets-parus-bot/internal/codec"
	"github.com/parusinf/timesheets-parus-bot/internal/directory"
	"github.com/parusinf/timesheets-parus-bot/internal/directory/directorytest"
	"github.com/parusinf/timesheets-parus-bot/internal/models"
	"github.com/parusinf/timesheets-parus-bot/internal/store"
	"github.com/parusinf/timesheets-parus-bot/internal/store/memory"
	"github.com/stretchr/testify/require"
)

const (
	contactID = int64(1001)
	taxID     = "7701234567"
	support   = "@support"
)

var fixedNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type harness struct {
	bot      *Orchestrator
	orgs     *memory.OrganizationStore
	users    *memory.UserStore
	sessions *memory.SessionStore
	remote   *directorytest.Fake
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		orgs:     memory.NewOrganizationStore(),
		users:    memory.NewUserStore(),
		sessions: memory.NewSessionStore(time.Hour),
		remote:   directorytest.New(),
	}
	h.bot = New(Stores{
		Organizations: h.orgs,
		Users:         h.users,
		Sessions:      h.sessions,
	}, h.remote, Config{
		SupportContact: support,
		Developer:      "Parus Support",
		Clock:          func() time.Time { return fixedNow },
	})
	return h
}

type recordingArchive struct {
	entries []archive.Entry
	err     error
}

func (a *recordingArchive) Store(_ context.Context, e archive.Entry) error {
	a.entries = append(a.entries, e)
	return a.err
}

func kindergarten(tenant, code string, ref int64) models.Organization {
	return models.Organization{
		TenantKey:  tenant,
		Code:       code,
		TaxID:      taxID,
		Name:       "Детский сад " + code,
		CompanyRef: 500,
		OrgRef:     ref,
	}
}

// withOrgAndEmployee registers one org with one employee and two groups.
func (h *harness) withOrgAndEmployee() models.Organization {
	org := kindergarten("parus1", "DS-5", 5)
	h.remote.Orgs = append(h.remote.Orgs, org)
	h.remote.AddPerson(org.Key(), models.PersonName{Family: "Ivanov", First: "Ivan"}, 77)
	h.remote.Groups[org.Key()] = []string{"Солнышко", "Звездочка"}
	h.remote.Reports["Солнышко"] = &models.Report{Filename: "Солнышко.csv", Text: "Табель;март\nDS-5;7701234567\n"}
	return org
}

func (h *harness) send(t *testing.T, ev Event) []Reply {
	t.Helper()
	replies, err := h.bot.Handle(context.Background(), ev)
	require.NoError(t, err)
	return replies
}

func (h *harness) state(t *testing.T) models.State {
	t.Helper()
	sess, err := h.sessions.Get(context.Background(), contactID)
	if errors.Is(err, store.ErrSessionNotFound) {
		return models.StateUnauthenticated
	}
	require.NoError(t, err)
	return sess.State
}

func (h *harness) user(t *testing.T) *models.User {
	t.Helper()
	user, err := h.users.Get(context.Background(), contactID)
	if errors.Is(err, store.ErrUserNotFound) {
		return nil
	}
	require.NoError(t, err)
	return user
}

func contact() Contact {
	return Contact{ID: contactID, Username: "ivanov", FirstName: "Ivan", LastName: "Ivanov"}
}

func cmd(name string) Event { return Event{Contact: contact(), Kind: KindCommand, Command: name} }

func text(s string) Event { return Event{Contact: contact(), Kind: KindText, Text: s} }

func upload(t *testing.T, filename, body string) Event {
	t.Helper()
	raw, err := codec.EncodeCP1251(body)
	require.NoError(t, err)
	return Event{Contact: contact(), Kind: KindDocument, Document: &Upload{Filename: filename, Content: raw}}
}

func texts(replies []Reply) []string {
	out := make([]string, 0, len(replies))
	for _, r := range replies {
		out = append(out, r.Text)
	}
	return out
}

func TestStartAsksForTaxID(t *testing.T) {
	h := newHarness(t)

	replies := h.send(t, cmd(CommandStart))
	require.Equal(t, []string{msgAskTaxID}, texts(replies))
	require.Equal(t, models.StateAwaitingTaxID, h.state(t))
}

func TestInvalidTaxIDKeepsState(t *testing.T) {
	h := newHarness(t)
	h.send(t, cmd(CommandStart))

	for _, input := range []string{"123", "12345678901", "12345abcde"} {
		replies := h.send(t, text(input))
		require.Equal(t, []string{msgInvalidTaxID}, texts(replies))
		require.Equal(t, models.StateAwaitingTaxID, h.state(t))
		require.Nil(t, h.user(t))
	}
	require.Equal(t, 0, h.remote.CallCount("FindOrgs"))
}

func TestScenarioA_TaxIDNotConnected(t *testing.T) {
	h := newHarness(t)
	h.send(t, cmd(CommandStart))

	replies := h.send(t, text("1234567890"))
	require.Len(t, replies, 1)
	require.Contains(t, replies[0].Text, "не подключено к сервису")
	require.Contains(t, replies[0].Text, support)
	require.Equal(t, models.StateUnauthenticated, h.state(t))

	// the declared tax id is kept so /start retries the lookup
	user := h.user(t)
	require.NotNil(t, user)
	require.Equal(t, "1234567890", user.TaxID)
	require.Nil(t, user.Org)
}

func TestScenarioB_SingleOrgAutoBinds(t *testing.T) {
	h := newHarness(t)
	org := h.withOrgAndEmployee()
	cached := org
	require.NoError(t, h.orgs.Create(context.Background(), &cached))

	h.send(t, cmd(CommandStart))
	replies := h.send(t, text(taxID))

	require.Equal(t, []string{"Учреждение: Детский сад DS-5", msgAskFullName}, texts(replies))
	require.Equal(t, models.StateAwaitingFullName, h.state(t))
	require.Equal(t, 1, h.remote.CallCount("FindOrgs"), "single cached match is re-checked once")

	user := h.user(t)
	require.Equal(t, org.Key(), *user.Org)
}

func TestScenarioC_NameWithoutMiddleThenGroup(t *testing.T) {
	h := newHarness(t)
	h.withOrgAndEmployee()

	h.send(t, cmd(CommandStart))
	h.send(t, text(taxID))

	replies := h.send(t, text("Ivanov Ivan"))
	require.Len(t, replies, 1)
	require.Equal(t, msgChooseGroup, replies[0].Text)
	require.Equal(t, []string{"Солнышко", "Звездочка"}, replies[0].Choices)
	require.Equal(t, models.StateAwaitingGroupChoice, h.state(t))

	user := h.user(t)
	require.NotNil(t, user.Person)
	require.Equal(t, int64(77), user.Person.Ref)
	require.Nil(t, user.Person.Name.Middle)

	replies = h.send(t, text("Солнышко"))
	require.Len(t, replies, 1)
	doc := replies[0].Document
	require.NotNil(t, doc)
	require.Equal(t, "Солнышко.csv", doc.Filename)
	require.Equal(t, "Учреждение: Детский сад DS-5\nГруппа: Солнышко", doc.Caption)

	decoded, err := codec.DecodeCP1251(doc.Content)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(decoded, "Табель"))

	// delivery is one-shot
	require.Equal(t, models.StateUnauthenticated, h.state(t))
	user = h.user(t)
	require.Equal(t, "Солнышко", *user.GroupCode)
	require.Equal(t, 1, user.ReceiveCount)
	require.Equal(t, fixedNow, *user.LastExchangeAt)

	// next /start goes straight to delivery
	replies = h.send(t, cmd(CommandStart))
	require.NotNil(t, replies[0].Document)
	require.Equal(t, 2, h.user(t).ReceiveCount)
}

func TestScenarioD_UploadBeforeAuthentication(t *testing.T) {
	body := "Табель посещаемости;март\nDS-5;7701234567;Детский сад\nИванова;8\n"

	t.Run("submitted after name resolves", func(t *testing.T) {
		h := newHarness(t)
		h.withOrgAndEmployee()

		replies := h.send(t, upload(t, "march.CSV", body))
		require.Equal(t, []string{"Учреждение: Детский сад DS-5", msgAskFullName}, texts(replies))
		require.Equal(t, models.StateAwaitingFullName, h.state(t))

		sess, err := h.sessions.Get(context.Background(), contactID)
		require.NoError(t, err)
		require.NotNil(t, sess.Pending)
		require.Equal(t, taxID, h.user(t).TaxID)

		replies = h.send(t, text("Ivanov Ivan"))
		require.Equal(t, []string{"OK"}, texts(replies))
		require.Equal(t, 0, h.remote.CallCount("ListGroups"), "group selection is skipped")

		require.Len(t, h.remote.Submitted, 1)
		require.Equal(t, body, h.remote.Submitted[0].Text)

		_, err = h.sessions.Get(context.Background(), contactID)
		require.ErrorIs(t, err, store.ErrSessionNotFound)
		require.Equal(t, 1, h.user(t).SendCount)
	})

	t.Run("pending cleared when submit fails", func(t *testing.T) {
		h := newHarness(t)
		h.withOrgAndEmployee()
		h.remote.SubmitErr = directory.ErrTransfer

		h.send(t, upload(t, "march.csv", body))
		replies := h.send(t, text("Ivanov Ivan"))
		require.Len(t, replies, 1)
		require.Contains(t, replies[0].Text, "Ошибка отправки табеля")

		_, err := h.sessions.Get(context.Background(), contactID)
		require.ErrorIs(t, err, store.ErrSessionNotFound)
		require.Equal(t, 0, h.user(t).SendCount)
		require.NotNil(t, h.user(t).Person, "authentication is kept")
	})

	t.Run("binding to another org is discarded", func(t *testing.T) {
		h := newHarness(t)
		h.withOrgAndEmployee()
		other := kindergarten("parus2", "DS-9", 9)
		other.TaxID = "5009876543"
		h.remote.Orgs = append(h.remote.Orgs, other)
		h.remote.AddPerson(other.Key(), models.PersonName{Family: "Ivanov", First: "Ivan"}, 99)
		h.remote.Groups[other.Key()] = []string{"Радуга"}

		h.send(t, cmd(CommandStart))
		h.send(t, text("5009876543"))
		h.send(t, text("Ivanov Ivan"))
		require.Equal(t, other.Key(), *h.user(t).Org)

		h.send(t, upload(t, "march.csv", body))
		user := h.user(t)
		require.Equal(t, taxID, user.TaxID)
		require.Equal(t, models.OrgKey{TenantKey: "parus1", OrgRef: 5}, *user.Org)
		require.Nil(t, user.Person)
		require.Empty(t, h.remote.Submitted)
	})
}

func TestUploadForBoundOrgSubmitsImmediately(t *testing.T) {
	h := newHarness(t)
	h.withOrgAndEmployee()

	h.send(t, cmd(CommandStart))
	h.send(t, text(taxID))
	h.send(t, text("Ivanov Ivan"))
	h.send(t, text("Солнышко"))

	replies := h.send(t, upload(t, "march.csv", "Табель\nDS-5;7701234567\n"))
	require.Equal(t, []string{"OK"}, texts(replies))
	require.Len(t, h.remote.Submitted, 1)
	require.Equal(t, 1, h.user(t).SendCount)
}

func TestUploadRejected(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		body     string
	}{
		{"wrong extension", "march.xlsx", "Табель\nDS-5;7701234567\n"},
		{"no header row", "march.csv", "Табель"},
		{"header tax id malformed", "march.csv", "Табель\nDS-5;77012\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.send(t, cmd(CommandStart))

			replies := h.send(t, upload(t, tt.filename, tt.body))
			require.Equal(t, []string{msgNotAReport}, texts(replies))
			require.Equal(t, models.StateAwaitingTaxID, h.state(t))
		})
	}
}

func TestUploadWithUndefinedByteNeverStartsAuthentication(t *testing.T) {
	h := newHarness(t)
	h.withOrgAndEmployee()

	ev := Event{Contact: contact(), Kind: KindDocument, Document: &Upload{
		Filename: "march.csv",
		Content:  []byte("Tabel\nDS-5;7701234567\nx\x98y\n"),
	}}
	replies := h.send(t, ev)

	require.Equal(t, []string{msgNotAReport}, texts(replies))
	require.Equal(t, models.StateUnauthenticated, h.state(t))
	require.Nil(t, h.user(t))
	require.Zero(t, h.remote.CallCount("FindOrgs"))
}

func TestMultipleOrgsChoice(t *testing.T) {
	setup := func(t *testing.T) *harness {
		h := newHarness(t)
		h.remote.Orgs = []models.Organization{
			kindergarten("parus1", "DS-1", 1),
			kindergarten("parus2", "DS-2", 2),
		}
		h.send(t, cmd(CommandStart))
		replies := h.send(t, text(taxID))
		require.Equal(t, msgChooseOrg, replies[0].Text)
		require.Equal(t, []string{"DS-1", "DS-2"}, replies[0].Choices)
		require.Equal(t, models.StateAwaitingOrgChoice, h.state(t))
		return h
	}

	t.Run("known code binds", func(t *testing.T) {
		h := setup(t)
		replies := h.send(t, text("DS-2"))
		require.Equal(t, []string{"Учреждение: Детский сад DS-2", msgAskFullName}, texts(replies))
		require.Equal(t, models.OrgKey{TenantKey: "parus2", OrgRef: 2}, *h.user(t).Org)
	})

	t.Run("unknown code resets", func(t *testing.T) {
		h := setup(t)
		replies := h.send(t, text("DS-3"))
		require.Contains(t, replies[0].Text, `мнемокодом "DS-3"`)
		require.Equal(t, models.StateUnauthenticated, h.state(t))
	})
}

func TestPersonNotFound(t *testing.T) {
	h := newHarness(t)
	h.withOrgAndEmployee()
	h.send(t, cmd(CommandStart))
	h.send(t, text(taxID))

	replies := h.send(t, text("Петров Петр Петрович"))
	require.Contains(t, replies[0].Text, "Сотрудник Петров Петр Петрович в учреждении не найден")
	require.Equal(t, models.StateUnauthenticated, h.state(t))
}

func TestInvalidFullNameKeepsState(t *testing.T) {
	h := newHarness(t)
	h.withOrgAndEmployee()
	h.send(t, cmd(CommandStart))
	h.send(t, text(taxID))

	replies := h.send(t, text("Ivanov"))
	require.Equal(t, []string{msgInvalidFullName}, texts(replies))
	require.Equal(t, models.StateAwaitingFullName, h.state(t))
	require.Equal(t, 0, h.remote.CallCount("FindPerson"))
}

func TestRemoteFailureAbortsTurn(t *testing.T) {
	h := newHarness(t)
	h.withOrgAndEmployee()
	h.send(t, cmd(CommandStart))
	h.send(t, text(taxID))

	h.remote.Err = directory.ErrRemoteUnavailable
	replies := h.send(t, text("Ivanov Ivan"))
	require.Equal(t, []string{msgRemoteFailure}, texts(replies))
	require.Equal(t, models.StateAwaitingFullName, h.state(t))
	require.Nil(t, h.user(t).Person)

	h.remote.Err = nil
	replies = h.send(t, text("Ivanov Ivan"))
	require.Equal(t, msgChooseGroup, replies[0].Text)
}

func TestGroupListingFailures(t *testing.T) {
	t.Run("no active groups", func(t *testing.T) {
		h := newHarness(t)
		org := h.withOrgAndEmployee()
		delete(h.remote.Groups, org.Key())

		h.send(t, cmd(CommandStart))
		h.send(t, text(taxID))
		replies := h.send(t, text("Ivanov Ivan"))
		require.Contains(t, replies[0].Text, "Действующие группы в учреждении не найдены")
		require.Equal(t, models.StateUnauthenticated, h.state(t))
		require.NotNil(t, h.user(t).Person)
	})

	t.Run("report fetch fails", func(t *testing.T) {
		h := newHarness(t)
		h.withOrgAndEmployee()

		h.send(t, cmd(CommandStart))
		h.send(t, text(taxID))
		h.send(t, text("Ivanov Ivan"))
		replies := h.send(t, text("Неизвестная"))
		require.Contains(t, replies[0].Text, "Ошибка получения табеля посещаемости из Паруса")
		require.Equal(t, models.StateUnauthenticated, h.state(t))
		require.Equal(t, 0, h.user(t).ReceiveCount)
	})
}

func TestGroupCommand(t *testing.T) {
	h := newHarness(t)
	h.withOrgAndEmployee()
	h.send(t, cmd(CommandStart))
	h.send(t, text(taxID))
	h.send(t, text("Ivanov Ivan"))
	h.send(t, text("Солнышко"))

	replies := h.send(t, cmd(CommandGroup))
	require.Equal(t, msgChooseGroup, replies[0].Text)
	require.Equal(t, models.StateAwaitingGroupChoice, h.state(t))
	require.Nil(t, h.user(t).GroupCode)
}

func TestResetFromAnyState(t *testing.T) {
	steps := map[models.State][]Event{
		models.StateUnauthenticated:     nil,
		models.StateAwaitingTaxID:       {cmd(CommandStart)},
		models.StateAwaitingFullName:    {cmd(CommandStart), text(taxID)},
		models.StateAwaitingGroupChoice: {cmd(CommandStart), text(taxID), text("Ivanov Ivan")},
	}

	for state, events := range steps {
		t.Run(string(state), func(t *testing.T) {
			h := newHarness(t)
			h.withOrgAndEmployee()
			for _, ev := range events {
				h.send(t, ev)
			}
			require.Equal(t, state, h.state(t))

			replies := h.send(t, cmd(CommandReset))
			require.Equal(t, []string{msgResetDone}, texts(replies))

			_, err := h.sessions.Get(context.Background(), contactID)
			require.ErrorIs(t, err, store.ErrSessionNotFound)
			require.Nil(t, h.user(t))
		})
	}
}

func TestOrgCommandRestartsAuthentication(t *testing.T) {
	h := newHarness(t)
	h.withOrgAndEmployee()
	h.send(t, cmd(CommandStart))
	h.send(t, text(taxID))

	replies := h.send(t, cmd(CommandOrg))
	require.Equal(t, []string{msgAskTaxID}, texts(replies))
	require.Equal(t, models.StateAwaitingTaxID, h.state(t))
	require.Nil(t, h.user(t))
}

func TestCancel(t *testing.T) {
	for _, ev := range []Event{cmd(CommandCancel), text("CANCEL")} {
		h := newHarness(t)
		h.withOrgAndEmployee()
		h.send(t, upload(t, "march.csv", "Табель\nDS-5;7701234567\n"))
		require.Equal(t, models.StateAwaitingFullName, h.state(t))

		replies := h.send(t, ev)
		require.Equal(t, []string{msgCancelled}, texts(replies))
		require.True(t, replies[0].RemoveKeyboard)
		require.Equal(t, models.StateUnauthenticated, h.state(t))

		// cached identity survives a cancel
		require.NotNil(t, h.user(t).Org)
	}
}

func TestPingHelpAndHints(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, []string{msgPong}, texts(h.send(t, cmd(CommandPing))))

	replies := h.send(t, cmd(CommandHelp))
	require.True(t, replies[0].Markdown)
	require.Contains(t, replies[0].Text, "/reset - отмена авторизации в Парусе")
	require.Contains(t, replies[0].Text, "Parus Support "+support)

	require.Equal(t, []string{msgStartHint}, texts(h.send(t, text("привет"))))
	require.Equal(t, []string{msgUnknownCommand}, texts(h.send(t, cmd("weather"))))
}

func TestSessionRehydratedFromCache(t *testing.T) {
	h := newHarness(t)
	h.withOrgAndEmployee()
	h.send(t, cmd(CommandStart))
	h.send(t, text(taxID))
	h.send(t, text("Ivanov Ivan"))

	// simulate a restart: sessions are lost, cache survives
	require.NoError(t, h.sessions.Delete(context.Background(), contactID))

	replies := h.send(t, cmd(CommandStart))
	require.Equal(t, msgChooseGroup, replies[0].Text)
	require.Equal(t, models.StateAwaitingGroupChoice, h.state(t))
}

func TestHandleRejectsMalformedEvents(t *testing.T) {
	h := newHarness(t)

	_, err := h.bot.Handle(context.Background(), Event{Kind: KindText, Text: "x"})
	require.ErrorIs(t, err, ErrMissingContact)

	_, err = h.bot.Handle(context.Background(), Event{Contact: contact(), Kind: "sticker"})
	require.ErrorIs(t, err, ErrUnsupportedEvent)
}

func TestExchangedReportsAreArchived(t *testing.T) {
	h := newHarness(t)
	h.withOrgAndEmployee()
	arch := &recordingArchive{err: errors.New("bucket unavailable")}
	h.bot.cfg.Archive = arch

	h.send(t, cmd(CommandStart))
	h.send(t, text(taxID))
	h.send(t, text("Ivanov Ivan"))
	replies := h.send(t, text("Солнышко"))
	require.NotNil(t, replies[0].Document, "archive failure does not affect delivery")

	body := "Табель;март\nDS-5;7701234567\n"
	replies = h.send(t, upload(t, "march.csv", body))
	require.Equal(t, []string{"OK"}, texts(replies))

	require.Len(t, arch.entries, 2)
	require.Equal(t, archive.Delivered, arch.entries[0].Direction)
	require.Equal(t, "Солнышко.csv", arch.entries[0].Filename)
	require.Equal(t, deliveredContent(t, h), arch.entries[0].Content)

	require.Equal(t, archive.Submitted, arch.entries[1].Direction)
	require.Equal(t, "parus1", arch.entries[1].TenantKey)
	require.Equal(t, "DS-5", arch.entries[1].OrgCode)
	require.Equal(t, contactID, arch.entries[1].IdentityID)
	require.Equal(t, fixedNow, arch.entries[1].At)

	decoded, err := codec.DecodeCP1251(arch.entries[1].Content)
	require.NoError(t, err)
	require.Equal(t, body, decoded)
}

// deliveredContent re-encodes the fixture report the way it is delivered.
func deliveredContent(t *testing.T, h *harness) []byte {
	t.Helper()
	raw, err := codec.EncodeCP1251(h.remote.Reports["Солнышко"].Text)
	require.NoError(t, err)
	return raw
}
