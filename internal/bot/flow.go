package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/parusinf/timesheets-parus-bot/internal/archive"
	"github.com/parusinf/timesheets-parus-bot/internal/codec"
	"github.com/parusinf/timesheets-parus-bot/internal/models"
	"github.com/parusinf/timesheets-parus-bot/internal/report"
	"github.com/parusinf/timesheets-parus-bot/internal/store"
	"github.com/parusinf/timesheets-parus-bot/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"
)

// start re-evaluates the cached data and resumes at the first missing step.
func (o *Orchestrator) start(ctx context.Context, t *turn) error {
	user := t.user()

	switch {
	case user == nil || user.TaxID == "":
		t.sess.State = models.StateAwaitingTaxID
		t.reply(Reply{Text: msgAskTaxID, RemoveKeyboard: true})
		return nil
	case user.Org == nil:
		return o.resolveOrgs(ctx, t, user.TaxID)
	case user.Person == nil:
		o.askFullName(t)
		return nil
	case user.GroupCode == nil:
		return o.askGroup(ctx, t)
	default:
		return o.deliver(ctx, t)
	}
}

func (o *Orchestrator) changeGroup(ctx context.Context, t *turn) error {
	user := t.user()
	if !user.IsAuthenticated() {
		return o.start(ctx, t)
	}

	if user.GroupCode != nil {
		user.GroupCode = nil
		t.touchUser()
	}
	return o.askGroup(ctx, t)
}

func (o *Orchestrator) acceptTaxID(ctx context.Context, t *turn) error {
	taxID := strings.TrimSpace(t.event.Text)
	if err := ValidateTaxID(taxID); err != nil {
		t.readOnly = true
		t.say(msgInvalidTaxID)
		return nil
	}

	o.declareTaxID(t, taxID)
	return o.resolveOrgs(ctx, t, taxID)
}

// declareTaxID starts a fresh user record for the tax id, carrying over the
// exchange counters of the previous one.
func (o *Orchestrator) declareTaxID(t *turn, taxID string) {
	contact := t.event.Contact
	user := &models.User{
		IdentityID:  contact.ID,
		Username:    contact.Username,
		DisplayName: contact.DisplayName(),
		TaxID:       taxID,
	}
	if prev := t.user(); prev != nil {
		user.ReceiveCount = prev.ReceiveCount
		user.SendCount = prev.SendCount
		user.LastExchangeAt = prev.LastExchangeAt
		user.CreatedAt = prev.CreatedAt
	}

	t.setUser(user)
	t.sess.Org = nil
}

func (o *Orchestrator) resolveOrgs(ctx context.Context, t *turn, taxID string) error {
	orgs, err := o.resolver.ResolveByTaxID(ctx, taxID)
	if err != nil {
		return err
	}

	switch len(orgs) {
	case 0:
		t.finish()
		t.reply(Reply{
			Text:           fmt.Sprintf(msgOrgNotConnected, taxID, o.cfg.SupportContact),
			RemoveKeyboard: true,
		})
		return nil
	case 1:
		o.bindOrg(t, &orgs[0])
		return nil
	}

	codes := make([]string, 0, len(orgs))
	for _, org := range orgs {
		codes = append(codes, org.Code)
	}
	t.sess.State = models.StateAwaitingOrgChoice
	t.reply(Reply{Text: msgChooseOrg, Choices: codes})
	return nil
}

func (o *Orchestrator) acceptOrgChoice(ctx context.Context, t *turn) error {
	user := t.user()
	if user == nil || user.TaxID == "" {
		return o.start(ctx, t)
	}

	code := strings.TrimSpace(t.event.Text)
	org, found, err := o.resolver.ResolveByCodeAndTaxID(ctx, code, user.TaxID)
	if err != nil {
		return err
	}
	if !found {
		t.finish()
		t.reply(Reply{
			Text:           fmt.Sprintf(msgOrgCodeNotFound, code, user.TaxID, o.cfg.SupportContact),
			RemoveKeyboard: true,
		})
		return nil
	}

	o.bindOrg(t, org)
	return nil
}

// bindOrg attaches the organization and drops everything resolved inside the
// previous one.
func (o *Orchestrator) bindOrg(t *turn, org *models.Organization) {
	user := t.user()
	key := org.Key()
	user.Org = &key
	user.Person = nil
	user.GroupCode = nil
	t.touchUser()
	t.sess.Org = org

	t.say(msgOrgBound, org.Name)
	o.askFullName(t)
}

func (o *Orchestrator) askFullName(t *turn) {
	t.sess.State = models.StateAwaitingFullName
	t.reply(Reply{Text: msgAskFullName, RemoveKeyboard: true})
}

// boundOrg returns the organization the user is bound to, or nil when there
// is no binding or the cache no longer has the org.
func (o *Orchestrator) boundOrg(ctx context.Context, t *turn) (*models.Organization, error) {
	user := t.user()
	if user == nil || user.Org == nil {
		return nil, nil
	}
	if t.sess.Org != nil && t.sess.Org.Key() == *user.Org {
		return t.sess.Org, nil
	}

	org, err := o.resolver.Get(ctx, *user.Org)
	if errors.Is(err, store.ErrOrganizationNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load bound organization: %w", err)
	}

	t.sess.Org = org
	return org, nil
}

// requireOrg returns the bound organization. When there is none the flow is
// restarted from the tax id and the returned org is nil.
func (o *Orchestrator) requireOrg(ctx context.Context, t *turn) (*models.Organization, error) {
	org, err := o.boundOrg(ctx, t)
	if err != nil || org != nil {
		return org, err
	}

	user := t.user()
	if user != nil && user.Org != nil {
		zerolog.Ctx(ctx).Warn().Str("org", user.Org.String()).Msg("Bound organization missing from cache, resolving again")
		user.Org = nil
		user.Person = nil
		user.GroupCode = nil
		t.touchUser()
	}
	return nil, o.start(ctx, t)
}

func (o *Orchestrator) acceptFullName(ctx context.Context, t *turn) error {
	name, err := ParseFullName(t.event.Text)
	if err != nil {
		t.readOnly = true
		t.say(msgInvalidFullName)
		return nil
	}

	org, err := o.requireOrg(ctx, t)
	if err != nil || org == nil {
		return err
	}

	ref, found, err := o.remote.FindPerson(ctx, org.TenantKey, org.OrgRef, name)
	if err != nil {
		return err
	}
	if !found {
		t.finish()
		t.reply(Reply{
			Text:           fmt.Sprintf(msgPersonNotFound, name.String(), o.cfg.SupportContact),
			RemoveKeyboard: true,
		})
		return nil
	}

	user := t.user()
	user.Person = &models.Person{Ref: ref, Name: name}
	t.touchUser()

	// a report uploaded before authentication skips group selection
	if pending := t.sess.Pending; pending != nil {
		o.submit(ctx, t, org, pending)
		return nil
	}
	return o.askGroup(ctx, t)
}

func (o *Orchestrator) askGroup(ctx context.Context, t *turn) error {
	org, err := o.requireOrg(ctx, t)
	if err != nil || org == nil {
		return err
	}

	groups, err := o.remote.ListGroups(ctx, org.TenantKey, org.OrgRef)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("org", org.Key().String()).Msg("Failed to list groups")
		t.finish()
		t.reply(Reply{Text: fmt.Sprintf(msgGroupsFailure, failureReason(err)), RemoveKeyboard: true})
		return nil
	}
	if len(groups) == 0 {
		t.finish()
		t.reply(Reply{Text: fmt.Sprintf(msgNoGroups, o.cfg.SupportContact), RemoveKeyboard: true})
		return nil
	}

	t.sess.State = models.StateAwaitingGroupChoice
	t.reply(Reply{Text: msgChooseGroup, Choices: groups})
	return nil
}

func (o *Orchestrator) acceptGroup(ctx context.Context, t *turn) error {
	user := t.user()
	if !user.IsAuthenticated() {
		return o.start(ctx, t)
	}

	group := strings.TrimSpace(t.event.Text)
	if group == "" {
		t.readOnly = true
		t.say(msgChooseGroup)
		return nil
	}

	user.GroupCode = &group
	t.touchUser()
	t.sess.State = models.StateReady

	return o.deliver(ctx, t)
}

// deliver fetches the report for the selected group. Every delivery is
// one-shot: the flow ends whatever the outcome.
func (o *Orchestrator) deliver(ctx context.Context, t *turn) error {
	org, err := o.requireOrg(ctx, t)
	if err != nil || org == nil {
		return err
	}

	user := t.user()
	group := *user.GroupCode
	t.sess.State = models.StateReady
	defer t.finish()

	rep, err := o.remote.FetchReport(ctx, org.TenantKey, org.OrgRef, group)
	if err == nil {
		var content []byte
		if content, err = report.Package(rep); err == nil {
			now := o.now()
			user.ReceiveCount++
			user.LastExchangeAt = &now
			t.touchUser()

			telemetry.GetMetrics().ReportsDeliveredTotal.Add(ctx, 1,
				metric.WithAttributes(telemetry.AttrTenant.String(org.TenantKey)))
			o.archiveReport(ctx, archive.Delivered, t, org, rep.Filename, content)

			t.reply(Reply{
				RemoveKeyboard: true,
				Document: &OutboundDocument{
					Filename: rep.Filename,
					Content:  content,
					Caption:  report.Caption(org, group),
				},
			})
			return nil
		}
	}

	zerolog.Ctx(ctx).Error().Err(err).Str("org", org.Key().String()).Str("group", group).Msg("Failed to deliver report")
	t.reply(Reply{Text: fmt.Sprintf(msgFetchFailure, failureReason(err)), RemoveKeyboard: true})
	return nil
}

// submit uploads a report to the bound organization. The pending upload is
// cleared whether or not the backend accepts it.
func (o *Orchestrator) submit(ctx context.Context, t *turn, org *models.Organization, rep *models.Report) {
	m := telemetry.GetMetrics()
	defer t.finish()

	result, err := o.remote.SubmitReport(ctx, org.TenantKey, org.CompanyRef, rep)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("org", org.Key().String()).Str("filename", rep.Filename).Msg("Failed to submit report")
		m.ReportsSubmittedTotal.Add(ctx, 1, metric.WithAttributes(
			telemetry.AttrTenant.String(org.TenantKey),
			telemetry.AttrOutcome.String("error"),
		))
		t.reply(Reply{Text: fmt.Sprintf(msgSubmitFailure, failureReason(err)), RemoveKeyboard: true})
		return
	}

	user := t.user()
	now := o.now()
	user.SendCount++
	user.LastExchangeAt = &now
	t.touchUser()

	m.ReportsSubmittedTotal.Add(ctx, 1, metric.WithAttributes(
		telemetry.AttrTenant.String(org.TenantKey),
		telemetry.AttrOutcome.String("ok"),
	))

	if raw, err := codec.EncodeCP1251(rep.Text); err == nil {
		o.archiveReport(ctx, archive.Submitted, t, org, rep.Filename, raw)
	}

	if strings.TrimSpace(result) == "" {
		result = msgSubmittedDefault
	}
	t.reply(Reply{Text: result, RemoveKeyboard: true})
}

func (o *Orchestrator) archiveReport(ctx context.Context, dir archive.Direction, t *turn, org *models.Organization, filename string, content []byte) {
	if o.cfg.Archive == nil {
		return
	}

	err := o.cfg.Archive.Store(ctx, archive.Entry{
		Direction:  dir,
		TenantKey:  org.TenantKey,
		OrgCode:    org.Code,
		IdentityID: t.sess.IdentityID,
		Filename:   filename,
		Content:    content,
		At:         o.now(),
	})
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("direction", string(dir)).Str("filename", filename).Msg("Failed to archive report")
	}
}

// upload accepts a report in any state. A report for the bound org with a
// resolved person goes straight to the backend; anything else is buffered and
// authentication restarts from the tax id in the report header.
func (o *Orchestrator) upload(ctx context.Context, t *turn) error {
	m := telemetry.GetMetrics()
	logger := zerolog.Ctx(ctx)

	doc := t.event.Document
	if doc == nil {
		t.readOnly = true
		t.say(msgNotAReport)
		return nil
	}

	rep, hdr, err := report.Accept(doc.Filename, doc.Content)
	if err == nil {
		err = ValidateTaxID(hdr.TaxID)
	}
	if err != nil {
		logger.Info().Err(err).Str("filename", doc.Filename).Msg("Rejected upload")
		m.ReportsRejectedTotal.Add(ctx, 1)
		t.readOnly = true
		t.say(msgNotAReport)
		return nil
	}

	user := t.user()
	if user.IsAuthenticated() {
		org, err := o.boundOrg(ctx, t)
		if err != nil {
			return err
		}
		if org != nil && org.Code == hdr.OrgCode && org.TaxID == hdr.TaxID {
			o.submit(ctx, t, org, rep)
			return nil
		}
	}

	logger.Info().
		Str("filename", rep.Filename).
		Str("org_code", hdr.OrgCode).
		Str("tax_id", hdr.TaxID).
		Msg("Buffering report until authenticated")
	m.ReportsBufferedTotal.Add(ctx, 1)

	if user != nil && user.Org != nil {
		t.deleteUser()
	}
	t.sess.Pending = rep
	o.declareTaxID(t, hdr.TaxID)

	return o.resolveOrgs(ctx, t, hdr.TaxID)
}
