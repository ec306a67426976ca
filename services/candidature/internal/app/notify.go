package app

import (
	"context"
	"net/url"

	"gestloc/internal/util"
	"gestloc/pkg/domain"
	"gestloc/pkg/mail"
)

type notifier struct {
	renderer   *mail.Renderer
	sender     mail.Sender
	adminEmail string
	baseURL    string
}

func (n *notifier) deliver(ctx context.Context, template string, msg mail.Message, err error) error {
	if err != nil {
		return &NotificationError{Template: template, Err: err}
	}
	if err := n.sender.Send(ctx, msg); err != nil {
		return &NotificationError{Template: template, Err: err}
	}
	return nil
}

func (n *notifier) respondURL(token string, decision domain.CandidatureStatus) string {
	q := url.Values{}
	q.Set("token", token)
	q.Set("decision", string(decision))
	return n.baseURL + "/api/candidatures/respond?" + q.Encode()
}

func (n *notifier) leaseURL(token string) string {
	return n.baseURL + "/api/leases/" + url.PathEscape(token)
}

func candidatureData(c domain.Candidature, l domain.Logement, docs int) mail.CandidatureData {
	return mail.CandidatureData{
		CandidatureID:     c.ID,
		FirstName:         c.FirstName,
		LastName:          c.LastName,
		Email:             c.Email,
		Phone:             c.Phone,
		EmploymentStatus:  c.EmploymentStatus,
		IncomeBracket:     c.IncomeBracket,
		IncomeType:        c.IncomeType,
		OccupantCount:     c.OccupantCount,
		GuaranteeScheme:   c.GuaranteeScheme,
		LogementReference: l.Reference,
		LogementAddress:   l.Address,
		DocumentCount:     docs,
	}
}

// submitted confirms to the applicant and alerts the agency.
func (n *notifier) submitted(ctx context.Context, c domain.Candidature, l domain.Logement, docs int) []error {
	var errs []error
	data := candidatureData(c, l, docs)
	msg, err := n.renderer.CandidatureReceived(c.Email, data)
	if err := n.deliver(ctx, "candidature_received", msg, err); err != nil {
		errs = append(errs, err)
	}
	if n.adminEmail != "" {
		data.AcceptURL = n.respondURL(c.ResponseToken, domain.StatusAccepte)
		data.RefuseURL = n.respondURL(c.ResponseToken, domain.StatusRefuse)
		msg, err := n.renderer.CandidatureAdmin(n.adminEmail, data)
		if err := n.deliver(ctx, "candidature_admin", msg, err); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (n *notifier) decision(ctx context.Context, c domain.Candidature, l domain.Logement) error {
	msg, err := n.renderer.CandidatureDecision(c.Email, mail.DecisionData{
		FirstName:         c.FirstName,
		LastName:          c.LastName,
		LogementReference: l.Reference,
		Accepted:          c.Status == domain.StatusAccepte,
	})
	return n.deliver(ctx, "candidature_decision", msg, err)
}

func (n *notifier) visit(ctx context.Context, c domain.Candidature, l domain.Logement) error {
	data := mail.VisitData{
		FirstName:         c.FirstName,
		LastName:          c.LastName,
		LogementReference: l.Reference,
		LogementAddress:   l.Address,
	}
	if c.VisitAt != nil {
		data.VisitAt = *c.VisitAt
	}
	msg, err := n.renderer.VisitPlanned(c.Email, data)
	return n.deliver(ctx, "visit_planned", msg, err)
}

func (n *notifier) lease(ctx context.Context, link domain.LeaseLink, l domain.Logement) error {
	msg, err := n.renderer.LeaseLink(link.TenantEmail, mail.LeaseData{
		TenantName:        link.TenantName,
		LogementReference: l.Reference,
		LinkURL:           n.leaseURL(link.Token),
		ExpiresAt:         link.ExpiresAt,
	})
	return n.deliver(ctx, "lease_link", msg, err)
}

// warn logs notification failures; they never fail the calling operation.
func warnNotification(ctx context.Context, entityID int64, errs ...error) {
	logger := util.LoggerFromContext(ctx)
	for _, err := range errs {
		if err != nil {
			logger.Warn("notification failed", "entity_id", entityID, "err", err)
		}
	}
}
