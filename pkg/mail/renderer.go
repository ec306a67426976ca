// Package mail renders and delivers notification emails.
package mail

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

// Message is a rendered email ready for a Sender.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// Renderer builds messages from the embedded templates.
type Renderer struct {
	agency string
	loc    *time.Location
	tmpl   map[string]*template.Template
}

var templateNames = []string{
	"candidature_received",
	"candidature_admin",
	"candidature_decision",
	"visit_planned",
	"lease_link",
}

// NewRenderer parses every template once. agency signs the footer; loc is
// used for dates and defaults to Europe/Paris.
func NewRenderer(agency string, loc *time.Location) (*Renderer, error) {
	if loc == nil {
		var err error
		loc, err = time.LoadLocation("Europe/Paris")
		if err != nil {
			loc = time.UTC
		}
	}
	r := &Renderer{agency: strings.TrimSpace(agency), loc: loc, tmpl: make(map[string]*template.Template, len(templateNames))}
	for _, name := range templateNames {
		t, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		r.tmpl[name] = t
	}
	return r, nil
}

func (r *Renderer) render(name, to, subject string, data any) (Message, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return Message{}, fmt.Errorf("render %s: recipient required", name)
	}
	t, ok := r.tmpl[name]
	if !ok {
		return Message{}, fmt.Errorf("unknown template %s", name)
	}
	var buf bytes.Buffer
	err := t.ExecuteTemplate(&buf, "layout", struct {
		Title  string
		Agency string
		Data   any
	}{Title: subject, Agency: r.agency, Data: data})
	if err != nil {
		return Message{}, fmt.Errorf("render %s: %w", name, err)
	}
	return Message{To: to, Subject: subject, HTML: buf.String()}, nil
}

func (r *Renderer) formatTime(t time.Time) string {
	return t.In(r.loc).Format("02/01/2006 à 15:04")
}

// CandidatureData describes a submitted application.
type CandidatureData struct {
	CandidatureID     int64
	FirstName         string
	LastName          string
	Email             string
	Phone             string
	EmploymentStatus  string
	IncomeBracket     string
	IncomeType        string
	OccupantCount     int
	GuaranteeScheme   string
	LogementReference string
	LogementAddress   string
	DocumentCount     int
	AcceptURL         string
	RefuseURL         string
}

// CandidatureReceived confirms a submission to the applicant.
func (r *Renderer) CandidatureReceived(to string, d CandidatureData) (Message, error) {
	return r.render("candidature_received", to, "Votre candidature a bien été reçue", d)
}

// CandidatureAdmin alerts the agency of a new submission.
func (r *Renderer) CandidatureAdmin(to string, d CandidatureData) (Message, error) {
	subject := fmt.Sprintf("Nouvelle candidature n°%d - %s", d.CandidatureID, d.LogementReference)
	return r.render("candidature_admin", to, subject, d)
}

// DecisionData describes an accept or refuse outcome.
type DecisionData struct {
	FirstName         string
	LastName          string
	LogementReference string
	Accepted          bool
}

// CandidatureDecision tells the applicant the outcome.
func (r *Renderer) CandidatureDecision(to string, d DecisionData) (Message, error) {
	subject := "Votre candidature n'a pas été retenue"
	if d.Accepted {
		subject = "Votre candidature a été acceptée"
	}
	return r.render("candidature_decision", to, subject, d)
}

// VisitData describes a planned visit.
type VisitData struct {
	FirstName         string
	LastName          string
	LogementReference string
	LogementAddress   string
	VisitAt           time.Time
}

// VisitPlanned tells the applicant when the visit takes place.
func (r *Renderer) VisitPlanned(to string, d VisitData) (Message, error) {
	view := struct {
		VisitData
		VisitAt string
	}{VisitData: d, VisitAt: r.formatTime(d.VisitAt)}
	return r.render("visit_planned", to, "Visite planifiée", view)
}

// LeaseData describes a lease-signature link.
type LeaseData struct {
	TenantName        string
	LogementReference string
	LinkURL           string
	ExpiresAt         time.Time
}

// LeaseLink sends the tenant their signature link.
func (r *Renderer) LeaseLink(to string, d LeaseData) (Message, error) {
	view := struct {
		LeaseData
		ExpiresAt string
	}{LeaseData: d, ExpiresAt: r.formatTime(d.ExpiresAt)}
	return r.render("lease_link", to, "Votre bail est prêt à être signé", view)
}
