package notification

import (
	"fmt"

	"github.com/flosch/pongo2/v6"
)

const (
	defaultEscalationSubject = `[{{ priority|upper }}] {{ rule_name }}: {{ entity_id }} pending {{ days_pending }} day{{ days_pending|pluralize }}`
	defaultEscalationBody    = `Background check {{ entity_id }} has been in status "{{ status }}" for {{ days_pending }} day{{ days_pending|pluralize }}.

Rule: {{ rule_name }}
Priority: {{ priority }}
Event: {{ event_id }}

Acknowledge or resolve this escalation from the compliance dashboard.`

	defaultNoticeSubject = `SLA {{ classification }}: {{ entity_id }} in {{ status }}`
	defaultNoticeBody    = `Background check {{ entity_id }} is {{ classification }} for status "{{ status }}".

Progress: {{ percent_complete|floatformat:1 }}% of target
{% if target_date %}Target date: {{ target_date|date:"2006-01-02 15:04 MST" }}{% endif %}`
)

// Template names accepted as overrides
const (
	TemplateEscalationSubject = "escalation_subject"
	TemplateEscalationBody    = "escalation_body"
	TemplateNoticeSubject     = "notice_subject"
	TemplateNoticeBody        = "notice_body"
)

// Renderer fills in request subjects and bodies from pongo2 templates
type Renderer struct {
	templates map[string]*pongo2.Template
}

// NewRenderer compiles the default templates, replacing any named in overrides
func NewRenderer(overrides map[string]string) (*Renderer, error) {
	sources := map[string]string{
		TemplateEscalationSubject: defaultEscalationSubject,
		TemplateEscalationBody:    defaultEscalationBody,
		TemplateNoticeSubject:     defaultNoticeSubject,
		TemplateNoticeBody:        defaultNoticeBody,
	}
	for name, src := range overrides {
		if _, ok := sources[name]; !ok {
			return nil, fmt.Errorf("unknown notification template %q", name)
		}
		sources[name] = src
	}

	r := &Renderer{templates: make(map[string]*pongo2.Template, len(sources))}
	for name, src := range sources {
		tpl, err := pongo2.FromString("{% autoescape off %}" + src + "{% endautoescape %}")
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		r.templates[name] = tpl
	}
	return r, nil
}

// Render sets Subject and Body on req unless they are already present
func (r *Renderer) Render(req *Request) error {
	subjectName, bodyName := TemplateEscalationSubject, TemplateEscalationBody
	if req.Kind == KindSLANotice {
		subjectName, bodyName = TemplateNoticeSubject, TemplateNoticeBody
	}

	data := pongo2.Context{
		"entity_id":        req.EntityID,
		"event_id":         req.EventID,
		"status":           req.Status,
		"rule_id":          req.RuleID,
		"rule_name":        req.RuleName,
		"priority":         req.Priority,
		"days_pending":     req.DaysPending,
		"classification":   req.Classification,
		"percent_complete": req.PercentComplete,
		"recipients":       req.Recipients,
	}
	if req.TargetDate != nil {
		data["target_date"] = *req.TargetDate
	}

	if req.Subject == "" {
		out, err := r.templates[subjectName].Execute(data)
		if err != nil {
			return fmt.Errorf("failed to render %s: %w", subjectName, err)
		}
		req.Subject = out
	}
	if req.Body == "" {
		out, err := r.templates[bodyName].Execute(data)
		if err != nil {
			return fmt.Errorf("failed to render %s: %w", bodyName, err)
		}
		req.Body = out
	}
	return nil
}
