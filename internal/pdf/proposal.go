package pdf

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/straye-as/lead-engine/internal/domain"
)

//go:embed templates/proposal.html
var templateFS embed.FS

var proposalTemplate = template.Must(template.ParseFS(templateFS, "templates/proposal.html"))

// Converter turns an HTML document into PDF bytes
type Converter interface {
	ConvertHTML(ctx context.Context, indexHTML []byte) ([]byte, error)
}

// ProposalRenderer builds the proposal document of a lead
type ProposalRenderer struct {
	converter Converter
	now       func() time.Time
}

// NewProposalRenderer creates a renderer backed by the given converter
func NewProposalRenderer(converter Converter) *ProposalRenderer {
	return &ProposalRenderer{converter: converter, now: time.Now}
}

type proposalData struct {
	Reference   string
	Date        string
	LeadName    string
	LeadEmail   string
	Phone       string
	ServiceType string
	Budget      string
	AgentName   string
	AgentEmail  string
}

// RenderHTML produces the proposal HTML without converting it
func (r *ProposalRenderer) RenderHTML(lead *domain.Lead) ([]byte, error) {
	data := proposalData{
		Reference:   lead.ID.String()[:8],
		Date:        r.now().UTC().Format("2006-01-02"),
		LeadName:    lead.Name,
		LeadEmail:   lead.Email,
		Phone:       lead.Phone,
		ServiceType: lead.ServiceType,
		Budget:      formatBudget(lead.Budget),
	}
	if lead.AssignedAgent != nil {
		data.AgentName = lead.AssignedAgent.Name
		data.AgentEmail = lead.AssignedAgent.Email
	}

	var buf bytes.Buffer
	if err := proposalTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("execute proposal template: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderProposal renders the lead's proposal to PDF
func (r *ProposalRenderer) RenderProposal(ctx context.Context, lead *domain.Lead) ([]byte, error) {
	html, err := r.RenderHTML(lead)
	if err != nil {
		return nil, err
	}
	pdf, err := r.converter.ConvertHTML(ctx, html)
	if err != nil {
		return nil, fmt.Errorf("convert proposal: %w", err)
	}
	return pdf, nil
}

// formatBudget groups thousands with spaces, e.g. 75000 -> "75 000"
func formatBudget(amount int64) string {
	s := fmt.Sprintf("%d", amount)
	neg := false
	if amount < 0 {
		neg = true
		s = s[1:]
	}
	var out []byte
	for i := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ' ')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}
